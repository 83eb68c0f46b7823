// Package storage is the removable storage-card collaborator the Dock
// engine browses and streams package files from. Grounded on the
// opendir/readdir/closedir/chdir/openfile/filesize/readfile/closefile/
// get_label collaborator interface; no example repo addresses raw
// directory listing, so this is implemented directly over a real host
// directory standing in for the card, using os/io/fs (see DESIGN.md for
// why no third-party library fits this concern).
package storage

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/robowerk/newt-dongle/pkg/dock"
)

// Card implements dock.Storage over a host directory tree, and
// hayes.SDCard for the Hayes "[GL" label command.
type Card struct {
	root  string
	label string

	curPath string

	dirEntries []os.DirEntry
	dirPos     int

	file     *os.File
	fileSize uint32
}

// New roots a Card at dir, presenting it to Dock as a card labeled
// label.
func New(dir, label string) *Card {
	return &Card{root: dir, label: label}
}

// GetLabel satisfies dock.Storage.
func (c *Card) GetLabel() string { return c.label }

// Label satisfies hayes.SDCard.
func (c *Card) Label() string { return c.label }

// Status satisfies hayes.SDCard: a plain liveness check on the backing
// directory, printed unconditionally after the label by the Hayes "[GL"
// command regardless of what it says (see pkg/hayes's preserved quirk).
func (c *Card) Status() string {
	if _, err := os.Stat(c.root); err != nil {
		return "NOT READY"
	}
	return "OK"
}

func (c *Card) fullPath() string {
	return filepath.Join(c.root, c.curPath)
}

// OpenDir satisfies dock.Storage.
func (c *Card) OpenDir() error {
	entries, err := os.ReadDir(c.fullPath())
	if err != nil {
		return err
	}
	c.dirEntries = entries
	c.dirPos = 0
	return nil
}

// ReadDir satisfies dock.Storage: hidden entries (leading '.') are
// filtered, and anything that's neither a directory nor a ".pkg" file
// is skipped rather than returned.
func (c *Card) ReadDir() (name string, kind dock.EntryKind, ok bool, err error) {
	for c.dirPos < len(c.dirEntries) {
		e := c.dirEntries[c.dirPos]
		c.dirPos++
		n := e.Name()
		if strings.HasPrefix(n, ".") {
			continue
		}
		switch {
		case e.IsDir():
			return n, dock.EntryDirectory, true, nil
		case strings.EqualFold(filepath.Ext(n), ".pkg"):
			return n, dock.EntryPackage, true, nil
		}
	}
	return "", dock.EntryOther, false, nil
}

// CloseDir satisfies dock.Storage.
func (c *Card) CloseDir() error {
	c.dirEntries = nil
	c.dirPos = 0
	return nil
}

// Chdir satisfies dock.Storage. The path is clamped under root so a
// crafted "../" path component can't escape the card.
func (c *Card) Chdir(path string) error {
	clean := filepath.Clean("/" + path)
	next := strings.TrimPrefix(clean, "/")
	if _, err := os.Stat(filepath.Join(c.root, next)); err != nil {
		return err
	}
	c.curPath = next
	return nil
}

// OpenFile satisfies dock.Storage.
func (c *Card) OpenFile(name string) error {
	f, err := os.Open(filepath.Join(c.fullPath(), name))
	if err != nil {
		return err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}
	c.file = f
	c.fileSize = uint32(info.Size())
	return nil
}

// FileSize satisfies dock.Storage.
func (c *Card) FileSize() uint32 { return c.fileSize }

// ReadFile satisfies dock.Storage.
func (c *Card) ReadFile(buf []byte) (int, error) {
	return c.file.Read(buf)
}

// CloseFile satisfies dock.Storage.
func (c *Card) CloseFile() error {
	err := c.file.Close()
	c.file = nil
	return err
}
