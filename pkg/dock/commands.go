package dock

import (
	"encoding/binary"

	"github.com/robowerk/newt-dongle/pkg/core"
	"github.com/robowerk/newt-dongle/pkg/nsof"
)

// Newton desktop path-entry types (Dock.cpp's kDesktop/kDesktopFile/
// kDesktopFolder/kDesktopDisk). The header defining their numeric
// values wasn't available to build against directly; these follow the
// order they're introduced in Dock.cpp and are exercised only as opaque
// integers round-tripped through NSOF, so the exact values don't affect
// interop with the handheld's own interpretation of its own path/file
// listings.
const (
	kDesktop = iota
	kDesktopFile
	kDesktopFolder
	kDesktopDisk
)

func header(verb string, payloadLen uint32) []byte {
	h := make([]byte, 16)
	copy(h, magic)
	copy(h[8:12], verb)
	binary.BigEndian.PutUint32(h[12:16], payloadLen)
	return h
}

func pad4(b []byte) []byte {
	for len(b)%4 != 0 {
		b = append(b, 0)
	}
	return b
}

func (e *Engine) enqueue(data []byte, startFrame, endFrame bool) {
	e.queue = append(e.queue, &outItem{data: data, startFrame: startFrame, endFrame: endFrame})
}

func (e *Engine) enqueueCommand(verb string, payload []byte) {
	cmd := header(verb, uint32(len(payload)))
	cmd = append(cmd, pad4(payload)...)
	e.enqueue(cmd, true, true)
}

func (e *Engine) sendDock(sessionType byte) {
	e.enqueueCommand("dock", []byte{0, 0, 0, sessionType})
}

func (e *Engine) sendStim() {
	e.enqueueCommand("stim", []byte{0, 0, 0, 0x5A})
}

func (e *Engine) sendOpca() {
	e.enqueueCommand("opca", nil)
}

func (e *Engine) sendOcaa() {
	e.enqueueCommand("ocaa", nil)
}

func (e *Engine) sendHelo() {
	e.enqueueCommand("helo", nil)
}

func (e *Engine) sendDres(code int32) {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, uint32(code))
	e.enqueueCommand("dres", payload)
}

// sendDinf builds the desktop-info command: protocol version, desktop
// type, an 8-byte challenge placeholder, session type, sync-allowed,
// and an NSOF frame describing this connection.
func (e *Engine) sendDinf() {
	payload := []byte{
		0x00, 0x00, 0x00, 0x0A, // protocol version
		0x00, 0x00, 0x00, 0x00, // desktop type (0 = Mac)
		0x5F, 0xFE, 0xF6, 0x6A, 0x5B, 0xE3, 0xDA, 0x62, // our challenge (fixed placeholder)
		0x00, 0x00, 0x00, 0x01, // session type: setting up
		0x00, 0x00, 0x00, 0x01, // selective sync allowed
	}
	conn, err := nsof.Encode(nsof.Frm(
		[]string{"name", "id", "version", "doesAuto"},
		[]*nsof.Ref{nsof.Str("NewtonConnection"), nsof.Int(2), nsof.Int(1), nsof.Bool(true)},
	))
	if err == nil {
		payload = append(payload, conn...)
	}
	e.enqueueCommand("dinf", payload)
}

func (e *Engine) sendWicn(iconMap byte) {
	e.enqueueCommand("wicn", []byte{0, 0, 0, iconMap})
}

// sendPass computes and sends the DES password response for the
// challenge stored from the earlier "ninf" command.
func (e *Engine) sendPass() {
	hi, lo := DESPasswordResponse(e.challengeHi, e.challengeLo)
	payload := make([]byte, 8)
	binary.BigEndian.PutUint32(payload[0:4], hi)
	binary.BigEndian.PutUint32(payload[4:8], lo)
	e.enqueueCommand("pass", payload)
}

// sendPath always reports the fixed two-entry path [Desktop,
// storage-card] since this dongle has only one storage collaborator
//.
func (e *Engine) sendPath() {
	label := e.Storage.GetLabel()
	if label == "" {
		label = "SD Card"
	}
	path := nsof.Arr(
		nsof.Frm([]string{"name", "type"}, []*nsof.Ref{nsof.Str("NewtCOM"), nsof.Int(kDesktop)}),
		nsof.Frm([]string{"name", "type"}, []*nsof.Ref{nsof.Str(label), nsof.Int(kDesktopDisk)}),
	)
	body, err := nsof.Encode(path)
	if err != nil {
		e.sendDres(-1)
		return
	}
	e.enqueueCommand("path", body)
}

// sendFile lists the current directory: the storage card's disk entry
// if we're at the desktop root, otherwise the directory's contents
// filtered to folders and package files.
func (e *Engine) sendFile() {
	var entries []*nsof.Ref
	if e.pathIsDesktop {
		label := e.Storage.GetLabel()
		if label == "" {
			label = "SD Card"
		}
		entries = append(entries, nsof.Frm([]string{"name", "type"},
			[]*nsof.Ref{nsof.Str(label), nsof.Int(kDesktopDisk)}))
	} else {
		if err := e.Storage.OpenDir(); err != nil {
			e.sendDres(-1)
			return
		}
		for {
			name, kind, ok, err := e.Storage.ReadDir()
			if err != nil || !ok {
				break
			}
			switch kind {
			case EntryDirectory:
				entries = append(entries, nsof.Frm([]string{"name", "type"},
					[]*nsof.Ref{nsof.Str(name), nsof.Int(kDesktopFolder)}))
			case EntryPackage:
				entries = append(entries, nsof.Frm([]string{"name", "type"},
					[]*nsof.Ref{nsof.Str(name), nsof.Int(kDesktopFile)}))
			}
		}
		e.Storage.CloseDir()
	}
	body, err := nsof.Encode(nsof.Arr(entries...))
	if err != nil {
		e.sendDres(-1)
		return
	}
	e.enqueueCommand("file", body)
}

// handleSetPath applies the array-of-path-component reply to "spth":
// a length-1 array means the synthetic desktop root, anything longer
// is joined with "/" and handed to the storage collaborator's chdir
//.
func (e *Engine) handleSetPath() {
	reply, err := nsof.Decode(e.payload)
	if err != nil || reply.Kind != nsof.KindArray {
		e.sendDres(-48402) // expected an array
		return
	}
	if len(reply.Array) < 1 {
		e.sendDres(-48402)
		return
	}
	if len(reply.Array) == 1 {
		e.pathIsDesktop = true
		e.sendDres(0)
		return
	}
	var path string
	for _, item := range reply.Array[1:] {
		if item.Kind != nsof.KindString {
			e.sendDres(-48402)
			return
		}
		path += "/" + item.String
	}
	e.pathIsDesktop = false
	if err := e.Storage.Chdir(path); err != nil {
		e.sendDres(-1)
		return
	}
	e.sendDres(0)
}

// handleGetFileInfo answers "gfin": the reply payload is an NSOF
// string holding the filename, the response is a file-info frame
//.
func (e *Engine) handleGetFileInfo() {
	reply, err := nsof.Decode(e.payload)
	if err != nil || reply.Kind != nsof.KindString {
		e.sendDres(-48402)
		return
	}
	if err := e.Storage.OpenFile(reply.String); err != nil {
		e.sendDres(-48403) // file not found
		return
	}
	size := e.Storage.FileSize()
	e.Storage.CloseFile()

	info := nsof.Frm(
		[]string{"kind", "size", "created", "modified", "path", "icon"},
		[]*nsof.Ref{nsof.Str("Package"), nsof.Int(int32(size)), nsof.Int(0), nsof.Int(0), reply, nsof.Bool(false)},
	)
	body, err := nsof.Encode(info)
	if err != nil {
		e.sendDres(-1)
		return
	}
	e.enqueueCommand("finf", body)
}

// handleLoadPackageFile starts streaming the named package file;
// the actual chunked transfer runs from Tick via sendPackageTask.
func (e *Engine) handleLoadPackageFile() {
	reply, err := nsof.Decode(e.payload)
	if err != nil || reply.Kind != nsof.KindString {
		e.sendDres(-48402)
		return
	}
	e.pkgFilename = reply.String
	e.task = taskSendPackage
}

// Tick drains the outbound command queue, retrying the same position
// on rejection, and advances package streaming when the queue is
// idle, matching Dock::task()'s draining loop.
func (e *Engine) Tick() core.Result {
	if res := e.drainQueue(); !res.Ok() {
		return res
	}
	if len(e.queue) == 0 {
		switch e.task {
		case taskSendPackage, taskContinueSendPackage, taskPackageSent:
			e.sendPackageTask()
		}
	}
	return core.OK
}

func (e *Engine) drainQueue() core.Result {
	for len(e.queue) > 0 {
		item := e.queue[0]
		if item.pos == 0 && item.startFrame && !e.sendingFrame {
			if res := e.Out.Send(core.MNPEvent(core.MNPFrameStart, 0)); !res.Ok() {
				return res
			}
			e.sendingFrame = true
		}
		for item.pos < len(item.data) {
			if res := e.Out.Send(core.DataEvent(item.data[item.pos])); !res.Ok() {
				return res
			}
			item.pos++
		}
		if item.endFrame {
			if res := e.Out.Send(core.MNPEvent(core.MNPFrameEnd, 0)); !res.Ok() {
				return res
			}
			e.sendingFrame = false
		}
		e.queue = e.queue[1:]
	}
	return core.OK
}
