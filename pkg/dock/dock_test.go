package dock

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/robowerk/newt-dongle/pkg/core"
	"github.com/robowerk/newt-dongle/pkg/nsof"
)

// fakeStorage is an in-memory stand-in for the storage-card collaborator.
type fakeStorage struct {
	label   string
	entries []struct {
		name string
		kind EntryKind
	}
	dirPos int

	files       map[string][]byte
	openName    string
	openCursor  int
}

func (s *fakeStorage) GetLabel() string { return s.label }

func (s *fakeStorage) OpenDir() error { s.dirPos = 0; return nil }

func (s *fakeStorage) ReadDir() (string, EntryKind, bool, error) {
	if s.dirPos >= len(s.entries) {
		return "", EntryOther, false, nil
	}
	e := s.entries[s.dirPos]
	s.dirPos++
	return e.name, e.kind, true, nil
}

func (s *fakeStorage) CloseDir() error { return nil }

func (s *fakeStorage) Chdir(path string) error { return nil }

func (s *fakeStorage) OpenFile(name string) error {
	if _, ok := s.files[name]; !ok {
		return errors.New("not found")
	}
	s.openName = name
	s.openCursor = 0
	return nil
}

func (s *fakeStorage) FileSize() uint32 { return uint32(len(s.files[s.openName])) }

func (s *fakeStorage) ReadFile(buf []byte) (int, error) {
	data := s.files[s.openName]
	n := copy(buf, data[s.openCursor:])
	s.openCursor += n
	return n, nil
}

func (s *fakeStorage) CloseFile() error { return nil }

// sinkStage records every event it's sent, never rejecting.
type sinkStage struct {
	events []core.Event
}

func (s *sinkStage) Send(e core.Event) core.Result {
	s.events = append(s.events, e)
	return core.OK
}

func newTestEngine() (*Engine, *sinkStage, *fakeStorage) {
	storage := &fakeStorage{label: "TEST CARD", files: map[string][]byte{}}
	e := NewEngine(storage)
	sink := &sinkStage{}
	e.Out.Set(sink)
	return e, sink, storage
}

func buildCommand(verb string, payload []byte) []byte {
	cmd := header(verb, uint32(len(payload)))
	return append(cmd, pad4(append([]byte{}, payload...))...)
}

func drainAll(t *testing.T, e *Engine) {
	t.Helper()
	for i := 0; i < 1000; i++ {
		if res := e.Tick(); !res.Ok() {
			t.Fatalf("Tick rejected unexpectedly")
		}
		if len(e.queue) == 0 && e.task == taskNone {
			return
		}
	}
	t.Fatalf("drainAll: did not settle")
}

func lastCommandBytes(sink *sinkStage) []byte {
	var out []byte
	inFrame := false
	for _, ev := range sink.events {
		switch ev.Type {
		case core.TypeMNP:
			if ev.Subtype == core.MNPFrameStart {
				out = nil
				inFrame = true
			}
		case core.TypeData:
			if inFrame {
				out = append(out, ev.Byte())
			}
		}
	}
	return out
}

func TestFeedRtdkProducesDockReply(t *testing.T) {
	e, sink, _ := newTestEngine()
	e.Feed(buildCommand("rtdk", nil))
	drainAll(t, e)

	got := lastCommandBytes(sink)
	if len(got) < 16 || string(got[8:12]) != "dock" {
		t.Fatalf("expected a 'dock' reply, got %q", got)
	}
}

func TestFeedNinfStoresChallengeAndRepliesWicn(t *testing.T) {
	e, sink, _ := newTestEngine()
	payload := make([]byte, 12)
	binary.BigEndian.PutUint32(payload[4:8], 0x11223344)
	binary.BigEndian.PutUint32(payload[8:12], 0x55667788)
	e.Feed(buildCommand("ninf", payload))
	drainAll(t, e)

	if e.challengeHi != 0x11223344 || e.challengeLo != 0x55667788 {
		t.Fatalf("challenge not captured: %08x'%08x", e.challengeHi, e.challengeLo)
	}
	got := lastCommandBytes(sink)
	if len(got) < 12 || string(got[8:12]) != "wicn" {
		t.Fatalf("expected a 'wicn' reply, got %q", got)
	}
}

func TestFeedPassEncodesChallenge(t *testing.T) {
	e, sink, _ := newTestEngine()
	e.challengeHi = 0xAABBCCDD
	e.challengeLo = 0x01020304
	e.Feed(buildCommand("pass", nil))
	drainAll(t, e)

	got := lastCommandBytes(sink)
	if len(got) != 24 || string(got[8:12]) != "pass" {
		t.Fatalf("expected a 24-byte 'pass' reply, got %d bytes", len(got))
	}
	hi := binary.BigEndian.Uint32(got[16:20])
	lo := binary.BigEndian.Uint32(got[20:24])
	wantHi, wantLo := DESPasswordResponse(e.challengeHi, e.challengeLo)
	if hi != wantHi || lo != wantLo {
		t.Fatalf("pass response mismatch: got %08x'%08x, want %08x'%08x", hi, lo, wantHi, wantLo)
	}
}

func TestFeedDpthRepliesWithNSOFPath(t *testing.T) {
	e, sink, _ := newTestEngine()
	e.Feed(buildCommand("dpth", nil))
	drainAll(t, e)

	got := lastCommandBytes(sink)
	if len(got) < 16 || string(got[8:12]) != "path" {
		t.Fatalf("expected a 'path' reply, got %q", got)
	}
	nsofLen := binary.BigEndian.Uint32(got[12:16])
	v, err := nsof.Decode(got[16 : 16+nsofLen])
	if err != nil {
		t.Fatalf("decode path NSOF: %v", err)
	}
	if v.Kind != nsof.KindArray || len(v.Array) != 2 {
		t.Fatalf("expected a 2-entry path array, got %+v", v)
	}
}

func TestFeedSetPathDesktopRoot(t *testing.T) {
	e, _, _ := newTestEngine()
	e.pathIsDesktop = false
	payload, _ := nsof.Encode(nsof.Arr(nsof.Str("Desktop")))
	e.Feed(buildCommand("spth", payload))
	drainAll(t, e)

	if !e.pathIsDesktop {
		t.Fatalf("a length-1 path array should select the desktop root")
	}
}

func TestFeedSetPathSubdirectory(t *testing.T) {
	e, _, _ := newTestEngine()
	payload, _ := nsof.Encode(nsof.Arr(nsof.Str("Desktop"), nsof.Str("Packages")))
	e.Feed(buildCommand("spth", payload))
	drainAll(t, e)

	if e.pathIsDesktop {
		t.Fatalf("a longer path array should leave the desktop root")
	}
}

func TestFeedGfilOnDesktopListsStorageDisk(t *testing.T) {
	e, sink, _ := newTestEngine()
	e.Feed(buildCommand("gfil", nil))
	drainAll(t, e)

	got := lastCommandBytes(sink)
	nsofLen := binary.BigEndian.Uint32(got[12:16])
	v, err := nsof.Decode(got[16 : 16+nsofLen])
	if err != nil {
		t.Fatalf("decode file NSOF: %v", err)
	}
	if len(v.Array) != 1 || v.Array[0].FieldGet("name").String != "TEST CARD" {
		t.Fatalf("expected the storage disk entry, got %+v", v)
	}
}

func TestFeedGfilInSubdirectoryListsEntries(t *testing.T) {
	e, sink, storage := newTestEngine()
	storage.entries = append(storage.entries,
		struct {
			name string
			kind EntryKind
		}{"Documents", EntryDirectory},
		struct {
			name string
			kind EntryKind
		}{"app.pkg", EntryPackage},
	)
	e.pathIsDesktop = false
	e.Feed(buildCommand("gfil", nil))
	drainAll(t, e)

	got := lastCommandBytes(sink)
	nsofLen := binary.BigEndian.Uint32(got[12:16])
	v, err := nsof.Decode(got[16 : 16+nsofLen])
	if err != nil {
		t.Fatalf("decode file NSOF: %v", err)
	}
	if len(v.Array) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(v.Array))
	}
}

func TestFeedLoadPackageFileStreamsChunks(t *testing.T) {
	e, sink, storage := newTestEngine()
	data := make([]byte, maxPackageChunk+100)
	for i := range data {
		data[i] = byte(i)
	}
	storage.files["app.pkg"] = data

	payload, _ := nsof.Encode(nsof.Str("app.pkg"))
	e.Feed(buildCommand("lpfl", payload))
	drainAll(t, e)

	var lpkgSeen, dataBytes int
	inFrame := false
	for _, ev := range sink.events {
		switch ev.Type {
		case core.TypeMNP:
			if ev.Subtype == core.MNPFrameStart {
				inFrame = true
			}
			if ev.Subtype == core.MNPFrameEnd {
				inFrame = false
			}
		case core.TypeData:
			if inFrame {
				dataBytes++
			}
		}
	}
	_ = lpkgSeen
	// header (16) + 2 chunks aligned to 4 bytes
	wantAligned := (len(data) + 3) &^ 3
	wantTotal := 16 + wantAligned
	if dataBytes != wantTotal {
		t.Fatalf("streamed %d bytes, want %d", dataBytes, wantTotal)
	}
	if e.task != taskNone {
		t.Fatalf("package task did not settle, state=%d", e.task)
	}
}

func TestFeedUnknownVerbIsIgnored(t *testing.T) {
	e, sink, _ := newTestEngine()
	e.Feed(buildCommand("zzzz", []byte{1, 2, 3, 4}))
	drainAll(t, e)

	if len(sink.events) != 0 {
		t.Fatalf("unknown verb should produce no reply, got %d events", len(sink.events))
	}
}

func TestHandleMNPDisconnectResetsScanState(t *testing.T) {
	e, _, _ := newTestEngine()
	e.Feed([]byte("newtd")) // partial magic, mid-scan
	e.HandleMNP(core.MNPDisconnected)
	if e.state != scanMagic0 {
		t.Fatalf("expected scan state reset after disconnect, got %d", e.state)
	}
}
