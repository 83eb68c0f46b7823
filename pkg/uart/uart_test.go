package uart

import (
	"io"
	"testing"

	"github.com/robowerk/newt-dongle/pkg/core"
)

type fakePort struct {
	written []byte
	toRead  []byte
	closed  bool
}

func (f *fakePort) Read(p []byte) (int, error) {
	if len(f.toRead) == 0 {
		return 0, io.EOF
	}
	n := copy(p, f.toRead)
	f.toRead = f.toRead[n:]
	return n, nil
}

func (f *fakePort) Write(p []byte) (int, error) {
	f.written = append(f.written, p...)
	return len(p), nil
}

func (f *fakePort) Close() error {
	f.closed = true
	return nil
}

type sink struct {
	events []core.Event
	reject bool
}

func (s *sink) Send(e core.Event) core.Result {
	if s.reject {
		return core.RejectNotConnected
	}
	s.events = append(s.events, e)
	return core.OK
}

func newTestEndpoint() (*Endpoint, *fakePort) {
	p := &fakePort{}
	e := &Endpoint{port: p, rx: make(chan byte, rxBufferSize), stopChan: make(chan struct{})}
	return e, p
}

func TestSendWritesDataByteToPort(t *testing.T) {
	e, p := newTestEndpoint()
	res := e.Send(core.DataEvent('Q'))
	if !res.Ok() {
		t.Fatalf("expected write accepted")
	}
	if string(p.written) != "Q" {
		t.Fatalf("expected 'Q' written to the port, got %q", p.written)
	}
}

func TestTickForwardsReceivedByte(t *testing.T) {
	e, _ := newTestEndpoint()
	out := &sink{}
	e.Out.Set(out)
	e.rx <- 'z'
	e.Tick()
	if len(out.events) != 1 || out.events[0].Byte() != 'z' {
		t.Fatalf("expected 'z' forwarded downstream, got %+v", out.events)
	}
}

func TestTickBuffersPendingByteOnRejection(t *testing.T) {
	e, _ := newTestEndpoint()
	out := &sink{reject: true}
	e.Out.Set(out)
	e.rx <- 'a'

	res := e.Tick()
	if res.Ok() {
		t.Fatalf("expected rejection to propagate")
	}
	if e.pending == nil || e.pending.Byte() != 'a' {
		t.Fatalf("expected the byte retained as pending")
	}

	out.reject = false
	e.Tick()
	if e.pending != nil {
		t.Fatalf("expected pending cleared once downstream accepts")
	}
	if len(out.events) != 1 || out.events[0].Byte() != 'a' {
		t.Fatalf("expected the retried byte delivered, got %+v", out.events)
	}
}

func TestTickDoesNotReadNewByteWhilePending(t *testing.T) {
	e, _ := newTestEndpoint()
	out := &sink{reject: true}
	e.Out.Set(out)
	e.rx <- 'a'
	e.Tick()

	e.rx <- 'b'
	e.Tick() // still rejecting; 'b' must stay queued, not overwrite pending
	if e.pending.Byte() != 'a' {
		t.Fatalf("expected the original pending byte preserved, got %v", e.pending.Byte())
	}
	if len(e.rx) != 1 {
		t.Fatalf("expected 'b' still waiting in rx, got len %d", len(e.rx))
	}
}

func TestSetBitrateIgnoresOutOfRangeIndex(t *testing.T) {
	e, _ := newTestEndpoint()
	e.device = "" // setBitrate would try to reopen a real port; keep index out of range so it's never called
	res := e.Send(core.SetBitrateEvent(255))
	if !res.Ok() {
		t.Fatalf("expected an out-of-range bitrate index to be accepted and ignored")
	}
}
