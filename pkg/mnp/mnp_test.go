package mnp

import (
	"testing"

	"github.com/robowerk/newt-dongle/pkg/core"
)

func TestPoolAcquireReleaseTracksInUse(t *testing.T) {
	p := NewPool(2)
	a := p.Acquire()
	if a == nil {
		t.Fatalf("Acquire returned nil with frames available")
	}
	if p.InUse() != 1 {
		t.Fatalf("InUse() = %d, want 1", p.InUse())
	}
	p.Release(a)
	if p.InUse() != 0 {
		t.Fatalf("InUse() = %d after release, want 0", p.InUse())
	}
}

func TestPoolAcquireReturnsNilWhenExhausted(t *testing.T) {
	p := NewPool(1)
	if p.Acquire() == nil {
		t.Fatalf("first Acquire should have succeeded")
	}
	if f := p.Acquire(); f != nil {
		t.Fatalf("expected a nil frame once the pool is exhausted, got %+v", f)
	}
}

func TestPoolDoubleReleasePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected Release of an unheld frame to panic")
		}
	}()
	p := NewPool(1)
	f := p.Acquire()
	p.Release(f)
	p.Release(f)
}

func TestCRC16MatchesTheStandardCheckValue(t *testing.T) {
	// CRC-16/ARC's published check value for the ASCII string "123456789".
	if got := crc16([]byte("123456789"), 0); got != 0xBB3D {
		t.Fatalf("crc16(\"123456789\", 0) = %#04x, want 0xbb3d", got)
	}
}

type wireSink struct {
	bytes []byte
	fail  int // reject this many sends before accepting
}

func (w *wireSink) Send(event core.Event) core.Result {
	if w.fail > 0 {
		w.fail--
		return core.Reject(core.CauseNotHandled)
	}
	w.bytes = append(w.bytes, event.Byte())
	return core.OK
}

func buildLTFrame(pool *Pool, header, data []byte) *Frame {
	f := pool.Acquire()
	copy(f.Header, header)
	f.HeaderLen = len(header)
	f.Type = TypeLT
	copy(f.Data, data)
	f.DataLen = len(data)
	return f
}

func TestSenderThenReceiverRoundTripsAFrameWithStuffedData(t *testing.T) {
	txPool := NewPool(2)
	header := []byte{byte(TypeLT), 0x01}
	data := []byte("hi\x10there")
	frame := buildLTFrame(txPool, header, data)

	sink := &wireSink{}
	sender := NewSender()
	sender.SetOut(sink)

	var sent *Frame
	sender.OnSent = func(f *Frame) { sent = f }

	sender.Submit(frame)
	if res := sender.Tick(); !res.Ok() {
		t.Fatalf("Tick() rejected with nothing blocking it: %+v", res)
	}
	if sent != frame {
		t.Fatalf("OnSent was not called with the submitted frame")
	}
	if sender.Busy() {
		t.Fatalf("sender still busy after a full, unrejected Tick")
	}

	rxPool := NewPool(2)
	recv := NewReceiver(rxPool)
	var got *Frame
	recv.OnFrame = func(f *Frame) { got = f }

	for _, b := range sink.bytes {
		if res := recv.Send(core.DataEvent(b)); !res.Ok() {
			t.Fatalf("receiver rejected a byte with frames available: %+v", res)
		}
	}

	if got == nil {
		t.Fatalf("receiver never produced a frame from the wire bytes %v", sink.bytes)
	}
	if got.Type != TypeLT {
		t.Fatalf("got.Type = %v, want TypeLT", got.Type)
	}
	if string(got.HeaderBytes()) != string(header) {
		t.Fatalf("got.HeaderBytes() = %v, want %v", got.HeaderBytes(), header)
	}
	if string(got.DataBytes()) != string(data) {
		t.Fatalf("got.DataBytes() = %q, want %q", got.DataBytes(), data)
	}
}

func TestSenderRetriesTheSameByteOnRejection(t *testing.T) {
	pool := NewPool(1)
	frame := buildLTFrame(pool, []byte{byte(TypeLT)}, []byte("x"))

	sink := &wireSink{fail: 2}
	sender := NewSender()
	sender.SetOut(sink)
	sender.Submit(frame)

	if res := sender.Tick(); res.Ok() {
		t.Fatalf("expected Tick to report the downstream rejection")
	}
	if !sender.Busy() {
		t.Fatalf("sender should still be busy after a rejected Tick")
	}
	if len(sink.bytes) != 0 {
		t.Fatalf("no byte should have been recorded yet, got %v", sink.bytes)
	}

	if res := sender.Tick(); res.Ok() {
		t.Fatalf("expected the second Tick to still see the held-over rejection")
	}

	if res := sender.Tick(); !res.Ok() {
		t.Fatalf("third Tick should finally succeed, got %+v", res)
	}
	if sender.Busy() {
		t.Fatalf("sender should be idle once the frame is fully emitted")
	}
}

func TestReceiverAbortsOnInvalidHeaderLength(t *testing.T) {
	pool := NewPool(1)
	recv := NewReceiver(pool)
	called := false
	recv.OnFrame = func(*Frame) { called = true }

	recv.Send(core.DataEvent(0x16))
	recv.Send(core.DataEvent(0x10))
	recv.Send(core.DataEvent(0x02))
	recv.Send(core.DataEvent(0x00)) // header length 0 is always rejected

	if called {
		t.Fatalf("OnFrame should not fire for an aborted frame")
	}
	if pool.InUse() != 0 {
		t.Fatalf("pool should hold no frames after an abort before acquiring one, got %d", pool.InUse())
	}
}

func TestReceiverDiscardsFrameOnCRCMismatch(t *testing.T) {
	txPool := NewPool(1)
	frame := buildLTFrame(txPool, []byte{byte(TypeLT)}, []byte("x"))
	sink := &wireSink{}
	sender := NewSender()
	sender.SetOut(sink)
	sender.Submit(frame)
	sender.Tick()

	// Flip the last data byte, which sits just before the trailing
	// DLE ETX CRCLo CRCHi sequence, so the CRC no longer verifies.
	corrupted := append([]byte(nil), sink.bytes...)
	corrupted[len(corrupted)-5] ^= 0xFF

	rxPool := NewPool(1)
	recv := NewReceiver(rxPool)
	called := false
	recv.OnFrame = func(*Frame) { called = true }
	for _, b := range corrupted {
		recv.Send(core.DataEvent(b))
	}

	if called {
		t.Fatalf("OnFrame should not fire when the CRC doesn't match")
	}
	if rxPool.InUse() != 0 {
		t.Fatalf("a CRC-rejected frame must be released back to the pool, InUse()=%d", rxPool.InUse())
	}
}

func TestReceiverRejectsWhenPoolIsExhausted(t *testing.T) {
	pool := NewPool(1)
	held := pool.Acquire() // exhaust the pool up front
	defer pool.Release(held)

	recv := NewReceiver(pool)
	recv.Send(core.DataEvent(0x16))
	recv.Send(core.DataEvent(0x10))
	recv.Send(core.DataEvent(0x02))

	if res := recv.Send(core.DataEvent(0x05)); res.Ok() {
		t.Fatalf("expected the header-length byte to be rejected when the pool is exhausted")
	}
}
