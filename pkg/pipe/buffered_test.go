package pipe

import (
	"testing"

	"github.com/robowerk/newt-dongle/pkg/core"
)

type sink struct {
	received []core.Event
	reject   bool
}

func (s *sink) Send(event core.Event) core.Result {
	if s.reject {
		return core.Reject(core.CauseNotHandled)
	}
	s.received = append(s.received, event)
	return core.OK
}

func TestSendRejectsWhenRingIsFull(t *testing.T) {
	p := New(2) // capacity 4
	for i := 0; i < 4; i++ {
		if res := p.Send(core.DataEvent(byte(i))); !res.Ok() {
			t.Fatalf("Send %d: unexpected rejection", i)
		}
	}
	if res := p.Send(core.DataEvent(4)); res.Ok() {
		t.Fatalf("expected Send to reject once the ring is full")
	}
}

func TestTickDrainsInFIFOOrder(t *testing.T) {
	p := New(2)
	out := &sink{}
	p.SetOut(out)
	for i := 0; i < 3; i++ {
		p.Send(core.DataEvent(byte(i)))
	}
	p.Tick()
	for i, e := range out.received {
		if e.Byte() != byte(i) {
			t.Fatalf("drained out of order: %v", out.received)
		}
	}
	if p.Len() != 0 {
		t.Fatalf("Len() = %d after full drain, want 0", p.Len())
	}
}

func TestTickStopsOnDownstreamRejectionAndRetainsTheEvent(t *testing.T) {
	p := New(2)
	out := &sink{reject: true}
	p.SetOut(out)
	p.Send(core.DataEvent(1))
	p.Send(core.DataEvent(2))

	if res := p.Tick(); res.Ok() {
		t.Fatalf("expected Tick to report the downstream rejection")
	}
	if p.Len() != 2 {
		t.Fatalf("Len() = %d after a rejected drain, want both events retained", p.Len())
	}

	out.reject = false
	p.Tick()
	if p.Len() != 0 {
		t.Fatalf("Len() = %d once downstream accepts, want 0", p.Len())
	}
}

func TestHighWaterCrossingsNotifyReverseOnce(t *testing.T) {
	p := New(3) // capacity 8, high=7, low=4
	rev := &sink{}
	p.SetReverse(rev)

	for i := 0; i < 7; i++ {
		p.Send(core.DataEvent(byte(i)))
	}
	if len(rev.received) != 1 || rev.received[0].Data != core.HighWaterOn {
		t.Fatalf("expected exactly one HIGH_WATER(on) at the high mark, got %+v", rev.received)
	}

	// Further sends past the mark must not re-signal.
	p.Send(core.DataEvent(7))
	if len(rev.received) != 1 {
		t.Fatalf("HIGH_WATER(on) re-signaled on a later send: %+v", rev.received)
	}

	out := &sink{}
	p.SetOut(out)
	for i := 0; i < 4; i++ {
		p.Tick()
	}
	if len(rev.received) != 2 || rev.received[1].Data != core.HighWaterOff {
		t.Fatalf("expected a HIGH_WATER(off) once drained to the low mark, got %+v", rev.received)
	}
}
