package router

import (
	"testing"

	"github.com/robowerk/newt-dongle/pkg/core"
)

type recorder struct {
	events []core.Event
}

func (r *recorder) Send(e core.Event) core.Result {
	r.events = append(r.events, e)
	return core.OK
}

func dtrEvent(set bool) core.Event {
	v := uint16(0)
	if set {
		v = 1
	}
	return core.UARTEvent(core.UARTDTR, v)
}

func TestRouterStartsRoutingToDock(t *testing.T) {
	r := NewRouter()
	dock, cdc := &recorder{}, &recorder{}
	r.ToDock, r.ToCDC = dock, cdc

	r.Send(core.DataEvent('x'))
	if len(dock.events) != 1 || len(cdc.events) != 0 {
		t.Fatalf("expected byte routed to dock while DTR is low")
	}
}

func TestRouterSwitchesOnDTR(t *testing.T) {
	r := NewRouter()
	dock, cdc := &recorder{}, &recorder{}
	r.ToDock, r.ToCDC = dock, cdc

	r.Send(dtrEvent(true))
	r.Send(core.DataEvent('x'))
	if len(cdc.events) != 1 || len(dock.events) != 0 {
		t.Fatalf("expected byte routed to cdc once DTR goes high")
	}

	r.Send(dtrEvent(false))
	r.Send(core.DataEvent('y'))
	if len(dock.events) != 1 {
		t.Fatalf("expected byte routed back to dock once DTR goes low again")
	}
}

func TestDTREventDoesNotForward(t *testing.T) {
	r := NewRouter()
	dock, cdc := &recorder{}, &recorder{}
	r.ToDock, r.ToCDC = dock, cdc

	r.Send(dtrEvent(true))
	if len(dock.events) != 0 || len(cdc.events) != 0 {
		t.Fatalf("a DTR line-state event should update routing, not be forwarded")
	}
}

func TestDockSideRejectedWhenDTRHigh(t *testing.T) {
	r := NewRouter()
	phys := &recorder{}
	r.ToPhysical = phys

	r.Send(dtrEvent(true))
	res := r.DockSide().Send(core.DataEvent('a'))
	if res.Ok() {
		t.Fatalf("dock side should be rejected while CDC owns the wire")
	}
	if len(phys.events) != 0 {
		t.Fatalf("rejected send should not reach the physical endpoint")
	}
}

func TestDockSideAcceptedWhenDTRLow(t *testing.T) {
	r := NewRouter()
	phys := &recorder{}
	r.ToPhysical = phys

	res := r.DockSide().Send(core.DataEvent('a'))
	if !res.Ok() || len(phys.events) != 1 {
		t.Fatalf("dock side should be accepted while DTR is low")
	}
}

func TestCDCSideRejectedWhenDTRLow(t *testing.T) {
	r := NewRouter()
	phys := &recorder{}
	r.ToPhysical = phys

	res := r.CDCSide().Send(core.DataEvent('a'))
	if res.Ok() {
		t.Fatalf("cdc side should be rejected while dock owns the wire")
	}
}

func TestCDCSideAcceptedWhenDTRHigh(t *testing.T) {
	r := NewRouter()
	phys := &recorder{}
	r.ToPhysical = phys

	r.Send(dtrEvent(true))
	res := r.CDCSide().Send(core.DataEvent('a'))
	if !res.Ok() || len(phys.events) != 1 {
		t.Fatalf("cdc side should be accepted while DTR is high")
	}
}
