// Package router implements the two pieces of plumbing that sit between
// the dongle's single physical serial connection and its two protocol
// stacks: a DTR-keyed switch that decides whether the wire currently
// belongs to the Newton Dock/MNP stack or a plain USB CDC passthrough,
// and an MNP throttle that paces outbound MNP blocks so the handheld
// doesn't choke on back-to-back frames.
//
// Grounded on _examples/original_source/Firmware/common/Filters/
// DTRSwitch.cpp and _examples/original_source/Firmware/common/Pipes/
// MNPThrottle.cpp.
package router

import "github.com/robowerk/newt-dongle/pkg/core"

// Router is DTRSwitch collapsed to this port's simpler Stage contract:
// the original's rush()/rush_back() control path (used to let a DTR
// line-state change jump a buffered queue) has no equivalent here since
// nothing in this bridge buffers UART events ahead of the router: a
// DTR event always arrives to Send in order with the data stream, which
// is fine because DTR transitions are rare compared to data bytes.
type Router struct {
	// ToPhysical is the shared physical endpoint (UART or USB CDC
	// descriptor 0) that both protocol stacks are multiplexed onto.
	ToPhysical core.Out
	// ToDock receives inbound bytes while DTR is low.
	ToDock core.Out
	// ToCDC receives inbound bytes while DTR is high.
	ToCDC core.Out

	dtrSet bool
}

// NewRouter builds a router starting in the Dock-selected state
// (dtr_set's zero value in DTRSwitch is false, i.e. "route to Dock").
func NewRouter() *Router {
	return &Router{}
}

// Send handles an event arriving from the physical endpoint
// (DTRSwitch::send, the inbound direction): a DTR line-state change
// updates routing instead of being forwarded, everything else goes to
// whichever stack currently owns the wire.
func (r *Router) Send(event core.Event) core.Result {
	if event.Type == core.TypeUART && event.Subtype == core.UARTDTR {
		r.dtrSet = event.Data != 0
		return core.OK
	}
	if r.dtrSet {
		return r.ToCDC.Send(event)
	}
	return r.ToDock.Send(event)
}

// DockSide returns the Stage the Dock/MNP engine sends its outbound
// bytes into. It accepts only while DTR selects the Dock path,
// otherwise it rejects with "not connected" exactly as
// DTRSwitch::ToDockPipe::send falls back to OK__NOT_CONNECTED when
// dtr_set is true.
func (r *Router) DockSide() core.Stage {
	return dockSide{r}
}

// CDCSide is the USB CDC passthrough's equivalent of DockSide
// (DTRSwitch::ToCDCPipe::send).
func (r *Router) CDCSide() core.Stage {
	return cdcSide{r}
}

type dockSide struct{ r *Router }

func (d dockSide) Send(event core.Event) core.Result {
	if d.r.dtrSet {
		return core.RejectNotConnected
	}
	return d.r.ToPhysical.Send(event)
}

type cdcSide struct{ r *Router }

func (c cdcSide) Send(event core.Event) core.Result {
	if !c.r.dtrSet {
		return core.RejectNotConnected
	}
	return c.r.ToPhysical.Send(event)
}
