// Package pipe implements the buffered pipe: a power-of-two ring of
// events that decouples producer and consumer rates and signals
// back-pressure via watermark crossings.
package pipe

import "github.com/robowerk/newt-dongle/pkg/core"

// BufferedPipe is a fixed-capacity ring of Events. Send REJECTS when the
// ring is full; Tick drains toward the downstream stage, stopping the
// instant that stage rejects. Crossing the HIGH watermark upward emits
// HIGH_WATER(on) toward the reverse (upstream) stage; crossing LOW
// downward emits HIGH_WATER(off).
type BufferedPipe struct {
	buf  []core.Event
	mask uint32
	head uint32 // next write index
	tail uint32 // next read index
	size uint32 // number of occupied slots

	high uint32
	low  uint32

	out     core.Out
	reverse core.Out

	highSignaled bool
}

// DefaultRingSizePow2 yields a default ring size of 512 slots.
const DefaultRingSizePow2 = 9

// New builds a buffered pipe of 2^sizePow2 slots with HIGH at 7/8 full
// and LOW at 1/2 full.
func New(sizePow2 uint8) *BufferedPipe {
	capacity := uint32(1) << sizePow2
	return &BufferedPipe{
		buf:  make([]core.Event, capacity),
		mask: capacity - 1,
		high: capacity - capacity/8,
		low:  capacity / 2,
	}
}

// SetOut connects the downstream stage events are drained toward.
func (p *BufferedPipe) SetOut(s core.Stage) {
	p.out.Set(s)
}

// SetReverse connects the upstream stage HIGH_WATER notifications are
// sent toward.
func (p *BufferedPipe) SetReverse(s core.Stage) {
	p.reverse.Set(s)
}

// Len reports the number of events currently buffered.
func (p *BufferedPipe) Len() uint32 {
	return p.size
}

// Send enqueues event, rejecting when the ring is full.
func (p *BufferedPipe) Send(event core.Event) core.Result {
	if p.size == uint32(len(p.buf)) {
		return core.Reject(core.CauseNotHandled)
	}
	p.buf[p.head] = event
	p.head = (p.head + 1) & p.mask
	p.size++

	if !p.highSignaled && p.size >= p.high {
		p.highSignaled = true
		p.reverse.Send(core.HighWaterEvent(true))
	}
	return core.OK
}

// Tick drains as many events as the downstream stage accepts, stopping
// on the first rejection (the event stays at the front of the ring for
// the next tick).
func (p *BufferedPipe) Tick() core.Result {
	for p.size > 0 {
		event := p.buf[p.tail]
		res := p.out.Send(event)
		if res.Code == core.Rejected {
			return res
		}
		p.tail = (p.tail + 1) & p.mask
		p.size--

		if p.highSignaled && p.size <= p.low {
			p.highSignaled = false
			p.reverse.Send(core.HighWaterEvent(false))
		}
	}
	return core.OK
}
