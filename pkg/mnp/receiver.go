package mnp

import (
	"log"

	"github.com/robowerk/newt-dongle/pkg/core"
)

// rxState is the receiver's byte-stream state machine.
type rxState uint8

const (
	rxWaitSyn rxState = iota
	rxWaitDLE
	rxWaitSTX
	rxWaitHdrLen
	rxWaitHdrData
	rxWaitData
	rxWaitETX
	rxWaitCRCLo
	rxWaitCRCHi
)

// Receiver turns the incoming byte stream from the handheld into
// validated frames, handed off via OnFrame. Framing errors, CRC
// mismatches, and malformed escapes are swallowed silently: MNP relies
// on the peer's own retransmission timeout, so no error ever propagates
// out of Send.
type Receiver struct {
	pool *Pool

	state    rxState
	hdrLen   int
	frame    *Frame
	escaping bool
	crcLo    byte

	// OnFrame receives ownership of a fully validated frame's pool slot;
	// it must Release the frame exactly once when done with it.
	OnFrame func(*Frame)
}

// NewReceiver builds a receiver that acquires frames from pool.
func NewReceiver(pool *Pool) *Receiver {
	return &Receiver{pool: pool, state: rxWaitSyn}
}

// Send feeds one byte of the downstream UART stream into the state
// machine. It returns REJECTED only when the frame pool is exhausted at
// the moment a new frame would need to be acquired, applying
// back-pressure; the caller must resubmit the identical byte on a later
// tick.
func (r *Receiver) Send(event core.Event) core.Result {
	if event.Type != core.TypeData {
		return core.OK
	}
	b := event.Byte()

	switch r.state {
	case rxWaitSyn:
		if b == 0x16 {
			r.state = rxWaitDLE
		}

	case rxWaitDLE:
		if b == 0x10 {
			r.state = rxWaitSTX
		} else {
			r.abort()
		}

	case rxWaitSTX:
		if b == 0x02 {
			r.state = rxWaitHdrLen
		} else {
			r.abort()
		}

	case rxWaitHdrLen:
		if b == 0 || b == 0xFF {
			// Open Item 2: header-length byte is never escape-processed
			// and 0/255 are always rejected.
			r.abort()
			break
		}
		f := r.pool.Acquire()
		if f == nil {
			return core.Reject(core.CauseNotHandled)
		}
		r.frame = f
		r.hdrLen = int(b)
		r.escaping = false
		r.state = rxWaitHdrData

	case rxWaitHdrData:
		if r.escaping {
			if b != 0x10 {
				r.abort()
				break
			}
			r.escaping = false
			if !r.appendHeader(0x10) {
				r.abort()
				break
			}
		} else if b == 0x10 {
			r.escaping = true
			break
		} else {
			if !r.appendHeader(b) {
				r.abort()
				break
			}
		}
		if r.frame.HeaderLen == r.hdrLen {
			t := Type(r.frame.Header[0])
			if !t.valid() {
				r.abort()
				break
			}
			r.frame.Type = t
			r.state = rxWaitData
		}

	case rxWaitData:
		if b == 0x10 {
			r.state = rxWaitETX
		} else if !r.appendData(b) {
			r.abort()
		}

	case rxWaitETX:
		switch b {
		case 0x10:
			if !r.appendData(0x10) {
				r.abort()
				break
			}
			r.state = rxWaitData
		case 0x03:
			r.state = rxWaitCRCLo
		default:
			r.abort()
		}

	case rxWaitCRCLo:
		r.crcLo = b
		r.state = rxWaitCRCHi

	case rxWaitCRCHi:
		received := uint16(r.crcLo) | uint16(b)<<8
		computed := frameCRC(byte(r.hdrLen), r.frame.HeaderBytes(), r.frame.DataBytes())
		if computed == received {
			frame := r.frame
			r.frame = nil
			if r.OnFrame != nil {
				r.OnFrame(frame)
			} else {
				r.pool.Release(frame)
			}
		} else {
			log.Printf("mnp: CRC mismatch, discarding frame (computed=%04x received=%04x)", computed, received)
			r.pool.Release(r.frame)
			r.frame = nil
		}
		r.state = rxWaitSyn
	}

	return core.OK
}

func (r *Receiver) appendHeader(b byte) bool {
	if r.frame.HeaderLen >= len(r.frame.Header) {
		return false
	}
	r.frame.Header[r.frame.HeaderLen] = b
	r.frame.HeaderLen++
	return true
}

func (r *Receiver) appendData(b byte) bool {
	if r.frame.DataLen >= len(r.frame.Data) {
		return false
	}
	r.frame.Data[r.frame.DataLen] = b
	r.frame.DataLen++
	return true
}

func (r *Receiver) abort() {
	if r.frame != nil {
		r.pool.Release(r.frame)
		r.frame = nil
	}
	r.escaping = false
	r.state = rxWaitSyn
}
