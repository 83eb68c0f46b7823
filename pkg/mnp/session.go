package mnp

import (
	"log"

	"github.com/robowerk/newt-dongle/pkg/core"
)

// State is the three-valued MNP session state.
type State uint8

const (
	Disconnected State = iota
	Negotiating
	Connected
)

// retransmitTimeoutUs is the session's retransmission timer: a
// straightforward implementation that retransmits the awaiting-ACK
// frame one second after it was last sent.
const retransmitTimeoutUs = 1_000_000

// lrReplyHeader is the fixed LR reply header this session always sends,
// declaring framing mode = octet, window k = 1, and max info field
// (N401) = 64, reused symmetrically as our own reply to any LR the
// handheld sends.
var lrReplyHeader = []byte{
	0x01, 0x02, 0x01, 0x06, 0x01, 0x00, 0x00, 0x00, 0x00, 0xFF,
	0x02, 0x01, 0x02, 0x03, 0x01, 0x01, 0x04, 0x02, 0x40, 0x00,
	0x08, 0x01, 0x03,
}

// Session is the MNP connection-lifecycle, sequencing, and
// acknowledgement engine. It owns the frame pool,
// drives a Receiver and a Sender, and exchanges MNP(subtype) events and
// payload bytes with the Dock protocol engine above it.
type Session struct {
	pool     *Pool
	receiver *Receiver
	sender   *Sender
	sched    *core.Scheduler

	state  State
	inSeq  uint8
	outSeq uint8

	awaitingAck  *Frame
	pendingLR    bool // true while we're waiting for the LA that confirms our LR reply
	ackElapsedUs uint32

	outBuf    [MaxData]byte
	outBufLen int

	// DockOut receives MNP(subtype) lifecycle notifications
	// (CONNECTED/DISCONNECTED/NEGOTIATING).
	DockOut core.Out

	// OnDockData receives a complete LT payload in the order accepted by
	// ACKs.
	OnDockData func([]byte)
}

// NewSession wires a session atop pool, using sched for retransmission
// timing.
func NewSession(pool *Pool, sched *core.Scheduler) *Session {
	s := &Session{
		pool:     pool,
		receiver: NewReceiver(pool),
		sender:   NewSender(),
		sched:    sched,
	}
	s.receiver.OnFrame = s.handleFrame
	s.sender.OnSent = s.handleSent
	return s
}

// SetLineOut connects the sender's byte-stream output (toward the UART).
func (s *Session) SetLineOut(out core.Stage) {
	s.sender.SetOut(out)
}

// LineIn is the Stage the UART-side byte stream should be sent into.
func (s *Session) LineIn() core.Stage {
	return s.receiver
}

// Send is the Stage entry point for the Dock-to-handheld direction: the
// Dock engine writes DATA bytes and brackets them with
// MNP(FRAME_START)/MNP(FRAME_END) events, exactly as it would call
// out()->send(event) in the original firmware.
func (s *Session) Send(event core.Event) core.Result {
	switch event.Type {
	case core.TypeData:
		return s.appendOutbound(event.Byte())
	case core.TypeMNP:
		if event.Subtype == core.MNPFrameEnd {
			return s.flush()
		}
	}
	return core.OK
}

// Tick advances the retransmission timer and drains the sender.
func (s *Session) Tick() core.Result {
	if s.awaitingAck != nil || s.pendingLR {
		s.ackElapsedUs += s.sched.CycleTimeUs()
		if s.ackElapsedUs >= retransmitTimeoutUs {
			s.ackElapsedUs = 0
			s.retransmit()
		}
	}
	return s.sender.Tick()
}

func (s *Session) appendOutbound(b byte) core.Result {
	if s.outBufLen >= MaxData {
		if res := s.flush(); res.Code == core.Rejected {
			return res
		}
	}
	s.outBuf[s.outBufLen] = b
	s.outBufLen++
	if s.outBufLen >= MaxData {
		// b is already stored, so a rejected flush is not reported: the
		// next byte or FRAME_END retries it.
		s.flush()
	}
	return core.OK
}

// flush buffers whatever is pending into one LT frame. It REJECTs (and
// leaves the buffer intact) while a previous LT is still awaiting its
// ACK or the sender is still emitting another frame: no new LT frame
// is dequeued until that slot clears.
func (s *Session) flush() core.Result {
	if s.outBufLen == 0 {
		return core.OK
	}
	if s.awaitingAck != nil || s.sender.Busy() {
		return core.Reject(core.CauseNotConnected)
	}
	frame := s.pool.Acquire()
	if frame == nil {
		return core.Reject(core.CauseNotHandled)
	}
	s.outSeq++
	frame.Type = TypeLT
	frame.Header[0] = byte(TypeLT)
	frame.Header[1] = s.outSeq
	frame.HeaderLen = 2
	copy(frame.Data[:s.outBufLen], s.outBuf[:s.outBufLen])
	frame.DataLen = s.outBufLen
	s.outBufLen = 0

	s.awaitingAck = frame
	s.ackElapsedUs = 0
	s.sender.Submit(frame)
	return core.OK
}

func (s *Session) retransmit() {
	if s.sender.Busy() {
		return
	}
	if s.awaitingAck != nil {
		s.sender.Submit(s.awaitingAck)
		return
	}
	if s.pendingLR {
		s.sendLRReply()
	}
}

func (s *Session) handleSent(frame *Frame) {
	if frame.Type != TypeLT {
		s.pool.Release(frame)
	}
	// LT frames stay held in s.awaitingAck until the peer ACKs them.
}

func (s *Session) notify(subtype uint8) {
	s.DockOut.Send(core.MNPEvent(subtype, 0))
}

func (s *Session) handleFrame(frame *Frame) {
	switch frame.Type {
	case TypeLR:
		s.teardownSession()
		s.state = Negotiating
		s.notify(core.MNPNegotiating)
		s.pool.Release(frame)
		s.sendLRReply()

	case TypeLD:
		s.teardownSession()
		s.pool.Release(frame)
		s.notify(core.MNPDisconnected)

	case TypeLA:
		s.handleLA(frame)
		s.pool.Release(frame)

	case TypeLT:
		s.handleLT(frame)
		s.pool.Release(frame)

	default:
		s.pool.Release(frame)
	}
}

func (s *Session) handleLA(frame *Frame) {
	if frame.HeaderLen < 2 {
		return
	}
	seq := frame.Header[1]
	switch s.state {
	case Negotiating:
		s.pendingLR = false
		s.inSeq = 0
		s.outSeq = 0
		s.state = Connected
		s.notify(core.MNPConnected)
	case Connected:
		if s.awaitingAck == nil {
			return
		}
		if seq == s.outSeq {
			s.pool.Release(s.awaitingAck)
			s.awaitingAck = nil
			s.ackElapsedUs = 0
		} else {
			s.retransmit()
		}
	}
}

func (s *Session) handleLT(frame *Frame) {
	if s.state != Connected || frame.HeaderLen < 2 {
		return
	}
	seq := frame.Header[1]
	expected := s.inSeq + 1
	if seq == expected {
		s.inSeq = seq
		if s.OnDockData != nil {
			s.OnDockData(frame.DataBytes())
		}
	} else {
		log.Printf("mnp: unexpected LT seq %d (expected %d), re-acking last good", seq, expected)
	}
	s.sendLA(s.inSeq)
}

func (s *Session) sendLA(seq uint8) {
	frame := s.pool.Acquire()
	if frame == nil {
		log.Printf("mnp: pool exhausted, dropping LA for seq %d", seq)
		return
	}
	frame.Type = TypeLA
	frame.Header[0] = byte(TypeLA)
	frame.Header[1] = seq
	frame.Header[2] = 1 // credit, fixed at 1
	frame.HeaderLen = 3
	frame.DataLen = 0
	if s.sender.Busy() {
		// The sender is mid-frame; queueing a second concurrent frame
		// would corrupt its state machine, so the LA is simply dropped.
		// The peer's own retransmission will recover this.
		s.pool.Release(frame)
		return
	}
	s.sender.Submit(frame)
}

func (s *Session) sendLRReply() {
	frame := s.pool.Acquire()
	if frame == nil {
		log.Printf("mnp: pool exhausted, cannot send LR reply")
		return
	}
	copy(frame.Header[:len(lrReplyHeader)], lrReplyHeader)
	frame.HeaderLen = len(lrReplyHeader)
	frame.Type = TypeLR
	frame.DataLen = 0
	s.pendingLR = true
	s.ackElapsedUs = 0
	if s.sender.Busy() {
		s.pool.Release(frame)
		return
	}
	s.sender.Submit(frame)
}

func (s *Session) teardownSession() {
	if s.awaitingAck != nil {
		s.pool.Release(s.awaitingAck)
		s.awaitingAck = nil
	}
	s.outBufLen = 0
	s.pendingLR = false
	s.ackElapsedUs = 0
	s.state = Disconnected
	s.inSeq = 0
	s.outSeq = 0
}

// State reports the current session state, mostly for tests.
func (s *Session) State() State {
	return s.state
}
