package mnp

import "github.com/robowerk/newt-dongle/pkg/core"

// txState is the sender's byte-emission state machine.
type txState uint8

const (
	txIdle txState = iota
	txSendSyn
	txSendDLE
	txSendSTX
	txSendHdrLen
	txSendHdrBytes
	txSendData
	txSendDLE2
	txSendETX
	txSendCRCLo
	txSendCRCHi
)

// Sender serializes one MNP frame at a time onto the downstream byte
// stream, byte-stuffing 0x10 wherever it appears in the header or data
// phases. Each phase advances only once the output stage accepts the
// corresponding byte; a REJECTED result holds the state machine exactly
// where it was so the same byte is retried next tick.
type Sender struct {
	out core.Out

	state  txState
	frame  *Frame
	idx    int // index into header or data, depending on state
	stuff  bool
	crc    uint16

	// OnSent is called once the frame has been fully emitted, including
	// its trailing CRC. LT frames are typically retained by the caller
	// in an "awaiting ACK" slot rather than released immediately
	//; the session logic decides that, not the sender.
	OnSent func(*Frame)
}

// NewSender builds an idle sender.
func NewSender() *Sender {
	return &Sender{state: txIdle}
}

// SetOut connects the downstream byte-stream stage.
func (s *Sender) SetOut(out core.Stage) {
	s.out.Set(out)
}

// Busy reports whether a frame is currently being emitted.
func (s *Sender) Busy() bool {
	return s.state != txIdle
}

// Submit begins emitting frame. It must not be called while Busy.
func (s *Sender) Submit(frame *Frame) {
	s.frame = frame
	s.idx = 0
	s.stuff = false
	s.crc = frameCRC(byte(frame.HeaderLen), frame.HeaderBytes(), frame.DataBytes())
	s.state = txSendSyn
}

// Tick emits as many bytes as the downstream stage accepts, stopping on
// the first rejection. It returns OK (with nothing pending) once idle.
func (s *Sender) Tick() core.Result {
	for s.state != txIdle {
		if res := s.step(); res.Code == core.Rejected {
			return res
		}
	}
	return core.OK
}

// step attempts to emit exactly one wire byte for the current phase.
func (s *Sender) step() core.Result {
	switch s.state {
	case txSendSyn:
		return s.emitFixed(0x16, txSendDLE)
	case txSendDLE:
		return s.emitFixed(0x10, txSendSTX)
	case txSendSTX:
		return s.emitFixed(0x02, txSendHdrLen)
	case txSendHdrLen:
		return s.emitFixed(byte(s.frame.HeaderLen), txSendHdrBytes)

	case txSendHdrBytes:
		return s.emitStuffed(s.frame.Header[:s.frame.HeaderLen], func() {
			if s.frame.Type == TypeLT {
				s.state = txSendData
			} else {
				s.state = txSendDLE2
			}
		})

	case txSendData:
		return s.emitStuffed(s.frame.Data[:s.frame.DataLen], func() {
			s.state = txSendDLE2
		})

	case txSendDLE2:
		return s.emitFixed(0x10, txSendETX)
	case txSendETX:
		return s.emitFixed(0x03, txSendCRCLo)
	case txSendCRCLo:
		return s.emitFixed(byte(s.crc&0xFF), txSendCRCHi)
	case txSendCRCHi:
		res := s.emit(byte(s.crc >> 8))
		if res.Code != core.Rejected {
			s.state = txIdle
			frame := s.frame
			s.frame = nil
			if s.OnSent != nil {
				s.OnSent(frame)
			}
		}
		return res
	}
	return core.OK
}

func (s *Sender) emit(b byte) core.Result {
	return s.out.Send(core.DataEvent(b))
}

// emitFixed emits a single non-stuffed byte and advances to next on success.
func (s *Sender) emitFixed(b byte, next txState) core.Result {
	res := s.emit(b)
	if res.Code != core.Rejected {
		s.state = next
	}
	return res
}

// emitStuffed walks buf one logical byte at a time, emitting a doubled
// 0x10 for every literal 0x10; onDone runs once buf is exhausted.
func (s *Sender) emitStuffed(buf []byte, onDone func()) core.Result {
	if s.idx >= len(buf) {
		s.idx = 0
		onDone()
		return core.OK
	}
	b := buf[s.idx]
	if b == 0x10 && !s.stuff {
		res := s.emit(0x10)
		if res.Code != core.Rejected {
			s.stuff = true
		}
		return res
	}
	res := s.emit(b)
	if res.Code != core.Rejected {
		s.stuff = false
		s.idx++
		if s.idx >= len(buf) {
			s.idx = 0
			onDone()
		}
	}
	return res
}
