package router

import (
	"github.com/robowerk/newt-dongle/pkg/core"
	"github.com/robowerk/newt-dongle/pkg/settings"
)

// mnp block framing bytes: an outbound MNP frame's wire encoding always
// ends with DLE, ETX, then a two-byte CRC. Any other DLE is an escaped
// (stuffed) byte inside the payload, not a frame terminator.
const (
	dle = 0x10
	etx = 0x03
)

type throttleState uint8

const (
	waitForDLE throttleState = iota
	waitForETX
	waitForCRCLo
	waitForCRCHi
	resendDelay
)

// Throttle watches an outbound byte stream for the end of an MNP block
// and inserts a DELAY event right after it, giving the handheld time to
// process one frame before the next arrives. Grounded on
// _examples/original_source/Firmware/common/Pipes/MNPThrottle.cpp,
// whose own comment explains why: a timed-out MNP transfer has no way
// to resync and must be restarted from scratch, so it's cheaper to pace
// the sender than to recover from a drop.
type Throttle struct {
	Out      core.Out
	Settings *settings.Settings

	state       throttleState
	resendEvent core.Event
	bitrateBps  uint32

	absoluteDelayUs uint32
	numCharDelay    uint32
}

// NewThrottle builds a throttle with the line rate MNPThrottle.cpp
// starts at (bitrate_ = 38400) until a SET_BITRATE event says otherwise.
func NewThrottle(set *settings.Settings) *Throttle {
	t := &Throttle{Settings: set, bitrateBps: 38400}
	t.absoluteDelayUs = set.Data.MNPTAbsoluteDelay
	t.numCharDelay = uint32(set.Data.MNPTNumCharDelay)
	return t
}

// Signal refreshes the cached delay registers on SIGNAL(USER_SETTINGS_CHANGED),
// matching MNPThrottle::signal.
func (t *Throttle) Signal(event core.Event) core.Result {
	if event.Type == core.TypeSignal && event.Subtype == core.SignalUserSettingsChanged {
		t.absoluteDelayUs = t.Settings.Data.MNPTAbsoluteDelay
		t.numCharDelay = uint32(t.Settings.Data.MNPTNumCharDelay)
	}
	return core.OK
}

// Send is MNPThrottle::send: a held resend is always retried first, and
// if that retry fails the new event is not even attempted this round —
// the caller is expected to resubmit the identical event next time,
// the same back-pressure discipline used throughout this bridge.
func (t *Throttle) Send(event core.Event) core.Result {
	if t.state == resendDelay {
		res := t.Out.Send(t.resendEvent)
		if !res.Ok() {
			return res
		}
		t.state = waitForDLE
	}

	if event.Type == core.TypeSetBitrate {
		if int(event.Subtype) < len(core.BitrateTable) {
			t.bitrateBps = core.BitrateTable[event.Subtype]
		}
	}

	res := t.Out.Send(event)
	if !res.Ok() {
		return res
	}
	if event.Type != core.TypeData {
		return res
	}

	switch t.state {
	case waitForDLE:
		if event.Byte() == dle {
			t.state = waitForETX
		}
	case waitForETX:
		if event.Byte() == etx {
			t.state = waitForCRCLo
		} else {
			// not a frame terminator, just a stuffed DLE byte
			t.state = waitForDLE
		}
	case waitForCRCLo:
		t.state = waitForCRCHi
	case waitForCRCHi:
		t.state = waitForDLE
		if t.bitrateBps > 0 {
			delayUs := t.absoluteDelayUs + (t.numCharDelay*1_000_000/t.bitrateBps)*10
			t.resendEvent = core.MakeDelayEvent(delayUs)
			if delayRes := t.Out.Send(t.resendEvent); !delayRes.Ok() {
				t.state = resendDelay
			}
		}
	}
	return res
}
