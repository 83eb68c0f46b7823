// Package status drives the dongle's status LED. The reference firmware's
// StatusDisplay sources weren't available to build against directly, so
// this follows the same tick-driven small-state-machine idiom used for
// the other link-layer state machines (MNPThrottle, HayesFilter): a
// single discriminator plus a tick counter, no wall clock.
package status

import "github.com/robowerk/newt-dongle/pkg/core"

// Color is one of the LED's four colors (or off).
type Color uint8

const (
	ColorOff Color = iota
	ColorYellow
	ColorGreen
	ColorBlue
	ColorRed
)

// MainState is the steady-state indication, driven by the rest of the
// bridge (Dock/MNP session and USB CDC line state).
type MainState uint8

const (
	// StateIdle: no host, no active session (steady yellow).
	StateIdle MainState = iota
	// StateUSBReady: DTR asserted but no CDC traffic yet (slow
	// yellow/green alternation).
	StateUSBReady
	// StateUSBConnected: CDC session active (steady green).
	StateUSBConnected
	// StateStorageActive: package file being read from the card (blue
	// flash).
	StateStorageActive
	// StateError: a surfaced error condition (rapid red).
	StateError
)

// these tick counts set each pattern's half-period; the LED toggles
// every N ticks of whatever drives Animator.Tick.
const (
	slowAlternateHalfPeriod = 25
	flashHalfPeriod         = 8
	rapidHalfPeriod         = 3
)

// Driver is the physical LED collaborator: it just shows a color on or
// off each tick, the animation pattern lives entirely in Animator.
type Driver interface {
	Set(on bool, color Color)
}

// Animator is the LED state machine: a steady main state with an
// optional bounded-duration override, so temporary statuses override
// the main indication for a bounded number of cycles before reverting.
type Animator struct {
	Driver Driver

	main MainState

	overrideActive bool
	overrideState  MainState
	overrideTicks  uint32

	tickCount uint32
}

// New builds an Animator starting idle.
func New(driver Driver) *Animator {
	return &Animator{Driver: driver, main: StateIdle}
}

// SetMain sets the steady-state indication.
func (a *Animator) SetMain(s MainState) {
	a.main = s
}

// Override shows s instead of the main state for the next
// durationTicks calls to Tick, then reverts automatically.
func (a *Animator) Override(s MainState, durationTicks uint32) {
	a.overrideActive = true
	a.overrideState = s
	a.overrideTicks = durationTicks
}

// Tick implements core.Ticker: advance the animation by one step and
// drive the LED.
func (a *Animator) Tick() core.Result {
	a.tickCount++

	state := a.main
	if a.overrideActive {
		state = a.overrideState
		if a.overrideTicks > 0 {
			a.overrideTicks--
		}
		if a.overrideTicks == 0 {
			a.overrideActive = false
		}
	}

	color, on := render(state, a.tickCount)
	a.Driver.Set(on, color)
	return core.OK
}

func render(s MainState, tick uint32) (Color, bool) {
	switch s {
	case StateIdle:
		return ColorYellow, true
	case StateUSBReady:
		if (tick/slowAlternateHalfPeriod)%2 == 0 {
			return ColorYellow, true
		}
		return ColorGreen, true
	case StateUSBConnected:
		return ColorGreen, true
	case StateStorageActive:
		return ColorBlue, (tick/flashHalfPeriod)%2 == 0
	case StateError:
		return ColorRed, (tick/rapidHalfPeriod)%2 == 0
	}
	return ColorOff, false
}
