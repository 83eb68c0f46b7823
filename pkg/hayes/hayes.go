// Package hayes implements the Hayes AT command interpreter that turns
// the dongle into something a Newton (or a terminal program on a PC)
// recognizes as a modem: pause-"+++"-pause escapes into command mode,
// "ATO" returns to data mode, and a handful of S-registers and
// extension commands configure the bridge.
//
// Grounded on _examples/original_source/Firmware/common/Filters/
// HayesFilter.cpp (complete, 568 lines): the escape-guard-time state
// machine split across task() and downstream_send(), the command-mode
// line editor, the register table, and the "&"/"[" sub-command
// namespaces.
package hayes

import (
	"strconv"
	"strings"

	"github.com/robowerk/newt-dongle/pkg/core"
	"github.com/robowerk/newt-dongle/pkg/settings"
)

// escGuardUnitUs is one tick of S12's guard time, 1/50th of a second
// (HayesFilter.cpp: "value * 20'000; // 20ms").
const escGuardUnitUs = 20_000

// SDCard is the minimal storage-card surface the "[GL" command needs,
// grounded on SDCardEndpoint's get_label()/status()/strerr() trio.
type SDCard interface {
	Label() string
	// Status returns the strerr()-style status message for the most
	// recent card operation, printed unconditionally after the label.
	Status() string
}

// Engine is one Hayes filter instance. The instance index (0 or 1)
// selects the hayes0_*/hayes1_* guard-time register it uses;
// cmd/newt-dongle builds a single instance, index 0.
type Engine struct {
	// ToModem carries data-mode bytes onward to the MNP/Dock stack
	// (HayesFilter's upstream.out()).
	ToModem core.Out
	// ToUser carries data-mode bytes and command-mode replies back to
	// the physical serial port (HayesFilter's downstream.out()).
	ToUser core.Out

	Settings *settings.Settings
	SDCard   SDCard
	Sched    *core.Scheduler

	index uint8

	dataMode             bool
	commandModeTimeoutUs uint32
	commandModeProgress  uint8
	escGuardTimeoutUs    uint32

	cmd             strings.Builder
	cmdLen          int
	prevCmd         string
	cmdReady        bool
	crRcvd          bool
	currentRegister uint32
}

// New builds a Hayes engine for the given instance index (0 or 1),
// starting in data mode exactly as HayesFilter does (data_mode_ has no
// explicit initializer in the header, but every call site constructs
// the filter already connected and passing data through).
func New(index uint8, set *settings.Settings, sched *core.Scheduler) *Engine {
	e := &Engine{
		index:    index,
		Settings: set,
		Sched:    sched,
		dataMode: true,
	}
	e.escGuardTimeoutUs = uint32(e.guardRegister()) * escGuardUnitUs
	return e
}

func (e *Engine) guardRegister() uint8 {
	if e.index == 0 {
		return e.Settings.Data.Hayes0EscCodeGuard
	}
	return e.Settings.Data.Hayes1EscCodeGuard
}

// Signal reacts to a broadcast USER_SETTINGS_CHANGED, refreshing the
// cached guard-time threshold the way HayesFilter::signal does.
func (e *Engine) Signal(event core.Event) core.Result {
	if event.Type == core.TypeSignal && event.Subtype == core.SignalUserSettingsChanged {
		e.escGuardTimeoutUs = uint32(e.guardRegister()) * escGuardUnitUs
	}
	return core.OK
}

func (e *Engine) switchToCommandMode() {
	e.dataMode = false
	e.commandModeTimeoutUs = 0
	e.commandModeProgress = 0
	e.sendOK()
}

func (e *Engine) switchToDataMode() {
	e.sendCONNECT()
	e.dataMode = true
	e.commandModeTimeoutUs = 0
	e.commandModeProgress = 0
}

// Tick advances the escape-guard timer, exactly matching
// HayesFilter::task()'s five-state progress machine. It only does
// anything while in data mode; command mode has nothing to time out.
func (e *Engine) Tick() core.Result {
	e.commandModeTimeoutUs += e.Sched.CycleTimeUs()
	if !e.dataMode {
		return core.OK
	}
	switch e.commandModeProgress {
	case 0: // waiting for the first pause
		if e.commandModeTimeoutUs > e.escGuardTimeoutUs {
			e.commandModeProgress = 1
			e.commandModeTimeoutUs = 0
		}
	case 1: // waiting for the first '+'
		// nothing to time out here; downstream_send advances this.
	case 2: // waiting for the second '+'
		if e.commandModeTimeoutUs > e.escGuardTimeoutUs {
			e.commandModeTimeoutUs = 0
			e.commandModeProgress = 0
			e.ToModem.Send(core.DataEvent('+')) // make up for the '+' we withheld
		}
	case 3: // waiting for the third '+'
		if e.commandModeTimeoutUs > e.escGuardTimeoutUs {
			e.commandModeTimeoutUs = 0
			e.commandModeProgress = 0
			e.ToModem.Send(core.DataEvent('+'))
			e.ToModem.Send(core.DataEvent('+'))
		}
	case 4: // waiting for the last pause
		if e.commandModeTimeoutUs > e.escGuardTimeoutUs {
			e.commandModeProgress = 0
			e.switchToCommandMode()
		}
	}
	return core.OK
}

// FromModem handles a byte arriving from the MNP/Dock stack, bound for
// the physical serial port (HayesFilter::upstream_send).
func (e *Engine) FromModem(b byte) core.Result {
	if e.dataMode {
		return e.ToUser.Send(core.DataEvent(b))
	}
	return core.RejectNotConnected
}

// FromUser handles a byte arriving from the physical serial port
// (HayesFilter::downstream_send): escape detection while in data mode,
// or command-mode line editing otherwise.
func (e *Engine) FromUser(b byte) core.Result {
	if e.dataMode {
		if withheld := e.detectEscape(b); withheld {
			return core.OK
		}
		return e.ToModem.Send(core.DataEvent(b))
	}
	return e.editCommandLine(b)
}

// detectEscape runs the pause-"+++"-pause progress machine against one
// incoming byte, returning true if the byte was withheld (not yet to be
// forwarded) pending the timeout in Tick. Ported from
// HayesFilter::downstream_send's switch on command_mode_progress_.
func (e *Engine) detectEscape(b byte) bool {
	switch e.commandModeProgress {
	case 0: // waiting for the first pause
		e.commandModeTimeoutUs = 0
	case 1: // waiting for the first '+'
		if b == '+' {
			e.commandModeProgress = 2
			e.commandModeTimeoutUs = 0
			return true
		}
		e.commandModeProgress = 0
		e.commandModeTimeoutUs = 0
	case 2: // waiting for the second '+'
		if b == '+' {
			e.commandModeProgress = 3
			e.commandModeTimeoutUs = 0
			return true
		}
		e.ToModem.Send(core.DataEvent('+'))
		e.commandModeProgress = 0
		e.commandModeTimeoutUs = 0
	case 3: // waiting for the third '+'
		if b == '+' {
			e.commandModeProgress = 4
			e.commandModeTimeoutUs = 0
			return true
		}
		e.ToModem.Send(core.DataEvent('+'))
		e.ToModem.Send(core.DataEvent('+'))
		e.commandModeProgress = 0
		e.commandModeTimeoutUs = 0
	case 4: // waiting for the last pause
		e.ToModem.Send(core.DataEvent('+'))
		e.ToModem.Send(core.DataEvent('+'))
		e.ToModem.Send(core.DataEvent('+'))
		e.commandModeProgress = 0
		e.commandModeTimeoutUs = 0
	}
	return false
}

// editCommandLine is the command-mode half of downstream_send: echoing,
// backspace, escape-clear, "A/" repeat, overflow bell, and dispatch on
// CR/LF.
func (e *Engine) editCommandLine(b byte) core.Result {
	out := b
	switch {
	case b == '\r':
		// Some terminals send only a CR (PT100); that's enough to launch
		// the command. We always echo a CRLF regardless of what arrived.
		e.cmdReady = true
		e.crRcvd = true
		e.ToUser.Send(core.DataEvent('\r'))
		out = '\n'
	case b == '\n':
		if e.crRcvd {
			// CR already triggered the command; swallow the paired LF.
			e.crRcvd = false
			return core.OK
		}
		e.cmdReady = true
		e.ToUser.Send(core.DataEvent('\r'))
	case b == 127 || b == 8: // backspace (or 8)
		if e.cmdLen > 0 {
			res := e.sendUserText("\x1b[1D \x1b[1D") // move cursor left, blank, move left
			e.backspace()
			return res
		}
		return core.OK
	case b == 27: // escape: clear the line and start fresh
		e.clearCmd()
		e.ToUser.Send(core.DataEvent('\r'))
		return e.ToUser.Send(core.DataEvent('\n'))
	case b == '/' && e.cmdLen == 1 && (e.cmdFirst() == 'A' || e.cmdFirst() == 'a'):
		// "A/" repeats the last command line without needing CR/LF.
		e.setCmd(e.prevCmd)
		e.cmdReady = true
		e.ToUser.Send(core.DataEvent(b))
		e.ToUser.Send(core.DataEvent('\r'))
		out = '\n'
	case e.cmdLen < 255:
		e.appendCmd(b)
	default:
		out = '\a' // command line too long: bell
	}

	res := e.ToUser.Send(core.DataEvent(out))
	if e.cmdReady {
		e.cmdReady = false
		cmd := e.cmd.String()
		if len(cmd) >= 2 && (cmd[0] == 'A' || cmd[0] == 'a') && (cmd[1] == 'T' || cmd[1] == 't') {
			e.runCmdLine(cmd)
		}
		e.prevCmd = cmd
		e.clearCmd()
	}
	return res
}

func (e *Engine) cmdFirst() byte {
	s := e.cmd.String()
	if len(s) == 0 {
		return 0
	}
	return s[0]
}

func (e *Engine) appendCmd(b byte) {
	e.cmd.WriteByte(b)
	e.cmdLen++
}

func (e *Engine) backspace() {
	s := e.cmd.String()
	e.setCmd(s[:len(s)-1])
}

func (e *Engine) clearCmd() {
	e.cmd.Reset()
	e.cmdLen = 0
}

func (e *Engine) setCmd(s string) {
	e.cmd.Reset()
	e.cmd.WriteString(s)
	e.cmdLen = len(s)
}

func (e *Engine) sendUserText(s string) core.Result {
	var res core.Result = core.OK
	for i := 0; i < len(s); i++ {
		res = e.ToUser.Send(core.DataEvent(s[i]))
	}
	return res
}

func (e *Engine) sendString(s string) {
	for i := 0; i < len(s); i++ {
		e.ToUser.Send(core.DataEvent(s[i]))
	}
}

func (e *Engine) sendOK()      { e.sendString("OK\r\n") }
func (e *Engine) sendCONNECT() { e.sendString("CONNECT\r\n") }
func (e *Engine) sendERROR()   { e.sendString("ERROR\r\n") }

// runCmdLine interprets everything after the leading "AT" and runs each
// concatenated command in turn (HayesFilter::run_cmd_line).
func (e *Engine) runCmdLine(cmd string) {
	rest := cmd[2:]
	for rest != "" {
		var ok bool
		rest, ok = e.runNextCmd(rest)
		if !ok {
			return
		}
	}
	e.sendOK()
}

// runNextCmd interprets a single command and returns the remainder of
// the line, or ok=false once the line has produced a final response
// (OK/ERROR) and nothing more should run (HayesFilter::run_next_cmd).
func (e *Engine) runNextCmd(cmd string) (string, bool) {
	if cmd == "" {
		return "", false
	}
	c := upper(cmd[0])
	cmd = cmd[1:]
	switch c {
	case 'D': // the rest of the line is a phone number: we never dial out.
		e.sendERROR()
		return "", false
	case 'I':
		var a uint32
		a, cmd = readInt(cmd)
		if !e.sendInfo(a) {
			e.sendERROR()
			return "", false
		}
	case 'O':
		e.switchToDataMode()
		return "", false
	case 'S':
		if len(cmd) > 0 && isDigit(cmd[0]) {
			e.currentRegister, cmd = readInt(cmd)
		}
		if len(cmd) > 0 && cmd[0] == '=' {
			cmd = cmd[1:]
			var v uint32
			v, cmd = readInt(cmd)
			if !e.setRegister(e.currentRegister, v) {
				e.sendERROR()
				return "", false
			}
			return cmd, true
		}
		if len(cmd) > 0 && cmd[0] == '?' {
			cmd = cmd[1:]
			e.sendString(strconv.FormatUint(uint64(e.getRegister(e.currentRegister)), 10))
			e.sendString("\r\n")
			return cmd, true
		}
		// The original's switch has no break here and falls straight
		// into the '&' case with whatever remains of the line — an "S"
		// with neither "=" nor "?" is handled as an ampersand command.
		// Carried over as-is.
		return e.runAmpersandCmd(cmd)
	case '&':
		return e.runAmpersandCmd(cmd)
	case '[':
		return e.runSDCardCmd(cmd)
	default:
		e.sendERROR()
		return "", false
	}
	return cmd, true
}

func (e *Engine) runAmpersandCmd(cmd string) (string, bool) {
	if cmd == "" {
		return "", true
	}
	c := upper(cmd[0])
	cmd = cmd[1:]
	switch c {
	case 'W': // write current settings
		_, cmd = readInt(cmd)
		e.Settings.Write()
	default:
		e.sendERROR()
		return "", false
	}
	return cmd, true
}

func (e *Engine) runSDCardCmd(cmd string) (string, bool) {
	if hasPrefixFold(cmd, "GL") {
		if e.SDCard == nil {
			e.sendERROR()
			return "", false
		}
		label := e.SDCard.Label()
		e.sendString("\"")
		for _, c := range label {
			if c < 32 || c > 126 {
				e.ToUser.Send(core.DataEvent('.'))
			} else {
				e.ToUser.Send(core.DataEvent(byte(c)))
			}
		}
		e.sendString("\"\r\n")
		// The original's status check (`if (err) { ... }`) is commented
		// out in HayesFilter.cpp, so the status line and ERROR below are
		// sent unconditionally, even after a perfectly good read. Carried
		// over as-is rather than "fixed".
		e.sendString(e.SDCard.Status())
		e.sendString("\r\n")
		e.sendERROR()
		return "", false
	}
	if hasPrefixFold(cmd, "SN") {
		cmd = cmd[2:]
		var serial uint32
		serial, cmd = readInt(cmd)
		if len(cmd) == 0 || cmd[0] != ':' {
			e.sendERROR()
			return "", false
		}
		cmd = cmd[1:]
		var id uint32
		id, cmd = readInt(cmd)
		if len(cmd) == 0 || cmd[0] != '.' {
			e.sendERROR()
			return "", false
		}
		cmd = cmd[1:]
		var version uint32
		version, cmd = readInt(cmd)
		if len(cmd) == 0 || cmd[0] != '.' {
			e.sendERROR()
			return "", false
		}
		cmd = cmd[1:]
		var revision uint32
		revision, cmd = readInt(cmd)
		if err := e.Settings.WriteSerial(serial, uint16(id), uint16(version), uint16(revision)); err != nil {
			e.sendString("Rejected\r\n")
			e.sendERROR()
			return "", false
		}
		e.sendString("Flashed " + strconv.FormatUint(uint64(serial), 10) + " " +
			strconv.FormatUint(uint64(id), 10) + " " +
			strconv.FormatUint(uint64(version), 10) + " " +
			strconv.FormatUint(uint64(revision), 10) + "\r\n")
		return cmd, true
	}
	e.sendERROR()
	return "", false
}

func (e *Engine) setRegister(reg, value uint32) bool {
	switch reg {
	case 12: // escape code guard time, 1/50th of a second
		if e.index == 0 {
			e.Settings.Data.Hayes0EscCodeGuard = uint8(value)
		} else {
			e.Settings.Data.Hayes1EscCodeGuard = uint8(value)
		}
	case 300: // absolute throttle delay in microseconds
		e.Settings.Data.MNPTAbsoluteDelay = value
	case 301: // relative MNP throttle delay in characters
		e.Settings.Data.MNPTNumCharDelay = uint8(value)
	default:
		return false
	}
	if e.Sched != nil {
		e.Sched.Broadcast(core.SignalEvent(core.SignalUserSettingsChanged))
	}
	return true
}

func (e *Engine) getRegister(reg uint32) uint32 {
	switch reg {
	case 12:
		if e.index == 0 {
			return uint32(e.Settings.Data.Hayes0EscCodeGuard)
		}
		return uint32(e.Settings.Data.Hayes1EscCodeGuard)
	case 13:
		return uint32(e.Settings.Data.Hayes0EscCodeGuard)
	case 300:
		return e.Settings.Data.MNPTAbsoluteDelay
	case 301:
		return uint32(e.Settings.Data.MNPTNumCharDelay)
	}
	return 0
}

func (e *Engine) sendInfo(ix uint32) bool {
	switch ix {
	case 0:
		e.sendString("NewtDongle V0.0.4\r\n")
	case 1:
		e.sendString("Serial No.: ")
		e.sendString(strconv.FormatUint(uint64(e.Settings.Serial()), 10))
		e.sendString("\r\n")
	case 2:
		e.sendString("Hardware: V")
		e.sendString(strconv.FormatUint(uint64(e.Settings.HardwareVersion()), 10))
		e.sendString(".")
		e.sendString(strconv.FormatUint(uint64(e.Settings.HardwareRevision()), 10))
		e.sendString("\r\n")
	default:
		return false
	}
	return true
}

func readInt(s string) (uint32, string) {
	var v uint32
	i := 0
	for i < len(s) && isDigit(s[i]) {
		v = v*10 + uint32(s[i]-'0')
		i++
	}
	return v, s[i:]
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func upper(c byte) byte {
	if c > 32 && c < 127 && c >= 'a' && c <= 'z' {
		return c - 32
	}
	return c
}

func hasPrefixFold(s, prefix string) bool {
	if len(s) < len(prefix) {
		return false
	}
	return strings.EqualFold(s[:len(prefix)], prefix)
}
