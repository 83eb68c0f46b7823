// Package usbcdc is the host-facing USB CDC-ACM endpoint: the virtual
// serial port the modern host's terminal/sync software opens. Built on
// the collaborator interface of cdc_write/cdc_try_read plus
// line-coding/DTR notifications, following pkg/uart's open/Tick/Send
// shape but using go.bug.st/serial instead of tarm/serial since this is
// an independent device.
package usbcdc

import (
	"fmt"
	"io"
	"log"
	"sync"

	"go.bug.st/serial"

	"github.com/robowerk/newt-dongle/pkg/core"
)

const rxBufferSize = 256

// port is the subset of go.bug.st/serial.Port used here, broken out for
// testability against a fake.
type port interface {
	io.Reader
	io.Writer
	Close() error
	SetMode(mode *serial.Mode) error
	GetModemStatusBits() (*serial.ModemStatusBits, error)
}

// Endpoint is the USB CDC virtual serial port. A Linux USB gadget ACM
// function (f_acm) maps the host's SetControlLineState DTR bit onto the
// gadget tty's DCD modem-status line, so DTR is read back here as DCD —
// there being no separate DTR-read bit for a device-side tty.
type Endpoint struct {
	Out core.Out

	mu   sync.Mutex
	port port

	rx       chan byte
	pending  *core.Event
	lastDTR  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// New opens the CDC device at the given baud rate, 8N1, matching the
// line settings pkg/uart uses for the handheld side.
func New(device string, baud int) (*Endpoint, error) {
	p, err := serial.Open(device, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("usbcdc: failed to open %s: %w", device, err)
	}
	e := &Endpoint{
		port:     p,
		rx:       make(chan byte, rxBufferSize),
		stopChan: make(chan struct{}),
	}
	e.wg.Add(1)
	go e.readLoop()
	return e, nil
}

func (e *Endpoint) readLoop() {
	defer e.wg.Done()
	buf := make([]byte, 1)
	for {
		select {
		case <-e.stopChan:
			return
		default:
		}
		e.mu.Lock()
		p := e.port
		e.mu.Unlock()
		n, err := p.Read(buf)
		if err != nil {
			if err != io.EOF {
				log.Printf("usbcdc: read error: %v", err)
			}
			continue
		}
		if n == 0 {
			continue
		}
		select {
		case e.rx <- buf[0]:
		default:
			log.Printf("usbcdc: receive buffer full, dropping byte")
		}
	}
}

// Close shuts down the read loop and the underlying port.
func (e *Endpoint) Close() error {
	close(e.stopChan)
	e.wg.Wait()
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.port.Close()
}

// Send implements core.Stage: DATA bytes go to the host (cdc_write),
// SET_BITRATE reconfigures the port's line coding.
func (e *Endpoint) Send(event core.Event) core.Result {
	switch event.Type {
	case core.TypeData:
		e.mu.Lock()
		_, err := e.port.Write([]byte{event.Byte()})
		e.mu.Unlock()
		if err != nil {
			log.Printf("usbcdc: write error: %v", err)
			return core.RejectNotConnected
		}
		return core.OK
	case core.TypeSetBitrate:
		if int(event.Subtype) < len(core.BitrateTable) {
			baud := int(core.BitrateTable[event.Subtype])
			e.mu.Lock()
			err := e.port.SetMode(&serial.Mode{BaudRate: baud, DataBits: 8, Parity: serial.NoParity, StopBits: serial.OneStopBit})
			e.mu.Unlock()
			if err != nil {
				log.Printf("usbcdc: failed to change line coding: %v", err)
			}
		}
		return core.OK
	}
	return core.OK
}

// Tick implements core.Ticker: a held pending event (DTR change or
// received byte) is retried first; otherwise the DTR/DCD line is
// polled for a change, then one received byte is drained, each
// buffered locally on downstream rejection.
func (e *Endpoint) Tick() core.Result {
	if e.pending != nil {
		res := e.Out.Send(*e.pending)
		if !res.Ok() {
			return res
		}
		e.pending = nil
	}

	e.mu.Lock()
	bits, err := e.port.GetModemStatusBits()
	e.mu.Unlock()
	if err == nil {
		if bits.DCD != e.lastDTR {
			e.lastDTR = bits.DCD
			ev := core.UARTEvent(core.UARTDTR, dtrValue(bits.DCD))
			if res := e.Out.Send(ev); !res.Ok() {
				e.pending = &ev
				return res
			}
		}
	}

	select {
	case b := <-e.rx:
		ev := core.DataEvent(b)
		if res := e.Out.Send(ev); !res.Ok() {
			e.pending = &ev
			return res
		}
	default:
	}
	return core.OK
}

func dtrValue(set bool) uint16 {
	if set {
		return 1
	}
	return 0
}
