// Package uart is the handheld-facing UART endpoint: the hardware serial
// line the Newton's own modem port is wired to. Grounded on
// pkg/usock/usock.go's open/configure pattern (clear-then-open, a
// background read loop feeding a channel) adapted from USOCK's
// synchronous callback style to this bridge's Stage/Ticker contract.
package uart

import (
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/tarm/serial"

	"github.com/robowerk/newt-dongle/pkg/core"
)

const rxBufferSize = 256

// port is the subset of *serial.Port this endpoint uses, broken out so
// tests can substitute a fake without a real hardware device.
type port interface {
	io.Reader
	io.Writer
	Close() error
}

// Endpoint owns the handheld-facing serial port: it writes DATA events
// out to the wire, reads bytes back off it, and reopens the port at a
// new rate on SET_BITRATE, implementing the uart_send/uart_try_recv/
// uart_set_bitrate collaborator interface.
type Endpoint struct {
	Out core.Out

	device string
	baud   int
	mu     sync.Mutex
	port   port

	rx       chan byte
	pending  *core.Event
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// New opens the handheld UART at the given device and baud rate, in the
// style of usock.New: first open-then-close at a default rate to clear
// any stale line attributes, then reopen for real at the requested baud.
func New(device string, baud int) (*Endpoint, error) {
	if err := clearAttributes(device); err != nil {
		return nil, fmt.Errorf("uart: failed to clear attributes: %w", err)
	}
	p, err := openPort(device, baud)
	if err != nil {
		return nil, fmt.Errorf("uart: failed to open %s: %w", device, err)
	}
	e := &Endpoint{
		device:   device,
		baud:     baud,
		port:     p,
		rx:       make(chan byte, rxBufferSize),
		stopChan: make(chan struct{}),
	}
	e.wg.Add(1)
	go e.readLoop()
	return e, nil
}

func openPort(device string, baud int) (*serial.Port, error) {
	return serial.OpenPort(&serial.Config{
		Name:        device,
		Baud:        baud,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
		ReadTimeout: 0,
	})
}

func clearAttributes(device string) error {
	p, err := serial.OpenPort(&serial.Config{Name: device, Baud: 9600, Size: 8, ReadTimeout: 0})
	if err != nil {
		return err
	}
	if err := p.Close(); err != nil {
		return err
	}
	time.Sleep(100 * time.Millisecond)
	return nil
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
				log.Printf("uart: read error: %v", err)
				time.Sleep(10 * time.Millisecond)
			}
			continue
		}
		if n == 0 {
			continue
		}
		select {
		case e.rx <- buf[0]:
		default:
			log.Printf("uart: receive buffer full, dropping byte")
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

// Send implements core.Stage: DATA bytes go out over the wire,
// SET_BITRATE reopens the port at the new rate (uart_set_bitrate).
func (e *Endpoint) Send(event core.Event) core.Result {
	switch event.Type {
	case core.TypeData:
		e.mu.Lock()
		_, err := e.port.Write([]byte{event.Byte()})
		e.mu.Unlock()
		if err != nil {
			log.Printf("uart: write error: %v", err)
			return core.RejectNotConnected
		}
		return core.OK
	case core.TypeSetBitrate:
		if int(event.Subtype) < len(core.BitrateTable) {
			if err := e.setBitrate(int(core.BitrateTable[event.Subtype])); err != nil {
				log.Printf("uart: failed to change bitrate: %v", err)
			}
		}
		return core.OK
	}
	return core.OK
}

func (e *Endpoint) setBitrate(baud int) error {
	p, err := openPort(e.device, baud)
	if err != nil {
		return err
	}
	e.mu.Lock()
	old := e.port
	e.port = p
	e.baud = baud
	e.mu.Unlock()
	return old.Close()
}

// SetFlowPin is the uart_set_flow_pin collaborator method. tarm/serial
// exposes no modem-control-line API, so this is logged rather than
// acted on; physical-layer flow control is out of scope here.
func (e *Endpoint) SetFlowPin(asserted bool) {
	log.Printf("uart: set flow pin: %v (no-op, tarm/serial has no RTS/DTR control)", asserted)
}

// Tick implements core.Ticker: drains at most one received byte per
// round toward Out, buffering it locally if downstream rejects so no
// byte is lost across ticks.
func (e *Endpoint) Tick() core.Result {
	if e.pending != nil {
		res := e.Out.Send(*e.pending)
		if !res.Ok() {
			return res
		}
		e.pending = nil
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
