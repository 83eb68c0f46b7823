// Command newt-dongle wires the bridge's collaborators together and
// drives the scheduler: flag-based configuration, construct-then-wire,
// run until SIGINT/SIGTERM.
package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/robowerk/newt-dongle/pkg/core"
	"github.com/robowerk/newt-dongle/pkg/dock"
	"github.com/robowerk/newt-dongle/pkg/hayes"
	"github.com/robowerk/newt-dongle/pkg/mnp"
	"github.com/robowerk/newt-dongle/pkg/pipe"
	"github.com/robowerk/newt-dongle/pkg/router"
	"github.com/robowerk/newt-dongle/pkg/settings"
	"github.com/robowerk/newt-dongle/pkg/status"
	"github.com/robowerk/newt-dongle/pkg/storage"
	"github.com/robowerk/newt-dongle/pkg/telemetry"
	"github.com/robowerk/newt-dongle/pkg/uart"
	"github.com/robowerk/newt-dongle/pkg/usbcdc"
)

var (
	uartDevice = flag.String("uart", "/dev/ttymxc1", "Handheld-facing UART device path")
	uartBaud   = flag.Int("uart-baud", 38400, "Handheld-facing UART baud rate")
	cdcDevice  = flag.String("cdc", "/dev/ttyGS0", "Host-facing USB CDC device path")
	cdcBaud    = flag.Int("cdc-baud", 115200, "Host-facing USB CDC baud rate")

	storageRoot  = flag.String("storage-root", "/media/card", "Removable storage card root directory")
	storageLabel = flag.String("storage-label", "NEWTON SD", "Label reported for the [GL command")

	redisAddr = flag.String("redis-addr", "localhost:6379", "Redis server address")
	redisPass = flag.String("redis-pass", "", "Redis password")
	redisDB   = flag.Int("redis-db", 0, "Redis database number")

	framePoolSize = flag.Int("mnp-pool-size", mnp.DefaultPoolSize, "Number of preallocated MNP frames")
)

// hayesModemSide adapts hayes.Engine's FromModem (bytes arriving from
// the MNP/Dock stack, bound for the physical line) to core.Stage so it
// can sit at router.ToPhysical.
type hayesModemSide struct{ e *hayes.Engine }

func (h hayesModemSide) Send(event core.Event) core.Result {
	if event.Type != core.TypeData {
		return core.OK
	}
	return h.e.FromModem(event.Byte())
}

// hayesUserSide adapts hayes.Engine's FromUser (bytes arriving from the
// handheld's physical line) to core.Stage so it can sit at the UART
// endpoint's Out.
type hayesUserSide struct{ e *hayes.Engine }

func (h hayesUserSide) Send(event core.Event) core.Result {
	if event.Type != core.TypeData {
		return core.OK
	}
	return h.e.FromUser(event.Byte())
}

// dockMNPNotify adapts mnp.Session's MNP(subtype) lifecycle events to
// dock.Engine.HandleMNP, and mirrors session-state transitions to
// telemetry when a Redis connection is available.
type dockMNPNotify struct {
	engine *dock.Engine
	telem  *telemetry.Client
}

func (d dockMNPNotify) Send(event core.Event) core.Result {
	if event.Type != core.TypeMNP {
		return core.OK
	}
	d.engine.HandleMNP(event.Subtype)
	if d.telem != nil {
		if state, ok := mnpStateName(event.Subtype); ok {
			if err := d.telem.PublishMNPState(state); err != nil {
				log.Printf("telemetry: publish MNP state: %v", err)
			}
		}
	}
	return core.OK
}

// cdcUpstream adapts the USB CDC endpoint's single Out into the two
// destinations a CDC event can need: a DTR/DCD change updates the
// router's routing state directly (rt.Send), while a data byte is
// gated through CDCSide so it only reaches the handheld line while the
// host currently owns the wire. It also drives the status LED's
// USB-ready/USB-connected/idle indication from the same events, since
// main.go is the only place that sees both the DTR edge and the
// forwarded traffic.
type cdcUpstream struct {
	rt    *router.Router
	led   *status.Animator
	telem *telemetry.Client
}

func (c cdcUpstream) Send(event core.Event) core.Result {
	if event.Type == core.TypeUART && event.Subtype == core.UARTDTR {
		if event.Data != 0 {
			c.led.SetMain(status.StateUSBReady)
			c.publishLED("yellow-green")
		} else {
			c.led.SetMain(status.StateIdle)
			c.publishLED("yellow")
		}
		return c.rt.Send(event)
	}
	res := c.rt.CDCSide().Send(event)
	if res.Ok() {
		c.led.SetMain(status.StateUSBConnected)
		c.publishLED("green")
	}
	return res
}

func (c cdcUpstream) publishLED(color string) {
	if c.telem == nil {
		return
	}
	if err := c.telem.PublishLEDState(color, true); err != nil {
		log.Printf("telemetry: publish LED state: %v", err)
	}
}

func mnpStateName(subtype uint8) (string, bool) {
	switch subtype {
	case core.MNPConnected:
		return "connected", true
	case core.MNPDisconnected:
		return "disconnected", true
	case core.MNPNegotiating:
		return "negotiating", true
	default:
		return "", false
	}
}

func main() {
	flag.Parse()

	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)
	log.Printf("Starting newt-dongle bridge")
	log.Printf("Handheld UART: %s @ %d", *uartDevice, *uartBaud)
	log.Printf("USB CDC: %s @ %d", *cdcDevice, *cdcBaud)
	log.Printf("Storage root: %s", *storageRoot)
	log.Printf("Redis address: %s", *redisAddr)

	set := settings.New(*redisAddr, *redisPass, *redisDB)

	telem, err := telemetry.New(*redisAddr, *redisPass, *redisDB)
	if err != nil {
		log.Printf("telemetry: redis unavailable (%v), running without it", err)
		telem = nil
	} else {
		defer telem.Close()
		log.Printf("telemetry: connected to redis")
	}

	uartEndpoint, err := uart.New(*uartDevice, *uartBaud)
	if err != nil {
		log.Fatalf("Failed to open handheld UART: %v", err)
	}
	defer uartEndpoint.Close()
	log.Printf("Opened handheld UART")

	cdcEndpoint, err := usbcdc.New(*cdcDevice, *cdcBaud)
	if err != nil {
		log.Fatalf("Failed to open USB CDC device: %v", err)
	}
	defer cdcEndpoint.Close()
	log.Printf("Opened USB CDC device")

	card := storage.New(*storageRoot, *storageLabel)

	sched := core.NewScheduler()

	hayesEngine := hayes.New(0, set, sched)
	hayesEngine.SDCard = card

	pool := mnp.NewPool(*framePoolSize)
	session := mnp.NewSession(pool, sched)

	dockEngine := dock.NewEngine(card)

	throttle := router.NewThrottle(set)
	upPipe := pipe.New(pipe.DefaultRingSizePow2)

	rt := router.NewRouter()

	led := status.New(ledDriver{})

	// Downstream: handheld UART -> Hayes -> Router -> {MNP session, USB CDC}.
	uartEndpoint.Out.Set(hayesUserSide{hayesEngine})
	hayesEngine.ToModem.Set(rt)
	rt.ToDock.Set(session.LineIn())
	rt.ToCDC.Set(cdcEndpoint)

	// Upstream: MNP session -> throttle -> buffered pipe -> Router -> Hayes -> UART.
	session.SetLineOut(throttle)
	throttle.Out.Set(upPipe)
	upPipe.SetOut(rt.DockSide())
	rt.ToPhysical.Set(hayesModemSide{hayesEngine})
	hayesEngine.ToUser.Set(uartEndpoint)

	// USB CDC passthrough rejoins the same physical-side path when DTR is
	// set; DTR/DCD changes update the router directly instead.
	cdcEndpoint.Out.Set(cdcUpstream{rt: rt, led: led, telem: telem})

	// Dock protocol sits above the MNP session.
	session.DockOut.Set(dockMNPNotify{engine: dockEngine, telem: telem})
	session.OnDockData = dockEngine.Feed
	dockEngine.Out.Set(session)

	sched.Register(uartEndpoint, core.MaskTask)
	sched.Register(cdcEndpoint, core.MaskTask)
	sched.Register(hayesEngine, core.MaskTask|core.MaskSignal)
	sched.Register(session, core.MaskTask)
	sched.Register(dockEngine, core.MaskTask)
	sched.Register(throttle, core.MaskSignal)
	sched.Register(upPipe, core.MaskTask)
	sched.Register(led, core.MaskTask)

	log.Printf("Scheduler wired, entering run loop")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	var stop atomic.Bool
	go func() {
		<-sigCh
		log.Printf("Shutting down...")
		stop.Store(true)
	}()

	sched.Run(stop.Load)
}

// ledDriver is a placeholder Driver until a real GPIO/LED backend is
// wired in; it exists so the status animator has somewhere to run.
type ledDriver struct{}

func (ledDriver) Set(on bool, color status.Color) {}
