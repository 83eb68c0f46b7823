package core

// Stage is the single contract every pipe, filter, and endpoint
// implements: accept one event, synchronously, and say whether it stuck.
type Stage interface {
	Send(event Event) Result
}

// Ticker is implemented by stages the scheduler must drive periodically
// (endpoints polling hardware, filters retrying withheld events, pipes
// draining their buffer). Tick must never block.
type Ticker interface {
	Tick() Result
}

// Signaler is implemented by stages that react to broadcast signals
// (e.g. SIGNAL(USER_SETTINGS_CHANGED)).
type Signaler interface {
	Signal(event Event) Result
}

// Out gives a stage a single downstream neighbor, making "A >> B"
// ("connect the output of A to B") expressible as out.Set(b).
type Out struct {
	next Stage
}

// Set assigns the downstream stage.
func (o *Out) Set(s Stage) {
	o.next = s
}

// Send forwards to the downstream stage, or accepts silently if none is
// connected yet (useful while wiring a graph incrementally).
func (o *Out) Send(event Event) Result {
	if o.next == nil {
		return OK
	}
	return o.next.Send(event)
}
