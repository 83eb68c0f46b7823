package core

import (
	"log"
	"time"
)

// Mask selects which of a stage's roles the scheduler should drive.
type Mask uint8

const (
	MaskTask   Mask = 1 << iota // drive Tick() every round
	MaskSignal                  // deliver broadcast signals via Signal()
)

// Scheduler is the single-threaded, cooperative, round-robin dispatcher
// that drives every stage in the pipeline. No stage it drives may
// block; back-pressure is expressed entirely through REJECTED results,
// retried on a later round.
type Scheduler struct {
	tasks     []Ticker
	signalers []Signaler
	queue     []Event
	lastTick  time.Time
	ticks     uint64
	cycleUs   uint32
}

// NewScheduler builds an empty scheduler. Call Register for every stage
// before the first Run.
func NewScheduler() *Scheduler {
	return &Scheduler{lastTick: time.Now(), cycleUs: 1}
}

// Register adds stage to the task list, the signal list, or both,
// according to mask. stage must implement Ticker and/or Signaler as
// requested by mask; a mismatch is a programming error and panics
// immediately rather than silently skipping registration.
func (s *Scheduler) Register(stage interface{}, mask Mask) {
	if mask&MaskTask != 0 {
		t, ok := stage.(Ticker)
		if !ok {
			panic("core: Register with MaskTask on a stage that does not implement Ticker")
		}
		s.tasks = append(s.tasks, t)
	}
	if mask&MaskSignal != 0 {
		sg, ok := stage.(Signaler)
		if !ok {
			panic("core: Register with MaskSignal on a stage that does not implement Signaler")
		}
		s.signalers = append(s.signalers, sg)
	}
}

// Broadcast enqueues a signal; every queued signal is delivered to all
// signalers before the next round begins.
func (s *Scheduler) Broadcast(event Event) {
	s.queue = append(s.queue, event)
}

// CycleTimeUs returns the microsecond delta measured by the most recent
// RunOnce, never zero.
func (s *Scheduler) CycleTimeUs() uint32 {
	return s.cycleUs
}

// Ticks returns the number of rounds completed so far.
func (s *Scheduler) Ticks() uint64 {
	return s.ticks
}

// RunOnce drives a single round: update cycle time, tick every task,
// then drain the signal queue. Run calls this in a loop; tests call it
// directly for deterministic single-step control.
func (s *Scheduler) RunOnce() {
	now := time.Now()
	delta := now.Sub(s.lastTick).Microseconds()
	if delta <= 0 {
		delta = 1
	}
	s.cycleUs = uint32(delta)
	s.lastTick = now

	for _, t := range s.tasks {
		if res := t.Tick(); res.Code == Rejected {
			// Rejection here means the stage itself could not make
			// progress this round; it is expected to retain whatever
			// event it was holding and retry next round, not an error.
			_ = res
		}
	}

	if len(s.queue) > 0 {
		pending := s.queue
		s.queue = nil
		for _, event := range pending {
			for _, sg := range s.signalers {
				if res := sg.Signal(event); res.Code == Rejected {
					log.Printf("core: signal %+v rejected by a subscriber", event)
				}
			}
		}
	}

	s.ticks++
}

// Run drives the scheduler forever. stop, if non-nil, is checked once
// per round and ends the loop when it returns true.
func (s *Scheduler) Run(stop func() bool) {
	for {
		if stop != nil && stop() {
			return
		}
		s.RunOnce()
	}
}
