package core

import "testing"

type fakeTask struct {
	ticks int
	res   Result
}

func (f *fakeTask) Tick() Result {
	f.ticks++
	return f.res
}

type fakeSignaler struct {
	received []Event
	res      Result
}

func (f *fakeSignaler) Signal(event Event) Result {
	f.received = append(f.received, event)
	return f.res
}

func TestRegisterPanicsOnMaskMismatch(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected Register to panic when the mask doesn't match the stage's interfaces")
		}
	}()
	s := NewScheduler()
	s.Register(&fakeSignaler{}, MaskTask)
}

func TestRunOnceTicksEveryRegisteredTask(t *testing.T) {
	s := NewScheduler()
	a := &fakeTask{res: OK}
	b := &fakeTask{res: OK}
	s.Register(a, MaskTask)
	s.Register(b, MaskTask)

	s.RunOnce()

	if a.ticks != 1 || b.ticks != 1 {
		t.Fatalf("expected both tasks ticked once, got a=%d b=%d", a.ticks, b.ticks)
	}
	if s.Ticks() != 1 {
		t.Fatalf("Ticks() = %d, want 1", s.Ticks())
	}
	if s.CycleTimeUs() == 0 {
		t.Fatalf("CycleTimeUs() = 0, want a positive delta")
	}
}

func TestBroadcastIsDeliveredAtEndOfRound(t *testing.T) {
	s := NewScheduler()
	sg := &fakeSignaler{res: OK}
	s.Register(sg, MaskSignal)

	s.Broadcast(SignalEvent(SignalUserSettingsChanged))
	if len(sg.received) != 0 {
		t.Fatalf("signal delivered before RunOnce")
	}

	s.RunOnce()

	if len(sg.received) != 1 || sg.received[0].Subtype != SignalUserSettingsChanged {
		t.Fatalf("expected exactly one USER_SETTINGS_CHANGED signal, got %+v", sg.received)
	}
}

func TestBroadcastQueueIsDrainedEachRound(t *testing.T) {
	s := NewScheduler()
	sg := &fakeSignaler{res: OK}
	s.Register(sg, MaskSignal)

	s.Broadcast(SignalEvent(SignalUserSettingsChanged))
	s.RunOnce()
	s.RunOnce()

	if len(sg.received) != 1 {
		t.Fatalf("expected the queued signal delivered exactly once across two rounds, got %d", len(sg.received))
	}
}

func TestRunStopsWhenStopFuncReturnsTrue(t *testing.T) {
	s := NewScheduler()
	a := &fakeTask{res: OK}
	s.Register(a, MaskTask)

	s.Run(func() bool { return a.ticks >= 3 })

	if a.ticks != 3 {
		t.Fatalf("Run ticked %d times, want exactly 3", a.ticks)
	}
}
