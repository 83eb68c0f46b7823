package status

import "testing"

type fakeDriver struct {
	calls []struct {
		on    bool
		color Color
	}
}

func (f *fakeDriver) Set(on bool, color Color) {
	f.calls = append(f.calls, struct {
		on    bool
		color Color
	}{on, color})
}

func (f *fakeDriver) last() (bool, Color) {
	c := f.calls[len(f.calls)-1]
	return c.on, c.color
}

func TestIdleIsSteadyYellow(t *testing.T) {
	d := &fakeDriver{}
	a := New(d)
	a.Tick()
	on, color := d.last()
	if !on || color != ColorYellow {
		t.Fatalf("expected steady yellow, got on=%v color=%v", on, color)
	}
}

func TestUSBConnectedIsSteadyGreen(t *testing.T) {
	d := &fakeDriver{}
	a := New(d)
	a.SetMain(StateUSBConnected)
	a.Tick()
	on, color := d.last()
	if !on || color != ColorGreen {
		t.Fatalf("expected steady green, got on=%v color=%v", on, color)
	}
}

func TestUSBReadyAlternatesYellowAndGreen(t *testing.T) {
	d := &fakeDriver{}
	a := New(d)
	a.SetMain(StateUSBReady)
	for i := 0; i < slowAlternateHalfPeriod; i++ {
		a.Tick()
	}
	_, first := d.last()
	for i := 0; i < slowAlternateHalfPeriod; i++ {
		a.Tick()
	}
	_, second := d.last()
	if first == second {
		t.Fatalf("expected the color to alternate across half-periods, got %v twice", first)
	}
}

func TestStorageActiveFlashesBlue(t *testing.T) {
	d := &fakeDriver{}
	a := New(d)
	a.SetMain(StateStorageActive)
	sawOn, sawOff := false, false
	for i := 0; i < flashHalfPeriod*4; i++ {
		a.Tick()
		on, color := d.last()
		if color != ColorBlue {
			t.Fatalf("expected blue throughout storage-active, got %v", color)
		}
		if on {
			sawOn = true
		} else {
			sawOff = true
		}
	}
	if !sawOn || !sawOff {
		t.Fatalf("expected the flash to toggle on and off, sawOn=%v sawOff=%v", sawOn, sawOff)
	}
}

func TestOverrideExpiresAfterDuration(t *testing.T) {
	d := &fakeDriver{}
	a := New(d)
	a.SetMain(StateIdle)
	a.Override(StateError, 3)

	for i := 0; i < 3; i++ {
		a.Tick()
		_, color := d.last()
		if color != ColorRed {
			t.Fatalf("expected the override active on tick %d, got %v", i, color)
		}
	}
	a.Tick()
	_, color := d.last()
	if color != ColorYellow {
		t.Fatalf("expected the override to have expired back to idle, got %v", color)
	}
}
