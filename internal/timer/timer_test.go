package timer

import (
	"testing"
	"time"
)

// fakeClock hands the machine a controllable wall clock.
type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

// tick advances both the virtual clock and the countdown together.
func tick(m *Machine, c *fakeClock, d time.Duration) {
	steps := int(d / TickInterval)
	for i := 0; i < steps; i++ {
		c.Advance(TickInterval)
		m.Tick()
	}
}

func newTestMachine(c *fakeClock) *Machine {
	m := New(Config{
		Work:               25 * time.Minute,
		ShortBreak:         5 * time.Minute,
		LongBreak:          15 * time.Minute,
		CyclesPerLongBreak: 4,
	})
	m.Now = c.Now
	return m
}

func TestStartEntersWork(t *testing.T) {
	c := newFakeClock()
	m := newTestMachine(c)
	if m.Phase() != PhaseIdle {
		t.Fatalf("expected idle, got %s", m.Phase())
	}
	m.Start()
	if m.Phase() != PhaseWork || !m.Running() {
		t.Fatalf("expected running work, got %s running=%v", m.Phase(), m.Running())
	}
	if m.TimeLeft() != 25*time.Minute {
		t.Fatalf("expected 25m left, got %s", m.TimeLeft())
	}
}

func TestPhaseSequenceWithLongBreakEveryFourth(t *testing.T) {
	c := newFakeClock()
	m := newTestMachine(c)

	var sequence []Phase
	m.OnComplete = func(comp Completion) {
		sequence = append(sequence, comp.Phase)
	}
	m.Start()

	// Four full work/break rounds.
	for i := 0; i < 4; i++ {
		tick(m, c, 25*time.Minute)
		if i < 3 {
			if m.Phase() != PhaseShortBreak {
				t.Fatalf("round %d: expected short break, got %s", i, m.Phase())
			}
			tick(m, c, 5*time.Minute)
		}
	}
	if m.Phase() != PhaseLongBreak {
		t.Fatalf("expected long break after 4th work phase, got %s", m.Phase())
	}
	if m.Cycles() != 4 {
		t.Fatalf("expected 4 cycles, got %d", m.Cycles())
	}

	want := []Phase{PhaseWork, PhaseShortBreak, PhaseWork, PhaseShortBreak, PhaseWork, PhaseShortBreak, PhaseWork}
	if len(sequence) != len(want) {
		t.Fatalf("expected %d completions, got %v", len(want), sequence)
	}
	for i := range want {
		if sequence[i] != want[i] {
			t.Fatalf("completion %d: expected %s, got %s", i, want[i], sequence[i])
		}
	}
}

func TestWorkCompletionReportsWallClockFocus(t *testing.T) {
	c := newFakeClock()
	m := newTestMachine(c)
	var got Completion
	m.OnComplete = func(comp Completion) { got = comp }
	m.Start()

	// Pause for ten minutes mid-phase; that gap must not count as focus.
	tick(m, c, 10*time.Minute)
	m.Pause()
	c.Advance(10 * time.Minute)
	m.Start()
	tick(m, c, 15*time.Minute)

	if got.Phase != PhaseWork {
		t.Fatalf("expected work completion, got %s", got.Phase)
	}
	if got.Focused != 25*time.Minute {
		t.Fatalf("expected 25m focused, got %s", got.Focused)
	}
	if got.Cycles != 1 {
		t.Fatalf("expected cycle 1, got %d", got.Cycles)
	}
}

func TestExtendAddsToRemainingAndTotal(t *testing.T) {
	c := newFakeClock()
	m := newTestMachine(c)
	m.Start()
	tick(m, c, 20*time.Minute)

	m.Extend(5 * time.Minute)
	if m.TimeLeft() != 10*time.Minute {
		t.Fatalf("expected 10m left, got %s", m.TimeLeft())
	}
	if m.PhaseTotal() != 30*time.Minute {
		t.Fatalf("expected 30m total, got %s", m.PhaseTotal())
	}

	var got Completion
	m.OnComplete = func(comp Completion) { got = comp }
	tick(m, c, 10*time.Minute)
	if got.Focused != 30*time.Minute {
		t.Fatalf("expected 30m focused after extend, got %s", got.Focused)
	}
}

func TestExtendIgnoredWhenIdle(t *testing.T) {
	m := newTestMachine(newFakeClock())
	m.Extend(5 * time.Minute)
	if m.TimeLeft() != 0 || m.PhaseTotal() != 0 {
		t.Fatalf("idle extend should be a no-op, got left=%s total=%s", m.TimeLeft(), m.PhaseTotal())
	}
}

func TestSkipEndsPhaseImmediately(t *testing.T) {
	c := newFakeClock()
	m := newTestMachine(c)
	var got Completion
	m.OnComplete = func(comp Completion) { got = comp }
	m.Start()
	tick(m, c, 10*time.Minute)
	m.Skip()

	if got.Phase != PhaseWork {
		t.Fatalf("expected work completion, got %s", got.Phase)
	}
	if got.Focused != 10*time.Minute {
		t.Fatalf("skip should report elapsed focus, got %s", got.Focused)
	}
	if m.Phase() != PhaseShortBreak {
		t.Fatalf("expected short break after skip, got %s", m.Phase())
	}
}

func TestBreakCompletionCarriesNoFocus(t *testing.T) {
	c := newFakeClock()
	m := newTestMachine(c)
	m.Start()
	tick(m, c, 25*time.Minute)

	var got Completion
	m.OnComplete = func(comp Completion) { got = comp }
	tick(m, c, 5*time.Minute)
	if got.Phase != PhaseShortBreak {
		t.Fatalf("expected short break completion, got %s", got.Phase)
	}
	if got.Focused != 0 {
		t.Fatalf("break must not report focus, got %s", got.Focused)
	}
	if m.Phase() != PhaseWork {
		t.Fatalf("expected work after break, got %s", m.Phase())
	}
}

func TestPauseStopsCountdown(t *testing.T) {
	c := newFakeClock()
	m := newTestMachine(c)
	m.Start()
	tick(m, c, 5*time.Minute)
	m.Pause()

	left := m.TimeLeft()
	tick(m, c, 5*time.Minute)
	if m.TimeLeft() != left {
		t.Fatalf("paused machine ticked: %s -> %s", left, m.TimeLeft())
	}
	m.Start()
	tick(m, c, time.Minute)
	if m.TimeLeft() != left-time.Minute {
		t.Fatalf("resume did not continue countdown: %s", m.TimeLeft())
	}
}

func TestResetReturnsToIdle(t *testing.T) {
	c := newFakeClock()
	m := newTestMachine(c)
	m.Start()
	tick(m, c, 25*time.Minute)
	m.Reset()

	if m.Phase() != PhaseIdle || m.Running() || m.Cycles() != 0 {
		t.Fatalf("reset incomplete: phase=%s running=%v cycles=%d", m.Phase(), m.Running(), m.Cycles())
	}
	// A fresh run counts cycles from one again.
	m.Start()
	tick(m, c, 25*time.Minute)
	if m.Cycles() != 1 {
		t.Fatalf("expected cycle 1 after reset, got %d", m.Cycles())
	}
}

func TestLongBreakCadenceSurvivesMultipleRounds(t *testing.T) {
	c := newFakeClock()
	m := newTestMachine(c)
	m.Start()
	longBreaks := 0
	m.OnComplete = func(comp Completion) {}

	for cycle := 1; cycle <= 8; cycle++ {
		tick(m, c, 25*time.Minute)
		if m.Phase() == PhaseLongBreak {
			longBreaks++
			if cycle%4 != 0 {
				t.Fatalf("long break after cycle %d", cycle)
			}
			tick(m, c, 15*time.Minute)
		} else {
			tick(m, c, 5*time.Minute)
		}
	}
	if longBreaks != 2 {
		t.Fatalf("expected 2 long breaks in 8 cycles, got %d", longBreaks)
	}
}
