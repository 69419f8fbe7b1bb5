// Package timer drives the work/break phase machine for a focus session.
// The machine never owns time: ticks arrive from a Scheduler and wall-clock
// readings go through an injectable Now hook, so tests run on a virtual
// clock.
package timer

import (
	"sync"
	"time"
)

// Phase is one discrete segment of the work/break cycle.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseWork       Phase = "work"
	PhaseShortBreak Phase = "short_break"
	PhaseLongBreak  Phase = "long_break"
)

// TickInterval is the fixed countdown step.
const TickInterval = time.Second

// Config holds phase durations.
type Config struct {
	Work               time.Duration
	ShortBreak         time.Duration
	LongBreak          time.Duration
	CyclesPerLongBreak int
}

// DefaultConfig mirrors the classic 25/5/15 pomodoro split.
func DefaultConfig() Config {
	return Config{
		Work:               25 * time.Minute,
		ShortBreak:         5 * time.Minute,
		LongBreak:          15 * time.Minute,
		CyclesPerLongBreak: 4,
	}
}

// Completion is emitted when a phase ends, naturally or via Skip. For Work
// phases Focused carries wall-clock elapsed time (not the nominal duration),
// so Extend is accounted correctly. The phase lets the host pick a distinct
// notification per block kind.
type Completion struct {
	Phase   Phase
	Focused time.Duration
	Cycles  int
}

// Machine advances through Idle/Work/ShortBreak/LongBreak. Paused is a flag,
// not a phase. Safe for use from a scheduler goroutine plus a caller.
type Machine struct {
	mu  sync.Mutex
	cfg Config

	Now        func() time.Time
	OnComplete func(Completion)

	phase        Phase
	running      bool
	timeLeft     time.Duration
	phaseTotal   time.Duration
	cycles       int
	elapsed      time.Duration // accumulated across pauses
	segmentStart time.Time
}

// New returns an idle machine with the given config.
func New(cfg Config) *Machine {
	if cfg.Work <= 0 {
		cfg = DefaultConfig()
	}
	if cfg.CyclesPerLongBreak <= 0 {
		cfg.CyclesPerLongBreak = 4
	}
	return &Machine{cfg: cfg, Now: time.Now, phase: PhaseIdle}
}

func (m *Machine) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

// Start enters Work from Idle, or resumes a paused phase. Starting an
// already running machine is a no-op.
func (m *Machine) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase == PhaseIdle {
		m.enter(PhaseWork)
		m.running = true
		return
	}
	if !m.running {
		m.running = true
		m.segmentStart = m.now()
	}
}

// Pause stops the countdown without leaving the phase.
func (m *Machine) Pause() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}
	m.elapsed += m.now().Sub(m.segmentStart)
	m.running = false
}

// Tick advances the countdown by one interval. Reaching zero completes the
// phase through the same path as Skip.
func (m *Machine) Tick() {
	m.mu.Lock()
	if !m.running || m.phase == PhaseIdle {
		m.mu.Unlock()
		return
	}
	m.timeLeft -= TickInterval
	if m.timeLeft > 0 {
		m.mu.Unlock()
		return
	}
	m.completeLocked()
}

// Skip ends the current phase immediately. No-op from Idle.
func (m *Machine) Skip() {
	m.mu.Lock()
	if m.phase == PhaseIdle {
		m.mu.Unlock()
		return
	}
	m.completeLocked()
}

// completeLocked finishes the current phase, emits a Completion, and enters
// the next phase. Releases the lock before invoking OnComplete so the
// callback may call back into the machine.
func (m *Machine) completeLocked() {
	finished := m.phase
	focused := time.Duration(0)
	if m.running {
		m.elapsed += m.now().Sub(m.segmentStart)
	}
	if finished == PhaseWork {
		focused = m.elapsed
		m.cycles++
	}
	cycles := m.cycles

	next := PhaseWork
	if finished == PhaseWork {
		if m.cycles%m.cfg.CyclesPerLongBreak == 0 {
			next = PhaseLongBreak
		} else {
			next = PhaseShortBreak
		}
	}
	wasRunning := m.running
	m.enter(next)
	m.running = wasRunning
	cb := m.OnComplete
	m.mu.Unlock()

	if cb != nil {
		cb(Completion{Phase: finished, Focused: focused, Cycles: cycles})
	}
}

func (m *Machine) enter(p Phase) {
	m.phase = p
	switch p {
	case PhaseWork:
		m.phaseTotal = m.cfg.Work
	case PhaseShortBreak:
		m.phaseTotal = m.cfg.ShortBreak
	case PhaseLongBreak:
		m.phaseTotal = m.cfg.LongBreak
	default:
		m.phaseTotal = 0
	}
	m.timeLeft = m.phaseTotal
	m.elapsed = 0
	m.segmentStart = m.now()
}

// Reset returns to Idle and clears the cycle count for the run.
func (m *Machine) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.phase = PhaseIdle
	m.running = false
	m.timeLeft = 0
	m.phaseTotal = 0
	m.cycles = 0
	m.elapsed = 0
}

// Extend adds d to both the remaining time and the phase's nominal total.
// Legal from any non-Idle phase.
func (m *Machine) Extend(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase == PhaseIdle || d <= 0 {
		return
	}
	m.timeLeft += d
	m.phaseTotal += d
}

func (m *Machine) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

func (m *Machine) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Machine) TimeLeft() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.timeLeft
}

// PhaseTotal is the nominal phase length including extensions; the progress
// bar denominator.
func (m *Machine) PhaseTotal() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phaseTotal
}

func (m *Machine) Cycles() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cycles
}
