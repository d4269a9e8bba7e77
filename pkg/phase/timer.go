// Package phase tracks the measured interval of the application: when it
// started and how long it has run at the latest phase close.
package phase

import (
	"errors"
	"fmt"
	"sync"

	"github.com/srodi/csprof/pkg/guarantee"
)

// State is the timer's lifecycle position.
type State int

const (
	Uninitialized State = iota
	Running
	Closed
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Running:
		return "running"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var (
	// ErrNotStarted is returned when a phase is closed before the application started.
	ErrNotStarted = errors.New("phase timer not started")
	// ErrClosed is returned when the timer was already stopped.
	ErrClosed = errors.New("phase timer closed")
)

// Timer records the application start and the elapsed totals. Every close
// measures from the single application start, not from the previous close.
type Timer struct {
	mu            sync.Mutex
	state         State
	startCycles   uint64
	startMillis   int64
	elapsedCycles uint64
	elapsedMillis int64
	closes        int
}

// Start records the application start. Starting twice is fatal.
func (t *Timer) Start(cycles uint64, millis int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	guarantee.That(t.state == Uninitialized, "phase: start from %s", t.state)
	t.startCycles = cycles
	t.startMillis = millis
	t.state = Running
}

// Close overwrites the elapsed totals with the time since start.
func (t *Timer) Close(cycles uint64, millis int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closeLocked(cycles, millis)
}

// Stop closes the phase one last time and moves the timer to Closed.
func (t *Timer) Stop(cycles uint64, millis int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.closeLocked(cycles, millis); err != nil {
		return err
	}
	t.state = Closed
	return nil
}

func (t *Timer) closeLocked(cycles uint64, millis int64) error {
	switch t.state {
	case Uninitialized:
		return ErrNotStarted
	case Closed:
		return ErrClosed
	}
	guarantee.That(cycles >= t.startCycles, "phase: cycle counter went backwards (start %d, now %d)", t.startCycles, cycles)
	t.elapsedCycles = cycles - t.startCycles
	// The wall clock may be stepped back; elapsed millis never go negative.
	t.elapsedMillis = max(millis-t.startMillis, 0)
	t.closes++
	return nil
}

// State returns the lifecycle position.
func (t *Timer) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// StartReading returns the recorded application start.
func (t *Timer) StartReading() (cycles uint64, millis int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.startCycles, t.startMillis
}

// Elapsed returns the totals of the latest close. ok is false until the
// first close.
func (t *Timer) Elapsed() (cycles uint64, millis int64, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.elapsedCycles, t.elapsedMillis, t.closes > 0
}
