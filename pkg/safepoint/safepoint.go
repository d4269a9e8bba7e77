// Package safepoint implements a cooperative global quiescence point.
//
// Goroutines that take part join the Coordinator and are then either running
// or blocked. A running participant is unsafe: it may touch shared profiling
// state at any moment. A blocked participant (waiting on a lock, a condition,
// or gone for good) is safe. Synchronize waits until no participant is
// running, runs an operation, and only then lets participants resume, so the
// operation observes a frozen world.
package safepoint

import (
	"sync"
	"sync/atomic"

	"github.com/srodi/csprof/pkg/guarantee"
)

// Coordinator brings all participants to a halt on request.
type Coordinator struct {
	mu      sync.Mutex
	cond    *sync.Cond
	active  bool
	running int
	joined  int

	pending atomic.Bool
	count   atomic.Uint64
}

// NewCoordinator returns a Coordinator with no participants.
func NewCoordinator() *Coordinator {
	c := &Coordinator{}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Synchronize blocks until every participant is safe, runs op, and releases
// the participants. Requests are serialized. The caller must not be a running
// participant, or it would wait on itself; use Participant.Synchronize.
//
// There is no timeout: the request completes once every running participant
// reaches a lock transition, a Poll, or Leave.
func (c *Coordinator) Synchronize(op func()) {
	c.mu.Lock()
	for c.active {
		c.cond.Wait()
	}
	c.active = true
	c.pending.Store(true)
	for c.running > 0 {
		c.cond.Wait()
	}
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.active = false
		c.pending.Store(false)
		c.count.Add(1)
		c.cond.Broadcast()
		c.mu.Unlock()
	}()
	op()
}

// Pending reports whether a quiescence request is in flight.
func (c *Coordinator) Pending() bool {
	return c.pending.Load()
}

// Count returns how many quiescence points have completed.
func (c *Coordinator) Count() uint64 {
	return c.count.Load()
}

// Running returns the number of participants currently in the running state.
func (c *Coordinator) Running() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Joined returns the number of participants that have joined and not left.
func (c *Coordinator) Joined() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.joined
}

type state uint8

const (
	stateRunning state = iota
	stateBlocked
	stateLeft
)

// Participant is one goroutine's membership. Its methods must only be called
// from the goroutine that joined.
type Participant struct {
	c     *Coordinator
	state state
}

// Join registers the calling goroutine in the running state, waiting first if
// a quiescence point is in progress.
func (c *Coordinator) Join() *Participant {
	c.mu.Lock()
	for c.active {
		c.cond.Wait()
	}
	c.running++
	c.joined++
	c.mu.Unlock()
	return &Participant{c: c, state: stateRunning}
}

// Block moves the participant to the safe state ahead of a blocking call.
func (p *Participant) Block() {
	guarantee.That(p.state == stateRunning, "safepoint: block from state %d", p.state)
	p.state = stateBlocked
	p.c.release()
}

// Unblock returns the participant to the running state. If a quiescence point
// is in progress it waits for the operation to finish first.
func (p *Participant) Unblock() {
	guarantee.That(p.state == stateBlocked, "safepoint: unblock from state %d", p.state)
	p.c.mu.Lock()
	for p.c.active {
		p.c.cond.Wait()
	}
	p.c.running++
	p.c.mu.Unlock()
	p.state = stateRunning
}

// Poll parks the participant if a quiescence point has been requested.
func (p *Participant) Poll() {
	if p.state != stateRunning || !p.c.pending.Load() {
		return
	}
	p.Block()
	p.Unblock()
}

// Synchronize requests a quiescence point from inside a participant.
func (p *Participant) Synchronize(op func()) {
	wasRunning := p.state == stateRunning
	if wasRunning {
		p.Block()
	}
	p.c.Synchronize(op)
	if wasRunning {
		p.Unblock()
	}
}

// Leave removes the participant for good. Calling it twice is a no-op.
func (p *Participant) Leave() {
	switch p.state {
	case stateLeft:
		return
	case stateRunning:
		p.c.release()
	}
	p.c.mu.Lock()
	p.c.joined--
	p.c.mu.Unlock()
	p.state = stateLeft
}

func (c *Coordinator) release() {
	c.mu.Lock()
	c.running--
	if c.active && c.running == 0 {
		c.cond.Broadcast()
	}
	c.mu.Unlock()
}
