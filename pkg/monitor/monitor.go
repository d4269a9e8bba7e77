// Package monitor provides instrumented monitors: a mutex with an attached
// condition whose contention is measured in cycles, per phase and in total.
//
// Monitor contention time is the time during which at least one goroutine is
// waiting to enter the monitor. Overlapping waiters are counted once, so a
// monitor can never be contended for longer than the application has run.
package monitor

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/srodi/csprof/pkg/clock"
	"github.com/srodi/csprof/pkg/types"
)

// Thread is the per-goroutine accounting the monitor feeds. *threads.Thread
// implements it. A nil Thread disables per-thread accounting.
type Thread interface {
	AddCSTime(cycles uint64)
	AddWaitTime(cycles uint64)
	EnterCS(now uint64)
	ExitCS()
	Block()
	Unblock()
	Poll()
}

// Monitor is a mutual exclusion lock with wait/notify. Create monitors with
// Pool.New; the zero value is not usable.
type Monitor struct {
	mu   sync.Mutex
	cond *sync.Cond

	pool  *Pool
	ref   slotRef
	id    uint64
	label string

	lockEvents atomic.Uint64
	waitEvents atomic.Uint64

	stat struct {
		sync.Mutex
		waiters     int
		since       uint64
		epoch       uint64
		phase       uint64
		accumulated uint64
		stack       []uintptr
	}
}

// ID returns the monitor's pool-unique id.
func (m *Monitor) ID() uint64 { return m.id }

// Label returns the display label of the synchronized object's type.
func (m *Monitor) Label() string { return m.label }

// Lock enters the monitor on behalf of th.
func (m *Monitor) Lock(th Thread) {
	m.countLock()
	if m.mu.TryLock() {
		m.entered(th, clock.Cycles())
		return
	}

	start := clock.Cycles()
	m.contend(start)
	if th != nil {
		th.Block()
	}
	m.mu.Lock()
	end := clock.Cycles()
	m.uncontend(end)
	if th != nil {
		if end > start {
			th.AddCSTime(end - start)
		}
		th.Unblock()
	}
	m.entered(th, end)
}

// TryLock enters the monitor only if it is free.
func (m *Monitor) TryLock(th Thread) bool {
	if !m.mu.TryLock() {
		return false
	}
	m.countLock()
	m.entered(th, clock.Cycles())
	return true
}

// Unlock leaves the monitor and gives th a chance to honour a pending
// quiescence point.
func (m *Monitor) Unlock(th Thread) {
	if th != nil {
		th.ExitCS()
	}
	m.mu.Unlock()
	if th != nil {
		th.Poll()
	}
}

// Wait releases the monitor, waits for a notification and re-enters. The
// caller must hold the monitor.
func (m *Monitor) Wait(th Thread) {
	m.waitEvents.Add(1)
	if m.pool != nil && m.pool.countWaited {
		m.pool.waitEvents.Add(1)
	}
	start := clock.Cycles()
	if th != nil {
		th.Block()
	}
	m.cond.Wait()
	if th != nil {
		if end := clock.Cycles(); end > start {
			th.AddWaitTime(end - start)
		}
		th.Unblock()
	}
}

// Notify wakes one waiter. The caller should hold the monitor.
func (m *Monitor) Notify() {
	m.cond.Signal()
}

// NotifyAll wakes every waiter. The caller should hold the monitor.
func (m *Monitor) NotifyAll() {
	m.cond.Broadcast()
}

// Close releases the monitor's pool slot. Its statistics disappear from
// later enumerations.
func (m *Monitor) Close() {
	if m.pool != nil {
		m.pool.release(m)
	}
}

func (m *Monitor) countLock() {
	m.lockEvents.Add(1)
	if m.pool != nil && m.pool.countLocked {
		m.pool.lockEvents.Add(1)
	}
}

func (m *Monitor) entered(th Thread, now uint64) {
	if th != nil {
		th.EnterCS(now)
	}
}

func (m *Monitor) contend(now uint64) {
	var pcs []uintptr
	m.stat.Lock()
	capture := m.stat.stack == nil && m.pool != nil && m.pool.maxFrames > 0
	m.stat.Unlock()
	if capture {
		pcs = make([]uintptr, m.pool.maxFrames)
		// Skip runtime.Callers, contend and Lock.
		pcs = pcs[:runtime.Callers(3, pcs)]
	}

	m.stat.Lock()
	if m.stat.waiters == 0 {
		// A reading taken before the last fold or reset belongs to a phase
		// that is already closed.
		m.stat.since = max(now, m.stat.epoch)
	}
	m.stat.waiters++
	if capture && m.stat.stack == nil {
		m.stat.stack = pcs
	}
	m.stat.Unlock()
}

func (m *Monitor) uncontend(now uint64) {
	m.stat.Lock()
	m.stat.waiters--
	if m.stat.waiters == 0 && now > m.stat.since {
		m.stat.phase += now - m.stat.since
	}
	m.stat.Unlock()
}

// foldPhase closes the current phase: an open contention interval is cut at
// the current reading, the phase time is added to the running total, and the
// per-phase counter restarts from zero. The returned sample carries the
// phase time that was just closed.
func (m *Monitor) foldPhase() types.MonitorStat {
	m.stat.Lock()
	defer m.stat.Unlock()
	now := clock.Cycles()
	if m.stat.waiters > 0 {
		if now > m.stat.since {
			m.stat.phase += now - m.stat.since
		}
		m.stat.since = now
	}
	m.stat.epoch = now
	s := m.sampleLocked()
	m.stat.accumulated += m.stat.phase
	s.AccumulatedCS = m.stat.accumulated
	m.stat.phase = 0
	return s
}

// resetCounters drops everything measured so far. Open contention intervals
// restart at the current reading.
func (m *Monitor) resetCounters() {
	m.stat.Lock()
	defer m.stat.Unlock()
	now := clock.Cycles()
	m.stat.phase = 0
	m.stat.accumulated = 0
	m.stat.epoch = now
	if m.stat.waiters > 0 {
		m.stat.since = now
	}
	m.lockEvents.Store(0)
	m.waitEvents.Store(0)
}

// Sample returns the monitor's statistics without closing the phase.
func (m *Monitor) Sample() types.MonitorStat {
	m.stat.Lock()
	defer m.stat.Unlock()
	return m.sampleLocked()
}

func (m *Monitor) sampleLocked() types.MonitorStat {
	return types.MonitorStat{
		ID:            m.id,
		Label:         m.label,
		PhaseCSTime:   m.stat.phase,
		AccumulatedCS: m.stat.accumulated,
		Stack:         m.stat.stack,
		LockEvents:    m.lockEvents.Load(),
		WaitEvents:    m.waitEvents.Load(),
	}
}
