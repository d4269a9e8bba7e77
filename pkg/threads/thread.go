package threads

import "github.com/srodi/csprof/pkg/safepoint"

// Thread is the handle a registered goroutine uses to account its own
// contention. Apart from Slot, its methods must only be called from the
// goroutine that registered it: the counters are owned, not shared, and are
// flushed into the table on Unregister.
type Thread struct {
	table       *Table
	slot        int
	participant *safepoint.Participant
	exited      bool

	csTime       uint64
	waitTime     uint64
	csStart      uint64
	csRecursions int64
}

// Slot returns the thread's slot id.
func (th *Thread) Slot() int {
	return th.slot
}

// Unregister records the stop time, flushes the counters and releases the
// liveness bit. The slot is never handed out again.
func (th *Thread) Unregister() {
	th.table.unregister(th)
}

// RecordName stores a display name for the slot.
func (th *Thread) RecordName(name string) {
	th.table.recordName(th.slot, name)
}

// SetType stores a display type for the slot, e.g. "worker" or "timer".
func (th *Thread) SetType(kind string) {
	th.table.recordType(th.slot, kind)
}

// AddCSTime accumulates cycles spent waiting to enter a contended section.
func (th *Thread) AddCSTime(cycles uint64) {
	th.csTime += cycles
}

// AddWaitTime accumulates cycles spent waiting on a condition.
func (th *Thread) AddWaitTime(cycles uint64) {
	th.waitTime += cycles
}

// EnterCS notes entry into a critical section at the given cycle reading.
func (th *Thread) EnterCS(now uint64) {
	if th.csRecursions == 0 {
		th.csStart = now
	}
	th.csRecursions++
}

// ExitCS notes leaving a critical section.
func (th *Thread) ExitCS() {
	if th.csRecursions > 0 {
		th.csRecursions--
	}
}

// CSTime returns the contention cycles accumulated so far.
func (th *Thread) CSTime() uint64 { return th.csTime }

// WaitTime returns the wait cycles accumulated so far.
func (th *Thread) WaitTime() uint64 { return th.waitTime }

// Depth returns the current critical section nesting depth.
func (th *Thread) Depth() int64 { return th.csRecursions }

// Block marks the thread safe for a quiescence point before it blocks.
func (th *Thread) Block() {
	if th.participant != nil {
		th.participant.Block()
	}
}

// Unblock marks the thread running again, waiting out any quiescence point.
func (th *Thread) Unblock() {
	if th.participant != nil {
		th.participant.Unblock()
	}
}

// Poll parks the thread if a quiescence point is pending.
func (th *Thread) Poll() {
	if th.participant != nil {
		th.participant.Poll()
	}
}

// Synchronize runs op at a quiescence point requested from this thread.
func (th *Thread) Synchronize(op func()) {
	if th.participant != nil {
		th.participant.Synchronize(op)
		return
	}
	op()
}
