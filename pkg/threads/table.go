// Package threads keeps the per-thread statistics table.
//
// Slots are handed out once, in increasing order, and never reused. The table
// never grows: running out of slots aborts the process.
package threads

import (
	"math/bits"
	"runtime"
	"strings"
	"sync/atomic"

	"github.com/srodi/csprof/pkg/clock"
	"github.com/srodi/csprof/pkg/guarantee"
	"github.com/srodi/csprof/pkg/safepoint"
	"github.com/srodi/csprof/pkg/types"
)

type record struct {
	osTID        int
	start        uint64
	stop         uint64
	csTime       uint64
	waitTime     uint64
	name         string
	kind         string
	csStart      uint64
	csRecursions int64
}

// Table is a fixed-capacity arena of thread slots with a liveness bitmap.
type Table struct {
	capacity      int
	lockOSThreads bool
	coord         *safepoint.Coordinator

	next      atomic.Int64
	records   []record
	published []atomic.Bool
	live      []atomic.Uint64
	owners    []atomic.Pointer[Thread]
}

// Option configures a Table.
type Option func(*Table)

// WithCoordinator makes every registered thread a participant of c.
func WithCoordinator(c *safepoint.Coordinator) Option {
	return func(t *Table) { t.coord = c }
}

// WithLockedOSThreads wires each registered goroutine to its OS thread for the
// lifetime of the slot, so a slot describes exactly one OS thread.
func WithLockedOSThreads() Option {
	return func(t *Table) { t.lockOSThreads = true }
}

// NewTable builds a table holding at most capacity threads.
func NewTable(capacity int, opts ...Option) *Table {
	guarantee.That(capacity > 0, "threads: capacity must be positive, got %d", capacity)
	t := &Table{
		capacity:  capacity,
		records:   make([]record, capacity),
		published: make([]atomic.Bool, capacity),
		live:      make([]atomic.Uint64, (capacity+63)/64),
		owners:    make([]atomic.Pointer[Thread], capacity),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Capacity returns the fixed number of slots.
func (t *Table) Capacity() int {
	return t.capacity
}

// Registered returns how many slots have been handed out.
func (t *Table) Registered() int {
	n := int(t.next.Load())
	if n > t.capacity {
		return t.capacity
	}
	return n
}

// Register claims the next slot for the calling goroutine.
//
// The goroutine joins the coordinator before it claims a slot, so a
// quiescence point never sees a slot counted whose record is still being
// written.
func (t *Table) Register() *Thread {
	var participant *safepoint.Participant
	if t.coord != nil {
		participant = t.coord.Join()
	}
	id := t.next.Add(1) - 1
	if (id < 0 || id >= int64(t.capacity)) && participant != nil {
		participant.Leave()
	}
	guarantee.That(id >= 0, "threads: slot id counter overflowed (%d)", id)
	guarantee.That(id < int64(t.capacity), "threads: too many threads for the table (slot %d, capacity %d)", id, t.capacity)

	slot := int(id)
	if t.lockOSThreads {
		runtime.LockOSThread()
	}
	th := &Thread{table: t, slot: slot, participant: participant}

	rec := &t.records[slot]
	rec.osTID = osThreadID()
	rec.start = clock.Cycles()
	t.published[slot].Store(true)
	t.owners[slot].Store(th)
	t.live[slot/64].Or(1 << (uint(slot) % 64))
	return th
}

// Go registers a new thread, runs fn on it in a fresh goroutine, and
// unregisters it when fn returns. The returned channel closes afterwards.
func (t *Table) Go(name string, fn func(*Thread)) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		th := t.Register()
		defer th.Unregister()
		th.RecordName(name)
		fn(th)
	}()
	return done
}

func (t *Table) unregister(th *Thread) {
	guarantee.That(!th.exited, "threads: slot %d unregistered twice", th.slot)
	th.exited = true

	rec := &t.records[th.slot]
	rec.stop = clock.Cycles()
	rec.csTime = th.csTime
	rec.waitTime = th.waitTime
	rec.csStart = th.csStart
	rec.csRecursions = th.csRecursions

	t.live[th.slot/64].And(^(uint64(1) << (uint(th.slot) % 64)))
	t.owners[th.slot].Store(nil)
	if th.participant != nil {
		th.participant.Leave()
	}
	if t.lockOSThreads {
		runtime.UnlockOSThread()
	}
}

// Live returns the threads currently registered, in slot order.
//
// Only meaningful while no thread is registering or unregistering, e.g. from
// inside a quiescence point or after workers have been joined.
func (t *Table) Live() []*Thread {
	var out []*Thread
	for w := range t.live {
		word := t.live[w].Load()
		for word != 0 {
			bit := bits.TrailingZeros64(word)
			word &^= 1 << uint(bit)
			if th := t.owners[w*64+bit].Load(); th != nil {
				out = append(out, th)
			}
		}
	}
	return out
}

// LiveCount returns the number of live slots.
func (t *Table) LiveCount() int {
	n := 0
	for w := range t.live {
		n += bits.OnesCount64(t.live[w].Load())
	}
	return n
}

// Snapshot returns one record per slot handed out and fully registered so far. Counters of threads
// that are still live are only flushed when they unregister, so live rows
// carry their start reading and identity.
//
// The same caveat as Live applies.
func (t *Table) Snapshot() []types.ThreadStat {
	n := t.Registered()
	out := make([]types.ThreadStat, 0, n)
	for slot := 0; slot < n; slot++ {
		// Claimed but not yet written: skip rather than report a zero record.
		if !t.published[slot].Load() {
			continue
		}
		rec := t.records[slot]
		out = append(out, types.ThreadStat{
			Slot:         slot,
			OSThreadID:   rec.osTID,
			Start:        rec.start,
			Stop:         rec.stop,
			CSTime:       rec.csTime,
			WaitTime:     rec.waitTime,
			Name:         rec.name,
			Type:         rec.kind,
			CSStart:      rec.csStart,
			CSRecursions: rec.csRecursions,
			Live:         t.owners[slot].Load() != nil,
		})
	}
	return out
}

func (t *Table) recordName(slot int, name string) {
	t.records[slot].name = strings.Clone(name)
}

func (t *Table) recordType(slot int, kind string) {
	t.records[slot].kind = kind
}
