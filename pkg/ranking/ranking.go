// Package ranking keeps the K most contended monitors of the current phase.
package ranking

import "github.com/srodi/csprof/pkg/types"

// TopK is a bounded list sorted ascending by phase contention time, lowest
// first. Entries are snapshots taken at a quiescence point, so closing a
// monitor never leaves a stale entry behind.
type TopK struct {
	capacity int
	entries  []types.MonitorStat
	min      uint64
}

// New returns a ranking holding at most capacity entries. A capacity of zero
// or less disables insertion.
func New(capacity int) *TopK {
	if capacity < 0 {
		capacity = 0
	}
	return &TopK{capacity: capacity, entries: make([]types.MonitorStat, 0, capacity+1)}
}

// Insert admits s if the ranking is not full or s beats the current minimum,
// and reports whether it was admitted.
func (r *TopK) Insert(s types.MonitorStat) bool {
	if r.capacity == 0 {
		return false
	}
	if len(r.entries) >= r.capacity && s.PhaseCSTime <= r.min {
		return false
	}

	i := 0
	for i < len(r.entries) && s.PhaseCSTime > r.entries[i].PhaseCSTime {
		i++
	}
	r.entries = append(r.entries, types.MonitorStat{})
	copy(r.entries[i+1:], r.entries[i:])
	r.entries[i] = s

	if len(r.entries) > r.capacity {
		copy(r.entries, r.entries[1:])
		r.entries = r.entries[:len(r.entries)-1]
	}
	r.min = r.entries[0].PhaseCSTime
	return true
}

// Clear empties the ranking for a new phase.
func (r *TopK) Clear() {
	r.entries = r.entries[:0]
	r.min = 0
}

// Len returns the number of entries.
func (r *TopK) Len() int { return len(r.entries) }

// Capacity returns K.
func (r *TopK) Capacity() int { return r.capacity }

// Min returns the admission threshold: the lowest phase time held.
func (r *TopK) Min() uint64 { return r.min }

// Snapshot returns a copy of the entries, lowest first.
func (r *TopK) Snapshot() []types.MonitorStat {
	out := make([]types.MonitorStat, len(r.entries))
	copy(out, r.entries)
	return out
}

// Descending returns a copy of the entries, highest first.
func (r *TopK) Descending() []types.MonitorStat {
	out := make([]types.MonitorStat, len(r.entries))
	for i, e := range r.entries {
		out[len(out)-1-i] = e
	}
	return out
}
