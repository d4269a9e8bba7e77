package ranking

import (
	"math/rand"
	"testing"

	"github.com/srodi/csprof/pkg/types"
)

func stats(values ...uint64) []types.MonitorStat {
	out := make([]types.MonitorStat, len(values))
	for i, v := range values {
		out[i] = types.MonitorStat{ID: uint64(i + 1), PhaseCSTime: v}
	}
	return out
}

func phaseTimes(entries []types.MonitorStat) []uint64 {
	out := make([]uint64, len(entries))
	for i, e := range entries {
		out[i] = e.PhaseCSTime
	}
	return out
}

func equal(a, b []uint64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func checkInvariants(t *testing.T, r *TopK) {
	t.Helper()
	if r.Len() > r.Capacity() {
		t.Fatalf("size %d exceeds capacity %d", r.Len(), r.Capacity())
	}
	snap := r.Snapshot()
	for i := 1; i < len(snap); i++ {
		if snap[i-1].PhaseCSTime > snap[i].PhaseCSTime {
			t.Fatalf("not sorted ascending: %v", phaseTimes(snap))
		}
	}
	if len(snap) > 0 && r.Min() != snap[0].PhaseCSTime {
		t.Fatalf("min %d does not match front %d", r.Min(), snap[0].PhaseCSTime)
	}
}

func TestInsertKeepsHighest(t *testing.T) {
	r := New(3)
	for _, s := range stats(5, 1, 9, 2, 8) {
		r.Insert(s)
		checkInvariants(t, r)
	}
	if got := phaseTimes(r.Snapshot()); !equal(got, []uint64{5, 8, 9}) {
		t.Fatalf("expected [5 8 9], got %v", got)
	}
	if got := phaseTimes(r.Descending()); !equal(got, []uint64{9, 8, 5}) {
		t.Fatalf("expected [9 8 5], got %v", got)
	}
}

func TestZeroCapacityIsNoop(t *testing.T) {
	for _, capacity := range []int{0, -3} {
		r := New(capacity)
		for _, s := range stats(5, 1, 9) {
			if r.Insert(s) {
				t.Fatalf("capacity %d admitted %+v", capacity, s)
			}
		}
		if r.Len() != 0 || r.Min() != 0 {
			t.Fatalf("capacity %d: expected empty ranking, got %v", capacity, phaseTimes(r.Snapshot()))
		}
	}
}

func TestAdmissionRejectsNotGreaterThanMin(t *testing.T) {
	r := New(2)
	r.Insert(types.MonitorStat{PhaseCSTime: 4})
	r.Insert(types.MonitorStat{PhaseCSTime: 6})
	if r.Insert(types.MonitorStat{PhaseCSTime: 4}) {
		t.Fatalf("value equal to min must be rejected once full")
	}
	if r.Insert(types.MonitorStat{PhaseCSTime: 1}) {
		t.Fatalf("value below min must be rejected once full")
	}
	if !r.Insert(types.MonitorStat{PhaseCSTime: 5}) {
		t.Fatalf("value above min must be admitted")
	}
	if got := phaseTimes(r.Snapshot()); !equal(got, []uint64{5, 6}) {
		t.Fatalf("expected [5 6], got %v", got)
	}
}

func TestClearThenReinsertMatchesFresh(t *testing.T) {
	values := stats(7, 3, 3, 11, 2, 15)
	used := New(5)
	for _, s := range stats(100, 200, 300) {
		used.Insert(s)
	}
	used.Clear()
	if used.Len() != 0 || used.Min() != 0 {
		t.Fatalf("clear left entries behind")
	}
	fresh := New(5)
	for _, s := range values {
		used.Insert(s)
		fresh.Insert(s)
	}
	a, b := used.Snapshot(), fresh.Snapshot()
	if len(a) != len(b) {
		t.Fatalf("length mismatch %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i].ID != b[i].ID || a[i].PhaseCSTime != b[i].PhaseCSTime {
			t.Fatalf("entry %d differs: %+v vs %+v", i, a[i], b[i])
		}
	}
}

func TestRandomSequencesKeepInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for capacity := 1; capacity <= 6; capacity++ {
		r := New(capacity)
		var all []uint64
		for i := 0; i < 200; i++ {
			v := uint64(rng.Intn(50))
			all = append(all, v)
			r.Insert(types.MonitorStat{PhaseCSTime: v})
			checkInvariants(t, r)
		}
		// The held values must be the top values of everything inserted.
		top := topValues(all, capacity)
		if got := phaseTimes(r.Snapshot()); !equal(got, top) {
			t.Fatalf("capacity %d: expected %v, got %v", capacity, top, got)
		}
	}
}

func topValues(values []uint64, k int) []uint64 {
	sorted := append([]uint64(nil), values...)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j-1] > sorted[j]; j-- {
			sorted[j-1], sorted[j] = sorted[j], sorted[j-1]
		}
	}
	if len(sorted) > k {
		sorted = sorted[len(sorted)-k:]
	}
	return sorted
}
