package threads

import (
	"sync"
	"testing"

	"github.com/srodi/csprof/pkg/guarantee"
	"github.com/srodi/csprof/pkg/safepoint"
)

func TestRegisterAssignsIncreasingSlots(t *testing.T) {
	table := NewTable(8)
	var handles []*Thread
	for i := 0; i < 5; i++ {
		handles = append(handles, table.Register())
	}
	for i, th := range handles {
		if th.Slot() != i {
			t.Fatalf("expected slot %d, got %d", i, th.Slot())
		}
	}

	handles[1].Unregister()
	again := table.Register()
	if again.Slot() != 5 {
		t.Fatalf("slots must never be reused, got %d", again.Slot())
	}
	if table.Registered() != 6 || table.LiveCount() != 5 {
		t.Fatalf("unexpected counts: registered=%d live=%d", table.Registered(), table.LiveCount())
	}
}

func TestRegisterBeyondCapacityIsFatal(t *testing.T) {
	t.Cleanup(guarantee.SetHandler(guarantee.PanicHandler))
	table := NewTable(2)
	table.Register()
	table.Register()

	defer func() {
		if _, ok := recover().(guarantee.Violation); !ok {
			t.Fatalf("expected a guarantee violation")
		}
	}()
	table.Register()
}

func TestUnregisterTwiceIsFatal(t *testing.T) {
	t.Cleanup(guarantee.SetHandler(guarantee.PanicHandler))
	table := NewTable(1)
	th := table.Register()
	th.Unregister()

	defer func() {
		if _, ok := recover().(guarantee.Violation); !ok {
			t.Fatalf("expected a guarantee violation")
		}
	}()
	th.Unregister()
}

func TestUnregisterFlushesCounters(t *testing.T) {
	table := NewTable(4)
	th := table.Register()
	th.RecordName("worker-0")
	th.SetType("worker")
	th.AddCSTime(40)
	th.AddCSTime(2)
	th.AddWaitTime(7)
	th.EnterCS(100)
	th.EnterCS(150)
	th.ExitCS()

	before := table.Snapshot()
	if len(before) != 1 || !before[0].Live || before[0].CSTime != 0 {
		t.Fatalf("live thread counters should not be flushed yet: %+v", before)
	}

	th.Unregister()
	rows := table.Snapshot()
	row := rows[0]
	if row.Live {
		t.Fatalf("expected slot to be marked dead")
	}
	if row.CSTime != 42 || row.WaitTime != 7 {
		t.Fatalf("counters not flushed: %+v", row)
	}
	if row.CSStart != 100 || row.CSRecursions != 1 {
		t.Fatalf("debug fields not flushed: %+v", row)
	}
	if row.Name != "worker-0" || row.Type != "worker" {
		t.Fatalf("identity not kept: %+v", row)
	}
	if row.Stop < row.Start {
		t.Fatalf("stop %d before start %d", row.Stop, row.Start)
	}
}

func TestMissingNameStaysEmpty(t *testing.T) {
	table := NewTable(1)
	table.Register().Unregister()
	if name := table.Snapshot()[0].Name; name != "" {
		t.Fatalf("expected empty name, got %q", name)
	}
}

func TestLiveEnumeratesAcrossBitmapWords(t *testing.T) {
	table := NewTable(130)
	var handles []*Thread
	for i := 0; i < 130; i++ {
		handles = append(handles, table.Register())
	}
	for i, th := range handles {
		if i%2 == 1 {
			th.Unregister()
		}
	}
	live := table.Live()
	if len(live) != 65 {
		t.Fatalf("expected 65 live threads, got %d", len(live))
	}
	for i, th := range live {
		if th.Slot() != i*2 {
			t.Fatalf("expected slot %d at position %d, got %d", i*2, i, th.Slot())
		}
	}
}

func TestConcurrentRegistrationYieldsDenseSlots(t *testing.T) {
	const n = 64
	table := NewTable(n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			th := table.Register()
			th.AddCSTime(1)
			th.Unregister()
		}()
	}
	wg.Wait()

	seen := make(map[int]bool)
	for _, row := range table.Snapshot() {
		if seen[row.Slot] {
			t.Fatalf("duplicate slot %d", row.Slot)
		}
		seen[row.Slot] = true
		if row.CSTime != 1 {
			t.Fatalf("slot %d lost its counter: %+v", row.Slot, row)
		}
	}
	if len(seen) != n {
		t.Fatalf("expected %d slots, got %d", n, len(seen))
	}
}

func TestGoRunsOnRegisteredThread(t *testing.T) {
	coord := safepoint.NewCoordinator()
	table := NewTable(2, WithCoordinator(coord))
	var slot int
	<-table.Go("timer", func(th *Thread) {
		th.SetType("periodic")
		slot = th.Slot()
		if coord.Joined() != 1 {
			t.Errorf("expected thread to join the coordinator")
		}
	})
	if coord.Joined() != 0 {
		t.Fatalf("thread did not leave the coordinator")
	}
	row := table.Snapshot()[slot]
	if row.Name != "timer" || row.Type != "periodic" || row.Live {
		t.Fatalf("unexpected row: %+v", row)
	}
}

func TestSnapshotSkipsClaimedButUnwrittenSlots(t *testing.T) {
	table := NewTable(4)
	first := table.Register()
	// A slot claimed by a registration that has not written its record yet.
	table.next.Add(1)
	third := table.Register()

	rows := table.Snapshot()
	if table.Registered() != 3 || len(rows) != 2 {
		t.Fatalf("expected 2 rows out of 3 claimed slots, got %+v", rows)
	}
	if rows[0].Slot != first.Slot() || rows[1].Slot != third.Slot() || rows[1].Start == 0 {
		t.Fatalf("unexpected rows %+v", rows)
	}
}

func TestRegisterBeyondCapacityLeavesCoordinator(t *testing.T) {
	t.Cleanup(guarantee.SetHandler(guarantee.PanicHandler))
	coord := safepoint.NewCoordinator()
	table := NewTable(1, WithCoordinator(coord))
	th := table.Register()

	func() {
		defer func() {
			if _, ok := recover().(guarantee.Violation); !ok {
				t.Fatalf("expected a guarantee violation")
			}
		}()
		table.Register()
	}()
	if coord.Joined() != 1 || coord.Running() != 1 {
		t.Fatalf("failed registration must not stay joined: joined=%d running=%d", coord.Joined(), coord.Running())
	}
	th.Unregister()

	ran := false
	coord.Synchronize(func() { ran = true })
	if !ran {
		t.Fatalf("quiescence point should complete once every thread left")
	}
}
