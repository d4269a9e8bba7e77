package safepoint

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestSynchronizeWithoutParticipants(t *testing.T) {
	c := NewCoordinator()
	ran := false
	c.Synchronize(func() { ran = true })
	if !ran {
		t.Fatalf("expected op to run")
	}
	if c.Count() != 1 || c.Pending() {
		t.Fatalf("unexpected state: count=%d pending=%v", c.Count(), c.Pending())
	}
}

func TestSynchronizeWaitsForRunningParticipants(t *testing.T) {
	c := NewCoordinator()
	p := c.Join()

	done := make(chan struct{})
	go func() {
		c.Synchronize(func() {})
		close(done)
	}()

	for !c.Pending() {
		time.Sleep(time.Millisecond)
	}
	select {
	case <-done:
		t.Fatalf("synchronize finished while a participant was running")
	case <-time.After(20 * time.Millisecond):
	}

	p.Poll()
	<-done
	if c.Running() != 1 {
		t.Fatalf("expected participant to resume running, got %d", c.Running())
	}
	p.Leave()
	if c.Running() != 0 || c.Joined() != 0 {
		t.Fatalf("expected empty coordinator, running=%d joined=%d", c.Running(), c.Joined())
	}
}

func TestBlockedParticipantsAreSafe(t *testing.T) {
	c := NewCoordinator()
	p := c.Join()
	p.Block()
	c.Synchronize(func() {})
	p.Unblock()
	p.Leave()
	if c.Count() != 1 {
		t.Fatalf("expected one completed quiescence point, got %d", c.Count())
	}
}

func TestParticipantsHaltDuringOperation(t *testing.T) {
	c := NewCoordinator()
	const workers = 8
	var counter atomic.Int64
	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p := c.Join()
			defer p.Leave()
			for {
				select {
				case <-stop:
					return
				default:
				}
				counter.Add(1)
				p.Poll()
			}
		}()
	}

	for i := 0; i < 5; i++ {
		c.Synchronize(func() {
			before := counter.Load()
			time.Sleep(5 * time.Millisecond)
			if after := counter.Load(); after != before {
				t.Errorf("participants made progress during quiescence: %d -> %d", before, after)
			}
		})
	}
	close(stop)
	wg.Wait()
	if c.Count() != 5 {
		t.Fatalf("expected 5 quiescence points, got %d", c.Count())
	}
}

func TestParticipantSynchronizeFromRunningState(t *testing.T) {
	c := NewCoordinator()
	p := c.Join()
	ran := false
	p.Synchronize(func() { ran = true })
	if !ran || c.Running() != 1 {
		t.Fatalf("expected op to run and participant to resume, ran=%v running=%d", ran, c.Running())
	}
	p.Leave()
	p.Leave()
	if c.Joined() != 0 {
		t.Fatalf("double leave changed membership: %d", c.Joined())
	}
}
