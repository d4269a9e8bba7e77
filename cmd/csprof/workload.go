package main

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/srodi/csprof/pkg/monitor"
	"github.com/srodi/csprof/pkg/profiler"
	"github.com/srodi/csprof/pkg/threads"
)

const (
	accountCount = 2
	shardCount   = 8
	queueLimit   = 64
)

// workload is a small contended application: workers move between a couple
// of hot account monitors and a set of cooler cache shards, and feed a job
// queue drained by a consumer waiting on the queue's monitor.
type workload struct {
	prof     *profiler.Profiler
	workers  int
	hold     time.Duration
	accounts []*monitor.Monitor
	shards   []*monitor.Monitor
	queue    *jobQueue
}

func newWorkload(prof *profiler.Profiler, workers int, hold time.Duration) *workload {
	pool := prof.Monitors()
	w := &workload{prof: prof, workers: workers, hold: hold}
	for i := 0; i < accountCount; i++ {
		w.accounts = append(w.accounts, pool.New("bank.Account"))
	}
	for i := 0; i < shardCount; i++ {
		w.shards = append(w.shards, pool.New("cache.Shard"))
	}
	w.queue = &jobQueue{m: pool.New("jobs.Queue")}
	return w
}

// Run drives the workers until ctx is done.
func (w *workload) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		w.queue.close()
		return nil
	})
	g.Go(func() error { return w.consume() })
	for i := 0; i < w.workers; i++ {
		g.Go(func() error { return w.work(ctx, i) })
	}
	return g.Wait()
}

func (w *workload) register(name, kind string) *threads.Thread {
	th := w.prof.Threads().Register()
	th.RecordName(name)
	th.SetType(kind)
	return th
}

func (w *workload) work(ctx context.Context, id int) error {
	th := w.register(fmt.Sprintf("worker-%d", id), "worker")
	defer th.Unregister()

	rng := rand.New(rand.NewPCG(uint64(id), 0x5eed))
	for n := 0; ctx.Err() == nil; n++ {
		var m *monitor.Monitor
		if rng.IntN(10) < 4 {
			m = w.accounts[rng.IntN(len(w.accounts))]
		} else {
			m = w.shards[rng.IntN(len(w.shards))]
		}
		m.Lock(th)
		time.Sleep(w.hold)
		m.Unlock(th)

		if n%16 == 0 {
			w.queue.push(th, n)
		}
	}
	return nil
}

func (w *workload) consume() error {
	th := w.register("consumer", "consumer")
	defer th.Unregister()

	for {
		if _, ok := w.queue.pop(th); !ok {
			return nil
		}
	}
}

type jobQueue struct {
	m      *monitor.Monitor
	items  []int
	closed bool
}

func (q *jobQueue) push(th *threads.Thread, item int) {
	q.m.Lock(th)
	defer q.m.Unlock(th)
	if q.closed || len(q.items) >= queueLimit {
		return
	}
	q.items = append(q.items, item)
	q.m.Notify()
}

// pop waits for an item. ok is false once the queue is closed and drained.
func (q *jobQueue) pop(th *threads.Thread) (item int, ok bool) {
	q.m.Lock(th)
	defer q.m.Unlock(th)
	for len(q.items) == 0 && !q.closed {
		q.m.Wait(th)
	}
	if len(q.items) == 0 {
		return 0, false
	}
	item = q.items[0]
	q.items = q.items[1:]
	return item, true
}

func (q *jobQueue) close() {
	q.m.Lock(nil)
	q.closed = true
	q.m.NotifyAll()
	q.m.Unlock(nil)
}
