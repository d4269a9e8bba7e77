package monitor

import (
	"sync"
	"sync/atomic"

	"github.com/srodi/csprof/pkg/guarantee"
	"github.com/srodi/csprof/pkg/types"
)

// BlockSize is the number of slots per pool block, header included.
const BlockSize = 128

// header marks slot 0 of every block. It is never handed out.
var header = &Monitor{label: "<block header>"}

type slotRef struct {
	block int
	index int
}

// Pool allocates monitors in fixed-size blocks. Slot 0 of each block is a
// header sentinel; freed slots hold no monitor and go on a free list.
type Pool struct {
	maxFrames   int
	countLocked bool
	countWaited bool

	lockEvents atomic.Uint64
	waitEvents atomic.Uint64

	mu         sync.Mutex
	blocks     [][]*Monitor
	free       []slotRef
	population int
	nextID     uint64
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithStackFrames sets how many frames a monitor keeps from its first
// contended acquisition. Zero disables capture.
func WithStackFrames(n int) PoolOption {
	return func(p *Pool) {
		if n < 0 {
			n = 0
		}
		p.maxFrames = n
	}
}

// WithEventCounters toggles the global lock and wait event counters.
func WithEventCounters(locked, waited bool) PoolOption {
	return func(p *Pool) {
		p.countLocked = locked
		p.countWaited = waited
	}
}

// NewPool returns an empty pool.
func NewPool(opts ...PoolOption) *Pool {
	p := &Pool{maxFrames: types.DefaultStackFrames, countLocked: true, countWaited: true}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// New allocates a monitor for an object described by label.
func (p *Pool) New(label string) *Monitor {
	m := &Monitor{pool: p, label: label}
	m.cond = sync.NewCond(&m.mu)

	p.mu.Lock()
	defer p.mu.Unlock()
	if n := len(p.free); n > 0 {
		m.ref = p.free[n-1]
		p.free = p.free[:n-1]
	} else {
		block := make([]*Monitor, BlockSize)
		block[0] = header
		p.blocks = append(p.blocks, block)
		b := len(p.blocks) - 1
		for i := BlockSize - 1; i > 1; i-- {
			p.free = append(p.free, slotRef{block: b, index: i})
		}
		m.ref = slotRef{block: b, index: 1}
	}
	p.nextID++
	m.id = p.nextID
	p.blocks[m.ref.block][m.ref.index] = m
	p.population++
	return m
}

func (p *Pool) release(m *Monitor) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.blocks[m.ref.block][m.ref.index] != m {
		return
	}
	p.blocks[m.ref.block][m.ref.index] = nil
	p.free = append(p.free, m.ref)
	p.population--
}

// Population returns the number of live monitors.
func (p *Pool) Population() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.population
}

// Walk calls fn for every live monitor, block by block, skipping headers and
// free slots. Statistics read inside Walk are only consistent at a
// quiescence point.
func (p *Pool) Walk(fn func(*Monitor)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for b, block := range p.blocks {
		guarantee.That(block[0] == header, "monitor: block %d lost its header", b)
		for i := 1; i < len(block); i++ {
			if m := block[i]; m != nil {
				fn(m)
			}
		}
	}
}

// FoldPhase closes the current phase on every live monitor and returns the
// samples in enumeration order.
func (p *Pool) FoldPhase() []types.MonitorStat {
	var out []types.MonitorStat
	p.Walk(func(m *Monitor) {
		out = append(out, m.foldPhase())
	})
	return out
}

// Samples returns the statistics of every live monitor in enumeration order.
func (p *Pool) Samples() []types.MonitorStat {
	var out []types.MonitorStat
	p.Walk(func(m *Monitor) {
		out = append(out, m.Sample())
	})
	return out
}

// ResetCounters zeroes every live monitor and the global event counters.
func (p *Pool) ResetCounters() {
	p.Walk(func(m *Monitor) { m.resetCounters() })
	p.lockEvents.Store(0)
	p.waitEvents.Store(0)
}

// LockEvents returns the global lock event count and whether it is enabled.
func (p *Pool) LockEvents() (uint64, bool) {
	return p.lockEvents.Load(), p.countLocked
}

// WaitEvents returns the global wait event count and whether it is enabled.
func (p *Pool) WaitEvents() (uint64, bool) {
	return p.waitEvents.Load(), p.countWaited
}
