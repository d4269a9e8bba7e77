// Package profiler ties the contention profiling pieces together: it owns the
// thread table, the monitor pool and the quiescence coordinator, closes a
// phase at every quiescence point, and prints the reports at shutdown.
package profiler

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/srodi/csprof/pkg/clock"
	"github.com/srodi/csprof/pkg/config"
	"github.com/srodi/csprof/pkg/guarantee"
	"github.com/srodi/csprof/pkg/monitor"
	"github.com/srodi/csprof/pkg/phase"
	"github.com/srodi/csprof/pkg/ranking"
	"github.com/srodi/csprof/pkg/report"
	"github.com/srodi/csprof/pkg/safepoint"
	"github.com/srodi/csprof/pkg/threads"
	"github.com/srodi/csprof/pkg/trigger"
	"github.com/srodi/csprof/pkg/types"
)

// now allows tests to drive the clock.
var now = clock.Now

// Observer receives the result of every computed phase.
type Observer interface {
	ObservePhase(types.PhaseStat)
	ObserveCounters(locked, waited uint64, liveThreads int)
}

// Publisher receives the final thread table at shutdown.
type Publisher interface {
	Publish([]types.ThreadStat) error
}

// Option configures a Profiler.
type Option func(*Profiler)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(p *Profiler) { p.logger = l }
}

// WithObserver forwards every computed phase to o.
func WithObserver(o Observer) Option {
	return func(p *Profiler) { p.observer = o }
}

// WithPublisher hands the final thread table to pub at shutdown.
func WithPublisher(pub Publisher) Option {
	return func(p *Profiler) { p.publisher = pub }
}

type closeKind int

const (
	closePeriodic closeKind = iota
	closeOnDemand
	closeFinal
)

// Profiler is the process-wide contention profiler.
type Profiler struct {
	cfg       config.Config
	logger    *zap.Logger
	observer  Observer
	publisher Publisher

	coord   *safepoint.Coordinator
	table   *threads.Table
	pool    *monitor.Pool
	timer   phase.Timer
	trigger *trigger.Trigger

	shutdown atomic.Bool

	mu         sync.Mutex
	ranking    *ranking.TopK
	last       types.PhaseStat
	seq        uint64
	skipped    uint64
	lastCycles uint64
	lastMillis int64
}

// New builds a profiler from cfg. The configuration is validated first.
func New(cfg config.Config, opts ...Option) (*Profiler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &Profiler{
		cfg:     cfg,
		logger:  zap.NewNop(),
		coord:   safepoint.NewCoordinator(),
		ranking: ranking.New(cfg.RankingCapacity),
	}
	for _, opt := range opts {
		opt(p)
	}

	tableOpts := []threads.Option{threads.WithCoordinator(p.coord)}
	if cfg.LockOSThreads {
		tableOpts = append(tableOpts, threads.WithLockedOSThreads())
	}
	p.table = threads.NewTable(cfg.MaxThreads, tableOpts...)
	p.pool = monitor.NewPool(
		monitor.WithStackFrames(cfg.StackFrames),
		monitor.WithEventCounters(cfg.CountLocked, cfg.CountWaited),
	)
	p.trigger = trigger.New(cfg.PhaseInterval, trigger.RequesterFunc(p.RequestPhase), p.logger.Named("trigger"))
	return p, nil
}

// Threads returns the thread statistics table.
func (p *Profiler) Threads() *threads.Table { return p.table }

// Monitors returns the monitor pool.
func (p *Profiler) Monitors() *monitor.Pool { return p.pool }

// Coordinator returns the quiescence coordinator threads take part in.
func (p *Profiler) Coordinator() *safepoint.Coordinator { return p.coord }

// State returns the lifecycle position of the application phase.
func (p *Profiler) State() phase.State { return p.timer.State() }

// Start marks the end of initialization: measured time starts here and the
// periodic trigger is enrolled when configured. Starting twice is fatal.
//
// Start, RequestPhase, Report and Shutdown request a quiescence point; they
// must not be called from a goroutine registered in the thread table.
func (p *Profiler) Start(ctx context.Context) {
	p.coord.Synchronize(func() {
		// Read the start before resetting, so every interval the monitors
		// count afterwards lies inside the measured time.
		cycles, millis := now()
		p.pool.ResetCounters()
		p.timer.Start(cycles, millis)
		p.mu.Lock()
		p.lastCycles, p.lastMillis = cycles, millis
		p.mu.Unlock()
	})
	enrolled := p.trigger.Enroll(ctx)
	p.logger.Info("profiling started",
		zap.Int("ranking_capacity", p.cfg.RankingCapacity),
		zap.Bool("periodic_phases", enrolled),
		zap.Int("max_threads", p.cfg.MaxThreads))
}

// RequestPhase brings the application to a quiescence point and closes the
// current phase there, unless the previous phase closed less than
// min_phase_gap ago.
func (p *Profiler) RequestPhase(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	switch p.timer.State() {
	case phase.Uninitialized:
		return phase.ErrNotStarted
	case phase.Closed:
		return phase.ErrClosed
	}
	var err error
	p.coord.Synchronize(func() {
		_, err = p.computePhase(closePeriodic)
	})
	return err
}

// computePhase runs at a quiescence point. It folds every live monitor's
// phase time into its total, rebuilds the ranking and closes the timer.
func (p *Profiler) computePhase(kind closeKind) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if kind == closePeriodic && p.cfg.MinPhaseGap > 0 {
		_, millis := now()
		if millis-p.lastMillis < p.cfg.MinPhaseGap.Milliseconds() {
			p.skipped++
			return false, nil
		}
	}

	p.ranking.Clear()
	samples := p.pool.FoldPhase()
	for _, s := range samples {
		p.ranking.Insert(s)
	}

	// Read the clock after folding so no folded interval outlasts the
	// elapsed time.
	cycles, millis := now()
	var err error
	if kind == closeFinal {
		err = p.timer.Stop(cycles, millis)
	} else {
		err = p.timer.Close(cycles, millis)
	}
	if err != nil {
		return false, fmt.Errorf("closing phase: %w", err)
	}

	p.seq++
	stat := types.PhaseStat{
		Seq:         p.seq,
		StartCycles: p.lastCycles,
		EndCycles:   cycles,
		Millis:      max(millis-p.lastMillis, 0),
		Monitors:    len(samples),
		Top:         p.ranking.Descending(),
	}
	if cycles >= p.lastCycles {
		stat.Cycles = cycles - p.lastCycles
	}
	p.lastCycles, p.lastMillis = cycles, millis
	p.last = stat

	p.logger.Debug("phase closed",
		zap.Uint64("phase", stat.Seq),
		zap.Uint64("cycles", stat.Cycles),
		zap.Int64("millis", stat.Millis),
		zap.Int("monitors", stat.Monitors))
	for i, m := range stat.Top {
		p.logger.Debug("contended monitor",
			zap.Uint64("phase", stat.Seq),
			zap.Int("rank", i+1),
			zap.Uint64("monitor", m.ID),
			zap.String("label", m.Label),
			zap.Uint64("cs_cycles", m.PhaseCSTime))
	}

	if p.observer != nil {
		p.observer.ObservePhase(stat)
		locked, _ := p.pool.LockEvents()
		waited, _ := p.pool.WaitEvents()
		p.observer.ObserveCounters(locked, waited, p.table.LiveCount())
	}
	return true, nil
}

// snapshot holds everything the reports need, read at a quiescence point.
type snapshot struct {
	ranked    []report.Ranked
	frequency report.Frequency
}

func (p *Profiler) collect() snapshot {
	elapsedCycles, elapsedMillis, ok := p.timer.Elapsed()
	guarantee.That(ok, "profiler: reporting without a closed phase")

	locked, countLocked := p.pool.LockEvents()
	waited, countWaited := p.pool.WaitEvents()
	return snapshot{
		ranked: report.RankByCSP(p.pool.Samples(), elapsedCycles),
		frequency: report.Frequency{
			Locked:        locked,
			Waited:        waited,
			CountLocked:   countLocked,
			CountWaited:   countWaited,
			ElapsedMillis: elapsedMillis,
		},
	}
}

// Report closes the current phase at a quiescence point and prints the
// enabled monitor reports to w. The application keeps running.
func (p *Profiler) Report(w io.Writer) error {
	state := p.timer.State()
	guarantee.That(state == phase.Running, "profiler: report requested while %s", state)
	var (
		snap snapshot
		err  error
	)
	p.coord.Synchronize(func() {
		if _, err = p.computePhase(closeOnDemand); err != nil {
			return
		}
		snap = p.collect()
	})
	if err != nil {
		return err
	}
	return p.writeMonitorReports(w, snap)
}

// Shutdown closes the last phase and prints every enabled report to w. Only
// the first call does anything; later calls return nil.
func (p *Profiler) Shutdown(w io.Writer) error {
	if !p.shutdown.CompareAndSwap(false, true) {
		return nil
	}
	p.trigger.Stop()

	state := p.timer.State()
	guarantee.That(state == phase.Running, "profiler: shutdown while %s", state)

	var (
		snap snapshot
		rows []types.ThreadStat
		err  error
	)
	p.coord.Synchronize(func() {
		if _, err = p.computePhase(closeFinal); err != nil {
			return
		}
		snap = p.collect()
		// Registered threads cannot touch their records while the op runs.
		rows = p.table.Snapshot()
	})
	if err != nil {
		return err
	}

	if p.publisher != nil {
		if err := p.publisher.Publish(rows); err != nil {
			p.logger.Warn("thread table export failed", zap.Error(err))
		}
	}

	p.mu.Lock()
	phases, skipped := p.seq, p.skipped
	p.mu.Unlock()
	p.logger.Info("profiling stopped",
		zap.Uint64("phases", phases),
		zap.Uint64("skipped_phases", skipped),
		zap.Uint64("periodic_requests", p.trigger.Fired()),
		zap.Int("threads", len(rows)))

	if err := p.writeMonitorReports(w, snap); err != nil {
		return err
	}
	if p.cfg.PrintThreadStats {
		if err := report.WriteThreadStats(w, rows); err != nil {
			return fmt.Errorf("writing thread stats: %w", err)
		}
	}
	return nil
}

func (p *Profiler) writeMonitorReports(w io.Writer, snap snapshot) error {
	opts := report.Options{Threshold: p.cfg.CSPThreshold, StackFrames: p.cfg.StackFrames}
	if p.cfg.PrintCSPSummary {
		if err := report.WriteCSPSummary(w, snap.ranked, opts); err != nil {
			return fmt.Errorf("writing CSP summary: %w", err)
		}
	}
	if p.cfg.PrintStackSummary {
		if err := report.WriteStackSummary(w, snap.ranked, opts); err != nil {
			return fmt.Errorf("writing stack summary: %w", err)
		}
	}
	if p.cfg.PrintFrequency {
		if err := report.WriteFrequency(w, snap.frequency); err != nil {
			return fmt.Errorf("writing frequency summary: %w", err)
		}
	}
	return nil
}

// Ranking returns the Top-K of the last computed phase, highest first.
func (p *Profiler) Ranking() []types.MonitorStat {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ranking.Descending()
}

// LastPhase returns the most recently computed phase. ok is false before the
// first one.
func (p *Profiler) LastPhase() (types.PhaseStat, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last, p.seq > 0
}

// Phases returns how many phases were computed and how many quiescence
// points were skipped for being too close to the previous phase.
func (p *Profiler) Phases() (computed, skipped uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.seq, p.skipped
}
