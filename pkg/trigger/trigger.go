// Package trigger forces a quiescence point at a fixed interval so that
// phases have a bounded length.
package trigger

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Requester brings the application to a quiescence point.
type Requester interface {
	RequestPhase(ctx context.Context) error
}

// RequesterFunc adapts a function to Requester.
type RequesterFunc func(ctx context.Context) error

// RequestPhase calls f.
func (f RequesterFunc) RequestPhase(ctx context.Context) error { return f(ctx) }

// Trigger is a periodic task. It does nothing besides requesting the
// quiescence point.
type Trigger struct {
	interval time.Duration
	req      Requester
	logger   *zap.Logger

	mu       sync.Mutex
	enrolled bool
	cancel   context.CancelFunc
	done     chan struct{}

	fired atomic.Uint64
}

// New returns a trigger firing every interval. An interval of zero or less
// leaves the trigger disabled.
func New(interval time.Duration, req Requester, logger *zap.Logger) *Trigger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Trigger{interval: interval, req: req, logger: logger}
}

// Enabled reports whether the interval allows enrollment.
func (t *Trigger) Enabled() bool {
	return t.interval > 0
}

// Enroll starts the periodic task. It returns false when the trigger is
// disabled or was already enrolled; a trigger is enrolled at most once.
func (t *Trigger) Enroll(ctx context.Context) bool {
	if !t.Enabled() {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.enrolled {
		return false
	}
	t.enrolled = true
	ctx, t.cancel = context.WithCancel(ctx)
	t.done = make(chan struct{})
	go t.run(ctx)
	t.logger.Info("periodic phase trigger enrolled", zap.Duration("interval", t.interval))
	return true
}

func (t *Trigger) run(ctx context.Context) {
	defer close(t.done)
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := t.req.RequestPhase(ctx); err != nil {
				t.logger.Warn("phase request failed", zap.Error(err))
				continue
			}
			t.fired.Add(1)
		}
	}
}

// Stop halts the task and waits for an in-flight request to finish. The
// trigger cannot be enrolled again afterwards.
func (t *Trigger) Stop() {
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.enrolled = true
	t.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Fired returns how many quiescence points the trigger requested successfully.
func (t *Trigger) Fired() uint64 {
	return t.fired.Load()
}
