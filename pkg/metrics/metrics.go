// Package metrics exports per-phase contention results to Prometheus.
package metrics

import (
	"fmt"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/srodi/csprof/pkg/types"
)

const namespace = "csprof"

// Exporter publishes the result of every closed phase.
type Exporter struct {
	phases        prometheus.Counter
	phaseDuration prometheus.Histogram
	monitorCSP    *prometheus.GaugeVec
	monitors      prometheus.Gauge
	lockEvents    prometheus.Gauge
	waitEvents    prometheus.Gauge
	liveThreads   prometheus.Gauge
}

// NewExporter creates the collectors and registers them on reg.
func NewExporter(reg prometheus.Registerer) (*Exporter, error) {
	e := &Exporter{
		phases: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "phases_total",
			Help:      "Number of phases closed at a quiescence point.",
		}),
		phaseDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "phase_duration_seconds",
			Help:      "Wall-clock length of closed phases.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		monitorCSP: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "monitor_phase_csp_percent",
			Help:      "Share of the last phase during which a top-ranked monitor was contended.",
		}, []string{"rank", "label"}),
		monitors: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_monitors",
			Help:      "Monitors enumerated at the last phase close.",
		}),
		lockEvents: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "lock_events_total",
			Help:      "Monitor enter operations since application start.",
		}),
		waitEvents: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "wait_events_total",
			Help:      "Monitor wait operations since application start.",
		}),
		liveThreads: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_threads",
			Help:      "Registered threads that have not exited.",
		}),
	}
	for _, c := range []prometheus.Collector{
		e.phases, e.phaseDuration, e.monitorCSP, e.monitors, e.lockEvents, e.waitEvents, e.liveThreads,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("registering collector: %w", err)
		}
	}
	return e, nil
}

// ObservePhase records a closed phase. The per-monitor gauges only ever
// describe the latest phase's ranking.
func (e *Exporter) ObservePhase(p types.PhaseStat) {
	e.phases.Inc()
	e.phaseDuration.Observe(float64(p.Millis) / 1000)
	e.monitors.Set(float64(p.Monitors))
	e.monitorCSP.Reset()
	for i, m := range p.Top {
		var pct float64
		if p.Cycles > 0 {
			pct = float64(m.PhaseCSTime) * 100 / float64(p.Cycles)
		}
		e.monitorCSP.WithLabelValues(strconv.Itoa(i+1), m.Label).Set(pct)
	}
}

// ObserveCounters records the global event counters and thread population.
func (e *Exporter) ObserveCounters(locked, waited uint64, liveThreads int) {
	e.lockEvents.Set(float64(locked))
	e.waitEvents.Set(float64(waited))
	e.liveThreads.Set(float64(liveThreads))
}
