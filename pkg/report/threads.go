package report

import (
	"fmt"
	"io"

	"github.com/montanaflynn/stats"

	"github.com/srodi/csprof/pkg/types"
)

// ThreadSummary aggregates contention cycles across threads.
type ThreadSummary struct {
	Threads int
	Total   float64
	Mean    float64
	Median  float64
	P95     float64
	Max     float64
}

// SummarizeThreads computes distribution figures of per-thread contention.
// Live threads are left out: their counters are only flushed on exit.
func SummarizeThreads(rows []types.ThreadStat) (ThreadSummary, error) {
	var data stats.Float64Data
	for _, row := range rows {
		if row.Live {
			continue
		}
		data = append(data, float64(row.CSTime))
	}
	if len(data) == 0 {
		return ThreadSummary{}, nil
	}
	var (
		s   = ThreadSummary{Threads: len(data)}
		err error
	)
	if s.Total, err = stats.Sum(data); err != nil {
		return ThreadSummary{}, fmt.Errorf("summing cs time: %w", err)
	}
	if s.Mean, err = stats.Mean(data); err != nil {
		return ThreadSummary{}, fmt.Errorf("averaging cs time: %w", err)
	}
	if s.Median, err = stats.Median(data); err != nil {
		return ThreadSummary{}, fmt.Errorf("median cs time: %w", err)
	}
	if s.P95, err = stats.PercentileNearestRank(data, 95); err != nil {
		return ThreadSummary{}, fmt.Errorf("p95 cs time: %w", err)
	}
	if s.Max, err = stats.Max(data); err != nil {
		return ThreadSummary{}, fmt.Errorf("max cs time: %w", err)
	}
	return s, nil
}

// WriteThreadStats prints one pipe-separated row per slot followed by a
// distribution summary.
func WriteThreadStats(w io.Writer, rows []types.ThreadStat) error {
	fmt.Fprintln(w, "------- th_start th_stop th_cs_time th_wait_time th_name th_type th_cs_start th_cs_recursions")
	for _, row := range rows {
		stop := fmt.Sprintf("%d", row.Stop)
		if row.Live {
			stop = "live"
		}
		fmt.Fprintf(w, "%d|%d|%s|%d|%d|%s|%s|%d|%d\n",
			row.Slot, row.Start, stop, row.CSTime, row.WaitTime, row.Name, row.Type, row.CSStart, row.CSRecursions)
	}
	summary, err := SummarizeThreads(rows)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "threads=%d cs_total=%.0f cs_mean=%.1f cs_median=%.1f cs_p95=%.1f cs_max=%.0f\n",
		summary.Threads, summary.Total, summary.Mean, summary.Median, summary.P95, summary.Max)
	return err
}
