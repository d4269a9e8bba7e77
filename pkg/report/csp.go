package report

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/srodi/csprof/pkg/guarantee"
	"github.com/srodi/csprof/pkg/types"
)

const rule = "-----------------------------------------------------"

// Ranked is a monitor with its average contention share over the application.
type Ranked struct {
	types.MonitorStat
	AvgCSP float64
}

// Options controls what the reporting engine prints.
type Options struct {
	Threshold   float64
	StackFrames int
}

// RankByCSP computes each monitor's average CSP (accumulated contention as a
// percentage of the elapsed application cycles) and sorts descending. Ties
// keep enumeration order. A percentage outside [0, 100] means the
// measurement is broken and is fatal.
func RankByCSP(stats []types.MonitorStat, elapsedCycles uint64) []Ranked {
	ranked := make([]Ranked, 0, len(stats))
	for _, s := range stats {
		var avg float64
		if s.AccumulatedCS > 0 {
			guarantee.That(elapsedCycles > 0, "report: monitor %d has %d contention cycles but the application has not run", s.ID, s.AccumulatedCS)
			avg = float64(s.AccumulatedCS) * 100 / float64(elapsedCycles)
		}
		guarantee.That(avg >= 0 && avg <= 100, "report: average CSP %.4f%% of monitor %d outside [0, 100]", avg, s.ID)
		ranked = append(ranked, Ranked{MonitorStat: s, AvgCSP: avg})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].AvgCSP > ranked[j].AvgCSP })
	return ranked
}

// AboveThreshold returns the leading entries whose CSP is at least threshold.
func AboveThreshold(ranked []Ranked, threshold float64) []Ranked {
	for i, r := range ranked {
		if r.AvgCSP < threshold {
			return ranked[:i]
		}
	}
	return ranked
}

// WriteCSPSummary prints the monitors ranked by average CSP down to the
// threshold.
func WriteCSPSummary(w io.Writer, ranked []Ranked, opts Options) error {
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "Monitors ranked by average CSP (Threshold: %.2f %%)\n", opts.Threshold)
	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	fmt.Fprintln(tw, "Rank\tAverage CSP\tObject class")
	for i, r := range AboveThreshold(ranked, opts.Threshold) {
		fmt.Fprintf(tw, "%4d\t%6.2f %%\t%s\n", i+1, r.AvgCSP, label(r.Label))
	}
	return tw.Flush()
}

// WriteStackSummary prints the same ranking with each monitor's captured
// contention stack, at most opts.StackFrames frames per monitor.
func WriteStackSummary(w io.Writer, ranked []Ranked, opts Options) error {
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "Monitors ranked by average CSP (Threshold: %.2f %%)\n", opts.Threshold)
	fmt.Fprintf(w, "Displaying the associated stack trace (%d frame(s) displayed maximum)\n", opts.StackFrames)
	fmt.Fprintln(w, "Rank   Average CSP   Object class")
	for i, r := range AboveThreshold(ranked, opts.Threshold) {
		fmt.Fprintf(w, "%4d   %6.2f %%      %s     (%d frame(s) available)\n", i+1, r.AvgCSP, label(r.Label), len(r.Stack))
		if _, err := io.WriteString(w, FormatFrames(r.Stack, opts.StackFrames)); err != nil {
			return err
		}
	}
	return nil
}

// Frequency is the input of the locking frequency summary.
type Frequency struct {
	Locked        uint64
	Waited        uint64
	CountLocked   bool
	CountWaited   bool
	ElapsedMillis int64
}

// LockRate returns lock events per millisecond.
func (f Frequency) LockRate() float64 {
	return float64(f.Locked) / float64(f.millis())
}

// WaitRate returns wait events per millisecond.
func (f Frequency) WaitRate() float64 {
	return float64(f.Waited) / float64(f.millis())
}

func (f Frequency) millis() int64 {
	if f.ElapsedMillis <= 0 {
		return 1
	}
	return f.ElapsedMillis
}

// WriteFrequency prints the enabled locking and waiting rates.
func WriteFrequency(w io.Writer, f Frequency) error {
	if f.CountLocked {
		if _, err := fmt.Fprintf(w, "Total locked:%d |Rate: %.2f locking /ms.\n", f.Locked, f.LockRate()); err != nil {
			return err
		}
	}
	if f.CountWaited {
		if _, err := fmt.Fprintf(w, "Total waited:%d |Rate: %.2f waiting /ms.\n", f.Waited, f.WaitRate()); err != nil {
			return err
		}
	}
	return nil
}

func label(s string) string {
	if s == "" {
		return "<unknown>"
	}
	return s
}
