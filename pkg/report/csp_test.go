package report

import (
	"bytes"
	"math"
	"runtime"
	"strings"
	"testing"

	"github.com/srodi/csprof/pkg/guarantee"
	"github.com/srodi/csprof/pkg/types"
)

func TestRankByCSPSortsDescendingAndKeepsTieOrder(t *testing.T) {
	stats := []types.MonitorStat{
		{ID: 1, Label: "a", AccumulatedCS: 100},
		{ID: 2, Label: "b", AccumulatedCS: 300},
		{ID: 3, Label: "c", AccumulatedCS: 100},
		{ID: 4, Label: "d", AccumulatedCS: 0},
	}
	ranked := RankByCSP(stats, 1000)
	wantIDs := []uint64{2, 1, 3, 4}
	for i, id := range wantIDs {
		if ranked[i].ID != id {
			t.Fatalf("position %d: expected monitor %d, got %d", i, id, ranked[i].ID)
		}
	}
	if math.Abs(ranked[0].AvgCSP-30) > 1e-9 || ranked[3].AvgCSP != 0 {
		t.Fatalf("unexpected percentages: %+v", ranked)
	}
}

func TestRankByCSPOutOfRangeIsFatal(t *testing.T) {
	t.Cleanup(guarantee.SetHandler(guarantee.PanicHandler))
	cases := []struct {
		name    string
		stat    types.MonitorStat
		elapsed uint64
	}{
		{"aboveHundred", types.MonitorStat{ID: 1, AccumulatedCS: 1001}, 1000},
		{"noElapsedTime", types.MonitorStat{ID: 2, AccumulatedCS: 1}, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			defer func() {
				if _, ok := recover().(guarantee.Violation); !ok {
					t.Fatalf("expected a guarantee violation")
				}
			}()
			RankByCSP([]types.MonitorStat{tc.stat}, tc.elapsed)
		})
	}
}

func TestRankByCSPBounds(t *testing.T) {
	ranked := RankByCSP([]types.MonitorStat{{AccumulatedCS: 1000}, {AccumulatedCS: 0}}, 1000)
	if ranked[0].AvgCSP != 100 || ranked[1].AvgCSP != 0 {
		t.Fatalf("bounds should be inclusive: %+v", ranked)
	}
	if got := RankByCSP(nil, 0); len(got) != 0 {
		t.Fatalf("expected empty ranking, got %+v", got)
	}
}

func TestCSPSummaryStopsAtThreshold(t *testing.T) {
	stats := []types.MonitorStat{
		{ID: 1, Label: "low.Lock", AccumulatedCS: 50},
		{ID: 2, Label: "hot.Lock", AccumulatedCS: 400},
		{ID: 3, Label: "warm.Lock", AccumulatedCS: 150},
	}
	var buf bytes.Buffer
	if err := WriteCSPSummary(&buf, RankByCSP(stats, 1000), Options{Threshold: 10}); err != nil {
		t.Fatalf("write: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "Threshold: 10.00 %") {
		t.Fatalf("missing threshold header:\n%s", out)
	}
	for _, want := range []string{"hot.Lock", "40.00 %", "warm.Lock", "15.00 %"} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "low.Lock") || strings.Contains(out, "   3 ") {
		t.Fatalf("entry below threshold was printed:\n%s", out)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if !strings.HasPrefix(strings.TrimSpace(lines[3]), "1") || !strings.Contains(lines[3], "hot.Lock") {
		t.Fatalf("expected rank 1 to be hot.Lock, got %q", lines[3])
	}
}

func TestAboveThreshold(t *testing.T) {
	ranked := []Ranked{{AvgCSP: 40}, {AvgCSP: 15}, {AvgCSP: 5}}
	if got := AboveThreshold(ranked, 10); len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
	if got := AboveThreshold(ranked, 0); len(got) != 3 {
		t.Fatalf("zero threshold keeps everything, got %d", len(got))
	}
	if got := AboveThreshold(ranked, 50); len(got) != 0 {
		t.Fatalf("expected nothing above 50, got %d", len(got))
	}
}

func TestStackSummaryPrintsBoundedFrames(t *testing.T) {
	pcs := make([]uintptr, 16)
	pcs = pcs[:runtime.Callers(1, pcs)]
	stats := []types.MonitorStat{
		{ID: 1, Label: "with.Stack", AccumulatedCS: 500, Stack: pcs},
		{ID: 2, Label: "", AccumulatedCS: 200},
	}
	var buf bytes.Buffer
	if err := WriteStackSummary(&buf, RankByCSP(stats, 1000), Options{Threshold: 1, StackFrames: 1}); err != nil {
		t.Fatalf("write: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "(1 frame(s) displayed maximum)") {
		t.Fatalf("missing frame limit header:\n%s", out)
	}
	if !strings.Contains(out, "TestStackSummaryPrintsBoundedFrames") {
		t.Fatalf("expected the capturing function in the dump:\n%s", out)
	}
	if n := strings.Count(out, "          at "); n != 1 {
		t.Fatalf("expected exactly one printed frame, got %d:\n%s", n, out)
	}
	if !strings.Contains(out, "<unknown>") || !strings.Contains(out, "(0 frame(s) available)") {
		t.Fatalf("monitor without stack should print with zero frames:\n%s", out)
	}
}

func TestFrequencyRates(t *testing.T) {
	var buf bytes.Buffer
	f := Frequency{Locked: 500, Waited: 20, CountLocked: true, CountWaited: true, ElapsedMillis: 100}
	if err := WriteFrequency(&buf, f); err != nil {
		t.Fatalf("write: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "Total locked:500 |Rate: 5.00 locking /ms.") {
		t.Fatalf("unexpected lock line:\n%s", out)
	}
	if !strings.Contains(out, "Total waited:20 |Rate: 0.20 waiting /ms.") {
		t.Fatalf("unexpected wait line:\n%s", out)
	}
}

func TestFrequencyRespectsToggles(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrequency(&buf, Frequency{Locked: 1, Waited: 1, CountWaited: true, ElapsedMillis: 0}); err != nil {
		t.Fatalf("write: %v", err)
	}
	out := buf.String()
	if strings.Contains(out, "locked") {
		t.Fatalf("disabled lock counter was printed:\n%s", out)
	}
	if !strings.Contains(out, "Rate: 1.00 waiting /ms.") {
		t.Fatalf("zero elapsed millis should fall back to 1ms:\n%s", out)
	}
	buf.Reset()
	if err := WriteFrequency(&buf, Frequency{}); err != nil || buf.Len() != 0 {
		t.Fatalf("both counters disabled should print nothing, got %q (%v)", buf.String(), err)
	}
}

func TestFormatFramesEmpty(t *testing.T) {
	if FormatFrames(nil, 8) != "" {
		t.Fatalf("expected nothing for an empty stack")
	}
	if FormatFrames([]uintptr{1}, 0) != "" {
		t.Fatalf("expected nothing for a zero frame limit")
	}
}
