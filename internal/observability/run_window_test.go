package observability

import (
	"testing"
	"time"
)

func TestRunWindowSnapshot(t *testing.T) {
	w := NewRunWindow(8)
	w.Observe("execute", 500)
	w.Observe("execute", 700)
	w.Observe("execute", 900)
	w.Observe("plan", 100)
	w.ObserveOutcome("succeeded")
	w.ObserveOutcome("succeeded")
	w.ObserveOutcome("failed")

	snap := w.Snapshot()
	if snap.WindowSize != 8 {
		t.Fatalf("WindowSize = %d, want 8", snap.WindowSize)
	}
	if len(snap.Modes) != 2 {
		t.Fatalf("len(Modes) = %d, want 2", len(snap.Modes))
	}
	s := snap.Modes[0]
	if s.Mode != "execute" {
		t.Fatalf("Mode = %q, want %q", s.Mode, "execute")
	}
	if s.Samples != 3 || s.LastMS != 900 || s.P50MS != 700 {
		t.Fatalf("execute stats = %+v", s)
	}
	if s.P95MS <= 700 || s.P95MS > 900 {
		t.Fatalf("P95MS = %.2f, want (700,900]", s.P95MS)
	}
	if len(snap.Outcomes) != 2 || snap.Outcomes[0].Outcome != "failed" || snap.Outcomes[1].Count != 2 {
		t.Fatalf("Outcomes = %+v", snap.Outcomes)
	}
}

func TestRunWindowWrapsAround(t *testing.T) {
	w := NewRunWindow(2)
	w.Observe("report", 10)
	w.Observe("report", 20)
	w.Observe("report", 30)

	s := w.Snapshot().Modes[0]
	if s.Samples != 2 {
		t.Fatalf("Samples = %d, want 2", s.Samples)
	}
	if s.AvgMS != 25 {
		t.Fatalf("AvgMS = %.2f, want 25 (oldest sample evicted)", s.AvgMS)
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveRun("plan", "succeeded", time.Second)
	m.ObserveApproval("approve", "ok")
	m.SetRealtimeClients(3)
	if got := m.RunStats(); len(got.Modes) != 0 {
		t.Fatalf("RunStats() on nil = %+v, want empty", got)
	}
}

func TestMetricsObserveRunFeedsWindow(t *testing.T) {
	m := NewMetrics("test_observability_" + time.Now().Format("150405000000"))
	m.ObserveRun("plan", "succeeded", 1500*time.Millisecond)
	stats := m.RunStats()
	if len(stats.Modes) != 1 || stats.Modes[0].LastMS != 1500 {
		t.Fatalf("RunStats() = %+v, want one plan sample", stats)
	}
}
