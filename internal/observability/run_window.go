package observability

import (
	"math"
	"sort"
	"strings"
	"sync"
	"time"
)

type RunModeStats struct {
	Mode    string  `json:"mode"`
	Samples int     `json:"samples"`
	LastMS  float64 `json:"last_ms"`
	AvgMS   float64 `json:"avg_ms"`
	P50MS   float64 `json:"p50_ms"`
	P95MS   float64 `json:"p95_ms"`
	P99MS   float64 `json:"p99_ms"`
}

type RunOutcomeCount struct {
	Outcome string `json:"outcome"`
	Count   int    `json:"count"`
}

type RunWindowSnapshot struct {
	GeneratedAt time.Time         `json:"generated_at"`
	WindowSize  int               `json:"window_size"`
	Modes       []RunModeStats    `json:"modes"`
	Outcomes    []RunOutcomeCount `json:"outcomes,omitempty"`
}

// RunWindow keeps the last N run durations per mode in ring buffers so the
// dashboard can show recent percentiles without querying Prometheus.
type RunWindow struct {
	mu         sync.RWMutex
	maxSamples int
	modes      map[string]*durationRing
	outcomes   map[string]int
}

type durationRing struct {
	values []float64
	next   int
	filled bool
	last   float64
}

func NewRunWindow(maxSamples int) *RunWindow {
	if maxSamples <= 0 {
		maxSamples = 256
	}
	return &RunWindow{
		maxSamples: maxSamples,
		modes:      make(map[string]*durationRing),
		outcomes:   make(map[string]int),
	}
}

func (w *RunWindow) Observe(mode string, ms float64) {
	if w == nil || mode == "" || ms < 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	ring, ok := w.modes[mode]
	if !ok {
		ring = &durationRing{values: make([]float64, w.maxSamples)}
		w.modes[mode] = ring
	}
	ring.values[ring.next] = ms
	ring.last = ms
	ring.next++
	if ring.next >= len(ring.values) {
		ring.next = 0
		ring.filled = true
	}
}

func (w *RunWindow) ObserveOutcome(outcome string) {
	if w == nil {
		return
	}
	outcome = strings.TrimSpace(outcome)
	if outcome == "" {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.outcomes[outcome]++
}

func (w *RunWindow) Snapshot() RunWindowSnapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()

	keys := make([]string, 0, len(w.modes))
	for mode := range w.modes {
		keys = append(keys, mode)
	}
	sort.Strings(keys)

	modes := make([]RunModeStats, 0, len(keys))
	for _, mode := range keys {
		ring := w.modes[mode]
		n := ring.next
		if ring.filled {
			n = len(ring.values)
		}
		if n <= 0 {
			continue
		}
		samples := make([]float64, n)
		copy(samples, ring.values[:n])
		sort.Float64s(samples)

		sum := 0.0
		for _, v := range samples {
			sum += v
		}
		modes = append(modes, RunModeStats{
			Mode:    mode,
			Samples: n,
			LastMS:  round2(ring.last),
			AvgMS:   round2(sum / float64(n)),
			P50MS:   round2(quantile(samples, 0.50)),
			P95MS:   round2(quantile(samples, 0.95)),
			P99MS:   round2(quantile(samples, 0.99)),
		})
	}

	names := make([]string, 0, len(w.outcomes))
	for name := range w.outcomes {
		names = append(names, name)
	}
	sort.Strings(names)
	outcomes := make([]RunOutcomeCount, 0, len(names))
	for _, name := range names {
		outcomes = append(outcomes, RunOutcomeCount{Outcome: name, Count: w.outcomes[name]})
	}

	return RunWindowSnapshot{
		GeneratedAt: time.Now().UTC(),
		WindowSize:  w.maxSamples,
		Modes:       modes,
		Outcomes:    outcomes,
	}
}

func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if q <= 0 {
		return sorted[0]
	}
	if q >= 1 {
		return sorted[len(sorted)-1]
	}
	idx := q * float64(len(sorted)-1)
	lo := int(math.Floor(idx))
	hi := int(math.Ceil(idx))
	if lo == hi {
		return sorted[lo]
	}
	frac := idx - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
