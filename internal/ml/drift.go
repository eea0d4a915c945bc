package ml

import (
	"math"
	"sort"
	"sync"

	"signal-scorer/internal/features"
)

const (
	driftBins      = 10
	driftWindow    = 512
	driftMinWindow = 100
	driftThreshold = 0.2
)

// DriftBaseline captures the training-time distribution of each normalized
// feature as decile bin edges plus the observed proportion per bin. It is
// persisted in model metadata so drift tracking survives a restart.
type DriftBaseline struct {
	Edges    [features.Count][]float64 `json:"edges"`
	Expected [features.Count][]float64 `json:"expected"`
}

// fitDriftBaseline derives the baseline from the normalized training matrix.
func fitDriftBaseline(rows []features.Vector) *DriftBaseline {
	if len(rows) == 0 {
		return nil
	}

	b := &DriftBaseline{}
	col := make([]float64, len(rows))
	for feat := 0; feat < features.Count; feat++ {
		for i := range rows {
			col[i] = rows[i][feat]
		}
		sort.Float64s(col)

		var edges []float64
		for k := 1; k < driftBins; k++ {
			v := col[k*len(col)/driftBins]
			if len(edges) == 0 || v > edges[len(edges)-1] {
				edges = append(edges, v)
			}
		}
		b.Edges[feat] = edges

		counts := make([]float64, len(edges)+1)
		for _, v := range col {
			counts[sort.SearchFloat64s(edges, v)]++
		}
		for i := range counts {
			counts[i] /= float64(len(col))
		}
		b.Expected[feat] = counts
	}
	return b
}

// DriftSnapshot summarizes how far recent prediction inputs have moved from
// the training distribution.
type DriftSnapshot struct {
	Window  int      `json:"window"`
	MaxPSI  float64  `json:"max_psi"`
	Drifted []string `json:"drifted_features,omitempty"`
}

// DriftMonitor tracks a sliding window of normalized prediction inputs and
// scores each feature's population stability index against the baseline. A
// PSI above 0.2 flags the feature as drifted.
type DriftMonitor struct {
	mu       sync.Mutex
	baseline *DriftBaseline
	ring     [][features.Count]uint8
	next     int
	filled   bool
}

func NewDriftMonitor() *DriftMonitor {
	return &DriftMonitor{ring: make([][features.Count]uint8, driftWindow)}
}

// SetBaseline replaces the baseline and resets the window. A nil baseline
// disables the monitor.
func (m *DriftMonitor) SetBaseline(b *DriftBaseline) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.baseline = b
	m.next = 0
	m.filled = false
}

// Observe records one normalized prediction input.
func (m *DriftMonitor) Observe(v features.Vector) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.baseline == nil {
		return
	}

	var bins [features.Count]uint8
	for feat := 0; feat < features.Count; feat++ {
		bins[feat] = uint8(sort.SearchFloat64s(m.baseline.Edges[feat], v[feat]))
	}
	m.ring[m.next] = bins
	m.next++
	if m.next == len(m.ring) {
		m.next = 0
		m.filled = true
	}
}

// Snapshot computes per-feature PSI over the current window. Returns nil
// until a baseline is set and the window holds enough observations to score.
func (m *DriftMonitor) Snapshot() *DriftSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.baseline == nil {
		return nil
	}
	window := m.next
	if m.filled {
		window = len(m.ring)
	}
	if window < driftMinWindow {
		return nil
	}

	snap := &DriftSnapshot{Window: window}
	for feat := 0; feat < features.Count; feat++ {
		expected := m.baseline.Expected[feat]
		if len(expected) < 2 {
			continue
		}

		actual := make([]float64, len(expected))
		for i := 0; i < window; i++ {
			actual[m.ring[i][feat]]++
		}

		const eps = 1e-4
		psi := 0.0
		for b := range expected {
			a := actual[b]/float64(window) + eps
			e := expected[b] + eps
			psi += (a - e) * math.Log(a/e)
		}

		if psi > snap.MaxPSI {
			snap.MaxPSI = psi
		}
		if psi > driftThreshold {
			snap.Drifted = append(snap.Drifted, features.Name(feat))
		}
	}
	return snap
}
