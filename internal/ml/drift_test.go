package ml

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signal-scorer/internal/features"
)

// driftRows spreads one feature uniformly so the baseline gets ten
// well-populated decile bins.
func driftRows(n int) []features.Vector {
	rows := make([]features.Vector, n)
	for i := range rows {
		rows[i][features.IdxRSI1h] = float64(i) / float64(n)
	}
	return rows
}

func TestFitDriftBaseline(t *testing.T) {
	assert.Nil(t, fitDriftBaseline(nil))

	b := fitDriftBaseline(driftRows(500))
	require.NotNil(t, b)

	require.Len(t, b.Edges[features.IdxRSI1h], 9)
	expected := b.Expected[features.IdxRSI1h]
	require.Len(t, expected, 10)

	var total float64
	for _, p := range expected {
		total += p
	}
	assert.InDelta(t, 1.0, total, 1e-9)
}

func TestDriftMonitor_NoBaseline(t *testing.T) {
	m := NewDriftMonitor()
	m.Observe(features.Vector{})
	assert.Nil(t, m.Snapshot())
}

func TestDriftMonitor_BelowMinWindow(t *testing.T) {
	m := NewDriftMonitor()
	m.SetBaseline(fitDriftBaseline(driftRows(500)))

	for i := 0; i < 50; i++ {
		m.Observe(features.Vector{})
	}
	assert.Nil(t, m.Snapshot(), "too few observations to score")
}

func TestDriftMonitor_StableDistribution(t *testing.T) {
	rows := driftRows(500)
	m := NewDriftMonitor()
	m.SetBaseline(fitDriftBaseline(rows))

	for _, row := range rows {
		m.Observe(row)
	}

	snap := m.Snapshot()
	require.NotNil(t, snap)
	assert.Less(t, snap.MaxPSI, 0.2)
	assert.Empty(t, snap.Drifted)
}

func TestDriftMonitor_DetectsShift(t *testing.T) {
	m := NewDriftMonitor()
	m.SetBaseline(fitDriftBaseline(driftRows(500)))

	// Every observation lands in the top bin.
	var shifted features.Vector
	shifted[features.IdxRSI1h] = 2.0
	for i := 0; i < 200; i++ {
		m.Observe(shifted)
	}

	snap := m.Snapshot()
	require.NotNil(t, snap)
	assert.Equal(t, 200, snap.Window)
	assert.Greater(t, snap.MaxPSI, 0.2)
	assert.Contains(t, snap.Drifted, "rsi_1h")
}

func TestDriftMonitor_SetBaselineResetsWindow(t *testing.T) {
	b := fitDriftBaseline(driftRows(500))

	m := NewDriftMonitor()
	m.SetBaseline(b)
	for i := 0; i < 200; i++ {
		m.Observe(features.Vector{})
	}
	require.NotNil(t, m.Snapshot())

	m.SetBaseline(b)
	assert.Nil(t, m.Snapshot(), "new generation starts with an empty window")
}

func TestDriftMonitor_WindowWraps(t *testing.T) {
	m := NewDriftMonitor()
	m.SetBaseline(fitDriftBaseline(driftRows(500)))

	for i := 0; i < 700; i++ {
		m.Observe(features.Vector{})
	}

	snap := m.Snapshot()
	require.NotNil(t, snap)
	assert.Equal(t, 512, snap.Window)
}
