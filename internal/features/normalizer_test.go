package features

import (
	"encoding/json"
	"math"
	"testing"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestManualScale_ClipsAndRescales(t *testing.T) {
	var v Vector
	v[IdxPriceChange24h] = 150 // above the +/-100 clip
	v[IdxPriceChange1h] = -250
	v[IdxRSI1h] = 50
	v[IdxPatternType] = 4
	v[IdxVolumeMultiplier] = 40 // above the 0..20 clip
	v[IdxBTCCorrelation] = 2

	n := NewNormalizer()
	out := n.TransformVector(v)

	if !almostEqual(out[IdxPriceChange24h], 1.0) {
		t.Errorf("expected clipped price_change_24h 1.0, got %f", out[IdxPriceChange24h])
	}
	if !almostEqual(out[IdxPriceChange1h], -1.0) {
		t.Errorf("expected clipped price_change_1h -1.0, got %f", out[IdxPriceChange1h])
	}
	if !almostEqual(out[IdxRSI1h], 0) {
		t.Errorf("expected centered rsi_1h 0, got %f", out[IdxRSI1h])
	}
	if !almostEqual(out[IdxPatternType], 0.5) {
		t.Errorf("expected pattern_type 4/8=0.5, got %f", out[IdxPatternType])
	}
	if !almostEqual(out[IdxVolumeMultiplier], 1.0) {
		t.Errorf("expected clipped volume_multiplier 1.0, got %f", out[IdxVolumeMultiplier])
	}
	if !almostEqual(out[IdxBTCCorrelation], 1.0) {
		t.Errorf("expected clipped btc_correlation 1.0, got %f", out[IdxBTCCorrelation])
	}
}

func TestManualScale_RSIBounds(t *testing.T) {
	n := NewNormalizer()

	var lo, hi Vector
	lo[IdxRSI1h] = 0
	hi[IdxRSI1h] = 100

	if got := n.TransformVector(lo)[IdxRSI1h]; !almostEqual(got, -1) {
		t.Errorf("expected rsi 0 -> -1, got %f", got)
	}
	if got := n.TransformVector(hi)[IdxRSI1h]; !almostEqual(got, 1) {
		t.Errorf("expected rsi 100 -> 1, got %f", got)
	}
}

func TestManualScale_Deterministic(t *testing.T) {
	var v Vector
	for i := 0; i < Count; i++ {
		v[i] = float64(i)*3.7 - 20
	}

	n := NewNormalizer()
	a := n.TransformVector(v)
	b := n.TransformVector(v)
	if a != b {
		t.Error("manual scaling must be deterministic")
	}
}

func TestManualScale_VolumeLog(t *testing.T) {
	var v Vector
	v[IdxVolumeQuote24h] = 100

	n := NewNormalizer()
	out := n.TransformVector(v)

	want := math.Log1p(100) / 10
	if !almostEqual(out[IdxVolumeQuote24h], want) {
		t.Errorf("expected log-scaled volume %f, got %f", want, out[IdxVolumeQuote24h])
	}
}

func TestFit_RobustScaling(t *testing.T) {
	// Column 0: values 1..5 -> median 3, IQR 2 (q3=4, q1=2).
	matrix := make([]Vector, 5)
	for i := range matrix {
		matrix[i][0] = float64(i + 1)
	}

	n := NewNormalizer()
	if err := n.Fit(matrix); err != nil {
		t.Fatalf("fit failed: %v", err)
	}
	if !n.Fitted() {
		t.Fatal("normalizer should report fitted")
	}

	state := n.State()
	if !almostEqual(state.Centers[0], 3) {
		t.Errorf("expected median center 3, got %f", state.Centers[0])
	}
	if !almostEqual(state.Scales[0], 2) {
		t.Errorf("expected IQR scale 2, got %f", state.Scales[0])
	}

	var v Vector
	v[0] = 5
	out := n.TransformVector(v)
	if !almostEqual(out[0], 1) {
		t.Errorf("expected (5-3)/2=1, got %f", out[0])
	}
}

func TestFit_ConstantColumnScaleOne(t *testing.T) {
	matrix := make([]Vector, 10)
	for i := range matrix {
		matrix[i][IdxRiskLevel] = 1
	}

	n := NewNormalizer()
	if err := n.Fit(matrix); err != nil {
		t.Fatalf("fit failed: %v", err)
	}

	state := n.State()
	if state.Scales[IdxRiskLevel] != 1 {
		t.Errorf("constant column must get scale 1, got %f", state.Scales[IdxRiskLevel])
	}

	var v Vector
	v[IdxRiskLevel] = 1
	if got := n.TransformVector(v)[IdxRiskLevel]; !almostEqual(got, 0) {
		t.Errorf("constant column value should center to 0, got %f", got)
	}
}

func TestFit_EmptyMatrix(t *testing.T) {
	n := NewNormalizer()
	if err := n.Fit(nil); err == nil {
		t.Error("expected error for empty matrix")
	}
}

func TestStateRoundTrip(t *testing.T) {
	matrix := make([]Vector, 20)
	for i := range matrix {
		for j := 0; j < Count; j++ {
			matrix[i][j] = float64((i*7+j*13)%50) / 10
		}
	}

	n := NewNormalizer()
	if err := n.Fit(matrix); err != nil {
		t.Fatalf("fit failed: %v", err)
	}

	data, err := json.Marshal(n.State())
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var state NormalizerState
	if err := json.Unmarshal(data, &state); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	restored := RestoreNormalizer(state)
	if !restored.Fitted() {
		t.Fatal("restored normalizer must be fitted")
	}

	var v Vector
	for j := 0; j < Count; j++ {
		v[j] = float64(j) / 3
	}
	if restored.TransformVector(v) != n.TransformVector(v) {
		t.Error("restored normalizer must transform identically")
	}
}

func TestFitTransform(t *testing.T) {
	matrix := make([]Vector, 30)
	for i := range matrix {
		matrix[i][0] = float64(i)
	}

	n := NewNormalizer()
	out, err := n.FitTransform(matrix)
	if err != nil {
		t.Fatalf("fit transform failed: %v", err)
	}
	if len(out) != len(matrix) {
		t.Fatalf("expected %d rows, got %d", len(matrix), len(out))
	}

	// Median row must map to zero in the fitted column.
	mid := out[len(out)/2][0]
	if math.Abs(mid) > 0.1 {
		t.Errorf("expected median row near 0, got %f", mid)
	}
}
