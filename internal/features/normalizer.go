package features

import (
	"fmt"
	"math"

	"github.com/montanaflynn/stats"
)

// NormalizerState is the serializable state of a Normalizer. It is persisted
// and restored as part of the model artifact: a fitted model served with the
// wrong normalizer state silently degrades accuracy, so the state travels
// with the predictors or not at all.
type NormalizerState struct {
	Fitted  bool           `json:"fitted"`
	Centers [Count]float64 `json:"centers"`
	Scales  [Count]float64 `json:"scales"`
}

// Normalizer maps raw feature matrices to normalized ones. Before any fit it
// applies fixed per-feature clip-and-rescale rules so output stays bounded
// even when no model has ever been trained; after Fit it applies a robust
// center/scale transform derived from the training data.
type Normalizer struct {
	state NormalizerState
}

// NewNormalizer returns an unfitted normalizer using the manual scaling rules.
func NewNormalizer() *Normalizer {
	return &Normalizer{}
}

// RestoreNormalizer rebuilds a normalizer from persisted state.
func RestoreNormalizer(state NormalizerState) *Normalizer {
	return &Normalizer{state: state}
}

// State returns a copy of the serializable state.
func (n *Normalizer) State() NormalizerState { return n.state }

// Fitted reports whether Fit has been called.
func (n *Normalizer) Fitted() bool { return n.state.Fitted }

// Fit computes per-feature robust scale parameters (median center, IQR
// scale) from a non-empty matrix with exactly Count columns. Median/IQR are
// used instead of mean/stddev because trading features carry heavy outliers.
func (n *Normalizer) Fit(matrix []Vector) error {
	if len(matrix) == 0 {
		return fmt.Errorf("normalizer fit: empty feature matrix")
	}

	col := make([]float64, len(matrix))
	for j := 0; j < Count; j++ {
		for i := range matrix {
			col[i] = matrix[i][j]
		}

		median, err := stats.Median(col)
		if err != nil {
			return fmt.Errorf("normalizer fit: feature %s: %w", names[j], err)
		}
		q1, err := stats.Percentile(col, 25)
		if err != nil {
			return fmt.Errorf("normalizer fit: feature %s: %w", names[j], err)
		}
		q3, err := stats.Percentile(col, 75)
		if err != nil {
			return fmt.Errorf("normalizer fit: feature %s: %w", names[j], err)
		}

		n.state.Centers[j] = median
		iqr := q3 - q1
		if iqr > 0 {
			n.state.Scales[j] = iqr
		} else {
			// Constant column: center only, leave the value untouched otherwise.
			n.state.Scales[j] = 1
		}
	}

	n.state.Fitted = true
	return nil
}

// Transform returns a normalized copy of the matrix. Fitted mode applies the
// stored center/scale transform; unfitted mode applies the manual rules.
func (n *Normalizer) Transform(matrix []Vector) []Vector {
	out := make([]Vector, len(matrix))
	if !n.state.Fitted {
		for i := range matrix {
			out[i] = manualScale(matrix[i])
		}
		return out
	}

	for i := range matrix {
		for j := 0; j < Count; j++ {
			out[i][j] = (matrix[i][j] - n.state.Centers[j]) / n.state.Scales[j]
		}
	}
	return out
}

// TransformVector normalizes a single vector.
func (n *Normalizer) TransformVector(v Vector) Vector {
	if !n.state.Fitted {
		return manualScale(v)
	}
	var out Vector
	for j := 0; j < Count; j++ {
		out[j] = (v[j] - n.state.Centers[j]) / n.state.Scales[j]
	}
	return out
}

// FitTransform composes Fit then Transform.
func (n *Normalizer) FitTransform(matrix []Vector) ([]Vector, error) {
	if err := n.Fit(matrix); err != nil {
		return nil, err
	}
	return n.Transform(matrix), nil
}

func clip(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// manualScale applies the documented per-feature clip range and divisor used
// before any model has been fitted. It is deterministic and pure.
func manualScale(v Vector) Vector {
	s := v

	// Percentage changes: clip to +/-100%, scale to [-1, 1].
	for _, i := range []int{IdxPriceChange24h, IdxPriceChange1h, IdxPriceChange15m, IdxPriceChange5m} {
		s[i] = clip(s[i], -100, 100) / 100
	}

	s[IdxHighLowRange] = clip(s[IdxHighLowRange], 0, 100) / 100
	s[IdxPricePosition] = clip(s[IdxPricePosition], 0, 1)

	// Quote volume arrives in millions; log1p compresses the tail.
	s[IdxVolumeQuote24h] = math.Log1p(clip(s[IdxVolumeQuote24h], 0, 10000)) / 10
	s[IdxVolumeMultiplier] = clip(s[IdxVolumeMultiplier], 0, 20) / 20
	s[IdxVolumeChange1h] = clip(s[IdxVolumeChange1h], 0, 500) / 500

	s[IdxVelocity] = clip(s[IdxVelocity], -5, 5) / 5
	s[IdxAcceleration] = clip(s[IdxAcceleration], -2, 2) / 2
	// trend_state is already in {-1, 0, 1}.

	// RSI centered around 50, scaled to [-1, 1].
	s[IdxRSI1h] = (clip(s[IdxRSI1h], 0, 100) - 50) / 50
	s[IdxMTFAlignment] = s[IdxMTFAlignment] / 4
	// divergence_type is already in {-1, 0, 1}.

	s[IdxFundingRate] = clip(s[IdxFundingRate], -1, 1)
	// funding_signal and funding_direction_match are already signed.

	s[IdxOIChangePercent] = clip(s[IdxOIChangePercent], -50, 50) / 50
	// oi_signal and oi_price_alignment are already signed.

	s[IdxPatternType] = s[IdxPatternType] / 8
	s[IdxPatternConfidence] = s[IdxPatternConfidence] / 100
	s[IdxDistanceFromLevel] = clip(s[IdxDistanceFromLevel], 0, 10) / 10

	s[IdxSmartConfidence] = s[IdxSmartConfidence] / 100
	s[IdxComponentCount] = s[IdxComponentCount] / 6
	s[IdxEntryType] = s[IdxEntryType] / 3
	s[IdxRiskLevel] = s[IdxRiskLevel] / 2

	s[IdxATRPercent] = clip(s[IdxATRPercent], 0, 10) / 10
	s[IdxVWAPDistance] = clip(s[IdxVWAPDistance], -10, 10) / 10
	s[IdxRiskRewardRatio] = clip(s[IdxRiskRewardRatio], 0, 10) / 10

	s[IdxWhaleActivity] = clip(s[IdxWhaleActivity], 0, 100) / 100
	s[IdxBTCCorrelation] = clip(s[IdxBTCCorrelation], -1, 1)
	s[IdxBTCOutperformance] = clip(s[IdxBTCOutperformance], -50, 50) / 50

	return s
}
