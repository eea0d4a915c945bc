// Package ml implements the ensemble scoring engine: two gradient-boosted
// tree predictors blended with fixed weights, a training pipeline with
// walk-forward validation, and versioned model persistence.
package ml

import (
	"fmt"

	"signal-scorer/internal/features"
)

// Predictor is the contract the pipeline and classifier require from a
// trainable model. Implementations must be safe for concurrent prediction
// after Fit has returned.
type Predictor interface {
	// Fit trains the predictor on normalized feature rows and binary labels
	// (1=WIN, 0=LOSS). Rows and labels must have equal length.
	Fit(rows []features.Vector, labels []int) error

	// PredictProba returns the predicted win probability for one row.
	PredictProba(row features.Vector) float64

	// FeatureImportance returns the predictor's native per-feature importance
	// scores. Values are non-negative and unnormalized.
	FeatureImportance() [features.Count]float64
}

// BoostConfig holds the hyperparameters of one gradient-boosted predictor.
// Defaults are documented on the Default* constructors; Validate rejects
// configurations that cannot train.
type BoostConfig struct {
	Trees          int     `json:"trees" yaml:"trees"`
	MaxDepth       int     `json:"max_depth" yaml:"maxDepth"`
	LearningRate   float64 `json:"learning_rate" yaml:"learningRate"`
	Subsample      float64 `json:"subsample" yaml:"subsample"`
	MinLeafSamples int     `json:"min_leaf_samples" yaml:"minLeafSamples"`
	Lambda         float64 `json:"lambda" yaml:"lambda"`
	MaxBins        int     `json:"max_bins" yaml:"maxBins"`
	Seed           int64   `json:"seed" yaml:"seed"`

	// ScalePosWeight multiplies the loss contribution of positive samples to
	// correct class imbalance. Only predictor A's configuration receives the
	// computed value; predictor B trains unweighted, matching each family's
	// native imbalance-handling idiom.
	ScalePosWeight float64 `json:"scale_pos_weight" yaml:"scalePosWeight"`
}

// DefaultConfigA returns the configuration of predictor A, the
// imbalance-weighted member of the ensemble.
func DefaultConfigA() BoostConfig {
	return BoostConfig{
		Trees:          80,
		MaxDepth:       4,
		LearningRate:   0.1,
		Subsample:      0.8,
		MinLeafSamples: 3,
		Lambda:         1.0,
		MaxBins:        32,
		Seed:           42,
		ScalePosWeight: 1.0,
	}
}

// DefaultConfigB returns the configuration of predictor B. It differs from A
// in its larger minimum leaf size and in never carrying a positive-class
// weight.
func DefaultConfigB() BoostConfig {
	return BoostConfig{
		Trees:          80,
		MaxDepth:       4,
		LearningRate:   0.1,
		Subsample:      0.8,
		MinLeafSamples: 20,
		Lambda:         1.0,
		MaxBins:        32,
		Seed:           1337,
		ScalePosWeight: 1.0,
	}
}

// Validate checks the configuration at construction time.
func (c BoostConfig) Validate() error {
	if c.Trees <= 0 {
		return fmt.Errorf("boost config: trees must be positive, got %d", c.Trees)
	}
	if c.MaxDepth <= 0 || c.MaxDepth > 16 {
		return fmt.Errorf("boost config: max depth must be in (0, 16], got %d", c.MaxDepth)
	}
	if c.LearningRate <= 0 || c.LearningRate > 1 {
		return fmt.Errorf("boost config: learning rate must be in (0, 1], got %f", c.LearningRate)
	}
	if c.Subsample <= 0 || c.Subsample > 1 {
		return fmt.Errorf("boost config: subsample must be in (0, 1], got %f", c.Subsample)
	}
	if c.MinLeafSamples < 1 {
		return fmt.Errorf("boost config: min leaf samples must be at least 1, got %d", c.MinLeafSamples)
	}
	if c.Lambda < 0 {
		return fmt.Errorf("boost config: lambda must be non-negative, got %f", c.Lambda)
	}
	if c.MaxBins < 2 || c.MaxBins > 255 {
		return fmt.Errorf("boost config: max bins must be in [2, 255], got %d", c.MaxBins)
	}
	if c.ScalePosWeight <= 0 {
		return fmt.Errorf("boost config: scale pos weight must be positive, got %f", c.ScalePosWeight)
	}
	return nil
}
