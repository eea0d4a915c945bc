package ml

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/montanaflynn/stats"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"signal-scorer/internal/features"
)

// TrainingSample is one labeled, timestamped observation. Timestamp is unix
// milliseconds of signal creation; ordering by it is what makes the
// walk-forward folds honest.
type TrainingSample struct {
	Timestamp int64
	Features  features.Vector
	Label     int
}

// FoldResult records one walk-forward validation fold. AUC is scored for each
// ensemble member and for the served blend. AUCDefined is false when the test
// slice held a single class; such folds contribute accuracy but are excluded
// from the AUC mean.
type FoldResult struct {
	Fold       int     `json:"fold"`
	TrainSize  int     `json:"train_size"`
	TestSize   int     `json:"test_size"`
	AUC        float64 `json:"auc"`
	AUCA       float64 `json:"auc_a"`
	AUCB       float64 `json:"auc_b"`
	AUCDefined bool    `json:"auc_defined"`
	Accuracy   float64 `json:"accuracy"`
}

// Metadata describes a trained model generation. It is persisted alongside
// the predictors and returned from training and stats endpoints.
type Metadata struct {
	Version        string             `json:"version"`
	RunID          string             `json:"run_id"`
	TrainedAt      time.Time          `json:"trained_at"`
	Samples        int                `json:"samples"`
	Positives      int                `json:"positives"`
	Negatives      int                `json:"negatives"`
	ScalePosWeight float64            `json:"scale_pos_weight"`
	MeanAUC        float64            `json:"mean_auc"`
	MeanAccuracy   float64            `json:"mean_accuracy"`
	Folds          []FoldResult       `json:"folds"`
	Importance     map[string]float64 `json:"feature_importance"`
	ImportanceRank []ImportanceEntry  `json:"feature_importance_ranked"`
	DriftBaseline  *DriftBaseline     `json:"drift_baseline,omitempty"`
}

// ImportanceEntry is one feature's share of the blended split gain.
type ImportanceEntry struct {
	Feature string  `json:"feature"`
	Weight  float64 `json:"weight"`
}

// TrainReport is the caller-facing result of one training run.
type TrainReport struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Metadata
	DurationMS int64 `json:"duration_ms"`
}

// PipelineConfig holds training-run parameters. Weights must match the
// classifier's blend weights so validation scores measure what will be served.
type PipelineConfig struct {
	ConfigA    BoostConfig `yaml:"predictorA"`
	ConfigB    BoostConfig `yaml:"predictorB"`
	WeightA    float64     `yaml:"weightA"`
	WeightB    float64     `yaml:"weightB"`
	MinSamples int         `yaml:"minSamples"`
	Folds      int         `yaml:"folds"`
}

// DefaultPipelineConfig mirrors the served ensemble: A weighted 0.6 and
// imbalance-corrected, B weighted 0.4.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		ConfigA:    DefaultConfigA(),
		ConfigB:    DefaultConfigB(),
		WeightA:    0.6,
		WeightB:    0.4,
		MinSamples: 500,
		Folds:      5,
	}
}

// Pipeline turns labeled samples into a servable Artifact: validation,
// chronological ordering, normalizer fitting, walk-forward evaluation and a
// final full-data fit.
type Pipeline struct {
	cfg PipelineConfig
	log zerolog.Logger
}

// NewPipeline constructs a pipeline after validating both predictor configs.
func NewPipeline(cfg PipelineConfig, log zerolog.Logger) (*Pipeline, error) {
	if cfg.MinSamples < 1 {
		cfg.MinSamples = DefaultPipelineConfig().MinSamples
	}
	if cfg.Folds < 2 {
		cfg.Folds = DefaultPipelineConfig().Folds
	}
	if err := cfg.ConfigA.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.ConfigB.Validate(); err != nil {
		return nil, err
	}
	return &Pipeline{cfg: cfg, log: log.With().Str("component", "pipeline").Logger()}, nil
}

// Run executes a full training run. Validation failures return a
// *ValidationError before any model state is touched.
func (p *Pipeline) Run(ctx context.Context, samples []TrainingSample) (*Artifact, *TrainReport, error) {
	start := time.Now()

	if len(samples) < p.cfg.MinSamples {
		return nil, nil, validationErrorf("need at least %d samples, got %d", p.cfg.MinSamples, len(samples))
	}

	ordered := make([]TrainingSample, len(samples))
	copy(ordered, samples)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Timestamp < ordered[j].Timestamp })

	labels := make([]int, len(ordered))
	matrix := make([]features.Vector, len(ordered))
	pos, neg := 0, 0
	for i, s := range ordered {
		if s.Label != 0 && s.Label != 1 {
			return nil, nil, validationErrorf("label at row %d must be 0 or 1, got %d", i, s.Label)
		}
		labels[i] = s.Label
		matrix[i] = s.Features
		if s.Label == 1 {
			pos++
		} else {
			neg++
		}
	}
	if pos == 0 || neg == 0 {
		return nil, nil, validationErrorf("dataset contains a single class (%d positive, %d negative)", pos, neg)
	}

	normalizer := features.NewNormalizer()
	rows, err := normalizer.FitTransform(matrix)
	if err != nil {
		return nil, nil, err
	}

	spw := float64(neg) / float64(max(pos, 1))
	cfgA := p.cfg.ConfigA
	cfgA.ScalePosWeight = spw
	cfgB := p.cfg.ConfigB

	runID := uuid.NewString()
	p.log.Info().
		Str("run_id", runID).
		Int("samples", len(rows)).
		Int("positives", pos).
		Int("negatives", neg).
		Float64("scale_pos_weight", spw).
		Msg("training run started")

	folds, err := p.evaluateFolds(ctx, rows, labels, cfgA, cfgB)
	if err != nil {
		return nil, nil, err
	}

	finalA, finalB, err := fitPair(ctx, cfgA, cfgB, rows, labels)
	if err != nil {
		return nil, nil, err
	}

	accs := make([]float64, 0, len(folds))
	aucs := make([]float64, 0, len(folds))
	for _, f := range folds {
		accs = append(accs, f.Accuracy)
		if f.AUCDefined {
			aucs = append(aucs, f.AUC)
		}
	}
	meanAcc, _ := stats.Mean(accs)
	meanAUC := 0.0
	if len(aucs) > 0 {
		meanAUC, _ = stats.Mean(aucs)
	}

	importance := blendImportance(finalA, finalB, p.cfg.WeightA, p.cfg.WeightB)

	now := time.Now().UTC()
	meta := Metadata{
		Version:        "v1." + now.Format("20060102150405"),
		RunID:          runID,
		TrainedAt:      now,
		Samples:        len(rows),
		Positives:      pos,
		Negatives:      neg,
		ScalePosWeight: spw,
		MeanAUC:        meanAUC,
		MeanAccuracy:   meanAcc,
		Folds:          folds,
		Importance:     importance,
		ImportanceRank: rankImportance(importance),
		DriftBaseline:  fitDriftBaseline(rows),
	}

	art := &Artifact{
		Version:    meta.Version,
		A:          finalA,
		B:          finalB,
		Normalizer: normalizer,
		Meta:       meta,
	}
	report := &TrainReport{
		Status:     "success",
		Message:    fmt.Sprintf("trained %s on %d samples, mean AUC %.3f", meta.Version, meta.Samples, meanAUC),
		Metadata:   meta,
		DurationMS: time.Since(start).Milliseconds(),
	}

	p.log.Info().
		Str("run_id", runID).
		Str("version", meta.Version).
		Float64("mean_auc", meanAUC).
		Float64("mean_accuracy", meta.MeanAccuracy).
		Int64("duration_ms", report.DurationMS).
		Msg("training run finished")

	return art, report, nil
}

// DatasetCheck is the result of a dry-run dataset validation: the same checks
// a training run performs, without fitting anything.
type DatasetCheck struct {
	OK        bool                      `json:"ok"`
	Samples   int                       `json:"samples"`
	Positives int                       `json:"positives"`
	Negatives int                       `json:"negatives"`
	WinRate   float64                   `json:"win_rate"`
	Features  map[string]FeatureSummary `json:"features,omitempty"`
	Issues    []string                  `json:"issues,omitempty"`
}

// FeatureSummary describes one raw feature column of the dataset.
type FeatureSummary struct {
	Mean float64 `json:"mean"`
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
}

// Check reports whether the dataset would pass training validation.
func (p *Pipeline) Check(samples []TrainingSample) DatasetCheck {
	check := DatasetCheck{Samples: len(samples)}

	if len(samples) < p.cfg.MinSamples {
		check.Issues = append(check.Issues,
			fmt.Sprintf("need at least %d samples, got %d", p.cfg.MinSamples, len(samples)))
	}

	badLabels := 0
	for _, s := range samples {
		switch s.Label {
		case 1:
			check.Positives++
		case 0:
			check.Negatives++
		default:
			badLabels++
		}
	}
	if badLabels > 0 {
		check.Issues = append(check.Issues, fmt.Sprintf("%d samples have labels outside {0, 1}", badLabels))
	}
	if len(samples) > 0 && (check.Positives == 0 || check.Negatives == 0) {
		check.Issues = append(check.Issues,
			fmt.Sprintf("dataset contains a single class (%d positive, %d negative)", check.Positives, check.Negatives))
	}
	if len(samples) > 0 && len(samples)/(p.cfg.Folds+1) < 1 {
		check.Issues = append(check.Issues,
			fmt.Sprintf("%d samples cannot form %d walk-forward folds", len(samples), p.cfg.Folds))
	}

	if check.Positives+check.Negatives > 0 {
		check.WinRate = float64(check.Positives) / float64(check.Positives+check.Negatives)
	}

	if len(samples) > 0 {
		check.Features = make(map[string]FeatureSummary, features.Count)
		col := make([]float64, len(samples))
		for feat := 0; feat < features.Count; feat++ {
			for i, s := range samples {
				col[i] = s.Features[feat]
			}
			mean, _ := stats.Mean(col)
			lo, _ := stats.Min(col)
			hi, _ := stats.Max(col)
			check.Features[features.Name(feat)] = FeatureSummary{Mean: mean, Min: lo, Max: hi}
		}
	}

	check.OK = len(check.Issues) == 0
	return check
}

// evaluateFolds runs walk-forward validation: the ordered dataset is cut into
// Folds equal test slices after an initial training prefix, each fold training
// on everything before its test slice.
func (p *Pipeline) evaluateFolds(ctx context.Context, rows []features.Vector, labels []int, cfgA, cfgB BoostConfig) ([]FoldResult, error) {
	n := len(rows)
	testSize := n / (p.cfg.Folds + 1)
	if testSize < 1 {
		return nil, validationErrorf("%d samples cannot form %d walk-forward folds", n, p.cfg.Folds)
	}
	remainder := n - testSize*(p.cfg.Folds+1)

	results := make([]FoldResult, p.cfg.Folds)
	for k := 0; k < p.cfg.Folds; k++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		trainEnd := remainder + testSize*(k+1)
		testEnd := trainEnd + testSize

		foldA, foldB, err := fitPair(ctx, cfgA, cfgB, rows[:trainEnd], labels[:trainEnd])
		if err != nil {
			return nil, err
		}

		scoresA := make([]float64, testSize)
		scoresB := make([]float64, testSize)
		scores := make([]float64, testSize)
		for i := trainEnd; i < testEnd; i++ {
			j := i - trainEnd
			scoresA[j] = foldA.PredictProba(rows[i])
			scoresB[j] = foldB.PredictProba(rows[i])
			scores[j] = p.cfg.WeightA*scoresA[j] + p.cfg.WeightB*scoresB[j]
		}

		test := labels[trainEnd:testEnd]
		auc, defined := AUC(scores, test)
		aucA, _ := AUC(scoresA, test)
		aucB, _ := AUC(scoresB, test)
		results[k] = FoldResult{
			Fold:       k + 1,
			TrainSize:  trainEnd,
			TestSize:   testSize,
			AUC:        auc,
			AUCA:       aucA,
			AUCB:       aucB,
			AUCDefined: defined,
			Accuracy:   Accuracy(scores, test),
		}
		if !defined {
			p.log.Warn().Int("fold", k+1).Msg("single-class test slice, AUC undefined")
		}
	}
	return results, nil
}

// fitPair trains both ensemble members concurrently on the same rows.
func fitPair(ctx context.Context, cfgA, cfgB BoostConfig, rows []features.Vector, labels []int) (*Boost, *Boost, error) {
	a, err := NewBoost(cfgA)
	if err != nil {
		return nil, nil, err
	}
	b, err := NewBoost(cfgB)
	if err != nil {
		return nil, nil, err
	}

	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error { return a.Fit(rows, labels) })
	g.Go(func() error { return b.Fit(rows, labels) })
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return a, b, nil
}

// blendImportance combines both members' split gains with the serving weights
// and normalizes the result to sum to one.
func blendImportance(a, b *Boost, wA, wB float64) map[string]float64 {
	impA := a.FeatureImportance()
	impB := b.FeatureImportance()

	var blended [features.Count]float64
	var total float64
	for i := 0; i < features.Count; i++ {
		blended[i] = wA*impA[i] + wB*impB[i]
		total += blended[i]
	}

	out := make(map[string]float64, features.Count)
	for i := 0; i < features.Count; i++ {
		if total > 0 {
			out[features.Name(i)] = blended[i] / total
		} else {
			out[features.Name(i)] = 0
		}
	}
	return out
}

// rankImportance orders the importance map for presentation, heaviest feature
// first. Ties break on name so the ranking is deterministic.
func rankImportance(imp map[string]float64) []ImportanceEntry {
	out := make([]ImportanceEntry, 0, len(imp))
	for name, w := range imp {
		out = append(out, ImportanceEntry{Feature: name, Weight: w})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Weight != out[j].Weight {
			return out[i].Weight > out[j].Weight
		}
		return out[i].Feature < out[j].Feature
	})
	return out
}
