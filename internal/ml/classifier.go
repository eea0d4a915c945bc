package ml

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/fnv"
	"io/fs"
	"math"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"signal-scorer/internal/features"
)

// Tier is the quality band assigned to a blended probability.
type Tier string

const (
	TierHigh   Tier = "HIGH"
	TierMedium Tier = "MEDIUM"
	TierLow    Tier = "LOW"
	TierFilter Tier = "FILTER"
)

// Prediction is the scored output for one signal.
type Prediction struct {
	SignalID     string  `json:"signal_id,omitempty"`
	Symbol       string  `json:"symbol,omitempty"`
	Probability  float64 `json:"probability"`
	ProbabilityA float64 `json:"probability_a"`
	ProbabilityB float64 `json:"probability_b"`
	Tier         Tier    `json:"quality_tier"`
	Confidence   float64 `json:"confidence"`
	ShouldFilter bool    `json:"should_filter"`
	ModelVersion string  `json:"model_version"`
}

// Artifact is one immutable trained model generation: both predictors, the
// fitted normalizer and the run metadata. Once published it is never mutated;
// retraining produces a new Artifact and swaps the pointer.
type Artifact struct {
	Version    string
	A          *Boost
	B          *Boost
	Normalizer *features.Normalizer
	Meta       Metadata
}

// ClassifierConfig holds serving-side parameters: blend weights, tier cut
// points and prediction cache size.
type ClassifierConfig struct {
	WeightA         float64 `yaml:"weightA"`
	WeightB         float64 `yaml:"weightB"`
	HighThreshold   float64 `yaml:"highThreshold"`
	MediumThreshold float64 `yaml:"mediumThreshold"`
	LowThreshold    float64 `yaml:"lowThreshold"`
	CacheSize       int     `yaml:"cacheSize"`
}

// DefaultClassifierConfig returns the production serving parameters.
func DefaultClassifierConfig() ClassifierConfig {
	return ClassifierConfig{
		WeightA:         0.6,
		WeightB:         0.4,
		HighThreshold:   0.70,
		MediumThreshold: 0.55,
		LowThreshold:    0.40,
		CacheSize:       1024,
	}
}

// Validate checks blend weights and tier ordering.
func (c ClassifierConfig) Validate() error {
	if c.WeightA <= 0 || c.WeightB <= 0 {
		return fmt.Errorf("classifier config: blend weights must be positive, got %f/%f", c.WeightA, c.WeightB)
	}
	if math.Abs(c.WeightA+c.WeightB-1) > 1e-9 {
		return fmt.Errorf("classifier config: blend weights must sum to 1, got %f", c.WeightA+c.WeightB)
	}
	if !(c.HighThreshold > c.MediumThreshold && c.MediumThreshold > c.LowThreshold && c.LowThreshold > 0) {
		return fmt.Errorf("classifier config: tier thresholds must satisfy high > medium > low > 0")
	}
	if c.HighThreshold >= 1 {
		return fmt.Errorf("classifier config: high threshold must be below 1, got %f", c.HighThreshold)
	}
	if c.CacheSize < 1 {
		return fmt.Errorf("classifier config: cache size must be positive, got %d", c.CacheSize)
	}
	return nil
}

func (c ClassifierConfig) tierFor(p float64) Tier {
	switch {
	case p >= c.HighThreshold:
		return TierHigh
	case p >= c.MediumThreshold:
		return TierMedium
	case p >= c.LowThreshold:
		return TierLow
	default:
		return TierFilter
	}
}

// Stats is the serving-state snapshot exposed by the stats endpoint.
type Stats struct {
	Trained           bool           `json:"trained"`
	ModelVersion      string         `json:"model_version,omitempty"`
	TrainedAt         time.Time      `json:"trained_at,omitempty"`
	Samples           int            `json:"samples,omitempty"`
	MeanAUC           float64        `json:"mean_auc,omitempty"`
	PredictionsServed int64          `json:"predictions_served"`
	CacheEntries      int            `json:"cache_entries"`
	Drift             *DriftSnapshot `json:"drift,omitempty"`
}

// Classifier serves ensemble predictions. The live Artifact is held behind an
// atomic pointer so the prediction path never takes a lock; Train and Load
// are serialized by a mutex and publish by swapping the pointer.
type Classifier struct {
	cfg      ClassifierConfig
	pipeline *Pipeline
	store    *ModelStore
	log      zerolog.Logger

	current atomic.Pointer[Artifact]
	trainMu sync.Mutex
	served  atomic.Int64
	cache   *lru.Cache[string, Prediction]
	onHit   func()
	drift   *DriftMonitor
}

// SetCacheHitHook registers a callback invoked on every cache-served
// prediction. Set once at wiring time, before the classifier takes traffic.
func (c *Classifier) SetCacheHitHook(fn func()) { c.onHit = fn }

// NewClassifier wires a classifier. store may be nil for a purely in-memory
// instance, as used in tests.
func NewClassifier(cfg ClassifierConfig, pcfg PipelineConfig, store *ModelStore, log zerolog.Logger) (*Classifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	pipeline, err := NewPipeline(pcfg, log)
	if err != nil {
		return nil, err
	}
	cache, err := lru.New[string, Prediction](cfg.CacheSize)
	if err != nil {
		return nil, err
	}
	return &Classifier{
		cfg:      cfg,
		pipeline: pipeline,
		store:    store,
		log:      log.With().Str("component", "classifier").Logger(),
		cache:    cache,
		drift:    NewDriftMonitor(),
	}, nil
}

// Ready reports whether a model generation is live.
func (c *Classifier) Ready() bool { return c.current.Load() != nil }

// Version returns the live model version, or empty when not ready.
func (c *Classifier) Version() string {
	if art := c.current.Load(); art != nil {
		return art.Version
	}
	return ""
}

// Predict scores one record. Returns ErrNotReady before the first successful
// Train or Load.
func (c *Classifier) Predict(rec *features.Record) (Prediction, error) {
	pred, err := c.PredictVector(rec.Vector())
	if err != nil {
		return Prediction{}, err
	}
	pred.SignalID = rec.SignalID
	pred.Symbol = rec.Symbol
	return pred, nil
}

// PredictVector scores a raw canonical-order vector. Omitted-field defaults
// are the caller's concern at this level.
func (c *Classifier) PredictVector(vec features.Vector) (Prediction, error) {
	art := c.current.Load()
	if art == nil {
		return Prediction{}, ErrNotReady
	}
	c.served.Add(1)

	key := cacheKey(art.Version, vec)
	if cached, ok := c.cache.Get(key); ok {
		if c.onHit != nil {
			c.onHit()
		}
		return cached, nil
	}

	norm := art.Normalizer.TransformVector(vec)
	c.drift.Observe(norm)

	pA := art.A.PredictProba(norm)
	pB := art.B.PredictProba(norm)
	p := c.cfg.WeightA*pA + c.cfg.WeightB*pB

	pred := Prediction{
		Probability:  p,
		ProbabilityA: pA,
		ProbabilityB: pB,
		Tier:         c.cfg.tierFor(p),
		Confidence:   math.Min(100, math.Abs(p-0.5)*200),
		ShouldFilter: p < c.cfg.LowThreshold,
		ModelVersion: art.Version,
	}
	c.cache.Add(key, pred)
	return pred, nil
}

// PredictBatch scores records in order through the scalar path, so batch
// output is identical to the same calls made one at a time.
func (c *Classifier) PredictBatch(recs []features.Record) ([]Prediction, error) {
	out := make([]Prediction, len(recs))
	for i := range recs {
		pred, err := c.Predict(&recs[i])
		if err != nil {
			return nil, err
		}
		out[i] = pred
	}
	return out, nil
}

// CheckDataset dry-runs training validation over the samples.
func (c *Classifier) CheckDataset(samples []TrainingSample) DatasetCheck {
	return c.pipeline.Check(samples)
}

// Train runs the pipeline on the samples and, on success, persists and
// publishes the new generation. The previous generation keeps serving until
// the swap; a failed run leaves it untouched.
func (c *Classifier) Train(ctx context.Context, samples []TrainingSample) (*TrainReport, error) {
	c.trainMu.Lock()
	defer c.trainMu.Unlock()

	art, report, err := c.pipeline.Run(ctx, samples)
	if err != nil {
		return nil, err
	}

	if c.store != nil {
		if err := c.store.Save(art); err != nil {
			return nil, fmt.Errorf("persist model %s: %w", art.Version, err)
		}
	}

	c.publish(art)
	return report, nil
}

// Load restores the persisted current generation. A store with no model yet
// returns ErrNotReady; the caller decides whether that is fatal.
func (c *Classifier) Load() error {
	if c.store == nil {
		return errors.New("no model store configured")
	}

	c.trainMu.Lock()
	defer c.trainMu.Unlock()

	art, err := c.store.LoadCurrent()
	if errors.Is(err, fs.ErrNotExist) {
		return ErrNotReady
	}
	if err != nil {
		return err
	}

	c.publish(art)
	c.log.Info().Str("version", art.Version).Msg("model loaded from store")
	return nil
}

func (c *Classifier) publish(art *Artifact) {
	c.current.Store(art)
	c.cache.Purge()
	c.drift.SetBaseline(art.Meta.DriftBaseline)
	c.log.Info().
		Str("version", art.Version).
		Int("samples", art.Meta.Samples).
		Float64("mean_auc", art.Meta.MeanAUC).
		Msg("model generation published")
}

// Stats returns a serving-state snapshot.
func (c *Classifier) Stats() Stats {
	s := Stats{
		PredictionsServed: c.served.Load(),
		CacheEntries:      c.cache.Len(),
	}
	if art := c.current.Load(); art != nil {
		s.Trained = true
		s.ModelVersion = art.Version
		s.TrainedAt = art.Meta.TrainedAt
		s.Samples = art.Meta.Samples
		s.MeanAUC = art.Meta.MeanAUC
		if snap := c.drift.Snapshot(); snap != nil {
			s.Drift = snap
		}
	}
	return s
}

// cacheKey identifies a prediction by model generation and exact input
// vector, so a generation swap can never serve stale scores.
func cacheKey(version string, v features.Vector) string {
	h := fnv.New64a()
	var buf [8]byte
	for _, f := range v {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(f))
		h.Write(buf[:])
	}
	return version + "|" + fmt.Sprintf("%016x", h.Sum64())
}
