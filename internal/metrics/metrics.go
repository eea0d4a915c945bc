// Package metrics provides Prometheus metrics collection for the signal
// scoring service. It defines and manages all prediction, training, and
// system metrics exposed via the Prometheus metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the scoring service.
type Metrics struct {
	// Prediction metrics
	Predictions        prometheus.Counter    // Total number of predictions served
	PredictionFailures prometheus.Counter    // Total number of failed prediction requests
	PredictionLatency  prometheus.Histogram  // End-to-end prediction latency in seconds
	PredictionScores   prometheus.Histogram  // Distribution of blended win probabilities
	TierAssignments    *prometheus.CounterVec // Predictions per quality tier
	SignalsFiltered    prometheus.Counter    // Predictions that fell below the filter threshold
	CacheHits          prometheus.Counter    // Prediction cache hits

	// Training metrics
	TrainingRuns     prometheus.Counter   // Total number of training runs started
	TrainingFailures prometheus.Counter   // Total number of failed training runs
	TrainingDuration prometheus.Histogram // Training run duration in seconds
	ModelAge         prometheus.Gauge     // Age of the live model generation in seconds
	ModelMeanAUC     prometheus.Gauge     // Walk-forward mean AUC of the live generation
	SamplesStored    prometheus.Counter   // Total number of training samples ingested

	// System metrics
	ErrorsTotal prometheus.Counter // Total number of errors encountered
	WSClients   prometheus.Gauge   // Connected stats stream clients
}

// New creates and registers all Prometheus metrics using the default registry.
// This is the standard way to create metrics for production use.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates metrics with a custom registry (useful for testing).
// This allows for isolated metric collection in tests without affecting
// the global Prometheus registry.
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		Predictions: factory.NewCounter(prometheus.CounterOpts{
			Name: "predictions_total",
			Help: "Total number of predictions served",
		}),
		PredictionFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "prediction_failures_total",
			Help: "Total number of failed prediction requests",
		}),
		PredictionLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "prediction_latency_seconds",
			Help:    "End-to-end prediction latency in seconds",
			Buckets: []float64{0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1},
		}),
		PredictionScores: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "prediction_scores",
			Help:    "Distribution of blended win probabilities",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		}),
		TierAssignments: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tier_assignments_total",
			Help: "Predictions per quality tier",
		}, []string{"tier"}),
		SignalsFiltered: factory.NewCounter(prometheus.CounterOpts{
			Name: "signals_filtered_total",
			Help: "Predictions that fell below the filter threshold",
		}),
		CacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "prediction_cache_hits_total",
			Help: "Prediction cache hits",
		}),
		TrainingRuns: factory.NewCounter(prometheus.CounterOpts{
			Name: "training_runs_total",
			Help: "Total number of training runs started",
		}),
		TrainingFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "training_failures_total",
			Help: "Total number of failed training runs",
		}),
		TrainingDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "training_duration_seconds",
			Help:    "Training run duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		ModelAge: factory.NewGauge(prometheus.GaugeOpts{
			Name: "model_age_seconds",
			Help: "Age of the live model generation in seconds",
		}),
		ModelMeanAUC: factory.NewGauge(prometheus.GaugeOpts{
			Name: "model_mean_auc",
			Help: "Walk-forward mean AUC of the live model generation",
		}),
		SamplesStored: factory.NewCounter(prometheus.CounterOpts{
			Name: "samples_stored_total",
			Help: "Total number of training samples ingested",
		}),
		ErrorsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "errors_total",
			Help: "Total number of errors encountered",
		}),
		WSClients: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ws_clients",
			Help: "Connected stats stream clients",
		}),
	}
}

// ObservePrediction records the standard per-prediction metrics in one call.
func (m *Metrics) ObservePrediction(probability float64, tier string, filtered bool, seconds float64) {
	m.Predictions.Inc()
	m.PredictionScores.Observe(probability)
	m.PredictionLatency.Observe(seconds)
	m.TierAssignments.WithLabelValues(tier).Inc()
	if filtered {
		m.SignalsFiltered.Inc()
	}
}
