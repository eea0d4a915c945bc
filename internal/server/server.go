// Package server exposes the scoring engine over HTTP: prediction, training,
// dataset ingestion, stats and a WebSocket event stream.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"signal-scorer/internal/features"
	"signal-scorer/internal/ingest"
	"signal-scorer/internal/metrics"
	"signal-scorer/internal/ml"
	"signal-scorer/internal/storage"
)

const maxBodyBytes = 32 << 20

// Server wires the classifier, sample store and remote source behind the
// JSON API.
type Server struct {
	cls      *ml.Classifier
	samples  *storage.Store
	remote   *ingest.RemoteSource
	met      *metrics.Metrics
	hub      *Hub
	log      zerolog.Logger
	maxBatch int
}

// New builds a server. remote may be nil when no upstream archive is
// configured.
func New(cls *ml.Classifier, samples *storage.Store, remote *ingest.RemoteSource, met *metrics.Metrics, maxBatch int, log zerolog.Logger) *Server {
	cls.SetCacheHitHook(met.CacheHits.Inc)
	return &Server{
		cls:      cls,
		samples:  samples,
		remote:   remote,
		met:      met,
		hub:      NewHub(met, log),
		log:      log.With().Str("component", "server").Logger(),
		maxBatch: maxBatch,
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/predict", s.handlePredict)
	mux.HandleFunc("POST /api/v1/predict/batch", s.handlePredictBatch)
	mux.HandleFunc("POST /api/v1/samples", s.handleSamples)
	mux.HandleFunc("POST /api/v1/train", s.handleTrain)
	mux.HandleFunc("POST /api/v1/train/csv", s.handleTrainCSV)
	mux.HandleFunc("POST /api/v1/train/remote", s.handleTrainRemote)
	mux.HandleFunc("POST /api/v1/validate", s.handleValidate)
	mux.HandleFunc("POST /api/v1/reload", s.handleReload)
	mux.HandleFunc("GET /api/v1/stats", s.handleStats)
	mux.HandleFunc("GET /api/v1/features", s.handleFeatures)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /ws/stats", s.hub.HandleWS)

	return mux
}

// Shutdown disconnects streaming clients.
func (s *Server) Shutdown() {
	s.hub.Close()
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	var rec features.Record
	if err := decodeBody(r, &rec); err != nil {
		s.writeError(w, &badRequestError{err.Error()})
		return
	}

	start := time.Now()
	pred, err := s.cls.Predict(&rec)
	if err != nil {
		s.met.PredictionFailures.Inc()
		s.writeError(w, err)
		return
	}

	s.met.ObservePrediction(pred.Probability, string(pred.Tier), pred.ShouldFilter, time.Since(start).Seconds())
	s.hub.Broadcast(map[string]interface{}{"type": "prediction", "prediction": pred})
	writeJSON(w, http.StatusOK, pred)
}

func (s *Server) handlePredictBatch(w http.ResponseWriter, r *http.Request) {
	var recs []features.Record
	if err := decodeBody(r, &recs); err != nil {
		s.writeError(w, &badRequestError{err.Error()})
		return
	}
	if len(recs) == 0 {
		s.writeError(w, &badRequestError{"batch is empty"})
		return
	}
	if len(recs) > s.maxBatch {
		s.writeError(w, &badRequestError{fmt.Sprintf("batch of %d exceeds limit %d", len(recs), s.maxBatch)})
		return
	}

	start := time.Now()
	preds, err := s.cls.PredictBatch(recs)
	if err != nil {
		s.met.PredictionFailures.Inc()
		s.writeError(w, err)
		return
	}

	elapsed := time.Since(start).Seconds() / float64(len(preds))
	byID := make(map[string]ml.Prediction, len(preds))
	for i, p := range preds {
		s.met.ObservePrediction(p.Probability, string(p.Tier), p.ShouldFilter, elapsed)
		key := p.SignalID
		if key == "" {
			key = fmt.Sprintf("record_%d", i)
		}
		byID[key] = p
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"predictions": byID,
		"count":       len(preds),
	})
}

func (s *Server) handleSamples(w http.ResponseWriter, r *http.Request) {
	n, err := s.ingestRecords(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"stored": n})
}

// handleTrain ingests the posted records (if any) and retrains on the full
// stored dataset.
func (s *Server) handleTrain(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength != 0 {
		if _, err := s.ingestRecords(r); err != nil {
			s.writeError(w, err)
			return
		}
	}
	s.trainFromStore(w, r)
}

func (s *Server) handleTrainCSV(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	batch, err := ingest.DecodeCSV(r.Body)
	if err != nil {
		s.writeError(w, &badRequestError{err.Error()})
		return
	}
	if err := s.storeBatch(batch); err != nil {
		s.writeError(w, err)
		return
	}
	s.trainFromStore(w, r)
}

func (s *Server) handleTrainRemote(w http.ResponseWriter, r *http.Request) {
	if s.remote == nil {
		s.writeError(w, &badRequestError{"no remote sample source configured"})
		return
	}

	var since int64
	if v := r.URL.Query().Get("since"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			s.writeError(w, &badRequestError{fmt.Sprintf("invalid since parameter %q", v)})
			return
		}
		since = parsed
	}

	batch, err := s.remote.Fetch(r.Context(), since)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.storeBatch(batch); err != nil {
		s.writeError(w, err)
		return
	}
	s.trainFromStore(w, r)
}

// handleValidate dry-runs training validation over the stored dataset without
// fitting a model.
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	stored, err := s.samples.All()
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.cls.CheckDataset(ingest.ToTraining(stored)))
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if err := s.cls.Load(); err != nil {
		s.writeError(w, err)
		return
	}
	s.publishModelGauges()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "reloaded",
		"version": s.cls.Version(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{"model": s.cls.Stats()}
	if ds, err := s.samples.Stats(); err == nil {
		resp["dataset"] = ds
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleFeatures(w http.ResponseWriter, r *http.Request) {
	names := features.Names()
	defaults := make(map[string]float64)
	for i, name := range names {
		if d := features.Default(i); d != 0 {
			defaults[name] = d
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"features": names,
		"count":    features.Count,
		"defaults": defaults,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "ok",
		"model_ready": s.cls.Ready(),
	})
}

// ingestRecords decodes a labeled record batch from the request and stores it.
func (s *Server) ingestRecords(r *http.Request) (int, error) {
	var recs []ingest.LabeledRecord
	if err := decodeBody(r, &recs); err != nil {
		return 0, &badRequestError{err.Error()}
	}
	if len(recs) == 0 {
		return 0, &badRequestError{"no records in request"}
	}

	batch, err := ingest.FromRecords(recs, time.Now().UnixMilli())
	if err != nil {
		return 0, &badRequestError{err.Error()}
	}
	if err := s.storeBatch(batch); err != nil {
		return 0, err
	}
	return len(batch), nil
}

func (s *Server) storeBatch(batch []storage.Sample) error {
	if err := s.samples.PutBatch(batch); err != nil {
		return err
	}
	s.met.SamplesStored.Add(float64(len(batch)))
	return nil
}

// trainFromStore runs a training cycle over the full stored dataset and
// responds with the run report.
func (s *Server) trainFromStore(w http.ResponseWriter, r *http.Request) {
	stored, err := s.samples.All()
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.met.TrainingRuns.Inc()
	report, err := s.cls.Train(r.Context(), ingest.ToTraining(stored))
	if err != nil {
		s.met.TrainingFailures.Inc()
		s.writeError(w, err)
		return
	}

	s.met.TrainingDuration.Observe(float64(report.DurationMS) / 1000)
	s.publishModelGauges()
	s.hub.Broadcast(map[string]interface{}{"type": "training_completed", "report": report})
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) publishModelGauges() {
	stats := s.cls.Stats()
	if stats.Trained {
		s.met.ModelMeanAUC.Set(stats.MeanAUC)
		s.met.ModelAge.Set(time.Since(stats.TrainedAt).Seconds())
	}
}

// badRequestError marks client errors that are not dataset validation
// failures (malformed JSON, oversized batches, unknown parameters).
type badRequestError struct {
	msg string
}

func (e *badRequestError) Error() string { return e.msg }

// writeError maps errors onto status codes: not-ready conditions are 503,
// client and validation errors are 400, everything else is 500.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var brErr *badRequestError

	switch {
	case errors.Is(err, ml.ErrNotReady):
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
	case ml.IsValidation(err), errors.As(err, &brErr):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	default:
		s.met.ErrorsTotal.Inc()
		s.log.Error().Err(err).Msg("request failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}

func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
