// Package ingest turns external training data (CSV files, JSON record
// batches, remote signal archives) into stored samples.
package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"signal-scorer/internal/features"
	"signal-scorer/internal/ml"
	"signal-scorer/internal/storage"
)

// LabeledRecord is a feature record plus its resolved outcome, as received
// from training endpoints and remote archives.
type LabeledRecord struct {
	features.Record
	Outcome   string `json:"outcome"`
	Timestamp int64  `json:"timestamp,omitempty"` // unix milliseconds
}

// ParseOutcome maps an outcome string to a binary label. Accepted values are
// WIN/LOSS and 1/0, case-insensitive.
func ParseOutcome(s string) (int, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "WIN", "1":
		return 1, nil
	case "LOSS", "0":
		return 0, nil
	default:
		return 0, fmt.Errorf("outcome must be WIN, LOSS, 1 or 0, got %q", s)
	}
}

// FromRecords converts labeled records to samples. Records without a
// timestamp keep their batch position as ordering, offset from base so the
// relative order of mixed batches is preserved.
func FromRecords(recs []LabeledRecord, base int64) ([]storage.Sample, error) {
	out := make([]storage.Sample, 0, len(recs))
	for i, rec := range recs {
		label, err := ParseOutcome(rec.Outcome)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}

		ts := rec.Timestamp
		if ts == 0 {
			ts = base + int64(i)
		}

		out = append(out, storage.Sample{
			SignalID:  rec.SignalID,
			Symbol:    rec.Symbol,
			Timestamp: ts,
			Features:  rec.Record.Vector(),
			Label:     label,
		})
	}
	return out, nil
}

// DecodeCSV reads a training dataset from CSV. The header row names the
// columns: feature columns are matched against the canonical feature names,
// an "outcome" (or "label") column is required, and "timestamp", "signal_id"
// and "symbol" columns are recognized when present. Unknown columns are
// ignored; missing feature columns take their documented defaults.
func DecodeCSV(r io.Reader) ([]storage.Sample, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}

	outcomeCol, tsCol, idCol, symbolCol := -1, -1, -1, -1
	featureCols := map[int]int{} // csv column -> vector index
	for i, name := range header {
		name = strings.TrimSpace(strings.ToLower(name))
		switch name {
		case "outcome", "label":
			outcomeCol = i
		case "timestamp":
			tsCol = i
		case "signal_id":
			idCol = i
		case "symbol":
			symbolCol = i
		default:
			if idx := features.Index(name); idx >= 0 {
				featureCols[i] = idx
			}
		}
	}
	if outcomeCol < 0 {
		return nil, fmt.Errorf("csv is missing an outcome column")
	}
	if len(featureCols) == 0 {
		return nil, fmt.Errorf("csv contains no recognized feature columns")
	}

	var samples []storage.Sample
	for row := 1; ; row++ {
		fields, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("csv row %d: %w", row, err)
		}

		label, err := ParseOutcome(fields[outcomeCol])
		if err != nil {
			return nil, fmt.Errorf("csv row %d: %w", row, err)
		}

		sample := storage.Sample{Timestamp: int64(row), Label: label}
		if idCol >= 0 {
			sample.SignalID = strings.TrimSpace(fields[idCol])
		}
		if symbolCol >= 0 {
			sample.Symbol = strings.TrimSpace(fields[symbolCol])
		}
		if tsCol >= 0 {
			ts, err := strconv.ParseInt(strings.TrimSpace(fields[tsCol]), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("csv row %d: invalid timestamp %q", row, fields[tsCol])
			}
			sample.Timestamp = ts
		}

		vec := features.Vector{}
		for j := 0; j < features.Count; j++ {
			vec[j] = features.Default(j)
		}
		for col, idx := range featureCols {
			raw := strings.TrimSpace(fields[col])
			if raw == "" {
				continue // keep the default
			}
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return nil, fmt.Errorf("csv row %d: column %s: invalid value %q", row, header[col], raw)
			}
			vec[idx] = v
		}
		sample.Features = vec

		samples = append(samples, sample)
	}

	if len(samples) == 0 {
		return nil, fmt.Errorf("csv contains no data rows")
	}
	return samples, nil
}

// ToTraining converts stored samples into the pipeline's input form.
func ToTraining(samples []storage.Sample) []ml.TrainingSample {
	out := make([]ml.TrainingSample, len(samples))
	for i, sm := range samples {
		out[i] = ml.TrainingSample{
			Timestamp: sm.Timestamp,
			Features:  sm.Features,
			Label:     sm.Label,
		}
	}
	return out
}
