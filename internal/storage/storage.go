// Package storage persists labeled training samples for the signal scorer.
// It uses BoltDB as the underlying storage engine, keyed so that a cursor
// scan returns samples in chronological order, which the training pipeline
// relies on for walk-forward validation.
package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"signal-scorer/internal/features"
)

const samplesBucket = "samples" // Bucket name for labeled training samples

// Sample is one labeled observation: the raw feature vector of a signal plus
// its resolved outcome (1=WIN, 0=LOSS).
type Sample struct {
	SignalID  string          `json:"signal_id"`
	Symbol    string          `json:"symbol,omitempty"`
	Timestamp int64           `json:"timestamp"` // unix milliseconds
	Features  features.Vector `json:"features"`
	Label     int             `json:"label"`
}

// DataStats summarizes the stored dataset.
type DataStats struct {
	Total    int            `json:"total"`
	Wins     int            `json:"wins"`
	Losses   int            `json:"losses"`
	WinRate  float64        `json:"win_rate"`
	OldestMS int64          `json:"oldest_ms,omitempty"`
	NewestMS int64          `json:"newest_ms,omitempty"`
	Symbols  map[string]int `json:"symbols,omitempty"`
}

// Store provides persistent sample storage using BoltDB.
type Store struct {
	db *bbolt.DB
}

// New opens (creating if needed) the sample database at dbPath.
func New(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(samplesBucket)); err != nil {
			return fmt.Errorf("create samples bucket: %w", err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the database connection gracefully.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// sampleKey sorts chronologically: a zero-padded timestamp prefix followed
// by the signal ID to disambiguate samples sharing a millisecond.
func sampleKey(sm Sample) []byte {
	return []byte(fmt.Sprintf("%020d_%s", sm.Timestamp, sm.SignalID))
}

// Put stores one sample. Writing the same signal ID and timestamp again
// overwrites the previous record.
func (s *Store) Put(sample Sample) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return putSample(tx, sample)
	})
}

// PutBatch stores samples in a single transaction.
func (s *Store) PutBatch(samples []Sample) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, sm := range samples {
			if err := putSample(tx, sm); err != nil {
				return err
			}
		}
		return nil
	})
}

func putSample(tx *bbolt.Tx, sm Sample) error {
	if sm.Label != 0 && sm.Label != 1 {
		return fmt.Errorf("sample %s: label must be 0 or 1, got %d", sm.SignalID, sm.Label)
	}

	b := tx.Bucket([]byte(samplesBucket))
	data, err := json.Marshal(sm)
	if err != nil {
		return fmt.Errorf("marshal sample: %w", err)
	}
	return b.Put(sampleKey(sm), data)
}

// All returns every stored sample in chronological order.
func (s *Store) All() ([]Sample, error) {
	return s.Range(0, 1<<62)
}

// Range returns samples with startMS <= Timestamp < endMS in chronological
// order. Malformed records are skipped.
func (s *Store) Range(startMS, endMS int64) ([]Sample, error) {
	var out []Sample

	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(samplesBucket)).Cursor()

		startKey := []byte(fmt.Sprintf("%020d", startMS))
		endKey := []byte(fmt.Sprintf("%020d", endMS))

		for k, v := c.Seek(startKey); k != nil && bytes.Compare(k, endKey) < 0; k, v = c.Next() {
			var sm Sample
			if err := json.Unmarshal(v, &sm); err != nil {
				continue
			}
			out = append(out, sm)
		}
		return nil
	})

	return out, err
}

// Count returns the number of stored samples.
func (s *Store) Count() (int, error) {
	var n int
	err := s.db.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket([]byte(samplesBucket)).Stats().KeyN
		return nil
	})
	return n, err
}

// Stats walks the dataset and summarizes label balance, time span and
// per-symbol counts.
func (s *Store) Stats() (DataStats, error) {
	stats := DataStats{Symbols: make(map[string]int)}

	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(samplesBucket)).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var sm Sample
			if err := json.Unmarshal(v, &sm); err != nil {
				continue
			}

			stats.Total++
			if sm.Label == 1 {
				stats.Wins++
			} else {
				stats.Losses++
			}
			if sm.Symbol != "" {
				stats.Symbols[sm.Symbol]++
			}
			if stats.OldestMS == 0 || sm.Timestamp < stats.OldestMS {
				stats.OldestMS = sm.Timestamp
			}
			if sm.Timestamp > stats.NewestMS {
				stats.NewestMS = sm.Timestamp
			}
		}
		return nil
	})
	if err != nil {
		return DataStats{}, err
	}

	if stats.Total > 0 {
		stats.WinRate = float64(stats.Wins) / float64(stats.Total)
	}
	return stats, nil
}
