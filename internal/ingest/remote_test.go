package ingest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRemoteSource_Fetch(t *testing.T) {
	rsi := 70.0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/signals/resolved", r.URL.Path)
		assert.Equal(t, "1000", r.URL.Query().Get("since"))
		assert.Equal(t, "secret", r.Header.Get("api-key"))

		recs := []LabeledRecord{
			{Outcome: "WIN", Timestamp: 2000},
			{Outcome: "LOSS", Timestamp: 3000},
		}
		recs[0].SignalID = "sig-1"
		recs[0].RSI1h = &rsi

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(recs)
	}))
	defer srv.Close()

	src := NewRemoteSource(srv.URL, "secret", 5*time.Second)
	samples, err := src.Fetch(context.Background(), 1000)
	require.NoError(t, err)
	require.Len(t, samples, 2)

	assert.Equal(t, "sig-1", samples[0].SignalID)
	assert.Equal(t, int64(2000), samples[0].Timestamp)
	assert.Equal(t, 1, samples[0].Label)
	assert.Equal(t, 0, samples[1].Label)
}

func TestRemoteSource_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "archive offline", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	src := NewRemoteSource(srv.URL, "", time.Second)
	_, err := src.Fetch(context.Background(), 0)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "status 503")
}
