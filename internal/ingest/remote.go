package ingest

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"signal-scorer/internal/storage"
)

// RemoteSource pulls labeled signal archives from an upstream HTTP service,
// typically the signal generator's outcome tracker.
type RemoteSource struct {
	rest *resty.Client
	base string
}

// NewRemoteSource builds a client for the archive at base. apiKey may be
// empty when the upstream is unauthenticated.
func NewRemoteSource(base, apiKey string, timeout time.Duration) *RemoteSource {
	r := resty.New()
	if timeout > 0 {
		r.SetTimeout(timeout)
	} else {
		r.SetTimeout(10 * time.Second) // default fallback
	}
	if apiKey != "" {
		r.SetHeader("api-key", apiKey)
	}
	return &RemoteSource{rest: r, base: base}
}

// Fetch retrieves labeled records resolved at or after sinceMS. The upstream
// endpoint returns a JSON array of labeled records.
func (s *RemoteSource) Fetch(ctx context.Context, sinceMS int64) ([]storage.Sample, error) {
	path := "/api/v1/signals/resolved"

	params := map[string]string{}
	if sinceMS > 0 {
		params["since"] = strconv.FormatInt(sinceMS, 10)
	}

	var recs []LabeledRecord
	resp, err := s.rest.R().
		SetContext(ctx).
		SetQueryParams(params).
		SetResult(&recs).
		Get(s.base + path)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("archive error: status %d, body: %s", resp.StatusCode(), resp.String())
	}

	return FromRecords(recs, time.Now().UnixMilli())
}
