package syncclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	loudness "loudness-monitor/internal/loudness/domain"
)

const defaultRequestTimeout = 10 * time.Second

// HTTPFetcher reads GET /measurements from a loudness-monitor server.
type HTTPFetcher struct {
	baseURL string
	client  *http.Client
	timeout time.Duration
	retries int
}

// NewHTTPFetcher constructs a fetcher. Each request is bounded by timeout and
// retried once on failure.
func NewHTTPFetcher(baseURL string, timeout time.Duration) (*HTTPFetcher, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("syncclient: empty base url")
	}
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &HTTPFetcher{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{},
		timeout: timeout,
		retries: 1,
	}, nil
}

// Fetch implements Fetcher.
func (f *HTTPFetcher) Fetch(ctx context.Context, req FetchRequest) ([]loudness.Measurement, error) {
	query := url.Values{}
	if !req.Since.IsZero() {
		query.Set("since", req.Since.UTC().Format(time.RFC3339Nano))
		if req.AfterID > 0 {
			query.Set("after_id", strconv.FormatInt(req.AfterID, 10))
		}
	}
	if req.Limit > 0 {
		query.Set("limit", strconv.Itoa(req.Limit))
	}
	endpoint := f.baseURL + "/measurements"
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var lastErr error
	for attempt := 0; attempt <= f.retries; attempt++ {
		out, err := f.get(ctx, endpoint)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return nil, lastErr
}

func (f *HTTPFetcher) get(ctx context.Context, endpoint string) ([]loudness.Measurement, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var body struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&body)
		if body.Error != "" {
			return nil, fmt.Errorf("syncclient: http %d: %s", resp.StatusCode, body.Error)
		}
		return nil, fmt.Errorf("syncclient: http %d", resp.StatusCode)
	}
	var out []loudness.Measurement
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("syncclient: decode measurements: %w", err)
	}
	return out, nil
}

// StoreFetcher reads directly from a measurement repository.
type StoreFetcher struct {
	repo loudness.MeasurementRepository
}

// NewStoreFetcher constructs a StoreFetcher.
func NewStoreFetcher(repo loudness.MeasurementRepository) (*StoreFetcher, error) {
	if repo == nil {
		return nil, loudness.ErrNilRepository
	}
	return &StoreFetcher{repo: repo}, nil
}

// Fetch implements Fetcher.
func (f *StoreFetcher) Fetch(ctx context.Context, req FetchRequest) ([]loudness.Measurement, error) {
	query := loudness.MeasurementQuery{Order: loudness.OrderAsc, Limit: req.Limit}
	if req.AfterID > 0 {
		query.Cursor = &loudness.Cursor{Timestamp: req.Since, ID: req.AfterID}
	} else {
		query.After = req.Since
	}
	return f.repo.Select(ctx, query)
}
