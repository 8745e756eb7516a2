// GovSense - French Public Sector Open Data Analytics
// Copyright 2026 GovSense Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/govsense/govsense

// Package ingest fetches raw tabular data from the data.gouv.fr API.
//
// A fetch resolves the dataset slug to its first CSV resource, downloads
// it and parses it row by row into untyped RawRecords. Transient
// failures (connection errors, 5xx, timeouts) are retried with
// exponential backoff up to a fixed ceiling; permanent failures (4xx,
// headerless payloads) fail the dataset immediately. A circuit breaker
// sits in front of the remote API so a flapping source does not burn
// the retry budget of every dataset in a run.
package ingest

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/govsense/govsense/internal/logging"
	"github.com/govsense/govsense/internal/metrics"
	"github.com/govsense/govsense/internal/models"
	"github.com/govsense/govsense/internal/registry"
)

// DefaultBaseURL is the production data.gouv.fr API root.
const DefaultBaseURL = "https://www.data.gouv.fr/api/1"

// RawRecord is one row as fetched: untyped text fields keyed by the
// source header. Ephemeral; consumed by the cleaner, never persisted.
type RawRecord struct {
	Fields map[string]string
}

// Config holds ingestion client settings.
type Config struct {
	// BaseURL is the data.gouv.fr API root.
	BaseURL string
	// Timeout bounds each individual HTTP attempt, independent of the
	// retry ceiling.
	Timeout time.Duration
	// RetryAttempts is the total number of attempts for transient
	// failures.
	RetryAttempts int
	// RetryDelay is the initial backoff delay, doubled per attempt.
	RetryDelay time.Duration
	// RateLimit caps requests per second against the remote API.
	RateLimit float64
}

// DefaultConfig returns settings polite enough for data.gouv.fr.
func DefaultConfig() Config {
	return Config{
		BaseURL:       DefaultBaseURL,
		Timeout:       2 * time.Minute,
		RetryAttempts: 4,
		RetryDelay:    2 * time.Second,
		RateLimit:     2,
	}
}

// Client fetches dataset payloads. Safe for concurrent use.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	breaker *apiBreaker
}

// NewClient creates an ingestion client.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 4
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 2 * time.Second
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 2
	}

	return &Client{
		cfg:     cfg,
		http:    &http.Client{},
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), 1),
		breaker: newAPIBreaker("datagouv-api"),
	}
}

// datasetMeta is the subset of the dataset metadata document we read.
type datasetMeta struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Resources []struct {
		ID     string `json:"id"`
		Title  string `json:"title"`
		URL    string `json:"url"`
		Format string `json:"format"`
	} `json:"resources"`
}

// Fetch downloads and parses the dataset described by spec. The result
// is one-shot: re-invoke to re-fetch. Network I/O only, no storage
// writes.
func (c *Client) Fetch(ctx context.Context, spec registry.DatasetSpec) ([]RawRecord, error) {
	start := time.Now()

	metaURL := fmt.Sprintf("%s/datasets/%s/", c.cfg.BaseURL, spec.Slug)
	body, err := c.getWithRetry(ctx, spec.ID, metaURL)
	if err != nil {
		return nil, err
	}

	var meta datasetMeta
	if err := json.Unmarshal(body, &meta); err != nil {
		return nil, &models.SourceUnavailableError{DatasetID: spec.ID, Err: fmt.Errorf("malformed metadata: %w", err)}
	}

	csvURL := firstCSVResource(&meta)
	if csvURL == "" {
		return nil, &models.SourceUnavailableError{DatasetID: spec.ID, Err: errors.New("no CSV resource in dataset metadata")}
	}

	payload, err := c.getWithRetry(ctx, spec.ID, csvURL)
	if err != nil {
		return nil, err
	}

	records, err := parseCSV(spec, payload)
	if err != nil {
		return nil, err
	}

	metrics.FetchDuration.WithLabelValues(spec.ID).Observe(time.Since(start).Seconds())
	logging.Info().
		Str("dataset", spec.ID).
		Int("rows", len(records)).
		Dur("elapsed", time.Since(start)).
		Msg("Fetch complete")

	return records, nil
}

// firstCSVResource returns the URL of the first CSV resource, or "".
func firstCSVResource(meta *datasetMeta) string {
	for _, r := range meta.Resources {
		if strings.EqualFold(r.Format, "csv") && r.URL != "" {
			return r.URL
		}
	}
	return ""
}

// getWithRetry performs a GET with exponential backoff on transient
// failures. Permanent failures return immediately. The backoff wait is
// cancellable through ctx.
func (c *Client) getWithRetry(ctx context.Context, datasetID, url string) ([]byte, error) {
	delay := c.cfg.RetryDelay
	var lastErr error

	for attempt := 0; attempt < c.cfg.RetryAttempts; attempt++ {
		if ctx.Err() != nil {
			return nil, &models.SourceUnavailableError{DatasetID: datasetID, Transient: true, Err: ctx.Err()}
		}

		body, err := c.get(ctx, datasetID, url)
		if err == nil {
			return body, nil
		}
		lastErr = err

		var srcErr *models.SourceUnavailableError
		if errors.As(err, &srcErr) && !srcErr.Transient {
			return nil, err
		}

		if attempt < c.cfg.RetryAttempts-1 {
			metrics.FetchRetries.WithLabelValues(datasetID).Inc()
			logging.Warn().
				Err(err).
				Str("dataset", datasetID).
				Int("attempt", attempt+1).
				Int("max_attempts", c.cfg.RetryAttempts).
				Dur("delay", delay).
				Msg("Retrying fetch")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, &models.SourceUnavailableError{DatasetID: datasetID, Transient: true, Err: ctx.Err()}
			}
			delay *= 2
		}
	}

	return nil, fmt.Errorf("max retry attempts reached: %w", lastErr)
}

// get performs a single attempt, bounded by the per-attempt timeout and
// guarded by the circuit breaker.
func (c *Client) get(ctx context.Context, datasetID, url string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &models.SourceUnavailableError{DatasetID: datasetID, Transient: true, Err: err}
	}

	return c.breaker.execute(func() ([]byte, error) {
		attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, url, nil)
		if err != nil {
			return nil, &models.SourceUnavailableError{DatasetID: datasetID, Err: err}
		}
		req.Header.Set("Accept", "*/*")

		resp, err := c.http.Do(req)
		if err != nil {
			// Connection errors and timeouts are transient.
			return nil, &models.SourceUnavailableError{DatasetID: datasetID, Transient: true, Err: err}
		}
		defer func() {
			_ = resp.Body.Close()
		}()

		switch {
		case resp.StatusCode >= 500:
			return nil, &models.SourceUnavailableError{
				DatasetID: datasetID,
				Transient: true,
				Err:       fmt.Errorf("server error: %s", resp.Status),
			}
		case resp.StatusCode >= 400:
			return nil, &models.SourceUnavailableError{
				DatasetID: datasetID,
				Err:       fmt.Errorf("request rejected: %s", resp.Status),
			}
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, &models.SourceUnavailableError{DatasetID: datasetID, Transient: true, Err: err}
		}
		return body, nil
	}, datasetID)
}

// parseCSV decodes the payload into RawRecords. When the declared
// separator yields a single column, the other common separator is
// tried: some mirrors republish semicolon extracts as comma CSV.
func parseCSV(spec registry.DatasetSpec, payload []byte) ([]RawRecord, error) {
	header, rows, err := readCSV(payload, spec.Separator)
	if err != nil {
		return nil, &models.SchemaMismatchError{DatasetID: spec.ID, Err: err}
	}

	if len(header) <= 1 {
		alt := ','
		if spec.Separator == ',' {
			alt = ';'
		}
		if h, r, altErr := readCSV(payload, alt); altErr == nil && len(h) > 1 {
			header, rows = h, r
		}
	}

	if len(header) == 0 {
		return nil, &models.SchemaMismatchError{DatasetID: spec.ID, Err: errors.New("payload has no header row")}
	}

	records := make([]RawRecord, 0, len(rows))
	for _, row := range rows {
		fields := make(map[string]string, len(header))
		for i, col := range header {
			if i < len(row) {
				fields[col] = row[i]
			}
		}
		records = append(records, RawRecord{Fields: fields})
	}
	return records, nil
}

// readCSV splits the payload into header and data rows with the given
// separator. Rows with a deviant field count are kept; the cleaner
// decides their fate per its missing-value policies.
func readCSV(payload []byte, sep rune) ([]string, [][]string, error) {
	reader := csv.NewReader(bytes.NewReader(payload))
	reader.Comma = sep
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("reading header: %w", err)
	}

	var rows [][]string
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("reading row %d: %w", len(rows)+2, err)
		}
		rows = append(rows, row)
	}
	return header, rows, nil
}
