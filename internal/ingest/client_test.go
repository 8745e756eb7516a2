// GovSense - French Public Sector Open Data Analytics
// Copyright 2026 GovSense Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/govsense/govsense

package ingest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/govsense/govsense/internal/models"
	"github.com/govsense/govsense/internal/registry"
)

// newTestServer serves dataset metadata pointing at its own /data.csv
// resource, and the CSV payload itself.
func newTestServer(t *testing.T, csvPayload string, csvStatus func() int) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	var server *httptest.Server

	mux.HandleFunc("/datasets/", func(w http.ResponseWriter, r *http.Request) {
		meta := fmt.Sprintf(`{
			"id": "ds-1",
			"title": "test dataset",
			"resources": [
				{"id": "r0", "title": "doc", "url": "%s/doc.pdf", "format": "pdf"},
				{"id": "r1", "title": "data", "url": "%s/data.csv", "format": "csv"}
			]
		}`, server.URL, server.URL)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(meta))
	})

	mux.HandleFunc("/data.csv", func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		if csvStatus != nil {
			status = csvStatus()
		}
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		w.Header().Set("Content-Type", "text/csv")
		_, _ = w.Write([]byte(csvPayload))
	})

	server = httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func testClient(baseURL string) *Client {
	return NewClient(Config{
		BaseURL:       baseURL,
		Timeout:       5 * time.Second,
		RetryAttempts: 3,
		RetryDelay:    5 * time.Millisecond,
		RateLimit:     1000,
	})
}

func TestFetchParsesRows(t *testing.T) {
	server := newTestServer(t, "exer;reg;rec_totales_f\n2022;11;1000\n2022;24;750,5\n", nil)
	client := testClient(server.URL)

	records, err := client.Fetch(context.Background(), registry.RegionBudgets)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(records))
	}
	if records[0].Fields["exer"] != "2022" || records[0].Fields["reg"] != "11" {
		t.Errorf("Unexpected first record: %v", records[0].Fields)
	}
}

func TestFetchRetriesTransientFailures(t *testing.T) {
	var calls int32
	server := newTestServer(t, "exer;reg\n2022;11\n", func() int {
		if atomic.AddInt32(&calls, 1) <= 2 {
			return http.StatusBadGateway
		}
		return http.StatusOK
	})
	client := testClient(server.URL)

	records, err := client.Fetch(context.Background(), registry.RegionBudgets)
	if err != nil {
		t.Fatalf("Expected retry to succeed, got: %v", err)
	}
	if len(records) != 1 {
		t.Errorf("Expected 1 record, got %d", len(records))
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("Expected 3 download attempts, got %d", got)
	}
}

func TestFetchPermanentFailureDoesNotRetry(t *testing.T) {
	var calls int32
	server := newTestServer(t, "", func() int {
		atomic.AddInt32(&calls, 1)
		return http.StatusNotFound
	})
	client := testClient(server.URL)

	_, err := client.Fetch(context.Background(), registry.RegionBudgets)
	var srcErr *models.SourceUnavailableError
	if !errors.As(err, &srcErr) {
		t.Fatalf("Expected SourceUnavailableError, got %v", err)
	}
	if srcErr.Transient {
		t.Error("404 must be classified permanent")
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("Expected exactly 1 attempt for a permanent failure, got %d", got)
	}
}

func TestFetchRetryCeiling(t *testing.T) {
	var calls int32
	server := newTestServer(t, "", func() int {
		atomic.AddInt32(&calls, 1)
		return http.StatusInternalServerError
	})
	client := testClient(server.URL)

	_, err := client.Fetch(context.Background(), registry.RegionBudgets)
	if err == nil {
		t.Fatal("Expected error after exhausting retries")
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("Expected 3 attempts (retry ceiling), got %d", got)
	}
}

func TestFetchSeparatorFallback(t *testing.T) {
	// Payload uses commas although the budget spec declares semicolons.
	server := newTestServer(t, "exer,reg\n2022,11\n", nil)
	client := testClient(server.URL)

	records, err := client.Fetch(context.Background(), registry.RegionBudgets)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if len(records) != 1 || records[0].Fields["reg"] != "11" {
		t.Errorf("Separator fallback failed: %v", records)
	}
}

func TestFetchNoCSVResource(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/datasets/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id": "ds-1", "resources": []}`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := testClient(server.URL)
	_, err := client.Fetch(context.Background(), registry.Communes)
	var srcErr *models.SourceUnavailableError
	if !errors.As(err, &srcErr) {
		t.Fatalf("Expected SourceUnavailableError, got %v", err)
	}
}

func TestFetchContextCancellation(t *testing.T) {
	server := newTestServer(t, "", func() int { return http.StatusInternalServerError })
	client := testClient(server.URL)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.Fetch(ctx, registry.RegionBudgets)
	if err == nil {
		t.Fatal("Expected error for canceled context")
	}
}
