// GovSense - French Public Sector Open Data Analytics
// Copyright 2026 GovSense Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/govsense/govsense

// Package api exposes the read and control surface over HTTP: dataset
// listings, refresh control and the query endpoints backed by the
// response cache.
package api

import (
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/govsense/govsense/internal/logging"
	"github.com/govsense/govsense/internal/models"
)

func respondJSON(w http.ResponseWriter, status int, data interface{}, meta models.Metadata) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := models.APIResponse{
		Status:   "success",
		Data:     data,
		Metadata: meta,
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logging.Error().Err(err).Msg("Failed to encode response")
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := models.APIResponse{
		Status:   "error",
		Error:    &models.APIError{Code: code, Message: message},
		Metadata: models.Metadata{Timestamp: time.Now().UTC()},
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logging.Error().Err(err).Msg("Failed to encode error response")
	}
}

func newMetadata(start time.Time, cached bool) models.Metadata {
	return models.Metadata{
		Timestamp:   time.Now().UTC(),
		QueryTimeMS: time.Since(start).Milliseconds(),
		Cached:      cached,
	}
}
