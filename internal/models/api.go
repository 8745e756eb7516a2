// GovSense - French Public Sector Open Data Analytics
// Copyright 2026 GovSense Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/govsense/govsense

package models

import "time"

// APIResponse is the uniform envelope for every API endpoint.
type APIResponse struct {
	Status   string      `json:"status"`
	Data     interface{} `json:"data,omitempty"`
	Error    *APIError   `json:"error,omitempty"`
	Metadata Metadata    `json:"metadata"`
}

// APIError carries a machine-readable code alongside the message.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Metadata is attached to every response for observability.
type Metadata struct {
	Timestamp   time.Time `json:"timestamp"`
	QueryTimeMS int64     `json:"query_time_ms,omitempty"`
	Cached      bool      `json:"cached,omitempty"`
}

// SummaryStats is the dashboard summary returned by /api/v1/stats.
type SummaryStats struct {
	Budgets     int64      `json:"budgets"`
	Communes    int64      `json:"communes"`
	Employment  int64      `json:"employment"`
	RegionStats int64      `json:"region_stats"`
	LatestYear  *int       `json:"latest_year,omitempty"`
	LastRefresh *time.Time `json:"last_refresh,omitempty"`
}
