// GovSense - French Public Sector Open Data Analytics
// Copyright 2026 GovSense Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/govsense/govsense

package services

import (
	"context"

	"github.com/govsense/govsense/internal/pipeline"
)

// RefreshService runs the refresh scheduler under supervision.
type RefreshService struct {
	manager *pipeline.Manager
}

// NewRefreshService wraps the pipeline manager.
func NewRefreshService(m *pipeline.Manager) *RefreshService {
	return &RefreshService{manager: m}
}

// Serve runs the scheduler loop until the context is cancelled.
func (s *RefreshService) Serve(ctx context.Context) error {
	return s.manager.Serve(ctx)
}

// String names the service in supervisor logs.
func (s *RefreshService) String() string {
	return "refresh-scheduler"
}
