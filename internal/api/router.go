// GovSense - French Public Sector Open Data Analytics
// Copyright 2026 GovSense Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/govsense/govsense

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter wires the full route tree.
func NewRouter(h *Handler, m *Middleware, requestTimeout time.Duration) http.Handler {
	if requestTimeout <= 0 {
		requestTimeout = 30 * time.Second
	}

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(requestTimeout))
	r.Use(SecurityHeaders())
	r.Use(m.CORS())
	r.Use(RequestObserver())

	r.Get("/health", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(m.RateLimit())

		r.Get("/datasets", h.ListDatasets)
		r.Get("/budgets", h.GetBudgets)
		r.Get("/regions/stats", h.GetRegionStats)
		r.Get("/employment", h.GetEmployment)
		r.Get("/stats", h.GetStats)

		r.Post("/refresh", h.TriggerRefresh)
		r.Get("/refresh/status", h.RefreshStatus)
		r.Post("/cache/clear", h.ClearCache)
	})

	return r
}
