// GovSense - French Public Sector Open Data Analytics
// Copyright 2026 GovSense Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/govsense/govsense

package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/govsense/govsense/internal/cache"
	"github.com/govsense/govsense/internal/config"
	"github.com/govsense/govsense/internal/database"
	"github.com/govsense/govsense/internal/models"
	"github.com/govsense/govsense/internal/registry"
)

// Querier is the read surface of the storage layer.
type Querier interface {
	ListBudgets(ctx context.Context, f database.BudgetFilter) ([]models.RegionBudget, error)
	ListRegionStats(ctx context.Context, f database.StatsFilter) ([]models.RegionStat, error)
	ListEmployment(ctx context.Context, f database.EmploymentFilter) ([]models.RegionEmployment, error)
	GetSummary(ctx context.Context) (*models.SummaryStats, error)
	Ping(ctx context.Context) error
}

// Refresher is the pipeline control surface the API exposes.
type Refresher interface {
	BeginRefresh(ctx context.Context) (*models.RefreshRun, error)
	LastRun() *models.RefreshRun
	History() []models.RefreshRun
	IsRunning() bool
}

// Handler serves the API endpoints.
type Handler struct {
	db         Querier
	cache      *cache.Cache
	pipeline   Refresher
	registry   *registry.Registry
	cfg        config.APIConfig
	summaryTTL time.Duration
}

// NewHandler creates the API handler.
func NewHandler(db Querier, c *cache.Cache, p Refresher, reg *registry.Registry, cfg config.APIConfig, cacheCfg config.CacheConfig) *Handler {
	return &Handler{db: db, cache: c, pipeline: p, registry: reg, cfg: cfg, summaryTTL: cacheCfg.SummaryTTL}
}

// datasetInfo is the public view of a registered dataset.
type datasetInfo struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Slug        string   `json:"slug"`
	TargetTable string   `json:"target_table"`
	KeyColumns  []string `json:"key_columns"`
	Cadence     string   `json:"cadence"`
}

// ListDatasets returns the dataset registry.
func (h *Handler) ListDatasets(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	specs := h.registry.List()
	out := make([]datasetInfo, 0, len(specs))
	for _, s := range specs {
		out = append(out, datasetInfo{
			ID:          s.ID,
			Name:        s.Name,
			Description: s.Description,
			Slug:        s.Slug,
			TargetTable: s.TargetTable,
			KeyColumns:  s.KeyColumns,
			Cadence:     s.CadenceHint.String(),
		})
	}
	respondJSON(w, http.StatusOK, out, newMetadata(start, false))
}

// TriggerRefresh starts a background refresh run. Responds 409 when a
// run is already in flight.
func (h *Handler) TriggerRefresh(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	run, err := h.pipeline.BeginRefresh(r.Context())
	if err != nil {
		if errors.Is(err, models.ErrAlreadyRunning) {
			respondError(w, http.StatusConflict, "refresh_running", "a refresh run is already in progress")
			return
		}
		respondError(w, http.StatusInternalServerError, "refresh_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusAccepted, run, newMetadata(start, false))
}

// refreshStatus is the response body for the refresh status endpoint.
type refreshStatus struct {
	Running bool                `json:"running"`
	LastRun *models.RefreshRun  `json:"last_run,omitempty"`
	History []models.RefreshRun `json:"history,omitempty"`
}

// RefreshStatus reports the current run, if any, and the recent run
// history.
func (h *Handler) RefreshStatus(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	status := refreshStatus{
		Running: h.pipeline.IsRunning(),
		LastRun: h.pipeline.LastRun(),
		History: h.pipeline.History(),
	}
	respondJSON(w, http.StatusOK, status, newMetadata(start, false))
}

// ClearCache drops every cached query result.
func (h *Handler) ClearCache(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	h.cache.InvalidateAll()
	respondJSON(w, http.StatusOK, map[string]string{"result": "cache cleared"}, newMetadata(start, false))
}

// GetBudgets returns budget rows, optionally filtered by year and
// region.
func (h *Handler) GetBudgets(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	year, err := queryInt(r, "year")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_parameter", "year must be an integer")
		return
	}
	limit, offset := h.pagination(r)
	filter := database.BudgetFilter{
		Year:       year,
		RegionCode: r.URL.Query().Get("region"),
		Limit:      limit,
		Offset:     offset,
	}

	key := cache.GenerateKey("budgets", filter)
	rows, cached, err := cache.GetOrCompute(h.cache, key, 0, func() ([]models.RegionBudget, error) {
		return h.db.ListBudgets(r.Context(), filter)
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, "query_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, rows, newMetadata(start, cached))
}

// GetRegionStats returns derived regional statistics.
func (h *Handler) GetRegionStats(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	year, err := queryInt(r, "year")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_parameter", "year must be an integer")
		return
	}
	limit, offset := h.pagination(r)
	filter := database.StatsFilter{
		Year:       year,
		RegionCode: r.URL.Query().Get("region"),
		Limit:      limit,
		Offset:     offset,
	}

	key := cache.GenerateKey("region_stats", filter)
	rows, cached, err := cache.GetOrCompute(h.cache, key, 0, func() ([]models.RegionStat, error) {
		return h.db.ListRegionStats(r.Context(), filter)
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, "query_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, rows, newMetadata(start, cached))
}

// GetEmployment returns monthly employment rows.
func (h *Handler) GetEmployment(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	limit, offset := h.pagination(r)
	filter := database.EmploymentFilter{
		RegionCode: r.URL.Query().Get("region"),
		Month:      r.URL.Query().Get("month"),
		Limit:      limit,
		Offset:     offset,
	}

	key := cache.GenerateKey("employment", filter)
	rows, cached, err := cache.GetOrCompute(h.cache, key, 0, func() ([]models.RegionEmployment, error) {
		return h.db.ListEmployment(r.Context(), filter)
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, "query_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, rows, newMetadata(start, cached))
}

// GetStats returns the dashboard summary.
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	key := cache.GenerateKey("summary", nil)
	summary, cached, err := cache.GetOrCompute(h.cache, key, h.summaryTTL, func() (*models.SummaryStats, error) {
		return h.db.GetSummary(r.Context())
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, "query_failed", err.Error())
		return
	}

	// Annotate with the pipeline's view; not part of the cached value
	// since it changes between refreshes without touching the tables.
	out := *summary
	if last := h.pipeline.LastRun(); last != nil && last.FinishedAt != nil {
		out.LastRefresh = last.FinishedAt
	}
	respondJSON(w, http.StatusOK, out, newMetadata(start, cached))
}

// Health reports liveness of the service and its storage.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := map[string]interface{}{
		"status":          "healthy",
		"refresh_running": h.pipeline.IsRunning(),
	}
	code := http.StatusOK
	if err := h.db.Ping(ctx); err != nil {
		status["status"] = "degraded"
		status["database"] = err.Error()
		code = http.StatusServiceUnavailable
	}
	respondJSON(w, code, status, newMetadata(start, false))
}

// pagination clamps limit/offset query parameters to the configured
// bounds.
func (h *Handler) pagination(r *http.Request) (limit, offset int) {
	limit = h.cfg.DefaultPageSize
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			limit = v
		}
	}
	if h.cfg.MaxPageSize > 0 && limit > h.cfg.MaxPageSize {
		limit = h.cfg.MaxPageSize
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			offset = v
		}
	}
	return limit, offset
}

func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}
