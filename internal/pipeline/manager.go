// GovSense - French Public Sector Open Data Analytics
// Copyright 2026 GovSense Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/govsense/govsense

// Package pipeline orchestrates refresh runs: fetch every registered
// dataset, clean and reshape the rows, commit them to storage and
// rederive the regional statistics. At most one run is in flight at any
// time; scheduler ticks and manual triggers contend on the same guard.
package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"

	"github.com/govsense/govsense/internal/config"
	"github.com/govsense/govsense/internal/database"
	"github.com/govsense/govsense/internal/ingest"
	"github.com/govsense/govsense/internal/logging"
	"github.com/govsense/govsense/internal/metrics"
	"github.com/govsense/govsense/internal/models"
	"github.com/govsense/govsense/internal/registry"
)

// Fetcher downloads and parses one dataset's rows.
type Fetcher interface {
	Fetch(ctx context.Context, spec registry.DatasetSpec) ([]ingest.RawRecord, error)
}

// Store is the storage surface the pipeline writes to and rereads when
// deriving statistics.
type Store interface {
	UpsertBudgets(ctx context.Context, records []models.RegionBudget) (int, error)
	UpsertCommunes(ctx context.Context, records []models.Commune) (int, error)
	UpsertEmployment(ctx context.Context, records []models.RegionEmployment) (int, error)
	UpsertRegionStats(ctx context.Context, records []models.RegionStat) (int, error)
	ListBudgets(ctx context.Context, f database.BudgetFilter) ([]models.RegionBudget, error)
	ListCommunes(ctx context.Context, f database.CommuneFilter) ([]models.Commune, error)
	ListEmployment(ctx context.Context, f database.EmploymentFilter) ([]models.RegionEmployment, error)
}

// RefreshListener is notified after a run commits. Listeners run on the
// pipeline goroutine and must return quickly.
type RefreshListener interface {
	OnRefreshCompleted(models.RefreshCompleted)
}

// Manager owns the refresh lifecycle.
type Manager struct {
	cfg      config.RefreshConfig
	registry *registry.Registry
	fetcher  Fetcher
	store    Store

	running   atomic.Bool
	listeners []RefreshListener

	// current holds a published snapshot of the in-flight run. The live
	// run stays private to the pipeline goroutine; see publish.
	mu      sync.RWMutex
	current *models.RefreshRun
	history []models.RefreshRun
}

// NewManager creates a pipeline manager for the given dataset registry.
func NewManager(cfg config.RefreshConfig, reg *registry.Registry, fetcher Fetcher, store Store) *Manager {
	if cfg.HistoryEntries <= 0 {
		cfg.HistoryEntries = 20
	}
	return &Manager{
		cfg:      cfg,
		registry: reg,
		fetcher:  fetcher,
		store:    store,
	}
}

// AddListener registers a commit listener. Not safe to call once the
// manager is serving.
func (m *Manager) AddListener(l RefreshListener) {
	m.listeners = append(m.listeners, l)
}

// TriggerRefresh runs a refresh synchronously. Returns ErrAlreadyRunning
// without side effects when a run is already in flight.
func (m *Manager) TriggerRefresh(ctx context.Context) (*models.RefreshRun, error) {
	if !m.running.CompareAndSwap(false, true) {
		return nil, models.ErrAlreadyRunning
	}
	defer m.running.Store(false)

	run := m.execute(ctx)
	return run, nil
}

// BeginRefresh starts a refresh in the background and returns the
// running snapshot immediately. Returns ErrAlreadyRunning when a run is
// already in flight.
func (m *Manager) BeginRefresh(ctx context.Context) (*models.RefreshRun, error) {
	if !m.running.CompareAndSwap(false, true) {
		return nil, models.ErrAlreadyRunning
	}

	run := m.newRun()
	snapshot := cloneRun(run)

	// The run must not die with the triggering HTTP request.
	detached := context.WithoutCancel(ctx)
	go func() {
		defer m.running.Store(false)
		m.executeRun(detached, run)
	}()

	return &snapshot, nil
}

// Serve runs the periodic scheduler until the context is cancelled.
// Suitable as a suture service. A tick that fires while the previous
// run is still in flight is skipped, never queued.
func (m *Manager) Serve(ctx context.Context) error {
	logging.Info().
		Dur("interval", m.cfg.Interval).
		Bool("run_on_startup", m.cfg.RunOnStartup).
		Msg("Refresh scheduler starting")

	if m.cfg.RunOnStartup {
		m.tick(ctx)
	}

	// Interval 0 means manual triggers only.
	if m.cfg.Interval <= 0 {
		logging.Info().Msg("Periodic refresh disabled, waiting for manual triggers")
		<-ctx.Done()
		logging.Info().Msg("Refresh scheduler stopping")
		return ctx.Err()
	}

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.Info().Msg("Refresh scheduler stopping")
			return ctx.Err()
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

// tick detaches the run from the scheduler context so stopping the
// scheduler never aborts a run already in flight.
func (m *Manager) tick(ctx context.Context) {
	if _, err := m.TriggerRefresh(context.WithoutCancel(ctx)); err != nil {
		if err == models.ErrAlreadyRunning {
			metrics.RefreshSkippedTicks.Inc()
			logging.Warn().Msg("Skipping refresh tick, previous run still in flight")
		}
	}
}

// IsRunning reports whether a refresh is in flight.
func (m *Manager) IsRunning() bool {
	return m.running.Load()
}

// LastRun returns the most recent run, including one currently in
// flight, or nil when the manager has never run.
func (m *Manager) LastRun() *models.RefreshRun {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.current != nil {
		snapshot := cloneRun(m.current)
		return &snapshot
	}
	if len(m.history) == 0 {
		return nil
	}
	snapshot := cloneRun(&m.history[0])
	return &snapshot
}

// History returns finished runs, most recent first.
func (m *Manager) History() []models.RefreshRun {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.RefreshRun, len(m.history))
	for i := range m.history {
		out[i] = cloneRun(&m.history[i])
	}
	return out
}

func (m *Manager) newRun() *models.RefreshRun {
	run := &models.RefreshRun{
		ID:            uuid.NewString(),
		StartedAt:     time.Now().UTC(),
		Status:        models.RunRunning,
		Datasets:      make(map[string]models.DatasetOutcome),
		CommittedRows: make(map[string]int),
	}
	m.publish(run)
	return run
}

// publish stores a snapshot of the in-flight run for status readers.
// The run itself is only ever touched by the pipeline goroutine, so
// readers and the run never share maps.
func (m *Manager) publish(run *models.RefreshRun) {
	snapshot := cloneRun(run)
	m.mu.Lock()
	m.current = &snapshot
	m.mu.Unlock()
}

func (m *Manager) finishRun(run *models.RefreshRun) {
	now := time.Now().UTC()
	run.FinishedAt = &now

	m.mu.Lock()
	m.current = nil
	m.history = append([]models.RefreshRun{cloneRun(run)}, m.history...)
	if len(m.history) > m.cfg.HistoryEntries {
		m.history = m.history[:m.cfg.HistoryEntries]
	}
	m.mu.Unlock()

	metrics.RefreshRunsTotal.WithLabelValues(string(run.Status)).Inc()
	metrics.RefreshDuration.Observe(now.Sub(run.StartedAt).Seconds())
}

func (m *Manager) notify(run *models.RefreshRun) {
	event := models.RefreshCompleted{
		RunID:             run.ID,
		SucceededDatasets: run.SucceededDatasets(),
		FailedDatasets:    run.FailedDatasets,
		FinishedAt:        *run.FinishedAt,
	}
	for _, l := range m.listeners {
		l.OnRefreshCompleted(event)
	}
}

func cloneRun(run *models.RefreshRun) models.RefreshRun {
	out := *run
	out.Datasets = make(map[string]models.DatasetOutcome, len(run.Datasets))
	for k, v := range run.Datasets {
		if v.Report != nil {
			report := *v.Report
			v.Report = &report
		}
		out.Datasets[k] = v
	}
	out.FailedDatasets = append([]string(nil), run.FailedDatasets...)
	out.CommittedRows = make(map[string]int, len(run.CommittedRows))
	for k, v := range run.CommittedRows {
		out.CommittedRows[k] = v
	}
	if run.FinishedAt != nil {
		t := *run.FinishedAt
		out.FinishedAt = &t
	}
	return out
}
