// GovSense - French Public Sector Open Data Analytics
// Copyright 2026 GovSense Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/govsense/govsense

package pipeline

import (
	"context"
	"errors"
	"sync"

	"github.com/govsense/govsense/internal/clean"
	"github.com/govsense/govsense/internal/database"
	"github.com/govsense/govsense/internal/logging"
	"github.com/govsense/govsense/internal/metrics"
	"github.com/govsense/govsense/internal/models"
	"github.com/govsense/govsense/internal/registry"
	"github.com/govsense/govsense/internal/transform"
)

// datasetResult carries one dataset's cleaned records out of the
// parallel fetch stage. Exactly one of the record slices is populated,
// matching the dataset's target table.
type datasetResult struct {
	spec       registry.DatasetSpec
	outcome    models.DatasetOutcome
	budgets    []models.RegionBudget
	communes   []models.Commune
	employment []models.RegionEmployment
}

func (r *datasetResult) failed() bool {
	return r.outcome.Error != ""
}

func (m *Manager) execute(ctx context.Context) *models.RefreshRun {
	run := m.newRun()
	m.executeRun(ctx, run)
	return run
}

// executeRun drives one refresh: parallel fetch and clean, then ordered
// commits, then statistics derivation from the committed state. A
// dataset failure degrades the run; only a storage failure or all
// datasets failing fails it.
func (m *Manager) executeRun(ctx context.Context, run *models.RefreshRun) {
	metrics.RefreshRunning.Set(1)
	defer metrics.RefreshRunning.Set(0)

	logging.Info().Str("run_id", run.ID).Msg("Refresh run started")

	specs := m.registry.List()
	results := make([]datasetResult, len(specs))

	var wg sync.WaitGroup
	for i, spec := range specs {
		wg.Add(1)
		go func(i int, spec registry.DatasetSpec) {
			defer wg.Done()
			results[i] = m.processDataset(ctx, spec)
		}(i, spec)
	}
	wg.Wait()

	failures := 0
	for i := range results {
		r := &results[i]
		run.Datasets[r.spec.ID] = r.outcome
		if r.failed() {
			failures++
			run.FailedDatasets = append(run.FailedDatasets, r.spec.ID)
		}
	}
	m.publish(run)

	if failures == len(specs) {
		run.Status = models.RunFailed
		run.Error = "all datasets failed"
		m.finishRun(run)
		logging.Error().Str("run_id", run.ID).Msg("Refresh run failed, no dataset could be refreshed")
		return
	}

	if err := m.commit(ctx, run, results); err != nil {
		run.Status = models.RunFailed
		run.Error = err.Error()
		m.finishRun(run)
		logging.Error().Err(err).Str("run_id", run.ID).Msg("Refresh run failed during commit")
		return
	}

	if err := m.deriveStats(ctx, run); err != nil {
		run.Status = models.RunFailed
		run.Error = err.Error()
		m.finishRun(run)
		logging.Error().Err(err).Str("run_id", run.ID).Msg("Refresh run failed during statistics derivation")
		return
	}

	run.Status = models.RunSucceeded
	m.finishRun(run)
	m.notify(run)

	logging.Info().
		Str("run_id", run.ID).
		Int("failed_datasets", failures).
		Interface("committed_rows", run.CommittedRows).
		Msg("Refresh run committed")
}

// processDataset fetches, cleans and reshapes one dataset. All errors
// are absorbed into the outcome so one dataset cannot sink the others.
func (m *Manager) processDataset(ctx context.Context, spec registry.DatasetSpec) datasetResult {
	result := datasetResult{spec: spec, outcome: models.DatasetOutcome{DatasetID: spec.ID}}

	raw, err := m.fetcher.Fetch(ctx, spec)
	if err != nil {
		m.recordDatasetFailure(&result, err)
		return result
	}
	result.outcome.Fetched = len(raw)

	records, report, err := clean.Clean(spec, raw)
	if err != nil {
		m.recordDatasetFailure(&result, err)
		return result
	}
	result.outcome.Kept = report.Kept
	result.outcome.Report = report

	metrics.DatasetRowsKept.WithLabelValues(spec.ID).Set(float64(report.Kept))
	metrics.DatasetRowsRejected.WithLabelValues(spec.ID, "coercion").Add(float64(report.RejectedCoercion))
	metrics.DatasetRowsRejected.WithLabelValues(spec.ID, "missing").Add(float64(report.RejectedMissing))
	metrics.DatasetRowsRejected.WithLabelValues(spec.ID, "duplicate").Add(float64(report.DuplicatesDropped))

	switch spec.ID {
	case registry.DatasetRegionBudgets:
		result.budgets = transform.BudgetRecords(records)
	case registry.DatasetCommunes:
		result.communes = transform.CommuneRecords(records)
	case registry.DatasetChomageRegional:
		result.employment = transform.EmploymentRecords(records)
	}

	logging.Debug().
		Str("dataset", spec.ID).
		Int("fetched", result.outcome.Fetched).
		Int("kept", report.Kept).
		Int("rejected", report.Rejected()).
		Msg("Dataset cleaned")
	return result
}

func (m *Manager) recordDatasetFailure(result *datasetResult, err error) {
	result.outcome.Error = err.Error()

	class := "other"
	var unavailable *models.SourceUnavailableError
	var mismatch *models.SchemaMismatchError
	switch {
	case errors.As(err, &unavailable):
		class = "source_unavailable"
	case errors.As(err, &mismatch):
		class = "schema_mismatch"
	}
	metrics.DatasetFailures.WithLabelValues(result.spec.ID, class).Inc()

	logging.Warn().
		Err(err).
		Str("dataset", result.spec.ID).
		Str("class", class).
		Msg("Dataset failed, continuing with remaining datasets")
}

// commit writes each successfully cleaned dataset in registry order.
// Failed datasets keep their previously committed rows.
func (m *Manager) commit(ctx context.Context, run *models.RefreshRun, results []datasetResult) error {
	for i := range results {
		r := &results[i]
		if r.failed() {
			continue
		}

		var n int
		var err error
		switch r.spec.ID {
		case registry.DatasetRegionBudgets:
			n, err = m.store.UpsertBudgets(ctx, r.budgets)
		case registry.DatasetCommunes:
			n, err = m.store.UpsertCommunes(ctx, r.communes)
		case registry.DatasetChomageRegional:
			n, err = m.store.UpsertEmployment(ctx, r.employment)
		}
		if err != nil {
			return err
		}
		run.CommittedRows[r.spec.TargetTable] = n
	}
	return nil
}

// deriveStats recomputes the regional statistics from the full stored
// state, so a degraded run still joins yesterday's copy of whatever
// failed today.
func (m *Manager) deriveStats(ctx context.Context, run *models.RefreshRun) error {
	budgets, err := m.store.ListBudgets(ctx, database.BudgetFilter{})
	if err != nil {
		return err
	}
	communes, err := m.store.ListCommunes(ctx, database.CommuneFilter{})
	if err != nil {
		return err
	}
	employment, err := m.store.ListEmployment(ctx, database.EmploymentFilter{})
	if err != nil {
		return err
	}

	stats, excluded := transform.RegionStats(budgets, communes, employment)
	run.ExcludedCommunes = excluded

	n, err := m.store.UpsertRegionStats(ctx, stats)
	if err != nil {
		return err
	}
	run.CommittedRows["region_stats"] = n

	if excluded > 0 {
		logging.Info().
			Int("excluded_communes", excluded).
			Msg("Communes without a region code excluded from regional totals")
	}
	return nil
}
