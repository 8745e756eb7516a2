// GovSense - French Public Sector Open Data Analytics
// Copyright 2026 GovSense Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/govsense/govsense

// Package models defines the persisted record types and the shared
// error taxonomy for the refresh pipeline.
package models

import "time"

// RegionBudget is one row of the regional accounts dataset, reshaped to
// one record per (year, region_code). Monetary fields are nullable:
// nil means the source column was absent, not that the amount was zero.
type RegionBudget struct {
	Year                  int      `json:"year"`
	RegionCode            string   `json:"region_code"`
	RegionName            *string  `json:"region_name,omitempty"`
	OperatingRevenue      *float64 `json:"operating_revenue,omitempty"`
	OperatingExpenditure  *float64 `json:"operating_expenditure,omitempty"`
	InvestmentRevenue     *float64 `json:"investment_revenue,omitempty"`
	InvestmentExpenditure *float64 `json:"investment_expenditure,omitempty"`
	TotalRevenue          *float64 `json:"total_revenue,omitempty"`
	TotalExpenditure      *float64 `json:"total_expenditure,omitempty"`
	Debt                  *float64 `json:"debt,omitempty"`
}

// Commune is one row of the commune demographics dataset, keyed by the
// INSEE commune code.
type Commune struct {
	CodeINSEE      string   `json:"code_insee"`
	Name           *string  `json:"name,omitempty"`
	RegionCode     *string  `json:"region_code,omitempty"`
	RegionName     *string  `json:"region_name,omitempty"`
	DepartmentCode *string  `json:"department_code,omitempty"`
	DepartmentName *string  `json:"department_name,omitempty"`
	Population     int64    `json:"population"`
	AreaKm2        *float64 `json:"area_km2,omitempty"`
	Density        *float64 `json:"density,omitempty"`
}

// RegionEmployment is one row of the Urssaf salary mass / partial
// unemployment dataset, keyed by (region_code, month). Month uses the
// YYYY-MM form.
type RegionEmployment struct {
	RegionCode              string   `json:"region_code"`
	Month                   string   `json:"month"`
	RegionName              *string  `json:"region_name,omitempty"`
	SalaryMass              *float64 `json:"salary_mass,omitempty"`
	PartialUnemploymentBase *float64 `json:"partial_unemployment_base,omitempty"`
}

// RegionStat is the derived cross-dataset record, keyed by
// (year, region_code). A nil field means the contributing dataset had
// no data for that region and period; derived ratios are nil whenever
// either input is.
type RegionStat struct {
	Year                    int      `json:"year"`
	RegionCode              string   `json:"region_code"`
	RegionName              *string  `json:"region_name,omitempty"`
	TotalPopulation         *int64   `json:"total_population,omitempty"`
	NumCommunes             *int64   `json:"num_communes,omitempty"`
	TotalRevenue            *float64 `json:"total_revenue,omitempty"`
	TotalExpenditure        *float64 `json:"total_expenditure,omitempty"`
	Debt                    *float64 `json:"debt,omitempty"`
	RevenuePerCapita        *float64 `json:"revenue_per_capita,omitempty"`
	ExpenditurePerCapita    *float64 `json:"expenditure_per_capita,omitempty"`
	SalaryMass              *float64 `json:"salary_mass,omitempty"`
	PartialUnemploymentBase *float64 `json:"partial_unemployment_base,omitempty"`
}

// RunStatus is the lifecycle state of a refresh run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// CleaningReport aggregates row-level validation outcomes for one
// dataset within one run. Row rejections never fail a run; they are
// counted here instead.
type CleaningReport struct {
	Total             int `json:"total"`
	Kept              int `json:"kept"`
	RejectedCoercion  int `json:"rejected_coercion"`
	RejectedMissing   int `json:"rejected_missing"`
	DuplicatesDropped int `json:"duplicates_dropped"`
}

// Rejected returns the number of rows dropped for any reason.
func (r *CleaningReport) Rejected() int {
	return r.RejectedCoercion + r.RejectedMissing + r.DuplicatesDropped
}

// DatasetOutcome records the per-dataset result of one refresh run.
type DatasetOutcome struct {
	DatasetID string          `json:"dataset_id"`
	Fetched   int             `json:"fetched"`
	Kept      int             `json:"kept"`
	Error     string          `json:"error,omitempty"`
	Report    *CleaningReport `json:"report,omitempty"`
}

// RefreshRun is the record of a single pipeline execution. The manager
// retains a short bounded history of these, most recent first.
type RefreshRun struct {
	ID               string                    `json:"id"`
	StartedAt        time.Time                 `json:"started_at"`
	FinishedAt       *time.Time                `json:"finished_at,omitempty"`
	Status           RunStatus                 `json:"status"`
	Datasets         map[string]DatasetOutcome `json:"datasets"`
	FailedDatasets   []string                  `json:"failed_datasets,omitempty"`
	ExcludedCommunes int                       `json:"excluded_communes"`
	CommittedRows    map[string]int            `json:"committed_rows,omitempty"`
	Error            string                    `json:"error,omitempty"`
}

// Succeeded reports whether the run reached the succeeded state.
func (r *RefreshRun) Succeeded() bool {
	return r.Status == RunSucceeded
}

// SucceededDatasets returns the IDs of datasets that contributed clean
// records to this run, in no particular order.
func (r *RefreshRun) SucceededDatasets() []string {
	out := make([]string, 0, len(r.Datasets))
	for id, o := range r.Datasets {
		if o.Error == "" {
			out = append(out, id)
		}
	}
	return out
}

// RefreshCompleted is the single-fire notification emitted when a run
// reaches the succeeded state. Consumed by the cache and by any
// observability layer.
type RefreshCompleted struct {
	RunID             string    `json:"run_id"`
	SucceededDatasets []string  `json:"succeeded_datasets"`
	FailedDatasets    []string  `json:"failed_datasets"`
	FinishedAt        time.Time `json:"finished_at"`
}
