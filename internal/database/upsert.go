// GovSense - French Public Sector Open Data Analytics
// Copyright 2026 GovSense Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/govsense/govsense

package database

import (
	"context"
	"fmt"
	"time"

	"github.com/govsense/govsense/internal/metrics"
	"github.com/govsense/govsense/internal/models"
)

// UpsertBudgets writes budget records in one transaction, keyed on
// (year, region_code). Existing rows are updated, new rows inserted;
// rows absent from the batch are left untouched.
func (db *DB) UpsertBudgets(ctx context.Context, records []models.RegionBudget) (int, error) {
	const stmt = `INSERT INTO region_budgets (
		year, region_code, region_name,
		operating_revenue, operating_expenditure,
		investment_revenue, investment_expenditure,
		total_revenue, total_expenditure, debt, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, now())
	ON CONFLICT (year, region_code) DO UPDATE SET
		region_name = excluded.region_name,
		operating_revenue = excluded.operating_revenue,
		operating_expenditure = excluded.operating_expenditure,
		investment_revenue = excluded.investment_revenue,
		investment_expenditure = excluded.investment_expenditure,
		total_revenue = excluded.total_revenue,
		total_expenditure = excluded.total_expenditure,
		debt = excluded.debt,
		updated_at = now()`

	return db.upsert(ctx, "region_budgets", stmt, len(records), func(i int) []interface{} {
		b := records[i]
		return []interface{}{
			b.Year, b.RegionCode, b.RegionName,
			b.OperatingRevenue, b.OperatingExpenditure,
			b.InvestmentRevenue, b.InvestmentExpenditure,
			b.TotalRevenue, b.TotalExpenditure, b.Debt,
		}
	})
}

// UpsertCommunes writes commune records keyed on code_insee.
func (db *DB) UpsertCommunes(ctx context.Context, records []models.Commune) (int, error) {
	const stmt = `INSERT INTO communes (
		code_insee, name, region_code, region_name,
		department_code, department_name,
		population, area_km2, density, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, now())
	ON CONFLICT (code_insee) DO UPDATE SET
		name = excluded.name,
		region_code = excluded.region_code,
		region_name = excluded.region_name,
		department_code = excluded.department_code,
		department_name = excluded.department_name,
		population = excluded.population,
		area_km2 = excluded.area_km2,
		density = excluded.density,
		updated_at = now()`

	return db.upsert(ctx, "communes", stmt, len(records), func(i int) []interface{} {
		c := records[i]
		return []interface{}{
			c.CodeINSEE, c.Name, c.RegionCode, c.RegionName,
			c.DepartmentCode, c.DepartmentName,
			c.Population, c.AreaKm2, c.Density,
		}
	})
}

// UpsertEmployment writes employment records keyed on (region_code, month).
func (db *DB) UpsertEmployment(ctx context.Context, records []models.RegionEmployment) (int, error) {
	const stmt = `INSERT INTO region_employment (
		region_code, month, region_name,
		salary_mass, partial_unemployment_base, updated_at
	) VALUES (?, ?, ?, ?, ?, now())
	ON CONFLICT (region_code, month) DO UPDATE SET
		region_name = excluded.region_name,
		salary_mass = excluded.salary_mass,
		partial_unemployment_base = excluded.partial_unemployment_base,
		updated_at = now()`

	return db.upsert(ctx, "region_employment", stmt, len(records), func(i int) []interface{} {
		e := records[i]
		return []interface{}{
			e.RegionCode, e.Month, e.RegionName,
			e.SalaryMass, e.PartialUnemploymentBase,
		}
	})
}

// UpsertRegionStats replaces the derived statistics keyed on
// (year, region_code). Derived rows for keys no longer produced are
// deleted first: statistics are a pure function of the source tables,
// so stale derivations must not survive a refresh.
func (db *DB) UpsertRegionStats(ctx context.Context, records []models.RegionStat) (int, error) {
	const stmt = `INSERT INTO region_stats (
		year, region_code, region_name,
		total_population, num_communes,
		total_revenue, total_expenditure, debt,
		revenue_per_capita, expenditure_per_capita,
		salary_mass, partial_unemployment_base, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, now())
	ON CONFLICT (year, region_code) DO UPDATE SET
		region_name = excluded.region_name,
		total_population = excluded.total_population,
		num_communes = excluded.num_communes,
		total_revenue = excluded.total_revenue,
		total_expenditure = excluded.total_expenditure,
		debt = excluded.debt,
		revenue_per_capita = excluded.revenue_per_capita,
		expenditure_per_capita = excluded.expenditure_per_capita,
		salary_mass = excluded.salary_mass,
		partial_unemployment_base = excluded.partial_unemployment_base,
		updated_at = now()`

	start := time.Now()
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		metrics.DBCommitFailures.WithLabelValues("region_stats").Inc()
		return 0, &models.StorageCommitError{Table: "region_stats", Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM region_stats`); err != nil {
		metrics.DBCommitFailures.WithLabelValues("region_stats").Inc()
		return 0, &models.StorageCommitError{Table: "region_stats", Err: err}
	}

	prepared, err := tx.PrepareContext(ctx, stmt)
	if err != nil {
		metrics.DBCommitFailures.WithLabelValues("region_stats").Inc()
		return 0, &models.StorageCommitError{Table: "region_stats", Err: err}
	}
	defer func() { _ = prepared.Close() }()

	for _, s := range records {
		_, err := prepared.ExecContext(ctx,
			s.Year, s.RegionCode, s.RegionName,
			s.TotalPopulation, s.NumCommunes,
			s.TotalRevenue, s.TotalExpenditure, s.Debt,
			s.RevenuePerCapita, s.ExpenditurePerCapita,
			s.SalaryMass, s.PartialUnemploymentBase,
		)
		if err != nil {
			metrics.DBCommitFailures.WithLabelValues("region_stats").Inc()
			return 0, &models.StorageCommitError{Table: "region_stats", Err: fmt.Errorf("row (%d,%s): %w", s.Year, s.RegionCode, err)}
		}
	}

	if err := tx.Commit(); err != nil {
		metrics.DBCommitFailures.WithLabelValues("region_stats").Inc()
		return 0, &models.StorageCommitError{Table: "region_stats", Err: err}
	}

	metrics.ObserveDBQuery("upsert", "region_stats", time.Since(start))
	metrics.DBUpsertRows.WithLabelValues("region_stats").Add(float64(len(records)))
	return len(records), nil
}

// upsert runs a prepared keyed upsert for n rows inside one
// transaction. The whole batch commits or none of it does.
func (db *DB) upsert(ctx context.Context, table, stmt string, n int, args func(int) []interface{}) (int, error) {
	start := time.Now()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		metrics.DBCommitFailures.WithLabelValues(table).Inc()
		return 0, &models.StorageCommitError{Table: table, Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	prepared, err := tx.PrepareContext(ctx, stmt)
	if err != nil {
		metrics.DBCommitFailures.WithLabelValues(table).Inc()
		return 0, &models.StorageCommitError{Table: table, Err: err}
	}
	defer func() { _ = prepared.Close() }()

	for i := 0; i < n; i++ {
		if _, err := prepared.ExecContext(ctx, args(i)...); err != nil {
			metrics.DBCommitFailures.WithLabelValues(table).Inc()
			return 0, &models.StorageCommitError{Table: table, Err: fmt.Errorf("row %d: %w", i, err)}
		}
	}

	if err := tx.Commit(); err != nil {
		metrics.DBCommitFailures.WithLabelValues(table).Inc()
		return 0, &models.StorageCommitError{Table: table, Err: err}
	}

	metrics.ObserveDBQuery("upsert", table, time.Since(start))
	metrics.DBUpsertRows.WithLabelValues(table).Add(float64(n))
	return n, nil
}
