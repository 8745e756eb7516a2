// GovSense - French Public Sector Open Data Analytics
// Copyright 2026 GovSense Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/govsense/govsense

package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/govsense/govsense/internal/metrics"
	"github.com/govsense/govsense/internal/models"
)

// BudgetFilter narrows budget queries. Zero values mean no filter.
type BudgetFilter struct {
	Year       int
	RegionCode string
	Limit      int
	Offset     int
}

// StatsFilter narrows region statistics queries.
type StatsFilter struct {
	Year       int
	RegionCode string
	Limit      int
	Offset     int
}

// CommuneFilter narrows commune queries.
type CommuneFilter struct {
	RegionCode string
	Limit      int
	Offset     int
}

// EmploymentFilter narrows employment queries.
type EmploymentFilter struct {
	RegionCode string
	Month      string
	Limit      int
	Offset     int
}

// ListBudgets returns budget rows ordered by year descending then
// region code.
func (db *DB) ListBudgets(ctx context.Context, f BudgetFilter) ([]models.RegionBudget, error) {
	start := time.Now()

	var conds []string
	var args []interface{}
	if f.Year != 0 {
		conds = append(conds, "year = ?")
		args = append(args, f.Year)
	}
	if f.RegionCode != "" {
		conds = append(conds, "region_code = ?")
		args = append(args, f.RegionCode)
	}

	query := `SELECT year, region_code, region_name,
		operating_revenue, operating_expenditure,
		investment_revenue, investment_expenditure,
		total_revenue, total_expenditure, debt
	FROM region_budgets` + whereClause(conds) + `
	ORDER BY year DESC, region_code` + limitClause(f.Limit, f.Offset)

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query budgets: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []models.RegionBudget
	for rows.Next() {
		var b models.RegionBudget
		err := rows.Scan(&b.Year, &b.RegionCode, &b.RegionName,
			&b.OperatingRevenue, &b.OperatingExpenditure,
			&b.InvestmentRevenue, &b.InvestmentExpenditure,
			&b.TotalRevenue, &b.TotalExpenditure, &b.Debt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan budget row: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("budget rows: %w", err)
	}

	metrics.ObserveDBQuery("select", "region_budgets", time.Since(start))
	return out, nil
}

// ListRegionStats returns derived statistics ordered by year descending
// then region code.
func (db *DB) ListRegionStats(ctx context.Context, f StatsFilter) ([]models.RegionStat, error) {
	start := time.Now()

	var conds []string
	var args []interface{}
	if f.Year != 0 {
		conds = append(conds, "year = ?")
		args = append(args, f.Year)
	}
	if f.RegionCode != "" {
		conds = append(conds, "region_code = ?")
		args = append(args, f.RegionCode)
	}

	query := `SELECT year, region_code, region_name,
		total_population, num_communes,
		total_revenue, total_expenditure, debt,
		revenue_per_capita, expenditure_per_capita,
		salary_mass, partial_unemployment_base
	FROM region_stats` + whereClause(conds) + `
	ORDER BY year DESC, region_code` + limitClause(f.Limit, f.Offset)

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query region stats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []models.RegionStat
	for rows.Next() {
		var s models.RegionStat
		err := rows.Scan(&s.Year, &s.RegionCode, &s.RegionName,
			&s.TotalPopulation, &s.NumCommunes,
			&s.TotalRevenue, &s.TotalExpenditure, &s.Debt,
			&s.RevenuePerCapita, &s.ExpenditurePerCapita,
			&s.SalaryMass, &s.PartialUnemploymentBase)
		if err != nil {
			return nil, fmt.Errorf("failed to scan stats row: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("stats rows: %w", err)
	}

	metrics.ObserveDBQuery("select", "region_stats", time.Since(start))
	return out, nil
}

// ListCommunes returns commune rows ordered by INSEE code.
func (db *DB) ListCommunes(ctx context.Context, f CommuneFilter) ([]models.Commune, error) {
	start := time.Now()

	var conds []string
	var args []interface{}
	if f.RegionCode != "" {
		conds = append(conds, "region_code = ?")
		args = append(args, f.RegionCode)
	}

	query := `SELECT code_insee, name, region_code, region_name,
		department_code, department_name,
		population, area_km2, density
	FROM communes` + whereClause(conds) + `
	ORDER BY code_insee` + limitClause(f.Limit, f.Offset)

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query communes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []models.Commune
	for rows.Next() {
		var c models.Commune
		err := rows.Scan(&c.CodeINSEE, &c.Name, &c.RegionCode, &c.RegionName,
			&c.DepartmentCode, &c.DepartmentName,
			&c.Population, &c.AreaKm2, &c.Density)
		if err != nil {
			return nil, fmt.Errorf("failed to scan commune row: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("commune rows: %w", err)
	}

	metrics.ObserveDBQuery("select", "communes", time.Since(start))
	return out, nil
}

// ListEmployment returns employment rows ordered by month descending
// then region code.
func (db *DB) ListEmployment(ctx context.Context, f EmploymentFilter) ([]models.RegionEmployment, error) {
	start := time.Now()

	var conds []string
	var args []interface{}
	if f.RegionCode != "" {
		conds = append(conds, "region_code = ?")
		args = append(args, f.RegionCode)
	}
	if f.Month != "" {
		conds = append(conds, "month = ?")
		args = append(args, f.Month)
	}

	query := `SELECT region_code, month, region_name,
		salary_mass, partial_unemployment_base
	FROM region_employment` + whereClause(conds) + `
	ORDER BY month DESC, region_code` + limitClause(f.Limit, f.Offset)

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query employment: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []models.RegionEmployment
	for rows.Next() {
		var e models.RegionEmployment
		err := rows.Scan(&e.RegionCode, &e.Month, &e.RegionName,
			&e.SalaryMass, &e.PartialUnemploymentBase)
		if err != nil {
			return nil, fmt.Errorf("failed to scan employment row: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("employment rows: %w", err)
	}

	metrics.ObserveDBQuery("select", "region_employment", time.Since(start))
	return out, nil
}

// GetSummary returns table row counts and the most recent budget year.
func (db *DB) GetSummary(ctx context.Context) (*models.SummaryStats, error) {
	start := time.Now()
	s := &models.SummaryStats{}

	counts := map[string]*int64{
		"region_budgets":    &s.Budgets,
		"communes":          &s.Communes,
		"region_employment": &s.Employment,
		"region_stats":      &s.RegionStats,
	}
	for table, dest := range counts {
		// Identifiers cannot be bound; the table names are fixed above.
		row := db.conn.QueryRowContext(ctx, "SELECT count(*) FROM "+table)
		if err := row.Scan(dest); err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", table, err)
		}
	}

	var latest sql.NullInt64
	row := db.conn.QueryRowContext(ctx, "SELECT max(year) FROM region_budgets")
	if err := row.Scan(&latest); err != nil {
		return nil, fmt.Errorf("failed to read latest year: %w", err)
	}
	if latest.Valid {
		year := int(latest.Int64)
		s.LatestYear = &year
	}

	metrics.ObserveDBQuery("summary", "all", time.Since(start))
	return s, nil
}

func whereClause(conds []string) string {
	if len(conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conds, " AND ")
}

func limitClause(limit, offset int) string {
	if limit <= 0 {
		return ""
	}
	clause := fmt.Sprintf(" LIMIT %d", limit)
	if offset > 0 {
		clause += fmt.Sprintf(" OFFSET %d", offset)
	}
	return clause
}
