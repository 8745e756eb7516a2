// GovSense - French Public Sector Open Data Analytics
// Copyright 2026 GovSense Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/govsense/govsense

// Package transform reshapes cleaned dataset rows into the persisted
// record types and derives the cross-dataset regional statistics.
package transform

import (
	"github.com/govsense/govsense/internal/clean"
	"github.com/govsense/govsense/internal/models"
)

// BudgetRecords converts cleaned regional-accounts rows into typed
// budget records. Totals are derived as operating plus investment; a
// total is nil only when both contributing flows are.
func BudgetRecords(records []clean.Record) []models.RegionBudget {
	out := make([]models.RegionBudget, 0, len(records))
	for _, rec := range records {
		year, _ := rec.Int("year")
		code, _ := rec.String("region_code")

		b := models.RegionBudget{
			Year:                  int(year),
			RegionCode:            NormalizeRegionCode(code),
			RegionName:            strField(rec, "region_name"),
			OperatingRevenue:      floatField(rec, "operating_revenue"),
			OperatingExpenditure:  floatField(rec, "operating_expenditure"),
			InvestmentRevenue:     floatField(rec, "investment_revenue"),
			InvestmentExpenditure: floatField(rec, "investment_expenditure"),
			Debt:                  floatField(rec, "debt"),
		}
		b.TotalRevenue = sumNullable(b.OperatingRevenue, b.InvestmentRevenue)
		b.TotalExpenditure = sumNullable(b.OperatingExpenditure, b.InvestmentExpenditure)
		out = append(out, b)
	}
	return out
}

// CommuneRecords converts cleaned commune demographics rows. Region
// codes are normalized so commune and budget rows join on the same key.
func CommuneRecords(records []clean.Record) []models.Commune {
	out := make([]models.Commune, 0, len(records))
	for _, rec := range records {
		code, _ := rec.String("code_insee")
		pop, _ := rec.Int("population")

		c := models.Commune{
			CodeINSEE:      code,
			Name:           strField(rec, "name"),
			RegionCode:     strField(rec, "region_code"),
			RegionName:     strField(rec, "region_name"),
			DepartmentCode: strField(rec, "department_code"),
			DepartmentName: strField(rec, "department_name"),
			Population:     pop,
			AreaKm2:        floatField(rec, "area_km2"),
			Density:        floatField(rec, "density"),
		}
		if c.RegionCode != nil {
			normalized := NormalizeRegionCode(*c.RegionCode)
			c.RegionCode = &normalized
		}
		out = append(out, c)
	}
	return out
}

// EmploymentRecords converts cleaned Urssaf rows.
func EmploymentRecords(records []clean.Record) []models.RegionEmployment {
	out := make([]models.RegionEmployment, 0, len(records))
	for _, rec := range records {
		code, _ := rec.String("region_code")
		month, _ := rec.String("month")

		out = append(out, models.RegionEmployment{
			RegionCode:              NormalizeRegionCode(code),
			Month:                   month,
			RegionName:              strField(rec, "region_name"),
			SalaryMass:              floatField(rec, "salary_mass"),
			PartialUnemploymentBase: floatField(rec, "partial_unemployment_base"),
		})
	}
	return out
}

// NormalizeRegionCode strips leading zeros so the zero-padded codes of
// some exports ("084") join against the short form ("84"). A code of
// all zeros collapses to "0".
func NormalizeRegionCode(code string) string {
	i := 0
	for i < len(code)-1 && code[i] == '0' {
		i++
	}
	return code[i:]
}

func strField(rec clean.Record, name string) *string {
	if v, ok := rec.String(name); ok {
		return &v
	}
	return nil
}

func floatField(rec clean.Record, name string) *float64 {
	if v, ok := rec.Float(name); ok {
		return &v
	}
	return nil
}

func sumNullable(a, b *float64) *float64 {
	if a == nil && b == nil {
		return nil
	}
	var sum float64
	if a != nil {
		sum += *a
	}
	if b != nil {
		sum += *b
	}
	return &sum
}
