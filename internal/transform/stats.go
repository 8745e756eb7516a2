// GovSense - French Public Sector Open Data Analytics
// Copyright 2026 GovSense Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/govsense/govsense

package transform

import (
	"sort"
	"strconv"

	"github.com/govsense/govsense/internal/models"
)

// communeAgg is the per-region rollup of commune demographics. It has
// no year axis; the commune dataset is a snapshot applied to every
// budget year.
type communeAgg struct {
	population int64
	count      int64
	name       *string
}

// RegionStats derives one statistics record per (year, region) from the
// three source datasets. Years come from the budget rows; the region
// axis for a year is the union of budget regions and commune regions,
// so a region present in only one source still gets a row with the
// other source's fields nil. Returns the derived records sorted by year
// then region code, plus the number of communes excluded from the
// rollup for lacking a region code.
func RegionStats(budgets []models.RegionBudget, communes []models.Commune, employment []models.RegionEmployment) ([]models.RegionStat, int) {
	byRegion := make(map[string]*communeAgg)
	excluded := 0
	for _, c := range communes {
		if c.RegionCode == nil || *c.RegionCode == "" {
			excluded++
			continue
		}
		agg := byRegion[*c.RegionCode]
		if agg == nil {
			agg = &communeAgg{}
			byRegion[*c.RegionCode] = agg
		}
		agg.population += c.Population
		agg.count++
		if agg.name == nil {
			agg.name = c.RegionName
		}
	}

	type yearRegion struct {
		year   int
		region string
	}
	budgetByKey := make(map[string]models.RegionBudget, len(budgets))
	years := make(map[int]bool)
	for _, b := range budgets {
		budgetByKey[statKey(b.Year, b.RegionCode)] = b
		years[b.Year] = true
	}

	employmentByKey := aggregateEmployment(employment)

	var keys []yearRegion
	for year := range years {
		seen := make(map[string]bool)
		for _, b := range budgets {
			if b.Year == year && !seen[b.RegionCode] {
				seen[b.RegionCode] = true
				keys = append(keys, yearRegion{year, b.RegionCode})
			}
		}
		for region := range byRegion {
			if !seen[region] {
				seen[region] = true
				keys = append(keys, yearRegion{year, region})
			}
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].year != keys[j].year {
			return keys[i].year < keys[j].year
		}
		return keys[i].region < keys[j].region
	})

	out := make([]models.RegionStat, 0, len(keys))
	for _, k := range keys {
		stat := models.RegionStat{Year: k.year, RegionCode: k.region}

		if b, ok := budgetByKey[statKey(k.year, k.region)]; ok {
			stat.RegionName = b.RegionName
			stat.TotalRevenue = b.TotalRevenue
			stat.TotalExpenditure = b.TotalExpenditure
			stat.Debt = b.Debt
		}
		if agg, ok := byRegion[k.region]; ok {
			pop := agg.population
			count := agg.count
			stat.TotalPopulation = &pop
			stat.NumCommunes = &count
			if stat.RegionName == nil {
				stat.RegionName = agg.name
			}
		}
		if emp, ok := employmentByKey[statKey(k.year, k.region)]; ok {
			stat.SalaryMass = emp.salaryMass
			stat.PartialUnemploymentBase = emp.partialBase
			if stat.RegionName == nil {
				stat.RegionName = emp.name
			}
		}

		stat.RevenuePerCapita = perCapita(stat.TotalRevenue, stat.TotalPopulation)
		stat.ExpenditurePerCapita = perCapita(stat.TotalExpenditure, stat.TotalPopulation)
		out = append(out, stat)
	}
	return out, excluded
}

type employmentAgg struct {
	salaryMass  *float64
	partialBase *float64
	name        *string
}

// aggregateEmployment rolls monthly rows up to (year, region) by
// summing the months present for that year. A measure stays nil when no
// month reported it.
func aggregateEmployment(employment []models.RegionEmployment) map[string]*employmentAgg {
	out := make(map[string]*employmentAgg)
	for _, e := range employment {
		if len(e.Month) < 4 {
			continue
		}
		year, err := strconv.Atoi(e.Month[:4])
		if err != nil {
			continue
		}
		key := statKey(year, e.RegionCode)
		agg := out[key]
		if agg == nil {
			agg = &employmentAgg{}
			out[key] = agg
		}
		agg.salaryMass = sumNullable(agg.salaryMass, e.SalaryMass)
		agg.partialBase = sumNullable(agg.partialBase, e.PartialUnemploymentBase)
		if agg.name == nil {
			agg.name = e.RegionName
		}
	}
	return out
}

// perCapita divides a regional total by population. Nil when either
// input is missing or the population is zero; a missing input is never
// treated as zero.
func perCapita(total *float64, population *int64) *float64 {
	if total == nil || population == nil || *population == 0 {
		return nil
	}
	v := *total / float64(*population)
	return &v
}

func statKey(year int, region string) string {
	return strconv.Itoa(year) + "|" + region
}
