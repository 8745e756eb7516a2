// GovSense - French Public Sector Open Data Analytics
// Copyright 2026 GovSense Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/govsense/govsense

package clean

import (
	"errors"
	"sync"
	"testing"

	"github.com/govsense/govsense/internal/ingest"
	"github.com/govsense/govsense/internal/models"
	"github.com/govsense/govsense/internal/registry"
)

func budgetRow(year, region, name, revenue string) ingest.RawRecord {
	return ingest.RawRecord{Fields: map[string]string{
		"exer":            year,
		"reg":             region,
		"lbudg":           name,
		"rec_totales_f":   revenue,
		"dep_totales_f":   "0",
		"rec_totales_i":   "0",
		"dep_totales_i":   "0",
		"encours_de_dette": "",
	}}
}

func TestNormalizeName(t *testing.T) {
	cases := map[string]string{
		"  Exer ":           "exer",
		"Libellé Budget":    "libelle_budget",
		"REC_TOTALES_F":     "rec_totales_f",
		"Rec. Totales (F)":  "rec_totales_f",
		"Région":            "region",
		"code--insee":       "code_insee",
	}
	for in, want := range cases {
		if got := NormalizeName(in); got != want {
			t.Errorf("NormalizeName(%q) = %q, want %q", in, got, want)
		}
	}
}

// The pipeline cleans all datasets in parallel goroutines, so header
// normalization must hold up under concurrent use.
func TestCleanConcurrent(t *testing.T) {
	raw := []ingest.RawRecord{
		budgetRow("2023", "84", "Auvergne-Rhône-Alpes", "1 234,50"),
		budgetRow("2024", "11", "Île-de-France", "2000"),
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if got := NormalizeName("Libellé de la Région"); got != "libelle_de_la_region" {
					t.Errorf("NormalizeName = %q, want libelle_de_la_region", got)
					return
				}
				records, report, err := Clean(registry.RegionBudgets, raw)
				if err != nil || report.Kept != 2 {
					t.Errorf("Clean: kept = %d, err = %v", report.Kept, err)
					return
				}
				if records[0].Key != "2023|84" {
					t.Errorf("key = %q, want 2023|84", records[0].Key)
					return
				}
			}
		}()
	}
	wg.Wait()
}

func TestCleanBudgetRows(t *testing.T) {
	raw := []ingest.RawRecord{
		budgetRow("2023", "84", "Auvergne-Rhône-Alpes", "1 234,50"),
		budgetRow("2023", "11", "Île-de-France", "2000"),
	}

	records, report, err := Clean(registry.RegionBudgets, raw)
	if err != nil {
		t.Fatalf("Clean: %v", err)
	}
	if report.Kept != 2 || report.Rejected() != 0 {
		t.Fatalf("unexpected report: %+v", report)
	}

	rec := records[0]
	if rec.Key != "2023|84" {
		t.Errorf("key = %q, want 2023|84", rec.Key)
	}
	if year, _ := rec.Int("year"); year != 2023 {
		t.Errorf("year = %d, want 2023", year)
	}
	if rev, _ := rec.Float("operating_revenue"); rev != 1234.5 {
		t.Errorf("operating_revenue = %v, want 1234.5", rev)
	}
	if rec.Fields["debt"] != nil {
		t.Errorf("debt = %v, want nil", rec.Fields["debt"])
	}
}

func TestCleanSchemaMismatch(t *testing.T) {
	raw := []ingest.RawRecord{
		{Fields: map[string]string{"exer": "2023", "lbudg": "Bretagne"}},
	}

	_, _, err := Clean(registry.RegionBudgets, raw)
	var mismatch *models.SchemaMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected SchemaMismatchError, got %v", err)
	}
	if len(mismatch.MissingColumns) == 0 {
		t.Fatal("expected missing columns to be reported")
	}
	for _, col := range mismatch.MissingColumns {
		if col == "region_code" {
			return
		}
	}
	t.Errorf("region_code not in missing columns: %v", mismatch.MissingColumns)
}

func TestCleanCoercionFailureDropsRow(t *testing.T) {
	raw := []ingest.RawRecord{
		budgetRow("not-a-year", "84", "Auvergne-Rhône-Alpes", "10"),
		budgetRow("2023", "84", "Auvergne-Rhône-Alpes", "10"),
	}

	records, report, err := Clean(registry.RegionBudgets, raw)
	if err != nil {
		t.Fatalf("Clean: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("kept %d records, want 1", len(records))
	}
	if report.RejectedCoercion != 1 {
		t.Errorf("RejectedCoercion = %d, want 1", report.RejectedCoercion)
	}
}

func TestCleanMissingPolicies(t *testing.T) {
	// Operating revenue uses the zero policy, debt uses null, the key
	// columns reject.
	row := budgetRow("2023", "84", "Auvergne-Rhône-Alpes", "")
	missingKey := budgetRow("2023", "", "Sans région", "5")

	records, report, err := Clean(registry.RegionBudgets, []ingest.RawRecord{row, missingKey})
	if err != nil {
		t.Fatalf("Clean: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("kept %d records, want 1", len(records))
	}
	if report.RejectedMissing != 1 {
		t.Errorf("RejectedMissing = %d, want 1", report.RejectedMissing)
	}
	if rev, ok := records[0].Float("operating_revenue"); !ok || rev != 0 {
		t.Errorf("operating_revenue = %v, want 0 under zero policy", records[0].Fields["operating_revenue"])
	}
}

func TestCleanDedupKeepsLast(t *testing.T) {
	raw := []ingest.RawRecord{
		budgetRow("2023", "84", "Première version", "100"),
		budgetRow("2023", "84", "Version corrigée", "200"),
		budgetRow("2023", "11", "Île-de-France", "300"),
	}

	records, report, err := Clean(registry.RegionBudgets, raw)
	if err != nil {
		t.Fatalf("Clean: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("kept %d records, want 2", len(records))
	}
	if report.DuplicatesDropped != 1 {
		t.Errorf("DuplicatesDropped = %d, want 1", report.DuplicatesDropped)
	}
	for _, rec := range records {
		if rec.Key != "2023|84" {
			continue
		}
		if rev, _ := rec.Float("operating_revenue"); rev != 200 {
			t.Errorf("kept revenue = %v, want 200 (last occurrence)", rev)
		}
	}
}

func TestCleanDedupRejectDuplicates(t *testing.T) {
	spec := registry.RegionBudgets
	spec.Dedup = registry.DedupRejectDuplicates

	raw := []ingest.RawRecord{
		budgetRow("2023", "84", "a", "1"),
		budgetRow("2023", "84", "b", "2"),
		budgetRow("2023", "11", "c", "3"),
	}

	records, report, err := Clean(spec, raw)
	if err != nil {
		t.Fatalf("Clean: %v", err)
	}
	if len(records) != 1 || records[0].Key != "2023|11" {
		t.Fatalf("kept %v, want only 2023|11", records)
	}
	if report.DuplicatesDropped != 2 {
		t.Errorf("DuplicatesDropped = %d, want 2", report.DuplicatesDropped)
	}
}

func TestCleanHeaderAliases(t *testing.T) {
	// Alias resolution plus diacritic folding on source headers.
	raw := []ingest.RawRecord{
		{Fields: map[string]string{
			"Année":         "2023",
			"Code Région":   "84",
			"Nom Région":    "Auvergne-Rhône-Alpes",
			"rec_totales_f": "10",
			"dep_totales_f": "5",
		}},
	}

	records, _, err := Clean(registry.RegionBudgets, raw)
	if err != nil {
		t.Fatalf("Clean: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("kept %d records, want 1", len(records))
	}
	if code, _ := records[0].String("region_code"); code != "84" {
		t.Errorf("region_code = %q, want 84", code)
	}
}

func TestCleanIdempotent(t *testing.T) {
	raw := []ingest.RawRecord{
		budgetRow("2023", "84", "Auvergne-Rhône-Alpes", "1,5"),
		budgetRow("2023", "84", "Auvergne-Rhône-Alpes", "2,5"),
	}

	first, firstReport, err := Clean(registry.RegionBudgets, raw)
	if err != nil {
		t.Fatalf("Clean: %v", err)
	}
	second, secondReport, err := Clean(registry.RegionBudgets, raw)
	if err != nil {
		t.Fatalf("Clean: %v", err)
	}
	if len(first) != len(second) || *firstReport != *secondReport {
		t.Fatalf("cleaning is not deterministic: %+v vs %+v", firstReport, secondReport)
	}
	for i := range first {
		if first[i].Key != second[i].Key {
			t.Errorf("record %d key differs: %q vs %q", i, first[i].Key, second[i].Key)
		}
	}
}

func TestCoerceMonth(t *testing.T) {
	good := map[string]string{
		"2024-01":    "2024-01",
		"2024/03":    "2024-03",
		"2024-06-15": "2024-06",
	}
	for in, want := range good {
		v, err := coerce(registry.TypeMonth, in)
		if err != nil {
			t.Errorf("coerce month %q: %v", in, err)
			continue
		}
		if v != want {
			t.Errorf("coerce month %q = %v, want %q", in, v, want)
		}
	}
	for _, bad := range []string{"janvier", "2024-13", "24-01", "2024"} {
		if _, err := coerce(registry.TypeMonth, bad); err == nil {
			t.Errorf("coerce month %q: expected error", bad)
		}
	}
}
