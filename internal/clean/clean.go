// GovSense - French Public Sector Open Data Analytics
// Copyright 2026 GovSense Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/govsense/govsense

// Package clean normalizes raw dataset rows into typed, key-unique
// records: header mapping, type coercion, per-field missing-value
// policy and natural-key deduplication, in that order. Each stage is a
// pure function over the record stream; the only output besides the
// records is the cleaning report.
package clean

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/govsense/govsense/internal/ingest"
	"github.com/govsense/govsense/internal/models"
	"github.com/govsense/govsense/internal/registry"
)

// Record is one cleaned row. Fields hold canonical column names mapped
// to typed values: int64, float64 or string, with nil for null. Key is
// the natural key assembled from the spec's key columns, guaranteed
// non-empty and unique within a cleaned batch.
type Record struct {
	Key    string
	Fields map[string]interface{}
}

// Int returns a field as int64.
func (r Record) Int(name string) (int64, bool) {
	v, ok := r.Fields[name].(int64)
	return v, ok
}

// Float returns a field as float64.
func (r Record) Float(name string) (float64, bool) {
	v, ok := r.Fields[name].(float64)
	return v, ok
}

// String returns a field as string.
func (r Record) String(name string) (string, bool) {
	v, ok := r.Fields[name].(string)
	return v, ok
}

// Clean normalizes raw records per the dataset spec. Row-level problems
// are absorbed into the report; the only fatal outcome is a payload
// whose header lacks a required column, reported as SchemaMismatchError.
// Applied twice to the same input it yields identical output.
func Clean(spec registry.DatasetSpec, raw []ingest.RawRecord) ([]Record, *models.CleaningReport, error) {
	report := &models.CleaningReport{Total: len(raw)}

	mapping, err := headerMapping(spec, raw)
	if err != nil {
		return nil, report, err
	}

	cleaned := make([]Record, 0, len(raw))
	for _, row := range raw {
		rec, ok := cleanRow(spec, mapping, row, report)
		if ok {
			cleaned = append(cleaned, rec)
		}
	}

	cleaned = dedup(spec, cleaned, report)
	report.Kept = len(cleaned)
	return cleaned, report, nil
}

// headerMapping resolves source header names to canonical columns.
// Matching is done on normalized names (lowercase, diacritics folded,
// punctuation collapsed), against the canonical name and its aliases.
func headerMapping(spec registry.DatasetSpec, raw []ingest.RawRecord) (map[string]string, error) {
	present := make(map[string]string) // normalized source header -> source header
	if len(raw) > 0 {
		for src := range raw[0].Fields {
			present[NormalizeName(src)] = src
		}
	}

	mapping := make(map[string]string, len(spec.Columns)) // canonical -> source header
	var missing []string
	for _, col := range spec.Columns {
		src, ok := resolveColumn(col, present)
		if ok {
			mapping[col.Name] = src
		} else if col.Required {
			missing = append(missing, col.Name)
		}
	}

	if len(missing) > 0 {
		return nil, &models.SchemaMismatchError{DatasetID: spec.ID, MissingColumns: missing}
	}
	return mapping, nil
}

func resolveColumn(col registry.ColumnSpec, present map[string]string) (string, bool) {
	if src, ok := present[NormalizeName(col.Name)]; ok {
		return src, true
	}
	for _, alias := range col.Aliases {
		if src, ok := present[NormalizeName(alias)]; ok {
			return src, true
		}
	}
	return "", false
}

// cleanRow coerces one row. Returns false when the row is rejected.
func cleanRow(spec registry.DatasetSpec, mapping map[string]string, row ingest.RawRecord, report *models.CleaningReport) (Record, bool) {
	fields := make(map[string]interface{}, len(spec.Columns))

	for _, col := range spec.Columns {
		src, mapped := mapping[col.Name]
		rawVal := ""
		if mapped {
			rawVal = strings.TrimSpace(row.Fields[src])
		}

		if rawVal == "" {
			switch col.Missing {
			case registry.MissingReject:
				report.RejectedMissing++
				return Record{}, false
			case registry.MissingZero:
				fields[col.Name] = zeroValue(col.Type)
			default:
				fields[col.Name] = nil
			}
			continue
		}

		v, err := coerce(col.Type, rawVal)
		if err != nil {
			if col.Required {
				report.RejectedCoercion++
				return Record{}, false
			}
			// Optional coercion failure stores null, never a guess.
			fields[col.Name] = nil
			continue
		}
		fields[col.Name] = v
	}

	key, err := naturalKey(spec, fields)
	if err != nil {
		report.RejectedMissing++
		return Record{}, false
	}
	return Record{Key: key, Fields: fields}, true
}

// naturalKey assembles the key column values. Key columns are required
// with reject policy, so a missing part means the row is invalid.
func naturalKey(spec registry.DatasetSpec, fields map[string]interface{}) (string, error) {
	parts := make([]string, 0, len(spec.KeyColumns))
	for _, kc := range spec.KeyColumns {
		v := fields[kc]
		if v == nil {
			return "", fmt.Errorf("key column %s is null", kc)
		}
		switch t := v.(type) {
		case int64:
			parts = append(parts, strconv.FormatInt(t, 10))
		case float64:
			parts = append(parts, strconv.FormatFloat(t, 'f', -1, 64))
		case string:
			if t == "" {
				return "", fmt.Errorf("key column %s is empty", kc)
			}
			parts = append(parts, t)
		default:
			return "", fmt.Errorf("key column %s has unsupported type %T", kc, v)
		}
	}
	return strings.Join(parts, "|"), nil
}

// dedup applies the dataset's duplicate policy. Both policies are
// deterministic given the same input order: keep-last always keeps the
// occurrence with the highest input index, reject-duplicates drops
// every occurrence of a repeated key.
func dedup(spec registry.DatasetSpec, records []Record, report *models.CleaningReport) []Record {
	lastIndex := make(map[string]int, len(records))
	counts := make(map[string]int, len(records))
	for i, rec := range records {
		lastIndex[rec.Key] = i
		counts[rec.Key]++
	}

	out := make([]Record, 0, len(lastIndex))
	for i, rec := range records {
		switch spec.Dedup {
		case registry.DedupRejectDuplicates:
			if counts[rec.Key] > 1 {
				report.DuplicatesDropped++
				continue
			}
			out = append(out, rec)
		default: // keep last
			if lastIndex[rec.Key] != i {
				report.DuplicatesDropped++
				continue
			}
			out = append(out, rec)
		}
	}
	return out
}

func zeroValue(t registry.SemanticType) interface{} {
	switch t {
	case registry.TypeInteger:
		return int64(0)
	case registry.TypeDecimal:
		return float64(0)
	default:
		return ""
	}
}
