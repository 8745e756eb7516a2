// GovSense - French Public Sector Open Data Analytics
// Copyright 2026 GovSense Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/govsense/govsense

// Package registry holds the static catalog of known datasets: where
// each one lives on data.gouv.fr, what columns it is expected to carry,
// which table it lands in and which columns form its natural key.
//
// The catalog is immutable and defined at process start. Lookup has no
// failure mode beyond an unknown ID.
package registry

import (
	"time"

	"github.com/govsense/govsense/internal/models"
)

// SemanticType declares how a raw text value is coerced.
type SemanticType string

const (
	TypeInteger SemanticType = "integer"
	TypeDecimal SemanticType = "decimal"
	TypeText    SemanticType = "text"
	// TypeMonth is a calendar month, normalized to YYYY-MM. The Urssaf
	// extract publishes it as the last day of the month.
	TypeMonth SemanticType = "month"
)

// MissingPolicy declares what happens when a field is absent or fails
// coercion. A policy never invents a non-zero value.
type MissingPolicy string

const (
	// MissingReject drops the row and counts it in the cleaning report.
	MissingReject MissingPolicy = "reject"
	// MissingZero substitutes the declared zero value.
	MissingZero MissingPolicy = "zero"
	// MissingNull leaves the field null.
	MissingNull MissingPolicy = "null"
)

// DedupPolicy decides between keeping the last occurrence of a
// duplicated natural key and rejecting every occurrence of it. Both are
// deterministic given the same input order.
type DedupPolicy string

const (
	DedupKeepLast         DedupPolicy = "keep_last"
	DedupRejectDuplicates DedupPolicy = "reject_duplicates"
)

// ColumnSpec describes one canonical column of a dataset.
type ColumnSpec struct {
	// Name is the canonical column name records carry after cleaning.
	Name string
	// Aliases are source header spellings mapped to this column, matched
	// after header normalization (lowercase, diacritics folded).
	Aliases []string
	Type    SemanticType
	// Required columns must be present in the source header; a payload
	// without them is a schema mismatch for the whole dataset.
	Required bool
	Missing  MissingPolicy
}

// DatasetSpec is one entry of the catalog.
type DatasetSpec struct {
	ID          string
	Name        string
	Description string
	// Slug is the data.gouv.fr dataset slug resolved through the API to
	// a CSV resource URL at fetch time.
	Slug      string
	Separator rune
	Columns   []ColumnSpec
	// TargetTable is the storage table cleaned records upsert into.
	TargetTable string
	// KeyColumns form the natural key used for dedup and upsert.
	KeyColumns []string
	Dedup      DedupPolicy
	// CadenceHint is how often the publisher refreshes the extract. It
	// is advisory; the scheduler runs on its own configured interval.
	CadenceHint time.Duration
}

// Column returns the spec for a canonical column name.
func (d DatasetSpec) Column(name string) (ColumnSpec, bool) {
	for _, c := range d.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return ColumnSpec{}, false
}

// Registry is an ordered, read-only set of dataset specs.
type Registry struct {
	specs []DatasetSpec
	byID  map[string]DatasetSpec
}

// New builds a registry from the given specs, preserving order.
func New(specs []DatasetSpec) *Registry {
	r := &Registry{
		specs: specs,
		byID:  make(map[string]DatasetSpec, len(specs)),
	}
	for _, s := range specs {
		r.byID[s.ID] = s
	}
	return r
}

// Default returns the registry of the three production datasets.
func Default() *Registry {
	return New([]DatasetSpec{RegionBudgets, Communes, ChomageRegional})
}

// List returns all specs in their declaration order.
func (r *Registry) List() []DatasetSpec {
	out := make([]DatasetSpec, len(r.specs))
	copy(out, r.specs)
	return out
}

// Get returns the spec for the given ID or models.ErrDatasetNotFound.
func (r *Registry) Get(id string) (DatasetSpec, error) {
	s, ok := r.byID[id]
	if !ok {
		return DatasetSpec{}, models.ErrDatasetNotFound
	}
	return s, nil
}
