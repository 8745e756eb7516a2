// GovSense - French Public Sector Open Data Analytics
// Copyright 2026 GovSense Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/govsense/govsense

package models

import (
	"errors"
	"fmt"
)

// ErrAlreadyRunning is returned when a refresh is triggered while
// another run is in flight. Triggers are rejected, never queued.
var ErrAlreadyRunning = errors.New("refresh already running")

// ErrDatasetNotFound is returned by the registry for unknown dataset IDs.
var ErrDatasetNotFound = errors.New("dataset not found")

// SourceUnavailableError indicates the remote source could not be
// reached or refused the request. Transient covers connection errors,
// 5xx responses and timeouts, which are retried with backoff; permanent
// failures (404, malformed payloads) fail the dataset immediately.
type SourceUnavailableError struct {
	DatasetID string
	Transient bool
	Err       error
}

func (e *SourceUnavailableError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("source unavailable (%s) for dataset %s: %v", kind, e.DatasetID, e.Err)
}

func (e *SourceUnavailableError) Unwrap() error { return e.Err }

// SchemaMismatchError indicates a fetched payload is missing required
// columns or has no recognizable header at all.
type SchemaMismatchError struct {
	DatasetID      string
	MissingColumns []string
	Err            error
}

func (e *SchemaMismatchError) Error() string {
	if len(e.MissingColumns) > 0 {
		return fmt.Sprintf("schema mismatch for dataset %s: missing columns %v", e.DatasetID, e.MissingColumns)
	}
	return fmt.Sprintf("schema mismatch for dataset %s: %v", e.DatasetID, e.Err)
}

func (e *SchemaMismatchError) Unwrap() error { return e.Err }

// StorageCommitError indicates the storage layer rejected a batch. The
// run fails; tables committed earlier in the same run stay in place.
type StorageCommitError struct {
	Table string
	Err   error
}

func (e *StorageCommitError) Error() string {
	return fmt.Sprintf("storage commit failed for table %s: %v", e.Table, e.Err)
}

func (e *StorageCommitError) Unwrap() error { return e.Err }
