// GovSense - French Public Sector Open Data Analytics
// Copyright 2026 GovSense Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/govsense/govsense

// Package database provides DuckDB-backed storage for the ingested
// datasets and the derived regional statistics. All writes go through
// transactional keyed upserts so a refresh run can be re-applied
// without duplicating rows.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/govsense/govsense/internal/config"
	"github.com/govsense/govsense/internal/logging"
)

// DB wraps the DuckDB connection and provides data access methods
type DB struct {
	conn *sql.DB
	cfg  *config.DatabaseConfig
}

// New creates a new database connection and initializes the schema
func New(cfg *config.DatabaseConfig) (*DB, error) {
	numThreads := cfg.Threads
	if numThreads <= 0 {
		numThreads = runtime.NumCPU()
	}

	// Ensure the parent directory exists for the database file.
	dbDir := filepath.Dir(cfg.Path)
	if dbDir != "" && dbDir != "." {
		if err := os.MkdirAll(dbDir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create database directory %s: %w", dbDir, err)
		}
	}

	maxMemory := cfg.MaxMemory
	if maxMemory == "" {
		maxMemory = "1GB"
	}

	connStr := fmt.Sprintf("%s?access_mode=read_write&threads=%d&max_memory=%s&autoinstall_known_extensions=false&autoload_known_extensions=false",
		cfg.Path, numThreads, maxMemory)

	conn, err := sql.Open("duckdb", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db := &DB{conn: conn, cfg: cfg}

	// DuckDB serializes writes internally; a single connection avoids
	// write-write conflicts between the refresh transaction and reads.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	if err := db.initSchema(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	logging.Info().Str("path", cfg.Path).Int("threads", numThreads).Msg("Database initialized")
	return db, nil
}

// Close closes the underlying connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping verifies the connection is alive.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS region_budgets (
		year INTEGER NOT NULL,
		region_code VARCHAR NOT NULL,
		region_name VARCHAR,
		operating_revenue DOUBLE,
		operating_expenditure DOUBLE,
		investment_revenue DOUBLE,
		investment_expenditure DOUBLE,
		total_revenue DOUBLE,
		total_expenditure DOUBLE,
		debt DOUBLE,
		updated_at TIMESTAMP NOT NULL DEFAULT current_timestamp,
		PRIMARY KEY (year, region_code)
	)`,
	`CREATE TABLE IF NOT EXISTS communes (
		code_insee VARCHAR NOT NULL,
		name VARCHAR,
		region_code VARCHAR,
		region_name VARCHAR,
		department_code VARCHAR,
		department_name VARCHAR,
		population BIGINT NOT NULL,
		area_km2 DOUBLE,
		density DOUBLE,
		updated_at TIMESTAMP NOT NULL DEFAULT current_timestamp,
		PRIMARY KEY (code_insee)
	)`,
	`CREATE TABLE IF NOT EXISTS region_employment (
		region_code VARCHAR NOT NULL,
		month VARCHAR NOT NULL,
		region_name VARCHAR,
		salary_mass DOUBLE,
		partial_unemployment_base DOUBLE,
		updated_at TIMESTAMP NOT NULL DEFAULT current_timestamp,
		PRIMARY KEY (region_code, month)
	)`,
	`CREATE TABLE IF NOT EXISTS region_stats (
		year INTEGER NOT NULL,
		region_code VARCHAR NOT NULL,
		region_name VARCHAR,
		total_population BIGINT,
		num_communes BIGINT,
		total_revenue DOUBLE,
		total_expenditure DOUBLE,
		debt DOUBLE,
		revenue_per_capita DOUBLE,
		expenditure_per_capita DOUBLE,
		salary_mass DOUBLE,
		partial_unemployment_base DOUBLE,
		updated_at TIMESTAMP NOT NULL DEFAULT current_timestamp,
		PRIMARY KEY (year, region_code)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_communes_region ON communes (region_code)`,
	`CREATE INDEX IF NOT EXISTS idx_employment_month ON region_employment (month)`,
	`CREATE INDEX IF NOT EXISTS idx_stats_year ON region_stats (year)`,
}

func (db *DB) initSchema() error {
	start := time.Now()
	for _, stmt := range schema {
		if _, err := db.conn.Exec(stmt); err != nil {
			return fmt.Errorf("schema statement failed: %w", err)
		}
	}
	logging.Debug().Dur("elapsed", time.Since(start)).Msg("Schema ready")
	return nil
}
