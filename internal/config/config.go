// GovSense - French Public Sector Open Data Analytics
// Copyright 2026 GovSense Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/govsense/govsense

// Package config defines the typed application configuration and its
// layered loading: built-in defaults, an optional YAML file, then
// environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the root application configuration.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Ingest   IngestConfig   `koanf:"ingest"`
	Refresh  RefreshConfig  `koanf:"refresh"`
	Cache    CacheConfig    `koanf:"cache"`
	API      APIConfig      `koanf:"api"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host    string        `koanf:"host" validate:"required"`
	Port    int           `koanf:"port" validate:"min=1,max=65535"`
	Timeout time.Duration `koanf:"timeout" validate:"min=1s"`
}

// DatabaseConfig holds DuckDB settings.
type DatabaseConfig struct {
	Path      string `koanf:"path" validate:"required"`
	MaxMemory string `koanf:"max_memory"`
	Threads   int    `koanf:"threads" validate:"min=0"`
}

// IngestConfig holds settings for the data.gouv.fr client.
type IngestConfig struct {
	BaseURL       string        `koanf:"base_url" validate:"required,url"`
	Timeout       time.Duration `koanf:"timeout" validate:"min=1s"`
	RetryAttempts int           `koanf:"retry_attempts" validate:"min=1,max=10"`
	RetryDelay    time.Duration `koanf:"retry_delay" validate:"min=100ms"`
	RateLimit     float64       `koanf:"rate_limit" validate:"gt=0"`
}

// RefreshConfig holds the periodic refresh scheduler settings. An
// interval of 0 disables periodic runs; refreshes then happen only on
// startup or through the API trigger.
type RefreshConfig struct {
	Interval       time.Duration `koanf:"interval" validate:"omitempty,min=1m"`
	RunOnStartup   bool          `koanf:"run_on_startup"`
	HistoryEntries int           `koanf:"history_entries" validate:"min=1,max=1000"`
}

// CacheConfig holds the query cache settings. TTL applies to list
// queries; SummaryTTL bounds the dashboard summary separately since
// its freshness matters more than its cost.
type CacheConfig struct {
	TTL        time.Duration `koanf:"ttl" validate:"min=1s"`
	SummaryTTL time.Duration `koanf:"summary_ttl" validate:"min=1s"`
}

// APIConfig holds API behavior settings.
type APIConfig struct {
	DefaultPageSize int      `koanf:"default_page_size" validate:"min=1"`
	MaxPageSize     int      `koanf:"max_page_size" validate:"min=1"`
	RateLimitReqs   int      `koanf:"rate_limit_reqs" validate:"min=0"`
	CORSOrigins     []string `koanf:"cors_origins"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error fatal"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.API.MaxPageSize < c.API.DefaultPageSize {
		return fmt.Errorf("invalid configuration: api.max_page_size (%d) below api.default_page_size (%d)",
			c.API.MaxPageSize, c.API.DefaultPageSize)
	}
	return nil
}
