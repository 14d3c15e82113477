// Copyright (C) 2025 sage-x-project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

package config

import "time"

// Config is the complete configuration for one storage module deployment:
// which adapter to construct, its backend-specific connection settings, and
// the ambient logging/metrics sinks.
type Config struct {
	Storage StorageConfig
	Logging LoggingConfig
	Metrics MetricsConfig
}

// StorageConfig selects and configures a storage.Provider. Only the
// sub-config matching Type is consulted by the factory; the rest are
// harmless to leave at their zero value.
type StorageConfig struct {
	// Type selects the adapter: "local", "redis", "postgres",
	// "postgresql-vector", "sqlite", "sqlite-vec", "qdrant".
	Type string

	// Namespace is the default namespace applied when a call's Opts
	// leaves Namespace empty.
	Namespace string

	// DefaultDimension is the expected embedding dimension; a stored
	// embedding of any other length fails with DimensionMismatch.
	DefaultDimension int

	// DefaultMetric is the default vector similarity metric ("cosine",
	// "euclidean", "dot").
	DefaultMetric string

	// DefaultIndexType is the default ANN index family for relational
	// vector columns ("ivfflat" or "hnsw").
	DefaultIndexType string

	// QueryTimeoutMS is the soft per-call deadline applied to network
	// round-trips (Postgres, Redis, Qdrant). Zero means no explicit
	// deadline beyond the caller's context.
	QueryTimeoutMS int

	Local    LocalConfig
	Redis    RedisConfig
	Postgres PostgresConfig
	SQLite   SQLiteConfig
	Qdrant   QdrantConfig

	Pool PoolConfig
}

// LocalConfig configures the in-process reference adapter.
type LocalConfig struct {
	// SweepIntervalSeconds is how often expired KV entries are purged in
	// the background. Zero uses a 30s default (see DESIGN.md open
	// question #4); negative disables the sweep goroutine.
	SweepIntervalSeconds int
}

// RedisConfig configures the distributed KV reference adapter.
type RedisConfig struct {
	Address      string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	MaxRetries   int
	DialTimeoutMS  int
	ReadTimeoutMS  int
	WriteTimeoutMS int
}

// PostgresConfig configures the relational + pgvector adapter.
type PostgresConfig struct {
	Host               string
	Port               int
	User               string
	Password           string
	Database           string
	SSLMode            string
	Schema             string
	PreparedStatements bool
	TextSearchLanguage string
}

// SQLiteConfig configures the embedded-SQL + sqlite-vec adapter.
type SQLiteConfig struct {
	// Path is the database file path, or ":memory:" for an ephemeral
	// single-process database.
	Path             string
	VecExtensionPath string
}

// QdrantConfig configures the vector-DB-only adapter.
type QdrantConfig struct {
	Host   string
	Port   int
	APIKey string
	UseTLS bool
}

// PoolConfig shapes a network adapter's connection pool.
type PoolConfig struct {
	MaxConnections       int
	IdleTimeoutMS        int
	ConnectionTimeoutMS  int
}

// LoggingConfig configures the logging sink shared by every adapter.
type LoggingConfig struct {
	Level      string // "debug", "info", "warn", "error"
	Format     string // "json", "text"
	OutputPath string
}

// MetricsConfig configures the metrics sink shared by every adapter.
type MetricsConfig struct {
	Enabled bool
	Port    int
	Path    string
}

// DefaultConfig returns a configuration with default values: the local,
// in-process adapter with no external dependencies.
func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			Type:             "local",
			Namespace:        "default",
			DefaultDimension: 1536,
			DefaultMetric:    "cosine",
			DefaultIndexType: "hnsw",
			QueryTimeoutMS:   5000,
			Local: LocalConfig{
				SweepIntervalSeconds: 30,
			},
			Redis: RedisConfig{
				Address:        "localhost:6379",
				DB:             0,
				PoolSize:       10,
				MinIdleConns:   2,
				MaxRetries:     3,
				DialTimeoutMS:  5000,
				ReadTimeoutMS:  3000,
				WriteTimeoutMS: 3000,
			},
			Postgres: PostgresConfig{
				Host:               "localhost",
				Port:               5432,
				SSLMode:            "disable",
				Schema:             "public",
				TextSearchLanguage: "english",
			},
			SQLite: SQLiteConfig{
				Path: "memstore.db",
			},
			Qdrant: QdrantConfig{
				Host: "localhost",
				Port: 6334,
			},
			Pool: PoolConfig{
				MaxConnections:      10,
				IdleTimeoutMS:       300000,
				ConnectionTimeoutMS: 5000,
			},
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			OutputPath: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Port:    9090,
			Path:    "/metrics",
		},
	}
}

// NewConfig creates a new default configuration. Alias for DefaultConfig.
func NewConfig() *Config {
	return DefaultConfig()
}

// SweepInterval returns LocalConfig.SweepIntervalSeconds as a Duration.
func (c LocalConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

// DialTimeout returns RedisConfig.DialTimeoutMS as a Duration.
func (c RedisConfig) DialTimeout() time.Duration { return time.Duration(c.DialTimeoutMS) * time.Millisecond }

// ReadTimeout returns RedisConfig.ReadTimeoutMS as a Duration.
func (c RedisConfig) ReadTimeout() time.Duration { return time.Duration(c.ReadTimeoutMS) * time.Millisecond }

// WriteTimeout returns RedisConfig.WriteTimeoutMS as a Duration.
func (c RedisConfig) WriteTimeout() time.Duration { return time.Duration(c.WriteTimeoutMS) * time.Millisecond }

// QueryTimeout returns StorageConfig.QueryTimeoutMS as a Duration.
func (c StorageConfig) QueryTimeout() time.Duration { return time.Duration(c.QueryTimeoutMS) * time.Millisecond }
