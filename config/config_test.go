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

import (
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg == nil {
		t.Fatal("DefaultConfig() should not return nil")
	}

	if cfg.Storage.Type != "local" {
		t.Errorf("Storage.Type = %q, want local", cfg.Storage.Type)
	}

	if cfg.Storage.DefaultDimension == 0 {
		t.Error("Storage.DefaultDimension should have a default value")
	}

	if cfg.Logging.Level == "" {
		t.Error("Logging.Level should have a default value")
	}

	if cfg.Metrics.Port == 0 {
		t.Error("Metrics.Port should have a default value")
	}
}

func TestConfig_Validate_Success(t *testing.T) {
	cfg := DefaultConfig()

	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v, want nil for default config", err)
	}
}

func TestConfig_Validate_Storage(t *testing.T) {
	tests := []struct {
		name    string
		storage StorageConfig
		wantErr bool
	}{
		{
			name:    "valid local storage",
			storage: StorageConfig{Type: "local"},
			wantErr: false,
		},
		{
			name: "valid redis storage",
			storage: StorageConfig{
				Type:  "redis",
				Redis: RedisConfig{Address: "localhost:6379"},
			},
			wantErr: false,
		},
		{
			name: "valid postgres storage",
			storage: StorageConfig{
				Type: "postgres",
				Postgres: PostgresConfig{
					Host:     "localhost",
					Port:     5432,
					User:     "memstore",
					Database: "memstore",
				},
			},
			wantErr: false,
		},
		{
			name: "valid qdrant storage",
			storage: StorageConfig{
				Type:   "qdrant",
				Qdrant: QdrantConfig{Host: "localhost", Port: 6334},
			},
			wantErr: false,
		},
		{
			name: "valid sqlite storage",
			storage: StorageConfig{
				Type:   "sqlite-vec",
				SQLite: SQLiteConfig{Path: ":memory:"},
			},
			wantErr: false,
		},
		{
			name:    "invalid storage type",
			storage: StorageConfig{Type: "invalid"},
			wantErr: true,
		},
		{
			name: "redis without address",
			storage: StorageConfig{
				Type:  "redis",
				Redis: RedisConfig{},
			},
			wantErr: true,
		},
		{
			name: "postgres without database",
			storage: StorageConfig{
				Type: "postgres",
				Postgres: PostgresConfig{
					Host: "localhost",
					Port: 5432,
					User: "memstore",
				},
			},
			wantErr: true,
		},
		{
			name: "postgres invalid port",
			storage: StorageConfig{
				Type: "postgres",
				Postgres: PostgresConfig{
					Host:     "localhost",
					Port:     99999,
					User:     "memstore",
					Database: "memstore",
				},
			},
			wantErr: true,
		},
		{
			name: "sqlite without path",
			storage: StorageConfig{
				Type:   "sqlite",
				SQLite: SQLiteConfig{},
			},
			wantErr: true,
		},
		{
			name: "negative default dimension",
			storage: StorageConfig{
				Type:             "local",
				DefaultDimension: -1,
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Storage = tt.storage

			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_Validate_Logging(t *testing.T) {
	tests := []struct {
		name    string
		logging LoggingConfig
		wantErr bool
	}{
		{name: "valid debug json", logging: LoggingConfig{Level: "debug", Format: "json"}, wantErr: false},
		{name: "valid info text", logging: LoggingConfig{Level: "info", Format: "text"}, wantErr: false},
		{name: "invalid level", logging: LoggingConfig{Level: "trace", Format: "json"}, wantErr: true},
		{name: "invalid format", logging: LoggingConfig{Level: "info", Format: "xml"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Logging = tt.logging

			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_Validate_Metrics(t *testing.T) {
	tests := []struct {
		name    string
		metrics MetricsConfig
		wantErr bool
	}{
		{name: "disabled, no checks", metrics: MetricsConfig{Enabled: false}, wantErr: false},
		{name: "enabled valid", metrics: MetricsConfig{Enabled: true, Port: 9090, Path: "/metrics"}, wantErr: false},
		{name: "enabled bad port", metrics: MetricsConfig{Enabled: true, Port: 0, Path: "/metrics"}, wantErr: true},
		{name: "enabled empty path", metrics: MetricsConfig{Enabled: true, Port: 9090, Path: ""}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Metrics = tt.metrics

			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewConfig(t *testing.T) {
	cfg := NewConfig()
	if cfg == nil {
		t.Fatal("NewConfig() should not return nil")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("NewConfig() produced invalid config: %v", err)
	}
}

func TestDurationHelpers(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Storage.Local.SweepInterval() <= 0 {
		t.Error("LocalConfig.SweepInterval() should be positive for the default config")
	}
	if cfg.Storage.Redis.DialTimeout() <= 0 {
		t.Error("RedisConfig.DialTimeout() should be positive for the default config")
	}
	if cfg.Storage.QueryTimeout() <= 0 {
		t.Error("StorageConfig.QueryTimeout() should be positive for the default config")
	}
}
