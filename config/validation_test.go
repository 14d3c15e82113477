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

func TestConfig_Validate_Redis(t *testing.T) {
	tests := []struct {
		name    string
		storage StorageConfig
		wantErr bool
	}{
		{
			name: "valid redis",
			storage: StorageConfig{
				Type:  "redis",
				Redis: RedisConfig{Address: "localhost:6379", PoolSize: 10},
			},
			wantErr: false,
		},
		{
			name: "redis with negative pool size",
			storage: StorageConfig{
				Type:  "redis",
				Redis: RedisConfig{Address: "localhost:6379", PoolSize: -1},
			},
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

func TestConfig_Validate_Postgres(t *testing.T) {
	tests := []struct {
		name    string
		storage StorageConfig
		wantErr bool
	}{
		{
			name: "valid postgres",
			storage: StorageConfig{
				Type: "postgres",
				Postgres: PostgresConfig{
					Host:     "localhost",
					Port:     5432,
					User:     "testuser",
					Database: "testdb",
					SSLMode:  "disable",
				},
			},
			wantErr: false,
		},
		{
			name: "valid postgresql-vector",
			storage: StorageConfig{
				Type: "postgresql-vector",
				Postgres: PostgresConfig{
					Host:     "localhost",
					Port:     5432,
					User:     "testuser",
					Database: "testdb",
				},
			},
			wantErr: false,
		},
		{
			name: "postgres without host",
			storage: StorageConfig{
				Type: "postgres",
				Postgres: PostgresConfig{
					Port:     5432,
					User:     "testuser",
					Database: "testdb",
				},
			},
			wantErr: true,
		},
		{
			name: "postgres with invalid port",
			storage: StorageConfig{
				Type: "postgres",
				Postgres: PostgresConfig{
					Host:     "localhost",
					Port:     70000,
					User:     "testuser",
					Database: "testdb",
				},
			},
			wantErr: true,
		},
		{
			name: "postgres without user",
			storage: StorageConfig{
				Type: "postgres",
				Postgres: PostgresConfig{
					Host:     "localhost",
					Port:     5432,
					Database: "testdb",
				},
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
					User: "testuser",
				},
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

func TestConfig_Validate_SQLite(t *testing.T) {
	tests := []struct {
		name    string
		storage StorageConfig
		wantErr bool
	}{
		{
			name:    "valid sqlite file path",
			storage: StorageConfig{Type: "sqlite", SQLite: SQLiteConfig{Path: "data.db"}},
			wantErr: false,
		},
		{
			name:    "valid sqlite in-memory",
			storage: StorageConfig{Type: "sqlite-vec", SQLite: SQLiteConfig{Path: ":memory:"}},
			wantErr: false,
		},
		{
			name:    "sqlite without path",
			storage: StorageConfig{Type: "sqlite", SQLite: SQLiteConfig{}},
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

func TestConfig_Validate_Qdrant(t *testing.T) {
	tests := []struct {
		name    string
		storage StorageConfig
		wantErr bool
	}{
		{
			name:    "valid qdrant",
			storage: StorageConfig{Type: "qdrant", Qdrant: QdrantConfig{Host: "localhost", Port: 6334}},
			wantErr: false,
		},
		{
			name:    "qdrant without host",
			storage: StorageConfig{Type: "qdrant", Qdrant: QdrantConfig{Port: 6334}},
			wantErr: true,
		},
		{
			name:    "qdrant with invalid port",
			storage: StorageConfig{Type: "qdrant", Qdrant: QdrantConfig{Host: "localhost", Port: 99999}},
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

func TestConfig_Validate_UnknownStorageType(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Storage = StorageConfig{Type: "sharepoint"}

	if err := cfg.Validate(); err == nil {
		t.Error("expected error for unknown storage type, got nil")
	}
}
