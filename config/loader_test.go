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
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFromFile_YAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
storage:
  type: postgres
  namespace: agents
  postgres:
    host: db.internal
    port: 5432
    user: memstore
    password: secret
    database: memstore
    sslmode: require

logging:
  level: debug
  format: text

metrics:
  enabled: true
  port: 9100
`

	if err := os.WriteFile(configPath, []byte(yamlContent), 0600); err != nil {
		t.Fatalf("Failed to create test config file: %v", err)
	}

	cfg, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}

	if cfg.Storage.Type != "postgres" {
		t.Errorf("Storage.Type = %s, want postgres", cfg.Storage.Type)
	}
	if cfg.Storage.Namespace != "agents" {
		t.Errorf("Storage.Namespace = %s, want agents", cfg.Storage.Namespace)
	}
	if cfg.Storage.Postgres.Host != "db.internal" {
		t.Errorf("Storage.Postgres.Host = %s, want db.internal", cfg.Storage.Postgres.Host)
	}
	if cfg.Storage.Postgres.SSLMode != "require" {
		t.Errorf("Storage.Postgres.SSLMode = %s, want require", cfg.Storage.Postgres.SSLMode)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %s, want debug", cfg.Logging.Level)
	}
	if !cfg.Metrics.Enabled {
		t.Error("Metrics.Enabled = false, want true")
	}
	if cfg.Metrics.Port != 9100 {
		t.Errorf("Metrics.Port = %d, want 9100", cfg.Metrics.Port)
	}
}

func TestLoadFromFile_JSON(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")

	jsonContent := `{
  "storage": {
    "type": "qdrant",
    "qdrant": {
      "host": "vector.internal",
      "port": 6334,
      "apiKey": "qk-test"
    }
  },
  "logging": {
    "level": "warn",
    "format": "json"
  }
}`

	if err := os.WriteFile(configPath, []byte(jsonContent), 0600); err != nil {
		t.Fatalf("Failed to create test config file: %v", err)
	}

	cfg, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}

	if cfg.Storage.Type != "qdrant" {
		t.Errorf("Storage.Type = %s, want qdrant", cfg.Storage.Type)
	}
	if cfg.Storage.Qdrant.Host != "vector.internal" {
		t.Errorf("Storage.Qdrant.Host = %s, want vector.internal", cfg.Storage.Qdrant.Host)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("Logging.Level = %s, want warn", cfg.Logging.Level)
	}
}

func TestLoadFromFile_FileNotFound(t *testing.T) {
	_, err := LoadFromFile("/nonexistent/config.yaml")
	if err == nil {
		t.Error("Expected error for nonexistent file, got nil")
	}
}

func TestLoadFromFile_InvalidFormat(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	invalidYAML := `
storage:
  type: local
  invalid: [
`

	if err := os.WriteFile(configPath, []byte(invalidYAML), 0600); err != nil {
		t.Fatalf("Failed to create test config file: %v", err)
	}

	_, err := LoadFromFile(configPath)
	if err == nil {
		t.Error("Expected error for invalid YAML, got nil")
	}
}

func TestLoadFromFile_InvalidConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	// postgres selected but missing required database field.
	yamlContent := `
storage:
  type: postgres
  postgres:
    host: localhost
    port: 5432
    user: memstore
`

	if err := os.WriteFile(configPath, []byte(yamlContent), 0600); err != nil {
		t.Fatalf("Failed to create test config file: %v", err)
	}

	_, err := LoadFromFile(configPath)
	if err == nil {
		t.Error("Expected validation error for incomplete postgres config, got nil")
	}
}

func TestDefaultsPreservedForPartialFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
storage:
  namespace: custom-ns
`

	if err := os.WriteFile(configPath, []byte(yamlContent), 0600); err != nil {
		t.Fatalf("Failed to create test config file: %v", err)
	}

	cfg, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}

	if cfg.Storage.Namespace != "custom-ns" {
		t.Errorf("Storage.Namespace = %s, want custom-ns", cfg.Storage.Namespace)
	}
	if cfg.Storage.Type != "local" {
		t.Errorf("Storage.Type = %s, want local (default)", cfg.Storage.Type)
	}
	if cfg.Storage.DefaultDimension != 1536 {
		t.Errorf("Storage.DefaultDimension = %d, want 1536 (default)", cfg.Storage.DefaultDimension)
	}
}

func TestLoad_EnvOnly(t *testing.T) {
	os.Setenv("MEMSTORE_STORAGE_TYPE", "redis")
	os.Setenv("MEMSTORE_STORAGE_REDIS_ADDRESS", "redis.internal:6379")
	os.Setenv("MEMSTORE_LOGGING_LEVEL", "error")
	defer os.Unsetenv("MEMSTORE_STORAGE_TYPE")
	defer os.Unsetenv("MEMSTORE_STORAGE_REDIS_ADDRESS")
	defer os.Unsetenv("MEMSTORE_LOGGING_LEVEL")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Storage.Type != "redis" {
		t.Errorf("Storage.Type = %s, want redis", cfg.Storage.Type)
	}
	if cfg.Storage.Redis.Address != "redis.internal:6379" {
		t.Errorf("Storage.Redis.Address = %s, want redis.internal:6379", cfg.Storage.Redis.Address)
	}
	if cfg.Logging.Level != "error" {
		t.Errorf("Logging.Level = %s, want error", cfg.Logging.Level)
	}
}

func TestLoadFromFile_EnvOverridesFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
storage:
  type: postgres
  postgres:
    host: file-host
    port: 5432
    user: memstore
    database: memstore
`

	if err := os.WriteFile(configPath, []byte(yamlContent), 0600); err != nil {
		t.Fatalf("Failed to create test config file: %v", err)
	}

	os.Setenv("MEMSTORE_STORAGE_POSTGRES_HOST", "env-host")
	defer os.Unsetenv("MEMSTORE_STORAGE_POSTGRES_HOST")

	cfg, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}

	if cfg.Storage.Postgres.Host != "env-host" {
		t.Errorf("Storage.Postgres.Host = %s, want env-host (env should override file)", cfg.Storage.Postgres.Host)
	}
	// Non-overridden file values should be preserved.
	if cfg.Storage.Postgres.Database != "memstore" {
		t.Errorf("Storage.Postgres.Database = %s, want memstore (file value preserved)", cfg.Storage.Postgres.Database)
	}
}
