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
	"fmt"
)

// Validate validates the entire configuration.
func (c *Config) Validate() error {
	if err := c.validateStorage(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	if err := c.validateMetrics(); err != nil {
		return err
	}
	return nil
}

var validStorageTypes = map[string]bool{
	"local":             true,
	"redis":             true,
	"postgres":          true,
	"postgresql-vector": true,
	"sqlite":            true,
	"sqlite-vec":        true,
	"qdrant":            true,
}

// validateStorage validates the adapter selection and the sub-config that
// matches it.
func (c *Config) validateStorage() error {
	if !validStorageTypes[c.Storage.Type] {
		return fmt.Errorf("storage type must be one of: local, redis, postgres, postgresql-vector, sqlite, sqlite-vec, qdrant")
	}

	if c.Storage.DefaultDimension < 0 {
		return fmt.Errorf("storage default dimension must not be negative")
	}

	switch c.Storage.Type {
	case "redis":
		if err := c.validateRedis(); err != nil {
			return err
		}
	case "postgres", "postgresql-vector":
		if err := c.validatePostgres(); err != nil {
			return err
		}
	case "sqlite", "sqlite-vec":
		if err := c.validateSQLite(); err != nil {
			return err
		}
	case "qdrant":
		if err := c.validateQdrant(); err != nil {
			return err
		}
	}

	return nil
}

// validateRedis validates Redis configuration.
func (c *Config) validateRedis() error {
	if c.Storage.Redis.Address == "" {
		return fmt.Errorf("redis address must not be empty")
	}
	if c.Storage.Redis.PoolSize < 0 {
		return fmt.Errorf("redis pool size must not be negative")
	}
	return nil
}

// validatePostgres validates PostgreSQL configuration.
func (c *Config) validatePostgres() error {
	if c.Storage.Postgres.Host == "" {
		return fmt.Errorf("postgres host must not be empty")
	}
	if c.Storage.Postgres.Port < 1 || c.Storage.Postgres.Port > 65535 {
		return fmt.Errorf("postgres port must be between 1 and 65535")
	}
	if c.Storage.Postgres.User == "" {
		return fmt.Errorf("postgres user must not be empty")
	}
	if c.Storage.Postgres.Database == "" {
		return fmt.Errorf("postgres database must not be empty")
	}
	return nil
}

// validateSQLite validates the embedded-SQL adapter configuration.
func (c *Config) validateSQLite() error {
	if c.Storage.SQLite.Path == "" {
		return fmt.Errorf("sqlite path must not be empty (use \":memory:\" for an ephemeral database)")
	}
	return nil
}

// validateQdrant validates the vector-DB-only adapter configuration.
func (c *Config) validateQdrant() error {
	if c.Storage.Qdrant.Host == "" {
		return fmt.Errorf("qdrant host must not be empty")
	}
	if c.Storage.Qdrant.Port < 1 || c.Storage.Qdrant.Port > 65535 {
		return fmt.Errorf("qdrant port must be between 1 and 65535")
	}
	return nil
}

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
var validLogFormats = map[string]bool{"json": true, "text": true}

// validateLogging validates the logging sink configuration.
func (c *Config) validateLogging() error {
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging level must be one of: debug, info, warn, error")
	}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("logging format must be one of: json, text")
	}
	return nil
}

// validateMetrics validates the metrics sink configuration.
func (c *Config) validateMetrics() error {
	if !c.Metrics.Enabled {
		return nil
	}
	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics port must be between 1 and 65535")
	}
	if c.Metrics.Path == "" {
		return fmt.Errorf("metrics path must not be empty")
	}
	return nil
}
