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

// Package config provides configuration management for the storage module:
// which storage.Provider to construct, its backend-specific connection
// settings, and the ambient logging/metrics sinks.
//
// Configuration is resolved with the following precedence (highest wins):
//
//  1. Environment variables (prefixed with MEMSTORE_)
//  2. Configuration file (YAML or JSON)
//  3. Default values (DefaultConfig)
//
// # Configuration Structure
//
// The configuration is organized into sections:
//   - Storage: which adapter to build (Type) and its per-backend settings
//     (Local, Redis, Postgres, SQLite, Qdrant) plus the shared connection
//     Pool
//   - Logging: the logging sink's level, format, and output
//   - Metrics: the metrics sink's enablement, port, and scrape path
//
// # Usage
//
// Loading configuration from a file, with environment overrides applied on
// top:
//
//	cfg, err := config.LoadFromFile("config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Loading configuration from the environment alone:
//
//	cfg, err := config.Load()
//
// Environment variable override:
//
//	export MEMSTORE_STORAGE_TYPE=postgres
//	export MEMSTORE_STORAGE_POSTGRES_HOST=db.internal
//	export MEMSTORE_STORAGE_POSTGRES_PASSWORD=secret
//
// # Validation
//
// All configuration is validated before use. Validation rules include:
//   - Storage type must be one of: local, redis, postgres,
//     postgresql-vector, sqlite, sqlite-vec, qdrant
//   - The sub-config matching Storage.Type must have its required fields
//     set (e.g. Postgres.Host/User/Database when Type is "postgres")
//   - Logging level must be one of: debug, info, warn, error
//   - Metrics port must be between 1 and 65535 when Metrics.Enabled
//
// See Config.Validate for the complete set of rules.
package config
