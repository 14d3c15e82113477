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
	"strings"

	"github.com/spf13/viper"
)

// envPrefix is applied to every environment variable override, e.g.
// MEMSTORE_STORAGE_TYPE, MEMSTORE_STORAGE_POSTGRES_HOST.
const envPrefix = "MEMSTORE"

// boundEnvKeys lists every config key that can be overridden by an
// environment variable. Viper's AutomaticEnv only resolves nested keys it
// already knows about, so each one is bound explicitly rather than relying
// on a blanket scan.
var boundEnvKeys = []string{
	"storage.type",
	"storage.namespace",
	"storage.defaultdimension",
	"storage.defaultmetric",
	"storage.defaultindextype",
	"storage.querytimeoutms",

	"storage.local.sweepintervalseconds",

	"storage.redis.address",
	"storage.redis.password",
	"storage.redis.db",
	"storage.redis.poolsize",
	"storage.redis.minidleconns",
	"storage.redis.maxretries",
	"storage.redis.dialtimeoutms",
	"storage.redis.readtimeoutms",
	"storage.redis.writetimeoutms",

	"storage.postgres.host",
	"storage.postgres.port",
	"storage.postgres.user",
	"storage.postgres.password",
	"storage.postgres.database",
	"storage.postgres.sslmode",
	"storage.postgres.schema",
	"storage.postgres.preparedstatements",
	"storage.postgres.textsearchlanguage",

	"storage.sqlite.path",
	"storage.sqlite.vecextensionpath",

	"storage.qdrant.host",
	"storage.qdrant.port",
	"storage.qdrant.apikey",
	"storage.qdrant.usetls",

	"storage.pool.maxconnections",
	"storage.pool.idletimeoutms",
	"storage.pool.connectiontimeoutms",

	"logging.level",
	"logging.format",
	"logging.outputpath",

	"metrics.enabled",
	"metrics.port",
	"metrics.path",
}

// applyDefaults seeds v with DefaultConfig's values so a partial file or a
// pure-env configuration still produces a fully populated Config.
func applyDefaults(v *viper.Viper) {
	d := DefaultConfig()

	v.SetDefault("storage.type", d.Storage.Type)
	v.SetDefault("storage.namespace", d.Storage.Namespace)
	v.SetDefault("storage.defaultdimension", d.Storage.DefaultDimension)
	v.SetDefault("storage.defaultmetric", d.Storage.DefaultMetric)
	v.SetDefault("storage.defaultindextype", d.Storage.DefaultIndexType)
	v.SetDefault("storage.querytimeoutms", d.Storage.QueryTimeoutMS)

	v.SetDefault("storage.local.sweepintervalseconds", d.Storage.Local.SweepIntervalSeconds)

	v.SetDefault("storage.redis.address", d.Storage.Redis.Address)
	v.SetDefault("storage.redis.db", d.Storage.Redis.DB)
	v.SetDefault("storage.redis.poolsize", d.Storage.Redis.PoolSize)
	v.SetDefault("storage.redis.minidleconns", d.Storage.Redis.MinIdleConns)
	v.SetDefault("storage.redis.maxretries", d.Storage.Redis.MaxRetries)
	v.SetDefault("storage.redis.dialtimeoutms", d.Storage.Redis.DialTimeoutMS)
	v.SetDefault("storage.redis.readtimeoutms", d.Storage.Redis.ReadTimeoutMS)
	v.SetDefault("storage.redis.writetimeoutms", d.Storage.Redis.WriteTimeoutMS)

	v.SetDefault("storage.postgres.host", d.Storage.Postgres.Host)
	v.SetDefault("storage.postgres.port", d.Storage.Postgres.Port)
	v.SetDefault("storage.postgres.sslmode", d.Storage.Postgres.SSLMode)
	v.SetDefault("storage.postgres.schema", d.Storage.Postgres.Schema)
	v.SetDefault("storage.postgres.textsearchlanguage", d.Storage.Postgres.TextSearchLanguage)

	v.SetDefault("storage.sqlite.path", d.Storage.SQLite.Path)

	v.SetDefault("storage.qdrant.host", d.Storage.Qdrant.Host)
	v.SetDefault("storage.qdrant.port", d.Storage.Qdrant.Port)

	v.SetDefault("storage.pool.maxconnections", d.Storage.Pool.MaxConnections)
	v.SetDefault("storage.pool.idletimeoutms", d.Storage.Pool.IdleTimeoutMS)
	v.SetDefault("storage.pool.connectiontimeoutms", d.Storage.Pool.ConnectionTimeoutMS)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.outputpath", d.Logging.OutputPath)

	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.port", d.Metrics.Port)
	v.SetDefault("metrics.path", d.Metrics.Path)
}

// newViper builds a viper instance with defaults seeded and environment
// override binding wired up, but no config file attached yet.
func newViper() *viper.Viper {
	v := viper.New()
	applyDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, key := range boundEnvKeys {
		_ = v.BindEnv(key)
	}
	v.AutomaticEnv()
	return v
}

// Load builds a Config from defaults overlaid with environment variables
// only — no config file. Use this when a deployment is configured entirely
// through the process environment.
func Load() (*Config, error) {
	v := newViper()
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFromFile builds a Config from defaults, a YAML or JSON file at path,
// then environment variable overrides, in that precedence order (env
// wins). The file format is inferred from its extension.
func LoadFromFile(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
