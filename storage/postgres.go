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

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	storerrors "github.com/sage-x-project/memstore/pkg/errors"
)

// PostgresConfig configures PostgresProvider: connection parameters, pool
// shape, and the domain defaults (dimension, metric, index type) applied
// when a caller creates a vector collection or memory without specifying
// one explicitly.
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	// Schema is the Postgres schema owning every table. Validated against
	// the SQL identifier whitelist before being interpolated anywhere.
	Schema string

	DefaultNamespace string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration

	// AutoMigrate creates every table (and the pgvector extension) if they
	// do not already exist.
	AutoMigrate bool

	DefaultDimension   int
	DefaultMetric      Metric
	DefaultIndexType   IndexType
	TextSearchLanguage string

	QueryTimeout time.Duration
}

// DefaultPostgresConfig returns the spec-mandated defaults (§6).
func DefaultPostgresConfig() *PostgresConfig {
	return &PostgresConfig{
		Host:               "localhost",
		Port:               5432,
		User:               "postgres",
		Database:           "memstore",
		SSLMode:            "disable",
		Schema:             "public",
		DefaultNamespace:   "default",
		MaxOpenConns:       25,
		MaxIdleConns:       5,
		ConnMaxLifetime:    5 * time.Minute,
		AutoMigrate:        true,
		DefaultDimension:   1536,
		DefaultMetric:      MetricCosine,
		DefaultIndexType:   IndexIVFFlat,
		TextSearchLanguage: "english",
		QueryTimeout:       5 * time.Second,
	}
}

// PostgresProvider is the relational-with-extension reference backend
// (spec §4.2(b)): KV + list tables, the full memory schema with a pgvector
// embedding column, and hybrid search expressed as a single SQL statement
// combining to_tsvector/ts_rank with the pgvector cosine operator.
type PostgresProvider struct {
	db     *sql.DB
	schema string
	cfg    *PostgresConfig
}

// NewPostgresProvider opens a connection pool, verifies connectivity, and
// (if AutoMigrate is set) creates the schema described in spec §6.
func NewPostgresProvider(cfg *PostgresConfig) (*PostgresProvider, error) {
	if cfg == nil {
		cfg = DefaultPostgresConfig()
	}
	if cfg.Schema == "" {
		cfg.Schema = "public"
	}
	if cfg.DefaultNamespace == "" {
		cfg.DefaultNamespace = "default"
	}
	if err := validateIdentifier("schema", cfg.Schema); err != nil {
		return nil, err
	}

	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}

	p := &PostgresProvider{db: db, schema: cfg.Schema, cfg: cfg}
	if cfg.AutoMigrate {
		if err := p.migrate(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("postgres: migrate: %w", err)
		}
	}
	return p, nil
}

func (p *PostgresProvider) Name() string { return "postgres" }

func (p *PostgresProvider) Initialize(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *PostgresProvider) Destroy(ctx context.Context) error {
	return p.db.Close()
}

func (p *PostgresProvider) t(name string) string {
	return quoteIdent(p.schema) + "." + quoteIdent(name)
}

// migrate creates kv_store, list_store, memories, memory_connections and
// vector_collections plus the indexes spec §4.2(b) requires, and ensures
// the pgvector extension is loaded.
func (p *PostgresProvider) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s`, quoteIdent(p.schema)),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			namespace   text NOT NULL DEFAULT '',
			key         text NOT NULL,
			value       jsonb NOT NULL,
			expires_at  timestamptz,
			metadata    jsonb,
			created_at  timestamptz NOT NULL DEFAULT now(),
			updated_at  timestamptz NOT NULL DEFAULT now(),
			PRIMARY KEY (namespace, key)
		)`, p.t("kv_store")),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS kv_store_expires_idx ON %s (expires_at)`, p.t("kv_store")),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			namespace  text NOT NULL DEFAULT '',
			key        text NOT NULL,
			position   int NOT NULL,
			value      jsonb NOT NULL,
			created_at timestamptz NOT NULL DEFAULT now(),
			PRIMARY KEY (namespace, key, position)
		)`, p.t("list_store")),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id                   text PRIMARY KEY,
			user_id              text NOT NULL,
			agent_id             text NOT NULL,
			type                 text NOT NULL,
			content              text NOT NULL,
			importance           double precision NOT NULL DEFAULT 0,
			resonance            double precision NOT NULL DEFAULT 1,
			access_count         int NOT NULL DEFAULT 0,
			created_at           timestamptz NOT NULL DEFAULT now(),
			updated_at           timestamptz NOT NULL DEFAULT now(),
			last_accessed_at     timestamptz NOT NULL DEFAULT now(),
			session_id           text,
			token_count          int,
			keywords             jsonb,
			metadata             jsonb,
			embedding            vector(%d),
			embedding_model      text,
			embedding_dimension  int,
			never_decay          boolean NOT NULL DEFAULT false,
			custom_half_life     int,
			reinforceable        boolean NOT NULL DEFAULT true,
			status               text NOT NULL DEFAULT 'active'
		)`, p.t("memories"), p.cfg.DefaultDimension),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS memories_owner_idx ON %s (user_id, agent_id, type, importance DESC)`, p.t("memories")),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS memories_content_fts_idx ON %s USING gin (to_tsvector('%s', content))`, p.t("memories"), p.cfg.TextSearchLanguage),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS memories_keywords_idx ON %s USING gin (keywords)`, p.t("memories")),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS memories_embedding_idx ON %s USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100)`, p.t("memories")),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id                text PRIMARY KEY,
			source_memory_id  text NOT NULL REFERENCES %s(id) ON DELETE CASCADE,
			target_memory_id  text NOT NULL REFERENCES %s(id) ON DELETE CASCADE,
			connection_type   text NOT NULL,
			strength          double precision NOT NULL DEFAULT 0,
			reason            text,
			created_at        timestamptz NOT NULL DEFAULT now(),
			UNIQUE (source_memory_id, target_memory_id)
		)`, p.t("memory_connections"), p.t("memories"), p.t("memories")),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			name          text PRIMARY KEY,
			dimension     int NOT NULL,
			metric        text NOT NULL,
			index_type    text,
			index_options jsonb,
			created_at    timestamptz NOT NULL DEFAULT now()
		)`, p.t("vector_collections")),
	}
	for _, s := range stmts {
		if _, err := p.db.ExecContext(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

func (p *PostgresProvider) ns(opts Opts) string {
	return opts.namespaceOr(p.cfg.DefaultNamespace)
}

func pgWrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return storerrors.New(storerrors.CategoryStorage, "BACKEND_ERROR", "postgres: "+op).Wrap(err)
}

// --- KVOps ---

func (p *PostgresProvider) Get(ctx context.Context, key string, opts Opts) (interface{}, bool, error) {
	ns := p.ns(opts)
	q := fmt.Sprintf(`SELECT value FROM %s WHERE namespace = $1 AND key = $2 AND (expires_at IS NULL OR expires_at > now())`, p.t("kv_store"))
	var raw []byte
	err := p.db.QueryRowContext(ctx, q, ns, key).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, pgWrap("get", err)
	}
	v, err := decodeJSON(raw)
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (p *PostgresProvider) Set(ctx context.Context, key string, value interface{}, opts Opts) error {
	raw, err := encodeJSON(value)
	if err != nil {
		return err
	}
	var expiresAt *time.Time
	if opts.TTLSeconds > 0 {
		t := time.Now().Add(time.Duration(opts.TTLSeconds) * time.Second)
		expiresAt = &t
	}
	meta, err := json.Marshal(opts.Metadata)
	if err != nil {
		return storerrors.NewSerializationError("encode-metadata", err)
	}
	q := fmt.Sprintf(`
		INSERT INTO %s (namespace, key, value, expires_at, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, now(), now())
		ON CONFLICT (namespace, key) DO UPDATE SET
			value = EXCLUDED.value, expires_at = EXCLUDED.expires_at,
			metadata = EXCLUDED.metadata, updated_at = now()
	`, p.t("kv_store"))
	_, err = p.db.ExecContext(ctx, q, p.ns(opts), key, raw, expiresAt, meta)
	return pgWrap("set", err)
}

func (p *PostgresProvider) Delete(ctx context.Context, key string, opts Opts) (bool, error) {
	q := fmt.Sprintf(`DELETE FROM %s WHERE namespace = $1 AND key = $2`, p.t("kv_store"))
	res, err := p.db.ExecContext(ctx, q, p.ns(opts), key)
	if err != nil {
		return false, pgWrap("delete", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (p *PostgresProvider) Exists(ctx context.Context, key string, opts Opts) (bool, error) {
	q := fmt.Sprintf(`SELECT EXISTS(SELECT 1 FROM %s WHERE namespace = $1 AND key = $2 AND (expires_at IS NULL OR expires_at > now()))`, p.t("kv_store"))
	var ok bool
	err := p.db.QueryRowContext(ctx, q, p.ns(opts), key).Scan(&ok)
	return ok, pgWrap("exists", err)
}

func (p *PostgresProvider) List(ctx context.Context, prefix string, opts Opts) ([]string, error) {
	q := fmt.Sprintf(`SELECT key FROM %s WHERE namespace = $1 AND key LIKE $2 AND (expires_at IS NULL OR expires_at > now()) ORDER BY key`, p.t("kv_store"))
	rows, err := p.db.QueryContext(ctx, q, p.ns(opts), escapeLike(prefix)+"%")
	if err != nil {
		return nil, pgWrap("list", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, pgWrap("list-scan", err)
		}
		out = append(out, k)
	}
	return out, pgWrap("list-rows", rows.Err())
}

func (p *PostgresProvider) Clear(ctx context.Context, prefix string, opts Opts) (int, error) {
	var res sql.Result
	var err error
	if prefix == "" && opts.Namespace == "" {
		res, err = p.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s`, p.t("kv_store")))
	} else {
		q := fmt.Sprintf(`DELETE FROM %s WHERE namespace = $1 AND key LIKE $2`, p.t("kv_store"))
		res, err = p.db.ExecContext(ctx, q, p.ns(opts), escapeLike(prefix)+"%")
	}
	if err != nil {
		return 0, pgWrap("clear", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// pqArray wraps a []string for use as a Postgres text[] bind parameter.
func pqArray(ss []string) interface{} {
	return pq.Array(ss)
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// --- BatchOps ---

func (p *PostgresProvider) GetMany(ctx context.Context, keys []string, opts Opts) (map[string]interface{}, error) {
	if len(keys) == 0 {
		return map[string]interface{}{}, nil
	}
	q := fmt.Sprintf(`SELECT key, value FROM %s WHERE namespace = $1 AND key = ANY($2) AND (expires_at IS NULL OR expires_at > now())`, p.t("kv_store"))
	rows, err := p.db.QueryContext(ctx, q, p.ns(opts), pq.Array(keys))
	if err != nil {
		return nil, pgWrap("get-many", err)
	}
	defer rows.Close()
	out := make(map[string]interface{}, len(keys))
	for rows.Next() {
		var k string
		var raw []byte
		if err := rows.Scan(&k, &raw); err != nil {
			return nil, pgWrap("get-many-scan", err)
		}
		v, err := decodeJSON(raw)
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, pgWrap("get-many-rows", rows.Err())
}

// SetMany performs one multi-row insert inside an explicit transaction, so
// the native path is all-or-nothing (spec §5): every key succeeds or the
// whole call fails and nil errors are returned.
func (p *PostgresProvider) SetMany(ctx context.Context, values map[string]interface{}, opts Opts) (map[string]error, error) {
	if len(values) == 0 {
		return nil, nil
	}
	var expiresAt *time.Time
	if opts.TTLSeconds > 0 {
		t := time.Now().Add(time.Duration(opts.TTLSeconds) * time.Second)
		expiresAt = &t
	}
	meta, err := json.Marshal(opts.Metadata)
	if err != nil {
		return nil, storerrors.NewSerializationError("encode-metadata", err)
	}
	ns := p.ns(opts)

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, pgWrap("set-many-begin", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (namespace, key, value, expires_at, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, now(), now())
		ON CONFLICT (namespace, key) DO UPDATE SET
			value = EXCLUDED.value, expires_at = EXCLUDED.expires_at,
			metadata = EXCLUDED.metadata, updated_at = now()
	`, p.t("kv_store")))
	if err != nil {
		return nil, pgWrap("set-many-prepare", err)
	}
	defer stmt.Close()

	for k, v := range values {
		raw, err := encodeJSON(v)
		if err != nil {
			return nil, err
		}
		if _, err := stmt.ExecContext(ctx, ns, k, raw, expiresAt, meta); err != nil {
			return nil, pgWrap("set-many-exec", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, pgWrap("set-many-commit", err)
	}
	return nil, nil
}

func (p *PostgresProvider) DeleteMany(ctx context.Context, keys []string, opts Opts) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	q := fmt.Sprintf(`DELETE FROM %s WHERE namespace = $1 AND key = ANY($2)`, p.t("kv_store"))
	res, err := p.db.ExecContext(ctx, q, p.ns(opts), pq.Array(keys))
	if err != nil {
		return 0, pgWrap("delete-many", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// --- ListOps ---

func (p *PostgresProvider) GetList(ctx context.Context, key string, start, end int, opts Opts) ([]interface{}, bool, error) {
	ns := p.ns(opts)
	var exists bool
	if err := p.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT EXISTS(SELECT 1 FROM %s WHERE namespace = $1 AND key = $2)`, p.t("list_store")), ns, key).Scan(&exists); err != nil {
		return nil, false, pgWrap("list-exists", err)
	}
	if !exists {
		return nil, false, nil
	}
	if start < 0 {
		start = 0
	}
	q := fmt.Sprintf(`SELECT value FROM %s WHERE namespace = $1 AND key = $2 AND position >= $3`, p.t("list_store"))
	args := []interface{}{ns, key, start}
	if end >= 0 {
		q += ` AND position <= $4`
		args = append(args, end)
	}
	q += ` ORDER BY position`
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, false, pgWrap("list-get", err)
	}
	defer rows.Close()
	var out []interface{}
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, false, pgWrap("list-get-scan", err)
		}
		v, err := decodeJSON(raw)
		if err != nil {
			return nil, false, err
		}
		out = append(out, v)
	}
	if out == nil {
		out = []interface{}{}
	}
	return out, true, pgWrap("list-get-rows", rows.Err())
}

// SaveList replaces the list atomically: delete-then-insert inside one
// transaction, so no reader observes a partial list (spec invariant 4).
func (p *PostgresProvider) SaveList(ctx context.Context, key string, values []interface{}, opts Opts) error {
	ns := p.ns(opts)
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return pgWrap("save-list-begin", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE namespace = $1 AND key = $2`, p.t("list_store")), ns, key); err != nil {
		return pgWrap("save-list-delete", err)
	}
	if len(values) > 0 {
		stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`INSERT INTO %s (namespace, key, position, value, created_at) VALUES ($1, $2, $3, $4, now())`, p.t("list_store")))
		if err != nil {
			return pgWrap("save-list-prepare", err)
		}
		defer stmt.Close()
		for i, v := range values {
			raw, err := encodeJSON(v)
			if err != nil {
				return err
			}
			if _, err := stmt.ExecContext(ctx, ns, key, i, raw); err != nil {
				return pgWrap("save-list-insert", err)
			}
		}
	}
	return pgWrap("save-list-commit", tx.Commit())
}

func (p *PostgresProvider) DeleteList(ctx context.Context, key string, opts Opts) (bool, error) {
	res, err := p.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE namespace = $1 AND key = $2`, p.t("list_store")), p.ns(opts), key)
	if err != nil {
		return false, pgWrap("delete-list", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// --- capability accessors ---

func (p *PostgresProvider) MemoryOps() (MemoryOps, bool)             { return p, true }
func (p *PostgresProvider) VectorOps() (VectorOps, bool)             { return p, true }
func (p *PostgresProvider) VectorMemoryOps() (VectorMemoryOps, bool) { return p, true }

var _ Provider = (*PostgresProvider)(nil)
