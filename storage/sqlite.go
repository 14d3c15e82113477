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
	"sync"
	"time"

	sqlitevec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"

	storerrors "github.com/sage-x-project/memstore/pkg/errors"
)

var sqliteVecRegisterOnce sync.Once

// SQLiteConfig configures SQLiteProvider, the embedded single-process
// backend (spec §4.2(c)): one file on disk, FTS5 for lexical search,
// sqlite-vec's vec0 virtual table for embeddings.
type SQLiteConfig struct {
	// Path is the database file. ":memory:" opens a private in-memory
	// database, useful for tests.
	Path string

	DefaultNamespace string
	AutoMigrate      bool

	DefaultDimension int
	BusyTimeout      time.Duration
}

// DefaultSQLiteConfig returns the spec-mandated defaults (§6).
func DefaultSQLiteConfig() *SQLiteConfig {
	return &SQLiteConfig{
		Path:             "memstore.db",
		DefaultNamespace: "default",
		AutoMigrate:      true,
		DefaultDimension: 1536,
		BusyTimeout:      5 * time.Second,
	}
}

// SQLiteProvider is the embedded-SQL reference backend. SQLite allows only
// one writer at a time; writeMu serializes every mutating statement so
// callers never see SQLITE_BUSY from this process, mirroring the
// single-writer discipline the original sqlite-vec example relies on.
type SQLiteProvider struct {
	db      *sql.DB
	cfg     *SQLiteConfig
	writeMu sync.Mutex
}

// NewSQLiteProvider opens (creating if needed) the database file, registers
// the sqlite-vec extension, and migrates the schema.
func NewSQLiteProvider(cfg *SQLiteConfig) (*SQLiteProvider, error) {
	if cfg == nil {
		cfg = DefaultSQLiteConfig()
	}
	if cfg.Path == "" {
		cfg.Path = "memstore.db"
	}
	if cfg.DefaultNamespace == "" {
		cfg.DefaultNamespace = "default"
	}
	if cfg.DefaultDimension == 0 {
		cfg.DefaultDimension = 1536
	}

	sqliteVecRegisterOnce.Do(sqlitevec.Auto)

	busyMs := int(cfg.BusyTimeout / time.Millisecond)
	if busyMs <= 0 {
		busyMs = 5000
	}
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=%d&_foreign_keys=on", cfg.Path, busyMs)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// A single shared connection avoids "database is locked" errors across
	// goroutines; SQLite serializes writers regardless of pool size.
	db.SetMaxOpenConns(1)

	p := &SQLiteProvider{db: db, cfg: cfg}
	if cfg.AutoMigrate {
		if err := p.migrate(context.Background()); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: migrate: %w", err)
		}
	}
	return p, nil
}

func (p *SQLiteProvider) Name() string { return "sqlite" }

func (p *SQLiteProvider) Initialize(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *SQLiteProvider) Destroy(ctx context.Context) error {
	return p.db.Close()
}

// migrate creates kv_store, list_store, memories (+FTS5 shadow table and
// sync triggers), memory_connections, embeddings, vec_memories and
// vector_collections, grounded on the teacher's sqlite-vec migration.
func (p *SQLiteProvider) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS kv_store (
			namespace  TEXT NOT NULL DEFAULT '',
			key        TEXT NOT NULL,
			value      TEXT NOT NULL,
			expires_at TEXT,
			metadata   TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (namespace, key)
		)`,
		`CREATE INDEX IF NOT EXISTS kv_store_expires_idx ON kv_store (expires_at)`,
		`CREATE TABLE IF NOT EXISTS list_store (
			namespace  TEXT NOT NULL DEFAULT '',
			key        TEXT NOT NULL,
			position   INTEGER NOT NULL,
			value      TEXT NOT NULL,
			created_at TEXT NOT NULL,
			PRIMARY KEY (namespace, key, position)
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS memories (
			id                  TEXT PRIMARY KEY,
			user_id             TEXT NOT NULL,
			agent_id            TEXT NOT NULL,
			type                TEXT NOT NULL,
			content             TEXT NOT NULL,
			importance          REAL NOT NULL DEFAULT 0,
			resonance           REAL NOT NULL DEFAULT 1,
			access_count        INTEGER NOT NULL DEFAULT 0,
			created_at          TEXT NOT NULL,
			updated_at          TEXT NOT NULL,
			last_accessed_at    TEXT NOT NULL,
			session_id          TEXT,
			token_count         INTEGER,
			keywords            TEXT,
			metadata            TEXT,
			embedding_model     TEXT,
			embedding_dimension INTEGER,
			never_decay         INTEGER NOT NULL DEFAULT 0,
			custom_half_life    INTEGER,
			reinforceable       INTEGER NOT NULL DEFAULT 1,
			status              TEXT NOT NULL DEFAULT 'active'
		)`),
		`CREATE INDEX IF NOT EXISTS memories_owner_idx ON memories (user_id, agent_id, type, importance DESC)`,
		`CREATE VIRTUAL TABLE IF NOT EXISTS fts_memories USING fts5(
			content, keywords, content=memories, content_rowid=rowid
		)`,
		`CREATE TRIGGER IF NOT EXISTS memories_ai AFTER INSERT ON memories BEGIN
			INSERT INTO fts_memories(rowid, content, keywords) VALUES (new.rowid, new.content, new.keywords);
		END`,
		`CREATE TRIGGER IF NOT EXISTS memories_ad AFTER DELETE ON memories BEGIN
			INSERT INTO fts_memories(fts_memories, rowid, content, keywords) VALUES('delete', old.rowid, old.content, old.keywords);
		END`,
		`CREATE TRIGGER IF NOT EXISTS memories_au AFTER UPDATE ON memories BEGIN
			INSERT INTO fts_memories(fts_memories, rowid, content, keywords) VALUES('delete', old.rowid, old.content, old.keywords);
			INSERT INTO fts_memories(rowid, content, keywords) VALUES (new.rowid, new.content, new.keywords);
		END`,
		`CREATE TABLE IF NOT EXISTS memory_connections (
			id               TEXT PRIMARY KEY,
			source_memory_id TEXT NOT NULL REFERENCES memories(id) ON DELETE CASCADE,
			target_memory_id TEXT NOT NULL REFERENCES memories(id) ON DELETE CASCADE,
			connection_type  TEXT NOT NULL,
			strength         REAL NOT NULL DEFAULT 0,
			reason           TEXT,
			created_at       TEXT NOT NULL,
			UNIQUE (source_memory_id, target_memory_id)
		)`,
		`CREATE INDEX IF NOT EXISTS connections_source_idx ON memory_connections (source_memory_id)`,
		`CREATE INDEX IF NOT EXISTS connections_target_idx ON memory_connections (target_memory_id)`,
		`CREATE TABLE IF NOT EXISTS embeddings (
			memory_id  TEXT PRIMARY KEY REFERENCES memories(id) ON DELETE CASCADE,
			embedding  BLOB NOT NULL,
			model      TEXT,
			dimension  INTEGER NOT NULL,
			created_at TEXT NOT NULL
		)`,
		fmt.Sprintf(`CREATE VIRTUAL TABLE IF NOT EXISTS vec_memories USING vec0(
			memory_id TEXT PRIMARY KEY,
			embedding float[%d]
		)`, p.cfg.DefaultDimension),
		`CREATE TABLE IF NOT EXISTS vector_collections (
			name          TEXT PRIMARY KEY,
			dimension     INTEGER NOT NULL,
			metric        TEXT NOT NULL,
			index_type    TEXT,
			index_options TEXT,
			created_at    TEXT NOT NULL
		)`,
	}
	for _, s := range stmts {
		if _, err := p.db.ExecContext(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

func (p *SQLiteProvider) ns(opts Opts) string {
	return opts.namespaceOr(p.cfg.DefaultNamespace)
}

func sqliteWrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return storerrors.New(storerrors.CategoryStorage, "BACKEND_ERROR", "sqlite: "+op).Wrap(err)
}

func nowText() string { return time.Now().UTC().Format(time.RFC3339Nano) }

// --- KVOps ---

func (p *SQLiteProvider) Get(ctx context.Context, key string, opts Opts) (interface{}, bool, error) {
	ns := p.ns(opts)
	var raw string
	var expiresAt sql.NullString
	err := p.db.QueryRowContext(ctx,
		`SELECT value, expires_at FROM kv_store WHERE namespace = ? AND key = ?`, ns, key,
	).Scan(&raw, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, sqliteWrap("get", err)
	}
	if expiresAt.Valid {
		if t, err := time.Parse(time.RFC3339Nano, expiresAt.String); err == nil && !t.After(time.Now()) {
			return nil, false, nil
		}
	}
	v, err := decodeJSON([]byte(raw))
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (p *SQLiteProvider) Set(ctx context.Context, key string, value interface{}, opts Opts) error {
	raw, err := encodeJSON(value)
	if err != nil {
		return err
	}
	var expiresAt interface{}
	if opts.TTLSeconds > 0 {
		expiresAt = time.Now().Add(time.Duration(opts.TTLSeconds) * time.Second).UTC().Format(time.RFC3339Nano)
	}
	meta, err := json.Marshal(opts.Metadata)
	if err != nil {
		return storerrors.NewSerializationError("encode-metadata", err)
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	now := nowText()
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO kv_store (namespace, key, value, expires_at, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(namespace, key) DO UPDATE SET
			value = excluded.value, expires_at = excluded.expires_at,
			metadata = excluded.metadata, updated_at = excluded.updated_at
	`, p.ns(opts), key, string(raw), expiresAt, string(meta), now, now)
	return sqliteWrap("set", err)
}

func (p *SQLiteProvider) Delete(ctx context.Context, key string, opts Opts) (bool, error) {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	res, err := p.db.ExecContext(ctx, `DELETE FROM kv_store WHERE namespace = ? AND key = ?`, p.ns(opts), key)
	if err != nil {
		return false, sqliteWrap("delete", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (p *SQLiteProvider) Exists(ctx context.Context, key string, opts Opts) (bool, error) {
	_, ok, err := p.Get(ctx, key, opts)
	return ok, err
}

func (p *SQLiteProvider) List(ctx context.Context, prefix string, opts Opts) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT key, expires_at FROM kv_store WHERE namespace = ? AND key LIKE ? ESCAPE '\' ORDER BY key
	`, p.ns(opts), escapeLike(prefix)+"%")
	if err != nil {
		return nil, sqliteWrap("list", err)
	}
	defer rows.Close()
	now := time.Now()
	var out []string
	for rows.Next() {
		var k string
		var expiresAt sql.NullString
		if err := rows.Scan(&k, &expiresAt); err != nil {
			return nil, sqliteWrap("list-scan", err)
		}
		if expiresAt.Valid {
			if t, err := time.Parse(time.RFC3339Nano, expiresAt.String); err == nil && !t.After(now) {
				continue
			}
		}
		out = append(out, k)
	}
	return out, sqliteWrap("list-rows", rows.Err())
}

func (p *SQLiteProvider) Clear(ctx context.Context, prefix string, opts Opts) (int, error) {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	var res sql.Result
	var err error
	if prefix == "" && opts.Namespace == "" {
		res, err = p.db.ExecContext(ctx, `DELETE FROM kv_store`)
	} else {
		res, err = p.db.ExecContext(ctx, `DELETE FROM kv_store WHERE namespace = ? AND key LIKE ? ESCAPE '\'`, p.ns(opts), escapeLike(prefix)+"%")
	}
	if err != nil {
		return 0, sqliteWrap("clear", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// --- BatchOps ---

func (p *SQLiteProvider) GetMany(ctx context.Context, keys []string, opts Opts) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(keys))
	for _, k := range keys {
		v, ok, err := p.Get(ctx, k, opts)
		if err != nil {
			return nil, err
		}
		if ok {
			out[k] = v
		}
	}
	return out, nil
}

// SetMany writes every key inside one transaction: SQLite's single-writer
// model makes the native path atomic, same as Postgres (spec §5).
func (p *SQLiteProvider) SetMany(ctx context.Context, values map[string]interface{}, opts Opts) (map[string]error, error) {
	if len(values) == 0 {
		return nil, nil
	}
	var expiresAt interface{}
	if opts.TTLSeconds > 0 {
		expiresAt = time.Now().Add(time.Duration(opts.TTLSeconds) * time.Second).UTC().Format(time.RFC3339Nano)
	}
	meta, err := json.Marshal(opts.Metadata)
	if err != nil {
		return nil, storerrors.NewSerializationError("encode-metadata", err)
	}
	ns := p.ns(opts)

	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, sqliteWrap("set-many-begin", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO kv_store (namespace, key, value, expires_at, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(namespace, key) DO UPDATE SET
			value = excluded.value, expires_at = excluded.expires_at,
			metadata = excluded.metadata, updated_at = excluded.updated_at
	`)
	if err != nil {
		return nil, sqliteWrap("set-many-prepare", err)
	}
	defer stmt.Close()

	now := nowText()
	for k, v := range values {
		raw, err := encodeJSON(v)
		if err != nil {
			return nil, err
		}
		if _, err := stmt.ExecContext(ctx, ns, k, string(raw), expiresAt, string(meta), now, now); err != nil {
			return nil, sqliteWrap("set-many-exec", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, sqliteWrap("set-many-commit", err)
	}
	return nil, nil
}

func (p *SQLiteProvider) DeleteMany(ctx context.Context, keys []string, opts Opts) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	placeholders := make([]string, len(keys))
	args := make([]interface{}, 0, len(keys)+1)
	args = append(args, p.ns(opts))
	for i, k := range keys {
		placeholders[i] = "?"
		args = append(args, k)
	}
	q := fmt.Sprintf(`DELETE FROM kv_store WHERE namespace = ? AND key IN (%s)`, strings.Join(placeholders, ","))
	res, err := p.db.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, sqliteWrap("delete-many", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// --- ListOps ---

func (p *SQLiteProvider) GetList(ctx context.Context, key string, start, end int, opts Opts) ([]interface{}, bool, error) {
	ns := p.ns(opts)
	var exists bool
	if err := p.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM list_store WHERE namespace = ? AND key = ?)`, ns, key).Scan(&exists); err != nil {
		return nil, false, sqliteWrap("list-exists", err)
	}
	if !exists {
		return nil, false, nil
	}
	if start < 0 {
		start = 0
	}
	q := `SELECT value FROM list_store WHERE namespace = ? AND key = ? AND position >= ?`
	args := []interface{}{ns, key, start}
	if end >= 0 {
		q += ` AND position <= ?`
		args = append(args, end)
	}
	q += ` ORDER BY position`
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, false, sqliteWrap("list-get", err)
	}
	defer rows.Close()
	var out []interface{}
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, false, sqliteWrap("list-get-scan", err)
		}
		v, err := decodeJSON([]byte(raw))
		if err != nil {
			return nil, false, err
		}
		out = append(out, v)
	}
	if out == nil {
		out = []interface{}{}
	}
	return out, true, sqliteWrap("list-get-rows", rows.Err())
}

func (p *SQLiteProvider) SaveList(ctx context.Context, key string, values []interface{}, opts Opts) error {
	ns := p.ns(opts)
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return sqliteWrap("save-list-begin", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM list_store WHERE namespace = ? AND key = ?`, ns, key); err != nil {
		return sqliteWrap("save-list-delete", err)
	}
	if len(values) > 0 {
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO list_store (namespace, key, position, value, created_at) VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			return sqliteWrap("save-list-prepare", err)
		}
		defer stmt.Close()
		now := nowText()
		for i, v := range values {
			raw, err := encodeJSON(v)
			if err != nil {
				return err
			}
			if _, err := stmt.ExecContext(ctx, ns, key, i, string(raw), now); err != nil {
				return sqliteWrap("save-list-insert", err)
			}
		}
	}
	return sqliteWrap("save-list-commit", tx.Commit())
}

func (p *SQLiteProvider) DeleteList(ctx context.Context, key string, opts Opts) (bool, error) {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	res, err := p.db.ExecContext(ctx, `DELETE FROM list_store WHERE namespace = ? AND key = ?`, p.ns(opts), key)
	if err != nil {
		return false, sqliteWrap("delete-list", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// --- capability accessors ---

func (p *SQLiteProvider) MemoryOps() (MemoryOps, bool)             { return p, true }
func (p *SQLiteProvider) VectorOps() (VectorOps, bool)             { return p, true }
func (p *SQLiteProvider) VectorMemoryOps() (VectorMemoryOps, bool) { return p, true }

var _ Provider = (*SQLiteProvider)(nil)
