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
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	storerrors "github.com/sage-x-project/memstore/pkg/errors"
)

// RedisConfig contains Redis connection configuration for RedisProvider.
type RedisConfig struct {
	// Address is the Redis server address (host:port).
	Address string

	// Password is the Redis password. Empty means no password.
	Password string

	// DB is the Redis database number.
	DB int

	// DefaultNamespace is used when a call's Opts leaves Namespace empty.
	DefaultNamespace string

	// PoolSize is the maximum number of socket connections.
	PoolSize int

	// MinIdleConns is the minimum number of idle connections.
	MinIdleConns int

	// MaxRetries is the maximum number of retries before giving up.
	MaxRetries int

	// DialTimeout is the timeout for establishing new connections.
	DialTimeout time.Duration

	// ReadTimeout is the timeout for socket reads.
	ReadTimeout time.Duration

	// WriteTimeout is the timeout for socket writes.
	WriteTimeout time.Duration
}

// DefaultRedisConfig returns the default Redis configuration.
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Address:          "localhost:6379",
		DB:               0,
		DefaultNamespace: "default",
		PoolSize:         10,
		MinIdleConns:     2,
		MaxRetries:       3,
		DialTimeout:      5 * time.Second,
		ReadTimeout:      3 * time.Second,
		WriteTimeout:     3 * time.Second,
	}
}

// RedisProvider is the distributed KV/list reference adapter. It implements
// only the mandatory capability groups (KV, batch, list, lifecycle); memory
// and vector capabilities are not supported — spec.md scopes Redis as a
// plain distributed cache/queue backend, not a recall engine.
type RedisProvider struct {
	client           *goredis.Client
	defaultNamespace string
	keyPrefix        string
}

// NewRedisProvider dials Redis and verifies connectivity with a bounded
// Ping before returning.
//
// Example:
//
//	p, err := storage.NewRedisProvider(storage.DefaultRedisConfig())
func NewRedisProvider(cfg *RedisConfig) (*RedisProvider, error) {
	if cfg == nil {
		cfg = DefaultRedisConfig()
	}
	if cfg.DefaultNamespace == "" {
		cfg.DefaultNamespace = "default"
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis: connect: %w", err)
	}

	return &RedisProvider{
		client:           client,
		defaultNamespace: cfg.DefaultNamespace,
		keyPrefix:        "memstore",
	}, nil
}

func (p *RedisProvider) Name() string { return "redis" }

// Initialize pings the server to confirm the connection is usable.
func (p *RedisProvider) Initialize(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// Destroy closes the underlying connection pool.
func (p *RedisProvider) Destroy(ctx context.Context) error {
	return p.client.Close()
}

func (p *RedisProvider) ns(opts Opts) string {
	return opts.namespaceOr(p.defaultNamespace)
}

func (p *RedisProvider) kvKey(ns, key string) string {
	return fmt.Sprintf("%s:kv:%s:%s", p.keyPrefix, ns, key)
}

func (p *RedisProvider) listKey(ns, key string) string {
	return fmt.Sprintf("%s:list:%s:%s", p.keyPrefix, ns, key)
}

func (p *RedisProvider) kvPattern(ns, prefix string) string {
	return fmt.Sprintf("%s:kv:%s:%s*", p.keyPrefix, ns, prefix)
}

func (p *RedisProvider) stripKVKey(ns, full string) string {
	return strings.TrimPrefix(full, fmt.Sprintf("%s:kv:%s:", p.keyPrefix, ns))
}

// --- KVOps ---

func (p *RedisProvider) Get(ctx context.Context, key string, opts Opts) (interface{}, bool, error) {
	raw, err := p.client.Get(ctx, p.kvKey(p.ns(opts), key)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("redis: get: %w", err)
	}
	value, err := decodeJSON(raw)
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (p *RedisProvider) Set(ctx context.Context, key string, value interface{}, opts Opts) error {
	raw, err := encodeJSON(value)
	if err != nil {
		return err
	}
	var ttl time.Duration
	if opts.TTLSeconds > 0 {
		ttl = time.Duration(opts.TTLSeconds) * time.Second
	}
	if err := p.client.Set(ctx, p.kvKey(p.ns(opts), key), raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis: set: %w", err)
	}
	return nil
}

func (p *RedisProvider) Delete(ctx context.Context, key string, opts Opts) (bool, error) {
	n, err := p.client.Del(ctx, p.kvKey(p.ns(opts), key)).Result()
	if err != nil {
		return false, fmt.Errorf("redis: delete: %w", err)
	}
	return n > 0, nil
}

func (p *RedisProvider) Exists(ctx context.Context, key string, opts Opts) (bool, error) {
	n, err := p.client.Exists(ctx, p.kvKey(p.ns(opts), key)).Result()
	if err != nil {
		return false, fmt.Errorf("redis: exists: %w", err)
	}
	return n > 0, nil
}

func (p *RedisProvider) List(ctx context.Context, prefix string, opts Opts) ([]string, error) {
	ns := p.ns(opts)
	keys, err := p.scanKeys(ctx, p.kvPattern(ns, prefix))
	if err != nil {
		return nil, err
	}
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = p.stripKVKey(ns, k)
	}
	return out, nil
}

func (p *RedisProvider) Clear(ctx context.Context, prefix string, opts Opts) (int, error) {
	ns := p.ns(opts)
	keys, err := p.scanKeys(ctx, p.kvPattern(ns, prefix))
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}
	n, err := p.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("redis: clear: %w", err)
	}
	return int(n), nil
}

// scanKeys walks the keyspace with SCAN rather than KEYS, so a large
// namespace does not block the server for the duration of the call.
func (p *RedisProvider) scanKeys(ctx context.Context, pattern string) ([]string, error) {
	var out []string
	iter := p.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		out = append(out, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis: scan: %w", err)
	}
	return out, nil
}

// --- BatchOps ---

func (p *RedisProvider) GetMany(ctx context.Context, keys []string, opts Opts) (map[string]interface{}, error) {
	if len(keys) == 0 {
		return map[string]interface{}{}, nil
	}
	ns := p.ns(opts)
	redisKeys := make([]string, len(keys))
	for i, k := range keys {
		redisKeys[i] = p.kvKey(ns, k)
	}
	vals, err := p.client.MGet(ctx, redisKeys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: mget: %w", err)
	}
	out := make(map[string]interface{}, len(keys))
	for i, v := range vals {
		if v == nil {
			continue
		}
		s, ok := v.(string)
		if !ok {
			continue
		}
		decoded, err := decodeJSON([]byte(s))
		if err != nil {
			return nil, err
		}
		out[keys[i]] = decoded
	}
	return out, nil
}

// SetMany pipelines every write but is not atomic across keys: a failure
// partway through leaves earlier keys in the pipeline committed. Per-key
// errors are reported in the returned map, per the BatchOps atomicity note.
func (p *RedisProvider) SetMany(ctx context.Context, values map[string]interface{}, opts Opts) (map[string]error, error) {
	if len(values) == 0 {
		return nil, nil
	}
	ns := p.ns(opts)
	var ttl time.Duration
	if opts.TTLSeconds > 0 {
		ttl = time.Duration(opts.TTLSeconds) * time.Second
	}

	encoded := make(map[string][]byte, len(values))
	for k, v := range values {
		raw, err := encodeJSON(v)
		if err != nil {
			return nil, err
		}
		encoded[k] = raw
	}

	pipe := p.client.Pipeline()
	cmds := make(map[string]*goredis.StatusCmd, len(encoded))
	for k, raw := range encoded {
		cmds[k] = pipe.Set(ctx, p.kvKey(ns, k), raw, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, goredis.Nil) {
		// Pipeline.Exec returns the first command error; per-key status is
		// still recoverable from the individual cmd results below.
	}

	errs := make(map[string]error)
	for k, cmd := range cmds {
		if err := cmd.Err(); err != nil {
			errs[k] = err
		}
	}
	if len(errs) == 0 {
		return nil, nil
	}
	return errs, nil
}

func (p *RedisProvider) DeleteMany(ctx context.Context, keys []string, opts Opts) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	ns := p.ns(opts)
	redisKeys := make([]string, len(keys))
	for i, k := range keys {
		redisKeys[i] = p.kvKey(ns, k)
	}
	n, err := p.client.Del(ctx, redisKeys...).Result()
	if err != nil {
		return 0, fmt.Errorf("redis: delmany: %w", err)
	}
	return int(n), nil
}

// --- ListOps ---

func (p *RedisProvider) GetList(ctx context.Context, key string, start, end int, opts Opts) ([]interface{}, bool, error) {
	redisKey := p.listKey(p.ns(opts), key)
	n, err := p.client.Exists(ctx, redisKey).Result()
	if err != nil {
		return nil, false, fmt.Errorf("redis: list exists: %w", err)
	}
	if n == 0 {
		return nil, false, nil
	}
	if start < 0 {
		start = 0
	}
	raws, err := p.client.LRange(ctx, redisKey, int64(start), int64(end)).Result()
	if err != nil {
		return nil, false, fmt.Errorf("redis: lrange: %w", err)
	}
	out := make([]interface{}, len(raws))
	for i, raw := range raws {
		decoded, err := decodeJSON([]byte(raw))
		if err != nil {
			return nil, false, err
		}
		out[i] = decoded
	}
	return out, true, nil
}

// SaveList atomically replaces the list at key using a Redis transaction
// (DEL followed by RPUSH inside MULTI/EXEC), so no reader ever observes a
// half-replaced list.
func (p *RedisProvider) SaveList(ctx context.Context, key string, values []interface{}, opts Opts) error {
	redisKey := p.listKey(p.ns(opts), key)

	encoded := make([]interface{}, len(values))
	for i, v := range values {
		raw, err := encodeJSON(v)
		if err != nil {
			return err
		}
		encoded[i] = raw
	}

	_, err := p.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Del(ctx, redisKey)
		if len(encoded) > 0 {
			pipe.RPush(ctx, redisKey, encoded...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: save list: %w", err)
	}
	return nil
}

func (p *RedisProvider) DeleteList(ctx context.Context, key string, opts Opts) (bool, error) {
	n, err := p.client.Del(ctx, p.listKey(p.ns(opts), key)).Result()
	if err != nil {
		return false, fmt.Errorf("redis: delete list: %w", err)
	}
	return n > 0, nil
}

// --- capability accessors ---

func (p *RedisProvider) MemoryOps() (MemoryOps, bool)             { return nil, false }
func (p *RedisProvider) VectorOps() (VectorOps, bool)             { return nil, false }
func (p *RedisProvider) VectorMemoryOps() (VectorMemoryOps, bool) { return nil, false }

var _ Provider = (*RedisProvider)(nil)

// encodeJSON serializes v for network storage, enforcing the same
// JSON-framing boundary LocalProvider applies in-process (spec §4.1.2).
func encodeJSON(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, storerrors.NewSerializationError("encode", err)
	}
	return raw, nil
}

func decodeJSON(raw []byte) (interface{}, error) {
	var out interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, storerrors.NewSerializationError("decode", err)
	}
	return out, nil
}
