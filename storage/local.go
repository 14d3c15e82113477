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
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"

	"github.com/sage-x-project/memstore/pkg/errors"
)

// LocalConfig configures LocalProvider.
type LocalConfig struct {
	DefaultNamespace string
	// SweepInterval is how often expired KV entries are purged in the
	// background. Zero uses a 30s default; negative disables the sweep
	// goroutine entirely (expiry is then enforced only on read).
	SweepInterval time.Duration
	Dimension     int
}

type kvEntry struct {
	value     interface{}
	expiresAt *time.Time
	metadata  map[string]interface{}
	createdAt time.Time
	updatedAt time.Time
}

func (e *kvEntry) expired(now time.Time) bool {
	return e.expiresAt != nil && now.After(*e.expiresAt)
}

// LocalProvider is the in-process, ephemeral reference backend: plain maps
// with TTL enforced on read, no I/O, no persistence. It also hosts a
// brute-force vector/hybrid search path so every capability group has at
// least one reference implementation that needs no external service.
type LocalProvider struct {
	mu sync.RWMutex

	defaultNamespace string
	dimension        int

	kv    map[string]map[string]*kvEntry          // namespace -> key -> entry
	lists map[string]map[string][]interface{}     // namespace -> key -> values

	memories    map[string]MemoryRecord // id -> record
	connections map[string][]MemoryConnection // userID -> edges

	collections map[string]*localCollection

	ids *snowflake.Node

	sweepInterval time.Duration
	stopSweep     chan struct{}
	destroyed     bool
}

type localCollection struct {
	meta VectorCollection
	rows map[string]VectorRow
}

// NewLocalProvider constructs a LocalProvider. Initialize starts the
// background TTL sweep; it is safe to skip and rely on read-time expiry
// only.
func NewLocalProvider(cfg LocalConfig) *LocalProvider {
	if cfg.DefaultNamespace == "" {
		cfg.DefaultNamespace = "default"
	}
	node, _ := snowflake.NewNode(1)
	sweep := cfg.SweepInterval
	if sweep == 0 {
		sweep = 30 * time.Second
	}
	return &LocalProvider{
		defaultNamespace: cfg.DefaultNamespace,
		dimension:        cfg.Dimension,
		kv:               make(map[string]map[string]*kvEntry),
		lists:            make(map[string]map[string][]interface{}),
		memories:         make(map[string]MemoryRecord),
		connections:      make(map[string][]MemoryConnection),
		collections:      make(map[string]*localCollection),
		ids:              node,
		sweepInterval:    sweep,
		stopSweep:        make(chan struct{}),
	}
}

func (p *LocalProvider) Name() string { return "local" }

// Initialize starts the background TTL sweep goroutine. Idempotent.
func (p *LocalProvider) Initialize(ctx context.Context) error {
	if p.sweepInterval > 0 {
		go p.sweepLoop()
	}
	return nil
}

func (p *LocalProvider) sweepLoop() {
	ticker := time.NewTicker(p.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.sweepExpired()
		case <-p.stopSweep:
			return
		}
	}
}

func (p *LocalProvider) sweepExpired() {
	now := time.Now()
	p.mu.Lock()
	defer p.mu.Unlock()
	for ns, keys := range p.kv {
		for k, e := range keys {
			if e.expired(now) {
				delete(keys, k)
			}
		}
		if len(keys) == 0 {
			delete(p.kv, ns)
		}
	}
}

// Destroy stops the sweep goroutine and releases all in-memory state.
func (p *LocalProvider) Destroy(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.destroyed {
		return nil
	}
	close(p.stopSweep)
	p.destroyed = true
	p.kv = nil
	p.lists = nil
	p.memories = nil
	p.connections = nil
	p.collections = nil
	return nil
}

func (p *LocalProvider) ns(opts Opts) string {
	return opts.namespaceOr(p.defaultNamespace)
}

// roundtripJSON enforces the JSON-framing boundary described in spec §4.1.2
// even for the in-process adapter, so SerializationError behavior is
// consistent across every backend.
func roundtripJSON(v interface{}) (interface{}, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, errors.NewSerializationError("encode", err)
	}
	var out interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, errors.NewSerializationError("decode", err)
	}
	return out, nil
}

// --- KVOps ---

func (p *LocalProvider) Get(ctx context.Context, key string, opts Opts) (interface{}, bool, error) {
	ns := p.ns(opts)
	p.mu.RLock()
	defer p.mu.RUnlock()
	entry, ok := p.kv[ns][key]
	if !ok || entry.expired(time.Now()) {
		return nil, false, nil
	}
	return entry.value, true, nil
}

func (p *LocalProvider) Set(ctx context.Context, key string, value interface{}, opts Opts) error {
	decoded, err := roundtripJSON(value)
	if err != nil {
		return err
	}
	ns := p.ns(opts)
	now := time.Now()
	var exp *time.Time
	if opts.TTLSeconds > 0 {
		t := now.Add(time.Duration(opts.TTLSeconds) * time.Second)
		exp = &t
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.kv[ns] == nil {
		p.kv[ns] = make(map[string]*kvEntry)
	}
	p.kv[ns][key] = &kvEntry{value: decoded, expiresAt: exp, metadata: opts.Metadata, createdAt: now, updatedAt: now}
	return nil
}

func (p *LocalProvider) Delete(ctx context.Context, key string, opts Opts) (bool, error) {
	ns := p.ns(opts)
	p.mu.Lock()
	defer p.mu.Unlock()
	keys := p.kv[ns]
	if keys == nil {
		return false, nil
	}
	if _, ok := keys[key]; !ok {
		return false, nil
	}
	delete(keys, key)
	return true, nil
}

func (p *LocalProvider) Exists(ctx context.Context, key string, opts Opts) (bool, error) {
	_, ok, err := p.Get(ctx, key, opts)
	return ok, err
}

func (p *LocalProvider) List(ctx context.Context, prefix string, opts Opts) ([]string, error) {
	ns := p.ns(opts)
	now := time.Now()
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []string
	for k, e := range p.kv[ns] {
		if e.expired(now) {
			continue
		}
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (p *LocalProvider) Clear(ctx context.Context, prefix string, opts Opts) (int, error) {
	ns := p.ns(opts)
	p.mu.Lock()
	defer p.mu.Unlock()

	if prefix == "" && opts.Namespace == "" {
		total := 0
		for _, keys := range p.kv {
			total += len(keys)
		}
		p.kv = make(map[string]map[string]*kvEntry)
		return total, nil
	}

	keys := p.kv[ns]
	if keys == nil {
		return 0, nil
	}
	removed := 0
	for k := range keys {
		if strings.HasPrefix(k, prefix) {
			delete(keys, k)
			removed++
		}
	}
	return removed, nil
}

// --- BatchOps ---

func (p *LocalProvider) GetMany(ctx context.Context, keys []string, opts Opts) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(keys))
	for _, k := range keys {
		if v, ok, err := p.Get(ctx, k, opts); err != nil {
			return nil, err
		} else if ok {
			out[k] = v
		}
	}
	return out, nil
}

// SetMany is natively atomic for the in-process provider: it holds the
// write lock for the whole batch, so no reader ever observes a partial
// write.
func (p *LocalProvider) SetMany(ctx context.Context, values map[string]interface{}, opts Opts) (map[string]error, error) {
	decoded := make(map[string]interface{}, len(values))
	for k, v := range values {
		d, err := roundtripJSON(v)
		if err != nil {
			return nil, err
		}
		decoded[k] = d
	}

	ns := p.ns(opts)
	now := time.Now()
	var exp *time.Time
	if opts.TTLSeconds > 0 {
		t := now.Add(time.Duration(opts.TTLSeconds) * time.Second)
		exp = &t
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.kv[ns] == nil {
		p.kv[ns] = make(map[string]*kvEntry)
	}
	for k, v := range decoded {
		p.kv[ns][k] = &kvEntry{value: v, expiresAt: exp, metadata: opts.Metadata, createdAt: now, updatedAt: now}
	}
	return nil, nil
}

func (p *LocalProvider) DeleteMany(ctx context.Context, keys []string, opts Opts) (int, error) {
	count := 0
	for _, k := range keys {
		if ok, _ := p.Delete(ctx, k, opts); ok {
			count++
		}
	}
	return count, nil
}

// --- ListOps ---

func (p *LocalProvider) GetList(ctx context.Context, key string, start, end int, opts Opts) ([]interface{}, bool, error) {
	ns := p.ns(opts)
	p.mu.RLock()
	defer p.mu.RUnlock()
	values, ok := p.lists[ns][key]
	if !ok {
		return nil, false, nil
	}
	if start < 0 {
		start = 0
	}
	last := len(values) - 1
	e := end
	if e < 0 || e >= len(values) {
		e = last
	}
	if start > e || start >= len(values) {
		return []interface{}{}, true, nil
	}
	out := make([]interface{}, e-start+1)
	copy(out, values[start:e+1])
	return out, true, nil
}

func (p *LocalProvider) SaveList(ctx context.Context, key string, values []interface{}, opts Opts) error {
	decoded := make([]interface{}, len(values))
	for i, v := range values {
		d, err := roundtripJSON(v)
		if err != nil {
			return err
		}
		decoded[i] = d
	}
	ns := p.ns(opts)
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lists[ns] == nil {
		p.lists[ns] = make(map[string][]interface{})
	}
	p.lists[ns][key] = decoded
	return nil
}

func (p *LocalProvider) DeleteList(ctx context.Context, key string, opts Opts) (bool, error) {
	ns := p.ns(opts)
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.lists[ns][key]; !ok {
		return false, nil
	}
	delete(p.lists[ns], key)
	return true, nil
}

// --- capability accessors ---

func (p *LocalProvider) MemoryOps() (MemoryOps, bool)             { return p, true }
func (p *LocalProvider) VectorOps() (VectorOps, bool)             { return p, true }
func (p *LocalProvider) VectorMemoryOps() (VectorMemoryOps, bool) { return p, true }
