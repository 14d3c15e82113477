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
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/sage-x-project/memstore/pkg/errors"
)

// ProviderOpts selects and configures a provider for the factory. Config is
// the backend-specific configuration value (e.g. *RedisConfig,
// *PostgresConfig, LocalConfig, *QdrantConfig); each registered factory
// function is responsible for type-asserting it.
type ProviderOpts struct {
	// Type selects the registered adapter. Empty uses the factory's
	// default type.
	Type string

	// Namespace is folded into the cache fingerprint alongside Config so
	// the same backend configured for two different namespaces yields two
	// distinct cached providers.
	Namespace string

	// Config is passed through verbatim to the registered factory
	// function.
	Config interface{}
}

// ProviderFactoryFunc constructs a Provider from ProviderOpts. It is called
// on every CreateProvider invocation and on a GetProvider cache miss.
type ProviderFactoryFunc func(opts ProviderOpts) (Provider, error)

// Factory is a process-wide registry of adapter constructors plus a cache
// of already-constructed providers keyed by (type, namespace, config
// fingerprint). It holds no global state of its own — callers construct and
// pass around a Factory value explicitly rather than reaching for a package
// level singleton.
type Factory struct {
	mu          sync.RWMutex
	factories   map[string]ProviderFactoryFunc
	cache       map[string]Provider
	defaultType string
}

// NewFactory returns an empty Factory with no adapters registered and no
// default type set.
func NewFactory() *Factory {
	return &Factory{
		factories: make(map[string]ProviderFactoryFunc),
		cache:     make(map[string]Provider),
	}
}

// RegisterAdapter associates typ with a constructor. Registering the same
// type twice replaces the previous constructor; it does not evict any
// providers already cached under that type.
func (f *Factory) RegisterAdapter(typ string, fn ProviderFactoryFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.factories[typ] = fn
}

// SetDefaultType designates the adapter used when ProviderOpts.Type is
// empty. It fails if typ has not been registered.
func (f *Factory) SetDefaultType(typ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.factories[typ]; !ok {
		return errors.New(errors.CategoryValidation, "UNKNOWN_ADAPTER_TYPE",
			"cannot set default type to an unregistered adapter").WithDetail("type", typ)
	}
	f.defaultType = typ
	return nil
}

func (f *Factory) resolveType(typ string) (string, error) {
	if typ != "" {
		return typ, nil
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.defaultType == "" {
		return "", errors.New(errors.CategoryValidation, "NO_DEFAULT_TYPE",
			"no type requested and no default type configured")
	}
	return f.defaultType, nil
}

// GetDefaultProvider returns (creating and caching, if necessary) the
// provider for the factory's default type with zero-value options.
func (f *Factory) GetDefaultProvider() (Provider, error) {
	return f.GetProvider(ProviderOpts{})
}

// fingerprint derives a stable cache key from the resolved type, namespace
// and config. A nil config fingerprints as "null", so repeated zero-value
// requests share one cached provider. Configs that fail to marshal get a
// random uuid suffix instead, which makes them effectively uncacheable
// rather than colliding with an unrelated config.
func fingerprint(typ, namespace string, config interface{}) string {
	raw, err := json.Marshal(config)
	if err != nil {
		return fmt.Sprintf("%s:%s:anon-%s", typ, namespace, uuid.NewString())
	}
	return fmt.Sprintf("%s:%s:%s", typ, namespace, raw)
}

// GetProvider returns a cached provider matching opts, constructing one via
// the registered factory function on a cache miss. A constructor error
// surfaces to the caller and is never recorded in the cache, so a
// subsequent call retries construction from scratch.
func (f *Factory) GetProvider(opts ProviderOpts) (Provider, error) {
	typ, err := f.resolveType(opts.Type)
	if err != nil {
		return nil, err
	}
	key := fingerprint(typ, opts.Namespace, opts.Config)

	f.mu.RLock()
	if p, ok := f.cache[key]; ok {
		f.mu.RUnlock()
		return p, nil
	}
	fn, ok := f.factories[typ]
	f.mu.RUnlock()
	if !ok {
		return nil, errors.New(errors.CategoryValidation, "UNKNOWN_ADAPTER_TYPE",
			"no adapter registered for type").WithDetail("type", typ)
	}

	p, err := fn(ProviderOpts{Type: typ, Namespace: opts.Namespace, Config: opts.Config})
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	// Another goroutine may have raced this one to construct the same
	// fingerprint; keep whichever was cached first and destroy the loser.
	if existing, ok := f.cache[key]; ok {
		f.mu.Unlock()
		_ = p.Destroy(context.Background())
		return existing, nil
	}
	f.cache[key] = p
	f.mu.Unlock()
	return p, nil
}

// CreateProvider constructs a fresh, uncached provider every call, even if
// an identical configuration is already cached under GetProvider.
func (f *Factory) CreateProvider(opts ProviderOpts) (Provider, error) {
	typ, err := f.resolveType(opts.Type)
	if err != nil {
		return nil, err
	}
	f.mu.RLock()
	fn, ok := f.factories[typ]
	f.mu.RUnlock()
	if !ok {
		return nil, errors.New(errors.CategoryValidation, "UNKNOWN_ADAPTER_TYPE",
			"no adapter registered for type").WithDetail("type", typ)
	}
	return fn(ProviderOpts{Type: typ, Namespace: opts.Namespace, Config: opts.Config})
}

// Destroy tears down every cached provider and empties the cache. Adapter
// registrations survive, so the factory can be reused afterward.
func (f *Factory) Destroy(ctx context.Context) error {
	f.mu.Lock()
	cached := f.cache
	f.cache = make(map[string]Provider)
	f.mu.Unlock()

	var firstErr error
	for _, p := range cached {
		if err := p.Destroy(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// RegisterBuiltinAdapters wires the reference and production adapters
// shipped by this module into f, under the type names listed in spec.md §6:
// "memory" (aliased to "local"), "redis", "postgresql"/"postgres",
// "postgresql-vector", "sqlite", "sqlite-vec", and "qdrant"/"pinecone" for
// the vector-DB-only family represented here by Qdrant.
func RegisterBuiltinAdapters(f *Factory) {
	f.RegisterAdapter("local", func(opts ProviderOpts) (Provider, error) {
		cfg, _ := opts.Config.(LocalConfig)
		p := NewLocalProvider(cfg)
		return p, p.Initialize(context.Background())
	})
	f.RegisterAdapter("memory", func(opts ProviderOpts) (Provider, error) {
		cfg, _ := opts.Config.(LocalConfig)
		p := NewLocalProvider(cfg)
		return p, p.Initialize(context.Background())
	})

	f.RegisterAdapter("redis", func(opts ProviderOpts) (Provider, error) {
		cfg, _ := opts.Config.(*RedisConfig)
		return NewRedisProvider(cfg)
	})

	postgresFn := func(opts ProviderOpts) (Provider, error) {
		cfg, _ := opts.Config.(*PostgresConfig)
		return NewPostgresProvider(cfg)
	}
	f.RegisterAdapter("postgres", postgresFn)
	f.RegisterAdapter("postgresql", postgresFn)
	f.RegisterAdapter("postgresql-vector", postgresFn)

	sqliteFn := func(opts ProviderOpts) (Provider, error) {
		cfg, _ := opts.Config.(*SQLiteConfig)
		return NewSQLiteProvider(cfg)
	}
	f.RegisterAdapter("sqlite", sqliteFn)
	f.RegisterAdapter("sqlite-vec", sqliteFn)

	qdrantFn := func(opts ProviderOpts) (Provider, error) {
		cfg, _ := opts.Config.(*QdrantConfig)
		return NewQdrantProvider(cfg)
	}
	f.RegisterAdapter("qdrant", qdrantFn)
	f.RegisterAdapter("pinecone", qdrantFn)
}
