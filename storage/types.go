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

// Package storage defines the polyglot storage abstraction used by the
// memory platform: a capability-based provider contract, reference
// adapters (in-process, Redis, Postgres, SQLite, Qdrant), and the memory
// subsystem built on top of it (hybrid recall, resonance decay, connection
// graph, transactions, migration, cost tracking).
package storage

import (
	"context"
	"time"
)

// Opts carries the options recognized across KV, list, memory and vector
// operations. A zero value means "use the provider's default namespace, no
// TTL, no limit/offset."
type Opts struct {
	// Namespace overrides the provider's default namespace for this call.
	Namespace string

	// TTLSeconds expires the entry after this many seconds. Zero or
	// negative means no TTL.
	TTLSeconds int

	// Metadata is attached to the entry without affecting lookup identity.
	Metadata map[string]interface{}

	// Limit bounds the number of results. Zero means "no limit" (adapter
	// default applies).
	Limit int

	// Offset skips this many results before returning Limit of them.
	Offset int
}

func (o Opts) namespaceOr(def string) string {
	if o.Namespace != "" {
		return o.Namespace
	}
	return def
}

// Entry is a single KV record as returned by Get/GetMany. Value holds the
// already-deserialized JSON payload.
type Entry struct {
	Key       string
	Value     interface{}
	Namespace string
	Metadata  map[string]interface{}
	ExpiresAt *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ListEntry addresses one element of an ordered list.
type ListEntry struct {
	Key       string
	Position  int
	Value     interface{}
	Namespace string
}

// KVOps is the mandatory key/value capability every provider implements.
type KVOps interface {
	// Get returns the value stored at key, or (nil, false, nil) if absent
	// or expired. A deserialization failure surfaces as a SerializationError.
	Get(ctx context.Context, key string, opts Opts) (interface{}, bool, error)

	// Set stores value at key, replacing any prior entry.
	Set(ctx context.Context, key string, value interface{}, opts Opts) error

	// Delete removes key. Returns whether an entry was actually removed.
	Delete(ctx context.Context, key string, opts Opts) (bool, error)

	// Exists reports whether key has a live (non-expired) entry.
	Exists(ctx context.Context, key string, opts Opts) (bool, error)

	// List returns keys (namespace-prefix stripped) whose name begins with
	// prefix, confined to the effective namespace.
	List(ctx context.Context, prefix string, opts Opts) ([]string, error)

	// Clear removes every key matching prefix in the effective namespace.
	// An empty prefix with an empty namespace wipes the entire store.
	Clear(ctx context.Context, prefix string, opts Opts) (int, error)
}

// BatchOps is the mandatory batch KV capability.
type BatchOps interface {
	// GetMany returns a map of key to value for every key that has a live
	// entry; absent keys are simply omitted from the result.
	GetMany(ctx context.Context, keys []string, opts Opts) (map[string]interface{}, error)

	// SetMany stores every key/value pair. Returns a per-key error map for
	// backends whose batch write is not natively atomic (nil/empty map
	// means every key succeeded); see Opts and the provider's atomicity
	// note.
	SetMany(ctx context.Context, values map[string]interface{}, opts Opts) (map[string]error, error)

	// DeleteMany removes every key in keys, returning the count actually
	// removed. Per-key failures are never fatal to the whole call.
	DeleteMany(ctx context.Context, keys []string, opts Opts) (int, error)
}

// ListOps is the mandatory ordered-list capability.
type ListOps interface {
	// GetList returns values at positions [start, end] inclusive, or
	// (nil, false, nil) if the list does not exist. end == -1 means "last
	// element inclusive". A negative start is clamped to 0 rather than
	// treated as an offset from the end (see DESIGN.md open question #1).
	GetList(ctx context.Context, key string, start, end int, opts Opts) ([]interface{}, bool, error)

	// SaveList atomically replaces the list at key with values.
	SaveList(ctx context.Context, key string, values []interface{}, opts Opts) error

	// DeleteList removes the list at key, reporting whether it existed.
	DeleteList(ctx context.Context, key string, opts Opts) (bool, error)
}

// Lifecycle is the mandatory setup/teardown capability every provider
// implements, even if Initialize is a no-op.
type Lifecycle interface {
	// Initialize prepares the provider for use (schema creation, extension
	// loading, connection warm-up). Idempotent; a provider may invoke it
	// lazily on first use instead of requiring an explicit call.
	Initialize(ctx context.Context) error

	// Destroy releases all resources held by the provider. Further calls
	// against the provider fail after Destroy returns.
	Destroy(ctx context.Context) error
}
