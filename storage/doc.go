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

// Package storage provides the polyglot storage abstraction for the agent
// memory platform: a capability-based Provider contract implemented by five
// backends (in-process, Redis, PostgreSQL, SQLite, Qdrant), plus the shared
// memory-record semantics (hybrid search, resonance decay, connection
// graphs) layered on top of whichever backend a caller chooses.
//
// # Implementation Status
//
// Implemented:
//   - Provider contract: mandatory KV/batch/list/lifecycle, optional
//     memory and vector capabilities surfaced through (x, bool) accessors
//   - LocalProvider (in-process, full capability set, reference semantics)
//   - RedisProvider (KV + list, distributed, TTL support)
//   - PostgresProvider (full capability set, SQL-native hybrid search)
//   - SQLiteProvider (full capability set, embedded)
//   - QdrantProvider (vector-native, KV emulated over point payloads)
//   - Hybrid search, resonance decay, connection graphs, transactions,
//     migration between providers, per-agent cost tracking
//
// Not implemented (future):
//   - A provider backed by a message-queue/pub-sub transport
//   - Cross-provider read replicas
//
// # Provider Contract
//
// Every backend implements the mandatory capabilities:
//
//	type Provider interface {
//	    Name() string
//	    KVOps
//	    BatchOps
//	    ListOps
//	    Lifecycle
//	    MemoryOps() (MemoryOps, bool)
//	    VectorOps() (VectorOps, bool)
//	    VectorMemoryOps() (VectorMemoryOps, bool)
//	}
//
// A backend that cannot support memory or vector semantics returns
// (nil, false) from the corresponding accessor rather than a partial,
// silently-degraded implementation; callers that need a capability use
// RequireMemoryOps/RequireVectorOps/RequireVectorMemoryOps, which turn a
// missing capability into an explicit errors.Unsupported error instead of a
// nil-pointer panic three calls later.
//
// # Basic Usage
//
//	p := storage.NewLocalProvider(storage.LocalConfig{})
//	_ = p.Initialize(ctx)
//	defer p.Destroy(ctx)
//
//	_ = p.Set(ctx, "key", map[string]any{"hello": "world"}, storage.Opts{})
//	val, ok, err := p.Get(ctx, "key", storage.Opts{})
//
// # Namespacing
//
// Every operation accepts an Opts.Namespace; a provider falls back to its
// own configured default namespace when the caller leaves it empty. Each
// backend keeps the namespace next to the key in its own way (a map per
// namespace in process, a namespace column in SQL, a "memstore:kv:{ns}:"
// key segment in Redis, a payload field in Qdrant), so equal keys in
// different namespaces never collide and List returns keys without it.
//
// # JSON Framing
//
// Every value crossing a Provider boundary is round-tripped through
// encoding/json, even for the in-process backend: this keeps type handling
// identical across backends and turns a malformed value into an explicit
// errors.SerializationError at the boundary rather than a silent partial
// decode or a type assertion panic deep in caller code.
//
// # Memory Subsystem
//
// Providers that support MemoryOps layer structured memory records on top
// of their KV capability: StoreMemory/Recall/UpdateMemory/DeleteMemory for
// single records, BatchUpdateMemories for bulk edits, CreateConnections/
// FindConnectedMemories for the memory graph, and ApplyDecay for resonance
// decay. Providers that also support VectorMemoryOps add HybridSearch,
// combining a vector similarity score and a lexical score into one ranked
// result set (see hybrid.go for the exact formula and tie-break order).
//
// # Transactions
//
// MemoryTransaction is a compensating-action saga for multi-step writes
// that can't share one native backend transaction: callers register
// ordered (forward, rollback) pairs, then Commit runs every forward action
// in order and, on the first failure, unwinds the already-executed
// rollbacks in reverse before re-raising the original error.
//
// # Migration
//
// Migrate copies KV entries and lists from one Provider to another in
// scan/migrate-kv/migrate-lists/optional-verify phases, with per-key
// failures recorded in the result rather than aborting the run.
//
// # Cost Tracking
//
// CostTracker wraps any Provider to record per-agent extraction cost
// events and answer budget questions (CheckBudget, GetCostSummary) over
// rolling windows, without requiring a dedicated billing backend.
//
// # Backend Comparison
//
//	| Feature          | Local   | Redis   | Postgres | SQLite  | Qdrant   |
//	|------------------|---------|---------|----------|---------|----------|
//	| Persistence      | No      | Yes     | Yes      | Yes     | Yes      |
//	| Distributed      | No      | Yes     | Yes      | No      | Yes      |
//	| Memory subsystem | Yes     | No      | Yes      | Yes     | No       |
//	| Native vectors   | Yes     | No      | Yes      | Yes     | Yes      |
//	| Native lists     | Yes     | Yes     | Yes      | Yes     | No       |
//	| Best for         | Testing | Cache   | Production | Embedded | Vector-only |
package storage
