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
	"github.com/sage-x-project/memstore/pkg/errors"
)

// Provider is the full storage contract. KV, batch, list and lifecycle are
// mandatory; memory and vector capabilities are optional and surfaced
// through the accessor methods, which return ok=false when the adapter
// does not implement them.
type Provider interface {
	KVOps
	BatchOps
	ListOps
	Lifecycle

	// Name identifies the adapter type ("local", "redis", "postgres",
	// "sqlite", "qdrant", ...).
	Name() string

	// MemoryOps returns the memory capability, or ok=false if unsupported.
	MemoryOps() (MemoryOps, bool)

	// VectorOps returns the raw vector capability, or ok=false if
	// unsupported.
	VectorOps() (VectorOps, bool)

	// VectorMemoryOps returns the vector-aware memory capability, or
	// ok=false if unsupported.
	VectorMemoryOps() (VectorMemoryOps, bool)
}

// RequireMemoryOps fetches p's memory capability or returns an Unsupported
// error naming the capability.
func RequireMemoryOps(p Provider) (MemoryOps, error) {
	if m, ok := p.MemoryOps(); ok {
		return m, nil
	}
	return nil, errors.NewUnsupported(p.Name(), "memory")
}

// RequireVectorOps fetches p's vector capability or returns an Unsupported
// error naming the capability.
func RequireVectorOps(p Provider) (VectorOps, error) {
	if v, ok := p.VectorOps(); ok {
		return v, nil
	}
	return nil, errors.NewUnsupported(p.Name(), "vector")
}

// RequireVectorMemoryOps fetches p's vector-memory capability or returns an
// Unsupported error naming the capability.
func RequireVectorMemoryOps(p Provider) (VectorMemoryOps, error) {
	if v, ok := p.VectorMemoryOps(); ok {
		return v, nil
	}
	return nil, errors.NewUnsupported(p.Name(), "vector-memory")
}
