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

//go:build integration
// +build integration

package storage

import (
	"context"
	"testing"
)

// setupQdrant creates a QdrantProvider against a local instance. Skips the
// test if Qdrant is not reachable.
func setupQdrant(t *testing.T) *QdrantProvider {
	t.Helper()

	cfg := DefaultQdrantConfig()
	p, err := NewQdrantProvider(cfg)
	if err != nil {
		t.Skipf("qdrant not available: %v", err)
	}

	ctx := context.Background()
	if err := p.Initialize(ctx); err != nil {
		t.Skipf("qdrant not available: %v", err)
	}
	t.Cleanup(func() {
		_, _ = p.Clear(ctx, "", Opts{Namespace: "it"})
		_ = p.Destroy(ctx)
	})
	return p
}

func TestQdrantProvider_KV_RoundTrip(t *testing.T) {
	p := setupQdrant(t)
	ctx := context.Background()
	opts := Opts{Namespace: "it"}

	if err := p.Set(ctx, "k1", map[string]interface{}{"hello": "world"}, opts); err != nil {
		t.Fatalf("Set: %v", err)
	}
	v, ok, err := p.Get(ctx, "k1", opts)
	if err != nil || !ok {
		t.Fatalf("Get: v=%v ok=%v err=%v", v, ok, err)
	}
	m, ok := v.(map[string]interface{})
	if !ok || m["hello"] != "world" {
		t.Fatalf("unexpected value: %#v", v)
	}

	keys, err := p.List(ctx, "k", opts)
	if err != nil || len(keys) != 1 {
		t.Fatalf("List: keys=%v err=%v", keys, err)
	}

	deleted, err := p.Delete(ctx, "k1", opts)
	if err != nil || !deleted {
		t.Fatalf("Delete: deleted=%v err=%v", deleted, err)
	}
}

func TestQdrantProvider_VectorOps_RoundTrip(t *testing.T) {
	p := setupQdrant(t)
	ctx := context.Background()
	collection := "it_vectors"

	if err := p.CreateCollection(ctx, VectorCollection{Name: collection, Dimension: 4, Metric: MetricCosine}); err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}
	t.Cleanup(func() { _ = p.DropCollection(ctx, collection) })

	if err := p.UpsertVectors(ctx, collection, []VectorRow{
		{ID: "v1", Vector: []float32{1, 0, 0, 0}, Metadata: map[string]interface{}{"label": "a"}},
	}); err != nil {
		t.Fatalf("UpsertVectors: %v", err)
	}

	matches, err := p.SearchVectors(ctx, collection, []float32{1, 0, 0, 0}, VectorSearchOpts{Limit: 1})
	if err != nil {
		t.Fatalf("SearchVectors: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("SearchVectors returned %d matches, want 1", len(matches))
	}
}
