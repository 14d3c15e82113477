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

// setupPostgres creates a PostgresProvider against a scratch schema.
// Skips the test if Postgres is not reachable.
func setupPostgres(t *testing.T) *PostgresProvider {
	t.Helper()

	cfg := DefaultPostgresConfig()
	cfg.Database = "memstore_test"
	cfg.Schema = "memstore_test"

	p, err := NewPostgresProvider(cfg)
	if err != nil {
		t.Skipf("postgres not available: %v", err)
	}

	ctx := context.Background()
	t.Cleanup(func() {
		_, _ = p.Clear(ctx, "", Opts{Namespace: "it"})
		_ = p.Destroy(ctx)
	})
	return p
}

func TestPostgresProvider_KV_RoundTrip(t *testing.T) {
	p := setupPostgres(t)
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

	deleted, err := p.Delete(ctx, "k1", opts)
	if err != nil || !deleted {
		t.Fatalf("Delete: deleted=%v err=%v", deleted, err)
	}
	if _, ok, _ := p.Get(ctx, "k1", opts); ok {
		t.Fatal("expected key to be gone after Delete")
	}
}

func TestPostgresProvider_TTLExpiry(t *testing.T) {
	p := setupPostgres(t)
	ctx := context.Background()
	opts := Opts{Namespace: "it", TTLSeconds: -1}

	if err := p.Set(ctx, "expired", "value", opts); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, ok, _ := p.Get(ctx, "expired", opts); ok {
		t.Fatal("expected already-expired key to be invisible")
	}
}

func TestPostgresProvider_BatchOps(t *testing.T) {
	p := setupPostgres(t)
	ctx := context.Background()
	opts := Opts{Namespace: "it"}

	values := map[string]interface{}{"b1": 1.0, "b2": 2.0, "b3": 3.0}
	if errs, err := p.SetMany(ctx, values, opts); err != nil || len(errs) != 0 {
		t.Fatalf("SetMany: errs=%v err=%v", errs, err)
	}
	got, err := p.GetMany(ctx, []string{"b1", "b2", "b3", "missing"}, opts)
	if err != nil {
		t.Fatalf("GetMany: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 results, got %d", len(got))
	}
	n, err := p.DeleteMany(ctx, []string{"b1", "b2"}, opts)
	if err != nil || n != 2 {
		t.Fatalf("DeleteMany: n=%d err=%v", n, err)
	}
}

func TestPostgresProvider_ListOps(t *testing.T) {
	p := setupPostgres(t)
	ctx := context.Background()
	opts := Opts{Namespace: "it"}

	values := []interface{}{"a", "b", "c", "d"}
	if err := p.SaveList(ctx, "mylist", values, opts); err != nil {
		t.Fatalf("SaveList: %v", err)
	}
	got, exists, err := p.GetList(ctx, "mylist", 1, 2, opts)
	if err != nil || !exists {
		t.Fatalf("GetList: exists=%v err=%v", exists, err)
	}
	if len(got) != 2 || got[0] != "b" || got[1] != "c" {
		t.Fatalf("GetList slice mismatch: %v", got)
	}

	deleted, err := p.DeleteList(ctx, "mylist", opts)
	if err != nil || !deleted {
		t.Fatalf("DeleteList: deleted=%v err=%v", deleted, err)
	}
}

func TestPostgresProvider_MemoryLifecycle(t *testing.T) {
	p := setupPostgres(t)
	ctx := context.Background()

	id, err := p.StoreMemory(ctx, MemoryRecord{
		UserID:     "u1",
		AgentID:    "a1",
		Type:       MemoryTypeEpisodic,
		Content:    "the user prefers dark mode",
		Importance: 0.8,
	})
	if err != nil {
		t.Fatalf("StoreMemory: %v", err)
	}

	got, err := p.GetMemoryByID(ctx, "u1", id)
	if err != nil || got == nil {
		t.Fatalf("GetMemoryByID: got=%v err=%v", got, err)
	}
	if got.Content != "the user prefers dark mode" {
		t.Fatalf("unexpected content: %q", got.Content)
	}

	if err := p.UpdateMemory(ctx, "u1", "a1", id, map[string]interface{}{"importance": 0.95}); err != nil {
		t.Fatalf("UpdateMemory: %v", err)
	}

	results, err := p.Recall(ctx, "u1", "a1", "dark mode", DefaultRecallOpts())
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("expected Recall to find the stored memory")
	}

	stats, err := p.GetStats(ctx, "u1", "a1")
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if stats.TotalCount == 0 {
		t.Fatal("expected non-zero stats after storing a memory")
	}

	deleted, err := p.DeleteMemory(ctx, "u1", "a1", id)
	if err != nil || !deleted {
		t.Fatalf("DeleteMemory: deleted=%v err=%v", deleted, err)
	}
}

func TestPostgresProvider_ConnectionsAndDecay(t *testing.T) {
	p := setupPostgres(t)
	ctx := context.Background()

	id1, _ := p.StoreMemory(ctx, MemoryRecord{UserID: "u2", AgentID: "a2", Type: MemoryTypeSemantic, Content: "fact one", Importance: 0.5})
	id2, _ := p.StoreMemory(ctx, MemoryRecord{UserID: "u2", AgentID: "a2", Type: MemoryTypeSemantic, Content: "fact two", Importance: 0.5})

	err := p.CreateConnections(ctx, "u2", []MemoryConnection{
		{SourceMemoryID: id1, TargetMemoryID: id2, ConnectionType: ConnectionRelated, Strength: 0.9},
	})
	if err != nil {
		t.Fatalf("CreateConnections: %v", err)
	}

	memories, edges, err := p.FindConnectedMemories(ctx, "u2", id1, 2, 0.1)
	if err != nil {
		t.Fatalf("FindConnectedMemories: %v", err)
	}
	if len(memories) == 0 || len(edges) == 0 {
		t.Fatalf("expected connected memories/edges, got %d/%d", len(memories), len(edges))
	}

	result, err := p.ApplyDecay(ctx, "u2", "a2", DecayRules{Rate: 10, ImportanceWeight: 0.1, AccessBoostCoefficient: 0.05})
	if err != nil {
		t.Fatalf("ApplyDecay: %v", err)
	}
	if result.Processed == 0 {
		t.Fatal("expected ApplyDecay to process at least one memory")
	}
}

func TestPostgresProvider_VectorCollections(t *testing.T) {
	p := setupPostgres(t)
	ctx := context.Background()

	col := VectorCollection{Name: "it_vecs", Dimension: 4, Metric: MetricCosine}
	if err := p.CreateCollection(ctx, col); err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}
	t.Cleanup(func() { _ = p.DropCollection(ctx, "it_vecs") })

	err := p.UpsertVectors(ctx, "it_vecs", []VectorRow{
		{ID: "v1", Vector: []float32{1, 0, 0, 0}, Metadata: map[string]interface{}{"tag": "x"}},
		{ID: "v2", Vector: []float32{0, 1, 0, 0}},
	})
	if err != nil {
		t.Fatalf("UpsertVectors: %v", err)
	}

	matches, err := p.SearchVectors(ctx, "it_vecs", []float32{1, 0, 0, 0}, VectorSearchOpts{Limit: 5})
	if err != nil {
		t.Fatalf("SearchVectors: %v", err)
	}
	if len(matches) == 0 || matches[0].Row.ID != "v1" {
		t.Fatalf("expected v1 to rank first, got %+v", matches)
	}

	n, err := p.DeleteVectors(ctx, "it_vecs", []string{"v2"})
	if err != nil || n != 1 {
		t.Fatalf("DeleteVectors: n=%d err=%v", n, err)
	}
}

func TestPostgresProvider_HybridSearch(t *testing.T) {
	p := setupPostgres(t)
	ctx := context.Background()

	embedding := make([]float32, p.cfg.DefaultDimension)
	embedding[0] = 1
	id, err := p.StoreMemoryWithEmbedding(ctx, MemoryRecord{
		UserID:     "u3",
		AgentID:    "a3",
		Type:       MemoryTypeWorking,
		Content:    "favorite programming language is go",
		Importance: 0.7,
		Embedding:  embedding,
	})
	if err != nil {
		t.Fatalf("StoreMemoryWithEmbedding: %v", err)
	}

	results, err := p.HybridSearch(ctx, "u3", "a3", "programming language", embedding, DefaultRecallOpts())
	if err != nil {
		t.Fatalf("HybridSearch: %v", err)
	}
	found := false
	for _, r := range results {
		if r.Memory.ID == id {
			found = true
		}
	}
	if !found {
		t.Fatal("expected hybrid search to surface the stored memory")
	}
}
