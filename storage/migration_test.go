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
	"fmt"
	"testing"
)

func newInitializedLocal(t *testing.T) *LocalProvider {
	t.Helper()
	p := NewLocalProvider(LocalConfig{})
	if err := p.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return p
}

func TestMigrateCopiesKVEntries(t *testing.T) {
	ctx := context.Background()
	src := newInitializedLocal(t)
	dst := newInitializedLocal(t)

	for i := 0; i < 10; i++ {
		key := fmt.Sprintf("item-%d", i)
		if err := src.Set(ctx, key, i, Opts{}); err != nil {
			t.Fatalf("Set: %v", err)
		}
	}

	result, err := Migrate(ctx, src, dst, MigrationOpts{})
	if err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if result.TotalMigrated != 10 {
		t.Fatalf("TotalMigrated = %d, want 10", result.TotalMigrated)
	}
	if result.TotalFailed != 0 {
		t.Fatalf("TotalFailed = %d, want 0", result.TotalFailed)
	}

	for i := 0; i < 10; i++ {
		key := fmt.Sprintf("item-%d", i)
		val, ok, err := dst.Get(ctx, key, Opts{})
		if err != nil || !ok {
			t.Fatalf("dst.Get(%q) = %v, %v, %v", key, val, ok, err)
		}
		if int(val.(float64)) != i {
			t.Fatalf("dst.Get(%q) = %v, want %d", key, val, i)
		}
	}
}

func TestMigrateClearDestination(t *testing.T) {
	ctx := context.Background()
	src := newInitializedLocal(t)
	dst := newInitializedLocal(t)

	if err := dst.Set(ctx, "stale", "old", Opts{}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := src.Set(ctx, "fresh", "new", Opts{}); err != nil {
		t.Fatalf("Set: %v", err)
	}

	if _, err := Migrate(ctx, src, dst, MigrationOpts{ClearDestination: true}); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	if _, ok, _ := dst.Get(ctx, "stale", Opts{}); ok {
		t.Fatal("stale key survived ClearDestination")
	}
	if _, ok, _ := dst.Get(ctx, "fresh", Opts{}); !ok {
		t.Fatal("fresh key missing after migration")
	}
}

func TestMigrateCopiesLists(t *testing.T) {
	ctx := context.Background()
	src := newInitializedLocal(t)
	dst := newInitializedLocal(t)

	values := []interface{}{"a", "b", "c"}
	if err := src.SaveList(ctx, "list:queue", values, Opts{}); err != nil {
		t.Fatalf("SaveList: %v", err)
	}

	if _, err := Migrate(ctx, src, dst, MigrationOpts{}); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	got, ok, err := dst.GetList(ctx, "list:queue", 0, -1, Opts{})
	if err != nil || !ok {
		t.Fatalf("dst.GetList = %v, %v, %v", got, ok, err)
	}
	if len(got) != 3 {
		t.Fatalf("dst.GetList returned %d values, want 3", len(got))
	}
}

func TestMigrateVerifyPasses(t *testing.T) {
	ctx := context.Background()
	src := newInitializedLocal(t)
	dst := newInitializedLocal(t)
	_ = src.Set(ctx, "k", "v", Opts{})

	result, err := Migrate(ctx, src, dst, MigrationOpts{Verify: true})
	if err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if result.VerificationPassed == nil || !*result.VerificationPassed {
		t.Fatalf("VerificationPassed = %v, want true", result.VerificationPassed)
	}
}

func TestMigrateReportsProgress(t *testing.T) {
	ctx := context.Background()
	src := newInitializedLocal(t)
	dst := newInitializedLocal(t)
	_ = src.Set(ctx, "k", "v", Opts{})

	var phases []MigrationPhase
	_, err := Migrate(ctx, src, dst, MigrationOpts{
		OnProgress: func(p MigrationProgress) {
			if p.RunID == "" {
				t.Error("progress event missing RunID")
			}
			phases = append(phases, p.Phase)
		},
	})
	if err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if len(phases) == 0 {
		t.Fatal("no progress events reported")
	}
}

func TestMigrateRequiresBothProviders(t *testing.T) {
	ctx := context.Background()
	if _, err := Migrate(ctx, nil, newInitializedLocal(t), MigrationOpts{}); err == nil {
		t.Fatal("Migrate with a nil source: expected error, got nil")
	}
	if _, err := Migrate(ctx, newInitializedLocal(t), nil, MigrationOpts{}); err == nil {
		t.Fatal("Migrate with a nil destination: expected error, got nil")
	}
}
