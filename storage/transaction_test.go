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
	"errors"
	"testing"
)

func TestMemoryTransactionCommitSuccess(t *testing.T) {
	tx := NewMemoryTransaction()
	if tx.State() != TransactionPending {
		t.Fatalf("new transaction state = %v, want pending", tx.State())
	}

	var order []int
	for i := 0; i < 3; i++ {
		i := i
		if err := tx.AddOperation(
			func(ctx context.Context) error { order = append(order, i); return nil },
			func(ctx context.Context) error { order = append(order, -i); return nil },
		); err != nil {
			t.Fatalf("AddOperation: %v", err)
		}
	}

	if err := tx.Commit(context.Background()); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if tx.State() != TransactionCommitted {
		t.Fatalf("state after commit = %v, want committed", tx.State())
	}
	if want := []int{0, 1, 2}; !equalInts(order, want) {
		t.Fatalf("forward order = %v, want %v", order, want)
	}
}

func TestMemoryTransactionCommitFailureRollsBackExecutedOnly(t *testing.T) {
	tx := NewMemoryTransaction()

	var rolledBack []int
	failAt := 2
	for i := 0; i < 4; i++ {
		i := i
		forward := func(ctx context.Context) error {
			if i == failAt {
				return errors.New("boom")
			}
			return nil
		}
		rollback := func(ctx context.Context) error {
			rolledBack = append(rolledBack, i)
			return nil
		}
		if err := tx.AddOperation(forward, rollback); err != nil {
			t.Fatalf("AddOperation: %v", err)
		}
	}

	err := tx.Commit(context.Background())
	if err == nil {
		t.Fatal("Commit: expected error, got nil")
	}
	if tx.State() != TransactionRolledBack {
		t.Fatalf("state after failed commit = %v, want rolled_back", tx.State())
	}
	// Operations 0 and 1 ran and must roll back, in reverse order.
	// Operation 2 (the failing one) and 3 (never reached) must not appear.
	if want := []int{1, 0}; !equalInts(rolledBack, want) {
		t.Fatalf("rolledBack = %v, want %v", rolledBack, want)
	}
}

func TestMemoryTransactionRollbackIsIdempotent(t *testing.T) {
	tx := NewMemoryTransaction()
	calls := 0
	if err := tx.AddOperation(
		func(ctx context.Context) error { return nil },
		func(ctx context.Context) error { calls++; return nil },
	); err != nil {
		t.Fatalf("AddOperation: %v", err)
	}
	if err := tx.Commit(context.Background()); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	tx.Rollback(context.Background())
	tx.Rollback(context.Background())
	if calls != 0 {
		t.Fatalf("rollback ran %d times for a committed transaction, want 0", calls)
	}
}

func TestMemoryTransactionRollbackFailuresDoNotAbortUnwind(t *testing.T) {
	tx := NewMemoryTransaction()
	var ran []int
	for i := 0; i < 3; i++ {
		i := i
		forward := func(ctx context.Context) error {
			if i == 2 {
				return errors.New("forward failed")
			}
			return nil
		}
		rollback := func(ctx context.Context) error {
			ran = append(ran, i)
			if i == 1 {
				return errors.New("rollback 1 failed")
			}
			return nil
		}
		_ = tx.AddOperation(forward, rollback)
	}

	_ = tx.Commit(context.Background())
	if want := []int{1, 0}; !equalInts(ran, want) {
		t.Fatalf("rollback ran = %v, want %v", ran, want)
	}
	if len(tx.RollbackErrors) != 1 {
		t.Fatalf("RollbackErrors = %v, want exactly 1 failure recorded", tx.RollbackErrors)
	}
}

func TestMemoryTransactionAddOperationAfterCommitFails(t *testing.T) {
	tx := NewMemoryTransaction()
	if err := tx.Commit(context.Background()); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := tx.AddOperation(nil, nil); err == nil {
		t.Fatal("AddOperation after commit: expected error, got nil")
	}
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
