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
	"sync"

	"github.com/google/uuid"

	"github.com/sage-x-project/memstore/pkg/errors"
)

// TransactionState is the lifecycle state of a MemoryTransaction.
type TransactionState string

const (
	TransactionPending    TransactionState = "pending"
	TransactionCommitted  TransactionState = "committed"
	TransactionRolledBack TransactionState = "rolled_back"
)

// TxAction is one side of a compensating operation: Forward applies the
// write, Rollback undoes it. Either may be nil (a no-op rollback is common
// for read-only forward actions).
type TxAction func(ctx context.Context) error

type txOperation struct {
	forward  TxAction
	rollback TxAction
}

// MemoryTransaction is a lightweight saga primitive for multi-step writes
// that cannot share a native backend transaction: callers append ordered
// (forward, rollback) pairs, then Commit executes every forward action in
// order. On the first failure, the already-executed operations' rollbacks
// run in reverse order and the original error is re-raised. It owns no
// connections — only the ordered action log.
type MemoryTransaction struct {
	mu sync.Mutex

	id    string
	state TransactionState
	ops   []txOperation

	// executed is how many forward actions actually ran, so Rollback knows
	// how far back to unwind regardless of whether it's called from Commit's
	// failure path or directly by the caller.
	executed int

	// RollbackErrors accumulates rollback failures encountered by the last
	// Rollback call; individual failures never abort the unwind.
	RollbackErrors []error
}

// NewMemoryTransaction constructs a transaction in the pending state.
func NewMemoryTransaction() *MemoryTransaction {
	return &MemoryTransaction{
		id:    uuid.NewString(),
		state: TransactionPending,
	}
}

// ID returns the transaction's identifier, useful for log correlation.
func (t *MemoryTransaction) ID() string { return t.id }

// State returns the current lifecycle state.
func (t *MemoryTransaction) State() TransactionState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// AddOperation appends a (forward, rollback) pair. It fails once the
// transaction has left the pending state; operations cannot be mutated
// after Commit or Rollback.
func (t *MemoryTransaction) AddOperation(forward, rollback TxAction) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != TransactionPending {
		return errors.New(errors.CategoryValidation, "TRANSACTION_NOT_PENDING",
			"cannot add an operation to a transaction that is not pending").
			WithDetail("transaction_id", t.id).WithDetail("state", string(t.state))
	}
	t.ops = append(t.ops, txOperation{forward: forward, rollback: rollback})
	return nil
}

// Commit executes every forward action in insertion order. On the first
// failure it invokes Rollback (unwinding only the operations that actually
// ran) and re-raises the original forward error; rollback failures are
// available afterward via RollbackErrors but never replace the original
// error. On full success the transaction transitions to committed.
func (t *MemoryTransaction) Commit(ctx context.Context) error {
	t.mu.Lock()
	if t.state != TransactionPending {
		state := t.state
		t.mu.Unlock()
		return errors.New(errors.CategoryValidation, "TRANSACTION_NOT_PENDING",
			"cannot commit a transaction that is not pending").
			WithDetail("transaction_id", t.id).WithDetail("state", string(state))
	}
	ops := t.ops
	t.mu.Unlock()

	for i, op := range ops {
		if op.forward == nil {
			t.mu.Lock()
			t.executed = i + 1
			t.mu.Unlock()
			continue
		}
		if err := op.forward(ctx); err != nil {
			t.mu.Lock()
			t.executed = i // operation i itself did not complete
			t.mu.Unlock()
			t.Rollback(ctx)
			return err
		}
		t.mu.Lock()
		t.executed = i + 1
		t.mu.Unlock()
	}

	t.mu.Lock()
	t.state = TransactionCommitted
	t.mu.Unlock()
	return nil
}

// Rollback is idempotent: it unwinds the executed operations' rollback
// actions in reverse order exactly once, then transitions to rolled_back.
// A second call, or a call on a committed transaction, is a no-op.
// Individual rollback failures are accumulated in RollbackErrors but never
// abort the traversal of the remaining actions.
func (t *MemoryTransaction) Rollback(ctx context.Context) {
	t.mu.Lock()
	if t.state != TransactionPending {
		t.mu.Unlock()
		return
	}
	ops := t.ops
	executed := t.executed
	t.state = TransactionRolledBack
	t.RollbackErrors = nil
	t.mu.Unlock()

	var failures []error
	for i := executed - 1; i >= 0; i-- {
		op := ops[i]
		if op.rollback == nil {
			continue
		}
		if err := op.rollback(ctx); err != nil {
			failures = append(failures, err)
		}
	}

	t.mu.Lock()
	t.RollbackErrors = failures
	t.mu.Unlock()
}
