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
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/sage-x-project/memstore/pkg/errors"
)

// MigrationPhase names one stage of a Migrate run, reported through
// MigrationOpts.OnProgress.
type MigrationPhase string

const (
	PhaseScan         MigrationPhase = "scan"
	PhaseMigrateKV    MigrationPhase = "migrate_kv"
	PhaseMigrateLists MigrationPhase = "migrate_lists"
	PhaseVerify       MigrationPhase = "verify"
)

// MigrationProgress is delivered to MigrationOpts.OnProgress as a run moves
// through its phases.
type MigrationProgress struct {
	RunID     string
	Phase     MigrationPhase
	Namespace string
	Completed int
	Total     int
}

// MigrationOpts configures a Migrate run.
type MigrationOpts struct {
	// BatchSize is the number of keys in each chunk of the KV phase;
	// progress is reported after each chunk. Zero uses the 100-key default.
	BatchSize int

	// ClearDestination, if set, wipes the destination store before
	// copying anything.
	ClearDestination bool

	// Namespaces lists which namespaces to scan. Empty defaults to a
	// single unnamed (default) namespace.
	Namespaces []string

	// PrefixFilter restricts the scan to keys beginning with this prefix;
	// empty scans every key in each namespace.
	PrefixFilter string

	// Verify re-reads every migrated key from both sides after the KV
	// phase and reports whether they are all JSON-equal.
	Verify bool

	// OnProgress, if non-nil, is invoked as each phase advances.
	OnProgress func(MigrationProgress)

	// Concurrency bounds how many keys are in flight at once within a
	// batch. Zero uses a default of 4.
	Concurrency int
}

// MigrationResult summarizes a completed Migrate run.
type MigrationResult struct {
	TotalMigrated       int
	TotalFailed         int
	FailedKeys          []string
	DurationMS          int64
	VerificationPassed  *bool
}

// listKeyPrefixes are the conventional prefixes Migrate probes to find list
// keys heuristically, since lists live outside the plain KV keyspace and
// have no dedicated "list scan" operation in the provider contract.
var listKeyPrefixes = []string{"list:", "lists:", "_list_"}

// Migrate copies KV entries and lists from source to destination. Per-key
// failures are recorded in the result rather than aborting the run; only
// setup failures (nil providers, a failing ClearDestination, or a failing
// scan) return an error.
func Migrate(ctx context.Context, source, destination Provider, opts MigrationOpts) (MigrationResult, error) {
	if source == nil || destination == nil {
		return MigrationResult{}, errors.ErrInvalidInput.WithMessage("migration requires both a source and a destination provider")
	}

	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	namespaces := opts.Namespaces
	if len(namespaces) == 0 {
		namespaces = []string{""}
	}

	runID := uuid.NewString()
	start := time.Now()

	report := func(p MigrationProgress) {
		if opts.OnProgress != nil {
			p.RunID = runID
			opts.OnProgress(p)
		}
	}

	if opts.ClearDestination {
		if _, err := destination.Clear(ctx, "", Opts{}); err != nil {
			return MigrationResult{}, fmt.Errorf("migration: clear destination: %w", err)
		}
	}

	var result MigrationResult
	var resultMu sync.Mutex
	recordFailure := func(key string) {
		resultMu.Lock()
		result.TotalFailed++
		result.FailedKeys = append(result.FailedKeys, key)
		resultMu.Unlock()
	}
	recordSuccess := func() {
		resultMu.Lock()
		result.TotalMigrated++
		resultMu.Unlock()
	}

	verificationPassed := true
	for _, ns := range namespaces {
		report(MigrationProgress{Phase: PhaseScan, Namespace: ns})
		keys, err := source.List(ctx, opts.PrefixFilter, Opts{Namespace: ns})
		if err != nil {
			return result, fmt.Errorf("migration: scan namespace %q: %w", ns, err)
		}
		report(MigrationProgress{Phase: PhaseScan, Namespace: ns, Completed: len(keys), Total: len(keys)})

		migrated := make([]string, 0, len(keys))
		for i := 0; i < len(keys); i += batchSize {
			end := i + batchSize
			if end > len(keys) {
				end = len(keys)
			}
			batch := keys[i:end]

			var batchMu sync.Mutex
			g, gctx := errgroup.WithContext(ctx)
			g.SetLimit(concurrency)
			for _, k := range batch {
				k := k
				g.Go(func() error {
					value, ok, err := source.Get(gctx, k, Opts{Namespace: ns})
					if err != nil {
						recordFailure(k)
						return nil
					}
					if !ok {
						return nil // vanished between scan and copy; not a failure
					}
					if err := destination.Set(gctx, k, value, Opts{Namespace: ns}); err != nil {
						recordFailure(k)
						return nil
					}
					recordSuccess()
					batchMu.Lock()
					migrated = append(migrated, k)
					batchMu.Unlock()
					return nil
				})
			}
			_ = g.Wait()
			report(MigrationProgress{Phase: PhaseMigrateKV, Namespace: ns, Completed: end, Total: len(keys)})
		}

		var listKeys []string
		for _, prefix := range listKeyPrefixes {
			found, err := source.List(ctx, prefix, Opts{Namespace: ns})
			if err != nil {
				// Some backends (vector-DB-only) don't support List at all
				// for this probe; that's expected, not a migration failure.
				continue
			}
			listKeys = append(listKeys, found...)
		}
		for _, k := range listKeys {
			values, ok, err := source.GetList(ctx, k, 0, -1, Opts{Namespace: ns})
			if err != nil {
				recordFailure(k)
				continue
			}
			if !ok {
				continue
			}
			if err := destination.SaveList(ctx, k, values, Opts{Namespace: ns}); err != nil {
				recordFailure(k)
				continue
			}
			recordSuccess()
		}
		report(MigrationProgress{Phase: PhaseMigrateLists, Namespace: ns, Completed: len(listKeys), Total: len(listKeys)})

		if opts.Verify {
			for _, k := range migrated {
				srcVal, srcOk, _ := source.Get(ctx, k, Opts{Namespace: ns})
				dstVal, dstOk, _ := destination.Get(ctx, k, Opts{Namespace: ns})
				if srcOk != dstOk {
					verificationPassed = false
					continue
				}
				if !srcOk {
					continue
				}
				sj, _ := json.Marshal(srcVal)
				dj, _ := json.Marshal(dstVal)
				if string(sj) != string(dj) {
					verificationPassed = false
				}
			}
			report(MigrationProgress{Phase: PhaseVerify, Namespace: ns, Completed: len(migrated), Total: len(migrated)})
		}
	}

	if opts.Verify {
		result.VerificationPassed = &verificationPassed
	}
	result.DurationMS = time.Since(start).Milliseconds()
	return result, nil
}
