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
	"math"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const decayChunkSize = 1000

// decayOutcome classifies a single memory's decay result.
type decayOutcome int

const (
	decaySkip decayOutcome = iota
	decayUpdate
	decayRemove
)

// computeResonanceDecay applies spec §4.5's formula to one memory and
// classifies the result. never_decay memories are always skipped.
func computeResonanceDecay(m MemoryRecord, rules DecayRules, now time.Time) (newResonance float64, outcome decayOutcome) {
	if m.NeverDecay {
		return m.Resonance, decaySkip
	}

	ageDays := now.Sub(m.LastAccessedAt).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}

	decayFactor := math.Exp(-rules.Rate * ageDays)
	importanceBoost := m.Importance * rules.ImportanceWeight
	accessBoost := math.Log(float64(m.AccessCount)+1) * rules.AccessBoostCoefficient

	newResonance = m.Resonance*decayFactor + importanceBoost + accessBoost
	if newResonance < 0 {
		newResonance = 0
	}

	switch {
	case newResonance <= 0.01:
		return newResonance, decayRemove
	case math.Abs(newResonance-m.Resonance) > 0.001:
		return newResonance, decayUpdate
	default:
		return newResonance, decaySkip
	}
}

// chunk splits ids into slices of at most decayChunkSize.
func chunk(ids []string, size int) [][]string {
	if size <= 0 {
		size = decayChunkSize
	}
	var out [][]string
	for i := 0; i < len(ids); i += size {
		end := i + size
		if end > len(ids) {
			end = len(ids)
		}
		out = append(out, ids[i:end])
	}
	return out
}

// runChunked fans chunks of work out through a bounded-concurrency errgroup.
// A chunk's failure is reported but does not cancel sibling chunks, matching
// spec §4.5's "chunk failure rolls back that chunk only."
func runChunked(ctx context.Context, chunks [][]string, maxConcurrency int, fn func(ctx context.Context, ids []string) error) error {
	if maxConcurrency <= 0 {
		maxConcurrency = 4
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrency)

	var mu sync.Mutex
	var errs []error
	for _, c := range chunks {
		c := c
		g.Go(func() error {
			if err := fn(gctx, c); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}
