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
	"testing"
)

func newTestCostTracker(t *testing.T) (*CostTracker, *LocalProvider) {
	t.Helper()
	p := newInitializedLocal(t)
	ct, err := NewCostTracker(p, CostTrackerConfig{})
	if err != nil {
		t.Fatalf("NewCostTracker: %v", err)
	}
	return ct, p
}

func TestCostTrackerTrackAndSummarize(t *testing.T) {
	ctx := context.Background()
	ct, _ := newTestCostTracker(t)

	records := []CostRecord{
		{ExtractorType: "llm", Cost: 0.02, MemoriesExtracted: 3, MessagesProcessed: 5},
		{ExtractorType: "llm", Cost: 0.03, MemoriesExtracted: 2, MessagesProcessed: 4},
		{ExtractorType: "heuristic", Cost: 0.0, MemoriesExtracted: 1, MessagesProcessed: 1},
	}
	for _, r := range records {
		if _, err := ct.TrackExtraction(ctx, "agent-1", r); err != nil {
			t.Fatalf("TrackExtraction: %v", err)
		}
	}

	summary, err := ct.GetCostSummary(ctx, "agent-1", "24h")
	if err != nil {
		t.Fatalf("GetCostSummary: %v", err)
	}
	if got, want := summary.TotalCost, 0.05; !almostEqual(got, want) {
		t.Fatalf("TotalCost = %v, want %v", got, want)
	}
	if summary.TotalMemories != 6 {
		t.Fatalf("TotalMemories = %d, want 6", summary.TotalMemories)
	}
	if got, want := summary.CostByExtractor["llm"], 0.05; !almostEqual(got, want) {
		t.Fatalf("CostByExtractor[llm] = %v, want %v", got, want)
	}
	wantAvg := 0.05 / 6
	if !almostEqual(summary.AvgCostPerMemory, wantAvg) {
		t.Fatalf("AvgCostPerMemory = %v, want %v", summary.AvgCostPerMemory, wantAvg)
	}
}

func TestCostTrackerCheckBudget(t *testing.T) {
	ctx := context.Background()
	ct, _ := newTestCostTracker(t)

	_, err := ct.TrackExtraction(ctx, "agent-2", CostRecord{ExtractorType: "llm", Cost: 5, MemoriesExtracted: 1})
	if err != nil {
		t.Fatalf("TrackExtraction: %v", err)
	}

	underBudget, err := ct.CheckBudget(ctx, "agent-2", 10, "24h")
	if err != nil {
		t.Fatalf("CheckBudget: %v", err)
	}
	if !underBudget {
		t.Fatal("CheckBudget(limit=10, spent=5) = false, want true")
	}

	overBudget, err := ct.CheckBudget(ctx, "agent-2", 1, "24h")
	if err != nil {
		t.Fatalf("CheckBudget: %v", err)
	}
	if overBudget {
		t.Fatal("CheckBudget(limit=1, spent=5) = true, want false")
	}
}

func TestCostTrackerUnknownPeriod(t *testing.T) {
	ctx := context.Background()
	ct, _ := newTestCostTracker(t)
	if _, err := ct.GetCostSummary(ctx, "agent-3", "decade"); err == nil {
		t.Fatal("GetCostSummary with an unrecognized period: expected error, got nil")
	}
}

func TestCostTrackerRequiresAgentID(t *testing.T) {
	ctx := context.Background()
	ct, _ := newTestCostTracker(t)
	if _, err := ct.TrackExtraction(ctx, "", CostRecord{}); err == nil {
		t.Fatal("TrackExtraction with an empty agent id: expected error, got nil")
	}
}

func TestCostTrackerScopesRecordsPerAgent(t *testing.T) {
	ctx := context.Background()
	ct, _ := newTestCostTracker(t)

	_, _ = ct.TrackExtraction(ctx, "agent-a", CostRecord{Cost: 1, MemoriesExtracted: 1})
	_, _ = ct.TrackExtraction(ctx, "agent-b", CostRecord{Cost: 100, MemoriesExtracted: 1})

	summary, err := ct.GetCostSummary(ctx, "agent-a", "24h")
	if err != nil {
		t.Fatalf("GetCostSummary: %v", err)
	}
	if !almostEqual(summary.TotalCost, 1) {
		t.Fatalf("agent-a summary leaked agent-b's cost: TotalCost = %v, want 1", summary.TotalCost)
	}
}

func almostEqual(a, b float64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d < 1e-9
}
