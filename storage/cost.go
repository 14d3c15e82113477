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
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"

	"github.com/sage-x-project/memstore/pkg/errors"
)

// CostRecord is a single per-agent extraction cost event.
type CostRecord struct {
	ID                string
	AgentID           string
	ExtractorType     string
	Cost              float64 // USD
	MemoriesExtracted int
	MessagesProcessed int
	Timestamp         time.Time
}

// CostPeriod is the resolved [Start, End) window a CostSummary covers.
type CostPeriod struct {
	Start time.Time
	End   time.Time
}

// CostSummary aggregates an agent's cost records over a CostPeriod.
type CostSummary struct {
	TotalCost        float64
	CostByExtractor  map[string]float64
	TotalMemories    int
	AvgCostPerMemory float64
	Period           CostPeriod
}

// CostTrackerConfig configures a CostTracker.
type CostTrackerConfig struct {
	// DailyTotalTTLSeconds is the TTL applied to the per-agent daily total
	// entry. Zero uses the 7-day default.
	DailyTotalTTLSeconds int

	// Periods maps a period name (as accepted by CheckBudget and
	// GetCostSummary) to its duration. Nil uses the default
	// {"1h", "24h", "7d", "30d"} set.
	Periods map[string]time.Duration
}

func defaultCostPeriods() map[string]time.Duration {
	return map[string]time.Duration{
		"1h":  time.Hour,
		"24h": 24 * time.Hour,
		"7d":  7 * 24 * time.Hour,
		"30d": 30 * 24 * time.Hour,
	}
}

// CostTracker accumulates per-agent extraction costs on top of any
// Provider's KV capability and answers budget queries. It owns no
// connection of its own; the Provider it wraps owns that.
type CostTracker struct {
	provider Provider
	ids      *snowflake.Node
	dailyTTL int
	periods  map[string]time.Duration
}

// NewCostTracker wraps provider with the cost-tracking conventions of
// spec.md §4.9.
func NewCostTracker(provider Provider, cfg CostTrackerConfig) (*CostTracker, error) {
	if provider == nil {
		return nil, errors.ErrInvalidInput.WithMessage("cost tracker requires a provider")
	}
	ttl := cfg.DailyTotalTTLSeconds
	if ttl <= 0 {
		ttl = 7 * 24 * 3600
	}
	periods := cfg.Periods
	if len(periods) == 0 {
		periods = defaultCostPeriods()
	}
	node, err := snowflake.NewNode(1)
	if err != nil {
		return nil, fmt.Errorf("cost tracker: %w", err)
	}
	return &CostTracker{provider: provider, ids: node, dailyTTL: ttl, periods: periods}, nil
}

func costRecordKey(agentID, recordID string) string {
	return fmt.Sprintf("cost-record:%s:%s", agentID, recordID)
}

func costRecordPrefix(agentID string) string {
	return fmt.Sprintf("cost-record:%s:", agentID)
}

func costDailyKey(agentID string, day time.Time) string {
	return fmt.Sprintf("cost-daily:%s:%s", agentID, day.UTC().Format("2006-01-02"))
}

// TrackExtraction assigns record an id and timestamp, stores it, and
// increments the agent's daily running total (refreshing its TTL).
func (c *CostTracker) TrackExtraction(ctx context.Context, agentID string, record CostRecord) (string, error) {
	if agentID == "" {
		return "", errors.ErrInvalidInput.WithMessage("agent_id is required")
	}
	record.AgentID = agentID
	record.ID = c.ids.Generate().String()
	record.Timestamp = time.Now()

	if err := c.provider.Set(ctx, costRecordKey(agentID, record.ID), record, Opts{}); err != nil {
		return "", fmt.Errorf("cost tracker: store record: %w", err)
	}

	dailyKey := costDailyKey(agentID, record.Timestamp)
	var total float64
	if existing, ok, err := c.provider.Get(ctx, dailyKey, Opts{}); err == nil && ok {
		if m, ok := existing.(map[string]interface{}); ok {
			if v, ok := m["total"].(float64); ok {
				total = v
			}
		}
	}
	total += record.Cost
	if err := c.provider.Set(ctx, dailyKey, map[string]interface{}{"total": total}, Opts{TTLSeconds: c.dailyTTL}); err != nil {
		return record.ID, fmt.Errorf("cost tracker: update daily total: %w", err)
	}
	return record.ID, nil
}

// CheckBudget reports whether agentID's total cost over period is at or
// under limitUSD.
func (c *CostTracker) CheckBudget(ctx context.Context, agentID string, limitUSD float64, period string) (bool, error) {
	summary, err := c.GetCostSummary(ctx, agentID, period)
	if err != nil {
		return false, err
	}
	return summary.TotalCost <= limitUSD, nil
}

// GetCostSummary aggregates agentID's cost records whose timestamp falls in
// the resolved window for period (e.g. "1h", "24h", "7d", "30d").
func (c *CostTracker) GetCostSummary(ctx context.Context, agentID, period string) (CostSummary, error) {
	if period == "" {
		period = "24h"
	}
	duration, ok := c.periods[period]
	if !ok {
		return CostSummary{}, errors.New(errors.CategoryValidation, "UNKNOWN_PERIOD",
			"unrecognized cost summary period").WithDetail("period", period)
	}

	end := time.Now()
	start := end.Add(-duration)

	keys, err := c.provider.List(ctx, costRecordPrefix(agentID), Opts{})
	if err != nil {
		return CostSummary{}, fmt.Errorf("cost tracker: list records: %w", err)
	}

	summary := CostSummary{
		CostByExtractor: make(map[string]float64),
		Period:          CostPeriod{Start: start, End: end},
	}
	for _, key := range keys {
		if !strings.HasPrefix(key, costRecordPrefix(agentID)) {
			continue // List already scopes this, but guard against a lax adapter
		}
		raw, ok, err := c.provider.Get(ctx, key, Opts{})
		if err != nil || !ok {
			continue
		}
		record, err := decodeCostRecord(raw)
		if err != nil {
			continue
		}
		if record.Timestamp.Before(start) || record.Timestamp.After(end) {
			continue
		}
		summary.TotalCost += record.Cost
		summary.CostByExtractor[record.ExtractorType] += record.Cost
		summary.TotalMemories += record.MemoriesExtracted
	}
	if summary.TotalMemories > 0 {
		summary.AvgCostPerMemory = summary.TotalCost / float64(summary.TotalMemories)
	}
	return summary, nil
}

// decodeCostRecord converts the JSON-round-tripped value a Provider.Get
// returns back into a CostRecord.
func decodeCostRecord(v interface{}) (CostRecord, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return CostRecord{}, errors.NewSerializationError("encode", err)
	}
	var r CostRecord
	if err := json.Unmarshal(raw, &r); err != nil {
		return CostRecord{}, errors.NewSerializationError("decode", err)
	}
	return r, nil
}
