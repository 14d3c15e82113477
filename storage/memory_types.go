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
	"time"
)

// MemoryType classifies a MemoryRecord.
type MemoryType string

const (
	MemoryTypeWorking    MemoryType = "working"
	MemoryTypeEpisodic   MemoryType = "episodic"
	MemoryTypeSemantic   MemoryType = "semantic"
	MemoryTypeProcedural MemoryType = "procedural"
)

// MemoryStatus is the lifecycle state of a MemoryRecord.
type MemoryStatus string

const (
	MemoryStatusActive   MemoryStatus = "active"
	MemoryStatusArchived MemoryStatus = "archived"
)

// ConnectionType classifies a MemoryConnection edge.
type ConnectionType string

const (
	ConnectionRelated  ConnectionType = "related"
	ConnectionCauses   ConnectionType = "causes"
	ConnectionPartOf   ConnectionType = "part_of"
	ConnectionSimilar  ConnectionType = "similar"
	ConnectionOpposite ConnectionType = "opposite"
)

// MemoryRecord is a typed, scored, timestamped content record owned by
// (UserID, AgentID).
type MemoryRecord struct {
	ID       string
	UserID   string
	AgentID  string
	Type     MemoryType
	Content  string

	Importance float64 // [0, 1]
	Resonance  float64 // >= 0, initial 1.0

	AccessCount int

	CreatedAt      time.Time
	UpdatedAt      time.Time
	LastAccessedAt time.Time

	SessionID  string
	TokenCount int

	Keywords []string
	Metadata map[string]interface{}

	Embedding          []float32
	EmbeddingModel     string
	EmbeddingDimension int

	NeverDecay      bool
	CustomHalfLife  int // hours, optional (0 means unset)
	Reinforceable   bool
	Status          MemoryStatus
}

// MemoryConnection is a directed edge between two memories owned by the
// same user.
type MemoryConnection struct {
	ID               string
	SourceMemoryID   string
	TargetMemoryID   string
	ConnectionType   ConnectionType
	Strength         float64 // [0, 1]
	Reason           string
	CreatedAt        time.Time
}

// MemoryEvolution is an append-only audit log entry for a memory.
type MemoryEvolution struct {
	ID         string
	MemoryID   string
	Timestamp  time.Time
	ChangeType string
	Reason     string
	Details    map[string]interface{}
}

// MemoryStats summarizes the memories owned by (UserID, AgentID).
type MemoryStats struct {
	TotalCount      int
	CountByType     map[MemoryType]int
	AvgImportance   float64
	AvgResonance    float64
	OldestCreatedAt time.Time
	NewestCreatedAt time.Time
}

// RecallOpts configures recall/hybrid_search/search_by_vector.
type RecallOpts struct {
	Limit         int
	VectorWeight  float64 // default 0.7
	TextWeight    float64 // default 0.3
	Threshold     float64 // default 0.7, applied to vector_sim
	FilterTypes   []MemoryType
}

// DefaultRecallOpts returns the spec-mandated defaults.
func DefaultRecallOpts() RecallOpts {
	return RecallOpts{
		Limit:        10,
		VectorWeight: 0.7,
		TextWeight:   0.3,
		Threshold:    0.7,
	}
}

// ScoredMemory pairs a MemoryRecord with the score it was ranked by.
type ScoredMemory struct {
	Memory MemoryRecord
	Score  float64
}

// DecayRules parameterizes ApplyDecay.
type DecayRules struct {
	Rate                   float64
	ImportanceWeight       float64
	AccessBoostCoefficient float64
}

// DecayResult reports the outcome of one ApplyDecay pass.
type DecayResult struct {
	Processed int
	Decayed   []string // memory ids whose resonance changed meaningfully
	Removed   []string // memory ids whose resonance dropped to ~0
}

// MemoryOps is the optional memory capability.
type MemoryOps interface {
	StoreMemory(ctx context.Context, m MemoryRecord) (string, error)
	Recall(ctx context.Context, userID, agentID, queryText string, opts RecallOpts) ([]ScoredMemory, error)
	UpdateMemory(ctx context.Context, userID, agentID, id string, patch map[string]interface{}) error
	DeleteMemory(ctx context.Context, userID, agentID, id string) (bool, error)
	GetMemoryByID(ctx context.Context, userID, id string) (*MemoryRecord, error)
	GetStats(ctx context.Context, userID, agentID string) (MemoryStats, error)
	BatchUpdateMemories(ctx context.Context, updates map[string]map[string]interface{}) (map[string]error, error)

	CreateConnections(ctx context.Context, userID string, edges []MemoryConnection) error
	FindConnectedMemories(ctx context.Context, userID, memoryID string, depth int, minStrength float64) ([]MemoryRecord, []MemoryConnection, error)

	ApplyDecay(ctx context.Context, userID, agentID string, rules DecayRules) (DecayResult, error)
}

// VectorMemoryOps is the optional vector-aware memory capability layered
// on top of MemoryOps: embeddings attached to memories, plus pure-vector
// and hybrid recall.
type VectorMemoryOps interface {
	StoreMemoryWithEmbedding(ctx context.Context, m MemoryRecord) (string, error)
	SearchByVector(ctx context.Context, userID, agentID string, embedding []float32, opts RecallOpts) ([]ScoredMemory, error)
	FindSimilarMemories(ctx context.Context, userID, agentID, memoryID string, opts RecallOpts) ([]ScoredMemory, error)
	HybridSearch(ctx context.Context, userID, agentID, queryText string, embedding []float32, opts RecallOpts) ([]ScoredMemory, error)
	UpdateMemoryEmbedding(ctx context.Context, userID, agentID, id string, embedding []float32, model string) error
	GetMemoryEmbedding(ctx context.Context, userID, agentID, id string) ([]float32, bool, error)
}
