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

	"github.com/sage-x-project/memstore/pkg/errors"
)

func (p *LocalProvider) nextID() string {
	return p.ids.Generate().String()
}

func (p *LocalProvider) validateEmbedding(embedding []float32) error {
	if len(embedding) == 0 || p.dimension == 0 {
		return nil
	}
	if len(embedding) != p.dimension {
		return errors.NewDimensionMismatch(len(embedding), p.dimension)
	}
	return nil
}

// StoreMemory implements MemoryOps.
func (p *LocalProvider) StoreMemory(ctx context.Context, m MemoryRecord) (string, error) {
	if m.UserID == "" || m.AgentID == "" {
		return "", errors.ErrInvalidInput.WithMessage("user_id and agent_id are required")
	}
	if err := p.validateEmbedding(m.Embedding); err != nil {
		return "", err
	}
	now := time.Now()
	if m.ID == "" {
		m.ID = p.nextID()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
	if m.LastAccessedAt.IsZero() {
		m.LastAccessedAt = now
	}
	if m.Resonance == 0 {
		m.Resonance = 1.0
	}
	if m.Status == "" {
		m.Status = MemoryStatusActive
	}
	if len(m.Embedding) > 0 {
		m.EmbeddingDimension = len(m.Embedding)
	}

	p.mu.Lock()
	p.memories[m.ID] = m
	p.mu.Unlock()
	return m.ID, nil
}

// StoreMemoryWithEmbedding implements VectorMemoryOps; identical to
// StoreMemory since the local adapter keeps embeddings inline on the
// record rather than in a separate vector store.
func (p *LocalProvider) StoreMemoryWithEmbedding(ctx context.Context, m MemoryRecord) (string, error) {
	return p.StoreMemory(ctx, m)
}

func (p *LocalProvider) ownedMemories(userID, agentID string) []MemoryRecord {
	var out []MemoryRecord
	for _, m := range p.memories {
		if m.UserID != userID {
			continue
		}
		if agentID != "" && m.AgentID != agentID {
			continue
		}
		out = append(out, m)
	}
	return out
}

// Recall implements MemoryOps: text-only recall using the same row gate as
// hybrid search, without a query embedding.
func (p *LocalProvider) Recall(ctx context.Context, userID, agentID, queryText string, opts RecallOpts) ([]ScoredMemory, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var rows []hybridRow
	for _, m := range p.ownedMemories(userID, agentID) {
		rows = append(rows, hybridRow{
			Memory:    m,
			TextScore: normalizedLexicalRank(m.Content, queryText),
		})
	}
	return rankHybrid(rows, opts), nil
}

func (p *LocalProvider) UpdateMemory(ctx context.Context, userID, agentID, id string, patch map[string]interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, ok := p.memories[id]
	if !ok || m.UserID != userID || m.AgentID != agentID {
		return errors.ErrNotFound.WithDetail("id", id)
	}
	applyMemoryPatch(&m, patch)
	m.UpdatedAt = time.Now()
	p.memories[id] = m
	return nil
}

func applyMemoryPatch(m *MemoryRecord, patch map[string]interface{}) {
	if v, ok := patch["content"].(string); ok {
		m.Content = v
	}
	if v, ok := patch["importance"].(float64); ok {
		m.Importance = v
	}
	if v, ok := patch["resonance"].(float64); ok {
		m.Resonance = v
	}
	if v, ok := patch["status"].(string); ok {
		m.Status = MemoryStatus(v)
	}
	if v, ok := patch["metadata"].(map[string]interface{}); ok {
		m.Metadata = v
	}
	if _, ok := patch["access"]; ok {
		m.AccessCount++
		m.LastAccessedAt = time.Now()
	}
}

func (p *LocalProvider) DeleteMemory(ctx context.Context, userID, agentID, id string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, ok := p.memories[id]
	if !ok || m.UserID != userID || m.AgentID != agentID {
		return false, nil
	}
	delete(p.memories, id)
	return true, nil
}

func (p *LocalProvider) GetMemoryByID(ctx context.Context, userID, id string) (*MemoryRecord, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	m, ok := p.memories[id]
	if !ok || m.UserID != userID {
		return nil, nil
	}
	out := m
	return &out, nil
}

func (p *LocalProvider) GetStats(ctx context.Context, userID, agentID string) (MemoryStats, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	stats := MemoryStats{CountByType: make(map[MemoryType]int)}
	var impSum, resSum float64
	for _, m := range p.ownedMemories(userID, agentID) {
		stats.TotalCount++
		stats.CountByType[m.Type]++
		impSum += m.Importance
		resSum += m.Resonance
		if stats.OldestCreatedAt.IsZero() || m.CreatedAt.Before(stats.OldestCreatedAt) {
			stats.OldestCreatedAt = m.CreatedAt
		}
		if m.CreatedAt.After(stats.NewestCreatedAt) {
			stats.NewestCreatedAt = m.CreatedAt
		}
	}
	if stats.TotalCount > 0 {
		stats.AvgImportance = impSum / float64(stats.TotalCount)
		stats.AvgResonance = resSum / float64(stats.TotalCount)
	}
	return stats, nil
}

func (p *LocalProvider) BatchUpdateMemories(ctx context.Context, updates map[string]map[string]interface{}) (map[string]error, error) {
	errs := make(map[string]error)
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, patch := range updates {
		m, ok := p.memories[id]
		if !ok {
			errs[id] = errors.ErrNotFound.WithDetail("id", id)
			continue
		}
		applyMemoryPatch(&m, patch)
		m.UpdatedAt = time.Now()
		p.memories[id] = m
	}
	return errs, nil
}

func (p *LocalProvider) CreateConnections(ctx context.Context, userID string, edges []MemoryConnection) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	existing := p.connections[userID]
	index := make(map[[2]string]int, len(existing))
	for i, e := range existing {
		index[connectionKey(e.SourceMemoryID, e.TargetMemoryID)] = i
	}
	for _, e := range edges {
		if e.ID == "" {
			e.ID = p.nextID()
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = time.Now()
		}
		key := connectionKey(e.SourceMemoryID, e.TargetMemoryID)
		if i, ok := index[key]; ok {
			existing[i] = mergeConnection(existing[i], e)
		} else {
			index[key] = len(existing)
			existing = append(existing, e)
		}
	}
	p.connections[userID] = existing
	return nil
}

func (p *LocalProvider) FindConnectedMemories(ctx context.Context, userID, memoryID string, depth int, minStrength float64) ([]MemoryRecord, []MemoryConnection, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	owned := make(map[string]MemoryRecord)
	for _, m := range p.memories {
		if m.UserID == userID {
			owned[m.ID] = m
		}
	}
	memories, edges := traverseGraph(owned, p.connections[userID], memoryID, depth, minStrength)
	return memories, edges, nil
}

func (p *LocalProvider) ApplyDecay(ctx context.Context, userID, agentID string, rules DecayRules) (DecayResult, error) {
	now := time.Now()
	p.mu.Lock()
	defer p.mu.Unlock()

	var result DecayResult
	for id, m := range p.memories {
		if m.UserID != userID || (agentID != "" && m.AgentID != agentID) {
			continue
		}
		result.Processed++
		newResonance, outcome := computeResonanceDecay(m, rules, now)
		switch outcome {
		case decayRemove:
			delete(p.memories, id)
			result.Removed = append(result.Removed, id)
		case decayUpdate:
			m.Resonance = newResonance
			p.memories[id] = m
			result.Decayed = append(result.Decayed, id)
		}
	}
	return result, nil
}

// --- VectorMemoryOps ---

func (p *LocalProvider) SearchByVector(ctx context.Context, userID, agentID string, embedding []float32, opts RecallOpts) ([]ScoredMemory, error) {
	if err := p.validateEmbedding(embedding); err != nil {
		return nil, err
	}
	now := time.Now()
	p.mu.RLock()
	defer p.mu.RUnlock()

	var scored []ScoredMemory
	for _, m := range p.ownedMemories(userID, agentID) {
		if !passesTypeFilter(m.Type, opts.FilterTypes) || len(m.Embedding) == 0 {
			continue
		}
		sim := cosineSimilarity(m.Embedding, embedding)
		recency := recencyScore(m.LastAccessedAt, now)
		score := searchByVectorScore(sim, m.Importance, m.Resonance, recency)
		scored = append(scored, ScoredMemory{Memory: m, Score: score})
	}
	sortScoredDesc(scored)
	if opts.Limit > 0 && len(scored) > opts.Limit {
		scored = scored[:opts.Limit]
	}
	return scored, nil
}

func (p *LocalProvider) FindSimilarMemories(ctx context.Context, userID, agentID, memoryID string, opts RecallOpts) ([]ScoredMemory, error) {
	p.mu.RLock()
	target, ok := p.memories[memoryID]
	p.mu.RUnlock()
	if !ok || target.UserID != userID {
		return nil, errors.ErrNotFound.WithDetail("id", memoryID)
	}
	matches, err := p.SearchByVector(ctx, userID, agentID, target.Embedding, opts)
	if err != nil {
		return nil, err
	}
	out := matches[:0]
	for _, sm := range matches {
		if sm.Memory.ID != memoryID {
			out = append(out, sm)
		}
	}
	return out, nil
}

func (p *LocalProvider) HybridSearch(ctx context.Context, userID, agentID, queryText string, embedding []float32, opts RecallOpts) ([]ScoredMemory, error) {
	if len(embedding) > 0 {
		if err := p.validateEmbedding(embedding); err != nil {
			return nil, err
		}
	}
	p.mu.RLock()
	defer p.mu.RUnlock()

	var rows []hybridRow
	for _, m := range p.ownedMemories(userID, agentID) {
		row := hybridRow{Memory: m, TextScore: normalizedLexicalRank(m.Content, queryText)}
		if len(embedding) > 0 && len(m.Embedding) > 0 {
			row.HasEmbedding = true
			row.VectorSim = cosineSimilarity(m.Embedding, embedding)
		}
		rows = append(rows, row)
	}
	return rankHybrid(rows, opts), nil
}

func (p *LocalProvider) UpdateMemoryEmbedding(ctx context.Context, userID, agentID, id string, embedding []float32, model string) error {
	if err := p.validateEmbedding(embedding); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	m, ok := p.memories[id]
	if !ok || m.UserID != userID || m.AgentID != agentID {
		return errors.ErrNotFound.WithDetail("id", id)
	}
	m.Embedding = embedding
	m.EmbeddingModel = model
	m.EmbeddingDimension = len(embedding)
	m.UpdatedAt = time.Now()
	p.memories[id] = m
	return nil
}

func (p *LocalProvider) GetMemoryEmbedding(ctx context.Context, userID, agentID, id string) ([]float32, bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	m, ok := p.memories[id]
	if !ok || m.UserID != userID || m.AgentID != agentID || len(m.Embedding) == 0 {
		return nil, false, nil
	}
	return m.Embedding, true, nil
}

func sortScoredDesc(scored []ScoredMemory) {
	for i := 1; i < len(scored); i++ {
		for j := i; j > 0 && scored[j].Score > scored[j-1].Score; j-- {
			scored[j], scored[j-1] = scored[j-1], scored[j]
		}
	}
}

// --- VectorOps (raw collections, used directly by callers that don't go
// through the memory subsystem) ---

func (p *LocalProvider) CreateCollection(ctx context.Context, c VectorCollection) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.collections[c.Name]; ok {
		if existing.meta.Dimension != c.Dimension || existing.meta.Metric != c.Metric {
			return errors.ErrAlreadyExists.WithDetail("collection", c.Name)
		}
		return nil // idempotent re-creation with identical config
	}
	c.CreatedAt = time.Now()
	p.collections[c.Name] = &localCollection{meta: c, rows: make(map[string]VectorRow)}
	return nil
}

func (p *LocalProvider) DropCollection(ctx context.Context, name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.collections, name)
	return nil
}

func (p *LocalProvider) CollectionExists(ctx context.Context, name string) (bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.collections[name]
	return ok, nil
}

func (p *LocalProvider) ListCollections(ctx context.Context) ([]VectorCollection, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]VectorCollection, 0, len(p.collections))
	for _, c := range p.collections {
		out = append(out, c.meta)
	}
	return out, nil
}

func (p *LocalProvider) collection(name string) (*localCollection, error) {
	c, ok := p.collections[name]
	if !ok {
		return nil, errors.ErrNotFound.WithDetail("collection", name)
	}
	return c, nil
}

func (p *LocalProvider) InsertVectors(ctx context.Context, collection string, rows []VectorRow) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, err := p.collection(collection)
	if err != nil {
		return err
	}
	for _, r := range rows {
		if len(r.Vector) != c.meta.Dimension {
			return errors.NewDimensionMismatch(len(r.Vector), c.meta.Dimension)
		}
		if r.ID == "" {
			r.ID = p.nextID()
		}
		c.rows[r.ID] = r
	}
	return nil
}

func (p *LocalProvider) UpdateVectors(ctx context.Context, collection string, rows []VectorRow) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, err := p.collection(collection)
	if err != nil {
		return err
	}
	for _, r := range rows {
		if _, ok := c.rows[r.ID]; !ok {
			return errors.ErrNotFound.WithDetail("id", r.ID)
		}
		if len(r.Vector) != c.meta.Dimension {
			return errors.NewDimensionMismatch(len(r.Vector), c.meta.Dimension)
		}
		c.rows[r.ID] = r
	}
	return nil
}

func (p *LocalProvider) UpsertVectors(ctx context.Context, collection string, rows []VectorRow) error {
	return p.InsertVectors(ctx, collection, rows)
}

func (p *LocalProvider) DeleteVectors(ctx context.Context, collection string, ids []string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, err := p.collection(collection)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, id := range ids {
		if _, ok := c.rows[id]; ok {
			delete(c.rows, id)
			n++
		}
	}
	return n, nil
}

func (p *LocalProvider) SearchVectors(ctx context.Context, collection string, query []float32, opts VectorSearchOpts) ([]VectorMatch, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c, err := p.collection(collection)
	if err != nil {
		return nil, err
	}
	var matches []VectorMatch
	for _, r := range c.rows {
		if !matchesFilter(r.Metadata, opts.Filter) {
			continue
		}
		matches = append(matches, VectorMatch{Row: r, Score: cosineSimilarity(r.Vector, query)})
	}
	sortMatchesDesc(matches)
	if opts.Limit > 0 && len(matches) > opts.Limit {
		matches = matches[:opts.Limit]
	}
	return matches, nil
}

func (p *LocalProvider) GetVector(ctx context.Context, collection, id string) (*VectorRow, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c, err := p.collection(collection)
	if err != nil {
		return nil, err
	}
	r, ok := c.rows[id]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func matchesFilter(metadata, filter map[string]interface{}) bool {
	for k, v := range filter {
		if metadata[k] != v {
			return false
		}
	}
	return true
}

func sortMatchesDesc(matches []VectorMatch) {
	for i := 1; i < len(matches); i++ {
		for j := i; j > 0 && matches[j].Score > matches[j-1].Score; j-- {
			matches[j], matches[j-1] = matches[j-1], matches[j]
		}
	}
}
