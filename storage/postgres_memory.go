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
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/pgvector/pgvector-go"

	storerrors "github.com/sage-x-project/memstore/pkg/errors"
)

var pgIDNode, _ = snowflake.NewNode(2)

func pgNextID() string { return pgIDNode.Generate().String() }

func (p *PostgresProvider) validateEmbedding(embedding []float32) error {
	if len(embedding) == 0 {
		return nil
	}
	if len(embedding) != p.cfg.DefaultDimension {
		return storerrors.NewDimensionMismatch(len(embedding), p.cfg.DefaultDimension)
	}
	return nil
}

// StoreMemory inserts a memory row. Embedding columns are left NULL; use
// StoreMemoryWithEmbedding (VectorMemoryOps) to attach one at write time.
func (p *PostgresProvider) StoreMemory(ctx context.Context, m MemoryRecord) (string, error) {
	return p.storeMemory(ctx, m, false)
}

func (p *PostgresProvider) StoreMemoryWithEmbedding(ctx context.Context, m MemoryRecord) (string, error) {
	return p.storeMemory(ctx, m, true)
}

func (p *PostgresProvider) storeMemory(ctx context.Context, m MemoryRecord, withEmbedding bool) (string, error) {
	if m.UserID == "" || m.AgentID == "" {
		return "", storerrors.ErrInvalidInput.WithMessage("user_id and agent_id are required")
	}
	if err := p.validateEmbedding(m.Embedding); err != nil {
		return "", err
	}
	now := time.Now()
	if m.ID == "" {
		m.ID = pgNextID()
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

	keywords, _ := json.Marshal(m.Keywords)
	metadata, _ := json.Marshal(m.Metadata)

	var embeddingArg interface{}
	var embeddingDim interface{}
	if withEmbedding && len(m.Embedding) > 0 {
		v := pgvector.NewVector(m.Embedding)
		embeddingArg = &v
		embeddingDim = len(m.Embedding)
	}

	q := fmt.Sprintf(`
		INSERT INTO %s (id, user_id, agent_id, type, content, importance, resonance,
			access_count, created_at, updated_at, last_accessed_at, session_id, token_count,
			keywords, metadata, embedding, embedding_model, embedding_dimension,
			never_decay, custom_half_life, reinforceable, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22)
	`, p.t("memories"))
	_, err := p.db.ExecContext(ctx, q,
		m.ID, m.UserID, m.AgentID, string(m.Type), m.Content, m.Importance, m.Resonance,
		m.AccessCount, m.CreatedAt, m.UpdatedAt, m.LastAccessedAt, nullString(m.SessionID), nullInt(m.TokenCount),
		keywords, metadata, embeddingArg, nullString(m.EmbeddingModel), embeddingDim,
		m.NeverDecay, nullInt(m.CustomHalfLife), m.Reinforceable, string(m.Status))
	if err != nil {
		return "", pgWrap("store-memory", err)
	}
	return m.ID, nil
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullInt(i int) interface{} {
	if i == 0 {
		return nil
	}
	return i
}

const memoryColumns = `id, user_id, agent_id, type, content, importance, resonance, access_count,
	created_at, updated_at, last_accessed_at, session_id, token_count, keywords, metadata,
	embedding, embedding_model, embedding_dimension, never_decay, custom_half_life, reinforceable, status`

func scanMemoryRow(row interface{ Scan(...interface{}) error }) (MemoryRecord, error) {
	var m MemoryRecord
	var typ, status string
	var sessionID, embeddingModel sql.NullString
	var tokenCount, customHalfLife, embeddingDim sql.NullInt64
	var keywords, metadata []byte
	var embedding pgvector.Vector
	var embeddingRaw sql.Null[pgvector.Vector]

	if err := row.Scan(&m.ID, &m.UserID, &m.AgentID, &typ, &m.Content, &m.Importance, &m.Resonance,
		&m.AccessCount, &m.CreatedAt, &m.UpdatedAt, &m.LastAccessedAt, &sessionID, &tokenCount,
		&keywords, &metadata, &embeddingRaw, &embeddingModel, &embeddingDim,
		&m.NeverDecay, &customHalfLife, &m.Reinforceable, &status); err != nil {
		return m, err
	}
	m.Type = MemoryType(typ)
	m.Status = MemoryStatus(status)
	m.SessionID = sessionID.String
	m.TokenCount = int(tokenCount.Int64)
	m.CustomHalfLife = int(customHalfLife.Int64)
	m.EmbeddingModel = embeddingModel.String
	m.EmbeddingDimension = int(embeddingDim.Int64)
	if embeddingRaw.Valid {
		embedding = embeddingRaw.V
		m.Embedding = embedding.Slice()
	}
	_ = json.Unmarshal(keywords, &m.Keywords)
	_ = json.Unmarshal(metadata, &m.Metadata)
	return m, nil
}

func (p *PostgresProvider) GetMemoryByID(ctx context.Context, userID, id string) (*MemoryRecord, error) {
	q := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1 AND user_id = $2`, memoryColumns, p.t("memories"))
	row := p.db.QueryRowContext(ctx, q, id, userID)
	m, err := scanMemoryRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, pgWrap("get-memory-by-id", err)
	}
	return &m, nil
}

// Recall performs text-only recall: the same row gate as hybrid search
// (spec §4.4) but scored on ts_rank alone.
func (p *PostgresProvider) Recall(ctx context.Context, userID, agentID, queryText string, opts RecallOpts) ([]ScoredMemory, error) {
	if opts.VectorWeight == 0 && opts.TextWeight == 0 {
		opts = DefaultRecallOpts()
	}
	lang := p.cfg.TextSearchLanguage
	q := fmt.Sprintf(`
		SELECT %s, ts_rank(to_tsvector('%s', content), plainto_tsquery('%s', $3)) AS text_score
		FROM %s
		WHERE user_id = $1 AND agent_id = $2
			AND to_tsvector('%s', content) @@ plainto_tsquery('%s', $3)
		ORDER BY text_score DESC, importance DESC, last_accessed_at DESC, id ASC
		LIMIT $4
	`, memoryColumns, lang, lang, p.t("memories"), lang, lang)

	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}
	rows, err := p.db.QueryContext(ctx, q, userID, agentID, queryText, limit)
	if err != nil {
		return nil, pgWrap("recall", err)
	}
	defer rows.Close()

	var out []ScoredMemory
	for rows.Next() {
		var textScore float64
		m, err := scanMemoryRowWithTrailing(rows, &textScore)
		if err != nil {
			return nil, pgWrap("recall-scan", err)
		}
		if !passesTypeFilter(m.Type, opts.FilterTypes) {
			continue
		}
		out = append(out, ScoredMemory{Memory: m, Score: textScore})
	}
	return out, pgWrap("recall-rows", rows.Err())
}

// scanMemoryRowWithTrailing scans the fixed memory column set followed by
// one extra score column shared by Recall/search queries.
func scanMemoryRowWithTrailing(rows *sql.Rows, trailing *float64) (MemoryRecord, error) {
	var m MemoryRecord
	var typ, status string
	var sessionID, embeddingModel sql.NullString
	var tokenCount, customHalfLife, embeddingDim sql.NullInt64
	var keywords, metadata []byte
	var embeddingRaw sql.Null[pgvector.Vector]

	if err := rows.Scan(&m.ID, &m.UserID, &m.AgentID, &typ, &m.Content, &m.Importance, &m.Resonance,
		&m.AccessCount, &m.CreatedAt, &m.UpdatedAt, &m.LastAccessedAt, &sessionID, &tokenCount,
		&keywords, &metadata, &embeddingRaw, &embeddingModel, &embeddingDim,
		&m.NeverDecay, &customHalfLife, &m.Reinforceable, &status, trailing); err != nil {
		return m, err
	}
	m.Type = MemoryType(typ)
	m.Status = MemoryStatus(status)
	m.SessionID = sessionID.String
	m.TokenCount = int(tokenCount.Int64)
	m.CustomHalfLife = int(customHalfLife.Int64)
	m.EmbeddingModel = embeddingModel.String
	m.EmbeddingDimension = int(embeddingDim.Int64)
	if embeddingRaw.Valid {
		m.Embedding = embeddingRaw.V.Slice()
	}
	_ = json.Unmarshal(keywords, &m.Keywords)
	_ = json.Unmarshal(metadata, &m.Metadata)
	return m, nil
}

func (p *PostgresProvider) UpdateMemory(ctx context.Context, userID, agentID, id string, patch map[string]interface{}) error {
	sets, args, err := memoryPatchSets(patch)
	if err != nil {
		return err
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id, userID, agentID)
	q := fmt.Sprintf(`UPDATE %s SET %s, updated_at = now() WHERE id = $%d AND user_id = $%d AND agent_id = $%d`,
		p.t("memories"), joinSets(sets), len(args)-2, len(args)-1, len(args))
	res, err := p.db.ExecContext(ctx, q, args...)
	if err != nil {
		return pgWrap("update-memory", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return storerrors.ErrNotFound.WithDetail("id", id)
	}
	return nil
}

// memoryPatchSets builds a parameterized SET clause for the subset of
// MemoryRecord fields UpdateMemory/BatchUpdateMemories recognize.
func memoryPatchSets(patch map[string]interface{}) ([]string, []interface{}, error) {
	var sets []string
	var args []interface{}
	next := func(col string, v interface{}) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if v, ok := patch["content"].(string); ok {
		next("content", v)
	}
	if v, ok := patch["importance"].(float64); ok {
		next("importance", v)
	}
	if v, ok := patch["resonance"].(float64); ok {
		next("resonance", v)
	}
	if v, ok := patch["status"].(string); ok {
		next("status", v)
	}
	if v, ok := patch["metadata"].(map[string]interface{}); ok {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, nil, storerrors.NewSerializationError("encode-metadata", err)
		}
		next("metadata", raw)
	}
	if _, ok := patch["access"]; ok {
		sets = append(sets, "access_count = access_count + 1", "last_accessed_at = now()")
	}
	return sets, args, nil
}

func joinSets(sets []string) string {
	out := sets[0]
	for _, s := range sets[1:] {
		out += ", " + s
	}
	return out
}

func (p *PostgresProvider) DeleteMemory(ctx context.Context, userID, agentID, id string) (bool, error) {
	res, err := p.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1 AND user_id = $2 AND agent_id = $3`, p.t("memories")), id, userID, agentID)
	if err != nil {
		return false, pgWrap("delete-memory", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (p *PostgresProvider) GetStats(ctx context.Context, userID, agentID string) (MemoryStats, error) {
	stats := MemoryStats{CountByType: make(map[MemoryType]int)}
	q := fmt.Sprintf(`SELECT type, count(*), avg(importance), avg(resonance), min(created_at), max(created_at)
		FROM %s WHERE user_id = $1 AND agent_id = $2 GROUP BY type`, p.t("memories"))
	rows, err := p.db.QueryContext(ctx, q, userID, agentID)
	if err != nil {
		return stats, pgWrap("get-stats", err)
	}
	defer rows.Close()

	var impSum, resSum float64
	for rows.Next() {
		var typ string
		var count int
		var avgImp, avgRes float64
		var oldest, newest time.Time
		if err := rows.Scan(&typ, &count, &avgImp, &avgRes, &oldest, &newest); err != nil {
			return stats, pgWrap("get-stats-scan", err)
		}
		stats.CountByType[MemoryType(typ)] = count
		stats.TotalCount += count
		impSum += avgImp * float64(count)
		resSum += avgRes * float64(count)
		if stats.OldestCreatedAt.IsZero() || oldest.Before(stats.OldestCreatedAt) {
			stats.OldestCreatedAt = oldest
		}
		if newest.After(stats.NewestCreatedAt) {
			stats.NewestCreatedAt = newest
		}
	}
	if stats.TotalCount > 0 {
		stats.AvgImportance = impSum / float64(stats.TotalCount)
		stats.AvgResonance = resSum / float64(stats.TotalCount)
	}
	return stats, pgWrap("get-stats-rows", rows.Err())
}

func (p *PostgresProvider) BatchUpdateMemories(ctx context.Context, updates map[string]map[string]interface{}) (map[string]error, error) {
	errs := make(map[string]error)
	for id, patch := range updates {
		sets, args, err := memoryPatchSets(patch)
		if err != nil {
			errs[id] = err
			continue
		}
		if len(sets) == 0 {
			continue
		}
		args = append(args, id)
		q := fmt.Sprintf(`UPDATE %s SET %s, updated_at = now() WHERE id = $%d`, p.t("memories"), joinSets(sets), len(args))
		if _, err := p.db.ExecContext(ctx, q, args...); err != nil {
			errs[id] = pgWrap("batch-update", err)
		}
	}
	return errs, nil
}

// CreateConnections bulk-inserts edges with the upsert-on-conflict rule
// from spec §4.6: strength rises to the max, reason is replaced only by a
// non-null incoming value.
func (p *PostgresProvider) CreateConnections(ctx context.Context, userID string, edges []MemoryConnection) error {
	if len(edges) == 0 {
		return nil
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return pgWrap("create-connections-begin", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, source_memory_id, target_memory_id, connection_type, strength, reason, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,now())
		ON CONFLICT (source_memory_id, target_memory_id) DO UPDATE SET
			strength = GREATEST(%s.strength, EXCLUDED.strength),
			reason = COALESCE(EXCLUDED.reason, %s.reason)
	`, p.t("memory_connections"), p.t("memory_connections"), p.t("memory_connections")))
	if err != nil {
		return pgWrap("create-connections-prepare", err)
	}
	defer stmt.Close()

	for _, e := range edges {
		id := e.ID
		if id == "" {
			id = pgNextID()
		}
		if _, err := stmt.ExecContext(ctx, id, e.SourceMemoryID, e.TargetMemoryID, string(e.ConnectionType), e.Strength, nullString(e.Reason)); err != nil {
			return pgWrap("create-connections-exec", err)
		}
	}
	return pgWrap("create-connections-commit", tx.Commit())
}

// FindConnectedMemories performs the bounded-depth traversal of spec §4.6
// as a recursive CTE over memory_connections, filtered to rows owned by
// userID, then loads the reached memories and edges in Go.
func (p *PostgresProvider) FindConnectedMemories(ctx context.Context, userID, memoryID string, depth int, minStrength float64) ([]MemoryRecord, []MemoryConnection, error) {
	cteQuery := fmt.Sprintf(`
		WITH RECURSIVE reach(id, hops) AS (
			SELECT $1::text, 0
			UNION
			SELECT CASE WHEN c.source_memory_id = r.id THEN c.target_memory_id ELSE c.source_memory_id END, r.hops + 1
			FROM %s c
			JOIN reach r ON (c.source_memory_id = r.id OR c.target_memory_id = r.id)
			WHERE c.strength >= $2 AND r.hops < $3
		)
		SELECT DISTINCT id FROM reach
	`, p.t("memory_connections"))

	rows, err := p.db.QueryContext(ctx, cteQuery, memoryID, minStrength, depth)
	if err != nil {
		return nil, nil, pgWrap("find-connected", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, nil, pgWrap("find-connected-scan", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, nil, pgWrap("find-connected-rows", err)
	}
	if len(ids) == 0 {
		return nil, nil, nil
	}

	memQuery := fmt.Sprintf(`SELECT %s FROM %s WHERE id = ANY($1) AND user_id = $2`, memoryColumns, p.t("memories"))
	memRows, err := p.db.QueryContext(ctx, memQuery, pqStringArray(ids), userID)
	if err != nil {
		return nil, nil, pgWrap("find-connected-memories", err)
	}
	defer memRows.Close()
	var memories []MemoryRecord
	owned := make(map[string]bool)
	for memRows.Next() {
		m, err := scanMemoryRow(memRows)
		if err != nil {
			return nil, nil, pgWrap("find-connected-memories-scan", err)
		}
		memories = append(memories, m)
		owned[m.ID] = true
	}
	if err := memRows.Err(); err != nil {
		return nil, nil, pgWrap("find-connected-memories-rows", err)
	}

	edgeQuery := fmt.Sprintf(`SELECT id, source_memory_id, target_memory_id, connection_type, strength, reason, created_at
		FROM %s WHERE strength >= $1 AND (source_memory_id = ANY($2) OR target_memory_id = ANY($2))`, p.t("memory_connections"))
	edgeRows, err := p.db.QueryContext(ctx, edgeQuery, minStrength, pqStringArray(ids))
	if err != nil {
		return nil, nil, pgWrap("find-connected-edges", err)
	}
	defer edgeRows.Close()
	var edges []MemoryConnection
	for edgeRows.Next() {
		var e MemoryConnection
		var typ string
		var reason sql.NullString
		if err := edgeRows.Scan(&e.ID, &e.SourceMemoryID, &e.TargetMemoryID, &typ, &e.Strength, &reason, &e.CreatedAt); err != nil {
			return nil, nil, pgWrap("find-connected-edges-scan", err)
		}
		e.ConnectionType = ConnectionType(typ)
		e.Reason = reason.String
		if owned[e.SourceMemoryID] && owned[e.TargetMemoryID] {
			edges = append(edges, e)
		}
	}
	return memories, edges, pgWrap("find-connected-edges-rows", edgeRows.Err())
}

func pqStringArray(ss []string) interface{} {
	return pqArray(ss)
}

// ApplyDecay runs the resonance decay batch pass of spec §4.5: compute the
// new resonance in Go (to share the exact formula with every adapter), then
// partition into chunked UPDATE/DELETE statements of at most 1000 rows
// each, one transaction per chunk.
func (p *PostgresProvider) ApplyDecay(ctx context.Context, userID, agentID string, rules DecayRules) (DecayResult, error) {
	q := fmt.Sprintf(`SELECT %s FROM %s WHERE user_id = $1 AND agent_id = $2`, memoryColumns, p.t("memories"))
	rows, err := p.db.QueryContext(ctx, q, userID, agentID)
	if err != nil {
		return DecayResult{}, pgWrap("apply-decay-select", err)
	}
	var candidates []MemoryRecord
	for rows.Next() {
		m, err := scanMemoryRow(rows)
		if err != nil {
			rows.Close()
			return DecayResult{}, pgWrap("apply-decay-scan", err)
		}
		candidates = append(candidates, m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return DecayResult{}, pgWrap("apply-decay-rows", err)
	}

	now := time.Now()
	var result DecayResult
	var toRemove, toUpdate []string
	newResonance := make(map[string]float64, len(candidates))
	for _, m := range candidates {
		result.Processed++
		nr, outcome := computeResonanceDecay(m, rules, now)
		switch outcome {
		case decayRemove:
			toRemove = append(toRemove, m.ID)
		case decayUpdate:
			toUpdate = append(toUpdate, m.ID)
			newResonance[m.ID] = nr
		}
	}
	result.Removed = toRemove
	result.Decayed = toUpdate

	for _, idsChunk := range chunk(toRemove, decayChunkSize) {
		if err := p.decayDeleteChunk(ctx, idsChunk); err != nil {
			return result, err
		}
	}
	for _, idsChunk := range chunk(toUpdate, decayChunkSize) {
		if err := p.decayUpdateChunk(ctx, idsChunk, newResonance); err != nil {
			return result, err
		}
	}
	return result, nil
}

func (p *PostgresProvider) decayDeleteChunk(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return pgWrap("decay-delete-begin", err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = ANY($1)`, p.t("memories")), pqStringArray(ids)); err != nil {
		return pgWrap("decay-delete", err)
	}
	return pgWrap("decay-delete-commit", tx.Commit())
}

// decayUpdateChunk applies one UPDATE ... FROM (VALUES ...) statement per
// chunk, matching spec §4.5's "single statement per chunk" requirement.
func (p *PostgresProvider) decayUpdateChunk(ctx context.Context, ids []string, newResonance map[string]float64) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return pgWrap("decay-update-begin", err)
	}
	defer tx.Rollback()

	values := make([]string, len(ids))
	args := make([]interface{}, 0, len(ids)*2)
	for i, id := range ids {
		values[i] = fmt.Sprintf("($%d::text, $%d::double precision)", i*2+1, i*2+2)
		args = append(args, id, newResonance[id])
	}
	q := fmt.Sprintf(`
		UPDATE %s AS m SET resonance = v.resonance, updated_at = now()
		FROM (VALUES %s) AS v(id, resonance)
		WHERE m.id = v.id
	`, p.t("memories"), joinComma(values))
	if _, err := tx.ExecContext(ctx, q, args...); err != nil {
		return pgWrap("decay-update", err)
	}
	return pgWrap("decay-update-commit", tx.Commit())
}

func joinComma(ss []string) string {
	out := ss[0]
	for _, s := range ss[1:] {
		out += ", " + s
	}
	return out
}
