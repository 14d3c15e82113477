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

	storerrors "github.com/sage-x-project/memstore/pkg/errors"
)

var sqliteIDNode, _ = snowflake.NewNode(3)

func sqliteNextID() string { return sqliteIDNode.Generate().String() }

func (p *SQLiteProvider) validateEmbedding(embedding []float32) error {
	if len(embedding) == 0 {
		return nil
	}
	if len(embedding) != p.cfg.DefaultDimension {
		return storerrors.NewDimensionMismatch(len(embedding), p.cfg.DefaultDimension)
	}
	return nil
}

const sqliteMemoryColumns = `id, user_id, agent_id, type, content, importance, resonance, access_count,
	created_at, updated_at, last_accessed_at, session_id, token_count, keywords, metadata,
	embedding_model, embedding_dimension, never_decay, custom_half_life, reinforceable, status`

func (p *SQLiteProvider) StoreMemory(ctx context.Context, m MemoryRecord) (string, error) {
	return p.storeMemory(ctx, m, false)
}

func (p *SQLiteProvider) StoreMemoryWithEmbedding(ctx context.Context, m MemoryRecord) (string, error) {
	return p.storeMemory(ctx, m, true)
}

func (p *SQLiteProvider) storeMemory(ctx context.Context, m MemoryRecord, withEmbedding bool) (string, error) {
	if m.UserID == "" || m.AgentID == "" {
		return "", storerrors.ErrInvalidInput.WithMessage("user_id and agent_id are required")
	}
	if err := p.validateEmbedding(m.Embedding); err != nil {
		return "", err
	}
	now := time.Now().UTC()
	if m.ID == "" {
		m.ID = sqliteNextID()
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

	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return "", sqliteWrap("store-memory-begin", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO memories (%s) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
	`, sqliteMemoryColumns),
		m.ID, m.UserID, m.AgentID, string(m.Type), m.Content, m.Importance, m.Resonance,
		m.AccessCount, rfc3339(m.CreatedAt), rfc3339(m.UpdatedAt), rfc3339(m.LastAccessedAt),
		nullString(m.SessionID), nullInt(m.TokenCount), string(keywords), string(metadata),
		nullString(m.EmbeddingModel), nullInt(m.EmbeddingDimension),
		boolToInt(m.NeverDecay), nullInt(m.CustomHalfLife), boolToInt(m.Reinforceable), string(m.Status))
	if err != nil {
		return "", sqliteWrap("store-memory", err)
	}

	if withEmbedding && len(m.Embedding) > 0 {
		if err := p.writeEmbeddingTx(ctx, tx, m.ID, m.Embedding, m.EmbeddingModel); err != nil {
			return "", err
		}
	}
	return m.ID, sqliteWrap("store-memory-commit", tx.Commit())
}

func (p *SQLiteProvider) writeEmbeddingTx(ctx context.Context, tx *sql.Tx, memoryID string, embedding []float32, model string) error {
	blob := float32ToBytes(embedding)
	_, err := tx.ExecContext(ctx, `
		INSERT INTO embeddings (memory_id, embedding, model, dimension, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(memory_id) DO UPDATE SET
			embedding = excluded.embedding, model = excluded.model,
			dimension = excluded.dimension, created_at = excluded.created_at
	`, memoryID, blob, nullString(model), len(embedding), nowText())
	if err != nil {
		return sqliteWrap("write-embedding", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM vec_memories WHERE memory_id = ?`, memoryID); err != nil {
		return sqliteWrap("write-embedding-vec-clear", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO vec_memories (memory_id, embedding) VALUES (?, ?)`, memoryID, serializeVector(embedding)); err != nil {
		return sqliteWrap("write-embedding-vec", err)
	}
	return nil
}

func rfc3339(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func scanSQLiteMemoryRow(row interface{ Scan(...interface{}) error }) (MemoryRecord, error) {
	var m MemoryRecord
	var typ, status, createdAt, updatedAt, lastAccessedAt string
	var sessionID, embeddingModel sql.NullString
	var tokenCount, customHalfLife, embeddingDim sql.NullInt64
	var neverDecay, reinforceable int
	var keywords, metadata string

	if err := row.Scan(&m.ID, &m.UserID, &m.AgentID, &typ, &m.Content, &m.Importance, &m.Resonance,
		&m.AccessCount, &createdAt, &updatedAt, &lastAccessedAt, &sessionID, &tokenCount,
		&keywords, &metadata, &embeddingModel, &embeddingDim, &neverDecay, &customHalfLife,
		&reinforceable, &status); err != nil {
		return m, err
	}
	m.Type = MemoryType(typ)
	m.Status = MemoryStatus(status)
	m.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	m.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	m.LastAccessedAt, _ = time.Parse(time.RFC3339Nano, lastAccessedAt)
	m.SessionID = sessionID.String
	m.TokenCount = int(tokenCount.Int64)
	m.CustomHalfLife = int(customHalfLife.Int64)
	m.EmbeddingModel = embeddingModel.String
	m.EmbeddingDimension = int(embeddingDim.Int64)
	m.NeverDecay = neverDecay != 0
	m.Reinforceable = reinforceable != 0
	_ = json.Unmarshal([]byte(keywords), &m.Keywords)
	_ = json.Unmarshal([]byte(metadata), &m.Metadata)
	return m, nil
}

func (p *SQLiteProvider) loadEmbedding(ctx context.Context, memoryID string) ([]float32, error) {
	var blob []byte
	err := p.db.QueryRowContext(ctx, `SELECT embedding FROM embeddings WHERE memory_id = ?`, memoryID).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, sqliteWrap("load-embedding", err)
	}
	return bytesToFloat32(blob), nil
}

func (p *SQLiteProvider) GetMemoryByID(ctx context.Context, userID, id string) (*MemoryRecord, error) {
	q := fmt.Sprintf(`SELECT %s FROM memories WHERE id = ? AND user_id = ?`, sqliteMemoryColumns)
	row := p.db.QueryRowContext(ctx, q, id, userID)
	m, err := scanSQLiteMemoryRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, sqliteWrap("get-memory-by-id", err)
	}
	embedding, err := p.loadEmbedding(ctx, id)
	if err != nil {
		return nil, err
	}
	m.Embedding = embedding
	return &m, nil
}

// Recall performs FTS5 keyword recall: the bm25 ranking function scores
// each hit (more negative is better, so text_score negates it), and ties
// break the same way as every other backend (spec §4.4).
func (p *SQLiteProvider) Recall(ctx context.Context, userID, agentID, queryText string, opts RecallOpts) ([]ScoredMemory, error) {
	if opts.VectorWeight == 0 && opts.TextWeight == 0 {
		opts = DefaultRecallOpts()
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}
	q := fmt.Sprintf(`
		SELECT %s, -bm25(fts_memories) AS text_score
		FROM memories m
		JOIN fts_memories ON fts_memories.rowid = m.rowid
		WHERE fts_memories MATCH ? AND m.user_id = ? AND m.agent_id = ?
		ORDER BY text_score DESC, m.importance DESC, m.last_accessed_at DESC, m.id ASC
		LIMIT ?
	`, prefixCols("m", sqliteMemoryColumns))
	rows, err := p.db.QueryContext(ctx, q, ftsQuery(queryText), userID, agentID, limit)
	if err != nil {
		return nil, sqliteWrap("recall", err)
	}
	defer rows.Close()

	var out []ScoredMemory
	for rows.Next() {
		var textScore float64
		m, err := scanSQLiteMemoryRowTrailing(rows, &textScore)
		if err != nil {
			return nil, sqliteWrap("recall-scan", err)
		}
		if !passesTypeFilter(m.Type, opts.FilterTypes) {
			continue
		}
		out = append(out, ScoredMemory{Memory: m, Score: textScore})
	}
	return out, sqliteWrap("recall-rows", rows.Err())
}

// prefixCols qualifies a comma-separated column list with a table alias, so
// the same constant can back both bare selects and joined queries.
func prefixCols(alias, cols string) string {
	parts := splitCSV(cols)
	for i, c := range parts {
		parts[i] = alias + "." + c
	}
	return joinCSV(parts)
}

func splitCSV(s string) []string {
	var out []string
	cur := ""
	for _, r := range s {
		switch r {
		case ',':
			out = append(out, trimSpaceAndNewline(cur))
			cur = ""
		case '\n', '\t':
			// collapse formatting whitespace from the multi-line const
		default:
			cur += string(r)
		}
	}
	if cur != "" {
		out = append(out, trimSpaceAndNewline(cur))
	}
	return out
}

func trimSpaceAndNewline(s string) string {
	start, end := 0, len(s)
	for start < end && (s[start] == ' ' || s[start] == '\t' || s[start] == '\n') {
		start++
	}
	for end > start && (s[end-1] == ' ' || s[end-1] == '\t' || s[end-1] == '\n') {
		end--
	}
	return s[start:end]
}

func joinCSV(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += ", "
		}
		out += p
	}
	return out
}

// ftsQuery turns free text into an FTS5 MATCH expression over whitespace
// tokens, each individually quoted so punctuation never breaks the parser.
func ftsQuery(text string) string {
	var out string
	cur := ""
	flush := func() {
		if cur != "" {
			if out != "" {
				out += " "
			}
			out += fmt.Sprintf("%q", cur)
			cur = ""
		}
	}
	for _, r := range text {
		if r == ' ' || r == '\t' || r == '\n' {
			flush()
		} else {
			cur += string(r)
		}
	}
	flush()
	if out == "" {
		out = `""`
	}
	return out
}

func scanSQLiteMemoryRowTrailing(rows *sql.Rows, trailing *float64) (MemoryRecord, error) {
	var m MemoryRecord
	var typ, status, createdAt, updatedAt, lastAccessedAt string
	var sessionID, embeddingModel sql.NullString
	var tokenCount, customHalfLife, embeddingDim sql.NullInt64
	var neverDecay, reinforceable int
	var keywords, metadata string

	if err := rows.Scan(&m.ID, &m.UserID, &m.AgentID, &typ, &m.Content, &m.Importance, &m.Resonance,
		&m.AccessCount, &createdAt, &updatedAt, &lastAccessedAt, &sessionID, &tokenCount,
		&keywords, &metadata, &embeddingModel, &embeddingDim, &neverDecay, &customHalfLife,
		&reinforceable, &status, trailing); err != nil {
		return m, err
	}
	m.Type = MemoryType(typ)
	m.Status = MemoryStatus(status)
	m.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	m.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	m.LastAccessedAt, _ = time.Parse(time.RFC3339Nano, lastAccessedAt)
	m.SessionID = sessionID.String
	m.TokenCount = int(tokenCount.Int64)
	m.CustomHalfLife = int(customHalfLife.Int64)
	m.EmbeddingModel = embeddingModel.String
	m.EmbeddingDimension = int(embeddingDim.Int64)
	m.NeverDecay = neverDecay != 0
	m.Reinforceable = reinforceable != 0
	_ = json.Unmarshal([]byte(keywords), &m.Keywords)
	_ = json.Unmarshal([]byte(metadata), &m.Metadata)
	return m, nil
}

func (p *SQLiteProvider) UpdateMemory(ctx context.Context, userID, agentID, id string, patch map[string]interface{}) error {
	sets, args, err := memoryPatchSetsSQLite(patch)
	if err != nil {
		return err
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id, userID, agentID)

	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	q := fmt.Sprintf(`UPDATE memories SET %s, updated_at = ? WHERE id = ? AND user_id = ? AND agent_id = ?`, joinSets(sets))
	args = append([]interface{}{}, args...)
	args = insertAt(args, len(args)-3, nowText())
	res, err := p.db.ExecContext(ctx, q, args...)
	if err != nil {
		return sqliteWrap("update-memory", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return storerrors.ErrNotFound.WithDetail("id", id)
	}
	return nil
}

func insertAt(s []interface{}, i int, v interface{}) []interface{} {
	out := make([]interface{}, 0, len(s)+1)
	out = append(out, s[:i]...)
	out = append(out, v)
	out = append(out, s[i:]...)
	return out
}

func memoryPatchSetsSQLite(patch map[string]interface{}) ([]string, []interface{}, error) {
	var sets []string
	var args []interface{}
	next := func(col string, v interface{}) {
		args = append(args, v)
		sets = append(sets, col+" = ?")
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
		next("metadata", string(raw))
	}
	if _, ok := patch["access"]; ok {
		sets = append(sets, "access_count = access_count + 1", "last_accessed_at = ?")
		args = append(args, nowText())
	}
	return sets, args, nil
}

func (p *SQLiteProvider) DeleteMemory(ctx context.Context, userID, agentID, id string) (bool, error) {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	res, err := p.db.ExecContext(ctx, `DELETE FROM memories WHERE id = ? AND user_id = ? AND agent_id = ?`, id, userID, agentID)
	if err != nil {
		return false, sqliteWrap("delete-memory", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (p *SQLiteProvider) GetStats(ctx context.Context, userID, agentID string) (MemoryStats, error) {
	stats := MemoryStats{CountByType: make(map[MemoryType]int)}
	rows, err := p.db.QueryContext(ctx, `
		SELECT type, count(*), avg(importance), avg(resonance), min(created_at), max(created_at)
		FROM memories WHERE user_id = ? AND agent_id = ? GROUP BY type
	`, userID, agentID)
	if err != nil {
		return stats, sqliteWrap("get-stats", err)
	}
	defer rows.Close()

	var impSum, resSum float64
	for rows.Next() {
		var typ, oldestStr, newestStr string
		var count int
		var avgImp, avgRes float64
		if err := rows.Scan(&typ, &count, &avgImp, &avgRes, &oldestStr, &newestStr); err != nil {
			return stats, sqliteWrap("get-stats-scan", err)
		}
		stats.CountByType[MemoryType(typ)] = count
		stats.TotalCount += count
		impSum += avgImp * float64(count)
		resSum += avgRes * float64(count)
		oldest, _ := time.Parse(time.RFC3339Nano, oldestStr)
		newest, _ := time.Parse(time.RFC3339Nano, newestStr)
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
	return stats, sqliteWrap("get-stats-rows", rows.Err())
}

func (p *SQLiteProvider) BatchUpdateMemories(ctx context.Context, updates map[string]map[string]interface{}) (map[string]error, error) {
	errs := make(map[string]error)
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	for id, patch := range updates {
		sets, args, err := memoryPatchSetsSQLite(patch)
		if err != nil {
			errs[id] = err
			continue
		}
		if len(sets) == 0 {
			continue
		}
		args = append(args, nowText(), id)
		q := fmt.Sprintf(`UPDATE memories SET %s, updated_at = ? WHERE id = ?`, joinSets(sets))
		if _, err := p.db.ExecContext(ctx, q, args...); err != nil {
			errs[id] = sqliteWrap("batch-update", err)
		}
	}
	return errs, nil
}

// CreateConnections applies the spec §4.6 merge rule (strength rises to the
// max, reason only replaced by a non-null incoming value) with an explicit
// read-modify-write since SQLite's ON CONFLICT clause cannot reference the
// pre-update row for a GREATEST-style computation without a subquery.
func (p *SQLiteProvider) CreateConnections(ctx context.Context, userID string, edges []MemoryConnection) error {
	if len(edges) == 0 {
		return nil
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return sqliteWrap("create-connections-begin", err)
	}
	defer tx.Rollback()

	for _, e := range edges {
		var existing MemoryConnection
		var reason sql.NullString
		err := tx.QueryRowContext(ctx, `
			SELECT id, strength, reason FROM memory_connections
			WHERE source_memory_id = ? AND target_memory_id = ?
		`, e.SourceMemoryID, e.TargetMemoryID).Scan(&existing.ID, &existing.Strength, &reason)
		existing.Reason = reason.String

		merged := mergeConnection(existing, e)
		if err == sql.ErrNoRows {
			id := e.ID
			if id == "" {
				id = sqliteNextID()
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO memory_connections (id, source_memory_id, target_memory_id, connection_type, strength, reason, created_at)
				VALUES (?,?,?,?,?,?,?)
			`, id, e.SourceMemoryID, e.TargetMemoryID, string(e.ConnectionType), merged.Strength, nullString(merged.Reason), nowText()); err != nil {
				return sqliteWrap("create-connections-insert", err)
			}
			continue
		}
		if err != nil {
			return sqliteWrap("create-connections-select", err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE memory_connections SET strength = ?, reason = ? WHERE id = ?
		`, merged.Strength, nullString(merged.Reason), existing.ID); err != nil {
			return sqliteWrap("create-connections-update", err)
		}
	}
	return sqliteWrap("create-connections-commit", tx.Commit())
}

// FindConnectedMemories loads the owner's memories and qualifying edges,
// then reuses the same BFS traversal the in-process backend relies on
// rather than a recursive CTE (spec §4.6 allows either expression).
func (p *SQLiteProvider) FindConnectedMemories(ctx context.Context, userID, memoryID string, depth int, minStrength float64) ([]MemoryRecord, []MemoryConnection, error) {
	memRows, err := p.db.QueryContext(ctx, fmt.Sprintf(`SELECT %s FROM memories WHERE user_id = ?`, sqliteMemoryColumns), userID)
	if err != nil {
		return nil, nil, sqliteWrap("find-connected-memories", err)
	}
	memMap := make(map[string]MemoryRecord)
	for memRows.Next() {
		m, err := scanSQLiteMemoryRow(memRows)
		if err != nil {
			memRows.Close()
			return nil, nil, sqliteWrap("find-connected-memories-scan", err)
		}
		memMap[m.ID] = m
	}
	memRows.Close()
	if err := memRows.Err(); err != nil {
		return nil, nil, sqliteWrap("find-connected-memories-rows", err)
	}

	edgeRows, err := p.db.QueryContext(ctx, `
		SELECT id, source_memory_id, target_memory_id, connection_type, strength, reason, created_at
		FROM memory_connections WHERE strength >= ?
	`, minStrength)
	if err != nil {
		return nil, nil, sqliteWrap("find-connected-edges", err)
	}
	defer edgeRows.Close()
	var edges []MemoryConnection
	for edgeRows.Next() {
		var e MemoryConnection
		var typ, createdAt string
		var reason sql.NullString
		if err := edgeRows.Scan(&e.ID, &e.SourceMemoryID, &e.TargetMemoryID, &typ, &e.Strength, &reason, &createdAt); err != nil {
			return nil, nil, sqliteWrap("find-connected-edges-scan", err)
		}
		e.ConnectionType = ConnectionType(typ)
		e.Reason = reason.String
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		if _, ok := memMap[e.SourceMemoryID]; !ok {
			continue
		}
		if _, ok := memMap[e.TargetMemoryID]; !ok {
			continue
		}
		edges = append(edges, e)
	}
	if err := edgeRows.Err(); err != nil {
		return nil, nil, sqliteWrap("find-connected-edges-rows", err)
	}

	memories, reachedEdges := traverseGraph(memMap, edges, memoryID, depth, minStrength)
	return memories, reachedEdges, nil
}

// ApplyDecay mirrors the Postgres pass: compute the shared formula in Go,
// then chunk deletes/updates into ≤1000-row transactions (spec §4.5).
func (p *SQLiteProvider) ApplyDecay(ctx context.Context, userID, agentID string, rules DecayRules) (DecayResult, error) {
	rows, err := p.db.QueryContext(ctx, fmt.Sprintf(`SELECT %s FROM memories WHERE user_id = ? AND agent_id = ?`, sqliteMemoryColumns), userID, agentID)
	if err != nil {
		return DecayResult{}, sqliteWrap("apply-decay-select", err)
	}
	var candidates []MemoryRecord
	for rows.Next() {
		m, err := scanSQLiteMemoryRow(rows)
		if err != nil {
			rows.Close()
			return DecayResult{}, sqliteWrap("apply-decay-scan", err)
		}
		candidates = append(candidates, m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return DecayResult{}, sqliteWrap("apply-decay-rows", err)
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

	p.writeMu.Lock()
	defer p.writeMu.Unlock()

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

func (p *SQLiteProvider) decayDeleteChunk(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return sqliteWrap("decay-delete-begin", err)
	}
	defer tx.Rollback()
	placeholders, args := inClause(ids)
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM memories WHERE id IN (%s)`, placeholders), args...); err != nil {
		return sqliteWrap("decay-delete", err)
	}
	return sqliteWrap("decay-delete-commit", tx.Commit())
}

func (p *SQLiteProvider) decayUpdateChunk(ctx context.Context, ids []string, newResonance map[string]float64) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return sqliteWrap("decay-update-begin", err)
	}
	defer tx.Rollback()
	stmt, err := tx.PrepareContext(ctx, `UPDATE memories SET resonance = ?, updated_at = ? WHERE id = ?`)
	if err != nil {
		return sqliteWrap("decay-update-prepare", err)
	}
	defer stmt.Close()
	now := nowText()
	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, newResonance[id], now, id); err != nil {
			return sqliteWrap("decay-update", err)
		}
	}
	return sqliteWrap("decay-update-commit", tx.Commit())
}

func inClause(ids []string) (string, []interface{}) {
	placeholders := make([]string, len(ids))
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	return joinCSV(placeholders), args
}
