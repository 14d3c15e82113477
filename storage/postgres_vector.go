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

	"github.com/pgvector/pgvector-go"

	storerrors "github.com/sage-x-project/memstore/pkg/errors"
)

func vecTableName(collection string) string {
	return "vec_" + collection
}

func cosineOpsFor(metric Metric) string {
	switch metric {
	case MetricEuclidean:
		return "vector_l2_ops"
	case MetricDot:
		return "vector_ip_ops"
	default:
		return "vector_cosine_ops"
	}
}

func distanceOperatorFor(metric Metric) string {
	switch metric {
	case MetricEuclidean:
		return "<->"
	case MetricDot:
		return "<#>"
	default:
		return "<=>"
	}
}

// CreateCollection creates a dedicated vec_<name> table (spec §4.2(b): "a
// per-collection vector table") plus an ANN index, and registers the
// collection's metadata row. Re-creating with identical configuration is
// idempotent; a dimension/metric mismatch surfaces AlreadyExists.
func (p *PostgresProvider) CreateCollection(ctx context.Context, c VectorCollection) error {
	if err := validateIdentifier("collection", c.Name); err != nil {
		return err
	}
	existing, err := p.collectionMeta(ctx, c.Name)
	if err != nil {
		return err
	}
	if existing != nil {
		if existing.Dimension != c.Dimension || existing.Metric != c.Metric {
			return storerrors.ErrAlreadyExists.WithDetail("collection", c.Name)
		}
		return nil
	}

	table := p.t(vecTableName(c.Name))
	if _, err := p.db.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id        text PRIMARY KEY,
			vector    vector(%d) NOT NULL,
			metadata  jsonb
		)
	`, table, c.Dimension)); err != nil {
		return pgWrap("create-collection", err)
	}
	idxType := string(IndexIVFFlat)
	if c.Index != nil && c.Index.Type != "" {
		idxType = string(c.Index.Type)
	}
	if idxType != string(IndexFlat) {
		idxName := vecTableName(c.Name) + "_idx"
		if _, err := p.db.ExecContext(ctx, fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s USING %s (vector %s)`,
			quoteIdent(idxName), table, idxType, cosineOpsFor(c.Metric))); err != nil {
			return pgWrap("create-collection-index", err)
		}
	}

	idxOpts, _ := json.Marshal(map[string]interface{}{"type": idxType})
	_, err = p.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (name, dimension, metric, index_type, index_options, created_at)
		VALUES ($1,$2,$3,$4,$5,now())
		ON CONFLICT (name) DO NOTHING
	`, p.t("vector_collections")), c.Name, c.Dimension, string(c.Metric), idxType, idxOpts)
	return pgWrap("register-collection", err)
}

func (p *PostgresProvider) collectionMeta(ctx context.Context, name string) (*VectorCollection, error) {
	row := p.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT name, dimension, metric, created_at FROM %s WHERE name = $1`, p.t("vector_collections")), name)
	var c VectorCollection
	var metric string
	if err := row.Scan(&c.Name, &c.Dimension, &metric, &c.CreatedAt); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, pgWrap("collection-meta", err)
	}
	c.Metric = Metric(metric)
	return &c, nil
}

func (p *PostgresProvider) DropCollection(ctx context.Context, name string) error {
	if err := validateIdentifier("collection", name); err != nil {
		return err
	}
	if _, err := p.db.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, p.t(vecTableName(name)))); err != nil {
		return pgWrap("drop-collection", err)
	}
	_, err := p.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE name = $1`, p.t("vector_collections")), name)
	return pgWrap("drop-collection-meta", err)
}

func (p *PostgresProvider) CollectionExists(ctx context.Context, name string) (bool, error) {
	c, err := p.collectionMeta(ctx, name)
	return c != nil, err
}

func (p *PostgresProvider) ListCollections(ctx context.Context) ([]VectorCollection, error) {
	rows, err := p.db.QueryContext(ctx, fmt.Sprintf(`SELECT name, dimension, metric, created_at FROM %s ORDER BY name`, p.t("vector_collections")))
	if err != nil {
		return nil, pgWrap("list-collections", err)
	}
	defer rows.Close()
	var out []VectorCollection
	for rows.Next() {
		var c VectorCollection
		var metric string
		if err := rows.Scan(&c.Name, &c.Dimension, &metric, &c.CreatedAt); err != nil {
			return nil, pgWrap("list-collections-scan", err)
		}
		c.Metric = Metric(metric)
		out = append(out, c)
	}
	return out, pgWrap("list-collections-rows", rows.Err())
}

func (p *PostgresProvider) InsertVectors(ctx context.Context, collection string, rows []VectorRow) error {
	return p.upsertVectors(ctx, collection, rows, false)
}

func (p *PostgresProvider) UpsertVectors(ctx context.Context, collection string, rows []VectorRow) error {
	return p.upsertVectors(ctx, collection, rows, true)
}

func (p *PostgresProvider) upsertVectors(ctx context.Context, collection string, rows []VectorRow, upsert bool) error {
	if err := validateIdentifier("collection", collection); err != nil {
		return err
	}
	meta, err := p.collectionMeta(ctx, collection)
	if err != nil {
		return err
	}
	if meta == nil {
		return storerrors.ErrNotFound.WithDetail("collection", collection)
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return pgWrap("upsert-vectors-begin", err)
	}
	defer tx.Rollback()

	conflictClause := ""
	if upsert {
		conflictClause = `ON CONFLICT (id) DO UPDATE SET vector = EXCLUDED.vector, metadata = EXCLUDED.metadata`
	}
	q := fmt.Sprintf(`INSERT INTO %s (id, vector, metadata) VALUES ($1,$2,$3) %s`, p.t(vecTableName(collection)), conflictClause)
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		return pgWrap("upsert-vectors-prepare", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		if len(r.Vector) != meta.Dimension {
			return storerrors.NewDimensionMismatch(len(r.Vector), meta.Dimension)
		}
		id := r.ID
		if id == "" {
			id = pgNextID()
		}
		metaJSON, _ := json.Marshal(r.Metadata)
		v := pgvector.NewVector(r.Vector)
		if _, err := stmt.ExecContext(ctx, id, &v, metaJSON); err != nil {
			return pgWrap("upsert-vectors-exec", err)
		}
	}
	return pgWrap("upsert-vectors-commit", tx.Commit())
}

func (p *PostgresProvider) UpdateVectors(ctx context.Context, collection string, rows []VectorRow) error {
	if err := validateIdentifier("collection", collection); err != nil {
		return err
	}
	meta, err := p.collectionMeta(ctx, collection)
	if err != nil {
		return err
	}
	if meta == nil {
		return storerrors.ErrNotFound.WithDetail("collection", collection)
	}
	for _, r := range rows {
		if len(r.Vector) != meta.Dimension {
			return storerrors.NewDimensionMismatch(len(r.Vector), meta.Dimension)
		}
		metaJSON, _ := json.Marshal(r.Metadata)
		v := pgvector.NewVector(r.Vector)
		res, err := p.db.ExecContext(ctx, fmt.Sprintf(`UPDATE %s SET vector = $2, metadata = $3 WHERE id = $1`, p.t(vecTableName(collection))), r.ID, &v, metaJSON)
		if err != nil {
			return pgWrap("update-vectors", err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return storerrors.ErrNotFound.WithDetail("id", r.ID)
		}
	}
	return nil
}

func (p *PostgresProvider) DeleteVectors(ctx context.Context, collection string, ids []string) (int, error) {
	if err := validateIdentifier("collection", collection); err != nil {
		return 0, err
	}
	res, err := p.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = ANY($1)`, p.t(vecTableName(collection))), pqArray(ids))
	if err != nil {
		return 0, pgWrap("delete-vectors", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (p *PostgresProvider) SearchVectors(ctx context.Context, collection string, query []float32, opts VectorSearchOpts) ([]VectorMatch, error) {
	if err := validateIdentifier("collection", collection); err != nil {
		return nil, err
	}
	meta, err := p.collectionMeta(ctx, collection)
	if err != nil {
		return nil, err
	}
	if meta == nil {
		return nil, storerrors.ErrNotFound.WithDetail("collection", collection)
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}
	v := pgvector.NewVector(query)
	op := distanceOperatorFor(meta.Metric)
	q := fmt.Sprintf(`SELECT id, vector, metadata, 1 - (vector %s $1) AS score FROM %s ORDER BY vector %s $1 LIMIT $2`,
		op, p.t(vecTableName(collection)), op)
	rows, err := p.db.QueryContext(ctx, q, &v, limit)
	if err != nil {
		return nil, pgWrap("search-vectors", err)
	}
	defer rows.Close()
	var out []VectorMatch
	for rows.Next() {
		var id string
		var vec pgvector.Vector
		var metaRaw []byte
		var score float64
		if err := rows.Scan(&id, &vec, &metaRaw, &score); err != nil {
			return nil, pgWrap("search-vectors-scan", err)
		}
		var metadata map[string]interface{}
		_ = json.Unmarshal(metaRaw, &metadata)
		if !matchesFilter(metadata, opts.Filter) {
			continue
		}
		out = append(out, VectorMatch{Row: VectorRow{ID: id, Vector: vec.Slice(), Metadata: metadata}, Score: score})
	}
	return out, pgWrap("search-vectors-rows", rows.Err())
}

func (p *PostgresProvider) GetVector(ctx context.Context, collection, id string) (*VectorRow, error) {
	if err := validateIdentifier("collection", collection); err != nil {
		return nil, err
	}
	row := p.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT id, vector, metadata FROM %s WHERE id = $1`, p.t(vecTableName(collection))), id)
	var r VectorRow
	var vec pgvector.Vector
	var metaRaw []byte
	if err := row.Scan(&r.ID, &vec, &metaRaw); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, pgWrap("get-vector", err)
	}
	r.Vector = vec.Slice()
	_ = json.Unmarshal(metaRaw, &r.Metadata)
	return &r, nil
}

// --- VectorMemoryOps ---

// SearchByVector applies the composite blend from spec §4.4
// (0.6*vector_sim + 0.2*importance + 0.1*resonance + 0.1*recency) entirely
// in SQL so the ranking never leaves the database.
func (p *PostgresProvider) SearchByVector(ctx context.Context, userID, agentID string, embedding []float32, opts RecallOpts) ([]ScoredMemory, error) {
	if err := p.validateEmbedding(embedding); err != nil {
		return nil, err
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}
	v := pgvector.NewVector(embedding)
	q := fmt.Sprintf(`
		SELECT %s,
			(0.6 * (1 - (embedding <=> $3))
			 + 0.2 * importance
			 + 0.1 * resonance
			 + 0.1 * (1.0 / (1 + GREATEST(0, EXTRACT(EPOCH FROM (now() - last_accessed_at)) / 86400)))) AS score
		FROM %s
		WHERE user_id = $1 AND agent_id = $2 AND embedding IS NOT NULL
		ORDER BY score DESC
		LIMIT $4
	`, memoryColumns, p.t("memories"))
	rows, err := p.db.QueryContext(ctx, q, userID, agentID, &v, limit)
	if err != nil {
		return nil, pgWrap("search-by-vector", err)
	}
	defer rows.Close()
	var out []ScoredMemory
	for rows.Next() {
		var score float64
		m, err := scanMemoryRowWithTrailing(rows, &score)
		if err != nil {
			return nil, pgWrap("search-by-vector-scan", err)
		}
		if !passesTypeFilter(m.Type, opts.FilterTypes) {
			continue
		}
		out = append(out, ScoredMemory{Memory: m, Score: score})
	}
	return out, pgWrap("search-by-vector-rows", rows.Err())
}

func (p *PostgresProvider) FindSimilarMemories(ctx context.Context, userID, agentID, memoryID string, opts RecallOpts) ([]ScoredMemory, error) {
	target, err := p.GetMemoryByID(ctx, userID, memoryID)
	if err != nil {
		return nil, err
	}
	if target == nil {
		return nil, storerrors.ErrNotFound.WithDetail("id", memoryID)
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

// HybridSearch runs the canonical recall operation of spec §4.4 as one SQL
// statement combining to_tsvector/ts_rank and the pgvector cosine operator,
// gated by "text_score > 0 OR (embedding present AND vector_sim > threshold)".
func (p *PostgresProvider) HybridSearch(ctx context.Context, userID, agentID, queryText string, embedding []float32, opts RecallOpts) ([]ScoredMemory, error) {
	if len(embedding) > 0 {
		if err := p.validateEmbedding(embedding); err != nil {
			return nil, err
		}
	}
	if opts.VectorWeight == 0 && opts.TextWeight == 0 {
		opts = DefaultRecallOpts()
	}
	threshold := opts.Threshold
	if threshold == 0 {
		threshold = 0.7
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}
	lang := p.cfg.TextSearchLanguage

	var v pgvector.Vector
	hasEmbedding := len(embedding) > 0
	if hasEmbedding {
		v = pgvector.NewVector(embedding)
	}

	q := fmt.Sprintf(`
		SELECT %s,
			COALESCE(ts_rank(to_tsvector('%s', content), plainto_tsquery('%s', $3)), 0) AS text_score,
			CASE WHEN embedding IS NOT NULL AND $4::boolean THEN 1 - (embedding <=> $5) ELSE 0 END AS vector_sim
		FROM %s
		WHERE user_id = $1 AND agent_id = $2
			AND (
				to_tsvector('%s', content) @@ plainto_tsquery('%s', $3)
				OR (embedding IS NOT NULL AND $4::boolean AND 1 - (embedding <=> $5) > $6)
			)
	`, memoryColumns, lang, lang, p.t("memories"), lang, lang)

	var vecArg interface{}
	if hasEmbedding {
		vecArg = &v
	} else {
		// A zero vector never satisfies the admission gate's > threshold
		// check when embedding IS NOT NULL, so disabling via $4=false is
		// sufficient and avoids a NULL cast error.
		vecArg = nil
	}

	rows, err := p.db.QueryContext(ctx, q, userID, agentID, queryText, hasEmbedding, vecArg, threshold)
	if err != nil {
		return nil, pgWrap("hybrid-search", err)
	}
	defer rows.Close()

	var gated []ScoredMemory
	for rows.Next() {
		var textScore, vectorSim float64
		m, err := scanHybridRow(rows, &textScore, &vectorSim)
		if err != nil {
			return nil, pgWrap("hybrid-search-scan", err)
		}
		if !passesTypeFilter(m.Type, opts.FilterTypes) {
			continue
		}
		gated = append(gated, ScoredMemory{Memory: m, Score: hybridScore(vectorSim, textScore, opts.VectorWeight, opts.TextWeight)})
	}
	if err := rows.Err(); err != nil {
		return nil, pgWrap("hybrid-search-rows", err)
	}

	sortHybridTieBreak(gated)
	if limit > 0 && len(gated) > limit {
		gated = gated[:limit]
	}
	return gated, nil
}

func scanHybridRow(rows *sql.Rows, textScore, vectorSim *float64) (MemoryRecord, error) {
	var m MemoryRecord
	var typ, status string
	var sessionID, embeddingModel sql.NullString
	var tokenCount, customHalfLife, embeddingDim sql.NullInt64
	var keywords, metadata []byte
	var embeddingRaw sql.Null[pgvector.Vector]

	if err := rows.Scan(&m.ID, &m.UserID, &m.AgentID, &typ, &m.Content, &m.Importance, &m.Resonance,
		&m.AccessCount, &m.CreatedAt, &m.UpdatedAt, &m.LastAccessedAt, &sessionID, &tokenCount,
		&keywords, &metadata, &embeddingRaw, &embeddingModel, &embeddingDim,
		&m.NeverDecay, &customHalfLife, &m.Reinforceable, &status, textScore, vectorSim); err != nil {
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

// sortHybridTieBreak orders by score DESC, importance DESC, last_accessed
// DESC, id ASC — the deterministic tie-break spec §4.4 requires.
func sortHybridTieBreak(scored []ScoredMemory) {
	for i := 1; i < len(scored); i++ {
		for j := i; j > 0; j-- {
			a, b := scored[j], scored[j-1]
			if lessHybrid(b, a) {
				scored[j], scored[j-1] = scored[j-1], scored[j]
			} else {
				break
			}
		}
	}
}

func lessHybrid(a, b ScoredMemory) bool {
	if a.Score != b.Score {
		return a.Score < b.Score
	}
	if a.Memory.Importance != b.Memory.Importance {
		return a.Memory.Importance < b.Memory.Importance
	}
	if !a.Memory.LastAccessedAt.Equal(b.Memory.LastAccessedAt) {
		return a.Memory.LastAccessedAt.Before(b.Memory.LastAccessedAt)
	}
	return a.Memory.ID > b.Memory.ID
}

func (p *PostgresProvider) UpdateMemoryEmbedding(ctx context.Context, userID, agentID, id string, embedding []float32, model string) error {
	if err := p.validateEmbedding(embedding); err != nil {
		return err
	}
	v := pgvector.NewVector(embedding)
	res, err := p.db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE %s SET embedding = $1, embedding_model = $2, embedding_dimension = $3, updated_at = now()
		WHERE id = $4 AND user_id = $5 AND agent_id = $6
	`, p.t("memories")), &v, nullString(model), len(embedding), id, userID, agentID)
	if err != nil {
		return pgWrap("update-memory-embedding", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return storerrors.ErrNotFound.WithDetail("id", id)
	}
	return nil
}

func (p *PostgresProvider) GetMemoryEmbedding(ctx context.Context, userID, agentID, id string) ([]float32, bool, error) {
	row := p.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT embedding FROM %s WHERE id = $1 AND user_id = $2 AND agent_id = $3`, p.t("memories")), id, userID, agentID)
	var embeddingRaw sql.Null[pgvector.Vector]
	if err := row.Scan(&embeddingRaw); err == sql.ErrNoRows {
		return nil, false, nil
	} else if err != nil {
		return nil, false, pgWrap("get-memory-embedding", err)
	}
	if !embeddingRaw.Valid {
		return nil, false, nil
	}
	return embeddingRaw.V.Slice(), true, nil
}
