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
	"math"
	"sort"
	"strings"
	"time"
)

// cosineSimilarity returns 1 - cosine_distance(a, b), i.e. the similarity in
// [-1, 1] (typically [0, 1] for non-negative embedding spaces). Vectors of
// mismatched length are treated as zero similarity; callers are expected to
// have already validated dimension equality before calling this.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// normalizedLexicalRank scores content against query using term-frequency
// overlap normalized to [0, 1]. This mirrors what a tsvector/FTS5 rank
// approximates for the in-process and KV-emulated adapters that have no
// native text index; SQL backends instead delegate this to ts_rank/bm25.
func normalizedLexicalRank(content, query string) float64 {
	qTerms := tokenize(query)
	if len(qTerms) == 0 {
		return 0
	}
	cTerms := tokenize(content)
	if len(cTerms) == 0 {
		return 0
	}
	counts := make(map[string]int, len(cTerms))
	for _, t := range cTerms {
		counts[t]++
	}
	var matched int
	for _, qt := range qTerms {
		if counts[qt] > 0 {
			matched++
		}
	}
	if matched == 0 {
		return 0
	}
	return float64(matched) / float64(len(qTerms))
}

func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	out := fields[:0]
	for _, f := range fields {
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

// hybridRow is the per-memory input to the hybrid scoring gate.
type hybridRow struct {
	Memory        MemoryRecord
	HasEmbedding  bool
	VectorSim     float64
	TextScore     float64
}

// hybridScore combines vector and text similarity per the fixed weights.
func hybridScore(vectorSim, textScore, vectorWeight, textWeight float64) float64 {
	return vectorWeight*vectorSim + textWeight*textScore
}

// recencyScore maps "days since last access" to a (0, 1] score, used by the
// search_by_vector composite blend.
func recencyScore(lastAccessedAt time.Time, now time.Time) float64 {
	days := now.Sub(lastAccessedAt).Hours() / 24
	if days < 0 {
		days = 0
	}
	return 1 / (1 + days)
}

// searchByVectorScore implements the 0.6/0.2/0.1/0.1 composite blend used by
// search_by_vector (spec §4.4), distinct from hybrid_search's vector+text
// blend.
func searchByVectorScore(vectorSim, importance, resonance, recency float64) float64 {
	return 0.6*vectorSim + 0.2*importance + 0.1*resonance + 0.1*recency
}

// rankHybrid applies the row gate, scores, and orders rows per spec §4.4:
// hybrid_score DESC, importance DESC, last_accessed_at DESC, id ASC.
func rankHybrid(rows []hybridRow, opts RecallOpts) []ScoredMemory {
	vw, tw, threshold := opts.VectorWeight, opts.TextWeight, opts.Threshold
	if vw == 0 && tw == 0 {
		vw, tw = 0.7, 0.3
	}
	if threshold == 0 {
		threshold = 0.7
	}

	gated := make([]ScoredMemory, 0, len(rows))
	for _, r := range rows {
		if !passesTypeFilter(r.Memory.Type, opts.FilterTypes) {
			continue
		}
		admit := r.TextScore > 0 || (r.HasEmbedding && r.VectorSim > threshold)
		if !admit {
			continue
		}
		gated = append(gated, ScoredMemory{
			Memory: r.Memory,
			Score:  hybridScore(r.VectorSim, r.TextScore, vw, tw),
		})
	}

	sort.SliceStable(gated, func(i, j int) bool {
		a, b := gated[i], gated[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Memory.Importance != b.Memory.Importance {
			return a.Memory.Importance > b.Memory.Importance
		}
		if !a.Memory.LastAccessedAt.Equal(b.Memory.LastAccessedAt) {
			return a.Memory.LastAccessedAt.After(b.Memory.LastAccessedAt)
		}
		return a.Memory.ID < b.Memory.ID
	})

	if opts.Limit > 0 && len(gated) > opts.Limit {
		gated = gated[:opts.Limit]
	}
	return gated
}

func passesTypeFilter(t MemoryType, filters []MemoryType) bool {
	if len(filters) == 0 {
		return true
	}
	for _, f := range filters {
		if f == t {
			return true
		}
	}
	return false
}
