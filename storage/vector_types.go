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

// Metric is a vector similarity metric.
type Metric string

const (
	MetricCosine    Metric = "cosine"
	MetricEuclidean Metric = "euclidean"
	MetricDot       Metric = "dot"
)

// IndexType is an ANN index family for relational vector columns.
type IndexType string

const (
	IndexIVFFlat IndexType = "ivfflat"
	IndexHNSW    IndexType = "hnsw"
	IndexFlat    IndexType = "flat"
)

// IndexSpec configures the optional ANN index of a VectorCollection.
type IndexSpec struct {
	Type       IndexType
	Parameters map[string]interface{}
}

// VectorCollection is a logical table of (id, vector, metadata) rows.
type VectorCollection struct {
	Name      string
	Dimension int
	Metric    Metric
	Index     *IndexSpec
	CreatedAt time.Time
}

// VectorRow is one row of a collection.
type VectorRow struct {
	ID       string
	Vector   []float32
	Metadata map[string]interface{}
}

// VectorMatch pairs a VectorRow with its similarity score against a query.
type VectorMatch struct {
	Row   VectorRow
	Score float64
}

// VectorSearchOpts configures SearchVectors.
type VectorSearchOpts struct {
	Limit  int
	Filter map[string]interface{}
}

// VectorOps is the optional raw vector-database capability.
type VectorOps interface {
	CreateCollection(ctx context.Context, c VectorCollection) error
	DropCollection(ctx context.Context, name string) error
	CollectionExists(ctx context.Context, name string) (bool, error)
	ListCollections(ctx context.Context) ([]VectorCollection, error)

	InsertVectors(ctx context.Context, collection string, rows []VectorRow) error
	UpdateVectors(ctx context.Context, collection string, rows []VectorRow) error
	UpsertVectors(ctx context.Context, collection string, rows []VectorRow) error
	DeleteVectors(ctx context.Context, collection string, ids []string) (int, error)
	SearchVectors(ctx context.Context, collection string, query []float32, opts VectorSearchOpts) ([]VectorMatch, error)
	GetVector(ctx context.Context, collection, id string) (*VectorRow, error)
}
