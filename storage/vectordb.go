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
	"math"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/sage-x-project/memstore/resilience"

	storerrors "github.com/sage-x-project/memstore/pkg/errors"
)

// kvCollection is the name of the private collection QdrantProvider uses to
// emulate plain KV/metadata storage, distinct from any collection a caller
// creates directly through VectorOps.
const kvCollection = "_memstore_kv"

const (
	payloadKey          = "_key"
	payloadNamespace    = "_namespace"
	payloadStorageType  = "_storage_type"
	payloadValue        = "_payload"
	payloadTTLExpiresAt = "_ttl_expires"
	storageTypeKV       = "kv"
)

// QdrantConfig configures the vector-DB-only reference adapter.
type QdrantConfig struct {
	Host   string
	Port   int
	APIKey string
	UseTLS bool

	DefaultNamespace string

	// Dimension sizes the private KV-emulation collection's deterministic
	// unit vectors. It has no bearing on collections created through
	// VectorOps, which carry their own dimension.
	Dimension int

	// Metric is the similarity metric for the private KV-emulation
	// collection. Callers never search it directly, so this mostly
	// affects storage layout, not behavior.
	Metric Metric
}

// DefaultQdrantConfig returns sane defaults for local development.
func DefaultQdrantConfig() *QdrantConfig {
	return &QdrantConfig{
		Host:             "localhost",
		Port:             6334,
		DefaultNamespace: "default",
		Dimension:        128,
		Metric:           MetricCosine,
	}
}

// QdrantProvider is the vector-DB-only reference adapter: it exposes the
// raw VectorOps capability natively, and emulates KV storage per spec.md
// §4.2(d) by hashing the namespaced key to a deterministic point id and a
// deterministic unit vector, storing the JSON payload as point metadata.
// It does not support MemoryOps, VectorMemoryOps, or native lists — a
// dedicated vector database has no lexical index or sequence primitive to
// build those on top of without reinventing one.
type QdrantProvider struct {
	client           *qdrant.Client
	defaultNamespace string
	dimension        int
	metric           Metric
}

var qdrantRetryConfig = &resilience.RetryConfig{
	MaxAttempts: 3,
	Backoff:     resilience.ExponentialBackoff(100*time.Millisecond, 2.0, 2*time.Second),
	ShouldRetry: isTransientGRPCError,
}

// isTransientGRPCError retries only the gRPC codes that indicate a
// connection-level hiccup rather than a semantic failure; a NotFound or
// InvalidArgument from Qdrant is never worth retrying.
func isTransientGRPCError(err error) bool {
	if err == nil {
		return false
	}
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted:
		return true
	default:
		return false
	}
}

// call wraps a single Qdrant round trip with the module's retry policy and
// maps an exhausted retry budget onto the Backend error category.
func (p *QdrantProvider) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if err := resilience.Retry(ctx, qdrantRetryConfig, fn); err != nil {
		return storerrors.ErrBackend.WithDetail("op", op).Wrap(err)
	}
	return nil
}

// NewQdrantProvider dials the Qdrant gRPC endpoint described by cfg. It does
// not itself create the private KV collection; callers should invoke
// Initialize before first use.
func NewQdrantProvider(cfg *QdrantConfig) (*QdrantProvider, error) {
	if cfg == nil {
		cfg = DefaultQdrantConfig()
	}
	if cfg.DefaultNamespace == "" {
		cfg.DefaultNamespace = "default"
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = 128
	}
	if cfg.Metric == "" {
		cfg.Metric = MetricCosine
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: connect: %w", err)
	}

	return &QdrantProvider{
		client:           client,
		defaultNamespace: cfg.DefaultNamespace,
		dimension:        cfg.Dimension,
		metric:           cfg.Metric,
	}, nil
}

func (p *QdrantProvider) Name() string { return "qdrant" }

// Initialize creates the private KV-emulation collection if it does not
// already exist. Idempotent.
func (p *QdrantProvider) Initialize(ctx context.Context) error {
	exists, err := p.client.CollectionExists(ctx, kvCollection)
	if err != nil {
		return storerrors.ErrBackend.WithDetail("op", "collection_exists").Wrap(err)
	}
	if exists {
		return nil
	}
	return p.call(ctx, "create_kv_collection", func(ctx context.Context) error {
		return p.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: kvCollection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(p.dimension),
				Distance: metricToDistance(p.metric),
			}),
		})
	})
}

// Destroy closes the gRPC connection. It does not drop any collection.
func (p *QdrantProvider) Destroy(ctx context.Context) error {
	return p.client.Close()
}

func (p *QdrantProvider) ns(opts Opts) string {
	return opts.namespaceOr(p.defaultNamespace)
}

func metricToDistance(m Metric) qdrant.Distance {
	switch m {
	case MetricEuclidean:
		return qdrant.Distance_Euclid
	case MetricDot:
		return qdrant.Distance_Dot
	default:
		return qdrant.Distance_Cosine
	}
}

// --- KV emulation ---

// pointID hashes the namespaced key into a deterministic UUID so the same
// (namespace, key) always addresses the same point, without a separate
// lookup index.
func pointID(namespace, key string) *qdrant.PointId {
	h, _ := blake2b.New256(nil)
	id := uuid.NewHash(h, uuid.Nil, []byte(namespace+"\x00"+key), 5)
	return qdrant.NewID(id.String())
}

// deterministicUnitVector derives a unit-length vector of the given
// dimension from seed, stable across calls. It exists so pure-KV writes
// still produce a valid point in a collection that requires vectors; no
// caller ever searches against it meaningfully.
func deterministicUnitVector(seed string, dim int) []float32 {
	vec := make([]float32, dim)
	var sumSq float64
	for i := 0; i < dim; i++ {
		h := blake2b.Sum256([]byte(fmt.Sprintf("%s\x00%d", seed, i)))
		v := float32(int16(h[0])<<8|int16(h[1])) - 16384
		vec[i] = v
		sumSq += float64(v) * float64(v)
	}
	if sumSq == 0 {
		vec[0] = 1
		return vec
	}
	norm := float32(1 / math.Sqrt(sumSq))
	for i := range vec {
		vec[i] *= norm
	}
	return vec
}

func ttlExpiresAt(ttlSeconds int) *float64 {
	if ttlSeconds <= 0 {
		return nil
	}
	ms := float64(time.Now().Add(time.Duration(ttlSeconds) * time.Second).UnixMilli())
	return &ms
}

func isExpired(payload map[string]*qdrant.Value) bool {
	v, ok := payload[payloadTTLExpiresAt]
	if !ok || v == nil {
		return false
	}
	expires := v.GetDoubleValue()
	return expires > 0 && float64(time.Now().UnixMilli()) > expires
}

func decodePayloadValue(payload map[string]*qdrant.Value) (interface{}, error) {
	v, ok := payload[payloadValue]
	if !ok || v == nil {
		return nil, nil
	}
	raw := v.GetStringValue()
	var out interface{}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, storerrors.NewSerializationError("decode", err)
	}
	return out, nil
}

func (p *QdrantProvider) buildKVPayload(ns, key string, value interface{}, opts Opts) (map[string]*qdrant.Value, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, storerrors.NewSerializationError("encode", err)
	}
	fields := map[string]interface{}{
		payloadKey:         key,
		payloadNamespace:   ns,
		payloadStorageType: storageTypeKV,
		payloadValue:       string(raw),
	}
	if opts.Metadata != nil {
		fields["_metadata"] = opts.Metadata
	}
	payload := qdrant.NewValueMap(fields)
	if exp := ttlExpiresAt(opts.TTLSeconds); exp != nil {
		payload[payloadTTLExpiresAt] = qdrant.NewValueDouble(*exp)
	}
	return payload, nil
}

func (p *QdrantProvider) Get(ctx context.Context, key string, opts Opts) (interface{}, bool, error) {
	ns := p.ns(opts)
	id := pointID(ns, key)

	var points []*qdrant.RetrievedPoint
	err := p.call(ctx, "get", func(ctx context.Context) error {
		var err error
		points, err = p.client.Get(ctx, &qdrant.GetPoints{
			CollectionName: kvCollection,
			Ids:            []*qdrant.PointId{id},
			WithPayload:    qdrant.NewWithPayload(true),
		})
		return err
	})
	if err != nil {
		return nil, false, err
	}
	if len(points) == 0 {
		return nil, false, nil
	}
	payload := points[0].GetPayload()
	if isExpired(payload) {
		_ = p.deletePoint(ctx, id)
		return nil, false, nil
	}
	value, err := decodePayloadValue(payload)
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (p *QdrantProvider) Set(ctx context.Context, key string, value interface{}, opts Opts) error {
	ns := p.ns(opts)
	payload, err := p.buildKVPayload(ns, key, value, opts)
	if err != nil {
		return err
	}
	id := pointID(ns, key)
	vector := deterministicUnitVector(ns+"\x00"+key, p.dimension)

	return p.call(ctx, "set", func(ctx context.Context) error {
		_, err := p.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: kvCollection,
			Points: []*qdrant.PointStruct{
				{
					Id:      id,
					Vectors: qdrant.NewVectors(vector...),
					Payload: payload,
				},
			},
		})
		return err
	})
}

func (p *QdrantProvider) deletePoint(ctx context.Context, id *qdrant.PointId) error {
	return p.call(ctx, "delete", func(ctx context.Context) error {
		_, err := p.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: kvCollection,
			Points:         qdrant.NewPointsSelectorIDs([]*qdrant.PointId{id}),
		})
		return err
	})
}

func (p *QdrantProvider) Delete(ctx context.Context, key string, opts Opts) (bool, error) {
	existed, err := p.Exists(ctx, key, opts)
	if err != nil {
		return false, err
	}
	if !existed {
		return false, nil
	}
	id := pointID(p.ns(opts), key)
	if err := p.deletePoint(ctx, id); err != nil {
		return false, err
	}
	return true, nil
}

func (p *QdrantProvider) Exists(ctx context.Context, key string, opts Opts) (bool, error) {
	_, ok, err := p.Get(ctx, key, opts)
	return ok, err
}

// scrollKV pages through every live (non-expired) KV point in namespace ns,
// invoking visit for each. Expired points encountered along the way are
// deleted as a side effect, matching spec.md §4.2(d)'s "delete-on-access."
func (p *QdrantProvider) scrollKV(ctx context.Context, ns string, visit func(key string, payload map[string]*qdrant.Value)) error {
	filter := &qdrant.Filter{
		Must: []*qdrant.Condition{
			qdrant.NewMatch(payloadStorageType, storageTypeKV),
		},
	}
	if ns != "" {
		filter.Must = append(filter.Must, qdrant.NewMatch(payloadNamespace, ns))
	}

	var offset *qdrant.PointId
	for {
		var points []*qdrant.RetrievedPoint
		err := p.call(ctx, "scroll", func(ctx context.Context) error {
			var err error
			points, err = p.client.Scroll(ctx, &qdrant.ScrollPoints{
				CollectionName: kvCollection,
				Filter:         filter,
				WithPayload:    qdrant.NewWithPayload(true),
				Offset:         offset,
				Limit:          qdrant.PtrOf(uint32(256)),
			})
			return err
		})
		if err != nil {
			return err
		}
		if len(points) == 0 {
			return nil
		}
		for _, pt := range points {
			payload := pt.GetPayload()
			if isExpired(payload) {
				_ = p.deletePoint(ctx, pt.GetId())
				continue
			}
			key := payload[payloadKey].GetStringValue()
			visit(key, payload)
		}
		offset = points[len(points)-1].GetId()
		if len(points) < 256 {
			return nil
		}
	}
}

func (p *QdrantProvider) List(ctx context.Context, prefix string, opts Opts) ([]string, error) {
	ns := p.ns(opts)
	var out []string
	err := p.scrollKV(ctx, ns, func(key string, _ map[string]*qdrant.Value) {
		if strings.HasPrefix(key, prefix) {
			out = append(out, key)
		}
	})
	return out, err
}

func (p *QdrantProvider) Clear(ctx context.Context, prefix string, opts Opts) (int, error) {
	ns := p.ns(opts)
	scanNS := ns
	if prefix == "" && opts.Namespace == "" {
		scanNS = "" // wipe across every namespace
	}

	var ids []*qdrant.PointId
	err := p.scrollKV(ctx, scanNS, func(key string, payload map[string]*qdrant.Value) {
		if !strings.HasPrefix(key, prefix) {
			return
		}
		keyNS := payload[payloadNamespace].GetStringValue()
		ids = append(ids, pointID(keyNS, key))
	})
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	if err := p.call(ctx, "clear", func(ctx context.Context) error {
		_, err := p.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: kvCollection,
			Points:         qdrant.NewPointsSelectorIDs(ids),
		})
		return err
	}); err != nil {
		return 0, err
	}
	return len(ids), nil
}

// --- BatchOps (emulated per-key; not natively atomic) ---

func (p *QdrantProvider) GetMany(ctx context.Context, keys []string, opts Opts) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(keys))
	for _, k := range keys {
		v, ok, err := p.Get(ctx, k, opts)
		if err != nil {
			return nil, err
		}
		if ok {
			out[k] = v
		}
	}
	return out, nil
}

func (p *QdrantProvider) SetMany(ctx context.Context, values map[string]interface{}, opts Opts) (map[string]error, error) {
	errs := make(map[string]error)
	for k, v := range values {
		if err := p.Set(ctx, k, v, opts); err != nil {
			errs[k] = err
		}
	}
	if len(errs) == 0 {
		return nil, nil
	}
	return errs, nil
}

func (p *QdrantProvider) DeleteMany(ctx context.Context, keys []string, opts Opts) (int, error) {
	n := 0
	for _, k := range keys {
		if ok, _ := p.Delete(ctx, k, opts); ok {
			n++
		}
	}
	return n, nil
}

// --- ListOps: unsupported. A dedicated vector database has no native
// sequence primitive to build an ordered list on top of. ---

func (p *QdrantProvider) GetList(ctx context.Context, key string, start, end int, opts Opts) ([]interface{}, bool, error) {
	return nil, false, storerrors.NewUnsupported(p.Name(), "list")
}

func (p *QdrantProvider) SaveList(ctx context.Context, key string, values []interface{}, opts Opts) error {
	return storerrors.NewUnsupported(p.Name(), "list")
}

func (p *QdrantProvider) DeleteList(ctx context.Context, key string, opts Opts) (bool, error) {
	return false, storerrors.NewUnsupported(p.Name(), "list")
}

// --- capability accessors ---

func (p *QdrantProvider) MemoryOps() (MemoryOps, bool)             { return nil, false }
func (p *QdrantProvider) VectorOps() (VectorOps, bool)             { return p, true }
func (p *QdrantProvider) VectorMemoryOps() (VectorMemoryOps, bool) { return nil, false }

var _ Provider = (*QdrantProvider)(nil)

// --- VectorOps: named collections a caller manages directly, separate
// from the private KV-emulation collection. ---

func (p *QdrantProvider) CreateCollection(ctx context.Context, c VectorCollection) error {
	exists, err := p.client.CollectionExists(ctx, c.Name)
	if err != nil {
		return storerrors.ErrBackend.WithDetail("op", "collection_exists").Wrap(err)
	}
	if exists {
		return nil // idempotent re-creation
	}
	return p.call(ctx, "create_collection", func(ctx context.Context) error {
		return p.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: c.Name,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(c.Dimension),
				Distance: metricToDistance(c.Metric),
			}),
		})
	})
}

func (p *QdrantProvider) DropCollection(ctx context.Context, name string) error {
	return p.call(ctx, "drop_collection", func(ctx context.Context) error {
		return p.client.DeleteCollection(ctx, &qdrant.DeleteCollection{CollectionName: name})
	})
}

func (p *QdrantProvider) CollectionExists(ctx context.Context, name string) (bool, error) {
	exists, err := p.client.CollectionExists(ctx, name)
	if err != nil {
		return false, storerrors.ErrBackend.WithDetail("op", "collection_exists").Wrap(err)
	}
	return exists, nil
}

func (p *QdrantProvider) ListCollections(ctx context.Context) ([]VectorCollection, error) {
	names, err := p.client.ListCollections(ctx)
	if err != nil {
		return nil, storerrors.ErrBackend.WithDetail("op", "list_collections").Wrap(err)
	}
	out := make([]VectorCollection, 0, len(names))
	for _, name := range names {
		if name == kvCollection {
			continue
		}
		info, err := p.client.GetCollectionInfo(ctx, name)
		if err != nil {
			continue
		}
		out = append(out, VectorCollection{
			Name:      name,
			Dimension: int(info.GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize()),
		})
	}
	return out, nil
}

func (p *QdrantProvider) vectorRowsToPoints(rows []VectorRow) ([]*qdrant.PointStruct, error) {
	points := make([]*qdrant.PointStruct, 0, len(rows))
	for _, r := range rows {
		id := r.ID
		if id == "" {
			id = uuid.NewString()
		}
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewID(id),
			Vectors: qdrant.NewVectors(r.Vector...),
			Payload: qdrant.NewValueMap(r.Metadata),
		})
	}
	return points, nil
}

func (p *QdrantProvider) InsertVectors(ctx context.Context, collection string, rows []VectorRow) error {
	points, err := p.vectorRowsToPoints(rows)
	if err != nil {
		return err
	}
	return p.call(ctx, "insert_vectors", func(ctx context.Context) error {
		_, err := p.client.Upsert(ctx, &qdrant.UpsertPoints{CollectionName: collection, Points: points})
		return err
	})
}

func (p *QdrantProvider) UpdateVectors(ctx context.Context, collection string, rows []VectorRow) error {
	return p.InsertVectors(ctx, collection, rows)
}

func (p *QdrantProvider) UpsertVectors(ctx context.Context, collection string, rows []VectorRow) error {
	return p.InsertVectors(ctx, collection, rows)
}

func (p *QdrantProvider) DeleteVectors(ctx context.Context, collection string, ids []string) (int, error) {
	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = qdrant.NewID(id)
	}
	err := p.call(ctx, "delete_vectors", func(ctx context.Context) error {
		_, err := p.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: collection,
			Points:         qdrant.NewPointsSelectorIDs(pointIDs),
		})
		return err
	})
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

func (p *QdrantProvider) SearchVectors(ctx context.Context, collection string, query []float32, opts VectorSearchOpts) ([]VectorMatch, error) {
	limit := uint64(opts.Limit)
	if limit == 0 {
		limit = 10
	}
	req := &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQuery(query...),
		Limit:          qdrant.PtrOf(limit),
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(true),
	}
	if len(opts.Filter) > 0 {
		var conditions []*qdrant.Condition
		for k, v := range opts.Filter {
			conditions = append(conditions, qdrant.NewMatch(k, fmt.Sprintf("%v", v)))
		}
		req.Filter = &qdrant.Filter{Must: conditions}
	}

	var scored []*qdrant.ScoredPoint
	err := p.call(ctx, "search_vectors", func(ctx context.Context) error {
		var err error
		scored, err = p.client.Query(ctx, req)
		return err
	})
	if err != nil {
		return nil, err
	}

	out := make([]VectorMatch, 0, len(scored))
	for _, sp := range scored {
		out = append(out, VectorMatch{
			Row: VectorRow{
				ID:       sp.GetId().GetUuid(),
				Vector:   sp.GetVectors().GetVector().GetData(),
				Metadata: valueMapToMetadata(sp.GetPayload()),
			},
			Score: float64(sp.GetScore()),
		})
	}
	return out, nil
}

func (p *QdrantProvider) GetVector(ctx context.Context, collection, id string) (*VectorRow, error) {
	var points []*qdrant.RetrievedPoint
	err := p.call(ctx, "get_vector", func(ctx context.Context) error {
		var err error
		points, err = p.client.Get(ctx, &qdrant.GetPoints{
			CollectionName: collection,
			Ids:            []*qdrant.PointId{qdrant.NewID(id)},
			WithPayload:    qdrant.NewWithPayload(true),
			WithVectors:    qdrant.NewWithVectors(true),
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(points) == 0 {
		return nil, nil
	}
	return &VectorRow{
		ID:       id,
		Vector:   points[0].GetVectors().GetVector().GetData(),
		Metadata: valueMapToMetadata(points[0].GetPayload()),
	}, nil
}

func valueMapToMetadata(payload map[string]*qdrant.Value) map[string]interface{} {
	if len(payload) == 0 {
		return nil
	}
	out := make(map[string]interface{}, len(payload))
	for k, v := range payload {
		out[k] = qdrantValueToGo(v)
	}
	return out
}

func qdrantValueToGo(v *qdrant.Value) interface{} {
	if v == nil {
		return nil
	}
	switch {
	case v.GetStringValue() != "":
		return v.GetStringValue()
	case v.GetIntegerValue() != 0:
		return v.GetIntegerValue()
	case v.GetDoubleValue() != 0:
		return v.GetDoubleValue()
	case v.GetBoolValue():
		return v.GetBoolValue()
	default:
		return nil
	}
}
