// Package vectorstore implements the Vector Store Adapter over Qdrant:
// collection lifecycle, chunk upsert (embedding included), filtered
// similarity search, and the scroll operation that feeds BM25 index
// rebuilds. Grounded on the teacher's qdrant_vector.go, extended with
// the collection-maintenance and bulk-scan operations it lacked.
package vectorstore

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"agenticrag/internal/apperr"
	"agenticrag/internal/rag/chunker"
	"agenticrag/internal/rag/embedder"
)

// payloadIDField stores the caller-supplied chunk id whenever it isn't
// itself a valid UUID, since Qdrant only accepts UUID or positive-integer
// point ids.
const payloadIDField = "_original_id"

const overfetchMultiplier = 4

// Point is one hit from a search or scroll operation.
type Point struct {
	ID      string
	Score   float64
	Payload map[string]any
}

// Store adapts a Qdrant collection to the Retrieval Engine's needs,
// embedding text through the Embedding Gateway on the way in.
type Store struct {
	client     *qdrant.Client
	embed      *embedder.Gateway
	collection string
	dimension  int
	metric     string
}

// New parses dsn (host/port/tls/api_key, same convention as the teacher),
// opens a client, and ensures the collection exists with the configured
// dimension and distance metric.
func New(dsn, collection string, dimension int, metric string, embed *embedder.Gateway) (*Store, error) {
	if collection == "" {
		return nil, apperr.Config("vector collection name must not be empty", fmt.Errorf("collection name is required"))
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, apperr.Config("invalid vector store dsn", err)
	}
	host := parsed.Hostname()
	if host == "" {
		host = "localhost"
	}
	port := parsed.Port()
	if port == "" {
		port = "6334"
	}
	portNum, err := strconv.Atoi(port)
	if err != nil {
		return nil, apperr.Config("invalid vector store port", err)
	}
	cfg := &qdrant.Config{Host: host, Port: portNum}
	if parsed.Scheme == "https" {
		cfg.UseTLS = true
	}
	if apiKey := parsed.Query().Get("api_key"); apiKey != "" {
		cfg.APIKey = apiKey
	}

	client, err := qdrant.NewClient(cfg)
	if err != nil {
		return nil, apperr.Storage("create qdrant client", err)
	}

	s := &Store{
		client:     client,
		embed:      embed,
		collection: collection,
		dimension:  dimension,
		metric:     strings.ToLower(strings.TrimSpace(metric)),
	}
	if err := s.EnsureCollection(context.Background()); err != nil {
		client.Close()
		return nil, err
	}
	return s, nil
}

func distanceFor(metric string) qdrant.Distance {
	switch metric {
	case "l2", "euclidean":
		return qdrant.Distance_Euclid
	case "ip", "dot":
		return qdrant.Distance_Dot
	case "manhattan":
		return qdrant.Distance_Manhattan
	default:
		return qdrant.Distance_Cosine
	}
}

// EnsureCollection creates the collection if missing. If it already
// exists with a reported vector size that disagrees with s.dimension,
// it fails fatally rather than silently mixing dimensions.
func (s *Store) EnsureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return apperr.Storage("check collection existence", err)
	}
	if !exists {
		return s.createCollection(ctx)
	}
	info, err := s.client.GetCollectionInfo(ctx, s.collection)
	if err != nil || info == nil {
		return nil
	}
	if existing := existingDimension(info); existing > 0 && s.dimension > 0 && existing != s.dimension {
		return apperr.New(apperr.KindConfig,
			fmt.Sprintf("collection %q has dimension %d, configured dimension is %d", s.collection, existing, s.dimension),
			apperr.ErrDimensionMismatch)
	}
	return nil
}

func existingDimension(info *qdrant.CollectionInfo) int {
	params := info.GetConfig().GetParams()
	if params == nil {
		return 0
	}
	if vc := params.GetVectorsConfig(); vc != nil {
		if single := vc.GetParams(); single != nil {
			return int(single.GetSize())
		}
	}
	return 0
}

func (s *Store) createCollection(ctx context.Context) error {
	if s.dimension <= 0 {
		return apperr.Config("vector dimension is not configured", fmt.Errorf("dimension must be > 0"))
	}
	err := s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(s.dimension),
			Distance: distanceFor(s.metric),
		}),
	})
	if err != nil {
		return apperr.Storage("create collection", err)
	}
	return nil
}

// Count returns the collection's point count, or 0 if it cannot be read.
func (s *Store) Count(ctx context.Context) int {
	resp, err := s.client.Count(ctx, &qdrant.CountPoints{CollectionName: s.collection})
	if err != nil {
		return 0
	}
	return int(resp)
}

// Recreate drops and recreates the collection. Idempotent: dropping a
// collection that doesn't exist is not treated as an error.
func (s *Store) Recreate(ctx context.Context) error {
	_ = s.client.DeleteCollection(ctx, s.collection)
	return s.createCollection(ctx)
}

// DeleteByFilter removes every point whose payload matches filter
// (exact-match semantics only; the same conditions vector_search pushes
// down to Qdrant).
func (s *Store) DeleteByFilter(ctx context.Context, filter map[string]any) error {
	qf := buildFilter(filter)
	if qf == nil {
		return nil
	}
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{Filter: qf},
		},
	})
	if err != nil {
		return apperr.Storage("delete by filter", err)
	}
	return nil
}

// Upsert embeds each chunk's text and inserts it with a payload of
// {text, source, docset, chunk_index, heading_path}. Re-upserting a
// chunk with the same deterministic id overwrites the existing point.
func (s *Store) Upsert(ctx context.Context, chunks []chunker.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := s.embed.Embed(ctx, texts)
	if err != nil {
		return err
	}

	points := make([]*qdrant.PointStruct, len(chunks))
	for i, c := range chunks {
		pointID := pointUUID(c.ID)
		payload := map[string]any{
			"text":         c.Text,
			"source":       c.SourcePath,
			"docset":       c.Docset,
			"chunk_index":  c.ChunkIndex,
			"heading_path": c.HeadingPath,
		}
		if pointID != c.ID {
			payload[payloadIDField] = c.ID
		}
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(pointID),
			Vectors: qdrant.NewVectorsDense(vectors[i]),
			Payload: qdrant.NewValueMap(payload),
		}
	}
	_, err = s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Points:         points,
	})
	if err != nil {
		return apperr.Storage("upsert chunks", err)
	}
	return nil
}

func pointUUID(id string) string {
	if _, err := uuid.Parse(id); err == nil {
		return id
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(id)).String()
}

// VectorSearch embeds query and returns up to k nearest points. filter
// clauses that are all exact-match are pushed down to Qdrant; a filter
// containing a __prefix/__contains clause is instead applied by
// overfetching and post-filtering in-process, matching the BM25 index's
// filter semantics so both retrieval paths behave the same way.
func (s *Store) VectorSearch(ctx context.Context, query string, k int, filter map[string]any) ([]Point, error) {
	vectors, err := s.embed.Embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	if k <= 0 {
		k = 10
	}
	pushdown := isExactMatchOnly(filter)

	var qf *qdrant.Filter
	limit := uint64(k)
	if pushdown {
		qf = buildFilter(filter)
	} else if len(filter) > 0 {
		limit = uint64(k * overfetchMultiplier)
	}

	hits, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQueryDense(vectors[0]),
		Limit:          &limit,
		Filter:         qf,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, apperr.Storage("vector search", err)
	}

	out := make([]Point, 0, len(hits))
	for _, hit := range hits {
		payload := payloadToMap(hit.GetPayload())
		if !pushdown && !matchesFilter(payload, filter) {
			continue
		}
		out = append(out, Point{
			ID:      resolveID(hit.GetId(), payload),
			Score:   float64(hit.GetScore()),
			Payload: payload,
		})
		if len(out) >= k {
			break
		}
	}
	return out, nil
}

// ScrollPayloads returns the payloads of up to limit points in a single
// scroll request, used to rebuild the BM25 lexical index from the vector
// store's contents.
func (s *Store) ScrollPayloads(ctx context.Context, limit int) ([]Point, error) {
	if limit <= 0 {
		limit = 1000
	}
	lim := uint32(limit)
	points, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: s.collection,
		Limit:          &lim,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, apperr.Storage("scroll payloads", err)
	}
	out := make([]Point, 0, len(points))
	for _, p := range points {
		payload := payloadToMap(p.GetPayload())
		out = append(out, Point{ID: resolveID(p.GetId(), payload), Payload: payload})
	}
	return out, nil
}

// Dimension reports the collection's configured vector size.
func (s *Store) Dimension() int { return s.dimension }

// Close releases the underlying gRPC connection.
func (s *Store) Close() error { return s.client.Close() }

func buildFilter(filter map[string]any) *qdrant.Filter {
	if len(filter) == 0 {
		return nil
	}
	var must []*qdrant.Condition
	for field, v := range filter {
		switch val := v.(type) {
		case []any:
			var should []*qdrant.Condition
			for _, item := range val {
				should = append(should, qdrant.NewMatch(field, toStr(item)))
			}
			if len(should) > 0 {
				must = append(must, &qdrant.Condition{
					ConditionOneOf: &qdrant.Condition_Filter{
						Filter: &qdrant.Filter{Should: should},
					},
				})
			}
		default:
			must = append(must, qdrant.NewMatch(field, toStr(val)))
		}
	}
	if len(must) == 0 {
		return nil
	}
	return &qdrant.Filter{Must: must}
}

func isExactMatchOnly(filter map[string]any) bool {
	for k := range filter {
		if strings.HasSuffix(k, "__prefix") || strings.HasSuffix(k, "__contains") {
			return false
		}
	}
	return true
}

func matchesFilter(payload map[string]any, filter map[string]any) bool {
	for k, v := range filter {
		op := "eq"
		field := k
		switch {
		case strings.HasSuffix(k, "__prefix"):
			op, field = "prefix", strings.TrimSuffix(k, "__prefix")
		case strings.HasSuffix(k, "__contains"):
			op, field = "contains", strings.TrimSuffix(k, "__contains")
		}
		pv, ok := payload[field]
		if !ok {
			return false
		}
		candidates, ok := v.([]any)
		if !ok {
			candidates = []any{v}
		}
		matched := false
		for _, cand := range candidates {
			switch op {
			case "prefix":
				matched = strings.HasPrefix(toStr(pv), toStr(cand))
			case "contains":
				matched = strings.Contains(toStr(pv), toStr(cand))
			default:
				matched = toStr(pv) == toStr(cand)
			}
			if matched {
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

func toStr(v any) string {
	switch t := v.(type) {
	case string:
		return t
	default:
		return fmt.Sprintf("%v", t)
	}
}

func payloadToMap(payload map[string]*qdrant.Value) map[string]any {
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		if v == nil {
			continue
		}
		switch {
		case v.GetStringValue() != "":
			out[k] = v.GetStringValue()
		case v.GetIntegerValue() != 0:
			out[k] = v.GetIntegerValue()
		case v.GetDoubleValue() != 0:
			out[k] = v.GetDoubleValue()
		case v.GetBoolValue():
			out[k] = v.GetBoolValue()
		default:
			out[k] = v.GetStringValue()
		}
	}
	return out
}

func resolveID(id *qdrant.PointId, payload map[string]any) string {
	if original, ok := payload[payloadIDField].(string); ok && original != "" {
		delete(payload, payloadIDField)
		return original
	}
	if id == nil {
		return ""
	}
	if u := id.GetUuid(); u != "" {
		return u
	}
	return id.String()
}
