// Package retrieve implements the hybrid retrieval engine: vector and
// BM25 candidate fetch, filter pushdown, and score fusion (RRF or
// min-max), grounded on the original rag-service's vector+lexical split
// and the orchestrator's hybrid fusion design.
package retrieve

import (
	"context"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"agenticrag/internal/rag/bm25"
	"agenticrag/internal/rag/vectorstore"
)

// VectorSearcher is the subset of vectorstore.Store the hybrid engine
// depends on, narrowed to an interface so tests can substitute a fake
// in place of a live Qdrant collection.
type VectorSearcher interface {
	VectorSearch(ctx context.Context, query string, k int, filter map[string]any) ([]vectorstore.Point, error)
	ScrollPayloads(ctx context.Context, limit int) ([]vectorstore.Point, error)
}

const (
	defaultAlpha      = 0.6
	defaultRRFK       = 60
	defaultMultiplier = 4
	minCandidates     = 20
)

// Hit is one fused retrieval result.
type Hit struct {
	ID          string
	Payload     map[string]any
	VectorScore float64
	BM25Score   float64
	VectorRank  int // 1-based; 0 means absent from the vector candidate list
	BM25Rank    int // 1-based; 0 means absent from the BM25 candidate list
	FusedScore  float64
}

// Options tunes one Search call, defaulting any zero field from the
// Engine's configured defaults.
type Options struct {
	TopK       int
	Filters    map[string]any
	Alpha      float64
	RRFK       int
	VectorMult int
	BM25Mult   int
	Fusion     string // rrf|minmax
}

// Engine fuses a vector store and a BM25 index into one ranked result
// set. The BM25 index is lazily rebuilt from the vector store's payloads
// the first time it's found empty.
type Engine struct {
	vectors     VectorSearcher
	lexical     *bm25.Index
	scrollLimit int

	mu sync.Mutex
}

// New builds a hybrid Engine over an already-open vector store and an
// (initially possibly empty) BM25 index.
func New(vectors VectorSearcher, lexical *bm25.Index, scrollLimit int) *Engine {
	if scrollLimit <= 0 {
		scrollLimit = 5000
	}
	return &Engine{vectors: vectors, lexical: lexical, scrollLimit: scrollLimit}
}

func (e *Engine) ensureLexicalIndex(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lexical.Len() > 0 {
		return nil
	}
	points, err := e.vectors.ScrollPayloads(ctx, e.scrollLimit)
	if err != nil {
		return err
	}
	docs := make([]bm25.Document, 0, len(points))
	for _, p := range points {
		text, _ := p.Payload["text"].(string)
		docs = append(docs, bm25.Document{ID: p.ID, Text: text, Payload: p.Payload})
	}
	e.lexical.Build(docs)
	return nil
}

func applyDefaults(opt *Options) {
	if opt.TopK <= 0 {
		opt.TopK = 5
	}
	if opt.Alpha <= 0 {
		opt.Alpha = defaultAlpha
	}
	if opt.RRFK <= 0 {
		opt.RRFK = defaultRRFK
	}
	if opt.VectorMult <= 0 {
		opt.VectorMult = defaultMultiplier
	}
	if opt.BM25Mult <= 0 {
		opt.BM25Mult = defaultMultiplier
	}
	if opt.Fusion == "" {
		opt.Fusion = "rrf"
	}
}

// splitFilters separates exact-match clauses (pushdown-eligible) from
// prefix/contains clauses, which are evaluated in-process after fetch.
func splitFilters(filters map[string]any) (pushdown, post map[string]any) {
	pushdown = map[string]any{}
	post = map[string]any{}
	for k, v := range filters {
		if strings.HasSuffix(k, "__prefix") || strings.HasSuffix(k, "__contains") {
			post[k] = v
		} else {
			pushdown[k] = v
		}
	}
	return pushdown, post
}

func matchesFilters(payload map[string]any, filters map[string]any) bool {
	for k, v := range filters {
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
			ps, cs := toStr(pv), toStr(cand)
			switch op {
			case "prefix":
				matched = strings.HasPrefix(ps, cs)
			case "contains":
				matched = strings.Contains(ps, cs)
			default:
				matched = ps == cs
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
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// Search runs the hybrid retrieval pipeline and returns up to opt.TopK
// fused hits, descending by fused score, ties broken by id.
func (e *Engine) Search(ctx context.Context, query string, opt Options) ([]Hit, error) {
	applyDefaults(&opt)
	if err := e.ensureLexicalIndex(ctx); err != nil {
		return nil, err
	}

	pushdown, post := splitFilters(opt.Filters)

	vecK := opt.TopK * opt.VectorMult
	if vecK < minCandidates {
		vecK = minCandidates
	}
	bmK := opt.TopK * opt.BM25Mult
	if bmK < minCandidates {
		bmK = minCandidates
	}

	vecHits, bmHits, err := e.parallelCandidates(ctx, query, vecK, bmK, pushdown, opt.Filters)
	if err != nil {
		return nil, err
	}

	merged := map[string]*Hit{}
	for i, h := range vecHits {
		merged[h.ID] = &Hit{ID: h.ID, Payload: h.Payload, VectorScore: h.Score, VectorRank: i + 1}
	}
	for i, r := range bmHits {
		hit, ok := merged[r.ID]
		if !ok {
			hit = &Hit{ID: r.ID, Payload: r.Payload}
			merged[r.ID] = hit
		}
		hit.BM25Score = r.Score
		hit.BM25Rank = i + 1
	}

	out := make([]Hit, 0, len(merged))
	for _, h := range merged {
		if !matchesFilters(h.Payload, post) {
			continue
		}
		out = append(out, *h)
	}

	fuse(out, opt)

	sort.Slice(out, func(i, j int) bool {
		if out[i].FusedScore != out[j].FusedScore {
			return out[i].FusedScore > out[j].FusedScore
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > opt.TopK {
		out = out[:opt.TopK]
	}
	return out, nil
}

// parallelCandidates fetches the vector and BM25 candidate lists
// concurrently via errgroup, since the two backends share no state and a
// slow Qdrant round-trip shouldn't serialize behind the in-process BM25
// scan (or vice versa).
func (e *Engine) parallelCandidates(ctx context.Context, query string, vecK, bmK int, pushdown, filters map[string]any) ([]vectorstore.Point, []bm25.Result, error) {
	var vecHits []vectorstore.Point
	var bmHits []bm25.Result

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		vecHits, err = e.vectors.VectorSearch(gctx, query, vecK, pushdown)
		return err
	})
	g.Go(func() error {
		e.mu.Lock()
		defer e.mu.Unlock()
		bmHits = e.lexical.Search(query, bmK, bm25.Filters(filters))
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return vecHits, bmHits, nil
}

func fuse(hits []Hit, opt Options) {
	switch opt.Fusion {
	case "minmax":
		fuseMinMax(hits, opt.Alpha)
	default:
		fuseRRF(hits, opt.Alpha, opt.RRFK)
	}
}

// fuseRRF implements score(id) = α/(K+rank_v) + (1-α)/(K+rank_b), where a
// rank of 0 (absent from that candidate list) contributes nothing.
func fuseRRF(hits []Hit, alpha float64, k int) {
	for i := range hits {
		var score float64
		if hits[i].VectorRank > 0 {
			score += alpha / float64(k+hits[i].VectorRank)
		}
		if hits[i].BM25Rank > 0 {
			score += (1 - alpha) / float64(k+hits[i].BM25Rank)
		}
		hits[i].FusedScore = score
	}
}

func fuseMinMax(hits []Hit, alpha float64) {
	vecNorm := normalize(extract(hits, func(h Hit) float64 { return h.VectorScore }, func(h Hit) bool { return h.VectorRank > 0 }))
	bmNorm := normalize(extract(hits, func(h Hit) float64 { return h.BM25Score }, func(h Hit) bool { return h.BM25Rank > 0 }))
	for i := range hits {
		var v, b float64
		if hits[i].VectorRank > 0 {
			v = vecNorm[i]
		}
		if hits[i].BM25Rank > 0 {
			b = bmNorm[i]
		}
		hits[i].FusedScore = alpha*v + (1-alpha)*b
	}
}

func extract(hits []Hit, val func(Hit) float64, present func(Hit) bool) []float64 {
	out := make([]float64, len(hits))
	for i, h := range hits {
		if present(h) {
			out[i] = val(h)
		}
	}
	return out
}

// normalize min-max scales values to [0,1] across all entries; extract
// passes an entry absent from that list as 0, so it takes part in the
// min and max. If the range is zero (all equal, or a single value), every entry normalizes
// to zero rather than dividing by zero.
func normalize(values []float64) []float64 {
	if len(values) == 0 {
		return values
	}
	min, max := values[0], values[0]
	for _, v := range values {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	out := make([]float64, len(values))
	rangeV := max - min
	if rangeV == 0 {
		return out
	}
	for i, v := range values {
		out[i] = (v - min) / rangeV
	}
	return out
}

// Snippet truncates text to maxChars, appending "..." when truncated. A
// non-positive maxChars disables truncation.
func Snippet(text string, maxChars int) string {
	if maxChars <= 0 || len(text) <= maxChars {
		return text
	}
	return text[:maxChars] + "..."
}
