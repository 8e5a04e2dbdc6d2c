// Package bm25 implements an in-memory Okapi BM25 lexical index used as
// one half of the hybrid retrieval fusion, grounded on the original
// rag-service's bm25.py reference implementation.
package bm25

import (
	"math"
	"regexp"
	"sort"
	"strings"
)

const (
	defaultK1 = 1.5
	defaultB  = 0.75
)

var tokenRe = regexp.MustCompile(`[A-Za-z0-9\x{AC00}-\x{D7A3}]+`)

// Tokenize extracts maximal runs of alphanumerics and Hangul syllables,
// lowercased.
func Tokenize(text string) []string {
	matches := tokenRe.FindAllString(text, -1)
	out := make([]string, len(matches))
	for i, m := range matches {
		out[i] = strings.ToLower(m)
	}
	return out
}

// Document is one unit indexed by BM25: an id, its raw text (tokenized
// internally), and a payload used for post-scoring filtering.
type Document struct {
	ID      string
	Text    string
	Payload map[string]any
}

// Result is one scored hit from Search.
type Result struct {
	ID      string
	Score   float64
	Payload map[string]any
}

// Index is an Okapi BM25 index (k1=1.5, b=0.75 by default).
type Index struct {
	k1, b float64

	docs      []Document
	docTokens [][]string
	docTF     []map[string]int
	df        map[string]int
	avgdl     float64
}

// New constructs an empty index with default k1/b.
func New() *Index {
	return &Index{k1: defaultK1, b: defaultB, df: map[string]int{}}
}

// Len returns the number of indexed documents.
func (idx *Index) Len() int { return len(idx.docs) }

// Build replaces the index contents with docs, rebuilding in place. Index
// does no locking of its own; retrieve.Engine runs Build and Search under
// its mutex.
func (idx *Index) Build(docs []Document) {
	idx.docs = nil
	idx.docTokens = nil
	idx.docTF = nil
	idx.df = map[string]int{}
	idx.avgdl = 0
	for _, d := range docs {
		idx.addDoc(d)
	}
	idx.recomputeStats()
}

func (idx *Index) addDoc(d Document) {
	toks := Tokenize(d.Text)
	tf := map[string]int{}
	for _, t := range toks {
		tf[t]++
	}
	idx.docs = append(idx.docs, d)
	idx.docTokens = append(idx.docTokens, toks)
	idx.docTF = append(idx.docTF, tf)
	for t := range tf {
		idx.df[t]++
	}
}

func (idx *Index) recomputeStats() {
	n := len(idx.docs)
	if n == 0 {
		idx.avgdl = 0
		return
	}
	total := 0
	for _, toks := range idx.docTokens {
		total += len(toks)
	}
	idx.avgdl = float64(total) / float64(n)
}

func (idx *Index) idf(term string) float64 {
	n := float64(len(idx.docs))
	df := float64(idx.df[term])
	return math.Log(1.0 + (n-df+0.5)/(df+0.5))
}

// Filters is the payload-filter map taken from a request's "filters" field:
// bare key = equality, "<field>__prefix" = string prefix,
// "<field>__contains" = substring. A []any value means any-of.
type Filters map[string]any

func (f Filters) match(payload map[string]any) bool {
	for k, v := range f {
		op := "eq"
		field := k
		switch {
		case strings.HasSuffix(k, "__prefix"):
			op = "prefix"
			field = strings.TrimSuffix(k, "__prefix")
		case strings.HasSuffix(k, "__contains"):
			op = "contains"
			field = strings.TrimSuffix(k, "__contains")
		}

		pv, ok := payload[field]
		if !ok || pv == nil {
			return false
		}

		var candidates []any
		if list, ok := v.([]any); ok {
			candidates = list
		} else {
			candidates = []any{v}
		}

		matched := false
		for _, cand := range candidates {
			switch op {
			case "eq":
				matched = pv == cand
			case "prefix":
				matched = strings.HasPrefix(toStr(pv), toStr(cand))
			case "contains":
				matched = strings.Contains(toStr(pv), toStr(cand))
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

type scored struct {
	idx   int
	score float64
}

// Search scores the query against the corpus and returns up to topK
// results, filtered post-scoring by filters. An empty corpus or empty
// tokenized query yields an empty result.
func (idx *Index) Search(query string, topK int, filters Filters) []Result {
	if len(idx.docs) == 0 {
		return nil
	}
	terms := dedupe(Tokenize(query))
	if len(terms) == 0 {
		return nil
	}

	avgdl := idx.avgdl
	if avgdl == 0 {
		avgdl = 1
	}

	var scores []scored
	for i, tf := range idx.docTF {
		dl := len(idx.docTokens[i])
		if dl == 0 {
			dl = 1
		}
		var score float64
		for _, t := range terms {
			f := tf[t]
			if f <= 0 {
				continue
			}
			idfVal := idx.idf(t)
			denom := float64(f) + idx.k1*(1.0-idx.b+idx.b*(float64(dl)/avgdl))
			if denom == 0 {
				denom = 1
			}
			score += idfVal * (float64(f) * (idx.k1 + 1.0) / denom)
		}
		if score > 0 {
			scores = append(scores, scored{idx: i, score: score})
		}
	}

	sort.Slice(scores, func(i, j int) bool { return scores[i].score > scores[j].score })
	if topK > 0 && len(scores) > topK {
		scores = scores[:topK]
	}

	out := make([]Result, 0, len(scores))
	for _, s := range scores {
		d := idx.docs[s.idx]
		if !filters.match(d.Payload) {
			continue
		}
		out = append(out, Result{ID: d.ID, Score: s.score, Payload: d.Payload})
		if topK > 0 && len(out) >= topK {
			break
		}
	}
	return out
}

func dedupe(terms []string) []string {
	seen := make(map[string]struct{}, len(terms))
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
