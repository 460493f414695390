// Package retrieval implements the hybrid FTS/vector fan-out across
// the four knowledge tables (doc_implicit, doc_frag, doc_knl, skill),
// scoring every hit by minhash-Jaccard against the query signature and
// merging union-before-truncate.
package retrieval

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/brunobiangulo/aiter/signature"
	"github.com/brunobiangulo/aiter/store"
)

// Method selects the search mode a sub-query runs in.
type Method int

const (
	Fts Method = iota
	Vec
)

const (
	FTSLimit     = 10
	VecLimit     = 10
	FragSurround = 1
)

// hit is an internal scored candidate before merge/truncate.
type hit struct {
	content string
	score   float64
}

// Engine runs hybrid retrieval against a Store's knowledge tables.
type Engine struct {
	store *store.Store
}

// New creates a retrieval Engine over s.
func New(s *store.Store) *Engine {
	return &Engine{store: s}
}

// Retrieve fans out over the three content tables (implicits, frags,
// knls) per sub-query in the union of {question} ∪ related. Every hit
// is scored by minhash-Jaccard between the question's signature and
// the signature of the context-prefixed hit text, so scores stay
// commensurable across tables and methods; the merged set is ranked,
// de-duplicated, and truncated to the method's limit. Skills are
// retrieved separately via RetrieveSkills.
func (e *Engine) Retrieve(ctx context.Context, method Method, question string, relatedQueries []string, deep bool) ([]string, error) {
	qsig, err := e.minhashQuery(question)
	if err != nil {
		return nil, fmt.Errorf("retrieval: hashing question: %w", err)
	}

	queries := unionQueries(question, relatedQueries)
	surround := FragSurround
	if deep {
		surround *= 2
	}
	cache := newDocCtxCache()

	// 3 tables x |sub-queries| tasks, all cheap SQL against the read
	// pool, so the fan-out is unbounded.
	var (
		mu  sync.Mutex
		all []hit
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, q := range queries {
		q := q
		tables := []struct {
			name string
			run  func(context.Context, Method, string) ([]hit, error)
		}{
			{"implicit", func(ctx context.Context, m Method, q string) ([]hit, error) {
				return e.searchImplicits(ctx, m, q, qsig, cache)
			}},
			{"frag", func(ctx context.Context, m Method, q string) ([]hit, error) {
				return e.searchFrags(ctx, m, q, qsig, surround, cache)
			}},
			{"knl", func(ctx context.Context, m Method, q string) ([]hit, error) {
				return e.searchKnls(ctx, m, q, qsig, deep, cache)
			}},
		}
		for _, table := range tables {
			table := table
			g.Go(func() error {
				hits, err := table.run(gctx, method, q)
				if err != nil {
					return fmt.Errorf("retrieval: %s search: %w", table.name, err)
				}
				mu.Lock()
				all = append(all, hits...)
				mu.Unlock()
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	limit := FTSLimit
	if method == Vec {
		limit = VecLimit
	}
	return mergeRank(all, limit), nil
}

// RetrieveSkills performs the vector-mode-only skill lookup used by the
// chat orchestrator's tool-dispatch stage, returning
// the raw rows (name/description/score) rather than formatted strings
// so the caller can build function definitions from them.
func (e *Engine) RetrieveSkills(ctx context.Context, question string, relatedQueries []string) ([]store.RetrievalResult, error) {
	qsig, err := e.minhashQuery(question)
	if err != nil {
		return nil, fmt.Errorf("retrieval: hashing question: %w", err)
	}

	queries := unionQueries(question, relatedQueries)
	seen := map[string]bool{}
	var out []store.RetrievalResult
	for _, q := range queries {
		sig, err := e.minhashQuery(q)
		if err != nil {
			continue
		}
		results, err := e.store.VectorSearch(ctx, store.SkillSearch, sig, VecLimit)
		if err != nil {
			return nil, err
		}
		for _, r := range results {
			if seen[r.ID] {
				continue
			}
			seen[r.ID] = true
			// A skill ranks by its stored trigger signature's Jaccard
			// similarity against the question, not the sub-query that
			// happened to surface it.
			r.Score = signature.Jaccard(signature.Signature(qsig), signature.Signature(r.Signature))
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > VecLimit {
		out = out[:VecLimit]
	}
	return out, nil
}

func (e *Engine) minhashQuery(query string) ([]float32, error) {
	tokens := signature.Tokenize(query)
	return signature.MinHash(tokens, e.store.Dims())
}

// hitScore recomputes a hit's rank: minhash the context-prefixed hit
// text and take its Jaccard similarity against the question's
// signature. ok=false means the text had no hashable tokens and the
// row should be skipped.
func (e *Engine) hitScore(qsig []float32, text string) (float64, bool) {
	sig, err := signature.MinHash(signature.Tokenize(text), e.store.Dims())
	if err != nil {
		return 0, false
	}
	return signature.Jaccard(signature.Signature(qsig), sig), true
}

// runFTS issues the FTS5 search, retrying once with the keyword-extractor
// pre-filter if the first pass returns nothing.
func (e *Engine) runFTS(ctx context.Context, spec ftsTable, query string) ([]store.RetrievalResult, error) {
	results, err := spec(ctx, sanitizeFTSQuery(query), FTSLimit)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		if kw := keywordQuery(query); kw != "" {
			results, err = spec(ctx, kw, FTSLimit)
			if err != nil {
				return nil, err
			}
		}
	}
	return results, nil
}

// ftsTable binds one knowledge table's store.FTSSearch call.
type ftsTable func(ctx context.Context, query string, limit int) ([]store.RetrievalResult, error)

// subQuerySearch runs one sub-query against one table triad: FTS mode
// searches with the keyword retry, Vec mode sketches the sub-query and
// does the ANN lookup (a sub-query with no hashable tokens searches
// nothing).
func (e *Engine) subQuerySearch(ctx context.Context, method Method, spec store.SearchSpec, query string) ([]store.RetrievalResult, error) {
	if method == Fts {
		return e.runFTS(ctx, func(ctx context.Context, q string, limit int) ([]store.RetrievalResult, error) {
			return e.store.FTSSearch(ctx, spec, q, limit)
		}, query)
	}
	sig, err := e.minhashQuery(query)
	if err != nil {
		return nil, nil
	}
	return e.store.VectorSearch(ctx, spec, sig, VecLimit)
}

func (e *Engine) searchImplicits(ctx context.Context, method Method, query string, qsig []float32, cache *docCtxCache) ([]hit, error) {
	results, err := e.subQuerySearch(ctx, method, store.ImplicitSearch, query)
	if err != nil {
		return nil, err
	}

	var out []hit
	for _, r := range results {
		prefix, err := e.docContext(ctx, r.DocID, cache)
		if err != nil {
			return nil, err
		}
		content := formatHit(prefix, r.Content)
		if score, ok := e.hitScore(qsig, content); ok {
			out = append(out, hit{content: content, score: score})
		}
	}
	return out, nil
}

func (e *Engine) searchKnls(ctx context.Context, method Method, query string, qsig []float32, deep bool, cache *docCtxCache) ([]hit, error) {
	results, err := e.subQuerySearch(ctx, method, store.KnlSearch, query)
	if err != nil {
		return nil, err
	}

	var out []hit
	for _, r := range results {
		ref, err := e.store.GetKnlRef(ctx, r.ID)
		if err != nil {
			if err == store.ErrNotFound {
				continue
			}
			return nil, err
		}
		content, docID, err := e.store.ResolveRef(ctx, ref, deep)
		if err != nil {
			if err == store.ErrNotFound {
				continue
			}
			return nil, err
		}
		if strings.TrimSpace(content) == "" {
			// A seg ref without a summary (non-deep) has nothing to
			// contribute yet.
			continue
		}
		prefix, err := e.docContext(ctx, docID, cache)
		if err != nil {
			return nil, err
		}
		// A knl hit carries its trigger question plus the resolved
		// source content.
		text := fmt.Sprintf("**%s** %s %s", prefix, r.Content, content)
		if score, ok := e.hitScore(qsig, text); ok {
			out = append(out, hit{content: text, score: score})
		}
	}
	return out, nil
}

func (e *Engine) searchFrags(ctx context.Context, method Method, query string, qsig []float32, surround int, cache *docCtxCache) ([]hit, error) {
	results, err := e.subQuerySearch(ctx, method, store.FragSearch, query)
	if err != nil {
		return nil, err
	}

	var out []hit
	for _, r := range results {
		prefix, err := e.docContext(ctx, r.DocID, cache)
		if err != nil {
			return nil, err
		}
		// Rank on the hit fragment alone; the surround window only
		// widens the text handed to the LLM.
		score, ok := e.hitScore(qsig, formatHit(prefix, r.Content))
		if !ok {
			continue
		}

		content := r.Content
		window, err := e.store.FragNeighbors(ctx, r.ID, surround)
		if err != nil {
			return nil, err
		}
		if len(window) > 0 {
			parts := make([]string, len(window))
			for i, w := range window {
				parts[i] = w.Content
			}
			content = strings.Join(parts, " ")
		}
		out = append(out, hit{content: formatHit(prefix, content), score: score})
	}
	return out, nil
}

func formatHit(context, content string) string {
	return fmt.Sprintf("**%s** %s", context, content)
}

// docCtxCache memoises doc context prefixes for one Retrieve call,
// shared safely across the fan-out goroutines.
type docCtxCache struct {
	mu sync.Mutex
	m  map[string]string
}

func newDocCtxCache() *docCtxCache {
	return &docCtxCache{m: make(map[string]string)}
}

// docContext resolves a doc's context prefix (title, or filestem if
// title is empty or contained in the filestem), cached per Retrieve call.
func (e *Engine) docContext(ctx context.Context, docID string, cache *docCtxCache) (string, error) {
	cache.mu.Lock()
	if c, ok := cache.m[docID]; ok {
		cache.mu.Unlock()
		return c, nil
	}
	cache.mu.Unlock()
	doc, err := e.store.GetDoc(ctx, docID)
	if err != nil {
		return "", err
	}
	c := contextFor(doc)
	cache.mu.Lock()
	cache.m[docID] = c
	cache.mu.Unlock()
	return c, nil
}

func contextFor(doc *store.Doc) string {
	stem := strings.TrimSuffix(filepath.Base(doc.Path), filepath.Ext(doc.Path))
	title := strings.TrimSpace(doc.Title)
	if title == "" || strings.Contains(strings.ToLower(stem), strings.ToLower(title)) {
		return stem
	}
	return title
}

// mergeRank sorts all candidates by descending score, de-duplicates by
// formatted content, and truncates to limit, so a high-scoring hit
// from any single sub-query survives the cut.
func mergeRank(all []hit, limit int) []string {
	sort.Slice(all, func(i, j int) bool { return all[i].score > all[j].score })
	seen := make(map[string]bool, len(all))
	out := make([]string, 0, limit)
	for _, h := range all {
		if seen[h.content] {
			continue
		}
		seen[h.content] = true
		out = append(out, h.content)
		if len(out) >= limit {
			break
		}
	}
	return out
}
