// Package retrieval ranks a category-filtered candidate set against a query
// using two independent signals: dense cosine similarity over embeddings and
// sparse BM25 over STAR metadata tokens. The two ranked lists are merged with
// Reciprocal Rank Fusion. Identical (query, categories, index-state) inputs
// always produce identical ordered results.
package retrieval

import (
	"context"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"salespilot/internal/embedding"
	"salespilot/internal/index"
	"salespilot/internal/library"
	"salespilot/internal/logging"
)

// Options controls list sizes and the fusion constant.
type Options struct {
	KDense  int // dense list size
	KSparse int // sparse list size
	KFinal  int // fused results returned
	RRFK    int // RRF constant k
}

// DefaultOptions returns the standard retrieval configuration.
func DefaultOptions() Options {
	return Options{
		KDense:  10,
		KSparse: 10,
		KFinal:  3,
		RRFK:    60,
	}
}

// Result is one fused ranking entry. DenseRank and SparseRank are 1-based
// positions in their respective lists; 0 means the record did not appear in
// that list. Record is resolved against the snapshot the search ranked, so
// it stays valid even when the index is rebuilt mid-search.
type Result struct {
	RecordID   string
	Record     *library.PromptRecord
	FusedScore float64
	DenseRank  int
	SparseRank int
}

// HybridRetriever runs the dense and sparse passes over the current index
// snapshot and fuses them deterministically.
type HybridRetriever struct {
	index  *index.CandidateIndex
	engine embedding.Engine
	opts   Options
}

// New creates a retriever. engine may be nil: the dense pass is skipped and
// ranking falls back to the sparse signal alone.
func New(ci *index.CandidateIndex, engine embedding.Engine, opts Options) *HybridRetriever {
	if opts.KDense <= 0 {
		opts.KDense = DefaultOptions().KDense
	}
	if opts.KSparse <= 0 {
		opts.KSparse = DefaultOptions().KSparse
	}
	if opts.KFinal <= 0 {
		opts.KFinal = DefaultOptions().KFinal
	}
	if opts.RRFK <= 0 {
		opts.RRFK = DefaultOptions().RRFK
	}
	return &HybridRetriever{index: ci, engine: engine, opts: opts}
}

// Search ranks candidates in the given categories against the query. An empty
// result means no coverage; that is a normal outcome, never an error.
func (h *HybridRetriever) Search(ctx context.Context, query string, categories []string) ([]Result, error) {
	log := logging.Get(logging.CategoryRetrieval)

	snap := h.index.Snapshot()
	if snap == nil {
		return nil, nil
	}
	candidates := snap.Candidates(categories)
	if len(candidates) == 0 {
		log.Debug("no coverage for categories", zap.Strings("categories", categories))
		return nil, nil
	}

	// The two passes read only immutable snapshot state and have no data
	// dependency on each other, so they run concurrently and join here.
	var denseList, sparseList []string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		denseList, err = h.densePass(gctx, snap, query, candidates)
		return err
	})
	g.Go(func() error {
		sparseList = h.sparsePass(snap, query, candidates)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	fused := h.fuse(denseList, sparseList)
	if len(fused) > h.opts.KFinal {
		fused = fused[:h.opts.KFinal]
	}
	// Resolve records through the snapshot both passes ranked. A concurrent
	// rebuild may have swapped the live index by now; callers must see the
	// records that were actually scored.
	for i := range fused {
		fused[i].Record = snap.Library().Get(fused[i].RecordID)
	}

	log.Debug("hybrid search completed",
		zap.Int("candidates", len(candidates)),
		zap.Int("dense", len(denseList)),
		zap.Int("sparse", len(sparseList)),
		zap.Int("fused", len(fused)))
	return fused, nil
}

// densePass ranks candidates by cosine similarity to the embedded query and
// returns the top KDense record ids. Ties break on id so the ordering is
// stable across runs.
func (h *HybridRetriever) densePass(ctx context.Context, snap *index.Snapshot, query string, candidates []*index.Candidate) ([]string, error) {
	if h.engine == nil {
		return nil, nil
	}

	queryVec, err := h.engine.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	type scored struct {
		id    string
		score float64
	}
	ranked := make([]scored, 0, len(candidates))
	for _, c := range candidates {
		vec := c.DenseVector()
		if len(vec) == 0 {
			continue
		}
		sim, err := embedding.CosineSimilarity(queryVec, vec)
		if err != nil {
			continue
		}
		ranked = append(ranked, scored{id: c.Record.ID, score: sim})
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].id < ranked[j].id
	})
	if len(ranked) > h.opts.KDense {
		ranked = ranked[:h.opts.KDense]
	}

	ids := make([]string, len(ranked))
	for i, s := range ranked {
		ids[i] = s.id
	}
	return ids, nil
}

// sparsePass ranks candidates by BM25 and returns the top KSparse record ids.
// Candidates with zero lexical overlap are excluded rather than ranked last.
func (h *HybridRetriever) sparsePass(snap *index.Snapshot, query string, candidates []*index.Candidate) []string {
	queryTokens := index.Tokenize(query)
	if len(queryTokens) == 0 {
		return nil
	}

	type scored struct {
		id    string
		score float64
	}
	ranked := make([]scored, 0, len(candidates))
	for _, c := range candidates {
		score := snap.SparseScore(queryTokens, c)
		if score <= 0 {
			continue
		}
		ranked = append(ranked, scored{id: c.Record.ID, score: score})
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].id < ranked[j].id
	})
	if len(ranked) > h.opts.KSparse {
		ranked = ranked[:h.opts.KSparse]
	}

	ids := make([]string, len(ranked))
	for i, s := range ranked {
		ids[i] = s.id
	}
	return ids
}

// fuse merges the two ranked lists with Reciprocal Rank Fusion:
// fused(r) = sum over lists containing r of 1/(k + rank). A list that does
// not contain r contributes nothing. Ties break by lower combined rank sum,
// then lexicographically smaller id.
func (h *HybridRetriever) fuse(denseList, sparseList []string) []Result {
	k := float64(h.opts.RRFK)
	byID := make(map[string]*Result)

	for i, id := range denseList {
		r, ok := byID[id]
		if !ok {
			r = &Result{RecordID: id}
			byID[id] = r
		}
		r.DenseRank = i + 1
		r.FusedScore += 1.0 / (k + float64(i+1))
	}
	for i, id := range sparseList {
		r, ok := byID[id]
		if !ok {
			r = &Result{RecordID: id}
			byID[id] = r
		}
		r.SparseRank = i + 1
		r.FusedScore += 1.0 / (k + float64(i+1))
	}

	results := make([]Result, 0, len(byID))
	for _, r := range byID {
		results = append(results, *r)
	}
	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.FusedScore != b.FusedScore {
			return a.FusedScore > b.FusedScore
		}
		if ra, rb := a.DenseRank+a.SparseRank, b.DenseRank+b.SparseRank; ra != rb {
			return ra < rb
		}
		return a.RecordID < b.RecordID
	})
	return results
}
