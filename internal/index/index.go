// Package index builds and serves the candidate index: per-record dense
// (semantic) and sparse (lexical) representations grouped by category.
// Reads are lock-free against an immutable snapshot; Build and Rebuild swap
// in a fully constructed replacement atomically, so concurrent readers see
// either the old index or the new one, never a mix.
package index

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"salespilot/internal/embedding"
	"salespilot/internal/library"
	"salespilot/internal/logging"
)

// Candidate is one indexed record with its search representations.
type Candidate struct {
	Record *library.PromptRecord

	dense  []float32
	sparse sparseDoc
}

// DenseVector returns the candidate's dense representation. Read-only.
func (c *Candidate) DenseVector() []float32 {
	return c.dense
}

// Snapshot is an immutable view of the index produced by one build cycle.
type Snapshot struct {
	lib        *library.Library
	candidates []Candidate
	byCategory map[string][]*Candidate

	// Corpus statistics for BM25.
	docFreq   map[string]int
	avgDocLen float64
	docCount  int
}

// Library returns the library behind this snapshot.
func (s *Snapshot) Library() *library.Library {
	return s.lib
}

// Candidates returns the indexed candidates whose category is in the given
// set. Order is unspecified; retrieval establishes ranking. An empty result
// is a legitimate "no coverage" outcome, not an error.
func (s *Snapshot) Candidates(categories []string) []*Candidate {
	var out []*Candidate
	seen := make(map[string]bool, len(categories))
	for _, cat := range categories {
		if seen[cat] {
			continue
		}
		seen[cat] = true
		out = append(out, s.byCategory[cat]...)
	}
	return out
}

// SparseScore scores a tokenized query against one candidate with BM25.
func (s *Snapshot) SparseScore(queryTokens []string, c *Candidate) float64 {
	return s.bm25(queryTokens, c.sparse)
}

// CandidateIndex owns the current snapshot and rebuilds it when the library
// changes.
type CandidateIndex struct {
	engine  embedding.Engine
	current atomic.Pointer[Snapshot]
}

// New creates an empty index. engine may be nil, in which case candidates
// carry no dense representation and only the sparse pass contributes.
func New(engine embedding.Engine) *CandidateIndex {
	return &CandidateIndex{engine: engine}
}

// Build validates records and constructs the index. The build is atomic: on
// any invalid record the previous snapshot (if any) stays in place and an
// *library.InvalidRecordError is returned.
func (ci *CandidateIndex) Build(ctx context.Context, records []library.PromptRecord) error {
	lib, err := library.New(records)
	if err != nil {
		return err
	}
	return ci.BuildFromLibrary(ctx, lib)
}

// BuildFromLibrary constructs the index over an already-validated library.
func (ci *CandidateIndex) BuildFromLibrary(ctx context.Context, lib *library.Library) error {
	log := logging.Get(logging.CategoryIndex)

	snap := &Snapshot{
		lib:        lib,
		candidates: make([]Candidate, lib.Len()),
		byCategory: make(map[string][]*Candidate),
		docFreq:    make(map[string]int),
	}

	// Dense pass: embed all record search texts in one batch.
	var vectors [][]float32
	if ci.engine != nil && lib.Len() > 0 {
		texts := make([]string, lib.Len())
		for i, rec := range lib.Records() {
			texts[i] = rec.SearchText()
		}
		var err error
		vectors, err = ci.engine.EmbedBatch(ctx, texts)
		if err != nil {
			return fmt.Errorf("failed to embed library: %w", err)
		}
		if len(vectors) != lib.Len() {
			return fmt.Errorf("embedding count mismatch: got %d vectors for %d records", len(vectors), lib.Len())
		}
	}

	// Sparse pass and category grouping.
	var totalLen int
	records := lib.Records()
	for i := range records {
		rec := &records[i]
		cand := &snap.candidates[i]
		cand.Record = rec
		if vectors != nil {
			cand.dense = vectors[i]
		}
		cand.sparse = newSparseDoc(rec.SearchText())
		totalLen += cand.sparse.length
		for term := range cand.sparse.terms {
			snap.docFreq[term]++
		}
		snap.byCategory[rec.Category] = append(snap.byCategory[rec.Category], cand)
	}
	snap.docCount = lib.Len()
	if snap.docCount > 0 {
		snap.avgDocLen = float64(totalLen) / float64(snap.docCount)
	}

	ci.current.Store(snap)
	log.Info("index built",
		zap.Int("records", snap.docCount),
		zap.Int("categories", len(snap.byCategory)),
		zap.Int("vocabulary", len(snap.docFreq)))
	return nil
}

// Rebuild atomically replaces the index with one built from the given
// records. Identical semantics to Build; the name marks intent at call sites
// that refresh a live index.
func (ci *CandidateIndex) Rebuild(ctx context.Context, records []library.PromptRecord) error {
	return ci.Build(ctx, records)
}

// Snapshot returns the current immutable snapshot, or nil before first build.
func (ci *CandidateIndex) Snapshot() *Snapshot {
	return ci.current.Load()
}

// FilterByCategories returns the records whose category is in the given set.
// Returns an empty slice before the first build or when nothing matches.
func (ci *CandidateIndex) FilterByCategories(categories []string) []*library.PromptRecord {
	snap := ci.current.Load()
	if snap == nil {
		return nil
	}
	cands := snap.Candidates(categories)
	out := make([]*library.PromptRecord, len(cands))
	for i, c := range cands {
		out[i] = c.Record
	}
	return out
}
