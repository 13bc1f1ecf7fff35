package session

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"salespilot/internal/index"
	"salespilot/internal/library"
	"salespilot/internal/manifest"
	"salespilot/internal/retrieval"
)

func rec(id, situation, template string, vars ...string) library.PromptRecord {
	return library.PromptRecord{
		ID:        id,
		Category:  "Objection Handling",
		Template:  template,
		Variables: vars,
		Metadata:  library.STARMetadata{Situation: situation, Task: "respond"},
	}
}

// newCoordinator builds a sparse-only pipeline over the given records, so
// rankings are fully deterministic without an embedding backend.
func newCoordinator(t *testing.T, maxRounds int, records ...library.PromptRecord) *Coordinator {
	t.Helper()
	ci := index.New(nil)
	if err := ci.Build(context.Background(), records); err != nil {
		t.Fatalf("Build() = %v", err)
	}
	r := retrieval.New(ci, nil, retrieval.DefaultOptions())
	return NewCoordinator(r, maxRounds)
}

func newSession(id string) *Session {
	return &Session{
		ID:       id,
		Manifest: manifest.New(nil),
		state:    StateSearching,
	}
}

func TestStartNoCoverage(t *testing.T) {
	c := newCoordinator(t, 0,
		rec("PR-1", "prospect ghosting after pricing", "Hang in there"))
	sess := newSession("s1")

	if err := c.Start(context.Background(), sess, "prospect ghosting", []string{"Nonexistent"}); err != nil {
		t.Fatalf("Start() = %v", err)
	}
	if sess.State() != StateNotFound {
		t.Errorf("state = %s, want %s", sess.State(), StateNotFound)
	}
	if sess.Err() != nil {
		t.Errorf("Err() = %v, want nil for plain no-coverage", sess.Err())
	}
	if sess.Winner() != nil {
		t.Errorf("Winner() = %v, want nil", sess.Winner())
	}
}

func TestStartReadyWhenNoVariablesMissing(t *testing.T) {
	c := newCoordinator(t, 0,
		rec("PR-1", "prospect ghosting after pricing", "Just checking in."))
	sess := newSession("s1")

	if err := c.Start(context.Background(), sess, "prospect ghosting", []string{"Objection Handling"}); err != nil {
		t.Fatalf("Start() = %v", err)
	}
	if sess.State() != StateReady {
		t.Fatalf("state = %s, want %s", sess.State(), StateReady)
	}
	if got := sess.Missing(); len(got) != 0 {
		t.Errorf("Missing() = %v, want empty", got)
	}
}

func TestNegotiateToGeneration(t *testing.T) {
	c := newCoordinator(t, 0,
		rec("PR-1", "prospect ghosting after pricing",
			"Hi [prospect name], about [objection]...", "prospect name", "objection"))
	sess := newSession("s1")

	if err := c.Start(context.Background(), sess, "prospect ghosting", []string{"Objection Handling"}); err != nil {
		t.Fatalf("Start() = %v", err)
	}
	if sess.State() != StateNegotiating {
		t.Fatalf("state = %s, want %s", sess.State(), StateNegotiating)
	}
	want := []string{"prospect name", "objection"}
	if diff := cmp.Diff(want, sess.Missing()); diff != "" {
		t.Fatalf("Missing() mismatch (-want +got):\n%s", diff)
	}

	// Partial answer: still negotiating, only the unanswered variable remains.
	if err := c.Merge(sess, map[string]string{"prospect name": "Dana"}); err != nil {
		t.Fatalf("Merge() = %v", err)
	}
	if sess.State() != StateNegotiating {
		t.Fatalf("state after partial merge = %s, want %s", sess.State(), StateNegotiating)
	}
	if diff := cmp.Diff([]string{"objection"}, sess.Missing()); diff != "" {
		t.Fatalf("Missing() after partial merge (-want +got):\n%s", diff)
	}

	if err := c.Merge(sess, map[string]string{"objection": "price too high"}); err != nil {
		t.Fatalf("Merge() = %v", err)
	}
	if sess.State() != StateReady {
		t.Fatalf("state after full merge = %s, want %s", sess.State(), StateReady)
	}
	if sess.Rounds() != 2 {
		t.Errorf("Rounds() = %d, want 2", sess.Rounds())
	}

	template, snapshot, err := c.BeginGeneration(sess)
	if err != nil {
		t.Fatalf("BeginGeneration() = %v", err)
	}
	if template != sess.Winner().Template {
		t.Errorf("template = %q, want the winner's template", template)
	}
	wantSnap := map[string]string{"prospect name": "Dana", "objection": "price too high"}
	if diff := cmp.Diff(wantSnap, snapshot); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}
	if sess.State() != StateGenerating {
		t.Fatalf("state = %s, want %s", sess.State(), StateGenerating)
	}

	if err := c.CompleteGeneration(sess); err != nil {
		t.Fatalf("CompleteGeneration() = %v", err)
	}
	if sess.State() != StateDone {
		t.Errorf("state = %s, want %s", sess.State(), StateDone)
	}
}

func TestNegotiationExhausted(t *testing.T) {
	c := newCoordinator(t, 3,
		rec("PR-1", "prospect ghosting after pricing",
			"Hi [prospect name]", "prospect name"))
	sess := newSession("s1")

	if err := c.Start(context.Background(), sess, "prospect ghosting", []string{"Objection Handling"}); err != nil {
		t.Fatalf("Start() = %v", err)
	}

	// The user keeps answering with unrelated keys.
	for i := 0; i < 2; i++ {
		if err := c.Merge(sess, map[string]string{"irrelevant": "noise"}); err != nil {
			t.Fatalf("Merge() = %v", err)
		}
		if sess.State() != StateNegotiating {
			t.Fatalf("round %d: state = %s, want %s", i+1, sess.State(), StateNegotiating)
		}
	}
	if err := c.Merge(sess, map[string]string{"irrelevant": "noise"}); err != nil {
		t.Fatalf("Merge() = %v", err)
	}
	if sess.State() != StateNotFound {
		t.Fatalf("state = %s, want %s after round budget", sess.State(), StateNotFound)
	}
	if !errors.Is(sess.Err(), ErrNegotiationExhausted) {
		t.Errorf("Err() = %v, want ErrNegotiationExhausted", sess.Err())
	}
}

func TestWinnerNeverReselected(t *testing.T) {
	// PR-1 outranks PR-2 lexically for the query; after the first selection
	// the winner must stay fixed no matter what is merged.
	c := newCoordinator(t, 0,
		rec("PR-1", "prospect ghosting ghosting after pricing",
			"Hi [prospect name]", "prospect name"),
		rec("PR-2", "prospect went quiet", "No variables here"))
	sess := newSession("s1")

	if err := c.Start(context.Background(), sess, "prospect ghosting", []string{"Objection Handling"}); err != nil {
		t.Fatalf("Start() = %v", err)
	}
	if got := sess.Winner().ID; got != "PR-1" {
		t.Fatalf("winner = %s, want PR-1", got)
	}

	if err := c.Merge(sess, map[string]string{"something else": "value"}); err != nil {
		t.Fatalf("Merge() = %v", err)
	}
	if got := sess.Winner().ID; got != "PR-1" {
		t.Errorf("winner after merge = %s, want PR-1 (no re-selection)", got)
	}
}

// stubEngine returns canned vectors by exact text so dense rankings are
// fully controlled.
type stubEngine struct {
	vectors map[string][]float32
}

func (s *stubEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := s.vectors[text]; ok {
		return v, nil
	}
	return []float32{0, 0, 1}, nil
}

func (s *stubEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, txt := range texts {
		out[i], _ = s.Embed(ctx, txt)
	}
	return out, nil
}

func (s *stubEngine) Dimensions() int { return 3 }
func (s *stubEngine) Name() string    { return "stub" }

func TestSelectWinnerPrefersFewestMissingOnTie(t *testing.T) {
	// PR-1 wins the sparse pass, PR-2 the dense pass, each by one rank, so
	// their fused scores tie exactly. The record whose variables are already
	// satisfied must win the tie even though PR-1 sorts first by id.
	pr1 := rec("PR-1", "prospect ghosting after pricing",
		"Hi [prospect name]", "prospect name")
	pr2 := rec("PR-2", "prospect follow up", "No variables here")

	engine := &stubEngine{vectors: map[string][]float32{
		pr1.SearchText():    {0, 1, 0},
		pr2.SearchText():    {1, 0, 0},
		"prospect ghosting": {1, 0, 0},
	}}
	ci := index.New(engine)
	if err := ci.Build(context.Background(), []library.PromptRecord{pr1, pr2}); err != nil {
		t.Fatalf("Build() = %v", err)
	}
	c := NewCoordinator(retrieval.New(ci, engine, retrieval.DefaultOptions()), 0)
	sess := newSession("s1")

	if err := c.Start(context.Background(), sess, "prospect ghosting", []string{"Objection Handling"}); err != nil {
		t.Fatalf("Start() = %v", err)
	}
	if got := sess.Winner().ID; got != "PR-2" {
		t.Errorf("winner = %s, want PR-2 (zero missing variables)", got)
	}
	if sess.State() != StateReady {
		t.Errorf("state = %s, want %s", sess.State(), StateReady)
	}
}

// Full slot-filling pass over the sample library: the stalled-thread
// rewriter wins, asks for its single paste variable, and one merge makes the
// session READY.
func TestNegotiationOverSampleLibrary(t *testing.T) {
	lib, err := library.LoadEmbedded()
	if err != nil {
		t.Fatalf("LoadEmbedded() = %v", err)
	}
	ci := index.New(nil)
	if err := ci.BuildFromLibrary(context.Background(), lib); err != nil {
		t.Fatalf("BuildFromLibrary() = %v", err)
	}
	c := NewCoordinator(retrieval.New(ci, nil, retrieval.DefaultOptions()), 0)
	sess := newSession("s1")

	if err := c.Start(context.Background(), sess, "rewrite my stalled email thread", []string{"Advanced"}); err != nil {
		t.Fatalf("Start() = %v", err)
	}
	if got := sess.Winner().ID; got != "PR-041" {
		t.Fatalf("winner = %s, want PR-041", got)
	}
	if diff := cmp.Diff([]string{"paste here"}, sess.Missing()); diff != "" {
		t.Fatalf("Missing() mismatch (-want +got):\n%s", diff)
	}
	if sess.State() != StateNegotiating {
		t.Fatalf("state = %s, want %s", sess.State(), StateNegotiating)
	}

	if err := c.Merge(sess, map[string]string{"paste here": "Hi, just circling back..."}); err != nil {
		t.Fatalf("Merge() = %v", err)
	}
	if sess.State() != StateReady {
		t.Errorf("state = %s, want %s", sess.State(), StateReady)
	}
	if got := sess.Missing(); len(got) != 0 {
		t.Errorf("Missing() = %v, want empty", got)
	}
}

// swapEngine rebuilds the index with a replacement library the moment the
// query is embedded, so the live index no longer holds the ranked records by
// the time the winner is picked.
type swapEngine struct {
	ci      *index.CandidateIndex
	next    *library.Library
	swapped bool
}

func (e *swapEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	if !e.swapped {
		e.swapped = true
		if err := e.ci.BuildFromLibrary(ctx, e.next); err != nil {
			return nil, err
		}
	}
	return []float32{1, 0, 0}, nil
}

func (e *swapEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0, 0, 1}
	}
	return out, nil
}

func (e *swapEngine) Dimensions() int { return 3 }
func (e *swapEngine) Name() string    { return "swap-stub" }

// A rebuild racing a search must not disturb selection: the winner comes from
// the snapshot the search ranked, even when the live library no longer
// contains it.
func TestStartSurvivesRebuildDuringSearch(t *testing.T) {
	replacement, err := library.New([]library.PromptRecord{
		rec("PR-NEW", "entirely different content", "Body"),
	})
	if err != nil {
		t.Fatalf("library.New() = %v", err)
	}

	engine := &swapEngine{next: replacement}
	ci := index.New(engine)
	engine.ci = ci
	if err := ci.Build(context.Background(), []library.PromptRecord{
		rec("PR-OLD", "prospect ghosting after pricing",
			"Hi [prospect name]", "prospect name"),
	}); err != nil {
		t.Fatalf("Build() = %v", err)
	}

	c := NewCoordinator(retrieval.New(ci, engine, retrieval.DefaultOptions()), 0)
	sess := newSession("s1")

	if err := c.Start(context.Background(), sess, "prospect ghosting", []string{"Objection Handling"}); err != nil {
		t.Fatalf("Start() = %v", err)
	}
	if got := sess.Winner().ID; got != "PR-OLD" {
		t.Errorf("winner = %s, want PR-OLD from the searched snapshot", got)
	}
	if sess.State() != StateNegotiating {
		t.Errorf("state = %s, want %s", sess.State(), StateNegotiating)
	}
	// The swap did land: the live index only knows the replacement library.
	if ci.Snapshot().Library().Get("PR-OLD") != nil {
		t.Fatal("rebuild did not replace the live library")
	}
}

func TestInvalidTransitions(t *testing.T) {
	c := newCoordinator(t, 0,
		rec("PR-1", "prospect ghosting after pricing", "Hi [prospect name]", "prospect name"))
	sess := newSession("s1")

	if err := c.Start(context.Background(), sess, "prospect ghosting", []string{"Objection Handling"}); err != nil {
		t.Fatalf("Start() = %v", err)
	}

	if err := c.Start(context.Background(), sess, "again", nil); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("second Start() = %v, want ErrInvalidTransition", err)
	}
	if _, _, err := c.BeginGeneration(sess); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("BeginGeneration in NEGOTIATING = %v, want ErrInvalidTransition", err)
	}
	if err := c.CompleteGeneration(sess); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("CompleteGeneration in NEGOTIATING = %v, want ErrInvalidTransition", err)
	}

	if err := c.Merge(sess, map[string]string{"prospect name": "Dana"}); err != nil {
		t.Fatalf("Merge() = %v", err)
	}
	if err := c.Merge(sess, map[string]string{"x": "y"}); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Merge in READY = %v, want ErrInvalidTransition", err)
	}
}
