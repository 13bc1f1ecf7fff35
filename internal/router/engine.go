// Package router wires the pipeline together: category dispatch, filtered
// hybrid search, slot-filling negotiation, and artifact generation. It is
// the only package that talks to both the core and the external collaborator
// capabilities.
package router

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"salespilot/internal/capability"
	"salespilot/internal/index"
	"salespilot/internal/logging"
	"salespilot/internal/retrieval"
	"salespilot/internal/session"
)

// Engine runs queries through the full routing pipeline.
type Engine struct {
	index       *index.CandidateIndex
	coordinator *session.Coordinator
	sessions    *session.Manager

	categorizer capability.Categorizer
	generator   capability.Generator
	phraser     capability.QuestionPhraser
}

// Deps collects the engine's collaborators.
type Deps struct {
	Index       *index.CandidateIndex
	Retriever   *retrieval.HybridRetriever
	Sessions    *session.Manager
	Categorizer capability.Categorizer
	Generator   capability.Generator
	Phraser     capability.QuestionPhraser
	MaxRounds   int
}

// New assembles an engine.
func New(d Deps) *Engine {
	return &Engine{
		index:       d.Index,
		coordinator: session.NewCoordinator(d.Retriever, d.MaxRounds),
		sessions:    d.Sessions,
		categorizer: d.Categorizer,
		generator:   d.Generator,
		phraser:     d.Phraser,
	}
}

// Sessions exposes the session manager for lifecycle control.
func (e *Engine) Sessions() *session.Manager {
	return e.sessions
}

// Dispatch classifies the query into at most capability.KCategories known
// category labels. Unknown labels from the categorizer are dropped; an empty
// result is legitimate and leads to NOT_FOUND downstream.
func (e *Engine) Dispatch(ctx context.Context, query string) ([]string, error) {
	snap := e.index.Snapshot()
	if snap == nil {
		return nil, fmt.Errorf("index not built")
	}
	lib := snap.Library()

	labels, err := e.categorizer.Categorize(ctx, query, lib.Summary())
	if err != nil {
		return nil, fmt.Errorf("category dispatch failed: %w", err)
	}
	known := capability.FilterKnown(labels, lib, capability.KCategories)
	if len(known) < len(labels) {
		logging.Get(logging.CategoryCapability).Warn("dropped unknown category labels",
			zap.Strings("returned", labels), zap.Strings("kept", known))
	}
	return known, nil
}

// Start creates (or resumes) a session and runs it through dispatch, search,
// and selection. The returned session is in READY, NEGOTIATING, or NOT_FOUND.
func (e *Engine) Start(ctx context.Context, sessionID, query string) (*session.Session, error) {
	categories, err := e.Dispatch(ctx, query)
	if err != nil {
		return nil, err
	}
	return e.StartWithCategories(ctx, sessionID, query, categories)
}

// StartWithCategories is Start for callers that already hold category hints.
func (e *Engine) StartWithCategories(ctx context.Context, sessionID, query string, categories []string) (*session.Session, error) {
	sess, err := e.sessions.Create(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := e.coordinator.Start(ctx, sess, query, categories); err != nil {
		return nil, err
	}
	return sess, nil
}

// ClarifyingQuestion phrases one question covering the session's missing
// variables via the external capability.
func (e *Engine) ClarifyingQuestion(ctx context.Context, sess *session.Session) (string, error) {
	return e.phraser.PhraseClarifyingQuestion(ctx, sess.Missing())
}

// Answer merges user-supplied values into a negotiating session and persists
// the manifest so answers survive eviction.
func (e *Engine) Answer(ctx context.Context, sess *session.Session, updates map[string]string) error {
	if err := e.coordinator.Merge(sess, updates); err != nil {
		return err
	}
	if err := e.sessions.Persist(ctx, sess); err != nil {
		logging.Get(logging.CategoryStore).Warn("manifest persistence failed",
			zap.String("session", sess.ID), zap.Error(err))
	}
	return nil
}

// Generate hands the winning template and manifest snapshot to the external
// generator and completes the session.
func (e *Engine) Generate(ctx context.Context, sess *session.Session) (string, error) {
	winner := sess.Winner()
	_, snapshot, err := e.coordinator.BeginGeneration(sess)
	if err != nil {
		return "", err
	}

	artifact, err := e.generator.Generate(ctx, winner, snapshot)
	if err != nil {
		return "", fmt.Errorf("generation failed: %w", err)
	}
	if err := e.coordinator.CompleteGeneration(sess); err != nil {
		return "", err
	}
	return artifact, nil
}
