package main

import (
	"context"
	"fmt"

	"salespilot/internal/config"
	"salespilot/internal/embedding"
	"salespilot/internal/index"
	"salespilot/internal/library"
	"salespilot/internal/manifest"
	"salespilot/internal/retrieval"
	"salespilot/internal/session"
	"salespilot/internal/store"
)

// loadLibrary loads the configured prompt library, falling back to the
// embedded sample data when no path is configured.
func loadLibrary(cfg *config.Config) (*library.Library, error) {
	if cfg.Library.PromptsPath != "" {
		return library.Load(cfg.Library.PromptsPath)
	}
	return library.LoadEmbedded()
}

// loadAliases loads the configured alias table or the embedded default.
func loadAliases(cfg *config.Config) (*manifest.AliasTable, error) {
	if cfg.Library.AliasesPath != "" {
		return manifest.LoadAliasTable(cfg.Library.AliasesPath)
	}
	return manifest.DefaultAliasTable(), nil
}

// newEmbeddingEngine builds the dense backend. When the GenAI provider is
// selected without an API key the dense pass is disabled and retrieval runs
// sparse-only, which keeps offline commands usable.
func newEmbeddingEngine(cfg *config.Config) (embedding.Engine, error) {
	if cfg.Embedding.Provider == "genai" && cfg.Embedding.GenAIAPIKey == "" {
		return nil, nil
	}
	return embedding.NewEngine(cfg.Embedding)
}

// buildCore assembles the index, retriever, and session manager shared by
// all commands. The returned cleanup stops the session janitor and closes
// the store.
func buildCore(ctx context.Context, cfg *config.Config, engine embedding.Engine) (*index.CandidateIndex, *retrieval.HybridRetriever, *session.Manager, func(), error) {
	lib, err := loadLibrary(cfg)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	aliases, err := loadAliases(cfg)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	ci := index.New(engine)
	if err := ci.BuildFromLibrary(ctx, lib); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("index build failed: %w", err)
	}

	retriever := retrieval.New(ci, engine, retrieval.Options{
		KDense:  cfg.Retrieval.KDense,
		KSparse: cfg.Retrieval.KSparse,
		KFinal:  cfg.Retrieval.KFinal,
		RRFK:    cfg.Retrieval.RRFK,
	})

	var sessStore session.Store
	var closeStore func()
	if cfg.Session.StorePath != "" {
		st, err := store.Open(cfg.Session.StorePath)
		if err != nil {
			return nil, nil, nil, nil, err
		}
		sessStore = st
		closeStore = func() { _ = st.Close() }
	}

	sessions := session.NewManager(aliases, sessStore, cfg.Session.TTL)
	cleanup := func() {
		sessions.Close()
		if closeStore != nil {
			closeStore()
		}
	}
	return ci, retriever, sessions, cleanup, nil
}
