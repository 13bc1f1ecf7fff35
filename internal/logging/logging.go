// Package logging provides category-scoped zap loggers for salespilot.
// Each subsystem logs under a named child logger so log output can be
// filtered per category (index, retrieval, session, capability, store).
package logging

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category identifies a logging subsystem.
type Category string

const (
	CategoryIndex      Category = "index"      // Library loading, index build/rebuild
	CategoryRetrieval  Category = "retrieval"  // Dense/sparse passes, fusion
	CategorySession    Category = "session"    // Coordinator transitions, session lifecycle
	CategoryCapability Category = "capability" // External LLM collaborator calls
	CategoryStore      Category = "store"      // Session persistence
	CategoryConfig     Category = "config"     // Configuration loading
)

var (
	mu      sync.RWMutex
	root    = zap.NewNop()
	loggers = make(map[Category]*zap.Logger)
)

// Init installs the process-wide root logger. debug enables development
// encoding and debug-level output; otherwise the production config is used.
// Safe to call more than once; later calls replace earlier loggers.
func Init(debug bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if debug {
		cfg = zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	SetRoot(logger)
	return logger, nil
}

// SetRoot replaces the root logger. Intended for Init and for tests that
// want to capture output with zaptest observers.
func SetRoot(logger *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	root = logger
	loggers = make(map[Category]*zap.Logger)
}

// Get returns the named logger for a category.
func Get(category Category) *zap.Logger {
	mu.RLock()
	if l, ok := loggers[category]; ok {
		mu.RUnlock()
		return l
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if l, ok := loggers[category]; ok {
		return l
	}
	l := root.Named(string(category))
	loggers[category] = l
	return l
}

// Sync flushes the root logger. Call at shutdown.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	_ = root.Sync()
}
