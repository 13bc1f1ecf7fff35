// Package store persists session manifests in SQLite so negotiation answers
// survive session eviction. The on-disk format is the one the core mandates:
// a flat key->value JSON object keyed by session id.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"salespilot/internal/logging"
)

// SessionStore is a SQLite-backed session.Store implementation.
type SessionStore struct {
	db *sql.DB
}

// Open creates or opens the session database at path. Use ":memory:" for an
// ephemeral store.
func Open(path string) (*SessionStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open session store %s: %w", path, err)
	}
	s := &SessionStore{db: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SessionStore) ensureSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS session_manifests (
			session_id TEXT PRIMARY KEY,
			manifest   TEXT NOT NULL,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create session schema: %w", err)
	}
	return nil
}

// SaveManifest upserts the manifest snapshot for a session id.
func (s *SessionStore) SaveManifest(ctx context.Context, sessionID string, values map[string]string) error {
	payload, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO session_manifests (session_id, manifest, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(session_id) DO UPDATE SET
			manifest = excluded.manifest,
			updated_at = CURRENT_TIMESTAMP
	`, sessionID, string(payload))
	if err != nil {
		return fmt.Errorf("failed to save manifest for %s: %w", sessionID, err)
	}

	logging.Get(logging.CategoryStore).Debug("manifest saved",
		zap.String("session", sessionID), zap.Int("keys", len(values)))
	return nil
}

// LoadManifest returns the stored snapshot for a session id, or nil when the
// session has never been persisted.
func (s *SessionStore) LoadManifest(ctx context.Context, sessionID string) (map[string]string, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT manifest FROM session_manifests WHERE session_id = ?`, sessionID,
	).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load manifest for %s: %w", sessionID, err)
	}

	var values map[string]string
	if err := json.Unmarshal([]byte(payload), &values); err != nil {
		return nil, fmt.Errorf("stored manifest for %s is corrupt: %w", sessionID, err)
	}
	return values, nil
}

// DeleteManifest removes a persisted session.
func (s *SessionStore) DeleteManifest(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM session_manifests WHERE session_id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("failed to delete manifest for %s: %w", sessionID, err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SessionStore) Close() error {
	return s.db.Close()
}
