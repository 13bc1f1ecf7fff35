package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"salespilot/internal/logging"
	"salespilot/internal/manifest"
)

// Store persists session manifests so a session resumed after eviction keeps
// its merged values. Implemented by the SQLite session store.
type Store interface {
	// SaveManifest writes the manifest snapshot for a session id.
	SaveManifest(ctx context.Context, sessionID string, values map[string]string) error

	// LoadManifest returns the stored snapshot, or nil when none exists.
	LoadManifest(ctx context.Context, sessionID string) (map[string]string, error)
}

// Manager owns the live session table. Each session is exclusively owned by
// one caller; the manager only guards the table itself.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session

	aliases *manifest.AliasTable
	store   Store // optional
	ttl     time.Duration

	stop chan struct{}
	done chan struct{}
}

// DefaultTTL is the idle timeout after which a session is evicted.
const DefaultTTL = 30 * time.Minute

// NewManager creates a session manager. store may be nil (no persistence);
// ttl <= 0 selects DefaultTTL. The eviction janitor runs until Close.
func NewManager(aliases *manifest.AliasTable, store Store, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	m := &Manager{
		sessions: make(map[string]*Session),
		aliases:  aliases,
		store:    store,
		ttl:      ttl,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go m.janitor()
	return m
}

// Create allocates a fresh session in SEARCHING. When a persisted manifest
// exists for the id (resumed session), its values are restored.
func (m *Manager) Create(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		id = uuid.NewString()
	}

	man := manifest.New(m.aliases)
	if m.store != nil {
		values, err := m.store.LoadManifest(ctx, id)
		if err != nil {
			return nil, err
		}
		if values != nil {
			man = manifest.Restore(m.aliases, values)
		}
	}

	sess := &Session{
		ID:        id,
		Manifest:  man,
		state:     StateSearching,
		createdAt: time.Now(),
	}
	sess.touch()

	m.mu.Lock()
	m.sessions[id] = sess
	m.mu.Unlock()

	logging.Get(logging.CategorySession).Debug("session created",
		zap.String("session", id), zap.Int("restored_keys", man.Len()))
	return sess, nil
}

// Get returns a live session by id, or nil.
func (m *Manager) Get(id string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[id]
}

// Persist writes a session's manifest through the store, if one is attached.
// Call after merges so already-supplied answers survive eviction.
func (m *Manager) Persist(ctx context.Context, sess *Session) error {
	if m.store == nil {
		return nil
	}
	return m.store.SaveManifest(ctx, sess.ID, sess.Manifest.Snapshot())
}

// Close evicts a session explicitly. Its persisted manifest, if any, stays.
func (m *Manager) CloseSession(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Close stops the eviction janitor. Live sessions are dropped.
func (m *Manager) Close() {
	close(m.stop)
	<-m.done
}

func (m *Manager) janitor() {
	defer close(m.done)
	ticker := time.NewTicker(m.ttl / 4)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.evictIdle()
		}
	}
}

func (m *Manager) evictIdle() {
	cutoff := time.Now().Add(-m.ttl).UnixNano()
	log := logging.Get(logging.CategorySession)

	m.mu.Lock()
	defer m.mu.Unlock()
	for id, sess := range m.sessions {
		if sess.touched.Load() < cutoff {
			delete(m.sessions, id)
			log.Debug("session evicted", zap.String("session", id))
		}
	}
}
