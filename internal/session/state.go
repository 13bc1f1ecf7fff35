// Package session owns per-session state: the context manifest, the current
// winning record, and the slot-filling coordinator state machine that drives
// the negotiate/regenerate loop. Sessions are isolated; nothing is shared
// between them except the read-only alias table.
package session

import (
	"errors"
	"sync/atomic"
	"time"

	"salespilot/internal/library"
	"salespilot/internal/manifest"
)

// State is a coordinator phase. Phases only move forward, except the
// NEGOTIATING self-loop; there is no automatic re-search once a winner is
// selected.
type State string

const (
	StateSearching   State = "SEARCHING"
	StateSelecting   State = "SELECTING"
	StateNegotiating State = "NEGOTIATING"
	StateReady       State = "READY"
	StateGenerating  State = "GENERATING"
	StateDone        State = "DONE"
	StateNotFound    State = "NOT_FOUND" // terminal; caller should prompt a rephrase
)

// ErrNegotiationExhausted marks a session that hit the negotiation round
// budget without filling every variable. The coordinator escalates such
// sessions to NOT_FOUND.
var ErrNegotiationExhausted = errors.New("negotiation round budget exhausted")

// ErrInvalidTransition is returned when an operation is called in a phase
// that does not allow it.
var ErrInvalidTransition = errors.New("invalid coordinator transition")

// Session is the per-session unit of state. Created on the first query,
// evicted after idle timeout or explicit close. Not safe for concurrent use;
// a session's calls are serialized by its caller.
type Session struct {
	ID       string
	Manifest *manifest.Manifest

	state   State
	winner  *library.PromptRecord
	missing []string
	rounds  int
	err     error

	createdAt time.Time

	// touched holds the unix-nano time of the last session activity. The
	// eviction janitor reads it from its own goroutine, so it is atomic
	// while the rest of the session stays single-owner.
	touched atomic.Int64
}

// State returns the current coordinator phase.
func (s *Session) State() State {
	return s.state
}

// Winner returns the selected record, or nil before selection.
func (s *Session) Winner() *library.PromptRecord {
	return s.winner
}

// Missing returns the outstanding missing-variable list in template order.
// The caller feeds this to the external question-phrasing capability.
func (s *Session) Missing() []string {
	out := make([]string, len(s.missing))
	copy(out, s.missing)
	return out
}

// Rounds returns how many negotiation merges have been applied.
func (s *Session) Rounds() int {
	return s.rounds
}

// Err reports why a session reached NOT_FOUND, when a reason exists
// (ErrNegotiationExhausted). A plain no-coverage NOT_FOUND has a nil Err.
func (s *Session) Err() error {
	return s.err
}

func (s *Session) touch() {
	s.touched.Store(time.Now().UnixNano())
}
