package session

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"salespilot/internal/library"
	"salespilot/internal/logging"
	"salespilot/internal/retrieval"
)

// DefaultMaxRounds bounds the negotiation loop. The loop is otherwise
// unbounded when a user never supplies a requested variable; after this many
// merges with variables still missing the session escalates to NOT_FOUND.
const DefaultMaxRounds = 8

// Coordinator drives the slot-filling state machine:
//
//	SEARCHING -> SELECTING -> {READY | NEGOTIATING} -> GENERATING -> DONE
//
// with terminal NOT_FOUND on no coverage or an exhausted round budget.
type Coordinator struct {
	retriever *retrieval.HybridRetriever
	maxRounds int
}

// NewCoordinator creates a coordinator. maxRounds <= 0 selects
// DefaultMaxRounds.
func NewCoordinator(r *retrieval.HybridRetriever, maxRounds int) *Coordinator {
	if maxRounds <= 0 {
		maxRounds = DefaultMaxRounds
	}
	return &Coordinator{retriever: r, maxRounds: maxRounds}
}

// Start runs SEARCHING and SELECTING for a fresh session: retrieves
// candidates for (query, categories), picks the winner, and lands the session
// in READY, NEGOTIATING, or NOT_FOUND. A session can only be started once.
func (c *Coordinator) Start(ctx context.Context, sess *Session, query string, categories []string) error {
	if sess.state != StateSearching {
		return fmt.Errorf("%w: Start in state %s", ErrInvalidTransition, sess.state)
	}
	log := logging.Get(logging.CategorySession)
	sess.touch()

	results, err := c.retriever.Search(ctx, query, categories)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}
	if len(results) == 0 {
		sess.state = StateNotFound
		log.Info("no matching template", zap.String("session", sess.ID),
			zap.Strings("categories", categories))
		return nil
	}

	sess.state = StateSelecting
	winner := c.selectWinner(sess, results)
	sess.winner = winner
	sess.missing = sess.Manifest.Missing(winner.Variables)

	if len(sess.missing) == 0 {
		sess.state = StateReady
	} else {
		sess.state = StateNegotiating
	}
	log.Info("winner selected",
		zap.String("session", sess.ID),
		zap.String("winner", winner.ID),
		zap.Int("missing", len(sess.missing)),
		zap.String("state", string(sess.state)))
	return nil
}

// selectWinner picks the single winner: highest fused score; among
// equal-score results, fewest currently-missing variables against the
// session manifest; remaining ties keep the retrieval order, which is itself
// deterministic. Records come from the results themselves, which the
// retriever resolved against the snapshot it ranked; a rebuild that swaps
// the live index mid-session cannot invalidate the selection.
func (c *Coordinator) selectWinner(sess *Session, results []retrieval.Result) *library.PromptRecord {
	top := results[0]
	best := top.Record
	bestMissing := len(sess.Manifest.Missing(best.Variables))

	for _, r := range results[1:] {
		if r.FusedScore != top.FusedScore {
			break
		}
		if m := len(sess.Manifest.Missing(r.Record.Variables)); m < bestMissing {
			best, bestMissing = r.Record, m
		}
	}
	return best
}

// Merge applies user-supplied answers during NEGOTIATING, recomputes the
// missing set against the same winner (the winner is never re-selected, to
// avoid oscillation), and re-transitions: empty missing set moves to READY,
// otherwise the session stays in NEGOTIATING until the round budget runs out.
func (c *Coordinator) Merge(sess *Session, updates map[string]string) error {
	if sess.state != StateNegotiating {
		return fmt.Errorf("%w: Merge in state %s", ErrInvalidTransition, sess.state)
	}
	sess.touch()
	sess.Manifest.Merge(updates)
	sess.rounds++
	sess.missing = sess.Manifest.Missing(sess.winner.Variables)

	log := logging.Get(logging.CategorySession)
	if len(sess.missing) == 0 {
		sess.state = StateReady
		log.Info("negotiation complete", zap.String("session", sess.ID),
			zap.Int("rounds", sess.rounds))
		return nil
	}
	if sess.rounds >= c.maxRounds {
		sess.state = StateNotFound
		sess.err = ErrNegotiationExhausted
		log.Warn("negotiation exhausted", zap.String("session", sess.ID),
			zap.Int("rounds", sess.rounds),
			zap.Strings("still_missing", sess.missing))
		return nil
	}
	log.Debug("still negotiating", zap.String("session", sess.ID),
		zap.Int("rounds", sess.rounds), zap.Strings("missing", sess.missing))
	return nil
}

// BeginGeneration moves READY to GENERATING and returns the winning template
// with a read-only manifest snapshot for the external generator.
func (c *Coordinator) BeginGeneration(sess *Session) (template string, snapshot map[string]string, err error) {
	if sess.state != StateReady {
		return "", nil, fmt.Errorf("%w: BeginGeneration in state %s", ErrInvalidTransition, sess.state)
	}
	sess.touch()
	sess.state = StateGenerating
	return sess.winner.Template, sess.Manifest.Snapshot(), nil
}

// CompleteGeneration moves GENERATING to the terminal DONE state.
func (c *Coordinator) CompleteGeneration(sess *Session) error {
	if sess.state != StateGenerating {
		return fmt.Errorf("%w: CompleteGeneration in state %s", ErrInvalidTransition, sess.state)
	}
	sess.touch()
	sess.state = StateDone
	return nil
}
