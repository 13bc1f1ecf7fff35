// Package capability defines the external text-generation collaborators the
// core delegates to: category classification, clarifying-question phrasing,
// and final artifact generation. The core treats these as opaque functions;
// timeout and retry policy belong to the caller.
package capability

import (
	"context"

	"salespilot/internal/library"
)

// Categorizer maps a free-text query onto at most KCategories category
// labels from the library catalog. Labels not present in the library are
// dropped downstream, not treated as fatal.
type Categorizer interface {
	Categorize(ctx context.Context, query string, catalog []library.CategorySummary) ([]string, error)
}

// KCategories is the default number of category labels requested from the
// categorizer.
const KCategories = 2

// Generator produces the final artifact from the winning template and a
// read-only manifest snapshot.
type Generator interface {
	Generate(ctx context.Context, record *library.PromptRecord, snapshot map[string]string) (string, error)
}

// QuestionPhraser turns the coordinator's missing-variable list into one
// conversational clarifying question. Invoked by the caller, not the core.
type QuestionPhraser interface {
	PhraseClarifyingQuestion(ctx context.Context, missing []string) (string, error)
}

// CategoryDecision is the structured categorizer response.
type CategoryDecision struct {
	Categories []string `json:"categories"`
	Reasoning  string   `json:"reasoning"`
}

// FilterKnown drops labels that do not exist in the library and truncates to
// limit. Unknown labels are a data-quality condition, not an error.
func FilterKnown(labels []string, lib *library.Library, limit int) []string {
	out := make([]string, 0, limit)
	for _, label := range labels {
		if !lib.HasCategory(label) {
			continue
		}
		out = append(out, label)
		if len(out) == limit {
			break
		}
	}
	return out
}
