// Package library holds the prompt template library: validated, immutable
// PromptRecords loaded from JSON, plus per-category summaries used by the
// dispatcher. Records are validated on load; a single invalid record rejects
// the whole library.
package library

import (
	"fmt"
	"strings"
)

// STARMetadata describes a template's trigger conditions and effect.
// The Situation and Task fields feed the search representations.
type STARMetadata struct {
	Situation string `json:"S"`
	Task      string `json:"T"`
	Action    string `json:"A"`
	Result    string `json:"R"`
}

// PromptRecord is one pre-authored template. Immutable once loaded.
type PromptRecord struct {
	ID        string       `json:"id"`
	Category  string       `json:"category"`
	TreeLevel int          `json:"tree_level"`
	UseCase   string       `json:"use_case"`
	Template  string       `json:"template"`
	Variables []string     `json:"variables"`
	Metadata  STARMetadata `json:"metadata"`
}

// SearchText builds the text that dense and sparse representations are
// computed from: category plus the Situation and Task metadata.
func (r *PromptRecord) SearchText() string {
	return fmt.Sprintf("Category: %s - Situation: %s - Task: %s",
		r.Category, r.Metadata.Situation, r.Metadata.Task)
}

// Placeholder returns the literal placeholder form of a variable name as it
// must appear in the template body.
func Placeholder(variable string) string {
	return "[" + variable + "]"
}

// InvalidRecordError reports a record that violates a library invariant.
// Fatal to the library load; the previous index state is left untouched.
type InvalidRecordError struct {
	ID   string // offending record id ("" when the id itself is missing)
	Rule string // violated invariant, human readable
}

func (e *InvalidRecordError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("invalid prompt record: %s", e.Rule)
	}
	return fmt.Sprintf("invalid prompt record %s: %s", e.ID, e.Rule)
}

// Validate checks a single record's schema invariants. Duplicate-id checks
// happen at library level since they span records.
func (r *PromptRecord) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return &InvalidRecordError{Rule: "missing id"}
	}
	if strings.TrimSpace(r.Category) == "" {
		return &InvalidRecordError{ID: r.ID, Rule: "missing category"}
	}
	if strings.TrimSpace(r.Template) == "" {
		return &InvalidRecordError{ID: r.ID, Rule: "missing template"}
	}
	for _, v := range r.Variables {
		if strings.TrimSpace(v) == "" {
			return &InvalidRecordError{ID: r.ID, Rule: "empty variable name"}
		}
		if !strings.Contains(r.Template, Placeholder(v)) {
			return &InvalidRecordError{
				ID:   r.ID,
				Rule: fmt.Sprintf("variable %q has no %s placeholder in template", v, Placeholder(v)),
			}
		}
	}
	return nil
}

// normalizeVariables reorders variables by first occurrence in the template
// and collapses duplicates, preserving the declared schema invariant.
func (r *PromptRecord) normalizeVariables() {
	if len(r.Variables) == 0 {
		return
	}
	seen := make(map[string]bool, len(r.Variables))
	uniq := make([]string, 0, len(r.Variables))
	for _, v := range r.Variables {
		if !seen[v] {
			seen[v] = true
			uniq = append(uniq, v)
		}
	}
	// Stable sort by placeholder position. Variables validated to exist in
	// the template, so Index never returns -1 here.
	for i := 1; i < len(uniq); i++ {
		for j := i; j > 0; j-- {
			a := strings.Index(r.Template, Placeholder(uniq[j-1]))
			b := strings.Index(r.Template, Placeholder(uniq[j]))
			if b < a {
				uniq[j-1], uniq[j] = uniq[j], uniq[j-1]
			} else {
				break
			}
		}
	}
	r.Variables = uniq
}
