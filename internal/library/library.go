package library

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"go.uber.org/zap"

	"salespilot/internal/logging"
)

// Library is the validated, immutable-after-load prompt template store.
type Library struct {
	records    []PromptRecord
	byID       map[string]*PromptRecord
	categories map[string]bool
}

// New validates records and assembles a Library. The whole load fails on the
// first invalid record; no partial library is ever returned.
func New(records []PromptRecord) (*Library, error) {
	lib := &Library{
		records:    make([]PromptRecord, 0, len(records)),
		byID:       make(map[string]*PromptRecord, len(records)),
		categories: make(map[string]bool),
	}

	for _, rec := range records {
		if err := rec.Validate(); err != nil {
			return nil, err
		}
		if _, dup := lib.byID[rec.ID]; dup {
			return nil, &InvalidRecordError{ID: rec.ID, Rule: "duplicate id"}
		}
		rec.normalizeVariables()
		lib.records = append(lib.records, rec)
		lib.byID[rec.ID] = &lib.records[len(lib.records)-1]
		lib.categories[rec.Category] = true
	}

	logging.Get(logging.CategoryIndex).Info("library loaded",
		zap.Int("records", len(lib.records)),
		zap.Int("categories", len(lib.categories)))
	return lib, nil
}

// Parse decodes a JSON array of PromptRecords and validates it into a Library.
func Parse(data []byte) (*Library, error) {
	var records []PromptRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to parse prompt library: %w", err)
	}
	return New(records)
}

// Load reads and validates a prompt library from a JSON file.
func Load(path string) (*Library, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read prompt library %s: %w", path, err)
	}
	lib, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return lib, nil
}

// Records returns all records. Callers must not mutate the returned slice.
func (l *Library) Records() []PromptRecord {
	return l.records
}

// Len returns the number of records.
func (l *Library) Len() int {
	return len(l.records)
}

// Get returns the record with the given id, or nil.
func (l *Library) Get(id string) *PromptRecord {
	return l.byID[id]
}

// Categories returns the sorted set of categories present in the library.
func (l *Library) Categories() []string {
	cats := make([]string, 0, len(l.categories))
	for c := range l.categories {
		cats = append(cats, c)
	}
	sort.Strings(cats)
	return cats
}

// HasCategory reports whether the category exists in the library.
func (l *Library) HasCategory(category string) bool {
	return l.categories[category]
}

// CategorySummary describes one category for the dispatcher catalog.
type CategorySummary struct {
	Category string   `json:"category"`
	Count    int      `json:"count"`
	UseCases []string `json:"use_cases"`
}

// Summary builds the per-category catalog handed to the external categorizer,
// sorted by category name for stable output.
func (l *Library) Summary() []CategorySummary {
	byCat := make(map[string]*CategorySummary)
	for i := range l.records {
		rec := &l.records[i]
		s, ok := byCat[rec.Category]
		if !ok {
			s = &CategorySummary{Category: rec.Category}
			byCat[rec.Category] = s
		}
		s.Count++
		if rec.UseCase != "" {
			s.UseCases = append(s.UseCases, rec.UseCase)
		}
	}

	out := make([]CategorySummary, 0, len(byCat))
	for _, s := range byCat {
		sort.Strings(s.UseCases)
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Category < out[j].Category })
	return out
}
