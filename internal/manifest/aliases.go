// Package manifest tracks what a session already knows: a per-session
// mapping from canonical variable keys to values, plus a shared read-only
// alias table that maps free-form variable spellings onto canonical keys.
package manifest

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"unicode"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"salespilot/internal/logging"
)

// Normalize produces the canonical spelling of a variable name: lowercase,
// punctuation stripped (spaces kept), whitespace collapsed and trimmed.
func Normalize(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// AliasTable maps normalized variable spellings to canonical keys. Loaded
// once, shared read-only across all sessions.
type AliasTable struct {
	Version int
	aliases map[string]string // normalized spelling -> canonical key
	targets map[string]bool   // canonical keys, for exact-over-alias lookup
}

type aliasFile struct {
	Version int `yaml:"version"`

	// Kept as a raw node so entries register in document order; decoding
	// into a Go map would randomize which conflicting alias wins.
	Aliases yaml.Node `yaml:"aliases"`
}

// ParseAliasTable decodes a YAML alias table. When two differently-spelled
// aliases normalize to the same key with conflicting targets, the last
// registration in document order wins and the conflict is logged as a
// data-quality warning.
func ParseAliasTable(data []byte) (*AliasTable, error) {
	var f aliasFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse alias table: %w", err)
	}
	if f.Aliases.Kind != 0 && f.Aliases.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("alias table: aliases must be a mapping")
	}

	log := logging.Get(logging.CategorySession)
	entries := len(f.Aliases.Content) / 2
	t := &AliasTable{
		Version: f.Version,
		aliases: make(map[string]string, entries),
		targets: make(map[string]bool, entries),
	}
	for i := 0; i+1 < len(f.Aliases.Content); i += 2 {
		spelling := f.Aliases.Content[i].Value
		target := f.Aliases.Content[i+1].Value
		norm := Normalize(spelling)
		canon := Normalize(target)
		if norm == "" || canon == "" {
			continue
		}
		if prev, ok := t.aliases[norm]; ok && prev != canon {
			log.Warn("alias conflict, last registration wins",
				zap.String("alias", norm),
				zap.String("previous", prev),
				zap.String("now", canon))
		}
		t.aliases[norm] = canon
		t.targets[canon] = true
	}
	return t, nil
}

// LoadAliasTable reads an alias table from a YAML file.
func LoadAliasTable(path string) (*AliasTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read alias table %s: %w", path, err)
	}
	return ParseAliasTable(data)
}

// defaultAliases is the baked-in alias table.
//
//go:embed data/aliases.yaml
var defaultAliases []byte

// DefaultAliasTable loads the embedded alias table.
func DefaultAliasTable() *AliasTable {
	t, err := ParseAliasTable(defaultAliases)
	if err != nil {
		// The embedded file ships with the binary; a parse failure is a
		// packaging bug, not a runtime condition.
		panic(fmt.Sprintf("embedded alias table is corrupt: %v", err))
	}
	return t
}

// Canonical maps a variable name to its canonical key. An exact canonical
// key wins over an alias entry with the same normalized spelling; unknown
// names canonicalize to their normalized form.
func (t *AliasTable) Canonical(name string) string {
	norm := Normalize(name)
	if t == nil {
		return norm
	}
	if t.targets[norm] {
		return norm
	}
	if target, ok := t.aliases[norm]; ok {
		return target
	}
	return norm
}

// Len returns the number of alias entries.
func (t *AliasTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.aliases)
}
