package manifest

// Manifest is the per-session mapping from canonical variable keys to known
// values. A value once set is retained until overwritten by a later merge
// with the same canonical key; merges never delete unrelated keys.
//
// A Manifest is owned by exactly one session and is not safe for concurrent
// use; a session's calls are serialized by its caller.
type Manifest struct {
	aliases *AliasTable
	values  map[string]string
}

// New creates an empty manifest bound to a shared alias table. A nil table
// disables aliasing; names then canonicalize to their normalized form only.
func New(aliases *AliasTable) *Manifest {
	return &Manifest{
		aliases: aliases,
		values:  make(map[string]string),
	}
}

// Restore creates a manifest from a previously serialized snapshot.
func Restore(aliases *AliasTable, values map[string]string) *Manifest {
	m := New(aliases)
	for k, v := range values {
		m.values[m.aliases.Canonical(k)] = v
	}
	return m
}

// Resolve looks up a variable name: exact key first, then the normalized
// form, then the alias table. The second return is false when the variable
// is unknown.
func (m *Manifest) Resolve(name string) (string, bool) {
	if v, ok := m.values[name]; ok {
		return v, true
	}
	if v, ok := m.values[Normalize(name)]; ok {
		return v, true
	}
	if v, ok := m.values[m.aliases.Canonical(name)]; ok {
		return v, true
	}
	return "", false
}

// Merge applies updates. Each name is canonicalized (exact canonical key
// wins over an alias spelling) and its value inserted or overwritten.
// Merge is idempotent and never removes keys absent from updates.
func (m *Manifest) Merge(updates map[string]string) {
	for name, value := range updates {
		m.values[m.aliases.Canonical(name)] = value
	}
}

// Missing returns, in original order, the sub-sequence of variables that
// Resolve cannot satisfy. Together with the resolvable variables it
// partitions the input exactly.
func (m *Manifest) Missing(variables []string) []string {
	var missing []string
	for _, v := range variables {
		if _, ok := m.Resolve(v); !ok {
			missing = append(missing, v)
		}
	}
	return missing
}

// Len returns the number of known keys.
func (m *Manifest) Len() int {
	return len(m.values)
}

// Snapshot returns a read-only copy of the manifest values, keyed by
// canonical key. Handed to the external generator and to the session store.
func (m *Manifest) Snapshot() map[string]string {
	out := make(map[string]string, len(m.values))
	for k, v := range m.values {
		out[k] = v
	}
	return out
}
