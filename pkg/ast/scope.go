package ast

import "slices"

// AliasEntry binds an aliased expression to the local name generated for it.
type AliasEntry struct {
	Key   string
	Expr  NodeID
	Alias string
}

// AliasMap is keyed by structural key and remembers insertion order, so
// hoisted declarations come out in first-use order.
type AliasMap struct {
	order   []string
	entries map[string]AliasEntry
}

func NewAliasMap() *AliasMap {
	return &AliasMap{entries: map[string]AliasEntry{}}
}

func (m *AliasMap) Get(key string) (AliasEntry, bool) {
	e, ok := m.entries[key]
	return e, ok
}

// Set stores or overwrites the entry for key.
func (m *AliasMap) Set(key string, expr NodeID, alias string) {
	if _, ok := m.entries[key]; !ok {
		m.order = append(m.order, key)
	}
	m.entries[key] = AliasEntry{Key: key, Expr: expr, Alias: alias}
}

func (m *AliasMap) Delete(key string) {
	if _, ok := m.entries[key]; !ok {
		return
	}
	delete(m.entries, key)
	m.order = slices.DeleteFunc(m.order, func(k string) bool { return k == key })
}

func (m *AliasMap) Len() int { return len(m.order) }

// Entries returns a snapshot in insertion order.
func (m *AliasMap) Entries() []AliasEntry {
	out := make([]AliasEntry, 0, len(m.order))
	for _, k := range m.order {
		out = append(out, m.entries[k])
	}
	return out
}

func (m *AliasMap) Clone() *AliasMap {
	c := NewAliasMap()
	for _, k := range m.order {
		e := m.entries[k]
		c.Set(e.Key, e.Expr, e.Alias)
	}
	return c
}

// Scope is the per-binding-context bookkeeping owned by Function, For, If and
// Else nodes.
type Scope struct {
	Name                    string
	LocalIdentifiers        Set
	Aliases                 *AliasMap
	AliasNames              Set
	HoistedAliases          Set
	PartialLocalIdentifiers Set
	DirtyLocalIdentifiers   Set
}

func NewScope(name string) *Scope {
	return &Scope{
		Name:                    name,
		LocalIdentifiers:        Set{},
		Aliases:                 NewAliasMap(),
		AliasNames:              Set{},
		HoistedAliases:          Set{},
		PartialLocalIdentifiers: Set{},
		DirtyLocalIdentifiers:   Set{},
	}
}

func (s *Scope) Clone() *Scope {
	return &Scope{
		Name:                    s.Name,
		LocalIdentifiers:        s.LocalIdentifiers.Clone(),
		Aliases:                 s.Aliases.Clone(),
		AliasNames:              s.AliasNames.Clone(),
		HoistedAliases:          s.HoistedAliases.Clone(),
		PartialLocalIdentifiers: s.PartialLocalIdentifiers.Clone(),
		DirtyLocalIdentifiers:   s.DirtyLocalIdentifiers.Clone(),
	}
}
