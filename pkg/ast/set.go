package ast

import (
	"maps"
	"slices"
)

// Set is an unordered collection of identifier names.
type Set map[string]struct{}

// NewSet builds a set holding names.
func NewSet(names ...string) Set {
	s := make(Set, len(names))
	for _, n := range names {
		s[n] = struct{}{}
	}
	return s
}

func (s Set) Add(names ...string) {
	for _, n := range names {
		s[n] = struct{}{}
	}
}

func (s Set) Has(name string) bool {
	_, ok := s[name]
	return ok
}

func (s Set) Remove(name string) { delete(s, name) }

func (s Set) Clone() Set { return maps.Clone(s) }

// Sorted returns the members in lexical order.
func (s Set) Sorted() []string {
	return slices.Sorted(maps.Keys(s))
}

// Update adds every member of other to s.
func (s Set) Update(other Set) {
	for n := range other {
		s[n] = struct{}{}
	}
}

// Intersect returns the members present in both sets.
func (s Set) Intersect(other Set) Set {
	out := Set{}
	for n := range s {
		if other.Has(n) {
			out[n] = struct{}{}
		}
	}
	return out
}

// Difference returns the members of s missing from other.
func (s Set) Difference(other Set) Set {
	out := Set{}
	for n := range s {
		if !other.Has(n) {
			out[n] = struct{}{}
		}
	}
	return out
}

// SymmetricDifference returns the members present in exactly one set.
func (s Set) SymmetricDifference(other Set) Set {
	out := s.Difference(other)
	out.Update(other.Difference(s))
	return out
}

// Union returns a new set holding the members of both.
func (s Set) Union(other Set) Set {
	out := s.Clone()
	if out == nil {
		out = Set{}
	}
	out.Update(other)
	return out
}
