package ast

import "slices"

// TemplateInfo is the template-level metadata held by the root node.
type TemplateInfo struct {
	Classname string
	Main      NodeID

	Extends []NodeID
	Imports []NodeID
	Froms   []NodeID
	Attrs   []NodeID

	Library                bool
	Implements             bool
	AllowUndeclaredGlobals bool
	LooseResolution        bool
	Baked                  bool
	AllowRaw               bool

	GlobalPlaceholders    Set
	GlobalIdentifiers     Set
	TemplateMethods       Set
	LibraryIdentifiers    Set
	TrustedModules        Set
	LocalScopeIdentifiers Set
	UsedRegistryFunctions Set
	CachedIdentifiers     []NodeID
}

func newTemplateInfo(classname string) *TemplateInfo {
	return &TemplateInfo{
		Classname:             classname,
		GlobalPlaceholders:    Set{},
		GlobalIdentifiers:     Set{},
		TemplateMethods:       Set{},
		LibraryIdentifiers:    Set{},
		TrustedModules:        Set{},
		LocalScopeIdentifiers: Set{},
		UsedRegistryFunctions: Set{},
	}
}

func (ti *TemplateInfo) clone() *TemplateInfo {
	c := *ti
	c.Extends = slices.Clone(ti.Extends)
	c.Imports = slices.Clone(ti.Imports)
	c.Froms = slices.Clone(ti.Froms)
	c.Attrs = slices.Clone(ti.Attrs)
	c.GlobalPlaceholders = ti.GlobalPlaceholders.Clone()
	c.GlobalIdentifiers = ti.GlobalIdentifiers.Clone()
	c.TemplateMethods = ti.TemplateMethods.Clone()
	c.LibraryIdentifiers = ti.LibraryIdentifiers.Clone()
	c.TrustedModules = ti.TrustedModules.Clone()
	c.LocalScopeIdentifiers = ti.LocalScopeIdentifiers.Clone()
	c.UsedRegistryFunctions = ti.UsedRegistryFunctions.Clone()
	c.CachedIdentifiers = slices.Clone(ti.CachedIdentifiers)
	return &c
}

// builtinNames are host-runtime names that never need placeholder resolution.
var builtinNames = NewSet(
	"abs", "all", "any", "bool", "dict", "enumerate", "filter", "float",
	"getattr", "hasattr", "int", "isinstance", "len", "list", "map", "max",
	"min", "range", "repr", "reversed", "round", "set", "sorted", "str",
	"sum", "tuple", "type", "zip", "None", "True", "False",
)

// IsBuiltin reports whether name is a host-runtime builtin.
func IsBuiltin(name string) bool { return builtinNames.Has(name) }

// HasIdentifier reports whether name is bound at template level.
func (t *Tree) HasIdentifier(name string) bool {
	ti := t.Template
	if IsBuiltin(name) || ti.LocalScopeIdentifiers.Has(name) ||
		ti.TemplateMethods.Has(name) || ti.TrustedModules.Has(name) {
		return true
	}
	for _, id := range ti.Attrs {
		if t.nodes[id].Name == name {
			return true
		}
	}
	return false
}
