package ast

import (
	"fmt"
	"maps"
	"slices"

	"github.com/neurodesk/tmplc/pkg/diag"
)

// Tree is an arena of nodes. Parse trees and ASTs share this representation.
type Tree struct {
	nodes []*Node
	Root  NodeID

	// Template is populated for trees rooted at a Template node.
	Template *TemplateInfo

	scopes       map[NodeID]*Scope
	sanitization map[NodeID]SanitizationState
	origins      map[NodeID]string
}

// New returns an empty tree.
func New() *Tree {
	return &Tree{
		nodes:        []*Node{nil},
		scopes:       map[NodeID]*Scope{},
		sanitization: map[NodeID]SanitizationState{},
		origins:      map[NodeID]string{},
	}
}

// NewTemplate returns a tree whose root is a Template node with an empty main
// function.
func NewTemplate(classname string) *Tree {
	t := New()
	t.Root = t.Add(Node{Kind: KindTemplate, Name: classname, Pos: diag.NoPos})
	t.Template = newTemplateInfo(classname)
	self := t.Add(Node{Kind: KindParameter, Name: "self", Pos: diag.NoPos})
	params := t.Add(Node{Kind: KindParameterList, Children: []NodeID{self}, Pos: diag.NoPos})
	t.Template.Main = t.Add(Node{Kind: KindFunction, Name: "main", Params: params, Pos: diag.NoPos})
	t.nodes[t.Template.Main].Parent = t.Root
	return t
}

// Len is the number of arena slots in use, including detached nodes.
func (t *Tree) Len() int { return len(t.nodes) - 1 }

// Node returns the node for id. Pointers stay valid as the arena grows.
func (t *Tree) Node(id NodeID) *Node {
	if id <= NoNode || int(id) >= len(t.nodes) {
		return nil
	}
	return t.nodes[id]
}

// Kind returns the kind of id, or KindInvalid for the absent node.
func (t *Tree) Kind(id NodeID) Kind {
	if n := t.Node(id); n != nil {
		return n.Kind
	}
	return KindInvalid
}

// Name returns the name payload of id.
func (t *Tree) Name(id NodeID) string {
	if n := t.Node(id); n != nil {
		return n.Name
	}
	return ""
}

// Parent returns the parent of id.
func (t *Tree) Parent(id NodeID) NodeID {
	if n := t.Node(id); n != nil {
		return n.Parent
	}
	return NoNode
}

// Children returns a snapshot of the child list, safe to range over while the
// tree is being edited.
func (t *Tree) Children(id NodeID) []NodeID {
	if n := t.Node(id); n != nil {
		return slices.Clone(n.Children)
	}
	return nil
}

// Add stores n and adopts every node it references. If nodes get an Else arm
// and scope owners get a Scope.
func (t *Tree) Add(n Node) NodeID {
	id := NodeID(len(t.nodes))
	nn := n
	nn.Children = slices.Clone(n.Children)
	t.nodes = append(t.nodes, &nn)
	if nn.Kind == KindIf && nn.Else == NoNode {
		nn.Else = t.Add(Node{Kind: KindElse, Pos: nn.Pos})
	}
	for _, s := range nn.slots() {
		if *s != NoNode {
			t.nodes[*s].Parent = id
		}
	}
	if nn.Else != NoNode {
		t.nodes[nn.Else].Parent = id
	}
	for _, c := range nn.Children {
		t.nodes[c].Parent = id
	}
	if nn.Kind.OwnsScope() {
		t.scopes[id] = NewScope(nn.Kind.String())
	}
	return id
}

// Scope returns the scope owned by id, or nil when id is not a scope owner.
func (t *Tree) Scope(id NodeID) *Scope { return t.scopes[id] }

// Sanitization returns the recorded state for a call node.
func (t *Tree) Sanitization(id NodeID) SanitizationState { return t.sanitization[id] }

// SetSanitization records the state for a call node. Each node is assigned
// exactly once.
func (t *Tree) SetSanitization(id NodeID, s SanitizationState) error {
	if prev, ok := t.sanitization[id]; ok {
		return diag.Internalf(t.Describe(id), "sanitization state already set to %s", prev)
	}
	t.sanitization[id] = s
	return nil
}

// Origin returns the placeholder name a call was resolved from, if any.
func (t *Tree) Origin(id NodeID) string { return t.origins[id] }

// SetOrigin records that id was produced by resolving placeholder name.
func (t *Tree) SetOrigin(id NodeID, name string) { t.origins[id] = name }

// Describe renders a short label for diagnostics.
func (t *Tree) Describe(id NodeID) string {
	n := t.Node(id)
	if n == nil {
		return "<nil>"
	}
	if n.Name != "" {
		return fmt.Sprintf("%s %s", n.Kind, n.Name)
	}
	if n.Value != nil {
		return fmt.Sprintf("%s %v", n.Kind, n.Value)
	}
	return n.Kind.String()
}

// Clone returns an independent snapshot. Node IDs are preserved.
func (t *Tree) Clone() *Tree {
	c := &Tree{
		nodes:        make([]*Node, len(t.nodes)),
		Root:         t.Root,
		scopes:       make(map[NodeID]*Scope, len(t.scopes)),
		sanitization: maps.Clone(t.sanitization),
		origins:      maps.Clone(t.origins),
	}
	for i, n := range t.nodes {
		if n == nil {
			continue
		}
		nn := *n
		nn.Children = slices.Clone(n.Children)
		c.nodes[i] = &nn
	}
	for id, s := range t.scopes {
		c.scopes[id] = s.Clone()
	}
	if t.Template != nil {
		c.Template = t.Template.clone()
	}
	return c
}
