package ast

import (
	"slices"

	"github.com/neurodesk/tmplc/pkg/diag"
)

// attach makes parent the owner of id. A node still referenced by another
// live parent must be detached first.
func (t *Tree) attach(parent, id NodeID) error {
	n := t.Node(id)
	if n == nil {
		return diag.Internalf(t.Describe(parent), "cannot attach an absent node")
	}
	if n.Parent != NoNode && n.Parent != parent && t.references(n.Parent, id) {
		return diag.Internalf(t.Describe(id), "node is still attached to %s", t.Describe(n.Parent))
	}
	n.Parent = parent
	return nil
}

func (t *Tree) attachAll(parent NodeID, ids []NodeID) ([]NodeID, error) {
	out := make([]NodeID, 0, len(ids))
	for _, id := range ids {
		if id == NoNode {
			continue
		}
		if err := t.attach(parent, id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}

func (t *Tree) detach(parent, id NodeID) {
	if n := t.Node(id); n != nil && n.Parent == parent {
		n.Parent = NoNode
	}
}

// IndexOf returns the position of marker in parent's child list, or -1.
func (t *Tree) IndexOf(parent, marker NodeID) int {
	p := t.Node(parent)
	if p == nil {
		return -1
	}
	return slices.Index(p.Children, marker)
}

// Append adds ids to the end of parent's children.
func (t *Tree) Append(parent NodeID, ids ...NodeID) error {
	ids, err := t.attachAll(parent, ids)
	if err != nil {
		return err
	}
	p := t.nodes[parent]
	p.Children = append(p.Children, ids...)
	return nil
}

// Extend is Append for an already collected sequence.
func (t *Tree) Extend(parent NodeID, ids []NodeID) error {
	return t.Append(parent, ids...)
}

// Prepend adds ids, in order, to the front of parent's children.
func (t *Tree) Prepend(parent NodeID, ids ...NodeID) error {
	ids, err := t.attachAll(parent, ids)
	if err != nil {
		return err
	}
	p := t.nodes[parent]
	p.Children = slices.Insert(p.Children, 0, ids...)
	return nil
}

// SetChildren replaces the whole child list of parent with ids.
func (t *Tree) SetChildren(parent NodeID, ids []NodeID) error {
	p := t.Node(parent)
	if p == nil {
		return diag.Internalf("", "set children on an absent parent")
	}
	for _, c := range p.Children {
		t.detach(parent, c)
	}
	p.Children = nil
	return t.Append(parent, ids...)
}

// InsertBefore places ids immediately before marker in parent's children.
func (t *Tree) InsertBefore(parent, marker NodeID, ids ...NodeID) error {
	idx := t.IndexOf(parent, marker)
	if idx < 0 {
		return diag.Internalf(t.Describe(parent), "insert point %s not found", t.Describe(marker))
	}
	ids, err := t.attachAll(parent, ids)
	if err != nil {
		return err
	}
	p := t.nodes[parent]
	p.Children = slices.Insert(p.Children, idx, ids...)
	return nil
}

// Replace swaps marker for ids. Within the child list any number of nodes may
// take marker's place; a slot takes exactly one, or none to clear it.
func (t *Tree) Replace(parent, marker NodeID, ids ...NodeID) error {
	p := t.Node(parent)
	if p == nil {
		return diag.Internalf(t.Describe(marker), "replace on an absent parent")
	}
	if idx := slices.Index(p.Children, marker); idx >= 0 {
		t.detach(parent, marker)
		ids, err := t.attachAll(parent, ids)
		if err != nil {
			return err
		}
		p.Children = slices.Replace(p.Children, idx, idx+1, ids...)
		return nil
	}
	slot := t.slotOf(parent, marker)
	if slot == nil {
		return diag.Internalf(t.Describe(parent), "replace target %s not found", t.Describe(marker))
	}
	ids = slices.DeleteFunc(slices.Clone(ids), func(id NodeID) bool { return id == NoNode })
	if len(ids) > 1 {
		return diag.Internalf(t.Describe(parent), "slot replacement of %s needs one node, got %d", t.Describe(marker), len(ids))
	}
	t.detach(parent, marker)
	*slot = NoNode
	if len(ids) == 1 {
		if err := t.attach(parent, ids[0]); err != nil {
			return err
		}
		*slot = ids[0]
	}
	return nil
}

// ReplaceWith replaces marker within its current parent.
func (t *Tree) ReplaceWith(marker NodeID, ids ...NodeID) error {
	return t.Replace(t.Parent(marker), marker, ids...)
}

// Remove drops marker from parent.
func (t *Tree) Remove(parent, marker NodeID) error {
	return t.Replace(parent, marker)
}

// SetSlot points a slot of parent at id, detaching the previous occupant.
func (t *Tree) SetSlot(parent NodeID, slot *NodeID, id NodeID) error {
	if *slot != NoNode {
		t.detach(parent, *slot)
	}
	*slot = NoNode
	if id == NoNode {
		return nil
	}
	if err := t.attach(parent, id); err != nil {
		return err
	}
	*slot = id
	return nil
}

func (t *Tree) slotOf(parent, marker NodeID) *NodeID {
	p := t.nodes[parent]
	if p.Else == marker {
		return &p.Else
	}
	for _, s := range p.slots() {
		if *s == marker {
			return s
		}
	}
	if p.Kind == KindTemplate && t.Template != nil && parent == t.Root && t.Template.Main == marker {
		return &t.Template.Main
	}
	return nil
}
