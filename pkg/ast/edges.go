package ast

// Edges returns the sub-nodes of id in code generation order. Template roots
// list their dependency directives, attributes, functions and finally main.
func (t *Tree) Edges(id NodeID) []NodeID {
	n := t.Node(id)
	if n == nil {
		return nil
	}
	var out []NodeID
	if n.Kind == KindTemplate && t.Template != nil && id == t.Root {
		ti := t.Template
		out = append(out, ti.Imports...)
		out = append(out, ti.Froms...)
		out = append(out, ti.Extends...)
		out = append(out, ti.Attrs...)
		out = append(out, n.Children...)
		if ti.Main != NoNode {
			out = append(out, ti.Main)
		}
		return out
	}
	for _, s := range n.slots() {
		if *s != NoNode {
			out = append(out, *s)
		}
	}
	out = append(out, n.Children...)
	if n.Else != NoNode {
		out = append(out, n.Else)
	}
	return out
}

// references reports whether parent points at child through a slot, its
// child list or its else arm.
func (t *Tree) references(parent, child NodeID) bool {
	p := t.Node(parent)
	if p == nil {
		return false
	}
	if p.Else == child {
		return true
	}
	for _, s := range p.slots() {
		if *s == child {
			return true
		}
	}
	for _, c := range p.Children {
		if c == child {
			return true
		}
	}
	if p.Kind == KindTemplate && t.Template != nil && parent == t.Root {
		return t.Template.Main == child
	}
	return false
}

// Ancestors returns the parent chain of id, nearest first.
func (t *Tree) Ancestors(id NodeID) []NodeID {
	var out []NodeID
	for p := t.Parent(id); p != NoNode; p = t.Parent(p) {
		out = append(out, p)
	}
	return out
}
