package ast

// CopyMode selects between shallow and deep node copies.
type CopyMode int

const (
	// Shallow creates a new node that shares its sub-node IDs.
	Shallow CopyMode = iota
	// Deep copies the whole subtree.
	Deep
)

// Copy duplicates id inside t. The copy is detached.
func (t *Tree) Copy(id NodeID, mode CopyMode) NodeID {
	if mode == Deep {
		return t.Import(t, id)
	}
	n := t.Node(id)
	if n == nil {
		return NoNode
	}
	nn := *n
	nn.Parent = NoNode
	cid := NodeID(len(t.nodes))
	nn.Children = append([]NodeID(nil), n.Children...)
	t.nodes = append(t.nodes, &nn)
	if s := t.scopes[id]; s != nil {
		t.scopes[cid] = s.Clone()
	}
	if s, ok := t.sanitization[id]; ok {
		t.sanitization[cid] = s
	}
	return cid
}

// Import deep-copies the subtree at id of src into t and returns the new root.
// src may be t itself.
func (t *Tree) Import(src *Tree, id NodeID) NodeID {
	n := src.Node(id)
	if n == nil {
		return NoNode
	}
	nn := *n
	nn.Parent = NoNode
	nn.Children = make([]NodeID, 0, len(n.Children))
	for _, c := range n.Children {
		nn.Children = append(nn.Children, t.Import(src, c))
	}
	slots := nn.slots()
	for i, s := range n.slots() {
		*slots[i] = t.Import(src, *s)
	}
	nn.Else = t.Import(src, n.Else)

	cid := NodeID(len(t.nodes))
	t.nodes = append(t.nodes, &nn)
	for _, e := range t.Edges(cid) {
		t.nodes[e].Parent = cid
	}
	if s := src.scopes[id]; s != nil {
		t.scopes[cid] = s.Clone()
	} else if nn.Kind.OwnsScope() {
		t.scopes[cid] = NewScope(nn.Kind.String())
	}
	if s, ok := src.sanitization[id]; ok {
		t.sanitization[cid] = s
	}
	if o, ok := src.origins[id]; ok {
		t.origins[cid] = o
	}
	return cid
}
