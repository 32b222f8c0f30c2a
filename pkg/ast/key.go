package ast

import (
	"fmt"
	"hash/fnv"
	"strings"
)

// Key returns a canonical serialization of the subtree at id. Two subtrees
// are structurally equal iff their keys are equal.
func (t *Tree) Key(id NodeID) string {
	var b strings.Builder
	t.writeKey(&b, id)
	return b.String()
}

func (t *Tree) writeKey(b *strings.Builder, id NodeID) {
	n := t.Node(id)
	if n == nil {
		b.WriteString("nil")
		return
	}
	switch {
	case n.Kind.IsIdentifier():
		b.WriteString(IdentifierKey(n.Name))
		return
	case n.Kind == KindCache:
		b.WriteString("Cache(")
		t.writeKey(b, n.Expr)
		b.WriteByte(')')
		return
	}
	b.WriteString(n.Kind.String())
	b.WriteByte('(')
	if n.Name != "" {
		fmt.Fprintf(b, "name=%q ", n.Name)
	}
	if n.Value != nil {
		fmt.Fprintf(b, "value=%T:%#v ", n.Value, n.Value)
	}
	if n.Operator != "" {
		fmt.Fprintf(b, "op=%q ", n.Operator)
	}
	if n.Library {
		b.WriteString("library ")
	}
	if n.Kind == KindFilter {
		fmt.Fprintf(b, "mode=%d ", n.FilterMode)
	}
	if n.Kind == KindCallFunction {
		fmt.Fprintf(b, "state=%s ", t.sanitization[id])
	}
	if n.Kind == KindTemplate && id == t.Root && t.Template != nil {
		for _, e := range t.Edges(id) {
			t.writeKey(b, e)
			b.WriteByte(' ')
		}
		b.WriteByte(')')
		return
	}
	for i, s := range n.slots() {
		if *s != NoNode {
			b.WriteString(slotNames[i])
			b.WriteByte(':')
			t.writeKey(b, *s)
			b.WriteByte(' ')
		}
	}
	if len(n.Children) > 0 {
		b.WriteByte('[')
		for _, c := range n.Children {
			t.writeKey(b, c)
			b.WriteByte(' ')
		}
		b.WriteByte(']')
	}
	if n.Else != NoNode {
		b.WriteString(" else:")
		t.writeKey(b, n.Else)
	}
	b.WriteByte(')')
}

// Hash is a 64-bit digest of Key.
func (t *Tree) Hash(id NodeID) uint64 {
	h := fnv.New64a()
	h.Write([]byte(t.Key(id)))
	return h.Sum64()
}

// Hash32 is the 32-bit digest used to derive generated identifier names.
func (t *Tree) Hash32(id NodeID) uint32 {
	return KeyHash32(t.Key(id))
}

// KeyHash32 digests a key produced by Key or IdentifierKey.
func KeyHash32(key string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(key))
	return h.Sum32()
}

// IdentifierKey is the key of any identifier-like node called name.
func IdentifierKey(name string) string {
	return fmt.Sprintf("Identifier(%q)", name)
}

// Equal reports whether the subtree a in t matches the subtree b in other.
func (t *Tree) Equal(a NodeID, other *Tree, b NodeID) bool {
	return t.Key(a) == other.Key(b)
}
