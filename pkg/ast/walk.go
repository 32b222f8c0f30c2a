package ast

import (
	"bytes"
	"fmt"
	"strings"
)

// Visitor is called for every node reached by Walk.
type Visitor interface {
	Visit(t *Tree, id NodeID) error
}

// VisitorFunc adapts a function to Visitor.
type VisitorFunc func(t *Tree, id NodeID) error

func (f VisitorFunc) Visit(t *Tree, id NodeID) error { return f(t, id) }

// Walk visits id and its sub-nodes depth-first in code generation order.
func Walk(t *Tree, id NodeID, v Visitor) error {
	if id == NoNode {
		return nil
	}
	if err := v.Visit(t, id); err != nil {
		return err
	}
	for _, e := range t.Edges(id) {
		if err := Walk(t, e, v); err != nil {
			return err
		}
	}
	return nil
}

// Inspect calls fn for each node depth-first. Returning false prunes the
// subtree below that node.
func Inspect(t *Tree, id NodeID, fn func(NodeID) bool) {
	if id == NoNode || !fn(id) {
		return
	}
	for _, e := range t.Edges(id) {
		Inspect(t, e, fn)
	}
}

// Flatten lists the subtree at id in traversal order.
func Flatten(t *Tree, id NodeID) []NodeID {
	var out []NodeID
	Inspect(t, id, func(n NodeID) bool {
		out = append(out, n)
		return true
	})
	return out
}

// Find returns the first node in the subtree matching pred.
func Find(t *Tree, id NodeID, pred func(NodeID) bool) NodeID {
	found := NoNode
	Inspect(t, id, func(n NodeID) bool {
		if found != NoNode {
			return false
		}
		if pred(n) {
			found = n
			return false
		}
		return true
	})
	return found
}

// Pretty returns a line-oriented rendering of the subtree at id.
func Pretty(t *Tree, id NodeID) string {
	var buf bytes.Buffer
	ppNode(&buf, t, 0, "", id)
	return buf.String()
}

func ppNode(buf *bytes.Buffer, t *Tree, indent int, label string, id NodeID) {
	n := t.Node(id)
	if n == nil {
		return
	}
	buf.WriteString(strings.Repeat("  ", indent))
	if label != "" {
		buf.WriteString(label)
		buf.WriteString(": ")
	}
	buf.WriteString(n.Kind.String())
	if n.Name != "" {
		fmt.Fprintf(buf, " %s", n.Name)
	}
	if n.Value != nil {
		fmt.Fprintf(buf, " %#v", n.Value)
	}
	if n.Operator != "" {
		fmt.Fprintf(buf, " op=%q", n.Operator)
	}
	if n.Library {
		buf.WriteString(" library")
	}
	switch n.Kind {
	case KindCallFunction:
		fmt.Fprintf(buf, " [%s]", t.Sanitization(id))
		if o := t.Origin(id); o != "" {
			fmt.Fprintf(buf, " from=$%s", o)
		}
	case KindFilter:
		switch n.FilterMode {
		case FilterNone:
			buf.WriteString(" filter=none")
		case FilterDefault:
			buf.WriteString(" filter=default")
		}
	}
	buf.WriteByte('\n')

	if n.Kind == KindTemplate && id == t.Root && t.Template != nil {
		for _, e := range t.Edges(id) {
			ppNode(buf, t, indent+1, "", e)
		}
		return
	}
	for i, s := range n.slots() {
		ppNode(buf, t, indent+1, slotNames[i], *s)
	}
	for _, c := range n.Children {
		ppNode(buf, t, indent+1, "", c)
	}
	if e := t.Node(n.Else); e != nil && len(e.Children) > 0 {
		ppNode(buf, t, indent, "", n.Else)
	}
}
