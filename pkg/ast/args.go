package ast

type noParameter struct{}

func (noParameter) String() string { return "NoParameter" }

// NoParameter is the value ArgValues reports for a parameter given without a
// default, as in `${name|raw}`.
var NoParameter = noParameter{}

// ArgNodes maps each Parameter child of list to its default node, or NoNode.
// Positional children are skipped.
func (t *Tree) ArgNodes(list NodeID) map[string]NodeID {
	out := map[string]NodeID{}
	n := t.Node(list)
	if n == nil {
		return out
	}
	for _, c := range n.Children {
		p := t.Node(c)
		if p.Kind != KindParameter {
			continue
		}
		out[p.Name] = p.Default
	}
	return out
}

// ArgValues maps each Parameter child of list to the value of its default.
// Literals give their value, identifier-like defaults give their name and a
// missing default gives NoParameter.
func (t *Tree) ArgValues(list NodeID) map[string]any {
	out := map[string]any{}
	for name, def := range t.ArgNodes(list) {
		out[name] = t.literalValue(def)
	}
	return out
}

// PositionalArgs lists the children of list that are not keyword Parameters.
func (t *Tree) PositionalArgs(list NodeID) []NodeID {
	var out []NodeID
	n := t.Node(list)
	if n == nil {
		return nil
	}
	for _, c := range n.Children {
		if t.Kind(c) != KindParameter {
			out = append(out, c)
		}
	}
	return out
}

func (t *Tree) literalValue(id NodeID) any {
	n := t.Node(id)
	switch {
	case n == nil:
		return NoParameter
	case n.Kind == KindLiteral:
		return n.Value
	case n.Kind.IsIdentifier(), n.Kind == KindPlaceholder:
		return n.Name
	}
	return nil
}
