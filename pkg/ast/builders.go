package ast

import "github.com/neurodesk/tmplc/pkg/diag"

// Constructors for the node shapes the passes synthesize most often. All of
// them return detached nodes with no source position.

func (t *Tree) NewLiteral(v any) NodeID {
	return t.Add(Node{Kind: KindLiteral, Value: v, Pos: diag.NoPos})
}

func (t *Tree) NewIdentifier(name string) NodeID {
	return t.Add(Node{Kind: KindIdentifier, Name: name, Pos: diag.NoPos})
}

func (t *Tree) NewTemplateMethodIdentifier(name string) NodeID {
	return t.Add(Node{Kind: KindTemplateMethodIdentifier, Name: name, Pos: diag.NoPos})
}

func (t *Tree) NewPlaceholder(name string) NodeID {
	return t.Add(Node{Kind: KindPlaceholder, Name: name, Pos: diag.NoPos})
}

func (t *Tree) NewGetAttr(expr NodeID, name string) NodeID {
	return t.Add(Node{Kind: KindGetAttr, Name: name, Expr: expr, Pos: diag.NoPos})
}

func (t *Tree) NewGetUDN(expr NodeID, name string) NodeID {
	return t.Add(Node{Kind: KindGetUDN, Name: name, Expr: expr, Pos: diag.NoPos})
}

// NewAssign builds `left = right`; right may be NoNode and filled in later.
func (t *Tree) NewAssign(left, right NodeID) NodeID {
	return t.Add(Node{Kind: KindAssign, Operator: "=", Left: left, Right: right, Pos: diag.NoPos})
}

func (t *Tree) NewBinOp(op string, left, right NodeID) NodeID {
	return t.Add(Node{Kind: KindBinOp, Operator: op, Left: left, Right: right, Pos: diag.NoPos})
}

func (t *Tree) NewArgList(args ...NodeID) NodeID {
	return t.Add(Node{Kind: KindArgList, Children: args, Pos: diag.NoPos})
}

// NewCall builds a call with an argument list holding args.
func (t *Tree) NewCall(expr NodeID, args ...NodeID) NodeID {
	return t.Add(Node{Kind: KindCallFunction, Expr: expr, Args: t.NewArgList(args...), Pos: diag.NoPos})
}

func (t *Tree) NewBufferWrite(expr NodeID) NodeID {
	return t.Add(Node{Kind: KindBufferWrite, Expr: expr, Pos: diag.NoPos})
}

// NewBufferExtend builds a batched write of the ordered group exprs.
func (t *Tree) NewBufferExtend(exprs ...NodeID) NodeID {
	tuple := t.Add(Node{Kind: KindTupleLiteral, Children: exprs, Pos: diag.NoPos})
	return t.Add(Node{Kind: KindBufferExtend, Expr: tuple, Pos: diag.NoPos})
}

func (t *Tree) NewParameter(name string, def NodeID) NodeID {
	return t.Add(Node{Kind: KindParameter, Name: name, Default: def, Pos: diag.NoPos})
}

// NewFunction builds a function whose parameter list holds params.
func (t *Tree) NewFunction(name string, params ...NodeID) NodeID {
	pl := t.Add(Node{Kind: KindParameterList, Children: params, Pos: diag.NoPos})
	return t.Add(Node{Kind: KindFunction, Name: name, Params: pl, Pos: diag.NoPos})
}

// NewFilter wraps expr in a filter. A custom filter passes the filter
// expression; the default and disabled modes pass NoNode.
func (t *Tree) NewFilter(expr NodeID, mode FilterMode, filter NodeID) NodeID {
	return t.Add(Node{Kind: KindFilter, Expr: expr, FilterMode: mode, Filter: filter, Pos: diag.NoPos})
}
