package ast

// NodeID addresses a node inside a Tree. The zero value is the absent node.
type NodeID int32

// NoNode is the absent node.
const NoNode NodeID = 0

// FilterMode selects the filter a Filter node applies.
type FilterMode uint8

const (
	// FilterDefault applies the template's current filter function.
	FilterDefault FilterMode = iota
	// FilterNone disables filtering for the wrapped expression.
	FilterNone
	// FilterCustom applies the expression held in the Filter slot.
	FilterCustom
)

// Node is one tagged variant in the arena. Which slots are meaningful depends
// on Kind:
//
//	If              Test, Children, Else
//	For             Targets, Iter, Children
//	Function/Def    Params, Children (Block and Macro too)
//	CallFunction    Expr, Args, Library
//	Assign, BinOp   Left, Operator, Right
//	Echo            Test, Left (true branch), Right (false branch)
//	Slice           Expr, Index
//	Parameter       Name, Default
//	Attribute       Name, Default
//	Filter          Expr, FilterMode, Filter
//	From            Children (module path), Ident, Alias, Library
//	DictLiteral     Children as alternating key/value pairs
type Node struct {
	Kind     Kind
	Name     string
	Value    any
	Operator string
	Pos      int
	Parent   NodeID
	Children []NodeID

	Expr    NodeID
	Left    NodeID
	Right   NodeID
	Test    NodeID
	Else    NodeID
	Targets NodeID
	Iter    NodeID
	Args    NodeID
	Params  NodeID
	Default NodeID
	Index   NodeID
	Filter  NodeID
	Ident   NodeID
	Alias   NodeID

	FilterMode FilterMode
	Library    bool
}

// slots returns the single-node edges of n in traversal order.
func (n *Node) slots() []*NodeID {
	return []*NodeID{
		&n.Test, &n.Expr, &n.Left, &n.Right, &n.Targets, &n.Iter, &n.Ident,
		&n.Alias, &n.Params, &n.Args, &n.Index, &n.Default, &n.Filter,
	}
}

var slotNames = [...]string{
	"test", "expr", "left", "right", "targets", "iter", "ident",
	"alias", "params", "args", "index", "default", "filter",
}
