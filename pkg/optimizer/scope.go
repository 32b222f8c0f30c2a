package optimizer

import (
	"strings"

	"github.com/neurodesk/tmplc/pkg/ast"
	"github.com/neurodesk/tmplc/pkg/diag"
)

func isBlock(k ast.Kind) bool {
	return k == ast.KindFunction || k == ast.KindFor || k == ast.KindIf || k == ast.KindElse
}

// parentScope returns the scope new bindings for id belong to. Nodes in an
// if test or a loop iterable bind in the scope around the statement.
func parentScope(t *ast.Tree, id ast.NodeID) (*ast.Scope, error) {
	prev := id
	for n := t.Parent(id); n != ast.NoNode; prev, n = n, t.Parent(n) {
		switch node := t.Node(n); node.Kind {
		case ast.KindFunction, ast.KindElse:
			return t.Scope(n), nil
		case ast.KindIf:
			if node.Test != prev {
				return t.Scope(n), nil
			}
		case ast.KindFor:
			if node.Iter != prev {
				return t.Scope(n), nil
			}
		}
	}
	return nil, diag.Internalf(t.Describe(id), "expected a parent function")
}

// insertPoint finds the nearest block holding id, or an ancestor of id, as a
// direct child. The returned marker is that child.
func insertPoint(t *ast.Tree, id ast.NodeID) (block, marker ast.NodeID, err error) {
	marker = id
	for n := t.Parent(id); n != ast.NoNode; marker, n = n, t.Parent(n) {
		if isBlock(t.Kind(n)) && t.IndexOf(n, marker) >= 0 {
			return n, marker, nil
		}
	}
	return ast.NoNode, ast.NoNode, diag.Internalf(t.Describe(id), "expected a parent block")
}

// parentBlock is the nearest enclosing Function, For, If or Else.
func parentBlock(t *ast.Tree, id ast.NodeID) ast.NodeID {
	for n := t.Parent(id); n != ast.NoNode; n = t.Parent(n) {
		if isBlock(t.Kind(n)) {
			return n
		}
	}
	return ast.NoNode
}

func nearest(t *ast.Tree, id ast.NodeID, k ast.Kind) ast.NodeID {
	for n := t.Parent(id); n != ast.NoNode; n = t.Parent(n) {
		if t.Kind(n) == k {
			return n
		}
	}
	return ast.NoNode
}

// loopVariants names the targets a for loop binds.
func loopVariants(t *ast.Tree, loop ast.NodeID) ast.Set {
	out := ast.Set{}
	ast.Inspect(t, t.Node(loop).Targets, func(id ast.NodeID) bool {
		if t.Kind(id).IsIdentifier() {
			out.Add(t.Name(id))
		}
		return true
	})
	return out
}

// bindings is what is known to be bound at a point of a function.
type bindings struct {
	locals  ast.Set
	partial ast.Set
	dirty   ast.Set
}

// localIdentifiers gathers the bindings visible from id, walking out to the
// enclosing function. An else arm skips its own if.
func localIdentifiers(t *ast.Tree, id ast.NodeID) bindings {
	b := bindings{locals: ast.Set{}, partial: ast.Set{}, dirty: ast.Set{}}
	add := func(s *ast.Scope) {
		b.locals.Update(s.LocalIdentifiers)
		b.partial.Update(s.PartialLocalIdentifiers)
		b.dirty.Update(s.DirtyLocalIdentifiers)
	}
	n := t.Parent(id)
	for n != ast.NoNode {
		switch t.Kind(n) {
		case ast.KindFor:
			b.locals.Update(loopVariants(t, n))
			add(t.Scope(n))
		case ast.KindIf:
			add(t.Scope(n))
		case ast.KindElse:
			add(t.Scope(n))
			n = t.Parent(t.Parent(n))
			continue
		case ast.KindFunction:
			add(t.Scope(n))
			return b
		}
		n = t.Parent(n)
	}
	return b
}

// identifierNames lists the identifiers referenced by the subtree at id.
func identifierNames(t *ast.Tree, id ast.NodeID) ast.Set {
	out := ast.Set{}
	ast.Inspect(t, id, func(c ast.NodeID) bool {
		if t.Kind(c).IsIdentifier() {
			out.Add(t.Name(c))
		}
		return true
	})
	return out
}

// aliasName is the local the optimizer binds the expression at id to, or ""
// for expressions it never aliases.
func aliasName(t *ast.Tree, id ast.NodeID) string {
	n := t.Node(id)
	if n == nil {
		return ""
	}
	switch n.Kind {
	case ast.KindPlaceholder:
		return "_rph_" + n.Name
	case ast.KindFilter:
		return filteredName(t.Hash32(n.Expr))
	case ast.KindGetUDN:
		return resolvedUDNName(t.Hash32(id))
	case ast.KindGetAttr:
		if t.Kind(n.Expr) != ast.KindIdentifier {
			return ""
		}
		base := t.Name(n.Expr)
		if strings.HasPrefix(base, "_") {
			return base + "_" + n.Name
		}
		return "_" + base + "_" + n.Name
	}
	return ""
}

// isAliasAssign reports whether the assignment at id binds its right-hand
// side to the alias generated for it.
func isAliasAssign(t *ast.Tree, id ast.NodeID) bool {
	n := t.Node(id)
	left := t.Node(n.Left)
	return left != nil && left.Kind == ast.KindIdentifier && n.Right != ast.NoNode &&
		left.Name == aliasName(t, n.Right)
}

// invalidate forgets the aliases reading name in the scopes around id, out
// to the enclosing function. An else arm skips its own if.
func invalidate(t *ast.Tree, id ast.NodeID, name string) {
	prev := id
	for n := t.Parent(id); n != ast.NoNode; prev, n = n, t.Parent(n) {
		node := t.Node(n)
		switch node.Kind {
		case ast.KindIf:
			if node.Else == prev || node.Test == prev {
				continue
			}
		case ast.KindFor:
			if node.Iter == prev {
				continue
			}
		case ast.KindElse, ast.KindFunction:
		default:
			continue
		}
		s := t.Scope(n)
		for _, e := range s.Aliases.Entries() {
			if identifierNames(t, e.Expr).Has(name) {
				s.Aliases.Delete(e.Key)
				s.AliasNames.Remove(e.Alias)
			}
		}
		if node.Kind == ast.KindFunction {
			return
		}
	}
}

// isClean reports whether id reads nothing the scope has modified in place.
func isClean(t *ast.Tree, id ast.NodeID, s *ast.Scope) bool {
	return len(identifierNames(t, id).Intersect(s.DirtyLocalIdentifiers)) == 0
}

// commonAliases returns the entries of a that b also holds, keeping only
// those clean in both scopes.
func commonAliases(t *ast.Tree, a, b *ast.Scope) []ast.AliasEntry {
	var out []ast.AliasEntry
	for _, e := range a.Aliases.Entries() {
		other, ok := b.Aliases.Get(e.Key)
		if ok && isClean(t, e.Expr, a) && isClean(t, other.Expr, b) {
			out = append(out, e)
		}
	}
	return out
}

func keys(t *ast.Tree, id ast.NodeID) ast.Set {
	out := ast.Set{}
	for _, n := range ast.Flatten(t, id) {
		out.Add(t.Key(n))
	}
	return out
}

func identifierKeys(names ast.Set) ast.Set {
	out := ast.Set{}
	for name := range names {
		out.Add(ast.IdentifierKey(name))
	}
	return out
}

// dependencies returns the keys of every node the value of id depends on.
// An identifier pulls in the right-hand side of the nearest assignment to it
// and the tests of conditionals met on the way there.
func dependencies(t *ast.Tree, id ast.NodeID) ast.Set {
	return collectDependencies(t, id, map[ast.NodeID]bool{})
}

func collectDependencies(t *ast.Tree, id ast.NodeID, seen map[ast.NodeID]bool) ast.Set {
	deps := keys(t, id)
	start := parentBlock(t, id)
	for _, n := range ast.Flatten(t, id) {
		if !t.Kind(n).IsIdentifier() {
			continue
		}
	blocks:
		for b := start; b != ast.NoNode; b = parentBlock(t, b) {
			for _, c := range t.Children(b) {
				node := t.Node(c)
				switch {
				case node.Kind == ast.KindAssign && t.Equal(node.Left, t, n):
					if !seen[c] {
						seen[c] = true
						deps.Update(collectDependencies(t, node.Right, seen))
					}
					break blocks
				case node.Kind == ast.KindIf:
					deps.Update(keys(t, node.Test))
				}
			}
		}
	}
	return deps
}
