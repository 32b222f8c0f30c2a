package optimizer

import (
	"log/slog"

	"github.com/neurodesk/tmplc/pkg/ast"
	"github.com/neurodesk/tmplc/pkg/options"
)

// FinalPass hoists aliases whose legality depends on a whole loop or
// conditional having been optimized, then batches buffer writes.
type FinalPass struct {
	opts   *options.Options
	logger *slog.Logger
	t      *ast.Tree
}

func NewFinalPass(cfg Config) *FinalPass {
	cfg = cfg.withDefaults()
	return &FinalPass{opts: cfg.Options, logger: cfg.Logger}
}

// Run rewrites t in place. t must have been through Optimize.
func (f *FinalPass) Run(t *ast.Tree) error {
	if t == nil || t.Template == nil || t.Kind(t.Root) != ast.KindTemplate {
		return ErrNotTemplate
	}
	f.t = t
	if err := f.visit(t.Template.Main); err != nil {
		return err
	}
	for _, c := range t.Children(t.Root) {
		if err := f.visit(c); err != nil {
			return err
		}
	}
	return nil
}

func (f *FinalPass) visitAll(ids []ast.NodeID) error {
	for _, id := range ids {
		if err := f.visit(id); err != nil {
			return err
		}
	}
	return nil
}

// visit works depth-first so inner blocks are settled before their parents
// look at them.
func (f *FinalPass) visit(id ast.NodeID) error {
	switch f.t.Kind(id) {
	case ast.KindFunction:
		if err := f.visitAll(f.t.Children(id)); err != nil {
			return err
		}
		return f.collectWrites(id)
	case ast.KindFor:
		if err := f.visitAll(f.t.Children(id)); err != nil {
			return err
		}
		if err := f.hoistFromLoop(id); err != nil {
			return err
		}
		return f.collectWrites(id)
	case ast.KindIf:
		els := f.t.Node(id).Else
		if err := f.visitAll(f.t.Children(id)); err != nil {
			return err
		}
		if err := f.visitAll(f.t.Children(els)); err != nil {
			return err
		}
		if err := f.hoistFromConditional(id); err != nil {
			return err
		}
		if err := f.hoistFromConditional(els); err != nil {
			return err
		}
		if err := f.collectWrites(id); err != nil {
			return err
		}
		return f.collectWrites(els)
	}
	return nil
}

func (f *FinalPass) hoistFromConditional(arm ast.NodeID) error {
	if !f.opts.HoistConditionalAliases {
		return nil
	}
	block, point, err := insertPoint(f.t, arm)
	if err != nil {
		return err
	}
	outer := f.t.Scope(block)
	for _, e := range f.t.Scope(arm).Aliases.Entries() {
		if _, ok := outer.Aliases.Get(e.Key); ok && f.conditionInvariant(e, arm) {
			if err := f.hoist(arm, block, point, e); err != nil {
				return err
			}
		}
	}
	return nil
}

func (f *FinalPass) hoistFromLoop(loop ast.NodeID) error {
	if !f.opts.HoistLoopInvariantAliases {
		return nil
	}
	block, point, err := insertPoint(f.t, loop)
	if err != nil {
		return err
	}
	outer := f.t.Scope(block)
	for _, e := range f.t.Scope(loop).Aliases.Entries() {
		if !f.loopInvariant(e, loop) {
			continue
		}
		if _, ok := outer.Aliases.Get(e.Key); ok {
			if err := f.hoist(loop, block, point, e); err != nil {
				return err
			}
			continue
		}
		assign := f.findAssign(loop, e)
		if assign == ast.NoNode {
			continue
		}
		if err := f.t.Remove(loop, assign); err != nil {
			return err
		}
		if err := f.t.InsertBefore(block, loop, assign); err != nil {
			return err
		}
		outer.HoistedAliases.Add(e.Key)
		f.logger.Debug("hoisted loop invariant", "alias", e.Alias)
	}
	return nil
}

// findAssign returns the child of block that assigns e's expression to its
// alias.
func (f *FinalPass) findAssign(block ast.NodeID, e ast.AliasEntry) ast.NodeID {
	for _, c := range f.t.Children(block) {
		if f.isAssignOf(c, e) {
			return c
		}
	}
	return ast.NoNode
}

// hoist moves the assignment of e out of node into block, ahead of point.
// An assignment already reaching point from block is reused instead.
func (f *FinalPass) hoist(node, block, point ast.NodeID, e ast.AliasEntry) error {
	assign := f.findAssign(node, e)
	if assign != ast.NoNode {
		if err := f.t.Remove(node, assign); err != nil {
			return err
		}
	}

	outer := f.t.Scope(block)
	if !f.reaches(block, point, e) {
		if next := f.nextAssign(block, point, e); next != ast.NoNode && !f.modifiedBetween(block, point, next, e) {
			// Bound later in block; move it up since node needs it sooner.
			if err := f.t.Remove(block, next); err != nil {
				return err
			}
			if err := f.t.InsertBefore(block, point, next); err != nil {
				return err
			}
		} else {
			if assign == ast.NoNode {
				assign = f.t.NewAssign(f.t.NewIdentifier(e.Alias), f.t.Copy(e.Expr, ast.Deep))
				f.t.Node(assign).Pos = f.t.Node(e.Expr).Pos
			}
			if err := f.t.InsertBefore(block, point, assign); err != nil {
				return err
			}
		}
		outer.HoistedAliases.Add(e.Key)
		f.logger.Debug("hoisted alias", "alias", e.Alias, "from", f.t.Describe(node))
	}

	scope := f.t.Scope(node)
	scope.Aliases.Delete(e.Key)
	scope.AliasNames.Remove(e.Alias)
	if f.t.Kind(e.Expr) != ast.KindFilter {
		scope.LocalIdentifiers.Remove(e.Alias)
	}
	return nil
}

// isAssignOf reports whether id assigns e's expression to its alias.
func (f *FinalPass) isAssignOf(id ast.NodeID, e ast.AliasEntry) bool {
	n := f.t.Node(id)
	return n.Kind == ast.KindAssign && f.t.Name(n.Left) == e.Alias && f.t.Key(n.Right) == e.Key
}

// reaches reports whether the last assignment of e in block before point
// still holds its value at point.
func (f *FinalPass) reaches(block, point ast.NodeID, e ast.AliasEntry) bool {
	children := f.t.Children(block)
	for i := f.t.IndexOf(block, point) - 1; i >= 0; i-- {
		if f.isAssignOf(children[i], e) {
			return !f.modifiedBetween(block, children[i], point, e)
		}
	}
	return false
}

// nextAssign returns the first assignment of e in block after point.
func (f *FinalPass) nextAssign(block, point ast.NodeID, e ast.AliasEntry) ast.NodeID {
	children := f.t.Children(block)
	for _, c := range children[f.t.IndexOf(block, point)+1:] {
		if f.isAssignOf(c, e) {
			return c
		}
	}
	return ast.NoNode
}

// modifiedBetween reports whether a child of block strictly between from and
// to may change a name e's expression reads.
func (f *FinalPass) modifiedBetween(block, from, to ast.NodeID, e ast.AliasEntry) bool {
	lo, hi := f.t.IndexOf(block, from), f.t.IndexOf(block, to)
	if lo > hi {
		lo, hi = hi, lo
	}
	names := identifierNames(f.t, e.Expr)
	for _, c := range f.t.Children(block)[lo+1 : hi] {
		if f.modifies(c, names) {
			return true
		}
	}
	return false
}

// modifies reports whether stmt rebinds one of names, assigns through an
// index of one, or hands one to a call whose result is not written out.
func (f *FinalPass) modifies(stmt ast.NodeID, names ast.Set) bool {
	found := false
	ast.Inspect(f.t, stmt, func(id ast.NodeID) bool {
		if found {
			return false
		}
		n := f.t.Node(id)
		switch n.Kind {
		case ast.KindFilter:
			return false
		case ast.KindAssign:
			left := f.t.Node(n.Left)
			if left == nil {
				break
			}
			target := left.Name
			if left.Kind == ast.KindSlice {
				target = f.t.Name(left.Expr)
			}
			if names.Has(target) && !isAliasAssign(f.t, id) {
				found = true
			}
		case ast.KindArgList:
			for _, c := range n.Children {
				arg := f.t.Node(c)
				if arg.Kind == ast.KindParameter {
					arg = f.t.Node(arg.Default)
				}
				if arg != nil && names.Has(arg.Name) {
					found = true
				}
			}
		}
		return !found
	})
	return found
}

func (f *FinalPass) conditionInvariant(e ast.AliasEntry, arm ast.NodeID) bool {
	scope := f.t.Scope(arm)
	deps := dependencies(f.t, e.Expr)
	return len(deps.Intersect(identifierKeys(scope.LocalIdentifiers))) == 0 &&
		isClean(f.t, e.Expr, scope)
}

// loopInvariant reports whether e can be computed once before loop: it
// reads no loop target, nothing else computed in the loop, and nothing the
// loop modifies in place.
func (f *FinalPass) loopInvariant(e ast.AliasEntry, loop ast.NodeID) bool {
	deps := dependencies(f.t, e.Expr)
	if len(deps.Intersect(identifierKeys(loopVariants(f.t, loop)))) > 0 {
		return false
	}
	outside := deps.Difference(keys(f.t, e.Expr))
	if len(keys(f.t, loop).Intersect(outside)) > 0 {
		return false
	}
	return isClean(f.t, e.Expr, f.t.Scope(loop))
}

// collectWrites gathers the writes of a block into batched writes placed
// before the next statement that is not an assignment or cache. Writes never
// move past an assignment to a name they read.
func (f *FinalPass) collectWrites(block ast.NodeID) error {
	if !f.opts.BatchBufferWrites {
		return nil
	}
	var (
		out     []ast.NodeID
		pending []ast.NodeID
		single  = ast.NoNode
	)
	flush := func() {
		switch {
		case len(pending) == 0:
		case single != ast.NoNode:
			out = append(out, single)
		case len(pending) == 1:
			out = append(out, f.t.NewBufferWrite(pending[0]))
		default:
			out = append(out, f.t.NewBufferExtend(pending...))
		}
		pending, single = nil, ast.NoNode
	}
	for _, c := range f.t.Children(block) {
		n := f.t.Node(c)
		switch {
		case n.Kind == ast.KindBufferWrite:
			single = ast.NoNode
			if len(pending) == 0 {
				single = c
			}
			pending = append(pending, n.Expr)
		case n.Kind == ast.KindBufferExtend:
			single = ast.NoNode
			pending = append(pending, f.t.Children(n.Expr)...)
		case (n.Kind == ast.KindAssign || n.Kind == ast.KindCache) && !f.reads(pending, c):
			out = append(out, c)
		default:
			flush()
			out = append(out, c)
		}
	}
	flush()
	return f.t.SetChildren(block, out)
}

// reads reports whether any of exprs reads the name bound by stmt.
func (f *FinalPass) reads(exprs []ast.NodeID, stmt ast.NodeID) bool {
	n := f.t.Node(stmt)
	name := n.Name
	if n.Kind == ast.KindAssign {
		left := f.t.Node(n.Left)
		if left.Kind == ast.KindSlice {
			name = f.t.Name(left.Expr)
		} else {
			name = left.Name
		}
	}
	for _, e := range exprs {
		if identifierNames(f.t, e).Has(name) {
			return true
		}
	}
	return false
}
