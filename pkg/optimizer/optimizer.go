// Package optimizer rewrites an analyzed template tree. The optimization
// pass resolves placeholders to locals and binds repeated lookups to aliases;
// the final pass hoists those aliases out of loops and conditionals and
// batches buffer writes.
package optimizer

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/neurodesk/tmplc/pkg/ast"
	"github.com/neurodesk/tmplc/pkg/diag"
	"github.com/neurodesk/tmplc/pkg/options"
	"github.com/neurodesk/tmplc/pkg/registry"
)

// Config carries the collaborators of both passes.
type Config struct {
	Options   *options.Options
	Functions *registry.Functions
	Logger    *slog.Logger
	// Reporter receives warnings such as repeated assignments.
	Reporter *diag.Reporter
	// Templates is searched for extended templates during dependency
	// analysis. It defaults to the include path.
	Templates fs.FS
}

func (cfg Config) withDefaults() Config {
	if cfg.Options == nil {
		cfg.Options = options.Default()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Templates == nil {
		dir := cfg.Options.IncludePath
		if dir == "" {
			dir = "."
		}
		cfg.Templates = os.DirFS(dir)
	}
	return cfg
}

// caching holds the options a subtree may switch off while it is visited.
type caching struct {
	placeholders bool
	udn          bool
	filtered     bool
}

// binopOutside marks that no function is being visited.
const binopOutside = 1000

// Optimizer runs the optimization pass over one tree at a time.
type Optimizer struct {
	cfg    Config
	opts   *options.Options
	logger *slog.Logger

	t     *ast.Tree
	ti    *ast.TemplateInfo
	cache caching
	// binops counts the and/or operators enclosing the current node.
	binops int
}

func New(cfg Config) *Optimizer {
	cfg = cfg.withDefaults()
	return &Optimizer{cfg: cfg, opts: cfg.Options, logger: cfg.Logger}
}

// Optimize rewrites t in place.
func (o *Optimizer) Optimize(t *ast.Tree) error {
	if t == nil || t.Template == nil || t.Kind(t.Root) != ast.KindTemplate {
		return ErrNotTemplate
	}
	o.t, o.ti = t, t.Template
	o.cache = caching{
		placeholders: o.opts.CacheResolvedPlaceholders,
		udn:          o.opts.CacheResolvedUDNExpressions,
		filtered:     o.opts.CacheFilteredPlaceholders,
	}
	o.binops = binopOutside

	if err := o.template(); err != nil {
		return err
	}
	o.logger.Debug("optimized template", "classname", o.ti.Classname, "nodes", t.Len())
	return nil
}

func (o *Optimizer) template() error {
	for _, alias := range o.cfg.Functions.Aliases() {
		if !o.ti.UsedRegistryFunctions.Has(alias) {
			continue
		}
		f, _ := o.cfg.Functions.Lookup(alias)
		parts := strings.Split(f.Name, ".")
		module := make([]ast.NodeID, 0, len(parts)-1)
		for _, p := range parts[:len(parts)-1] {
			module = append(module, o.t.NewIdentifier(p))
		}
		from := o.t.Add(ast.Node{
			Kind:     ast.KindFrom,
			Children: module,
			Ident:    o.t.NewIdentifier(parts[len(parts)-1]),
			Alias:    o.t.NewIdentifier(alias),
			Pos:      diag.NoPos,
		})
		o.t.Node(from).Parent = o.t.Root
		o.ti.Froms = append(o.ti.Froms, from)
	}
	for _, id := range o.ti.Froms {
		n := o.t.Node(id)
		if n.Alias != ast.NoNode {
			o.ti.GlobalIdentifiers.Add(o.t.Name(n.Alias))
		} else {
			o.ti.GlobalIdentifiers.Add(o.t.Name(n.Ident))
		}
	}

	if o.opts.UseDependencyAnalysis {
		for _, id := range o.ti.Extends {
			names := o.t.Children(id)
			if len(names) < 2 {
				continue
			}
			module := make([]string, 0, len(names))
			for _, c := range names[:len(names)-1] {
				module = append(module, o.t.Name(c))
			}
			methods, err := TemplateFunctions(o.cfg.Templates, strings.Join(module, "/"))
			if err != nil {
				return err
			}
			o.logger.Debug("dependency analysis", "module", strings.Join(module, "."), "methods", len(methods))
			o.ti.TemplateMethods.Update(methods)
		}
	}

	if err := o.visit(o.ti.Main); err != nil {
		return err
	}
	for _, c := range o.t.Children(o.t.Root) {
		if err := o.visit(c); err != nil {
			return err
		}
	}
	return nil
}

func (o *Optimizer) visitAll(ids []ast.NodeID) error {
	for _, id := range ids {
		if err := o.visit(id); err != nil {
			return err
		}
	}
	return nil
}

// visit optimizes the subtree at id. The node may be replaced in its parent.
func (o *Optimizer) visit(id ast.NodeID) error {
	if id == ast.NoNode {
		return nil
	}
	n := o.t.Node(id)
	switch n.Kind {
	case ast.KindLiteral, ast.KindIdentifier, ast.KindTarget, ast.KindTemplateMethodIdentifier,
		ast.KindBreak, ast.KindContinue, ast.KindBufferExtend,
		ast.KindImport, ast.KindExtends, ast.KindAbsoluteExtends, ast.KindFrom,
		ast.KindAttribute, ast.KindFilterAttribute, ast.KindParameterList:
		return nil
	case ast.KindFunction:
		return o.function(id)
	case ast.KindFor:
		return o.forNode(id)
	case ast.KindIf:
		return o.ifNode(id)
	case ast.KindElse:
		return o.visitAll(o.t.Children(id))
	case ast.KindAssign:
		return o.assign(id)
	case ast.KindArgList:
		return o.argList(id)
	case ast.KindTargetList, ast.KindExpressionList, ast.KindListLiteral,
		ast.KindTupleLiteral, ast.KindDictLiteral:
		return o.visitAll(o.t.Children(id))
	case ast.KindParameter:
		return o.visit(n.Default)
	case ast.KindDo, ast.KindReturn, ast.KindUnaryOp:
		return o.visit(n.Expr)
	case ast.KindEcho:
		return o.visitAll([]ast.NodeID{n.Test, n.Left, n.Right})
	case ast.KindCallFunction:
		return o.visitAll([]ast.NodeID{n.Expr, n.Args})
	case ast.KindSlice:
		return o.visitAll([]ast.NodeID{n.Expr, n.Index})
	case ast.KindCache:
		return o.cacheNode(id)
	case ast.KindBufferWrite:
		return o.bufferWrite(id)
	case ast.KindFilter:
		return o.filter(id)
	case ast.KindPlaceholder:
		return o.placeholder(id)
	case ast.KindGetAttr:
		return o.getAttr(id)
	case ast.KindGetUDN:
		return o.getUDN(id)
	case ast.KindBinOp, ast.KindBinOpExpression:
		return o.binOp(id)
	case ast.KindTemplate, ast.KindFragment, ast.KindDef, ast.KindBlock, ast.KindMacro,
		ast.KindText, ast.KindWhitespace, ast.KindOptionalWhitespace, ast.KindNewline,
		ast.KindComment, ast.KindPlaceholderSubstitution, ast.KindImplements, ast.KindGlobal,
		ast.KindAllowUndeclaredGlobals, ast.KindLooseResolution, ast.KindAllowRaw,
		ast.KindStripLines:
		return fmt.Errorf("%w: %w", ErrUnexpectedKind, diag.Internalf(o.t.Describe(id), "cannot optimize %s", n.Kind))
	}
	return diag.Internalf(o.t.Describe(id), "unknown node kind %s", n.Kind)
}

func (o *Optimizer) function(id ast.NodeID) error {
	scope := o.t.Scope(id)
	for _, p := range o.t.Children(o.t.Node(id).Params) {
		scope.LocalIdentifiers.Add(o.t.Name(p))
	}
	o.binops = 0
	defer func() { o.binops = binopOutside }()
	return o.visitAll(o.t.Children(id))
}

// forNode optimizes the loop body. The body may not run at all, so names it
// binds are only partially bound after the loop.
func (o *Optimizer) forNode(id ast.NodeID) error {
	n := o.t.Node(id)
	if err := o.visitAll([]ast.NodeID{n.Targets, n.Iter}); err != nil {
		return err
	}
	if err := o.visitAll(o.t.Children(id)); err != nil {
		return err
	}

	parent, err := parentScope(o.t, id)
	if err != nil {
		return err
	}
	loop := o.t.Scope(id)
	partial := loop.LocalIdentifiers.Union(loop.PartialLocalIdentifiers)
	parent.PartialLocalIdentifiers.Update(partial.Difference(parent.LocalIdentifiers))
	parent.DirtyLocalIdentifiers.Update(loop.DirtyLocalIdentifiers)
	return nil
}

// ifNode optimizes both arms and then tells the enclosing scope what they
// have in common. Names bound in only one arm become partial; anything
// modified in either arm is dirty outside too.
func (o *Optimizer) ifNode(id ast.NodeID) error {
	n := o.t.Node(id)
	if err := o.visit(n.Test); err != nil {
		return err
	}
	if err := o.visitAll(o.t.Children(id)); err != nil {
		return err
	}
	if err := o.visit(n.Else); err != nil {
		return err
	}

	parent, err := parentScope(o.t, id)
	if err != nil {
		return err
	}
	ifScope, elseScope := o.t.Scope(id), o.t.Scope(n.Else)
	var partial ast.Set
	if len(o.t.Children(n.Else)) > 0 {
		partial = ifScope.LocalIdentifiers.SymmetricDifference(elseScope.LocalIdentifiers)
		partial.Update(ifScope.PartialLocalIdentifiers)
		partial.Update(elseScope.PartialLocalIdentifiers)

		parent.LocalIdentifiers.Update(ifScope.LocalIdentifiers.Intersect(elseScope.LocalIdentifiers))
		parent.AliasNames.Update(ifScope.AliasNames.Intersect(elseScope.AliasNames))
		for _, e := range commonAliases(o.t, ifScope, elseScope) {
			parent.Aliases.Set(e.Key, e.Expr, e.Alias)
		}
	} else {
		partial = ifScope.LocalIdentifiers.Clone()
	}
	parent.PartialLocalIdentifiers.Update(partial.Difference(parent.LocalIdentifiers))
	parent.DirtyLocalIdentifiers.Update(ifScope.DirtyLocalIdentifiers)
	parent.DirtyLocalIdentifiers.Update(elseScope.DirtyLocalIdentifiers)
	return nil
}

// declare records the binding made by an assignment. Assigning through an
// index marks the base dirty instead.
func (o *Optimizer) declare(id ast.NodeID) error {
	scope, err := parentScope(o.t, id)
	if err != nil {
		return err
	}
	n := o.t.Node(id)
	left := o.t.Node(n.Left)
	if left == nil {
		return diag.Internalf(o.t.Describe(id), "assignment without a target")
	}
	if left.Kind == ast.KindSlice {
		base := o.t.Name(left.Expr)
		scope.DirtyLocalIdentifiers.Add(base)
		invalidate(o.t, id, base)
		if !localIdentifiers(o.t, id).locals.Has(base) {
			return diag.Semanticf(n.Pos, o.t.Describe(id), "Expression %s being indexed must be defined before use", base)
		}
		return nil
	}
	if isAliasAssign(o.t, id) {
		scope.LocalIdentifiers.Add(left.Name)
		return nil
	}
	if scope.AliasNames.Has(filteredName(ast.KeyHash32(ast.IdentifierKey(left.Name)))) {
		msg := fmt.Sprintf("Multiple assignment of %s", left.Name)
		if o.opts.DoubleAssignError {
			return diag.Semanticf(n.Pos, o.t.Describe(id), "%s", msg)
		}
		if err := o.cfg.Reporter.Warn(n.Pos, msg); err != nil {
			return err
		}
	}
	// Aliases of the old value are stale from here on.
	invalidate(o.t, id, left.Name)
	scope.LocalIdentifiers.Add(left.Name)
	return nil
}

func (o *Optimizer) assign(id ast.NodeID) error {
	if err := o.declare(id); err != nil {
		return err
	}
	// The value of an alias is the aliased expression itself.
	if isAliasAssign(o.t, id) {
		return nil
	}
	return o.visit(o.t.Node(id).Right)
}

// argList marks names handed to a call as possibly modified, unless the call
// is being written out.
func (o *Optimizer) argList(id ast.NodeID) error {
	scope, err := parentScope(o.t, id)
	if err != nil {
		return err
	}
	output := nearest(o.t, id, ast.KindFilter) != ast.NoNode
	for _, c := range o.t.Children(id) {
		if !output {
			switch n := o.t.Node(c); {
			case n.Kind == ast.KindPlaceholder:
				scope.DirtyLocalIdentifiers.Add(n.Name)
				invalidate(o.t, id, n.Name)
			case n.Kind == ast.KindParameter && o.t.Kind(n.Default) == ast.KindPlaceholder:
				scope.DirtyLocalIdentifiers.Add(o.t.Name(n.Default))
				invalidate(o.t, id, o.t.Name(n.Default))
			}
		}
		if err := o.visit(c); err != nil {
			return err
		}
	}
	return nil
}

// cacheNode visits a cached expression without adding caches of its own;
// they would run more often than the cache they sit in.
func (o *Optimizer) cacheNode(id ast.NodeID) error {
	saved := o.cache
	o.cache = caching{}
	defer func() { o.cache = saved }()
	return o.visit(o.t.Node(id).Expr)
}

// binOp keeps the right operand of and/or, and all but the first left
// operand, free of hoisted lookups so short-circuiting still holds.
func (o *Optimizer) binOp(id ast.NodeID) error {
	n := o.t.Node(id)
	if n.Operator != "and" && n.Operator != "or" {
		return o.visitAll([]ast.NodeID{n.Left, n.Right})
	}
	o.binops++
	saved := o.cache
	defer func() {
		o.binops--
		o.cache = saved
	}()
	visitLeft := true
	if o.binops == 1 {
		if err := o.visit(n.Left); err != nil {
			return err
		}
		visitLeft = false
	}
	o.cache.placeholders, o.cache.udn = false, false
	if visitLeft {
		if err := o.visit(n.Left); err != nil {
			return err
		}
	}
	return o.visit(o.t.Node(id).Right)
}

// bufferWrite drops the "%s" formatting around template method calls, which
// already produce text.
func (o *Optimizer) bufferWrite(id ast.NodeID) error {
	n := o.t.Node(id)
	if err := o.visit(n.Expr); err != nil {
		return err
	}
	bin := o.t.Node(n.Expr)
	if bin == nil || bin.Kind != ast.KindBinOp || bin.Operator != "%" || !o.isMethodCall(bin.Right) {
		return nil
	}
	return o.unwrap(n.Expr, &bin.Right)
}

func (o *Optimizer) isMethodCall(id ast.NodeID) bool {
	n := o.t.Node(id)
	return n != nil && n.Kind == ast.KindCallFunction && o.t.Kind(n.Expr) == ast.KindTemplateMethodIdentifier
}

// unwrap replaces id with the node held in one of its slots.
func (o *Optimizer) unwrap(id ast.NodeID, slot *ast.NodeID) error {
	inner := *slot
	if err := o.t.SetSlot(id, slot, ast.NoNode); err != nil {
		return err
	}
	return o.t.ReplaceWith(id, inner)
}

// bind replaces expr with a reference to name and assigns expr to name just
// before marker in block. It returns the assignment.
func (o *Optimizer) bind(expr ast.NodeID, name string, block, marker ast.NodeID) (ast.NodeID, error) {
	pos := o.t.Node(expr).Pos
	ref := o.ident(name, pos)
	if marker == expr {
		marker = ref
	}
	if err := o.t.ReplaceWith(expr, ref); err != nil {
		return ast.NoNode, err
	}
	assign := o.t.NewAssign(o.ident(name, pos), expr)
	o.t.Node(assign).Pos = pos
	return assign, o.t.InsertBefore(block, marker, assign)
}

func (o *Optimizer) ident(name string, pos int) ast.NodeID {
	id := o.t.NewIdentifier(name)
	o.t.Node(id).Pos = pos
	return id
}

func filteredName(hash uint32) string { return fmt.Sprintf("_fph%08X", hash) }

func resolvedUDNName(hash uint32) string { return fmt.Sprintf("_rudn%08X", hash) }

func (o *Optimizer) filter(id ast.NodeID) error {
	n := o.t.Node(id)
	if err := o.visit(n.Expr); err != nil {
		return err
	}
	if o.isMethodCall(n.Expr) {
		return o.unwrap(id, &n.Expr)
	}

	if call := o.t.Node(n.Expr); o.cache.udn && call != nil && call.Kind == ast.KindCallFunction {
		if callee := o.t.Node(call.Expr); callee != nil && callee.Kind == ast.KindIdentifier && strings.Contains(callee.Name, ".") {
			scope, err := parentScope(o.t, id)
			if err != nil {
				return err
			}
			block, marker, err := insertPoint(o.t, id)
			if err != nil {
				return err
			}
			name := resolvedUDNName(o.t.Hash32(call.Expr))
			scope.LocalIdentifiers.Add(name)
			if _, err := o.bind(call.Expr, name, block, marker); err != nil {
				return err
			}
		}
	}

	if !o.cache.filtered {
		return nil
	}
	scope, err := parentScope(o.t, id)
	if err != nil {
		return err
	}
	key := o.t.Key(id)
	if e, ok := scope.Aliases.Get(key); ok {
		return o.t.ReplaceWith(id, o.ident(e.Alias, n.Pos))
	}
	name := aliasName(o.t, id)
	if scope.AliasNames.Has(name) {
		o.logger.Warn("duplicate alias name", "alias", name, "node", o.t.Describe(id))
		return nil
	}
	block, marker, err := insertPoint(o.t, id)
	if err != nil {
		return err
	}
	scope.AliasNames.Add(name)
	scope.Aliases.Set(key, id, name)
	_, err = o.bind(id, name, block, marker)
	return err
}

// placeholder resolves $name statically when it can.
func (o *Optimizer) placeholder(id ast.NodeID) error {
	if !o.opts.DirectlyAccessDefinedVariables {
		return nil
	}
	n := o.t.Node(id)
	b := localIdentifiers(o.t, id)
	if o.opts.StaticAnalysis && b.partial.Has(n.Name) && !b.locals.Has(n.Name) && !o.isAttribute(n.Name) {
		return diag.Semanticf(n.Pos, o.t.Describe(id),
			"Variable %s is not guaranteed to be in scope. Define the variable in all branches of the conditional or before the conditional.", n.Name)
	}

	cached := aliasName(o.t, id)
	switch {
	case b.locals.Has(n.Name):
		return o.t.ReplaceWith(id, o.ident(n.Name, n.Pos))
	case o.ti.TemplateMethods.Has(n.Name):
		ref := o.t.NewTemplateMethodIdentifier(n.Name)
		o.t.Node(ref).Pos = n.Pos
		return o.t.ReplaceWith(id, ref)
	case o.ti.GlobalIdentifiers.Has(n.Name):
		return o.t.ReplaceWith(id, o.ident(n.Name, n.Pos))
	case b.locals.Has(cached):
		return o.t.ReplaceWith(id, o.ident(cached, n.Pos))
	case ast.IsBuiltin(n.Name):
		return o.t.ReplaceWith(id, o.ident(n.Name, n.Pos))
	case o.cache.placeholders:
		scope, err := parentScope(o.t, id)
		if err != nil {
			return err
		}
		block, marker, err := insertPoint(o.t, id)
		if err != nil {
			return err
		}
		scope.AliasNames.Add(cached)
		scope.Aliases.Set(o.t.Key(id), id, cached)
		assign, err := o.bind(id, cached, block, marker)
		if err != nil {
			return err
		}
		return o.declare(assign)
	}
	return nil
}

func (o *Optimizer) isAttribute(name string) bool {
	for _, id := range o.ti.Attrs {
		if o.t.Name(id) == name {
			return true
		}
	}
	return false
}

// getAttr binds base.attr to a local alias when aliasing invariants.
func (o *Optimizer) getAttr(id ast.NodeID) error {
	n := o.t.Node(id)
	if !o.opts.AliasInvariants || o.t.Kind(n.Expr) != ast.KindIdentifier {
		return nil
	}
	scope, err := parentScope(o.t, id)
	if err != nil {
		return err
	}
	key := o.t.Key(id)
	if e, ok := scope.Aliases.Get(key); ok {
		return o.t.ReplaceWith(id, o.ident(e.Alias, n.Pos))
	}

	base := o.t.Name(n.Expr)
	name := aliasName(o.t, id)
	if scope.AliasNames.Has(name) {
		o.logger.Warn("duplicate alias name", "alias", name, "node", o.t.Describe(id))
		return nil
	}
	scope.AliasNames.Add(name)
	scope.Aliases.Set(key, id, name)

	loop := nearest(o.t, id, ast.KindFor)
	if o.opts.InlineHoistLoopInvariantAliases && loop != ast.NoNode && !loopVariants(o.t, loop).Has(base) {
		_, err := o.bind(id, name, o.t.Parent(loop), loop)
		return err
	}
	block, marker, err := insertPoint(o.t, id)
	if err != nil {
		return err
	}
	_, err = o.bind(id, name, block, marker)
	return err
}

// getUDN renames the filter function hooks and caches resolved dotted
// lookups.
func (o *Optimizer) getUDN(id ast.NodeID) error {
	n := o.t.Node(id)
	if !o.opts.PreferWholeUDNExpressions {
		if err := o.visit(n.Expr); err != nil {
			return err
		}
	}
	if base := o.t.Node(n.Expr); base != nil && base.Kind == ast.KindIdentifier && base.Name == "self" {
		switch n.Name {
		case "_filter_function":
			return o.t.ReplaceWith(id, o.ident("_self_private_filter_function", n.Pos))
		case "filter_function":
			return o.t.ReplaceWith(id, o.ident("_self_filter_function", n.Pos))
		}
	}

	if !o.cache.udn {
		if o.opts.PreferWholeUDNExpressions {
			return o.visit(n.Expr)
		}
		return nil
	}
	name := aliasName(o.t, id)
	if localIdentifiers(o.t, id).locals.Has(name) {
		return o.t.ReplaceWith(id, o.ident(name, n.Pos))
	}
	block, marker, err := insertPoint(o.t, id)
	if err != nil {
		return err
	}
	// A block that reassigns the base must resolve the lookup again.
	for _, c := range o.t.Children(block) {
		if a := o.t.Node(c); a.Kind == ast.KindAssign && o.t.Equal(a.Left, o.t, n.Expr) {
			return nil
		}
	}
	scope, err := parentScope(o.t, id)
	if err != nil {
		return err
	}
	scope.AliasNames.Add(name)
	scope.Aliases.Set(o.t.Key(id), id, name)
	assign, err := o.bind(id, name, block, marker)
	if err != nil {
		return err
	}
	return o.declare(assign)
}
