// Package analyzer lowers a parse tree into the abstract syntax tree the
// optimizer works on. It resolves directives, expands macros, wraps output
// in filters and records the sanitization state of every call.
package analyzer

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/neurodesk/tmplc/pkg/ast"
	"github.com/neurodesk/tmplc/pkg/diag"
	"github.com/neurodesk/tmplc/pkg/options"
	"github.com/neurodesk/tmplc/pkg/registry"
)

// Config carries the collaborators of an Analyzer.
type Config struct {
	Options   *options.Options
	Functions *registry.Functions
	Macros    *registry.Macros
	// Context is shared by every macro call of one compilation.
	Context registry.MacroContext
	Logger  *slog.Logger
}

// Analyzer turns one parse tree into an AST. It keeps per-template state and
// must not be shared between goroutines.
type Analyzer struct {
	opts      *options.Options
	functions *registry.Functions
	macros    *registry.Macros
	context   registry.MacroContext
	logger    *slog.Logger

	src *ast.Tree
	t   *ast.Tree
	ti  *ast.TemplateInfo

	baseExtends []string
	usesRaw     bool
	stripping   bool
	// discard counts enclosing contexts whose value is never written out.
	discard int
	// direct is set while lowering the value of an output site and cleared
	// by the next build step.
	direct      bool
	posOverride int
}

func New(cfg Config) *Analyzer {
	opts := cfg.Options
	if opts == nil {
		opts = options.Default()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	ctx := cfg.Context
	if ctx == nil {
		ctx = registry.MacroContext{}
	}
	fns := cfg.Functions
	if fns == nil {
		fns = registry.EmptyFunctions()
	}
	macros := cfg.Macros
	if macros == nil {
		macros = registry.NewMacros()
	}
	var base []string
	if opts.BaseExtendsPackage != "" {
		base = strings.Split(opts.BaseExtendsPackage, ".")
	}
	return &Analyzer{
		opts:        opts,
		functions:   fns,
		macros:      macros,
		context:     ctx,
		logger:      logger,
		baseExtends: base,
		posOverride: diag.NoPos,
	}
}

// Analyze lowers parse into a new tree whose root is a Template named
// classname. parse is left untouched.
func (a *Analyzer) Analyze(parse *ast.Tree, classname string) (*ast.Tree, error) {
	if parse == nil || parse.Kind(parse.Root) != ast.KindTemplate {
		return nil, ErrNotTemplate
	}
	a.src = parse
	a.t = ast.NewTemplate(classname)
	a.ti = a.t.Template
	a.usesRaw, a.stripping, a.discard, a.direct = false, false, 0, false
	a.posOverride = diag.NoPos

	if err := a.template(parse.Root); err != nil {
		return nil, err
	}
	a.logger.Debug("analyzed template",
		"classname", classname,
		"nodes", a.t.Len(),
		"methods", len(a.ti.TemplateMethods),
		"library", a.ti.Library)
	return a.t, nil
}

// libraryKinds may appear at the top level of a library template.
var libraryKinds = map[ast.Kind]bool{
	ast.KindText:                   true,
	ast.KindWhitespace:             true,
	ast.KindOptionalWhitespace:     true,
	ast.KindNewline:                true,
	ast.KindImplements:             true,
	ast.KindImport:                 true,
	ast.KindLooseResolution:        true,
	ast.KindAllowUndeclaredGlobals: true,
	ast.KindComment:                true,
	ast.KindDef:                    true,
	ast.KindGlobal:                 true,
}

func (a *Analyzer) template(root ast.NodeID) error {
	if a.opts.GenerateUnicode && a.opts.BakedMode {
		return diag.Semanticf(diag.NoPos, "", "Generate unicode is incompatible with baked mode.")
	}
	a.ti.Baked = a.opts.BakedMode
	if err := a.collectMethods(root); err != nil {
		return err
	}
	for _, c := range a.src.Children(root) {
		switch n := a.src.Node(c); {
		case n.Kind == ast.KindImplements && n.Name == "library":
			a.ti.Library = true
		case n.Kind == ast.KindAllowRaw:
			a.ti.AllowRaw = true
		}
	}

	var body []ast.NodeID
	for _, it := range a.optimizeItems(a.items(a.src.Children(root))) {
		if a.ti.Library && !libraryKinds[it.kind] {
			return a.errorf(it.id, "All library code must be in a function.")
		}
		ids, err := a.buildItem(it)
		if err != nil {
			return err
		}
		if !a.ti.Library {
			body = append(body, ids...)
		}
	}
	if a.ti.AllowRaw && !a.usesRaw {
		return diag.Semanticf(diag.NoPos, "", "#allow_raw directive is not needed")
	}
	if err := a.t.Extend(a.ti.Main, a.collapseWrites(body)); err != nil {
		return err
	}
	if a.ti.Library && len(a.ti.Extends) > 0 {
		return diag.Semanticf(diag.NoPos, "", "library template can't have extends.")
	}
	return nil
}

// collectMethods records every #def and #block name before lowering so calls
// can be classified regardless of definition order.
func (a *Analyzer) collectMethods(root ast.NodeID) error {
	var err error
	ast.Inspect(a.src, root, func(id ast.NodeID) bool {
		if err != nil {
			return false
		}
		n := a.src.Node(id)
		if n.Kind != ast.KindDef && n.Kind != ast.KindBlock {
			return true
		}
		if a.ti.TemplateMethods.Has(n.Name) {
			err = a.errorf(id, "Redefining #def/#block %s (duplicate def in file?)", n.Name)
			return false
		}
		a.ti.TemplateMethods.Add(n.Name)
		return true
	})
	return err
}

type lowerFunc func(id ast.NodeID) ([]ast.NodeID, error)

// lowerer picks the lowering for a parse node kind. Only Template, which is
// handled by Analyze itself, has none.
func (a *Analyzer) lowerer(k ast.Kind) lowerFunc {
	switch k {
	case ast.KindFragment, ast.KindElse:
		return a.sequence
	case ast.KindText, ast.KindWhitespace, ast.KindOptionalWhitespace, ast.KindNewline:
		return a.text
	case ast.KindComment:
		return a.drop
	case ast.KindLiteral, ast.KindIdentifier, ast.KindTarget, ast.KindBreak, ast.KindContinue:
		return a.leaf
	case ast.KindTemplateMethodIdentifier, ast.KindGetAttr, ast.KindFunction,
		ast.KindBufferWrite, ast.KindBufferExtend, ast.KindFilter, ast.KindCache:
		return a.passThrough
	case ast.KindPlaceholder:
		return a.placeholder
	case ast.KindPlaceholderSubstitution:
		return a.placeholderSubstitution
	case ast.KindGetUDN:
		return a.getUDN
	case ast.KindCallFunction:
		return func(id ast.NodeID) ([]ast.NodeID, error) { return a.callFunction(id, false) }
	case ast.KindSlice, ast.KindBinOp, ast.KindBinOpExpression, ast.KindUnaryOp,
		ast.KindReturn, ast.KindParameter, ast.KindTargetList, ast.KindExpressionList,
		ast.KindArgList, ast.KindParameterList, ast.KindListLiteral,
		ast.KindTupleLiteral, ast.KindDictLiteral, ast.KindEcho:
		return a.generic
	case ast.KindAssign:
		return a.assign
	case ast.KindDo:
		return a.do
	case ast.KindIf:
		return a.ifNode
	case ast.KindFor:
		return a.forNode
	case ast.KindStripLines:
		return a.stripLines
	case ast.KindDef:
		return a.def
	case ast.KindBlock:
		return a.block
	case ast.KindMacro:
		return a.macro
	case ast.KindImport:
		return a.importNode
	case ast.KindExtends, ast.KindAbsoluteExtends:
		return a.extends
	case ast.KindFrom:
		return a.from
	case ast.KindImplements:
		return a.implements
	case ast.KindGlobal:
		return a.global
	case ast.KindAttribute, ast.KindFilterAttribute:
		return a.attribute
	case ast.KindAllowUndeclaredGlobals, ast.KindLooseResolution, ast.KindAllowRaw:
		return a.mode
	}
	return nil
}

// build lowers one parse node into zero or more AST nodes. The results are
// detached; callers attach them.
func (a *Analyzer) build(id ast.NodeID) ([]ast.NodeID, error) {
	if id == ast.NoNode {
		return nil, nil
	}
	direct := a.direct
	a.direct = false
	k := a.src.Kind(id)
	if k == ast.KindCallFunction {
		return a.callFunction(id, direct)
	}
	lower := a.lowerer(k)
	if lower == nil {
		return nil, fmt.Errorf("%w: %w", ErrNoLowering, diag.Internalf(a.src.Describe(id), "cannot lower %s", k))
	}
	return lower(id)
}

// buildOne lowers an expression slot, keeping the first result.
func (a *Analyzer) buildOne(id ast.NodeID) (ast.NodeID, error) {
	ids, err := a.build(id)
	if err != nil || len(ids) == 0 {
		return ast.NoNode, err
	}
	return ids[0], nil
}

// buildFrom lowers id of another parse tree, such as macro output.
func (a *Analyzer) buildFrom(src *ast.Tree, id ast.NodeID, pos int) ([]ast.NodeID, error) {
	prevSrc, prevPos := a.src, a.posOverride
	a.src = src
	if pos != diag.NoPos {
		a.posOverride = pos
	}
	defer func() { a.src, a.posOverride = prevSrc, prevPos }()
	return a.build(id)
}

// buildBody lowers a statement list the way every block body is lowered.
func (a *Analyzer) buildBody(ids []ast.NodeID) ([]ast.NodeID, error) {
	return a.buildItems(a.optimizeItems(a.items(ids)))
}

func (a *Analyzer) buildItems(items []item) ([]ast.NodeID, error) {
	var out []ast.NodeID
	for _, it := range items {
		ids, err := a.buildItem(it)
		if err != nil {
			return nil, err
		}
		out = append(out, ids...)
	}
	return a.collapseWrites(out), nil
}

// shell copies the payload of a parse node without its edges.
func (a *Analyzer) shell(id ast.NodeID) ast.Node {
	n := a.src.Node(id)
	return ast.Node{
		Kind:       n.Kind,
		Name:       n.Name,
		Value:      n.Value,
		Operator:   n.Operator,
		Library:    n.Library,
		FilterMode: n.FilterMode,
		Pos:        a.posOf(id),
	}
}

func (a *Analyzer) posOf(id ast.NodeID) int {
	if a.posOverride != diag.NoPos {
		return a.posOverride
	}
	if n := a.src.Node(id); n != nil {
		return n.Pos
	}
	return diag.NoPos
}

// at sets the source position of a synthesized node.
func (a *Analyzer) at(id ast.NodeID, pos int) ast.NodeID {
	a.t.Node(id).Pos = pos
	return id
}

func (a *Analyzer) errorf(id ast.NodeID, format string, args ...any) error {
	return diag.Semanticf(a.posOf(id), a.src.Describe(id), format, args...)
}
