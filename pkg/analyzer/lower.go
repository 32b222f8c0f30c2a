package analyzer

import (
	"slices"
	"strings"

	"github.com/neurodesk/tmplc/pkg/ast"
)

// generic lowers every sub-node of id and keeps its shape.
func (a *Analyzer) generic(id ast.NodeID) ([]ast.NodeID, error) {
	src := a.src.Node(id)
	n := a.shell(id)
	slots := []struct {
		from ast.NodeID
		to   *ast.NodeID
	}{
		{src.Test, &n.Test}, {src.Expr, &n.Expr}, {src.Left, &n.Left},
		{src.Right, &n.Right}, {src.Targets, &n.Targets}, {src.Iter, &n.Iter},
		{src.Ident, &n.Ident}, {src.Alias, &n.Alias}, {src.Params, &n.Params},
		{src.Args, &n.Args}, {src.Index, &n.Index}, {src.Default, &n.Default},
		{src.Filter, &n.Filter},
	}
	for _, s := range slots {
		out, err := a.buildOne(s.from)
		if err != nil {
			return nil, err
		}
		*s.to = out
	}
	for _, c := range src.Children {
		out, err := a.build(c)
		if err != nil {
			return nil, err
		}
		n.Children = append(n.Children, out...)
	}
	return []ast.NodeID{a.t.Add(n)}, nil
}

func (a *Analyzer) sequence(id ast.NodeID) ([]ast.NodeID, error) {
	return a.buildBody(a.src.Children(id))
}

func (a *Analyzer) drop(ast.NodeID) ([]ast.NodeID, error) { return nil, nil }

func (a *Analyzer) leaf(id ast.NodeID) ([]ast.NodeID, error) {
	return []ast.NodeID{a.t.Add(a.shell(id))}, nil
}

// passThrough copies nodes that are already in AST form.
func (a *Analyzer) passThrough(id ast.NodeID) ([]ast.NodeID, error) {
	return []ast.NodeID{a.t.Import(a.src, id)}, nil
}

func (a *Analyzer) placeholder(id ast.NodeID) ([]ast.NodeID, error) {
	name := a.src.Name(id)
	if a.opts.FailLibrarySearchlistAccess && !a.ti.GlobalPlaceholders.Has(name) {
		switch {
		case a.opts.StrictGlobalCheck && !a.ti.AllowUndeclaredGlobals &&
			!a.t.HasIdentifier(name) && !a.functions.Contains(name):
			return nil, a.errorf(id, "identifier %s is unavailable and is not declared as a #global display variable", name)
		case a.ti.Library:
			return []ast.NodeID{a.at(a.t.NewIdentifier(name), a.posOf(id))}, nil
		}
	}
	return a.leaf(id)
}

// placeholderChain joins a chain of placeholder lookups such as $a.b into
// "a.b".
func placeholderChain(t *ast.Tree, id ast.NodeID) (string, bool) {
	n := t.Node(id)
	switch {
	case n == nil:
		return "", false
	case n.Kind == ast.KindPlaceholder:
		return n.Name, true
	case n.Kind == ast.KindGetUDN:
		base, ok := placeholderChain(t, n.Expr)
		return base + "." + n.Name, ok
	}
	return "", false
}

func (a *Analyzer) getUDN(id ast.NodeID) ([]ast.NodeID, error) {
	n := a.src.Node(id)
	if chain, ok := placeholderChain(a.src, n.Expr); ok &&
		a.opts.SkipImportUDNResolution && a.ti.TrustedModules.Has(chain) {
		pos := a.posOf(id)
		base := a.at(a.t.NewIdentifier(chain), pos)
		return []ast.NodeID{a.at(a.t.NewGetAttr(base, n.Name), pos)}, nil
	}
	return a.generic(id)
}

func (a *Analyzer) assign(id ast.NodeID) ([]ast.NodeID, error) {
	n := a.src.Node(id)
	switch left := a.src.Node(n.Left); {
	case left == nil:
	case left.Kind == ast.KindSlice:
		if a.src.Kind(left.Expr) != ast.KindIdentifier {
			return nil, a.errorf(id, "Slice expression %s in an assign must be an identifier", a.src.Describe(left.Expr))
		}
	default:
		a.ti.LocalScopeIdentifiers.Add(left.Name)
	}
	return a.generic(id)
}

func (a *Analyzer) do(id ast.NodeID) ([]ast.NodeID, error) {
	a.discard++
	defer func() { a.discard-- }()
	return a.generic(id)
}

func (a *Analyzer) allBlank(ids []ast.NodeID) bool {
	for _, id := range ids {
		if !a.src.Kind(id).IsBlank() {
			return false
		}
	}
	return true
}

func (a *Analyzer) ifNode(id ast.NodeID) ([]ast.NodeID, error) {
	src := a.src.Node(id)
	if a.allBlank(src.Children) {
		return nil, a.errorf(id, "can't define an empty #if block")
	}
	a.discard++
	test, err := a.buildOne(src.Test)
	a.discard--
	if err != nil {
		return nil, err
	}
	body, err := a.buildBody(src.Children)
	if err != nil {
		return nil, err
	}
	orelse, err := a.buildBody(a.src.Children(src.Else))
	if err != nil {
		return nil, err
	}
	n := a.shell(id)
	n.Test, n.Children = test, body
	out := a.t.Add(n)
	els := a.t.Node(out).Else
	if src.Else != ast.NoNode {
		a.t.Node(els).Pos = a.posOf(src.Else)
	}
	if err := a.t.Extend(els, orelse); err != nil {
		return nil, err
	}
	return []ast.NodeID{out}, nil
}

// targetNames collects the names bound by a for loop target list.
func targetNames(t *ast.Tree, id ast.NodeID) []string {
	var out []string
	ast.Inspect(t, id, func(c ast.NodeID) bool {
		if t.Kind(c).IsIdentifier() {
			out = append(out, t.Name(c))
		}
		return true
	})
	return out
}

func (a *Analyzer) forNode(id ast.NodeID) ([]ast.NodeID, error) {
	src := a.src.Node(id)
	if a.allBlank(src.Children) {
		return nil, a.errorf(id, "can't define an empty #for loop")
	}
	saved := a.ti.LocalScopeIdentifiers.Clone()
	defer func() { a.ti.LocalScopeIdentifiers = saved }()
	a.ti.LocalScopeIdentifiers.Add(targetNames(a.src, src.Targets)...)

	n := a.shell(id)
	var err error
	if n.Targets, err = a.buildOne(src.Targets); err != nil {
		return nil, err
	}
	if n.Iter, err = a.buildOne(src.Iter); err != nil {
		return nil, err
	}
	if n.Children, err = a.buildBody(src.Children); err != nil {
		return nil, err
	}
	return []ast.NodeID{a.t.Add(n)}, nil
}

// function lowers a #def or #block into a Function appended to the template.
func (a *Analyzer) function(id ast.NodeID, nested bool) error {
	src := a.src.Node(id)
	if a.opts.FailNestedDefs && !nested && a.src.Kind(src.Parent) != ast.KindTemplate {
		return a.errorf(id, "nested #def directives are not allowed")
	}
	saved := a.ti.LocalScopeIdentifiers.Clone()
	defer func() { a.ti.LocalScopeIdentifiers = saved }()

	params := []ast.NodeID{a.t.NewParameter("self", ast.NoNode)}
	declared := a.src.Children(src.Params)
	for _, p := range declared {
		a.ti.LocalScopeIdentifiers.Add(a.src.Name(p))
	}
	for _, p := range declared {
		built, err := a.build(p)
		if err != nil {
			return err
		}
		params = append(params, built...)
	}
	body, err := a.buildBody(src.Children)
	if err != nil {
		return err
	}
	fn := a.at(a.t.NewFunction(src.Name, params...), a.posOf(id))
	if err := a.t.Extend(fn, body); err != nil {
		return err
	}
	return a.t.Append(a.t.Root, fn)
}

func (a *Analyzer) def(id ast.NodeID) ([]ast.NodeID, error) {
	return nil, a.function(id, false)
}

// block defines the method and writes its output in place.
func (a *Analyzer) block(id ast.NodeID) ([]ast.NodeID, error) {
	if err := a.function(id, true); err != nil {
		return nil, err
	}
	pos := a.posOf(id)
	site := ast.New()
	callee := site.Add(ast.Node{Kind: ast.KindPlaceholder, Name: a.src.Name(id), Pos: pos})
	args := site.Add(ast.Node{Kind: ast.KindArgList, Pos: pos})
	call := site.Add(ast.Node{Kind: ast.KindCallFunction, Expr: callee, Args: args, Pos: pos})
	site.Root = site.Add(ast.Node{Kind: ast.KindPlaceholderSubstitution, Expr: call, Pos: pos})
	return a.buildFrom(site, site.Root, pos)
}

func (a *Analyzer) names(ids []ast.NodeID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, a.src.Name(id))
	}
	return out
}

func (a *Analyzer) identifiers(names []string, pos int) []ast.NodeID {
	out := make([]ast.NodeID, 0, len(names))
	for _, name := range names {
		out = append(out, a.at(a.t.NewIdentifier(name), pos))
	}
	return out
}

// seen reports whether list already holds a node equal to id.
func (a *Analyzer) seen(list []ast.NodeID, id ast.NodeID) bool {
	return slices.ContainsFunc(list, func(e ast.NodeID) bool {
		return a.t.Equal(e, a.t, id)
	})
}

// adopt hangs a template-level directive off the root.
func (a *Analyzer) adopt(id ast.NodeID) ast.NodeID {
	a.t.Node(id).Parent = a.t.Root
	return id
}

func (a *Analyzer) importNode(id ast.NodeID) ([]ast.NodeID, error) {
	n := a.src.Node(id)
	a.addImport(a.names(n.Children), n.Library, a.posOf(id))
	return nil, nil
}

func (a *Analyzer) addImport(module []string, library bool, pos int) {
	if library {
		a.ti.LibraryIdentifiers.Add(strings.Join(module, "."))
		module = append(slices.Clone(a.baseExtends), module...)
	}
	imp := a.t.Add(ast.Node{
		Kind:     ast.KindImport,
		Children: a.identifiers(module, pos),
		Library:  library,
		Pos:      pos,
	})
	if !a.seen(a.ti.Imports, imp) {
		a.ti.Imports = append(a.ti.Imports, a.adopt(imp))
	}
	a.ti.TrustedModules.Add(strings.Join(module, "."))
}

// extends imports the parent module and records module.Class as the base.
func (a *Analyzer) extends(id ast.NodeID) ([]ast.NodeID, error) {
	n := a.src.Node(id)
	module := a.names(n.Children)
	if len(module) == 0 {
		return nil, a.errorf(id, "#extends needs a module name")
	}
	if n.Kind != ast.KindAbsoluteExtends {
		module = append(slices.Clone(a.baseExtends), module...)
	}
	pos := a.posOf(id)
	a.addImport(module, false, pos)
	class := append(slices.Clone(module), module[len(module)-1])
	ext := a.t.Add(ast.Node{Kind: ast.KindExtends, Children: a.identifiers(class, pos), Pos: pos})
	if !a.seen(a.ti.Extends, ext) {
		a.ti.Extends = append(a.ti.Extends, a.adopt(ext))
	}
	return nil, nil
}

func (a *Analyzer) from(id ast.NodeID) ([]ast.NodeID, error) {
	n := a.src.Node(id)
	module := a.names(n.Children)
	ident := a.src.Name(n.Ident)
	bound := ident
	if n.Alias != ast.NoNode {
		bound = a.src.Name(n.Alias)
	}
	if n.Library {
		a.ti.LibraryIdentifiers.Add(bound)
		module = append(slices.Clone(a.baseExtends), module...)
	}
	pos := a.posOf(id)
	node := ast.Node{
		Kind:     ast.KindFrom,
		Children: a.identifiers(module, pos),
		Ident:    a.at(a.t.NewIdentifier(ident), pos),
		Library:  n.Library,
		Pos:      pos,
	}
	if n.Alias != ast.NoNode {
		node.Alias = a.at(a.t.NewIdentifier(bound), pos)
	}
	from := a.t.Add(node)
	if !a.seen(a.ti.Froms, from) {
		a.ti.Froms = append(a.ti.Froms, a.adopt(from))
	}
	a.ti.TrustedModules.Add(bound)
	return nil, nil
}

func (a *Analyzer) implements(id ast.NodeID) ([]ast.NodeID, error) {
	if name := a.src.Name(id); name == "library" {
		a.ti.Library = true
	} else {
		a.t.Node(a.ti.Main).Name = name
		a.ti.Implements = true
	}
	return nil, nil
}

func (a *Analyzer) global(id ast.NodeID) ([]ast.NodeID, error) {
	if a.src.Kind(a.src.Parent(id)) != ast.KindTemplate {
		return nil, a.errorf(id, "#global must be a top-level directive.")
	}
	a.ti.GlobalPlaceholders.Add(a.src.Name(id))
	return nil, nil
}

func (a *Analyzer) attribute(id ast.NodeID) ([]ast.NodeID, error) {
	n := a.shell(id)
	def, err := a.buildOne(a.src.Node(id).Default)
	if err != nil {
		return nil, err
	}
	n.Default = def
	a.ti.Attrs = append(a.ti.Attrs, a.adopt(a.t.Add(n)))
	return nil, nil
}

func (a *Analyzer) mode(id ast.NodeID) ([]ast.NodeID, error) {
	switch a.src.Kind(id) {
	case ast.KindAllowUndeclaredGlobals:
		a.ti.AllowUndeclaredGlobals = true
	case ast.KindLooseResolution:
		a.ti.LooseResolution = true
	case ast.KindAllowRaw:
		a.ti.AllowRaw = true
	}
	return nil, nil
}
