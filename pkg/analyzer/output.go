package analyzer

import (
	"fmt"

	"github.com/neurodesk/tmplc/pkg/ast"
	"github.com/neurodesk/tmplc/pkg/registry"
)

const defaultFormat = "%s"

// callInfo is what the function registry says about an output call.
type callInfo struct {
	registered   bool
	literalArgs  bool
	skipFilter   bool
	cacheForever bool
	neverCache   bool
}

func (a *Analyzer) describeCall(id ast.NodeID) callInfo {
	var ci callInfo
	call := a.t.Node(id)
	if call == nil || call.Kind != ast.KindCallFunction {
		return ci
	}
	switch k := a.t.Kind(call.Expr); {
	case (k == ast.KindPlaceholder || k == ast.KindIdentifier) && a.functions.Contains(a.t.Name(call.Expr)):
		name := a.t.Name(call.Expr)
		ci.registered = true
		ci.literalArgs = a.literalArgs(call.Args)
		skip, _ := a.functions.Value(name, registry.SkipFilter)
		unlessBaked, _ := a.functions.Value(name, registry.SkipFilterUnlessBaked)
		ci.skipFilter = skip || (!a.ti.Baked && unlessBaked)
		ci.cacheForever, _ = a.functions.Value(name, registry.CacheForever)
		ci.neverCache, _ = a.functions.Value(name, registry.NeverCache)
	case call.Library:
		ci.skipFilter = true
	}
	return ci
}

func (a *Analyzer) literalArgs(list ast.NodeID) bool {
	args := a.t.Children(list)
	if len(args) == 0 {
		return false
	}
	for _, id := range args {
		if a.t.Kind(id) != ast.KindLiteral {
			return false
		}
	}
	return true
}

// placeholderSubstitution lowers `$expr` and `${expr|args}` into a buffer
// write, adding the filter and cache the output needs.
func (a *Analyzer) placeholderSubstitution(id ast.NodeID) ([]ast.NodeID, error) {
	src := a.src.Node(id)
	args := a.src.ArgValues(src.Params)
	format := defaultFormat
	if f, ok := args["format_string"].(string); ok {
		format = f
	}
	pos := a.posOf(id)

	a.direct = format == defaultFormat
	built, err := a.build(src.Expr)
	a.direct = false
	if err != nil {
		return nil, err
	}
	if len(built) == 0 {
		return nil, nil
	}
	expr := built[0]
	if a.t.Kind(expr).IsStatement() {
		return built, nil
	}

	var out []ast.NodeID
	filtered := a.opts.EnableFilters && format == defaultFormat
	if filtered && a.t.Kind(expr) != ast.KindLiteral {
		if _, raw := args["raw"]; raw {
			a.usesRaw = true
			if a.opts.NoRaw && !a.ti.AllowRaw {
				return nil, a.errorf(id, "|raw is not allowed in templates compiled with the --no-raw flag.")
			}
		} else {
			ci := a.describeCall(expr)
			expr = a.filter(id, expr, ci.skipFilter)
			_, cacheArg := args["cache"]
			if !ci.neverCache && ((ci.registered && ci.literalArgs) || ci.cacheForever || cacheArg) {
				cache := a.cache(expr, pos)
				out = append(out, cache)
				expr = a.at(a.t.NewIdentifier(a.t.Name(cache)), pos)
			}
		}
	}

	if a.t.Kind(expr) == ast.KindLiteral || filtered {
		return append(out, a.at(a.t.NewBufferWrite(expr), pos)), nil
	}
	fmtLit := a.at(a.t.NewLiteral(format), pos)
	bin := a.at(a.t.NewBinOp("%", fmtLit, expr), pos)
	return append(out, a.at(a.t.NewBufferWrite(bin), pos)), nil
}

// filter wraps expr in the filter selected by the substitution's arguments.
func (a *Analyzer) filter(site, expr ast.NodeID, skip bool) ast.NodeID {
	pos := a.posOf(site)
	if skip {
		return a.at(a.t.NewFilter(expr, ast.FilterNone, ast.NoNode), pos)
	}
	if f := a.src.ArgNodes(a.src.Node(site).Params)["filter"]; f != ast.NoNode {
		return a.at(a.t.NewFilter(expr, ast.FilterCustom, a.t.Import(a.src, f)), pos)
	}
	return a.at(a.t.NewFilter(expr, ast.FilterDefault, ast.NoNode), pos)
}

// cache binds a filtered expression to a per-instance cache slot named after
// its structural hash.
func (a *Analyzer) cache(expr ast.NodeID, pos int) ast.NodeID {
	name := fmt.Sprintf("_cph%08X", a.t.Hash32(expr))
	id := a.t.Add(ast.Node{Kind: ast.KindCache, Name: name, Expr: expr, Pos: pos})
	if !a.seen(a.ti.CachedIdentifiers, id) {
		a.ti.CachedIdentifiers = append(a.ti.CachedIdentifiers, id)
	}
	return id
}

// callFunction lowers a call and decides its sanitization state once the
// callee is known. direct is set when the call is the value of an output
// site.
func (a *Analyzer) callFunction(id ast.NodeID, direct bool) ([]ast.NodeID, error) {
	src := a.src.Node(id)
	callee := a.src.Node(src.Expr)
	var (
		library string
		state   ast.SanitizationState
	)
	switch {
	case callee == nil:
	case callee.Kind == ast.KindPlaceholder:
		name := callee.Name
		if a.functions.Contains(name) {
			a.ti.UsedRegistryFunctions.Add(name)
		}
		if m, ok := a.macros.Lookup(registry.FunctionPrefix + name); ok {
			return a.expand(id, m, false)
		}
		skip, registered := a.functions.Value(name, registry.SkipFilter)
		switch {
		case a.ti.TemplateMethods.Has(name):
			state = ast.SanitizedString
			if a.ti.Library {
				library = name
			}
		case registered && skip:
			state = ast.Sanitized
		case registered:
			state = ast.Unsanitized
		case direct:
			state = ast.OutputtedImmediately
		}
	case callee.Kind == ast.KindGetUDN:
		if chain, ok := placeholderChain(a.src, callee.Expr); ok && a.ti.LibraryIdentifiers.Has(chain) {
			library = chain + "." + callee.Name
		}
	}

	n := a.shell(id)
	pos := n.Pos
	if library != "" {
		n.Expr = a.at(a.t.NewIdentifier(library), pos)
		n.Library = true
		state = ast.SanitizedString
	} else {
		expr, err := a.buildOne(src.Expr)
		if err != nil {
			return nil, err
		}
		n.Expr = expr
	}
	args, err := a.buildOne(src.Args)
	if err != nil {
		return nil, err
	}
	if args == ast.NoNode {
		args = a.at(a.t.NewArgList(), pos)
	}
	if library != "" {
		if err := a.t.Prepend(args, a.at(a.t.NewIdentifier("self"), pos)); err != nil {
			return nil, err
		}
	}
	n.Args = args
	call := a.t.Add(n)

	switch {
	case a.discard > 0:
		state = ast.NotOutputted
	case state == ast.SanitizationUnset:
		state = ast.Unknown
	}
	if err := a.t.SetSanitization(call, state); err != nil {
		return nil, err
	}
	return []ast.NodeID{call}, nil
}
