package optimizer

import (
	"io/fs"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neurodesk/tmplc/pkg/analyzer"
	"github.com/neurodesk/tmplc/pkg/ast"
	"github.com/neurodesk/tmplc/pkg/diag"
	"github.com/neurodesk/tmplc/pkg/macros"
	"github.com/neurodesk/tmplc/pkg/options"
	"github.com/neurodesk/tmplc/pkg/parser"
	"github.com/neurodesk/tmplc/pkg/registry"
)

var regF = registry.Function{Alias: "reg_f", Name: "module.reg_f"}

type pipeline struct {
	opts      *options.Options
	fns       []registry.Function
	reporter  *diag.Reporter
	templates fs.FS
	// final also runs the final pass.
	final bool
}

func (p pipeline) run(t *testing.T, src string) (*ast.Tree, error) {
	t.Helper()
	m := registry.NewMacros()
	require.NoError(t, macros.Register(m))
	parse, err := parser.Parse(src, parser.WithMacros(m.BlockNames()...))
	require.NoError(t, err)
	fns, err := registry.NewFunctions(p.fns...)
	require.NoError(t, err)
	opts := p.opts
	if opts == nil {
		opts = options.Default()
	}
	tr, err := analyzer.New(analyzer.Config{Options: opts, Functions: fns, Macros: m}).Analyze(parse, "TestTemplate")
	require.NoError(t, err)

	cfg := Config{Options: opts, Functions: fns, Reporter: p.reporter, Templates: p.templates}
	if p.templates == nil {
		cfg.Templates = fstest.MapFS{}
	}
	if err := New(cfg).Optimize(tr); err != nil {
		return tr, err
	}
	if p.final {
		return tr, NewFinalPass(cfg).Run(tr)
	}
	return tr, nil
}

func level(t *testing.T, n int) *options.Options {
	t.Helper()
	o, err := options.ForLevel(n)
	require.NoError(t, err)
	return o
}

func function(t *testing.T, tr *ast.Tree, name string) ast.NodeID {
	t.Helper()
	for _, id := range tr.Children(tr.Root) {
		if tr.Kind(id) == ast.KindFunction && tr.Name(id) == name {
			return id
		}
	}
	t.Fatalf("no function %s", name)
	return ast.NoNode
}

// assignsTo lists the direct children of block assigning a name with prefix.
func assignsTo(tr *ast.Tree, block ast.NodeID, prefix string) []ast.NodeID {
	var out []ast.NodeID
	for _, c := range tr.Children(block) {
		n := tr.Node(c)
		if n.Kind == ast.KindAssign && strings.HasPrefix(tr.Name(n.Left), prefix) {
			out = append(out, c)
		}
	}
	return out
}

func ofKind(tr *ast.Tree, id ast.NodeID, k ast.Kind) []ast.NodeID {
	var out []ast.NodeID
	for _, c := range ast.Flatten(tr, id) {
		if tr.Kind(c) == k {
			out = append(out, c)
		}
	}
	return out
}

func TestOptimizeRejectsNonTemplate(t *testing.T) {
	t.Parallel()

	require.ErrorIs(t, New(Config{}).Optimize(ast.New()), ErrNotTemplate)
	require.ErrorIs(t, New(Config{}).Optimize(nil), ErrNotTemplate)
	require.ErrorIs(t, NewFinalPass(Config{}).Run(ast.New()), ErrNotTemplate)
}

func TestUnexpectedKind(t *testing.T) {
	t.Parallel()

	tr := ast.NewTemplate("TestTemplate")
	fn := tr.NewFunction("test_function", tr.NewParameter("self", ast.NoNode))
	text := tr.Add(ast.Node{Kind: ast.KindText, Value: "x"})
	require.NoError(t, tr.Append(fn, text))
	require.NoError(t, tr.Append(tr.Root, fn))

	err := New(Config{}).Optimize(tr)
	require.ErrorIs(t, err, ErrUnexpectedKind)
	assert.ErrorIs(t, err, diag.ErrInternal)
}

func TestStaticAnalysisPartialLocals(t *testing.T) {
	t.Parallel()

	const notInScope = "Variable foo is not guaranteed to be in scope"
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{
			name:    "if without else",
			body:    "#if True\n#set $foo = 1\n#end if\n$foo\n",
			wantErr: notInScope,
		},
		{
			name:    "only in else",
			body:    "#if True\n#set $bar = 1\n#else\n#set $foo = 1\n#end if\n$foo\n",
			wantErr: notInScope,
		},
		{
			name: "both arms",
			body: "#if True\n#set $foo = 1\n#else\n#set $foo = 2\n#end if\n$foo\n",
		},
		{
			name: "nested arms all assign",
			body: "#if True\n#set $foo = 1\n#else\n#if True\n#set $foo = 2\n#else\n#set $foo = 3\n#end if\n#end if\n$foo\n",
		},
		{
			name:    "nested partial",
			body:    "#if True\n#set $foo = 1\n#else\n#if True\n#set $foo = 2\n#end if\n#end if\n$foo\n",
			wantErr: notInScope,
		},
		{
			name:    "used in a later conditional",
			body:    "#if True\n#set $foo = 1\n#end if\n#if True\n$foo\n#end if\n",
			wantErr: notInScope,
		},
		{
			name: "defined before the conditional",
			body: "#set $foo = 0\n#if True\n#set $foo = 1\n#end if\n$foo\n",
		},
		{
			name:    "assigned in a loop body",
			body:    "#for $i in []\n#set $foo = 1\n#end for\n$foo\n",
			wantErr: notInScope,
		},
		{
			name: "defined before the loop",
			body: "#set $foo = 0\n#for $i in []\n#set $foo = 1\n#end for\n$foo\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			opts := options.Default()
			opts.StaticAnalysis = true
			opts.DirectlyAccessDefinedVariables = true
			_, err := pipeline{opts: opts}.run(t, "#def foo\n"+tt.body+"#end def\n")
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, diag.ErrSemantic)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestPartialLocalsWithoutStaticAnalysis(t *testing.T) {
	t.Parallel()

	opts := options.Default()
	opts.DirectlyAccessDefinedVariables = true
	tr, err := pipeline{opts: opts}.run(t, "#def foo\n#if True\n#set $foo = 1\n#end if\n$foo\n#end def\n")
	require.NoError(t, err)

	fn := function(t, tr, "foo")
	assert.True(t, tr.Scope(fn).PartialLocalIdentifiers.Has("foo"))
	assert.NotEmpty(t, ofKind(tr, fn, ast.KindPlaceholder), "partial locals are still looked up")
}

func TestIndexAssignment(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		src     string
		wantErr bool
	}{
		{"before assignment", "#def foo\n#set $foo[1] = 1\n#end def\n", true},
		{"after assignment", "#def foo\n#set $foo = {}\n#set $foo[1] = 1\n#end def\n", false},
		{"inside a conditional", "#def foo\n#set $foo = {}\n#if True\n#set $foo[1] = 1\n#end if\n#end def\n", false},
		{"parameter", "#def foo($foo)\n#set $foo[1] = 1\n#end def\n", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			tr, err := pipeline{}.run(t, tt.src)
			if tt.wantErr {
				require.ErrorIs(t, err, diag.ErrSemantic)
				assert.Contains(t, err.Error(), "Expression foo being indexed must be defined before use")
				return
			}
			require.NoError(t, err)
			assert.True(t, tr.Scope(function(t, tr, "foo")).DirtyLocalIdentifiers.Has("foo"))
		})
	}
}

func TestDoubleAssignment(t *testing.T) {
	t.Parallel()

	const src = "#def foo\n#set $foo = 1\n$foo\n#set $foo = 2\n$foo\n#end def\n"
	base := func() *options.Options {
		o := options.Default()
		o.DirectlyAccessDefinedVariables = true
		o.CacheFilteredPlaceholders = true
		return o
	}

	t.Run("error", func(t *testing.T) {
		t.Parallel()

		opts := base()
		opts.DoubleAssignError = true
		_, err := pipeline{opts: opts}.run(t, src)
		require.ErrorIs(t, err, diag.ErrSemantic)
		assert.Contains(t, err.Error(), "Multiple assignment of foo")
	})

	t.Run("warning as error", func(t *testing.T) {
		t.Parallel()

		_, err := pipeline{opts: base(), reporter: &diag.Reporter{Enabled: true, AsErrors: true}}.run(t, src)
		require.ErrorIs(t, err, diag.ErrWarning)
		assert.Contains(t, err.Error(), "Multiple assignment of foo")
	})

	t.Run("warnings disabled", func(t *testing.T) {
		t.Parallel()

		_, err := pipeline{opts: base(), reporter: &diag.Reporter{AsErrors: true}}.run(t, src)
		require.NoError(t, err)
	})

	t.Run("no output between", func(t *testing.T) {
		t.Parallel()

		opts := base()
		opts.DoubleAssignError = true
		_, err := pipeline{opts: opts}.run(t, "#def foo\n#set $foo = 1\n#set $foo = 2\n$foo\n#end def\n")
		require.NoError(t, err)
	})
}

func TestFilterFunctionRenaming(t *testing.T) {
	t.Parallel()

	tr, err := pipeline{}.run(t, "#def foo\n#set $bar = self.filter_function(\"test\")\n#set $baz = self._filter_function(\"test\")\n#end def\n")
	require.NoError(t, err)

	names := ast.Set{}
	for _, id := range ofKind(tr, function(t, tr, "foo"), ast.KindIdentifier) {
		names.Add(tr.Name(id))
	}
	assert.True(t, names.Has("_self_filter_function"))
	assert.True(t, names.Has("_self_private_filter_function"))
	assert.Empty(t, ofKind(tr, function(t, tr, "foo"), ast.KindGetUDN))
}

func TestDirectAccess(t *testing.T) {
	t.Parallel()

	opts := options.Default()
	opts.DirectlyAccessDefinedVariables = true
	src := "#def foo($bar)\n$bar\n$len\n$other\n#end def\n#def other\n#end def\n"
	tr, err := pipeline{opts: opts}.run(t, src)
	require.NoError(t, err)

	fn := function(t, tr, "foo")
	idents := ast.Set{}
	for _, id := range ofKind(tr, fn, ast.KindIdentifier) {
		idents.Add(tr.Name(id))
	}
	assert.True(t, idents.Has("bar"), "parameter")
	assert.True(t, idents.Has("len"), "builtin")
	methods := ofKind(tr, fn, ast.KindTemplateMethodIdentifier)
	require.Len(t, methods, 1)
	assert.Equal(t, "other", tr.Name(methods[0]))
	assert.Empty(t, ofKind(tr, fn, ast.KindPlaceholder))
}

func TestCacheResolvedPlaceholders(t *testing.T) {
	t.Parallel()

	opts := options.Default()
	opts.DirectlyAccessDefinedVariables = true
	opts.CacheResolvedPlaceholders = true
	tr, err := pipeline{opts: opts}.run(t, "#def foo\n$bar\n$bar\n#end def\n")
	require.NoError(t, err)

	fn := function(t, tr, "foo")
	assigns := assignsTo(tr, fn, "_rph_bar")
	require.Len(t, assigns, 1, "the second lookup reuses the first")
	assert.Equal(t, ast.KindPlaceholder, tr.Kind(tr.Node(assigns[0]).Right))
	assert.True(t, tr.Scope(fn).LocalIdentifiers.Has("_rph_bar"))
}

func TestShortCircuitCaching(t *testing.T) {
	t.Parallel()

	opts := options.Default()
	opts.DirectlyAccessDefinedVariables = true
	opts.CacheResolvedPlaceholders = true
	tr, err := pipeline{opts: opts}.run(t, "#def foo\n#if $a and $b\nx\n#end if\n#end def\n")
	require.NoError(t, err)

	fn := function(t, tr, "foo")
	assert.Len(t, assignsTo(tr, fn, "_rph_a"), 1)
	assert.Empty(t, assignsTo(tr, fn, "_rph_b"))
	placeholders := ofKind(tr, fn, ast.KindPlaceholder)
	require.Len(t, placeholders, 2, "the cached lookup and the right operand")
}

func TestAliasInvariants(t *testing.T) {
	t.Parallel()

	build := func(base string) (*ast.Tree, ast.NodeID) {
		tr := ast.NewTemplate("TestTemplate")
		fn := tr.NewFunction("test_function", tr.NewParameter("self", ast.NoNode))
		for range 2 {
			write := tr.NewBufferWrite(tr.NewGetAttr(tr.NewIdentifier(base), "bar"))
			require.NoError(t, tr.Append(fn, write))
		}
		require.NoError(t, tr.Append(tr.Root, fn))
		return tr, fn
	}
	opts := options.Default()
	opts.AliasInvariants = true

	tests := []struct{ base, alias string }{
		{"foo", "_foo_bar"},
		{"_foo", "_foo_bar"},
	}
	for _, tt := range tests {
		tr, fn := build(tt.base)
		require.NoError(t, New(Config{Options: opts}).Optimize(tr))

		assigns := assignsTo(tr, fn, tt.alias)
		require.Len(t, assigns, 1, tt.base)
		assert.Equal(t, ast.KindGetAttr, tr.Kind(tr.Node(assigns[0]).Right))
		assert.Len(t, tr.Children(fn), 3)
		for _, c := range tr.Children(fn)[1:] {
			assert.Equal(t, tt.alias, tr.Name(tr.Node(c).Expr))
		}

		want := ast.NewTemplate("TestTemplate")
		wantFn := want.NewFunction("test_function", want.NewParameter("self", ast.NoNode))
		require.NoError(t, want.Append(wantFn,
			want.NewAssign(want.NewIdentifier(tt.alias), want.NewGetAttr(want.NewIdentifier(tt.base), "bar")),
			want.NewBufferWrite(want.NewIdentifier(tt.alias)),
			want.NewBufferWrite(want.NewIdentifier(tt.alias)),
		))
		assert.Equal(t, want.Hash(wantFn), tr.Hash(fn), tt.base)
		assert.True(t, tr.Equal(fn, want, wantFn), ast.Pretty(tr, fn))

		hash := tr.Hash(fn)
		require.NoError(t, New(Config{Options: opts}).Optimize(tr))
		assert.Equal(t, hash, tr.Hash(fn), "optimizing again changed %s", ast.Pretty(tr, fn))
	}
}

func TestOptimizeIsIdempotent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		src  string
		fns  []registry.Function
	}{
		{"cached placeholder", "#def foo\n$a\n$a\n#end def\n", nil},
		{"filtered call", "#def foo($bar)\n$reg_f($bar)\n$reg_f($bar)\n#end def\n", []registry.Function{regF}},
		{"cached in a loop", "#def foo($bar)\n#for $i in $bar\n$i.name $b\n#end for\n#end def\n", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			opts := level(t, 3)
			tr, err := pipeline{opts: opts, fns: tt.fns}.run(t, tt.src)
			require.NoError(t, err)
			fn := function(t, tr, "foo")
			before := ast.Pretty(tr, fn)
			hash := tr.Hash(fn)

			fns, err := registry.NewFunctions(tt.fns...)
			require.NoError(t, err)
			cfg := Config{Options: opts, Functions: fns, Templates: fstest.MapFS{}}
			require.NoError(t, New(cfg).Optimize(tr))
			assert.Equal(t, hash, tr.Hash(fn), "before:\n%s\nafter:\n%s", before, ast.Pretty(tr, fn))
		})
	}
}

func TestInlineHoistLoopInvariantAttr(t *testing.T) {
	t.Parallel()

	tr := ast.NewTemplate("TestTemplate")
	fn := tr.NewFunction("test_function", tr.NewParameter("self", ast.NoNode))
	targets := tr.Add(ast.Node{Kind: ast.KindTargetList, Children: []ast.NodeID{tr.Add(ast.Node{Kind: ast.KindTarget, Name: "i"})}})
	loop := tr.Add(ast.Node{Kind: ast.KindFor, Targets: targets, Iter: tr.NewIdentifier("items")})
	require.NoError(t, tr.Append(loop, tr.NewBufferWrite(tr.NewGetAttr(tr.NewIdentifier("foo"), "bar"))))
	require.NoError(t, tr.Append(fn, loop))
	require.NoError(t, tr.Append(tr.Root, fn))

	opts := options.Default()
	opts.AliasInvariants = true
	opts.InlineHoistLoopInvariantAliases = true
	require.NoError(t, New(Config{Options: opts}).Optimize(tr))

	assert.Len(t, assignsTo(tr, fn, "_foo_bar"), 1)
	assert.Empty(t, assignsTo(tr, loop, "_foo_bar"))
	assert.Equal(t, loop, tr.Children(fn)[1])
}

func TestRegistryImports(t *testing.T) {
	t.Parallel()

	tr, err := pipeline{opts: level(t, 2), fns: []registry.Function{regF}}.run(t, "$reg_f(1)\n")
	require.NoError(t, err)

	var from ast.NodeID
	for _, id := range tr.Template.Froms {
		if tr.Name(tr.Node(id).Alias) == "reg_f" {
			from = id
		}
	}
	require.NotEqual(t, ast.NoNode, from)
	n := tr.Node(from)
	assert.Equal(t, "reg_f", tr.Name(n.Ident))
	require.Len(t, n.Children, 1)
	assert.Equal(t, "module", tr.Name(n.Children[0]))
	assert.True(t, tr.Template.GlobalIdentifiers.Has("reg_f"))
	assert.Empty(t, ofKind(tr, tr.Template.Main, ast.KindPlaceholder))
}

func TestSanitizationSurvivesOptimization(t *testing.T) {
	t.Parallel()

	skipped := regF
	skipped.Decorators = []string{registry.SkipFilter}
	m := registry.NewMacros()
	require.NoError(t, macros.Register(m))
	parse, err := parser.Parse("#def foo($x)\n$reg_f($x)\n$f($x)\n$foo(1)\n#end def\n")
	require.NoError(t, err)
	fns, err := registry.NewFunctions(skipped)
	require.NoError(t, err)
	opts := level(t, 3)
	tr, err := analyzer.New(analyzer.Config{Options: opts, Functions: fns, Macros: m}).Analyze(parse, "TestTemplate")
	require.NoError(t, err)

	before := map[ast.NodeID]ast.SanitizationState{}
	for _, id := range ofKind(tr, tr.Root, ast.KindCallFunction) {
		before[id] = tr.Sanitization(id)
	}
	require.NotEmpty(t, before)

	cfg := Config{Options: opts, Functions: fns, Templates: fstest.MapFS{}}
	require.NoError(t, New(cfg).Optimize(tr))
	require.NoError(t, NewFinalPass(cfg).Run(tr))
	for id, state := range before {
		assert.Equal(t, state, tr.Sanitization(id), tr.Describe(id))
	}
}

func TestDependencyAnalysisAddsTemplateMethods(t *testing.T) {
	t.Parallel()

	templates := fstest.MapFS{
		"base/page.spt": {Data: []byte("#def title\nTitle\n#end def\n")},
	}
	opts := options.Default()
	opts.DirectlyAccessDefinedVariables = true
	opts.UseDependencyAnalysis = true
	opts.BaseExtendsPackage = ""
	tr, err := pipeline{opts: opts, templates: templates}.run(t, "#extends base.page\n#def foo\n$title\n#end def\n")
	require.NoError(t, err)

	assert.True(t, tr.Template.TemplateMethods.Has("title"))
	methods := ofKind(tr, function(t, tr, "foo"), ast.KindTemplateMethodIdentifier)
	require.Len(t, methods, 1)
	assert.Equal(t, "title", tr.Name(methods[0]))

	_, err = pipeline{opts: opts, templates: fstest.MapFS{}}.run(t, "#extends base.page\n#def foo\n#end def\n")
	require.ErrorIs(t, err, ErrMissingTemplate)
}
