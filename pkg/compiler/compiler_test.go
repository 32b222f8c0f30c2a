package compiler

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/neurodesk/tmplc/pkg/ast"
	"github.com/neurodesk/tmplc/pkg/diag"
	"github.com/neurodesk/tmplc/pkg/options"
	"github.com/neurodesk/tmplc/pkg/registry"
)

func level(t *testing.T, n int) *options.Options {
	t.Helper()
	o, err := options.ForLevel(n)
	require.NoError(t, err)
	return o
}

func count(t *ast.Tree, k ast.Kind) int {
	n := 0
	for _, id := range ast.Flatten(t, t.Root) {
		if t.Kind(id) == k {
			n++
		}
	}
	return n
}

func TestNewOptions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		opt  FunctionalOption
		want error
	}{
		{"nil handler", WithLogHandler(nil), ErrInvalidOption},
		{"nil logger", WithLogger(nil), ErrInvalidOption},
		{"nil options", WithOptions(nil), ErrInvalidOption},
		{"nil registry", WithFunctionRegistry(nil), ErrInvalidOption},
		{"nil templates", WithTemplates(nil), ErrInvalidOption},
		{"bad macro name", WithMacro("greet", func(*registry.Call) (string, error) { return "", nil }, ""), registry.ErrInvalidMacro},
		{"missing script", WithStarlarkMacro("macro_missing", filepath.Join(t.TempDir(), "missing.star"), ""), ErrInvalidOption},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := New(tt.opt)
			require.ErrorIs(t, err, tt.want)
		})
	}

	t.Run("invalid option set", func(t *testing.T) {
		t.Parallel()

		opts := options.Default()
		opts.IncludePath = ""
		_, err := New(WithOptions(opts))
		require.ErrorIs(t, err, options.ErrInvalidOptions)
	})
}

func TestOptionsAreCopied(t *testing.T) {
	t.Parallel()

	opts := level(t, 2)
	c, err := New(WithOptions(opts))
	require.NoError(t, err)

	opts.AliasInvariants = false
	assert.True(t, c.Options().AliasInvariants)
	c.Options().AliasInvariants = false
	assert.True(t, c.Options().AliasInvariants)
}

func TestCompileStages(t *testing.T) {
	t.Parallel()

	c, err := New(WithOptions(level(t, 3)))
	require.NoError(t, err)

	res, err := c.Compile("#def foo($a)\n$a\n$b\n#end def\n", "TestTemplate")
	require.NoError(t, err)
	assert.Equal(t, "TestTemplate", res.Classname)

	for _, s := range Stages {
		tr, err := res.Tree(s)
		require.NoError(t, err)
		require.NotNil(t, tr, s)
		out, err := res.Dump(s)
		require.NoError(t, err)
		assert.NotEmpty(t, out)
	}
	assert.Equal(t, ast.KindTemplate, res.Analyzed.Kind(res.Analyzed.Root))

	// $a is a parameter; $b is looked up once and cached.
	assert.Equal(t, 2, count(res.Analyzed, ast.KindPlaceholder))
	assert.Equal(t, 1, count(res.Optimized, ast.KindPlaceholder))
	assert.NotEqual(t, ast.Pretty(res.Analyzed, res.Analyzed.Root), ast.Pretty(res.Optimized, res.Optimized.Root))

	_, err = res.Tree("bogus")
	require.ErrorIs(t, err, ErrUnknownStage)
}

func TestParseStage(t *testing.T) {
	t.Parallel()

	for _, s := range Stages {
		got, err := ParseStage(string(s))
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}
	_, err := ParseStage("lowered")
	require.ErrorIs(t, err, ErrUnknownStage)
}

func TestStagesAreIndependent(t *testing.T) {
	t.Parallel()

	c, err := New(WithOptions(level(t, 3)))
	require.NoError(t, err)
	res, err := c.Compile("#def foo($a)\n$a\n#end def\n", "TestTemplate")
	require.NoError(t, err)

	before := ast.Pretty(res.Analyzed, res.Analyzed.Root)
	fn := res.Optimized.Children(res.Optimized.Root)
	require.NotEmpty(t, fn)
	require.NoError(t, res.Optimized.Append(fn[0], res.Optimized.NewBufferWrite(res.Optimized.NewLiteral("extra"))))
	assert.Equal(t, before, ast.Pretty(res.Analyzed, res.Analyzed.Root))
	assert.NotEqual(t, ast.Pretty(res.Optimized, res.Optimized.Root), ast.Pretty(res.Final, res.Final.Root))
}

func TestCompileErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		src   string
		stage Stage
		kind  error
	}{
		{"parse", "#if\n", StageParse, diag.ErrParse},
		{"analyze", "#for $i in $items\n#end for\n", StageAnalyzed, diag.ErrSemantic},
		{"optimize", "#def foo\n#set $foo[1] = 1\n#end def\n", StageOptimized, diag.ErrSemantic},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c, err := New(WithSource("page.spt"))
			require.NoError(t, err)
			_, err = c.Compile(tt.src, "Page")
			require.Error(t, err)

			var se *StageError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tt.stage, se.Stage)
			assert.ErrorIs(t, err, tt.kind)
			assert.Contains(t, err.Error(), "page.spt")
		})
	}

	c, err := New()
	require.NoError(t, err)
	_, err = c.Compile("x", "")
	require.ErrorIs(t, err, ErrEmptyClassname)
}

func TestWarnings(t *testing.T) {
	t.Parallel()

	const src = "#def foo\n#set $foo = 1\n$foo\n#set $foo = 2\n#end def\n"
	base := func() *options.Options {
		o := options.Default()
		o.DirectlyAccessDefinedVariables = true
		o.CacheFilteredPlaceholders = true
		o.EnableWarnings = true
		return o
	}

	var buf bytes.Buffer
	c, err := New(WithOptions(base()), WithLogHandler(slog.NewTextHandler(&buf, nil)))
	require.NoError(t, err)
	_, err = c.Compile(src, "TestTemplate")
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Multiple assignment of foo")

	strict := base()
	strict.WarningsAsErrors = true
	c, err = New(WithOptions(strict))
	require.NoError(t, err)
	_, err = c.Compile(src, "TestTemplate")
	require.ErrorIs(t, err, diag.ErrWarning)
}

func TestMacroContextIsPerCompile(t *testing.T) {
	t.Parallel()

	var seen []int
	counter := func(call *registry.Call) (string, error) {
		n, _ := call.Context["count"].(int)
		seen = append(seen, n)
		call.Context["count"] = n + 1
		return "'x'", nil
	}
	c, err := New(WithMacro("macro_function_count", counter, ""))
	require.NoError(t, err)

	for range 2 {
		_, err := c.Compile("$count() $count()\n", "TestTemplate")
		require.NoError(t, err)
	}
	assert.Equal(t, []int{0, 1, 0, 1}, seen)
}

func TestStarlarkMacro(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "shout.star")
	script := "def expand(m):\n    return repr(m['positional'][0].upper())\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o644))

	c, err := New(WithStarlarkMacro("macro_function_shout", path, ""))
	require.NoError(t, err)
	res, err := c.Compile("$shout('hi')\n", "TestTemplate")
	require.NoError(t, err)

	var found bool
	for _, id := range ast.Flatten(res.Analyzed, res.Analyzed.Root) {
		if n := res.Analyzed.Node(id); n.Kind == ast.KindLiteral && n.Value == "HI" {
			found = true
		}
	}
	assert.True(t, found, ast.Pretty(res.Analyzed, res.Analyzed.Root))
}

func TestDependencyAnalysisTemplates(t *testing.T) {
	t.Parallel()

	opts := level(t, 2)
	templates := fstest.MapFS{"base/page.tmpl": {Data: []byte("#def title\n#end def\n")}}
	c, err := New(WithOptions(opts), WithTemplates(templates))
	require.NoError(t, err)

	res, err := c.Compile("#extends base.page\n#def body\n$title\n#end def\n", "TestTemplate")
	require.NoError(t, err)
	assert.True(t, res.Optimized.Template.TemplateMethods.Has("title"))
	assert.False(t, res.Analyzed.Template.TemplateMethods.Has("title"))
}

func TestConcurrentCompile(t *testing.T) {
	t.Parallel()

	fns, err := registry.NewFunctions(registry.Function{Alias: "reg_f", Name: "module.reg_f"})
	require.NoError(t, err)
	c, err := New(WithOptions(level(t, 3)), WithFunctionRegistry(fns))
	require.NoError(t, err)

	var g errgroup.Group
	results := make([]*Result, 8)
	for i := range results {
		g.Go(func() error {
			src := fmt.Sprintf("#def foo($bar)\n#for $i in $bar\n$reg_f($i, %d)\n#end for\n#end def\n", i)
			res, err := c.Compile(src, fmt.Sprintf("T%d", i))
			results[i] = res
			return err
		})
	}
	require.NoError(t, g.Wait())
	for i, res := range results {
		assert.Equal(t, fmt.Sprintf("T%d", i), res.Classname)
		assert.True(t, res.Final.Template.UsedRegistryFunctions.Has("reg_f"))
	}
}

func TestStageErrorUnwrap(t *testing.T) {
	t.Parallel()

	inner := errors.New("boom")
	err := &StageError{Stage: StageFinal, Source: &diag.Source{Name: "x.spt"}, Err: inner}
	assert.ErrorIs(t, err, inner)
	assert.Equal(t, "final: x.spt: boom", err.Error())
}
