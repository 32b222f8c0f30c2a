package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neurodesk/tmplc/pkg/ast"
	"github.com/neurodesk/tmplc/pkg/parser"
)

func TestMacroRegistration(t *testing.T) {
	t.Parallel()

	r := NewMacros()
	noop := func(*Call) (string, error) { return "", nil }
	require.NoError(t, r.Register("macro_shout", noop, ""))
	require.NoError(t, r.Register("macro_function_upper", noop, parser.RuleRHSExpression))

	assert.ErrorIs(t, r.Register("shout", noop, ""), ErrInvalidMacro)
	assert.ErrorIs(t, r.Register("macro_", noop, ""), ErrInvalidMacro)
	assert.ErrorIs(t, r.Register("macro_x", nil, ""), ErrInvalidMacro)

	assert.Equal(t, []string{"macro_function_upper", "macro_shout"}, r.Names())
	assert.Equal(t, []string{"shout"}, r.BlockNames())

	m, ok := r.Lookup("macro_function_upper")
	require.True(t, ok)
	assert.Equal(t, parser.RuleRHSExpression, m.Rule)

	c := r.Clone()
	require.NoError(t, c.Register("macro_extra", noop, ""))
	_, ok = r.Lookup("macro_extra")
	assert.False(t, ok)
}

func TestCallPositional(t *testing.T) {
	t.Parallel()

	tr, err := parser.ParseRule(parser.RuleRHSExpression, "f('a', $b, n=1)")
	require.NoError(t, err)
	call := &Call{Tree: tr, Node: tr.Root, Args: tr.ArgValues(tr.Node(tr.Root).Args)}
	assert.Equal(t, []any{"a", nil}, call.Positional())
	assert.Equal(t, map[string]any{"n": int64(1)}, call.Args)
}

const shoutScript = `
def expand(m):
    n = get_context("shouts", 0) + 1
    set_context("shouts", n)
    suffix = m["args"].get("suffix") or "!"
    return m["body"].upper().strip() + suffix
`

func TestStarlarkHandler(t *testing.T) {
	t.Parallel()

	h, err := NewStarlarkHandler("shout.star", shoutScript)
	require.NoError(t, err)

	tr, err := parser.Parse("#shout($suffix='?')\nhello\n#end shout\n", parser.WithMacros("shout"))
	require.NoError(t, err)
	node := tr.Children(tr.Root)[0]
	n := tr.Node(node)

	ctx := MacroContext{}
	call := &Call{
		Name:    "macro_shout",
		Tree:    tr,
		Node:    node,
		Body:    n.Value.(string),
		Args:    tr.ArgValues(n.Params),
		Context: ctx,
	}
	out, err := h(call)
	require.NoError(t, err)
	assert.Equal(t, "HELLO?", out)

	call.Args = map[string]any{"suffix": ast.NoParameter}
	out, err = h(call)
	require.NoError(t, err)
	assert.Equal(t, "HELLO!", out)
	assert.Equal(t, int64(2), ctx["shouts"])
}

func TestStarlarkHandlerErrors(t *testing.T) {
	t.Parallel()

	_, err := NewStarlarkHandler("bad.star", "def expand(m) oops")
	assert.ErrorIs(t, err, ErrInvalidMacro)

	_, err = NewStarlarkHandler("none.star", "x = 1\n")
	assert.ErrorIs(t, err, ErrInvalidMacro)

	h, err := NewStarlarkHandler("num.star", "def expand(m):\n    return 1\n")
	require.NoError(t, err)
	_, err = h(&Call{Name: "macro_num", Context: MacroContext{}})
	assert.ErrorIs(t, err, ErrMacroResult)

	dir := t.TempDir()
	path := filepath.Join(dir, "file.star")
	require.NoError(t, os.WriteFile(path, []byte("def expand(m):\n    return m['name']\n"), 0o644))
	h, err = NewStarlarkHandler(path, nil)
	require.NoError(t, err)
	out, err := h(&Call{Name: "macro_file", Context: MacroContext{}})
	require.NoError(t, err)
	assert.Equal(t, "macro_file", out)
}
