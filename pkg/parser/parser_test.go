package parser

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neurodesk/tmplc/pkg/ast"
	"github.com/neurodesk/tmplc/pkg/diag"
)

func kinds(t *ast.Tree, ids []ast.NodeID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, t.Kind(id).String())
	}
	return out
}

func TestTextAndPlaceholders(t *testing.T) {
	t.Parallel()

	tr, err := Parse("Hello $name.first!")
	require.NoError(t, err)
	root := tr.Node(tr.Root)
	require.Equal(t, ast.KindTemplate, root.Kind)
	require.Equal(t, []string{"Text", "PlaceholderSubstitution", "Text"}, kinds(tr, root.Children))

	sub := tr.Node(root.Children[1])
	udn := tr.Node(sub.Expr)
	assert.Equal(t, ast.KindGetUDN, udn.Kind)
	assert.Equal(t, "first", udn.Name)
	assert.Equal(t, "name", tr.Name(udn.Expr))
	assert.Equal(t, "!", tr.Node(root.Children[2]).Value)
}

func TestBracedPlaceholderWithParameters(t *testing.T) {
	t.Parallel()

	tr, err := Parse(`${foo(1, x='a')|filter=None, raw=True}`)
	require.NoError(t, err)
	sub := tr.Node(tr.Children(tr.Root)[0])
	require.Equal(t, ast.KindPlaceholderSubstitution, sub.Kind)

	call := tr.Node(sub.Expr)
	require.Equal(t, ast.KindCallFunction, call.Kind)
	args := tr.Children(call.Args)
	require.Equal(t, []string{"Literal", "Parameter"}, kinds(tr, args))
	assert.Equal(t, int64(1), tr.Node(args[0]).Value)
	assert.Equal(t, "x", tr.Name(args[1]))

	params := tr.Children(sub.Params)
	require.Len(t, params, 2)
	assert.Equal(t, "None", tr.Name(tr.Node(params[0]).Default))
	assert.Equal(t, true, tr.Node(tr.Node(params[1]).Default).Value)
}

func TestEscapedDollarAndStrayHash(t *testing.T) {
	t.Parallel()

	tr, err := Parse(`costs \$5 #notadirective`)
	require.NoError(t, err)
	var text string
	for _, id := range tr.Children(tr.Root) {
		if s, ok := tr.Node(id).Value.(string); ok {
			text += s
		}
	}
	assert.Equal(t, "costs $5 #notadirective", text)
}

func TestDefWithParameters(t *testing.T) {
	t.Parallel()

	tr, err := Parse("#def greet($who, $greeting='hi')\n$greeting $who\n#end def\n")
	require.NoError(t, err)
	def := tr.Node(tr.Children(tr.Root)[0])
	require.Equal(t, ast.KindDef, def.Kind)
	assert.Equal(t, "greet", def.Name)

	params := tr.Children(def.Params)
	require.Len(t, params, 2)
	assert.Equal(t, "who", tr.Name(params[0]))
	assert.Equal(t, ast.NoNode, tr.Node(params[0]).Default)
	assert.Equal(t, "hi", tr.Node(tr.Node(params[1]).Default).Value)
	assert.Equal(t, []string{"PlaceholderSubstitution", "Whitespace", "PlaceholderSubstitution", "Newline"}, kinds(tr, def.Children))
}

func TestIfElifElse(t *testing.T) {
	t.Parallel()

	src := "#if $a\nA\n#elif $b\nB\n#else\nC\n#end if\n"
	tr, err := Parse(src)
	require.NoError(t, err)
	ifID := tr.Children(tr.Root)[0]
	ifNode := tr.Node(ifID)
	require.Equal(t, ast.KindIf, ifNode.Kind)
	assert.Equal(t, "a", tr.Name(ifNode.Test))

	elseArm := tr.Children(ifNode.Else)
	require.Len(t, elseArm, 1)
	elif := tr.Node(elseArm[0])
	require.Equal(t, ast.KindIf, elif.Kind)
	assert.Equal(t, "b", tr.Name(elif.Test))
	assert.Equal(t, []string{"Text", "Newline"}, kinds(tr, tr.Children(elif.Else)))
}

func TestForTargets(t *testing.T) {
	t.Parallel()

	tr, err := Parse("#for $k, ($a, $b) in $items\n$k\n#end for")
	require.NoError(t, err)
	loop := tr.Node(tr.Children(tr.Root)[0])
	require.Equal(t, ast.KindFor, loop.Kind)

	targets := tr.Children(loop.Targets)
	require.Equal(t, []string{"Target", "TargetList"}, kinds(tr, targets))
	assert.Equal(t, "k", tr.Name(targets[0]))
	assert.Len(t, tr.Children(targets[1]), 2)

	iter := tr.Children(loop.Iter)
	require.Len(t, iter, 1)
	assert.Equal(t, "items", tr.Name(iter[0]))
}

func TestStatements(t *testing.T) {
	t.Parallel()

	src := "#extends base.page\n" +
		"#from a.b import library c as d\n" +
		"#import library util\n" +
		"#implements render\n" +
		"#attr $title = 'T'\n" +
		"#filter escape\n" +
		"#set $x = 1\n" +
		"#set $m[0] = 2\n" +
		"#echo 'y' if $x else 'n'\n" +
		"#do $f()\n" +
		"#global $g\n" +
		"#loose_resolution\n" +
		"#allow_undeclared_globals\n" +
		"#allow_raw\n"
	tr, err := Parse(src)
	require.NoError(t, err)

	var got []string
	for _, id := range tr.Children(tr.Root) {
		if !tr.Kind(id).IsBlank() {
			got = append(got, tr.Kind(id).String())
		}
	}
	assert.Equal(t, []string{
		"Extends", "From", "Import", "Implements", "Attribute", "FilterAttribute",
		"Assign", "Assign", "Echo", "Do", "Global", "LooseResolution",
		"AllowUndeclaredGlobals", "AllowRaw",
	}, got)

	from := tr.Node(tr.Children(tr.Root)[1])
	assert.True(t, from.Library)
	assert.Equal(t, "c", tr.Name(from.Ident))
	assert.Equal(t, "d", tr.Name(from.Alias))
	assert.Len(t, from.Children, 2)

	sliceSet := tr.Node(tr.Children(tr.Root)[7])
	assert.Equal(t, ast.KindSlice, tr.Kind(sliceSet.Left))

	echo := tr.Node(tr.Children(tr.Root)[8])
	assert.Equal(t, "y", tr.Node(echo.Left).Value)
	assert.Equal(t, "n", tr.Node(echo.Right).Value)
}

func TestAttributeAssignIsRejected(t *testing.T) {
	t.Parallel()

	_, err := Parse("#set $a.b = 1\n")
	require.Error(t, err)
	var pe *diag.ParseError
	require.True(t, errors.As(err, &pe))
	assert.True(t, errors.Is(err, diag.ErrParse))
}

func TestCommentsAndSlurp(t *testing.T) {
	t.Parallel()

	tr, err := Parse("a## note\nb#* block\n*#c#slurp\nd")
	require.NoError(t, err)
	assert.Equal(t, []string{"Text", "Comment", "Text", "Comment", "Text", "Comment", "Text"}, kinds(tr, tr.Children(tr.Root)))
	assert.Equal(t, "slurp", tr.Node(tr.Children(tr.Root)[5]).Value)
}

func TestOptionalWhitespace(t *testing.T) {
	t.Parallel()

	tr, err := Parse("x\n  #set $a = 1\n  $a\n")
	require.NoError(t, err)
	assert.Equal(t,
		[]string{"Text", "Newline", "OptionalWhitespace", "Assign", "Whitespace", "PlaceholderSubstitution", "Newline"},
		kinds(tr, tr.Children(tr.Root)))

	t.Run("trailing indent before end", func(t *testing.T) {
		tr, err := Parse("#if $a\n  x\n  #end if\n")
		require.NoError(t, err)
		body := tr.Children(tr.Children(tr.Root)[0])
		require.NotEmpty(t, body)
		assert.Equal(t, ast.KindOptionalWhitespace, tr.Kind(body[len(body)-1]))
	})
}

func TestExpressionPrecedence(t *testing.T) {
	t.Parallel()

	tr, err := ParseRule(RuleRHSExpression, "1 + 2 * 3 == 7 and not $x or $y in [1, 2]")
	require.NoError(t, err)
	or := tr.Node(tr.Root)
	require.Equal(t, "or", or.Operator)
	and := tr.Node(or.Left)
	require.Equal(t, "and", and.Operator)
	eq := tr.Node(and.Left)
	require.Equal(t, "==", eq.Operator)
	plus := tr.Node(eq.Left)
	require.Equal(t, ast.KindBinOp, plus.Kind)
	require.Equal(t, "+", plus.Operator)
	assert.Equal(t, "*", tr.Node(plus.Right).Operator)
	assert.Equal(t, ast.KindUnaryOp, tr.Kind(and.Right))

	in := tr.Node(or.Right)
	assert.Equal(t, "in", in.Operator)
	assert.Equal(t, ast.KindListLiteral, tr.Kind(in.Right))
}

func TestLiterals(t *testing.T) {
	t.Parallel()

	cases := []struct {
		src  string
		want any
	}{
		{`'a\'b'`, "a'b"},
		{`"line\n"`, "line\n"},
		{"42", int64(42)},
		{"-3", int64(-3)},
		{"2.5", 2.5},
		{"True", true},
		{"False", false},
	}
	for _, tc := range cases {
		t.Run(tc.src, func(t *testing.T) {
			tr, err := ParseRule(RuleRHSExpression, tc.src)
			require.NoError(t, err)
			assert.Equal(t, tc.want, tr.Node(tr.Root).Value)
		})
	}

	tr, err := ParseRule(RuleRHSExpression, "{'k': None}")
	require.NoError(t, err)
	dict := tr.Node(tr.Root)
	require.Equal(t, ast.KindDictLiteral, dict.Kind)
	assert.Equal(t, []string{"Literal", "Identifier"}, kinds(tr, dict.Children))
}

func TestKeywordArgumentOrder(t *testing.T) {
	t.Parallel()

	_, err := ParseRule(RuleRHSExpression, "f(a=1, 2)")
	require.Error(t, err)
	assert.ErrorIs(t, err, diag.ErrParse)
}

func TestMacros(t *testing.T) {
	t.Parallel()

	tr, err := Parse("#i18n($count=1)\nHello $name\n#end i18n\n")
	require.NoError(t, err)
	m := tr.Node(tr.Children(tr.Root)[0])
	require.Equal(t, ast.KindMacro, m.Kind)
	assert.Equal(t, "i18n", m.Name)
	assert.Equal(t, "Hello $name\n", m.Value)
	assert.Len(t, tr.Children(m.Params), 1)

	_, err = Parse("#shout\nhey\n#end shout\n")
	require.Error(t, err, "unregistered macros fall through to text and the stray #end fails")

	tr, err = Parse("#shout\nhey\n#end shout\n", WithMacros("shout"))
	require.NoError(t, err)
	assert.Equal(t, "hey\n", tr.Node(tr.Children(tr.Root)[0]).Value)
}

func TestI18NGoal(t *testing.T) {
	t.Parallel()

	tr, err := ParseRule(RuleI18N, "Hi $name, #1 ${count}")
	require.NoError(t, err)
	require.Equal(t, ast.KindFragment, tr.Kind(tr.Root))
	assert.Equal(t,
		[]string{"Text", "PlaceholderSubstitution", "Text", "Text", "Text", "PlaceholderSubstitution"},
		kinds(tr, tr.Children(tr.Root)))
}

func TestParseErrors(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"unterminated if":      "#if $a\nx\n",
		"mismatched end":       "#for $x in $y\n#end if\n",
		"stray end":            "#end if\n",
		"unterminated comment": "#* never closed",
		"unterminated string":  "$f('abc)",
		"missing in":           "#for $x of $y\n#end for\n",
	}
	for name, src := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(src)
			require.Error(t, err)
			var pe *diag.ParseError
			require.ErrorAs(t, err, &pe)
			assert.GreaterOrEqual(t, pe.Pos, 0)
		})
	}

	_, err := ParseRule(Rule("bogus"), "x")
	assert.ErrorIs(t, err, ErrUnknownRule)
}
