// Package macros provides the built-in macro handlers.
package macros

import (
	"fmt"
	"strings"

	"github.com/neurodesk/tmplc/pkg/ast"
	"github.com/neurodesk/tmplc/pkg/diag"
	"github.com/neurodesk/tmplc/pkg/parser"
	"github.com/neurodesk/tmplc/pkg/registry"
)

var mangled = map[rune]rune{
	'a': 'å', 'b': 'þ', 'c': 'ĉ', 'd': 'ď', 'e': 'è',
	'f': 'ƒ', 'g': 'ĝ', 'h': 'ħ', 'i': 'ĩ', 'j': 'ĵ',
	'k': 'ķ', 'l': 'ĺ', 'm': 'ℳ', 'n': 'ń', 'o': 'ð',
	'p': 'ρ', 'q': 'ǫ', 'r': 'ř', 's': 'ś', 't': 'ŧ',
	'u': 'ȕ', 'v': 'ṽ', 'w': 'ẉ', 'x': 'ẋ', 'y': 'γ',
	'z': 'ȥ',
	'A': 'Â', 'B': 'ß', 'C': 'Ć', 'D': 'Đ', 'E': 'Ē',
	'F': 'Ḟ', 'G': 'Ĝ', 'H': 'Ĥ', 'I': 'Ī', 'J': 'Ĵ',
	'K': 'Ķ', 'L': 'Ĺ', 'M': 'Ṁ', 'N': 'Ń', 'O': 'Ŏ',
	'P': 'Ṗ', 'Q': 'Ǭ', 'R': 'Ř', 'S': 'Ś', 'T': 'Ŧ',
	'U': 'Ũ', 'V': 'Ṽ', 'W': 'Ŵ', 'X': 'Ж', 'Y': 'Ŷ',
	'Z': 'Ź',
}

// Mangle swaps ASCII letters for look-alike non-ASCII letters. It stands in
// for a translation so unicode handling can be checked end to end.
func Mangle(msg string) string {
	return strings.Map(func(r rune) rune {
		if m, ok := mangled[r]; ok {
			return m
		}
		return r
	}, msg)
}

// I18N handles `#i18n ... #end i18n`. Message text is translated and
// placeholder expressions are copied through verbatim.
func I18N(call *registry.Call) (string, error) {
	tr, err := parser.ParseRule(parser.RuleI18N, call.Body)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	kids := tr.Children(tr.Root)
	for i, id := range kids {
		n := tr.Node(id)
		if n.Kind == ast.KindPlaceholderSubstitution {
			end := len(call.Body)
			if i+1 < len(kids) {
				end = tr.Node(kids[i+1]).Pos
			}
			b.WriteString(call.Body[n.Pos:end])
			continue
		}
		s, _ := n.Value.(string)
		b.WriteString(Mangle(s))
	}
	return b.String(), nil
}

// I18NFunction handles `$i18n('message')`, replacing the call with a
// translated string literal.
func I18NFunction(call *registry.Call) (string, error) {
	n := call.Tree.Node(call.Node)
	args := call.Tree.PositionalArgs(n.Args)
	if len(args) == 0 {
		return "", diag.Semanticf(n.Pos, call.Tree.Describe(call.Node), "$i18n requires a message argument")
	}
	msg := call.Tree.Node(args[0])
	s, ok := msg.Value.(string)
	if msg.Kind != ast.KindLiteral || !ok {
		return "", diag.Semanticf(msg.Pos, call.Tree.Describe(args[0]),
			"$i18n argument %s must be a string literal", call.Tree.Describe(args[0]))
	}
	return fmt.Sprintf("'%s'", strings.ReplaceAll(Mangle(s), "'", `\'`)), nil
}

// Register installs the i18n handlers into r.
func Register(r *registry.Macros) error {
	if err := r.Register("macro_i18n", I18N, ""); err != nil {
		return err
	}
	return r.Register("macro_function_i18n", I18NFunction, "")
}
