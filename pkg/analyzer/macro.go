package analyzer

import (
	"github.com/neurodesk/tmplc/pkg/ast"
	"github.com/neurodesk/tmplc/pkg/diag"
	"github.com/neurodesk/tmplc/pkg/parser"
	"github.com/neurodesk/tmplc/pkg/registry"
)

func (a *Analyzer) parseOptions() []parser.Option {
	return []parser.Option{parser.WithMacros(a.macros.BlockNames()...)}
}

// macro expands a block macro such as `#i18n ... #end i18n`.
func (a *Analyzer) macro(id ast.NodeID) ([]ast.NodeID, error) {
	n := a.src.Node(id)
	name := registry.BlockPrefix + n.Name
	m, ok := a.macros.Lookup(name)
	if !ok {
		return nil, a.errorf(id, "no handler registered for '%s'", name)
	}
	body, _ := n.Value.(string)
	rule := m.Rule
	if rule == "" {
		rule = parser.RuleFragment
	}
	pre, err := parser.ParseRule(rule, body, a.parseOptions()...)
	if err != nil {
		return nil, &diag.MacroError{Macro: name, Phase: diag.MacroParse, Pos: a.posOf(id), Output: body, Err: err}
	}
	if usesRaw(pre) {
		a.usesRaw = true
	}
	return a.expand(id, m, true)
}

// usesRaw reports whether any substitution in t asks for unfiltered output.
func usesRaw(t *ast.Tree) bool {
	found := ast.Find(t, t.Root, func(id ast.NodeID) bool {
		if t.Kind(id) != ast.KindPlaceholderSubstitution {
			return false
		}
		_, raw := t.ArgValues(t.Node(id).Params)["raw"]
		return raw
	})
	return found != ast.NoNode
}

// expand runs the handler for a block macro or a macro function call, parses
// what it returns and lowers the result in place of the call. Nodes produced
// this way report the position of the call.
func (a *Analyzer) expand(id ast.NodeID, m registry.Macro, block bool) ([]ast.NodeID, error) {
	n := a.src.Node(id)
	pos := a.posOf(id)
	call := &registry.Call{
		Name:    m.Name,
		Tree:    a.src,
		Node:    id,
		Context: a.context,
		Logger:  a.logger.With("macro", m.Name),
	}
	rule := m.Rule
	if block {
		call.Body, _ = n.Value.(string)
		call.Args = a.src.ArgValues(n.Params)
		if rule == "" {
			rule = parser.RuleFragment
		}
	} else {
		call.Args = a.src.ArgValues(n.Args)
		if rule == "" {
			rule = parser.RuleRHSExpression
		}
	}

	out, err := m.Handler(call)
	if err != nil {
		return nil, &diag.MacroError{Macro: m.Name, Phase: diag.MacroHandler, Pos: pos, Err: err}
	}
	frag, err := parser.ParseRule(rule, out, a.parseOptions()...)
	if err != nil {
		return nil, &diag.MacroError{Macro: m.Name, Phase: diag.MacroParse, Pos: pos, Output: out, Err: err}
	}
	a.logger.Debug("expanded macro", "macro", m.Name, "output_bytes", len(out))
	return a.buildFrom(frag, frag.Root, pos)
}
