package analyzer

import (
	"regexp"
	"slices"
	"strings"
	"unicode"

	"github.com/neurodesk/tmplc/pkg/ast"
)

var spaceRun = regexp.MustCompile(`\s+`)

func isText(k ast.Kind) bool {
	switch k {
	case ast.KindText, ast.KindWhitespace, ast.KindOptionalWhitespace, ast.KindNewline:
		return true
	}
	return false
}

// item is a parse node queued for lowering. Text items carry their text so
// runs can be merged or trimmed without touching the parse tree.
type item struct {
	id   ast.NodeID
	kind ast.Kind
	text string
}

func (a *Analyzer) items(ids []ast.NodeID) []item {
	out := make([]item, 0, len(ids))
	for _, id := range ids {
		it := item{id: id, kind: a.src.Kind(id)}
		if isText(it.kind) {
			it.text, _ = a.src.Node(id).Value.(string)
		}
		out = append(out, it)
	}
	return out
}

// optimizeItems drops optional whitespace and merges adjacent text when the
// options ask for it.
func (a *Analyzer) optimizeItems(in []item) []item {
	out := make([]item, 0, len(in))
	for _, it := range in {
		switch {
		case a.opts.IgnoreOptionalWhitespace && it.kind == ast.KindOptionalWhitespace:
		case a.opts.CollapseAdjacentText && isText(it.kind) && len(out) > 0 && isText(out[len(out)-1].kind):
			last := &out[len(out)-1]
			last.kind = ast.KindText
			last.text += it.text
		default:
			out = append(out, it)
		}
	}
	return out
}

// stripItems removes the whitespace that surrounds directives on lines of
// their own. Whitespace that only pads a line becomes optional and empty.
func (a *Analyzer) stripItems(in []item) []item {
	out := slices.Clone(in)
	optional := true
	for i := range out {
		it := &out[i]
		switch {
		case it.kind == ast.KindOptionalWhitespace || it.kind == ast.KindNewline:
			optional = true
			it.kind, it.text = ast.KindOptionalWhitespace, ""
		case it.kind == ast.KindWhitespace:
			if !optional && i+1 < len(out) && out[i+1].kind == ast.KindNewline {
				optional = true
			}
			if optional {
				it.kind, it.text = ast.KindOptionalWhitespace, ""
			}
		case it.kind == ast.KindText:
			if optional {
				it.text = strings.TrimLeftFunc(it.text, unicode.IsSpace)
			}
			optional = false
		case !(it.kind.IsStatement() || len(a.src.Node(it.id).Children) > 0 || it.kind == ast.KindComment):
			optional = false
		}
		if optional && i > 0 && isText(out[i-1].kind) {
			out[i-1].text = strings.TrimRightFunc(out[i-1].text, unicode.IsSpace)
		}
	}
	return out
}

func (a *Analyzer) buildItem(it item) ([]ast.NodeID, error) {
	if !isText(it.kind) {
		return a.build(it.id)
	}
	if it.text == "" {
		return nil, nil
	}
	return []ast.NodeID{a.textWrite(it.text, a.posOf(it.id))}, nil
}

func (a *Analyzer) text(id ast.NodeID) ([]ast.NodeID, error) {
	s, _ := a.src.Node(id).Value.(string)
	if s == "" {
		return nil, nil
	}
	return []ast.NodeID{a.textWrite(s, a.posOf(id))}, nil
}

func (a *Analyzer) textWrite(s string, pos int) ast.NodeID {
	if a.opts.NormalizeWhitespace {
		s = spaceRun.ReplaceAllString(s, " ")
	}
	lit := a.at(a.t.NewLiteral(s), pos)
	return a.at(a.t.NewBufferWrite(lit), pos)
}

func (a *Analyzer) stripLines(id ast.NodeID) ([]ast.NodeID, error) {
	if a.stripping {
		return nil, a.errorf(id, "can't nest #strip_lines")
	}
	a.stripping = true
	defer func() { a.stripping = false }()
	return a.buildItems(a.optimizeItems(a.stripItems(a.items(a.src.Children(id)))))
}

// literalText returns the string literal written by id.
func (a *Analyzer) literalText(id ast.NodeID) (*ast.Node, bool) {
	n := a.t.Node(id)
	if n == nil || n.Kind != ast.KindBufferWrite {
		return nil, false
	}
	lit := a.t.Node(n.Expr)
	if lit == nil || lit.Kind != ast.KindLiteral {
		return nil, false
	}
	_, ok := lit.Value.(string)
	return lit, ok
}

// collapseWrites merges adjacent literal writes of a detached statement list.
func (a *Analyzer) collapseWrites(ids []ast.NodeID) []ast.NodeID {
	if !a.opts.CollapseAdjacentText {
		return ids
	}
	out := make([]ast.NodeID, 0, len(ids))
	for _, id := range ids {
		if len(out) > 0 {
			prev, okPrev := a.literalText(out[len(out)-1])
			cur, okCur := a.literalText(id)
			if okPrev && okCur {
				prev.Value = prev.Value.(string) + cur.Value.(string)
				continue
			}
		}
		out = append(out, id)
	}
	return out
}
