package parser

import (
	"strconv"
	"strings"

	"github.com/neurodesk/tmplc/pkg/ast"
)

// Expression grammar, loosest binding first:
//
//	or_test    := and_test ('or' and_test)*
//	and_test   := not_test ('and' not_test)*
//	not_test   := 'not' not_test | comparison
//	comparison := a_expr (comp_op a_expr)*
//	a_expr     := m_expr (('+'|'-') m_expr)*
//	m_expr     := u_expr (('*'|'/'|'%') u_expr)*
//	u_expr     := '-' u_expr | primary
func (p *parser) expression() (ast.NodeID, error) {
	return p.orTest()
}

func (p *parser) boolChain(word string, next func() (ast.NodeID, error)) (ast.NodeID, error) {
	l := p.l
	left, err := next()
	if err != nil {
		return ast.NoNode, err
	}
	for {
		save := l.i
		if l.skipSpaces() == 0 || !l.matchWord(word) {
			l.i = save
			return left, nil
		}
		right, err := next()
		if err != nil {
			return ast.NoNode, err
		}
		left = p.add(ast.Node{Kind: ast.KindBinOpExpression, Operator: word, Left: left, Right: right, Pos: save})
	}
}

func (p *parser) orTest() (ast.NodeID, error) {
	return p.boolChain("or", p.andTest)
}

func (p *parser) andTest() (ast.NodeID, error) {
	return p.boolChain("and", p.notTest)
}

func (p *parser) notTest() (ast.NodeID, error) {
	l := p.l
	l.skipSpaces()
	pos := l.i
	if l.matchWord("not") {
		operand, err := p.notTest()
		if err != nil {
			return ast.NoNode, err
		}
		return p.add(ast.Node{Kind: ast.KindUnaryOp, Operator: "not", Expr: operand, Pos: pos}), nil
	}
	return p.comparison()
}

func (p *parser) compOp(spaced bool) string {
	l := p.l
	for _, op := range []string{"<=", ">=", "==", "!=", "<", ">"} {
		if l.match(op) {
			return op
		}
	}
	if spaced && l.matchWord("in") {
		return "in"
	}
	return ""
}

func (p *parser) comparison() (ast.NodeID, error) {
	l := p.l
	left, err := p.aExpr()
	if err != nil {
		return ast.NoNode, err
	}
	for {
		save := l.i
		op := p.compOp(l.skipSpaces() > 0)
		if op == "" {
			l.i = save
			return left, nil
		}
		right, err := p.aExpr()
		if err != nil {
			return ast.NoNode, err
		}
		left = p.add(ast.Node{Kind: ast.KindBinOpExpression, Operator: op, Left: left, Right: right, Pos: save})
	}
}

func (p *parser) arith(ops string, next func() (ast.NodeID, error)) (ast.NodeID, error) {
	l := p.l
	left, err := next()
	if err != nil {
		return ast.NoNode, err
	}
	for {
		save := l.i
		l.skipSpaces()
		c := l.peek()
		// '*#' closes a comment and '==' is a comparison, never arithmetic.
		if c == 0 || !strings.ContainsRune(ops, rune(c)) || (c == '*' && l.peekAt(1) == '#') {
			l.i = save
			return left, nil
		}
		l.next()
		right, err := next()
		if err != nil {
			return ast.NoNode, err
		}
		left = p.add(ast.Node{Kind: ast.KindBinOp, Operator: string(c), Left: left, Right: right, Pos: save})
	}
}

func (p *parser) aExpr() (ast.NodeID, error) {
	return p.arith("+-", p.mExpr)
}

func (p *parser) mExpr() (ast.NodeID, error) {
	return p.arith("*/%", p.uExpr)
}

func (p *parser) uExpr() (ast.NodeID, error) {
	l := p.l
	l.skipSpaces()
	pos := l.i
	if l.peek() == '-' && !isDigit(l.peekAt(1)) {
		l.next()
		operand, err := p.uExpr()
		if err != nil {
			return ast.NoNode, err
		}
		return p.add(ast.Node{Kind: ast.KindUnaryOp, Operator: "-", Expr: operand, Pos: pos}), nil
	}
	return p.primary()
}

func (p *parser) primary() (ast.NodeID, error) {
	l := p.l
	l.skipSpaces()
	pos := l.i
	var id ast.NodeID
	switch c := l.peek(); {
	case c == '$':
		l.next()
		name, ok := l.scanIdent()
		if !ok {
			return ast.NoNode, p.errorf("expected a placeholder name")
		}
		id = p.add(ast.Node{Kind: ast.KindPlaceholder, Name: name, Pos: pos})
	case c == '"' || c == '\'' || isDigit(c) || (c == '-' && isDigit(l.peekAt(1))):
		lit, err := p.literal()
		if err != nil {
			return ast.NoNode, err
		}
		id = lit
	case isIdentStart(c):
		name, _ := l.scanIdent()
		switch name {
		case "True", "False":
			id = p.add(ast.Node{Kind: ast.KindLiteral, Value: name == "True", Pos: pos})
		default:
			id = p.add(ast.Node{Kind: ast.KindIdentifier, Name: name, Pos: pos})
		}
	case c == '[':
		list, err := p.sequence(ast.KindListLiteral, ']')
		if err != nil {
			return ast.NoNode, err
		}
		id = list
	case c == '(':
		tuple, err := p.sequence(ast.KindTupleLiteral, ')')
		if err != nil {
			return ast.NoNode, err
		}
		id = tuple
	case c == '{':
		dict, err := p.dict()
		if err != nil {
			return ast.NoNode, err
		}
		id = dict
	case c == 0:
		return ast.NoNode, p.errorf("unexpected end of input in expression")
	default:
		return ast.NoNode, p.errorf("unexpected %q in expression", c)
	}
	return p.suffixes(id)
}

// suffixes applies attribute, call and index suffixes. None of them may be
// preceded by whitespace.
func (p *parser) suffixes(id ast.NodeID) (ast.NodeID, error) {
	l := p.l
	for {
		pos := l.i
		switch {
		case l.peek() == '.' && isIdentStart(l.peekAt(1)):
			l.next()
			name, _ := l.scanIdent()
			id = p.add(ast.Node{Kind: ast.KindGetUDN, Name: name, Expr: id, Pos: pos})
		case l.peek() == '(':
			l.next()
			args, err := p.argumentList(')')
			if err != nil {
				return ast.NoNode, err
			}
			id = p.add(ast.Node{Kind: ast.KindCallFunction, Expr: id, Args: args, Pos: pos})
		case l.peek() == '[':
			l.next()
			idx, err := p.expression()
			if err != nil {
				return ast.NoNode, err
			}
			l.skipSpaces()
			if !l.match("]") {
				return ast.NoNode, p.errorf("expected ']'")
			}
			id = p.add(ast.Node{Kind: ast.KindSlice, Expr: id, Index: idx, Pos: pos})
		default:
			return id, nil
		}
	}
}

// argumentList reads call arguments up to and including closer. Keyword
// arguments become Parameter nodes and must follow positional ones.
func (p *parser) argumentList(closer byte) (ast.NodeID, error) {
	l := p.l
	pos := l.i
	var positional, keyword []ast.NodeID
	l.skipSpaces()
	for l.peek() != closer {
		l.skipSpaces()
		save := l.i
		name, ok := l.scanIdent()
		if ok {
			l.skipSpaces()
			if l.peek() == '=' && l.peekAt(1) != '=' {
				l.next()
				val, err := p.expression()
				if err != nil {
					return ast.NoNode, err
				}
				keyword = append(keyword, p.add(ast.Node{Kind: ast.KindParameter, Name: name, Default: val, Pos: save}))
			} else {
				ok = false
			}
		}
		if !ok {
			l.i = save
			if len(keyword) > 0 {
				return ast.NoNode, p.errorf("positional argument follows keyword argument")
			}
			e, err := p.expression()
			if err != nil {
				return ast.NoNode, err
			}
			positional = append(positional, e)
		}
		l.skipSpaces()
		if !l.match(",") {
			break
		}
		l.skipSpaces()
	}
	if !l.match(string(closer)) {
		return ast.NoNode, p.errorf("expected %q to close argument list", closer)
	}
	return p.add(ast.Node{Kind: ast.KindArgList, Children: append(positional, keyword...), Pos: pos}), nil
}

func (p *parser) sequence(kind ast.Kind, closer byte) (ast.NodeID, error) {
	l := p.l
	pos := l.i
	l.next()
	var items []ast.NodeID
	l.skipSpaces()
	for l.peek() != closer {
		e, err := p.expression()
		if err != nil {
			return ast.NoNode, err
		}
		items = append(items, e)
		l.skipSpaces()
		if !l.match(",") {
			break
		}
		l.skipSpaces()
	}
	if !l.match(string(closer)) {
		return ast.NoNode, p.errorf("expected %q", closer)
	}
	return p.add(ast.Node{Kind: kind, Children: items, Pos: pos}), nil
}

// dict reads `{k: v, ...}`; children alternate key and value.
func (p *parser) dict() (ast.NodeID, error) {
	l := p.l
	pos := l.i
	l.next()
	var items []ast.NodeID
	l.skipSpaces()
	for l.peek() != '}' {
		k, err := p.expression()
		if err != nil {
			return ast.NoNode, err
		}
		l.skipSpaces()
		if !l.match(":") {
			return ast.NoNode, p.errorf("expected ':' in dict literal")
		}
		v, err := p.expression()
		if err != nil {
			return ast.NoNode, err
		}
		items = append(items, k, v)
		l.skipSpaces()
		if !l.match(",") {
			break
		}
		l.skipSpaces()
	}
	if !l.match("}") {
		return ast.NoNode, p.errorf("expected '}' to close dict literal")
	}
	return p.add(ast.Node{Kind: ast.KindDictLiteral, Children: items, Pos: pos}), nil
}

// literal reads a string, number or boolean.
func (p *parser) literal() (ast.NodeID, error) {
	l := p.l
	pos := l.i
	switch c := l.peek(); {
	case c == '"' || c == '\'':
		s, err := p.stringLiteral()
		if err != nil {
			return ast.NoNode, err
		}
		return p.add(ast.Node{Kind: ast.KindLiteral, Value: s, Pos: pos}), nil
	case isDigit(c) || (c == '-' && isDigit(l.peekAt(1))):
		return p.number()
	case l.matchWord("True"):
		return p.add(ast.Node{Kind: ast.KindLiteral, Value: true, Pos: pos}), nil
	case l.matchWord("False"):
		return p.add(ast.Node{Kind: ast.KindLiteral, Value: false, Pos: pos}), nil
	}
	return ast.NoNode, p.errorf("expected a literal")
}

func (p *parser) stringLiteral() (string, error) {
	l := p.l
	quote := l.next()
	var b strings.Builder
	for {
		if l.eof() {
			return "", p.errorf("unterminated string literal")
		}
		c := l.next()
		switch c {
		case quote:
			return b.String(), nil
		case '\\':
			e := l.next()
			switch e {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			case 'r':
				b.WriteByte('\r')
			case '\\', '\'', '"':
				b.WriteByte(e)
			default:
				b.WriteByte('\\')
				b.WriteByte(e)
			}
		default:
			b.WriteByte(c)
		}
	}
}

func (p *parser) number() (ast.NodeID, error) {
	l := p.l
	pos := l.i
	l.match("-")
	for isDigit(l.peek()) {
		l.next()
	}
	isFloat := false
	if l.peek() == '.' && isDigit(l.peekAt(1)) {
		isFloat = true
		l.next()
		for isDigit(l.peek()) {
			l.next()
		}
	}
	text := string(l.src[pos:l.i])
	if isFloat {
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return ast.NoNode, p.errorf("invalid number %q", text)
		}
		return p.add(ast.Node{Kind: ast.KindLiteral, Value: f, Pos: pos}), nil
	}
	n, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return ast.NoNode, p.errorf("invalid number %q", text)
	}
	return p.add(ast.Node{Kind: ast.KindLiteral, Value: n, Pos: pos}), nil
}
