package parser

import (
	"fmt"
	"strings"

	"github.com/neurodesk/tmplc/pkg/ast"
	"github.com/neurodesk/tmplc/pkg/diag"
)

// Rule names a grammar entry point.
type Rule string

const (
	// RuleGoal parses a whole template into a Template root.
	RuleGoal Rule = "goal"
	// RuleFragment parses template text into a Fragment root.
	RuleFragment Rule = "fragment_goal"
	// RuleRHSExpression parses a single expression.
	RuleRHSExpression Rule = "rhs_expression"
	// RuleI18N parses message text: placeholders only, no directives.
	RuleI18N Rule = "i18n_goal"
)

// Option configures a parse.
type Option func(*parser)

// WithMacros makes `#name ... #end name` parse as a block macro for each of
// the given names.
func WithMacros(names ...string) Option {
	return func(p *parser) {
		for _, n := range names {
			p.macros[n] = true
		}
	}
}

// Parse parses a full template.
func Parse(src string, opts ...Option) (*ast.Tree, error) {
	return ParseRule(RuleGoal, src, opts...)
}

// ParseRule parses src starting from the given grammar rule.
func ParseRule(rule Rule, src string, opts ...Option) (*ast.Tree, error) {
	p := &parser{l: newLexer([]byte(src)), t: ast.New(), macros: map[string]bool{}}
	for _, o := range opts {
		o(p)
	}
	var root ast.NodeID
	var err error
	switch rule {
	case RuleGoal:
		root, err = p.goal(ast.KindTemplate)
	case RuleFragment:
		root, err = p.goal(ast.KindFragment)
	case RuleI18N:
		root, err = p.i18nGoal()
	case RuleRHSExpression:
		root, err = p.rhsExpression()
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownRule, rule)
	}
	if err != nil {
		return nil, err
	}
	p.t.Root = root
	return p.t, nil
}

type parser struct {
	l      *lexer
	t      *ast.Tree
	macros map[string]bool
}

func (p *parser) errorf(format string, args ...any) error {
	return &diag.ParseError{Msg: fmt.Sprintf(format, args...), Pos: p.l.i}
}

func (p *parser) add(n ast.Node) ast.NodeID { return p.t.Add(n) }

func (p *parser) text(kind ast.Kind, s string, pos int) ast.NodeID {
	return p.add(ast.Node{Kind: kind, Value: s, Pos: pos})
}

func (p *parser) goal(kind ast.Kind) (ast.NodeID, error) {
	root := p.add(ast.Node{Kind: kind, Pos: 0})
	for !p.l.eof() {
		ids, err := p.block(true)
		if err != nil {
			return ast.NoNode, err
		}
		if err := p.t.Append(root, ids...); err != nil {
			return ast.NoNode, err
		}
	}
	return root, nil
}

// atWord reports whether the cursor sits on s followed by a non-identifier
// character.
func (p *parser) atWord(s string) bool {
	return p.l.hasPrefix(s) && !isIdentChar(p.l.peekAt(len(s)))
}

func (p *parser) atTerminator(stops []string) bool {
	for _, s := range stops {
		if p.atWord(s) {
			return true
		}
	}
	return false
}

func (p *parser) atDirective() bool {
	return p.l.peek() == '#' && !p.atTerminator([]string{"#end", "#else", "#elif"})
}

// block parses one unit of template text and returns the nodes it produced.
// start is true when the enclosing construct begins on a fresh line.
func (p *parser) block(start bool) ([]ast.NodeID, error) {
	l := p.l
	pos := l.i
	switch c := l.peek(); {
	case l.match(`\$`):
		return []ast.NodeID{p.text(ast.KindText, "$", pos)}, nil
	case c == '#':
		return p.directive()
	case c == ' ' || c == '\t':
		l.skipSpaces()
		switch nc := l.peek(); {
		case nc == '#' || nc == '$' || nc == '\n' || nc == 0 || l.hasPrefix(`\$`):
			ws := string(l.src[pos:l.i])
			if p.atDirective() {
				kind := ast.KindWhitespace
				if start {
					kind = ast.KindOptionalWhitespace
				}
				ids, err := p.directive()
				if err != nil {
					return nil, err
				}
				return append([]ast.NodeID{p.text(kind, ws, pos)}, ids...), nil
			}
			return []ast.NodeID{p.text(ast.KindWhitespace, ws, pos)}, nil
		default:
			l.i = pos
			return []ast.NodeID{p.text(ast.KindText, l.scanText(), pos)}, nil
		}
	case c == '\n':
		l.next()
		out := []ast.NodeID{p.text(ast.KindNewline, "\n", pos)}
		wsPos := l.i
		if l.skipSpaces() > 0 {
			ws := string(l.src[wsPos:l.i])
			if p.atDirective() {
				ids, err := p.directive()
				if err != nil {
					return nil, err
				}
				out = append(out, p.text(ast.KindOptionalWhitespace, ws, wsPos))
				return append(out, ids...), nil
			}
			out = append(out, p.text(ast.KindWhitespace, ws, wsPos))
		}
		return out, nil
	case c == '$':
		return p.placeholderSubstitution()
	default:
		return []ast.NodeID{p.text(ast.KindText, l.scanText(), pos)}, nil
	}
}

// body parses blocks into parent until one of stops is reached.
func (p *parser) body(parent ast.NodeID, start bool, what string, stops ...string) error {
	for !p.atTerminator(stops) {
		if p.l.eof() {
			return p.errorf("unexpected end of template inside #%s", what)
		}
		ids, err := p.block(start)
		if err != nil {
			return err
		}
		if err := p.t.Append(parent, ids...); err != nil {
			return err
		}
	}
	p.makeOptional(parent)
	return nil
}

// makeOptional marks trailing indentation before a closing directive as
// optional whitespace.
func (p *parser) makeOptional(parent ast.NodeID) {
	kids := p.t.Node(parent).Children
	if len(kids) == 0 {
		return
	}
	last := p.t.Node(kids[len(kids)-1])
	if last.Kind != ast.KindWhitespace {
		return
	}
	if len(kids) == 1 {
		last.Kind = ast.KindOptionalWhitespace
		return
	}
	switch p.t.Kind(kids[len(kids)-2]) {
	case ast.KindText, ast.KindWhitespace, ast.KindOptionalWhitespace, ast.KindPlaceholderSubstitution:
		return
	}
	last.Kind = ast.KindOptionalWhitespace
}

// closeDirective consumes optional spaces and the newline or '#' ending a
// directive. It reports whether the directive ended its line.
func (p *parser) closeDirective() (bool, error) {
	l := p.l
	l.skipSpaces()
	switch {
	case l.match("\n"):
		return true, nil
	case l.match("#"):
		return false, nil
	case l.eof():
		return true, nil
	}
	return false, p.errorf("expected end of directive, found %q", l.peek())
}

func (p *parser) endDirective(name string) error {
	l := p.l
	if !p.atWord("#end") {
		return p.errorf("expected #end %s", name)
	}
	l.i += len("#end")
	if l.skipSpaces() == 0 || !l.matchWord(name) {
		return p.errorf("expected #end %s", name)
	}
	_, err := p.closeDirective()
	return err
}

func (p *parser) requireSpace(what string) error {
	if p.l.skipSpaces() == 0 {
		return p.errorf("expected space after #%s", what)
	}
	return nil
}

func (p *parser) directive() ([]ast.NodeID, error) {
	l := p.l
	pos := l.i
	if p.atTerminator([]string{"#end", "#else", "#elif"}) {
		return nil, p.errorf("unexpected %s", string(l.src[pos:pos+1+len(identAt(l.src, pos+1))]))
	}
	l.next()
	if l.match("#") {
		body, found := l.scanUntil("\n")
		if found {
			l.next()
			body += "\n"
		}
		return []ast.NodeID{p.text(ast.KindComment, "##"+body, pos)}, nil
	}
	if l.match("*") {
		body, found := l.scanUntil("*#")
		if !found {
			return nil, p.errorf("unterminated #* comment")
		}
		l.i += 2
		return []ast.NodeID{p.text(ast.KindComment, "#*"+body+"*#", pos)}, nil
	}

	name := l.peekIdent()
	var id ast.NodeID
	var err error
	switch name {
	case "def", "block":
		id, err = p.parseDef(name, pos)
	case "for":
		id, err = p.parseFor(pos)
	case "if":
		id, err = p.parseIf(pos)
	case "strip_lines":
		id, err = p.parseStripLines(pos)
	case "i18n":
		id, err = p.parseMacro(name, pos)
	case "implements", "extends", "absolute_extends", "from", "import",
		"slurp", "break", "continue", "attr", "filter", "set", "echo",
		"do", "return", "global", "loose_resolution",
		"allow_undeclared_globals", "allow_raw":
		id, err = p.statement(name, pos)
	default:
		if name != "" && p.macros[name] {
			id, err = p.parseMacro(name, pos)
			break
		}
		return []ast.NodeID{p.text(ast.KindText, "#", pos)}, nil
	}
	if err != nil {
		return nil, err
	}
	return []ast.NodeID{id}, nil
}

func (p *parser) parseDef(keyword string, pos int) (ast.NodeID, error) {
	l := p.l
	l.scanIdent()
	if err := p.requireSpace(keyword); err != nil {
		return ast.NoNode, err
	}
	name, ok := l.scanIdent()
	if !ok {
		return ast.NoNode, p.errorf("expected a name after #%s", keyword)
	}
	kind := ast.KindDef
	if keyword == "block" {
		kind = ast.KindBlock
	}
	params, err := p.optionalParameterList()
	if err != nil {
		return ast.NoNode, err
	}
	nl, err := p.closeDirective()
	if err != nil {
		return ast.NoNode, err
	}
	id := p.add(ast.Node{Kind: kind, Name: name, Params: params, Pos: pos})
	if err := p.body(id, nl, keyword, "#end"); err != nil {
		return ast.NoNode, err
	}
	return id, p.endDirective(keyword)
}

func (p *parser) parseFor(pos int) (ast.NodeID, error) {
	l := p.l
	l.scanIdent()
	l.skipSpaces()
	targets, err := p.targetList()
	if err != nil {
		return ast.NoNode, err
	}
	l.skipSpaces()
	if !l.matchWord("in") {
		return ast.NoNode, p.errorf("expected 'in' in #for")
	}
	l.skipSpaces()
	iter, err := p.expressionList()
	if err != nil {
		return ast.NoNode, err
	}
	nl, err := p.closeDirective()
	if err != nil {
		return ast.NoNode, err
	}
	id := p.add(ast.Node{Kind: ast.KindFor, Targets: targets, Iter: iter, Pos: pos})
	if err := p.body(id, nl, "for", "#end"); err != nil {
		return ast.NoNode, err
	}
	return id, p.endDirective("for")
}

func (p *parser) parseIf(pos int) (ast.NodeID, error) {
	l := p.l
	l.scanIdent()
	if err := p.requireSpace("if"); err != nil {
		return ast.NoNode, err
	}
	test, err := p.expression()
	if err != nil {
		return ast.NoNode, err
	}
	nl, err := p.closeDirective()
	if err != nil {
		return ast.NoNode, err
	}
	id := p.add(ast.Node{Kind: ast.KindIf, Test: test, Pos: pos})
	stops := []string{"#end", "#else", "#elif"}
	if err := p.body(id, nl, "if", stops...); err != nil {
		return ast.NoNode, err
	}
	last := id
	for p.atWord("#elif") {
		elifPos := l.i
		l.i += len("#elif")
		if err := p.requireSpace("elif"); err != nil {
			return ast.NoNode, err
		}
		test, err := p.expression()
		if err != nil {
			return ast.NoNode, err
		}
		nl, err := p.closeDirective()
		if err != nil {
			return ast.NoNode, err
		}
		elif := p.add(ast.Node{Kind: ast.KindIf, Test: test, Pos: elifPos})
		if err := p.t.Append(p.t.Node(last).Else, elif); err != nil {
			return ast.NoNode, err
		}
		last = elif
		if err := p.body(elif, nl, "elif", stops...); err != nil {
			return ast.NoNode, err
		}
	}
	if p.atWord("#else") {
		l.i += len("#else")
		nl, err := p.closeDirective()
		if err != nil {
			return ast.NoNode, err
		}
		if err := p.body(p.t.Node(last).Else, nl, "else", "#end"); err != nil {
			return ast.NoNode, err
		}
	}
	return id, p.endDirective("if")
}

func (p *parser) parseStripLines(pos int) (ast.NodeID, error) {
	p.l.scanIdent()
	nl, err := p.closeDirective()
	if err != nil {
		return ast.NoNode, err
	}
	id := p.add(ast.Node{Kind: ast.KindStripLines, Pos: pos})
	if err := p.body(id, nl, "strip_lines", "#end"); err != nil {
		return ast.NoNode, err
	}
	return id, p.endDirective("strip_lines")
}

// parseMacro reads a block macro. The body is kept as raw text for the
// macro handler.
func (p *parser) parseMacro(name string, pos int) (ast.NodeID, error) {
	l := p.l
	l.scanIdent()
	params, err := p.optionalParameterList()
	if err != nil {
		return ast.NoNode, err
	}
	if _, err := p.closeDirective(); err != nil {
		return ast.NoNode, err
	}
	var body strings.Builder
	for !p.atWord("#end") {
		if l.eof() {
			return ast.NoNode, p.errorf("unexpected end of template inside #%s", name)
		}
		body.WriteByte(l.next())
	}
	id := p.add(ast.Node{Kind: ast.KindMacro, Name: name, Value: body.String(), Params: params, Pos: pos})
	return id, p.endDirective(name)
}

func (p *parser) statement(name string, pos int) (ast.NodeID, error) {
	l := p.l
	l.scanIdent()
	n := ast.Node{Pos: pos}
	switch name {
	case "implements":
		if err := p.requireSpace(name); err != nil {
			return ast.NoNode, err
		}
		id, ok := l.scanIdent()
		if !ok {
			return ast.NoNode, p.errorf("expected a name after #implements")
		}
		n.Kind, n.Name = ast.KindImplements, id
	case "extends", "absolute_extends":
		if err := p.requireSpace(name); err != nil {
			return ast.NoNode, err
		}
		mods, err := p.moduleName()
		if err != nil {
			return ast.NoNode, err
		}
		n.Kind, n.Children = ast.KindExtends, mods
		if name == "absolute_extends" {
			n.Kind = ast.KindAbsoluteExtends
		}
	case "import":
		if err := p.requireSpace(name); err != nil {
			return ast.NoNode, err
		}
		n.Library = p.matchLibrary()
		mods, err := p.moduleName()
		if err != nil {
			return ast.NoNode, err
		}
		n.Kind, n.Children = ast.KindImport, mods
	case "from":
		if err := p.parseFrom(&n); err != nil {
			return ast.NoNode, err
		}
	case "slurp":
		n.Kind, n.Value = ast.KindComment, "slurp"
	case "break":
		n.Kind = ast.KindBreak
	case "continue":
		n.Kind = ast.KindContinue
	case "attr":
		if err := p.requireSpace(name); err != nil {
			return ast.NoNode, err
		}
		ph, err := p.placeholderName()
		if err != nil {
			return ast.NoNode, err
		}
		l.skipSpaces()
		if !l.match("=") {
			return ast.NoNode, p.errorf("expected '=' in #attr")
		}
		l.skipSpaces()
		lit, err := p.literal()
		if err != nil {
			return ast.NoNode, err
		}
		n.Kind, n.Name, n.Default = ast.KindAttribute, ph, lit
	case "filter":
		if err := p.requireSpace(name); err != nil {
			return ast.NoNode, err
		}
		identPos := l.i
		id, ok := l.scanIdent()
		if !ok {
			return ast.NoNode, p.errorf("expected a filter name")
		}
		n.Kind, n.Name = ast.KindFilterAttribute, "_filter_function"
		n.Default = p.add(ast.Node{Kind: ast.KindIdentifier, Name: id, Pos: identPos})
	case "set":
		if err := p.requireSpace(name); err != nil {
			return ast.NoNode, err
		}
		lhs, err := p.assignTarget()
		if err != nil {
			return ast.NoNode, err
		}
		l.skipSpaces()
		if !l.match("=") {
			return ast.NoNode, p.errorf("expected '=' in #set")
		}
		rhs, err := p.expression()
		if err != nil {
			return ast.NoNode, err
		}
		n.Kind, n.Operator, n.Left, n.Right = ast.KindAssign, "=", lhs, rhs
	case "echo":
		if err := p.parseEcho(&n); err != nil {
			return ast.NoNode, err
		}
	case "do", "return":
		if err := p.requireSpace(name); err != nil {
			return ast.NoNode, err
		}
		expr, err := p.expression()
		if err != nil {
			return ast.NoNode, err
		}
		n.Kind, n.Expr = ast.KindDo, expr
		if name == "return" {
			n.Kind = ast.KindReturn
		}
	case "global":
		if err := p.requireSpace(name); err != nil {
			return ast.NoNode, err
		}
		ph, err := p.placeholderName()
		if err != nil {
			return ast.NoNode, err
		}
		n.Kind, n.Name = ast.KindGlobal, ph
	case "loose_resolution":
		n.Kind = ast.KindLooseResolution
	case "allow_undeclared_globals":
		n.Kind = ast.KindAllowUndeclaredGlobals
	case "allow_raw":
		n.Kind = ast.KindAllowRaw
	}
	if _, err := p.closeDirective(); err != nil {
		return ast.NoNode, err
	}
	return p.add(n), nil
}

func (p *parser) parseFrom(n *ast.Node) error {
	l := p.l
	if err := p.requireSpace("from"); err != nil {
		return err
	}
	mods, err := p.moduleName()
	if err != nil {
		return err
	}
	if err := p.requireSpace("from"); err != nil {
		return err
	}
	if !l.matchWord("import") {
		return p.errorf("expected 'import' in #from")
	}
	if err := p.requireSpace("from"); err != nil {
		return err
	}
	n.Library = p.matchLibrary()
	identPos := l.i
	id, ok := l.scanIdent()
	if !ok {
		return p.errorf("expected a name to import")
	}
	n.Kind, n.Children = ast.KindFrom, mods
	n.Ident = p.add(ast.Node{Kind: ast.KindIdentifier, Name: id, Pos: identPos})
	save := l.i
	if l.skipSpaces() > 0 && l.matchWord("as") {
		l.skipSpaces()
		aliasPos := l.i
		alias, ok := l.scanIdent()
		if !ok {
			return p.errorf("expected a name after 'as'")
		}
		n.Alias = p.add(ast.Node{Kind: ast.KindIdentifier, Name: alias, Pos: aliasPos})
	} else {
		l.i = save
	}
	return nil
}

func (p *parser) parseEcho(n *ast.Node) error {
	l := p.l
	if err := p.requireSpace("echo"); err != nil {
		return err
	}
	trueExpr, err := p.literal()
	if err != nil {
		return err
	}
	n.Kind, n.Left = ast.KindEcho, trueExpr
	save := l.i
	if l.skipSpaces() == 0 || !l.matchWord("if") {
		l.i = save
		return nil
	}
	test, err := p.expression()
	if err != nil {
		return err
	}
	n.Test = test
	save = l.i
	if l.skipSpaces() == 0 || !l.matchWord("else") {
		l.i = save
		return nil
	}
	l.skipSpaces()
	falseExpr, err := p.literal()
	if err != nil {
		return err
	}
	n.Right = falseExpr
	return nil
}

// matchLibrary consumes an optional `library` keyword.
func (p *parser) matchLibrary() bool {
	l := p.l
	save := l.i
	if l.matchWord("library") && l.skipSpaces() > 0 {
		return true
	}
	l.i = save
	return false
}

func (p *parser) moduleName() ([]ast.NodeID, error) {
	l := p.l
	var out []ast.NodeID
	for {
		pos := l.i
		id, ok := l.scanIdent()
		if !ok {
			return nil, p.errorf("expected a module name")
		}
		out = append(out, p.add(ast.Node{Kind: ast.KindIdentifier, Name: id, Pos: pos}))
		if l.peek() != '.' || !isIdentStart(l.peekAt(1)) {
			return out, nil
		}
		l.next()
	}
}

// placeholderName reads `$name` and returns name.
func (p *parser) placeholderName() (string, error) {
	if !p.l.match("$") {
		return "", p.errorf("expected a placeholder")
	}
	id, ok := p.l.scanIdent()
	if !ok {
		return "", p.errorf("expected a placeholder name")
	}
	return id, nil
}

// assignTarget reads `$name`, optionally followed by attribute and index
// suffixes. The result must end in a bare name or an index.
func (p *parser) assignTarget() (ast.NodeID, error) {
	l := p.l
	pos := l.i
	name, err := p.placeholderName()
	if err != nil {
		return ast.NoNode, err
	}
	target := p.add(ast.Node{Kind: ast.KindIdentifier, Name: name, Pos: pos})
	for {
		switch {
		case l.peek() == '.' && isIdentStart(l.peekAt(1)):
			l.next()
			attr, _ := l.scanIdent()
			target = p.add(ast.Node{Kind: ast.KindGetUDN, Name: attr, Expr: target, Pos: pos})
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
			target = p.add(ast.Node{Kind: ast.KindSlice, Expr: target, Index: idx, Pos: pos})
		default:
			if p.t.Kind(target) == ast.KindGetUDN {
				return ast.NoNode, p.errorf("cannot assign to attribute %s", p.t.Name(target))
			}
			return target, nil
		}
	}
}

func (p *parser) optionalParameterList() (ast.NodeID, error) {
	l := p.l
	save := l.i
	l.skipSpaces()
	if l.peek() != '(' {
		l.i = save
		return ast.NoNode, nil
	}
	return p.parameterList()
}

// parameterList reads `($a, $b=expr)`.
func (p *parser) parameterList() (ast.NodeID, error) {
	l := p.l
	pos := l.i
	l.next()
	var params []ast.NodeID
	l.skipSpaces()
	for l.peek() != ')' {
		ppos := l.i
		name, err := p.placeholderName()
		if err != nil {
			return ast.NoNode, err
		}
		param := ast.Node{Kind: ast.KindParameter, Name: name, Pos: ppos}
		l.skipSpaces()
		if l.match("=") {
			def, err := p.expression()
			if err != nil {
				return ast.NoNode, err
			}
			param.Default = def
		}
		params = append(params, p.add(param))
		l.skipSpaces()
		if !l.match(",") {
			break
		}
		l.skipSpaces()
	}
	if !l.match(")") {
		return ast.NoNode, p.errorf("expected ')' to close parameter list")
	}
	return p.add(ast.Node{Kind: ast.KindParameterList, Children: params, Pos: pos}), nil
}

func (p *parser) targetList() (ast.NodeID, error) {
	l := p.l
	pos := l.i
	var targets []ast.NodeID
	for {
		l.skipSpaces()
		tpos := l.i
		var target ast.NodeID
		switch l.peek() {
		case '$':
			name, err := p.placeholderName()
			if err != nil {
				return ast.NoNode, err
			}
			target = p.add(ast.Node{Kind: ast.KindTarget, Name: name, Pos: tpos})
		case '(', '[':
			closer := byte(')')
			if l.next() == '[' {
				closer = ']'
			}
			inner, err := p.targetList()
			if err != nil {
				return ast.NoNode, err
			}
			l.skipSpaces()
			if l.next() != closer {
				return ast.NoNode, p.errorf("expected %q to close target list", closer)
			}
			target = inner
		default:
			return ast.NoNode, p.errorf("expected a loop target")
		}
		targets = append(targets, target)
		save := l.i
		l.skipSpaces()
		if !l.match(",") {
			l.i = save
			break
		}
	}
	return p.add(ast.Node{Kind: ast.KindTargetList, Children: targets, Pos: pos}), nil
}

func (p *parser) expressionList() (ast.NodeID, error) {
	l := p.l
	pos := l.i
	var exprs []ast.NodeID
	for {
		e, err := p.expression()
		if err != nil {
			return ast.NoNode, err
		}
		exprs = append(exprs, e)
		save := l.i
		l.skipSpaces()
		if !l.match(",") {
			l.i = save
			break
		}
	}
	return p.add(ast.Node{Kind: ast.KindExpressionList, Children: exprs, Pos: pos}), nil
}

// placeholderSubstitution reads `$name...` or `${name...|k=v}` in text.
func (p *parser) placeholderSubstitution() ([]ast.NodeID, error) {
	l := p.l
	pos := l.i
	l.next()
	if l.peek() == '{' {
		l.next()
		l.skipSpaces()
		prim, err := p.placeholderInText()
		if err != nil {
			return nil, err
		}
		var params ast.NodeID
		l.skipSpaces()
		if l.match("|") {
			params, err = p.placeholderParameterList()
			if err != nil {
				return nil, err
			}
		}
		l.skipSpaces()
		if !l.match("}") {
			return nil, p.errorf("expected '}' to close placeholder")
		}
		return []ast.NodeID{p.add(ast.Node{Kind: ast.KindPlaceholderSubstitution, Expr: prim, Params: params, Pos: pos})}, nil
	}
	if !isIdentStart(l.peek()) {
		return []ast.NodeID{p.text(ast.KindText, "$", pos)}, nil
	}
	prim, err := p.placeholderInText()
	if err != nil {
		return nil, err
	}
	return []ast.NodeID{p.add(ast.Node{Kind: ast.KindPlaceholderSubstitution, Expr: prim, Pos: pos})}, nil
}

func (p *parser) placeholderInText() (ast.NodeID, error) {
	pos := p.l.i
	name, ok := p.l.scanIdent()
	if !ok {
		return ast.NoNode, p.errorf("expected a placeholder name")
	}
	return p.suffixes(p.add(ast.Node{Kind: ast.KindPlaceholder, Name: name, Pos: pos}))
}

func (p *parser) placeholderParameterList() (ast.NodeID, error) {
	l := p.l
	pos := l.i
	var params []ast.NodeID
	for {
		l.skipSpaces()
		ppos := l.i
		name, ok := l.scanIdent()
		if !ok {
			return ast.NoNode, p.errorf("expected a placeholder parameter")
		}
		param := ast.Node{Kind: ast.KindParameter, Name: name, Pos: ppos}
		l.skipSpaces()
		if l.match("=") {
			l.skipSpaces()
			vpos := l.i
			if id := l.peekIdent(); id != "" && id != "True" && id != "False" {
				l.scanIdent()
				param.Default = p.add(ast.Node{Kind: ast.KindIdentifier, Name: id, Pos: vpos})
			} else {
				lit, err := p.literal()
				if err != nil {
					return ast.NoNode, err
				}
				param.Default = lit
			}
		}
		params = append(params, p.add(param))
		l.skipSpaces()
		if !l.match(",") {
			break
		}
	}
	return p.add(ast.Node{Kind: ast.KindParameterList, Children: params, Pos: pos}), nil
}

func (p *parser) i18nGoal() (ast.NodeID, error) {
	l := p.l
	root := p.add(ast.Node{Kind: ast.KindFragment, Pos: 0})
	for !l.eof() {
		pos := l.i
		var ids []ast.NodeID
		switch c := l.peek(); {
		case l.match(`\$`):
			ids = append(ids, p.text(ast.KindText, "$", pos))
		case c == '#':
			l.next()
			ids = append(ids, p.text(ast.KindText, "#", pos))
		case c == ' ' || c == '\t':
			l.skipSpaces()
			if nc := l.peek(); nc == '#' || nc == '$' || nc == '\n' || nc == 0 {
				ids = append(ids, p.text(ast.KindWhitespace, string(l.src[pos:l.i]), pos))
			} else {
				l.i = pos
				ids = append(ids, p.text(ast.KindText, l.scanText(), pos))
			}
		case c == '\n':
			l.next()
			ids = append(ids, p.text(ast.KindNewline, "\n", pos))
			wsPos := l.i
			if l.skipSpaces() > 0 {
				ids = append(ids, p.text(ast.KindWhitespace, string(l.src[wsPos:l.i]), wsPos))
			}
		case c == '$':
			sub, err := p.placeholderSubstitution()
			if err != nil {
				return ast.NoNode, err
			}
			ids = sub
		default:
			ids = append(ids, p.text(ast.KindText, l.scanText(), pos))
		}
		if err := p.t.Append(root, ids...); err != nil {
			return ast.NoNode, err
		}
	}
	return root, nil
}

func (p *parser) rhsExpression() (ast.NodeID, error) {
	e, err := p.expression()
	if err != nil {
		return ast.NoNode, err
	}
	p.l.skipSpaces()
	for p.l.match("\n") {
		p.l.skipSpaces()
	}
	if !p.l.eof() {
		return ast.NoNode, p.errorf("unexpected trailing input %q", string(p.l.src[p.l.i:]))
	}
	return e, nil
}
