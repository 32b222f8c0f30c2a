package parser

// The lexer is a byte cursor over template source. Tokenization is context
// sensitive, so the parser asks for exactly the lexeme it expects next
// instead of consuming a pre-built token stream.

type lexer struct {
	src []byte
	i   int
	n   int
}

func newLexer(src []byte) *lexer {
	return &lexer{src: src, n: len(src)}
}

func (l *lexer) eof() bool { return l.i >= l.n }

func (l *lexer) next() byte {
	if l.i >= l.n {
		return 0
	}
	b := l.src[l.i]
	l.i++
	return b
}

func (l *lexer) peek() byte {
	if l.i >= l.n {
		return 0
	}
	return l.src[l.i]
}

func (l *lexer) peekAt(k int) byte {
	if l.i+k >= l.n {
		return 0
	}
	return l.src[l.i+k]
}

func (l *lexer) hasPrefix(s string) bool {
	if l.i+len(s) > l.n {
		return false
	}
	return string(l.src[l.i:l.i+len(s)]) == s
}

func (l *lexer) match(s string) bool {
	if !l.hasPrefix(s) {
		return false
	}
	l.i += len(s)
	return true
}

// matchWord consumes s only when it is not immediately followed by an
// identifier character.
func (l *lexer) matchWord(s string) bool {
	if !l.hasPrefix(s) || isIdentChar(l.peekAt(len(s))) {
		return false
	}
	l.i += len(s)
	return true
}

// skipSpaces consumes spaces and tabs, never newlines, and reports how many.
func (l *lexer) skipSpaces() int {
	start := l.i
	for l.i < l.n && (l.src[l.i] == ' ' || l.src[l.i] == '\t') {
		l.i++
	}
	return l.i - start
}

func (l *lexer) scanIdent() (string, bool) {
	if !isIdentStart(l.peek()) {
		return "", false
	}
	start := l.i
	for l.i < l.n && isIdentChar(l.src[l.i]) {
		l.i++
	}
	return string(l.src[start:l.i]), true
}

// peekIdent returns the identifier at the cursor without consuming it.
func (l *lexer) peekIdent() string {
	save := l.i
	id, _ := l.scanIdent()
	l.i = save
	return id
}

// scanUntil scans until the first occurrence of delim and returns the text
// before it. The cursor is left on delim. If delim is not found, it returns
// the rest of the input.
func (l *lexer) scanUntil(delim string) (string, bool) {
	start := l.i
	for l.i < l.n {
		if l.hasPrefix(delim) {
			return string(l.src[start:l.i]), true
		}
		l.i++
	}
	return string(l.src[start:]), false
}

// scanText consumes plain text up to the next '#', '$', newline or escaped
// dollar.
func (l *lexer) scanText() string {
	start := l.i
	for l.i < l.n {
		c := l.src[l.i]
		if c == '#' || c == '$' || c == '\n' || (c == '\\' && l.peekAt(1) == '$') {
			break
		}
		l.i++
	}
	return string(l.src[start:l.i])
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentChar(c byte) bool {
	return isIdentStart(c) || isDigit(c)
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

// identAt returns the identifier starting at src[i], if any.
func identAt(src []byte, i int) string {
	j := i
	for j < len(src) && isIdentChar(src[j]) {
		j++
	}
	if j == i || !isIdentStart(src[i]) {
		return ""
	}
	return string(src[i:j])
}
