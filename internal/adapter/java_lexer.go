package adapter

import (
	"fmt"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokMetavar
	tokEllipsisMetavar
	tokString
	tokInt
	tokChar
	tokEllipsis
	tokDeepOpen  // <...
	tokDeepClose // ...>
	tokPunct
)

type token struct {
	kind tokenKind
	text string
	line int
	col  int
}

func (t token) String() string {
	if t.kind == tokEOF {
		return "end of pattern"
	}

	return fmt.Sprintf("%q", t.text)
}

// Longest first.
var punctuators = []string{
	">>>=", "<<=", ">>=",
	"->", "::", "++", "--", "&&", "||", "==", "!=", "<=", ">=", "+=", "-=", "*=", "/=", "&=", "|=", "^=", "%=",
	"(", ")", "{", "}", "[", "]", ";", ",", ".", "@", "=", "<", ">", "!", "~", "?", ":",
	"+", "-", "*", "/", "&", "|", "^", "%",
}

type lexer struct {
	src  []rune
	pos  int
	line int
	col  int
}

func tokenize(text string) ([]token, error) {
	l := &lexer{src: []rune(text), line: 1, col: 0}

	var tokens []token

	for {
		t, err := l.next()
		if err != nil {
			return nil, err
		}

		tokens = append(tokens, t)

		if t.kind == tokEOF {
			return tokens, nil
		}
	}
}

func (l *lexer) peekRune(offset int) rune {
	if l.pos+offset >= len(l.src) {
		return 0
	}

	return l.src[l.pos+offset]
}

func (l *lexer) hasPrefix(s string) bool {
	rs := []rune(s)
	if l.pos+len(rs) > len(l.src) {
		return false
	}

	for i, r := range rs {
		if l.src[l.pos+i] != r {
			return false
		}
	}

	return true
}

func (l *lexer) advance(n int) {
	for i := 0; i < n && l.pos < len(l.src); i++ {
		if l.src[l.pos] == '\n' {
			l.line++
			l.col = 0
		} else {
			l.col++
		}

		l.pos++
	}
}

func (l *lexer) errorf(format string, args ...any) error {
	return fmt.Errorf("%w: line %d:%d %s", ErrParse, l.line, l.col, fmt.Sprintf(format, args...))
}

func (l *lexer) skipSpaceAndComments() error {
	for l.pos < len(l.src) {
		switch {
		case unicode.IsSpace(l.src[l.pos]):
			l.advance(1)
		case l.hasPrefix("//"):
			for l.pos < len(l.src) && l.src[l.pos] != '\n' {
				l.advance(1)
			}
		case l.hasPrefix("/*"):
			l.advance(2)

			for !l.hasPrefix("*/") {
				if l.pos >= len(l.src) {
					return l.errorf("unterminated comment")
				}

				l.advance(1)
			}

			l.advance(2)
		default:
			return nil
		}
	}

	return nil
}

func isIdentStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

func isIdentPart(r rune) bool {
	return r == '_' || r == '$' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

func (l *lexer) next() (token, error) {
	if err := l.skipSpaceAndComments(); err != nil {
		return token{}, err
	}

	start := token{line: l.line, col: l.col}

	if l.pos >= len(l.src) {
		start.kind = tokEOF
		return start, nil
	}

	take := func(kind tokenKind, n int) (token, error) {
		start.kind = kind
		start.text = string(l.src[l.pos : l.pos+n])
		l.advance(n)

		return start, nil
	}

	r := l.src[l.pos]

	switch {
	case l.hasPrefix("<..."):
		return take(tokDeepOpen, 4)
	case l.hasPrefix("...>"):
		return take(tokDeepClose, 4)
	case l.hasPrefix("..."):
		return take(tokEllipsis, 3)
	case l.hasPrefix("$..."):
		n := 4
		for isIdentPart(l.peekRune(n)) {
			n++
		}

		if n == 4 {
			return token{}, l.errorf("empty ellipsis metavariable")
		}

		return take(tokEllipsisMetavar, n)
	case r == '$':
		n := 1
		for isIdentPart(l.peekRune(n)) {
			n++
		}

		if n == 1 {
			return token{}, l.errorf("empty metavariable")
		}

		return take(tokMetavar, n)
	case isIdentStart(r):
		n := 1
		for isIdentPart(l.peekRune(n)) {
			n++
		}

		return take(tokIdent, n)
	case unicode.IsDigit(r):
		n := 1
		for unicode.IsDigit(l.peekRune(n)) || unicode.IsLetter(l.peekRune(n)) || l.peekRune(n) == '_' {
			n++
		}

		return take(tokInt, n)
	case r == '"':
		return l.quoted(start, '"', tokString)
	case r == '\'':
		return l.quoted(start, '\'', tokChar)
	}

	for _, p := range punctuators {
		if l.hasPrefix(p) {
			return take(tokPunct, len([]rune(p)))
		}
	}

	return token{}, l.errorf("unexpected character %q", r)
}

func (l *lexer) quoted(start token, quote rune, kind tokenKind) (token, error) {
	var b strings.Builder

	l.advance(1)

	for {
		if l.pos >= len(l.src) || l.src[l.pos] == '\n' {
			return token{}, l.errorf("unterminated literal")
		}

		r := l.src[l.pos]
		if r == quote {
			l.advance(1)
			break
		}

		if r == '\\' && l.pos+1 < len(l.src) {
			b.WriteRune(r)
			b.WriteRune(l.src[l.pos+1])
			l.advance(2)

			continue
		}

		b.WriteRune(r)
		l.advance(1)
	}

	start.kind = kind
	start.text = b.String()

	return start, nil
}
