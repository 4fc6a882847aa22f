package conditions

import (
	"fmt"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokenEOF tokenKind = iota
	tokenIdent
	tokenNumber
	tokenString
	tokenBool
	tokenAnd
	tokenOr
	tokenEq
	tokenNeq
	tokenGt
	tokenLt
	tokenGte
	tokenLte
	tokenLParen
	tokenRParen
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

type lexer struct {
	input string
	pos   int
}

func (l *lexer) next() (token, error) {
	for l.pos < len(l.input) && unicode.IsSpace(rune(l.input[l.pos])) {
		l.pos++
	}

	if l.pos >= len(l.input) {
		return token{kind: tokenEOF, pos: l.pos}, nil
	}

	start := l.pos
	c := l.input[l.pos]

	switch {
	case c == '(':
		l.pos++

		return token{kind: tokenLParen, text: "(", pos: start}, nil
	case c == ')':
		l.pos++

		return token{kind: tokenRParen, text: ")", pos: start}, nil
	case c == '=':
		if l.peekAt(1) == '=' {
			l.pos += 2

			return token{kind: tokenEq, text: "==", pos: start}, nil
		}

		return token{}, l.errorf(start, "unexpected character %q", c)
	case c == '!':
		if l.peekAt(1) == '=' {
			l.pos += 2

			return token{kind: tokenNeq, text: "!=", pos: start}, nil
		}

		return token{}, l.errorf(start, "unexpected character %q", c)
	case c == '>':
		if l.peekAt(1) == '=' {
			l.pos += 2

			return token{kind: tokenGte, text: ">=", pos: start}, nil
		}

		l.pos++

		return token{kind: tokenGt, text: ">", pos: start}, nil
	case c == '<':
		if l.peekAt(1) == '=' {
			l.pos += 2

			return token{kind: tokenLte, text: "<=", pos: start}, nil
		}

		l.pos++

		return token{kind: tokenLt, text: "<", pos: start}, nil
	case c == '&':
		if l.peekAt(1) == '&' {
			l.pos += 2

			return token{kind: tokenAnd, text: "&&", pos: start}, nil
		}

		return token{}, l.errorf(start, "unexpected character %q", c)
	case c == '|':
		if l.peekAt(1) == '|' {
			l.pos += 2

			return token{kind: tokenOr, text: "||", pos: start}, nil
		}

		return token{}, l.errorf(start, "unexpected character %q", c)
	case c == '\'' || c == '"':
		return l.lexString(c)
	case unicode.IsDigit(rune(c)) || (c == '-' && unicode.IsDigit(rune(l.peekAt(1)))):
		return l.lexNumber()
	case unicode.IsLetter(rune(c)) || c == '_':
		return l.lexWord()
	default:
		return token{}, l.errorf(start, "unexpected character %q", c)
	}
}

func (l *lexer) peekAt(offset int) byte {
	if l.pos+offset >= len(l.input) {
		return 0
	}

	return l.input[l.pos+offset]
}

func (l *lexer) lexString(quote byte) (token, error) {
	start := l.pos
	l.pos++

	for l.pos < len(l.input) && l.input[l.pos] != quote {
		l.pos++
	}

	if l.pos >= len(l.input) {
		return token{}, l.errorf(start, "unterminated string")
	}

	text := l.input[start+1 : l.pos]
	l.pos++

	return token{kind: tokenString, text: text, pos: start}, nil
}

func (l *lexer) lexNumber() (token, error) {
	start := l.pos
	if l.input[l.pos] == '-' {
		l.pos++
	}

	for l.pos < len(l.input) && (unicode.IsDigit(rune(l.input[l.pos])) || l.input[l.pos] == '.') {
		l.pos++
	}

	return token{kind: tokenNumber, text: l.input[start:l.pos], pos: start}, nil
}

func (l *lexer) lexWord() (token, error) {
	start := l.pos

	for l.pos < len(l.input) && (unicode.IsLetter(rune(l.input[l.pos])) || unicode.IsDigit(rune(l.input[l.pos])) || l.input[l.pos] == '_' || l.input[l.pos] == '.') {
		l.pos++
	}

	word := l.input[start:l.pos]

	switch strings.ToLower(word) {
	case "and":
		return token{kind: tokenAnd, text: word, pos: start}, nil
	case "or":
		return token{kind: tokenOr, text: word, pos: start}, nil
	case "true", "false":
		return token{kind: tokenBool, text: strings.ToLower(word), pos: start}, nil
	default:
		return token{kind: tokenIdent, text: word, pos: start}, nil
	}
}

func (l *lexer) errorf(pos int, format string, args ...any) error {
	return &InvalidExpressionError{Expr: l.input, Pos: pos, Err: fmt.Errorf(format, args...)}
}
