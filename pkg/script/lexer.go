package script

import (
	"unicode"
)

// TokenType represents the type of a token.
type TokenType uint8

const (
	TokenEOF TokenType = iota
	TokenNewline
	TokenIdent   // mnemonics, commands and register names
	TokenInt     // 42, -7, 0x1F, 0b101
	TokenComma   // ,
	TokenIllegal // any other character
)

// String returns the string representation of a token type.
func (t TokenType) String() string {
	switch t {
	case TokenEOF:
		return "EOF"
	case TokenNewline:
		return "NEWLINE"
	case TokenIdent:
		return "IDENT"
	case TokenInt:
		return "INT"
	case TokenComma:
		return "COMMA"
	case TokenIllegal:
		return "ILLEGAL"
	default:
		return "UNKNOWN"
	}
}

// Token represents a lexical token.
type Token struct {
	Type  TokenType
	Value string
	Line  int
}

// Lexer splits statement source into tokens. Comments start with ';' or '#'
// and run to the end of the line.
type Lexer struct {
	input  string
	pos    int
	line   int
	tokens []Token
}

// NewLexer creates a new lexer for the given input.
func NewLexer(input string) *Lexer {
	return &Lexer{
		input: input,
		line:  1,
	}
}

// Tokenize tokenizes the entire input. The last token is always TokenEOF.
func (l *Lexer) Tokenize() []Token {
	for l.pos < len(l.input) {
		l.skipWhitespace()
		if l.pos >= len(l.input) {
			break
		}

		ch := l.input[l.pos]

		switch {
		case ch == '\n':
			l.emit(TokenNewline, "\n")
			l.line++
			l.pos++

		case ch == ';' || ch == '#':
			for l.pos < len(l.input) && l.input[l.pos] != '\n' {
				l.pos++
			}

		case ch == ',':
			l.emit(TokenComma, ",")
			l.pos++

		case unicode.IsDigit(rune(ch)) || ((ch == '-' || ch == '+') && l.digitAt(l.pos+1)):
			l.scanNumber()

		case unicode.IsLetter(rune(ch)) || ch == '_':
			l.scanIdent()

		default:
			l.emit(TokenIllegal, string(ch))
			l.pos++
		}
	}

	l.emit(TokenEOF, "")
	return l.tokens
}

func (l *Lexer) emit(typ TokenType, value string) {
	l.tokens = append(l.tokens, Token{Type: typ, Value: value, Line: l.line})
}

func (l *Lexer) digitAt(i int) bool {
	return i < len(l.input) && unicode.IsDigit(rune(l.input[i]))
}

func (l *Lexer) skipWhitespace() {
	for l.pos < len(l.input) {
		ch := l.input[l.pos]
		if ch == ' ' || ch == '\t' || ch == '\r' {
			l.pos++
		} else {
			break
		}
	}
}

// scanNumber takes a sign and every following alphanumeric character, so
// prefixed literals like 0x1F stay one token. The parser validates it.
func (l *Lexer) scanNumber() {
	start := l.pos
	if ch := l.input[l.pos]; ch == '-' || ch == '+' {
		l.pos++
	}
	for l.pos < len(l.input) && isWordChar(l.input[l.pos]) {
		l.pos++
	}
	l.emit(TokenInt, l.input[start:l.pos])
}

func (l *Lexer) scanIdent() {
	start := l.pos
	l.pos++
	for l.pos < len(l.input) && isWordChar(l.input[l.pos]) {
		l.pos++
	}
	l.emit(TokenIdent, l.input[start:l.pos])
}

func isWordChar(ch byte) bool {
	return unicode.IsLetter(rune(ch)) || unicode.IsDigit(rune(ch)) || ch == '_'
}
