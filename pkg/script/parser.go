// Package script parses stackvm statements: one mnemonic or REPL command per
// line followed by its operands, separated by spaces or commas.
//
//	PSH 5
//	SET A, 0x10   ; hex literal
//	IF A 16 0
package script

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/akhildatla/stackvm/pkg/vm"
)

// ErrSyntax is wrapped by every parse error.
var ErrSyntax = errors.New("syntax error")

// Statement is one parsed line.
type Statement struct {
	Word     string // mnemonic or command, upper-cased
	Operands []vm.Operand
	Line     int
}

// String returns the statement in canonical form.
func (s Statement) String() string {
	if len(s.Operands) == 0 {
		return s.Word
	}
	parts := make([]string, len(s.Operands))
	for i, o := range s.Operands {
		parts[i] = o.String()
	}
	return s.Word + " " + strings.Join(parts, " ")
}

// Parser parses statement source.
type Parser struct {
	tokens []Token
	pos    int
}

// NewParser creates a new parser for the given input.
func NewParser(input string) *Parser {
	return &Parser{tokens: NewLexer(input).Tokenize()}
}

// Parse returns every statement in source, skipping blank and comment lines.
func Parse(source string) ([]Statement, error) {
	return NewParser(source).Parse()
}

// ParseLine parses a single line. ok is false for blank or comment-only input.
func ParseLine(line string) (stmt Statement, ok bool, err error) {
	stmts, err := Parse(line)
	if err != nil {
		return Statement{}, false, err
	}
	switch len(stmts) {
	case 0:
		return Statement{}, false, nil
	case 1:
		return stmts[0], true, nil
	}
	return Statement{}, false, fmt.Errorf("%w: expected one statement, got %d", ErrSyntax, len(stmts))
}

// Parse parses the entire input.
func (p *Parser) Parse() ([]Statement, error) {
	var stmts []Statement
	for p.pos < len(p.tokens) {
		tok := p.tokens[p.pos]

		switch tok.Type {
		case TokenEOF:
			return stmts, nil

		case TokenNewline:
			p.pos++

		case TokenIdent:
			stmt, err := p.parseStatement()
			if err != nil {
				return nil, err
			}
			stmts = append(stmts, stmt)

		default:
			return nil, fmt.Errorf("%w: line %d: statement starts with %s %q", ErrSyntax, tok.Line, tok.Type, tok.Value)
		}
	}
	return stmts, nil
}

func (p *Parser) parseStatement() (Statement, error) {
	stmt := Statement{
		Word: strings.ToUpper(p.tokens[p.pos].Value),
		Line: p.tokens[p.pos].Line,
	}
	p.pos++

	for p.pos < len(p.tokens) {
		tok := p.tokens[p.pos]

		if tok.Type == TokenNewline || tok.Type == TokenEOF {
			break
		}

		if tok.Type == TokenComma {
			p.pos++
			continue
		}

		operand, err := p.parseOperand()
		if err != nil {
			return stmt, err
		}
		stmt.Operands = append(stmt.Operands, operand)
	}

	return stmt, nil
}

func (p *Parser) parseOperand() (vm.Operand, error) {
	tok := p.tokens[p.pos]

	switch tok.Type {
	case TokenIdent:
		p.pos++
		return vm.Reg(tok.Value), nil

	case TokenInt:
		v, err := strconv.ParseInt(tok.Value, 0, 64)
		if err != nil {
			return vm.Operand{}, fmt.Errorf("%w: line %d: invalid integer: %s", ErrSyntax, tok.Line, tok.Value)
		}
		p.pos++
		return vm.Imm(v), nil

	default:
		return vm.Operand{}, fmt.Errorf("%w: line %d: unexpected token: %s", ErrSyntax, tok.Line, tok.Value)
	}
}
