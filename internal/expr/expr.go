// Package expr evaluates small boolean expressions over literal values.
//
// Filter stages resolve template placeholders into an expression string
// first, so by the time Eval sees it the expression contains only
// literals: quoted strings, numbers, true/false. Supported operators are
// == != < <= > >= (with JS-style === and !== accepted as aliases),
// && || !, and parentheses. Comparisons are numeric when both operands
// are numbers or strings that parse as numbers, lexicographic otherwise.
package expr

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

var (
	// ErrSyntax means the expression does not parse.
	ErrSyntax = errors.New("expression syntax error")

	// ErrType means an operator was applied to operands of the wrong kind,
	// or the expression does not yield a boolean.
	ErrType = errors.New("expression type error")
)

// Eval evaluates src as a boolean expression.
func Eval(src string) (bool, error) {
	p := &parser{src: src}
	p.next()
	v, err := p.parseOr()
	if err != nil {
		return false, err
	}
	if p.err != nil {
		return false, p.err
	}
	if p.tok != tokEOF {
		return false, fmt.Errorf("%w: trailing input at %q", ErrSyntax, p.lit)
	}
	if v.kind != kindBool {
		return false, fmt.Errorf("%w: expression yields %s, not bool", ErrType, v.kind)
	}
	return v.b, nil
}

type kind uint8

const (
	kindString kind = iota
	kindNumber
	kindBool
)

func (k kind) String() string {
	switch k {
	case kindString:
		return "string"
	case kindNumber:
		return "number"
	default:
		return "bool"
	}
}

type value struct {
	kind kind
	s    string
	f    float64
	b    bool
}

func (v value) asNumber() (float64, bool) {
	switch v.kind {
	case kindNumber:
		return v.f, true
	case kindString:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.s), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func (v value) text() string {
	switch v.kind {
	case kindNumber:
		return strconv.FormatFloat(v.f, 'f', -1, 64)
	case kindBool:
		return strconv.FormatBool(v.b)
	default:
		return v.s
	}
}

type token uint8

const (
	tokEOF token = iota
	tokString
	tokNumber
	tokTrue
	tokFalse
	tokEq
	tokNe
	tokLt
	tokLe
	tokGt
	tokGe
	tokAnd
	tokOr
	tokNot
	tokLParen
	tokRParen
)

type parser struct {
	src string
	pos int
	tok token
	lit string
	err error
}

func (p *parser) fail(format string, args ...any) {
	if p.err == nil {
		p.err = fmt.Errorf("%w: %s", ErrSyntax, fmt.Sprintf(format, args...))
	}
	p.tok = tokEOF
}

// next scans the following token into p.tok/p.lit.
func (p *parser) next() {
	for p.pos < len(p.src) && unicode.IsSpace(rune(p.src[p.pos])) {
		p.pos++
	}
	if p.pos >= len(p.src) {
		p.tok = tokEOF
		p.lit = ""
		return
	}
	c := p.src[p.pos]
	switch {
	case c == '(':
		p.pos++
		p.tok = tokLParen
	case c == ')':
		p.pos++
		p.tok = tokRParen
	case c == '\'' || c == '"':
		p.scanString(c)
	case c >= '0' && c <= '9' || c == '-' && p.pos+1 < len(p.src) && p.src[p.pos+1] >= '0' && p.src[p.pos+1] <= '9':
		p.scanNumber()
	case c == '&':
		if !p.eat("&&") {
			p.fail("lone '&' at offset %d", p.pos)
			return
		}
		p.tok = tokAnd
	case c == '|':
		if !p.eat("||") {
			p.fail("lone '|' at offset %d", p.pos)
			return
		}
		p.tok = tokOr
	case c == '=':
		if !p.eat("==") {
			p.fail("lone '=' at offset %d", p.pos)
			return
		}
		p.eat("=")
		p.tok = tokEq
	case c == '!':
		p.pos++
		if p.eat("=") {
			p.eat("=")
			p.tok = tokNe
		} else {
			p.tok = tokNot
		}
	case c == '<':
		p.pos++
		if p.eat("=") {
			p.tok = tokLe
		} else {
			p.tok = tokLt
		}
	case c == '>':
		p.pos++
		if p.eat("=") {
			p.tok = tokGe
		} else {
			p.tok = tokGt
		}
	default:
		p.scanWord()
	}
}

func (p *parser) eat(s string) bool {
	if strings.HasPrefix(p.src[p.pos:], s) {
		p.pos += len(s)
		return true
	}
	return false
}

func (p *parser) scanString(quote byte) {
	p.pos++
	var b strings.Builder
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		switch c {
		case quote:
			p.pos++
			p.tok = tokString
			p.lit = b.String()
			return
		case '\\':
			if p.pos+1 >= len(p.src) {
				p.fail("dangling escape")
				return
			}
			p.pos++
			b.WriteByte(p.src[p.pos])
			p.pos++
		default:
			b.WriteByte(c)
			p.pos++
		}
	}
	p.fail("unterminated string")
}

func (p *parser) scanNumber() {
	start := p.pos
	if p.src[p.pos] == '-' {
		p.pos++
	}
	for p.pos < len(p.src) && (p.src[p.pos] >= '0' && p.src[p.pos] <= '9' || p.src[p.pos] == '.') {
		p.pos++
	}
	p.tok = tokNumber
	p.lit = p.src[start:p.pos]
}

func (p *parser) scanWord() {
	start := p.pos
	for p.pos < len(p.src) && (unicode.IsLetter(rune(p.src[p.pos])) || unicode.IsDigit(rune(p.src[p.pos]))) {
		p.pos++
	}
	word := p.src[start:p.pos]
	switch word {
	case "true":
		p.tok = tokTrue
	case "false":
		p.tok = tokFalse
	case "":
		p.fail("unexpected character %q at offset %d", p.src[start], start)
	default:
		p.fail("unexpected word %q", word)
	}
}

func (p *parser) parseOr() (value, error) {
	v, err := p.parseAnd()
	if err != nil {
		return value{}, err
	}
	for p.tok == tokOr {
		p.next()
		rhs, err := p.parseAnd()
		if err != nil {
			return value{}, err
		}
		if v.kind != kindBool || rhs.kind != kindBool {
			return value{}, fmt.Errorf("%w: || needs bool operands", ErrType)
		}
		v.b = v.b || rhs.b
	}
	return v, nil
}

func (p *parser) parseAnd() (value, error) {
	v, err := p.parseNot()
	if err != nil {
		return value{}, err
	}
	for p.tok == tokAnd {
		p.next()
		rhs, err := p.parseNot()
		if err != nil {
			return value{}, err
		}
		if v.kind != kindBool || rhs.kind != kindBool {
			return value{}, fmt.Errorf("%w: && needs bool operands", ErrType)
		}
		v.b = v.b && rhs.b
	}
	return v, nil
}

func (p *parser) parseNot() (value, error) {
	if p.tok == tokNot {
		p.next()
		v, err := p.parseNot()
		if err != nil {
			return value{}, err
		}
		if v.kind != kindBool {
			return value{}, fmt.Errorf("%w: ! needs a bool operand", ErrType)
		}
		v.b = !v.b
		return v, nil
	}
	return p.parseComparison()
}

func (p *parser) parseComparison() (value, error) {
	lhs, err := p.parsePrimary()
	if err != nil {
		return value{}, err
	}
	op := p.tok
	switch op {
	case tokEq, tokNe, tokLt, tokLe, tokGt, tokGe:
	default:
		return lhs, nil
	}
	p.next()
	rhs, err := p.parsePrimary()
	if err != nil {
		return value{}, err
	}
	return compare(lhs, op, rhs)
}

func (p *parser) parsePrimary() (value, error) {
	switch p.tok {
	case tokLParen:
		p.next()
		v, err := p.parseOr()
		if err != nil {
			return value{}, err
		}
		if p.tok != tokRParen {
			return value{}, fmt.Errorf("%w: missing ')'", ErrSyntax)
		}
		p.next()
		return v, nil
	case tokString:
		v := value{kind: kindString, s: p.lit}
		p.next()
		return v, nil
	case tokNumber:
		f, err := strconv.ParseFloat(p.lit, 64)
		if err != nil {
			return value{}, fmt.Errorf("%w: bad number %q", ErrSyntax, p.lit)
		}
		p.next()
		return value{kind: kindNumber, f: f}, nil
	case tokTrue:
		p.next()
		return value{kind: kindBool, b: true}, nil
	case tokFalse:
		p.next()
		return value{kind: kindBool, b: false}, nil
	default:
		if p.err != nil {
			return value{}, p.err
		}
		return value{}, fmt.Errorf("%w: unexpected token at offset %d", ErrSyntax, p.pos)
	}
}

func compare(lhs value, op token, rhs value) (value, error) {
	if lf, lok := lhs.asNumber(); lok {
		if rf, rok := rhs.asNumber(); rok {
			return value{kind: kindBool, b: compareOrdered(lf, op, rf)}, nil
		}
	}
	if lhs.kind == kindBool || rhs.kind == kindBool {
		if op != tokEq && op != tokNe {
			return value{}, fmt.Errorf("%w: ordering comparison on bool", ErrType)
		}
	}
	return value{kind: kindBool, b: compareOrdered(lhs.text(), op, rhs.text())}, nil
}

func compareOrdered[T string | float64](lhs T, op token, rhs T) bool {
	switch op {
	case tokEq:
		return lhs == rhs
	case tokNe:
		return lhs != rhs
	case tokLt:
		return lhs < rhs
	case tokLe:
		return lhs <= rhs
	case tokGt:
		return lhs > rhs
	default:
		return lhs >= rhs
	}
}
