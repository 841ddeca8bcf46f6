package predicate

import "fmt"

// Parser implements the grammar from spec.md 4.2:
//
//	expr := or
//	or   := and ('OR' and)*
//	and  := not ('AND' not)*
//	not  := 'NOT'? cmp
//	cmp  := atom op atom | atom 'IS' 'NOT'? 'NULL' | '(' expr ')'
//	atom := column | literal | '(' expr ')'
//
// The "'(' expr ')'" alternative is listed under both cmp and atom:
// a parenthesized expression may stand in for a whole boolean term
// (grouping "(a OR b) AND c") or as one side of a comparison is never
// meaningful (comparisons only ever compare scalar atoms), so in
// practice parenthesized groups are parsed once, at the cmp level.
type parser struct {
	lex  *lexer
	tok  Token
	peek *Token
}

// Parse parses a predicate expression and returns its AST, or a
// *ParseError describing the first offending token.
func Parse(src string) (Expr, error) {
	p := &parser{lex: newLexer(src)}
	if err := p.advance(); err != nil {
		return nil, err
	}
	expr, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.tok.Kind != TokEOF {
		return nil, &ParseError{Offset: p.tok.Offset, Message: fmt.Sprintf("unexpected token %q", p.tok.Text), Expected: []string{"AND", "OR", "EOF"}}
	}
	return expr, nil
}

func (p *parser) advance() error {
	if p.peek != nil {
		p.tok = *p.peek
		p.peek = nil
		return nil
	}
	t, err := p.lex.Next()
	if err != nil {
		return err
	}
	p.tok = t
	return nil
}

func (p *parser) parseOr() (Expr, error) {
	first, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	operands := []Expr{first}
	for p.tok.Kind == TokOr {
		if err := p.advance(); err != nil {
			return nil, err
		}
		next, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		operands = append(operands, next)
	}
	if len(operands) == 1 {
		return operands[0], nil
	}
	return Or{Operands: operands}, nil
}

func (p *parser) parseAnd() (Expr, error) {
	first, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	operands := []Expr{first}
	for p.tok.Kind == TokAnd {
		if err := p.advance(); err != nil {
			return nil, err
		}
		next, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		operands = append(operands, next)
	}
	if len(operands) == 1 {
		return operands[0], nil
	}
	return And{Operands: operands}, nil
}

func (p *parser) parseNot() (Expr, error) {
	if p.tok.Kind == TokNot {
		if err := p.advance(); err != nil {
			return nil, err
		}
		inner, err := p.parseCmp()
		if err != nil {
			return nil, err
		}
		return Not{Inner: inner}, nil
	}
	return p.parseCmp()
}

func (p *parser) parseCmp() (Expr, error) {
	if p.tok.Kind == TokLParen {
		if err := p.advance(); err != nil {
			return nil, err
		}
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.tok.Kind != TokRParen {
			return nil, &ParseError{Offset: p.tok.Offset, Message: "expected ')'", Expected: []string{")"}}
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		return inner, nil
	}

	left, err := p.parseAtom()
	if err != nil {
		return nil, err
	}

	switch p.tok.Kind {
	case TokIs:
		if err := p.advance(); err != nil {
			return nil, err
		}
		negate := false
		if p.tok.Kind == TokNot {
			negate = true
			if err := p.advance(); err != nil {
				return nil, err
			}
		}
		if p.tok.Kind != TokNull {
			return nil, &ParseError{Offset: p.tok.Offset, Message: "expected NULL", Expected: []string{"NULL"}}
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		return IsNullCheck{Target: left, Negate: negate}, nil
	case TokEq:
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseAtom()
		if err != nil {
			return nil, err
		}
		return Compare{Op: OpEqual, Left: left, Right: right}, nil
	case TokNeq:
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseAtom()
		if err != nil {
			return nil, err
		}
		return Compare{Op: OpNotEqual, Left: left, Right: right}, nil
	default:
		return nil, &ParseError{
			Offset:   p.tok.Offset,
			Message:  fmt.Sprintf("unexpected token %q", p.tok.Text),
			Expected: []string{"=", "!=", "IS"},
		}
	}
}

func (p *parser) parseAtom() (Expr, error) {
	switch p.tok.Kind {
	case TokLParen:
		if err := p.advance(); err != nil {
			return nil, err
		}
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.tok.Kind != TokRParen {
			return nil, &ParseError{Offset: p.tok.Offset, Message: "expected ')'", Expected: []string{")"}}
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		return inner, nil
	case TokIdent:
		name := p.tok.Text
		if err := p.advance(); err != nil {
			return nil, err
		}
		return Column{Name: name}, nil
	case TokString:
		lit := Literal{IsStr: true, Str: p.tok.Text}
		return lit, p.advance()
	case TokInt:
		n, err := parseInt(p.tok.Text)
		if err != nil {
			return nil, &ParseError{Offset: p.tok.Offset, Message: err.Error()}
		}
		lit := Literal{IsInt: true, Int: n}
		return lit, p.advance()
	case TokFloat:
		f, err := parseFloat(p.tok.Text)
		if err != nil {
			return nil, &ParseError{Offset: p.tok.Offset, Message: err.Error()}
		}
		lit := Literal{IsReal: true, Real: f}
		return lit, p.advance()
	case TokTrue:
		lit := Literal{IsBool: true, Bool: true}
		return lit, p.advance()
	case TokFalse:
		lit := Literal{IsBool: true, Bool: false}
		return lit, p.advance()
	case TokNull:
		lit := Literal{IsNull: true}
		return lit, p.advance()
	default:
		return nil, &ParseError{
			Offset:   p.tok.Offset,
			Message:  fmt.Sprintf("unexpected token %q", p.tok.Text),
			Expected: []string{"column", "literal", "("},
		}
	}
}
