package filter

import (
	"fmt"
	"strconv"
	"time"

	"canon/internal/canonerr"
)

// Parse parses a single filter expression string into an AST, per spec.md
// §4.1's grammar. Key namespaces are validated during parsing so errors
// name the offending column immediately rather than surfacing later as an
// opaque SQL failure.
func Parse(expr string) (Node, error) {
	p := &parser{lex: newLexer(expr)}
	if err := p.advance(); err != nil {
		return nil, wrapParseErr(err)
	}
	node, err := p.parseOr()
	if err != nil {
		return nil, wrapParseErr(err)
	}
	if p.tok.kind != tokEOF {
		return nil, wrapParseErr(&lexError{col: p.tok.col, msg: fmt.Sprintf("trailing input near %q", p.tok.text)})
	}
	return node, nil
}

// ParseAll parses multiple filter arguments and ANDs them together, per
// spec.md §4.1 "Combination": "Multiple filter arguments on the command
// line are combined with AND."
func ParseAll(exprs []string) (Node, error) {
	var combined Node
	for _, e := range exprs {
		n, err := Parse(e)
		if err != nil {
			return nil, err
		}
		if combined == nil {
			combined = n
			continue
		}
		combined = And{Left: combined, Right: n}
	}
	return combined, nil
}

func wrapParseErr(err error) error {
	if err == nil {
		return nil
	}
	return canonerr.Wrap(canonerr.ErrUserInput, "filter", "parse", err.Error(), nil)
}

type parser struct {
	lex *lexer
	tok token
}

func (p *parser) advance() error {
	t, err := p.lex.next()
	if err != nil {
		return err
	}
	p.tok = t
	return nil
}

func (p *parser) expect(k tokenKind, what string) (token, error) {
	if p.tok.kind != k {
		return token{}, &lexError{col: p.tok.col, msg: fmt.Sprintf("expected %s", what)}
	}
	t := p.tok
	if err := p.advance(); err != nil {
		return token{}, err
	}
	return t, nil
}

// or := and ( "OR" and )*
func (p *parser) parseOr() (Node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.tok.kind == tokOr {
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = Or{Left: left, Right: right}
	}
	return left, nil
}

// and := not ( "AND" not )*
func (p *parser) parseAnd() (Node, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.tok.kind == tokAnd {
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = And{Left: left, Right: right}
	}
	return left, nil
}

// not := "NOT" not | atom
func (p *parser) parseNot() (Node, error) {
	if p.tok.kind == tokNot {
		if err := p.advance(); err != nil {
			return nil, err
		}
		inner, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return Not{Inner: inner}, nil
	}
	return p.parseAtom()
}

// atom := "(" expr ")" | key op value | key "?" | "!" key "?"
//       | key "IN" "(" value ("," value)* ")"
func (p *parser) parseAtom() (Node, error) {
	switch p.tok.kind {
	case tokLParen:
		if err := p.advance(); err != nil {
			return nil, err
		}
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokRParen, "closing ')'"); err != nil {
			return nil, err
		}
		return inner, nil

	case tokBang:
		if err := p.advance(); err != nil {
			return nil, err
		}
		key, err := p.parseKey()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokQuestion, "'?' after negated key"); err != nil {
			return nil, err
		}
		return Not{Inner: Exists{Key: key}}, nil

	case tokIdent:
		key, err := p.parseKey()
		if err != nil {
			return nil, err
		}
		return p.parseKeyTail(key)

	default:
		return nil, &lexError{col: p.tok.col, msg: fmt.Sprintf("unexpected token %q, expected a key, '(', '!', or 'NOT'", p.tok.text)}
	}
}

func (p *parser) parseKey() (string, error) {
	if p.tok.kind != tokIdent {
		return "", &lexError{col: p.tok.col, msg: "expected a fact key"}
	}
	key := p.tok.text
	if err := validateKey(key); err != nil {
		return "", &lexError{col: p.tok.col, msg: err.Error()}
	}
	if err := p.advance(); err != nil {
		return "", err
	}
	return key, nil
}

func (p *parser) parseKeyTail(key string) (Node, error) {
	switch p.tok.kind {
	case tokQuestion:
		if err := p.advance(); err != nil {
			return nil, err
		}
		return Exists{Key: key}, nil

	case tokIn:
		if err := p.advance(); err != nil {
			return nil, err
		}
		if _, err := p.expect(tokLParen, "'(' after IN"); err != nil {
			return nil, err
		}
		var values []Value
		for {
			v, err := p.parseValue()
			if err != nil {
				return nil, err
			}
			values = append(values, v)
			if p.tok.kind == tokComma {
				if err := p.advance(); err != nil {
					return nil, err
				}
				continue
			}
			break
		}
		if _, err := p.expect(tokRParen, "closing ')' after IN list"); err != nil {
			return nil, err
		}
		var node Node
		for _, v := range values {
			eq := Compare{Key: key, Op: "=", Value: v}
			if node == nil {
				node = eq
				continue
			}
			node = Or{Left: node, Right: eq}
		}
		return node, nil

	case tokEq, tokNeq, tokGt, tokGte, tokLt, tokLte:
		op := opText(p.tok.kind)
		if err := p.advance(); err != nil {
			return nil, err
		}
		v, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		return Compare{Key: key, Op: op, Value: v}, nil

	default:
		return nil, &lexError{col: p.tok.col, msg: "expected '?', 'IN', or a comparison operator after key"}
	}
}

func opText(k tokenKind) string {
	switch k {
	case tokEq:
		return "="
	case tokNeq:
		return "!="
	case tokGt:
		return ">"
	case tokGte:
		return ">="
	case tokLt:
		return "<"
	case tokLte:
		return "<="
	}
	return ""
}

func (p *parser) parseValue() (Value, error) {
	switch p.tok.kind {
	case tokNumber:
		n, err := strconv.ParseFloat(p.tok.text, 64)
		if err != nil {
			return Value{}, &lexError{col: p.tok.col, msg: fmt.Sprintf("invalid number %q", p.tok.text)}
		}
		v := Value{Kind: ValueNumber, Text: p.tok.text, Num: n}
		if err := p.advance(); err != nil {
			return Value{}, err
		}
		return v, nil

	case tokDate:
		t, err := parseDate(p.tok.text)
		if err != nil {
			return Value{}, &lexError{col: p.tok.col, msg: fmt.Sprintf("invalid date %q", p.tok.text)}
		}
		v := Value{Kind: ValueDate, Text: p.tok.text, Time: t}
		if err := p.advance(); err != nil {
			return Value{}, err
		}
		return v, nil

	case tokIdent, tokString:
		v := Value{Kind: ValueString, Text: p.tok.text}
		if err := p.advance(); err != nil {
			return Value{}, err
		}
		return v, nil

	default:
		return Value{}, &lexError{col: p.tok.col, msg: "expected a value"}
	}
}

func parseDate(s string) (int64, error) {
	layout := "2006-01-02"
	if len(s) > len("2006-01-02") {
		layout = "2006-01-02T15:04:05"
	}
	t, err := time.ParseInLocation(layout, s, time.UTC)
	if err != nil {
		return 0, err
	}
	return t.Unix(), nil
}
