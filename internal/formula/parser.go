package formula

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// node is the closed set of AST variants.
type node interface{ isNode() }

type numberNode struct{ value decimal.Decimal }

type varNode struct{ name string }

type unaryNode struct{ operand node }

type binaryNode struct {
	op    byte
	left  node
	right node
}

type callNode struct {
	fn   string
	args []node
}

func (numberNode) isNode() {}
func (varNode) isNode()    {}
func (unaryNode) isNode()  {}
func (binaryNode) isNode() {}
func (callNode) isNode()   {}

type function struct {
	minArgs int
	maxArgs int
}

var functions = map[string]function{
	"min":   {minArgs: 1, maxArgs: -1},
	"max":   {minArgs: 1, maxArgs: -1},
	"round": {minArgs: 1, maxArgs: 2},
}

type parser struct {
	tokens []token
	pos    int
	nodes  int
	limits Limits
}

func (p *parser) peek() token { return p.tokens[p.pos] }

func (p *parser) next() token {
	tok := p.tokens[p.pos]
	if tok.kind != tokEOF {
		p.pos++
	}
	return tok
}

func (p *parser) expect(kind tokenKind) (token, error) {
	tok := p.next()
	if tok.kind != kind {
		return tok, fmt.Errorf("%w: expected %s, found %s at %d", ErrSyntax, kind, tok.kind, tok.pos)
	}
	return tok, nil
}

func (p *parser) add(n node) (node, error) {
	p.nodes++
	if p.nodes > p.limits.MaxNodes {
		return nil, fmt.Errorf("%w: more than %d nodes", ErrBudgetExceeded, p.limits.MaxNodes)
	}
	return n, nil
}

func (p *parser) enter(depth int) error {
	if depth > p.limits.MaxDepth {
		return fmt.Errorf("%w: nesting deeper than %d", ErrBudgetExceeded, p.limits.MaxDepth)
	}
	return nil
}

func (p *parser) parseExpr(depth int) (node, error) {
	if err := p.enter(depth); err != nil {
		return nil, err
	}
	left, err := p.parseTerm(depth)
	if err != nil {
		return nil, err
	}
	for {
		tok := p.peek()
		if tok.kind != tokPlus && tok.kind != tokMinus {
			return left, nil
		}
		p.next()
		right, err := p.parseTerm(depth)
		if err != nil {
			return nil, err
		}
		op := byte('+')
		if tok.kind == tokMinus {
			op = '-'
		}
		if left, err = p.add(binaryNode{op: op, left: left, right: right}); err != nil {
			return nil, err
		}
	}
}

func (p *parser) parseTerm(depth int) (node, error) {
	left, err := p.parseUnary(depth)
	if err != nil {
		return nil, err
	}
	for {
		tok := p.peek()
		if tok.kind != tokStar && tok.kind != tokSlash {
			return left, nil
		}
		p.next()
		right, err := p.parseUnary(depth)
		if err != nil {
			return nil, err
		}
		op := byte('*')
		if tok.kind == tokSlash {
			op = '/'
		}
		if left, err = p.add(binaryNode{op: op, left: left, right: right}); err != nil {
			return nil, err
		}
	}
}

func (p *parser) parseUnary(depth int) (node, error) {
	if p.peek().kind == tokMinus {
		p.next()
		if err := p.enter(depth + 1); err != nil {
			return nil, err
		}
		operand, err := p.parseUnary(depth + 1)
		if err != nil {
			return nil, err
		}
		return p.add(unaryNode{operand: operand})
	}
	return p.parsePrimary(depth)
}

func (p *parser) parsePrimary(depth int) (node, error) {
	tok := p.next()
	switch tok.kind {
	case tokNumber:
		return p.add(numberNode{value: tok.num})
	case tokLParen:
		inner, err := p.parseExpr(depth + 1)
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokRParen); err != nil {
			return nil, err
		}
		return inner, nil
	case tokIdent:
		if p.peek().kind == tokLParen {
			return p.parseCall(tok, depth)
		}
		return p.add(varNode{name: tok.text})
	default:
		return nil, fmt.Errorf("%w: unexpected %s at %d", ErrSyntax, tok.kind, tok.pos)
	}
}

func (p *parser) parseCall(name token, depth int) (node, error) {
	fnName := strings.ToLower(name.text)
	fn, ok := functions[fnName]
	if !ok {
		return nil, fmt.Errorf("%w: %q at %d", ErrUnknownFunction, name.text, name.pos)
	}
	p.next() // (
	var args []node
	if p.peek().kind != tokRParen {
		for {
			arg, err := p.parseExpr(depth + 1)
			if err != nil {
				return nil, err
			}
			args = append(args, arg)
			if p.peek().kind != tokComma {
				break
			}
			p.next()
		}
	}
	if _, err := p.expect(tokRParen); err != nil {
		return nil, err
	}
	if len(args) < fn.minArgs || (fn.maxArgs >= 0 && len(args) > fn.maxArgs) {
		return nil, fmt.Errorf("%w: %s called with %d arguments", ErrArity, fnName, len(args))
	}
	return p.add(callNode{fn: fnName, args: args})
}
