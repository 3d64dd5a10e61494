// Package formula evaluates the restricted arithmetic expressions price rules
// may carry. The grammar is deliberately tiny:
//
//	expr    = term { ("+" | "-") term }
//	term    = unary { ("*" | "/") unary }
//	unary   = "-" unary | primary
//	primary = number | name | name "(" [ expr { "," expr } ] ")" | "(" expr ")"
//
// Names are dot paths (for example article.poids) resolved from a variable map
// supplied at evaluation time. Only min, max and round may be called.
package formula

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// ErrSyntax reports source that does not match the grammar.
	ErrSyntax = errors.New("formula: syntax error")
	// ErrUnknownFunction is returned for calls outside the whitelist.
	ErrUnknownFunction = errors.New("formula: unknown function")
	// ErrArity is returned when a whitelisted function receives the wrong number of arguments.
	ErrArity = errors.New("formula: wrong number of arguments")
	// ErrUnknownVariable is returned when a name has no value in the variable map.
	ErrUnknownVariable = errors.New("formula: unknown variable")
	// ErrDivisionByZero is returned when a divisor evaluates to zero.
	ErrDivisionByZero = errors.New("formula: division by zero")
	// ErrBudgetExceeded is returned when an expression exceeds its size, depth or step budget.
	ErrBudgetExceeded = errors.New("formula: budget exceeded")
)

const (
	DefaultMaxLength = 1024
	DefaultMaxNodes  = 256
	DefaultMaxDepth  = 32
	DefaultMaxSteps  = 1024
)

// Limits bounds the work a single expression may cause.
type Limits struct {
	MaxLength int
	MaxNodes  int
	MaxDepth  int
	MaxSteps  int
}

// DefaultLimits returns the limits applied when none are configured.
func DefaultLimits() Limits {
	return Limits{
		MaxLength: DefaultMaxLength,
		MaxNodes:  DefaultMaxNodes,
		MaxDepth:  DefaultMaxDepth,
		MaxSteps:  DefaultMaxSteps,
	}
}

func (l Limits) normalized() Limits {
	d := DefaultLimits()
	if l.MaxLength <= 0 {
		l.MaxLength = d.MaxLength
	}
	if l.MaxNodes <= 0 {
		l.MaxNodes = d.MaxNodes
	}
	if l.MaxDepth <= 0 {
		l.MaxDepth = d.MaxDepth
	}
	if l.MaxSteps <= 0 {
		l.MaxSteps = d.MaxSteps
	}
	return l
}

// Vars maps dot-path names to numeric values.
type Vars map[string]decimal.Decimal

// Expr is a parsed expression. It is immutable and safe for concurrent use.
type Expr struct {
	source string
	root   node
	nodes  int
	limits Limits
}

// String returns the original source.
func (e *Expr) String() string {
	if e == nil {
		return ""
	}
	return e.source
}

// Nodes reports the number of AST nodes.
func (e *Expr) Nodes() int {
	if e == nil {
		return 0
	}
	return e.nodes
}

// Variables lists the distinct names referenced by the expression.
func (e *Expr) Variables() []string {
	if e == nil {
		return nil
	}
	seen := map[string]struct{}{}
	var out []string
	var walk func(n node)
	walk = func(n node) {
		switch v := n.(type) {
		case varNode:
			if _, ok := seen[v.name]; !ok {
				seen[v.name] = struct{}{}
				out = append(out, v.name)
			}
		case unaryNode:
			walk(v.operand)
		case binaryNode:
			walk(v.left)
			walk(v.right)
		case callNode:
			for _, arg := range v.args {
				walk(arg)
			}
		}
	}
	walk(e.root)
	return out
}

// Parse compiles src under the provided limits.
func Parse(src string, limits Limits) (*Expr, error) {
	limits = limits.normalized()
	trimmed := strings.TrimSpace(src)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty expression", ErrSyntax)
	}
	if len(trimmed) > limits.MaxLength {
		return nil, fmt.Errorf("%w: expression longer than %d bytes", ErrBudgetExceeded, limits.MaxLength)
	}
	tokens, err := tokenize(trimmed)
	if err != nil {
		return nil, err
	}
	p := &parser{tokens: tokens, limits: limits}
	root, err := p.parseExpr(0)
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.kind != tokEOF {
		return nil, fmt.Errorf("%w: unexpected %s at %d", ErrSyntax, tok.kind, tok.pos)
	}
	return &Expr{source: trimmed, root: root, nodes: p.nodes, limits: limits}, nil
}

// Eval evaluates src once. Prefer Parse when the expression is reused.
func Eval(src string, vars Vars, limits Limits) (decimal.Decimal, error) {
	expr, err := Parse(src, limits)
	if err != nil {
		return decimal.Zero, err
	}
	return expr.Eval(vars)
}

// Eval computes the expression against vars.
func (e *Expr) Eval(vars Vars) (decimal.Decimal, error) {
	if e == nil || e.root == nil {
		return decimal.Zero, fmt.Errorf("%w: empty expression", ErrSyntax)
	}
	ev := &evaluator{vars: vars, budget: e.limits.MaxSteps}
	return ev.eval(e.root)
}
