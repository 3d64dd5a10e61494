package formula

import (
	"fmt"

	"github.com/shopspring/decimal"
)

const maxRoundDigits = 10

type evaluator struct {
	vars   Vars
	budget int
}

func (ev *evaluator) step() error {
	ev.budget--
	if ev.budget < 0 {
		return fmt.Errorf("%w: step budget exhausted", ErrBudgetExceeded)
	}
	return nil
}

func (ev *evaluator) eval(n node) (decimal.Decimal, error) {
	if err := ev.step(); err != nil {
		return decimal.Zero, err
	}
	switch v := n.(type) {
	case numberNode:
		return v.value, nil
	case varNode:
		value, ok := ev.vars[v.name]
		if !ok {
			return decimal.Zero, fmt.Errorf("%w: %s", ErrUnknownVariable, v.name)
		}
		return value, nil
	case unaryNode:
		operand, err := ev.eval(v.operand)
		if err != nil {
			return decimal.Zero, err
		}
		return operand.Neg(), nil
	case binaryNode:
		left, err := ev.eval(v.left)
		if err != nil {
			return decimal.Zero, err
		}
		right, err := ev.eval(v.right)
		if err != nil {
			return decimal.Zero, err
		}
		switch v.op {
		case '+':
			return left.Add(right), nil
		case '-':
			return left.Sub(right), nil
		case '*':
			return left.Mul(right), nil
		case '/':
			if right.IsZero() {
				return decimal.Zero, ErrDivisionByZero
			}
			return left.Div(right), nil
		}
		return decimal.Zero, fmt.Errorf("%w: operator %q", ErrSyntax, v.op)
	case callNode:
		return ev.call(v)
	default:
		return decimal.Zero, fmt.Errorf("%w: unsupported node %T", ErrSyntax, n)
	}
}

func (ev *evaluator) call(c callNode) (decimal.Decimal, error) {
	args := make([]decimal.Decimal, 0, len(c.args))
	for _, arg := range c.args {
		value, err := ev.eval(arg)
		if err != nil {
			return decimal.Zero, err
		}
		args = append(args, value)
	}
	switch c.fn {
	case "min":
		return decimal.Min(args[0], args[1:]...), nil
	case "max":
		return decimal.Max(args[0], args[1:]...), nil
	case "round":
		digits := int64(0)
		if len(args) == 2 {
			if !args[1].IsInteger() {
				return decimal.Zero, fmt.Errorf("%w: round digits must be an integer", ErrArity)
			}
			digits = args[1].IntPart()
		}
		if digits < 0 || digits > maxRoundDigits {
			return decimal.Zero, fmt.Errorf("%w: round digits must be between 0 and %d", ErrArity, maxRoundDigits)
		}
		return args[0].Round(int32(digits)), nil
	}
	return decimal.Zero, fmt.Errorf("%w: %q", ErrUnknownFunction, c.fn)
}
