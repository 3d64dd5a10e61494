package pricing

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Operator is a condition comparison operator.
type Operator string

const (
	OpEq      Operator = "eq"
	OpNeq     Operator = "neq"
	OpGt      Operator = "gt"
	OpGte     Operator = "gte"
	OpLt      Operator = "lt"
	OpLte     Operator = "lte"
	OpIn      Operator = "in"
	OpNotIn   Operator = "notIn"
	OpBetween Operator = "between"
)

// ParseOperator resolves an operator name case-insensitively.
func ParseOperator(name string) (Operator, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "eq", "=", "==":
		return OpEq, true
	case "neq", "!=", "ne":
		return OpNeq, true
	case "gt", ">":
		return OpGt, true
	case "gte", ">=":
		return OpGte, true
	case "lt", "<":
		return OpLt, true
	case "lte", "<=":
		return OpLte, true
	case "in":
		return OpIn, true
	case "notin", "not_in":
		return OpNotIn, true
	case "between":
		return OpBetween, true
	default:
		return "", false
	}
}

// Operand is the closed set of condition value variants.
type Operand interface{ isOperand() }

type NumberOperand struct{ Value decimal.Decimal }

type StringOperand struct{ Value string }

type BoolOperand struct{ Value bool }

// ListOperand holds scalar operands for in / notIn.
type ListOperand struct{ Items []Operand }

// RangeOperand is an inclusive numeric interval for between.
type RangeOperand struct{ Min, Max decimal.Decimal }

func (NumberOperand) isOperand() {}
func (StringOperand) isOperand() {}
func (BoolOperand) isOperand()   {}
func (ListOperand) isOperand()   {}
func (RangeOperand) isOperand()  {}

// Condition is a single predicate {field, operator, value}. A condition that
// could not be decoded into a usable shape keeps its raw form and never matches.
type Condition struct {
	Field    string
	Operator Operator
	Value    Operand

	raw     json.RawMessage
	opName  string
	invalid error
}

// InvalidCondition returns a condition that never matches, for stored rule
// conditions that could not be decoded at all.
func InvalidCondition(reason error) Condition {
	if reason == nil {
		reason = errors.New("invalid condition")
	}
	return Condition{invalid: reason}
}

// Valid returns the reason a decoded condition can never match, if any.
func (c Condition) Valid() error { return c.invalid }

type conditionWire struct {
	Field    string          `json:"field"`
	Operator string          `json:"operator"`
	Value    json.RawMessage `json:"value"`
}

// UnmarshalJSON decodes the wire shape into a typed condition. Malformed
// operands mark the condition invalid instead of failing the whole rule.
func (c *Condition) UnmarshalJSON(data []byte) error {
	var w conditionWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*c = Condition{Field: strings.TrimSpace(w.Field), raw: w.Value, opName: w.Operator}
	if c.Field == "" {
		c.invalid = errors.New("condition without field")
		return nil
	}
	op, ok := ParseOperator(w.Operator)
	if !ok {
		c.invalid = fmt.Errorf("unknown operator %q", w.Operator)
		return nil
	}
	c.Operator = op
	value, err := decodeOperand(op, w.Value)
	if err != nil {
		c.invalid = err
		return nil
	}
	c.Value = value
	return nil
}

// MarshalJSON writes the condition back in its wire shape.
func (c Condition) MarshalJSON() ([]byte, error) {
	w := conditionWire{Field: c.Field, Operator: string(c.Operator), Value: c.raw}
	if c.Operator == "" {
		w.Operator = c.opName
	}
	if c.Value != nil {
		encoded, err := json.Marshal(operandJSON(c.Value))
		if err != nil {
			return nil, err
		}
		w.Value = encoded
	}
	if len(w.Value) == 0 {
		w.Value = json.RawMessage("null")
	}
	return json.Marshal(w)
}

// DecodeConditions parses a JSON array of conditions. Empty input yields none.
func DecodeConditions(data []byte) ([]Condition, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, nil
	}
	var conds []Condition
	if err := json.Unmarshal(data, &conds); err != nil {
		return nil, fmt.Errorf("decode conditions: %w", err)
	}
	return conds, nil
}

func decodeOperand(op Operator, raw json.RawMessage) (Operand, error) {
	var value any
	if len(bytes.TrimSpace(raw)) > 0 {
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		if err := dec.Decode(&value); err != nil {
			return nil, fmt.Errorf("condition value: %w", err)
		}
	}
	switch op {
	case OpIn, OpNotIn:
		items, ok := value.([]any)
		if !ok {
			return nil, fmt.Errorf("%s expects a list", op)
		}
		list := ListOperand{Items: make([]Operand, 0, len(items))}
		for _, item := range items {
			scalar, err := scalarOperand(item)
			if err != nil {
				return nil, err
			}
			list.Items = append(list.Items, scalar)
		}
		return list, nil
	case OpBetween:
		return rangeOperand(value)
	default:
		return scalarOperand(value)
	}
}

func scalarOperand(value any) (Operand, error) {
	switch v := value.(type) {
	case json.Number:
		d, err := decimal.NewFromString(v.String())
		if err != nil {
			return nil, fmt.Errorf("condition number %q: %w", v, err)
		}
		return NumberOperand{Value: d}, nil
	case string:
		return StringOperand{Value: v}, nil
	case bool:
		return BoolOperand{Value: v}, nil
	case nil:
		return nil, errors.New("condition value is required")
	default:
		return nil, fmt.Errorf("unsupported condition value %T", value)
	}
}

func rangeOperand(value any) (Operand, error) {
	var lo, hi any
	switch v := value.(type) {
	case []any:
		if len(v) != 2 {
			return nil, errors.New("between expects exactly two bounds")
		}
		lo, hi = v[0], v[1]
	case map[string]any:
		lo, hi = v["min"], v["max"]
	default:
		return nil, errors.New("between expects [min, max]")
	}
	minV, ok := numericOperand(lo)
	if !ok {
		return nil, errors.New("between lower bound is not numeric")
	}
	maxV, ok := numericOperand(hi)
	if !ok {
		return nil, errors.New("between upper bound is not numeric")
	}
	if minV.GreaterThan(maxV) {
		minV, maxV = maxV, minV
	}
	return RangeOperand{Min: minV, Max: maxV}, nil
}

func numericOperand(value any) (decimal.Decimal, bool) {
	switch v := value.(type) {
	case json.Number:
		d, err := decimal.NewFromString(v.String())
		return d, err == nil
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(v))
		return d, err == nil
	default:
		return decimal.Zero, false
	}
}

func operandJSON(o Operand) any {
	switch v := o.(type) {
	case NumberOperand:
		return json.Number(v.Value.String())
	case StringOperand:
		return v.Value
	case BoolOperand:
		return v.Value
	case ListOperand:
		out := make([]any, 0, len(v.Items))
		for _, item := range v.Items {
			out = append(out, operandJSON(item))
		}
		return out
	case RangeOperand:
		return []any{json.Number(v.Min.String()), json.Number(v.Max.String())}
	default:
		return nil
	}
}

type fieldValue struct {
	numeric bool
	num     decimal.Decimal
	text    string
}

func numField(d decimal.Decimal) fieldValue { return fieldValue{numeric: true, num: d} }

func textField(s string) fieldValue { return fieldValue{text: s} }

// asNumber coerces the field to a decimal when it holds or spells a number.
func (f fieldValue) asNumber() (decimal.Decimal, bool) {
	if f.numeric {
		return f.num, true
	}
	d, err := decimal.NewFromString(strings.TrimSpace(f.text))
	return d, err == nil
}

// View is the flattened, read-only projection of a pricing context that
// condition fields resolve against.
type View struct {
	fields map[string]fieldValue
}

// NewView projects the context once per calculation.
func NewView(pctx PricingContext) View {
	f := make(map[string]fieldValue, 24)
	f["quantity"] = numField(pctx.Quantity)
	if pctx.Channel != "" {
		f["channel"] = textField(string(pctx.Channel))
	}

	a := pctx.Article
	putText(f, "article.id", firstNonEmpty(a.ID, pctx.ArticleID))
	putText(f, "article.reference", a.Reference)
	putText(f, "article.designation", a.Designation)
	putText(f, "article.family", a.Family)
	putText(f, "article.stockunit", a.Units.Stock)
	putText(f, "article.saleunit", a.Units.Sale)
	putText(f, "article.purchaseunit", a.Units.Purchase)
	f["article.baseprice"] = numField(a.BasePrice)
	putNum(f, "article.costprice", a.CostPrice)
	putNum(f, "article.poids", a.Dimensions.Poids)
	putNum(f, "article.longueur", a.Dimensions.Longueur)
	putNum(f, "article.largeur", a.Dimensions.Largeur)
	putNum(f, "article.hauteur", a.Dimensions.Hauteur)
	putNum(f, "article.surface", a.Dimensions.Surface)
	putNum(f, "article.volume", a.Dimensions.Volume)

	var cust Customer
	if pctx.Customer != nil {
		cust = *pctx.Customer
	}
	putText(f, "customer.id", firstNonEmpty(cust.ID, pctx.CustomerID))
	putText(f, "customer.group", firstNonEmpty(cust.Group, pctx.CustomerGroup))
	putText(f, "customer.email", cust.Email)
	return View{fields: f}
}

func (v View) lookup(path string) (fieldValue, bool) {
	value, ok := v.fields[strings.ToLower(strings.TrimSpace(path))]
	return value, ok
}

func putText(f map[string]fieldValue, key, value string) {
	if strings.TrimSpace(value) != "" {
		f[key] = textField(value)
	}
}

func putNum(f map[string]fieldValue, key string, value *decimal.Decimal) {
	if value != nil {
		f[key] = numField(*value)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// Match evaluates conditions with AND semantics and stops at the first failure.
func Match(conds []Condition, view View) (SkipReason, bool) {
	for _, c := range conds {
		if c.invalid != nil {
			return SkipConditionNotMet, false
		}
		field, ok := view.lookup(c.Field)
		if !ok {
			return SkipFieldMissing, false
		}
		if !c.holds(field) {
			return SkipConditionNotMet, false
		}
	}
	return "", true
}

func (c Condition) holds(field fieldValue) bool {
	switch c.Operator {
	case OpEq:
		eq, comparable := equals(field, c.Value)
		return comparable && eq
	case OpNeq:
		eq, comparable := equals(field, c.Value)
		return comparable && !eq
	case OpGt, OpGte, OpLt, OpLte:
		n, ok := c.Value.(NumberOperand)
		if !ok {
			s, isStr := c.Value.(StringOperand)
			if !isStr {
				return false
			}
			d, err := decimal.NewFromString(strings.TrimSpace(s.Value))
			if err != nil {
				return false
			}
			n = NumberOperand{Value: d}
		}
		left, ok := field.asNumber()
		if !ok {
			return false
		}
		cmp := left.Cmp(n.Value)
		switch c.Operator {
		case OpGt:
			return cmp > 0
		case OpGte:
			return cmp >= 0
		case OpLt:
			return cmp < 0
		default:
			return cmp <= 0
		}
	case OpIn, OpNotIn:
		list, ok := c.Value.(ListOperand)
		if !ok {
			return false
		}
		found, anyComparable := false, false
		for _, item := range list.Items {
			eq, comparable := equals(field, item)
			if !comparable {
				continue
			}
			anyComparable = true
			if eq {
				found = true
				break
			}
		}
		if c.Operator == OpIn {
			return found
		}
		return anyComparable && !found
	case OpBetween:
		r, ok := c.Value.(RangeOperand)
		if !ok {
			return false
		}
		n, ok := field.asNumber()
		if !ok {
			return false
		}
		return n.Cmp(r.Min) >= 0 && n.Cmp(r.Max) <= 0
	default:
		return false
	}
}

// equals compares a field to a scalar operand. The second result is false
// when the two cannot be compared at all.
func equals(field fieldValue, operand Operand) (bool, bool) {
	switch o := operand.(type) {
	case NumberOperand:
		n, ok := field.asNumber()
		if !ok {
			return false, false
		}
		return n.Equal(o.Value), true
	case StringOperand:
		if field.numeric {
			d, err := decimal.NewFromString(strings.TrimSpace(o.Value))
			if err != nil {
				return false, false
			}
			return field.num.Equal(d), true
		}
		return strings.EqualFold(strings.TrimSpace(field.text), strings.TrimSpace(o.Value)), true
	case BoolOperand:
		if field.numeric {
			return false, false
		}
		switch strings.ToLower(strings.TrimSpace(field.text)) {
		case "true":
			return o.Value, true
		case "false":
			return !o.Value, true
		}
		return false, false
	default:
		return false, false
	}
}
