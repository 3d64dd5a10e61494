package pricing

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-pricing/internal/formula"
)

// DefaultPrecision is the number of decimal places prices are rounded to.
const DefaultPrecision int32 = 4

var hundred = decimal.NewFromInt(100)

// SkipError downgrades a rule application failure to a skip record.
type SkipError struct {
	Reason SkipReason
	Err    error
}

func (e *SkipError) Error() string {
	if e.Err == nil {
		return string(e.Reason)
	}
	return fmt.Sprintf("%s: %v", e.Reason, e.Err)
}

func (e *SkipError) Unwrap() error { return e.Err }

func skip(reason SkipReason, err error) error { return &SkipError{Reason: reason, Err: err} }

// Outcome is the running price after one rule and its audit description.
type Outcome struct {
	Price       decimal.Decimal
	Description string
}

// Applier computes a new running price from one rule.
type Applier struct {
	Limits    formula.Limits
	Precision int32
}

func (a Applier) precision() int32 {
	if a.Precision <= 0 {
		return DefaultPrecision
	}
	return a.Precision
}

// Apply transforms before according to rule. Failures are returned as *SkipError.
func (a Applier) Apply(rule PriceRule, before decimal.Decimal, pctx PricingContext) (Outcome, error) {
	var (
		after  decimal.Decimal
		detail string
	)
	switch rule.AdjustmentType {
	case AdjustPercentage:
		after = before.Mul(decimal.NewFromInt(1).Add(rule.AdjustmentValue.Div(hundred)))
		detail = fmt.Sprintf("%s%%", signed(rule.AdjustmentValue))
	case AdjustFixedAmount:
		after = before.Add(rule.AdjustmentValue)
		detail = fmt.Sprintf("%s fixed", signed(rule.AdjustmentValue))
	case AdjustFixedPrice:
		after = rule.AdjustmentValue
		detail = fmt.Sprintf("fixed price %s", rule.AdjustmentValue.StringFixed(2))
	case AdjustPricePerWeight, AdjustPricePerLength, AdjustPricePerArea, AdjustPricePerVolume:
		name, dim := dimensionFor(rule.AdjustmentType, pctx.Article.Dimensions)
		if dim == nil {
			return Outcome{}, skip(SkipMissingDimension, fmt.Errorf("article %s has no %s", pctx.ArticleID, name))
		}
		after = rule.AdjustmentValue.Mul(*dim).Mul(pctx.Quantity)
		unit := rule.AdjustmentUnit
		if unit == "" {
			unit = name
		}
		detail = fmt.Sprintf("%s per %s x %s x %s", rule.AdjustmentValue.StringFixed(2), unit, dim.String(), pctx.Quantity.String())
	case AdjustFormula:
		expr := rule.Expr
		if expr == nil {
			if rule.FormulaErr != nil {
				return Outcome{}, skip(SkipInvalidFormula, rule.FormulaErr)
			}
			compiled := rule
			compiled.Compile(a.Limits)
			if compiled.FormulaErr != nil {
				return Outcome{}, skip(SkipInvalidFormula, compiled.FormulaErr)
			}
			expr = compiled.Expr
		}
		value, err := expr.Eval(formulaVars(before, pctx))
		if err != nil {
			return Outcome{}, skip(SkipInvalidFormula, err)
		}
		after = value
		detail = fmt.Sprintf("formula %s", expr.String())
	default:
		return Outcome{}, skip(SkipInvalidFormula, errors.New("unknown adjustment type "+string(rule.AdjustmentType)))
	}

	after = after.Round(a.precision())
	if after.IsNegative() {
		after = decimal.Zero
	}
	delta := after.Sub(before)
	return Outcome{
		Price:       after,
		Description: fmt.Sprintf("%s: %s (%s)", rule.Name, detail, signed(delta)),
	}, nil
}

func dimensionFor(t AdjustmentType, d Dimensions) (string, *decimal.Decimal) {
	switch t {
	case AdjustPricePerWeight:
		return "poids", d.Poids
	case AdjustPricePerLength:
		return "longueur", d.Longueur
	case AdjustPricePerArea:
		return "surface", d.Surface
	default:
		return "volume", d.Volume
	}
}

func formulaVars(price decimal.Decimal, pctx PricingContext) formula.Vars {
	vars := formula.Vars{
		"price":             price,
		"quantity":          pctx.Quantity,
		"article.basePrice": pctx.Article.BasePrice,
	}
	a := pctx.Article
	optional := map[string]*decimal.Decimal{
		"article.costPrice": a.CostPrice,
		"article.poids":     a.Dimensions.Poids,
		"article.longueur":  a.Dimensions.Longueur,
		"article.largeur":   a.Dimensions.Largeur,
		"article.hauteur":   a.Dimensions.Hauteur,
		"article.surface":   a.Dimensions.Surface,
		"article.volume":    a.Dimensions.Volume,
	}
	for name, value := range optional {
		if value != nil {
			vars[name] = *value
		}
	}
	return vars
}

func signed(d decimal.Decimal) string {
	if d.IsNegative() {
		return d.StringFixed(2)
	}
	return "+" + d.StringFixed(2)
}
