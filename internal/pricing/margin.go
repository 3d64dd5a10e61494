package pricing

import "github.com/shopspring/decimal"

// ComputeMargins derives margin and markup. It returns nil when cost is absent
// or not positive, or when there is no selling price to divide by.
func ComputeMargins(cost *decimal.Decimal, selling decimal.Decimal) *Margins {
	if cost == nil || !cost.IsPositive() || !selling.IsPositive() {
		return nil
	}
	margin := selling.Sub(*cost)
	return &Margins{
		CostPrice:        *cost,
		SellingPrice:     selling,
		Margin:           margin,
		MarginPercentage: margin.Div(selling).Mul(hundred).Round(2),
		MarkupPercentage: margin.Div(*cost).Mul(hundred).Round(2),
	}
}
