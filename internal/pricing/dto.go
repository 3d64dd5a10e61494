package pricing

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// SimulationContext is the request shape of every pricing endpoint.
type SimulationContext struct {
	ArticleID     string  `json:"articleId" validate:"required"`
	Quantity      float64 `json:"quantity" validate:"gt=0"`
	Channel       string  `json:"channel" validate:"required,oneof=ERP MARKETPLACE API B2B"`
	CustomerGroup string  `json:"customerGroup,omitempty"`
	CustomerID    string  `json:"customerId,omitempty"`
}

func (s SimulationContext) normalized() SimulationContext {
	s.ArticleID = strings.TrimSpace(s.ArticleID)
	s.Channel = strings.ToUpper(strings.TrimSpace(s.Channel))
	s.CustomerGroup = strings.TrimSpace(s.CustomerGroup)
	s.CustomerID = strings.TrimSpace(s.CustomerID)
	return s
}

// ScenarioOverride is a partial SimulationContext laid over a base context.
type ScenarioOverride struct {
	ArticleID     *string  `json:"articleId,omitempty"`
	Quantity      *float64 `json:"quantity,omitempty"`
	Channel       *string  `json:"channel,omitempty"`
	CustomerGroup *string  `json:"customerGroup,omitempty"`
	CustomerID    *string  `json:"customerId,omitempty"`
}

// Apply returns base with every set field of o replacing the base value.
func (o ScenarioOverride) Apply(base SimulationContext) SimulationContext {
	if o.ArticleID != nil {
		base.ArticleID = *o.ArticleID
	}
	if o.Quantity != nil {
		base.Quantity = *o.Quantity
	}
	if o.Channel != nil {
		base.Channel = *o.Channel
	}
	if o.CustomerGroup != nil {
		base.CustomerGroup = *o.CustomerGroup
	}
	if o.CustomerID != nil {
		base.CustomerID = *o.CustomerID
	}
	return base
}

// BulkRequest is the body of POST /pricing/calculate-bulk.
type BulkRequest struct {
	Contexts []SimulationContext `json:"contexts"`
}

// ScenarioRequest is the body of POST /pricing/simulate-scenarios.
type ScenarioRequest struct {
	BaseContext SimulationContext  `json:"baseContext"`
	Scenarios   []ScenarioOverride `json:"scenarios"`
}

// AppliedRule summarises one applied step.
type AppliedRule struct {
	RuleID     string  `json:"ruleId"`
	RuleName   string  `json:"ruleName"`
	Adjustment float64 `json:"adjustment"`
}

// SimulationResult is the summary response without breakdown.
type SimulationResult struct {
	ArticleID            string        `json:"articleId"`
	Quantity             float64       `json:"quantity"`
	Channel              string        `json:"channel"`
	CustomerGroup        string        `json:"customerGroup,omitempty"`
	CustomerID           string        `json:"customerId,omitempty"`
	BasePrice            float64       `json:"basePrice"`
	FinalPrice           float64       `json:"finalPrice"`
	TotalAdjustment      float64       `json:"totalAdjustment"`
	AdjustmentPercentage float64       `json:"adjustmentPercentage"`
	RulesApplied         int           `json:"rulesApplied"`
	AppliedRules         []AppliedRule `json:"appliedRules"`
}

// StepView is the wire form of a CalculationStep.
type StepView struct {
	StepNumber     int     `json:"stepNumber"`
	RuleID         string  `json:"ruleId"`
	RuleName       string  `json:"ruleName"`
	PriceBefore    float64 `json:"priceBefore"`
	PriceAfter     float64 `json:"priceAfter"`
	Adjustment     float64 `json:"adjustment"`
	AdjustmentType string  `json:"adjustmentType"`
	Description    string  `json:"description"`
}

// MarginsView is the wire form of Margins.
type MarginsView struct {
	CostPrice        float64 `json:"costPrice"`
	SellingPrice     float64 `json:"sellingPrice"`
	Margin           float64 `json:"margin"`
	MarginPercentage float64 `json:"marginPercentage"`
	MarkupPercentage float64 `json:"markupPercentage"`
}

// DimensionsView is the wire form of article dimensions.
type DimensionsView struct {
	Poids    *float64 `json:"poids,omitempty"`
	Longueur *float64 `json:"longueur,omitempty"`
	Largeur  *float64 `json:"largeur,omitempty"`
	Hauteur  *float64 `json:"hauteur,omitempty"`
	Surface  *float64 `json:"surface,omitempty"`
	Volume   *float64 `json:"volume,omitempty"`
}

// ArticleView echoes the article snapshot the calculation used.
type ArticleView struct {
	ID          string         `json:"id"`
	Reference   string         `json:"reference,omitempty"`
	Designation string         `json:"designation,omitempty"`
	Family      string         `json:"family,omitempty"`
	Dimensions  DimensionsView `json:"dimensions"`
	Units       Units          `json:"units"`
	BasePrice   float64        `json:"basePrice"`
	CostPrice   *float64       `json:"costPrice,omitempty"`
}

// ContextView echoes the pricing context.
type ContextView struct {
	ArticleID     string      `json:"articleId"`
	Quantity      float64     `json:"quantity"`
	Channel       string      `json:"channel"`
	CustomerID    string      `json:"customerId,omitempty"`
	CustomerGroup string      `json:"customerGroup,omitempty"`
	Article       ArticleView `json:"article"`
	Customer      *Customer   `json:"customer,omitempty"`
}

// MetadataView is the wire form of Metadata.
type MetadataView struct {
	CalculationTimeMs float64   `json:"calculationTimeMs"`
	RulesEvaluated    int       `json:"rulesEvaluated"`
	RulesApplied      int       `json:"rulesApplied"`
	CacheHit          bool      `json:"cacheHit"`
	Mode              Mode      `json:"mode"`
	CalculatedAt      time.Time `json:"calculatedAt"`
}

// Breakdown explains how the final price was reached.
type Breakdown struct {
	Steps        []StepView    `json:"steps"`
	SkippedRules []SkippedRule `json:"skippedRules,omitempty"`
	Context      ContextView   `json:"context"`
	Margins      *MarginsView  `json:"margins,omitempty"`
	Metadata     MetadataView  `json:"metadata"`
}

// DetailedResult is SimulationResult plus the full breakdown.
type DetailedResult struct {
	SimulationResult
	Breakdown Breakdown `json:"breakdown"`
}

// DetailOptions controls which optional sections a detailed result carries.
type DetailOptions struct {
	IncludeMargins      bool
	IncludeSkippedRules bool
}

// Summary converts a result to its summary wire form.
func Summary(res Result) SimulationResult {
	out := SimulationResult{
		ArticleID:     res.Context.ArticleID,
		Quantity:      res.Context.Quantity.InexactFloat64(),
		Channel:       string(res.Context.Channel),
		CustomerGroup: res.Context.CustomerGroup,
		CustomerID:    res.Context.CustomerID,
		BasePrice:     res.BasePrice.InexactFloat64(),
		FinalPrice:    res.FinalPrice.InexactFloat64(),
		RulesApplied:  len(res.Steps),
		AppliedRules:  make([]AppliedRule, 0, len(res.Steps)),
	}
	total := res.FinalPrice.Sub(res.BasePrice)
	out.TotalAdjustment = total.InexactFloat64()
	if res.BasePrice.IsPositive() {
		out.AdjustmentPercentage = total.Div(res.BasePrice).Mul(hundred).Round(2).InexactFloat64()
	}
	for _, step := range res.Steps {
		out.AppliedRules = append(out.AppliedRules, AppliedRule{
			RuleID:     step.RuleID,
			RuleName:   step.RuleName,
			Adjustment: step.Adjustment.InexactFloat64(),
		})
	}
	return out
}

// Detailed converts a result to its detailed wire form.
func Detailed(res Result, opts DetailOptions) DetailedResult {
	out := DetailedResult{SimulationResult: Summary(res)}
	steps := make([]StepView, 0, len(res.Steps))
	for _, s := range res.Steps {
		steps = append(steps, StepView{
			StepNumber:     s.StepNumber,
			RuleID:         s.RuleID,
			RuleName:       s.RuleName,
			PriceBefore:    s.PriceBefore.InexactFloat64(),
			PriceAfter:     s.PriceAfter.InexactFloat64(),
			Adjustment:     s.Adjustment.InexactFloat64(),
			AdjustmentType: string(s.AdjustmentType),
			Description:    s.Description,
		})
	}
	out.Breakdown = Breakdown{
		Steps:   steps,
		Context: contextView(res.Context),
		Metadata: MetadataView{
			CalculationTimeMs: res.Metadata.CalculationTimeMs,
			RulesEvaluated:    res.Metadata.RulesEvaluated,
			RulesApplied:      res.Metadata.RulesApplied,
			CacheHit:          res.Metadata.CacheHit,
			Mode:              res.Metadata.Mode,
			CalculatedAt:      res.Metadata.CalculatedAt,
		},
	}
	if opts.IncludeSkippedRules {
		out.Breakdown.SkippedRules = res.SkippedRules
		if out.Breakdown.SkippedRules == nil {
			out.Breakdown.SkippedRules = []SkippedRule{}
		}
	}
	if opts.IncludeMargins && res.Margins != nil {
		m := res.Margins
		out.Breakdown.Margins = &MarginsView{
			CostPrice:        m.CostPrice.InexactFloat64(),
			SellingPrice:     m.SellingPrice.InexactFloat64(),
			Margin:           m.Margin.InexactFloat64(),
			MarginPercentage: m.MarginPercentage.InexactFloat64(),
			MarkupPercentage: m.MarkupPercentage.InexactFloat64(),
		}
	}
	return out
}

func contextView(c PricingContext) ContextView {
	a := c.Article
	return ContextView{
		ArticleID:     c.ArticleID,
		Quantity:      c.Quantity.InexactFloat64(),
		Channel:       string(c.Channel),
		CustomerID:    c.CustomerID,
		CustomerGroup: c.CustomerGroup,
		Customer:      c.Customer,
		Article: ArticleView{
			ID:          a.ID,
			Reference:   a.Reference,
			Designation: a.Designation,
			Family:      a.Family,
			Units:       a.Units,
			BasePrice:   a.BasePrice.InexactFloat64(),
			CostPrice:   floatPtr(a.CostPrice),
			Dimensions: DimensionsView{
				Poids:    floatPtr(a.Dimensions.Poids),
				Longueur: floatPtr(a.Dimensions.Longueur),
				Largeur:  floatPtr(a.Dimensions.Largeur),
				Hauteur:  floatPtr(a.Dimensions.Hauteur),
				Surface:  floatPtr(a.Dimensions.Surface),
				Volume:   floatPtr(a.Dimensions.Volume),
			},
		},
	}
}

func floatPtr(d *decimal.Decimal) *float64 {
	if d == nil {
		return nil
	}
	f := d.InexactFloat64()
	return &f
}
