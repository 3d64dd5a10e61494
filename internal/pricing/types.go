package pricing

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-pricing/internal/formula"
)

var (
	// ErrInvalidContext is returned when a pricing context cannot be evaluated at all.
	ErrInvalidContext = errors.New("pricing: invalid context")
	// ErrArticleNotFound indicates the article snapshot could not be resolved.
	ErrArticleNotFound = errors.New("pricing: article not found")
	// ErrRulesUnavailable indicates the candidate rule set could not be obtained.
	ErrRulesUnavailable = errors.New("pricing: rules unavailable")
)

// Channel scopes rule applicability to a sales context.
type Channel string

const (
	ChannelAll         Channel = "ALL"
	ChannelERP         Channel = "ERP"
	ChannelMarketplace Channel = "MARKETPLACE"
	ChannelAPI         Channel = "API"
	ChannelB2B         Channel = "B2B"
)

// ParseChannel normalises a channel name. ALL is only valid on rules.
func ParseChannel(value string) (Channel, bool) {
	switch c := Channel(strings.ToUpper(strings.TrimSpace(value))); c {
	case ChannelAll, ChannelERP, ChannelMarketplace, ChannelAPI, ChannelB2B:
		return c, true
	default:
		return "", false
	}
}

// IsSalesChannel reports whether c can describe a purchase context.
func (c Channel) IsSalesChannel() bool {
	switch c {
	case ChannelERP, ChannelMarketplace, ChannelAPI, ChannelB2B:
		return true
	default:
		return false
	}
}

// AdjustmentType selects how a rule transforms the running price.
type AdjustmentType string

const (
	AdjustPercentage     AdjustmentType = "PERCENTAGE"
	AdjustFixedAmount    AdjustmentType = "FIXED_AMOUNT"
	AdjustFixedPrice     AdjustmentType = "FIXED_PRICE"
	AdjustPricePerWeight AdjustmentType = "PRICE_PER_WEIGHT"
	AdjustPricePerLength AdjustmentType = "PRICE_PER_LENGTH"
	AdjustPricePerArea   AdjustmentType = "PRICE_PER_SURFACE"
	AdjustPricePerVolume AdjustmentType = "PRICE_PER_VOLUME"
	AdjustFormula        AdjustmentType = "FORMULA"
)

// Valid reports whether t is a known adjustment type.
func (t AdjustmentType) Valid() bool {
	switch t {
	case AdjustPercentage, AdjustFixedAmount, AdjustFixedPrice,
		AdjustPricePerWeight, AdjustPricePerLength, AdjustPricePerArea, AdjustPricePerVolume,
		AdjustFormula:
		return true
	default:
		return false
	}
}

// PriceRule is an admin-configured adjustment. The engine treats it as read-only.
type PriceRule struct {
	ID                    string          `json:"id"`
	TenantID              string          `json:"tenantId"`
	Name                  string          `json:"name"`
	IsActive              bool            `json:"isActive"`
	Channel               Channel         `json:"channel"`
	ArticleID             string          `json:"articleId,omitempty"`
	ArticleFamily         string          `json:"articleFamily,omitempty"`
	AdjustmentType        AdjustmentType  `json:"adjustmentType"`
	AdjustmentValue       decimal.Decimal `json:"adjustmentValue"`
	AdjustmentUnit        string          `json:"adjustmentUnit,omitempty"`
	Formula               string          `json:"formula,omitempty"`
	Conditions            []Condition     `json:"conditions"`
	Priority              int             `json:"priority"`
	Combinable            bool            `json:"combinable"`
	ValidFrom             *time.Time      `json:"validFrom,omitempty"`
	ValidUntil            *time.Time      `json:"validUntil,omitempty"`
	UsageLimit            *int64          `json:"usageLimit,omitempty"`
	UsageLimitPerCustomer *int64          `json:"usageLimitPerCustomer,omitempty"`
	UsageCount            int64           `json:"usageCount"`
	CustomerGroups        []string        `json:"customerGroups,omitempty"`
	Metadata              map[string]any  `json:"metadata,omitempty"`

	// Expr holds the compiled formula once Compile has run.
	Expr *formula.Expr `json:"-"`
	// FormulaErr records why the formula failed to compile.
	FormulaErr error `json:"-"`
}

// Compile parses the rule formula once so evaluation never re-parses it.
// Rules that are not FORMULA-typed are left untouched.
func (r *PriceRule) Compile(limits formula.Limits) {
	if r.AdjustmentType != AdjustFormula {
		return
	}
	r.Expr, r.FormulaErr = nil, nil
	if strings.TrimSpace(r.Formula) == "" {
		r.FormulaErr = errors.New("formula rule without expression")
		return
	}
	r.Expr, r.FormulaErr = formula.Parse(r.Formula, limits)
}

type targeting int

const (
	targetGlobal targeting = iota
	targetFamily
	targetArticle
)

func (r PriceRule) targeting() targeting {
	switch {
	case strings.TrimSpace(r.ArticleID) != "":
		return targetArticle
	case strings.TrimSpace(r.ArticleFamily) != "":
		return targetFamily
	default:
		return targetGlobal
	}
}

// Dimensions are the optional physical measures of an article.
type Dimensions struct {
	Poids    *decimal.Decimal `json:"poids,omitempty"`
	Longueur *decimal.Decimal `json:"longueur,omitempty"`
	Largeur  *decimal.Decimal `json:"largeur,omitempty"`
	Hauteur  *decimal.Decimal `json:"hauteur,omitempty"`
	Surface  *decimal.Decimal `json:"surface,omitempty"`
	Volume   *decimal.Decimal `json:"volume,omitempty"`
}

// Units carries the unit codes used for stock, sale and purchase.
type Units struct {
	Stock    string `json:"stock,omitempty"`
	Sale     string `json:"sale,omitempty"`
	Purchase string `json:"purchase,omitempty"`
}

// Article is the caller-supplied article snapshot.
type Article struct {
	ID          string           `json:"id"`
	Reference   string           `json:"reference,omitempty"`
	Designation string           `json:"designation,omitempty"`
	Family      string           `json:"family,omitempty"`
	Dimensions  Dimensions       `json:"dimensions"`
	Units       Units            `json:"units"`
	BasePrice   decimal.Decimal  `json:"basePrice"`
	CostPrice   *decimal.Decimal `json:"costPrice,omitempty"`
}

// Customer is the caller-supplied customer snapshot.
type Customer struct {
	ID    string `json:"id"`
	Group string `json:"group,omitempty"`
	Email string `json:"email,omitempty"`
}

// PricingContext is the immutable input of a single calculation.
type PricingContext struct {
	TenantID      string          `json:"tenantId,omitempty"`
	ArticleID     string          `json:"articleId"`
	Quantity      decimal.Decimal `json:"quantity"`
	Channel       Channel         `json:"channel"`
	CustomerID    string          `json:"customerId,omitempty"`
	CustomerGroup string          `json:"customerGroup,omitempty"`
	Article       Article         `json:"article"`
	Customer      *Customer       `json:"customer,omitempty"`
}

func (c PricingContext) validate() error {
	if strings.TrimSpace(c.ArticleID) == "" {
		return errors.New("articleId is required")
	}
	if !c.Quantity.IsPositive() {
		return errors.New("quantity must be greater than zero")
	}
	if !c.Channel.IsSalesChannel() {
		return errors.New("channel must be one of ERP, MARKETPLACE, API, B2B")
	}
	return nil
}

// CalculationStep records one applied rule.
type CalculationStep struct {
	StepNumber     int             `json:"stepNumber"`
	RuleID         string          `json:"ruleId"`
	RuleName       string          `json:"ruleName"`
	PriceBefore    decimal.Decimal `json:"priceBefore"`
	PriceAfter     decimal.Decimal `json:"priceAfter"`
	Adjustment     decimal.Decimal `json:"adjustment"`
	AdjustmentType AdjustmentType  `json:"adjustmentType"`
	Description    string          `json:"description"`
}

// SkipReason explains why a candidate rule did not apply.
type SkipReason string

const (
	SkipConditionNotMet    SkipReason = "condition_not_met"
	SkipFieldMissing       SkipReason = "condition_field_missing"
	SkipMissingDimension   SkipReason = "missing_dimension"
	SkipUsageLimitExceeded SkipReason = "usage_limit_exceeded"
	SkipInvalidFormula     SkipReason = "invalid_formula"
	SkipBlockedByExclusive SkipReason = "blocked_by_exclusive_rule"
)

// SkippedRule is the audit record of a candidate that did not apply.
type SkippedRule struct {
	RuleID   string     `json:"ruleId"`
	RuleName string     `json:"ruleName"`
	Priority int        `json:"priority"`
	Reason   SkipReason `json:"reason"`
}

// Margins summarises profitability of the final price.
type Margins struct {
	CostPrice        decimal.Decimal `json:"costPrice"`
	SellingPrice     decimal.Decimal `json:"sellingPrice"`
	Margin           decimal.Decimal `json:"margin"`
	MarginPercentage decimal.Decimal `json:"marginPercentage"`
	MarkupPercentage decimal.Decimal `json:"markupPercentage"`
}

// Metadata describes how a result was produced.
type Metadata struct {
	CalculationTimeMs float64   `json:"calculationTimeMs"`
	RulesEvaluated    int       `json:"rulesEvaluated"`
	RulesApplied      int       `json:"rulesApplied"`
	CacheHit          bool      `json:"cacheHit"`
	Mode              Mode      `json:"mode"`
	CalculatedAt      time.Time `json:"calculatedAt"`
}

// Result is the full, auditable outcome of a calculation.
type Result struct {
	BasePrice    decimal.Decimal   `json:"basePrice"`
	FinalPrice   decimal.Decimal   `json:"finalPrice"`
	Steps        []CalculationStep `json:"steps"`
	SkippedRules []SkippedRule     `json:"skippedRules"`
	Context      PricingContext    `json:"context"`
	Margins      *Margins          `json:"margins,omitempty"`
	Metadata     Metadata          `json:"metadata"`
}
