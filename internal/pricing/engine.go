package pricing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Options tunes a single calculation.
type Options struct {
	Mode           Mode
	AsOf           time.Time
	IncludeMargins bool
	// CacheHit is reported back verbatim; the engine does not cache.
	CacheHit bool
}

// Engine drives the rule pipeline for one pricing context.
type Engine struct {
	Usage   UsageGuard
	Applier Applier
	Now     func() time.Time
}

// Calculate applies the candidate rules to the article base price in order and
// returns the auditable result. Per-rule failures become skip records; only
// invalid input and usage store failures are returned as errors.
func (e *Engine) Calculate(ctx context.Context, rules []PriceRule, pctx PricingContext, opts Options) (Result, error) {
	if err := pctx.validate(); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidContext, err)
	}
	mode := opts.Mode
	if mode == "" {
		mode = ModeSimulate
	}
	asOf := opts.AsOf
	if asOf.IsZero() {
		asOf = e.now()
	}
	customerID := firstNonEmpty(pctx.CustomerID, customerIDOf(pctx.Customer))

	started := time.Now()
	candidates := Select(rules, pctx, asOf)
	view := NewView(pctx)

	// A commit reserves every applied rule in one batch. A rule denied by the
	// store is marked exhausted and the pipeline reruns without it, so each
	// pass drops one candidate.
	exhausted := map[string]bool{}
	var p pass
	for {
		var err error
		p, err = e.run(ctx, candidates, pctx, view, customerID, exhausted)
		if err != nil {
			return Result{}, err
		}
		if mode != ModeCommit || len(p.applied) == 0 {
			break
		}
		denied, err := e.Usage.Reserve(ctx, p.applied, customerID)
		if err != nil {
			return Result{}, fmt.Errorf("reserve usage: %w", err)
		}
		if denied == ReservedAll {
			break
		}
		if denied < 0 || denied >= len(p.applied) {
			return Result{}, fmt.Errorf("reserve usage: denied index %d out of range", denied)
		}
		exhausted[p.applied[denied].ID] = true
	}
	price := p.price

	var margins *Margins
	if opts.IncludeMargins {
		margins = ComputeMargins(pctx.Article.CostPrice, price)
	}
	elapsed := time.Since(started)

	return Result{
		BasePrice:    pctx.Article.BasePrice,
		FinalPrice:   price,
		Steps:        p.steps,
		SkippedRules: p.skipped,
		Context:      pctx,
		Margins:      margins,
		Metadata: Metadata{
			CalculationTimeMs: float64(elapsed.Microseconds()) / 1000,
			RulesEvaluated:    len(candidates),
			RulesApplied:      len(p.steps),
			CacheHit:          opts.CacheHit,
			Mode:              mode,
			CalculatedAt:      asOf,
		},
	}, nil
}

type pass struct {
	price   decimal.Decimal
	steps   []CalculationStep
	skipped []SkippedRule
	applied []PriceRule
}

// run walks the candidates once without touching usage counters.
func (e *Engine) run(ctx context.Context, candidates []PriceRule, pctx PricingContext, view View, customerID string, exhausted map[string]bool) (pass, error) {
	p := pass{price: pctx.Article.BasePrice, steps: []CalculationStep{}, skipped: []SkippedRule{}}
	skipRule := func(r PriceRule, reason SkipReason) {
		p.skipped = append(p.skipped, SkippedRule{RuleID: r.ID, RuleName: r.Name, Priority: r.Priority, Reason: reason})
	}
	exclusiveHit := false
	for _, rule := range candidates {
		if exclusiveHit {
			skipRule(rule, SkipBlockedByExclusive)
			continue
		}
		if exhausted[rule.ID] {
			skipRule(rule, SkipUsageLimitExceeded)
			continue
		}
		ok, err := e.Usage.Check(ctx, rule, customerID)
		if err != nil {
			return pass{}, fmt.Errorf("usage check for rule %s: %w", rule.ID, err)
		}
		if !ok {
			skipRule(rule, SkipUsageLimitExceeded)
			continue
		}
		if reason, ok := Match(rule.Conditions, view); !ok {
			skipRule(rule, reason)
			continue
		}
		outcome, err := e.Applier.Apply(rule, p.price, pctx)
		if err != nil {
			var se *SkipError
			if errors.As(err, &se) {
				skipRule(rule, se.Reason)
				continue
			}
			return pass{}, err
		}
		p.steps = append(p.steps, CalculationStep{
			StepNumber:     len(p.steps) + 1,
			RuleID:         rule.ID,
			RuleName:       rule.Name,
			PriceBefore:    p.price,
			PriceAfter:     outcome.Price,
			Adjustment:     outcome.Price.Sub(p.price),
			AdjustmentType: rule.AdjustmentType,
			Description:    outcome.Description,
		})
		p.applied = append(p.applied, rule)
		p.price = outcome.Price
		if !rule.Combinable {
			exclusiveHit = true
		}
	}
	return p, nil
}

func (e *Engine) now() time.Time {
	if e != nil && e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func customerIDOf(c *Customer) string {
	if c == nil {
		return ""
	}
	return c.ID
}
