package pricing

import (
	"cmp"
	"slices"
	"strings"
	"time"
)

// Select filters rules down to the candidates for pctx at asOf and orders them
// by priority descending, then targeting specificity, then id ascending.
// The input slice is not modified.
func Select(rules []PriceRule, pctx PricingContext, asOf time.Time) []PriceRule {
	group := firstNonEmpty(pctx.CustomerGroup, customerGroup(pctx.Customer))
	out := make([]PriceRule, 0, len(rules))
	for _, r := range rules {
		if isCandidate(r, pctx, group, asOf) {
			out = append(out, r)
		}
	}
	slices.SortStableFunc(out, compareRules)
	return out
}

func compareRules(a, b PriceRule) int {
	if c := cmp.Compare(b.Priority, a.Priority); c != 0 {
		return c
	}
	if c := cmp.Compare(b.targeting(), a.targeting()); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

func isCandidate(r PriceRule, pctx PricingContext, group string, asOf time.Time) bool {
	if !r.IsActive {
		return false
	}
	if r.Channel != ChannelAll && r.Channel != pctx.Channel {
		return false
	}
	switch r.targeting() {
	case targetArticle:
		if strings.TrimSpace(r.ArticleID) != strings.TrimSpace(pctx.ArticleID) {
			return false
		}
	case targetFamily:
		if !strings.EqualFold(strings.TrimSpace(r.ArticleFamily), strings.TrimSpace(pctx.Article.Family)) {
			return false
		}
	}
	if r.ValidFrom != nil && asOf.Before(*r.ValidFrom) {
		return false
	}
	if r.ValidUntil != nil && asOf.After(*r.ValidUntil) {
		return false
	}
	if len(r.CustomerGroups) > 0 && !containsFold(r.CustomerGroups, group) {
		return false
	}
	return true
}

func customerGroup(c *Customer) string {
	if c == nil {
		return ""
	}
	return c.Group
}

func containsFold(values []string, target string) bool {
	target = strings.TrimSpace(target)
	if target == "" {
		return false
	}
	for _, v := range values {
		if strings.EqualFold(strings.TrimSpace(v), target) {
			return true
		}
	}
	return false
}
