//go:build integration

package rules

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-pricing/internal/formula"
	"github.com/noah-isme/backend-pricing/internal/pricing"
	"github.com/noah-isme/backend-pricing/internal/tenant"
	"github.com/noah-isme/backend-pricing/internal/testutil"
)

func TestRepositoryRoundTrip(t *testing.T) {
	pool := testutil.Postgres(t)
	repo := NewRepository(pool, formula.DefaultLimits(), zerolog.Nop())
	ctx := tenant.WithTenant(context.Background(), "acme")

	var cond pricing.Condition
	require.NoError(t, cond.UnmarshalJSON([]byte(`{"field":"quantity","operator":"gte","value":10}`)))
	limit := int64(5)
	until := time.Now().Add(time.Hour).UTC().Truncate(time.Second)

	saved := []pricing.PriceRule{
		{ID: "global", Name: "global", IsActive: true, Channel: pricing.ChannelAll, AdjustmentType: pricing.AdjustPercentage, AdjustmentValue: decimal.RequireFromString("-5"), Priority: 1, Combinable: true},
		{ID: "family", Name: "family", IsActive: true, Channel: pricing.ChannelERP, ArticleFamily: "tubes", AdjustmentType: pricing.AdjustFixedAmount, AdjustmentValue: decimal.RequireFromString("-2.5"), Priority: 5, Combinable: true, Conditions: []pricing.Condition{cond}, UsageLimit: &limit, ValidUntil: &until, CustomerGroups: []string{"WHOLESALE"}},
		{ID: "formula", Name: "formula", IsActive: true, Channel: pricing.ChannelAll, ArticleID: "art-1", AdjustmentType: pricing.AdjustFormula, Formula: "price * 0.9", Priority: 9},
		{ID: "other-article", Name: "other", IsActive: true, Channel: pricing.ChannelAll, ArticleID: "art-2", AdjustmentType: pricing.AdjustPercentage, AdjustmentValue: decimal.RequireFromString("-1")},
		{ID: "marketplace", Name: "mp", IsActive: true, Channel: pricing.ChannelMarketplace, AdjustmentType: pricing.AdjustPercentage, AdjustmentValue: decimal.RequireFromString("-1")},
		{ID: "inactive", Name: "off", IsActive: false, Channel: pricing.ChannelAll, AdjustmentType: pricing.AdjustPercentage, AdjustmentValue: decimal.RequireFromString("-1")},
	}
	for _, r := range saved {
		require.NoError(t, repo.Save(ctx, r))
	}
	// a rule of another tenant must stay invisible
	require.NoError(t, repo.Save(tenant.WithTenant(context.Background(), "globex"), saved[0]))

	rules, err := repo.ListRules(ctx, pricing.RuleQuery{ArticleID: "art-1", Family: "TUBES", Channel: pricing.ChannelERP})
	require.NoError(t, err)
	ids := make([]string, 0, len(rules))
	for _, r := range rules {
		ids = append(ids, r.ID)
	}
	require.Equal(t, []string{"formula", "family", "global"}, ids)

	family := rules[1]
	require.Equal(t, "acme", family.TenantID)
	require.True(t, family.AdjustmentValue.Equal(decimal.RequireFromString("-2.5")))
	require.Len(t, family.Conditions, 1)
	require.NoError(t, family.Conditions[0].Valid())
	require.Equal(t, int64(5), *family.UsageLimit)
	require.Equal(t, []string{"WHOLESALE"}, family.CustomerGroups)
	require.True(t, until.Equal(*family.ValidUntil))

	require.NotNil(t, rules[0].Expr)
	require.NoError(t, rules[0].FormulaErr)
}

func TestRepositoryUndecodableConditions(t *testing.T) {
	pool := testutil.Postgres(t)
	repo := NewRepository(pool, formula.DefaultLimits(), zerolog.Nop())
	ctx := context.Background()

	_, err := pool.Exec(ctx, `INSERT INTO price_rules (id, name, adjustment_type, adjustment_value, conditions)
		VALUES ('broken', 'broken', 'PERCENTAGE', -10, '{"field":"quantity"}'::jsonb)`)
	require.NoError(t, err)

	rules, err := repo.ListRules(ctx, pricing.RuleQuery{ArticleID: "x", Channel: pricing.ChannelAPI})
	require.NoError(t, err)
	require.Len(t, rules, 1)
	require.Len(t, rules[0].Conditions, 1)
	require.Error(t, rules[0].Conditions[0].Valid())
}
