package rules

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-pricing/internal/formula"
	"github.com/noah-isme/backend-pricing/internal/pricing"
	"github.com/noah-isme/backend-pricing/internal/tenant"
)

// DB is the subset of pgxpool.Pool the repository needs.
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Repository loads price rules from Postgres.
type Repository struct {
	db     DB
	limits formula.Limits
	logger zerolog.Logger
}

// NewRepository constructs a Repository. Formula rules are compiled with limits
// when they are loaded.
func NewRepository(db DB, limits formula.Limits, logger zerolog.Logger) *Repository {
	return &Repository{db: db, limits: limits, logger: logger.With().Str("component", "rules_repository").Logger()}
}

const listRulesSQL = `
SELECT id, name, is_active, channel,
       COALESCE(article_id, ''), COALESCE(article_family, ''),
       adjustment_type, adjustment_value::text, COALESCE(adjustment_unit, ''), COALESCE(formula, ''),
       conditions, priority, combinable, valid_from, valid_until,
       usage_limit, usage_limit_per_customer, usage_count, customer_groups, metadata
FROM price_rules
WHERE tenant_id = $1
  AND is_active
  AND (channel = 'ALL' OR channel = $2)
  AND (
        (COALESCE(article_id, '') = '' AND COALESCE(article_family, '') = '')
     OR article_id = $3
     OR (COALESCE(article_id, '') = '' AND lower(article_family) = lower($4))
  )
ORDER BY priority DESC, id`

// ListRules returns the active rules of the tenant in ctx that could target
// the queried article. Final filtering and ordering happen in the engine.
func (r *Repository) ListRules(ctx context.Context, q pricing.RuleQuery) ([]pricing.PriceRule, error) {
	tenantID, _ := tenant.FromContext(ctx)
	rows, err := r.db.Query(ctx, listRulesSQL, tenantID, string(q.Channel), q.ArticleID, q.Family)
	if err != nil {
		return nil, fmt.Errorf("query price rules: %w", err)
	}
	defer rows.Close()

	var out []pricing.PriceRule
	for rows.Next() {
		rule, err := r.scanRule(rows)
		if err != nil {
			return nil, err
		}
		rule.TenantID = tenantID
		out = append(out, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate price rules: %w", err)
	}
	return out, nil
}

func (r *Repository) scanRule(rows pgx.Rows) (pricing.PriceRule, error) {
	var (
		rule       pricing.PriceRule
		channel    string
		kind       string
		value      string
		conditions []byte
		metadata   []byte
		validFrom  *time.Time
		validUntil *time.Time
		groups     []string
	)
	if err := rows.Scan(
		&rule.ID, &rule.Name, &rule.IsActive, &channel,
		&rule.ArticleID, &rule.ArticleFamily,
		&kind, &value, &rule.AdjustmentUnit, &rule.Formula,
		&conditions, &rule.Priority, &rule.Combinable, &validFrom, &validUntil,
		&rule.UsageLimit, &rule.UsageLimitPerCustomer, &rule.UsageCount, &groups, &metadata,
	); err != nil {
		return pricing.PriceRule{}, fmt.Errorf("scan price rule: %w", err)
	}
	rule.Channel = pricing.Channel(channel)
	rule.AdjustmentType = pricing.AdjustmentType(kind)
	rule.ValidFrom = validFrom
	rule.ValidUntil = validUntil
	rule.CustomerGroups = groups

	amount, err := decimal.NewFromString(value)
	if err != nil {
		return pricing.PriceRule{}, fmt.Errorf("rule %s adjustment value: %w", rule.ID, err)
	}
	rule.AdjustmentValue = amount

	conds, err := pricing.DecodeConditions(conditions)
	if err != nil {
		r.logger.Warn().Err(err).Str("rule_id", rule.ID).Msg("undecodable rule conditions")
		conds = []pricing.Condition{pricing.InvalidCondition(err)}
	}
	rule.Conditions = conds

	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &rule.Metadata); err != nil {
			r.logger.Warn().Err(err).Str("rule_id", rule.ID).Msg("ignoring undecodable rule metadata")
			rule.Metadata = nil
		}
	}

	rule.Compile(r.limits)
	if rule.FormulaErr != nil {
		r.logger.Warn().Err(rule.FormulaErr).Str("rule_id", rule.ID).Msg("rule formula does not compile")
	}
	return rule, nil
}

const upsertRuleSQL = `
INSERT INTO price_rules (
    tenant_id, id, name, is_active, channel, article_id, article_family,
    adjustment_type, adjustment_value, adjustment_unit, formula, conditions,
    priority, combinable, valid_from, valid_until, usage_limit,
    usage_limit_per_customer, customer_groups, metadata
) VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), $8, $9::numeric, NULLIF($10, ''), NULLIF($11, ''), $12,
          $13, $14, $15, $16, $17, $18, $19, $20)
ON CONFLICT (tenant_id, id) DO UPDATE SET
    name = EXCLUDED.name,
    is_active = EXCLUDED.is_active,
    channel = EXCLUDED.channel,
    article_id = EXCLUDED.article_id,
    article_family = EXCLUDED.article_family,
    adjustment_type = EXCLUDED.adjustment_type,
    adjustment_value = EXCLUDED.adjustment_value,
    adjustment_unit = EXCLUDED.adjustment_unit,
    formula = EXCLUDED.formula,
    conditions = EXCLUDED.conditions,
    priority = EXCLUDED.priority,
    combinable = EXCLUDED.combinable,
    valid_from = EXCLUDED.valid_from,
    valid_until = EXCLUDED.valid_until,
    usage_limit = EXCLUDED.usage_limit,
    usage_limit_per_customer = EXCLUDED.usage_limit_per_customer,
    customer_groups = EXCLUDED.customer_groups,
    metadata = EXCLUDED.metadata,
    updated_at = now()`

// Save inserts or replaces a rule for the tenant in ctx. The usage counter is
// left untouched on update.
func (r *Repository) Save(ctx context.Context, rule pricing.PriceRule) error {
	if rule.ID == "" {
		return errors.New("rules: rule id is required")
	}
	if !rule.AdjustmentType.Valid() {
		return fmt.Errorf("rules: unknown adjustment type %q", rule.AdjustmentType)
	}
	tenantID, _ := tenant.FromContext(ctx)
	conditions, err := json.Marshal(rule.Conditions)
	if err != nil {
		return fmt.Errorf("encode conditions: %w", err)
	}
	if rule.Conditions == nil {
		conditions = []byte("[]")
	}
	var metadata []byte
	if rule.Metadata != nil {
		if metadata, err = json.Marshal(rule.Metadata); err != nil {
			return fmt.Errorf("encode metadata: %w", err)
		}
	}
	channel := rule.Channel
	if channel == "" {
		channel = pricing.ChannelAll
	}
	groups := rule.CustomerGroups
	if groups == nil {
		groups = []string{}
	}
	_, err = r.db.Exec(ctx, upsertRuleSQL,
		tenantID, rule.ID, rule.Name, rule.IsActive, string(channel), rule.ArticleID, rule.ArticleFamily,
		string(rule.AdjustmentType), rule.AdjustmentValue.String(), rule.AdjustmentUnit, rule.Formula, conditions,
		rule.Priority, rule.Combinable, rule.ValidFrom, rule.ValidUntil, rule.UsageLimit,
		rule.UsageLimitPerCustomer, groups, metadata,
	)
	if err != nil {
		return fmt.Errorf("save price rule %s: %w", rule.ID, err)
	}
	return nil
}
