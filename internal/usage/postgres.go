package usage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/noah-isme/backend-pricing/internal/pricing"
	"github.com/noah-isme/backend-pricing/internal/tenant"
)

// DB is the subset of pgxpool.Pool the Postgres store needs.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore keeps usage counters next to the rules. Reservations are
// conditional updates inside one transaction.
type PostgresStore struct {
	db DB
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const customerUsageSQL = `
SELECT usage_count FROM price_rule_customer_usages
WHERE tenant_id = $1 AND rule_id = $2 AND customer_id = $3`

// CustomerUsage implements pricing.UsageStore.
func (s *PostgresStore) CustomerUsage(ctx context.Context, ruleID, customerID string) (int64, error) {
	tenantID, _ := tenant.FromContext(ctx)
	var n int64
	err := s.db.QueryRow(ctx, customerUsageSQL, tenantID, ruleID, customerID).Scan(&n)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("customer usage: %w", err)
	}
	return n, nil
}

const reserveGlobalSQL = `
UPDATE price_rules
SET usage_count = usage_count + 1, updated_at = now()
WHERE tenant_id = $1 AND id = $2
  AND (usage_limit IS NULL OR usage_count < usage_limit)`

const reserveCustomerSQL = `
INSERT INTO price_rule_customer_usages (tenant_id, rule_id, customer_id, usage_count)
VALUES ($1, $2, $3, 1)
ON CONFLICT (tenant_id, rule_id, customer_id) DO UPDATE
SET usage_count = price_rule_customer_usages.usage_count + 1, updated_at = now()
WHERE $4::bigint IS NULL OR price_rule_customer_usages.usage_count < $4::bigint`

type deniedError struct{ index int }

func (e deniedError) Error() string { return fmt.Sprintf("usage: reservation %d has no room", e.index) }

// Reserve implements pricing.UsageStore. The whole batch runs in one
// transaction and rolls back on the first denial. The stored usage_limit is
// authoritative for the global check; the reservation's customer limit bounds
// the per-customer row.
func (s *PostgresStore) Reserve(ctx context.Context, rs []pricing.Reservation) (int, error) {
	for i, r := range rs {
		if r.CustomerID != "" && r.CustomerLimit != nil && *r.CustomerLimit <= 0 {
			return i, nil
		}
	}
	if len(rs) == 0 {
		return pricing.ReservedAll, nil
	}
	tenantID, _ := tenant.FromContext(ctx)
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		for i, r := range rs {
			tag, err := tx.Exec(ctx, reserveGlobalSQL, tenantID, r.RuleID)
			if err != nil {
				return fmt.Errorf("reserve rule %s usage: %w", r.RuleID, err)
			}
			if tag.RowsAffected() == 0 {
				return deniedError{index: i}
			}
			if r.CustomerID == "" {
				continue
			}
			tag, err = tx.Exec(ctx, reserveCustomerSQL, tenantID, r.RuleID, r.CustomerID, r.CustomerLimit)
			if err != nil {
				return fmt.Errorf("reserve rule %s customer usage: %w", r.RuleID, err)
			}
			if tag.RowsAffected() == 0 {
				return deniedError{index: i}
			}
		}
		return nil
	})
	var denied deniedError
	if errors.As(err, &denied) {
		return denied.index, nil
	}
	if err != nil {
		return pricing.ReservedAll, err
	}
	return pricing.ReservedAll, nil
}
