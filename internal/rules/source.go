package rules

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/noah-isme/backend-pricing/internal/pricing"
	"github.com/noah-isme/backend-pricing/internal/resilience"
)

// GuardedSource wraps a rule source with a circuit breaker and a short retry
// so a failing database turns into fast RULES_UNAVAILABLE responses.
type GuardedSource struct {
	next  pricing.RuleSource
	retry resilience.Retry
}

// NewGuardedSource builds a GuardedSource around next.
func NewGuardedSource(next pricing.RuleSource, breaker *resilience.Breaker, attempts int) *GuardedSource {
	return &GuardedSource{
		next: next,
		retry: resilience.Retry{
			Breaker:     breaker,
			MaxAttempts: attempts,
			BaseBackoff: 25 * time.Millisecond,
			Jitter:      0.2,
			Retryable:   transient,
		},
	}
}

// ListRules implements pricing.RuleSource.
func (s *GuardedSource) ListRules(ctx context.Context, q pricing.RuleQuery) ([]pricing.PriceRule, error) {
	var out []pricing.PriceRule
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		rules, err := s.next.ListRules(ctx, q)
		if err != nil {
			return err
		}
		out = rules
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// transient reports whether err is worth retrying. Postgres errors with a
// SQLSTATE outside the connection and resource classes are permanent.
func transient(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && len(pgErr.Code) >= 2 {
		switch pgErr.Code[:2] {
		case "08", "53", "57", "40":
			return true
		default:
			return false
		}
	}
	return true
}
