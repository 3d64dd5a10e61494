package rules

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-pricing/internal/pricing"
	"github.com/noah-isme/backend-pricing/internal/resilience"
)

type flakySource struct {
	errs  []error
	calls int
}

func (f *flakySource) ListRules(context.Context, pricing.RuleQuery) ([]pricing.PriceRule, error) {
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return []pricing.PriceRule{{ID: "r1"}}, nil
}

func TestGuardedSourceRetriesTransientErrors(t *testing.T) {
	src := &flakySource{errs: []error{errors.New("conn reset")}}
	breaker := resilience.NewBreaker(resilience.Config{MinRequests: 10, FailureRatio: 0.5, OpenFor: time.Minute})
	guarded := NewGuardedSource(src, breaker, 3)

	rules, err := guarded.ListRules(context.Background(), pricing.RuleQuery{ArticleID: "a"})
	require.NoError(t, err)
	require.Len(t, rules, 1)
	require.Equal(t, 2, src.calls)
}

func TestGuardedSourceDoesNotRetryPermanentErrors(t *testing.T) {
	src := &flakySource{errs: []error{&pgconn.PgError{Code: "42P01", Message: "relation does not exist"}}}
	guarded := NewGuardedSource(src, resilience.NewBreaker(resilience.Config{MinRequests: 10}), 3)

	_, err := guarded.ListRules(context.Background(), pricing.RuleQuery{})
	require.Error(t, err)
	require.Equal(t, 1, src.calls)
}

func TestGuardedSourceFailsFastWhenOpen(t *testing.T) {
	down := errors.New("db down")
	src := &flakySource{errs: []error{down, down}}
	breaker := resilience.NewBreaker(resilience.Config{MinRequests: 2, FailureRatio: 0.5, OpenFor: time.Minute})
	guarded := NewGuardedSource(src, breaker, 1)

	for i := 0; i < 2; i++ {
		_, err := guarded.ListRules(context.Background(), pricing.RuleQuery{})
		require.ErrorIs(t, err, down)
	}
	_, err := guarded.ListRules(context.Background(), pricing.RuleQuery{})
	require.ErrorIs(t, err, resilience.ErrOpenCircuit)
	require.Equal(t, 2, src.calls)
}

func TestTransient(t *testing.T) {
	require.True(t, transient(errors.New("timeout")))
	require.True(t, transient(&pgconn.PgError{Code: "08006"}))
	require.True(t, transient(&pgconn.PgError{Code: "40001"}))
	require.False(t, transient(&pgconn.PgError{Code: "23505"}))
}
