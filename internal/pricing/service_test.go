package pricing

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-pricing/internal/common"
	"github.com/noah-isme/backend-pricing/internal/tenant"
)

type stubRules struct {
	rules []PriceRule
	err   error
	calls atomic.Int32
	last  RuleQuery
	mu    sync.Mutex
}

func (s *stubRules) ListRules(_ context.Context, q RuleQuery) ([]PriceRule, error) {
	s.calls.Add(1)
	s.mu.Lock()
	s.last = q
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return append([]PriceRule(nil), s.rules...), nil
}

type stubResolver struct {
	articles  map[string]Article
	customers map[string]*Customer
	err       error
}

func (s *stubResolver) ResolveArticle(_ context.Context, id string) (Article, error) {
	if s.err != nil {
		return Article{}, s.err
	}
	a, ok := s.articles[id]
	if !ok {
		return Article{}, ErrArticleNotFound
	}
	return a, nil
}

func (s *stubResolver) ResolveCustomer(_ context.Context, id string) (*Customer, error) {
	return s.customers[id], nil
}

type memoryCache struct {
	mu      sync.Mutex
	entries map[string]Result
	tenants []string
}

func newMemoryCache() *memoryCache { return &memoryCache{entries: map[string]Result{}} }

func (m *memoryCache) Get(ctx context.Context, key CacheKey) (Result, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res, ok := m.entries[tenant.Key(ctx, key.String())]
	return res, ok, nil
}

func (m *memoryCache) Set(ctx context.Context, key CacheKey, res Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[tenant.Key(ctx, key.String())] = res
	return nil
}

func (m *memoryCache) Invalidate(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, _ := tenant.FromContext(ctx)
	m.tenants = append(m.tenants, id)
	m.entries = map[string]Result{}
	return nil
}

func testArticles() map[string]Article {
	a := testContext().Article
	a.CostPrice = decp("60")
	b := a
	b.ID = "art-2"
	b.BasePrice = dec("50")
	return map[string]Article{"art-1": a, "art-2": b}
}

func newTestService(t *testing.T, rules *stubRules, cache ResultCache, usage UsageStore) *Service {
	t.Helper()
	svc, err := NewService(ServiceConfig{
		Rules:           rules,
		Resolver:        &stubResolver{articles: testArticles(), customers: map[string]*Customer{"cust-1": {ID: "cust-1", Group: "WHOLESALE"}}},
		Cache:           cache,
		Usage:           usage,
		BulkConcurrency: 2,
		BulkMaxContexts: 3,
		MaxScenarios:    2,
		Logger:          zerolog.Nop(),
		Now:             func() time.Time { return testNow },
	})
	require.NoError(t, err)
	return svc
}

func appErrorCode(t *testing.T, err error) (string, int) {
	t.Helper()
	var appErr *common.AppError
	require.True(t, errors.As(err, &appErr), "expected AppError, got %v", err)
	return appErr.Code, appErr.HTTPStatus
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	_, err := NewService(ServiceConfig{Resolver: &stubResolver{}})
	require.Error(t, err)
	_, err = NewService(ServiceConfig{Rules: &stubRules{}})
	require.Error(t, err)
}

func TestServiceCalculate(t *testing.T) {
	rules := &stubRules{rules: []PriceRule{testRule("promo", 10, AdjustPercentage, "-10")}}
	svc := newTestService(t, rules, nil, nil)

	res, err := svc.Calculate(context.Background(), SimulationContext{ArticleID: " art-1 ", Quantity: 2, Channel: "erp"})
	require.NoError(t, err)
	require.True(t, res.FinalPrice.Equal(dec("90")))
	require.Equal(t, ChannelERP, res.Context.Channel)
	require.NotNil(t, res.Margins)
	require.Equal(t, RuleQuery{ArticleID: "art-1", Family: "TUBES", Channel: ChannelERP}, rules.last)
}

func TestServiceCalculateUsesCustomerGroup(t *testing.T) {
	rule := testRule("wholesale", 10, AdjustFixedAmount, "-5")
	rule.CustomerGroups = []string{"wholesale"}
	svc := newTestService(t, &stubRules{rules: []PriceRule{rule}}, nil, nil)

	res, err := svc.Calculate(context.Background(), SimulationContext{ArticleID: "art-1", Quantity: 1, Channel: "ERP", CustomerID: "cust-1"})
	require.NoError(t, err)
	require.True(t, res.FinalPrice.Equal(dec("95")))

	res, err = svc.Calculate(context.Background(), SimulationContext{ArticleID: "art-1", Quantity: 1, Channel: "ERP"})
	require.NoError(t, err)
	require.True(t, res.FinalPrice.Equal(dec("100")))
}

func TestServiceCalculateValidation(t *testing.T) {
	svc := newTestService(t, &stubRules{}, nil, nil)
	cases := []SimulationContext{
		{Quantity: 1, Channel: "ERP"},
		{ArticleID: "art-1", Quantity: 0, Channel: "ERP"},
		{ArticleID: "art-1", Quantity: 1, Channel: "ALL"},
		{ArticleID: "art-1", Quantity: 1, Channel: "FAX"},
	}
	for _, in := range cases {
		_, err := svc.Calculate(context.Background(), in)
		code, status := appErrorCode(t, err)
		require.Equal(t, "VALIDATION_FAILED", code)
		require.Equal(t, http.StatusBadRequest, status)
	}
}

func TestServiceCalculateErrors(t *testing.T) {
	svc := newTestService(t, &stubRules{}, nil, nil)
	_, err := svc.Calculate(context.Background(), SimulationContext{ArticleID: "missing", Quantity: 1, Channel: "ERP"})
	code, status := appErrorCode(t, err)
	require.Equal(t, "ARTICLE_NOT_FOUND", code)
	require.Equal(t, http.StatusNotFound, status)
	require.ErrorIs(t, err, ErrArticleNotFound)

	svc = newTestService(t, &stubRules{err: errors.New("breaker open")}, nil, nil)
	_, err = svc.Calculate(context.Background(), SimulationContext{ArticleID: "art-1", Quantity: 1, Channel: "ERP"})
	code, status = appErrorCode(t, err)
	require.Equal(t, "RULES_UNAVAILABLE", code)
	require.Equal(t, http.StatusServiceUnavailable, status)
	require.ErrorIs(t, err, ErrRulesUnavailable)

	store := newMemoryUsage()
	store.err = errors.New("redis down")
	rule := testRule("r", 10, AdjustFixedAmount, "-1")
	rule.UsageLimitPerCustomer = int64p(1)
	svc = newTestService(t, &stubRules{rules: []PriceRule{rule}}, nil, store)
	_, err = svc.Calculate(context.Background(), SimulationContext{ArticleID: "art-1", Quantity: 1, Channel: "ERP", CustomerID: "cust-1"})
	code, _ = appErrorCode(t, err)
	require.Equal(t, "USAGE_STORE_UNAVAILABLE", code)
}

func TestServiceCalculateCaches(t *testing.T) {
	rules := &stubRules{rules: []PriceRule{testRule("promo", 10, AdjustPercentage, "-10")}}
	cache := newMemoryCache()
	svc := newTestService(t, rules, cache, nil)
	ctx := tenant.WithTenant(context.Background(), "acme")
	in := SimulationContext{ArticleID: "art-1", Quantity: 1, Channel: "ERP"}

	first, err := svc.Calculate(ctx, in)
	require.NoError(t, err)
	require.False(t, first.Metadata.CacheHit)

	second, err := svc.Calculate(ctx, in)
	require.NoError(t, err)
	require.True(t, second.Metadata.CacheHit)
	require.True(t, second.FinalPrice.Equal(first.FinalPrice))
	require.Equal(t, int32(1), rules.calls.Load())

	// other tenants do not share entries
	_, err = svc.Calculate(tenant.WithTenant(context.Background(), "globex"), in)
	require.NoError(t, err)
	require.Equal(t, int32(2), rules.calls.Load())

	require.NoError(t, svc.InvalidateCache(ctx))
	require.Equal(t, []string{"acme"}, cache.tenants)
	third, err := svc.Calculate(ctx, in)
	require.NoError(t, err)
	require.False(t, third.Metadata.CacheHit)
}

func TestServiceCommitBypassesCache(t *testing.T) {
	rule := testRule("once", 10, AdjustFixedAmount, "-10")
	rule.UsageLimitPerCustomer = int64p(1)
	rules := &stubRules{rules: []PriceRule{rule}}
	cache := newMemoryCache()
	store := newMemoryUsage()
	svc := newTestService(t, rules, cache, store)
	in := SimulationContext{ArticleID: "art-1", Quantity: 1, Channel: "ERP", CustomerID: "cust-1"}

	res, err := svc.Commit(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, res.Steps, 1)
	require.Equal(t, ModeCommit, res.Metadata.Mode)
	require.Empty(t, cache.entries)

	res, err = svc.Commit(context.Background(), in)
	require.NoError(t, err)
	require.Empty(t, res.Steps)
	require.Equal(t, SkipUsageLimitExceeded, res.SkippedRules[0].Reason)
	require.Equal(t, 1, store.reserveCalls, "the exhausted rule never reaches the store")
}

func TestServiceCommitInvalidatesCachedSimulations(t *testing.T) {
	rule := testRule("once", 10, AdjustPercentage, "-10")
	rule.UsageLimitPerCustomer = int64p(1)
	rules := &stubRules{rules: []PriceRule{rule}}
	cache := newMemoryCache()
	svc := newTestService(t, rules, cache, newMemoryUsage())
	ctx := tenant.WithTenant(context.Background(), "acme")
	in := SimulationContext{ArticleID: "art-1", Quantity: 1, Channel: "ERP", CustomerID: "cust-1"}

	before, err := svc.Calculate(ctx, in)
	require.NoError(t, err)
	require.True(t, before.FinalPrice.Equal(dec("90")))
	require.NotEmpty(t, cache.entries)

	_, err = svc.Commit(ctx, in)
	require.NoError(t, err)
	require.Equal(t, []string{"acme"}, cache.tenants)

	after, err := svc.Calculate(ctx, in)
	require.NoError(t, err)
	require.False(t, after.Metadata.CacheHit)
	require.True(t, after.FinalPrice.Equal(dec("100")))
	require.Empty(t, after.Steps)
	require.Equal(t, SkipUsageLimitExceeded, after.SkippedRules[0].Reason)
}

func TestServiceCommitWithoutReservationKeepsCache(t *testing.T) {
	rules := &stubRules{}
	cache := newMemoryCache()
	svc := newTestService(t, rules, cache, newMemoryUsage())

	_, err := svc.Commit(context.Background(), SimulationContext{ArticleID: "art-1", Quantity: 1, Channel: "ERP"})
	require.NoError(t, err)
	require.Empty(t, cache.tenants)
}

func TestServiceCalculateBulk(t *testing.T) {
	rules := &stubRules{rules: []PriceRule{testRule("promo", 10, AdjustPercentage, "-10")}}
	svc := newTestService(t, rules, nil, nil)

	results, err := svc.CalculateBulk(context.Background(), []SimulationContext{
		{ArticleID: "art-1", Quantity: 1, Channel: "ERP"},
		{ArticleID: "art-2", Quantity: 1, Channel: "B2B"},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.True(t, results[0].FinalPrice.Equal(dec("90")))
	require.True(t, results[1].FinalPrice.Equal(dec("45")))
}

func TestServiceCalculateBulkFailures(t *testing.T) {
	svc := newTestService(t, &stubRules{}, nil, nil)

	_, err := svc.CalculateBulk(context.Background(), nil)
	code, _ := appErrorCode(t, err)
	require.Equal(t, "VALIDATION_FAILED", code)

	tooMany := make([]SimulationContext, 4)
	_, err = svc.CalculateBulk(context.Background(), tooMany)
	code, _ = appErrorCode(t, err)
	require.Equal(t, "VALIDATION_FAILED", code)

	_, err = svc.CalculateBulk(context.Background(), []SimulationContext{
		{ArticleID: "art-1", Quantity: 1, Channel: "ERP"},
		{ArticleID: "art-1", Quantity: -1, Channel: "ERP"},
	})
	var appErr *common.AppError
	require.True(t, errors.As(err, &appErr))
	details, ok := appErr.Details.([]map[string]any)
	require.True(t, ok)
	require.Len(t, details, 1)
	require.Equal(t, 1, details[0]["index"])

	_, err = svc.CalculateBulk(context.Background(), []SimulationContext{
		{ArticleID: "art-1", Quantity: 1, Channel: "ERP"},
		{ArticleID: "ghost", Quantity: 1, Channel: "ERP"},
	})
	code, status := appErrorCode(t, err)
	require.Equal(t, "ARTICLE_NOT_FOUND", code)
	require.Equal(t, http.StatusNotFound, status)
}

func TestServiceSimulateScenarios(t *testing.T) {
	bulk := testRule("bulk", 10, AdjustPercentage, "-20")
	bulk.Conditions = []Condition{mustCondition(t, `{"field":"quantity","operator":"gte","value":10}`)}
	svc := newTestService(t, &stubRules{rules: []PriceRule{bulk}}, nil, nil)

	qty := 10.0
	results, err := svc.SimulateScenarios(context.Background(),
		SimulationContext{ArticleID: "art-1", Quantity: 1, Channel: "ERP"},
		[]ScenarioOverride{{}, {Quantity: &qty}},
	)
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.True(t, results[0].FinalPrice.Equal(dec("100")))
	require.True(t, results[1].FinalPrice.Equal(dec("80")))

	_, err = svc.SimulateScenarios(context.Background(), SimulationContext{}, []ScenarioOverride{{}, {}, {}})
	code, _ := appErrorCode(t, err)
	require.Equal(t, "VALIDATION_FAILED", code)
}

func mustCondition(t *testing.T, src string) Condition {
	t.Helper()
	var c Condition
	require.NoError(t, c.UnmarshalJSON([]byte(src)))
	require.NoError(t, c.Valid())
	return c
}
