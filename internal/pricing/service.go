package pricing

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/backend-pricing/internal/common"
	"github.com/noah-isme/backend-pricing/internal/formula"
	"github.com/noah-isme/backend-pricing/internal/obs"
	"github.com/noah-isme/backend-pricing/internal/tenant"
)

// RuleQuery narrows the rule set fetched for one calculation.
type RuleQuery struct {
	ArticleID string
	Family    string
	Channel   Channel
}

// RuleSource returns the candidate rules of the tenant in ctx.
type RuleSource interface {
	ListRules(ctx context.Context, q RuleQuery) ([]PriceRule, error)
}

// Resolver supplies article and customer snapshots.
type Resolver interface {
	// ResolveArticle returns ErrArticleNotFound when the article does not exist.
	ResolveArticle(ctx context.Context, articleID string) (Article, error)
	// ResolveCustomer returns nil without error for unknown customers.
	ResolveCustomer(ctx context.Context, customerID string) (*Customer, error)
}

// CacheKey identifies a memoised simulation result.
type CacheKey struct {
	ArticleID     string
	Quantity      decimal.Decimal
	Channel       Channel
	CustomerGroup string
	CustomerID    string
}

func (k CacheKey) String() string {
	return strings.Join([]string{k.ArticleID, k.Quantity.String(), string(k.Channel), k.CustomerGroup, k.CustomerID}, "|")
}

// ResultCache memoises simulate-mode results per tenant.
type ResultCache interface {
	Get(ctx context.Context, key CacheKey) (Result, bool, error)
	Set(ctx context.Context, key CacheKey, res Result) error
	Invalidate(ctx context.Context) error
}

// Service wires the engine to its collaborators.
type Service struct {
	rules           RuleSource
	resolver        Resolver
	cache           ResultCache
	engine          *Engine
	logger          zerolog.Logger
	tracer          trace.Tracer
	bulkConcurrency int
	bulkMax         int
	maxScenarios    int
}

// ServiceConfig groups Service dependencies.
type ServiceConfig struct {
	Rules           RuleSource
	Resolver        Resolver
	Cache           ResultCache
	Usage           UsageStore
	Limits          formula.Limits
	Precision       int32
	BulkConcurrency int
	BulkMaxContexts int
	MaxScenarios    int
	Logger          zerolog.Logger
	Now             func() time.Time
}

// NewService validates dependencies and builds a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Rules == nil {
		return nil, errors.New("pricing: rule source is required")
	}
	if cfg.Resolver == nil {
		return nil, errors.New("pricing: resolver is required")
	}
	concurrency := cfg.BulkConcurrency
	if concurrency < 1 {
		concurrency = 4
	}
	bulkMax := cfg.BulkMaxContexts
	if bulkMax < 1 {
		bulkMax = 500
	}
	maxScenarios := cfg.MaxScenarios
	if maxScenarios < 1 {
		maxScenarios = 50
	}
	return &Service{
		rules:    cfg.Rules,
		resolver: cfg.Resolver,
		cache:    cfg.Cache,
		engine: &Engine{
			Usage:   UsageGuard{Store: cfg.Usage},
			Applier: Applier{Limits: cfg.Limits, Precision: cfg.Precision},
			Now:     cfg.Now,
		},
		logger:          cfg.Logger.With().Str("component", "pricing").Logger(),
		tracer:          otel.Tracer("pricing"),
		bulkConcurrency: concurrency,
		bulkMax:         bulkMax,
		maxScenarios:    maxScenarios,
	}, nil
}

// Limits exposes the formula limits rules should be compiled with.
func (s *Service) Limits() formula.Limits { return s.engine.Applier.Limits }

// Calculate prices one context in simulate mode, serving from cache when possible.
func (s *Service) Calculate(ctx context.Context, in SimulationContext) (Result, error) {
	in = in.normalized()
	if err := common.ValidateStruct(in); err != nil {
		return Result{}, err
	}
	return s.calculate(ctx, in, ModeSimulate)
}

// Commit prices one context in commit mode, consuming one use of every applied rule.
func (s *Service) Commit(ctx context.Context, in SimulationContext) (Result, error) {
	in = in.normalized()
	if err := common.ValidateStruct(in); err != nil {
		return Result{}, err
	}
	res, err := s.calculate(ctx, in, ModeCommit)
	if err != nil {
		obs.ObserveReservation("error")
		return Result{}, err
	}
	if len(res.Steps) == 0 {
		obs.ObserveReservation("none")
		return res, nil
	}
	obs.ObserveReservation("reserved")
	// Cached simulations were computed against the counters this commit moved.
	if s.cache != nil {
		if err := s.cache.Invalidate(ctx); err != nil {
			tenantID, _ := tenant.FromContext(ctx)
			s.logger.Warn().Err(err).Str("tenant_id", tenantID).Msg("invalidate price cache after commit failed")
		}
	}
	return res, nil
}

// CalculateBulk prices every context independently. The output is index-aligned
// with the input; any fatal error fails the whole batch.
func (s *Service) CalculateBulk(ctx context.Context, contexts []SimulationContext) ([]Result, error) {
	if len(contexts) == 0 {
		return nil, common.NewAppError(common.CodeValidationFailed, "contexts must not be empty", http.StatusBadRequest, nil)
	}
	if len(contexts) > s.bulkMax {
		return nil, common.NewAppError(common.CodeValidationFailed, fmt.Sprintf("at most %d contexts are allowed", s.bulkMax), http.StatusBadRequest, nil)
	}
	return s.fanOut(ctx, contexts, "contexts")
}

// SimulateScenarios overlays each scenario on base and prices the results.
func (s *Service) SimulateScenarios(ctx context.Context, base SimulationContext, scenarios []ScenarioOverride) ([]Result, error) {
	if len(scenarios) == 0 {
		return nil, common.NewAppError(common.CodeValidationFailed, "scenarios must not be empty", http.StatusBadRequest, nil)
	}
	if len(scenarios) > s.maxScenarios {
		return nil, common.NewAppError(common.CodeValidationFailed, fmt.Sprintf("at most %d scenarios are allowed", s.maxScenarios), http.StatusBadRequest, nil)
	}
	contexts := make([]SimulationContext, len(scenarios))
	for i, sc := range scenarios {
		contexts[i] = sc.Apply(base)
	}
	return s.fanOut(ctx, contexts, "scenarios")
}

// InvalidateCache drops every cached result of the tenant in ctx.
func (s *Service) InvalidateCache(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}
	if err := s.cache.Invalidate(ctx); err != nil {
		return common.NewAppError(common.CodeCacheUnavailable, "could not invalidate price cache", http.StatusServiceUnavailable, err)
	}
	return nil
}

func (s *Service) fanOut(ctx context.Context, contexts []SimulationContext, field string) ([]Result, error) {
	normalized := make([]SimulationContext, len(contexts))
	var invalid []map[string]any
	for i, c := range contexts {
		normalized[i] = c.normalized()
		if err := common.ValidateStruct(normalized[i]); err != nil {
			var appErr *common.AppError
			if errors.As(err, &appErr) {
				invalid = append(invalid, map[string]any{"index": i, "errors": appErr.Details})
			}
		}
	}
	if len(invalid) > 0 {
		appErr := common.NewAppError(common.CodeValidationFailed, "invalid "+field, http.StatusBadRequest, nil)
		appErr.Details = invalid
		return nil, appErr
	}

	results := make([]Result, len(normalized))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.bulkConcurrency)
	for i := range normalized {
		g.Go(func() error {
			res, err := s.calculate(gctx, normalized[i], ModeSimulate)
			if err != nil {
				return fmt.Errorf("%s[%s]: %w", field, strconv.Itoa(i), err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Service) calculate(ctx context.Context, in SimulationContext, mode Mode) (res Result, err error) {
	ctx, span := s.tracer.Start(ctx, "pricing.calculate", trace.WithAttributes(
		attribute.String("pricing.article_id", in.ArticleID),
		attribute.String("pricing.channel", in.Channel),
		attribute.String("pricing.mode", string(mode)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			obs.ObserveCalculation(string(mode), "error", 0, nil, nil)
		}
		span.End()
	}()

	tenantID, _ := tenant.FromContext(ctx)
	key := CacheKey{
		ArticleID:     in.ArticleID,
		Quantity:      decimal.NewFromFloat(in.Quantity),
		Channel:       Channel(in.Channel),
		CustomerGroup: in.CustomerGroup,
		CustomerID:    in.CustomerID,
	}
	useCache := s.cache != nil && mode == ModeSimulate
	if useCache {
		cached, ok, cacheErr := s.cache.Get(ctx, key)
		switch {
		case cacheErr != nil:
			obs.ObserveCacheLookup("error")
			s.logger.Warn().Err(cacheErr).Str("tenant_id", tenantID).Msg("price cache lookup failed")
		case ok:
			obs.ObserveCacheLookup("hit")
			span.SetAttributes(attribute.Bool("pricing.cache_hit", true))
			cached.Metadata.CacheHit = true
			return cached, nil
		default:
			obs.ObserveCacheLookup("miss")
		}
	}

	article, err := s.resolver.ResolveArticle(ctx, in.ArticleID)
	if err != nil {
		if errors.Is(err, ErrArticleNotFound) {
			return Result{}, common.NewAppError(common.CodeArticleNotFound, "article not found", http.StatusNotFound, err)
		}
		s.logger.Warn().Err(err).Str("tenant_id", tenantID).Str("article_id", in.ArticleID).Msg("resolve article failed")
		return Result{}, common.NewAppError(common.CodeUpstreamUnavailable, "article lookup failed", http.StatusServiceUnavailable, err)
	}
	var customer *Customer
	if in.CustomerID != "" {
		customer, err = s.resolver.ResolveCustomer(ctx, in.CustomerID)
		if err != nil {
			s.logger.Warn().Err(err).Str("tenant_id", tenantID).Str("customer_id", in.CustomerID).Msg("resolve customer failed")
			return Result{}, common.NewAppError(common.CodeUpstreamUnavailable, "customer lookup failed", http.StatusServiceUnavailable, err)
		}
	}

	rules, err := s.rules.ListRules(ctx, RuleQuery{ArticleID: in.ArticleID, Family: article.Family, Channel: Channel(in.Channel)})
	if err != nil {
		s.logger.Warn().Err(err).Str("tenant_id", tenantID).Msg("load price rules failed")
		return Result{}, common.NewAppError(common.CodeRulesUnavailable, "price rules unavailable", http.StatusServiceUnavailable, fmt.Errorf("%w: %v", ErrRulesUnavailable, err))
	}

	pctx := PricingContext{
		TenantID:      tenantID,
		ArticleID:     in.ArticleID,
		Quantity:      key.Quantity,
		Channel:       Channel(in.Channel),
		CustomerID:    in.CustomerID,
		CustomerGroup: in.CustomerGroup,
		Article:       article,
		Customer:      customer,
	}
	res, err = s.engine.Calculate(ctx, rules, pctx, Options{Mode: mode, IncludeMargins: true})
	if err != nil {
		if errors.Is(err, ErrInvalidContext) {
			return Result{}, common.NewAppError(common.CodeValidationFailed, err.Error(), http.StatusBadRequest, err)
		}
		s.logger.Warn().Err(err).Str("tenant_id", tenantID).Msg("usage store failed")
		return Result{}, common.NewAppError(common.CodeUsageStoreUnavailable, "usage limits could not be verified", http.StatusServiceUnavailable, err)
	}

	applied := make([]string, 0, len(res.Steps))
	for _, step := range res.Steps {
		applied = append(applied, string(step.AdjustmentType))
	}
	skipped := make([]string, 0, len(res.SkippedRules))
	for _, sk := range res.SkippedRules {
		skipped = append(skipped, string(sk.Reason))
	}
	obs.ObserveCalculation(string(mode), "ok", res.Metadata.CalculationTimeMs, applied, skipped)
	span.SetAttributes(
		attribute.Int("pricing.rules_evaluated", res.Metadata.RulesEvaluated),
		attribute.Int("pricing.rules_applied", res.Metadata.RulesApplied),
	)
	s.logger.Debug().
		Str("tenant_id", tenantID).
		Str("article_id", in.ArticleID).
		Str("channel", in.Channel).
		Str("mode", string(mode)).
		Int("rules_evaluated", res.Metadata.RulesEvaluated).
		Int("rules_applied", res.Metadata.RulesApplied).
		Str("final_price", res.FinalPrice.String()).
		Msg("pricing_calculated")

	if useCache {
		if err := s.cache.Set(ctx, key, res); err != nil {
			s.logger.Warn().Err(err).Str("tenant_id", tenantID).Msg("price cache store failed")
		}
	}
	return res, nil
}
