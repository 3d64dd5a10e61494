package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-pricing/internal/pricing"
	"github.com/noah-isme/backend-pricing/internal/tenant"
)

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Resolver loads article and customer snapshots from Postgres with a Redis
// read-through cache in front.
type Resolver struct {
	db     rowQuerier
	cache  *Cache
	logger zerolog.Logger
}

// ResolverConfig groups Resolver dependencies.
type ResolverConfig struct {
	DB     rowQuerier
	Cache  *Cache
	Logger zerolog.Logger
}

// NewResolver constructs a Resolver.
func NewResolver(cfg ResolverConfig) (*Resolver, error) {
	if cfg.DB == nil {
		return nil, errors.New("catalog: database is required")
	}
	return &Resolver{db: cfg.DB, cache: cfg.Cache, logger: cfg.Logger}, nil
}

const articleSQL = `
SELECT id, reference, designation, family, base_price::text, cost_price::text,
       poids::text, longueur::text, largeur::text, hauteur::text, surface::text, volume::text,
       stock_unit, sale_unit, purchase_unit
FROM articles
WHERE tenant_id = $1 AND id = $2`

// ResolveArticle implements pricing.Resolver.
func (r *Resolver) ResolveArticle(ctx context.Context, articleID string) (pricing.Article, error) {
	key := KeyArticle(ctx, articleID)
	var cached pricing.Article
	if ok, err := r.cache.GetJSON(ctx, key, &cached); err != nil {
		r.logger.Warn().Err(err).Str("key", key).Msg("article cache read failed")
	} else if ok {
		return cached, nil
	}

	tenantID, _ := tenant.FromContext(ctx)
	var (
		a                                                   pricing.Article
		base                                                string
		cost, poids, longueur, largeur, hauteur, surf, volu *string
	)
	err := r.db.QueryRow(ctx, articleSQL, tenantID, articleID).Scan(
		&a.ID, &a.Reference, &a.Designation, &a.Family, &base, &cost,
		&poids, &longueur, &largeur, &hauteur, &surf, &volu,
		&a.Units.Stock, &a.Units.Sale, &a.Units.Purchase,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return pricing.Article{}, fmt.Errorf("%w: %s", pricing.ErrArticleNotFound, articleID)
		}
		return pricing.Article{}, fmt.Errorf("load article %s: %w", articleID, err)
	}
	if a.BasePrice, err = decimal.NewFromString(base); err != nil {
		return pricing.Article{}, fmt.Errorf("article %s base price: %w", articleID, err)
	}
	fields := []struct {
		raw *string
		dst **decimal.Decimal
	}{
		{cost, &a.CostPrice},
		{poids, &a.Dimensions.Poids},
		{longueur, &a.Dimensions.Longueur},
		{largeur, &a.Dimensions.Largeur},
		{hauteur, &a.Dimensions.Hauteur},
		{surf, &a.Dimensions.Surface},
		{volu, &a.Dimensions.Volume},
	}
	for _, f := range fields {
		if *f.dst, err = optionalDecimal(f.raw); err != nil {
			return pricing.Article{}, fmt.Errorf("article %s: %w", articleID, err)
		}
	}

	if err := r.cache.SetJSON(ctx, key, a); err != nil {
		r.logger.Warn().Err(err).Str("key", key).Msg("article cache write failed")
	}
	return a, nil
}

const customerSQL = `
SELECT id, customer_group, email
FROM customers
WHERE tenant_id = $1 AND id = $2`

// ResolveCustomer implements pricing.Resolver. Unknown customers resolve to nil.
func (r *Resolver) ResolveCustomer(ctx context.Context, customerID string) (*pricing.Customer, error) {
	key := KeyCustomer(ctx, customerID)
	var cached pricing.Customer
	if ok, err := r.cache.GetJSON(ctx, key, &cached); err != nil {
		r.logger.Warn().Err(err).Str("key", key).Msg("customer cache read failed")
	} else if ok {
		return &cached, nil
	}

	tenantID, _ := tenant.FromContext(ctx)
	var c pricing.Customer
	err := r.db.QueryRow(ctx, customerSQL, tenantID, customerID).Scan(&c.ID, &c.Group, &c.Email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load customer %s: %w", customerID, err)
	}
	if err := r.cache.SetJSON(ctx, key, c); err != nil {
		r.logger.Warn().Err(err).Str("key", key).Msg("customer cache write failed")
	}
	return &c, nil
}

// KeyArticle returns the per-tenant cache key of an article snapshot.
func KeyArticle(ctx context.Context, id string) string {
	return tenant.Key(ctx, "catalog", "article", id)
}

// KeyCustomer returns the per-tenant cache key of a customer snapshot.
func KeyCustomer(ctx context.Context, id string) string {
	return tenant.Key(ctx, "catalog", "customer", id)
}

func optionalDecimal(raw *string) (*decimal.Decimal, error) {
	if raw == nil {
		return nil, nil
	}
	d, err := decimal.NewFromString(*raw)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
