package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-pricing/internal/pricing"
	"github.com/noah-isme/backend-pricing/internal/tenant"
)

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store writes article and customer snapshots. The pricing API only reads
// them; Store backs fixtures and the seeder.
type Store struct {
	db execer
}

// NewStore constructs a Store.
func NewStore(db execer) *Store {
	return &Store{db: db}
}

const upsertArticleSQL = `
INSERT INTO articles (
    tenant_id, id, reference, designation, family, base_price, cost_price,
    poids, longueur, largeur, hauteur, surface, volume,
    stock_unit, sale_unit, purchase_unit
) VALUES ($1, $2, $3, $4, $5, $6::numeric, $7::numeric, $8::numeric, $9::numeric, $10::numeric,
          $11::numeric, $12::numeric, $13::numeric, $14, $15, $16)
ON CONFLICT (tenant_id, id) DO UPDATE SET
    reference = EXCLUDED.reference,
    designation = EXCLUDED.designation,
    family = EXCLUDED.family,
    base_price = EXCLUDED.base_price,
    cost_price = EXCLUDED.cost_price,
    poids = EXCLUDED.poids,
    longueur = EXCLUDED.longueur,
    largeur = EXCLUDED.largeur,
    hauteur = EXCLUDED.hauteur,
    surface = EXCLUDED.surface,
    volume = EXCLUDED.volume,
    stock_unit = EXCLUDED.stock_unit,
    sale_unit = EXCLUDED.sale_unit,
    purchase_unit = EXCLUDED.purchase_unit,
    updated_at = now()`

// SaveArticle upserts an article for the tenant in ctx.
func (s *Store) SaveArticle(ctx context.Context, a pricing.Article) error {
	if a.ID == "" {
		return errors.New("catalog: article id is required")
	}
	if a.BasePrice.IsNegative() {
		return fmt.Errorf("catalog: article %s has a negative base price", a.ID)
	}
	tenantID, _ := tenant.FromContext(ctx)
	d := a.Dimensions
	_, err := s.db.Exec(ctx, upsertArticleSQL,
		tenantID, a.ID, a.Reference, a.Designation, a.Family, a.BasePrice.String(), decimalArg(a.CostPrice),
		decimalArg(d.Poids), decimalArg(d.Longueur), decimalArg(d.Largeur), decimalArg(d.Hauteur),
		decimalArg(d.Surface), decimalArg(d.Volume),
		a.Units.Stock, a.Units.Sale, a.Units.Purchase,
	)
	if err != nil {
		return fmt.Errorf("save article %s: %w", a.ID, err)
	}
	return nil
}

const upsertCustomerSQL = `
INSERT INTO customers (tenant_id, id, customer_group, email)
VALUES ($1, $2, $3, $4)
ON CONFLICT (tenant_id, id) DO UPDATE SET
    customer_group = EXCLUDED.customer_group,
    email = EXCLUDED.email`

// SaveCustomer upserts a customer for the tenant in ctx.
func (s *Store) SaveCustomer(ctx context.Context, c pricing.Customer) error {
	if c.ID == "" {
		return errors.New("catalog: customer id is required")
	}
	tenantID, _ := tenant.FromContext(ctx)
	if _, err := s.db.Exec(ctx, upsertCustomerSQL, tenantID, c.ID, c.Group, c.Email); err != nil {
		return fmt.Errorf("save customer %s: %w", c.ID, err)
	}
	return nil
}

func decimalArg(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}
