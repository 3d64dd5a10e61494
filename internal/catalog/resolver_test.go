package catalog

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-pricing/internal/pricing"
	"github.com/noah-isme/backend-pricing/internal/tenant"
)

type fakeRow struct {
	values []any
	err    error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) != len(r.values) {
		return fmt.Errorf("scan: %d destinations for %d values", len(dest), len(r.values))
	}
	for i, d := range dest {
		switch p := d.(type) {
		case *string:
			*p = r.values[i].(string)
		case **string:
			if r.values[i] == nil {
				*p = nil
				continue
			}
			s := r.values[i].(string)
			*p = &s
		default:
			return fmt.Errorf("scan: unsupported destination %T", d)
		}
	}
	return nil
}

type fakeDB struct {
	rows    map[string]fakeRow
	queries int
	tenants []string
}

func (db *fakeDB) QueryRow(_ context.Context, _ string, args ...any) pgx.Row {
	db.queries++
	db.tenants = append(db.tenants, args[0].(string))
	row, ok := db.rows[args[1].(string)]
	if !ok {
		return fakeRow{err: pgx.ErrNoRows}
	}
	return row
}

func articleRow(id, base string, cost any) fakeRow {
	return fakeRow{values: []any{id, "REF-" + id, "Tube acier", "TUBES", base, cost,
		"2.5", nil, nil, nil, nil, nil, "U", "U", "KG"}}
}

func newTestResolver(t *testing.T, db *fakeDB) (*Resolver, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	r, err := NewResolver(ResolverConfig{DB: db, Cache: NewCache(client, time.Minute), Logger: zerolog.Nop()})
	require.NoError(t, err)
	return r, mr
}

func TestResolveArticle(t *testing.T) {
	db := &fakeDB{rows: map[string]fakeRow{"art-1": articleRow("art-1", "100.0000", "62.5000")}}
	r, mr := newTestResolver(t, db)
	ctx := tenant.WithTenant(context.Background(), "acme")

	a, err := r.ResolveArticle(ctx, "art-1")
	require.NoError(t, err)
	require.Equal(t, "TUBES", a.Family)
	require.Equal(t, "100", a.BasePrice.String())
	require.Equal(t, "62.5", a.CostPrice.String())
	require.Equal(t, "2.5", a.Dimensions.Poids.String())
	require.Nil(t, a.Dimensions.Longueur)
	require.Equal(t, pricing.Units{Stock: "U", Sale: "U", Purchase: "KG"}, a.Units)
	require.Equal(t, []string{"acme"}, db.tenants)
	require.True(t, mr.Exists("acme:catalog:article:art-1"))

	again, err := r.ResolveArticle(ctx, "art-1")
	require.NoError(t, err)
	require.Equal(t, 1, db.queries)
	require.True(t, again.BasePrice.Equal(a.BasePrice))
	require.True(t, again.Dimensions.Poids.Equal(*a.Dimensions.Poids))
}

func TestResolveArticleWithoutCost(t *testing.T) {
	db := &fakeDB{rows: map[string]fakeRow{"art-2": articleRow("art-2", "10", nil)}}
	r, _ := newTestResolver(t, db)
	a, err := r.ResolveArticle(context.Background(), "art-2")
	require.NoError(t, err)
	require.Nil(t, a.CostPrice)
}

func TestResolveArticleNotFound(t *testing.T) {
	r, _ := newTestResolver(t, &fakeDB{})
	_, err := r.ResolveArticle(context.Background(), "ghost")
	require.ErrorIs(t, err, pricing.ErrArticleNotFound)
}

func TestResolveArticleDatabaseError(t *testing.T) {
	db := &fakeDB{rows: map[string]fakeRow{"art-1": {err: errors.New("conn refused")}}}
	r, _ := newTestResolver(t, db)
	_, err := r.ResolveArticle(context.Background(), "art-1")
	require.ErrorContains(t, err, "conn refused")
	require.NotErrorIs(t, err, pricing.ErrArticleNotFound)
}

func TestResolveArticleSurvivesCacheOutage(t *testing.T) {
	db := &fakeDB{rows: map[string]fakeRow{"art-1": articleRow("art-1", "100", nil)}}
	r, mr := newTestResolver(t, db)
	mr.Close()
	a, err := r.ResolveArticle(context.Background(), "art-1")
	require.NoError(t, err)
	require.Equal(t, "art-1", a.ID)
}

func TestResolveCustomer(t *testing.T) {
	db := &fakeDB{rows: map[string]fakeRow{"cust-1": {values: []any{"cust-1", "WHOLESALE", "buyer@example.com"}}}}
	r, _ := newTestResolver(t, db)

	c, err := r.ResolveCustomer(context.Background(), "cust-1")
	require.NoError(t, err)
	require.Equal(t, &pricing.Customer{ID: "cust-1", Group: "WHOLESALE", Email: "buyer@example.com"}, c)

	_, err = r.ResolveCustomer(context.Background(), "cust-1")
	require.NoError(t, err)
	require.Equal(t, 1, db.queries)

	missing, err := r.ResolveCustomer(context.Background(), "nobody")
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestNewResolverRequiresDB(t *testing.T) {
	_, err := NewResolver(ResolverConfig{})
	require.Error(t, err)
}
