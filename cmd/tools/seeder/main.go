package main

import (
	"context"
	_ "embed"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-pricing/internal/catalog"
	"github.com/noah-isme/backend-pricing/internal/db"
	"github.com/noah-isme/backend-pricing/internal/formula"
	"github.com/noah-isme/backend-pricing/internal/obs"
	"github.com/noah-isme/backend-pricing/internal/pricing"
	"github.com/noah-isme/backend-pricing/internal/rules"
	"github.com/noah-isme/backend-pricing/internal/tenant"
)

//go:embed fixtures.json
var defaultFixtures []byte

type fixtures struct {
	Articles  []pricing.Article   `json:"articles"`
	Customers []pricing.Customer  `json:"customers"`
	Rules     []pricing.PriceRule `json:"rules"`
}

func main() {
	file := flag.String("file", "", "fixture file (defaults to the embedded demo data)")
	tenantID := flag.String("tenant", "", "tenant to seed")
	migrate := flag.Bool("migrate", true, "apply migrations first")
	flag.Parse()

	logger := obs.NewLogger("console", "info").With().Str("component", "seeder").Logger()
	if err := godotenv.Load(); err != nil {
		logger.Info().Msg("no .env file found, relying on environment variables")
	}
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		logger.Fatal().Msg("DATABASE_URL is not set")
	}

	data := defaultFixtures
	if *file != "" {
		raw, err := os.ReadFile(*file)
		if err != nil {
			logger.Fatal().Err(err).Msg("read fixtures")
		}
		data = raw
	}
	var fx fixtures
	if err := json.Unmarshal(data, &fx); err != nil {
		logger.Fatal().Err(err).Msg("decode fixtures")
	}

	if *migrate {
		if err := db.Up(dbURL); err != nil {
			logger.Fatal().Err(err).Msg("run migrations")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()

	ctx = tenant.WithTenant(ctx, *tenantID)
	if err := seed(ctx, pool, fx, logger); err != nil {
		logger.Fatal().Err(err).Msg("seed")
	}
	logger.Info().
		Str("tenant", *tenantID).
		Int("articles", len(fx.Articles)).
		Int("customers", len(fx.Customers)).
		Int("rules", len(fx.Rules)).
		Msg("seeding completed")
}

func seed(ctx context.Context, pool *pgxpool.Pool, fx fixtures, logger zerolog.Logger) error {
	store := catalog.NewStore(pool)
	for _, a := range fx.Articles {
		if err := store.SaveArticle(ctx, a); err != nil {
			return err
		}
	}
	for _, c := range fx.Customers {
		if err := store.SaveCustomer(ctx, c); err != nil {
			return err
		}
	}
	repo := rules.NewRepository(pool, formula.DefaultLimits(), logger)
	for _, r := range fx.Rules {
		r.Compile(formula.DefaultLimits())
		if r.FormulaErr != nil {
			return fmt.Errorf("rule %s: %w", r.ID, r.FormulaErr)
		}
		if err := repo.Save(ctx, r); err != nil {
			return err
		}
	}
	return nil
}
