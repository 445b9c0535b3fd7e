// Command seed-db loads demo products, stock, coupons, addresses and API keys
// into PostgreSQL.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/kart-marketplace/internal/domain/stock"
	"github.com/xenking/kart-marketplace/internal/storage/postgres"
)

func main() {
	var (
		databaseURL  string
		seedPath     string
		apiKeyPepper string
		threshold    int
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&seedPath, "seed-file", "db/seed/marketplace.json", "path to the seed JSON file")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or MARKET_API_KEY_PEPPER env)")
	flag.IntVar(&threshold, "low-stock-threshold", stock.DefaultLowStockThreshold, "low-stock threshold for products that do not set one")
	flag.Parse()

	lg, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		lg.Fatal("Database URL is required: set --database-url or DATABASE_URL")
	}
	if apiKeyPepper == "" {
		apiKeyPepper = os.Getenv("MARKET_API_KEY_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, databaseURL, seedPath, []byte(apiKeyPepper), threshold); err != nil {
		lg.Fatal("Seed failed", zap.Error(err))
	}

	lg.Info("Seed completed")
}

func run(ctx context.Context, lg *zap.Logger, databaseURL, seedPath string, pepper []byte, threshold int) error {
	data, err := os.ReadFile(seedPath)
	if err != nil {
		return errors.Wrap(err, "read seed file")
	}
	seed, err := decodeSeed(data, time.Now().UTC(), threshold)
	if err != nil {
		return err
	}

	lg.Info("Connecting to database")
	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := postgres.Migrate(pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	s := postgres.New(pool)
	return s.RunInTx(ctx, func(ctx context.Context) error {
		for _, p := range seed.Products {
			if err := s.Catalog().Upsert(ctx, p.Product); err != nil {
				return errors.Wrapf(err, "upsert product %s", p.Product.ID)
			}
			if err := s.Stock().Put(ctx, p.Stock); err != nil {
				return errors.Wrapf(err, "put stock of %s", p.Product.ID)
			}
		}
		lg.Info("Products seeded", zap.Int("count", len(seed.Products)))

		for _, c := range seed.Coupons {
			if err := s.Coupons().Put(ctx, c); err != nil {
				return errors.Wrapf(err, "put coupon %s", c.Code)
			}
		}
		lg.Info("Coupons seeded", zap.Int("count", len(seed.Coupons)))

		for _, a := range seed.Addresses {
			if err := s.Addresses().Put(ctx, a); err != nil {
				return errors.Wrapf(err, "put address %s", a.ID)
			}
		}
		lg.Info("Addresses seeded", zap.Int("count", len(seed.Addresses)))

		keys, skipped := resolveKeys(seed.APIKeys, pepper)
		if len(keys) > 0 && len(pepper) == 0 {
			return errors.New("api key pepper is required to seed keys: set --api-key-pepper or MARKET_API_KEY_PEPPER")
		}
		for _, k := range keys {
			if err := s.APIKeys().Put(ctx, k); err != nil {
				return errors.Wrapf(err, "put api key %s", k.ID)
			}
		}
		lg.Info("API keys seeded", zap.Int("count", len(keys)), zap.Strings("skipped", skipped))
		return nil
	})
}
