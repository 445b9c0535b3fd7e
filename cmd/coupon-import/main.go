// Command coupon-import finds promo codes that appear in at least two of the
// gzip-compressed code lists and stores them as marketplace coupons.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/kart-marketplace/internal/storage/postgres"
)

func main() {
	var (
		dataDir     string
		databaseURL string
		numFiles    int
		validDays   int
		usageLimit  int
		workers     int
	)

	flag.StringVar(&dataDir, "data-dir", "data", "directory containing couponbaseN.gz files")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.IntVar(&numFiles, "files", 3, "number of couponbaseN.gz files")
	flag.IntVar(&validDays, "valid-days", 90, "days the imported coupons stay valid")
	flag.IntVar(&usageLimit, "usage-limit", 0, "redemptions per coupon, 0 for unlimited")
	flag.IntVar(&workers, "workers", 8, "concurrent database writers")
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

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	files := make([]string, numFiles)
	for i := range numFiles {
		files[i] = filepath.Join(dataDir, fmt.Sprintf("couponbase%d.gz", i+1))
	}
	opts := importOptions{
		now:        time.Now().UTC(),
		validity:   time.Duration(validDays) * 24 * time.Hour,
		usageLimit: usageLimit,
		workers:    workers,
	}
	if err := run(ctx, lg, files, databaseURL, opts); err != nil {
		lg.Fatal("Coupon import failed", zap.Error(err))
	}

	lg.Info("Coupon import completed")
}

func run(ctx context.Context, lg *zap.Logger, files []string, databaseURL string, opts importOptions) error {
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			return errors.Wrapf(err, "check file %s", f)
		}
	}

	lg.Info("Pass 1: building bloom filters", zap.Int("files", len(files)))
	filters, err := buildBloomFilters(ctx, lg, files)
	if err != nil {
		return errors.Wrap(err, "build bloom filters")
	}

	lg.Info("Pass 2: finding codes present in two or more files")
	codes, err := findValidCodes(ctx, lg, files, filters)
	if err != nil {
		return errors.Wrap(err, "find valid codes")
	}
	lg.Info("Valid codes found", zap.Int("count", len(codes)))
	if len(codes) == 0 {
		return nil
	}

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := postgres.Migrate(pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	return writeCoupons(ctx, lg, postgres.New(pool).Coupons(), codes, opts)
}
