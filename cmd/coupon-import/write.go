package main

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/kart-marketplace/internal/domain/coupon"
)

// codeRule describes the discount of a well-known code.
type codeRule struct {
	typ         coupon.Type
	value       string
	minPurchase string
	maxDiscount string
}

var codeRules = map[string]codeRule{
	"FIFTYOFF": {typ: coupon.TypePercentage, value: "50", maxDiscount: "100.00"},
	"SIXTYOFF": {typ: coupon.TypePercentage, value: "60", maxDiscount: "100.00"},
	"GNULINUX": {typ: coupon.TypePercentage, value: "15"},
	"HAPPYHRS": {typ: coupon.TypePercentage, value: "18"},
	"OVER9000": {typ: coupon.TypeFlatAmount, value: "9.00", minPurchase: "30.00"},
	"BIRTHDAY": {typ: coupon.TypeFlatAmount, value: "10.00", minPurchase: "25.00"},
}

var defaultRule = codeRule{typ: coupon.TypePercentage, value: "10"}

type importOptions struct {
	now        time.Time
	validity   time.Duration
	usageLimit int
	workers    int
}

// couponWriter stores coupons; Put upserts by id.
type couponWriter interface {
	Put(ctx context.Context, c coupon.Coupon) error
}

// couponFor builds the coupon for code. The id derives from the code so
// that re-imports update rather than duplicate.
func couponFor(code string, opts importOptions) (coupon.Coupon, error) {
	rule, ok := codeRules[code]
	if !ok {
		rule = defaultRule
	}
	value, err := decimal.NewFromString(rule.value)
	if err != nil {
		return coupon.Coupon{}, errors.Wrapf(err, "parse value of %s", code)
	}
	c := coupon.Coupon{
		ID:         "import-" + code,
		Code:       code,
		Type:       rule.typ,
		Value:      value,
		ValidFrom:  opts.now,
		ValidTo:    opts.now.Add(opts.validity),
		UsageLimit: opts.usageLimit,
		IsActive:   true,
		CreatedAt:  opts.now,
	}
	if rule.minPurchase != "" {
		v, err := decimal.NewFromString(rule.minPurchase)
		if err != nil {
			return coupon.Coupon{}, errors.Wrapf(err, "parse min purchase of %s", code)
		}
		c.MinPurchaseAmount = &v
	}
	if rule.maxDiscount != "" {
		v, err := decimal.NewFromString(rule.maxDiscount)
		if err != nil {
			return coupon.Coupon{}, errors.Wrapf(err, "parse max discount of %s", code)
		}
		c.MaxDiscountAmount = &v
	}
	return c, nil
}

// writeCoupons upserts every code with at most opts.workers concurrent writes.
func writeCoupons(ctx context.Context, lg *zap.Logger, w couponWriter, codes []string, opts importOptions) error {
	lg.Info("Writing coupons", zap.Int("count", len(codes)), zap.Int("workers", opts.workers))

	var written atomic.Int64
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(opts.workers, 1))
	for _, code := range codes {
		g.Go(func() error {
			c, err := couponFor(code, opts)
			if err != nil {
				return err
			}
			if err := w.Put(ctx, c); err != nil {
				return errors.Wrapf(err, "put coupon %s", code)
			}
			if n := written.Add(1); n%100 == 0 || int(n) == len(codes) {
				lg.Info("Write progress", zap.Int64("written", n), zap.Int("total", len(codes)))
			}
			return nil
		})
	}
	return g.Wait()
}
