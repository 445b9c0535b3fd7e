// Package checkout turns a user's cart into a durable order. Every step runs
// inside one storage transaction: on any failure no stock, order, coupon
// usage or cart change survives.
package checkout

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/kart-marketplace/internal/domain/address"
	"github.com/xenking/kart-marketplace/internal/domain/apperr"
	"github.com/xenking/kart-marketplace/internal/domain/auth"
	"github.com/xenking/kart-marketplace/internal/domain/cart"
	"github.com/xenking/kart-marketplace/internal/domain/coupon"
	"github.com/xenking/kart-marketplace/internal/domain/order"
	"github.com/xenking/kart-marketplace/internal/domain/outbox"
	"github.com/xenking/kart-marketplace/internal/domain/pricing"
	"github.com/xenking/kart-marketplace/internal/domain/product"
	"github.com/xenking/kart-marketplace/internal/domain/stock"
	"github.com/xenking/kart-marketplace/internal/domain/uow"
)

// PlaceOrderRequest holds the input of a checkout. CouponCode is optional.
type PlaceOrderRequest struct {
	AddressID  string
	CouponCode string
}

// Deps are the collaborators of the Engine.
type Deps struct {
	Carts     cart.Repository
	Addresses address.Repository
	Coupons   coupon.Repository
	Catalog   product.Catalog
	Stock     stock.Ledger
	Orders    order.Repository
	Outbox    outbox.Repository
	Tx        uow.UnitOfWork
}

// Engine orchestrates order placement.
type Engine struct {
	deps    Deps
	calc    *pricing.Calculator
	opts    options
	metrics engineMetrics
}

// NewEngine creates a checkout Engine using calc for pricing.
func NewEngine(deps Deps, calc *pricing.Calculator, opts ...Option) (*Engine, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	m, err := newEngineMetrics(o.meterProvider.Meter(instrumentationName))
	if err != nil {
		return nil, errors.Wrap(err, "create metrics")
	}
	return &Engine{
		deps:    deps,
		calc:    calc,
		opts:    o,
		metrics: m,
	}, nil
}

// PlaceOrder converts actor's cart into an order. The whole operation is
// bounded by the configured timeout; exceeding it rolls everything back.
func (e *Engine) PlaceOrder(ctx context.Context, actor auth.Principal, req PlaceOrderRequest) (*order.Order, error) {
	ctx, span := e.opts.tracer.Start(ctx, "checkout.PlaceOrder",
		trace.WithAttributes(attribute.String("user.id", actor.ID)),
	)
	defer span.End()

	start := time.Now()
	o, err := e.placeOrder(ctx, actor, req)
	e.metrics.duration.Record(ctx, time.Since(start).Seconds())

	lg := zctx.From(ctx).With(zap.String("user_id", actor.ID))
	if err != nil {
		kind := apperr.KindOf(err)
		e.metrics.failures.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(kind))))
		span.RecordError(err)
		span.SetStatus(codes.Error, string(kind))
		lg.Warn("Checkout failed", zap.String("kind", string(kind)), zap.Error(err))
		return nil, err
	}

	e.metrics.orders.Add(ctx, 1)
	span.SetAttributes(attribute.String("order.id", o.ID), attribute.String("order.number", o.Number))
	lg.Info("Order placed",
		zap.String("order_id", o.ID),
		zap.String("number", o.Number),
		zap.Stringer("total", o.Total),
		zap.Int("lines", len(o.Lines)),
	)
	return o, nil
}

func (e *Engine) placeOrder(ctx context.Context, actor auth.Principal, req PlaceOrderRequest) (*order.Order, error) {
	if actor.ID == "" {
		return nil, apperr.Authorization("checkout requires an authenticated user")
	}
	if req.AddressID == "" {
		return nil, apperr.Validation("address id is required")
	}

	if e.opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.timeout)
		defer cancel()
	}

	o, err := e.attempt(ctx, actor, req)
	if errors.Is(err, order.ErrNumberTaken) {
		// Single retry with a fresh number; the previous attempt rolled back.
		zctx.From(ctx).Debug("Order number collision, retrying")
		o, err = e.attempt(ctx, actor, req)
	}
	switch {
	case err == nil:
		return o, nil
	case errors.Is(err, order.ErrNumberTaken):
		return nil, apperr.Conflict(err, "order number collision")
	case errors.Is(err, context.DeadlineExceeded):
		return nil, apperr.Internal(err, "checkout timed out")
	default:
		return nil, apperr.Classify(err, "place order")
	}
}

func (e *Engine) attempt(ctx context.Context, actor auth.Principal, req PlaceOrderRequest) (*order.Order, error) {
	var placed *order.Order
	err := e.deps.Tx.RunInTx(ctx, func(ctx context.Context) error {
		now := e.opts.clock().UTC()

		c, err := e.deps.Carts.GetForUpdate(ctx, actor.ID)
		if err != nil {
			return errors.Wrap(err, "lock cart")
		}
		if c.IsEmpty() {
			return apperr.ErrEmptyCart
		}

		addr, err := e.deps.Addresses.Get(ctx, req.AddressID, actor.ID)
		if err != nil {
			return errors.Wrap(err, "get address")
		}

		lines := c.PricingLines()
		cp, discount, err := e.applyCoupon(ctx, req.CouponCode, pricing.Subtotal(lines), now)
		if err != nil {
			return err
		}
		breakdown := e.calc.Calculate(lines, discount)

		products, err := e.deps.Catalog.GetByIDs(ctx, c.ProductIDs())
		if err != nil {
			return errors.Wrap(err, "get products")
		}
		catalog := product.Index(products)
		for _, l := range c.Lines {
			if _, ok := catalog[l.ProductID]; !ok {
				return apperr.NotFound("product %s not found", l.ProductID)
			}
		}

		if err := e.checkAvailability(ctx, c.Lines); err != nil {
			return err
		}
		low, err := e.decrement(ctx, c.Lines)
		if err != nil {
			return err
		}

		o, err := e.buildOrder(actor, addr, cp, c, catalog, breakdown, now)
		if err != nil {
			return err
		}
		if err := e.deps.Orders.Create(ctx, o); err != nil {
			return errors.Wrap(err, "create order")
		}

		if cp != nil {
			if err := e.deps.Coupons.IncrementUsage(ctx, cp.ID); err != nil {
				if errors.Is(err, coupon.ErrUsageLimitReached) {
					return apperr.Conflict(err, "coupon %s usage limit reached", cp.Code)
				}
				return errors.Wrap(err, "increment coupon usage")
			}
		}

		if err := e.deps.Carts.Clear(ctx, actor.ID); err != nil {
			return errors.Wrap(err, "clear cart")
		}

		if err := e.enqueueEvents(ctx, o, low); err != nil {
			return err
		}

		placed = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return placed, nil
}

// applyCoupon resolves and validates the coupon code. An empty code yields a
// zero discount. A coupon that fails validation aborts the checkout.
func (e *Engine) applyCoupon(ctx context.Context, code string, subtotal decimal.Decimal, now time.Time) (*coupon.Coupon, decimal.Decimal, error) {
	if code == "" {
		return nil, decimal.Zero, nil
	}
	cp, err := e.deps.Coupons.FindByCode(ctx, code)
	if err != nil {
		return nil, decimal.Zero, errors.Wrap(err, "find coupon")
	}
	res := coupon.Validate(cp, subtotal, now)
	if !res.Valid {
		return nil, decimal.Zero, &coupon.CouponInvalidError{Code: code, Reason: res.Reason}
	}
	return cp, res.Discount, nil
}

// checkAvailability reports every line whose quantity exceeds the available
// stock before anything is mutated.
func (e *Engine) checkAvailability(ctx context.Context, lines []cart.Line) error {
	var short []string
	for _, l := range lines {
		ok, err := e.deps.Stock.CheckAvailability(ctx, l.ProductID, l.Quantity)
		if err != nil {
			return errors.Wrapf(err, "check stock of %s", l.ProductID)
		}
		if !ok {
			short = append(short, l.ProductID)
		}
	}
	if len(short) > 0 {
		return &stock.InsufficientStockError{ProductIDs: short}
	}
	return nil
}

// decrement takes stock for every line in product id order so that concurrent
// checkouts lock rows in the same sequence. It returns the records left at or
// below their low-stock threshold.
func (e *Engine) decrement(ctx context.Context, lines []cart.Line) ([]stock.Record, error) {
	sorted := slices.SortedFunc(slices.Values(lines), func(a, b cart.Line) int {
		return cmp.Compare(a.ProductID, b.ProductID)
	})

	var low []stock.Record
	for _, l := range sorted {
		rec, err := e.deps.Stock.ReserveAndDecrement(ctx, l.ProductID, l.Quantity)
		if errors.Is(err, stock.ErrInsufficientStock) {
			return nil, &stock.InsufficientStockError{ProductIDs: []string{l.ProductID}}
		}
		if err != nil {
			return nil, errors.Wrapf(err, "decrement stock of %s", l.ProductID)
		}
		if rec.IsLowStock() {
			low = append(low, rec)
		}
	}
	return low, nil
}

func (e *Engine) buildOrder(
	actor auth.Principal,
	addr *address.Address,
	cp *coupon.Coupon,
	c *cart.Cart,
	catalog map[string]product.Product,
	b pricing.Breakdown,
	now time.Time,
) (*order.Order, error) {
	number, err := e.opts.numbers(now)
	if err != nil {
		return nil, errors.Wrap(err, "generate order number")
	}

	o := &order.Order{
		ID:              e.opts.newID(),
		Number:          number,
		UserID:          actor.ID,
		AddressID:       addr.ID,
		ShippingAddress: addr.Snapshot(),
		Subtotal:        b.Subtotal,
		Discount:        b.Discount,
		Tax:             b.Tax,
		Total:           b.Total,
		PaymentStatus:   order.PaymentPending,
		Status:          order.StatusPending,
		Lines:           make([]order.Line, 0, len(c.Lines)),
		CreatedAt:       now,
	}
	if cp != nil {
		o.CouponID = cp.ID
		o.CouponCode = cp.Code
	}

	// The coupon discount is order-level; lines carry no discount of their own.
	for _, l := range c.Lines {
		p := catalog[l.ProductID]
		pl := pricing.Line{ProductID: l.ProductID, Quantity: l.Quantity, UnitPrice: l.UnitPrice}
		o.Lines = append(o.Lines, order.Line{
			ID:          e.opts.newID(),
			ProductID:   l.ProductID,
			ProductName: p.Name,
			SellerID:    p.SellerID,
			Quantity:    l.Quantity,
			UnitPrice:   l.UnitPrice,
			Discount:    decimal.Zero,
			Total:       pricing.LineTotal(pl, decimal.Zero),
		})
	}
	return o, nil
}

func (e *Engine) enqueueEvents(ctx context.Context, o *order.Order, low []stock.Record) error {
	placed := outbox.OrderPlaced{
		OrderID:    o.ID,
		Number:     o.Number,
		UserID:     o.UserID,
		Total:      o.Total.StringFixed(pricing.Places),
		LineCount:  len(o.Lines),
		CouponCode: o.CouponCode,
		PlacedAt:   o.CreatedAt,
	}
	if _, err := e.deps.Outbox.Enqueue(ctx, placed.Message()); err != nil {
		return errors.Wrap(err, "enqueue order placed")
	}
	for _, rec := range low {
		ev := outbox.LowStock{
			ProductID:     rec.ProductID,
			StockQuantity: rec.StockQuantity,
			Threshold:     rec.LowStockThreshold,
			OrderID:       o.ID,
		}
		if _, err := e.deps.Outbox.Enqueue(ctx, ev.Message()); err != nil {
			return errors.Wrap(err, "enqueue low stock")
		}
	}
	return nil
}

func newID() string {
	return uuid.NewString()
}
