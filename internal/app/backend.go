package app

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/kart-marketplace/internal/domain/address"
	"github.com/xenking/kart-marketplace/internal/domain/auth"
	"github.com/xenking/kart-marketplace/internal/domain/cart"
	"github.com/xenking/kart-marketplace/internal/domain/coupon"
	"github.com/xenking/kart-marketplace/internal/domain/order"
	"github.com/xenking/kart-marketplace/internal/domain/outbox"
	"github.com/xenking/kart-marketplace/internal/domain/product"
	"github.com/xenking/kart-marketplace/internal/domain/stock"
	"github.com/xenking/kart-marketplace/internal/domain/uow"
	"github.com/xenking/kart-marketplace/internal/storage/memory"
	"github.com/xenking/kart-marketplace/internal/storage/postgres"
)

// apiKeyStore reads and registers API keys.
type apiKeyStore interface {
	auth.Repository
	Put(ctx context.Context, key auth.APIKeyInfo) error
}

// backend is the set of repositories behind one storage engine.
type backend struct {
	tx        uow.UnitOfWork
	carts     cart.Repository
	catalog   product.Catalog
	stock     stock.Ledger
	coupons   coupon.Repository
	addresses address.Repository
	orders    order.Repository
	outbox    outbox.Repository
	apikeys   apiKeyStore

	// ping is nil for backends without a remote dependency.
	ping  func(ctx context.Context) error
	close func()
}

func openBackend(ctx context.Context, lg *zap.Logger, cfg *Config) (*backend, error) {
	switch cfg.Storage {
	case StorageMemory:
		lg.Warn("Using in-memory storage, data is lost on restart")
		return memoryBackend(memory.New()), nil
	case StoragePostgres:
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, errors.Wrap(err, "create db pool")
		}
		start := time.Now()
		if err := postgres.Migrate(pool); err != nil {
			pool.Close()
			return nil, errors.Wrap(err, "run migrations")
		}
		lg.Info("Migrations applied", zap.Duration("took", time.Since(start)))

		s := postgres.New(pool)
		return &backend{
			tx:        s,
			carts:     s.Carts(),
			catalog:   s.Catalog(),
			stock:     s.Stock(),
			coupons:   s.Coupons(),
			addresses: s.Addresses(),
			orders:    s.Orders(),
			outbox:    s.Outbox(),
			apikeys:   s.APIKeys(),
			ping:      pool.Ping,
			close:     pool.Close,
		}, nil
	default:
		return nil, errors.Errorf("unknown storage %q", cfg.Storage)
	}
}

func memoryBackend(s *memory.Store) *backend {
	return &backend{
		tx:        s,
		carts:     s.Carts(),
		catalog:   s.Catalog(),
		stock:     s.Stock(),
		coupons:   s.Coupons(),
		addresses: s.Addresses(),
		orders:    s.Orders(),
		outbox:    s.Outbox(),
		apikeys:   s.APIKeys(),
		close:     func() {},
	}
}

// outboxLag returns the age of the oldest pending outbox message.
func (b *backend) outboxLag(now func() time.Time) func(ctx context.Context) (time.Duration, error) {
	return func(ctx context.Context) (time.Duration, error) {
		st, err := b.outbox.Stats(ctx)
		if err != nil {
			return 0, err
		}
		if st.PendingCount == 0 || st.OldestPendingAt.IsZero() {
			return 0, nil
		}
		return now().Sub(st.OldestPendingAt), nil
	}
}

// bootstrapAdmin registers key as the admin API key.
func (b *backend) bootstrapAdmin(ctx context.Context, pepper []byte, key string) error {
	return b.apikeys.Put(ctx, auth.APIKeyInfo{
		ID:      "bootstrap-admin",
		Name:    "bootstrap admin",
		UserID:  "admin",
		Role:    auth.RoleAdmin,
		KeyHash: auth.HashAPIKey(pepper, key),
	})
}
