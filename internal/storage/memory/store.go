// Package memory implements every repository and the unit of work in process.
// It backs the unit tests and single-node demo deployments.
//
// All tables sit behind one RWMutex. A transaction holds the lock for its
// whole duration and restores a snapshot of the tables on failure, so
// transactions are serializable.
package memory

import (
	"context"
	"maps"
	"sync"

	"github.com/go-faster/errors"

	"github.com/xenking/kart-marketplace/internal/domain/address"
	"github.com/xenking/kart-marketplace/internal/domain/auth"
	"github.com/xenking/kart-marketplace/internal/domain/cart"
	"github.com/xenking/kart-marketplace/internal/domain/coupon"
	"github.com/xenking/kart-marketplace/internal/domain/order"
	"github.com/xenking/kart-marketplace/internal/domain/product"
	"github.com/xenking/kart-marketplace/internal/domain/stock"
	"github.com/xenking/kart-marketplace/internal/domain/uow"
)

var errReadOnly = errors.New("write in read-only transaction")

// tables holds the data. Stored values are never mutated in place; writers
// replace whole entries, so a shallow copy of each map is a full snapshot.
type tables struct {
	products    map[string]product.Product
	stock       map[string]stock.Record
	coupons     map[string]coupon.Coupon
	couponCodes map[string]string
	carts       map[string]cart.Cart
	addresses   map[string]address.Address
	orders      map[string]order.Order
	numbers     map[string]string
	outbox      map[string]outboxRecord
	outboxSeq   int64
	apiKeys     map[string]auth.APIKeyInfo
}

func newTables() *tables {
	return &tables{
		products:    map[string]product.Product{},
		stock:       map[string]stock.Record{},
		coupons:     map[string]coupon.Coupon{},
		couponCodes: map[string]string{},
		carts:       map[string]cart.Cart{},
		addresses:   map[string]address.Address{},
		orders:      map[string]order.Order{},
		numbers:     map[string]string{},
		outbox:      map[string]outboxRecord{},
		apiKeys:     map[string]auth.APIKeyInfo{},
	}
}

func (t *tables) snapshot() *tables {
	return &tables{
		products:    maps.Clone(t.products),
		stock:       maps.Clone(t.stock),
		coupons:     maps.Clone(t.coupons),
		couponCodes: maps.Clone(t.couponCodes),
		carts:       maps.Clone(t.carts),
		addresses:   maps.Clone(t.addresses),
		orders:      maps.Clone(t.orders),
		numbers:     maps.Clone(t.numbers),
		outbox:      maps.Clone(t.outbox),
		outboxSeq:   t.outboxSeq,
		apiKeys:     maps.Clone(t.apiKeys),
	}
}

// Store is the in-memory database.
type Store struct {
	mu sync.RWMutex
	t  *tables
}

var _ uow.UnitOfWork = (*Store)(nil)

// New creates an empty Store.
func New() *Store {
	return &Store{t: newTables()}
}

type txKey struct{}

type txState struct {
	writable bool
}

func txFrom(ctx context.Context) (txState, bool) {
	st, ok := ctx.Value(txKey{}).(txState)
	return st, ok
}

// RunInTx runs fn holding the write lock. If fn fails, or ctx is done by the
// time fn returns, every change made by fn is discarded. Nested calls join the
// outer transaction. AfterCommit callbacks run after the lock is released.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if st, ok := txFrom(ctx); ok {
		if !st.writable {
			return errReadOnly
		}
		return fn(ctx)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	ctx, hooks := uow.WithHooks(ctx)
	if err := s.commit(ctx, fn); err != nil {
		return err
	}
	hooks.Run(ctx)
	return nil
}

func (s *Store) commit(ctx context.Context, fn func(ctx context.Context) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	saved := s.t.snapshot()
	err := fn(context.WithValue(ctx, txKey{}, txState{writable: true}))
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		s.t = saved
		return err
	}
	return nil
}

// RunReadOnly runs fn holding the read lock.
func (s *Store) RunReadOnly(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := txFrom(ctx); ok {
		return fn(ctx)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return fn(context.WithValue(ctx, txKey{}, txState{}))
}

// read runs fn against the tables, taking the read lock unless ctx already
// carries a transaction.
func (s *Store) read(ctx context.Context, fn func(t *tables) error) error {
	if _, ok := txFrom(ctx); ok {
		return fn(s.t)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(s.t)
}

// write runs fn against the tables, taking the write lock unless ctx already
// carries a writable transaction.
func (s *Store) write(ctx context.Context, fn func(t *tables) error) error {
	if st, ok := txFrom(ctx); ok {
		if !st.writable {
			return errReadOnly
		}
		return fn(s.t)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.t)
}
