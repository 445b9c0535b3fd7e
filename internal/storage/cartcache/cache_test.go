package cartcache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-marketplace/internal/domain/cart"
	"github.com/xenking/kart-marketplace/internal/domain/uow"
)

// --- Mock implementations ---

type countingRepo struct {
	mu    sync.Mutex
	carts map[string]*cart.Cart
	gets  atomic.Int32
	err   error
	delay time.Duration
}

func newCountingRepo() *countingRepo {
	return &countingRepo{carts: map[string]*cart.Cart{}}
}

func (r *countingRepo) Get(_ context.Context, userID string) (*cart.Cart, error) {
	r.gets.Add(1)
	time.Sleep(r.delay)
	if r.err != nil {
		return nil, r.err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.carts[userID]; ok {
		return c.Clone(), nil
	}
	return &cart.Cart{UserID: userID}, nil
}

func (r *countingRepo) GetForUpdate(ctx context.Context, userID string) (*cart.Cart, error) {
	return r.Get(ctx, userID)
}

func (r *countingRepo) Save(_ context.Context, c *cart.Cart) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.carts[c.UserID] = c.Clone()
	return nil
}

func (r *countingRepo) Clear(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.carts[userID]; ok {
		c.Lines = nil
	}
	return nil
}

// stagedRepo holds Clear calls back until commit, like a read-committed
// database does for other sessions.
type stagedRepo struct {
	*countingRepo
	pending []string
}

func (r *stagedRepo) Clear(_ context.Context, userID string) error {
	r.pending = append(r.pending, userID)
	return nil
}

func (r *stagedRepo) commit(ctx context.Context) {
	for _, userID := range r.pending {
		_ = r.countingRepo.Clear(ctx, userID)
	}
	r.pending = nil
}

// --- Helpers ---

func setupCache(t *testing.T, repo cart.Repository) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client, repo, time.Minute), mr
}

func sampleCart() *cart.Cart {
	at := time.Date(2024, 4, 1, 8, 30, 0, 123, time.UTC)
	return &cart.Cart{
		ID:        "c1",
		UserID:    "u1",
		CreatedAt: at,
		UpdatedAt: &at,
		Lines: []cart.Line{
			{ProductID: "p1", Quantity: 2, UnitPrice: decimal.RequireFromString("19.99"), AddedAt: at},
			{ProductID: "p2", Quantity: 1, UnitPrice: decimal.RequireFromString("5.50"), AddedAt: at},
		},
	}
}

// --- Tests ---

func TestCodec(t *testing.T) {
	in := sampleCart()
	out, err := decodeCart(encodeCart(in))
	require.NoError(t, err)

	assert.Equal(t, in.ID, out.ID)
	assert.Equal(t, in.UserID, out.UserID)
	assert.True(t, in.CreatedAt.Equal(out.CreatedAt))
	require.NotNil(t, out.UpdatedAt)
	require.Len(t, out.Lines, 2)
	assert.Equal(t, "p1", out.Lines[0].ProductID)
	assert.Equal(t, 2, out.Lines[0].Quantity)
	assert.True(t, in.Lines[1].UnitPrice.Equal(out.Lines[1].UnitPrice))

	empty, err := decodeCart(encodeCart(&cart.Cart{UserID: "u2"}))
	require.NoError(t, err)
	assert.True(t, empty.IsEmpty())
	assert.Nil(t, empty.UpdatedAt)

	_, err = decodeCart([]byte(`{"lines":[{"quantity":"x"}]}`))
	require.Error(t, err)
}

func TestCache_ReadThrough(t *testing.T) {
	repo := newCountingRepo()
	require.NoError(t, repo.Save(context.Background(), sampleCart()))
	c, mr := setupCache(t, repo)
	ctx := context.Background()

	got, err := c.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, got.Lines, 2)
	assert.True(t, mr.Exists(key("u1")))

	got, err = c.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, got.Lines, 2)
	assert.Equal(t, int32(1), repo.gets.Load(), "second read is served from redis")

	ttl := mr.TTL(key("u1"))
	assert.GreaterOrEqual(t, ttl, time.Minute)
	assert.LessOrEqual(t, ttl, time.Minute+6*time.Second)
}

func TestCache_WritesInvalidate(t *testing.T) {
	repo := newCountingRepo()
	c, mr := setupCache(t, repo)
	ctx := context.Background()
	w := c.Repository()

	in := sampleCart()
	require.NoError(t, w.Save(ctx, in))
	_, err := c.Get(ctx, "u1")
	require.NoError(t, err)
	require.True(t, mr.Exists(key("u1")))

	in.Lines = in.Lines[:1]
	require.NoError(t, w.Save(ctx, in))
	assert.False(t, mr.Exists(key("u1")))

	got, err := c.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, got.Lines, 1)

	require.NoError(t, w.Clear(ctx, "u1"))
	assert.False(t, mr.Exists(key("u1")))

	// Reads through the write view bypass redis.
	before := repo.gets.Load()
	_, err = w.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, before+1, repo.gets.Load())
}

func TestCache_InvalidatesAfterCommit(t *testing.T) {
	ctx := context.Background()
	repo := &stagedRepo{countingRepo: newCountingRepo()}
	require.NoError(t, repo.Save(ctx, sampleCart()))
	c, mr := setupCache(t, repo)
	w := c.Repository()

	txCtx, hooks := uow.WithHooks(ctx)
	require.NoError(t, w.Clear(txCtx, "u1"))

	// A display read between the write and the commit sees and caches the
	// old committed cart.
	got, err := c.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, got.Lines, 2)
	require.True(t, mr.Exists(key("u1")))

	repo.commit(ctx)
	hooks.Run(txCtx)
	assert.False(t, mr.Exists(key("u1")))

	got, err = c.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, got.Lines, "checked-out lines are not served after commit")
}

func TestCache_RolledBackWriteKeepsEntry(t *testing.T) {
	ctx := context.Background()
	repo := newCountingRepo()
	require.NoError(t, repo.Save(ctx, sampleCart()))
	c, mr := setupCache(t, repo)

	_, err := c.Get(ctx, "u1")
	require.NoError(t, err)

	txCtx, _ := uow.WithHooks(ctx)
	require.NoError(t, c.Repository().Save(txCtx, sampleCart()))
	assert.True(t, mr.Exists(key("u1")), "no invalidation without commit")
}

func TestCache_ConcurrentMissesShareOneLoad(t *testing.T) {
	repo := newCountingRepo()
	repo.delay = 50 * time.Millisecond
	c, _ := setupCache(t, repo)

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Get(context.Background(), "u1")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Less(t, repo.gets.Load(), int32(10))
}

func TestCache_Degrades(t *testing.T) {
	t.Run("corrupt entry", func(t *testing.T) {
		repo := newCountingRepo()
		c, mr := setupCache(t, repo)
		require.NoError(t, mr.Set(key("u1"), "{not json"))

		got, err := c.Get(context.Background(), "u1")
		require.NoError(t, err)
		assert.Equal(t, "u1", got.UserID)
		assert.Equal(t, int32(1), repo.gets.Load())
	})

	t.Run("redis down", func(t *testing.T) {
		repo := newCountingRepo()
		c, mr := setupCache(t, repo)
		mr.Close()

		got, err := c.Get(context.Background(), "u1")
		require.NoError(t, err)
		assert.Equal(t, "u1", got.UserID)
	})

	t.Run("repository failure", func(t *testing.T) {
		repo := newCountingRepo()
		repo.err = errors.New("db gone")
		c, _ := setupCache(t, repo)

		_, err := c.Get(context.Background(), "u1")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "db gone")
	})
}
