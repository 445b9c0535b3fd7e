package order

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-marketplace/internal/domain/apperr"
	"github.com/xenking/kart-marketplace/internal/domain/auth"
	"github.com/xenking/kart-marketplace/internal/domain/outbox"
)

// --- Mock implementations ---

type mockOrderRepo struct {
	orders    map[string]*Order
	updates   int
	updateErr error
}

func (m *mockOrderRepo) Create(_ context.Context, o *Order) error {
	m.orders[o.ID] = o.Clone()
	return nil
}

func (m *mockOrderRepo) Get(_ context.Context, id string) (*Order, error) {
	o, ok := m.orders[id]
	if !ok {
		return nil, apperr.NotFound("order %s not found", id)
	}
	return o.Clone(), nil
}

func (m *mockOrderRepo) GetForUpdate(ctx context.Context, id string) (*Order, error) {
	return m.Get(ctx, id)
}

func (m *mockOrderRepo) UpdateFulfillment(_ context.Context, id string, f Fulfillment) error {
	if m.updateErr != nil {
		return m.updateErr
	}
	m.updates++
	m.orders[id].Apply(f)
	return nil
}

func (m *mockOrderRepo) ListBetween(context.Context, time.Time, time.Time) ([]Order, error) {
	return nil, nil
}

type mockOutbox struct {
	messages []outbox.Message
}

func (m *mockOutbox) Enqueue(_ context.Context, msg outbox.Message) (outbox.Message, error) {
	m.messages = append(m.messages, msg)
	return msg, nil
}

func (m *mockOutbox) ClaimPending(context.Context, int, time.Duration) ([]outbox.Message, error) {
	return nil, nil
}
func (m *mockOutbox) Stats(context.Context) (outbox.Stats, error) { return outbox.Stats{}, nil }
func (m *mockOutbox) MarkSent(context.Context, string) error      { return nil }
func (m *mockOutbox) MarkFailed(context.Context, string) error    { return nil }

type passthroughTx struct{}

func (passthroughTx) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

func (passthroughTx) RunReadOnly(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

// --- Helpers ---

var (
	admin    = auth.Principal{ID: "admin-1", Role: auth.RoleAdmin}
	seller   = auth.Principal{ID: "seller-1", Role: auth.RoleSeller}
	stranger = auth.Principal{ID: "seller-2", Role: auth.RoleSeller}
	customer = auth.Principal{ID: "user-1", Role: auth.RoleCustomer}
)

func newTestOrder(status Status) *Order {
	return &Order{
		ID:            "o1",
		Number:        "ORD-20240101-ABCDEFGH",
		UserID:        customer.ID,
		Subtotal:      decimal.NewFromInt(200),
		Discount:      decimal.Zero,
		Tax:           decimal.NewFromInt(10),
		Total:         decimal.NewFromInt(210),
		PaymentStatus: PaymentPending,
		Status:        status,
		Lines: []Line{{
			ID:        "l1",
			ProductID: "p1",
			SellerID:  seller.ID,
			Quantity:  2,
			UnitPrice: decimal.NewFromInt(100),
			Total:     decimal.NewFromInt(200),
		}},
		CreatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

type fixture struct {
	repo    *mockOrderRepo
	events  *mockOutbox
	manager *Manager
	now     time.Time
}

func newFixture(o *Order) *fixture {
	f := &fixture{
		repo:   &mockOrderRepo{orders: map[string]*Order{o.ID: o}},
		events: &mockOutbox{},
		now:    time.Date(2024, 1, 2, 12, 0, 0, 0, time.UTC),
	}
	f.manager = NewManager(f.repo, f.events, passthroughTx{}, WithClock(func() time.Time { return f.now }))
	return f
}

// --- Tests ---

func TestStatus_Transitions(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusConfirmed, true},
		{StatusPending, StatusCancelled, true},
		{StatusPending, StatusShipped, false},
		{StatusConfirmed, StatusShipped, true},
		{StatusConfirmed, StatusCancelled, true},
		{StatusShipped, StatusDelivered, true},
		{StatusShipped, StatusCancelled, false},
		{StatusDelivered, StatusPending, false},
		{StatusCancelled, StatusPending, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to))
		})
	}

	assert.True(t, StatusDelivered.Terminal())
	assert.True(t, StatusCancelled.Terminal())
	assert.False(t, StatusShipped.Terminal())
}

func TestParseStatus(t *testing.T) {
	st, err := ParseStatus("shipped")
	require.NoError(t, err)
	assert.Equal(t, StatusShipped, st)

	_, err = ParseStatus("lost")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestGenerateNumber(t *testing.T) {
	now := time.Date(2024, 7, 9, 23, 0, 0, 0, time.UTC)

	n1, err := GenerateNumber(now)
	require.NoError(t, err)
	n2, err := GenerateNumber(now)
	require.NoError(t, err)

	assert.Regexp(t, `^ORD-20240709-[A-Z2-7]{8}$`, n1)
	assert.NotEqual(t, n1, n2)
}

func TestUpdateStatus_Authorization(t *testing.T) {
	tests := []struct {
		name  string
		actor auth.Principal
	}{
		{name: "customer", actor: customer},
		{name: "foreign seller", actor: stranger},
		{name: "unknown role", actor: auth.Principal{ID: "x", Role: "guest"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(newTestOrder(StatusPending))

			_, err := f.manager.UpdateStatus(context.Background(), tt.actor, UpdateStatusRequest{
				OrderID: "o1",
				Status:  "confirmed",
			})
			require.Error(t, err)
			assert.Equal(t, apperr.KindAuthorization, apperr.KindOf(err))
			assert.Equal(t, StatusPending, f.repo.orders["o1"].Status)
			assert.Empty(t, f.events.messages)
		})
	}
}

func TestUpdateStatus_OwningSellerAndAdmin(t *testing.T) {
	for _, actor := range []auth.Principal{seller, admin} {
		t.Run(string(actor.Role), func(t *testing.T) {
			f := newFixture(newTestOrder(StatusPending))

			o, err := f.manager.UpdateStatus(context.Background(), actor, UpdateStatusRequest{
				OrderID: "o1",
				Status:  "confirmed",
			})
			require.NoError(t, err)
			assert.Equal(t, StatusConfirmed, o.Status)
			require.Len(t, f.events.messages, 1)
			assert.Equal(t, outbox.EventOrderStatusChanged, f.events.messages[0].EventType)
		})
	}
}

func TestUpdateStatus_ShippedRecordsTrackingOnce(t *testing.T) {
	f := newFixture(newTestOrder(StatusConfirmed))
	shippedAt := f.now

	o, err := f.manager.UpdateStatus(context.Background(), admin, UpdateStatusRequest{
		OrderID:        "o1",
		Status:         "shipped",
		TrackingNumber: "  TRK-123 ",
	})
	require.NoError(t, err)
	assert.Equal(t, "TRK-123", o.TrackingNumber)
	require.NotNil(t, o.ShippedAt)
	assert.Equal(t, shippedAt, *o.ShippedAt)

	f.now = f.now.Add(48 * time.Hour)
	o, err = f.manager.UpdateStatus(context.Background(), admin, UpdateStatusRequest{
		OrderID: "o1",
		Status:  "delivered",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusDelivered, o.Status)
	assert.Equal(t, shippedAt, *o.ShippedAt)
	require.NotNil(t, o.DeliveredAt)
	assert.Equal(t, f.now, *o.DeliveredAt)
	assert.Equal(t, "TRK-123", o.TrackingNumber)

	// Financial snapshot untouched.
	stored := f.repo.orders["o1"]
	assert.True(t, decimal.NewFromInt(210).Equal(stored.Total))
	assert.Len(t, stored.Lines, 1)
}

func TestUpdateStatus_ShippedWithoutTracking(t *testing.T) {
	f := newFixture(newTestOrder(StatusConfirmed))

	o, err := f.manager.UpdateStatus(context.Background(), seller, UpdateStatusRequest{
		OrderID: "o1",
		Status:  "shipped",
	})
	require.NoError(t, err)
	assert.Empty(t, o.TrackingNumber)
	assert.NotNil(t, o.ShippedAt)
}

func TestUpdateStatus_ShippedToCancelledIsInvalid(t *testing.T) {
	f := newFixture(newTestOrder(StatusShipped))

	_, err := f.manager.UpdateStatus(context.Background(), admin, UpdateStatusRequest{
		OrderID: "o1",
		Status:  "cancelled",
	})

	var transErr *InvalidTransitionError
	require.ErrorAs(t, err, &transErr)
	assert.Equal(t, StatusShipped, transErr.From)
	assert.Equal(t, StatusCancelled, transErr.To)
	assert.Equal(t, apperr.KindInvalidTransition, apperr.KindOf(err))
	assert.Equal(t, StatusShipped, f.repo.orders["o1"].Status)
	assert.Zero(t, f.repo.updates)
	assert.Empty(t, f.events.messages)
}

func TestUpdateStatus_SameStatusIsNoop(t *testing.T) {
	f := newFixture(newTestOrder(StatusPending))
	ctx := context.Background()
	req := UpdateStatusRequest{OrderID: "o1", Status: "confirmed"}

	first, err := f.manager.UpdateStatus(ctx, admin, req)
	require.NoError(t, err)

	f.now = f.now.Add(time.Hour)
	second, err := f.manager.UpdateStatus(ctx, admin, req)
	require.NoError(t, err)

	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, *first.UpdatedAt, *second.UpdatedAt)
	assert.Equal(t, 1, f.repo.updates)
	assert.Len(t, f.events.messages, 1)
}

func TestUpdateStatus_Errors(t *testing.T) {
	t.Run("unknown status", func(t *testing.T) {
		f := newFixture(newTestOrder(StatusPending))
		_, err := f.manager.UpdateStatus(context.Background(), admin, UpdateStatusRequest{OrderID: "o1", Status: "lost"})
		assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	})
	t.Run("missing order", func(t *testing.T) {
		f := newFixture(newTestOrder(StatusPending))
		_, err := f.manager.UpdateStatus(context.Background(), admin, UpdateStatusRequest{OrderID: "nope", Status: "confirmed"})
		assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	})
	t.Run("storage failure", func(t *testing.T) {
		f := newFixture(newTestOrder(StatusPending))
		f.repo.updateErr = errors.New("disk full")
		_, err := f.manager.UpdateStatus(context.Background(), admin, UpdateStatusRequest{OrderID: "o1", Status: "confirmed"})
		assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))
		assert.Contains(t, err.Error(), "disk full")
	})
}

func TestGet_Visibility(t *testing.T) {
	tests := []struct {
		name    string
		actor   auth.Principal
		visible bool
	}{
		{name: "owner", actor: customer, visible: true},
		{name: "other customer", actor: auth.Principal{ID: "user-2", Role: auth.RoleCustomer}},
		{name: "selling seller", actor: seller, visible: true},
		{name: "other seller", actor: stranger},
		{name: "admin", actor: admin, visible: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(newTestOrder(StatusPending))

			o, err := f.manager.Get(context.Background(), tt.actor, "o1")
			if tt.visible {
				require.NoError(t, err)
				assert.Equal(t, "o1", o.ID)
				return
			}
			assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
		})
	}
}
