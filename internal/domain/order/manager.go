package order

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-marketplace/internal/domain/apperr"
	"github.com/xenking/kart-marketplace/internal/domain/auth"
	"github.com/xenking/kart-marketplace/internal/domain/outbox"
	"github.com/xenking/kart-marketplace/internal/domain/uow"
)

// UpdateStatusRequest holds the input of a status transition.
type UpdateStatusRequest struct {
	OrderID        string
	Status         string
	TrackingNumber string
}

// Manager governs post-creation order status transitions and role-scoped
// order reads.
type Manager struct {
	orders Repository
	events outbox.Repository
	tx     uow.UnitOfWork
	clock  func() time.Time
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithClock overrides the time source.
func WithClock(clock func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.clock = clock
	}
}

// NewManager creates an order lifecycle Manager.
func NewManager(orders Repository, events outbox.Repository, tx uow.UnitOfWork, opts ...ManagerOption) *Manager {
	m := &Manager{
		orders: orders,
		events: events,
		tx:     tx,
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Get returns an order visible to actor. Orders the actor may not see are
// reported as not found.
func (m *Manager) Get(ctx context.Context, actor auth.Principal, id string) (*Order, error) {
	o, err := m.orders.Get(ctx, id)
	if err != nil {
		return nil, apperr.Classify(err, "get order")
	}
	if !o.VisibleTo(actor) {
		return nil, apperr.NotFound("order %s not found", id)
	}
	return o, nil
}

// UpdateStatus moves an order to a new status. Only the fulfillment envelope
// is written; financial fields and stock are never touched. Requesting the
// current status is a successful no-op.
func (m *Manager) UpdateStatus(ctx context.Context, actor auth.Principal, req UpdateStatusRequest) (*Order, error) {
	if actor.Role != auth.RoleAdmin && actor.Role != auth.RoleSeller {
		return nil, apperr.Authorization("role %q may not change order status", actor.Role)
	}
	to, err := ParseStatus(req.Status)
	if err != nil {
		return nil, err
	}
	tracking := strings.TrimSpace(req.TrackingNumber)

	var out *Order
	err = m.tx.RunInTx(ctx, func(ctx context.Context) error {
		o, err := m.orders.GetForUpdate(ctx, req.OrderID)
		if err != nil {
			return errors.Wrap(err, "get order")
		}
		if actor.IsSeller() && !o.HasSeller(actor.ID) {
			return apperr.Authorization("seller %s has no products in order %s", actor.ID, o.ID)
		}

		from := o.Status
		if from == to {
			out = o
			return nil
		}
		if !from.CanTransitionTo(to) {
			return &InvalidTransitionError{From: from, To: to}
		}

		now := m.clock().UTC()
		f := o.Fulfillment()
		f.Status = to
		f.UpdatedAt = now
		switch to {
		case StatusShipped:
			if tracking != "" {
				f.TrackingNumber = tracking
			}
			if f.ShippedAt == nil {
				f.ShippedAt = &now
			}
		case StatusDelivered:
			f.DeliveredAt = &now
		}

		if err := m.orders.UpdateFulfillment(ctx, o.ID, f); err != nil {
			return errors.Wrap(err, "update fulfillment")
		}
		ev := outbox.StatusChanged{
			OrderID:        o.ID,
			From:           string(from),
			To:             string(to),
			TrackingNumber: f.TrackingNumber,
			ActorID:        actor.ID,
			ChangedAt:      now,
		}
		if _, err := m.events.Enqueue(ctx, ev.Message()); err != nil {
			return errors.Wrap(err, "enqueue status event")
		}

		o.Apply(f)
		out = o
		return nil
	})
	if err != nil {
		return nil, apperr.Classify(err, "update order status")
	}

	zctx.From(ctx).Info("Order status updated",
		zap.String("order_id", out.ID),
		zap.String("status", string(out.Status)),
		zap.String("actor_id", actor.ID),
	)
	return out, nil
}
