// Package outbox defines the transactional outbox. Domain services enqueue
// messages inside their storage transaction; a worker later drains pending
// messages to the event bus.
package outbox

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
)

// Event types written by the checkout and order services.
const (
	EventOrderPlaced        = "order.placed"
	EventOrderStatusChanged = "order.status_changed"
	EventLowStock           = "inventory.low_stock"
)

// Aggregate types.
const (
	AggregateOrder   = "order"
	AggregateProduct = "product"
)

// ErrNotFound is returned when marking an unknown message.
var ErrNotFound = errors.New("outbox message not found")

// Message is one pending event.
type Message struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	// CorrelationID ties the message to the request that produced it.
	CorrelationID string
	CreatedAt     time.Time
}

// Stats describes the current backlog.
type Stats struct {
	PendingCount    int
	OldestPendingAt time.Time
}

// Repository stores outbox messages. Enqueue joins the transaction carried by
// ctx, if any.
type Repository interface {
	Enqueue(ctx context.Context, msg Message) (Message, error)
	// ClaimPending returns up to limit pending messages, oldest first, and
	// hides them from other claimers for lease. A message that is neither
	// marked sent nor failed before the lease ends becomes claimable again,
	// so every message is delivered at least once.
	ClaimPending(ctx context.Context, limit int, lease time.Duration) ([]Message, error)
	Stats(ctx context.Context) (Stats, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// Publisher delivers a message to the event bus.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

type correlationKey struct{}

// WithCorrelationID returns a context whose enqueued messages carry id.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationID returns the id set by WithCorrelationID, or "".
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}

// Prepare fills the fields a repository sets on Enqueue: a fresh id, the
// creation time and the correlation id of ctx. Set fields are kept.
func Prepare(ctx context.Context, msg Message, now time.Time) Message {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now.UTC()
	}
	if msg.CorrelationID == "" {
		msg.CorrelationID = CorrelationID(ctx)
	}
	return msg
}
