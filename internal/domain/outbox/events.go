package outbox

import (
	"time"

	"github.com/go-faster/jx"
)

// OrderPlaced is emitted once per successful checkout. It is the hand-off for
// the confirmation email.
type OrderPlaced struct {
	OrderID    string
	Number     string
	UserID     string
	Total      string
	LineCount  int
	CouponCode string
	PlacedAt   time.Time
}

// Message encodes the event.
func (ev OrderPlaced) Message() Message {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)

	e.Obj(func(e *jx.Encoder) {
		e.Field("order_id", func(e *jx.Encoder) { e.Str(ev.OrderID) })
		e.Field("number", func(e *jx.Encoder) { e.Str(ev.Number) })
		e.Field("user_id", func(e *jx.Encoder) { e.Str(ev.UserID) })
		e.Field("total", func(e *jx.Encoder) { e.Str(ev.Total) })
		e.Field("line_count", func(e *jx.Encoder) { e.Int(ev.LineCount) })
		if ev.CouponCode != "" {
			e.Field("coupon_code", func(e *jx.Encoder) { e.Str(ev.CouponCode) })
		}
		e.Field("placed_at", func(e *jx.Encoder) { e.Str(ev.PlacedAt.UTC().Format(time.RFC3339Nano)) })
	})
	return newMessage(AggregateOrder, ev.OrderID, EventOrderPlaced, e.Bytes())
}

// StatusChanged is emitted for every applied order status transition.
type StatusChanged struct {
	OrderID        string
	From           string
	To             string
	TrackingNumber string
	ActorID        string
	ChangedAt      time.Time
}

// Message encodes the event.
func (ev StatusChanged) Message() Message {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)

	e.Obj(func(e *jx.Encoder) {
		e.Field("order_id", func(e *jx.Encoder) { e.Str(ev.OrderID) })
		e.Field("from", func(e *jx.Encoder) { e.Str(ev.From) })
		e.Field("to", func(e *jx.Encoder) { e.Str(ev.To) })
		if ev.TrackingNumber != "" {
			e.Field("tracking_number", func(e *jx.Encoder) { e.Str(ev.TrackingNumber) })
		}
		e.Field("actor_id", func(e *jx.Encoder) { e.Str(ev.ActorID) })
		e.Field("changed_at", func(e *jx.Encoder) { e.Str(ev.ChangedAt.UTC().Format(time.RFC3339Nano)) })
	})
	return newMessage(AggregateOrder, ev.OrderID, EventOrderStatusChanged, e.Bytes())
}

// LowStock is emitted when a checkout leaves a product at or below its
// low-stock threshold.
type LowStock struct {
	ProductID     string
	StockQuantity int
	Threshold     int
	OrderID       string
}

// Message encodes the event.
func (ev LowStock) Message() Message {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)

	e.Obj(func(e *jx.Encoder) {
		e.Field("product_id", func(e *jx.Encoder) { e.Str(ev.ProductID) })
		e.Field("stock_quantity", func(e *jx.Encoder) { e.Int(ev.StockQuantity) })
		e.Field("threshold", func(e *jx.Encoder) { e.Int(ev.Threshold) })
		e.Field("order_id", func(e *jx.Encoder) { e.Str(ev.OrderID) })
	})
	return newMessage(AggregateProduct, ev.ProductID, EventLowStock, e.Bytes())
}

func newMessage(aggregateType, aggregateID, eventType string, payload []byte) Message {
	return Message{
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		// The encoder is returned to the pool; keep a private copy.
		Payload: append([]byte(nil), payload...),
	}
}
