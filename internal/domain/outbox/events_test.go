package outbox

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/jx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeFields(t *testing.T, payload []byte) map[string]string {
	t.Helper()

	out := map[string]string{}
	err := jx.DecodeBytes(payload).ObjBytes(func(d *jx.Decoder, key []byte) error {
		raw, err := d.Raw()
		if err != nil {
			return err
		}
		out[string(key)] = raw.String()
		return nil
	})
	require.NoError(t, err)
	return out
}

func TestOrderPlaced(t *testing.T) {
	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	msg := OrderPlaced{
		OrderID:   "o1",
		Number:    "ORD-20240301-AAAAAAAA",
		UserID:    "u1",
		Total:     "157.50",
		LineCount: 1,
		PlacedAt:  at,
	}.Message()

	assert.Equal(t, EventOrderPlaced, msg.EventType)
	assert.Equal(t, AggregateOrder, msg.AggregateType)
	assert.Equal(t, "o1", msg.AggregateID)

	fields := decodeFields(t, msg.Payload)
	assert.Equal(t, `"157.50"`, fields["total"])
	assert.Equal(t, `1`, fields["line_count"])
	assert.Equal(t, `"2024-03-01T10:00:00Z"`, fields["placed_at"])
	assert.NotContains(t, fields, "coupon_code")
}

func TestStatusChanged(t *testing.T) {
	msg := StatusChanged{
		OrderID:        "o1",
		From:           "confirmed",
		To:             "shipped",
		TrackingNumber: "TRK1",
		ActorID:        "admin",
		ChangedAt:      time.Unix(0, 0),
	}.Message()

	fields := decodeFields(t, msg.Payload)
	assert.Equal(t, `"shipped"`, fields["to"])
	assert.Equal(t, `"TRK1"`, fields["tracking_number"])
	assert.Equal(t, EventOrderStatusChanged, msg.EventType)
}

func TestLowStockPayloadIsDetached(t *testing.T) {
	a := LowStock{ProductID: "p1", StockQuantity: 3, Threshold: 10, OrderID: "o1"}.Message()
	b := LowStock{ProductID: "p2", StockQuantity: 0, Threshold: 10, OrderID: "o2"}.Message()

	assert.Equal(t, `"p1"`, decodeFields(t, a.Payload)["product_id"])
	assert.Equal(t, `"p2"`, decodeFields(t, b.Payload)["product_id"])
	assert.Equal(t, AggregateProduct, a.AggregateType)
}

func TestPrepare(t *testing.T) {
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.FixedZone("IST", 19800))

	msg := Prepare(context.Background(), Message{EventType: EventOrderPlaced}, now)
	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, time.UTC, msg.CreatedAt.Location())
	assert.True(t, now.Equal(msg.CreatedAt))
	assert.Empty(t, msg.CorrelationID)

	ctx := WithCorrelationID(context.Background(), "req-1")
	set := Message{ID: "m1", CreatedAt: now, CorrelationID: "upstream"}
	assert.Equal(t, set, Prepare(ctx, set, time.Now()), "set fields are kept")
	assert.Equal(t, "req-1", Prepare(ctx, Message{}, now).CorrelationID)
}
