package kafka

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/kart-marketplace/internal/domain/outbox"
)

// DefaultTopic receives every marketplace event.
const DefaultTopic = "market.events"

// Publisher implements outbox.Publisher on one topic. Messages are keyed by
// aggregate id so that events of one order stay ordered within a partition.
type Publisher struct {
	producer *Producer
	topic    string
	now      func() time.Time
}

var _ outbox.Publisher = (*Publisher)(nil)

// NewPublisher creates a Publisher. An empty topic selects DefaultTopic.
func NewPublisher(producer *Producer, topic string) *Publisher {
	if topic == "" {
		topic = DefaultTopic
	}
	return &Publisher{producer: producer, topic: topic, now: time.Now}
}

func (p *Publisher) Publish(ctx context.Context, msg outbox.Message) error {
	if p == nil || p.producer == nil {
		return errors.New("kafka publisher is not initialized")
	}

	key := msg.AggregateID
	if key == "" {
		key = msg.ID
	}
	return p.producer.Send(ctx, p.topic, key, envelope(msg, p.now().UTC()))
}

// envelope wraps the stored payload with its routing metadata.
func envelope(msg outbox.Message, publishedAt time.Time) []byte {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)

	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(msg.ID) })
		e.Field("aggregate_type", func(e *jx.Encoder) { e.Str(msg.AggregateType) })
		e.Field("aggregate_id", func(e *jx.Encoder) { e.Str(msg.AggregateID) })
		e.Field("event_type", func(e *jx.Encoder) { e.Str(msg.EventType) })
		e.Field("payload", func(e *jx.Encoder) {
			if len(msg.Payload) == 0 {
				e.Null()
				return
			}
			e.Raw(msg.Payload)
		})
		if msg.CorrelationID != "" {
			e.Field("correlation_id", func(e *jx.Encoder) { e.Str(msg.CorrelationID) })
		}
		e.Field("created_at", func(e *jx.Encoder) { e.Str(msg.CreatedAt.UTC().Format(time.RFC3339Nano)) })
		e.Field("published_at", func(e *jx.Encoder) { e.Str(publishedAt.Format(time.RFC3339Nano)) })
	})
	return append([]byte(nil), e.Bytes()...)
}
