package postgres

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xenking/kart-marketplace/internal/domain/outbox"
)

const (
	outboxPending = "pending"
	outboxSent    = "sent"
	outboxFailed  = "failed"
)

// Outbox implements outbox.Repository on the outbox_messages table.
type Outbox struct {
	s *Store
}

var _ outbox.Repository = (*Outbox)(nil)

// Outbox returns the outbox view of the store.
func (s *Store) Outbox() *Outbox {
	return &Outbox{s: s}
}

func (r *Outbox) Enqueue(ctx context.Context, msg outbox.Message) (outbox.Message, error) {
	msg = outbox.Prepare(ctx, msg, time.Now())
	_, err := r.s.conn(ctx).Exec(ctx, `
		INSERT INTO outbox_messages (id, aggregate_type, aggregate_id, event_type, payload, correlation_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)`,
		msg.ID, msg.AggregateType, msg.AggregateID, msg.EventType, msg.Payload, msg.CorrelationID, outboxPending, msg.CreatedAt)
	if err != nil {
		return outbox.Message{}, fmt.Errorf("enqueueing %s: %w", msg.EventType, err)
	}
	return msg, nil
}

// ClaimPending leases up to limit pending messages, oldest first. The
// claim is a single statement, so it is atomic without an outer
// transaction: concurrent claimers skip locked rows and rows whose lease
// has not expired.
func (r *Outbox) ClaimPending(ctx context.Context, limit int, lease time.Duration) ([]outbox.Message, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.s.conn(ctx).Query(ctx, `
		UPDATE outbox_messages m
		SET claimed_until = now() + $3::bigint * interval '1 millisecond', updated_at = now()
		FROM (
			SELECT id
			FROM outbox_messages
			WHERE status = $1 AND (claimed_until IS NULL OR claimed_until < now())
			ORDER BY created_at, id
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		) c
		WHERE m.id = c.id
		RETURNING m.id, m.aggregate_type, m.aggregate_id, m.event_type, m.payload, m.correlation_id, m.created_at`,
		outboxPending, limit, lease.Milliseconds())
	if err != nil {
		return nil, fmt.Errorf("claiming outbox: %w", err)
	}
	msgs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (outbox.Message, error) {
		var m outbox.Message
		err := row.Scan(&m.ID, &m.AggregateType, &m.AggregateID, &m.EventType, &m.Payload, &m.CorrelationID, &m.CreatedAt)
		return m, err
	})
	if err != nil {
		return nil, fmt.Errorf("scanning outbox: %w", err)
	}
	// RETURNING does not keep the subquery order.
	slices.SortFunc(msgs, func(a, b outbox.Message) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return msgs, nil
}

func (r *Outbox) Stats(ctx context.Context) (outbox.Stats, error) {
	var (
		st     outbox.Stats
		oldest *time.Time
	)
	err := r.s.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*), MIN(created_at)
		FROM outbox_messages
		WHERE status = $1`, outboxPending).Scan(&st.PendingCount, &oldest)
	if err != nil {
		return outbox.Stats{}, fmt.Errorf("outbox stats: %w", err)
	}
	if oldest != nil {
		st.OldestPendingAt = *oldest
	}
	return st, nil
}

func (r *Outbox) MarkSent(ctx context.Context, id string) error {
	return r.mark(ctx, id, outboxSent)
}

func (r *Outbox) MarkFailed(ctx context.Context, id string) error {
	return r.mark(ctx, id, outboxFailed)
}

func (r *Outbox) mark(ctx context.Context, id, status string) error {
	tag, err := r.s.conn(ctx).Exec(ctx, `
		UPDATE outbox_messages
		SET status = $2, attempt_count = attempt_count + 1, claimed_until = NULL, updated_at = now()
		WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("marking outbox message %q %s: %w", id, status, err)
	}
	if tag.RowsAffected() == 0 {
		return outbox.ErrNotFound
	}
	return nil
}
