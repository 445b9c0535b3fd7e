package memory

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/xenking/kart-marketplace/internal/domain/outbox"
)

const (
	outboxPending = "pending"
	outboxSent    = "sent"
	outboxFailed  = "failed"
)

type outboxRecord struct {
	msg          outbox.Message
	status       string
	attempts     int
	seq          int64
	claimedUntil time.Time
}

// Outbox implements outbox.Repository.
type Outbox struct {
	s   *Store
	now func() time.Time
}

var _ outbox.Repository = (*Outbox)(nil)

// Outbox returns the outbox view of the store.
func (s *Store) Outbox() *Outbox {
	return &Outbox{s: s, now: time.Now}
}

func (r *Outbox) Enqueue(ctx context.Context, msg outbox.Message) (outbox.Message, error) {
	msg = outbox.Prepare(ctx, msg, r.now())
	err := r.s.write(ctx, func(t *tables) error {
		t.outboxSeq++
		t.outbox[msg.ID] = outboxRecord{msg: msg, status: outboxPending, seq: t.outboxSeq}
		return nil
	})
	return msg, err
}

// ClaimPending claims up to limit pending messages in enqueue order.
func (r *Outbox) ClaimPending(ctx context.Context, limit int, lease time.Duration) ([]outbox.Message, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []outbox.Message
	err := r.s.write(ctx, func(t *tables) error {
		now := r.now()
		var claimable []outboxRecord
		for _, rec := range t.outbox {
			if rec.status == outboxPending && !rec.claimedUntil.After(now) {
				claimable = append(claimable, rec)
			}
		}
		slices.SortFunc(claimable, func(a, b outboxRecord) int { return cmp.Compare(a.seq, b.seq) })
		if len(claimable) > limit {
			claimable = claimable[:limit]
		}
		for _, rec := range claimable {
			rec.claimedUntil = now.Add(lease)
			t.outbox[rec.msg.ID] = rec
			out = append(out, rec.msg)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Outbox) Stats(ctx context.Context) (outbox.Stats, error) {
	var st outbox.Stats
	err := r.s.read(ctx, func(t *tables) error {
		for _, rec := range t.outbox {
			if rec.status != outboxPending {
				continue
			}
			st.PendingCount++
			if st.OldestPendingAt.IsZero() || rec.msg.CreatedAt.Before(st.OldestPendingAt) {
				st.OldestPendingAt = rec.msg.CreatedAt
			}
		}
		return nil
	})
	return st, err
}

func (r *Outbox) MarkSent(ctx context.Context, id string) error {
	return r.mark(ctx, id, outboxSent)
}

func (r *Outbox) MarkFailed(ctx context.Context, id string) error {
	return r.mark(ctx, id, outboxFailed)
}

func (r *Outbox) mark(ctx context.Context, id, status string) error {
	return r.s.write(ctx, func(t *tables) error {
		rec, ok := t.outbox[id]
		if !ok {
			return outbox.ErrNotFound
		}
		rec.status = status
		rec.attempts++
		rec.claimedUntil = time.Time{}
		t.outbox[id] = rec
		return nil
	})
}

// Messages returns every message of the given event type regardless of
// status, in enqueue order.
func (r *Outbox) Messages(ctx context.Context, eventType string) ([]outbox.Message, error) {
	var recs []outboxRecord
	err := r.s.read(ctx, func(t *tables) error {
		for _, rec := range t.outbox {
			if eventType == "" || rec.msg.EventType == eventType {
				recs = append(recs, rec)
			}
		}
		return nil
	})
	slices.SortFunc(recs, func(a, b outboxRecord) int { return cmp.Compare(a.seq, b.seq) })
	out := make([]outbox.Message, len(recs))
	for i, rec := range recs {
		out[i] = rec.msg
	}
	return out, err
}
