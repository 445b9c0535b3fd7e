package outbox

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// --- Mock implementations ---

type mockRepo struct {
	mu      sync.Mutex
	pending []Message
	sent    []string
	failed  []string
	pullErr error
	lease   time.Duration
}

func (m *mockRepo) Enqueue(_ context.Context, msg Message) (Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = append(m.pending, msg)
	return msg, nil
}

func (m *mockRepo) ClaimPending(_ context.Context, limit int, lease time.Duration) ([]Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lease = lease
	if m.pullErr != nil {
		return nil, m.pullErr
	}
	n := min(limit, len(m.pending))
	return append([]Message(nil), m.pending[:n]...), nil
}

func (m *mockRepo) Stats(context.Context) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := Stats{PendingCount: len(m.pending)}
	if len(m.pending) > 0 {
		st.OldestPendingAt = m.pending[0].CreatedAt
	}
	return st, nil
}

func (m *mockRepo) MarkSent(_ context.Context, id string) error {
	return m.mark(id, &m.sent)
}

func (m *mockRepo) MarkFailed(_ context.Context, id string) error {
	return m.mark(id, &m.failed)
}

func (m *mockRepo) mark(id string, into *[]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, msg := range m.pending {
		if msg.ID == id {
			m.pending = append(m.pending[:i], m.pending[i+1:]...)
			*into = append(*into, id)
			return nil
		}
	}
	return ErrNotFound
}

type mockPublisher struct {
	mu        sync.Mutex
	failFirst int
	failAll   bool
	calls     int
	published []Message
}

func (p *mockPublisher) Publish(_ context.Context, msg Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.failAll || p.calls <= p.failFirst {
		return errors.New("broker unavailable")
	}
	p.published = append(p.published, msg)
	return nil
}

func messages(ids ...string) []Message {
	out := make([]Message, len(ids))
	for i, id := range ids {
		out[i] = Message{ID: id, EventType: EventOrderPlaced, Payload: []byte(`{"id":"` + id + `"}`), CreatedAt: time.Now()}
	}
	return out
}

// --- Tests ---

func TestWorker_PublishesAndMarksSent(t *testing.T) {
	repo := &mockRepo{pending: messages("m1", "m2", "m3")}
	pub := &mockPublisher{}
	w := NewWorker(repo, pub, WithBatchSize(2), WithRetryBaseDelay(0))

	assert.Equal(t, 2, w.ProcessOnce(context.Background()))
	assert.Equal(t, []string{"m1", "m2"}, repo.sent)
	assert.Equal(t, 1, w.ProcessOnce(context.Background()))
	assert.Equal(t, []string{"m1", "m2", "m3"}, repo.sent)
	assert.Empty(t, repo.failed)
}

func TestWorker_RetriesTransientFailure(t *testing.T) {
	repo := &mockRepo{pending: messages("m1")}
	pub := &mockPublisher{failFirst: 2}
	w := NewWorker(repo, pub, WithMaxAttempts(3), WithRetryBaseDelay(time.Millisecond))

	assert.Equal(t, 1, w.ProcessOnce(context.Background()))
	assert.Equal(t, 3, pub.calls)
	assert.Equal(t, []string{"m1"}, repo.sent)
}

func TestWorker_ExhaustedRetriesGoToDLQ(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	repo := &mockRepo{pending: messages("m1")}
	pub := &mockPublisher{failAll: true}
	dlq := &mockPublisher{}
	w := NewWorker(repo, pub,
		WithMaxAttempts(2),
		WithRetryBaseDelay(0),
		WithDLQ(dlq),
		WithLogger(zap.New(core)),
	)

	assert.Zero(t, w.ProcessOnce(context.Background()))
	assert.Equal(t, 2, pub.calls)
	assert.Equal(t, []string{"m1"}, repo.failed)
	require.Len(t, dlq.published, 1)
	assert.Contains(t, string(dlq.published[0].Payload), `"publish_error":"publish failed after 2 attempts: broker unavailable"`)
	assert.Contains(t, string(dlq.published[0].Payload), `"payload":{"id":"m1"}`)
	assert.Equal(t, 1, logs.FilterMessage("Outbox publish failed after retries").Len())
}

func TestWorker_ClaimLease(t *testing.T) {
	repo := &mockRepo{pending: messages("m1")}
	w := NewWorker(repo, &mockPublisher{}, WithClaimLease(time.Minute))
	w.ProcessOnce(context.Background())
	assert.Equal(t, time.Minute, repo.lease)

	repo = &mockRepo{pending: messages("m1")}
	w = NewWorker(repo, &mockPublisher{}, WithClaimLease(0))
	w.ProcessOnce(context.Background())
	assert.Equal(t, defaultClaimLease, repo.lease)
}

func TestWorker_ClaimErrorIsLogged(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	repo := &mockRepo{pullErr: errors.New("db down")}
	w := NewWorker(repo, &mockPublisher{}, WithLogger(zap.New(core)))

	assert.Zero(t, w.ProcessOnce(context.Background()))
	assert.Equal(t, 1, logs.FilterMessage("Claim pending outbox messages").Len())
}

func TestWorker_StopsOnCancel(t *testing.T) {
	repo := &mockRepo{pending: messages("m1")}
	w := NewWorker(repo, &mockPublisher{failAll: true}, WithRetryBaseDelay(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	assert.Zero(t, w.ProcessOnce(ctx))
	assert.Empty(t, repo.failed, "cancelled publish stays pending")
}

func TestWorker_Run(t *testing.T) {
	repo := &mockRepo{pending: messages("m1")}
	pub := &mockPublisher{}
	w := NewWorker(repo, pub, WithPollInterval(5*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool {
		_, _ = repo.Enqueue(ctx, messages("m2")[0])
		pub.mu.Lock()
		defer pub.mu.Unlock()
		return len(pub.published) >= 2
	}, time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestWorker_Backoff(t *testing.T) {
	w := NewWorker(&mockRepo{}, &mockPublisher{}, WithRetryBaseDelay(50*time.Millisecond))
	assert.Equal(t, 50*time.Millisecond, w.backoff(1))
	assert.Equal(t, 100*time.Millisecond, w.backoff(2))
	assert.Equal(t, 400*time.Millisecond, w.backoff(4))
	assert.Equal(t, time.Duration(1<<63-1), w.backoff(100))

	w = NewWorker(&mockRepo{}, &mockPublisher{}, WithRetryBaseDelay(0))
	assert.Zero(t, w.backoff(3))
}

func TestLogPublisher(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	p := NewLogPublisher(zap.New(core))

	require.NoError(t, p.Publish(context.Background(), messages("m1")[0]))
	entries := logs.FilterMessage("Event").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "m1", entries[0].ContextMap()["outbox_id"])
}
