package outbox

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

const (
	defaultPollInterval   = time.Second
	defaultBatchSize      = 100
	defaultMaxAttempts    = 3
	defaultRetryBaseDelay = 50 * time.Millisecond
	defaultClaimLease     = 30 * time.Second
)

var (
	publishAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "market_outbox_publish_attempts_total",
		Help: "Outbox publish attempts by result.",
	}, []string{"result"})
	pendingRecords = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "market_outbox_pending_records",
		Help: "Pending records in the transactional outbox.",
	})
	oldestPendingAge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "market_outbox_oldest_pending_age_seconds",
		Help: "Age of the oldest pending outbox record.",
	})
)

type workerOptions struct {
	logger         *zap.Logger
	dlq            Publisher
	pollInterval   time.Duration
	batchSize      int
	maxAttempts    int
	retryBaseDelay time.Duration
	claimLease     time.Duration
}

// WorkerOption configures a Worker.
type WorkerOption func(*workerOptions)

func WithLogger(lg *zap.Logger) WorkerOption {
	return func(o *workerOptions) { o.logger = lg }
}

// WithDLQ sets the publisher that receives messages whose retries ran out.
func WithDLQ(p Publisher) WorkerOption {
	return func(o *workerOptions) { o.dlq = p }
}

func WithPollInterval(d time.Duration) WorkerOption {
	return func(o *workerOptions) { o.pollInterval = d }
}

func WithBatchSize(n int) WorkerOption {
	return func(o *workerOptions) { o.batchSize = n }
}

func WithMaxAttempts(n int) WorkerOption {
	return func(o *workerOptions) { o.maxAttempts = n }
}

// WithRetryBaseDelay sets the first backoff delay; it doubles per attempt.
func WithRetryBaseDelay(d time.Duration) WorkerOption {
	return func(o *workerOptions) { o.retryBaseDelay = d }
}

// WithClaimLease sets how long claimed messages stay hidden from other
// workers. It should exceed the time a batch takes to publish.
func WithClaimLease(d time.Duration) WorkerOption {
	return func(o *workerOptions) { o.claimLease = d }
}

// Worker drains pending outbox messages to a Publisher.
type Worker struct {
	repo      Repository
	publisher Publisher
	opts      workerOptions
}

// NewWorker creates a Worker. Non-positive settings fall back to defaults.
func NewWorker(repo Repository, publisher Publisher, options ...WorkerOption) *Worker {
	opts := workerOptions{
		logger:         zap.NewNop(),
		pollInterval:   defaultPollInterval,
		batchSize:      defaultBatchSize,
		maxAttempts:    defaultMaxAttempts,
		retryBaseDelay: defaultRetryBaseDelay,
		claimLease:     defaultClaimLease,
	}
	for _, o := range options {
		o(&opts)
	}
	if opts.pollInterval <= 0 {
		opts.pollInterval = defaultPollInterval
	}
	if opts.batchSize <= 0 {
		opts.batchSize = defaultBatchSize
	}
	if opts.maxAttempts <= 0 {
		opts.maxAttempts = defaultMaxAttempts
	}
	if opts.retryBaseDelay < 0 {
		opts.retryBaseDelay = 0
	}
	if opts.claimLease <= 0 {
		opts.claimLease = defaultClaimLease
	}
	return &Worker{repo: repo, publisher: publisher, opts: opts}
}

// Run polls until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.opts.pollInterval)
	defer ticker.Stop()

	for {
		w.ProcessOnce(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// ProcessOnce claims and publishes one batch and returns the number of
// messages sent. Workers on several replicas never claim the same message
// while its lease runs.
func (w *Worker) ProcessOnce(ctx context.Context) int {
	if ctx.Err() != nil {
		return 0
	}
	lg := w.opts.logger

	msgs, err := w.repo.ClaimPending(ctx, w.opts.batchSize, w.opts.claimLease)
	if err != nil {
		lg.Warn("Claim pending outbox messages", zap.Error(err))
		return 0
	}

	var sent int
	for _, msg := range msgs {
		if ctx.Err() != nil {
			break
		}
		fields := []zap.Field{
			zap.String("outbox_id", msg.ID),
			zap.String("event_type", msg.EventType),
			zap.String("correlation_id", msg.CorrelationID),
		}

		if err := w.publishWithRetry(ctx, msg); err != nil {
			if ctx.Err() != nil {
				break
			}
			lg.Error("Outbox publish failed after retries", append(fields, zap.Error(err))...)
			publishAttempts.WithLabelValues("failed").Inc()

			if dlqErr := w.publishToDLQ(ctx, msg, err); dlqErr != nil {
				lg.Warn("Publish to DLQ", append(fields, zap.Error(dlqErr))...)
				publishAttempts.WithLabelValues("dlq_failed").Inc()
			}
			if err := w.repo.MarkFailed(ctx, msg.ID); err != nil {
				lg.Warn("Mark outbox message failed", append(fields, zap.Error(err))...)
			}
			continue
		}

		if err := w.repo.MarkSent(ctx, msg.ID); err != nil {
			lg.Warn("Mark outbox message sent", append(fields, zap.Error(err))...)
			continue
		}
		sent++
	}

	w.refreshBacklogMetrics(ctx)
	return sent
}

func (w *Worker) publishWithRetry(ctx context.Context, msg Message) error {
	var lastErr error
	for attempt := 1; attempt <= w.opts.maxAttempts; attempt++ {
		err := w.publisher.Publish(ctx, msg)
		if err == nil {
			publishAttempts.WithLabelValues("sent").Inc()
			return nil
		}
		lastErr = err
		publishAttempts.WithLabelValues("retry_error").Inc()

		if attempt == w.opts.maxAttempts {
			break
		}
		if delay := w.backoff(attempt); delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return errors.Wrapf(lastErr, "publish failed after %d attempts", w.opts.maxAttempts)
}

// backoff returns base * 2^(attempt-1), saturating instead of overflowing.
func (w *Worker) backoff(attempt int) time.Duration {
	const maxDuration = time.Duration(1<<63 - 1)
	delay := w.opts.retryBaseDelay
	for i := 1; i < attempt && delay > 0; i++ {
		if delay > maxDuration/2 {
			return maxDuration
		}
		delay *= 2
	}
	return delay
}

func (w *Worker) refreshBacklogMetrics(ctx context.Context) {
	st, err := w.repo.Stats(ctx)
	if err != nil {
		w.opts.logger.Warn("Collect outbox stats", zap.Error(err))
		return
	}
	pendingRecords.Set(float64(st.PendingCount))
	if st.PendingCount == 0 || st.OldestPendingAt.IsZero() {
		oldestPendingAge.Set(0)
		return
	}
	oldestPendingAge.Set(max(time.Since(st.OldestPendingAt).Seconds(), 0))
}

func (w *Worker) publishToDLQ(ctx context.Context, msg Message, publishErr error) error {
	if w.opts.dlq == nil {
		return nil
	}

	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	e.Obj(func(e *jx.Encoder) {
		e.Field("outbox_id", func(e *jx.Encoder) { e.Str(msg.ID) })
		e.Field("event_type", func(e *jx.Encoder) { e.Str(msg.EventType) })
		e.Field("payload", func(e *jx.Encoder) {
			if len(msg.Payload) == 0 {
				e.Null()
				return
			}
			e.Raw(msg.Payload)
		})
		e.Field("publish_error", func(e *jx.Encoder) { e.Str(publishErr.Error()) })
		e.Field("dlq_published_at", func(e *jx.Encoder) { e.Str(time.Now().UTC().Format(time.RFC3339Nano)) })
	})

	dead := msg
	dead.Payload = append([]byte(nil), e.Bytes()...)
	if err := w.opts.dlq.Publish(ctx, dead); err != nil {
		return errors.Wrap(err, "publish to dlq")
	}
	return nil
}

// LogPublisher writes messages to a logger. It stands in for a broker in
// single-node deployments.
type LogPublisher struct {
	lg *zap.Logger
}

// NewLogPublisher creates a LogPublisher.
func NewLogPublisher(lg *zap.Logger) *LogPublisher {
	return &LogPublisher{lg: lg}
}

func (p *LogPublisher) Publish(_ context.Context, msg Message) error {
	p.lg.Info("Event",
		zap.String("outbox_id", msg.ID),
		zap.String("event_type", msg.EventType),
		zap.String("aggregate_type", msg.AggregateType),
		zap.String("aggregate_id", msg.AggregateID),
		zap.String("correlation_id", msg.CorrelationID),
		zap.ByteString("payload", msg.Payload),
	)
	return nil
}
