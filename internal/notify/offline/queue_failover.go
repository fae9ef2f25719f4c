package offline

import (
	"context"
	"log/slog"
	"sync/atomic"

	id "splitledger/pkg/domain"
	"splitledger/pkg/platform/circuit"
)

// probeEvery is how often an enqueue retries the primary while the breaker is
// open.
const probeEvery = 10

// Queue is the full offline-queue surface: the hub enqueues, the transport
// drains.
type Queue interface {
	Enqueue(ctx context.Context, userID id.UserID, payload []byte) error
	Drain(ctx context.Context, userID id.UserID) ([][]byte, error)
}

// FailoverQueue prefers a durable primary (Redis) and degrades to an
// in-process fallback when the primary trips the breaker. Events buffered in
// the fallback survive only the process lifetime; that beats dropping them
// while the primary is down. Drain merges both sides, fallback first.
type FailoverQueue struct {
	primary  Queue
	fallback Queue
	breaker  *circuit.Breaker
	logger   *slog.Logger

	calls atomic.Uint64
}

type FailoverOption func(*FailoverQueue)

func WithFailoverLogger(logger *slog.Logger) FailoverOption {
	return func(q *FailoverQueue) { q.logger = logger }
}

func NewFailover(primary, fallback Queue, breaker *circuit.Breaker, opts ...FailoverOption) *FailoverQueue {
	q := &FailoverQueue{
		primary:  primary,
		fallback: fallback,
		breaker:  breaker,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (q *FailoverQueue) Enqueue(ctx context.Context, userID id.UserID, payload []byte) error {
	if q.breaker.IsOpen() && !q.shouldProbe() {
		return q.fallback.Enqueue(ctx, userID, payload)
	}

	err := q.primary.Enqueue(ctx, userID, payload)
	if err == nil {
		if _, change := q.breaker.RecordSuccess(); change.Closed && q.logger != nil {
			q.logger.Info("offline queue primary recovered", "breaker", q.breaker.Name())
		}
		return nil
	}

	if _, change := q.breaker.RecordFailure(); change.Opened && q.logger != nil {
		q.logger.Warn("offline queue primary tripped, degrading to in-process buffer",
			"breaker", q.breaker.Name(),
			"error", err,
		)
	}
	return q.fallback.Enqueue(ctx, userID, payload)
}

func (q *FailoverQueue) Drain(ctx context.Context, userID id.UserID) ([][]byte, error) {
	buffered, err := q.fallback.Drain(ctx, userID)
	if err != nil {
		return nil, err
	}
	if q.breaker.IsOpen() && !q.shouldProbe() {
		return buffered, nil
	}

	durable, err := q.primary.Drain(ctx, userID)
	if err != nil {
		q.breaker.RecordFailure()
		if q.logger != nil {
			q.logger.Warn("offline queue primary drain failed", "user_id", userID, "error", err)
		}
		return buffered, nil
	}
	q.breaker.RecordSuccess()
	return append(buffered, durable...), nil
}

func (q *FailoverQueue) shouldProbe() bool {
	return q.calls.Add(1)%probeEvery == 0
}
