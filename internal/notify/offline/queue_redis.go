package offline

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	id "splitledger/pkg/domain"
)

// RedisQueue buffers offline events in a capped Redis list per user, so
// buffered notifications survive process restarts and are shared across
// instances.
type RedisQueue struct {
	client *redis.Client
	cap    int64
	ttl    time.Duration
}

type RedisOption func(*RedisQueue)

// WithCap bounds the buffered events per user; oldest entries are evicted.
func WithCap(n int64) RedisOption {
	return func(q *RedisQueue) {
		if n > 0 {
			q.cap = n
		}
	}
}

// WithTTL expires a user's buffer after the given idle duration.
func WithTTL(d time.Duration) RedisOption {
	return func(q *RedisQueue) {
		if d > 0 {
			q.ttl = d
		}
	}
}

func NewRedis(client *redis.Client, opts ...RedisOption) *RedisQueue {
	q := &RedisQueue{
		client: client,
		cap:    DefaultCap,
		ttl:    30 * 24 * time.Hour,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func key(userID id.UserID) string {
	return "notify:offline:" + userID.String()
}

func (q *RedisQueue) Enqueue(ctx context.Context, userID id.UserID, payload []byte) error {
	pipe := q.client.TxPipeline()
	pipe.RPush(ctx, key(userID), payload)
	pipe.LTrim(ctx, key(userID), -q.cap, -1)
	pipe.Expire(ctx, key(userID), q.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("enqueue offline event: %w", err)
	}
	return nil
}

// Drain returns and clears the user's buffered events, oldest first. The
// read and delete run in one transaction so a concurrent enqueue is either
// fully included or left for the next drain.
func (q *RedisQueue) Drain(ctx context.Context, userID id.UserID) ([][]byte, error) {
	var rangeCmd *redis.StringSliceCmd
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		rangeCmd = pipe.LRange(ctx, key(userID), 0, -1)
		pipe.Del(ctx, key(userID))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("drain offline events: %w", err)
	}

	values := rangeCmd.Val()
	out := make([][]byte, len(values))
	for i, v := range values {
		out[i] = []byte(v)
	}
	return out, nil
}
