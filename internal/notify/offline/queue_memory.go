// Package offline implements the durable-notification collaborator boundary:
// a per-user queue of events produced while the user had no live connection,
// retrievable once they reconnect. Delivery to this queue is best-effort
// buffering, not exactly-once.
package offline

import (
	"context"
	"sync"

	id "splitledger/pkg/domain"
)

// DefaultCap bounds the number of buffered events per user; oldest entries
// are evicted first.
const DefaultCap = 200

// MemoryQueue buffers offline events in process memory.
type MemoryQueue struct {
	mu      sync.Mutex
	pending map[id.UserID][][]byte
	cap     int
}

func NewMemory() *MemoryQueue {
	return &MemoryQueue{
		pending: make(map[id.UserID][][]byte),
		cap:     DefaultCap,
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, userID id.UserID, payload []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	buf := append(q.pending[userID], append([]byte(nil), payload...))
	if len(buf) > q.cap {
		buf = buf[len(buf)-q.cap:]
	}
	q.pending[userID] = buf
	return nil
}

// Drain returns and clears the user's buffered events, oldest first.
func (q *MemoryQueue) Drain(ctx context.Context, userID id.UserID) ([][]byte, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	buf := q.pending[userID]
	delete(q.pending, userID)
	return buf, nil
}
