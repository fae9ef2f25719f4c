// Package hub routes notification events to users' live connections. The hub
// exclusively owns the connection registry: transports register and revoke
// connections but never touch routing state directly. It holds no persistent
// queue; events for offline users are handed to the durable queue
// collaborator.
package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"splitledger/internal/notify"
	"splitledger/internal/notify/metrics"
	id "splitledger/pkg/domain"
)

// Connection is one live channel to a user session. Send must respect the
// context deadline; a send that exceeds the hub's bound gets the connection
// forcibly unregistered.
type Connection interface {
	ID() id.ConnectionID
	UserID() id.UserID
	Send(ctx context.Context, payload []byte) error
	Close() error
}

// OfflineQueue is the durable-notification collaborator. Events for users
// with no live connection are enqueued for later retrieval, never silently
// dropped.
type OfflineQueue interface {
	Enqueue(ctx context.Context, userID id.UserID, payload []byte) error
}

// GroupResolver resolves group membership; owned by the group-management
// collaborator.
type GroupResolver interface {
	Members(ctx context.Context, groupID id.GroupID) ([]id.UserID, error)
}

const defaultSendTimeout = 5 * time.Second

type Hub struct {
	mu    sync.RWMutex
	conns map[id.UserID]map[id.ConnectionID]Connection

	offline     OfflineQueue
	resolver    GroupResolver
	sendTimeout time.Duration
	logger      *slog.Logger
	metrics     *metrics.Metrics
	clock       func() time.Time
}

type Option func(*Hub)

func WithLogger(logger *slog.Logger) Option {
	return func(h *Hub) { h.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Hub) { h.metrics = m }
}

// WithSendTimeout bounds each connection's send path. A connection that does
// not complete within the bound is dropped and treated as offline for that
// event.
func WithSendTimeout(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.sendTimeout = d
		}
	}
}

// WithClock sets the time source for testability.
func WithClock(clock func() time.Time) Option {
	return func(h *Hub) {
		if clock != nil {
			h.clock = clock
		}
	}
}

func New(offline OfflineQueue, resolver GroupResolver, opts ...Option) (*Hub, error) {
	if offline == nil {
		return nil, fmt.Errorf("offline queue is required")
	}
	if resolver == nil {
		return nil, fmt.Errorf("group resolver is required")
	}
	h := &Hub{
		conns:       make(map[id.UserID]map[id.ConnectionID]Connection),
		offline:     offline,
		resolver:    resolver,
		sendTimeout: defaultSendTimeout,
		clock:       time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Register adds a live connection for its user. A Deliver in progress either
// sees the connection fully registered or not at all.
func (h *Hub) Register(conn Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	userConns := h.conns[conn.UserID()]
	if userConns == nil {
		userConns = make(map[id.ConnectionID]Connection)
		h.conns[conn.UserID()] = userConns
	}
	userConns[conn.ID()] = conn
	h.metrics.ConnectionRegistered()
	if h.logger != nil {
		h.logger.Debug("connection registered",
			"user_id", conn.UserID(),
			"connection_id", conn.ID(),
		)
	}
}

// Unregister removes a connection from the registry. Idempotent; safe to call
// for connections already dropped by a failed send.
func (h *Hub) Unregister(conn Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(conn)
}

func (h *Hub) removeLocked(conn Connection) {
	userConns := h.conns[conn.UserID()]
	if _, ok := userConns[conn.ID()]; !ok {
		return
	}
	delete(userConns, conn.ID())
	if len(userConns) == 0 {
		delete(h.conns, conn.UserID())
	}
	h.metrics.ConnectionUnregistered()
}

// ConnectionCount reports the number of live connections for a user.
func (h *Hub) ConnectionCount(userID id.UserID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns[userID])
}

// Deliver pushes the event to every live connection of the user. With no live
// connection the event goes to the offline queue. Sends run concurrently
// under the configured bound so one slow connection never delays the others;
// a timed-out connection is unregistered and closed as a side effect.
func (h *Hub) Deliver(ctx context.Context, userID id.UserID, env notify.Envelope) notify.DeliveryOutcome {
	env.UserID = userID
	if env.Timestamp.IsZero() {
		env.Timestamp = h.clock()
	}
	payload, err := json.Marshal(env)
	if err != nil {
		if h.logger != nil {
			h.logger.ErrorContext(ctx, "event marshal failed", "type", env.Type, "error", err)
		}
		h.metrics.IncrementDelivery(string(notify.OutcomeFailed))
		return notify.OutcomeFailed
	}

	outcome := h.deliverPayload(ctx, userID, payload)
	h.metrics.IncrementDelivery(string(outcome))
	return outcome
}

func (h *Hub) deliverPayload(ctx context.Context, userID id.UserID, payload []byte) notify.DeliveryOutcome {
	h.mu.RLock()
	targets := make([]Connection, 0, len(h.conns[userID]))
	for _, conn := range h.conns[userID] {
		targets = append(targets, conn)
	}
	h.mu.RUnlock()

	if len(targets) == 0 {
		return h.queueOffline(ctx, userID, payload)
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		delivered int
		stale     []Connection
	)
	for _, conn := range targets {
		wg.Add(1)
		go func(conn Connection) {
			defer wg.Done()
			sendCtx, cancel := context.WithTimeout(ctx, h.sendTimeout)
			defer cancel()

			start := h.clock()
			err := conn.Send(sendCtx, payload)
			h.metrics.ObserveSendLatency(h.clock().Sub(start))

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				stale = append(stale, conn)
				return
			}
			delivered++
		}(conn)
	}
	wg.Wait()

	for _, conn := range stale {
		h.dropConnection(ctx, conn)
	}

	if delivered > 0 {
		return notify.OutcomeDeliveredLive
	}
	// Every connection failed; the user is effectively offline for this event.
	return h.queueOffline(ctx, userID, payload)
}

func (h *Hub) queueOffline(ctx context.Context, userID id.UserID, payload []byte) notify.DeliveryOutcome {
	if err := h.offline.Enqueue(ctx, userID, payload); err != nil {
		if h.logger != nil {
			h.logger.ErrorContext(ctx, "offline enqueue failed", "user_id", userID, "error", err)
		}
		return notify.OutcomeFailed
	}
	return notify.OutcomeQueuedOffline
}

func (h *Hub) dropConnection(ctx context.Context, conn Connection) {
	h.mu.Lock()
	h.removeLocked(conn)
	h.mu.Unlock()
	_ = conn.Close()
	h.metrics.IncrementDropped()
	if h.logger != nil {
		h.logger.WarnContext(ctx, "connection dropped after failed send",
			"user_id", conn.UserID(),
			"connection_id", conn.ID(),
		)
	}
}

// BroadcastToGroup delivers the event to every group member, including the
// member whose action caused it (consumers that want self-suppression filter
// on user id). Returns the per-member outcomes.
func (h *Hub) BroadcastToGroup(ctx context.Context, groupID id.GroupID, env notify.Envelope) (map[id.UserID]notify.DeliveryOutcome, error) {
	members, err := h.resolver.Members(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("resolve group members: %w", err)
	}

	var mu sync.Mutex
	outcomes := make(map[id.UserID]notify.DeliveryOutcome, len(members))

	g, ctx := errgroup.WithContext(ctx)
	for _, member := range members {
		g.Go(func() error {
			outcome := h.Deliver(ctx, member, env)
			mu.Lock()
			outcomes[member] = outcome
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait() // Deliver never returns an error
	return outcomes, nil
}

// RunJanitor probes every connection with a ping at the given interval and
// unregisters those that fail, so stale entries from silent disconnects are
// collected promptly. Blocks until the context is cancelled.
func (h *Hub) RunJanitor(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			h.sweep(ctx)
		}
	}
}

func (h *Hub) sweep(ctx context.Context) {
	ping, err := json.Marshal(notify.Envelope{Type: notify.TypePing, Timestamp: h.clock()})
	if err != nil {
		return
	}

	h.mu.RLock()
	var targets []Connection
	for _, userConns := range h.conns {
		for _, conn := range userConns {
			targets = append(targets, conn)
		}
	}
	h.mu.RUnlock()

	for _, conn := range targets {
		sendCtx, cancel := context.WithTimeout(ctx, h.sendTimeout)
		err := conn.Send(sendCtx, ping)
		cancel()
		if err != nil {
			h.dropConnection(ctx, conn)
		}
	}
}
