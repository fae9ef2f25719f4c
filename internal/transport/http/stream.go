package httptransport

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/mssola/useragent"

	id "splitledger/pkg/domain"
)

// streamConn adapts one server-sent-events request into a hub connection.
// Send hands the payload to the writer goroutine; it fails when the buffer is
// full and the context expires first, which is exactly the slow-consumer
// signal the hub uses to drop the connection.
type streamConn struct {
	id     id.ConnectionID
	userID id.UserID
	device string

	out  chan []byte
	done chan struct{}
	once sync.Once
}

func newStreamConn(userID id.UserID, device string) *streamConn {
	return &streamConn{
		id:     id.NewConnectionID(),
		userID: userID,
		device: device,
		out:    make(chan []byte, 16),
		done:   make(chan struct{}),
	}
}

func (c *streamConn) ID() id.ConnectionID { return c.id }
func (c *streamConn) UserID() id.UserID   { return c.userID }

func (c *streamConn) Send(ctx context.Context, payload []byte) error {
	select {
	case c.out <- payload:
		return nil
	case <-c.done:
		return fmt.Errorf("connection closed")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *streamConn) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

// handleEventStream registers a live connection for the authenticated user
// and streams events until the client goes away. The device label is parsed
// from the User-Agent for the hub's logs.
func (h *Handler) handleEventStream(w http.ResponseWriter, r *http.Request) {
	user, err := userID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	conn := newStreamConn(user, deviceLabel(r.UserAgent()))
	h.hub.Register(conn)
	defer func() {
		h.hub.Unregister(conn)
		_ = conn.Close()
	}()

	if h.logger != nil {
		h.logger.Debug("event stream opened", "user_id", user, "device", conn.device)
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-conn.done:
			return
		case payload := <-conn.out:
			if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// deviceLabel condenses the User-Agent into a short human-readable label.
func deviceLabel(ua string) string {
	if ua == "" {
		return "unknown"
	}
	parsed := useragent.New(ua)
	name, _ := parsed.Browser()
	label := parsed.OSInfo().Name
	if name != "" {
		if label != "" {
			label += "/"
		}
		label += name
	}
	if parsed.Mobile() {
		label += " (mobile)"
	}
	if label == "" {
		return "unknown"
	}
	return label
}
