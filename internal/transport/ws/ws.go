// Package ws streams every dispatched signal to connected WebSocket clients.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"civitas/internal/bus"
	"civitas/internal/platform/logger"
	"civitas/internal/signal"
)

const (
	DefaultBuffer = 256
	writeWait     = 10 * time.Second
	pongWait      = 60 * time.Second
	pingPeriod    = pongWait * 9 / 10
)

// Observer is a wildcard subscriber that fans signals out to clients. A client
// whose buffer is full is disconnected; dispatch never waits on a socket.
type Observer struct {
	bus      *bus.Bus
	logger   *slog.Logger
	upgrader websocket.Upgrader
	buffer   int

	mu      sync.Mutex
	clients map[*client]struct{}
	sent    recentIDs
	sub     *bus.Subscription
	closed  bool
}

// recentIDs remembers the ids of the last signals fanned out, so a replay
// snapshot can tell which logged signals are still on their way.
type recentIDs struct {
	ids  map[string]struct{}
	ring []string
	next int
}

func newRecentIDs(capacity int) recentIDs {
	return recentIDs{ids: make(map[string]struct{}, capacity), ring: make([]string, capacity)}
}

func (r *recentIDs) add(id string) {
	if old := r.ring[r.next]; old != "" {
		delete(r.ids, old)
	}
	r.ring[r.next] = id
	r.ids[id] = struct{}{}
	r.next = (r.next + 1) % len(r.ring)
}

func (r *recentIDs) has(id string) bool {
	_, ok := r.ids[id]
	return ok
}

type client struct {
	conn     *websocket.Conn
	send     chan []byte
	replayed map[string]struct{}
}

type Option func(*Observer)

func WithLogger(l *slog.Logger) Option {
	return func(o *Observer) {
		o.logger = l
	}
}

// WithBuffer sets how many undelivered messages a client may queue.
func WithBuffer(n int) Option {
	return func(o *Observer) {
		if n > 0 {
			o.buffer = n
		}
	}
}

// WithCheckOrigin overrides the upgrader origin policy. The default accepts
// same-origin requests only.
func WithCheckOrigin(fn func(r *http.Request) bool) Option {
	return func(o *Observer) {
		o.upgrader.CheckOrigin = fn
	}
}

// New subscribes the observer to every signal on b.
func New(b *bus.Bus, opts ...Option) *Observer {
	o := &Observer{
		bus:     b,
		buffer:  DefaultBuffer,
		clients: make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = logger.Discard()
	}
	// Twice the replay window, so concurrent dispatches finishing out of log
	// order are still remembered.
	o.sent = newRecentIDs(2 * o.buffer)
	o.sub = b.Subscribe(signal.Wildcard, o)
	return o
}

// HandleSignal implements bus.Handler.
func (o *Observer) HandleSignal(ctx context.Context, sig signal.Signal) error {
	o.mu.Lock()
	if len(o.clients) == 0 {
		o.sent.add(sig.ID)
		o.mu.Unlock()
		return nil
	}
	o.mu.Unlock()

	msg, err := json.Marshal(sig)
	if err != nil {
		return err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.sent.add(sig.ID)
	for c := range o.clients {
		if _, seen := c.replayed[sig.ID]; seen {
			delete(c.replayed, sig.ID)
			continue
		}
		select {
		case c.send <- msg:
		default:
			o.logger.WarnContext(ctx, "dropping slow signal stream client", "signal_type", sig.Type)
			o.dropLocked(c)
		}
	}
	return nil
}

// ServeHTTP upgrades the connection, replays the recent activity log oldest
// first and then streams live signals.
func (o *Observer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := o.upgrader.Upgrade(w, r, nil)
	if err != nil {
		o.logger.WarnContext(r.Context(), "websocket upgrade failed", "error", err)
		return
	}
	c, ok := o.register(conn)
	if !ok {
		_ = conn.Close()
		return
	}
	go o.writePump(c)
	o.readPump(c)
}

func (o *Observer) register(conn *websocket.Conn) (*client, bool) {
	c := &client{
		conn:     conn,
		send:     make(chan []byte, o.buffer),
		replayed: make(map[string]struct{}),
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil, false
	}
	history := o.bus.RecentActivity()
	slices.Reverse(history)
	if len(history) > o.buffer {
		history = history[len(history)-o.buffer:]
	}
	for _, sig := range history {
		msg, err := json.Marshal(sig)
		if err != nil {
			continue
		}
		c.send <- msg
		// Logged but not yet fanned out: HandleSignal will see it once more
		// and must skip it for this client. Everything else is already done,
		// so the set only ever holds dispatches in flight.
		if !o.sent.has(sig.ID) {
			c.replayed[sig.ID] = struct{}{}
		}
	}
	o.clients[c] = struct{}{}
	return c, true
}

// dropLocked removes c and closes its queue. Callers hold o.mu.
func (o *Observer) dropLocked(c *client) {
	if _, ok := o.clients[c]; !ok {
		return
	}
	delete(o.clients, c)
	close(c.send)
}

func (o *Observer) drop(c *client) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.dropLocked(c)
}

func (o *Observer) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				o.drop(c)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				o.drop(c)
				return
			}
		}
	}
}

// readPump discards client frames; it exists to process control frames and
// notice disconnects.
func (o *Observer) readPump(c *client) {
	defer o.drop(c)
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Clients returns the number of connected clients.
func (o *Observer) Clients() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.clients)
}

// Close unsubscribes from the bus and disconnects every client.
func (o *Observer) Close() {
	o.sub.Unsubscribe()
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
	for c := range o.clients {
		o.dropLocked(c)
	}
}
