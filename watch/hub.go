// Package watch streams runtime reports to WebSocket clients.
//
// A Hub is an HTTP handler that upgrades each request to a WebSocket and an
// engine.Publisher that fans every published report out to the connected
// clients. Each report is wrapped in an Envelope:
//
//	{"type": "data", "id": "...", "subject": "avflow.health", "timestamp": 1700000000000, "payload": {...}}
//
// A client may narrow what it receives with the subject query parameter,
// which matches subjects by prefix, e.g. /api/watch?subject=avflow.messages.
//
// Publish never blocks on a client. Every client has a bounded queue that
// drops its oldest report when full; a client that stops reading loses
// reports, not the connection.
package watch

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/c360/avflow/errors"
	"github.com/c360/avflow/metric"
	"github.com/c360/avflow/pkg/buffer"
)

const (
	defaultQueueSize    = 256
	defaultPingInterval = 30 * time.Second
	defaultWriteTimeout = 10 * time.Second
	maxReadSize         = 4096
)

// ErrHubClosed is returned by Publish after Close.
var ErrHubClosed = errors.New("watch hub closed")

// Envelope wraps one report sent to a client.
type Envelope struct {
	Type      string          `json:"type"`
	ID        string          `json:"id"`
	Subject   string          `json:"subject"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Hub tracks connected clients and fans reports out to them.
type Hub struct {
	upgrader     websocket.Upgrader
	logger       *slog.Logger
	metrics      *hubMetrics
	queueSize    int
	pingInterval time.Duration
	writeTimeout time.Duration

	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool
	done    chan struct{}
	wg      sync.WaitGroup
}

type client struct {
	conn        *websocket.Conn
	filter      string
	queue       buffer.Buffer[[]byte]
	ready       chan struct{}
	connectedAt time.Time
	sent        atomic.Int64
	closeOnce   sync.Once
}

// Option configures a Hub.
type Option func(*Hub) error

// WithLogger sets the logger. A nil logger keeps the default.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Hub) error {
		if logger != nil {
			h.logger = logger
		}
		return nil
	}
}

// WithQueueSize bounds the reports queued per client.
func WithQueueSize(n int) Option {
	return func(h *Hub) error {
		if n <= 0 {
			return errors.WrapInvalid(errors.ErrValueOutOfRange, "Hub", "WithQueueSize", "queue size must be positive")
		}
		h.queueSize = n
		return nil
	}
}

// WithPingInterval sets how often idle clients are pinged.
func WithPingInterval(d time.Duration) Option {
	return func(h *Hub) error {
		if d <= 0 {
			return errors.WrapInvalid(errors.ErrValueOutOfRange, "Hub", "WithPingInterval", "ping interval must be positive")
		}
		h.pingInterval = d
		return nil
	}
}

// WithOriginCheck replaces the default, which accepts every origin.
func WithOriginCheck(check func(*http.Request) bool) Option {
	return func(h *Hub) error {
		h.upgrader.CheckOrigin = check
		return nil
	}
}

// WithMetrics registers hub metrics. A nil registry disables them.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(h *Hub) error {
		if registry == nil {
			return nil
		}
		m, err := newHubMetrics(registry)
		if err != nil {
			return err
		}
		h.metrics = m
		return nil
	}
}

// NewHub creates a hub with no clients.
func NewHub(opts ...Option) (*Hub, error) {
	h := &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger:       slog.Default().With("component", "watch"),
		queueSize:    defaultQueueSize,
		pingInterval: defaultPingInterval,
		writeTimeout: defaultWriteTimeout,
		clients:      make(map[*client]struct{}),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		if err := opt(h); err != nil {
			return nil, errors.WrapInvalid(err, "Hub", "NewHub", "apply option")
		}
	}
	return h, nil
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and keeps the client until it disconnects
// or the hub closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	closed := h.closed
	h.mu.RUnlock()
	if closed {
		http.Error(w, ErrHubClosed.Error(), http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already answered the request
		h.metrics.recordError("upgrade")
		h.logger.Debug("WebSocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := &client{
		conn:        conn,
		filter:      r.URL.Query().Get("subject"),
		ready:       make(chan struct{}, 1),
		connectedAt: time.Now(),
	}
	c.queue, err = buffer.NewCircularBuffer[[]byte](h.queueSize,
		buffer.WithOverflowPolicy[[]byte](buffer.DropOldest),
		buffer.WithDropCallback[[]byte](func([]byte) { h.metrics.recordDrop() }),
	)
	if err != nil {
		h.metrics.recordError("queue")
		_ = conn.Close()
		return
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	count := len(h.clients)
	h.wg.Add(2)
	h.mu.Unlock()

	h.metrics.recordConnect(count)
	h.logger.Debug("Watch client connected", "remote", r.RemoteAddr, "filter", c.filter)

	go h.readLoop(c)
	go h.writeLoop(c)
}

// readLoop discards client frames so pongs and close frames are handled.
func (h *Hub) readLoop(c *client) {
	defer h.wg.Done()
	defer h.remove(c)

	c.conn.SetReadLimit(maxReadSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(2 * h.pingInterval))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(2 * h.pingInterval))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writeLoop is the only writer on c.conn.
func (h *Hub) writeLoop(c *client) {
	defer h.wg.Done()
	defer h.remove(c)

	ping := time.NewTicker(h.pingInterval)
	defer ping.Stop()
	for {
		select {
		case <-h.done:
			deadline := time.Now().Add(h.writeTimeout)
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), deadline)
			return
		case <-ping.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.writeTimeout)); err != nil {
				return
			}
		case <-c.ready:
			for {
				data, ok := c.queue.Read()
				if !ok {
					break
				}
				_ = c.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
				if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
					h.metrics.recordError("write")
					return
				}
				c.sent.Add(1)
				h.metrics.recordSent(len(data))
			}
		}
	}
}

func (h *Hub) remove(c *client) {
	c.closeOnce.Do(func() {
		h.mu.Lock()
		delete(h.clients, c)
		count := len(h.clients)
		h.mu.Unlock()

		_ = c.queue.Close()
		_ = c.conn.Close()
		h.metrics.recordDisconnect(count)
		h.logger.Debug("Watch client disconnected",
			"sent", c.sent.Load(), "connected_for", time.Since(c.connectedAt))
	})
}

// Publish queues one report for every client whose filter matches subject.
// data must be JSON.
func (h *Hub) Publish(_ context.Context, subject string, data []byte) error {
	env, err := json.Marshal(Envelope{
		Type:      "data",
		ID:        uuid.NewString(),
		Subject:   subject,
		Timestamp: time.Now().UnixMilli(),
		Payload:   json.RawMessage(data),
	})
	if err != nil {
		return errors.WrapInvalid(err, "Hub", "Publish", "encode envelope")
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return ErrHubClosed
	}
	for c := range h.clients {
		if !strings.HasPrefix(subject, c.filter) {
			continue
		}
		if err := c.queue.Write(env); err != nil {
			continue
		}
		select {
		case c.ready <- struct{}{}:
		default:
		}
	}
	h.metrics.recordPublished()
	return nil
}

// Close disconnects every client and waits for their loops to exit. Later
// calls return nil.
func (h *Hub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	close(h.done)
	h.mu.Unlock()

	h.wg.Wait()
	return nil
}
