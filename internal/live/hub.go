package live

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/roach88/pagegraph/internal/engine"
	"github.com/roach88/pagegraph/internal/ir"
	"github.com/roach88/pagegraph/internal/metrics"
)

// Message types.
const (
	TypeRegisterPath      = "registerPath"
	TypeUnregisterPath    = "unregisterPath"
	TypeGetDataForPath    = "getDataForPath"
	TypePageQueryResult   = "pageQueryResult"
	TypeStaticQueryResult = "staticQueryResult"
	TypeOverlayError      = "overlayError"
	TypeInvalidate        = "invalidateQueryResults"
)

const (
	writeWait = 10 * time.Second

	// DefaultPongWait is how long a client may stay silent, pongs included.
	DefaultPongWait = 60 * time.Second
)

// Message is the envelope for both directions.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// QueryResult is the payload of pageQueryResult and staticQueryResult.
// Result is null when the query has no cached result.
type QueryResult struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result"`
}

// OverlayError is the payload of overlayError. An empty message clears the
// error for id.
type OverlayError struct {
	ID      string `json:"id"`
	Message string `json:"message,omitempty"`
}

// Sink receives path activation events.
type Sink interface {
	Enqueue(ev engine.Event) bool
}

// SinkFunc adapts a function to Sink. It lets a hub be created before the
// engine it feeds.
type SinkFunc func(ev engine.Event) bool

// Enqueue calls f(ev).
func (f SinkFunc) Enqueue(ev engine.Event) bool {
	return f(ev)
}

type client struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	path      string
	closeOnce sync.Once
	done      chan struct{}
}

// Hub is the set of connected develop clients. It implements engine.Live.
type Hub struct {
	upgrader websocket.Upgrader
	sink     Sink
	logger   *slog.Logger
	metrics  *metrics.Metrics

	pongWait   time.Duration
	pingPeriod time.Duration

	mu      sync.Mutex
	clients map[*client]struct{}
	results map[string]json.RawMessage
	errors  map[string]string
}

var _ engine.Live = (*Hub)(nil)

// Option configures a Hub.
type Option func(*Hub)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Hub) { h.logger = l }
}

// WithMetrics sets the collectors to update.
func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Hub) { h.metrics = m }
}

// WithPongWait sets how long a silent client is kept. Pings go out at nine
// tenths of it, so a client that answers them is never dropped while idle.
func WithPongWait(d time.Duration) Option {
	return func(h *Hub) { h.pongWait = d }
}

// NewHub creates a hub that reports path activity to sink.
func NewHub(sink Sink, opts ...Option) *Hub {
	h := &Hub{
		upgrader: websocket.Upgrader{
			// Develop servers are reached from whatever host the browser used.
			CheckOrigin:     func(*http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		sink:     sink,
		logger:   slog.Default(),
		pongWait: DefaultPongWait,
		clients:  make(map[*client]struct{}),
		results:  make(map[string]json.RawMessage),
		errors:   make(map[string]string),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.metrics == nil {
		h.metrics = metrics.New(nil)
	}
	h.pingPeriod = h.pongWait * 9 / 10
	return h
}

// ServeHTTP upgrades the request and serves the client until it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	c := &client{conn: conn, done: make(chan struct{})}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	pending := make([]OverlayError, 0, len(h.errors))
	for _, id := range sortedKeys(h.errors) {
		pending = append(pending, OverlayError{ID: id, Message: h.errors[id]})
	}
	h.mu.Unlock()

	h.metrics.LiveClients.Set(float64(n))
	h.logger.Debug("client connected", "clients", n)

	for _, oe := range pending {
		h.send(c, TypeOverlayError, oe)
	}
	go h.ping(c)
	h.read(c)
}

func (h *Hub) read(c *client) {
	defer h.remove(c)

	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(h.pongWait))
	})

	for {
		_ = c.conn.SetReadDeadline(time.Now().Add(h.pongWait))
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			h.logger.Debug("ignoring malformed client message", "error", err)
			continue
		}
		var path string
		if len(msg.Payload) > 0 {
			if err := json.Unmarshal(msg.Payload, &path); err != nil {
				h.logger.Debug("ignoring client message payload", "type", msg.Type, "error", err)
				continue
			}
		}

		switch msg.Type {
		case TypeRegisterPath:
			h.activate(c, path)
		case TypeUnregisterPath:
			h.activate(c, "")
		case TypeGetDataForPath:
			h.mu.Lock()
			result := h.results[path]
			h.mu.Unlock()
			h.send(c, TypePageQueryResult, QueryResult{ID: path, Result: result})
		}
	}
}

// ping keeps an idle client's read deadline moving until the client is removed.
func (h *Hub) ping(c *client) {
	ticker := time.NewTicker(h.pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				h.logger.Debug("dropping client after failed ping", "error", err)
				h.remove(c)
				return
			}
		}
	}
}

// activate moves the client's active path. The engine counts activations, so
// every activation is paired with exactly one deactivation.
func (h *Hub) activate(c *client, path string) {
	h.mu.Lock()
	prev := c.path
	c.path = path
	h.mu.Unlock()

	if prev == path {
		return
	}
	if prev != "" {
		h.sink.Enqueue(engine.PathDeactivated(prev))
	}
	if path != "" {
		h.sink.Enqueue(engine.PathActivated(path))
	}
	h.logger.Debug("active path changed", "from", prev, "to", path)
}

func (h *Hub) remove(c *client) {
	c.closeOnce.Do(func() {
		close(c.done)
		h.activate(c, "")

		h.mu.Lock()
		delete(h.clients, c)
		n := len(h.clients)
		h.mu.Unlock()

		h.metrics.LiveClients.Set(float64(n))
		_ = c.conn.Close()
		h.logger.Debug("client disconnected", "clients", n)
	})
}

// EmitResult caches and broadcasts a fresh result. It also clears any
// overlay error for the query.
func (h *Hub) EmitResult(queryID, _ string, result ir.QueryResult) {
	serialized, err := result.Canonical()
	if err != nil {
		h.logger.Error("cannot serialize live result", "query", queryID, "error", err)
		return
	}

	h.mu.Lock()
	h.results[queryID] = serialized
	_, hadError := h.errors[queryID]
	delete(h.errors, queryID)
	h.mu.Unlock()

	if hadError {
		h.broadcast(TypeOverlayError, OverlayError{ID: queryID})
	}
	typ := TypePageQueryResult
	if ir.IsStaticQuery(queryID) {
		typ = TypeStaticQueryResult
	}
	h.broadcast(typ, QueryResult{ID: queryID, Result: serialized})
}

// EmitError shows errs in the client overlay until the query next succeeds.
func (h *Hub) EmitError(queryID string, errs []ir.QueryError) {
	msg := formatErrors(errs)

	h.mu.Lock()
	h.errors[queryID] = msg
	h.mu.Unlock()

	h.broadcast(TypeOverlayError, OverlayError{ID: queryID, Message: msg})
}

// Evict drops the cached result of a query and tells clients to refetch.
func (h *Hub) Evict(queryID string) {
	h.mu.Lock()
	_, cached := h.results[queryID]
	delete(h.results, queryID)
	h.mu.Unlock()

	if cached {
		h.broadcast(TypeInvalidate, []string{queryID})
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	for _, c := range h.snapshot() {
		h.remove(c)
	}
}

func (h *Hub) snapshot() []*client {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		out = append(out, c)
	}
	return out
}

func (h *Hub) broadcast(typ string, payload any) {
	data, err := encode(typ, payload)
	if err != nil {
		h.logger.Error("cannot encode live message", "type", typ, "error", err)
		return
	}
	h.metrics.LiveMessages.WithLabelValues(typ).Inc()

	for _, c := range h.snapshot() {
		if err := c.write(data); err != nil {
			h.logger.Debug("dropping client after failed write", "error", err)
			h.remove(c)
		}
	}
}

func (h *Hub) send(c *client, typ string, payload any) {
	data, err := encode(typ, payload)
	if err != nil {
		h.logger.Error("cannot encode live message", "type", typ, "error", err)
		return
	}
	if err := c.write(data); err != nil {
		h.remove(c)
	}
}

func (c *client) write(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func encode(typ string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", typ, err)
	}
	return json.Marshal(Message{Type: typ, Payload: raw})
}

func formatErrors(errs []ir.QueryError) string {
	parts := make([]string, 0, len(errs))
	for _, e := range errs {
		s := e.Message
		if e.File != "" {
			s = e.File + ": " + s
		}
		if e.Codeframe != "" {
			s += "\n\n" + e.Codeframe
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, "\n\n")
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
