package realtime

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/clawboard/internal/observability"
)

const (
	EventRunsChanged      = "runs.changed"
	EventApprovalsChanged = "approvals.changed"
	EventTasksChanged     = "tasks.changed"
	EventChecklistChanged = "task.checklist.changed"
	EventSessionChanged   = "task.session.changed"
	EventDocsChanged      = "docs.changed"
)

// Publisher is what producers see of the hub.
type Publisher interface {
	Publish(eventType string, payload any)
}

// Event is the JSON envelope carried in every frame.
type Event struct {
	TS      int64  `json:"ts"`
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type HubOptions struct {
	Heartbeat   time.Duration
	Buffer      int
	Logger      *slog.Logger
	Metrics     *observability.Metrics
	CheckOrigin func(r *http.Request) bool
}

type frame struct {
	eventType string
	data      []byte
}

type client struct {
	kind     string
	ch       chan frame
	done     chan struct{}
	doneOnce sync.Once
}

func (c *client) close() {
	c.doneOnce.Do(func() { close(c.done) })
}

// Hub fans events out to connected SSE and websocket clients. Every client
// owns a buffered queue drained by its own writer, so a slow or dead
// connection is dropped without delaying anyone else.
type Hub struct {
	mu        sync.RWMutex
	clients   map[*client]struct{}
	closed    bool
	heartbeat time.Duration
	buffer    int
	logger    *slog.Logger
	metrics   *observability.Metrics
	upgrader  websocket.Upgrader
	now       func() time.Time
}

func NewHub(opts HubOptions) *Hub {
	heartbeat := opts.Heartbeat
	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}
	buffer := opts.Buffer
	if buffer <= 0 {
		buffer = 64
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	checkOrigin := opts.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &Hub{
		clients:   make(map[*client]struct{}),
		heartbeat: heartbeat,
		buffer:    buffer,
		logger:    logger,
		metrics:   opts.Metrics,
		now:       time.Now,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin,
		},
	}
}

// Publish encodes the event once and queues it on every client. Payloads that
// fail to encode are logged and skipped.
func (h *Hub) Publish(eventType string, payload any) {
	if h == nil {
		return
	}
	if payload == nil {
		payload = map[string]any{}
	}
	data, err := json.Marshal(Event{TS: h.now().UnixMilli(), Type: eventType, Payload: payload})
	if err != nil {
		h.logger.Error("realtime encode failed", "event", eventType, "error", err)
		return
	}
	h.metrics.ObserveRealtimeEvent(eventType)

	f := frame{eventType: eventType, data: data}
	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		select {
		case <-c.done:
		case c.ch <- f:
		default:
			h.logger.Warn("realtime client dropped", "kind", c.kind, "reason", "buffer_full")
			h.metrics.ObserveRealtimeDrop()
			h.remove(c)
		}
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := h.clients
	h.clients = make(map[*client]struct{})
	h.mu.Unlock()
	for c := range clients {
		c.close()
	}
	h.metrics.SetRealtimeClients(0)
}

func (h *Hub) add(kind string) (*client, bool) {
	c := &client{kind: kind, ch: make(chan frame, h.buffer), done: make(chan struct{})}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, false
	}
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.metrics.SetRealtimeClients(n)
	return c, true
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()
	c.close()
	if ok {
		h.metrics.SetRealtimeClients(n)
	}
}

// ServeSSE streams events as text/event-stream until the request context
// ends, the client is dropped or the hub closes.
func (h *Hub) ServeSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	c, ok := h.add("sse")
	if !ok {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	defer h.remove(c)

	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if _, err := fmt.Fprintf(w, "retry: 3000\n\n"); err != nil {
		return
	}
	flusher.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-c.done:
			return
		case f := <-c.ch:
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", f.eventType, f.data); err != nil {
				h.logger.Debug("realtime sse write failed", "error", err)
				return
			}
			flusher.Flush()
		case t := <-ticker.C:
			if _, err := fmt.Fprintf(w, ": ping %d\n\n", t.UnixMilli()); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// ServeWS mirrors the SSE stream over a websocket. Each text message is one
// Event envelope. Inbound messages are read only to notice disconnects.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	c, ok := h.add("ws")
	if !ok {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(time.Second))
		return
	}
	defer h.remove(c)

	readTimeout := 3 * h.heartbeat
	conn.SetReadLimit(4 << 10)
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	go func() {
		defer c.close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-c.done:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return
		case f := <-c.ch:
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, f.data); err != nil {
				h.logger.Debug("realtime ws write failed", "error", err)
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		}
	}
}
