package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"nhooyr.io/websocket" //nolint:staticcheck // TODO: migrate to github.com/coder/websocket
)

const (
	sendBuffer   = 256
	writeTimeout = 10 * time.Second
)

// subscriber is one destination of hub events.
type subscriber interface {
	sendChannel() chan []byte
	close()
}

// WebSocketHub fans processing and feedback events out to connected
// dashboards. It implements services.Publisher.
type WebSocketHub struct {
	mu      sync.RWMutex
	clients map[subscriber]struct{}

	broadcast  chan any
	register   chan subscriber
	unregister chan subscriber

	allowedHosts []string
	logger       *log.Logger
	ctx          context.Context
	cancel       context.CancelFunc
}

// NewWebSocketHub creates a hub. allowedHosts lists the host:port values
// accepted in the Origin header.
func NewWebSocketHub(logger *log.Logger, allowedHosts ...string) *WebSocketHub {
	if logger == nil {
		logger = log.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &WebSocketHub{
		clients:      make(map[subscriber]struct{}),
		broadcast:    make(chan any, sendBuffer),
		register:     make(chan subscriber),
		unregister:   make(chan subscriber),
		allowedHosts: allowedHosts,
		logger:       logger.WithPrefix("ws"),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Run serves registrations and broadcasts until Stop.
func (h *WebSocketHub) Run() {
	for {
		select {
		case s := <-h.register:
			h.mu.Lock()
			h.clients[s] = struct{}{}
			count := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("client connected", "total", count)

		case s := <-h.unregister:
			h.mu.Lock()
			h.drop(s)
			count := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("client disconnected", "total", count)

		case event := <-h.broadcast:
			data, err := json.Marshal(event)
			if err != nil {
				h.logger.Error("failed to marshal event", "err", err)
				continue
			}
			h.mu.Lock()
			for s := range h.clients {
				select {
				case s.sendChannel() <- data:
				default:
					h.logger.Debug("dropping slow client")
					h.drop(s)
				}
			}
			h.mu.Unlock()

		case <-h.ctx.Done():
			return
		}
	}
}

// drop removes s and closes its send channel. h.mu must be held.
func (h *WebSocketHub) drop(s subscriber) {
	if _, ok := h.clients[s]; ok {
		delete(h.clients, s)
		close(s.sendChannel())
	}
}

// Stop ends Run and disconnects every client.
func (h *WebSocketHub) Stop() {
	h.cancel()

	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.clients {
		h.drop(s)
		s.close()
	}
}

// Broadcast queues event for every client. It never blocks; when the queue
// is full the event is dropped.
func (h *WebSocketHub) Broadcast(event any) {
	select {
	case h.broadcast <- event:
	default:
		h.logger.Warn("broadcast queue full, dropping event")
	}
}

func (h *WebSocketHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *WebSocketHub) Register(s subscriber) {
	select {
	case h.register <- s:
	case <-h.ctx.Done():
	}
}

// Unregister is safe to call more than once and after Stop.
func (h *WebSocketHub) Unregister(s subscriber) {
	select {
	case h.unregister <- s:
	case <-h.ctx.Done():
	}
}

// originAllowed reports whether origin names an allowed host. Non-browser
// clients send no Origin and are accepted.
func (h *WebSocketHub) originAllowed(origin string) bool {
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, host := range h.allowedHosts {
		if u.Host == host {
			return true
		}
	}
	return false
}

// ServeHTTP upgrades the request and registers the connection.
func (h *WebSocketHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.originAllowed(r.Header.Get("Origin")) {
		http.Error(w, "Forbidden: invalid origin", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.allowedHosts})
	if err != nil {
		h.logger.Warn("upgrade failed", "err", err)
		return
	}

	c := &wsClient{hub: h, conn: conn, send: make(chan []byte, sendBuffer)}
	h.Register(c)

	go c.writeLoop()
	go c.readLoop()
}

type wsClient struct {
	hub  *WebSocketHub
	conn *websocket.Conn
	send chan []byte
}

func (c *wsClient) sendChannel() chan []byte { return c.send }

func (c *wsClient) close() {
	_ = c.conn.Close(websocket.StatusNormalClosure, "")
}

func (c *wsClient) writeLoop() {
	defer func() {
		c.hub.Unregister(c)
		c.close()
	}()

	for msg := range c.send {
		ctx, cancel := context.WithTimeout(c.hub.ctx, writeTimeout)
		err := c.conn.Write(ctx, websocket.MessageText, msg)
		cancel()
		if err != nil {
			c.hub.logger.Debug("write failed", "err", err)
			return
		}
	}
}

// readLoop discards client messages; its only job is noticing disconnects.
func (c *wsClient) readLoop() {
	defer func() {
		c.hub.Unregister(c)
		c.close()
	}()

	for {
		if _, _, err := c.conn.Read(c.hub.ctx); err != nil {
			return
		}
	}
}
