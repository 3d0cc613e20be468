package notify

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"trading-desk/internal/observability"
)

// HubConfig configures websocket delivery.
type HubConfig struct {
	// WriteTimeout bounds a single frame write.
	WriteTimeout time.Duration
	// PongWait is how long a client may stay silent before it is dropped.
	PongWait time.Duration
	// PingInterval must be shorter than PongWait.
	PingInterval time.Duration
	// Buffer is the per-client queue length. A full queue drops notifications.
	Buffer int
}

// DefaultHubConfig returns default websocket configuration.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		WriteTimeout: 10 * time.Second,
		PongWait:     60 * time.Second,
		PingInterval: 30 * time.Second,
		Buffer:       64,
	}
}

type hubClient struct {
	conn    *websocket.Conn
	send    chan Notification
	channel string // empty receives every channel
	done    chan struct{}
	once    sync.Once
}

func (c *hubClient) close() {
	c.once.Do(func() { close(c.done) })
}

// Hub streams notifications to websocket clients. A client may subscribe to
// one ticket channel with ?channel=<id>.
type Hub struct {
	config   HubConfig
	logger   *logrus.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*hubClient]struct{}
	closed  bool
}

// NewHub creates a websocket hub.
func NewHub(logger *logrus.Logger, config *HubConfig) *Hub {
	cfg := DefaultHubConfig()
	if config != nil {
		cfg = *config
	}
	return &Hub{
		config: cfg,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[*hubClient]struct{}),
	}
}

// ServeHTTP upgrades the request and serves the client until it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithContext(r.Context()).WithError(err).Warn("websocket upgrade failed")
		return
	}

	c := &hubClient{
		conn:    conn,
		send:    make(chan Notification, h.config.Buffer),
		channel: r.URL.Query().Get("channel"),
		done:    make(chan struct{}),
	}
	if !h.register(c) {
		conn.Close()
		return
	}

	go h.writeLoop(c)
	h.readLoop(c)
}

func (h *Hub) register(c *hubClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	observability.UpdateWebsocketClients(len(h.clients))
	return true
}

func (h *Hub) unregister(c *hubClient) {
	h.mu.Lock()
	delete(h.clients, c)
	observability.UpdateWebsocketClients(len(h.clients))
	h.mu.Unlock()
	c.close()
}

// readLoop discards client frames and detects disconnects.
func (h *Hub) readLoop(c *hubClient) {
	defer func() {
		h.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(h.config.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(h.config.PongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(c *hubClient) {
	ticker := time.NewTicker(h.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case n := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
			if err := c.conn.WriteJSON(n); err != nil {
				h.logger.WithError(err).WithField("object", "hub").Debug("websocket write failed")
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Notify queues n for every subscribed client.
func (h *Hub) Notify(_ context.Context, n Notification) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		if c.channel != "" && c.channel != n.ChannelID {
			continue
		}
		select {
		case c.send <- n:
		default:
			h.logger.WithFields(logrus.Fields{
				"object":  "hub",
				"channel": n.ChannelID,
				"kind":    n.Kind,
			}).Warn("websocket client queue full, notification dropped")
		}
	}
	return nil
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*hubClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}

// Name returns "websocket".
func (h *Hub) Name() string {
	return "websocket"
}

var _ Sink = (*Hub)(nil)
