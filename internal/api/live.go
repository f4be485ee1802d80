package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jaylee/roadpulse/backend/internal/contracts"
	"github.com/jaylee/roadpulse/backend/pkg/logger"
)

const (
	// Ping/Pong settings
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// Per-client outbound buffer. Slow readers are disconnected
	// rather than allowed to stall the broadcast loop.
	clientBuffer = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// LiveUpdate is the wire format pushed to live feed subscribers.
type LiveUpdate struct {
	Type    string         `json:"type"`
	Segment segmentPayload `json:"segment"`
}

type segmentPayload struct {
	contracts.SegmentSnapshot
	Color contracts.Color `json:"color"`
}

// LiveHub fans published segment snapshots out to websocket clients.
// It is registered as an aggregator publish hook.
type LiveHub struct {
	logger *logger.Logger

	mu      sync.RWMutex
	clients map[*liveClient]struct{}
}

type liveClient struct {
	conn *websocket.Conn
	send chan LiveUpdate
}

// NewLiveHub creates an empty hub.
func NewLiveHub(log *logger.Logger) *LiveHub {
	return &LiveHub{
		logger:  log,
		clients: make(map[*liveClient]struct{}),
	}
}

// Publish broadcasts a snapshot to all connected clients. Never blocks:
// a client whose buffer is full is dropped.
func (h *LiveHub) Publish(snap contracts.SegmentSnapshot) {
	update := LiveUpdate{
		Type:    "segment_update",
		Segment: segmentPayload{SegmentSnapshot: snap, Color: snap.Color()},
	}

	h.mu.RLock()
	var stale []*liveClient
	for c := range h.clients {
		select {
		case c.send <- update:
		default:
			stale = append(stale, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range stale {
		h.remove(c)
		h.logger.Warn("Dropping slow live feed client")
	}
}

// ClientCount returns the number of connected subscribers.
func (h *LiveHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the connection and streams snapshot updates.
// GET /api/v1/segments/live
func (h *LiveHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Warn("Websocket upgrade failed")
		return
	}

	client := &liveClient{
		conn: conn,
		send: make(chan LiveUpdate, clientBuffer),
	}

	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()

	h.logger.WithField("remote", r.RemoteAddr).Debug("Live feed client connected")

	go h.writeLoop(client)
	h.readLoop(client)
}

func (h *LiveHub) remove(c *liveClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
	c.conn.Close()
}

// readLoop discards inbound messages and watches for disconnect.
func (h *LiveHub) readLoop(c *liveClient) {
	defer h.remove(c)

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *LiveHub) writeLoop(c *liveClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		h.remove(c)
	}()

	for {
		select {
		case update, ok := <-c.send:
			if !ok {
				c.conn.WriteControl(websocket.CloseMessage, []byte{}, time.Now().Add(writeWait))
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(update); err != nil {
				return
			}

		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
