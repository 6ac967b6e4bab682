// Package realtime streams platform activity to operator dashboards over
// WebSocket: reservation lifecycle events, recorded payments, and
// subscription billing transitions, so the dashboard never polls.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/innkeep/innkeep/internal/metrics"
)

// EventType labels a realtime event stream.
type EventType string

const (
	EventReservation  EventType = "reservation"
	EventPayment      EventType = "payment"
	EventSubscription EventType = "subscription"
)

// Event is one message pushed to subscribed clients.
type Event struct {
	Type      EventType   `json:"type"`
	SiteID    string      `json:"siteId,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// Subscription narrows what a client receives. A zero Subscription, like
// AllEvents, matches everything.
type Subscription struct {
	AllEvents  bool        `json:"allEvents"`
	EventTypes []EventType `json:"eventTypes"`
	SiteIDs    []string    `json:"siteIds"`
}

func (s Subscription) matches(e *Event) bool {
	if s.AllEvents {
		return true
	}
	if len(s.EventTypes) > 0 && !containsType(s.EventTypes, e.Type) {
		return false
	}
	if len(s.SiteIDs) > 0 && !containsString(s.SiteIDs, e.SiteID) {
		return false
	}
	return true
}

func containsType(ts []EventType, t EventType) bool {
	for _, v := range ts {
		if v == t {
			return true
		}
	}
	return false
}

func containsString(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

const (
	// MaxClients caps concurrent WebSocket connections.
	MaxClients = 10000

	writeDeadline = 10 * time.Second
	pongDeadline  = 60 * time.Second
	pingInterval  = 30 * time.Second
	maxReadBytes  = 512 * 1024
)

var expectedCloseCodes = []int{
	websocket.CloseNormalClosure,
	websocket.CloseGoingAway,
	websocket.CloseNoStatusReceived,
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			// Non-browser clients send no Origin.
			return true
		}
		return origin == "http://"+r.Host || origin == "https://"+r.Host
	},
}

// Client is one WebSocket connection and its subscription.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	mu   sync.RWMutex
	sub  Subscription
}

// Hub fans events out to connected clients.
type Hub struct {
	mu       sync.RWMutex
	clients  map[*Client]bool
	events   chan *Event
	joins    chan *Client
	leaves   chan *Client
	logger   *slog.Logger
	stopped  chan struct{} // closed when Run exits; blocks late upgrades
	capacity int

	totalEvents  atomic.Int64
	totalClients atomic.Int64
	peakClients  atomic.Int64
}

// NewHub creates an idle hub; Run starts the fan-out loop.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients:  make(map[*Client]bool),
		events:   make(chan *Event, 256),
		joins:    make(chan *Client),
		leaves:   make(chan *Client),
		logger:   logger,
		stopped:  make(chan struct{}),
		capacity: MaxClients,
	}
}

// Run owns the client set. Call in a goroutine; returns when ctx ends,
// closing every client connection.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("realtime hub started")
	defer close(h.stopped)

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case c := <-h.joins:
			h.addClient(c)
		case c := <-h.leaves:
			h.dropClient(c)
		case e := <-h.events:
			h.fanOut(e)
		}
	}
}

func (h *Hub) closeAll() {
	h.logger.Info("realtime hub shutting down, closing client connections")
	h.mu.Lock()
	for c := range h.clients {
		close(c.send) // writePump sends the close frame
		delete(h.clients, c)
	}
	h.mu.Unlock()
	metrics.ActiveWebSocketClients.Set(0)
	h.logger.Info("realtime hub stopped")
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	h.clients[c] = true
	h.totalClients.Add(1)
	if n := int64(len(h.clients)); n > h.peakClients.Load() {
		h.peakClients.Store(n)
	}
	n := len(h.clients)
	h.mu.Unlock()
	metrics.ActiveWebSocketClients.Set(float64(n))
	h.logger.Info("client connected", "total", n)
}

func (h *Hub) dropClient(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	metrics.ActiveWebSocketClients.Set(float64(n))
	h.logger.Info("client disconnected", "total", n)
}

// fanOut delivers e to every matching client. Clients whose send buffer
// is full are dropped rather than allowed to stall the loop.
func (h *Hub) fanOut(e *Event) {
	h.totalEvents.Add(1)
	payload, _ := json.Marshal(e)

	h.mu.RLock()
	var stalled []*Client
	for c := range h.clients {
		c.mu.RLock()
		sub := c.sub
		c.mu.RUnlock()
		if !sub.matches(e) {
			continue
		}
		select {
		case c.send <- payload:
		default:
			stalled = append(stalled, c)
		}
	}
	h.mu.RUnlock()

	if len(stalled) == 0 {
		return
	}
	h.mu.Lock()
	for _, c := range stalled {
		if _, ok := h.clients[c]; ok {
			close(c.send)
			delete(h.clients, c)
		}
	}
	h.mu.Unlock()
}

// Broadcast queues an event; drops it if the queue is full.
func (h *Hub) Broadcast(e *Event) {
	select {
	case h.events <- e:
	default:
		h.logger.Warn("broadcast channel full, dropping event")
	}
}

// BroadcastReservation pushes a reservation lifecycle event.
func (h *Hub) BroadcastReservation(siteID string, data map[string]interface{}) {
	h.Broadcast(&Event{Type: EventReservation, SiteID: siteID, Timestamp: time.Now(), Data: data})
}

// BroadcastPayment pushes a recorded payment event.
func (h *Hub) BroadcastPayment(siteID string, data map[string]interface{}) {
	h.Broadcast(&Event{Type: EventPayment, SiteID: siteID, Timestamp: time.Now(), Data: data})
}

// BroadcastSubscription pushes a subscription billing event.
func (h *Hub) BroadcastSubscription(siteID string, data map[string]interface{}) {
	h.Broadcast(&Event{Type: EventSubscription, SiteID: siteID, Timestamp: time.Now(), Data: data})
}

// Stats reports connection and event counters.
func (h *Hub) Stats() map[string]interface{} {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return map[string]interface{}{
		"connectedClients": len(h.clients),
		"totalEvents":      h.totalEvents.Load(),
		"totalClients":     h.totalClients.Load(),
		"peakClients":      h.peakClients.Load(),
	}
}

// HandleWebSocket upgrades the request and hands the connection to the
// hub. New clients start subscribed to everything; they narrow the feed
// by sending a Subscription message.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	select {
	case <-h.stopped:
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	h.mu.RLock()
	n := len(h.clients)
	h.mu.RUnlock()
	if n >= h.capacity {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	c := &Client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, 256),
		sub:  Subscription{AllEvents: true},
	}
	h.joins <- c

	go c.writePump()
	go c.readPump()
}

// readPump consumes subscription updates until the peer goes away.
func (c *Client) readPump() {
	defer func() {
		c.hub.leaves <- c
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxReadBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongDeadline))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongDeadline))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, expectedCloseCodes...) {
				c.hub.logger.Warn("websocket read error", "error", err)
			}
			return
		}
		var sub Subscription
		if err := json.Unmarshal(message, &sub); err == nil {
			c.mu.Lock()
			c.sub = sub
			c.mu.Unlock()
		}
	}
}

// writePump drains the send buffer and keeps the connection alive with
// pings. A closed send channel means the hub dropped this client.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.hub.logger.Warn("websocket write error", "error", err)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.hub.logger.Debug("websocket ping failed", "error", err)
				return
			}
		}
	}
}
