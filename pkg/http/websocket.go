package http

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"coachcall-server/pkg/coaching"
	"coachcall-server/pkg/metrics"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Client represents a connected WebSocket client
type Client struct {
	hub    *CoachingHub
	conn   *websocket.Conn
	send   chan []byte
	logger *logrus.Logger
	callID string // If client subscribes to a specific call
}

// CoachingHub manages WebSocket clients and pushes coaching events to them.
// The engine feeds it through the coaching.Publisher interface.
type CoachingHub struct {
	logger          *logrus.Logger
	clients         map[*Client]bool
	callSubscribers map[string]map[*Client]bool
	broadcast       chan *coaching.Event
	register        chan *Client
	unregister      chan *Client
	mutex           sync.RWMutex
	running         bool
}

// WebSocketUpgrader configures the WebSocket connection
var WebSocketUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow all connections
		return true
	},
}

// NewCoachingHub creates a new coaching event hub
func NewCoachingHub(logger *logrus.Logger) *CoachingHub {
	return &CoachingHub{
		logger:          logger,
		clients:         make(map[*Client]bool),
		callSubscribers: make(map[string]map[*Client]bool),
		broadcast:       make(chan *coaching.Event, 64),
		register:        make(chan *Client),
		unregister:      make(chan *Client),
	}
}

// Run starts the coaching hub
func (h *CoachingHub) Run(ctx context.Context) {
	h.logger.Info("Starting WebSocket coaching hub")

	h.mutex.Lock()
	h.running = true
	h.mutex.Unlock()

	defer func() {
		h.mutex.Lock()
		h.running = false
		h.mutex.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("Shutting down WebSocket coaching hub")
			return

		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true

			if client.callID != "" {
				if _, exists := h.callSubscribers[client.callID]; !exists {
					h.callSubscribers[client.callID] = make(map[*Client]bool)
				}
				h.callSubscribers[client.callID][client] = true
				h.logger.WithField("call_id", client.callID).Info("Client subscribed to specific call")
			}

			clientCount := len(h.clients)
			h.mutex.Unlock()

			metrics.SetWSClients(clientCount)
			h.logger.Info("Client connected to WebSocket")

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)

				if client.callID != "" {
					if subscribers, exists := h.callSubscribers[client.callID]; exists {
						delete(subscribers, client)
						if len(subscribers) == 0 {
							delete(h.callSubscribers, client.callID)
						}
					}
				}

				h.logger.Info("Client disconnected from WebSocket")
			}
			clientCount := len(h.clients)
			h.mutex.Unlock()

			metrics.SetWSClients(clientCount)

		case event := <-h.broadcast:
			data, err := json.Marshal(event)
			if err != nil {
				h.logger.WithError(err).Error("Failed to marshal coaching event")
				continue
			}

			h.mutex.Lock()

			// Send to subscribers of this specific call
			if subscribers, exists := h.callSubscribers[event.CallID]; exists && len(subscribers) > 0 {
				for client := range subscribers {
					select {
					case client.send <- data:
					default:
						close(client.send)
						delete(h.clients, client)
						delete(subscribers, client)
					}
				}
			}

			// Also broadcast to clients watching all calls
			for client := range h.clients {
				if client.callID != "" {
					continue
				}

				select {
				case client.send <- data:
				default:
					close(client.send)
					delete(h.clients, client)
				}
			}

			h.mutex.Unlock()
		}
	}
}

// PublishCoachingEvent queues an event for broadcast. Implements
// coaching.Publisher; drops the event when the hub's buffer is full so the
// engine's evaluation path never blocks on slow clients.
func (h *CoachingHub) PublishCoachingEvent(event coaching.Event) {
	select {
	case h.broadcast <- &event:
	default:
		h.logger.WithFields(logrus.Fields{
			"call_id":    event.CallID,
			"event_type": event.Type,
		}).Warn("WebSocket broadcast buffer full, dropping coaching event")
	}
}

// ServeWS handles WebSocket requests from clients
func (h *CoachingHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := WebSocketUpgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Error("Failed to upgrade connection to WebSocket")
		return
	}

	// Optional subscription to a single call
	callID := r.URL.Query().Get("call_id")

	client := &Client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, 256),
		logger: h.logger,
		callID: callID,
	}

	client.hub.register <- client

	go client.writePump()
	go client.readPump()
}

// writePump pumps events from the hub to the WebSocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(60 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				// The hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Add queued messages to the current WebSocket message
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			// Send ping to keep connection alive
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump drains client messages and detects disconnects. Clients don't
// send payloads; the read loop exists so close frames are noticed promptly.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// IsRunning returns true if the hub's event loop is active
func (h *CoachingHub) IsRunning() bool {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.running
}
