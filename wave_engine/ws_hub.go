package main

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nexshift/waveengine/wave_engine/observability"
	"github.com/nexshift/waveengine/wave_engine/store"
)

const maxWSConnections = 200

// IntentHub streams freshly-emitted notification intents to connected
// dispatcher clients over WebSocket. Clients may subscribe to a single
// station or, with an empty filter, to everything.
type IntentHub struct {
	// clients maps connection to its station filter ("" = all stations)
	clients    map[*websocket.Conn]string
	register   chan registration
	unregister chan *websocket.Conn
	intents    chan *store.NotificationIntent
	mu         sync.RWMutex
}

type registration struct {
	conn      *websocket.Conn
	stationID string
}

func NewIntentHub() *IntentHub {
	return &IntentHub{
		clients:    make(map[*websocket.Conn]string),
		register:   make(chan registration),
		unregister: make(chan *websocket.Conn),
		intents:    make(chan *store.NotificationIntent, 64),
	}
}

// Run starts the hub's main loop.
func (h *IntentHub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return

		case reg := <-h.register:
			h.mu.Lock()
			// Connection cap to prevent overload
			if len(h.clients) >= maxWSConnections {
				h.mu.Unlock()
				reg.conn.Close()
				log.Printf("WebSocket connection rejected: max connections (%d) reached", maxWSConnections)
				continue
			}
			h.clients[reg.conn] = reg.stationID
			total := len(h.clients)
			h.mu.Unlock()
			observability.ConnectedWatchers.Set(float64(total))
			log.Printf("WebSocket client registered, station=%q, total=%d", reg.stationID, total)

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			total := len(h.clients)
			h.mu.Unlock()
			observability.ConnectedWatchers.Set(float64(total))
			log.Printf("WebSocket client unregistered, total=%d", total)

		case intent := <-h.intents:
			h.broadcastIntent(intent)
		}
	}
}

func (h *IntentHub) broadcastIntent(intent *store.NotificationIntent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for conn, stationID := range h.clients {
		if stationID != "" && stationID != intent.StationID {
			continue
		}
		// Write deadline prevents blocking on dead connections
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteJSON(intent); err != nil {
			log.Printf("WebSocket write error: %v", err)
			go h.Unregister(conn)
		}
	}
}

func (h *IntentHub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()

	log.Printf("Shutting down WebSocket hub with %d clients", len(h.clients))
	for conn := range h.clients {
		conn.Close()
	}
	h.clients = make(map[*websocket.Conn]string)
	observability.ConnectedWatchers.Set(0)
}

// Broadcast queues an intent for delivery; drops it if the hub is saturated.
func (h *IntentHub) Broadcast(intent *store.NotificationIntent) {
	select {
	case h.intents <- intent:
	default:
		log.Printf("WebSocket hub saturated, dropping broadcast of intent %s", intent.IntentID)
	}
}

// Register adds a new client connection.
func (h *IntentHub) Register(conn *websocket.Conn, stationID string) {
	h.register <- registration{conn: conn, stationID: stationID}
}

// Unregister removes a client connection.
func (h *IntentHub) Unregister(conn *websocket.Conn) {
	h.unregister <- conn
}

// ClientCount returns the number of connected clients.
func (h *IntentHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
