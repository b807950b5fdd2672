package ingest

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nicktill/solarlog/pkg/config"
	"github.com/nicktill/solarlog/pkg/logger"
	"github.com/nicktill/solarlog/pkg/telemetry"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		// Same origin, or no Origin header (curl, device tools)
		return origin == "" || origin == "http://"+r.Host || origin == "https://"+r.Host
	},
	ReadBufferSize:  config.WSReadBufferSize,
	WriteBufferSize: config.WSWriteBufferSize,
}

// StateUpdate is pushed to websocket clients after every stored sample and
// periodically with the current snapshot
type StateUpdate struct {
	Type      string           `json:"type"`
	Kind      string           `json:"kind,omitempty"`
	Reason    string           `json:"reason,omitempty"`
	Count     int              `json:"record_count,omitempty"`
	Timestamp int64            `json:"timestamp"`
	State     telemetry.Sample `json:"state"`
}

type client struct {
	id   string
	conn *websocket.Conn
}

// StateHub manages websocket connections for the live dashboard
type StateHub struct {
	clients    map[*websocket.Conn]string
	register   chan client
	unregister chan *websocket.Conn
	broadcast  chan []byte

	log *logger.Logger
	mu  sync.RWMutex
}

// NewStateHub creates a new websocket hub
func NewStateHub(log *logger.Logger) *StateHub {
	if log == nil {
		log = logger.Nop()
	}
	return &StateHub{
		clients:    make(map[*websocket.Conn]string),
		register:   make(chan client, config.WSChannelBuffer),
		unregister: make(chan *websocket.Conn, config.WSChannelBuffer),
		broadcast:  make(chan []byte, config.WSBroadcastBuffer),
		log:        log,
	}
}

// Run starts the hub's main loop
func (h *StateHub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for conn := range h.clients {
				conn.Close()
			}
			h.clients = make(map[*websocket.Conn]string)
			h.mu.Unlock()
			return
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c.conn] = c.id
			count := len(h.clients)
			h.mu.Unlock()
			h.log.Infow("ws_client_connected", "client_id", c.id, "total", count)
		case conn := <-h.unregister:
			h.mu.Lock()
			id, ok := h.clients[conn]
			if ok {
				delete(h.clients, conn)
				conn.Close()
			}
			count := len(h.clients)
			h.mu.Unlock()
			if ok {
				h.log.Infow("ws_client_disconnected", "client_id", id, "total", count)
			}
		case message := <-h.broadcast:
			h.mu.RLock()
			var failed []*websocket.Conn
			for conn, id := range h.clients {
				conn.SetWriteDeadline(time.Now().Add(config.WSWriteDeadline))
				if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
					h.log.Warnw("ws_write_failed", "client_id", id, "err", err)
					failed = append(failed, conn)
				}
			}
			h.mu.RUnlock()

			// Unregister without holding the lock; the channel may be full
			for _, conn := range failed {
				h.release(conn)
			}
		}
	}
}

// Broadcast queues update for every connected client. It never blocks:
// when the queue is full the update is dropped.
func (h *StateHub) Broadcast(update StateUpdate) error {
	if update.Timestamp == 0 {
		update.Timestamp = time.Now().Unix()
	}
	message, err := json.Marshal(update)
	if err != nil {
		return err
	}

	select {
	case h.broadcast <- message:
	default:
		h.log.Warnw("ws_broadcast_dropped", "type", update.Type)
	}
	return nil
}

// HasClients returns true if there are any connected websocket clients
func (h *StateHub) HasClients() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients) > 0
}

// ClientCount returns the number of connected clients
func (h *StateHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// release hands conn to Run for removal. When the hub is not draining its
// queue the connection is closed directly.
func (h *StateHub) release(conn *websocket.Conn) {
	select {
	case h.unregister <- conn:
	default:
		conn.Close()
	}
}

// HandleWebSocket upgrades the request and streams state updates until the
// client goes away. The current snapshot is sent right after connecting.
func (h *Handler) HandleWebSocket(hub *StateHub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.log.Warnw("ws_upgrade_failed", "err", err)
			return
		}

		id := uuid.NewString()

		conn.SetWriteDeadline(time.Now().Add(config.WSWriteDeadline))
		if err := conn.WriteJSON(StateUpdate{
			Type:      "snapshot",
			Timestamp: time.Now().Unix(),
			State:     h.engine.Current(),
		}); err != nil {
			h.log.Warnw("ws_initial_write_failed", "client_id", id, "err", err)
			conn.Close()
			return
		}

		select {
		case hub.register <- client{id: id, conn: conn}:
		default:
			h.log.Warnw("ws_register_dropped", "client_id", id, "reason", "hub queue full")
			conn.Close()
			return
		}

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Ping sender keeps the connection alive through proxies
		go func() {
			ticker := time.NewTicker(config.WSPingInterval)
			defer ticker.Stop()

			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					// WriteControl is safe alongside the hub's writes
					deadline := time.Now().Add(config.WSWriteDeadline)
					if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
						return
					}
				}
			}
		}()

		defer func() {
			cancel()
			hub.release(conn)
		}()

		conn.SetReadDeadline(time.Now().Add(config.WSReadDeadline))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(config.WSReadDeadline))
			return nil
		})

		// Read loop only handles control frames and detects close
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					h.log.Warnw("ws_read_failed", "client_id", id, "err", err)
				}
				break
			}
		}
	}
}
