package telemetry

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/discord-voice-scribe/internal/logging"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Hub fans caption lines out to connected websocket clients. Slow clients
// are dropped rather than allowed to stall the broadcast.
type Hub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]chan []byte
}

func NewHub() *Hub {
	return &Hub{clients: make(map[*websocket.Conn]chan []byte)}
}

// BroadcastJSON encodes v and queues it to every connected client.
func (h *Hub) BroadcastJSON(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		logging.Warnw("telemetry broadcast encode failed", "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn, out := range h.clients {
		select {
		case out <- data:
		default:
			logging.Warnw("dropping slow telemetry client", "remote", conn.RemoteAddr().String())
			delete(h.clients, conn)
			close(out)
		}
	}
}

// ServeHTTP upgrades the request to a websocket and streams broadcasts
// until the client disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warnw("websocket upgrade failed", "error", err)
		return
	}

	out := make(chan []byte, 32)
	h.mu.Lock()
	h.clients[conn] = out
	h.mu.Unlock()
	logging.Debugw("telemetry client connected", "remote", conn.RemoteAddr().String())

	go h.readLoop(conn)
	for data := range out {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			break
		}
	}
	h.drop(conn)
}

// readLoop discards client frames so pings and close frames are processed.
func (h *Hub) readLoop(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			h.drop(conn)
			return
		}
	}
}

func (h *Hub) drop(conn *websocket.Conn) {
	h.mu.Lock()
	if out, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		close(out)
	}
	h.mu.Unlock()
	conn.Close()
}

// ClientCount reports the number of connected websocket clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
