package ws

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/scriptdeck/scriptdeck/internal/infrastructure/logging"
	"github.com/scriptdeck/scriptdeck/internal/shared/types"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins in dev
	},
}

// Hub broadcasts execution lifecycle events to connected clients. It
// implements types.EventSink; Emit never blocks on slow readers, it
// disconnects them instead.
type Hub struct {
	log *logging.Logger

	mu    sync.Mutex
	conns map[*client]struct{}
}

type client struct {
	conn *websocket.Conn
	send chan types.Event
}

// NewHub creates an empty hub.
func NewHub(log *logging.Logger) *Hub {
	if log == nil {
		log = logging.NewNop()
	}
	return &Hub{
		log:   log,
		conns: make(map[*client]struct{}),
	}
}

// Emit fans the event out to every connected client.
func (h *Hub) Emit(event types.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for cl := range h.conns {
		select {
		case cl.send <- event:
		default:
			// Reader is not keeping up; drop the connection rather
			// than stall the execution path.
			delete(h.conns, cl)
			close(cl.send)
		}
	}
}

// HandleConnection upgrades the request and streams events until the
// client disconnects.
func (h *Hub) HandleConnection(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	cl := &client{conn: conn, send: make(chan types.Event, 64)}
	h.mu.Lock()
	h.conns[cl] = struct{}{}
	h.mu.Unlock()
	defer h.drop(cl)

	conn.WriteJSON(map[string]interface{}{
		"type":    "system",
		"message": "connected to scriptdeck event stream",
	})

	// Reads only notice disconnects; clients do not send commands.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				h.drop(cl)
				return
			}
		}
	}()

	for event := range cl.send {
		if err := conn.WriteJSON(event); err != nil {
			return
		}
	}
}

// Close disconnects all clients.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for cl := range h.conns {
		delete(h.conns, cl)
		close(cl.send)
	}
}

func (h *Hub) drop(cl *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[cl]; ok {
		delete(h.conns, cl)
		close(cl.send)
	}
}
