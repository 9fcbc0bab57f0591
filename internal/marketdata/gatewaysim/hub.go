package gatewaysim

import (
	"sync"

	"github.com/gorilla/websocket"
)

// hub tracks push clients. Each client has its own buffered send queue
// drained by a write pump.
type hub struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]chan []byte
}

func newHub() *hub {
	return &hub{clients: make(map[*websocket.Conn]chan []byte)}
}

func (h *hub) register(conn *websocket.Conn) chan []byte {
	ch := make(chan []byte, 256)
	h.mu.Lock()
	h.clients[conn] = ch
	h.mu.Unlock()
	return ch
}

func (h *hub) unregister(conn *websocket.Conn) {
	h.mu.Lock()
	if ch, ok := h.clients[conn]; ok {
		close(ch)
		delete(h.clients, conn)
	}
	h.mu.Unlock()
}

// broadcast queues msg for every client and returns how many accepted it.
// A full queue drops the frame for that client.
func (h *hub) broadcast(msg []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, ch := range h.clients {
		select {
		case ch <- msg:
			n++
		default:
		}
	}
	return n
}

func (h *hub) len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// dropAll closes every client connection; their pumps unregister them.
func (h *hub) dropAll() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for conn := range h.clients {
		conn.Close()
	}
}
