package broadcast

import (
	"net/http"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"streamhub/internal/metrics"
	logx "streamhub/pkg/logx"
)

// Hub is the registry of live clients.
type Hub struct {
	log      logx.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]*Client
	// onConnect runs after a client registers, e.g. to push current state.
	onConnect func(c *Client)
}

func NewHub(log logx.Logger) *Hub {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Hub{
		log:     log.Component("hub"),
		clients: map[string]*Client{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Overlays are loaded from local files and browser sources.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// OnConnect sets a hook that runs for every new client.
func (h *Hub) OnConnect(fn func(c *Client)) {
	h.mu.Lock()
	h.onConnect = fn
	h.mu.Unlock()
}

// ServeHTTP upgrades the request and starts the client pumps.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("websocket upgrade failed", logx.Err(err))
		return
	}
	c := newClient(uuid.NewString(), h, conn, h.log)
	h.register(c)
	go c.writePump()
	go c.readPump()
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c.id] = c
	n := len(h.clients)
	hook := h.onConnect
	h.mu.Unlock()
	metrics.ClientsConnected.Set(float64(n))
	h.log.Debug("client connected", logx.String("client", c.id), logx.Int("clients", n))
	if hook != nil {
		hook(c)
	}
}

// Unregister removes and closes a client. It is safe to call more than once.
func (h *Hub) Unregister(id string) {
	h.mu.Lock()
	c, ok := h.clients[id]
	if ok {
		delete(h.clients, id)
	}
	n := len(h.clients)
	h.mu.Unlock()
	if !ok {
		return
	}
	c.close()
	metrics.ClientsConnected.Set(float64(n))
	h.log.Debug("client disconnected", logx.String("client", id), logx.Int("clients", n))
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// IDs returns the registered client ids in sorted order.
func (h *Hub) IDs() []string {
	h.mu.RLock()
	out := make([]string, 0, len(h.clients))
	for id := range h.clients {
		out = append(out, id)
	}
	h.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Offer hands msg to every client without blocking and returns how many
// accepted it.
func (h *Hub) Offer(msg []byte) int {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, c := range clients {
		if c.offer(msg) {
			delivered++
		} else {
			metrics.BroadcastSkipped.Inc()
		}
	}
	return delivered
}

// Send offers msg to a single client.
func (c *Client) Send(msg []byte) bool { return c.offer(msg) }

// CloseAll disconnects every client.
func (h *Hub) CloseAll() {
	for _, id := range h.IDs() {
		h.Unregister(id)
	}
}
