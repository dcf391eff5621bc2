package server

import (
	"sync"

	"go.uber.org/zap"

	"tag-server/internal/protocol"
)

// Hub tracks live connections by id and fans messages out to them
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client

	// Connection limiting (mutex-protected, accessed from HTTP handlers)
	connMu        sync.Mutex
	ipConns       map[string]int
	totalConns    int
	maxConnsPerIP int
	maxTotalConns int

	// onRemove runs once per client, outside the hub lock
	onRemove func(c *Client)
	log      *zap.SugaredLogger
}

// NewHub creates a Hub with the given connection caps
func NewHub(maxConnsPerIP, maxTotalConns int, log *zap.SugaredLogger) *Hub {
	return &Hub{
		clients:       make(map[string]*Client),
		ipConns:       make(map[string]int),
		maxConnsPerIP: maxConnsPerIP,
		maxTotalConns: maxTotalConns,
		log:           log,
	}
}

// OnRemove sets the hook called after a client leaves the hub
func (h *Hub) OnRemove(fn func(c *Client)) {
	h.onRemove = fn
}

func (h *Hub) CanAccept(ip string) bool {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	if h.totalConns >= h.maxTotalConns {
		return false
	}
	if h.ipConns[ip] >= h.maxConnsPerIP {
		return false
	}
	return true
}

func (h *Hub) TrackConnect(ip string) {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	h.ipConns[ip]++
	h.totalConns++
}

func (h *Hub) TrackDisconnect(ip string) {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	h.ipConns[ip]--
	if h.ipConns[ip] <= 0 {
		delete(h.ipConns, ip)
	}
	h.totalConns--
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
}

// remove drops c and closes its send queue. It reports false if c was
// already gone, so the hook fires once however many paths race here.
func (h *Hub) remove(c *Client) bool {
	h.mu.Lock()
	if cur, ok := h.clients[c.id]; !ok || cur != c {
		h.mu.Unlock()
		return false
	}
	delete(h.clients, c.id)
	close(c.send)
	h.mu.Unlock()

	if h.onRemove != nil {
		h.onRemove(c)
	}
	return true
}

// Kick terminates a connection. Its removal hook has run by the time Kick
// returns; the socket itself closes once the write pump drains.
func (h *Hub) Kick(connID string) {
	h.mu.RLock()
	c, ok := h.clients[connID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	if h.remove(c) {
		h.log.Infow("connection kicked", "conn", connID, "account", c.account)
	}
}

// Broadcast sends env to every client except the one named by except.
// Each codec encodes the envelope once.
func (h *Hub) Broadcast(env protocol.Envelope, except string) {
	encoded := make(map[string][]byte, 2)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, c := range h.clients {
		if id == except {
			continue
		}
		data, ok := encoded[c.codec.Name()]
		if !ok {
			var err error
			data, err = c.codec.Encode(env)
			if err != nil {
				h.log.Errorw("encode failed", "type", env.T, "codec", c.codec.Name(), "error", err)
				return
			}
			encoded[c.codec.Name()] = data
		}
		c.queue(data)
	}
}

// SendTo sends env to a single connection; unknown ids are ignored
func (h *Hub) SendTo(connID string, env protocol.Envelope) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.clients[connID]
	if !ok {
		return
	}
	data, err := c.codec.Encode(env)
	if err != nil {
		h.log.Errorw("encode failed", "type", env.T, "codec", c.codec.Name(), "error", err)
		return
	}
	c.queue(data)
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// TotalConns returns the tracked connection count
func (h *Hub) TotalConns() int {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	return h.totalConns
}
