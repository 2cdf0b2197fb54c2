// Package hub tracks which agents hold a live push connection and fans
// events out to them. It is transport-agnostic: the websocket layer hands
// it anything that can write JSON frames and close.
package hub

import (
	"log/slog"
	"sync"
)

// Conn is the write side of one push connection.
type Conn interface {
	WriteJSON(v any) error
	Close() error
}

// Client is one attached agent connection. Writes are serialized through
// the client's mutex so the event fan-out and the keepalive path never
// interleave frames on the same socket.
type Client struct {
	AgentID   string
	AgentName string

	conn Conn
	mu   sync.Mutex
}

// NewClient wraps a connection for attachment.
func NewClient(agentID, agentName string, conn Conn) *Client {
	return &Client{AgentID: agentID, AgentName: agentName, conn: conn}
}

// Send writes one JSON frame to the client.
func (c *Client) Send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

// Hub is the registry of attached clients, at most one per agent.
type Hub struct {
	mu      sync.Mutex
	clients map[string]*Client
}

// New returns an empty hub.
func New() *Hub {
	return &Hub{clients: make(map[string]*Client)}
}

// Attach registers a client as the agent's single push connection. A
// previous connection for the same agent is removed from the registry
// first and closed only after, so its reader's detach cannot race away
// the fresh registration.
func (h *Hub) Attach(c *Client) {
	h.mu.Lock()
	prev := h.clients[c.AgentID]
	h.clients[c.AgentID] = c
	h.mu.Unlock()

	if prev != nil && prev != c {
		slog.Debug("replacing push connection", "agent", c.AgentName)
		prev.conn.Close()
	}
}

// Detach removes the client only if it is still the one registered for
// its agent. A reader that lost its slot to a newer connection detaches
// as a no-op.
func (h *Hub) Detach(c *Client) {
	h.mu.Lock()
	if h.clients[c.AgentID] == c {
		delete(h.clients, c.AgentID)
	}
	h.mu.Unlock()
}

// Evict removes whatever connection the agent currently holds and closes
// it. Used when the relay side wants the agent gone regardless of which
// connection is attached.
func (h *Hub) Evict(agentID string) {
	h.mu.Lock()
	c := h.clients[agentID]
	delete(h.clients, agentID)
	h.mu.Unlock()

	if c != nil {
		c.conn.Close()
	}
}

// Send delivers one event to the agent's connection if it has one.
// Returns false when the agent is not attached or the write failed; the
// caller treats delivery as best-effort either way. A failed write evicts
// the connection, since a socket that cannot be written to is dead.
func (h *Hub) Send(agentID string, v any) bool {
	h.mu.Lock()
	c := h.clients[agentID]
	h.mu.Unlock()

	if c == nil {
		return false
	}
	if err := c.Send(v); err != nil {
		slog.Debug("push write failed", "agent", c.AgentName, "error", err)
		h.Evict(agentID)
		return false
	}
	return true
}

// Connected reports whether the agent currently holds a push connection.
func (h *Hub) Connected(agentID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.clients[agentID] != nil
}

// Size returns the number of attached clients.
func (h *Hub) Size() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
