package broadcast

import (
	"log/slog"
	"sync"

	"github.com/example/shuttle-presence/internal/models"
	"github.com/example/shuttle-presence/internal/observability"
)

// wire is the write half of a connection. *websocket.Conn satisfies it.
type wire interface {
	WriteJSON(v any) error
}

// Client is one connected user session on the broadcast group.
type Client struct {
	UserID string
	Role   models.Role

	mu   sync.Mutex
	conn wire
}

func NewClient(userID string, role models.Role, conn wire) *Client {
	return &Client{UserID: userID, Role: role, conn: conn}
}

// Send serializes writes; gorilla/websocket allows one concurrent writer.
func (c *Client) Send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

// Registry is the broadcast group: the set of currently connected clients.
// Membership changes under lock; fan-out walks a point-in-time copy of the
// set so clients joining mid-broadcast get the next cycle, never a torn one.
type Registry struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	logger  *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{clients: make(map[*Client]struct{}), logger: logger}
}

func (r *Registry) Add(c *Client) {
	r.mu.Lock()
	r.clients[c] = struct{}{}
	n := len(r.clients)
	r.mu.Unlock()
	observability.ConnectedClients.Set(float64(n))
}

func (r *Registry) Remove(c *Client) {
	r.mu.Lock()
	delete(r.clients, c)
	n := len(r.clients)
	r.mu.Unlock()
	observability.ConnectedClients.Set(float64(n))
}

func (r *Registry) snapshot() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Client, 0, len(r.clients))
	for c := range r.clients {
		out = append(out, c)
	}
	return out
}

// SendAll delivers one message to every connected client, best effort.
// Returns the number of clients attempted.
func (r *Registry) SendAll(v any) int {
	clients := r.snapshot()
	for _, c := range clients {
		if err := c.Send(v); err != nil {
			r.logger.Warn("broadcast send failed", "user_id", c.UserID, "error", err)
		}
	}
	return len(clients)
}

// SendUser delivers a message to every connection of one user.
func (r *Registry) SendUser(userID string, v any) int {
	sent := 0
	for _, c := range r.snapshot() {
		if c.UserID != userID {
			continue
		}
		if err := c.Send(v); err != nil {
			r.logger.Warn("user send failed", "user_id", userID, "error", err)
			continue
		}
		sent++
	}
	return sent
}
