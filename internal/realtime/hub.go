package realtime

import (
	"context"
	"sync"
)

// Client is one websocket connection subscribed to a single channel.
type Client struct {
	Channel string
	UserID  int64
	Send    chan []byte
	hub     *Hub
	once    sync.Once
}

func NewClient(channel string, userID int64, buffer int) *Client {
	if buffer <= 0 {
		buffer = 32
	}
	return &Client{Channel: channel, UserID: userID, Send: make(chan []byte, buffer)}
}

func (c *Client) Close() {
	c.once.Do(func() {
		if c.hub != nil {
			c.hub.unregister(c)
		}
		close(c.Send)
	})
}

// Hub fans messages out to the local connections of each channel.
type Hub struct {
	mu        sync.RWMutex
	byChannel map[string]map[*Client]struct{}
}

func NewHub() *Hub {
	return &Hub{byChannel: make(map[string]map[*Client]struct{})}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c.hub = h
	if h.byChannel[c.Channel] == nil {
		h.byChannel[c.Channel] = make(map[*Client]struct{})
	}
	h.byChannel[c.Channel][c] = struct{}{}
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if m := h.byChannel[c.Channel]; m != nil {
		delete(m, c)
		if len(m) == 0 {
			delete(h.byChannel, c.Channel)
		}
	}
}

// Publish hands payload to every client of channel. A client whose buffer is full misses the message.
func (h *Hub) Publish(_ context.Context, channel string, payload []byte) error {
	h.Deliver(channel, payload)
	return nil
}

// Deliver returns how many clients accepted the message.
func (h *Hub) Deliver(channel string, payload []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for c := range h.byChannel[channel] {
		select {
		case c.Send <- payload:
			delivered++
		default:
		}
	}
	return delivered
}

func (h *Hub) ClientCount(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byChannel[channel])
}
