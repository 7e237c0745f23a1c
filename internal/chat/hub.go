// Package chat is the websocket edge of the server. It turns inbound frames
// into router calls and writes outbound events to each socket.
package chat

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"roomchat/internal/types"
)

// Hub owns the set of live clients and delivers encoded events to them.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	closing bool

	unregister chan *Client
	quit       chan struct{}
	quitOnce   sync.Once
	logger     *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:    make(map[string]*Client),
		unregister: make(chan *Client),
		quit:       make(chan struct{}),
		logger:     logger,
	}
}

// Run handles evictions until Shutdown is called.
func (h *Hub) Run() {
	h.logger.Info("hub started")
	for {
		select {
		case <-h.quit:
			h.logger.Info("hub stopped")
			return

		case c := <-h.unregister:
			h.logger.Warn("evicting slow consumer", slog.String("conn", c.ID))
			c.close()
		}
	}
}

// Shutdown closes every socket and waits for the read loops to drain, or for
// ctx to expire.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closing = true
	open := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		open = append(open, c)
	}
	h.mu.Unlock()

	h.logger.Info("closing clients", slog.Int("clients", len(open)))
	for _, c := range open {
		c.close()
	}
	h.quitOnce.Do(func() { close(h.quit) })

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		if h.Len() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Deliver encodes ev and queues it for connID. A full buffer evicts the
// client instead of blocking the caller.
func (h *Hub) Deliver(connID string, ev types.Event) {
	h.mu.RLock()
	c := h.clients[connID]
	h.mu.RUnlock()
	if c == nil {
		return
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("encode event", slog.String("event", string(ev.Name)), slog.Any("err", err))
		return
	}
	if !c.enqueue(payload) {
		h.evict(c)
	}
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) attach(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closing {
		return false
	}
	h.clients[c.ID] = c
	return true
}

func (h *Hub) detach(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if cur, ok := h.clients[c.ID]; ok && cur == c {
		delete(h.clients, c.ID)
	}
}

func (h *Hub) evict(c *Client) {
	if !c.evicting.CompareAndSwap(false, true) {
		return
	}
	go func() {
		select {
		case h.unregister <- c:
		case <-h.quit:
			c.close()
		}
	}()
}
