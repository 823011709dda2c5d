package chatbot

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Factory builds the controller of a new session
type Factory func(sessionID string) (*Controller, error)

// Hub owns one Controller per session identifier
type Hub struct {
	factory     Factory
	controllers map[string]*Controller
	mu          sync.RWMutex
}

// NewHub creates a hub that builds controllers with factory
func NewHub(factory Factory) *Hub {
	return &Hub{
		factory:     factory,
		controllers: make(map[string]*Controller),
	}
}

// NewSessionID returns a fresh session identifier
func NewSessionID() string {
	return "session_" + uuid.NewString()
}

// Controller returns the controller of sessionID, creating it on first access
func (h *Hub) Controller(sessionID string) (*Controller, error) {
	h.mu.RLock()
	c, ok := h.controllers[sessionID]
	h.mu.RUnlock()
	if ok {
		return c, nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.controllers[sessionID]; ok {
		return c, nil
	}
	c, err := h.factory(sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to create session %s: %w", sessionID, err)
	}
	h.controllers[sessionID] = c
	return c, nil
}

// End discards the session's conversation. It reports whether the session existed.
func (h *Hub) End(sessionID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.controllers[sessionID]
	delete(h.controllers, sessionID)
	return ok
}

// Count returns the number of live sessions
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.controllers)
}
