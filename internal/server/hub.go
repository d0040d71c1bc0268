// Package server coordinates client registration per group and connection
// cleanup for the chat WebSocket system via the Hub type.
package server

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/samber/lo"
)

var (
	errAlreadyRegistered = errors.New("client already registered")
	errHubClosed         = errors.New("hub is shutting down")
)

// Hub maps each group to the set of connections currently streaming in it.
// A client appears at most once per group, and a group with no clients has
// no entry.
type Hub struct {
	mu     sync.RWMutex
	groups map[int64]map[*Client]struct{}
	closed bool
	wg     sync.WaitGroup
	log    *slog.Logger
}

// NewHub creates an empty registry.
func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		groups: make(map[int64]map[*Client]struct{}),
		log:    log,
	}
}

// Register adds client to groupID's set.
func (h *Hub) Register(groupID int64, client *Client) error {
	if client == nil {
		return errors.New("nil client")
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return errHubClosed
	}
	members, ok := h.groups[groupID]
	if !ok {
		members = make(map[*Client]struct{})
		h.groups[groupID] = members
	}
	if _, exists := members[client]; exists {
		return errAlreadyRegistered
	}
	members[client] = struct{}{}

	h.log.Info("Client registered", "group_id", groupID, "session_id", client.id.String(), "group_clients", len(members))
	return nil
}

// Unregister removes client from groupID's set and reports whether it was
// present. Calling it again is a no-op.
func (h *Hub) Unregister(groupID int64, client *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	members, ok := h.groups[groupID]
	if !ok {
		return false
	}
	if _, exists := members[client]; !exists {
		return false
	}
	delete(members, client)
	if len(members) == 0 {
		delete(h.groups, groupID)
	}

	h.log.Info("Client unregistered", "group_id", groupID, "session_id", client.id.String(), "group_clients", len(members))
	return true
}

// Snapshot returns the clients of groupID at the time of the call. The slice
// is owned by the caller.
func (h *Hub) Snapshot(groupID int64) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return lo.Keys(h.groups[groupID])
}

// GroupCount returns how many groups have at least one live connection.
func (h *Hub) GroupCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups)
}

// ClientCount returns the number of registered connections across groups.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	total := 0
	for _, members := range h.groups {
		total += len(members)
	}
	return total
}

// track accounts for one running session so Shutdown can wait for it.
func (h *Hub) track() (release func(), ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, false
	}
	h.wg.Add(1)
	return h.wg.Done, true
}

// shutdownClients closes every registered connection with a going-away code.
func (h *Hub) shutdownClients() {
	h.log.Info("Shutting down all client connections")

	h.mu.Lock()
	h.closed = true
	var clients []*Client
	for _, members := range h.groups {
		clients = append(clients, lo.Keys(members)...)
	}
	h.mu.Unlock()

	for _, client := range clients {
		client.evict(websocket.CloseGoingAway, "server shutting down")
	}

	h.log.Info("Closed client connections", "count", len(clients))
}

// Shutdown refuses new registrations, closes all connections, and waits for
// their sessions to finish or for timeout to pass.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.log.Info("Initiating hub shutdown")
	h.shutdownClients()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.log.Info("Hub shutdown completed successfully")
		return nil
	case <-time.After(timeout):
		h.log.Warn("Hub shutdown timeout reached, some sessions may still be running")
		return context.DeadlineExceeded
	}
}
