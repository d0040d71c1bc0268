package server

import (
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
)

// orderingLanes bounds the number of locks used to serialize work per group.
const orderingLanes = 64

// Router fans payloads out to every connection in a group. A slow or dead
// connection never holds up the others: delivery is a non-blocking enqueue
// and failures are evicted.
type Router struct {
	hub   *Hub
	log   *slog.Logger
	lanes [orderingLanes]sync.Mutex
}

// NewRouter returns a router over hub.
func NewRouter(hub *Hub, log *slog.Logger) *Router {
	return &Router{hub: hub, log: log}
}

// Broadcast enqueues payload for each connection registered in groupID at
// the time of the call and returns how many accepted it. Connections whose
// queue is full or which are already closed are unregistered and closed.
func (r *Router) Broadcast(groupID int64, payload []byte) int {
	clients := r.hub.Snapshot(groupID)

	var failed []*Client
	delivered := 0
	for _, client := range clients {
		if client.deliver(payload) {
			delivered++
			continue
		}
		failed = append(failed, client)
	}

	r.removeFailedClients(groupID, failed)
	r.log.Debug("Broadcast message", "group_id", groupID, "targets", len(clients), "delivered", delivered)
	return delivered
}

// removeFailedClients evicts clients that could not take a message. It does
// not wait for their close handshake.
func (r *Router) removeFailedClients(groupID int64, failed []*Client) {
	for _, client := range failed {
		if r.hub.Unregister(groupID, client) {
			r.log.Info("Client removed due to full send buffer", "group_id", groupID, "session_id", client.id.String())
		}
		client.evict(websocket.CloseTryAgainLater, "send buffer full")
	}
}

// Sequence runs fn while holding groupID's ordering lane, so that work done
// for one group (persist then broadcast) is observed in a single order by
// every recipient.
func (r *Router) Sequence(groupID int64, fn func()) {
	lane := &r.lanes[uint64(groupID)%orderingLanes]
	lane.Lock()
	defer lane.Unlock()
	fn()
}
