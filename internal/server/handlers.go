// Package server exposes HTTP handlers, including WebSocket upgrades and
// health checks.
package server

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"
)

// WebSocketHandler upgrades the request and runs a session for the group
// named in the path. Authentication happens after the upgrade so that a
// rejection reaches the client as a policy-violation close frame.
func (s *Server) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	groupID, err := parseID(r.PathValue("groupID"))
	if err != nil {
		http.Error(w, "invalid group id", http.StatusNotFound)
		return
	}
	credential := credentialFromRequest(r)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Info("WebSocket upgrade failed", "addr", r.RemoteAddr, "error", err)
		return
	}

	client := NewClient(conn, r.RemoteAddr, s.cfg, s.log)
	release, ok := s.hub.track()
	if !ok {
		client.Close(websocket.CloseGoingAway, "server shutting down")
		return
	}
	defer release()

	newSession(client, groupID, credential, s.deps, s.hub, s.router).run(s.ctx)
}

// HealthHandler provides a simple health check endpoint that returns server status.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "Chat server is running!")
}

// credentialFromRequest reads the token query parameter, falling back to an
// Authorization bearer header.
func credentialFromRequest(r *http.Request) string {
	if token := strings.TrimSpace(r.URL.Query().Get("token")); token != "" {
		return token
	}
	return bearerToken(r)
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, err
	}
	if id <= 0 {
		return 0, fmt.Errorf("id must be positive: %d", id)
	}
	return id, nil
}
