// Package server wires HTTP handlers into a ServeMux for the chat
// application via routing helpers.
package server

import (
	"net/http"

	"github.com/Tyrowin/counselchat/internal/domain"
)

// Routes configures and returns an HTTP ServeMux with all application routes.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", HealthHandler)
	mux.HandleFunc("GET /ws/{groupID}", s.WebSocketHandler)
	mux.HandleFunc("GET /api/groups/{groupID}/messages", s.handleHistory)
	mux.HandleFunc("DELETE /api/messages/{messageID}", s.handleDeleteMessage)

	if s.deps.Groups != nil {
		mux.HandleFunc("GET /api/groups", s.handleListGroups)
		mux.HandleFunc("POST /api/groups", s.handleCreateGroup)
		mux.HandleFunc("GET /api/groups/{groupID}", s.handleGetGroup)
		mux.HandleFunc("POST /api/groups/{groupID}/join", s.handleJoinGroup)
		mux.HandleFunc("POST /api/groups/{groupID}/leave", s.handleLeaveGroup)
	}

	if s.deps.Accounts != nil {
		mux.HandleFunc("POST /api/auth/register", s.handleRegisterUser)
		mux.HandleFunc("POST /api/lawyer-auth/register", s.handleRegisterLawyer)
		mux.HandleFunc("POST /api/auth/change-password", s.handleChangePassword(domain.RoleNormal))
		mux.HandleFunc("POST /api/lawyer-auth/change-password", s.handleChangePassword(domain.RoleLawyer))
	}
	if s.deps.Accounts != nil && s.deps.Tokens != nil {
		mux.HandleFunc("POST /api/auth/login", s.handleLogin(domain.RoleNormal))
		mux.HandleFunc("POST /api/lawyer-auth/login", s.handleLogin(domain.RoleLawyer))
		mux.HandleFunc("POST /api/auth/logout", s.handleLogout)
	}
	return mux
}
