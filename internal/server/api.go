package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"

	"github.com/Tyrowin/counselchat/internal/auth"
	"github.com/Tyrowin/counselchat/internal/domain"
)

const maxBodyBytes = 4096

var validate = validator.New()

type loginRequest struct {
	Username string `json:"username" validate:"required,max=255"`
	Password string `json:"password" validate:"required,max=1024"`
}

type registerUserRequest struct {
	Username    string `json:"username" validate:"required,max=255"`
	DisplayName string `json:"display_name" validate:"max=255"`
	Password    string `json:"password" validate:"required,max=1024"`
}

type registerLawyerRequest struct {
	LawyerID   string `json:"lawyer_id" validate:"required,max=255"`
	LawyerName string `json:"lawyer_name" validate:"max=255"`
	Password   string `json:"password" validate:"required,max=1024"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required,max=1024"`
	NewPassword     string `json:"new_password" validate:"required,max=1024,nefield=CurrentPassword"`
}

type identityResponse struct {
	ID          int64       `json:"id"`
	Role        domain.Role `json:"role"`
	Login       string      `json:"login"`
	DisplayName string      `json:"display_name"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresAt   string `json:"expires_at"`
}

type historyQuery struct {
	Before int64 `validate:"gte=0"`
	Limit  int   `validate:"gte=0,lte=100"`
}

type historyResponse struct {
	Messages []MessageFrame `json:"messages"`
}

type statusResponse struct {
	Message string `json:"message"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Warn("Error writing JSON response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, detail string) {
	s.writeJSON(w, status, errorResponse{Detail: detail})
}

// decodeBody reads a small JSON body into v and validates it.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		return err
	}
	return validate.Struct(v)
}

// authenticate resolves the bearer credential of an API request, writing the
// failure response itself when it returns false.
func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) (domain.Identity, bool) {
	identity, err := s.deps.Validator.Validate(r.Context(), bearerToken(r))
	if err == nil {
		return identity, true
	}
	if _, ok := domain.IsAuthError(err); ok {
		w.Header().Set("WWW-Authenticate", "Bearer")
		s.writeError(w, http.StatusUnauthorized, "Could not validate credentials")
		return domain.Identity{}, false
	}
	s.log.Error("Credential validation failed", "error", err)
	s.writeError(w, http.StatusInternalServerError, "internal error")
	return domain.Identity{}, false
}

func parseHistoryQuery(r *http.Request) (historyQuery, error) {
	var q historyQuery
	values := r.URL.Query()
	if raw := values.Get("before"); raw != "" {
		before, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return q, err
		}
		q.Before = before
	}
	if raw := values.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			return q, err
		}
		q.Limit = limit
	}
	return q, validate.Struct(q)
}

// handleHistory returns one page of a group's messages, newest first.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	identity, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	groupID, err := parseID(r.PathValue("groupID"))
	if err != nil {
		s.writeError(w, http.StatusNotFound, domain.ErrGroupNotFound.Error())
		return
	}
	query, err := parseHistoryQuery(r)
	if err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, "invalid before or limit")
		return
	}

	member, err := s.deps.Members.IsMember(r.Context(), groupID, identity)
	if err != nil {
		s.log.Error("Membership check failed", "group_id", groupID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !member {
		s.writeError(w, http.StatusForbidden, domain.ErrNotMember.Error())
		return
	}

	page := domain.Page{BeforeID: query.Before, Limit: query.Limit}.Normalize(s.cfg.HistoryPageSize)
	messages, err := s.deps.Messages.ListMessages(r.Context(), groupID, page)
	if err != nil {
		s.log.Error("Failed to list messages", "group_id", groupID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.writeJSON(w, http.StatusOK, historyResponse{
		Messages: lo.Map(messages, func(msg domain.Message, _ int) MessageFrame {
			return newMessageFrame(msg)
		}),
	})
}

// handleDeleteMessage soft-deletes the caller's own message and tells the
// group about it.
func (s *Server) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	identity, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	messageID, err := parseID(r.PathValue("messageID"))
	if err != nil {
		s.writeError(w, http.StatusNotFound, domain.ErrMessageNotFound.Error())
		return
	}

	deleted, deleteErr := s.deps.Messages.DeleteMessage(r.Context(), messageID, identity)
	switch {
	case errors.Is(deleteErr, domain.ErrMessageNotFound):
		s.writeError(w, http.StatusNotFound, deleteErr.Error())
		return
	case errors.Is(deleteErr, domain.ErrForbidden):
		s.writeError(w, http.StatusForbidden, deleteErr.Error())
		return
	case deleteErr != nil:
		s.log.Error("Failed to delete message", "message_id", messageID, "error", deleteErr)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	payload, err := deletedPayload(deleted)
	if err != nil {
		s.log.Error("Failed to encode deletion", "message_id", messageID, "error", err)
	} else {
		s.router.Sequence(deleted.GroupID, func() {
			s.router.Broadcast(deleted.GroupID, payload)
		})
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleLogin verifies a password for role and issues a bearer token.
func (s *Server) handleLogin(role domain.Role) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req loginRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
			s.writeError(w, http.StatusUnprocessableEntity, "invalid request body")
			return
		}
		if err := validate.Struct(req); err != nil {
			s.writeError(w, http.StatusUnprocessableEntity, "username and password are required")
			return
		}

		identity, hash, err := s.deps.Accounts.LookupLogin(r.Context(), role, req.Username)
		if errors.Is(err, domain.ErrIdentityNotFound) {
			s.writeError(w, http.StatusUnauthorized, domain.ErrInvalidCredentials.Error())
			return
		}
		if err != nil {
			s.log.Error("Login lookup failed", "role", string(role), "error", err)
			s.writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		match, err := auth.ComparePassword(req.Password, hash)
		if err != nil || !match {
			if err != nil {
				s.log.Warn("Stored password hash is unreadable", "identity", identity.String(), "error", err)
			}
			s.writeError(w, http.StatusUnauthorized, domain.ErrInvalidCredentials.Error())
			return
		}

		token, expiresAt, err := s.deps.Tokens.Issue(identity)
		if err != nil {
			s.log.Error("Failed to issue token", "identity", identity.String(), "error", err)
			s.writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		s.log.Info("Login succeeded", "identity", identity.String())
		s.writeJSON(w, http.StatusOK, tokenResponse{
			AccessToken: token,
			TokenType:   "bearer",
			ExpiresAt:   expiresAt.UTC().Format(time.RFC3339),
		})
	}
}

// handleLogout revokes the presented token for the rest of its lifetime.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	identity, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	if err := s.deps.Tokens.Revoke(r.Context(), bearerToken(r)); err != nil {
		s.log.Error("Failed to revoke token", "identity", identity.String(), "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.log.Info("Logout succeeded", "identity", identity.String())
	s.writeJSON(w, http.StatusOK, statusResponse{Message: "Successfully logged out"})
}

func (s *Server) handleRegisterUser(w http.ResponseWriter, r *http.Request) {
	var req registerUserRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, "username and password are required")
		return
	}
	s.register(w, r, domain.RoleNormal, req.Username, req.DisplayName, req.Password)
}

func (s *Server) handleRegisterLawyer(w http.ResponseWriter, r *http.Request) {
	var req registerLawyerRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, "lawyer_id and password are required")
		return
	}
	s.register(w, r, domain.RoleLawyer, req.LawyerID, req.LawyerName, req.Password)
}

// register hashes password and creates the account.
func (s *Server) register(w http.ResponseWriter, r *http.Request, role domain.Role, login, displayName, password string) {
	login = strings.TrimSpace(login)
	if login == "" {
		s.writeError(w, http.StatusUnprocessableEntity, "login must not be blank")
		return
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		s.log.Error("Failed to hash password", "role", string(role), "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	identity, err := s.deps.Accounts.Register(r.Context(), role, login, strings.TrimSpace(displayName), hash)
	if errors.Is(err, domain.ErrLoginTaken) {
		detail := "Username already registered"
		if role == domain.RoleLawyer {
			detail = "Lawyer ID already registered"
		}
		s.writeError(w, http.StatusConflict, detail)
		return
	}
	if err != nil {
		s.log.Error("Registration failed", "role", string(role), "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.log.Info("Account registered", "identity", identity.String())
	s.writeJSON(w, http.StatusCreated, identityResponse{
		ID:          identity.ID,
		Role:        identity.Role,
		Login:       identity.Login,
		DisplayName: identity.Name(),
	})
}

// handleChangePassword replaces the caller's password after checking the
// current one. Tokens of the other role are refused.
func (s *Server) handleChangePassword(role domain.Role) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, ok := s.authenticate(w, r)
		if !ok {
			return
		}
		if identity.Role != role {
			w.Header().Set("WWW-Authenticate", "Bearer")
			s.writeError(w, http.StatusUnauthorized, "Could not validate credentials")
			return
		}
		var req changePasswordRequest
		if err := decodeBody(w, r, &req); err != nil {
			s.writeError(w, http.StatusUnprocessableEntity, "current_password and a different new_password are required")
			return
		}

		_, hash, err := s.deps.Accounts.LookupLogin(r.Context(), role, identity.Login)
		if err != nil {
			s.log.Error("Password lookup failed", "identity", identity.String(), "error", err)
			s.writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if match, err := auth.ComparePassword(req.CurrentPassword, hash); err != nil || !match {
			s.writeError(w, http.StatusUnauthorized, "Current password is incorrect")
			return
		}

		newHash, err := auth.HashPassword(req.NewPassword)
		if err == nil {
			err = s.deps.Accounts.SetPasswordHash(r.Context(), identity, newHash)
		}
		if err != nil {
			s.log.Error("Failed to change password", "identity", identity.String(), "error", err)
			s.writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		s.log.Info("Password changed", "identity", identity.String())
		s.writeJSON(w, http.StatusOK, statusResponse{Message: "Password changed successfully"})
	}
}
