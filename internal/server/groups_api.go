package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/Tyrowin/counselchat/internal/domain"
)

type createGroupRequest struct {
	Name        string `json:"name" validate:"required,max=100"`
	Description string `json:"description" validate:"max=500"`
}

type groupResponse struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	OwnerID     int64  `json:"owner_id"`
	CreatedAt   string `json:"created_at"`
}

type groupsResponse struct {
	Groups []groupResponse `json:"groups"`
}

func newGroupResponse(group domain.Group) groupResponse {
	return groupResponse{
		ID:          group.ID,
		Name:        group.Name,
		Description: group.Description,
		OwnerID:     group.OwnerID,
		CreatedAt:   group.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

// writeGroupError maps directory failures onto HTTP statuses.
func (s *Server) writeGroupError(w http.ResponseWriter, groupID int64, err error) {
	switch {
	case errors.Is(err, domain.ErrGroupNotFound):
		s.writeError(w, http.StatusNotFound, "Group not found")
	case errors.Is(err, domain.ErrAlreadyMember):
		s.writeError(w, http.StatusConflict, "Already a member")
	case errors.Is(err, domain.ErrOwnerCannotLeave):
		s.writeError(w, http.StatusForbidden, "Owner cannot leave group")
	case errors.Is(err, domain.ErrNotMember):
		s.writeError(w, http.StatusForbidden, "Not a member")
	default:
		s.log.Error("Group operation failed", "group_id", groupID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// groupFromPath parses the group id segment, answering 404 itself on failure.
func (s *Server) groupFromPath(w http.ResponseWriter, r *http.Request) (int64, bool) {
	groupID, err := parseID(r.PathValue("groupID"))
	if err != nil {
		s.writeError(w, http.StatusNotFound, "Group not found")
		return 0, false
	}
	return groupID, true
}

// handleListGroups returns the groups the caller belongs to.
func (s *Server) handleListGroups(w http.ResponseWriter, r *http.Request) {
	identity, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	groups, err := s.deps.Groups.ListGroups(r.Context(), identity)
	if err != nil {
		s.log.Error("Failed to list groups", "identity", identity.String(), "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.writeJSON(w, http.StatusOK, groupsResponse{
		Groups: lo.Map(groups, func(group domain.Group, _ int) groupResponse {
			return newGroupResponse(group)
		}),
	})
}

// handleCreateGroup creates a group owned by the calling user, who becomes
// its first member. Lawyers cannot own groups.
func (s *Server) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	identity, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	if identity.Role != domain.RoleNormal {
		s.writeError(w, http.StatusForbidden, "Only users can create groups")
		return
	}
	var req createGroupRequest
	if err := decodeBody(w, r, &req); err != nil || strings.TrimSpace(req.Name) == "" {
		s.writeError(w, http.StatusUnprocessableEntity, "name is required")
		return
	}

	group, err := s.deps.Groups.CreateGroup(r.Context(), req.Name, req.Description, identity.ID)
	if err != nil {
		s.writeGroupError(w, 0, err)
		return
	}
	s.log.Info("Group created", "group_id", group.ID, "identity", identity.String())
	s.writeJSON(w, http.StatusCreated, newGroupResponse(group))
}

func (s *Server) handleGetGroup(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authenticate(w, r); !ok {
		return
	}
	groupID, ok := s.groupFromPath(w, r)
	if !ok {
		return
	}
	group, err := s.deps.Groups.GetGroup(r.Context(), groupID)
	if err != nil {
		s.writeGroupError(w, groupID, err)
		return
	}
	s.writeJSON(w, http.StatusOK, newGroupResponse(group))
}

// handleJoinGroup adds the caller to a group. The new membership applies to
// WebSocket handshakes made afterwards.
func (s *Server) handleJoinGroup(w http.ResponseWriter, r *http.Request) {
	identity, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	groupID, ok := s.groupFromPath(w, r)
	if !ok {
		return
	}
	if err := s.deps.Groups.AddMember(r.Context(), groupID, identity); err != nil {
		s.writeGroupError(w, groupID, err)
		return
	}
	group, err := s.deps.Groups.GetGroup(r.Context(), groupID)
	if err != nil {
		s.writeGroupError(w, groupID, err)
		return
	}
	s.log.Info("Joined group", "group_id", groupID, "identity", identity.String())
	s.writeJSON(w, http.StatusOK, newGroupResponse(group))
}

// handleLeaveGroup removes the caller from a group. Sessions already
// streaming in it are left running.
func (s *Server) handleLeaveGroup(w http.ResponseWriter, r *http.Request) {
	identity, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	groupID, ok := s.groupFromPath(w, r)
	if !ok {
		return
	}
	if err := s.deps.Groups.RemoveMember(r.Context(), groupID, identity); err != nil {
		s.writeGroupError(w, groupID, err)
		return
	}
	s.log.Info("Left group", "group_id", groupID, "identity", identity.String())
	s.writeJSON(w, http.StatusOK, statusResponse{Message: "Left group successfully"})
}
