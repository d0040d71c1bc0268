package server

import (
	"context"
	"errors"
	"log/slog"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/counselchat/internal/domain"
)

type sessionState int

const (
	stateConnecting sessionState = iota
	stateAuthorizing
	stateStreaming
	stateTerminating
	stateRejected
)

func (s sessionState) String() string {
	switch s {
	case stateConnecting:
		return "connecting"
	case stateAuthorizing:
		return "authorizing"
	case stateStreaming:
		return "streaming"
	case stateTerminating:
		return "terminating"
	case stateRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

const (
	closeReasonUnauthorized = "unauthorized"
	persistFailureText      = "message could not be saved"
)

// session drives one upgraded connection from handshake to teardown. Only
// a session in the streaming state is registered with the hub.
type session struct {
	client     *Client
	groupID    int64
	credential string
	identity   domain.Identity
	state      sessionState

	validator CredentialValidator
	members   MembershipOracle
	messages  MessageStore
	hub       *Hub
	router    *Router
	log       *slog.Logger

	writerDone chan struct{}
}

func newSession(client *Client, groupID int64, credential string, deps Dependencies, hub *Hub, router *Router) *session {
	return &session{
		client:     client,
		groupID:    groupID,
		credential: credential,
		state:      stateConnecting,
		validator:  deps.Validator,
		members:    deps.Members,
		messages:   deps.Messages,
		hub:        hub,
		router:     router,
		log:        client.log.With("group_id", groupID),
	}
}

// run blocks until the connection is rejected or torn down.
func (s *session) run(ctx context.Context) {
	for {
		s.log.Debug("Session state", "state", s.state.String())
		switch s.state {
		case stateConnecting:
			s.state = s.authenticate(ctx)
		case stateAuthorizing:
			s.state = s.authorize(ctx)
		case stateStreaming:
			s.state = s.stream(ctx)
		case stateRejected:
			s.client.Close(websocket.ClosePolicyViolation, closeReasonUnauthorized)
			return
		case stateTerminating:
			s.terminate()
			return
		}
	}
}

func (s *session) authenticate(ctx context.Context) sessionState {
	identity, err := s.validator.Validate(ctx, s.credential)
	if err != nil {
		if authErr, ok := domain.IsAuthError(err); ok {
			s.log.Info("Handshake rejected", "reason", authErr.Reason.String())
		} else {
			s.log.Error("Credential validation failed", "error", err)
		}
		return stateRejected
	}

	s.identity = identity
	s.log = s.log.With("identity_id", identity.ID, "role", string(identity.Role))
	return stateAuthorizing
}

func (s *session) authorize(ctx context.Context) sessionState {
	ok, err := s.members.IsMember(ctx, s.groupID, s.identity)
	if err != nil {
		s.log.Error("Membership check failed", "error", err)
		return stateRejected
	}
	if !ok {
		s.log.Info("Handshake rejected", "reason", domain.ErrNotMember.Error())
		return stateRejected
	}

	if err := s.hub.Register(s.groupID, s.client); err != nil {
		if errors.Is(err, errHubClosed) {
			s.client.Close(websocket.CloseGoingAway, "server shutting down")
			return stateTerminating
		}
		s.log.Warn("Registration refused", "error", err)
		return stateTerminating
	}
	return stateStreaming
}

// stream runs the read loop on the calling goroutine and the write pump on
// its own, until the peer leaves or the connection fails.
func (s *session) stream(ctx context.Context) sessionState {
	s.writerDone = make(chan struct{})
	go func() {
		defer close(s.writerDone)
		s.client.writePump()
	}()

	s.client.setupReadConnection()
	for {
		raw, err := s.client.readFrame()
		if err != nil {
			s.client.handleReadError(err)
			return stateTerminating
		}
		if !s.client.checkRateLimit() {
			continue
		}
		s.handleFrame(ctx, raw)
	}
}

// handleFrame persists one inbound message and fans it out to the group.
// Malformed and empty payloads are dropped without a reply.
func (s *session) handleFrame(ctx context.Context, raw []byte) {
	content, err := decodeInbound(raw)
	switch {
	case errors.Is(err, domain.ErrMalformedPayload):
		s.log.Debug("Dropping malformed payload", "bytes", len(raw))
		return
	case errors.Is(err, domain.ErrEmptyContent):
		return
	}

	s.router.Sequence(s.groupID, func() {
		msg, err := s.messages.CreateMessage(ctx, s.groupID, s.identity, content)
		if err != nil {
			s.log.Error("Failed to persist message", "error", err)
			s.client.deliver(errorPayload(persistFailureText))
			return
		}

		payload, err := createdPayload(msg, s.identity)
		if err != nil {
			s.log.Error("Failed to encode message", "message_id", msg.ID, "error", err)
			return
		}
		s.router.Broadcast(s.groupID, payload)
	})
}

func (s *session) terminate() {
	s.hub.Unregister(s.groupID, s.client)
	s.client.Close(websocket.CloseNormalClosure, "")
	if s.writerDone != nil {
		<-s.writerDone
	}
	s.log.Info("Session terminated")
}
