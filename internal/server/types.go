// Package server defines the inbound and outbound wire frames shared by the
// session, router, and HTTP handlers.
package server

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/Tyrowin/counselchat/internal/domain"
)

const (
	frameMessageCreated = "message.created"
	frameMessageDeleted = "message.deleted"
	frameError          = "error"
)

// InboundMessage is the only payload a client sends over the socket.
type InboundMessage struct {
	Content string `json:"content"`
}

// MessageFrame describes a persisted message. It is broadcast with Type set
// and returned by the history endpoint without it.
type MessageFrame struct {
	Type              string      `json:"type,omitempty"`
	ID                int64       `json:"id"`
	GroupID           int64       `json:"group_id"`
	Content           string      `json:"content"`
	AuthorID          int64       `json:"author_id"`
	AuthorRole        domain.Role `json:"author_role"`
	AuthorDisplayName string      `json:"author_display_name"`
	CreatedAt         string      `json:"created_at"`
}

// DeletedFrame announces a soft-deleted message to its group.
type DeletedFrame struct {
	Type    string `json:"type"`
	ID      int64  `json:"id"`
	GroupID int64  `json:"group_id"`
}

// ErrorFrame is sent only to the connection whose action failed.
type ErrorFrame struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// decodeInbound extracts trimmed content from a raw frame.
func decodeInbound(raw []byte) (string, error) {
	var msg InboundMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return "", domain.ErrMalformedPayload
	}
	content := strings.TrimSpace(msg.Content)
	if content == "" {
		return "", domain.ErrEmptyContent
	}
	return content, nil
}

func newMessageFrame(msg domain.Message) MessageFrame {
	return MessageFrame{
		ID:                msg.ID,
		GroupID:           msg.GroupID,
		Content:           msg.Content,
		AuthorID:          msg.AuthorID,
		AuthorRole:        msg.AuthorRole,
		AuthorDisplayName: msg.AuthorDisplayName,
		CreatedAt:         msg.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

// createdPayload renders msg as a message.created frame, taking the author
// attributes from the sender's identity.
func createdPayload(msg domain.Message, author domain.Identity) ([]byte, error) {
	msg.AuthorID = author.ID
	msg.AuthorRole = author.Role
	msg.AuthorDisplayName = author.Name()

	frame := newMessageFrame(msg)
	frame.Type = frameMessageCreated
	return json.Marshal(frame)
}

func deletedPayload(msg domain.Message) ([]byte, error) {
	return json.Marshal(DeletedFrame{Type: frameMessageDeleted, ID: msg.ID, GroupID: msg.GroupID})
}

func errorPayload(text string) []byte {
	// Marshalling a struct of two strings cannot fail.
	payload, _ := json.Marshal(ErrorFrame{Type: frameError, Error: text})
	return payload
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
