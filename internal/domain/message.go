package domain

import "time"

const (
	DefaultPageSize = 50
	MaxPageSize     = 100
)

// Group is a chat room with an owner. Membership lives in storage.
type Group struct {
	ID          int64
	Name        string
	Description string
	OwnerID     int64
	CreatedAt   time.Time
}

// Message is a persisted chat message. Only DeletedAt changes after creation.
type Message struct {
	ID                int64
	GroupID           int64
	AuthorID          int64
	AuthorRole        Role
	AuthorDisplayName string
	Content           string
	CreatedAt         time.Time
	DeletedAt         *time.Time
}

// Page selects a slice of a group's history, newest first. BeforeID of zero
// starts from the most recent message.
type Page struct {
	BeforeID int64
	Limit    int
}

// Normalize clamps the limit into [1, MaxPageSize].
func (p Page) Normalize(defaultLimit int) Page {
	if defaultLimit <= 0 || defaultLimit > MaxPageSize {
		defaultLimit = DefaultPageSize
	}
	if p.Limit <= 0 {
		p.Limit = defaultLimit
	}
	if p.Limit > MaxPageSize {
		p.Limit = MaxPageSize
	}
	if p.BeforeID < 0 {
		p.BeforeID = 0
	}
	return p
}
