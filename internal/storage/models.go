package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrSessionExpired is returned by ResolveSession for a token whose expiry has
// passed. Callers reject it exactly like an unknown token; the distinction
// exists for logging.
var ErrSessionExpired = errors.New("session expired")

// Session maps an opaque bearer token to a user. Expiry is fixed at creation
// and checked lazily at lookup; expired rows are never swept.
type Session struct {
	Token     string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// QueueItem is one unit of delivery work for the editor plugin.
// Status is "pending" or "error"; confirmed items are hard-deleted.
type QueueItem struct {
	ID          string
	UserID      string
	PayloadJSON string
	Status      string
	CreatedAt   time.Time
}

const (
	QueueStatusPending = "pending"
	QueueStatusError   = "error"
)

// Chat is a titled conversation owned by a user.
type Chat struct {
	ID        string
	UserID    string
	Title     string
	ProjectID string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ChatMessage is one persisted conversation turn. Only user messages and
// finalized assistant text are ever written.
type ChatMessage struct {
	ID        int64
	ChatID    string
	Role      string
	Content   string
	CreatedAt time.Time
}
