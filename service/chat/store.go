package chat

import (
	"context"
	"errors"
	"time"
)

// ErrMessageNotFound is returned (possibly wrapped) by MessageStore.FindByID.
var ErrMessageNotFound = errors.New("message not found")

// Message is a persisted chat message. ID and CreatedAt are assigned by the
// hub; ID order is creation order.
type Message struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chatId"`
	SenderID  string    `json:"senderId"`
	ClientID  string    `json:"clientId"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"createdAt"`
}

// ReadCursor is the newest message a user acknowledged in a chat.
type ReadCursor struct {
	ChatID    string
	UserID    string
	MessageID string
	ReadAt    time.Time
}

// MembershipStore answers chat membership. Unknown chats are simply not
// member-visible.
type MembershipStore interface {
	IsMember(ctx context.Context, userID, chatID string) (bool, error)
}

type MessageStore interface {
	Insert(ctx context.Context, m *Message) error
	FindByID(ctx context.Context, id string) (*Message, error)
}

// IdempotencyStore holds the durable (chatId, clientId) -> serverId mapping.
// Claim atomically creates the record unless one exists; when it exists the
// stored serverId is returned with claimed=false.
type IdempotencyStore interface {
	Claim(ctx context.Context, chatID, clientID, serverID string) (existing string, claimed bool, err error)
	Release(ctx context.Context, chatID, clientID string) error
}

// CursorStore advances read cursors atomically. Advance moves the cursor to
// messageID only if it orders after the stored one, and returns the cursor
// as stored after the call.
type CursorStore interface {
	Advance(ctx context.Context, chatID, userID, messageID string, readAt time.Time) (cur ReadCursor, advanced bool, err error)
}

// ContactsResolver lists the users who should see a user's presence
// (household members, DM partners). The user itself is not included.
type ContactsResolver interface {
	ContactsOf(ctx context.Context, userID string) ([]string, error)
}

// PresenceMirror publishes ref-counted presence outside the process.
type PresenceMirror interface {
	SetOnline(ctx context.Context, userID string) error
	SetOffline(ctx context.Context, userID string) error
	Touch(ctx context.Context, userID string, at time.Time) error
}
