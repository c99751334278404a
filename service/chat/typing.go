package chat

import (
	"context"

	"go.uber.org/zap"
)

const (
	TypingStart = "start"
	TypingStop  = "stop"
)

// Typing relays best-effort typing indicators. It never reports errors:
// bad ids, non-members and store failures are dropped silently.
type Typing struct {
	rooms  *Rooms
	fanout *Broadcaster
	log    *zap.Logger
}

func NewTyping(rooms *Rooms, fanout *Broadcaster, log *zap.Logger) *Typing {
	return &Typing{rooms: rooms, fanout: fanout, log: log}
}

func (t *Typing) Start(ctx context.Context, c *Conn, chatID string) {
	t.relay(ctx, c, chatID, TypingStart)
}

func (t *Typing) Stop(ctx context.Context, c *Conn, chatID string) {
	t.relay(ctx, c, chatID, TypingStop)
}

func (t *Typing) relay(ctx context.Context, c *Conn, chatID, state string) {
	ok, err := t.rooms.Authorize(ctx, c, chatID)
	if err != nil {
		t.log.Debug("typing authorize", zap.String("chatId", chatID), zap.Error(err))
		return
	}
	if !ok {
		return
	}
	t.fanout.ToRoom(chatID, EventTypingUpdate, TypingUpdate{ChatID: chatID, UserID: c.UserID, State: state}, c)
}
