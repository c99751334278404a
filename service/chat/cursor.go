package chat

import (
	"context"
	"errors"
	"time"

	"famly/tools/errs"
	"famly/tools/ids"
)

type ReadResult struct {
	ReadAt string `json:"readAt"`
}

// Cursors advances per (chat, user) read pointers. Cursors never move
// backwards; a stale receipt succeeds without effect.
type Cursors struct {
	rooms    *Rooms
	messages MessageStore
	store    CursorStore
	fanout   *Broadcaster
	now      func() time.Time
	locks    *keyedMutex // (chatId, userId)
}

func NewCursors(rooms *Rooms, messages MessageStore, store CursorStore, fanout *Broadcaster) *Cursors {
	return &Cursors{
		rooms:    rooms,
		messages: messages,
		store:    store,
		fanout:   fanout,
		now:      time.Now,
		locks:    newKeyedMutex(),
	}
}

// MarkRead acknowledges messageID in chatID for the connection's user and,
// when the cursor moves, broadcasts receipt:update to the whole room
// including the reader.
func (a *Cursors) MarkRead(ctx context.Context, c *Conn, chatID, messageID string) (ReadResult, error) {
	if !ids.Valid(chatID) {
		return ReadResult{}, errs.ErrValidation.WrapMsg("chatId is not a valid id", "chatId", chatID)
	}
	if !ids.Valid(messageID) {
		return ReadResult{}, errs.ErrValidation.WrapMsg("messageId is not a valid id", "messageId", messageID)
	}
	ok, err := a.rooms.Authorize(ctx, c, chatID)
	if err != nil {
		return ReadResult{}, err
	}
	if !ok {
		return ReadResult{}, errs.ErrForbidden.WrapMsg("not a member of this chat", "chatId", chatID, "userId", c.UserID)
	}

	msg, err := a.messages.FindByID(ctx, messageID)
	if err != nil {
		if errors.Is(err, ErrMessageNotFound) {
			return ReadResult{}, errs.ErrNotFound.WrapMsg("message not found", "messageId", messageID)
		}
		return ReadResult{}, errs.ErrInternal.WrapMsg("", "op", "findMessage", "messageId", messageID, "cause", err.Error())
	}
	if msg.ChatID != chatID {
		return ReadResult{}, errs.ErrValidation.WrapMsg("message does not belong to this chat", "chatId", chatID, "messageId", messageID)
	}

	unlock := a.locks.Lock(pairKey(chatID, c.UserID))
	defer unlock()

	cur, advanced, err := a.store.Advance(ctx, chatID, c.UserID, messageID, a.now().UTC())
	if err != nil {
		return ReadResult{}, errs.ErrInternal.WrapMsg("", "op", "advanceCursor", "chatId", chatID, "cause", err.Error())
	}
	readAt := isoTime(cur.ReadAt)
	if advanced {
		a.fanout.ToRoom(chatID, EventReceiptUpdate, ReceiptUpdate{
			ChatID:    chatID,
			MessageID: messageID,
			UserID:    c.UserID,
			ReadAt:    readAt,
		}, nil)
	}
	return ReadResult{ReadAt: readAt}, nil
}
