package chat

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"famly/tools/errs"
	"famly/tools/ids"
)

// Rooms is the room membership gate. It authorizes joins against the
// membership store and owns the per-room fanout target lists.
type Rooms struct {
	members MembershipStore
	log     *zap.Logger

	mu      sync.RWMutex
	targets map[string]map[string]*Conn // chat_id -> conn_id -> conn
}

func NewRooms(members MembershipStore, log *zap.Logger) *Rooms {
	return &Rooms{
		members: members,
		log:     log,
		targets: make(map[string]map[string]*Conn),
	}
}

// AuthorizeJoin admits c to chatID. Malformed ids are VALIDATION_ERROR;
// non-members and unknown chats are both FORBIDDEN so existence does not
// leak. Joining twice is allowed.
func (r *Rooms) AuthorizeJoin(ctx context.Context, c *Conn, chatID string) error {
	if !ids.Valid(chatID) {
		return errs.ErrValidation.WrapMsg("chatId is not a valid id", "chatId", chatID)
	}
	if c.Joined(chatID) {
		return nil
	}
	ok, err := r.members.IsMember(ctx, c.UserID, chatID)
	if err != nil {
		return errs.ErrInternal.WrapMsg("", "op", "isMember", "chatId", chatID, "cause", err.Error())
	}
	if !ok {
		return errs.ErrForbidden.WrapMsg("not a member of this chat", "chatId", chatID, "userId", c.UserID)
	}

	r.mu.Lock()
	if c.Closed() {
		// lost the race with disconnect; the target list must not keep it
		r.mu.Unlock()
		return nil
	}
	m := r.targets[chatID]
	if m == nil {
		m = make(map[string]*Conn)
		r.targets[chatID] = m
	}
	m[c.ID] = c
	c.addRoom(chatID)
	r.mu.Unlock()
	return nil
}

// Leave removes c from chatID. It always succeeds.
func (r *Rooms) Leave(c *Conn, chatID string) {
	r.mu.Lock()
	r.removeLocked(c, chatID)
	r.mu.Unlock()
}

// Authorize reports whether c may act in chatID: a joined room is trusted,
// otherwise the membership store is asked without joining.
func (r *Rooms) Authorize(ctx context.Context, c *Conn, chatID string) (bool, error) {
	if !ids.Valid(chatID) {
		return false, nil
	}
	if c.Joined(chatID) {
		return true, nil
	}
	ok, err := r.members.IsMember(ctx, c.UserID, chatID)
	if err != nil {
		return false, errs.ErrInternal.WrapMsg("", "op", "isMember", "chatId", chatID, "cause", err.Error())
	}
	return ok, nil
}

// Targets snapshots the connections currently in chatID.
func (r *Rooms) Targets(chatID string) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m := r.targets[chatID]
	if len(m) == 0 {
		return nil
	}
	out := make([]*Conn, 0, len(m))
	for _, c := range m {
		out = append(out, c)
	}
	return out
}

// Drop removes c from every room it joined.
func (r *Rooms) Drop(c *Conn) {
	r.mu.Lock()
	for _, chatID := range c.Rooms() {
		r.removeLocked(c, chatID)
	}
	r.mu.Unlock()
}

// Evict removes every connection of userID from chatID, used when an
// external membership change revokes access.
func (r *Rooms) Evict(chatID, userID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.targets[chatID] {
		if c.UserID == userID {
			r.removeLocked(c, chatID)
			n++
		}
	}
	return n
}

func (r *Rooms) removeLocked(c *Conn, chatID string) {
	c.removeRoom(chatID)
	m := r.targets[chatID]
	if m == nil {
		return
	}
	delete(m, c.ID)
	if len(m) == 0 {
		delete(r.targets, chatID)
	}
}

func (r *Rooms) roomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.targets)
}
