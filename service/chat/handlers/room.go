package handlers

import (
	"context"
	"encoding/json"

	"famly/service/chat"
)

type JoinHandler struct{ hub *chat.Hub }

func NewJoinHandler(hub *chat.Hub) chat.Handler { return &JoinHandler{hub: hub} }
func (h *JoinHandler) Event() string            { return chat.EventRoomJoin }

func (h *JoinHandler) Handle(ctx context.Context, c *chat.Conn, payload json.RawMessage) (any, error) {
	var p chat.RoomPayload
	if err := chat.DecodePayload(payload, &p); err != nil {
		return nil, err
	}
	if err := h.hub.Rooms().AuthorizeJoin(ctx, c, p.ChatID); err != nil {
		return nil, err
	}
	return chat.Empty{}, nil
}

// LeaveHandler always succeeds, even for rooms never joined.
type LeaveHandler struct{ hub *chat.Hub }

func NewLeaveHandler(hub *chat.Hub) chat.Handler { return &LeaveHandler{hub: hub} }
func (h *LeaveHandler) Event() string            { return chat.EventRoomLeave }

func (h *LeaveHandler) Handle(_ context.Context, c *chat.Conn, payload json.RawMessage) (any, error) {
	var p chat.RoomPayload
	if err := chat.DecodePayload(payload, &p); err != nil {
		return nil, err
	}
	h.hub.Rooms().Leave(c, p.ChatID)
	return chat.Empty{}, nil
}
