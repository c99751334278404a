package handlers

import (
	"context"
	"encoding/json"

	"famly/service/chat"
)

type ReadHandler struct{ hub *chat.Hub }

func NewReadHandler(hub *chat.Hub) chat.Handler { return &ReadHandler{hub: hub} }
func (h *ReadHandler) Event() string            { return chat.EventReceiptRead }

func (h *ReadHandler) Handle(ctx context.Context, c *chat.Conn, payload json.RawMessage) (any, error) {
	var p chat.ReadPayload
	if err := chat.DecodePayload(payload, &p); err != nil {
		return nil, err
	}
	return h.hub.Cursors().MarkRead(ctx, c, p.ChatID, p.MessageID)
}
