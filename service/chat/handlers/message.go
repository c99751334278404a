package handlers

import (
	"context"
	"encoding/json"

	"famly/service/chat"
)

type SendHandler struct{ hub *chat.Hub }

func NewSendHandler(hub *chat.Hub) chat.Handler { return &SendHandler{hub: hub} }
func (h *SendHandler) Event() string            { return chat.EventMessageSend }

func (h *SendHandler) Handle(ctx context.Context, c *chat.Conn, payload json.RawMessage) (any, error) {
	var p chat.SendPayload
	if err := chat.DecodePayload(payload, &p); err != nil {
		return nil, err
	}
	return h.hub.Pipeline().Send(ctx, c, p.ChatID, p.ClientID, p.Body)
}
