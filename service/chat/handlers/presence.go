package handlers

import (
	"context"
	"encoding/json"

	"famly/service/chat"
)

// PingHandler ignores its payload; a ping never fails.
type PingHandler struct{ hub *chat.Hub }

func NewPingHandler(hub *chat.Hub) chat.Handler { return &PingHandler{hub: hub} }
func (h *PingHandler) Event() string            { return chat.EventPresencePing }

func (h *PingHandler) Handle(_ context.Context, c *chat.Conn, _ json.RawMessage) (any, error) {
	return h.hub.Presence().Ping(c), nil
}
