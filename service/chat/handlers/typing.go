package handlers

import (
	"context"
	"encoding/json"

	"famly/service/chat"
)

// TypingSignal relays typing:start / typing:stop. Malformed payloads are
// dropped like every other typing failure.
type TypingSignal struct {
	hub   *chat.Hub
	event string
}

func NewTypingSignal(hub *chat.Hub, event string) chat.Signal {
	return &TypingSignal{hub: hub, event: event}
}

func (s *TypingSignal) Event() string { return s.event }

func (s *TypingSignal) Notify(ctx context.Context, c *chat.Conn, payload json.RawMessage) {
	var p chat.TypingPayload
	if err := chat.DecodePayload(payload, &p); err != nil {
		return
	}
	if s.event == chat.EventTypingStop {
		s.hub.Typing().Stop(ctx, c, p.ChatID)
		return
	}
	s.hub.Typing().Start(ctx, c, p.ChatID)
}
