package chat

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"famly/tools/errs"
	"famly/tools/ids"
)

// Domain events produced by collaborators outside the hub.
const (
	EventTaskCreated      = "task.created"
	EventClaimCreated     = "claim.created"
	EventKarmaAwarded     = "karma.awarded"
	contributionGoalEvent = "contribution_goal."
)

// DomainEvent is an opaque event pushed by another service. It is routed to
// each listed user and/or to the chat room; the payload is never inspected.
type DomainEvent struct {
	Event   string          `json:"event"`
	UserIDs []string        `json:"userIds,omitempty"`
	ChatID  string          `json:"chatId,omitempty"`
	Payload json.RawMessage `json:"payload"`
	// RemovedUserIDs lists users a chat:update took out of the chat; their
	// connections leave the room after the update is delivered.
	RemovedUserIDs []string `json:"removedUserIds,omitempty"`
}

// PassthroughAllowed reports whether event may be routed through the hub.
func PassthroughAllowed(event string) bool {
	switch event {
	case EventTaskCreated, EventClaimCreated, EventKarmaAwarded, EventChatUpdate:
		return true
	}
	return strings.HasPrefix(event, contributionGoalEvent) && len(event) > len(contributionGoalEvent)
}

// DecodeDomainEvent parses a broker record. The event name is checked
// before the body is decoded so foreign traffic on a shared subject or
// topic costs no allocation beyond the scan.
func DecodeDomainEvent(data []byte) (DomainEvent, error) {
	if !gjson.ValidBytes(data) {
		return DomainEvent{}, errs.ErrValidation.WrapMsg("domain event is not valid JSON")
	}
	if name := gjson.GetBytes(data, "event").String(); !PassthroughAllowed(name) {
		return DomainEvent{}, errs.ErrValidation.WrapMsg("event is not routable", "event", name)
	}
	var ev DomainEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return DomainEvent{}, errs.ErrValidation.WrapMsg("decode domain event: " + err.Error())
	}
	return ev, nil
}

// Passthrough routes domain events from collaborators to connected clients.
type Passthrough struct {
	rooms  *Rooms
	fanout *Broadcaster
	log    *zap.Logger
}

func NewPassthrough(rooms *Rooms, fanout *Broadcaster, log *zap.Logger) *Passthrough {
	return &Passthrough{rooms: rooms, fanout: fanout, log: log}
}

// Route delivers ev. Unknown events, events without a target and malformed
// chat ids are VALIDATION_ERROR.
func (p *Passthrough) Route(ev DomainEvent) error {
	if !PassthroughAllowed(ev.Event) {
		return errs.ErrValidation.WrapMsg("event is not routable", "event", ev.Event)
	}
	if len(ev.UserIDs) == 0 && ev.ChatID == "" {
		return errs.ErrValidation.WrapMsg("event has no target", "event", ev.Event)
	}
	if ev.ChatID != "" && !ids.Valid(ev.ChatID) {
		return errs.ErrValidation.WrapMsg("chatId is not a valid id", "chatId", ev.ChatID)
	}
	payload := ev.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}

	seen := make(map[string]struct{}, len(ev.UserIDs))
	for _, id := range ev.UserIDs {
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		p.fanout.ToUser(id, ev.Event, payload)
	}
	if ev.ChatID != "" {
		p.fanout.ToRoom(ev.ChatID, ev.Event, payload, nil)
		if ev.Event == EventChatUpdate {
			for _, id := range ev.RemovedUserIDs {
				if n := p.rooms.Evict(ev.ChatID, id); n > 0 {
					p.log.Info("evicted from room", zap.String("chatId", ev.ChatID), zap.String("userId", id), zap.Int("connections", n))
				}
			}
		}
	}
	return nil
}
