package chat

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"

	"famly/tools/errs"
)

// Inbound request events.
const (
	EventRoomJoin     = "room:join"
	EventRoomLeave    = "room:leave"
	EventMessageSend  = "message:send"
	EventReceiptRead  = "receipt:read"
	EventPresencePing = "presence:ping"
	EventTypingStart  = "typing:start"
	EventTypingStop   = "typing:stop"
)

// Outbound events.
const (
	EventAck            = "ack"
	EventMessageNew     = "message:new"
	EventChatUpdate     = "chat:update"
	EventReceiptUpdate  = "receipt:update"
	EventTypingUpdate   = "typing:update"
	EventPresenceUpdate = "presence:update"
)

// Frame is the JSON envelope of every websocket text frame. AckID is the
// ackId as text for logging and lookups; acks echo the token exactly as the
// client sent it, so a numeric ackId comes back as a number.
type Frame struct {
	Event   string
	AckID   string
	Payload json.RawMessage

	ackRaw json.RawMessage
}

type wireFrame struct {
	Event   string          `json:"event"`
	AckID   json.RawMessage `json:"ackId,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func (f Frame) MarshalJSON() ([]byte, error) {
	w := wireFrame{Event: f.Event, AckID: f.ackRaw, Payload: f.Payload}
	if len(w.AckID) == 0 && f.AckID != "" {
		quoted, err := json.Marshal(f.AckID)
		if err != nil {
			return nil, err
		}
		w.AckID = quoted
	}
	return json.Marshal(w)
}

// ParseFrame extracts event, ackId and the raw payload. A frame without an
// event name is rejected, keeping the ackId so the failure can still be
// acked; payload shape is checked by DecodePayload.
func ParseFrame(raw []byte) (Frame, error) {
	if !gjson.ValidBytes(raw) {
		return Frame{}, errs.ErrValidation.WrapMsg("frame is not valid JSON")
	}
	res := gjson.GetManyBytes(raw, "event", "ackId", "payload")
	var f Frame
	switch res[1].Type {
	case gjson.String:
		f.AckID = res[1].Str
		f.ackRaw = json.RawMessage(res[1].Raw)
	case gjson.Number:
		f.AckID = res[1].Raw
		f.ackRaw = json.RawMessage(res[1].Raw)
	}
	f.Event = strings.TrimSpace(res[0].String())
	if res[0].Type != gjson.String || f.Event == "" {
		return Frame{AckID: f.AckID, ackRaw: f.ackRaw}, errs.ErrValidation.WrapMsg("frame has no event name")
	}
	if res[2].Exists() {
		f.Payload = json.RawMessage(res[2].Raw)
	}
	return f, nil
}

// DecodePayload decodes a frame payload into a typed struct. A missing
// payload decodes as an empty object; anything but an object is rejected.
func DecodePayload(raw json.RawMessage, dst any) error {
	if len(raw) == 0 || gjson.ParseBytes(raw).Type == gjson.Null {
		raw = json.RawMessage("{}")
	}
	if !gjson.ParseBytes(raw).IsObject() {
		return errs.ErrValidation.WrapMsg("payload must be an object")
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return errs.ErrValidation.WrapMsg("payload has the wrong shape", "cause", err.Error())
	}
	return nil
}

// EncodeFrame renders an outbound frame.
func EncodeFrame(event, ackID string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, errs.WrapMsg(err, "encode payload", "event", event)
	}
	return encodeRaw(event, ackID, raw)
}

// EncodeAck renders the ack for request f, echoing its ackId verbatim.
func EncodeAck(f Frame, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, errs.WrapMsg(err, "encode payload", "event", EventAck)
	}
	out, err := json.Marshal(Frame{Event: EventAck, AckID: f.AckID, ackRaw: f.ackRaw, Payload: raw})
	if err != nil {
		return nil, errs.WrapMsg(err, "encode frame", "event", EventAck)
	}
	return out, nil
}

func encodeRaw(event, ackID string, payload json.RawMessage) ([]byte, error) {
	out, err := json.Marshal(Frame{Event: event, AckID: ackID, Payload: payload})
	if err != nil {
		return nil, errs.WrapMsg(err, "encode frame", "event", event)
	}
	return out, nil
}

// Request payloads, one fixed shape per event.

type RoomPayload struct {
	ChatID string `json:"chatId"`
}

type SendPayload struct {
	ChatID   string `json:"chatId"`
	Body     string `json:"body"`
	ClientID string `json:"clientId"`
}

type ReadPayload struct {
	ChatID    string `json:"chatId"`
	MessageID string `json:"messageId"`
}

type PingPayload struct{}

type TypingPayload struct {
	ChatID string `json:"chatId"`
}

// Broadcast payloads.

type MessageNew struct {
	Message Message `json:"message"`
}

type ReceiptUpdate struct {
	ChatID    string `json:"chatId"`
	MessageID string `json:"messageId"`
	UserID    string `json:"userId"`
	ReadAt    string `json:"readAt"`
}

type TypingUpdate struct {
	ChatID string `json:"chatId"`
	UserID string `json:"userId"`
	State  string `json:"state"` // start | stop
}

type PresenceUpdate struct {
	UserID string `json:"userId"`
	Status string `json:"status"` // online | offline
}
