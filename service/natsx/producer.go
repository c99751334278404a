package natsx

import (
	"context"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"famly/tools/errs"
)

type Producer struct{ c *Client }

func NewProducer(c *Client) *Producer { return &Producer{c: c} }

// Publish sends data on the subject registered for biz.
func (p *Producer) Publish(ctx context.Context, biz string, data []byte, hdr map[string]string) error {
	r, ok := p.c.route(biz)
	if !ok {
		return errs.New("route not found", "biz", biz)
	}
	msg := newMsg(r.Subject, data, hdr)
	switch r.Mode {
	case Core:
		if err := p.c.nc.PublishMsg(msg); err != nil {
			return errs.WrapMsg(err, "nats publish", "subject", r.Subject)
		}
	case JetStreamPush:
		if _, err := p.c.js.PublishMsg(msg, nats.Context(ctx)); err != nil {
			return errs.WrapMsg(err, "jetstream publish", "subject", r.Subject)
		}
	default:
		return errs.New("unsupported mode", "biz", biz)
	}
	return nil
}

// PublishOnce sets Nats-Msg-Id so JetStream and IdemMiddleware drop
// duplicates. An empty msgID gets a random one.
func (p *Producer) PublishOnce(ctx context.Context, biz string, data []byte, hdr map[string]string, msgID string) error {
	h := make(map[string]string, len(hdr)+1)
	for k, v := range hdr {
		h[k] = v
	}
	if msgID == "" {
		msgID = uuid.NewString()
	}
	h["Nats-Msg-Id"] = msgID
	return p.Publish(ctx, biz, data, h)
}

func newMsg(subject string, data []byte, hdr map[string]string) *nats.Msg {
	msg := nats.NewMsg(subject)
	msg.Data = data
	for k, v := range hdr {
		msg.Header.Add(k, v)
	}
	return msg
}
