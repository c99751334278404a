package natsx

import (
	"context"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"famly/tools/errs"
)

type Consumer struct {
	c   *Client
	mws []Middleware
}

func NewConsumer(c *Client, mws ...Middleware) *Consumer {
	return &Consumer{c: c, mws: mws}
}

// Subscribe attaches h to the route registered for biz. Core handler
// errors are logged; JetStream handler errors nak the message.
func (cs *Consumer) Subscribe(biz string, h Handler, mws ...Middleware) error {
	r, ok := cs.c.route(biz)
	if !ok {
		return errs.New("route not found", "biz", biz)
	}
	h = Chain(h, append(append([]Middleware(nil), cs.mws...), mws...)...)
	log := cs.c.log.With(zap.String("biz", biz), zap.String("subject", r.Subject))

	var (
		sub *nats.Subscription
		err error
	)
	switch r.Mode {
	case Core:
		cb := func(m *nats.Msg) {
			if err := h(context.Background(), toMessage(m)); err != nil {
				log.Warn("nats handler failed", zap.Error(err))
			}
		}
		if r.Queue == "" {
			sub, err = cs.c.nc.Subscribe(r.Subject, cb)
		} else {
			sub, err = cs.c.nc.QueueSubscribe(r.Subject, r.Queue, cb)
		}
		if err == nil {
			_ = sub.SetPendingLimits(1_000_000, 64*1024*1024)
		}

	case JetStreamPush:
		if cs.c.js == nil {
			return errs.New("jetstream not initialized", "biz", biz)
		}
		opts := []nats.SubOpt{
			nats.ManualAck(),
			nats.AckWait(r.AckWait),
			nats.MaxAckPending(r.MaxAckPending),
		}
		if r.Durable != "" {
			opts = append(opts, nats.Durable(r.Durable))
		}
		cb := func(m *nats.Msg) {
			if err := h(context.Background(), toMessage(m)); err != nil {
				log.Warn("nats handler failed, nak", zap.Error(err))
				_ = m.Nak()
				return
			}
			_ = m.Ack()
		}
		if r.Queue == "" {
			sub, err = cs.c.js.Subscribe(r.Subject, cb, opts...)
		} else {
			sub, err = cs.c.js.QueueSubscribe(r.Subject, r.Queue, cb, opts...)
		}

	default:
		return errs.New("mode not supported", "biz", biz)
	}
	if err != nil {
		return errs.WrapMsg(err, "nats subscribe", "subject", r.Subject)
	}
	cs.c.mu.Lock()
	cs.c.subs[biz] = sub
	cs.c.mu.Unlock()
	log.Info("nats subscribed", zap.String("queue", r.Queue))
	return nil
}

func toMessage(m *nats.Msg) Message {
	return Message{
		Subject: m.Subject,
		Data:    append([]byte(nil), m.Data...),
		Header:  headerToMap(m.Header),
	}
}

func headerToMap(h nats.Header) map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}
