package natsx

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"famly/service/chat"
	"famly/tools/errs"
)

const BizRelay = "hub.relay"

// RelaySink receives broadcasts published by other hub instances.
type RelaySink interface {
	DeliverRelayed(ev chat.RelayEvent)
}

// Relay carries hub broadcasts between instances over a core subject.
// Every instance subscribes without a queue group so each one sees every
// broadcast; the sink drops the ones this instance published.
type Relay struct {
	pub Publisher
	log *zap.Logger
}

func NewRelay(pub Publisher, log *zap.Logger) *Relay {
	if log == nil {
		log = zap.NewNop()
	}
	return &Relay{pub: pub, log: log}
}

// RelayRoute is the route a Relay publishes and subscribes on.
func RelayRoute(subject string) Route {
	return Route{Biz: BizRelay, Subject: subject, Mode: Core}
}

func (r *Relay) Publish(ctx context.Context, ev chat.RelayEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return errs.WrapMsg(err, "encode relay event")
	}
	return r.pub.Publish(ctx, BizRelay, data, nil)
}

// Handler decodes relayed broadcasts into sink.
func (r *Relay) Handler(sink RelaySink) Handler {
	return func(_ context.Context, msg Message) error {
		var ev chat.RelayEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			r.log.Warn("drop malformed relay event", zap.String("subject", msg.Subject), zap.Error(err))
			return nil
		}
		if ev.Scope == "" || ev.Target == "" || ev.Event == "" {
			r.log.Warn("drop incomplete relay event", zap.String("origin", ev.Origin), zap.String("event", ev.Event))
			return nil
		}
		sink.DeliverRelayed(ev)
		return nil
	}
}
