package natsx

import (
	"context"

	"go.uber.org/zap"

	"famly/service/chat"
	"famly/tools/errs"
)

const BizEvents = "hub.events"

// EventRouter accepts decoded domain events.
type EventRouter interface {
	Route(ev chat.DomainEvent) error
}

// EventsRoute is the queue-group subscription for domain events. A durable
// name switches it to a JetStream push consumer.
func EventsRoute(subject, queue, durable string) Route {
	r := Route{Biz: BizEvents, Subject: subject, Queue: queue, Mode: Core}
	if durable != "" {
		r.Mode = JetStreamPush
		r.Durable = durable
	}
	return r
}

// EventsHandler routes domain events to connected clients. Records that can
// never be routed are logged and acked; only unexpected failures are
// returned so JetStream redelivers them.
func EventsHandler(router EventRouter, log *zap.Logger) Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return func(_ context.Context, msg Message) error {
		ev, err := chat.DecodeDomainEvent(msg.Data)
		if err == nil {
			err = router.Route(ev)
		}
		switch {
		case err == nil:
			return nil
		case errs.KindOf(err) == errs.KindValidation:
			log.Info("drop domain event", zap.String("subject", msg.Subject), zap.Error(err))
			return nil
		default:
			return err
		}
	}
}
