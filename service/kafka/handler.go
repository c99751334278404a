package kafka

import (
	"context"

	"github.com/Shopify/sarama"
	"go.uber.org/zap"

	"famly/service/chat"
	"famly/tools/errs"
)

// RecordHandler processes one record. Returning an error leaves the offset
// unmarked so the record is seen again after a rebalance.
type RecordHandler func(ctx context.Context, msg *sarama.ConsumerMessage) error

// EventRouter accepts decoded domain events.
type EventRouter interface {
	Route(ev chat.DomainEvent) error
}

// EventsHandler routes domain event records to connected clients. Records
// that can never be routed are logged and skipped.
func EventsHandler(router EventRouter, log *zap.Logger) RecordHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return func(_ context.Context, msg *sarama.ConsumerMessage) error {
		ev, err := chat.DecodeDomainEvent(msg.Value)
		if err == nil {
			err = router.Route(ev)
		}
		if err != nil && errs.KindOf(err) == errs.KindValidation {
			log.Info("drop domain event",
				zap.String("topic", msg.Topic),
				zap.Int32("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
				zap.Error(err))
			return nil
		}
		return err
	}
}
