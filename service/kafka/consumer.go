package kafka

import (
	"context"
	"errors"
	"time"

	"github.com/Shopify/sarama"
	"go.uber.org/zap"

	"famly/tools/errs"
)

// groupHandler feeds every claimed record to handle and marks it once
// handled.
type groupHandler struct {
	handle RecordHandler
	log    *zap.Logger
}

func (h *groupHandler) Setup(s sarama.ConsumerGroupSession) error {
	h.log.Info("kafka session setup", zap.String("memberId", s.MemberID()), zap.Int32("generation", s.GenerationID()))
	return nil
}

func (h *groupHandler) Cleanup(s sarama.ConsumerGroupSession) error {
	h.log.Info("kafka session cleanup", zap.String("memberId", s.MemberID()))
	return nil
}

func (h *groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := session.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := h.handle(ctx, msg); err != nil {
				// stop this claim; the unmarked record is redelivered after the rebalance
				h.log.Warn("kafka record failed",
					zap.String("topic", msg.Topic),
					zap.Int32("partition", msg.Partition),
					zap.Int64("offset", msg.Offset),
					zap.Error(err))
				return err
			}
			session.MarkMessage(msg, "")
		}
	}
}

// Consumer runs one consumer group over the configured topics.
type Consumer struct {
	cfg   Config
	group sarama.ConsumerGroup
	h     *groupHandler
	log   *zap.Logger
}

func NewConsumer(cfg Config, handle RecordHandler, log *zap.Logger) (*Consumer, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	sc, err := BuildConfig(cfg)
	if err != nil {
		return nil, err
	}
	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, sc)
	if err != nil {
		return nil, errs.WrapMsg(err, "kafka consumer group", "group", cfg.GroupID)
	}
	return &Consumer{cfg: cfg, group: group, h: &groupHandler{handle: handle, log: log}, log: log}, nil
}

// Run consumes until ctx is done. Consume returns on every rebalance, so it
// is called in a loop.
func (c *Consumer) Run(ctx context.Context) error {
	go func() {
		for err := range c.group.Errors() {
			c.log.Warn("kafka consumer group error", zap.Error(err))
		}
	}()
	c.log.Info("kafka consuming", zap.String("group", c.cfg.GroupID), zap.Strings("topics", c.cfg.Topics))
	for {
		err := c.group.Consume(ctx, c.cfg.Topics, c.h)
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, sarama.ErrClosedConsumerGroup) {
			return nil
		}
		if err != nil {
			c.log.Warn("kafka consume", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
		}
	}
}

func (c *Consumer) Close() error { return c.group.Close() }
