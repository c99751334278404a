package kafka

import (
	"time"

	"github.com/Shopify/sarama"

	"famly/tools/errs"
)

type Config struct {
	Brokers []string
	GroupID string
	Topics  []string
	Version string // e.g. "2.1.0"; empty means sarama.V2_1_0_0
	Oldest  bool   // start new groups at the oldest offset
}

func (c Config) validate() error {
	switch {
	case len(c.Brokers) == 0:
		return errs.New("kafka brokers missing")
	case c.GroupID == "":
		return errs.New("kafka group id missing")
	case len(c.Topics) == 0:
		return errs.New("kafka topics missing")
	}
	return nil
}

// BuildConfig turns c into a consumer group configuration.
func BuildConfig(c Config) (*sarama.Config, error) {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_1_0_0
	if c.Version != "" {
		v, err := sarama.ParseKafkaVersion(c.Version)
		if err != nil {
			return nil, errs.WrapMsg(err, "kafka version", "version", c.Version)
		}
		cfg.Version = v
	}

	cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	if c.Oldest {
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	}
	cfg.Consumer.Return.Errors = true
	cfg.Consumer.Group.Rebalance.Strategy = sarama.BalanceStrategyRange

	cfg.Net.DialTimeout = 10 * time.Second
	cfg.Net.ReadTimeout = 30 * time.Second
	cfg.Net.WriteTimeout = 30 * time.Second
	return cfg, nil
}
