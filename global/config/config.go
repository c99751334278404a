package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"famly/service/chat"
	"famly/tools/errs"
)

const envPrefix = "FAMLY"

const (
	DriverMongo  = "mongo"
	DriverMemory = "memory"
)

// AppConfig is the full hub configuration. Keys map onto YAML paths
// (server.addr) and FAMLY_ environment variables (FAMLY_SERVER_ADDR).
type AppConfig struct {
	NodeID int64        `mapstructure:"nodeId"` // snowflake node, 0~1023
	Server ServerConfig `mapstructure:"server"`
	Auth   AuthConfig   `mapstructure:"auth"`
	Hub    HubConfig    `mapstructure:"hub"`
	Store  StoreConfig  `mapstructure:"store"`
	Mongo  MongoConfig  `mapstructure:"mongo"`
	Redis  RedisConfig  `mapstructure:"redis"`
	Nats   NatsConfig   `mapstructure:"nats"`
	Kafka  KafkaConfig  `mapstructure:"kafka"`
	Log    LogConfig    `mapstructure:"log"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	MaxConnections  int           `mapstructure:"maxConnections"`
	ReadLimit       int64         `mapstructure:"readLimit"`
	SendQueue       int           `mapstructure:"sendQueue"`
	PingInterval    time.Duration `mapstructure:"pingInterval"`
	PongWait        time.Duration `mapstructure:"pongWait"`
	WriteWait       time.Duration `mapstructure:"writeWait"`
	AllowedOrigins  []string      `mapstructure:"allowedOrigins"`
	UpgradeRate     float64       `mapstructure:"upgradeRate"` // upgrades per second per client IP
	UpgradeBurst    int           `mapstructure:"upgradeBurst"`
	ShutdownTimeout time.Duration `mapstructure:"shutdownTimeout"`
}

type AuthConfig struct {
	Secret     string        `mapstructure:"secret"`
	Alg        string        `mapstructure:"alg"`
	Leeway     time.Duration `mapstructure:"leeway"`
	QueryParam string        `mapstructure:"queryParam"`
}

type HubConfig struct {
	RateLimit        int           `mapstructure:"rateLimit"`
	RateWindow       time.Duration `mapstructure:"rateWindow"`
	PresenceThrottle time.Duration `mapstructure:"presenceThrottle"`
	MaxBodyChars     int           `mapstructure:"maxBodyChars"`
	FanoutWorkers    int           `mapstructure:"fanoutWorkers"`
	FanoutQueue      int           `mapstructure:"fanoutQueue"`
	StoreTimeout     time.Duration `mapstructure:"storeTimeout"`
}

type StoreConfig struct {
	Driver string     `mapstructure:"driver"`
	Memory MemorySeed `mapstructure:"memory"`
}

// MemorySeed preloads the in-memory collaborators for local runs.
type MemorySeed struct {
	Chats    map[string][]string `mapstructure:"chats"`    // chatId -> member ids
	Families [][]string          `mapstructure:"families"` // household member ids
}

type MongoConfig struct {
	URI         string   `mapstructure:"uri"`
	Address     []string `mapstructure:"address"`
	Database    string   `mapstructure:"database"`
	Username    string   `mapstructure:"username"`
	Password    string   `mapstructure:"password"`
	AuthSource  string   `mapstructure:"authSource"`
	MaxPoolSize int      `mapstructure:"maxPoolSize"`
	MaxRetry    int      `mapstructure:"maxRetry"`
}

type RedisConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	PoolSize    int           `mapstructure:"poolSize"`
	PresenceTTL time.Duration `mapstructure:"presenceTTL"`
}

type NatsConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Servers       []string      `mapstructure:"servers"`
	Name          string        `mapstructure:"name"`
	User          string        `mapstructure:"user"`
	Password      string        `mapstructure:"password"`
	RelaySubject  string        `mapstructure:"relaySubject"`
	EventsSubject string        `mapstructure:"eventsSubject"`
	EventsQueue   string        `mapstructure:"eventsQueue"`
	EventsDurable string        `mapstructure:"eventsDurable"` // set to consume events through JetStream
	DedupTTL      time.Duration `mapstructure:"dedupTTL"`
}

type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	GroupID string   `mapstructure:"groupId"`
	Topics  []string `mapstructure:"topics"`
	Version string   `mapstructure:"version"`
	Oldest  bool     `mapstructure:"oldest"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Color      bool   `mapstructure:"color"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"maxSizeMB"`
	MaxBackups int    `mapstructure:"maxBackups"`
	MaxAgeDays int    `mapstructure:"maxAgeDays"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("nodeId", 1)

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.maxConnections", 10000)
	v.SetDefault("server.readLimit", 0) // derived from hub.maxBodyChars
	v.SetDefault("server.sendQueue", 256)
	v.SetDefault("server.pingInterval", "25s")
	v.SetDefault("server.pongWait", "60s")
	v.SetDefault("server.writeWait", "10s")
	v.SetDefault("server.allowedOrigins", []string{})
	v.SetDefault("server.upgradeRate", 5.0)
	v.SetDefault("server.upgradeBurst", 20)
	v.SetDefault("server.shutdownTimeout", "10s")

	v.SetDefault("auth.secret", "")
	v.SetDefault("auth.alg", "HS256")
	v.SetDefault("auth.leeway", "30s")
	v.SetDefault("auth.queryParam", "token")

	v.SetDefault("hub.rateLimit", 10)
	v.SetDefault("hub.rateWindow", "10s")
	v.SetDefault("hub.presenceThrottle", "2s")
	v.SetDefault("hub.maxBodyChars", 8000)
	v.SetDefault("hub.fanoutWorkers", 8)
	v.SetDefault("hub.fanoutQueue", 1024)
	v.SetDefault("hub.storeTimeout", "5s")

	v.SetDefault("store.driver", DriverMongo)

	v.SetDefault("mongo.uri", "")
	v.SetDefault("mongo.address", []string{})
	v.SetDefault("mongo.database", "famly")
	v.SetDefault("mongo.username", "")
	v.SetDefault("mongo.password", "")
	v.SetDefault("mongo.authSource", "")
	v.SetDefault("mongo.maxPoolSize", 20)
	v.SetDefault("mongo.maxRetry", 3)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.poolSize", 10)
	v.SetDefault("redis.presenceTTL", "90s")

	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.servers", []string{"nats://127.0.0.1:4222"})
	v.SetDefault("nats.name", "famly-hub")
	v.SetDefault("nats.user", "")
	v.SetDefault("nats.password", "")
	v.SetDefault("nats.relaySubject", "famly.hub.relay")
	v.SetDefault("nats.eventsSubject", "famly.events.>")
	v.SetDefault("nats.eventsQueue", "famly-hub")
	v.SetDefault("nats.eventsDurable", "")
	v.SetDefault("nats.dedupTTL", "2m")

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"127.0.0.1:9092"})
	v.SetDefault("kafka.groupId", "famly-hub")
	v.SetDefault("kafka.topics", []string{"famly.events"})
	v.SetDefault("kafka.version", "2.1.0")
	v.SetDefault("kafka.oldest", false)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.color", true)
	v.SetDefault("log.file", "")
	v.SetDefault("log.maxSizeMB", 100)
	v.SetDefault("log.maxBackups", 5)
	v.SetDefault("log.maxAgeDays", 14)
}

// Load reads defaults, then the YAML file at path (optional when empty or
// missing), then FAMLY_* environment variables, and validates the result.
func Load(path string) (*AppConfig, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		_, err := os.Stat(path)
		switch {
		case err == nil:
			v.SetConfigFile(path)
			v.SetConfigType("yaml")
			if err := v.ReadInConfig(); err != nil {
				return nil, errs.WrapMsg(err, "read config", "path", path)
			}
		case !errors.Is(err, os.ErrNotExist):
			return nil, errs.WrapMsg(err, "stat config", "path", path)
		}
	}

	var cfg AppConfig
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, errs.WrapMsg(err, "decode config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the hub cannot start with.
func (c *AppConfig) Validate() error {
	switch c.Store.Driver {
	case DriverMongo:
		if c.Mongo.URI == "" && len(c.Mongo.Address) == 0 {
			return errs.New("mongo.uri or mongo.address is required for the mongo store driver")
		}
		if c.Mongo.Database == "" {
			return errs.New("mongo.database is required")
		}
	case DriverMemory:
	default:
		return errs.New("unknown store driver", "driver", c.Store.Driver)
	}
	if c.Auth.Secret == "" {
		return errs.New("auth.secret is required")
	}
	if c.Hub.RateLimit <= 0 || c.Hub.RateWindow <= 0 {
		return errs.New("hub.rateLimit and hub.rateWindow must be positive")
	}
	if c.Hub.PresenceThrottle < 0 {
		return errs.New("hub.presenceThrottle must not be negative")
	}
	if c.Hub.MaxBodyChars <= 0 {
		return errs.New("hub.maxBodyChars must be positive")
	}
	if floor := chat.MinReadLimit(c.Hub.MaxBodyChars); c.Server.ReadLimit != 0 && c.Server.ReadLimit < floor {
		return errs.New("server.readLimit cannot hold a maximal message", "readLimit", c.Server.ReadLimit, "min", floor)
	}
	if c.Server.PingInterval >= c.Server.PongWait {
		return errs.New("server.pingInterval must be shorter than server.pongWait")
	}
	if c.Nats.Enabled && len(c.Nats.Servers) == 0 {
		return errs.New("nats.servers is required when nats is enabled")
	}
	if c.Kafka.Enabled && (len(c.Kafka.Brokers) == 0 || len(c.Kafka.Topics) == 0) {
		return errs.New("kafka.brokers and kafka.topics are required when kafka is enabled")
	}
	return nil
}
