package natsx

import (
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"famly/tools/errs"
)

// Mode selects core NATS or a JetStream push consumer for a route.
type Mode int

const (
	Core          Mode = iota // fire-and-forget
	JetStreamPush             // durable, acked per message
)

// Route binds a business key to a subject and delivery mode.
type Route struct {
	Biz           string
	Subject       string
	Mode          Mode
	Queue         string // queue group; empty means every subscriber gets every message
	Durable       string // JetStream durable name
	AckWait       time.Duration
	MaxAckPending int
}

type Config struct {
	Servers         []string
	Name            string
	User            string
	Password        string
	ReconnectWait   time.Duration
	Timeout         time.Duration
	PublishAsyncMax int
}

// Client owns one NATS connection and the routes and subscriptions on it.
type Client struct {
	cfg Config
	nc  *nats.Conn
	js  nats.JetStreamContext
	log *zap.Logger

	mu     sync.RWMutex
	routes map[string]Route
	subs   map[string]*nats.Subscription
}

func NewClient(cfg Config, log *zap.Logger) (*Client, error) {
	if len(cfg.Servers) == 0 {
		return nil, errs.New("nats servers missing")
	}
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.ReconnectWait == 0 {
		cfg.ReconnectWait = 500 * time.Millisecond
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 3 * time.Second
	}
	if cfg.PublishAsyncMax == 0 {
		cfg.PublishAsyncMax = 4096
	}
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}
	if cfg.User != "" {
		opts = append(opts, nats.UserInfo(cfg.User, cfg.Password))
	}
	nc, err := nats.Connect(strings.Join(cfg.Servers, ","), opts...)
	if err != nil {
		return nil, errs.WrapMsg(err, "nats connect", "servers", cfg.Servers)
	}
	return &Client{
		cfg:    cfg,
		nc:     nc,
		log:    log,
		routes: make(map[string]Route),
		subs:   make(map[string]*nats.Subscription),
	}, nil
}

// Close drains subscriptions, then the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for biz, sub := range c.subs {
		_ = sub.Drain()
		delete(c.subs, biz)
	}
	if c.nc != nil {
		return c.nc.Drain()
	}
	return nil
}

func (c *Client) ensureJS() error {
	if c.js != nil {
		return nil
	}
	js, err := c.nc.JetStream(nats.PublishAsyncMaxPending(c.cfg.PublishAsyncMax))
	if err != nil {
		return err
	}
	c.js = js
	return nil
}

func (c *Client) RegisterRoute(r Route) error {
	if r.Biz == "" || r.Subject == "" {
		return errs.New("invalid route", "biz", r.Biz, "subject", r.Subject)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if r.Mode == JetStreamPush {
		if err := c.ensureJS(); err != nil {
			return errs.WrapMsg(err, "init jetstream")
		}
	}
	if r.AckWait == 0 {
		r.AckWait = 30 * time.Second
	}
	if r.MaxAckPending == 0 {
		r.MaxAckPending = 1024
	}
	c.routes[r.Biz] = r
	return nil
}

func (c *Client) route(biz string) (Route, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.routes[biz]
	return r, ok
}

// Connected reports whether the connection is currently up.
func (c *Client) Connected() bool { return c.nc != nil && c.nc.IsConnected() }
