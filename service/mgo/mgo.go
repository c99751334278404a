package mgo

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"famly/data/database/mgo/mongoutil"
	"famly/tools/errs"
)

// Connector opens a client. Tests swap it out.
type Connector func(ctx context.Context, cfg *mongoutil.Config) (*mongoutil.Client, error)

// Manager connects to Mongo in the background with exponential backoff and
// keeps a health record afterwards. The driver reconnects by itself, so the
// client is never replaced once established.
type Manager struct {
	cfg     *mongoutil.Config
	log     *zap.Logger
	connect Connector

	healthEvery time.Duration
	baseBackoff time.Duration
	maxBackoff  time.Duration

	mu        sync.RWMutex
	client    *mongoutil.Client
	readyCh   chan struct{}
	readyOnce sync.Once
	lastErr   atomic.Value // error
	healthy   atomic.Bool
}

func NewManager(cfg *mongoutil.Config, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		cfg:         cfg,
		log:         log,
		connect:     mongoutil.NewMongoDB,
		healthEvery: 10 * time.Second,
		baseBackoff: 200 * time.Millisecond,
		maxBackoff:  5 * time.Second,
		readyCh:     make(chan struct{}),
	}
}

// StartAsync runs until ctx is done: connect with backoff, close Ready on
// the first success, then ping periodically. The client is disconnected
// when ctx ends.
func (m *Manager) StartAsync(ctx context.Context) {
	go m.run(ctx)
}

func (m *Manager) run(ctx context.Context) {
	attempt := 0
	for {
		cli, err := m.connect(ctx, m.cfg)
		if err == nil {
			m.mu.Lock()
			m.client = cli
			m.mu.Unlock()
			m.healthy.Store(true)
			m.readyOnce.Do(func() { close(m.readyCh) })
			m.log.Info("mongo connected", zap.String("database", m.cfg.Database))
			break
		}
		m.lastErr.Store(err)
		m.log.Warn("mongo connect failed", zap.Int("attempt", attempt), zap.Error(err))

		if !sleepCtx(ctx, m.backoff(attempt)) {
			return
		}
		if attempt < 6 {
			attempt++
		}
	}

	const failThresh = 3
	fail := 0
	ticker := time.NewTicker(m.healthEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.mu.Lock()
			if m.client != nil {
				_ = m.client.Disconnect(context.Background())
			}
			m.mu.Unlock()
			return
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
			err := m.Ping(pctx)
			cancel()
			if err != nil {
				fail++
				m.lastErr.Store(err)
				if fail >= failThresh && m.healthy.Swap(false) {
					m.log.Error("mongo unhealthy", zap.Int("failures", fail), zap.Error(err))
				}
				continue
			}
			if fail > 0 {
				m.log.Info("mongo healthy again")
			}
			fail = 0
			m.healthy.Store(true)
		}
	}
}

// backoff doubles per attempt up to maxBackoff, minus up to 10% jitter.
func (m *Manager) backoff(attempt int) time.Duration {
	d := m.baseBackoff << attempt
	if d > m.maxBackoff || d <= 0 {
		d = m.maxBackoff
	}
	if n := int64(d / 5); n > 0 {
		d -= time.Duration(rand.Int63n(n)) / 2
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Ready is closed after the first successful connect.
func (m *Manager) Ready() <-chan struct{} { return m.readyCh }

func (m *Manager) WaitReady(ctx context.Context) error {
	select {
	case <-m.readyCh:
		return nil
	case <-ctx.Done():
		if err := m.Err(); err != nil {
			return errs.WrapMsg(err, "mongo not ready")
		}
		return errs.WrapMsg(ctx.Err(), "mongo not ready")
	}
}

// Err is the most recent connect or ping error.
func (m *Manager) Err() error {
	if v := m.lastErr.Load(); v != nil {
		return v.(error)
	}
	return nil
}

func (m *Manager) DB() (*mongo.Database, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.client == nil {
		return nil, false
	}
	return m.client.GetDB(), true
}

// Ping backs readiness checks.
func (m *Manager) Ping(ctx context.Context) error {
	m.mu.RLock()
	c := m.client
	m.mu.RUnlock()
	if c == nil {
		return errs.New("mongo not connected")
	}
	return c.Ping(ctx)
}
