package natsx

import (
	"context"
	"strings"
	"sync"
	"time"
)

// IdemStore records handled message keys. SeenOnce claims key when it is
// new; Forget drops a claim whose handling failed.
type IdemStore interface {
	SeenOnce(key string, ttl time.Duration) (seen bool, err error)
	Forget(key string)
}

// MemIdem is a single-process IdemStore. A sweeper drops expired keys
// until Close.
type MemIdem struct {
	mu   sync.Mutex
	m    map[string]time.Time // key -> expiry
	ttl  time.Duration
	now  func() time.Time
	stop chan struct{}
	once sync.Once
}

func NewMemIdem(defaultTTL time.Duration) *MemIdem {
	mi := &MemIdem{
		m:    make(map[string]time.Time),
		ttl:  defaultTTL,
		now:  time.Now,
		stop: make(chan struct{}),
	}
	go mi.sweep(time.Minute)
	return mi
}

func (mi *MemIdem) sweep(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-mi.stop:
			return
		case <-t.C:
			mi.expire()
		}
	}
}

func (mi *MemIdem) expire() {
	now := mi.now()
	mi.mu.Lock()
	for k, exp := range mi.m {
		if !exp.After(now) {
			delete(mi.m, k)
		}
	}
	mi.mu.Unlock()
}

func (mi *MemIdem) SeenOnce(key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = mi.ttl
	}
	now := mi.now()
	mi.mu.Lock()
	defer mi.mu.Unlock()
	if exp, ok := mi.m[key]; ok && exp.After(now) {
		return true, nil
	}
	mi.m[key] = now.Add(ttl)
	return false, nil
}

func (mi *MemIdem) Forget(key string) {
	mi.mu.Lock()
	delete(mi.m, key)
	mi.mu.Unlock()
}

func (mi *MemIdem) Close() { mi.once.Do(func() { close(mi.stop) }) }

func (mi *MemIdem) size() int {
	mi.mu.Lock()
	defer mi.mu.Unlock()
	return len(mi.m)
}

func msgIDFromHeader(h map[string]string) string {
	for _, k := range []string{"Nats-Msg-Id", "nats-msg-id", "X-Msg-Id", "x-msg-id"} {
		if v, ok := h[k]; ok && v != "" {
			return v
		}
	}
	return ""
}

// IdemMiddleware drops messages whose id was already handled within ttl.
// Messages without an id header are keyed by subject and body. A failed
// handler releases the key so the broker's redelivery is processed.
func IdemMiddleware(store IdemStore, ttl time.Duration) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, msg Message) error {
			id := msgIDFromHeader(msg.Header)
			if id == "" {
				id = msg.Subject + "|" + strings.TrimSpace(string(msg.Data))
			}
			seen, err := store.SeenOnce(id, ttl)
			if err == nil && seen {
				return nil
			}
			if err := next(ctx, msg); err != nil {
				store.Forget(id)
				return err
			}
			return nil
		}
	}
}
