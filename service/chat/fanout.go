package chat

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"sync"
	"time"

	"go.uber.org/zap"

	"famly/service/metrics"
)

const (
	ScopeRoom = "room"
	ScopeUser = "user"
)

// RelayEvent is a broadcast crossing hub instances.
type RelayEvent struct {
	Origin  string          `json:"origin"`
	Scope   string          `json:"scope"`
	Target  string          `json:"target"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Exclude string          `json:"exclude,omitempty"` // connection id
}

// Relay forwards local broadcasts to the other hub instances.
type Relay interface {
	Publish(ctx context.Context, ev RelayEvent) error
}

type delivery struct {
	conn  *Conn
	frame []byte
}

// Broadcaster delivers events to a room or to a user's devices. Deliveries
// run on a fixed set of shard workers; a connection always hashes to the
// same shard so it sees frames in the order they were broadcast. Delivery
// is best effort: closed or saturated targets are skipped.
type Broadcaster struct {
	registry *Registry
	rooms    *Rooms
	log      *zap.Logger
	metrics  *metrics.Metrics

	mu     sync.RWMutex
	closed bool
	shards []chan delivery
	wg     sync.WaitGroup

	origin       string
	relay        Relay
	relayTimeout time.Duration
}

func NewBroadcaster(registry *Registry, rooms *Rooms, workers, queue int, log *zap.Logger, m *metrics.Metrics) *Broadcaster {
	if workers <= 0 {
		workers = 8
	}
	if queue <= 0 {
		queue = 1024
	}
	b := &Broadcaster{
		registry:     registry,
		rooms:        rooms,
		log:          log,
		metrics:      m,
		shards:       make([]chan delivery, workers),
		relayTimeout: 2 * time.Second,
	}
	for i := range b.shards {
		ch := make(chan delivery, queue)
		b.shards[i] = ch
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			for d := range ch {
				b.metrics.Delivered(d.conn.Deliver(d.frame))
			}
		}()
	}
	return b
}

// SetRelay enables cross-instance fanout. origin identifies this instance so
// its own relayed events are ignored on the way back.
func (b *Broadcaster) SetRelay(origin string, r Relay) {
	b.mu.Lock()
	b.origin = origin
	b.relay = r
	b.mu.Unlock()
}

// ToRoom delivers event to every connection targeting chatID except exclude.
func (b *Broadcaster) ToRoom(chatID, event string, payload any, exclude *Conn) {
	raw, err := json.Marshal(payload)
	if err != nil {
		b.log.Error("encode broadcast payload", zap.String("event", event), zap.Error(err))
		return
	}
	excludeID := ""
	if exclude != nil {
		excludeID = exclude.ID
	}
	b.deliverLocal(ScopeRoom, chatID, event, raw, excludeID)
	b.publish(RelayEvent{Scope: ScopeRoom, Target: chatID, Event: event, Payload: raw, Exclude: excludeID})
}

// ToUser delivers event to every device of userID.
func (b *Broadcaster) ToUser(userID, event string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		b.log.Error("encode broadcast payload", zap.String("event", event), zap.Error(err))
		return
	}
	b.deliverLocal(ScopeUser, userID, event, raw, "")
	b.publish(RelayEvent{Scope: ScopeUser, Target: userID, Event: event, Payload: raw})
}

// DeliverRelayed delivers an event received from another instance to local
// targets only.
func (b *Broadcaster) DeliverRelayed(ev RelayEvent) {
	b.mu.RLock()
	own := ev.Origin != "" && ev.Origin == b.origin
	b.mu.RUnlock()
	if own {
		return
	}
	b.deliverLocal(ev.Scope, ev.Target, ev.Event, ev.Payload, ev.Exclude)
}

func (b *Broadcaster) deliverLocal(scope, target, event string, payload json.RawMessage, excludeID string) {
	var targets []*Conn
	switch scope {
	case ScopeRoom:
		targets = b.rooms.Targets(target)
	case ScopeUser:
		targets = b.registry.ConnectionsFor(target)
	default:
		b.log.Warn("unknown broadcast scope", zap.String("scope", scope))
		return
	}
	if len(targets) == 0 {
		return
	}
	frame, err := encodeRaw(event, "", payload)
	if err != nil {
		b.log.Error("encode broadcast frame", zap.String("event", event), zap.Error(err))
		return
	}
	b.enqueue(targets, frame, excludeID)
}

func (b *Broadcaster) enqueue(targets []*Conn, frame []byte, excludeID string) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, c := range targets {
		if c.ID == excludeID || c.Closed() {
			continue
		}
		select {
		case b.shards[shardOf(c.ID, len(b.shards))] <- delivery{conn: c, frame: frame}:
		default:
			// shard saturated: drop rather than stall the caller
			b.metrics.Delivered(false)
		}
	}
}

func (b *Broadcaster) publish(ev RelayEvent) {
	b.mu.RLock()
	r, origin := b.relay, b.origin
	b.mu.RUnlock()
	if r == nil {
		return
	}
	ev.Origin = origin
	ctx, cancel := context.WithTimeout(context.Background(), b.relayTimeout)
	defer cancel()
	if err := r.Publish(ctx, ev); err != nil {
		b.log.Warn("relay publish failed", zap.String("event", ev.Event), zap.String("scope", ev.Scope), zap.Error(err))
	}
}

// Close stops the shard workers after draining queued deliveries.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for _, ch := range b.shards {
		close(ch)
	}
	b.mu.Unlock()
	b.wg.Wait()
}

func shardOf(connID string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(connID))
	return int(h.Sum32() % uint32(n))
}
