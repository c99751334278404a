package chat

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"famly/service/metrics"
	"famly/tools/safe"
)

const (
	StatusOnline  = "online"
	StatusOffline = "offline"

	DefaultPresenceThrottle = 2 * time.Second
)

type PingResult struct {
	ServerTime string `json:"serverTime"`
}

type presenceEntry struct {
	count      int
	lastStatus string // last broadcast status, "" = never broadcast (offline)
	lastAt     time.Time
	pending    string // coalesced status waiting for the next flush
	timer      *time.Timer
	lastSeen   time.Time
}

// Presence reference-counts connections per user. Only the first connect
// and the last disconnect are transitions; they reach the user's contacts
// as presence:update, at most once per throttle interval per user, carrying
// the state current at flush time.
type Presence struct {
	contacts ContactsResolver
	fanout   *Broadcaster
	mirror   PresenceMirror
	log      *zap.Logger
	metrics  *metrics.Metrics

	throttle time.Duration
	timeout  time.Duration
	now      func() time.Time

	mu      sync.Mutex
	closed  bool
	entries map[string]*presenceEntry
	mirrorQ map[string][]mirrorOp // per-user writes; a non-empty queue has a drainer
	wg      sync.WaitGroup
}

type mirrorOp struct {
	name string
	fn   func(ctx context.Context, m PresenceMirror) error
	m    PresenceMirror
}

func NewPresence(contacts ContactsResolver, fanout *Broadcaster, throttle time.Duration, log *zap.Logger, m *metrics.Metrics) *Presence {
	if throttle < 0 {
		throttle = DefaultPresenceThrottle
	}
	return &Presence{
		contacts: contacts,
		fanout:   fanout,
		log:      log,
		metrics:  m,
		throttle: throttle,
		timeout:  5 * time.Second,
		now:      time.Now,
		entries:  make(map[string]*presenceEntry),
		mirrorQ:  make(map[string][]mirrorOp),
	}
}

// SetMirror publishes transitions and pings to an external presence store.
func (p *Presence) SetMirror(m PresenceMirror) {
	p.mu.Lock()
	p.mirror = m
	p.mu.Unlock()
}

func (p *Presence) OnConnect(userID string) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	e := p.entries[userID]
	if e == nil {
		e = &presenceEntry{}
		p.entries[userID] = e
	}
	e.count++
	e.lastSeen = p.now()
	if e.count == 1 {
		p.scheduleLocked(userID, e, StatusOnline)
		p.mirrorLocked(userID, "presence.online", func(ctx context.Context, m PresenceMirror) error {
			return m.SetOnline(ctx, userID)
		})
	}
	p.mu.Unlock()
}

func (p *Presence) OnDisconnect(userID string) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	e := p.entries[userID]
	if e == nil || e.count == 0 {
		p.mu.Unlock()
		return
	}
	e.count--
	if e.count == 0 {
		p.scheduleLocked(userID, e, StatusOffline)
		p.mirrorLocked(userID, "presence.offline", func(ctx context.Context, m PresenceMirror) error {
			return m.SetOffline(ctx, userID)
		})
	}
	p.mu.Unlock()
}

// Ping refreshes last-seen and returns the server clock. It never fails.
func (p *Presence) Ping(c *Conn) PingResult {
	now := p.now()
	c.Touch(now)

	userID := c.UserID
	p.mu.Lock()
	if e := p.entries[userID]; e != nil {
		e.lastSeen = now
	}
	p.mirrorLocked(userID, "presence.touch", func(ctx context.Context, m PresenceMirror) error {
		return m.Touch(ctx, userID, now)
	})
	p.mu.Unlock()
	return PingResult{ServerTime: isoTime(now)}
}

// Status is online while the user holds at least one connection.
func (p *Presence) Status(userID string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e := p.entries[userID]; e != nil && e.count > 0 {
		return StatusOnline
	}
	return StatusOffline
}

func (p *Presence) LastSeen(userID string) (time.Time, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e := p.entries[userID]
	if e == nil {
		return time.Time{}, false
	}
	return e.lastSeen, true
}

// scheduleLocked records status as pending and arms the flush timer unless
// one is already armed; an armed timer picks up the latest pending status.
func (p *Presence) scheduleLocked(userID string, e *presenceEntry, status string) {
	e.pending = status
	if e.timer != nil {
		return
	}
	wait := time.Duration(0)
	if !e.lastAt.IsZero() {
		if w := p.throttle - p.now().Sub(e.lastAt); w > 0 {
			wait = w
		}
	}
	e.timer = time.AfterFunc(wait, func() { p.flush(userID) })
}

func (p *Presence) flush(userID string) {
	p.mu.Lock()
	e := p.entries[userID]
	if p.closed || e == nil {
		p.mu.Unlock()
		return
	}
	e.timer = nil
	status := e.pending
	e.pending = ""
	last := e.lastStatus
	if last == "" {
		last = StatusOffline
	}
	if status == "" || status == last {
		// churn cancelled out, nothing to tell anyone
		p.settleLocked(userID, e)
		p.mu.Unlock()
		return
	}
	e.lastStatus = status
	e.lastAt = p.now()
	p.wg.Add(1)
	p.mu.Unlock()

	p.broadcast(userID, status)
	p.wg.Done()

	p.mu.Lock()
	if !p.closed && p.entries[userID] == e {
		p.settleLocked(userID, e)
	}
	p.mu.Unlock()
}

// settleLocked drops idle zero-count entries once the throttle window since
// the last broadcast has passed, re-arming the timer until then so a quick
// reconnect is still throttled.
func (p *Presence) settleLocked(userID string, e *presenceEntry) {
	if e.count > 0 || e.pending != "" || e.timer != nil {
		return
	}
	if !e.lastAt.IsZero() {
		if wait := p.throttle - p.now().Sub(e.lastAt); wait > 0 {
			e.timer = time.AfterFunc(wait, func() { p.flush(userID) })
			return
		}
	}
	delete(p.entries, userID)
}

func (p *Presence) broadcast(userID, status string) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	contacts, err := p.contacts.ContactsOf(ctx, userID)
	if err != nil {
		p.log.Warn("resolve presence contacts", zap.String("userId", userID), zap.Error(err))
		return
	}
	update := PresenceUpdate{UserID: userID, Status: status}
	for _, id := range contacts {
		if id == userID {
			continue
		}
		p.fanout.ToUser(id, EventPresenceUpdate, update)
	}
	p.metrics.Presence(status)
	p.log.Debug("presence flushed", zap.String("userId", userID), zap.String("status", status), zap.Int("contacts", len(contacts)))
}

// mirrorLocked queues a mirror write behind the user's earlier ones, so the
// external store sees transitions in the order they happened here. Callers
// hold p.mu; nothing is queued after Close.
func (p *Presence) mirrorLocked(userID, name string, fn func(ctx context.Context, m PresenceMirror) error) {
	if p.mirror == nil || p.closed {
		return
	}
	q := p.mirrorQ[userID]
	p.mirrorQ[userID] = append(q, mirrorOp{name: name, fn: fn, m: p.mirror})
	if len(q) > 0 {
		return
	}
	p.wg.Add(1)
	safe.Go(p.log, "presence.mirror", func() {
		defer p.wg.Done()
		p.drainMirror(userID)
	})
}

// drainMirror runs userID's queued writes one at a time. The running op
// stays at the head of the queue until it finishes.
func (p *Presence) drainMirror(userID string) {
	p.mu.Lock()
	for {
		q := p.mirrorQ[userID]
		if len(q) == 0 {
			delete(p.mirrorQ, userID)
			p.mu.Unlock()
			return
		}
		op := q[0]
		p.mu.Unlock()

		safe.Run(p.log, op.name, func() {
			ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
			defer cancel()
			if err := op.fn(ctx, op.m); err != nil {
				p.log.Warn("presence mirror", zap.String("op", op.name), zap.String("userId", userID), zap.Error(err))
			}
		})

		p.mu.Lock()
		p.mirrorQ[userID] = p.mirrorQ[userID][1:]
	}
}

// Close cancels every pending flush and waits for in-flight broadcasts and
// for mirror writes already queued.
func (p *Presence) Close() {
	p.mu.Lock()
	p.closed = true
	for id, e := range p.entries {
		if e.timer != nil {
			e.timer.Stop()
			e.timer = nil
		}
		delete(p.entries, id)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

// pendingTimers counts armed flush timers.
func (p *Presence) pendingTimers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.entries {
		if e.timer != nil {
			n++
		}
	}
	return n
}

func (p *Presence) tracked() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}
