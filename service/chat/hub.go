package chat

import (
	"context"
	"time"

	"go.uber.org/zap"

	"famly/service/metrics"
	"famly/tools/errs"
	"famly/tools/ids"
)

// Options tunes a Hub. Zero values fall back to the component defaults,
// except PresenceThrottle: zero broadcasts presence changes immediately and
// only a negative value selects DefaultPresenceThrottle.
type Options struct {
	NodeID           int64
	SendQueue        int
	RateLimit        int
	RateWindow       time.Duration
	PresenceThrottle time.Duration
	MaxBodyChars     int
	FanoutWorkers    int
	FanoutQueue      int
	StoreTimeout     time.Duration
}

// Stores are the external collaborators the hub calls into.
type Stores struct {
	Members     MembershipStore
	Messages    MessageStore
	Idempotency IdempotencyStore
	Cursors     CursorStore
	Contacts    ContactsResolver
}

func (s Stores) validate() error {
	switch {
	case s.Members == nil:
		return errs.New("membership store is required")
	case s.Messages == nil:
		return errs.New("message store is required")
	case s.Idempotency == nil:
		return errs.New("idempotency store is required")
	case s.Cursors == nil:
		return errs.New("cursor store is required")
	case s.Contacts == nil:
		return errs.New("contacts resolver is required")
	}
	return nil
}

// Hub wires the realtime components of one process instance. Everything a
// test needs is built per Hub; nothing is shared between instances.
type Hub struct {
	opts    Options
	log     *zap.Logger
	metrics *metrics.Metrics
	ids     *ids.Snowflake

	registry    *Registry
	rooms       *Rooms
	limiter     *SlidingWindow
	fanout      *Broadcaster
	pipeline    *Pipeline
	cursors     *Cursors
	presence    *Presence
	typing      *Typing
	passthrough *Passthrough
	dispatcher  *Dispatcher
}

func NewHub(opts Options, stores Stores, log *zap.Logger, m *metrics.Metrics) (*Hub, error) {
	if err := stores.validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 5 * time.Second
	}
	if opts.PresenceThrottle < 0 {
		opts.PresenceThrottle = DefaultPresenceThrottle
	}

	h := &Hub{
		opts:     opts,
		log:      log,
		metrics:  m,
		ids:      ids.NewSnowflake(opts.NodeID),
		registry: NewRegistry(),
	}
	h.rooms = NewRooms(stores.Members, log.Named("rooms"))
	h.limiter = NewSlidingWindow(opts.RateLimit, opts.RateWindow)
	h.fanout = NewBroadcaster(h.registry, h.rooms, opts.FanoutWorkers, opts.FanoutQueue, log.Named("fanout"), m)
	h.pipeline = NewPipeline(h.rooms, h.limiter, stores.Messages, stores.Idempotency, h.fanout, opts.MaxBodyChars, log.Named("pipeline"), m)
	h.cursors = NewCursors(h.rooms, stores.Messages, stores.Cursors, h.fanout)
	h.presence = NewPresence(stores.Contacts, h.fanout, opts.PresenceThrottle, log.Named("presence"), m)
	h.typing = NewTyping(h.rooms, h.fanout, log.Named("typing"))
	h.passthrough = NewPassthrough(h.rooms, h.fanout, log.Named("passthrough"))
	h.dispatcher = NewDispatcher(log.Named("dispatch"), m)
	return h, nil
}

func (h *Hub) Options() Options                   { return h.opts }
func (h *Hub) Logger() *zap.Logger                { return h.log }
func (h *Hub) Registry() *Registry                { return h.registry }
func (h *Hub) Rooms() *Rooms                      { return h.rooms }
func (h *Hub) Limiter() *SlidingWindow            { return h.limiter }
func (h *Hub) Broadcaster() *Broadcaster          { return h.fanout }
func (h *Hub) Pipeline() *Pipeline                { return h.pipeline }
func (h *Hub) Cursors() *Cursors                  { return h.cursors }
func (h *Hub) Presence() *Presence                { return h.presence }
func (h *Hub) Typing() *Typing                    { return h.typing }
func (h *Hub) Passthrough() *Passthrough          { return h.passthrough }
func (h *Hub) Dispatcher() *Dispatcher            { return h.dispatcher }
func (h *Hub) SetPresenceMirror(m PresenceMirror) { h.presence.SetMirror(m) }

// SetRelay turns on cross-instance fanout.
func (h *Hub) SetRelay(origin string, r Relay) { h.fanout.SetRelay(origin, r) }

// Connect registers a new connection for an authenticated user.
func (h *Hub) Connect(userID, remote string) *Conn {
	c := NewConn(h.ids.NextString(), userID, h.opts.SendQueue)
	c.Remote = remote
	first := h.registry.Register(userID, c)
	h.presence.OnConnect(userID)
	h.metrics.ConnOpened()
	h.log.Info("connected", zap.String("connId", c.ID), zap.String("userId", userID), zap.String("remote", remote), zap.Bool("firstDevice", first))
	return c
}

// Disconnect tears c down: rooms, rate window, registry, presence. It is
// safe to call more than once.
func (h *Hub) Disconnect(c *Conn) {
	if !c.detached.CompareAndSwap(false, true) {
		return
	}
	c.Close()
	h.rooms.Drop(c)
	h.limiter.Forget(c.UserID, c.ID)
	last := h.registry.Unregister(c.UserID, c)
	h.presence.OnDisconnect(c.UserID)
	h.metrics.ConnClosed()
	h.log.Info("disconnected", zap.String("connId", c.ID), zap.String("userId", c.UserID), zap.Bool("lastDevice", last))
}

// Dispatch handles one inbound frame under the store timeout and returns
// the ack frame, if any.
func (h *Hub) Dispatch(ctx context.Context, c *Conn, raw []byte) []byte {
	ctx, cancel := context.WithTimeout(ctx, h.opts.StoreTimeout)
	defer cancel()
	return h.dispatcher.Dispatch(ctx, c, raw)
}

// Close disconnects every connection, cancels presence timers and drains
// the fanout workers.
func (h *Hub) Close() {
	for _, c := range h.registry.All() {
		h.Disconnect(c)
	}
	h.presence.Close()
	h.fanout.Close()
}
