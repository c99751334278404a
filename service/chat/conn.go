package chat

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Conn is one live transport session of a user. A user may hold several
// (multi-device); each has its own outbound queue consumed by a single
// writer goroutine, its own joined-room set and its own rate budget.
type Conn struct {
	ID        string
	UserID    string
	Remote    string
	CreatedAt time.Time

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	mu    sync.RWMutex
	rooms map[string]struct{}

	lastSeen atomic.Int64 // unix nanos
	detached atomic.Bool
}

// NewConn creates a connection handle with an outbound queue of queueSize frames.
func NewConn(id, userID string, queueSize int) *Conn {
	if queueSize <= 0 {
		queueSize = 64
	}
	now := time.Now()
	c := &Conn{
		ID:        id,
		UserID:    userID,
		CreatedAt: now,
		send:      make(chan []byte, queueSize),
		done:      make(chan struct{}),
		rooms:     make(map[string]struct{}),
	}
	c.lastSeen.Store(now.UnixNano())
	return c
}

// Deliver enqueues a broadcast frame without blocking. It reports false when
// the connection is closed or its queue is full; the frame is then dropped.
func (c *Conn) Deliver(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	case <-c.done:
		return false
	default:
		return false
	}
}

// Reply enqueues an ack frame, waiting for queue space until the connection
// closes. Only the connection's own read loop calls it.
func (c *Conn) Reply(frame []byte) bool {
	select {
	case c.send <- frame:
		return true
	case <-c.done:
		return false
	}
}

// Outbound is drained by the write pump.
func (c *Conn) Outbound() <-chan []byte { return c.send }

// Done is closed once the connection is closed.
func (c *Conn) Done() <-chan struct{} { return c.done }

func (c *Conn) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *Conn) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *Conn) Joined(chatID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.rooms[chatID]
	return ok
}

// Rooms returns the joined room ids in sorted order.
func (c *Conn) Rooms() []string {
	c.mu.RLock()
	out := make([]string, 0, len(c.rooms))
	for id := range c.rooms {
		out = append(out, id)
	}
	c.mu.RUnlock()
	sort.Strings(out)
	return out
}

func (c *Conn) addRoom(chatID string) {
	c.mu.Lock()
	c.rooms[chatID] = struct{}{}
	c.mu.Unlock()
}

func (c *Conn) removeRoom(chatID string) {
	c.mu.Lock()
	delete(c.rooms, chatID)
	c.mu.Unlock()
}

func (c *Conn) Touch(t time.Time) { c.lastSeen.Store(t.UnixNano()) }

func (c *Conn) LastSeen() time.Time { return time.Unix(0, c.lastSeen.Load()) }
