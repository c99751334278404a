package chat

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type captureRelay struct {
	mu     sync.Mutex
	events []RelayEvent
}

func (r *captureRelay) Publish(_ context.Context, ev RelayEvent) error {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	return nil
}

func (r *captureRelay) all() []RelayEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]RelayEvent(nil), r.events...)
}

func TestToRoom_ExcludesAndSkipsClosed(t *testing.T) {
	h, st := newTestHub(t, Options{})
	st.addChat(chatC1, "A", "B", "D")
	ctx := context.Background()
	a := h.Connect("A", "")
	b := h.Connect("B", "")
	d := h.Connect("D", "")
	for _, c := range []*Conn{a, b, d} {
		require.NoError(t, h.Rooms().AuthorizeJoin(ctx, c, chatC1))
	}
	d.Close()

	h.Broadcaster().ToRoom(chatC1, "custom", map[string]int{"n": 1}, a)

	f := nextFrame(t, b, "custom")
	assert.JSONEq(t, `{"n":1}`, string(f.Payload))
	assert.Empty(t, f.AckID)
	noFrame(t, a, "custom", 50*time.Millisecond)
}

func TestToUser_AllDevices(t *testing.T) {
	h, _ := newTestHub(t, Options{})
	u1 := h.Connect("U", "")
	u2 := h.Connect("U", "")
	other := h.Connect("V", "")

	h.Broadcaster().ToUser("U", "karma.awarded", json.RawMessage(`{"points":3}`))

	for _, c := range []*Conn{u1, u2} {
		f := nextFrame(t, c, "karma.awarded")
		assert.JSONEq(t, `{"points":3}`, string(f.Payload))
	}
	noFrame(t, other, "karma.awarded", 50*time.Millisecond)
}

func TestBroadcast_SaturatedConnDoesNotBlock(t *testing.T) {
	h, _ := newTestHub(t, Options{SendQueue: 1})
	slow := h.Connect("U", "")

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			h.Broadcaster().ToUser("U", "tick", i)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast blocked on a full connection")
	}
	assert.Equal(t, "tick", nextFrame(t, slow, "tick").Event)
}

func TestRelay_PublishesAndIgnoresOwnEcho(t *testing.T) {
	h, st := newTestHub(t, Options{})
	st.addChat(chatC1, "A", "B")
	relay := &captureRelay{}
	h.SetRelay("node-a", relay)
	a := h.Connect("A", "")
	b := h.Connect("B", "")
	require.NoError(t, h.Rooms().AuthorizeJoin(context.Background(), b, chatC1))

	h.Broadcaster().ToRoom(chatC1, "custom", 1, a)
	nextFrame(t, b, "custom")

	events := relay.all()
	require.Len(t, events, 1)
	assert.Equal(t, "node-a", events[0].Origin)
	assert.Equal(t, ScopeRoom, events[0].Scope)
	assert.Equal(t, a.ID, events[0].Exclude)

	// our own event coming back is dropped
	h.Broadcaster().DeliverRelayed(events[0])
	noFrame(t, b, "custom", 50*time.Millisecond)

	// another instance's event reaches local targets only
	remote := events[0]
	remote.Origin = "node-b"
	h.Broadcaster().DeliverRelayed(remote)
	nextFrame(t, b, "custom")
	assert.Len(t, relay.all(), 1)
}

func TestBroadcaster_CloseIsIdempotent(t *testing.T) {
	b := NewBroadcaster(NewRegistry(), NewRooms(newFakeStore(), zap.NewNop()), 2, 4, zap.NewNop(), nil)
	b.Close()
	b.Close()
	b.ToUser("U", "after-close", nil)
	assert.Equal(t, shardOf("c1", 8), shardOf("c1", 8))
}
