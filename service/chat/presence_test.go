package chat

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func presenceOf(t *testing.T, f outFrame) PresenceUpdate {
	t.Helper()
	var p PresenceUpdate
	require.NoError(t, json.Unmarshal(f.Payload, &p))
	return p
}

func TestPresence_TwoDevices(t *testing.T) {
	h, st := newTestHub(t, Options{PresenceThrottle: 30 * time.Millisecond})
	st.setContacts("mom", "dad")
	dad := h.Connect("dad", "")

	m1 := h.Connect("mom", "")
	m2 := h.Connect("mom", "")
	up := presenceOf(t, nextFrame(t, dad, EventPresenceUpdate))
	assert.Equal(t, PresenceUpdate{UserID: "mom", Status: StatusOnline}, up)

	h.Disconnect(m1)
	assert.True(t, h.Registry().IsOnline("mom"))
	assert.Equal(t, StatusOnline, h.Presence().Status("mom"))
	noFrame(t, dad, EventPresenceUpdate, 80*time.Millisecond)

	h.Disconnect(m2)
	assert.False(t, h.Registry().IsOnline("mom"))
	assert.Equal(t, StatusOffline, h.Presence().Status("mom"))
	down := presenceOf(t, nextFrame(t, dad, EventPresenceUpdate))
	assert.Equal(t, StatusOffline, down.Status)
	noFrame(t, dad, EventPresenceUpdate, 80*time.Millisecond)

	require.Eventually(t, func() bool { return h.Presence().tracked() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, h.Presence().pendingTimers())
}

func TestPresence_ChurnCoalesces(t *testing.T) {
	h, st := newTestHub(t, Options{PresenceThrottle: 50 * time.Millisecond})
	st.setContacts("kid", "mom")
	mom := h.Connect("mom", "")

	k := h.Connect("kid", "")
	nextFrame(t, mom, EventPresenceUpdate)

	// offline, online, offline inside the window: one flush with the final state
	h.Disconnect(k)
	k = h.Connect("kid", "")
	h.Disconnect(k)
	f := nextFrame(t, mom, EventPresenceUpdate)
	assert.Equal(t, StatusOffline, presenceOf(t, f).Status)
	noFrame(t, mom, EventPresenceUpdate, 150*time.Millisecond)
}

func TestPresence_ChurnCancelsOut(t *testing.T) {
	h, st := newTestHub(t, Options{PresenceThrottle: 50 * time.Millisecond})
	st.setContacts("kid", "mom")
	mom := h.Connect("mom", "")

	k := h.Connect("kid", "")
	nextFrame(t, mom, EventPresenceUpdate)

	// back online before the flush: nothing changed as far as contacts know
	h.Disconnect(k)
	h.Connect("kid", "")
	noFrame(t, mom, EventPresenceUpdate, 150*time.Millisecond)
	assert.Equal(t, StatusOnline, h.Presence().Status("kid"))
}

func TestPresence_ThrottleSpacing(t *testing.T) {
	const throttle = 60 * time.Millisecond
	h, st := newTestHub(t, Options{PresenceThrottle: throttle})
	st.setContacts("kid", "mom")
	mom := h.Connect("mom", "")

	k := h.Connect("kid", "")
	nextFrame(t, mom, EventPresenceUpdate)
	first := time.Now()
	h.Disconnect(k)
	nextFrame(t, mom, EventPresenceUpdate)
	assert.GreaterOrEqual(t, time.Since(first), throttle-10*time.Millisecond)
}

func TestPresence_ContactsFailureIsSwallowed(t *testing.T) {
	h, st := newTestHub(t, Options{})
	st.contactErr = errStoreDown
	c := h.Connect("kid", "")
	h.Disconnect(c)
	require.Eventually(t, func() bool { return h.Presence().pendingTimers() == 0 }, time.Second, 5*time.Millisecond)
}

func TestPresence_Ping(t *testing.T) {
	h, _ := newTestHub(t, Options{})
	now := time.Date(2026, 3, 1, 12, 0, 0, 123_000_000, time.UTC)
	h.Presence().now = func() time.Time { return now }
	c := h.Connect("kid", "")

	res := h.Presence().Ping(c)
	assert.Equal(t, "2026-03-01T12:00:00.123Z", res.ServerTime)
	assert.True(t, c.LastSeen().Equal(now))
	seen, ok := h.Presence().LastSeen("kid")
	require.True(t, ok)
	assert.True(t, seen.Equal(now))
}

type recordMirror struct {
	mu  sync.Mutex
	ops []string
}

func (m *recordMirror) record(op string) error {
	m.mu.Lock()
	m.ops = append(m.ops, op)
	m.mu.Unlock()
	return nil
}

func (m *recordMirror) SetOnline(_ context.Context, u string) error  { return m.record("online:" + u) }
func (m *recordMirror) SetOffline(_ context.Context, u string) error { return m.record("offline:" + u) }
func (m *recordMirror) Touch(_ context.Context, u string, _ time.Time) error {
	return m.record("touch:" + u)
}

func (m *recordMirror) snapshot() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.ops...)
}

func TestPresence_Mirror(t *testing.T) {
	h, _ := newTestHub(t, Options{})
	mirror := &recordMirror{}
	h.SetPresenceMirror(mirror)

	c1 := h.Connect("kid", "")
	require.Eventually(t, func() bool { return len(mirror.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	c2 := h.Connect("kid", "")
	h.Presence().Ping(c2)
	require.Eventually(t, func() bool { return len(mirror.snapshot()) == 2 }, time.Second, 5*time.Millisecond)
	h.Disconnect(c1)
	h.Disconnect(c2)
	require.Eventually(t, func() bool { return len(mirror.snapshot()) == 3 }, time.Second, 5*time.Millisecond)

	assert.Equal(t, []string{"online:kid", "touch:kid", "offline:kid"}, mirror.snapshot())
}

// slowMirror delays SetOnline so a racing offline write would overtake it.
type slowMirror struct {
	recordMirror
	delay time.Duration
}

func (m *slowMirror) SetOnline(ctx context.Context, u string) error {
	time.Sleep(m.delay)
	return m.recordMirror.SetOnline(ctx, u)
}

func TestPresence_MirrorKeepsOrderPerUser(t *testing.T) {
	h, _ := newTestHub(t, Options{})
	mirror := &slowMirror{delay: 30 * time.Millisecond}
	h.SetPresenceMirror(mirror)

	c := h.Connect("kid", "")
	h.Disconnect(c)
	other := h.Connect("mom", "")

	require.Eventually(t, func() bool { return len(mirror.snapshot()) == 3 }, time.Second, 5*time.Millisecond)
	var kid []string
	for _, op := range mirror.snapshot() {
		if strings.HasSuffix(op, ":kid") {
			kid = append(kid, op)
		}
	}
	assert.Equal(t, []string{"online:kid", "offline:kid"}, kid)
	assert.Equal(t, StatusOffline, h.Presence().Status("kid"))
	h.Disconnect(other)
}

func TestPresence_NoMirrorWritesAfterClose(t *testing.T) {
	h, _ := newTestHub(t, Options{})
	mirror := &recordMirror{}
	h.SetPresenceMirror(mirror)
	c := h.Connect("kid", "")

	h.Close()
	n := len(mirror.snapshot())
	assert.Equal(t, []string{"online:kid", "offline:kid"}, mirror.snapshot(), "queued writes drain before Close returns")

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			h.Presence().Ping(c)
		}
	}()
	h.Presence().Close()
	<-done
	assert.Len(t, mirror.snapshot(), n)
}

func TestPresence_CloseStopsTimers(t *testing.T) {
	h, st := newTestHub(t, Options{PresenceThrottle: time.Hour})
	st.setContacts("kid", "mom")
	mom := h.Connect("mom", "")
	k := h.Connect("kid", "")
	nextFrame(t, mom, EventPresenceUpdate)
	h.Disconnect(k)
	assert.Equal(t, 1, h.Presence().pendingTimers())

	h.Presence().Close()
	assert.Equal(t, 0, h.Presence().pendingTimers())
	assert.Equal(t, 0, h.Presence().tracked())
}
