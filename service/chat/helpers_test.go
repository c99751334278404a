package chat

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"famly/tools/ids"
)

const (
	chatC1 = "65f1a0000000000000000001"
	chatC2 = "65f1a0000000000000000002"
)

// fakeStore backs every collaborator of a test hub.
type fakeStore struct {
	mu       sync.Mutex
	members  map[string]map[string]bool // chatId -> userId
	contacts map[string][]string
	messages map[string]Message
	idem     map[string]string
	cursors  map[string]ReadCursor

	memberErr  error
	insertErr  error
	claimErr   error
	contactErr error
	inserts    int
	released   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		members:  make(map[string]map[string]bool),
		contacts: make(map[string][]string),
		messages: make(map[string]Message),
		idem:     make(map[string]string),
		cursors:  make(map[string]ReadCursor),
	}
}

func (s *fakeStore) stores() Stores {
	return Stores{Members: s, Messages: s, Idempotency: s, Cursors: s, Contacts: s}
}

func (s *fakeStore) addChat(chatID string, users ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := make(map[string]bool)
	for _, u := range users {
		m[u] = true
	}
	s.members[chatID] = m
}

func (s *fakeStore) setContacts(userID string, contacts ...string) {
	s.mu.Lock()
	s.contacts[userID] = contacts
	s.mu.Unlock()
}

func (s *fakeStore) IsMember(_ context.Context, userID, chatID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.memberErr != nil {
		return false, s.memberErr
	}
	return s.members[chatID][userID], nil
}

func (s *fakeStore) Insert(_ context.Context, m *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return s.insertErr
	}
	s.inserts++
	s.messages[m.ID] = *m
	return nil
}

func (s *fakeStore) FindByID(_ context.Context, id string) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, ErrMessageNotFound
	}
	return &m, nil
}

func (s *fakeStore) Claim(_ context.Context, chatID, clientID, serverID string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claimErr != nil {
		return "", false, s.claimErr
	}
	k := pairKey(chatID, clientID)
	if id, ok := s.idem[k]; ok {
		return id, false, nil
	}
	s.idem[k] = serverID
	return serverID, true, nil
}

func (s *fakeStore) Release(_ context.Context, chatID, clientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.released++
	delete(s.idem, pairKey(chatID, clientID))
	return nil
}

func (s *fakeStore) Advance(_ context.Context, chatID, userID, messageID string, readAt time.Time) (ReadCursor, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := pairKey(chatID, userID)
	cur, ok := s.cursors[k]
	if ok && !ids.After(messageID, cur.MessageID) {
		return cur, false, nil
	}
	cur = ReadCursor{ChatID: chatID, UserID: userID, MessageID: messageID, ReadAt: readAt}
	s.cursors[k] = cur
	return cur, true, nil
}

func (s *fakeStore) ContactsOf(_ context.Context, userID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.contactErr != nil {
		return nil, s.contactErr
	}
	out := append([]string(nil), s.contacts[userID]...)
	sort.Strings(out)
	return out, nil
}

// putMessage stores a message directly, bypassing the pipeline.
func (s *fakeStore) putMessage(id, chatID string) {
	s.mu.Lock()
	s.messages[id] = Message{ID: id, ChatID: chatID, CreatedAt: time.Now().UTC()}
	s.mu.Unlock()
}

var errStoreDown = errors.New("store down")

func newTestHub(t *testing.T, opts Options) (*Hub, *fakeStore) {
	t.Helper()
	st := newFakeStore()
	if opts.PresenceThrottle == 0 {
		opts.PresenceThrottle = 20 * time.Millisecond
	}
	h, err := NewHub(opts, st.stores(), zap.NewNop(), nil)
	require.NoError(t, err)
	t.Cleanup(h.Close)
	return h, st
}

// outFrame is a decoded outbound frame.
type outFrame struct {
	Event   string          `json:"event"`
	AckID   json.RawMessage `json:"ackId"`
	Payload json.RawMessage `json:"payload"`
}

// nextFrame waits for the next frame queued on c, skipping presence noise
// unless the caller asks for it by event name.
func nextFrame(t *testing.T, c *Conn, event string) outFrame {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case raw := <-c.Outbound():
			var f outFrame
			require.NoError(t, json.Unmarshal(raw, &f))
			if f.Event == event {
				return f
			}
			if event != EventPresenceUpdate && f.Event == EventPresenceUpdate {
				continue
			}
			t.Fatalf("want %s frame, got %s: %s", event, f.Event, raw)
		case <-deadline:
			t.Fatalf("no %s frame", event)
		}
	}
}

// noFrame asserts nothing but presence arrives on c for d.
func noFrame(t *testing.T, c *Conn, event string, d time.Duration) {
	t.Helper()
	deadline := time.After(d)
	for {
		select {
		case raw := <-c.Outbound():
			var f outFrame
			require.NoError(t, json.Unmarshal(raw, &f))
			if f.Event == event {
				t.Fatalf("unexpected %s frame: %s", event, raw)
			}
		case <-deadline:
			return
		}
	}
}

// drain discards queued frames.
func drain(c *Conn) {
	for {
		select {
		case <-c.Outbound():
		default:
			return
		}
	}
}

func request(event, ackID string, payload any) []byte {
	raw, _ := json.Marshal(payload)
	out, _ := json.Marshal(Frame{Event: event, AckID: ackID, Payload: raw})
	return out
}

type ackPayload struct {
	OK            bool            `json:"ok"`
	Data          json.RawMessage `json:"data"`
	Error         string          `json:"error"`
	Message       string          `json:"message"`
	CorrelationID string          `json:"correlationId"`
}

// decodeAck returns the ackId as raw JSON and the decoded envelope.
func decodeAck(t *testing.T, raw []byte) (string, ackPayload) {
	t.Helper()
	require.NotNil(t, raw, "expected an ack frame")
	var f outFrame
	require.NoError(t, json.Unmarshal(raw, &f))
	require.Equal(t, EventAck, f.Event)
	var a ackPayload
	require.NoError(t, json.Unmarshal(f.Payload, &a))
	return string(f.AckID), a
}
