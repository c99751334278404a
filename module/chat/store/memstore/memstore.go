// Package memstore keeps every hub collaborator in process memory. It backs
// tests and the "memory" store driver for local runs.
package memstore

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"famly/service/chat"
	"famly/tools/ids"
)

var ErrDuplicateMessage = errors.New("duplicate message id")

type Store struct {
	mu       sync.RWMutex
	chats    map[string]map[string]struct{} // chatId -> member ids
	families [][]string
	messages map[string]chat.Message       // id -> message
	idem     map[string]string             // chatId|clientId -> serverId
	cursors  map[string]chat.ReadCursor    // chatId|userId -> cursor

	// InsertErr, when set, fails every Insert.
	InsertErr error
}

func New() *Store {
	return &Store{
		chats:    make(map[string]map[string]struct{}),
		messages: make(map[string]chat.Message),
		idem:     make(map[string]string),
		cursors:  make(map[string]chat.ReadCursor),
	}
}

func key(a, b string) string { return a + "|" + b }

// Stores exposes s as every collaborator of a hub.
func (s *Store) Stores() chat.Stores {
	return chat.Stores{Members: s, Messages: s, Idempotency: s, Cursors: s, Contacts: s}
}

// Seed loads chats (chatId -> members) and households.
func (s *Store) Seed(chats map[string][]string, families [][]string) {
	for id, members := range chats {
		s.PutChat(id, members...)
	}
	for _, f := range families {
		s.AddFamily(f...)
	}
}

// PutChat creates or replaces a chat's member list.
func (s *Store) PutChat(chatID string, members ...string) {
	m := make(map[string]struct{}, len(members))
	for _, id := range members {
		m[id] = struct{}{}
	}
	s.mu.Lock()
	s.chats[chatID] = m
	s.mu.Unlock()
}

func (s *Store) AddFamily(members ...string) {
	s.mu.Lock()
	s.families = append(s.families, append([]string(nil), members...))
	s.mu.Unlock()
}

func (s *Store) IsMember(_ context.Context, userID, chatID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.chats[chatID][userID]
	return ok, nil
}

func (s *Store) ContactsOf(_ context.Context, userID string) ([]string, error) {
	s.mu.RLock()
	seen := make(map[string]struct{})
	for _, f := range s.families {
		if contains(f, userID) {
			for _, id := range f {
				seen[id] = struct{}{}
			}
		}
	}
	for _, members := range s.chats {
		if _, ok := members[userID]; ok {
			for id := range members {
				seen[id] = struct{}{}
			}
		}
	}
	s.mu.RUnlock()

	delete(seen, userID)
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

func (s *Store) Insert(_ context.Context, m *chat.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.InsertErr != nil {
		return s.InsertErr
	}
	if _, ok := s.messages[m.ID]; ok {
		return ErrDuplicateMessage
	}
	s.messages[m.ID] = *m
	return nil
}

func (s *Store) FindByID(_ context.Context, id string) (*chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, chat.ErrMessageNotFound
	}
	return &m, nil
}

// Messages returns a chat's messages in id order.
func (s *Store) Messages(chatID string) []chat.Message {
	s.mu.RLock()
	var out []chat.Message
	for _, m := range s.messages {
		if m.ChatID == chatID {
			out = append(out, m)
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return ids.After(out[j].ID, out[i].ID) })
	return out
}

func (s *Store) Claim(_ context.Context, chatID, clientID, serverID string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(chatID, clientID)
	if existing, ok := s.idem[k]; ok {
		return existing, false, nil
	}
	s.idem[k] = serverID
	return serverID, true, nil
}

func (s *Store) Release(_ context.Context, chatID, clientID string) error {
	s.mu.Lock()
	delete(s.idem, key(chatID, clientID))
	s.mu.Unlock()
	return nil
}

func (s *Store) Advance(_ context.Context, chatID, userID, messageID string, readAt time.Time) (chat.ReadCursor, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(chatID, userID)
	cur, ok := s.cursors[k]
	if ok && !ids.After(messageID, cur.MessageID) {
		return cur, false, nil
	}
	cur = chat.ReadCursor{ChatID: chatID, UserID: userID, MessageID: messageID, ReadAt: readAt}
	s.cursors[k] = cur
	return cur, true, nil
}

// Cursor returns the stored cursor, if any.
func (s *Store) Cursor(chatID, userID string) (chat.ReadCursor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cur, ok := s.cursors[key(chatID, userID)]
	return cur, ok
}
