package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"famly/service/chat"
	"famly/tools/ids"
)

const (
	chatA = "65f1a0000000000000000001"
	chatB = "65f1a0000000000000000002"
)

func TestStore_Membership(t *testing.T) {
	s := New()
	s.Seed(map[string][]string{chatA: {"alice", "bob"}}, nil)
	ctx := context.Background()

	ok, err := s.IsMember(ctx, "alice", chatA)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _ = s.IsMember(ctx, "carol", chatA)
	assert.False(t, ok)
	ok, _ = s.IsMember(ctx, "alice", chatB)
	assert.False(t, ok)

	s.PutChat(chatA, "carol")
	ok, _ = s.IsMember(ctx, "alice", chatA)
	assert.False(t, ok, "PutChat replaces the member list")
	ok, _ = s.IsMember(ctx, "carol", chatA)
	assert.True(t, ok)
}

func TestStore_ContactsOf(t *testing.T) {
	s := New()
	s.Seed(
		map[string][]string{chatA: {"alice", "dave"}, chatB: {"erin", "frank"}},
		[][]string{{"alice", "bob", "carol"}},
	)

	got, err := s.ContactsOf(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"bob", "carol", "dave"}, got)

	got, _ = s.ContactsOf(context.Background(), "nobody")
	assert.Empty(t, got)
}

func TestStore_InsertAndFind(t *testing.T) {
	s := New()
	ctx := context.Background()
	m := &chat.Message{ID: ids.NewMessageID(), ChatID: chatA, SenderID: "alice", ClientID: "c1", Body: "hi", CreatedAt: time.Now()}

	require.NoError(t, s.Insert(ctx, m))
	assert.ErrorIs(t, s.Insert(ctx, m), ErrDuplicateMessage)

	got, err := s.FindByID(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, "hi", got.Body)

	_, err = s.FindByID(ctx, ids.NewMessageID())
	assert.ErrorIs(t, err, chat.ErrMessageNotFound)

	boom := errors.New("disk full")
	s.InsertErr = boom
	assert.ErrorIs(t, s.Insert(ctx, &chat.Message{ID: ids.NewMessageID(), ChatID: chatA}), boom)
}

func TestStore_MessagesInIDOrder(t *testing.T) {
	s := New()
	ctx := context.Background()
	first, second, third := ids.NewMessageID(), ids.NewMessageID(), ids.NewMessageID()
	for _, id := range []string{third, first, second} {
		require.NoError(t, s.Insert(ctx, &chat.Message{ID: id, ChatID: chatA}))
	}
	require.NoError(t, s.Insert(ctx, &chat.Message{ID: ids.NewMessageID(), ChatID: chatB}))

	msgs := s.Messages(chatA)
	require.Len(t, msgs, 3)
	assert.Equal(t, []string{first, second, third}, []string{msgs[0].ID, msgs[1].ID, msgs[2].ID})
}

func TestStore_ClaimRelease(t *testing.T) {
	s := New()
	ctx := context.Background()

	id, claimed, err := s.Claim(ctx, chatA, "abc", "srv-1")
	require.NoError(t, err)
	assert.True(t, claimed)
	assert.Equal(t, "srv-1", id)

	id, claimed, _ = s.Claim(ctx, chatA, "abc", "srv-2")
	assert.False(t, claimed)
	assert.Equal(t, "srv-1", id)

	_, claimed, _ = s.Claim(ctx, chatB, "abc", "srv-3")
	assert.True(t, claimed, "client ids are scoped per chat")

	require.NoError(t, s.Release(ctx, chatA, "abc"))
	id, claimed, _ = s.Claim(ctx, chatA, "abc", "srv-4")
	assert.True(t, claimed)
	assert.Equal(t, "srv-4", id)
}

func TestStore_AdvanceIsMonotonic(t *testing.T) {
	s := New()
	ctx := context.Background()
	older, newer := ids.NewMessageID(), ids.NewMessageID()
	t1 := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Minute)

	cur, moved, err := s.Advance(ctx, chatA, "alice", newer, t1)
	require.NoError(t, err)
	assert.True(t, moved)
	assert.Equal(t, newer, cur.MessageID)

	cur, moved, _ = s.Advance(ctx, chatA, "alice", older, t2)
	assert.False(t, moved)
	assert.Equal(t, newer, cur.MessageID)
	assert.Equal(t, t1, cur.ReadAt)

	_, moved, _ = s.Advance(ctx, chatA, "alice", newer, t2)
	assert.False(t, moved, "same message does not move the cursor")

	stored, ok := s.Cursor(chatA, "alice")
	require.True(t, ok)
	assert.Equal(t, t1, stored.ReadAt)

	_, ok = s.Cursor(chatA, "bob")
	assert.False(t, ok)
}

func TestStore_BacksHub(t *testing.T) {
	s := New()
	s.PutChat(chatA, "alice")
	h, err := chat.NewHub(chat.Options{}, s.Stores(), nil, nil)
	require.NoError(t, err)
	defer h.Close()

	c := h.Connect("alice", "127.0.0.1")
	require.NoError(t, h.Rooms().AuthorizeJoin(context.Background(), c, chatA))
	res, err := h.Pipeline().Send(context.Background(), c, chatA, "abc", "hi")
	require.NoError(t, err)

	msgs := s.Messages(chatA)
	require.Len(t, msgs, 1)
	assert.Equal(t, res.ServerID, msgs[0].ID)
	assert.Equal(t, "alice", msgs[0].SenderID)
}
