package chat

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"famly/tools/errs"
	"famly/tools/ids"
)

func TestMarkRead_Monotonic(t *testing.T) {
	h, st := newTestHub(t, Options{})
	st.addChat(chatC1, "A", "B")
	ctx := context.Background()
	older, newer := ids.NewMessageID(), ids.NewMessageID()
	require.True(t, ids.After(newer, older))
	st.putMessage(older, chatC1)
	st.putMessage(newer, chatC1)

	a := h.Connect("A", "")
	b := h.Connect("B", "")
	require.NoError(t, h.Rooms().AuthorizeJoin(ctx, a, chatC1))
	require.NoError(t, h.Rooms().AuthorizeJoin(ctx, b, chatC1))

	t0 := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	h.Cursors().now = func() time.Time { return t0 }
	res, err := h.Cursors().MarkRead(ctx, a, chatC1, newer)
	require.NoError(t, err)
	assert.Equal(t, "2026-05-01T08:00:00.000Z", res.ReadAt)

	// the room, reader included, hears about it
	for _, c := range []*Conn{a, b} {
		var up ReceiptUpdate
		require.NoError(t, json.Unmarshal(nextFrame(t, c, EventReceiptUpdate).Payload, &up))
		assert.Equal(t, ReceiptUpdate{ChatID: chatC1, MessageID: newer, UserID: "A", ReadAt: res.ReadAt}, up)
	}

	h.Cursors().now = func() time.Time { return t0.Add(time.Minute) }
	stale, err := h.Cursors().MarkRead(ctx, a, chatC1, older)
	require.NoError(t, err)
	assert.Equal(t, res.ReadAt, stale.ReadAt)
	noFrame(t, b, EventReceiptUpdate, 50*time.Millisecond)

	same, err := h.Cursors().MarkRead(ctx, a, chatC1, newer)
	require.NoError(t, err)
	assert.Equal(t, res.ReadAt, same.ReadAt)

	cur := st.cursors[pairKey(chatC1, "A")]
	assert.Equal(t, newer, cur.MessageID)
}

func TestMarkRead_Errors(t *testing.T) {
	h, st := newTestHub(t, Options{})
	st.addChat(chatC1, "A")
	st.addChat(chatC2, "A")
	ctx := context.Background()
	inC2 := ids.NewMessageID()
	st.putMessage(inC2, chatC2)
	a := h.Connect("A", "")
	c := h.Connect("C", "")

	_, err := h.Cursors().MarkRead(ctx, a, "bad", inC2)
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))
	_, err = h.Cursors().MarkRead(ctx, a, chatC1, "bad")
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))

	_, err = h.Cursors().MarkRead(ctx, c, chatC2, inC2)
	assert.Equal(t, errs.KindForbidden, errs.KindOf(err))

	_, err = h.Cursors().MarkRead(ctx, a, chatC1, ids.NewMessageID())
	assert.Equal(t, errs.KindNotFound, errs.KindOf(err))

	_, err = h.Cursors().MarkRead(ctx, a, chatC1, inC2)
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))
}
