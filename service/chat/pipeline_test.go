package chat

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"famly/tools/errs"
)

func TestSend_DeliversOnceAndDedups(t *testing.T) {
	h, st := newTestHub(t, Options{})
	st.addChat(chatC1, "A", "B")
	ctx := context.Background()

	a := h.Connect("A", "")
	b := h.Connect("B", "")
	require.NoError(t, h.Rooms().AuthorizeJoin(ctx, a, chatC1))
	require.NoError(t, h.Rooms().AuthorizeJoin(ctx, b, chatC1))

	res, err := h.Pipeline().Send(ctx, a, chatC1, "abc", "hi")
	require.NoError(t, err)
	assert.Equal(t, "abc", res.ClientID)
	require.NotEmpty(t, res.ServerID)

	f := nextFrame(t, b, EventMessageNew)
	var mn MessageNew
	require.NoError(t, json.Unmarshal(f.Payload, &mn))
	assert.Equal(t, "hi", mn.Message.Body)
	assert.Equal(t, res.ServerID, mn.Message.ID)
	assert.Equal(t, "A", mn.Message.SenderID)
	assert.Equal(t, chatC1, mn.Message.ChatID)

	again, err := h.Pipeline().Send(ctx, a, chatC1, "abc", "hi")
	require.NoError(t, err)
	assert.Equal(t, res.ServerID, again.ServerID)

	noFrame(t, b, EventMessageNew, 100*time.Millisecond)
	noFrame(t, a, EventMessageNew, 10*time.Millisecond)
	assert.Equal(t, 1, st.inserts)
}

func TestSend_Forbidden(t *testing.T) {
	h, st := newTestHub(t, Options{})
	st.addChat(chatC1, "A", "B")
	c := h.Connect("C", "")

	_, err := h.Pipeline().Send(context.Background(), c, chatC1, "x1", "hi")
	assert.Equal(t, errs.KindForbidden, errs.KindOf(err))

	_, err = h.Pipeline().Send(context.Background(), c, "not-an-id", "x1", "hi")
	assert.Equal(t, errs.KindForbidden, errs.KindOf(err))
	assert.Equal(t, 0, st.inserts)
}

func TestSend_Validation(t *testing.T) {
	h, st := newTestHub(t, Options{MaxBodyChars: 5})
	st.addChat(chatC1, "A")
	a := h.Connect("A", "")
	ctx := context.Background()

	cases := map[string][2]string{
		"missing clientId": {"", "hi"},
		"blank clientId":   {"   ", "hi"},
		"long clientId":    {strings.Repeat("x", 129), "hi"},
		"empty body":       {"c1", "   "},
		"oversize body":    {"c1", "héllo!"},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := h.Pipeline().Send(ctx, a, chatC1, in[0], in[1])
			assert.Equal(t, errs.KindValidation, errs.KindOf(err))
		})
	}

	// five runes is within the limit even though it is more bytes
	_, err := h.Pipeline().Send(ctx, a, chatC1, "c1", "héllo")
	assert.NoError(t, err)
}

func TestSend_AuthorizationPrecedesValidation(t *testing.T) {
	h, st := newTestHub(t, Options{})
	st.addChat(chatC1, "A")
	c := h.Connect("C", "")

	_, err := h.Pipeline().Send(context.Background(), c, chatC1, "", "")
	assert.Equal(t, errs.KindForbidden, errs.KindOf(err))
}

func TestSend_RateLimit(t *testing.T) {
	h, st := newTestHub(t, Options{RateLimit: 10, RateWindow: 10 * time.Second})
	st.addChat(chatC1, "A")
	now := time.Unix(1_700_000_000, 0)
	h.Limiter().now = func() time.Time { return now }
	ctx := context.Background()

	a := h.Connect("A", "")
	for i := 0; i < 10; i++ {
		_, err := h.Pipeline().Send(ctx, a, chatC1, "c"+string(rune('a'+i)), "hi")
		require.NoError(t, err, "send %d", i+1)
	}
	_, err := h.Pipeline().Send(ctx, a, chatC1, "c-11", "hi")
	assert.Equal(t, errs.KindRateLimited, errs.KindOf(err))

	// a second device of the same user has its own budget
	a2 := h.Connect("A", "")
	_, err = h.Pipeline().Send(ctx, a2, chatC1, "d-1", "hi")
	assert.NoError(t, err)

	now = now.Add(10*time.Second + time.Millisecond)
	_, err = h.Pipeline().Send(ctx, a, chatC1, "c-12", "hi")
	assert.NoError(t, err)
}

func TestSend_RejectedSendsDoNotSpendBudget(t *testing.T) {
	h, st := newTestHub(t, Options{RateLimit: 2, RateWindow: time.Minute})
	st.addChat(chatC1, "A")
	a := h.Connect("A", "")
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := h.Pipeline().Send(ctx, a, chatC1, "", "hi")
		require.Equal(t, errs.KindValidation, errs.KindOf(err))
	}
	_, err := h.Pipeline().Send(ctx, a, chatC1, "c1", "hi")
	assert.NoError(t, err)
}

func TestSend_InsertFailureReleasesClaim(t *testing.T) {
	h, st := newTestHub(t, Options{})
	st.addChat(chatC1, "A")
	a := h.Connect("A", "")
	ctx := context.Background()

	st.insertErr = errStoreDown
	_, err := h.Pipeline().Send(ctx, a, chatC1, "c1", "hi")
	require.Equal(t, errs.KindInternal, errs.KindOf(err))
	assert.Equal(t, 1, st.released)

	st.insertErr = nil
	res, err := h.Pipeline().Send(ctx, a, chatC1, "c1", "hi")
	require.NoError(t, err)
	assert.NotEmpty(t, res.ServerID)
	assert.Equal(t, 1, st.inserts)
}

func TestSend_ClaimFailureIsInternal(t *testing.T) {
	h, st := newTestHub(t, Options{})
	st.addChat(chatC1, "A")
	a := h.Connect("A", "")
	st.claimErr = errStoreDown

	_, err := h.Pipeline().Send(context.Background(), a, chatC1, "c1", "hi")
	assert.Equal(t, errs.KindInternal, errs.KindOf(err))
	assert.Equal(t, 0, st.inserts)
}

func TestSend_RoomOrderMatchesIDOrder(t *testing.T) {
	h, st := newTestHub(t, Options{RateLimit: 100, RateWindow: time.Second})
	st.addChat(chatC1, "A", "B")
	ctx := context.Background()
	a := h.Connect("A", "")
	b := h.Connect("B", "")
	require.NoError(t, h.Rooms().AuthorizeJoin(ctx, b, chatC1))

	var sent []string
	for i := 0; i < 20; i++ {
		res, err := h.Pipeline().Send(ctx, a, chatC1, "c"+strings.Repeat("x", i+1), "hi")
		require.NoError(t, err)
		sent = append(sent, res.ServerID)
	}
	for _, id := range sent {
		var mn MessageNew
		require.NoError(t, json.Unmarshal(nextFrame(t, b, EventMessageNew).Payload, &mn))
		assert.Equal(t, id, mn.Message.ID)
	}
	assert.Equal(t, 0, h.Pipeline().dedup.size())
	assert.Equal(t, 0, h.Pipeline().order.size())
}
