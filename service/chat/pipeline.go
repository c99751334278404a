package chat

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"famly/service/metrics"
	"famly/tools/errs"
	"famly/tools/ids"
)

const (
	DefaultMaxBodyChars = 8000
	maxClientIDChars    = 128
)

type SendResult struct {
	ClientID string `json:"clientId"`
	ServerID string `json:"serverId"`
}

// Pipeline accepts chat messages exactly once per (chatId, clientId).
type Pipeline struct {
	rooms    *Rooms
	limiter  *SlidingWindow
	messages MessageStore
	idem     IdempotencyStore
	fanout   *Broadcaster
	log      *zap.Logger
	metrics  *metrics.Metrics

	maxBody int
	now     func() time.Time
	newID   func() string

	dedup *keyedMutex // (chatId, clientId)
	order *keyedMutex // chatId
}

func NewPipeline(rooms *Rooms, limiter *SlidingWindow, messages MessageStore, idem IdempotencyStore, fanout *Broadcaster, maxBody int, log *zap.Logger, m *metrics.Metrics) *Pipeline {
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyChars
	}
	return &Pipeline{
		rooms:    rooms,
		limiter:  limiter,
		messages: messages,
		idem:     idem,
		fanout:   fanout,
		log:      log,
		metrics:  m,
		maxBody:  maxBody,
		now:      time.Now,
		newID:    ids.NewMessageID,
		dedup:    newKeyedMutex(),
		order:    newKeyedMutex(),
	}
}

// MaxBody is the longest accepted body, in runes.
func (p *Pipeline) MaxBody() int { return p.maxBody }

// Send validates, rate limits, deduplicates, persists and broadcasts one
// message. A retried send returns the original serverId and broadcasts
// nothing.
func (p *Pipeline) Send(ctx context.Context, c *Conn, chatID, clientID, body string) (SendResult, error) {
	ok, err := p.rooms.Authorize(ctx, c, chatID)
	if err != nil {
		return SendResult{}, err
	}
	if !ok {
		return SendResult{}, errs.ErrForbidden.WrapMsg("not a member of this chat", "chatId", chatID, "userId", c.UserID)
	}
	clientID = strings.TrimSpace(clientID)
	if clientID == "" {
		return SendResult{}, errs.ErrValidation.WrapMsg("clientId is required")
	}
	if utf8.RuneCountInString(clientID) > maxClientIDChars {
		return SendResult{}, errs.ErrValidation.WrapMsg("clientId is too long")
	}
	if strings.TrimSpace(body) == "" {
		return SendResult{}, errs.ErrValidation.WrapMsg("body must not be empty")
	}
	if utf8.RuneCountInString(body) > p.maxBody {
		return SendResult{}, errs.ErrValidation.WrapMsg("body is too long", "max", p.maxBody)
	}
	if !p.limiter.TryConsume(c.UserID, c.ID) {
		p.metrics.Limited()
		return SendResult{}, errs.ErrRateLimited.WrapMsg("too many messages, slow down", "connId", c.ID)
	}

	unlock := p.dedup.Lock(pairKey(chatID, clientID))
	defer unlock()
	// ids are minted and persisted in the same order members observe them
	unlockOrder := p.order.Lock(chatID)
	defer unlockOrder()

	serverID := p.newID()
	existing, claimed, err := p.idem.Claim(ctx, chatID, clientID, serverID)
	if err != nil {
		return SendResult{}, errs.ErrInternal.WrapMsg("", "op", "claim", "chatId", chatID, "cause", err.Error())
	}
	if !claimed {
		p.log.Debug("duplicate send", zap.String("chatId", chatID), zap.String("clientId", clientID), zap.String("serverId", existing))
		return SendResult{ClientID: clientID, ServerID: existing}, nil
	}

	msg := &Message{
		ID:        serverID,
		ChatID:    chatID,
		SenderID:  c.UserID,
		ClientID:  clientID,
		Body:      body,
		CreatedAt: p.now().UTC(),
	}
	if err := p.messages.Insert(ctx, msg); err != nil {
		if rerr := p.idem.Release(context.WithoutCancel(ctx), chatID, clientID); rerr != nil {
			p.log.Error("release idempotency claim", zap.String("chatId", chatID), zap.String("clientId", clientID), zap.Error(rerr))
		}
		return SendResult{}, errs.ErrInternal.WrapMsg("", "op", "insert", "chatId", chatID, "cause", err.Error())
	}

	p.fanout.ToRoom(chatID, EventMessageNew, MessageNew{Message: *msg}, c)
	return SendResult{ClientID: clientID, ServerID: serverID}, nil
}
