package store

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"famly/data/database"
	"famly/module/chat/model"
	"famly/tools/errs"
)

// Idempotency relies on the unique (chatId, clientId) index: the first
// insert wins across every hub instance, later ones read the winner back.
type Idempotency struct {
	coll *mongo.Collection
	now  func() time.Time
}

func NewIdempotency(db *mongo.Database) *Idempotency {
	return &Idempotency{coll: database.Collection(db, &model.Idempotency{}), now: time.Now}
}

func (s *Idempotency) Claim(ctx context.Context, chatID, clientID, serverID string) (string, bool, error) {
	_, err := s.coll.InsertOne(ctx, model.Idempotency{
		ChatID:          chatID,
		ClientID:        clientID,
		ServerMessageID: serverID,
		CreatedAt:       s.now().UTC(),
	})
	if err == nil {
		return serverID, true, nil
	}
	if !mongo.IsDuplicateKeyError(err) {
		return "", false, errs.WrapMsg(err, "claim idempotency", "chatId", chatID, "clientId", clientID)
	}
	var doc model.Idempotency
	if err := s.coll.FindOne(ctx, bson.M{
		model.IdemFieldChatID:   chatID,
		model.IdemFieldClientID: clientID,
	}).Decode(&doc); err != nil {
		return "", false, errs.WrapMsg(err, "read idempotency", "chatId", chatID, "clientId", clientID)
	}
	return doc.ServerMessageID, false, nil
}

func (s *Idempotency) Release(ctx context.Context, chatID, clientID string) error {
	if _, err := s.coll.DeleteOne(ctx, bson.M{
		model.IdemFieldChatID:   chatID,
		model.IdemFieldClientID: clientID,
	}); err != nil {
		return errs.WrapMsg(err, "release idempotency", "chatId", chatID, "clientId", clientID)
	}
	return nil
}
