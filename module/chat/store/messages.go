package store

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"famly/data/database"
	"famly/module/chat/model"
	"famly/service/chat"
	"famly/tools/errs"
)

type Messages struct {
	coll *mongo.Collection
}

func NewMessages(db *mongo.Database) *Messages {
	return &Messages{coll: database.Collection(db, &model.Message{})}
}

func (s *Messages) Insert(ctx context.Context, m *chat.Message) error {
	id, err := primitive.ObjectIDFromHex(m.ID)
	if err != nil {
		return errs.WrapMsg(err, "message id", "id", m.ID)
	}
	chatID, err := primitive.ObjectIDFromHex(m.ChatID)
	if err != nil {
		return errs.WrapMsg(err, "chat id", "chatId", m.ChatID)
	}
	doc := model.Message{
		ID:        id,
		ChatID:    chatID,
		SenderID:  m.SenderID,
		ClientID:  m.ClientID,
		Body:      m.Body,
		CreatedAt: m.CreatedAt,
	}
	if _, err := s.coll.InsertOne(ctx, doc); err != nil {
		return errs.WrapMsg(err, "insert message", "id", m.ID)
	}
	return nil
}

func (s *Messages) FindByID(ctx context.Context, id string) (*chat.Message, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, errs.Wrap(chat.ErrMessageNotFound)
	}
	var doc model.Message
	err = s.coll.FindOne(ctx, bson.M{model.MessageFieldID: oid}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, errs.Wrap(chat.ErrMessageNotFound)
	}
	if err != nil {
		return nil, errs.WrapMsg(err, "find message", "id", id)
	}
	return toMessage(doc), nil
}

func toMessage(doc model.Message) *chat.Message {
	return &chat.Message{
		ID:        doc.ID.Hex(),
		ChatID:    doc.ChatID.Hex(),
		SenderID:  doc.SenderID,
		ClientID:  doc.ClientID,
		Body:      doc.Body,
		CreatedAt: doc.CreatedAt.UTC(),
	}
}
