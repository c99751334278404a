package store

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"famly/data/database"
	"famly/module/chat/model"
	"famly/service/chat"
	"famly/tools/errs"
)

type Cursors struct {
	coll *mongo.Collection
}

func NewCursors(db *mongo.Database) *Cursors {
	return &Cursors{coll: database.Collection(db, &model.ReadCursor{})}
}

// Advance is a single conditional upsert: it matches the stored cursor only
// when messageId is older than the new one. When a newer or equal cursor
// exists the upsert collides with the unique (chatId, userId) index, which
// means "not advanced"; the stored cursor is then read back.
func (s *Cursors) Advance(ctx context.Context, chatID, userID, messageID string, readAt time.Time) (chat.ReadCursor, bool, error) {
	mid, err := primitive.ObjectIDFromHex(messageID)
	if err != nil {
		return chat.ReadCursor{}, false, errs.WrapMsg(err, "message id", "messageId", messageID)
	}
	filter := bson.M{
		model.CursorFieldChatID:    chatID,
		model.CursorFieldUserID:    userID,
		model.CursorFieldMessageID: bson.M{"$lt": mid},
	}
	update := bson.M{"$set": bson.M{
		model.CursorFieldMessageID: mid,
		model.CursorFieldReadAt:    readAt,
	}}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var doc model.ReadCursor
	err = s.coll.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
	if err == nil {
		return toCursor(doc), true, nil
	}
	if !mongo.IsDuplicateKeyError(err) {
		return chat.ReadCursor{}, false, errs.WrapMsg(err, "advance cursor", "chatId", chatID, "userId", userID)
	}

	if err := s.coll.FindOne(ctx, bson.M{
		model.CursorFieldChatID: chatID,
		model.CursorFieldUserID: userID,
	}).Decode(&doc); err != nil {
		return chat.ReadCursor{}, false, errs.WrapMsg(err, "read cursor", "chatId", chatID, "userId", userID)
	}
	return toCursor(doc), false, nil
}

func toCursor(doc model.ReadCursor) chat.ReadCursor {
	return chat.ReadCursor{
		ChatID:    doc.ChatID,
		UserID:    doc.UserID,
		MessageID: doc.MessageID.Hex(),
		ReadAt:    doc.ReadAt.UTC(),
	}
}
