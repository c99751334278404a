package store

import (
	"context"

	"go.mongodb.org/mongo-driver/mongo"

	"famly/data/database"
	"famly/module/chat/model"
	"famly/service/chat"
)

// Tables lists every collection the hub reads or writes.
func Tables() []database.Table {
	return []database.Table{
		&model.Chat{},
		&model.Family{},
		&model.Message{},
		&model.Idempotency{},
		&model.ReadCursor{},
	}
}

func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	return database.EnsureIndexes(ctx, db, Tables()...)
}

// New builds the Mongo-backed collaborators of a hub.
func New(db *mongo.Database) chat.Stores {
	return chat.Stores{
		Members:     NewMembers(db),
		Messages:    NewMessages(db),
		Idempotency: NewIdempotency(db),
		Cursors:     NewCursors(db),
		Contacts:    NewContacts(db),
	}
}
