package database

import (
	"context"

	"go.mongodb.org/mongo-driver/mongo"

	"famly/tools/errs"
)

// Table is a persisted document type: its collection name and the indexes
// the collection needs.
type Table interface {
	GetTableName() string
	Indexes() []mongo.IndexModel
}

func Collection(db *mongo.Database, t Table) *mongo.Collection {
	return db.Collection(t.GetTableName())
}

// EnsureIndexes creates every table's indexes. Existing identical indexes
// are a no-op on the server.
func EnsureIndexes(ctx context.Context, db *mongo.Database, tables ...Table) error {
	for _, t := range tables {
		idx := t.Indexes()
		if len(idx) == 0 {
			continue
		}
		if _, err := Collection(db, t).Indexes().CreateMany(ctx, idx); err != nil {
			return errs.WrapMsg(err, "create indexes", "collection", t.GetTableName())
		}
	}
	return nil
}
