package store

import (
	"context"
	"sort"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"famly/data/database"
	"famly/module/chat/model"
	"famly/tools/errs"
)

// Members answers chat membership from the chats collection.
type Members struct {
	coll *mongo.Collection
}

func NewMembers(db *mongo.Database) *Members {
	return &Members{coll: database.Collection(db, &model.Chat{})}
}

// IsMember treats unknown and malformed chat ids as "not a member".
func (s *Members) IsMember(ctx context.Context, userID, chatID string) (bool, error) {
	oid, err := primitive.ObjectIDFromHex(chatID)
	if err != nil {
		return false, nil
	}
	n, err := s.coll.CountDocuments(ctx, bson.M{
		model.ChatFieldID:        oid,
		model.ChatFieldMemberIDs: userID,
	}, options.Count().SetLimit(1))
	if err != nil {
		return false, errs.WrapMsg(err, "count chat member", "chatId", chatID)
	}
	return n > 0, nil
}

// Contacts resolves presence audiences: everyone sharing a household or a
// chat with the user.
type Contacts struct {
	families *mongo.Collection
	chats    *mongo.Collection
}

func NewContacts(db *mongo.Database) *Contacts {
	return &Contacts{
		families: database.Collection(db, &model.Family{}),
		chats:    database.Collection(db, &model.Chat{}),
	}
}

type memberList struct {
	MemberIDs []string `bson:"memberIds"`
}

func (s *Contacts) ContactsOf(ctx context.Context, userID string) ([]string, error) {
	seen := make(map[string]struct{})
	for _, coll := range []*mongo.Collection{s.families, s.chats} {
		if err := collectMembers(ctx, coll, userID, seen); err != nil {
			return nil, err
		}
	}
	delete(seen, userID)
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func collectMembers(ctx context.Context, coll *mongo.Collection, userID string, seen map[string]struct{}) error {
	cur, err := coll.Find(ctx, bson.M{"memberIds": userID}, options.Find().SetProjection(bson.M{"memberIds": 1}))
	if err != nil {
		return errs.WrapMsg(err, "find contacts", "collection", coll.Name())
	}
	var docs []memberList
	if err := cur.All(ctx, &docs); err != nil {
		return errs.WrapMsg(err, "decode contacts", "collection", coll.Name())
	}
	for _, d := range docs {
		for _, id := range d.MemberIDs {
			seen[id] = struct{}{}
		}
	}
	return nil
}
