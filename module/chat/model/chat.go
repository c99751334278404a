package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

// Chat collection field constants
const (
	ChatFieldID        = "_id"
	ChatFieldMemberIDs = "memberIds"
	ChatFieldUpdatedAt = "updatedAt"
)

// Chat is a conversation owned by the chat REST service; the hub only reads
// its member list.
type Chat struct {
	ID        primitive.ObjectID `bson:"_id"`
	MemberIDs []string           `bson:"memberIds"`
	UpdatedAt time.Time          `bson:"updatedAt,omitempty"`
}

func (*Chat) GetTableName() string { return "chats" }

func (*Chat) Indexes() []mongo.IndexModel {
	return []mongo.IndexModel{
		{Keys: bson.D{{Key: ChatFieldMemberIDs, Value: 1}}},
	}
}

const FamilyFieldMemberIDs = "memberIds"

// Family is a household; its members see each other's presence.
type Family struct {
	ID        primitive.ObjectID `bson:"_id"`
	MemberIDs []string           `bson:"memberIds"`
}

func (*Family) GetTableName() string { return "families" }

func (*Family) Indexes() []mongo.IndexModel {
	return []mongo.IndexModel{
		{Keys: bson.D{{Key: FamilyFieldMemberIDs, Value: 1}}},
	}
}
