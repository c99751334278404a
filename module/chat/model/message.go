package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Message collection field constants
const (
	MessageFieldID        = "_id"
	MessageFieldChatID    = "chatId"
	MessageFieldSenderID  = "senderId"
	MessageFieldClientID  = "clientId"
	MessageFieldBody      = "body"
	MessageFieldCreatedAt = "createdAt"
)

// Message is one persisted chat message. _id is the hub-minted ObjectID, so
// _id order is creation order.
type Message struct {
	ID        primitive.ObjectID `bson:"_id"`
	ChatID    primitive.ObjectID `bson:"chatId"`
	SenderID  string             `bson:"senderId"`
	ClientID  string             `bson:"clientId"`
	Body      string             `bson:"body"`
	CreatedAt time.Time          `bson:"createdAt"`
}

func (*Message) GetTableName() string { return "messages" }

func (*Message) Indexes() []mongo.IndexModel {
	return []mongo.IndexModel{
		{Keys: bson.D{{Key: MessageFieldChatID, Value: 1}, {Key: MessageFieldID, Value: 1}}},
	}
}

// Idempotency collection field constants
const (
	IdemFieldChatID          = "chatId"
	IdemFieldClientID        = "clientId"
	IdemFieldServerMessageID = "serverMessageId"
	IdemFieldCreatedAt       = "createdAt"
)

// Idempotency maps a client-proposed id to the message it produced. It is
// never deleted while the message lives.
type Idempotency struct {
	ChatID          string    `bson:"chatId"`
	ClientID        string    `bson:"clientId"`
	ServerMessageID string    `bson:"serverMessageId"`
	CreatedAt       time.Time `bson:"createdAt"`
}

func (*Idempotency) GetTableName() string { return "message_idempotency" }

func (*Idempotency) Indexes() []mongo.IndexModel {
	return []mongo.IndexModel{{
		Keys:    bson.D{{Key: IdemFieldChatID, Value: 1}, {Key: IdemFieldClientID, Value: 1}},
		Options: options.Index().SetUnique(true).SetName("uniq_chat_client"),
	}}
}

// ReadCursor collection field constants
const (
	CursorFieldChatID    = "chatId"
	CursorFieldUserID    = "userId"
	CursorFieldMessageID = "messageId"
	CursorFieldReadAt    = "readAt"
)

// ReadCursor is the newest message a user acknowledged in one chat.
type ReadCursor struct {
	ChatID    string             `bson:"chatId"`
	UserID    string             `bson:"userId"`
	MessageID primitive.ObjectID `bson:"messageId"`
	ReadAt    time.Time          `bson:"readAt"`
}

func (*ReadCursor) GetTableName() string { return "read_cursors" }

func (*ReadCursor) Indexes() []mongo.IndexModel {
	return []mongo.IndexModel{{
		Keys:    bson.D{{Key: CursorFieldChatID, Value: 1}, {Key: CursorFieldUserID, Value: 1}},
		Options: options.Index().SetUnique(true).SetName("uniq_chat_user"),
	}}
}
