package mongo

import (
	"context"
	"errors"

	"github.com/chirino/messaging-service/internal/model"
	registrystore "github.com/chirino/messaging-service/internal/registry/store"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

func (s *MongoStore) GetUser(ctx context.Context, userID string) (*model.User, error) {
	var doc userDoc
	err := s.users().FindOne(ctx, bson.M{"_id": userID}, options.FindOne().SetProjection(bson.M{"chats": 0})).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, &registrystore.NotFoundError{Resource: "user", ID: userID}
		}
		return nil, registrystore.Fail("get user", err)
	}
	user := doc.toModel()
	return &user, nil
}

func (s *MongoStore) PutUser(ctx context.Context, user model.User) error {
	_, err := s.users().UpdateOne(ctx,
		bson.M{"_id": user.ID},
		bson.M{
			"$set":         bson.M{"name": user.Name, "profile_pic_url": user.ProfilePicURL},
			"$setOnInsert": bson.M{"unread_message": user.UnreadMessage},
		},
		options.UpdateOne().SetUpsert(true),
	)
	return registrystore.Fail("put user", err)
}

func (s *MongoStore) SetUnread(ctx context.Context, userID string) (bool, error) {
	return s.flipUnread(ctx, userID, true)
}

func (s *MongoStore) ClearUnread(ctx context.Context, userID string) (bool, error) {
	return s.flipUnread(ctx, userID, false)
}

func (s *MongoStore) flipUnread(ctx context.Context, userID string, value bool) (bool, error) {
	res, err := s.users().UpdateOne(ctx,
		bson.M{"_id": userID, "unread_message": bson.M{"$ne": value}},
		bson.M{"$set": bson.M{"unread_message": value}},
	)
	if err != nil {
		return false, registrystore.Fail("update unread flag", err)
	}
	if res.ModifiedCount > 0 {
		return true, nil
	}
	count, err := s.users().CountDocuments(ctx, bson.M{"_id": userID})
	if err != nil {
		return false, registrystore.Fail("update unread flag", err)
	}
	if count == 0 {
		return false, &registrystore.NotFoundError{Resource: "user", ID: userID}
	}
	return false, nil
}

func (s *MongoStore) FindConversation(ctx context.Context, pairKey string) (*model.Conversation, error) {
	var doc convDoc
	if err := s.conversations().FindOne(ctx, bson.M{"pair_key": pairKey}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, &registrystore.NotFoundError{Resource: "conversation", ID: pairKey}
		}
		return nil, registrystore.Fail("find conversation", err)
	}
	conv := doc.toModel()
	return &conv, nil
}

func (s *MongoStore) CreateConversation(ctx context.Context, conv model.Conversation) (*model.Conversation, error) {
	if len(conv.Users) != 2 {
		return nil, &registrystore.ValidationError{Field: "users", Message: "a conversation has exactly two users"}
	}
	doc := convFromModel(conv)
	if _, err := s.conversations().InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, &registrystore.ConflictError{
				Message: "conversation already exists for " + conv.PairKey,
				Code:    registrystore.ConflictPairExists,
			}
		}
		return nil, registrystore.Fail("create conversation", err)
	}
	created := doc.toModel()
	return &created, nil
}

func (s *MongoStore) ListConversations(ctx context.Context, userID string) ([]model.Conversation, error) {
	opts := options.Find().SetSort(bson.D{{Key: "last_message.date", Value: -1}, {Key: "_id", Value: 1}})
	cur, err := s.conversations().Find(ctx, bson.M{"users": userID}, opts)
	if err != nil {
		return nil, registrystore.Fail("list conversations", err)
	}
	var docs []convDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, registrystore.Fail("list conversations", err)
	}
	out := make([]model.Conversation, len(docs))
	for i, d := range docs {
		out[i] = d.toModel()
	}
	return out, nil
}

func (s *MongoStore) ResetUnreadCount(ctx context.Context, conversationID, userID string) error {
	_, err := s.conversations().UpdateOne(ctx,
		bson.M{"_id": conversationID},
		bson.M{"$unset": bson.M{"unread_count." + userID: ""}},
	)
	return registrystore.Fail("reset unread count", err)
}

func (s *MongoStore) AppendMessage(ctx context.Context, msg model.Message) (*model.Message, error) {
	var claimed convDoc
	err := s.conversations().FindOneAndUpdate(ctx,
		bson.M{"_id": msg.ConversationID},
		bson.M{"$inc": bson.M{"message_seq": 1}},
		options.FindOneAndUpdate().
			SetReturnDocument(options.After).
			SetProjection(bson.M{"message_seq": 1}),
	).Decode(&claimed)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, &registrystore.NotFoundError{Resource: "conversation", ID: msg.ConversationID}
		}
		return nil, registrystore.Fail("append message", err)
	}
	msg.Seq = claimed.MessageSeq

	if _, err := s.messages().InsertOne(ctx, messageFromModel(msg)); err != nil {
		return nil, registrystore.Fail("append message", err)
	}

	_, err = s.conversations().UpdateOne(ctx,
		bson.M{"_id": msg.ConversationID, "last_message.seq": bson.M{"$lt": msg.Seq}},
		bson.M{"$set": bson.M{
			"last_message": lastMessageDoc{Text: msg.Text, Sender: msg.Sender, Date: msg.Date, Seq: msg.Seq},
			"updated_at":   msg.Date,
		}},
	)
	if err != nil {
		return nil, registrystore.Fail("update last message", err)
	}

	_, err = s.conversations().UpdateOne(ctx,
		bson.M{"_id": msg.ConversationID},
		bson.M{"$inc": bson.M{"unread_count." + msg.Receiver: 1}},
	)
	if err != nil {
		return nil, registrystore.Fail("increment unread count", err)
	}
	return &msg, nil
}

func (s *MongoStore) ListMessages(ctx context.Context, conversationID string, offset, limit int) ([]model.Message, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "date", Value: -1}, {Key: "seq", Value: -1}}).
		SetSkip(int64(offset)).
		SetLimit(int64(limit))
	cur, err := s.messages().Find(ctx, bson.M{"conversation_id": conversationID}, opts)
	if err != nil {
		return nil, registrystore.Fail("list messages", err)
	}
	var docs []messageDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, registrystore.Fail("list messages", err)
	}
	out := make([]model.Message, len(docs))
	for i, d := range docs {
		out[i] = d.toModel()
	}
	return out, nil
}

func (s *MongoStore) CountMessages(ctx context.Context, conversationID string) (int64, error) {
	count, err := s.messages().CountDocuments(ctx, bson.M{"conversation_id": conversationID})
	return count, registrystore.Fail("count messages", err)
}
