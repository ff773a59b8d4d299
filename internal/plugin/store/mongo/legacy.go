package mongo

import (
	"context"
	"errors"
	"time"

	"github.com/chirino/messaging-service/internal/model"
	registrystore "github.com/chirino/messaging-service/internal/registry/store"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// PutLegacyUser writes user's document in the legacy chats collection,
// replacing any chats it already holds.
func (s *MongoStore) PutLegacyUser(ctx context.Context, user model.LegacyUser) error {
	_, err := s.legacyChats().UpdateOne(ctx,
		bson.M{"user": user.UserID},
		bson.M{"$set": bson.M{"chats": legacyChatsFromModel(user.Chats)}},
		options.UpdateOne().SetUpsert(true),
	)
	return registrystore.Fail("put legacy user", err)
}

// ListLegacyUsers pages the legacy chats collection in "user" order. BSON
// sorts strings before ObjectIds, so a cursor that parses as an ObjectId only
// continues through ObjectIds, and a string cursor continues through the
// greater strings and then every ObjectId.
func (s *MongoStore) ListLegacyUsers(ctx context.Context, after string, limit int) ([]model.LegacyUser, error) {
	filter := bson.M{"chats.0": bson.M{"$exists": true}}
	if after != "" {
		if oid, err := bson.ObjectIDFromHex(after); err == nil {
			filter["user"] = bson.M{"$gt": oid}
		} else {
			filter["$or"] = bson.A{
				bson.M{"user": bson.M{"$gt": after}},
				bson.M{"user": bson.M{"$type": "objectId"}},
			}
		}
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "user", Value: 1}}).
		SetLimit(int64(limit)).
		SetProjection(bson.M{"user": 1, "chats": 1})
	cur, err := s.legacyChats().Find(ctx, filter, opts)
	if err != nil {
		return nil, registrystore.Fail("list legacy users", err)
	}
	var docs []legacyUserDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, registrystore.Fail("list legacy users", err)
	}
	out := make([]model.LegacyUser, 0, len(docs))
	for _, d := range docs {
		u := d.toModel()
		if u.UserID == "" {
			continue
		}
		out = append(out, u)
	}
	return out, nil
}

func (s *MongoStore) ImportConversation(ctx context.Context, conv model.Conversation, msgs []model.Message) (*registrystore.ImportResult, error) {
	if len(conv.Users) != 2 {
		return nil, &registrystore.ValidationError{Field: "users", Message: "a conversation has exactly two users"}
	}
	_, err := s.conversations().UpdateOne(ctx,
		bson.M{"pair_key": conv.PairKey},
		bson.M{"$setOnInsert": convFromModel(conv)},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil && !mongo.IsDuplicateKeyError(err) {
		return nil, registrystore.Fail("import conversation", err)
	}

	var existing convDoc
	if err := s.conversations().FindOne(ctx, bson.M{"pair_key": conv.PairKey}).Decode(&existing); err != nil {
		return nil, registrystore.Fail("import conversation", err)
	}
	if existing.ID != conv.ID || existing.LegacySource != conv.LegacySource {
		return &registrystore.ImportResult{Skipped: true}, nil
	}
	if len(msgs) == 0 {
		return &registrystore.ImportResult{}, nil
	}

	models := make([]mongo.WriteModel, len(msgs))
	for i, m := range msgs {
		models[i] = mongo.NewUpdateOneModel().
			SetFilter(bson.M{"_id": m.ID}).
			SetUpdate(bson.M{"$setOnInsert": messageFromModel(m)}).
			SetUpsert(true)
	}
	if _, err := s.messages().BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false)); err != nil {
		return nil, registrystore.Fail("import messages", err)
	}
	return &registrystore.ImportResult{Messages: len(msgs)}, nil
}

func (s *MongoStore) GetCheckpoint(ctx context.Context, name string) (*model.MigrationCheckpoint, error) {
	var doc checkpointDoc
	if err := s.checkpoints().FindOne(ctx, bson.M{"_id": name}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, registrystore.Fail("get checkpoint", err)
	}
	cp := doc.toModel()
	return &cp, nil
}

func (s *MongoStore) SaveCheckpoint(ctx context.Context, cp model.MigrationCheckpoint) error {
	doc := checkpointDoc{
		Name:          cp.Name,
		Cursor:        cp.Cursor,
		Users:         cp.Users,
		Conversations: cp.Conversations,
		Messages:      cp.Messages,
		Skipped:       cp.Skipped,
		Done:          cp.Done,
		UpdatedAt:     time.Now().UTC(),
	}
	_, err := s.checkpoints().ReplaceOne(ctx, bson.M{"_id": cp.Name}, doc, options.Replace().SetUpsert(true))
	return registrystore.Fail("save checkpoint", err)
}

func (s *MongoStore) DeleteCheckpoint(ctx context.Context, name string) error {
	_, err := s.checkpoints().DeleteOne(ctx, bson.M{"_id": name})
	return registrystore.Fail("delete checkpoint", err)
}
