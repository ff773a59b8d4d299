package mongo_test

import (
	"context"
	"testing"
	"time"

	"github.com/chirino/messaging-service/internal/config"
	"github.com/chirino/messaging-service/internal/plugin/store/mongo"
	"github.com/chirino/messaging-service/internal/plugin/store/storetest"
	registrymigrate "github.com/chirino/messaging-service/internal/registry/migrate"
	registrystore "github.com/chirino/messaging-service/internal/registry/store"
	"github.com/chirino/messaging-service/internal/testutil/testmongo"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

func TestMongoStore(t *testing.T) {
	uri := testmongo.StartMongo(t)

	storetest.Run(t, func(t *testing.T) registrystore.MessageStore {
		cfg := config.DefaultConfig()
		cfg.DatastoreType = "mongo"
		cfg.DBURL = uri
		// A fresh database per subtest keeps them independent.
		cfg.DBName = "test_" + uuid.NewString()[:8]
		ctx := config.WithContext(context.Background(), &cfg)

		require.NoError(t, registrymigrate.RunAll(ctx))

		_ = mongo.ForceImport
		loader, err := registrystore.Select("mongo")
		require.NoError(t, err)
		store, err := loader(ctx)
		require.NoError(t, err)
		t.Cleanup(func() { _ = store.Close(context.Background()) })
		return store
	})
}

// Documents written by the old application live in "chats", reference users
// by ObjectId and name the partner field textsWith.
func TestMongoStore_ReadsLegacyChatsCollection(t *testing.T) {
	uri := testmongo.StartMongo(t)
	ctx := context.Background()

	cfg := config.DefaultConfig()
	cfg.DatastoreType = "mongo"
	cfg.DBURL = uri
	cfg.DBName = "legacy_" + uuid.NewString()[:8]
	ctx = config.WithContext(ctx, &cfg)
	require.NoError(t, registrymigrate.RunAll(ctx))
	// Running again must tolerate the collections that already exist.
	require.NoError(t, registrymigrate.RunAll(ctx))

	client, err := mongodriver.Connect(options.Client().ApplyURI(uri))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Disconnect(context.Background()) })
	chats := client.Database(cfg.DBName).Collection("chats")

	alice := bson.NewObjectID()
	bob := bson.NewObjectID()
	date := time.Date(2023, 3, 4, 10, 0, 0, 0, time.UTC)
	_, err = chats.InsertMany(ctx, []any{
		bson.M{
			"user": alice,
			"chats": bson.A{bson.M{
				"textsWith": bob,
				"texts": bson.A{
					bson.M{"sender": alice, "receiver": bob, "text": "hi bob", "date": date},
					bson.M{"sender": bob, "receiver": alice, "text": "hi alice", "date": date.Add(time.Minute)},
				},
			}},
		},
		bson.M{"user": bob, "chats": bson.A{}},
		bson.M{
			"user": "zed",
			"chats": bson.A{bson.M{
				"textsWith": alice,
				"texts":     bson.A{bson.M{"sender": "zed", "receiver": alice, "text": "yo", "date": date}},
			}},
		},
	})
	require.NoError(t, err)

	store, err := mongo.Open(ctx, &cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close(context.Background()) })

	page, err := store.ListLegacyUsers(ctx, "", 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.Equal(t, "zed", page[0].UserID)
	require.Equal(t, alice.Hex(), page[0].Chats[0].TextsWith)
	require.Equal(t, alice.Hex(), page[0].Chats[0].Texts[0].Receiver)

	page, err = store.ListLegacyUsers(ctx, "zed", 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.Equal(t, alice.Hex(), page[0].UserID)
	require.Len(t, page[0].Chats, 1)
	chat := page[0].Chats[0]
	require.Equal(t, bob.Hex(), chat.TextsWith)
	require.Len(t, chat.Texts, 2)
	require.Equal(t, alice.Hex(), chat.Texts[0].Sender)
	require.Equal(t, bob.Hex(), chat.Texts[0].Receiver)
	require.Equal(t, "hi bob", chat.Texts[0].Text)
	require.True(t, date.Equal(chat.Texts[0].Date))

	// bob has no chats and is skipped.
	page, err = store.ListLegacyUsers(ctx, alice.Hex(), 10)
	require.NoError(t, err)
	require.Empty(t, page)
}
