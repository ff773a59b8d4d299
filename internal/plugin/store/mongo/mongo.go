package mongo

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/chirino/messaging-service/internal/config"
	registrymigrate "github.com/chirino/messaging-service/internal/registry/migrate"
	registrystore "github.com/chirino/messaging-service/internal/registry/store"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const (
	collUsers         = "users"
	collConversations = "conversations"
	collMessages      = "messages"
	collCheckpoints   = "migration_checkpoints"
	// collLegacyChats is the old application's per-user chats collection.
	// It is only read by the legacy migration.
	collLegacyChats = "chats"
)

func init() {
	registrystore.Register(registrystore.Plugin{
		Name: "mongo",
		Loader: func(ctx context.Context) (registrystore.MessageStore, error) {
			return Open(ctx, config.FromContext(ctx))
		},
	})

	registrymigrate.Register(registrymigrate.Plugin{Order: 100, Migrator: &mongoMigrator{}})
}

// ForceImport is a no-op variable that can be referenced to ensure this package's init() runs.
var ForceImport = 0

// Open connects to cfg.DBURL and returns a store on database cfg.DBName.
func Open(ctx context.Context, cfg *config.Config) (*MongoStore, error) {
	opts := options.Client().ApplyURI(cfg.DBURL)
	if cfg.DBMaxOpenConns > 0 {
		opts.SetMaxPoolSize(uint64(cfg.DBMaxOpenConns))
	}
	if cfg.DBMaxIdleConns > 0 {
		opts.SetMinPoolSize(uint64(cfg.DBMaxIdleConns))
	}
	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}
	return &MongoStore{client: client, db: client.Database(cfg.DBName)}, nil
}

type mongoMigrator struct{}

func (m *mongoMigrator) Name() string { return "mongo-schema" }
func (m *mongoMigrator) Migrate(ctx context.Context) error {
	cfg := config.FromContext(ctx)
	if cfg == nil || !cfg.DatastoreMigrateAtStart {
		return nil
	}
	if cfg.DatastoreType != "mongo" {
		return nil // skip if not using mongo
	}

	log.Info("Running migration", "name", m.Name())
	client, err := mongo.Connect(options.Client().ApplyURI(cfg.DBURL))
	if err != nil {
		return fmt.Errorf("mongo migration: failed to connect: %w", err)
	}
	defer client.Disconnect(ctx)

	if err := EnsureIndexes(ctx, client.Database(cfg.DBName)); err != nil {
		return err
	}
	log.Info("MongoDB schema migration complete")
	return nil
}

// EnsureIndexes creates the collections and indexes the store relies on.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	collections := map[string][]mongo.IndexModel{
		collConversations: {
			{
				Keys:    bson.D{{Key: "pair_key", Value: 1}},
				Options: options.Index().SetUnique(true).SetName("unique_pair_key"),
			},
			{Keys: bson.D{{Key: "users", Value: 1}}},
			{Keys: bson.D{{Key: "last_message.date", Value: -1}}},
		},
		collMessages: {
			{Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "date", Value: -1}, {Key: "seq", Value: -1}}},
		},
		collLegacyChats: {
			{Keys: bson.D{{Key: "user", Value: 1}}},
		},
		collUsers:       nil,
		collCheckpoints: nil,
	}

	for name, indexes := range collections {
		if err := db.CreateCollection(ctx, name); err != nil && !isNamespaceExists(err) {
			return fmt.Errorf("mongo migration: failed to create collection %s: %w", name, err)
		}
		if len(indexes) > 0 {
			if _, err := db.Collection(name).Indexes().CreateMany(ctx, indexes); err != nil {
				return fmt.Errorf("mongo migration: failed to create indexes for %s: %w", name, err)
			}
		}
	}
	return nil
}

// namespaceExistsCode is the server error code for creating a collection
// that is already there.
const namespaceExistsCode = 48

func isNamespaceExists(err error) bool {
	var cmdErr mongo.CommandError
	return errors.As(err, &cmdErr) && cmdErr.HasErrorCode(namespaceExistsCode)
}

// MongoStore implements MessageStore using MongoDB.
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
}

func (s *MongoStore) users() *mongo.Collection         { return s.db.Collection(collUsers) }
func (s *MongoStore) conversations() *mongo.Collection { return s.db.Collection(collConversations) }
func (s *MongoStore) messages() *mongo.Collection      { return s.db.Collection(collMessages) }
func (s *MongoStore) checkpoints() *mongo.Collection   { return s.db.Collection(collCheckpoints) }
func (s *MongoStore) legacyChats() *mongo.Collection   { return s.db.Collection(collLegacyChats) }

func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

var _ registrystore.MessageStore = (*MongoStore)(nil)
