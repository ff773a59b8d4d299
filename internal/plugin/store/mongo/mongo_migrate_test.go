package mongo

import (
	"context"
	"testing"

	"github.com/chirino/messaging-service/internal/config"
	"github.com/stretchr/testify/require"
)

func TestMongoMigrator_SkipsWithoutConfig(t *testing.T) {
	require.NoError(t, (&mongoMigrator{}).Migrate(context.Background()))
}

func TestMongoMigrator_SkipsOtherDatastores(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.DatastoreType = "sqlite"
	cfg.DatastoreMigrateAtStart = true
	require.NoError(t, (&mongoMigrator{}).Migrate(config.WithContext(context.Background(), &cfg)))
}
