package legacy_test

import (
	"context"
	"testing"
	"time"

	cmdlegacy "github.com/chirino/messaging-service/internal/cmd/legacy"
	"github.com/chirino/messaging-service/internal/config"
	"github.com/chirino/messaging-service/internal/legacy"
	"github.com/chirino/messaging-service/internal/model"
	"github.com/chirino/messaging-service/internal/plugin/store/sqlstore"
	"github.com/chirino/messaging-service/internal/testutil/testsqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v3"
)

func TestCommandMigratesAndCheckpoints(t *testing.T) {
	ctx := context.Background()
	dsn := testsqlite.DSN(t)
	cfg := config.DefaultConfig()
	cfg.DBURL = dsn
	// Keeps the shared in-memory database alive across the command run.
	store, err := sqlstore.Open(ctx, sqlstore.KindSQLite, &cfg)
	require.NoError(t, err)
	defer store.Close(ctx)

	require.NoError(t, store.PutLegacyUser(ctx, model.LegacyUser{UserID: "alice", Chats: []model.LegacyChat{{
		TextsWith: "bob",
		Texts: []model.LegacyText{
			{Sender: "alice", Receiver: "bob", Text: "hi", Date: time.Date(2023, 2, 1, 0, 0, 0, 0, time.UTC)},
		},
	}}}))

	app := &cli.Command{Name: "messaging-service", Commands: []*cli.Command{cmdlegacy.Command()}}
	args := []string{"messaging-service", "migrate-legacy-chats", "--db-url", dsn, "--db-kind", "sqlite", "--batch-size", "10"}
	require.NoError(t, app.Run(ctx, args))

	conv, err := store.FindConversation(ctx, model.PairKey("alice", "bob"))
	require.NoError(t, err)
	assert.Equal(t, "hi", conv.LastMessage.Text)

	cp, err := store.GetCheckpoint(ctx, legacy.CheckpointName)
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.True(t, cp.Done)

	app = &cli.Command{Name: "messaging-service", Commands: []*cli.Command{cmdlegacy.Command()}}
	require.NoError(t, app.Run(ctx, append(args, "--restart")))
	count, err := store.CountMessages(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}
