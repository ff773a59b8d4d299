package legacy

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/chirino/messaging-service/internal/config"
	"github.com/chirino/messaging-service/internal/legacy"
	registrymigrate "github.com/chirino/messaging-service/internal/registry/migrate"
	registrystore "github.com/chirino/messaging-service/internal/registry/store"
	"github.com/chirino/messaging-service/internal/security"
	"github.com/urfave/cli/v3"

	_ "github.com/chirino/messaging-service/internal/plugin/store/mongo"
	_ "github.com/chirino/messaging-service/internal/plugin/store/sqlstore"
)

// Command returns the migrate-legacy-chats sub-command.
func Command() *cli.Command {
	var cfg = config.DefaultConfig()
	var restart bool
	return &cli.Command{
		Name:  "migrate-legacy-chats",
		Usage: "Copy legacy per-user chat arrays into conversations and messages",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "db-url",
				Sources:     cli.EnvVars("MESSAGING_SERVICE_DB_URL"),
				Usage:       "Database connection URL",
				Required:    true,
				Destination: &cfg.DBURL,
			},
			&cli.StringFlag{
				Name:        "db-kind",
				Sources:     cli.EnvVars("MESSAGING_SERVICE_DB_KIND"),
				Usage:       "Store backend (" + fmt.Sprint(registrystore.Names()) + ")",
				Value:       cfg.DatastoreType,
				Destination: &cfg.DatastoreType,
			},
			&cli.StringFlag{
				Name:        "db-name",
				Sources:     cli.EnvVars("MESSAGING_SERVICE_DB_NAME"),
				Usage:       "Database name (mongo)",
				Value:       cfg.DBName,
				Destination: &cfg.DBName,
			},
			&cli.IntFlag{
				Name:        "batch-size",
				Sources:     cli.EnvVars("MESSAGING_SERVICE_LEGACY_BATCH_SIZE"),
				Usage:       "Legacy users read per batch",
				Value:       cfg.LegacyBatchSize,
				Destination: &cfg.LegacyBatchSize,
			},
			&cli.BoolFlag{
				Name:        "restart",
				Usage:       "Discard the saved checkpoint and start from the first user",
				Destination: &restart,
			},
			&cli.StringFlag{
				Name:        "log-level",
				Sources:     cli.EnvVars("MESSAGING_SERVICE_LOG_LEVEL"),
				Usage:       "Log level (debug|info|warn|error)",
				Value:       "info",
				Destination: &cfg.LogLevel,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if err := security.SetLogLevel(cfg.LogLevel); err != nil {
				return err
			}
			ctx = config.WithContext(ctx, &cfg)

			if err := registrymigrate.RunAll(ctx); err != nil {
				return err
			}
			loader, err := registrystore.Select(cfg.DatastoreType)
			if err != nil {
				return err
			}
			store, err := loader(ctx)
			if err != nil {
				return fmt.Errorf("failed to open store: %w", err)
			}
			defer store.Close(context.Background())

			report, err := legacy.NewMigrator(store, legacy.WithBatchSize(cfg.LegacyBatchSize)).Run(ctx, restart)
			if err != nil {
				return err
			}
			if !report.AlreadyDone {
				log.Info("Legacy chats migrated", "users", report.Users, "conversations", report.Conversations, "messages", report.Messages, "skipped", report.Skipped)
			}
			return nil
		},
	}
}
