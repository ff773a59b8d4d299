// Package sqlstore implements the message store on GORM, for PostgreSQL and SQLite.
package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/messaging-service/internal/config"
	registrymigrate "github.com/chirino/messaging-service/internal/registry/migrate"
	registrystore "github.com/chirino/messaging-service/internal/registry/store"
	"github.com/chirino/messaging-service/internal/security"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	KindPostgres = "postgres"
	KindSQLite   = "sqlite"
)

func init() {
	for _, kind := range []string{KindPostgres, KindSQLite} {
		kind := kind
		registrystore.Register(registrystore.Plugin{
			Name: kind,
			Loader: func(ctx context.Context) (registrystore.MessageStore, error) {
				return Open(ctx, kind, config.FromContext(ctx))
			},
		})
	}
	registrymigrate.Register(registrymigrate.Plugin{Order: 100, Migrator: &sqlMigrator{}})
}

// ForceImport is a no-op variable that can be referenced to ensure this package's init() runs.
var ForceImport = 0

// Store implements MessageStore using GORM.
type Store struct {
	db   *gorm.DB
	kind string
}

func dialector(kind, dsn string) (gorm.Dialector, error) {
	switch kind {
	case KindPostgres:
		return postgres.Open(dsn), nil
	case KindSQLite:
		return sqlite.Open(dsn), nil
	}
	return nil, fmt.Errorf("unsupported sql store kind %q", kind)
}

func openDB(kind, dsn string) (*gorm.DB, error) {
	d, err := dialector(kind, dsn)
	if err != nil {
		return nil, err
	}
	return gorm.Open(d, &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
}

// Open connects to the database described by cfg.DBURL.
func Open(ctx context.Context, kind string, cfg *config.Config) (*Store, error) {
	db, err := openDB(kind, cfg.DBURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", kind, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying db: %w", err)
	}

	store := &Store{db: db, kind: kind}
	if kind == KindSQLite {
		// SQLite allows one writer; in-memory databases also vanish with their
		// last connection, so the schema is created on this pool.
		sqlDB.SetMaxOpenConns(1)
		if err := store.AutoMigrate(ctx); err != nil {
			return nil, err
		}
		return store, nil
	}

	sqlDB.SetMaxOpenConns(cfg.DBMaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.DBMaxIdleConns)
	if security.DBPoolMaxConnections != nil {
		security.DBPoolMaxConnections.Set(float64(cfg.DBMaxOpenConns))
	}

	// Periodically update the open connections gauge.
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if security.DBPoolOpenConnections != nil {
					security.DBPoolOpenConnections.Set(float64(sqlDB.Stats().OpenConnections))
				}
			}
		}
	}()
	return store, nil
}

// AutoMigrate creates or updates the tables and indexes.
func (s *Store) AutoMigrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(allRows...); err != nil {
		return fmt.Errorf("migration: failed to migrate %s schema: %w", s.kind, err)
	}
	return nil
}

func (s *Store) Close(context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

type sqlMigrator struct{}

func (m *sqlMigrator) Name() string { return "sql-schema" }
func (m *sqlMigrator) Migrate(ctx context.Context) error {
	cfg := config.FromContext(ctx)
	if cfg == nil || !cfg.DatastoreMigrateAtStart {
		return nil
	}
	if cfg.DatastoreType != KindPostgres && cfg.DatastoreType != KindSQLite {
		return nil
	}
	log.Info("Running migration", "name", m.Name(), "kind", cfg.DatastoreType)
	db, err := openDB(cfg.DatastoreType, cfg.DBURL)
	if err != nil {
		return fmt.Errorf("migration: failed to connect: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	store := &Store{db: db, kind: cfg.DatastoreType}
	if err := store.AutoMigrate(ctx); err != nil {
		return err
	}
	log.Info("SQL schema migration complete", "kind", cfg.DatastoreType)
	return nil
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

var _ registrystore.MessageStore = (*Store)(nil)

// Truncate removes every row from the store's tables.
func (s *Store) Truncate(ctx context.Context) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, row := range allRows {
			if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(row).Error; err != nil {
				return err
			}
		}
		return nil
	})
}
