package serve

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/messaging-service/internal/config"
	registrycache "github.com/chirino/messaging-service/internal/registry/cache"
	registryevents "github.com/chirino/messaging-service/internal/registry/events"
	registrystore "github.com/chirino/messaging-service/internal/registry/store"
	"github.com/chirino/messaging-service/internal/security"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/urfave/cli/v3"

	// Import all plugins to trigger init() registration
	_ "github.com/chirino/messaging-service/internal/plugin/cache/local"
	_ "github.com/chirino/messaging-service/internal/plugin/cache/noop"
	_ "github.com/chirino/messaging-service/internal/plugin/cache/redis"
	_ "github.com/chirino/messaging-service/internal/plugin/events/kafka"
	_ "github.com/chirino/messaging-service/internal/plugin/events/noop"
	_ "github.com/chirino/messaging-service/internal/plugin/route/system"
	_ "github.com/chirino/messaging-service/internal/plugin/store/mongo"
	_ "github.com/chirino/messaging-service/internal/plugin/store/sqlstore"
)

// Command returns the serve sub-command.
func Command() *cli.Command {
	cfg := config.DefaultConfig()
	var readHeaderTimeoutSecs int = 5
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the messaging service HTTP and socket server",
		Flags: flags(&cfg, &readHeaderTimeoutSecs),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if err := security.SetLogLevel(cfg.LogLevel); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			cfg.Listener.ReadHeaderTimeout = time.Duration(readHeaderTimeoutSecs) * time.Second
			cfg.ManagementListener.ReadHeaderTimeout = cfg.Listener.ReadHeaderTimeout
			cfg.ManagementListenerEnabled = cmd.IsSet("management-port")
			return run(config.WithContext(ctx, &cfg), cfg)
		},
	}
}

func flags(cfg *config.Config, readHeaderTimeoutSecs *int) []cli.Flag {
	return []cli.Flag{
		// ── Server ──────────────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "mode",
			Category:    "Server:",
			Sources:     cli.EnvVars("MESSAGING_SERVICE_MODE"),
			Destination: &cfg.Mode,
			Value:       cfg.Mode,
			Usage:       "Security mode (prod|testing); testing accepts any socket Origin",
		},
		&cli.StringFlag{
			Name:        "log-level",
			Category:    "Server:",
			Sources:     cli.EnvVars("MESSAGING_SERVICE_LOG_LEVEL"),
			Destination: &cfg.LogLevel,
			Value:       cfg.LogLevel,
			Usage:       "Log level (debug|info|warn|error)",
		},
		&cli.StringFlag{
			Name:        "tls-cert-file",
			Category:    "Server:",
			Sources:     cli.EnvVars("MESSAGING_SERVICE_TLS_CERT_FILE"),
			Destination: &cfg.Listener.TLSCertFile,
			Usage:       "TLS certificate file for single-port TLS mode",
		},
		&cli.StringFlag{
			Name:        "tls-key-file",
			Category:    "Server:",
			Sources:     cli.EnvVars("MESSAGING_SERVICE_TLS_KEY_FILE"),
			Destination: &cfg.Listener.TLSKeyFile,
			Usage:       "TLS private key file for single-port TLS mode",
		},
		&cli.IntFlag{
			Name:        "read-header-timeout-seconds",
			Category:    "Server:",
			Sources:     cli.EnvVars("MESSAGING_SERVICE_READ_HEADER_TIMEOUT_SECONDS"),
			Destination: readHeaderTimeoutSecs,
			Value:       *readHeaderTimeoutSecs,
			Usage:       "HTTP read header timeout in seconds",
		},
		&cli.BoolFlag{
			Name:        "management-access-log",
			Category:    "Server:",
			Sources:     cli.EnvVars("MESSAGING_SERVICE_MANAGEMENT_ACCESS_LOG"),
			Destination: &cfg.ManagementAccessLog,
			Usage:       "Enable HTTP access logging for management endpoints (/health, /ready, /metrics)",
		},
		&cli.Int64Flag{
			Name:        "max-body-size",
			Category:    "Server:",
			Sources:     cli.EnvVars("MESSAGING_SERVICE_MAX_BODY_SIZE"),
			Destination: &cfg.MaxBodySize,
			Value:       cfg.MaxBodySize,
			Usage:       "Maximum HTTP request body size in bytes",
		},
		&cli.IntFlag{
			Name:        "drain-timeout",
			Category:    "Server:",
			Sources:     cli.EnvVars("MESSAGING_SERVICE_DRAIN_TIMEOUT"),
			Destination: &cfg.DrainTimeout,
			Value:       cfg.DrainTimeout,
			Usage:       "Graceful shutdown drain timeout in seconds",
		},

		// ── Network Listener ────────────────────────────────────────────
		&cli.IntFlag{
			Name:        "port",
			Category:    "Network Listener:",
			Sources:     cli.EnvVars("MESSAGING_SERVICE_PORT"),
			Destination: &cfg.Listener.Port,
			Value:       cfg.Listener.Port,
			Usage:       "HTTP server port",
		},
		&cli.BoolFlag{
			Name:        "plain-text",
			Category:    "Network Listener:",
			Sources:     cli.EnvVars("MESSAGING_SERVICE_PLAIN_TEXT"),
			Destination: &cfg.Listener.EnablePlainText,
			Value:       cfg.Listener.EnablePlainText,
			Usage:       "Enable plaintext HTTP/1.1 + h2c",
		},
		&cli.BoolFlag{
			Name:        "tls",
			Category:    "Network Listener:",
			Sources:     cli.EnvVars("MESSAGING_SERVICE_TLS"),
			Destination: &cfg.Listener.EnableTLS,
			Value:       cfg.Listener.EnableTLS,
			Usage:       "Enable TLS HTTP/1.1 + HTTP/2",
		},

		// ── Management Network Listener ─────────────────────────────────
		&cli.IntFlag{
			Name:        "management-port",
			Category:    "Management Network Listener:",
			Sources:     cli.EnvVars("MESSAGING_SERVICE_MANAGEMENT_PORT"),
			Destination: &cfg.ManagementListener.Port,
			Value:       cfg.ManagementListener.Port,
			Usage:       "Dedicated port for health and metrics (0 = OS-assigned random port); when unset, served on the main port",
		},
		&cli.BoolFlag{
			Name:        "management-plain-text",
			Category:    "Management Network Listener:",
			Sources:     cli.EnvVars("MESSAGING_SERVICE_MANAGEMENT_PLAIN_TEXT"),
			Destination: &cfg.ManagementListener.EnablePlainText,
			Value:       cfg.ManagementListener.EnablePlainText,
			Usage:       "Enable plaintext HTTP for management server",
		},
		&cli.BoolFlag{
			Name:        "management-tls",
			Category:    "Management Network Listener:",
			Sources:     cli.EnvVars("MESSAGING_SERVICE_MANAGEMENT_TLS"),
			Destination: &cfg.ManagementListener.EnableTLS,
			Value:       cfg.ManagementListener.EnableTLS,
			Usage:       "Enable TLS for management server",
		},

		// ── Database ────────────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "db-kind",
			Category:    "Database:",
			Sources:     cli.EnvVars("MESSAGING_SERVICE_DB_KIND"),
			Destination: &cfg.DatastoreType,
			Value:       cfg.DatastoreType,
			Usage:       "Backend store (" + strings.Join(registrystore.Names(), "|") + ")",
		},
		&cli.StringFlag{
			Name:        "db-url",
			Category:    "Database:",
			Sources:     cli.EnvVars("MESSAGING_SERVICE_DB_URL"),
			Destination: &cfg.DBURL,
			Usage:       "Database connection URL",
			Required:    true,
		},
		&cli.StringFlag{
			Name:        "db-name",
			Category:    "Database:",
			Sources:     cli.EnvVars("MESSAGING_SERVICE_DB_NAME"),
			Destination: &cfg.DBName,
			Value:       cfg.DBName,
			Usage:       "Database name (mongo)",
		},
		&cli.IntFlag{
			Name:        "db-max-open-conns",
			Category:    "Database:",
			Sources:     cli.EnvVars("MESSAGING_SERVICE_DB_MAX_OPEN_CONNS"),
			Destination: &cfg.DBMaxOpenConns,
			Value:       cfg.DBMaxOpenConns,
			Usage:       "Maximum number of open database connections",
		},
		&cli.IntFlag{
			Name:        "db-max-idle-conns",
			Category:    "Database:",
			Sources:     cli.EnvVars("MESSAGING_SERVICE_DB_MAX_IDLE_CONNS"),
			Destination: &cfg.DBMaxIdleConns,
			Value:       cfg.DBMaxIdleConns,
			Usage:       "Maximum number of idle database connections",
		},
		&cli.BoolFlag{
			Name:        "db-migrate-at-start",
			Category:    "Database:",
			Sources:     cli.EnvVars("MESSAGING_SERVICE_DB_MIGRATE_AT_START"),
			Destination: &cfg.DatastoreMigrateAtStart,
			Value:       cfg.DatastoreMigrateAtStart,
			Usage:       "Create collections, tables and indexes on startup",
		},

		// ── Cache ───────────────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "cache-kind",
			Category:    "Cache:",
			Sources:     cli.EnvVars("MESSAGING_SERVICE_CACHE_KIND"),
			Destination: &cfg.CacheType,
			Value:       cfg.CacheType,
			Usage:       "Profile cache backend (" + strings.Join(registrycache.Names(), "|") + ")",
		},
		&cli.StringFlag{
			Name:        "redis-url",
			Category:    "Cache:",
			Sources:     cli.EnvVars("MESSAGING_SERVICE_REDIS_URL"),
			Destination: &cfg.RedisURL,
			Usage:       "Redis connection URL",
		},
		&cli.DurationFlag{
			Name:        "profile-cache-ttl",
			Category:    "Cache:",
			Sources:     cli.EnvVars("MESSAGING_SERVICE_PROFILE_CACHE_TTL"),
			Destination: &cfg.ProfileCacheTTL,
			Value:       cfg.ProfileCacheTTL,
			Usage:       "How long cached names and pictures are served",
		},
		&cli.Int64Flag{
			Name:        "local-cache-max-entries",
			Category:    "Cache:",
			Sources:     cli.EnvVars("MESSAGING_SERVICE_LOCAL_CACHE_MAX_ENTRIES"),
			Destination: &cfg.LocalCacheMaxEntries,
			Value:       cfg.LocalCacheMaxEntries,
			Usage:       "Maximum profiles held by the local cache",
		},

		// ── Messaging ───────────────────────────────────────────────────
		&cli.IntFlag{
			Name:        "page-size",
			Category:    "Messaging:",
			Sources:     cli.EnvVars("MESSAGING_SERVICE_PAGE_SIZE"),
			Destination: &cfg.PageSize,
			Value:       cfg.PageSize,
			Usage:       "Messages per history page",
		},
		&cli.DurationFlag{
			Name:        "presence-interval",
			Category:    "Messaging:",
			Sources:     cli.EnvVars("MESSAGING_SERVICE_PRESENCE_INTERVAL"),
			Destination: &cfg.PresenceInterval,
			Value:       cfg.PresenceInterval,
			Usage:       "How often each socket receives the connected users list",
		},
		&cli.DurationFlag{
			Name:        "store-timeout",
			Category:    "Messaging:",
			Sources:     cli.EnvVars("MESSAGING_SERVICE_STORE_TIMEOUT"),
			Destination: &cfg.StoreTimeout,
			Value:       cfg.StoreTimeout,
			Usage:       "Deadline for store calls made by socket events",
		},
		&cli.IntFlag{
			Name:        "socket-send-buffer",
			Category:    "Messaging:",
			Sources:     cli.EnvVars("MESSAGING_SERVICE_SOCKET_SEND_BUFFER"),
			Destination: &cfg.SocketSendBuffer,
			Value:       cfg.SocketSendBuffer,
			Usage:       "Outbound frames queued per socket before it is treated as gone",
		},
		&cli.Int64Flag{
			Name:        "max-socket-message",
			Category:    "Messaging:",
			Sources:     cli.EnvVars("MESSAGING_SERVICE_MAX_SOCKET_MESSAGE"),
			Destination: &cfg.MaxSocketMessage,
			Value:       cfg.MaxSocketMessage,
			Usage:       "Maximum inbound socket frame size in bytes",
		},

		// ── Events ──────────────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "events-kind",
			Category:    "Events:",
			Sources:     cli.EnvVars("MESSAGING_SERVICE_EVENTS_KIND"),
			Destination: &cfg.EventsType,
			Value:       cfg.EventsType,
			Usage:       "Message event publisher (" + strings.Join(registryevents.Names(), "|") + ")",
		},
		&cli.StringFlag{
			Name:        "kafka-brokers",
			Category:    "Events:",
			Sources:     cli.EnvVars("MESSAGING_SERVICE_KAFKA_BROKERS"),
			Destination: &cfg.KafkaBrokers,
			Usage:       "Comma-separated Kafka broker addresses",
		},
		&cli.StringFlag{
			Name:        "kafka-topic",
			Category:    "Events:",
			Sources:     cli.EnvVars("MESSAGING_SERVICE_KAFKA_TOPIC"),
			Destination: &cfg.KafkaTopic,
			Value:       cfg.KafkaTopic,
			Usage:       "Kafka topic for message events",
		},

		// ── Authorization ───────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "oidc-issuer",
			Category:    "Authorization:",
			Sources:     cli.EnvVars("MESSAGING_SERVICE_OIDC_ISSUER"),
			Destination: &cfg.OIDCIssuer,
			Usage:       "OIDC issuer URL",
		},
		&cli.StringFlag{
			Name:        "oidc-discovery-url",
			Category:    "Authorization:",
			Sources:     cli.EnvVars("MESSAGING_SERVICE_OIDC_DISCOVERY_URL"),
			Destination: &cfg.OIDCDiscoveryURL,
			Usage:       "Internal OIDC discovery URL when the issuer is not reachable",
		},
		&cli.StringFlag{
			Name:        "jwt-secret",
			Category:    "Authorization:",
			Sources:     cli.EnvVars("MESSAGING_SERVICE_JWT_SECRET"),
			Destination: &cfg.JWTSecret,
			Usage:       "HMAC secret for HS256 bearer tokens issued by the account service",
		},
		&cli.BoolFlag{
			Name:        "cors-enabled",
			Category:    "Authorization:",
			Sources:     cli.EnvVars("MESSAGING_SERVICE_CORS_ENABLED"),
			Destination: &cfg.CORSEnabled,
			Usage:       "Enable CORS headers and socket Origin checks",
		},
		&cli.StringFlag{
			Name:        "cors-origins",
			Category:    "Authorization:",
			Sources:     cli.EnvVars("MESSAGING_SERVICE_CORS_ORIGINS"),
			Destination: &cfg.CORSOrigins,
			Usage:       "Comma-separated allowed origins; empty allows any",
		},

		// ── Monitoring ──────────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "metrics-labels",
			Category:    "Monitoring:",
			Sources:     cli.EnvVars("MESSAGING_SERVICE_METRICS_LABELS"),
			Destination: &cfg.MetricsLabels,
			Value:       cfg.MetricsLabels,
			Usage:       "Comma-separated key=value pairs added as constant labels to all Prometheus metrics. Supports ${VAR} expansion.",
		},
	}
}

func run(ctx context.Context, cfg config.Config) error {
	srv, err := StartServer(ctx, &cfg)
	if err != nil {
		return err
	}

	<-ctx.Done()
	log.Info("Shutting down...")

	drainCtx, drainCancel := context.WithTimeout(context.Background(), time.Duration(cfg.DrainTimeout)*time.Second)
	defer drainCancel()
	if err := srv.Shutdown(drainCtx); err != nil {
		log.Error("Shutdown error", "err", err)
	}
	log.Info("Server stopped")
	return nil
}

func maxBodySizeMiddleware(maxBodySize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if isStreamingRequest(c.Request) {
			c.Next()
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodySize)
		c.Next()
	}
}

// isStreamingRequest reports socket upgrades, whose frames are bounded by
// the socket read limit instead.
func isStreamingRequest(req *http.Request) bool {
	if req == nil || req.URL == nil {
		return false
	}
	return websocket.IsWebSocketUpgrade(req)
}
