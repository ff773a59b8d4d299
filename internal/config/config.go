package config

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// ListenerConfig holds the network/TLS settings for a single listener (main or management).
type ListenerConfig struct {
	Port              int
	EnablePlainText   bool
	EnableTLS         bool
	TLSCertFile       string
	TLSKeyFile        string
	ReadHeaderTimeout time.Duration
}

type contextKey struct{}

// WithContext returns a new context carrying the given Config.
func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, contextKey{}, cfg)
}

// FromContext retrieves the Config from the context.
func FromContext(ctx context.Context) *Config {
	cfg, _ := ctx.Value(contextKey{}).(*Config)
	return cfg
}

const (
	ModeProd    = "prod"
	ModeTesting = "testing"
)

// Config holds all configuration for the messaging service.
type Config struct {
	// Mode controls security behavior: "prod" (default) or "testing".
	// In testing mode the socket upgrader accepts any Origin.
	Mode string

	// LogLevel is one of debug, info, warn, error.
	LogLevel string

	// Database
	DBURL  string
	DBName string

	// Datastore backend type: "mongo", "postgres" or "sqlite".
	DatastoreType string

	// Run datastore migrations on startup.
	DatastoreMigrateAtStart bool

	// DB pool
	DBMaxOpenConns int
	DBMaxIdleConns int

	// Profile cache backend type: "none", "local" or "redis".
	CacheType string
	RedisURL  string

	// ProfileCacheTTL bounds how stale a cached name or picture may be.
	ProfileCacheTTL      time.Duration
	LocalCacheMaxEntries int64

	// Messaging
	PageSize         int
	PresenceInterval time.Duration
	// StoreTimeout bounds store calls made on behalf of socket events, which
	// are not tied to the lifetime of the connection that issued them.
	StoreTimeout     time.Duration
	SocketSendBuffer int
	MaxSocketMessage int64

	// Message events: "none" or "kafka".
	EventsType   string
	KafkaBrokers string
	KafkaTopic   string

	// OIDC
	OIDCIssuer       string
	OIDCDiscoveryURL string // Internal URL for OIDC discovery (when issuer URL is not reachable)

	// JWTSecret enables HS256 bearer tokens issued by the account service.
	JWTSecret string

	// MetricsLabels is a comma-separated list of key=value pairs added as
	// constant labels to all Prometheus metrics. Values support ${VAR} expansion.
	// Defaults to "service=messaging-service".
	MetricsLabels string

	// Server
	Listener           ListenerConfig
	ManagementListener ListenerConfig
	// ManagementListenerEnabled is true when --management-port (or MESSAGING_SERVICE_MANAGEMENT_PORT)
	// was explicitly provided. When false, management endpoints are served on the main port.
	ManagementListenerEnabled bool
	// ManagementAccessLog enables HTTP access logging for management endpoints (/health, /ready, /metrics).
	ManagementAccessLog bool
	CORSEnabled         bool
	CORSOrigins         string

	// Body size limit (bytes)
	MaxBodySize int64

	// Graceful shutdown drain timeout (seconds)
	DrainTimeout int

	// Legacy chat migration
	LegacyBatchSize int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Mode:                    ModeProd,
		LogLevel:                "info",
		DBName:                  "pulsespace",
		DatastoreType:           "mongo",
		DatastoreMigrateAtStart: true,
		DBMaxOpenConns:          25,
		DBMaxIdleConns:          5,
		CacheType:               "local",
		ProfileCacheTTL:         5 * time.Minute,
		LocalCacheMaxEntries:    100_000,
		PageSize:                10,
		PresenceInterval:        10 * time.Second,
		StoreTimeout:            10 * time.Second,
		SocketSendBuffer:        256,
		MaxSocketMessage:        512 * 1024,
		EventsType:              "none",
		KafkaTopic:              "messages",
		MetricsLabels:           "service=messaging-service",
		Listener: ListenerConfig{
			Port:              8080,
			EnablePlainText:   true,
			EnableTLS:         true,
			ReadHeaderTimeout: 5 * time.Second,
		},
		ManagementListener: ListenerConfig{
			EnablePlainText: true,
			EnableTLS:       true,
		},
		MaxBodySize:     1024 * 1024,
		DrainTimeout:    30,
		LegacyBatchSize: 100,
	}
}

// Validate checks the settings that have no safe fallback.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeProd, ModeTesting:
	default:
		return fmt.Errorf("invalid mode %q: expected %q or %q", c.Mode, ModeProd, ModeTesting)
	}
	if c.PageSize <= 0 {
		return fmt.Errorf("page size must be positive, got %d", c.PageSize)
	}
	if c.PresenceInterval <= 0 {
		return fmt.Errorf("presence interval must be positive, got %s", c.PresenceInterval)
	}
	if c.EventsType == "kafka" && len(c.KafkaBrokerList()) == 0 {
		return fmt.Errorf("kafka events require at least one broker")
	}
	return nil
}

// KafkaBrokerList splits KafkaBrokers on commas, dropping blanks.
func (c *Config) KafkaBrokerList() []string {
	return splitCSV(c.KafkaBrokers)
}

// CORSOriginList splits CORSOrigins on commas, dropping blanks.
func (c *Config) CORSOriginList() []string {
	return splitCSV(c.CORSOrigins)
}

func splitCSV(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if v := strings.TrimSpace(part); v != "" {
			out = append(out, v)
		}
	}
	return out
}
