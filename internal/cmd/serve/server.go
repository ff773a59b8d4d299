package serve

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/chirino/messaging-service/internal/config"
	"github.com/chirino/messaging-service/internal/plugin/route/chats"
	"github.com/chirino/messaging-service/internal/plugin/route/socket"
	routesystem "github.com/chirino/messaging-service/internal/plugin/route/system"
	storemetrics "github.com/chirino/messaging-service/internal/plugin/store/metrics"
	registrycache "github.com/chirino/messaging-service/internal/registry/cache"
	registryevents "github.com/chirino/messaging-service/internal/registry/events"
	registrymigrate "github.com/chirino/messaging-service/internal/registry/migrate"
	registryroute "github.com/chirino/messaging-service/internal/registry/route"
	registrystore "github.com/chirino/messaging-service/internal/registry/store"
	"github.com/chirino/messaging-service/internal/security"
	"github.com/chirino/messaging-service/internal/service"
	"github.com/chirino/messaging-service/internal/sessions"
	"github.com/gin-gonic/gin"
)

// Server holds the running server and its subsystems.
type Server struct {
	Config     *config.Config
	Store      registrystore.MessageStore
	Service    *service.MessageService
	Hub        *socket.Hub
	Router     *gin.Engine
	Running    *RunningServer
	Management *RunningServer
	publisher  registryevents.Publisher
}

// Shutdown closes live sockets first, then drains both listeners and
// releases the publisher and store.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Hub.Close()
	if s.Management != nil {
		_ = s.Management.Close(ctx)
	}
	err := s.Running.Close(ctx)
	if s.publisher != nil {
		if perr := s.publisher.Close(); perr != nil {
			log.Warn("Failed to close event publisher", "err", perr)
		}
	}
	if serr := s.Store.Close(ctx); serr != nil && err == nil {
		err = serr
	}
	return err
}

// StartServer initializes all subsystems and starts the HTTP listener.
// Use cfg.Listener.Port=0 for a random port. Actual port: Server.Running.Port.
func StartServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	if config.FromContext(ctx) == nil {
		ctx = config.WithContext(ctx, cfg)
	}
	log.Info("Starting messaging service",
		"httpPort", cfg.Listener.Port,
		"db", cfg.DatastoreType,
		"cache", cfg.CacheType,
		"events", cfg.EventsType,
	)

	// Initialize Prometheus metrics with configured constant labels.
	metricsLabels, err := security.ParseMetricsLabels(cfg.MetricsLabels)
	if err != nil {
		return nil, fmt.Errorf("invalid --metrics-labels: %w", err)
	}
	security.InitMetrics(metricsLabels)

	if err := registrymigrate.RunAll(ctx); err != nil {
		return nil, fmt.Errorf("migrations failed: %w", err)
	}

	// The profile cache is optional; the service reads through to the store
	// when it is missing.
	var profileCache registrycache.ProfileCache
	if cacheLoader, err := registrycache.Select(cfg.CacheType); err != nil {
		log.Warn("Cache not available", "cache", cfg.CacheType, "err", err)
	} else if profileCache, err = cacheLoader(ctx); err != nil {
		log.Warn("Failed to initialize cache", "cache", cfg.CacheType, "err", err)
		profileCache = nil
	}

	storeLoader, err := registrystore.Select(cfg.DatastoreType)
	if err != nil {
		return nil, err
	}
	store, err := storeLoader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	store = storemetrics.Wrap(store)

	publisherLoader, err := registryevents.Select(cfg.EventsType)
	if err != nil {
		_ = store.Close(ctx)
		return nil, err
	}
	publisher, err := publisherLoader(ctx)
	if err != nil {
		_ = store.Close(ctx)
		return nil, fmt.Errorf("failed to initialize event publisher: %w", err)
	}

	registry := sessions.NewRegistry()
	hub := socket.NewHub(registry, socket.OptionsFromConfig(cfg))
	opts := []service.Option{
		service.WithPageSize(cfg.PageSize),
		service.WithPublisher(publisher),
	}
	if profileCache != nil {
		opts = append(opts, service.WithProfileCache(profileCache, cfg.ProfileCacheTTL))
	}
	svc := service.NewMessageService(store, registry, hub, opts...)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.ManagementAccessLog {
		router.Use(security.AccessLogMiddleware())
	} else {
		router.Use(security.AccessLogMiddleware("/health", "/ready", "/metrics"))
	}
	router.Use(security.MetricsMiddleware())
	router.Use(maxBodySizeMiddleware(cfg.MaxBodySize))
	if cfg.CORSEnabled {
		router.Use(corsMiddleware(cfg.CORSOriginList()))
	}

	for _, p := range registryroute.MainRoutes() {
		if err := p.Loader(router); err != nil {
			return nil, fmt.Errorf("failed to load %s routes: %w", p.Name, err)
		}
	}

	resolver := security.NewTokenResolver(cfg)
	auth := security.AuthMiddleware(resolver)

	chats.MountRoutes(router, svc, auth)
	socket.MountRoutes(router, hub, svc, auth)

	// Management routes get their own bare engine when a dedicated port is
	// configured; otherwise they share the main router.
	var management *RunningServer
	if cfg.ManagementListenerEnabled {
		mgmtRouter := gin.New()
		mgmtRouter.Use(gin.Recovery())
		if cfg.ManagementAccessLog {
			mgmtRouter.Use(security.AccessLogMiddleware())
		}
		for _, p := range registryroute.ManagementRoutes() {
			if err := p.Loader(mgmtRouter); err != nil {
				return nil, fmt.Errorf("failed to load %s management routes: %w", p.Name, err)
			}
		}
		// Management listener shares TLS cert/key with the main listener.
		mgmtCfg := cfg.ManagementListener
		mgmtCfg.TLSCertFile = cfg.Listener.TLSCertFile
		mgmtCfg.TLSKeyFile = cfg.Listener.TLSKeyFile
		management, err = startListener("management", mgmtCfg, mgmtRouter)
		if err != nil {
			return nil, fmt.Errorf("failed to start management server: %w", err)
		}
		log.Info("Management server listening", "port", management.Port)
	} else {
		for _, p := range registryroute.ManagementRoutes() {
			if err := p.Loader(router); err != nil {
				return nil, fmt.Errorf("failed to load %s management routes: %w", p.Name, err)
			}
		}
	}

	running, err := startListener("main", cfg.Listener, router)
	if err != nil {
		if management != nil {
			_ = management.Close(ctx)
		}
		return nil, err
	}

	log.Info("Server listening",
		"port", running.Port,
		"plaintext", cfg.Listener.EnablePlainText,
		"tls", cfg.Listener.EnableTLS,
	)

	routesystem.MarkReady()
	return &Server{
		Config:     cfg,
		Store:      store,
		Service:    svc,
		Hub:        hub,
		Router:     router,
		Running:    running,
		Management: management,
		publisher:  publisher,
	}, nil
}
