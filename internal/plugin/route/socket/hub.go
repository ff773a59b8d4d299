// Package socket serves the real-time chat protocol over WebSockets.
package socket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/messaging-service/internal/config"
	"github.com/chirino/messaging-service/internal/security"
	"github.com/chirino/messaging-service/internal/service"
	"github.com/chirino/messaging-service/internal/sessions"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

var (
	errSessionGone = errors.New("session is not connected")
	errBufferFull  = errors.New("session send buffer is full")
)

// Options tune per-session behaviour.
type Options struct {
	PresenceInterval time.Duration
	StoreTimeout     time.Duration
	SendBuffer       int
	MaxMessageSize   int64
	// AllowedOrigins restricts browser origins; empty allows any.
	AllowedOrigins []string
}

// OptionsFromConfig reads the socket settings from cfg.
func OptionsFromConfig(cfg *config.Config) Options {
	opts := Options{
		PresenceInterval: cfg.PresenceInterval,
		StoreTimeout:     cfg.StoreTimeout,
		SendBuffer:       cfg.SocketSendBuffer,
		MaxMessageSize:   cfg.MaxSocketMessage,
	}
	if cfg.CORSEnabled && cfg.Mode != config.ModeTesting {
		opts.AllowedOrigins = cfg.CORSOriginList()
	}
	return opts
}

// Hub owns the live sessions of this process and implements
// service.Notifier for them.
type Hub struct {
	registry *sessions.Registry
	opts     Options
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]*client
	closed  bool
}

func NewHub(registry *sessions.Registry, opts Options) *Hub {
	if opts.PresenceInterval <= 0 {
		opts.PresenceInterval = 10 * time.Second
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 10 * time.Second
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 256
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = 512 * 1024
	}
	h := &Hub{
		registry: registry,
		opts:     opts,
		clients:  map[string]*client{},
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	if len(h.opts.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.opts.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// Deliver queues a newTextReceived frame on the session. It never blocks.
func (h *Hub) Deliver(_ context.Context, sessionID string, push service.Push) error {
	h.mu.RLock()
	c := h.clients[sessionID]
	h.mu.RUnlock()
	if c == nil {
		return errSessionGone
	}
	frame, err := encode(EventNewTextReceived, push)
	if err != nil {
		return fmt.Errorf("failed to encode push: %w", err)
	}
	if !c.enqueue(frame) {
		return errBufferFull
	}
	return nil
}

// Sessions returns the number of open connections.
func (h *Hub) Sessions() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every session and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}

// Handler upgrades authenticated requests to a WebSocket session bound to svc.
func (h *Hub) Handler(svc *service.MessageService) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := security.GetUserID(c)
		conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Warn("WebSocket upgrade failed", "err", err)
			return
		}
		cl := &client{
			hub:       h,
			svc:       svc,
			conn:      conn,
			sessionID: uuid.NewString(),
			userID:    userID,
			send:      make(chan []byte, h.opts.SendBuffer),
			done:      make(chan struct{}),
			joined:    make(chan struct{}),
		}
		if !h.add(cl) {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
				time.Now().Add(writeWait))
			_ = conn.Close()
			return
		}
		log.Debug("Socket connected", "sessionId", cl.sessionID, "userId", userID)
		go cl.writePump()
		cl.readPump()
	}
}

func (h *Hub) add(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c.sessionID] = c
	return true
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	delete(h.clients, c.sessionID)
	h.mu.Unlock()

	if userID, ok := h.registry.Leave(c.sessionID); ok {
		log.Debug("Socket left", "sessionId", c.sessionID, "userId", userID)
	}
	security.SetActiveSessions(h.registry.Len())
}

// MountRoutes mounts the socket endpoint at /api/socket.
func MountRoutes(r gin.IRouter, hub *Hub, svc *service.MessageService, auth gin.HandlerFunc) {
	r.GET("/api/socket", auth, hub.Handler(svc))
}

var _ service.Notifier = (*Hub)(nil)
