package socket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/messaging-service/internal/security"
	"github.com/chirino/messaging-service/internal/service"
	"github.com/gorilla/websocket"
)

// client is one WebSocket session. Handlers run on the read goroutine, so
// a session's events are processed in arrival order; all writes go through
// send and the write goroutine.
type client struct {
	hub       *Hub
	svc       *service.MessageService
	conn      *websocket.Conn
	sessionID string
	userID    string

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	// joined is closed on the first successful join; presence pushes start
	// one interval after it.
	joined   chan struct{}
	joinOnce sync.Once
}

func (c *client) enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (c *client) emit(event string, data any) {
	frame, err := encode(event, data)
	if err != nil {
		log.Error("Failed to encode socket frame", "event", event, "err", err)
		return
	}
	if !c.enqueue(frame) {
		log.Warn("Dropping socket frame", "event", event, "sessionId", c.sessionID)
	}
}

// close signals the write goroutine, which sends a close frame and closes
// the connection; that in turn ends the read goroutine.
func (c *client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *client) readPump() {
	defer func() {
		c.hub.remove(c)
		c.close()
		log.Debug("Socket disconnected", "sessionId", c.sessionID, "userId", c.userID)
	}()

	c.conn.SetReadLimit(c.hub.opts.MaxMessageSize)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Warn("Unexpected socket close", "sessionId", c.sessionID, "err", err)
			}
			return
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Warn("Malformed socket frame", "sessionId", c.sessionID, "err", err)
			continue
		}
		c.dispatch(env)
	}
}

func (c *client) writePump() {
	var ticker *time.Ticker
	var tick <-chan time.Time
	joined := c.joined
	defer func() {
		if ticker != nil {
			ticker.Stop()
		}
		c.close()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-joined:
			ticker = time.NewTicker(c.hub.opts.PresenceInterval)
			tick = ticker.C
			joined = nil
		case frame := <-c.send:
			if err := c.write(frame); err != nil {
				log.Debug("Socket write failed", "sessionId", c.sessionID, "err", err)
				return
			}
		case <-tick:
			frame, err := encode(EventConnectedUsers, connectedUsersPayload{Users: c.hub.registry.ListActive(c.userID)})
			if err != nil {
				continue
			}
			if err := c.write(frame); err != nil {
				return
			}
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

func (c *client) write(frame []byte) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}

func (c *client) dispatch(env Envelope) {
	security.RecordSocketEvent(env.Event)
	// Store work outlives the connection so a send that races a disconnect
	// still completes and falls through to the unread path.
	ctx, cancel := context.WithTimeout(context.Background(), c.hub.opts.StoreTimeout)
	defer cancel()

	switch env.Event {
	case EventJoin:
		var req joinRequest
		if !c.decode(env, &req) || !c.owns(env.Event, req.UserID) {
			return
		}
		active := c.hub.registry.Join(c.userID, c.sessionID)
		security.SetActiveSessions(len(active))
		log.Debug("Socket joined", "sessionId", c.sessionID, "userId", c.userID)
		c.joinOnce.Do(func() { close(c.joined) })

	case EventLoadTexts:
		var req loadTextsRequest
		if !c.decode(env, &req) || !c.owns(env.Event, req.UserID) {
			return
		}
		result, err := c.svc.LoadPage(ctx, c.userID, req.TextsWith, req.Page)
		if err != nil {
			log.Warn("loadTexts failed", "userId", c.userID, "textsWith", req.TextsWith, "page", req.Page, "err", err)
			return
		}
		c.emit(EventTextsLoaded, result)

	case EventSendNewText:
		var req sendNewTextRequest
		if !c.decode(env, &req) || !c.owns(env.Event, req.UserID) {
			return
		}
		result, err := c.svc.Send(ctx, c.userID, req.UserToTextID, req.Text)
		if err != nil {
			log.Warn("sendNewText failed", "userId", c.userID, "to", req.UserToTextID, "err", err)
			return
		}
		c.emit(EventTextSent, textSentPayload{NewText: result.Message})

	default:
		log.Debug("Ignoring unknown socket event", "event", env.Event, "sessionId", c.sessionID)
	}
}

func (c *client) decode(env Envelope, v any) bool {
	if len(env.Data) == 0 {
		log.Warn("Socket event without data", "event", env.Event, "sessionId", c.sessionID)
		return false
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		log.Warn("Malformed socket payload", "event", env.Event, "sessionId", c.sessionID, "err", err)
		return false
	}
	return true
}

// owns reports whether a payload's userId matches the authenticated user.
func (c *client) owns(event, userID string) bool {
	if userID != c.userID {
		log.Warn("Ignoring socket event for another user", "event", event, "sessionId", c.sessionID, "claimed", userID, "userId", c.userID)
		return false
	}
	return true
}
