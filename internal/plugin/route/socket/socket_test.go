package socket_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/chirino/messaging-service/internal/config"
	"github.com/chirino/messaging-service/internal/model"
	"github.com/chirino/messaging-service/internal/plugin/route/socket"
	"github.com/chirino/messaging-service/internal/plugin/store/sqlstore"
	"github.com/chirino/messaging-service/internal/security"
	"github.com/chirino/messaging-service/internal/service"
	"github.com/chirino/messaging-service/internal/sessions"
	"github.com/chirino/messaging-service/internal/testutil/testsqlite"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	server   *httptest.Server
	store    *sqlstore.Store
	registry *sessions.Registry
	hub      *socket.Hub
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWithPresence(t, time.Hour)
}

func newHarnessWithPresence(t *testing.T, interval time.Duration) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.DefaultConfig()
	cfg.DBURL = testsqlite.DSN(t)
	cfg.PresenceInterval = interval
	store, err := sqlstore.Open(context.Background(), sqlstore.KindSQLite, &cfg)
	require.NoError(t, err)
	for _, u := range []model.User{{ID: "alice", Name: "Alice"}, {ID: "bob", Name: "Bob"}} {
		require.NoError(t, store.PutUser(context.Background(), u))
	}

	registry := sessions.NewRegistry()
	hub := socket.NewHub(registry, socket.OptionsFromConfig(&cfg))
	svc := service.NewMessageService(store, registry, hub)

	router := gin.New()
	socket.MountRoutes(router, hub, svc, security.AuthMiddleware(security.NewTokenResolver(&cfg)))
	server := httptest.NewServer(router)

	t.Cleanup(func() {
		hub.Close()
		server.Close()
		_ = store.Close(context.Background())
	})
	return &harness{server: server, store: store, registry: registry, hub: hub}
}

func (h *harness) dial(t *testing.T, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.server.URL, "http") + "/api/socket?access_token=" + token
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func emit(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(socket.Envelope{Event: event, Data: raw}))
}

// await reads frames until one carries event, decoding its data into v.
func await(t *testing.T, conn *websocket.Conn, event string, v any) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var env socket.Envelope
		require.NoError(t, conn.ReadJSON(&env))
		if env.Event == event {
			if v != nil {
				require.NoError(t, json.Unmarshal(env.Data, v))
			}
			return
		}
	}
}

type presence struct {
	Users []sessions.Entry `json:"users"`
}

// join emits join and waits until the registry maps userID to a new session.
// Join is not answered on the socket.
func (h *harness) join(t *testing.T, conn *websocket.Conn, userID string) {
	t.Helper()
	before, _ := h.registry.FindSession(userID)
	emit(t, conn, socket.EventJoin, map[string]string{"userId": userID})
	require.Eventually(t, func() bool {
		current, ok := h.registry.FindSession(userID)
		return ok && current != before
	}, 5*time.Second, 5*time.Millisecond)
}

func TestRejectsMissingToken(t *testing.T) {
	h := newHarness(t)
	url := "ws" + strings.TrimPrefix(h.server.URL, "http") + "/api/socket"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSendToJoinedUserIsPushed(t *testing.T) {
	h := newHarness(t)
	alice := h.dial(t, "alice")
	bob := h.dial(t, "bob")

	h.join(t, alice, "alice")
	h.join(t, bob, "bob")
	others := h.registry.ListActive("bob")
	require.Len(t, others, 1)
	assert.Equal(t, "alice", others[0].UserID)

	emit(t, alice, socket.EventSendNewText, map[string]string{"userId": "alice", "userToTextId": "bob", "text": "hi bob"})

	var sent struct {
		NewText model.Message `json:"newText"`
	}
	await(t, alice, socket.EventTextSent, &sent)
	assert.Equal(t, "hi bob", sent.NewText.Text)
	assert.Equal(t, int64(1), sent.NewText.Seq)

	var push service.Push
	await(t, bob, socket.EventNewTextReceived, &push)
	assert.Equal(t, sent.NewText.ID, push.NewText.ID)
	assert.Equal(t, "Alice", push.UserDetails.Name)

	user, err := h.store.GetUser(context.Background(), "bob")
	require.NoError(t, err)
	assert.False(t, user.UnreadMessage)

	emit(t, bob, socket.EventLoadTexts, map[string]any{"userId": "bob", "textsWith": "alice", "page": 0})
	var page service.PageResult
	await(t, bob, socket.EventTextsLoaded, &page)
	require.NotNil(t, page.Chat)
	require.Len(t, page.Chat.Texts, 1)
	assert.Equal(t, "hi bob", page.Chat.Texts[0].Text)
	assert.False(t, page.Chat.HasMore)
}

func TestLoadTextsWithoutConversationReturnsProfile(t *testing.T) {
	h := newHarness(t)
	alice := h.dial(t, "alice")

	emit(t, alice, socket.EventLoadTexts, map[string]any{"userId": "alice", "textsWith": "bob", "page": 0})
	var page service.PageResult
	await(t, alice, socket.EventTextsLoaded, &page)
	assert.Nil(t, page.Chat)
	require.NotNil(t, page.TextsWithDetails)
	assert.Equal(t, "Bob", page.TextsWithDetails.Name)
}

func TestEventsForAnotherUserAreIgnored(t *testing.T) {
	h := newHarness(t)
	mallory := h.dial(t, "alice")

	emit(t, mallory, socket.EventSendNewText, map[string]string{"userId": "bob", "userToTextId": "alice", "text": "spoofed"})
	// A later valid event is answered, proving the spoofed one produced nothing.
	emit(t, mallory, socket.EventLoadTexts, map[string]any{"userId": "alice", "textsWith": "bob", "page": 0})

	require.NoError(t, mallory.SetReadDeadline(time.Now().Add(5*time.Second)))
	var env socket.Envelope
	require.NoError(t, mallory.ReadJSON(&env))
	assert.Equal(t, socket.EventTextsLoaded, env.Event)

	_, err := h.store.FindConversation(context.Background(), model.PairKey("alice", "bob"))
	assert.Error(t, err)
}

func TestDisconnectedRecipientIsMarkedUnread(t *testing.T) {
	h := newHarness(t)
	alice := h.dial(t, "alice")
	bob := h.dial(t, "bob")
	h.join(t, alice, "alice")
	h.join(t, bob, "bob")

	require.NoError(t, bob.Close())
	require.Eventually(t, func() bool {
		_, ok := h.registry.FindSession("bob")
		return !ok
	}, 5*time.Second, 10*time.Millisecond)

	emit(t, alice, socket.EventSendNewText, map[string]string{"userId": "alice", "userToTextId": "bob", "text": "you there?"})
	await(t, alice, socket.EventTextSent, nil)

	user, err := h.store.GetUser(context.Background(), "bob")
	require.NoError(t, err)
	assert.True(t, user.UnreadMessage)
}

func TestReplacedSessionDisconnectKeepsNewSession(t *testing.T) {
	h := newHarness(t)
	oldTab := h.dial(t, "bob")
	h.join(t, oldTab, "bob")
	oldSession, ok := h.registry.FindSession("bob")
	require.True(t, ok)

	newTab := h.dial(t, "bob")
	h.join(t, newTab, "bob")
	newSession, ok := h.registry.FindSession("bob")
	require.True(t, ok)
	require.NotEqual(t, oldSession, newSession)

	require.NoError(t, oldTab.Close())
	require.Eventually(t, func() bool { return h.hub.Sessions() == 1 }, 5*time.Second, 10*time.Millisecond)

	current, ok := h.registry.FindSession("bob")
	require.True(t, ok)
	assert.Equal(t, newSession, current)
}

func TestPresenceIsPushedOnIntervalAfterJoin(t *testing.T) {
	const interval = 50 * time.Millisecond
	h := newHarnessWithPresence(t, interval)
	alice := h.dial(t, "alice")
	bob := h.dial(t, "bob")
	lurker := h.dial(t, "bob")

	joinedAt := time.Now()
	h.join(t, alice, "alice")

	require.NoError(t, alice.SetReadDeadline(time.Now().Add(5*time.Second)))
	var env socket.Envelope
	require.NoError(t, alice.ReadJSON(&env))
	require.Equal(t, socket.EventConnectedUsers, env.Event)
	assert.GreaterOrEqual(t, time.Since(joinedAt), interval)

	h.join(t, bob, "bob")
	// Later pushes pick up bob and never list alice herself.
	deadline := time.Now().Add(5 * time.Second)
	for seen := false; !seen; {
		require.True(t, time.Now().Before(deadline), "bob never appeared in alice's presence")
		var p presence
		await(t, alice, socket.EventConnectedUsers, &p)
		for _, e := range p.Users {
			require.NotEqual(t, "alice", e.UserID)
			seen = seen || e.UserID == "bob"
		}
	}

	// A socket that never joins gets no presence frames.
	require.NoError(t, lurker.SetReadDeadline(time.Now().Add(6*interval)))
	var none socket.Envelope
	err := lurker.ReadJSON(&none)
	require.Error(t, err)
	var netErr interface{ Timeout() bool }
	require.ErrorAs(t, err, &netErr)
	assert.True(t, netErr.Timeout())
}
