package chats_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/chirino/messaging-service/internal/config"
	"github.com/chirino/messaging-service/internal/model"
	"github.com/chirino/messaging-service/internal/plugin/route/chats"
	"github.com/chirino/messaging-service/internal/plugin/store/sqlstore"
	"github.com/chirino/messaging-service/internal/security"
	"github.com/chirino/messaging-service/internal/service"
	"github.com/chirino/messaging-service/internal/sessions"
	"github.com/chirino/messaging-service/internal/testutil/testsqlite"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRouter(t *testing.T) (*gin.Engine, *sqlstore.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.DefaultConfig()
	cfg.DBURL = testsqlite.DSN(t)
	store, err := sqlstore.Open(context.Background(), sqlstore.KindSQLite, &cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close(context.Background()) })
	for _, u := range []model.User{{ID: "alice", Name: "Alice", ProfilePicURL: "a.png"}, {ID: "bob", Name: "Bob", ProfilePicURL: "b.png"}} {
		require.NoError(t, store.PutUser(context.Background(), u))
	}

	svc := service.NewMessageService(store, sessions.NewRegistry(), nil)
	router := gin.New()
	chats.MountRoutes(router, svc, security.AuthMiddleware(security.NewTokenResolver(&cfg)))
	return router, store
}

func do(t *testing.T, router http.Handler, method, path, user, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if user != "" {
		req.Header.Set("Authorization", "Bearer "+user)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestRequiresAuth(t *testing.T) {
	router, _ := newRouter(t)
	w := do(t, router, http.MethodGet, "/api/chats", "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSendListAndMarkRead(t *testing.T) {
	router, store := newRouter(t)

	w := do(t, router, http.MethodPost, "/api/chats/bob/texts", "alice", `{"text":"hi"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var sent struct {
		NewText model.Message         `json:"newText"`
		Outcome model.DeliveryOutcome `json:"outcome"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sent))
	assert.Equal(t, "hi", sent.NewText.Text)
	assert.Equal(t, model.OutcomeMarkedUnread, sent.Outcome)

	w = do(t, router, http.MethodGet, "/api/chats", "alice", "")
	require.Equal(t, http.StatusOK, w.Code)
	var list []service.ChatSummary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "bob", list[0].TextsWith)
	assert.Equal(t, "Bob", list[0].Name)
	assert.Equal(t, "b.png", list[0].ProfilePicURL)
	assert.Equal(t, "hi", list[0].LastText)

	user, err := store.GetUser(context.Background(), "bob")
	require.NoError(t, err)
	require.True(t, user.UnreadMessage)

	for i := 0; i < 2; i++ {
		w = do(t, router, http.MethodPost, "/api/chats", "bob", "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "Updated", w.Body.String())
		assert.Contains(t, w.Header().Get("Content-Type"), "text/plain")
	}
	user, err = store.GetUser(context.Background(), "bob")
	require.NoError(t, err)
	assert.False(t, user.UnreadMessage)

	w = do(t, router, http.MethodGet, "/api/chats/alice/texts?page=0", "bob", "")
	require.Equal(t, http.StatusOK, w.Code)
	var page service.PageResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	require.NotNil(t, page.Chat)
	require.Len(t, page.Chat.Texts, 1)
	assert.Equal(t, "Alice", page.Chat.TextsWith.Name)
}

func TestErrorMapping(t *testing.T) {
	router, _ := newRouter(t)

	w := do(t, router, http.MethodPost, "/api/chats/bob/texts", "alice", `{"text":"  "}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), `"field":"text"`)

	w = do(t, router, http.MethodPost, "/api/chats/ghost/texts", "alice", `{"text":"boo"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, router, http.MethodGet, "/api/chats/bob/texts?page=abc", "alice", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, router, http.MethodGet, "/api/chats/bob/texts?page=-2", "alice", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, router, http.MethodPost, "/api/chats", "nobody", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}
