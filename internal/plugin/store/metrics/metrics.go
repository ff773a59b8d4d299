package metrics

import (
	"context"
	"time"

	"github.com/chirino/messaging-service/internal/model"
	"github.com/chirino/messaging-service/internal/registry/store"
	"github.com/chirino/messaging-service/internal/security"
)

// Wrap returns a MessageStore that records StoreLatency for every operation.
func Wrap(inner store.MessageStore) store.MessageStore {
	return &metricsStore{inner: inner}
}

type metricsStore struct {
	inner store.MessageStore
}

func observe(op string, start time.Time) {
	if security.StoreLatency == nil {
		return
	}
	security.StoreLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (m *metricsStore) GetUser(ctx context.Context, userID string) (*model.User, error) {
	defer observe("get_user", time.Now())
	return m.inner.GetUser(ctx, userID)
}

func (m *metricsStore) PutUser(ctx context.Context, user model.User) error {
	defer observe("put_user", time.Now())
	return m.inner.PutUser(ctx, user)
}

func (m *metricsStore) SetUnread(ctx context.Context, userID string) (bool, error) {
	defer observe("set_unread", time.Now())
	return m.inner.SetUnread(ctx, userID)
}

func (m *metricsStore) ClearUnread(ctx context.Context, userID string) (bool, error) {
	defer observe("clear_unread", time.Now())
	return m.inner.ClearUnread(ctx, userID)
}

func (m *metricsStore) FindConversation(ctx context.Context, pairKey string) (*model.Conversation, error) {
	defer observe("find_conversation", time.Now())
	return m.inner.FindConversation(ctx, pairKey)
}

func (m *metricsStore) CreateConversation(ctx context.Context, conv model.Conversation) (*model.Conversation, error) {
	defer observe("create_conversation", time.Now())
	return m.inner.CreateConversation(ctx, conv)
}

func (m *metricsStore) ListConversations(ctx context.Context, userID string) ([]model.Conversation, error) {
	defer observe("list_conversations", time.Now())
	return m.inner.ListConversations(ctx, userID)
}

func (m *metricsStore) ResetUnreadCount(ctx context.Context, conversationID, userID string) error {
	defer observe("reset_unread_count", time.Now())
	return m.inner.ResetUnreadCount(ctx, conversationID, userID)
}

func (m *metricsStore) AppendMessage(ctx context.Context, msg model.Message) (*model.Message, error) {
	defer observe("append_message", time.Now())
	return m.inner.AppendMessage(ctx, msg)
}

func (m *metricsStore) ListMessages(ctx context.Context, conversationID string, offset, limit int) ([]model.Message, error) {
	defer observe("list_messages", time.Now())
	return m.inner.ListMessages(ctx, conversationID, offset, limit)
}

func (m *metricsStore) CountMessages(ctx context.Context, conversationID string) (int64, error) {
	defer observe("count_messages", time.Now())
	return m.inner.CountMessages(ctx, conversationID)
}

func (m *metricsStore) ListLegacyUsers(ctx context.Context, after string, limit int) ([]model.LegacyUser, error) {
	defer observe("list_legacy_users", time.Now())
	return m.inner.ListLegacyUsers(ctx, after, limit)
}

func (m *metricsStore) ImportConversation(ctx context.Context, conv model.Conversation, msgs []model.Message) (*store.ImportResult, error) {
	defer observe("import_conversation", time.Now())
	return m.inner.ImportConversation(ctx, conv, msgs)
}

func (m *metricsStore) GetCheckpoint(ctx context.Context, name string) (*model.MigrationCheckpoint, error) {
	defer observe("get_checkpoint", time.Now())
	return m.inner.GetCheckpoint(ctx, name)
}

func (m *metricsStore) SaveCheckpoint(ctx context.Context, cp model.MigrationCheckpoint) error {
	defer observe("save_checkpoint", time.Now())
	return m.inner.SaveCheckpoint(ctx, cp)
}

func (m *metricsStore) DeleteCheckpoint(ctx context.Context, name string) error {
	defer observe("delete_checkpoint", time.Now())
	return m.inner.DeleteCheckpoint(ctx, name)
}

func (m *metricsStore) Close(ctx context.Context) error {
	return m.inner.Close(ctx)
}
