// Package storetest holds behaviour checks shared by every MessageStore
// implementation.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/chirino/messaging-service/internal/model"
	registrystore "github.com/chirino/messaging-service/internal/registry/store"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// LegacySeeder is implemented by stores that can hold legacy chat records.
type LegacySeeder interface {
	PutLegacyUser(ctx context.Context, user model.LegacyUser) error
}

// Factory returns a fresh, empty store for a single test.
type Factory func(t *testing.T) registrystore.MessageStore

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// Run exercises store semantics against the stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("Users", func(t *testing.T) { testUsers(t, newStore(t)) })
	t.Run("UniquePair", func(t *testing.T) { testUniquePair(t, newStore(t)) })
	t.Run("AppendAndList", func(t *testing.T) { testAppendAndList(t, newStore(t)) })
	t.Run("ConcurrentAppend", func(t *testing.T) { testConcurrentAppend(t, newStore(t)) })
	t.Run("ListConversations", func(t *testing.T) { testListConversations(t, newStore(t)) })
	t.Run("ImportConversation", func(t *testing.T) { testImportConversation(t, newStore(t)) })
	t.Run("LegacyUsers", func(t *testing.T) { testLegacyUsers(t, newStore(t)) })
	t.Run("Checkpoints", func(t *testing.T) { testCheckpoints(t, newStore(t)) })
}

func newConversation(a, b string) model.Conversation {
	return model.Conversation{
		ID:        uuid.NewString(),
		Users:     model.SortedPair(a, b),
		PairKey:   model.PairKey(a, b),
		CreatedAt: epoch,
		UpdatedAt: epoch,
	}
}

func newMessage(conv *model.Conversation, sender, receiver, text string, date time.Time) model.Message {
	return model.Message{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		Sender:         sender,
		Receiver:       receiver,
		Text:           text,
		Date:           date,
	}
}

func testUsers(t *testing.T, store registrystore.MessageStore) {
	ctx := context.Background()

	_, err := store.GetUser(ctx, "ghost")
	var notFound *registrystore.NotFoundError
	require.ErrorAs(t, err, &notFound)

	_, err = store.SetUnread(ctx, "ghost")
	require.ErrorAs(t, err, &notFound)

	require.NoError(t, store.PutUser(ctx, model.User{ID: "alice", Name: "Alice", ProfilePicURL: "a.png"}))

	changed, err := store.SetUnread(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = store.SetUnread(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, changed)

	// Profile updates keep the unread flag.
	require.NoError(t, store.PutUser(ctx, model.User{ID: "alice", Name: "Alice B", ProfilePicURL: "b.png"}))
	user, err := store.GetUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "Alice B", user.Name)
	assert.Equal(t, "b.png", user.ProfilePicURL)
	assert.True(t, user.UnreadMessage)

	changed, err = store.ClearUnread(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = store.ClearUnread(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, changed)
}

func testUniquePair(t *testing.T, store registrystore.MessageStore) {
	ctx := context.Background()

	created, err := store.CreateConversation(ctx, newConversation("bob", "alice"))
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, created.Users)

	_, err = store.CreateConversation(ctx, newConversation("alice", "bob"))
	var conflict *registrystore.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, registrystore.ConflictPairExists, conflict.Code)

	found, err := store.FindConversation(ctx, model.PairKey("bob", "alice"))
	require.NoError(t, err)
	assert.Equal(t, created.ID, found.ID)

	_, err = store.FindConversation(ctx, model.PairKey("alice", "carol"))
	var notFound *registrystore.NotFoundError
	require.ErrorAs(t, err, &notFound)
}

func testAppendAndList(t *testing.T, store registrystore.MessageStore) {
	ctx := context.Background()

	conv, err := store.CreateConversation(ctx, newConversation("alice", "bob"))
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		msg := newMessage(conv, "alice", "bob", fmt.Sprintf("m%d", i), epoch.Add(time.Duration(i)*time.Second))
		saved, err := store.AppendMessage(ctx, msg)
		require.NoError(t, err)
		assert.Equal(t, int64(i+1), saved.Seq)
	}

	// Same timestamp as m4: seq breaks the tie.
	_, err = store.AppendMessage(ctx, newMessage(conv, "bob", "alice", "m5", epoch.Add(4*time.Second)))
	require.NoError(t, err)

	count, err := store.CountMessages(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(6), count)

	page, err := store.ListMessages(ctx, conv.ID, 0, 3)
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, []string{"m5", "m4", "m3"}, texts(page))

	page, err = store.ListMessages(ctx, conv.ID, 3, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"m2", "m1", "m0"}, texts(page))

	found, err := store.FindConversation(ctx, conv.PairKey)
	require.NoError(t, err)
	assert.Equal(t, "m5", found.LastMessage.Text)
	assert.Equal(t, "bob", found.LastMessage.Sender)
	assert.Equal(t, int64(6), found.LastMessage.Seq)
	assert.Equal(t, int64(6), found.MessageSeq)
	assert.Equal(t, int64(5), found.UnreadCount["bob"])
	assert.Equal(t, int64(1), found.UnreadCount["alice"])

	require.NoError(t, store.ResetUnreadCount(ctx, conv.ID, "bob"))
	found, err = store.FindConversation(ctx, conv.PairKey)
	require.NoError(t, err)
	assert.Zero(t, found.UnreadCount["bob"])
	assert.Equal(t, int64(1), found.UnreadCount["alice"])

	_, err = store.AppendMessage(ctx, model.Message{ID: uuid.NewString(), ConversationID: uuid.NewString(), Date: epoch})
	var notFound *registrystore.NotFoundError
	require.ErrorAs(t, err, &notFound)
}

func testConcurrentAppend(t *testing.T, store registrystore.MessageStore) {
	ctx := context.Background()

	conv, err := store.CreateConversation(ctx, newConversation("alice", "bob"))
	require.NoError(t, err)

	const writers = 20
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := store.AppendMessage(ctx, newMessage(conv, "alice", "bob", fmt.Sprintf("c%d", i), epoch))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	all, err := store.ListMessages(ctx, conv.ID, 0, writers)
	require.NoError(t, err)
	require.Len(t, all, writers)
	seen := map[int64]bool{}
	for _, m := range all {
		assert.False(t, seen[m.Seq], "duplicate seq %d", m.Seq)
		seen[m.Seq] = true
	}

	found, err := store.FindConversation(ctx, conv.PairKey)
	require.NoError(t, err)
	assert.Equal(t, int64(writers), found.LastMessage.Seq)
	assert.Equal(t, all[0].Text, found.LastMessage.Text)
	assert.Equal(t, int64(writers), found.UnreadCount["bob"])
}

func testListConversations(t *testing.T, store registrystore.MessageStore) {
	ctx := context.Background()

	older, err := store.CreateConversation(ctx, newConversation("alice", "bob"))
	require.NoError(t, err)
	newer, err := store.CreateConversation(ctx, newConversation("carol", "alice"))
	require.NoError(t, err)
	_, err = store.CreateConversation(ctx, newConversation("bob", "carol"))
	require.NoError(t, err)

	_, err = store.AppendMessage(ctx, newMessage(older, "bob", "alice", "old", epoch.Add(time.Minute)))
	require.NoError(t, err)
	_, err = store.AppendMessage(ctx, newMessage(newer, "carol", "alice", "new", epoch.Add(time.Hour)))
	require.NoError(t, err)

	convs, err := store.ListConversations(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, convs, 2)
	assert.Equal(t, newer.ID, convs[0].ID)
	assert.Equal(t, older.ID, convs[1].ID)
	assert.Equal(t, "new", convs[0].LastMessage.Text)
	assert.Equal(t, int64(1), convs[0].UnreadCount["alice"])

	convs, err = store.ListConversations(ctx, "dave")
	require.NoError(t, err)
	assert.Empty(t, convs)
}

func testImportConversation(t *testing.T, store registrystore.MessageStore) {
	ctx := context.Background()

	conv := newConversation("alice", "bob")
	conv.LegacySource = "alice"
	conv.MessageSeq = 2
	conv.LastMessage = model.LastMessage{Text: "two", Sender: "bob", Date: epoch.Add(time.Second), Seq: 2}
	msgs := []model.Message{
		{ID: uuid.NewString(), ConversationID: conv.ID, Sender: "alice", Receiver: "bob", Text: "one", Date: epoch, Seq: 1},
		{ID: uuid.NewString(), ConversationID: conv.ID, Sender: "bob", Receiver: "alice", Text: "two", Date: epoch.Add(time.Second), Seq: 2},
	}

	result, err := store.ImportConversation(ctx, conv, msgs)
	require.NoError(t, err)
	assert.False(t, result.Skipped)
	assert.Equal(t, 2, result.Messages)

	// Re-importing the same copy is a no-op.
	result, err = store.ImportConversation(ctx, conv, msgs)
	require.NoError(t, err)
	assert.False(t, result.Skipped)
	count, err := store.CountMessages(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	// The mirrored copy loses to the owner.
	mirror := conv
	mirror.ID = uuid.NewString()
	mirror.LegacySource = "bob"
	result, err = store.ImportConversation(ctx, mirror, nil)
	require.NoError(t, err)
	assert.True(t, result.Skipped)

	// New messages continue the imported sequence.
	found, err := store.FindConversation(ctx, conv.PairKey)
	require.NoError(t, err)
	assert.Equal(t, "two", found.LastMessage.Text)
	saved, err := store.AppendMessage(ctx, newMessage(found, "alice", "bob", "three", epoch.Add(time.Hour)))
	require.NoError(t, err)
	assert.Equal(t, int64(3), saved.Seq)

	// Live conversations are never overwritten.
	live, err := store.CreateConversation(ctx, newConversation("carol", "dave"))
	require.NoError(t, err)
	legacy := newConversation("carol", "dave")
	legacy.LegacySource = "carol"
	result, err = store.ImportConversation(ctx, legacy, nil)
	require.NoError(t, err)
	assert.True(t, result.Skipped)
	found, err = store.FindConversation(ctx, live.PairKey)
	require.NoError(t, err)
	assert.Equal(t, live.ID, found.ID)
}

func testLegacyUsers(t *testing.T, store registrystore.MessageStore) {
	ctx := context.Background()
	seeder, ok := store.(LegacySeeder)
	require.True(t, ok, "store must implement LegacySeeder")

	for _, id := range []string{"carol", "alice", "bob"} {
		require.NoError(t, seeder.PutLegacyUser(ctx, model.LegacyUser{
			UserID: id,
			Chats: []model.LegacyChat{
				{TextsWith: "zed", Texts: []model.LegacyText{{Sender: id, Receiver: "zed", Text: "hi " + id, Date: epoch}}},
				{TextsWith: "amy"},
			},
		}))
	}

	users, err := store.ListLegacyUsers(ctx, "", 2)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "alice", users[0].UserID)
	assert.Equal(t, "bob", users[1].UserID)
	require.Len(t, users[0].Chats, 2)
	assert.Equal(t, "zed", users[0].Chats[0].TextsWith)
	require.Len(t, users[0].Chats[0].Texts, 1)
	assert.Equal(t, "hi alice", users[0].Chats[0].Texts[0].Text)
	assert.True(t, epoch.Equal(users[0].Chats[0].Texts[0].Date))
	assert.Empty(t, users[0].Chats[1].Texts)

	users, err = store.ListLegacyUsers(ctx, "bob", 2)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "carol", users[0].UserID)

	users, err = store.ListLegacyUsers(ctx, "carol", 2)
	require.NoError(t, err)
	assert.Empty(t, users)
}

func testCheckpoints(t *testing.T, store registrystore.MessageStore) {
	ctx := context.Background()

	cp, err := store.GetCheckpoint(ctx, "legacy-chats")
	require.NoError(t, err)
	assert.Nil(t, cp)

	require.NoError(t, store.SaveCheckpoint(ctx, model.MigrationCheckpoint{Name: "legacy-chats", Cursor: "bob", Users: 2, Messages: 7}))
	require.NoError(t, store.SaveCheckpoint(ctx, model.MigrationCheckpoint{Name: "legacy-chats", Cursor: "carol", Users: 3, Messages: 9, Done: true}))

	cp, err = store.GetCheckpoint(ctx, "legacy-chats")
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, "carol", cp.Cursor)
	assert.Equal(t, int64(3), cp.Users)
	assert.Equal(t, int64(9), cp.Messages)
	assert.True(t, cp.Done)

	require.NoError(t, store.DeleteCheckpoint(ctx, "legacy-chats"))
	cp, err = store.GetCheckpoint(ctx, "legacy-chats")
	require.NoError(t, err)
	assert.Nil(t, cp)
}

func texts(msgs []model.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Text
	}
	return out
}
