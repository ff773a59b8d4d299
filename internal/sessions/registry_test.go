package sessions

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoin_IsIdempotentForSameSession(t *testing.T) {
	r := NewRegistry()
	first := r.Join("alice", "s1")
	second := r.Join("alice", "s1")

	require.Equal(t, first, second)
	require.Equal(t, []Entry{{UserID: "alice", SessionID: "s1"}}, second)
}

func TestJoin_ReplacesPreviousSession(t *testing.T) {
	r := NewRegistry()
	r.Join("alice", "old-tab")
	r.Join("alice", "new-tab")

	sessionID, ok := r.FindSession("alice")
	require.True(t, ok)
	require.Equal(t, "new-tab", sessionID)

	// The replaced tab disconnecting must not evict the new one.
	_, ok = r.Leave("old-tab")
	require.False(t, ok)
	sessionID, ok = r.FindSession("alice")
	require.True(t, ok)
	require.Equal(t, "new-tab", sessionID)
}

func TestJoin_SessionSwitchingIdentity(t *testing.T) {
	r := NewRegistry()
	r.Join("alice", "s1")
	r.Join("bob", "s1")

	_, ok := r.FindSession("alice")
	require.False(t, ok)
	sessionID, ok := r.FindSession("bob")
	require.True(t, ok)
	require.Equal(t, "s1", sessionID)
}

func TestLeave(t *testing.T) {
	r := NewRegistry()
	r.Join("alice", "s1")

	userID, ok := r.Leave("s1")
	require.True(t, ok)
	require.Equal(t, "alice", userID)

	_, ok = r.FindSession("alice")
	require.False(t, ok)

	// Duplicate and unknown disconnects are no-ops.
	_, ok = r.Leave("s1")
	require.False(t, ok)
	_, ok = r.Leave("never-joined")
	require.False(t, ok)
	require.Equal(t, 0, r.Len())
}

func TestListActive_ExcludesRequesterAndSorts(t *testing.T) {
	r := NewRegistry()
	r.Join("carol", "s3")
	r.Join("alice", "s1")
	r.Join("bob", "s2")

	assert.Equal(t, []Entry{
		{UserID: "alice", SessionID: "s1"},
		{UserID: "carol", SessionID: "s3"},
	}, r.ListActive("bob"))
	assert.Len(t, r.ListActive(""), 3)
	assert.Empty(t, NewRegistry().ListActive("alice"))
}

func TestRegistry_ConcurrentJoinLeave(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			user := fmt.Sprintf("user-%d", i)
			session := fmt.Sprintf("session-%d", i)
			r.Join(user, session)
			_, _ = r.FindSession(user)
			_ = r.ListActive(user)
			if i%2 == 0 {
				r.Leave(session)
			}
		}(i)
	}
	wg.Wait()
	require.Equal(t, 25, r.Len())
}
