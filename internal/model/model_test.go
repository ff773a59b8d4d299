package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPairKey_IsOrderIndependent(t *testing.T) {
	require.Equal(t, PairKey("alice", "bob"), PairKey("bob", "alice"))
	require.Equal(t, "5:alice_bob", PairKey("bob", "alice"))
}

func TestPairKey_SeparatorInIDsDoesNotCollide(t *testing.T) {
	require.NotEqual(t, PairKey("a_b", "c"), PairKey("a", "b_c"))
	require.NotEqual(t, PairKey("a:b", "c"), PairKey("a", "b:c"))
	require.NotEqual(t, PairKey("1:a", "b"), PairKey("1", "a_b"))
}

func TestConversationPartner(t *testing.T) {
	c := Conversation{Users: SortedPair("bob", "alice")}
	require.Equal(t, "bob", c.Partner("alice"))
	require.Equal(t, "alice", c.Partner("bob"))
	require.Equal(t, "", c.Partner("carol"))
	require.Equal(t, "", Conversation{Users: []string{"solo"}}.Partner("solo"))
}

func TestMessageBefore_UsesSeqAsTieBreak(t *testing.T) {
	now := time.Now()
	a := Message{Date: now, Seq: 1}
	b := Message{Date: now, Seq: 2}
	require.True(t, a.Before(b))
	require.False(t, b.Before(a))

	earlier := Message{Date: now.Add(-time.Second), Seq: 9}
	require.True(t, earlier.Before(a))
}
