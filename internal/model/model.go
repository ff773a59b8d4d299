package model

import (
	"sort"
	"strconv"
	"time"
)

// DeliveryOutcome reports what happened to a message after it was persisted.
type DeliveryOutcome string

const (
	// OutcomeDelivered means the message was pushed to the recipient's live session.
	OutcomeDelivered DeliveryOutcome = "delivered"
	// OutcomeMarkedUnread means the recipient had no live session and was flagged unread.
	OutcomeMarkedUnread DeliveryOutcome = "marked_unread"
)

// User is the subset of a social-network account this service reads and writes.
type User struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	ProfilePicURL string `json:"profilePicUrl"`
	UnreadMessage bool   `json:"unreadMessage"`
}

// Profile returns the display projection of the user.
func (u User) Profile() Profile {
	return Profile{ID: u.ID, Name: u.Name, ProfilePicURL: u.ProfilePicURL}
}

// Profile is what clients render in chat headers and push notifications.
type Profile struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	ProfilePicURL string `json:"profilePicUrl"`
}

// LastMessage is a cached preview of a conversation's newest message.
//
// It always reflects the message with the highest Seq written so far.
// Stores only overwrite it with a message whose Seq is greater than the
// stored one, and nothing else ever corrects it, so it must not be used
// as a source of history.
type LastMessage struct {
	Text   string    `json:"text"`
	Sender string    `json:"sender"`
	Date   time.Time `json:"date"`
	Seq    int64     `json:"seq"`
}

// Conversation is the persistent record of a two-party relationship.
type Conversation struct {
	ID           string           `json:"id"`
	Users        []string         `json:"users"`
	PairKey      string           `json:"pairKey"`
	LastMessage  LastMessage      `json:"lastMessage"`
	MessageSeq   int64            `json:"messageSeq"`
	UnreadCount  map[string]int64 `json:"unreadCount,omitempty"`
	LegacySource string           `json:"-"`
	CreatedAt    time.Time        `json:"createdAt"`
	UpdatedAt    time.Time        `json:"updatedAt"`
}

// Partner returns the participant that is not userID, or "" when userID is
// not part of the conversation or the record is malformed.
func (c Conversation) Partner(userID string) string {
	if len(c.Users) != 2 {
		return ""
	}
	switch userID {
	case c.Users[0]:
		return c.Users[1]
	case c.Users[1]:
		return c.Users[0]
	}
	return ""
}

// Message is an immutable entry in a conversation's log.
type Message struct {
	ID             string    `json:"_id"`
	ConversationID string    `json:"conversationId"`
	Sender         string    `json:"sender"`
	Receiver       string    `json:"receiver"`
	Text           string    `json:"text"`
	Date           time.Time `json:"date"`
	Seq            int64     `json:"seq"`
}

// Before reports whether m sorts before other in conversation order.
func (m Message) Before(other Message) bool {
	if m.Date.Equal(other.Date) {
		return m.Seq < other.Seq
	}
	return m.Date.Before(other.Date)
}

// SortedPair returns the two user ids in ascending order.
func SortedPair(a, b string) []string {
	pair := []string{a, b}
	sort.Strings(pair)
	return pair
}

// PairKey returns the order-independent key for a pair of users. The first
// id is length prefixed, so ids containing the separator cannot collide.
func PairKey(a, b string) string {
	pair := SortedPair(a, b)
	return strconv.Itoa(len(pair[0])) + ":" + pair[0] + "_" + pair[1]
}

// LegacyText is one message inside a legacy embedded chat.
type LegacyText struct {
	Sender   string    `json:"sender"`
	Receiver string    `json:"receiver"`
	Text     string    `json:"text"`
	Date     time.Time `json:"date"`
}

// LegacyChat is one user's copy of a conversation in the old schema.
type LegacyChat struct {
	TextsWith string       `json:"textsWith"`
	Texts     []LegacyText `json:"texts"`
}

// LegacyUser holds every embedded chat owned by a single user.
type LegacyUser struct {
	UserID string       `json:"userId"`
	Chats  []LegacyChat `json:"chats"`
}

// MigrationCheckpoint is the durable progress marker of a batch job.
type MigrationCheckpoint struct {
	Name          string    `json:"name"`
	Cursor        string    `json:"cursor"`
	Users         int64     `json:"users"`
	Conversations int64     `json:"conversations"`
	Messages      int64     `json:"messages"`
	Skipped       int64     `json:"skipped"`
	Done          bool      `json:"done"`
	UpdatedAt     time.Time `json:"updatedAt"`
}
