package store

import (
	"context"
	"fmt"

	"github.com/chirino/messaging-service/internal/model"
)

// ImportResult reports what ImportConversation did with a legacy chat copy.
type ImportResult struct {
	// Skipped is true when the pair already belongs to another copy or to a
	// live conversation, so nothing was written.
	Skipped  bool
	Messages int
}

// MessageStore persists users' unread flags, conversations, messages and
// migration checkpoints.
type MessageStore interface {
	// GetUser returns NotFoundError when the user does not exist.
	GetUser(ctx context.Context, userID string) (*model.User, error)
	// PutUser creates or replaces a user's profile fields. UnreadMessage is
	// only written on insert.
	PutUser(ctx context.Context, user model.User) error
	// SetUnread sets the unread flag if it is not already set and reports
	// whether a write happened.
	SetUnread(ctx context.Context, userID string) (bool, error)
	// ClearUnread clears the unread flag if it is set and reports whether a
	// write happened.
	ClearUnread(ctx context.Context, userID string) (bool, error)

	// FindConversation returns NotFoundError when no conversation exists for
	// the pair key.
	FindConversation(ctx context.Context, pairKey string) (*model.Conversation, error)
	// CreateConversation inserts a conversation. It returns ConflictError
	// with Code ConflictPairExists when the pair already has one.
	CreateConversation(ctx context.Context, conv model.Conversation) (*model.Conversation, error)
	// ListConversations returns the user's conversations, newest
	// LastMessage.Date first.
	ListConversations(ctx context.Context, userID string) ([]model.Conversation, error)
	// ResetUnreadCount zeroes the per-conversation counter for userID.
	ResetUnreadCount(ctx context.Context, conversationID, userID string) error

	// AppendMessage claims the next Seq for the conversation, inserts the
	// message, advances LastMessage when the new Seq is greater than the
	// stored one and increments the receiver's unread counter.
	AppendMessage(ctx context.Context, msg model.Message) (*model.Message, error)
	// ListMessages returns up to limit messages newest first, ordered by
	// (date desc, seq desc), after skipping offset messages.
	ListMessages(ctx context.Context, conversationID string, offset, limit int) ([]model.Message, error)
	// CountMessages returns the number of messages in a conversation.
	CountMessages(ctx context.Context, conversationID string) (int64, error)

	// ListLegacyUsers returns legacy records with UserID > after, ascending.
	ListLegacyUsers(ctx context.Context, after string, limit int) ([]model.LegacyUser, error)
	// ImportConversation creates conv if its pair is free (tagging it with
	// conv.LegacySource) and upserts msgs by ID. It is a no-op when the pair
	// is owned by a different legacy copy or by a live conversation.
	ImportConversation(ctx context.Context, conv model.Conversation, msgs []model.Message) (*ImportResult, error)
	// GetCheckpoint returns nil, nil when no checkpoint exists.
	GetCheckpoint(ctx context.Context, name string) (*model.MigrationCheckpoint, error)
	SaveCheckpoint(ctx context.Context, cp model.MigrationCheckpoint) error
	DeleteCheckpoint(ctx context.Context, name string) error

	Close(ctx context.Context) error
}

// Loader creates a MessageStore from config.
type Loader func(ctx context.Context) (MessageStore, error)

// Plugin represents a store plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a store plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered store plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named store plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown store %q; valid: %v", name, Names())
}
