// Package legacy converts the per-user embedded chat arrays of the old
// schema into shared conversations and messages.
package legacy

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/messaging-service/internal/model"
	registrystore "github.com/chirino/messaging-service/internal/registry/store"
	"github.com/chirino/messaging-service/internal/security"
	"github.com/google/uuid"
)

// CheckpointName keys the migration's progress record.
const CheckpointName = "legacy-chats"

// DefaultBatchSize is the number of legacy users read per store round trip.
const DefaultBatchSize = 100

var idNamespace = uuid.MustParse("3f4c0d1e-8a57-4f3b-9a55-6c2f1d0b7e21")

// ConversationID returns the id a legacy import assigns to a pair.
func ConversationID(pairKey string) string {
	return uuid.NewSHA1(idNamespace, []byte(pairKey)).String()
}

// MessageID returns the id a legacy import assigns to the index-th text of a pair.
func MessageID(pairKey string, index int) string {
	return uuid.NewSHA1(idNamespace, []byte(fmt.Sprintf("%s#%d", pairKey, index))).String()
}

// Report summarizes one run.
type Report struct {
	Users         int64
	Conversations int64
	Messages      int64
	Skipped       int64
	// AlreadyDone is true when the checkpoint said a previous run finished.
	AlreadyDone bool
}

// Migrator copies legacy chats into the conversation store.
type Migrator struct {
	store     registrystore.MessageStore
	batchSize int
	now       func() time.Time
}

// Option configures a Migrator.
type Option func(*Migrator)

func WithBatchSize(n int) Option {
	return func(m *Migrator) {
		if n > 0 {
			m.batchSize = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Migrator) { m.now = now }
}

func NewMigrator(store registrystore.MessageStore, opts ...Option) *Migrator {
	m := &Migrator{store: store, batchSize: DefaultBatchSize, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run imports every legacy user after the saved cursor. With restart the
// checkpoint is discarded first; imports stay idempotent either way.
func (m *Migrator) Run(ctx context.Context, restart bool) (*Report, error) {
	if restart {
		if err := m.store.DeleteCheckpoint(ctx, CheckpointName); err != nil {
			return nil, fmt.Errorf("failed to clear checkpoint: %w", err)
		}
		log.Info("Legacy migration: checkpoint cleared")
	}

	cp, err := m.store.GetCheckpoint(ctx, CheckpointName)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint: %w", err)
	}
	if cp == nil {
		cp = &model.MigrationCheckpoint{Name: CheckpointName}
	}
	report := &Report{}
	if cp.Done {
		log.Info("Legacy migration: already complete", "users", cp.Users, "conversations", cp.Conversations, "messages", cp.Messages)
		report.AlreadyDone = true
		return report, nil
	}
	if cp.Cursor != "" {
		log.Info("Legacy migration: resuming", "after", cp.Cursor)
	}

	seen := map[string]bool{}
	for {
		batch, err := m.store.ListLegacyUsers(ctx, cp.Cursor, m.batchSize)
		if err != nil {
			return report, fmt.Errorf("failed to read legacy users after %q: %w", cp.Cursor, err)
		}
		if len(batch) == 0 {
			break
		}
		for _, user := range batch {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			userReport, err := m.importUser(ctx, user, seen)
			if err != nil {
				return report, err
			}
			report.add(userReport)

			cp.Cursor = user.UserID
			cp.Users++
			cp.Conversations += userReport.Conversations
			cp.Messages += userReport.Messages
			cp.Skipped += userReport.Skipped
			if err := m.store.SaveCheckpoint(ctx, *cp); err != nil {
				return report, fmt.Errorf("failed to save checkpoint at %q: %w", user.UserID, err)
			}
		}
		log.Debug("Legacy migration: batch complete", "cursor", cp.Cursor, "users", report.Users)
	}

	cp.Done = true
	if err := m.store.SaveCheckpoint(ctx, *cp); err != nil {
		return report, fmt.Errorf("failed to save final checkpoint: %w", err)
	}
	security.RecordLegacyImport("conversation", int(report.Conversations))
	security.RecordLegacyImport("message", int(report.Messages))
	security.RecordLegacyImport("skipped", int(report.Skipped))
	log.Info("Legacy migration: complete",
		"users", report.Users,
		"conversations", report.Conversations,
		"messages", report.Messages,
		"skipped", report.Skipped,
	)
	return report, nil
}

func (r *Report) add(o Report) {
	r.Users += o.Users
	r.Conversations += o.Conversations
	r.Messages += o.Messages
	r.Skipped += o.Skipped
}

func (m *Migrator) importUser(ctx context.Context, user model.LegacyUser, seen map[string]bool) (Report, error) {
	report := Report{Users: 1}
	for _, chat := range user.Chats {
		if chat.TextsWith == "" || chat.TextsWith == user.UserID {
			log.Warn("Legacy migration: skipping malformed chat", "userId", user.UserID, "textsWith", chat.TextsWith)
			report.Skipped++
			continue
		}
		key := model.PairKey(user.UserID, chat.TextsWith)
		if seen[key] {
			report.Skipped++
			continue
		}
		seen[key] = true

		conv, msgs := m.convert(user.UserID, chat, key)
		result, err := m.store.ImportConversation(ctx, conv, msgs)
		if err != nil {
			return report, fmt.Errorf("failed to import chat %s: %w", key, err)
		}
		if result.Skipped {
			log.Debug("Legacy migration: pair already owned", "pairKey", key, "copyOf", user.UserID)
			report.Skipped++
			continue
		}
		report.Conversations++
		report.Messages += int64(result.Messages)
	}
	return report, nil
}

// convert builds the conversation and messages for one user's copy of a
// chat. The last array element becomes LastMessage as stored, without
// re-sorting by date.
func (m *Migrator) convert(owner string, chat model.LegacyChat, key string) (model.Conversation, []model.Message) {
	now := m.now().UTC().Truncate(time.Millisecond)
	convID := ConversationID(key)
	conv := model.Conversation{
		ID:           convID,
		Users:        model.SortedPair(owner, chat.TextsWith),
		PairKey:      key,
		MessageSeq:   int64(len(chat.Texts)),
		LegacySource: owner,
		CreatedAt:    now,
		UpdatedAt:    now,
		LastMessage:  model.LastMessage{Date: now},
	}

	msgs := make([]model.Message, len(chat.Texts))
	for i, t := range chat.Texts {
		msgs[i] = model.Message{
			ID:             MessageID(key, i),
			ConversationID: convID,
			Sender:         t.Sender,
			Receiver:       t.Receiver,
			Text:           t.Text,
			Date:           t.Date,
			Seq:            int64(i + 1),
		}
	}
	if n := len(chat.Texts); n > 0 {
		last := chat.Texts[n-1]
		conv.LastMessage = model.LastMessage{Text: last.Text, Sender: last.Sender, Date: last.Date, Seq: int64(n)}
		conv.CreatedAt = chat.Texts[0].Date
		conv.UpdatedAt = last.Date
	}
	return conv, msgs
}
