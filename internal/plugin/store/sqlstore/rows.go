package sqlstore

import (
	"time"

	"github.com/chirino/messaging-service/internal/model"
)

var allRows = []any{
	&userRow{},
	&conversationRow{},
	&unreadCountRow{},
	&messageRow{},
	&legacyChatRow{},
	&checkpointRow{},
}

type userRow struct {
	ID            string `gorm:"primaryKey"`
	Name          string `gorm:"not null;default:''"`
	ProfilePicURL string `gorm:"not null;default:''"`
	UnreadMessage bool   `gorm:"not null;default:false"`
}

func (userRow) TableName() string { return "users" }

type conversationRow struct {
	ID           string    `gorm:"primaryKey"`
	UserA        string    `gorm:"not null;index"`
	UserB        string    `gorm:"not null;index"`
	PairKey      string    `gorm:"not null;uniqueIndex"`
	LastText     string    `gorm:"not null;default:''"`
	LastSender   string    `gorm:"not null;default:''"`
	LastDate     time.Time `gorm:"index"`
	LastSeq      int64     `gorm:"not null;default:0"`
	MessageSeq   int64     `gorm:"not null;default:0"`
	LegacySource string    `gorm:"not null;default:''"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (conversationRow) TableName() string { return "conversations" }

type unreadCountRow struct {
	ConversationID string `gorm:"primaryKey"`
	UserID         string `gorm:"primaryKey"`
	Unread         int64  `gorm:"not null;default:0"`
}

func (unreadCountRow) TableName() string { return "conversation_unread_counts" }

type messageRow struct {
	ID             string    `gorm:"primaryKey"`
	ConversationID string    `gorm:"not null;index:idx_messages_page,priority:1"`
	Date           time.Time `gorm:"not null;index:idx_messages_page,priority:2,sort:desc"`
	Seq            int64     `gorm:"not null;index:idx_messages_page,priority:3,sort:desc"`
	Sender         string    `gorm:"not null"`
	Receiver       string    `gorm:"not null"`
	Text           string    `gorm:"not null"`
}

func (messageRow) TableName() string { return "messages" }

type legacyChatRow struct {
	UserID    string             `gorm:"primaryKey"`
	TextsWith string             `gorm:"primaryKey"`
	Position  int                `gorm:"not null;default:0"`
	Texts     []model.LegacyText `gorm:"type:text;serializer:json"`
}

func (legacyChatRow) TableName() string { return "legacy_chats" }

type checkpointRow struct {
	Name          string `gorm:"primaryKey"`
	Cursor        string `gorm:"not null;default:''"`
	Users         int64
	Conversations int64
	Messages      int64
	Skipped       int64
	Done          bool
	UpdatedAt     time.Time
}

func (checkpointRow) TableName() string { return "migration_checkpoints" }

func (r userRow) toModel() model.User {
	return model.User{ID: r.ID, Name: r.Name, ProfilePicURL: r.ProfilePicURL, UnreadMessage: r.UnreadMessage}
}

func (r conversationRow) toModel(unread map[string]int64) model.Conversation {
	return model.Conversation{
		ID:      r.ID,
		Users:   []string{r.UserA, r.UserB},
		PairKey: r.PairKey,
		LastMessage: model.LastMessage{
			Text:   r.LastText,
			Sender: r.LastSender,
			Date:   r.LastDate,
			Seq:    r.LastSeq,
		},
		MessageSeq:   r.MessageSeq,
		UnreadCount:  unread,
		LegacySource: r.LegacySource,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

func conversationFromModel(c model.Conversation) conversationRow {
	pair := model.SortedPair(c.Users[0], c.Users[1])
	return conversationRow{
		ID:           c.ID,
		UserA:        pair[0],
		UserB:        pair[1],
		PairKey:      c.PairKey,
		LastText:     c.LastMessage.Text,
		LastSender:   c.LastMessage.Sender,
		LastDate:     c.LastMessage.Date,
		LastSeq:      c.LastMessage.Seq,
		MessageSeq:   c.MessageSeq,
		LegacySource: c.LegacySource,
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
	}
}

func (r messageRow) toModel() model.Message {
	return model.Message{
		ID:             r.ID,
		ConversationID: r.ConversationID,
		Sender:         r.Sender,
		Receiver:       r.Receiver,
		Text:           r.Text,
		Date:           r.Date,
		Seq:            r.Seq,
	}
}

func messageFromModel(m model.Message) messageRow {
	return messageRow{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Date:           m.Date,
		Seq:            m.Seq,
		Sender:         m.Sender,
		Receiver:       m.Receiver,
		Text:           m.Text,
	}
}

func (r checkpointRow) toModel() model.MigrationCheckpoint {
	return model.MigrationCheckpoint{
		Name:          r.Name,
		Cursor:        r.Cursor,
		Users:         r.Users,
		Conversations: r.Conversations,
		Messages:      r.Messages,
		Skipped:       r.Skipped,
		Done:          r.Done,
		UpdatedAt:     r.UpdatedAt,
	}
}
