package mongo

import (
	"time"

	"github.com/chirino/messaging-service/internal/model"
	"go.mongodb.org/mongo-driver/v2/bson"
)

type userDoc struct {
	ID            string `bson:"_id"`
	Name          string `bson:"name"`
	ProfilePicURL string `bson:"profile_pic_url"`
	UnreadMessage bool   `bson:"unread_message"`
}

// legacyUserDoc is one document of the decommissioned per-user chats
// collection. user and textsWith hold ObjectIds in data written by the old
// application, and strings in data seeded by this service.
type legacyUserDoc struct {
	User  bson.RawValue   `bson:"user"`
	Chats []legacyChatDoc `bson:"chats"`
}

type legacyChatDoc struct {
	TextsWith bson.RawValue   `bson:"textsWith"`
	Texts     []legacyTextDoc `bson:"texts"`
}

type legacyTextDoc struct {
	Sender   bson.RawValue `bson:"sender"`
	Receiver bson.RawValue `bson:"receiver"`
	Text     string        `bson:"text"`
	Date     time.Time     `bson:"date"`
}

type lastMessageDoc struct {
	Text   string    `bson:"text"`
	Sender string    `bson:"sender"`
	Date   time.Time `bson:"date"`
	Seq    int64     `bson:"seq"`
}

type convDoc struct {
	ID           string           `bson:"_id"`
	Users        []string         `bson:"users"`
	PairKey      string           `bson:"pair_key"`
	LastMessage  lastMessageDoc   `bson:"last_message"`
	MessageSeq   int64            `bson:"message_seq"`
	UnreadCount  map[string]int64 `bson:"unread_count,omitempty"`
	LegacySource string           `bson:"legacy_source,omitempty"`
	CreatedAt    time.Time        `bson:"created_at"`
	UpdatedAt    time.Time        `bson:"updated_at"`
}

type messageDoc struct {
	ID             string    `bson:"_id"`
	ConversationID string    `bson:"conversation_id"`
	Sender         string    `bson:"sender"`
	Receiver       string    `bson:"receiver"`
	Text           string    `bson:"text"`
	Date           time.Time `bson:"date"`
	Seq            int64     `bson:"seq"`
}

type checkpointDoc struct {
	Name          string    `bson:"_id"`
	Cursor        string    `bson:"cursor"`
	Users         int64     `bson:"users"`
	Conversations int64     `bson:"conversations"`
	Messages      int64     `bson:"messages"`
	Skipped       int64     `bson:"skipped"`
	Done          bool      `bson:"done"`
	UpdatedAt     time.Time `bson:"updated_at"`
}

func (d userDoc) toModel() model.User {
	return model.User{ID: d.ID, Name: d.Name, ProfilePicURL: d.ProfilePicURL, UnreadMessage: d.UnreadMessage}
}

// idString renders a legacy reference as a user id: ObjectIds become their
// hex form, strings are kept, anything else is "".
func idString(v bson.RawValue) string {
	if oid, ok := v.ObjectIDOK(); ok {
		return oid.Hex()
	}
	if s, ok := v.StringValueOK(); ok {
		return s
	}
	return ""
}

func (d legacyUserDoc) toModel() model.LegacyUser {
	out := model.LegacyUser{UserID: idString(d.User), Chats: make([]model.LegacyChat, len(d.Chats))}
	for i, c := range d.Chats {
		chat := model.LegacyChat{TextsWith: idString(c.TextsWith)}
		for _, t := range c.Texts {
			chat.Texts = append(chat.Texts, model.LegacyText{
				Sender:   idString(t.Sender),
				Receiver: idString(t.Receiver),
				Text:     t.Text,
				Date:     t.Date.UTC(),
			})
		}
		out.Chats[i] = chat
	}
	return out
}

func legacyChatsFromModel(chats []model.LegacyChat) []bson.M {
	out := make([]bson.M, len(chats))
	for i, c := range chats {
		texts := make([]bson.M, len(c.Texts))
		for j, t := range c.Texts {
			texts[j] = bson.M{"sender": t.Sender, "receiver": t.Receiver, "text": t.Text, "date": t.Date}
		}
		out[i] = bson.M{"textsWith": c.TextsWith, "texts": texts}
	}
	return out
}

func (d convDoc) toModel() model.Conversation {
	return model.Conversation{
		ID:      d.ID,
		Users:   d.Users,
		PairKey: d.PairKey,
		LastMessage: model.LastMessage{
			Text:   d.LastMessage.Text,
			Sender: d.LastMessage.Sender,
			Date:   d.LastMessage.Date.UTC(),
			Seq:    d.LastMessage.Seq,
		},
		MessageSeq:   d.MessageSeq,
		UnreadCount:  d.UnreadCount,
		LegacySource: d.LegacySource,
		CreatedAt:    d.CreatedAt.UTC(),
		UpdatedAt:    d.UpdatedAt.UTC(),
	}
}

func convFromModel(c model.Conversation) convDoc {
	return convDoc{
		ID:      c.ID,
		Users:   model.SortedPair(c.Users[0], c.Users[1]),
		PairKey: c.PairKey,
		LastMessage: lastMessageDoc{
			Text:   c.LastMessage.Text,
			Sender: c.LastMessage.Sender,
			Date:   c.LastMessage.Date,
			Seq:    c.LastMessage.Seq,
		},
		MessageSeq:   c.MessageSeq,
		LegacySource: c.LegacySource,
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
	}
}

func (d messageDoc) toModel() model.Message {
	return model.Message{
		ID:             d.ID,
		ConversationID: d.ConversationID,
		Sender:         d.Sender,
		Receiver:       d.Receiver,
		Text:           d.Text,
		Date:           d.Date.UTC(),
		Seq:            d.Seq,
	}
}

func messageFromModel(m model.Message) messageDoc {
	return messageDoc{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Sender:         m.Sender,
		Receiver:       m.Receiver,
		Text:           m.Text,
		Date:           m.Date,
		Seq:            m.Seq,
	}
}

func (d checkpointDoc) toModel() model.MigrationCheckpoint {
	return model.MigrationCheckpoint{
		Name:          d.Name,
		Cursor:        d.Cursor,
		Users:         d.Users,
		Conversations: d.Conversations,
		Messages:      d.Messages,
		Skipped:       d.Skipped,
		Done:          d.Done,
		UpdatedAt:     d.UpdatedAt.UTC(),
	}
}
