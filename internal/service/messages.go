package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/messaging-service/internal/model"
	registrycache "github.com/chirino/messaging-service/internal/registry/cache"
	registryevents "github.com/chirino/messaging-service/internal/registry/events"
	registrystore "github.com/chirino/messaging-service/internal/registry/store"
	"github.com/chirino/messaging-service/internal/security"
	"github.com/chirino/messaging-service/internal/sessions"
	"github.com/google/uuid"
)

// Push is the payload delivered to a recipient's live session.
type Push struct {
	NewText     model.Message `json:"newText"`
	UserDetails model.Profile `json:"userDetails"`
}

// Notifier pushes messages to live transport sessions.
type Notifier interface {
	// Deliver returns an error when the session is gone or cannot take more
	// frames; the caller then falls back to the unread flag.
	Deliver(ctx context.Context, sessionID string, push Push) error
}

// ChatPage is one window of a conversation plus its header data.
type ChatPage struct {
	ConversationID string            `json:"_id"`
	TextsWith      model.Profile     `json:"textsWith"`
	Texts          []model.Message   `json:"texts"`
	HasMore        bool              `json:"hasMore"`
	LastMessage    model.LastMessage `json:"lastMessage"`
}

// PageResult carries either a chat page, or only the partner's profile when
// the pair has never exchanged a message.
type PageResult struct {
	Chat             *ChatPage      `json:"chat,omitempty"`
	TextsWithDetails *model.Profile `json:"textsWithDetails,omitempty"`
}

// SendResult reports the persisted message and how it reached the recipient.
type SendResult struct {
	Message        model.Message         `json:"newText"`
	Outcome        model.DeliveryOutcome `json:"outcome"`
	ConversationID string                `json:"conversationId"`
	// Created is true when this send created the conversation.
	Created bool `json:"created"`
}

// ChatSummary is one row of a user's conversation list.
type ChatSummary struct {
	TextsWith     string    `json:"textsWith"`
	Name          string    `json:"name"`
	ProfilePicURL string    `json:"profilePicUrl"`
	LastText      string    `json:"lastText"`
	Date          time.Time `json:"date"`
	UnreadCount   int64     `json:"unreadCount"`
}

// Option configures a MessageService.
type Option func(*MessageService)

// WithPageSize overrides DefaultPageSize.
func WithPageSize(n int) Option {
	return func(s *MessageService) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

// WithPublisher publishes a message.sent event after every send.
func WithPublisher(p registryevents.Publisher) Option {
	return func(s *MessageService) { s.publisher = p }
}

// WithProfileCache puts a cache in front of user profile lookups.
func WithProfileCache(c registrycache.ProfileCache, ttl time.Duration) Option {
	return func(s *MessageService) {
		s.profiles.cache = c
		s.profiles.ttl = ttl
	}
}

// WithClock replaces time.Now for message and conversation timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *MessageService) { s.now = now }
}

// MessageService owns every write to conversations and messages.
type MessageService struct {
	store     registrystore.MessageStore
	registry  *sessions.Registry
	notifier  Notifier
	publisher registryevents.Publisher
	profiles  profileResolver
	pageSize  int
	now       func() time.Time
}

// NewMessageService wires a service to its store and connection registry.
// notifier may be nil, in which case every recipient is marked unread.
func NewMessageService(store registrystore.MessageStore, registry *sessions.Registry, notifier Notifier, opts ...Option) *MessageService {
	s := &MessageService{
		store:    store,
		registry: registry,
		notifier: notifier,
		profiles: profileResolver{store: store},
		pageSize: DefaultPageSize,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PageSize returns the configured history window size.
func (s *MessageService) PageSize() int { return s.pageSize }

// Profile returns a user's display profile.
func (s *MessageService) Profile(ctx context.Context, userID string) (model.Profile, error) {
	return s.profiles.lookup(ctx, userID)
}

// LoadPage returns history window `page` of the conversation between userID
// and partnerID, or the partner's profile alone when none exists yet.
func (s *MessageService) LoadPage(ctx context.Context, userID, partnerID string, page int) (*PageResult, error) {
	if err := validatePair(userID, partnerID, "textsWith"); err != nil {
		return nil, err
	}
	if err := validatePage(page, s.pageSize); err != nil {
		return nil, err
	}

	conv, err := s.store.FindConversation(ctx, model.PairKey(userID, partnerID))
	if err != nil {
		var notFound *registrystore.NotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		partner, err := s.profiles.lookup(ctx, partnerID)
		if err != nil {
			return nil, err
		}
		return &PageResult{TextsWithDetails: &partner}, nil
	}

	texts, hasMore, err := Paginate(ctx, s.store, conv.ID, page, s.pageSize)
	if err != nil {
		return nil, err
	}
	partner, err := s.profiles.lookup(ctx, partnerID)
	if err != nil {
		return nil, err
	}
	if conv.UnreadCount[userID] > 0 {
		if err := s.store.ResetUnreadCount(ctx, conv.ID, userID); err != nil {
			log.Warn("Failed to reset unread count", "conversationId", conv.ID, "userId", userID, "err", err)
		}
	}
	return &PageResult{Chat: &ChatPage{
		ConversationID: conv.ID,
		TextsWith:      partner,
		Texts:          texts,
		HasMore:        hasMore,
		LastMessage:    conv.LastMessage,
	}}, nil
}

// Send persists a message from senderID to recipientID and then pushes it to
// the recipient's live session, or flags the recipient unread when there is
// none. Delivery problems never fail the send.
func (s *MessageService) Send(ctx context.Context, senderID, recipientID, text string) (*SendResult, error) {
	if strings.TrimSpace(text) == "" {
		return nil, &registrystore.ValidationError{Field: "text", Message: "must not be empty"}
	}
	if err := validatePair(senderID, recipientID, "userToTextId"); err != nil {
		return nil, err
	}
	if _, err := s.profiles.lookup(ctx, recipientID); err != nil {
		return nil, err
	}

	conv, created, err := s.findOrCreateConversation(ctx, senderID, recipientID)
	if err != nil {
		return nil, err
	}

	saved, err := s.store.AppendMessage(ctx, model.Message{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		Sender:         senderID,
		Receiver:       recipientID,
		Text:           text,
		Date:           s.timestamp(),
	})
	if err != nil {
		return nil, err
	}

	outcome := s.deliver(ctx, *saved)
	security.RecordMessageSent(string(outcome))
	s.publish(ctx, *saved, outcome)
	log.Debug("Message sent",
		"conversationId", conv.ID,
		"messageId", saved.ID,
		"seq", saved.Seq,
		"outcome", outcome,
	)
	return &SendResult{
		Message:        *saved,
		Outcome:        outcome,
		ConversationID: conv.ID,
		Created:        created,
	}, nil
}

// MarkRead clears the user's unread flag and reports whether it was set.
func (s *MessageService) MarkRead(ctx context.Context, userID string) (bool, error) {
	return s.store.ClearUnread(ctx, userID)
}

// ListChats returns the user's conversations, most recently active first.
// Conversations whose partner no longer exists are left out.
func (s *MessageService) ListChats(ctx context.Context, userID string) ([]ChatSummary, error) {
	convs, err := s.store.ListConversations(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]ChatSummary, 0, len(convs))
	for _, conv := range convs {
		partnerID := conv.Partner(userID)
		if partnerID == "" {
			continue
		}
		partner, err := s.profiles.lookup(ctx, partnerID)
		if err != nil {
			var notFound *registrystore.NotFoundError
			if errors.As(err, &notFound) {
				continue
			}
			return nil, err
		}
		out = append(out, ChatSummary{
			TextsWith:     partnerID,
			Name:          partner.Name,
			ProfilePicURL: partner.ProfilePicURL,
			LastText:      conv.LastMessage.Text,
			Date:          conv.LastMessage.Date,
			UnreadCount:   conv.UnreadCount[userID],
		})
	}
	return out, nil
}

// findOrCreateConversation relies on the store's unique pair constraint: a
// conflict on insert means another send won the race, so the winner is
// re-fetched.
func (s *MessageService) findOrCreateConversation(ctx context.Context, a, b string) (*model.Conversation, bool, error) {
	key := model.PairKey(a, b)
	conv, err := s.store.FindConversation(ctx, key)
	if err == nil {
		return conv, false, nil
	}
	var notFound *registrystore.NotFoundError
	if !errors.As(err, &notFound) {
		return nil, false, err
	}

	now := s.timestamp()
	conv, err = s.store.CreateConversation(ctx, model.Conversation{
		ID:        uuid.NewString(),
		Users:     model.SortedPair(a, b),
		PairKey:   key,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err == nil {
		return conv, true, nil
	}
	var conflict *registrystore.ConflictError
	if !errors.As(err, &conflict) {
		return nil, false, err
	}
	conv, err = s.store.FindConversation(ctx, key)
	if err != nil {
		return nil, false, err
	}
	return conv, false, nil
}

// timestamp is millisecond precision so every store round-trips it unchanged.
func (s *MessageService) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Millisecond)
}

func (s *MessageService) deliver(ctx context.Context, msg model.Message) model.DeliveryOutcome {
	if sessionID, ok := s.registry.FindSession(msg.Receiver); ok && s.notifier != nil {
		sender, err := s.profiles.lookup(ctx, msg.Sender)
		if err != nil {
			log.Warn("Sender profile unavailable for push", "userId", msg.Sender, "err", err)
			sender = model.Profile{ID: msg.Sender}
		}
		err = s.notifier.Deliver(ctx, sessionID, Push{NewText: msg, UserDetails: sender})
		if err == nil {
			return model.OutcomeDelivered
		}
		log.Warn("Push failed; marking recipient unread", "userId", msg.Receiver, "sessionId", sessionID, "err", err)
	}
	if _, err := s.store.SetUnread(ctx, msg.Receiver); err != nil {
		log.Error("Failed to mark recipient unread", "userId", msg.Receiver, "err", err)
	}
	return model.OutcomeMarkedUnread
}

func (s *MessageService) publish(ctx context.Context, msg model.Message, outcome model.DeliveryOutcome) {
	if s.publisher == nil {
		return
	}
	err := s.publisher.Publish(ctx, registryevents.MessageEvent{
		Type:           registryevents.TypeMessageSent,
		MessageID:      msg.ID,
		ConversationID: msg.ConversationID,
		Sender:         msg.Sender,
		Receiver:       msg.Receiver,
		Text:           msg.Text,
		Date:           msg.Date,
		Outcome:        string(outcome),
	})
	if err != nil {
		security.RecordEventPublishFailure()
		log.Warn("Failed to publish message event", "messageId", msg.ID, "err", err)
	}
}

func validatePair(userID, partnerID, field string) error {
	if strings.TrimSpace(userID) == "" {
		return &registrystore.ValidationError{Field: "userId", Message: "is required"}
	}
	if strings.TrimSpace(partnerID) == "" {
		return &registrystore.ValidationError{Field: field, Message: "is required"}
	}
	if userID == partnerID {
		return &registrystore.ValidationError{Field: field, Message: "must differ from userId"}
	}
	return nil
}
