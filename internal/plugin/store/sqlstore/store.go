package sqlstore

import (
	"context"
	"errors"

	"github.com/chirino/messaging-service/internal/model"
	registrystore "github.com/chirino/messaging-service/internal/registry/store"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func (s *Store) GetUser(ctx context.Context, userID string) (*model.User, error) {
	var row userRow
	if err := s.db.WithContext(ctx).First(&row, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &registrystore.NotFoundError{Resource: "user", ID: userID}
		}
		return nil, registrystore.Fail("get user", err)
	}
	user := row.toModel()
	return &user, nil
}

func (s *Store) PutUser(ctx context.Context, user model.User) error {
	row := userRow{ID: user.ID, Name: user.Name, ProfilePicURL: user.ProfilePicURL, UnreadMessage: user.UnreadMessage}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "profile_pic_url"}),
	}).Create(&row).Error
	return registrystore.Fail("put user", err)
}

func (s *Store) SetUnread(ctx context.Context, userID string) (bool, error) {
	return s.flipUnread(ctx, userID, true)
}

func (s *Store) ClearUnread(ctx context.Context, userID string) (bool, error) {
	return s.flipUnread(ctx, userID, false)
}

func (s *Store) flipUnread(ctx context.Context, userID string, value bool) (bool, error) {
	result := s.db.WithContext(ctx).Model(&userRow{}).
		Where("id = ? AND unread_message = ?", userID, !value).
		Update("unread_message", value)
	if result.Error != nil {
		return false, registrystore.Fail("update unread flag", result.Error)
	}
	if result.RowsAffected > 0 {
		return true, nil
	}
	var count int64
	if err := s.db.WithContext(ctx).Model(&userRow{}).Where("id = ?", userID).Count(&count).Error; err != nil {
		return false, registrystore.Fail("update unread flag", err)
	}
	if count == 0 {
		return false, &registrystore.NotFoundError{Resource: "user", ID: userID}
	}
	return false, nil
}

func (s *Store) FindConversation(ctx context.Context, pairKey string) (*model.Conversation, error) {
	var row conversationRow
	if err := s.db.WithContext(ctx).First(&row, "pair_key = ?", pairKey).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &registrystore.NotFoundError{Resource: "conversation", ID: pairKey}
		}
		return nil, registrystore.Fail("find conversation", err)
	}
	counts, err := s.unreadCounts(ctx, []string{row.ID})
	if err != nil {
		return nil, err
	}
	conv := row.toModel(counts[row.ID])
	return &conv, nil
}

func (s *Store) CreateConversation(ctx context.Context, conv model.Conversation) (*model.Conversation, error) {
	if len(conv.Users) != 2 {
		return nil, &registrystore.ValidationError{Field: "users", Message: "a conversation has exactly two users"}
	}
	row := conversationFromModel(conv)
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, &registrystore.ConflictError{
				Message: "conversation already exists for " + conv.PairKey,
				Code:    registrystore.ConflictPairExists,
			}
		}
		return nil, registrystore.Fail("create conversation", err)
	}
	created := row.toModel(nil)
	return &created, nil
}

func (s *Store) ListConversations(ctx context.Context, userID string) ([]model.Conversation, error) {
	var rows []conversationRow
	err := s.db.WithContext(ctx).
		Where("user_a = ? OR user_b = ?", userID, userID).
		Order("last_date DESC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, registrystore.Fail("list conversations", err)
	}
	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
	}
	counts, err := s.unreadCounts(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]model.Conversation, len(rows))
	for i, r := range rows {
		out[i] = r.toModel(counts[r.ID])
	}
	return out, nil
}

func (s *Store) unreadCounts(ctx context.Context, conversationIDs []string) (map[string]map[string]int64, error) {
	out := map[string]map[string]int64{}
	if len(conversationIDs) == 0 {
		return out, nil
	}
	var rows []unreadCountRow
	if err := s.db.WithContext(ctx).Where("conversation_id IN ?", conversationIDs).Find(&rows).Error; err != nil {
		return nil, registrystore.Fail("load unread counts", err)
	}
	for _, r := range rows {
		if out[r.ConversationID] == nil {
			out[r.ConversationID] = map[string]int64{}
		}
		out[r.ConversationID][r.UserID] = r.Unread
	}
	return out, nil
}

func (s *Store) ResetUnreadCount(ctx context.Context, conversationID, userID string) error {
	err := s.db.WithContext(ctx).
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		Delete(&unreadCountRow{}).Error
	return registrystore.Fail("reset unread count", err)
}

func (s *Store) AppendMessage(ctx context.Context, msg model.Message) (*model.Message, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		claim := tx.Model(&conversationRow{}).
			Where("id = ?", msg.ConversationID).
			UpdateColumn("message_seq", gorm.Expr("message_seq + 1"))
		if claim.Error != nil {
			return claim.Error
		}
		if claim.RowsAffected == 0 {
			return &registrystore.NotFoundError{Resource: "conversation", ID: msg.ConversationID}
		}
		var conv conversationRow
		if err := tx.Select("message_seq").First(&conv, "id = ?", msg.ConversationID).Error; err != nil {
			return err
		}
		msg.Seq = conv.MessageSeq

		row := messageFromModel(msg)
		if err := tx.Create(&row).Error; err != nil {
			return err
		}

		err := tx.Model(&conversationRow{}).
			Where("id = ? AND last_seq < ?", msg.ConversationID, msg.Seq).
			UpdateColumns(map[string]any{
				"last_text":   msg.Text,
				"last_sender": msg.Sender,
				"last_date":   msg.Date,
				"last_seq":    msg.Seq,
				"updated_at":  msg.Date,
			}).Error
		if err != nil {
			return err
		}

		return tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "conversation_id"}, {Name: "user_id"}},
			DoUpdates: clause.Assignments(map[string]any{
				"unread": gorm.Expr("conversation_unread_counts.unread + 1"),
			}),
		}).Create(&unreadCountRow{ConversationID: msg.ConversationID, UserID: msg.Receiver, Unread: 1}).Error
	})
	if err != nil {
		return nil, registrystore.Fail("append message", err)
	}
	return &msg, nil
}

func (s *Store) ListMessages(ctx context.Context, conversationID string, offset, limit int) ([]model.Message, error) {
	var rows []messageRow
	err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("date DESC, seq DESC").
		Offset(offset).
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, registrystore.Fail("list messages", err)
	}
	out := make([]model.Message, len(rows))
	for i, r := range rows {
		out[i] = r.toModel()
	}
	return out, nil
}

func (s *Store) CountMessages(ctx context.Context, conversationID string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&messageRow{}).Where("conversation_id = ?", conversationID).Count(&count).Error
	return count, registrystore.Fail("count messages", err)
}
