package sqlstore

import (
	"context"
	"errors"
	"time"

	"github.com/chirino/messaging-service/internal/model"
	registrystore "github.com/chirino/messaging-service/internal/registry/store"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PutLegacyUser writes a user's legacy chat list, replacing any chats
// already stored for that user.
func (s *Store) PutLegacyUser(ctx context.Context, user model.LegacyUser) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", user.UserID).Delete(&legacyChatRow{}).Error; err != nil {
			return err
		}
		for i, chat := range user.Chats {
			row := legacyChatRow{UserID: user.UserID, TextsWith: chat.TextsWith, Position: i, Texts: chat.Texts}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		}
		return nil
	})
	return registrystore.Fail("put legacy user", err)
}

func (s *Store) ListLegacyUsers(ctx context.Context, after string, limit int) ([]model.LegacyUser, error) {
	var ids []string
	err := s.db.WithContext(ctx).Model(&legacyChatRow{}).
		Distinct("user_id").
		Where("user_id > ?", after).
		Order("user_id ASC").
		Limit(limit).
		Pluck("user_id", &ids).Error
	if err != nil {
		return nil, registrystore.Fail("list legacy users", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	var rows []legacyChatRow
	err = s.db.WithContext(ctx).
		Where("user_id IN ?", ids).
		Order("user_id ASC, position ASC").
		Find(&rows).Error
	if err != nil {
		return nil, registrystore.Fail("list legacy users", err)
	}

	out := make([]model.LegacyUser, 0, len(ids))
	for _, r := range rows {
		if len(out) == 0 || out[len(out)-1].UserID != r.UserID {
			out = append(out, model.LegacyUser{UserID: r.UserID})
		}
		last := &out[len(out)-1]
		last.Chats = append(last.Chats, model.LegacyChat{TextsWith: r.TextsWith, Texts: r.Texts})
	}
	return out, nil
}

func (s *Store) ImportConversation(ctx context.Context, conv model.Conversation, msgs []model.Message) (*registrystore.ImportResult, error) {
	if len(conv.Users) != 2 {
		return nil, &registrystore.ValidationError{Field: "users", Message: "a conversation has exactly two users"}
	}
	result := &registrystore.ImportResult{}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing conversationRow
		err := tx.First(&existing, "pair_key = ?", conv.PairKey).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			row := conversationFromModel(conv)
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		case err != nil:
			return err
		case existing.ID != conv.ID || existing.LegacySource != conv.LegacySource:
			result.Skipped = true
			return nil
		}

		if len(msgs) == 0 {
			return nil
		}
		rows := make([]messageRow, len(msgs))
		for i, m := range msgs {
			rows[i] = messageFromModel(m)
		}
		result.Messages = len(rows)
		return tx.Clauses(clause.OnConflict{DoNothing: true}).CreateInBatches(rows, 500).Error
	})
	if err != nil {
		return nil, registrystore.Fail("import conversation", err)
	}
	return result, nil
}

func (s *Store) GetCheckpoint(ctx context.Context, name string) (*model.MigrationCheckpoint, error) {
	var row checkpointRow
	if err := s.db.WithContext(ctx).First(&row, "name = ?", name).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, registrystore.Fail("get checkpoint", err)
	}
	cp := row.toModel()
	return &cp, nil
}

func (s *Store) SaveCheckpoint(ctx context.Context, cp model.MigrationCheckpoint) error {
	row := checkpointRow{
		Name:          cp.Name,
		Cursor:        cp.Cursor,
		Users:         cp.Users,
		Conversations: cp.Conversations,
		Messages:      cp.Messages,
		Skipped:       cp.Skipped,
		Done:          cp.Done,
		UpdatedAt:     time.Now().UTC(),
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		UpdateAll: true,
	}).Create(&row).Error
	return registrystore.Fail("save checkpoint", err)
}

func (s *Store) DeleteCheckpoint(ctx context.Context, name string) error {
	err := s.db.WithContext(ctx).Where("name = ?", name).Delete(&checkpointRow{}).Error
	return registrystore.Fail("delete checkpoint", err)
}
