package storage

import (
	"context"

	"spark/backend/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func (s *Service) AddSessionChatEntry(ctx context.Context, e *models.SessionChatEntry) error {
	return classify(s.db(ctx).Create(e).Error)
}

func (s *Service) ListSessionChatEntries(ctx context.Context, sessionID string, limit int) ([]models.SessionChatEntry, error) {
	var out []models.SessionChatEntry
	err := s.db(ctx).Where("session_id = ?", sessionID).Order("created_at ASC").Limit(limit).Find(&out).Error
	return out, classify(err)
}

func (s *Service) CreateInteraction(ctx context.Context, i *models.Interaction) (*models.Interaction, bool, error) {
	res := s.db(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(i)
	if res.Error != nil {
		return nil, false, classify(res.Error)
	}
	if res.RowsAffected == 1 {
		return i, true, nil
	}
	existing, err := s.FindInteraction(ctx, i.Kind, i.FromUID, i.SessionID)
	return existing, false, err
}

func (s *Service) FindInteraction(ctx context.Context, kind, fromUID, sessionID string) (*models.Interaction, error) {
	var i models.Interaction
	err := s.db(ctx).Where("kind = ? AND from_uid = ? AND session_id = ?", kind, fromUID, sessionID).First(&i).Error
	if err != nil {
		return nil, classify(err)
	}
	return &i, nil
}

func (s *Service) CreateChat(ctx context.Context, c *models.Chat) (*models.Chat, bool, error) {
	c.UserAUID, c.UserBUID = models.CanonicalPair(c.UserAUID, c.UserBUID)
	res := s.db(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(c)
	if res.Error != nil {
		return nil, false, classify(res.Error)
	}
	if res.RowsAffected == 1 {
		return c, true, nil
	}
	existing, err := s.GetChatForPair(ctx, c.UserAUID, c.UserBUID)
	return existing, false, err
}

func (s *Service) GetChat(ctx context.Context, id string) (*models.Chat, error) {
	var c models.Chat
	if err := s.db(ctx).Where("id = ?", id).First(&c).Error; err != nil {
		return nil, classify(err)
	}
	return &c, nil
}

func (s *Service) GetChatForPair(ctx context.Context, a, b string) (*models.Chat, error) {
	a, b = models.CanonicalPair(a, b)
	var c models.Chat
	if err := s.db(ctx).Where("user_a_uid = ? AND user_b_uid = ?", a, b).First(&c).Error; err != nil {
		return nil, classify(err)
	}
	return &c, nil
}

func (s *Service) ListChatsForUser(ctx context.Context, uid string) ([]models.Chat, error) {
	var out []models.Chat
	err := s.db(ctx).
		Where("user_a_uid = ? OR user_b_uid = ?", uid, uid).
		Order("COALESCE(last_message_at, created_at) DESC").
		Find(&out).Error
	return out, classify(err)
}

func (s *Service) AddChatMessage(ctx context.Context, m *models.ChatMessage) error {
	err := s.db(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(m).Error; err != nil {
			return err
		}
		return tx.Model(&models.Chat{}).Where("id = ?", m.ChatID).Update("last_message_at", m.CreatedAt).Error
	})
	return classify(err)
}

func (s *Service) ListChatMessages(ctx context.Context, chatID string, limit int) ([]models.ChatMessage, error) {
	var out []models.ChatMessage
	err := s.db(ctx).Where("chat_id = ?", chatID).Order("created_at ASC").Limit(limit).Find(&out).Error
	return out, classify(err)
}
