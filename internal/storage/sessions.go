package storage

import (
	"context"
	"fmt"
	"time"

	"spark/backend/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func (s *Service) CreateSession(ctx context.Context, sess *models.Session) error {
	var n int64
	err := s.db(ctx).Model(&models.Session{}).
		Where("status = ? AND (host_uid = ? OR guest_uid = ?)", models.SessionOpen, sess.HostUID, sess.HostUID).
		Count(&n).Error
	if err != nil {
		return classify(err)
	}
	if n > 0 {
		return fmt.Errorf("%w: %s already in an open session", ErrConflict, sess.HostUID)
	}
	// idx_sessions_open_host закриває вікно між перевіркою та вставкою
	return classify(s.db(ctx).Create(sess).Error)
}

func (s *Service) GetSession(ctx context.Context, id string) (*models.Session, error) {
	var sess models.Session
	if err := s.db(ctx).Where("id = ?", id).First(&sess).Error; err != nil {
		return nil, classify(err)
	}
	return &sess, nil
}

func (s *Service) LockSession(ctx context.Context, id string) (*models.Session, error) {
	var sess models.Session
	err := s.db(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id).First(&sess).Error
	if err != nil {
		return nil, classify(err)
	}
	return &sess, nil
}

func (s *Service) GetOpenSessionForUser(ctx context.Context, uid string) (*models.Session, error) {
	var sess models.Session
	err := s.db(ctx).
		Where("status = ? AND (host_uid = ? OR guest_uid = ?)", models.SessionOpen, uid, uid).
		Order("started_at DESC").
		First(&sess).Error
	if err != nil {
		return nil, classify(err)
	}
	return &sess, nil
}

// ClaimGuestSlot: атомарний CAS, лише один претендент отримає RowsAffected == 1
func (s *Service) ClaimGuestSlot(ctx context.Context, sessionID, guestUID string) (*models.Session, error) {
	res := s.db(ctx).Model(&models.Session{}).
		Where("id = ? AND guest_uid IS NULL AND status = ? AND closed_at IS NULL AND host_uid <> ?",
			sessionID, models.SessionOpen, guestUID).
		Where("NOT EXISTS (SELECT 1 FROM sessions o WHERE o.status = ? AND (o.host_uid = ? OR o.guest_uid = ?))",
			models.SessionOpen, guestUID, guestUID).
		Update("guest_uid", guestUID)
	if res.Error != nil {
		return nil, classify(res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("%w: session %s not available", ErrConflict, sessionID)
	}
	return s.GetSession(ctx, sessionID)
}

func (s *Service) CloseSession(ctx context.Context, sessionID string, status models.SessionStatus, at time.Time) (*models.Session, error) {
	res := s.db(ctx).Model(&models.Session{}).
		Where("id = ? AND status = ?", sessionID, models.SessionOpen).
		Updates(map[string]interface{}{
			"status":    status,
			"closed_at": at,
		})
	if res.Error != nil {
		return nil, classify(res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("%w: session %s is not open", ErrConflict, sessionID)
	}
	return s.GetSession(ctx, sessionID)
}

func (s *Service) ClearGuest(ctx context.Context, sessionID, guestUID string) (*models.Session, error) {
	res := s.db(ctx).Model(&models.Session{}).
		Where("id = ? AND guest_uid = ? AND status = ?", sessionID, guestUID, models.SessionOpen).
		Update("guest_uid", gorm.Expr("NULL"))
	if res.Error != nil {
		return nil, classify(res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("%w: %s is not the guest of %s", ErrConflict, guestUID, sessionID)
	}
	return s.GetSession(ctx, sessionID)
}

func (s *Service) ListOpenSessionsForQueuedHosts(ctx context.Context, excludeUID string, now time.Time, limit int) ([]models.Session, error) {
	var out []models.Session
	err := s.db(ctx).
		Select("sessions.*").
		Joins("JOIN queue_entries q ON q.user_id = sessions.host_uid").
		Where("sessions.status = ? AND sessions.guest_uid IS NULL AND sessions.closed_at IS NULL", models.SessionOpen).
		Where("sessions.host_uid <> ? AND q.expires_at > ?", excludeUID, now).
		Order("q.enqueued_at ASC").
		Limit(limit).
		Find(&out).Error
	return out, classify(err)
}

func (s *Service) ListOpenSessions(ctx context.Context, limit int) ([]models.Session, error) {
	var out []models.Session
	err := s.db(ctx).Where("status = ?", models.SessionOpen).Order("started_at ASC").Limit(limit).Find(&out).Error
	return out, classify(err)
}
