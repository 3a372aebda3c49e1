package storage

import (
	"context"
	"time"

	"spark/backend/internal/models"

	"gorm.io/gorm/clause"
)

// UpsertQueueEntry замінює попередній запис користувача, якщо він є
func (s *Service) UpsertQueueEntry(ctx context.Context, e *models.QueueEntry) error {
	err := s.db(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "user_id"}}, UpdateAll: true}).
		Create(e).Error
	return classify(err)
}

func (s *Service) GetQueueEntry(ctx context.Context, uid string, now time.Time) (*models.QueueEntry, error) {
	var e models.QueueEntry
	err := s.db(ctx).Where("user_id = ? AND expires_at > ?", uid, now).First(&e).Error
	if err != nil {
		return nil, classify(err)
	}
	return &e, nil
}

func (s *Service) DeleteQueueEntry(ctx context.Context, uid string) (bool, error) {
	res := s.db(ctx).Where("user_id = ?", uid).Delete(&models.QueueEntry{})
	if res.Error != nil {
		return false, classify(res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (s *Service) ListQueueCandidates(ctx context.Context, excludeUID string, now time.Time, limit int) ([]models.QueueEntry, error) {
	var out []models.QueueEntry
	err := s.db(ctx).
		Where("user_id <> ? AND expires_at > ?", excludeUID, now).
		Order("enqueued_at ASC").
		Limit(limit).
		Find(&out).Error
	return out, classify(err)
}

func (s *Service) ListStaleWaiters(ctx context.Context, cutoff, now time.Time, limit int) ([]models.QueueEntry, error) {
	var out []models.QueueEntry
	err := s.db(ctx).
		Where("expires_at > ? AND enqueued_at <= ?", now, cutoff).
		Where("NOT EXISTS (SELECT 1 FROM sessions s WHERE s.status = ? AND (s.host_uid = queue_entries.user_id OR s.guest_uid = queue_entries.user_id))", models.SessionOpen).
		Order("enqueued_at ASC").
		Limit(limit).
		Find(&out).Error
	return out, classify(err)
}

func (s *Service) DeleteExpiredQueueEntries(ctx context.Context, now time.Time) (int64, error) {
	res := s.db(ctx).Where("expires_at <= ?", now).Delete(&models.QueueEntry{})
	return res.RowsAffected, classify(res.Error)
}
