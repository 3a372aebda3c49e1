package storage

import (
	"context"
	"fmt"
	"time"

	"spark/backend/internal/models"
	"spark/backend/internal/options"

	"gorm.io/gorm"
)

// Storage is the transactional store behind the queue, sessions,
// interactions and durable chats. Every method honours ctx.
type Storage interface {
	// WithTx runs fn inside one transaction; any error rolls everything back.
	WithTx(ctx context.Context, fn func(tx Storage) error) error

	// UpsertQueueEntry inserts the entry, replacing any existing row for the user.
	UpsertQueueEntry(ctx context.Context, e *models.QueueEntry) error
	// GetQueueEntry returns the live entry of uid or ErrNotFound.
	GetQueueEntry(ctx context.Context, uid string, now time.Time) (*models.QueueEntry, error)
	// DeleteQueueEntry removes the row of uid and reports whether one existed.
	DeleteQueueEntry(ctx context.Context, uid string) (bool, error)
	// ListQueueCandidates returns live entries other than excludeUID, oldest first.
	ListQueueCandidates(ctx context.Context, excludeUID string, now time.Time, limit int) ([]models.QueueEntry, error)
	// ListStaleWaiters returns live entries enqueued at or before cutoff whose
	// user has no open session, oldest first.
	ListStaleWaiters(ctx context.Context, cutoff, now time.Time, limit int) ([]models.QueueEntry, error)
	DeleteExpiredQueueEntries(ctx context.Context, now time.Time) (int64, error)

	// CreateSession inserts s. ErrConflict if the host is already in an open session.
	CreateSession(ctx context.Context, s *models.Session) error
	GetSession(ctx context.Context, id string) (*models.Session, error)
	// LockSession loads a session and holds a row lock until the transaction ends.
	LockSession(ctx context.Context, id string) (*models.Session, error)
	// GetOpenSessionForUser returns the open session uid hosts or joined, or ErrNotFound.
	GetOpenSessionForUser(ctx context.Context, uid string) (*models.Session, error)
	// ClaimGuestSlot sets guest_uid with a single conditional update.
	// ErrConflict unless the session is open, unclaimed and not hosted by guestUID.
	ClaimGuestSlot(ctx context.Context, sessionID, guestUID string) (*models.Session, error)
	// CloseSession moves an open session to status; ErrConflict if it is not open.
	CloseSession(ctx context.Context, sessionID string, status models.SessionStatus, at time.Time) (*models.Session, error)
	// ClearGuest empties the guest slot if guestUID still holds it.
	ClearGuest(ctx context.Context, sessionID, guestUID string) (*models.Session, error)
	// ListOpenSessionsForQueuedHosts returns unclaimed sessions whose host still
	// has a live queue entry, ordered by the host's enqueue time.
	ListOpenSessionsForQueuedHosts(ctx context.Context, excludeUID string, now time.Time, limit int) ([]models.Session, error)
	ListOpenSessions(ctx context.Context, limit int) ([]models.Session, error)

	AddSessionChatEntry(ctx context.Context, e *models.SessionChatEntry) error
	ListSessionChatEntries(ctx context.Context, sessionID string, limit int) ([]models.SessionChatEntry, error)

	// CreateInteraction inserts i unless the same (kind, from, session) exists.
	// It returns the stored row and whether it was created by this call.
	CreateInteraction(ctx context.Context, i *models.Interaction) (*models.Interaction, bool, error)
	FindInteraction(ctx context.Context, kind, fromUID, sessionID string) (*models.Interaction, error)

	// CreateChat inserts c unless a chat for the same pair exists.
	CreateChat(ctx context.Context, c *models.Chat) (*models.Chat, bool, error)
	GetChat(ctx context.Context, id string) (*models.Chat, error)
	GetChatForPair(ctx context.Context, a, b string) (*models.Chat, error)
	ListChatsForUser(ctx context.Context, uid string) ([]models.Chat, error)
	// AddChatMessage appends m and bumps the chat's last_message_at.
	AddChatMessage(ctx context.Context, m *models.ChatMessage) error
	ListChatMessages(ctx context.Context, chatID string, limit int) ([]models.ChatMessage, error)
}

// Service is the gorm/Postgres Storage.
type Service struct {
	DB *gorm.DB
}

// NewStorageService конструктор
func NewStorageService(db *gorm.DB) *Service {
	return &Service{DB: db}
}

func (s *Service) WithTx(ctx context.Context, fn func(tx Storage) error) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Service{DB: tx})
	})
}

func (s *Service) db(ctx context.Context) *gorm.DB {
	return s.DB.WithContext(ctx)
}

// Migrate створює таблиці та часткові унікальні індекси, на яких
// тримається ексклюзивність сесій.
func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&models.QueueEntry{},
		&models.Session{},
		&models.SessionChatEntry{},
		&models.Interaction{},
		&models.Chat{},
		&models.ChatMessage{},
		&models.ProfileRecord{},
		&models.PreferenceRecord{},
	)
	if err != nil {
		return fmt.Errorf("automigrate: %w", err)
	}

	for _, kind := range []options.Kind{
		options.KindGender, options.KindMode, options.KindRelationshipGoal,
		options.KindPersonalityType, options.KindLoveLanguage, options.KindAttachmentStyle,
		options.KindPoliticalView, options.KindZodiacSign, options.KindReligion,
		options.KindDiet, options.KindExerciseFrequency, options.KindSmokeFrequency,
		options.KindDrinkFrequency, options.KindSleepSchedule, options.KindPronoun,
		options.KindLanguage, options.KindInterest, options.KindPet, options.KindOrientation,
	} {
		if err := db.Table(kind.Table()).AutoMigrate(&options.Option{}); err != nil {
			return fmt.Errorf("automigrate %s: %w", kind.Table(), err)
		}
	}

	for _, stmt := range []string{
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_open_host ON sessions (host_uid) WHERE status = 'open'`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_open_guest ON sessions (guest_uid) WHERE status = 'open' AND guest_uid IS NOT NULL`,
	} {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}
	return nil
}
