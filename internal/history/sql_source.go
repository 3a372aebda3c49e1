package history

import (
	"context"
	"database/sql"
	"time"

	"spark/backend/internal/models"

	"github.com/jmoiron/sqlx"
)

// SQLSource reads history straight from the chats and sessions tables.
type SQLSource struct {
	db *sqlx.DB
}

// NewSQLSource wraps an existing connection pool; driverName only selects
// the bind style.
func NewSQLSource(db *sql.DB, driverName string) *SQLSource {
	return &SQLSource{db: sqlx.NewDb(db, driverName)}
}

func (s *SQLSource) ChatExistsForPair(ctx context.Context, a, b string) (bool, error) {
	a, b = models.CanonicalPair(a, b)
	var exists bool
	query := s.db.Rebind(`SELECT EXISTS(SELECT 1 FROM chats WHERE user_a_uid = ? AND user_b_uid = ?)`)
	err := s.db.GetContext(ctx, &exists, query, a, b)
	return exists, err
}

func (s *SQLSource) LastSessionEndBetween(ctx context.Context, a, b string) (*time.Time, error) {
	var last sql.NullTime
	query := s.db.Rebind(`SELECT MAX(closed_at) FROM sessions
		WHERE closed_at IS NOT NULL
		  AND ((host_uid = ? AND guest_uid = ?) OR (host_uid = ? AND guest_uid = ?))`)
	if err := s.db.GetContext(ctx, &last, query, a, b, b, a); err != nil {
		return nil, err
	}
	if !last.Valid {
		return nil, nil
	}
	return &last.Time, nil
}
