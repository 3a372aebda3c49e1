package matchmaking

import (
	"context"
	"errors"
	"time"

	"spark/backend/internal/logging"
)

// SweepResult summarizes one sweeper pass.
type SweepResult struct {
	Expired  int64 `json:"expired"`
	Promoted int   `json:"promoted"`
}

// Sweeper periodically evicts expired queue rows and promotes waiters past
// the timeout to hosts, so matching progresses for clients that stopped
// polling. Poll keeps its contract with or without it.
type Sweeper struct {
	Matcher  *MatcherService
	Interval time.Duration
}

func NewSweeper(m *MatcherService, interval time.Duration) *Sweeper {
	return &Sweeper{Matcher: m, Interval: interval}
}

// Sweep runs one pass.
func (s *Sweeper) Sweep(ctx context.Context) (SweepResult, error) {
	m := s.Matcher
	now := m.now()

	var res SweepResult
	expired, err := m.Storage.DeleteExpiredQueueEntries(ctx, now)
	if err != nil {
		return res, err
	}
	res.Expired = expired

	stale, err := m.Storage.ListStaleWaiters(ctx, now.Add(-m.Config.Timeout), now, m.Config.ScanLimit)
	if err != nil {
		return res, err
	}
	for _, e := range stale {
		_, err := m.promote(ctx, e.UserID, e.ModeID, OriginSweeper)
		switch {
		case err == nil:
			res.Promoted++
		case errors.Is(err, ErrAlreadyInSession):
			// claimed since the listing
		default:
			return res, err
		}
	}
	return res, nil
}

// Serve implements suture.Service.
func (s *Sweeper) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			res, err := s.Sweep(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				logging.Warn().Err(err).Msg("sweep failed")
				continue
			}
			if res.Expired > 0 || res.Promoted > 0 {
				logging.Debug().Int64("expired", res.Expired).Int("promoted", res.Promoted).Msg("sweep")
			}
		}
	}
}

func (s *Sweeper) String() string {
	return "matchmaking-sweeper"
}
