// Package history keeps previously paired users apart.
//
// A pair is blocked when they already share a durable chat (they matched
// before) or when a session between them ended within the cooldown.
package history

import (
	"context"
	"fmt"
	"time"
)

// Source answers the two history questions for an unordered pair.
type Source interface {
	ChatExistsForPair(ctx context.Context, a, b string) (bool, error)
	// LastSessionEndBetween returns the most recent closed_at of a finished
	// session shared by a and b, or nil if they never finished one.
	LastSessionEndBetween(ctx context.Context, a, b string) (*time.Time, error)
}

// Guard is consulted before evaluating compatibility of a candidate pair.
type Guard struct {
	Source   Source
	Cooldown time.Duration
	Now      func() time.Time
}

func NewGuard(src Source, cooldown time.Duration) *Guard {
	return &Guard{Source: src, Cooldown: cooldown, Now: time.Now}
}

// HaveMatchedBefore reports whether a durable chat exists for the pair.
func (g *Guard) HaveMatchedBefore(ctx context.Context, a, b string) (bool, error) {
	ok, err := g.Source.ChatExistsForPair(ctx, a, b)
	if err != nil {
		return false, fmt.Errorf("check chat history %s/%s: %w", a, b, err)
	}
	return ok, nil
}

// HasRecentSession reports whether the pair finished a session within cooldown.
func (g *Guard) HasRecentSession(ctx context.Context, a, b string, cooldown time.Duration) (bool, error) {
	last, err := g.Source.LastSessionEndBetween(ctx, a, b)
	if err != nil {
		return false, fmt.Errorf("check session history %s/%s: %w", a, b, err)
	}
	if last == nil {
		return false, nil
	}
	return g.now().Sub(*last) < cooldown, nil
}

// Blocked combines both checks with the configured cooldown.
func (g *Guard) Blocked(ctx context.Context, a, b string) (bool, error) {
	matched, err := g.HaveMatchedBefore(ctx, a, b)
	if err != nil || matched {
		return matched, err
	}
	return g.HasRecentSession(ctx, a, b, g.Cooldown)
}

func (g *Guard) now() time.Time {
	if g.Now == nil {
		return time.Now()
	}
	return g.Now()
}
