package config

import "time"

const (
	// Queue protocol
	MatchTimeout       = 15 * time.Second
	PollInterval       = 3 * time.Second
	QueueTTLBuffer     = 60 * time.Second
	CandidateScanLimit = 20

	// History
	RecentSessionCooldown = 15 * time.Minute

	// Sweeper
	SweepInterval = 5 * time.Second

	// Chat
	DefaultChatPageLimit = 100
	MaxChatPageLimit     = 500
	MaxChatMessageLength = 2000
)

// Permissive preferences used when a user has not saved any.
const (
	DefaultTargetGender = "any"
	DefaultAgeMin       = 18
	DefaultAgeMax       = 99
)
