package matchmaking

import "errors"

var (
	// Conflict
	ErrAlreadyInSession    = errors.New("already in session")
	ErrSessionNotAvailable = errors.New("session not available")

	// NotFound
	ErrNotInSession    = errors.New("not in a session")
	ErrNotQueued       = errors.New("not in queue")
	ErrSessionNotFound = errors.New("session not found")
	ErrUserNotFound    = errors.New("user not found")
	ErrChatNotFound    = errors.New("chat not found")

	// Forbidden
	ErrNotParticipant = errors.New("not a participant")

	// Validation
	ErrNoPartner      = errors.New("session has no partner yet")
	ErrInvalidMessage = errors.New("invalid message content")
)
