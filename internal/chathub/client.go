package chathub

import "spark/backend/internal/models"

// Client is one realtime connection of a user.
type Client interface {
	// GetUserID returns the user the connection was authenticated as.
	GetUserID() string

	// GetSendChannel returns the channel the hub writes events into.
	// It is send-only for the hub; the client drains it in its write pump.
	GetSendChannel() chan<- models.Event

	// Run starts the read and write pumps.
	Run()
	// Close shuts the connection down. The hub calls it exactly once, on unregister.
	Close()
}
