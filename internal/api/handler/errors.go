package handler

import (
	"errors"
	"net/http"

	"spark/backend/internal/logging"
	"spark/backend/internal/matchmaking"
	"spark/backend/internal/options"
	"spark/backend/internal/storage"
	"spark/backend/internal/validation"

	"github.com/gin-gonic/gin"
)

func statusOf(err error) int {
	var verr *validation.Error
	switch {
	case errors.Is(err, matchmaking.ErrAlreadyInSession),
		errors.Is(err, matchmaking.ErrSessionNotAvailable),
		errors.Is(err, storage.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, matchmaking.ErrNotInSession),
		errors.Is(err, matchmaking.ErrNotQueued),
		errors.Is(err, matchmaking.ErrSessionNotFound),
		errors.Is(err, matchmaking.ErrUserNotFound),
		errors.Is(err, matchmaking.ErrChatNotFound),
		errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, matchmaking.ErrNotParticipant):
		return http.StatusForbidden
	case errors.Is(err, matchmaking.ErrNoPartner),
		errors.Is(err, matchmaking.ErrInvalidMessage),
		errors.Is(err, options.ErrUnknownOption),
		errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.Is(err, storage.ErrUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// respondError writes {"error": msg} with the status mapped from err.
// Internal errors are logged and hidden from the client.
func respondError(c *gin.Context, err error) {
	status := statusOf(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		logging.Error().Err(err).Str("path", c.FullPath()).Str("uid", userID(c)).Msg("request failed")
		if status == http.StatusInternalServerError {
			msg = "internal error"
		}
	}
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}
