package handler

import (
	"errors"
	"io"
	"net/http"

	"spark/backend/internal/matchmaking"
	"spark/backend/internal/validation"

	"github.com/gin-gonic/gin"
)

type joinRequest struct {
	Mode string `json:"mode" validate:"omitempty,max=64"`
}

// bindJSON decodes the body into req and validates it. An empty body is
// allowed when optional is set.
func bindJSON(c *gin.Context, req any, optional bool) error {
	if err := c.ShouldBindJSON(req); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return nil
		}
		return &validation.Error{Fields: []validation.FieldError{{Field: "body", Tag: err.Error()}}}
	}
	return validation.Struct(req)
}

func (h *Handler) GetConfig(c *gin.Context) {
	c.JSON(http.StatusOK, h.Matcher.ClientConfig())
}

func (h *Handler) GetState(c *gin.Context) {
	state, err := h.Matcher.GetState(c.Request.Context(), userID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

func (h *Handler) Join(c *gin.Context) {
	var req joinRequest
	if err := bindJSON(c, &req, true); err != nil {
		respondError(c, err)
		return
	}

	entry, err := h.Matcher.Join(c.Request.Context(), userID(c), req.Mode)
	if err != nil {
		respondError(c, err)
		return
	}
	cfg := h.Matcher.ClientConfig()
	c.JSON(http.StatusOK, gin.H{
		"status":        matchmaking.StatusSearching,
		"queue":         entry,
		"poll_again_in": cfg.PollIntervalSeconds,
	})
}

func (h *Handler) Poll(c *gin.Context) {
	res, err := h.Matcher.Poll(c.Request.Context(), userID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) GetQueue(c *gin.Context) {
	entry, err := h.Matcher.QueueEntry(c.Request.Context(), userID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

func (h *Handler) LeaveQueue(c *gin.Context) {
	removed, err := h.Matcher.Leave(c.Request.Context(), userID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

func (h *Handler) Exit(c *gin.Context) {
	if err := h.Matcher.ExitMatchmaking(c.Request.Context(), userID(c)); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
