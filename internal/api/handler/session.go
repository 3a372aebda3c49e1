package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

func (h *Handler) GetSession(c *gin.Context) {
	view, err := h.Sessions.Active(c.Request.Context(), userID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *Handler) LeaveSession(c *gin.Context) {
	res, err := h.Sessions.Leave(c.Request.Context(), userID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// queryLimit reads ?limit=, leaving the clamp to the service.
func queryLimit(c *gin.Context) int {
	n, err := strconv.Atoi(c.Query("limit"))
	if err != nil {
		return 0
	}
	return n
}

func (h *Handler) ListSessionChats(c *gin.Context) {
	entries, err := h.Sessions.SessionChats(c.Request.Context(), userID(c), queryLimit(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": entries})
}

func (h *Handler) SendSessionChat(c *gin.Context) {
	var req contentRequest
	if err := bindJSON(c, &req, false); err != nil {
		respondError(c, err)
		return
	}

	ctx := c.Request.Context()
	uid := userID(c)
	view, err := h.Sessions.Active(ctx, uid)
	if err != nil {
		respondError(c, err)
		return
	}
	entry, err := h.Sessions.AddChatMessage(ctx, view.Session.ID, uid, req.Content)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, entry)
}

func (h *Handler) RecordMatch(c *gin.Context) {
	ctx := c.Request.Context()
	uid := userID(c)
	view, err := h.Sessions.Active(ctx, uid)
	if err != nil {
		respondError(c, err)
		return
	}

	res, err := h.Sessions.RecordMatchInteraction(ctx, uid, view.Session.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	c.JSON(status, res)
}

func (h *Handler) MatchStatus(c *gin.Context) {
	st, err := h.Sessions.GetMatchStatus(c.Request.Context(), userID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

