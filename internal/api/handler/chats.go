package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (h *Handler) ListChats(c *gin.Context) {
	chats, err := h.Chats.ListChats(c.Request.Context(), userID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"chats": chats})
}

func (h *Handler) GetChat(c *gin.Context) {
	detail, err := h.Chats.GetChatDetail(c.Request.Context(), userID(c), c.Param("id"), queryLimit(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

func (h *Handler) SendChatMessage(c *gin.Context) {
	var req contentRequest
	if err := bindJSON(c, &req, false); err != nil {
		respondError(c, err)
		return
	}

	msg, err := h.Chats.SendDirectMessage(c.Request.Context(), userID(c), c.Param("id"), req.Content)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}
