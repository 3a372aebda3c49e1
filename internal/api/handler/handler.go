// Package handler exposes matchmaking, sessions and chats over HTTP.
package handler

import (
	"spark/backend/internal/chathub"
	"spark/backend/internal/config"
	"spark/backend/internal/matchmaking"

	"github.com/gin-gonic/gin"
)

// Handler містить посилання на сервіси та ChatHub
type Handler struct {
	Matcher  *matchmaking.MatcherService
	Sessions *matchmaking.SessionService
	Chats    *matchmaking.ChatService
	Hub      *chathub.ManagerService
	Auth     config.AuthConfig

	pollLimiter *userLimiter
}

func NewHandler(m *matchmaking.MatcherService, s *matchmaking.SessionService, c *matchmaking.ChatService,
	hub *chathub.ManagerService, auth config.AuthConfig, rl config.RateLimitConfig) *Handler {
	return &Handler{
		Matcher:     m,
		Sessions:    s,
		Chats:       c,
		Hub:         hub,
		Auth:        auth,
		pollLimiter: newUserLimiter(rl.PollPerSecond, rl.PollBurst),
	}
}

// Register реєструє всі роути на r.
func (h *Handler) Register(r gin.IRouter) {
	r.GET("/ws", h.ServeWebSocket)

	me := r.Group("/me", h.AuthMiddleware())
	{
		me.GET("/config", h.GetConfig)
		me.GET("/state", h.GetState)
		me.POST("/join", h.Join)
		me.GET("/poll", h.pollLimiter.Middleware(), h.Poll)
		me.GET("/queue", h.GetQueue)
		me.DELETE("/queue", h.LeaveQueue)
		me.DELETE("/exit", h.Exit)

		me.GET("/session", h.GetSession)
		me.DELETE("/session", h.LeaveSession)
		me.GET("/session/chats", h.ListSessionChats)
		me.POST("/session/chats", h.SendSessionChat)
		me.POST("/session/match", h.RecordMatch)
		me.GET("/session/match-status", h.MatchStatus)

		me.GET("/chats", h.ListChats)
		me.GET("/chats/:id", h.GetChat)
		me.POST("/chats/:id/messages", h.SendChatMessage)
	}
}

type contentRequest struct {
	Content string `json:"content" validate:"required"`
}
