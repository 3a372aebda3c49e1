package handler

import (
	"net/http"

	"spark/backend/internal/chathub"
	"spark/backend/internal/logging"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// TODO: restrict to the web app origins once they are configurable
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeWebSocket оновлює HTTP-з'єднання до WebSocket. Браузер не може
// передати заголовки при upgrade, тому токен може прийти як ?token=.
func (h *Handler) ServeWebSocket(c *gin.Context) {
	raw := c.Query("token")
	if raw == "" {
		var err error
		if raw, err = bearer(c); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
	}

	uid, err := h.parseToken(raw)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade вже записав HTTP-помилку
		logging.Warn().Err(err).Str("uid", uid).Msg("websocket upgrade failed")
		return
	}

	client := chathub.NewWebSocketClient(uid, conn, h.Hub)
	h.Hub.Register(client)
	client.Run()
}
