package chathub

import (
	"context"
	"sync"
	"time"

	"spark/backend/internal/logging"
	"spark/backend/internal/models"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8192
	sendBuffer     = 32
)

// WebSocketClient реалізує інтерфейс chathub.Client
type WebSocketClient struct {
	UserID string
	Conn   *websocket.Conn
	Hub    *ManagerService
	Send   chan models.Event

	closeOnce sync.Once
}

func NewWebSocketClient(uid string, conn *websocket.Conn, hub *ManagerService) *WebSocketClient {
	return &WebSocketClient{
		UserID: uid,
		Conn:   conn,
		Hub:    hub,
		Send:   make(chan models.Event, sendBuffer),
	}
}

func (c *WebSocketClient) GetUserID() string                    { return c.UserID }
func (c *WebSocketClient) GetSendChannel() chan<- models.Event { return c.Send }

// Run запускає 'pumps' для WebSocket
func (c *WebSocketClient) Run() {
	go c.writePump()
	go c.readPump()
}

// Close закриває Send канал (що зупинить writePump)
func (c *WebSocketClient) Close() {
	c.closeOnce.Do(func() { close(c.Send) })
}

func (c *WebSocketClient) readPump() {
	defer func() {
		c.Hub.Unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Warn().Err(err).Str("uid", c.UserID).Msg("websocket read failed")
			}
			return
		}

		var frame models.ClientFrame
		if err := json.Unmarshal(message, &frame); err != nil {
			// Пропускаємо невірне повідомлення
			c.Hub.Emit(c, models.EventError, errorPayload{Error: "malformed frame"})
			continue
		}
		c.handle(frame)
	}
}

type errorPayload struct {
	Error string `json:"error"`
}

func (c *WebSocketClient) handle(frame models.ClientFrame) {
	switch frame.Type {
	case "ping":
		c.Hub.Emit(c, models.EventPong, nil)
	case models.EventChatMessage:
		if c.Hub.Router == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), writeWait)
		defer cancel()
		if _, err := c.Hub.Router.AddChatMessage(ctx, frame.SessionID, c.UserID, frame.Content); err != nil {
			c.Hub.Emit(c, models.EventError, errorPayload{Error: err.Error()})
		}
	default:
		c.Hub.Emit(c, models.EventError, errorPayload{Error: "unknown frame type " + frame.Type})
	}
}

// writePump читає події з каналу Send і записує їх у WebSocket.
func (c *WebSocketClient) writePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case event, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Канал закрито хабом, закриваємо з'єднання WS
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			data, err := json.Marshal(event)
			if err != nil {
				logging.Error().Err(err).Str("uid", c.UserID).Str("event", event.Type).Msg("failed to encode event")
				continue
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
