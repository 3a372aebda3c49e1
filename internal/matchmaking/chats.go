package matchmaking

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"spark/backend/internal/config"
	"spark/backend/internal/models"
	"spark/backend/internal/storage"
)

// ChatService serves the durable chats created by mutual matches.
type ChatService struct {
	Storage  storage.Storage
	Notifier Notifier
	Config   config.MatchmakingConfig
	Now      func() time.Time
}

func NewChatService(st storage.Storage, cfg config.MatchmakingConfig) *ChatService {
	return &ChatService{Storage: st, Notifier: NopNotifier, Config: cfg, Now: time.Now}
}

// ChatSummary is one entry of a user's chat list.
type ChatSummary struct {
	models.Chat
	OtherUID string `json:"other_uid"`
}

// ChatLine is a message of either the originating session or the chat itself.
type ChatLine struct {
	ID        string    `json:"id"`
	AuthorUID string    `json:"author_uid"`
	Content   string    `json:"content"`
	IsSystem  bool      `json:"is_system"`
	Source    string    `json:"source"` // "session" | "chat"
	CreatedAt time.Time `json:"created_at"`
}

// ChatDetail is a chat with its merged history, oldest first.
type ChatDetail struct {
	Chat     *models.Chat `json:"chat"`
	OtherUID string       `json:"other_uid"`
	Messages []ChatLine   `json:"messages"`
}

// ListChats returns uid's chats, most recent activity first.
func (s *ChatService) ListChats(ctx context.Context, uid string) ([]ChatSummary, error) {
	chats, err := s.Storage.ListChatsForUser(ctx, uid)
	if err != nil {
		return nil, err
	}
	out := make([]ChatSummary, 0, len(chats))
	for _, c := range chats {
		out = append(out, ChatSummary{Chat: c, OtherUID: c.Other(uid)})
	}
	return out, nil
}

func (s *ChatService) chatFor(ctx context.Context, uid, chatID string) (*models.Chat, error) {
	chat, err := s.Storage.GetChat(ctx, chatID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrChatNotFound
	}
	if err != nil {
		return nil, err
	}
	if !chat.Has(uid) {
		return nil, ErrNotParticipant
	}
	return chat, nil
}

// GetChatDetail merges the messages of the session the pair met in with the
// direct messages of the chat.
func (s *ChatService) GetChatDetail(ctx context.Context, uid, chatID string, limit int) (*ChatDetail, error) {
	chat, err := s.chatFor(ctx, uid, chatID)
	if err != nil {
		return nil, err
	}
	limit = ClampLimit(limit, s.Config.ChatPageLimit)

	var lines []ChatLine
	if chat.MatchSessionID != nil {
		entries, err := s.Storage.ListSessionChatEntries(ctx, *chat.MatchSessionID, limit)
		if err != nil {
			return nil, fmt.Errorf("load session history: %w", err)
		}
		for _, e := range entries {
			lines = append(lines, ChatLine{
				ID: e.ID, AuthorUID: e.AuthorUID, Content: e.Content,
				IsSystem: e.IsSystem, Source: "session", CreatedAt: e.CreatedAt,
			})
		}
	}

	msgs, err := s.Storage.ListChatMessages(ctx, chat.ID, limit)
	if err != nil {
		return nil, fmt.Errorf("load chat messages: %w", err)
	}
	for _, msg := range msgs {
		lines = append(lines, ChatLine{
			ID: msg.ID, AuthorUID: msg.AuthorUID, Content: msg.Content,
			Source: "chat", CreatedAt: msg.CreatedAt,
		})
	}

	sort.SliceStable(lines, func(i, j int) bool { return lines[i].CreatedAt.Before(lines[j].CreatedAt) })
	if lines == nil {
		lines = []ChatLine{}
	}
	return &ChatDetail{Chat: chat, OtherUID: chat.Other(uid), Messages: lines}, nil
}

// SendDirectMessage appends a message to a chat and relays it to the other user.
func (s *ChatService) SendDirectMessage(ctx context.Context, uid, chatID, content string) (*models.ChatMessage, error) {
	content, err := validContent(content, s.Config.MaxMessageSize)
	if err != nil {
		return nil, err
	}
	chat, err := s.chatFor(ctx, uid, chatID)
	if err != nil {
		return nil, err
	}

	msg := &models.ChatMessage{
		ChatID:    chat.ID,
		AuthorUID: uid,
		Content:   content,
		CreatedAt: s.now(),
	}
	if err := s.Storage.AddChatMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("store chat message: %w", err)
	}

	if s.Notifier != nil {
		s.Notifier.Notify(ctx, chat.Other(uid), models.EventChatMessage, msg)
	}
	return msg, nil
}

func (s *ChatService) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}
