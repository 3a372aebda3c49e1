package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ChatActive is the status of a chat created from a mutual match.
const ChatActive = "active"

// Chat is the durable conversation between two users who matched mutually.
// The pair is stored canonically (UserAUID < UserBUID) so it exists once.
type Chat struct {
	ID             string     `gorm:"primaryKey" json:"id"`
	UserAUID       string     `gorm:"not null;uniqueIndex:idx_chat_pair,priority:1" json:"user_a_uid"`
	UserBUID       string     `gorm:"not null;uniqueIndex:idx_chat_pair,priority:2" json:"user_b_uid"`
	MatchSessionID *string    `json:"match_session_id,omitempty"`
	LastMessageAt  *time.Time `json:"last_message_at,omitempty"`
	Status         string     `gorm:"not null;default:active" json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
}

func (Chat) TableName() string { return "chats" }

func (c *Chat) BeforeCreate(tx *gorm.DB) (err error) {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	return
}

// Other returns the participant that is not uid.
func (c *Chat) Other(uid string) string {
	if c.UserAUID == uid {
		return c.UserBUID
	}
	return c.UserAUID
}

// Has reports whether uid is one of the two participants.
func (c *Chat) Has(uid string) bool {
	return c.UserAUID == uid || c.UserBUID == uid
}

// CanonicalPair orders two uids so that the same pair always maps to one row.
func CanonicalPair(a, b string) (string, string) {
	if b < a {
		return b, a
	}
	return a, b
}

// ChatMessage is one immutable message in a durable Chat.
type ChatMessage struct {
	ID        string    `gorm:"primaryKey" json:"id"`
	ChatID    string    `gorm:"index;not null" json:"chat_id"`
	AuthorUID string    `gorm:"not null" json:"author_uid"`
	Content   string    `gorm:"not null" json:"content"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

func (ChatMessage) TableName() string { return "chat_messages" }

func (m *ChatMessage) BeforeCreate(tx *gorm.DB) (err error) {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	return
}
