package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SessionStatus is the durable state of a Session. "found" is only ever a
// poll result and never stored.
type SessionStatus string

const (
	SessionOpen      SessionStatus = "open"
	SessionClosed    SessionStatus = "closed"
	SessionAbandoned SessionStatus = "abandoned"
)

// Role is a participant's position in a session.
type Role string

const (
	RoleHost  Role = "host"
	RoleGuest Role = "guest"
)

// Session is a live pairing between a host and, once claimed, a guest.
type Session struct {
	// ID is the session UUID.
	ID string `gorm:"primaryKey" json:"id"`
	// HostUID created the session, either on timeout or as the found candidate.
	HostUID string `gorm:"index;not null" json:"host_uid"`
	// GuestUID is nil until a guest claims the slot.
	GuestUID *string       `gorm:"index" json:"guest_uid"`
	Status   SessionStatus `gorm:"type:text;index;not null;default:open" json:"status"`
	ModeID   *string       `json:"mode_id,omitempty"`
	// StartedAt is when the session row was created.
	StartedAt time.Time `gorm:"not null" json:"started_at"`
	// ClosedAt is set iff Status is closed or abandoned.
	ClosedAt *time.Time `json:"closed_at,omitempty"`
}

func (Session) TableName() string { return "sessions" }

// BeforeCreate assigns a UUID when the caller did not.
func (s *Session) BeforeCreate(tx *gorm.DB) (err error) {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	return
}

// IsOpen reports whether the session can still be used.
func (s *Session) IsOpen() bool {
	return s.Status == SessionOpen && s.ClosedAt == nil
}

// HasGuest reports whether the guest slot is taken.
func (s *Session) HasGuest() bool {
	return s.GuestUID != nil && *s.GuestUID != ""
}

// Guest returns the guest uid or "".
func (s *Session) Guest() string {
	if s.GuestUID == nil {
		return ""
	}
	return *s.GuestUID
}

// RoleOf returns uid's role, or "" when uid does not participate.
func (s *Session) RoleOf(uid string) Role {
	switch {
	case uid == "":
		return ""
	case s.HostUID == uid:
		return RoleHost
	case s.Guest() == uid:
		return RoleGuest
	}
	return ""
}

// PartnerOf returns the other participant of uid, or "" if there is none.
func (s *Session) PartnerOf(uid string) string {
	switch s.RoleOf(uid) {
	case RoleHost:
		return s.Guest()
	case RoleGuest:
		return s.HostUID
	}
	return ""
}

// SessionChatEntry is one immutable message in a session's ephemeral chat.
type SessionChatEntry struct {
	ID          string    `gorm:"primaryKey" json:"id"`
	SessionID   string    `gorm:"index;not null" json:"session_id"`
	AuthorUID   string    `gorm:"not null" json:"author_uid"`
	ReceiverUID *string   `json:"receiver_uid,omitempty"`
	Content     string    `gorm:"not null" json:"content"`
	IsSystem    bool      `gorm:"not null;default:false" json:"is_system"`
	CreatedAt   time.Time `gorm:"index" json:"created_at"`
}

func (SessionChatEntry) TableName() string { return "session_chats" }

func (e *SessionChatEntry) BeforeCreate(tx *gorm.DB) (err error) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	return
}
