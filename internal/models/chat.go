package models

import (
	"time"

	"github.com/google/uuid"
)

// Member roles within a chat.
const (
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// Chat represents a conversation, either 1:1 or group.
type Chat struct {
	ID        uuid.UUID `json:"id"`
	Title     *string   `json:"title,omitempty"`
	IsGroup   bool      `json:"is_group"`
	CreatedBy uuid.UUID `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ChatMember represents a user's membership in a chat.
// Unique per (chat, user) pair.
type ChatMember struct {
	ChatID   uuid.UUID `json:"chat_id"`
	UserID   uuid.UUID `json:"user_id"`
	Name     string    `json:"name,omitempty"`
	Email    string    `json:"email,omitempty"`
	Role     string    `json:"role"`
	JoinedAt time.Time `json:"joined_at"`
}
