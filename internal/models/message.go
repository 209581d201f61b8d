package models

import (
	"time"

	"github.com/google/uuid"
)

// Message represents a persisted chat message. Immutable once created.
type Message struct {
	ID          uuid.UUID `json:"id"`
	ChatID      uuid.UUID `json:"chat_id"`
	SenderID    uuid.UUID `json:"sender_id"`
	SenderName  string    `json:"sender_name,omitempty"`
	Content     string    `json:"content"`
	MessageType string    `json:"message_type"` // "text", "image", "audio", "video"
	CreatedAt   time.Time `json:"created_at"`
}
