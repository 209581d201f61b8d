package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/parley-chat/parley/internal/models"
)

// ErrDuplicatePair is returned by CreateChatWithMembers when a concurrent
// request already created a 1:1 chat for the same member pair. Callers should
// fetch and return the winner.
var ErrDuplicatePair = errors.New("store: duplicate 1:1 chat pair")

// DataStore defines the interface for persistent storage of users, chats and
// messages. Both PostgresStore and SQLiteStore implement this interface.
type DataStore interface {
	// Connection management
	Close()
	Ping(ctx context.Context) error

	// User operations
	CreateUser(ctx context.Context, name, email, dob, passwordHash string) (*models.User, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	ListUsers(ctx context.Context) ([]models.User, error)
	UpdateUser(ctx context.Context, id uuid.UUID, fields map[string]string) (*models.User, error)
	DeleteUser(ctx context.Context, id uuid.UUID) error

	// Chat operations
	CreateChatWithMembers(ctx context.Context, title *string, isGroup bool, createdBy uuid.UUID, memberIDs []uuid.UUID) (*models.Chat, error)
	GetChat(ctx context.Context, id uuid.UUID) (*models.Chat, error)
	GetChatByPairKey(ctx context.Context, pairKey string) (*models.Chat, error)
	GetChatsForUser(ctx context.Context, userID uuid.UUID) ([]models.Chat, error)
	GetChatMembers(ctx context.Context, chatID uuid.UUID) ([]models.ChatMember, error)
	IsChatMember(ctx context.Context, chatID, userID uuid.UUID) (bool, error)
	AddChatMember(ctx context.Context, chatID, userID uuid.UUID, role string) (*models.ChatMember, error)
	RemoveChatMember(ctx context.Context, chatID, userID uuid.UUID) error
	RenameChat(ctx context.Context, id uuid.UUID, title string) (*models.Chat, error)
	DeleteChat(ctx context.Context, id uuid.UUID) error

	// Message operations
	CreateMessage(ctx context.Context, chatID, senderID uuid.UUID, content, messageType string) (*models.Message, error)
	GetMessagesForChat(ctx context.Context, chatID uuid.UUID, limit int, before *time.Time) ([]models.Message, error)
}

// PairKey derives the uniqueness key for a 1:1 chat from its two member ids.
// The ids are ordered so that both request directions map to the same key.
func PairKey(a, b uuid.UUID) string {
	if a.String() < b.String() {
		return a.String() + ":" + b.String()
	}
	return b.String() + ":" + a.String()
}
