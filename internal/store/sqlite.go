package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"github.com/parley-chat/parley/internal/models"
)

// SQLiteStore handles SQLite database operations. It is the development
// fallback when no PostgreSQL URL is configured.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
// If dbPath is empty, defaults to "./data/parley.db"
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/parley.db"
	}

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}

	// Initialize schema
	if err := store.initSchema(ctx); err != nil {
		return nil, err
	}

	return store, nil
}

// initSchema creates tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT UNIQUE NOT NULL,
		dob TEXT NOT NULL DEFAULT '',
		password TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS chats (
		id TEXT PRIMARY KEY,
		title TEXT,
		is_group INTEGER NOT NULL DEFAULT 0,
		created_by TEXT REFERENCES users(id) ON DELETE SET NULL,
		pair_key TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE UNIQUE INDEX IF NOT EXISTS chats_pair_key ON chats(pair_key) WHERE pair_key IS NOT NULL;

	CREATE TABLE IF NOT EXISTS chat_users (
		chat_id TEXT NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		role TEXT NOT NULL DEFAULT 'member',
		joined_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (chat_id, user_id)
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		chat_id TEXT NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
		sender_id TEXT REFERENCES users(id) ON DELETE SET NULL,
		content TEXT NOT NULL,
		message_type TEXT NOT NULL DEFAULT 'text',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_chat_users_user ON chat_users(user_id);
	CREATE INDEX IF NOT EXISTS idx_messages_chat_created ON messages(chat_id, created_at);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() {
	s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateUser creates a new user record.
func (s *SQLiteStore) CreateUser(ctx context.Context, name, email, dob, passwordHash string) (*models.User, error) {
	id := uuid.New()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, name, email, dob, password, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, id.String(), name, email, dob, passwordHash, now)
	if err != nil {
		return nil, err
	}

	return s.GetUserByID(ctx, id)
}

// GetUserByID retrieves a user by ID.
func (s *SQLiteStore) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return s.getUser(ctx, `WHERE id = ?`, id.String())
}

// GetUserByEmail retrieves a user by email.
func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.getUser(ctx, `WHERE email = ?`, email)
}

func (s *SQLiteStore) getUser(ctx context.Context, where string, arg any) (*models.User, error) {
	user := &models.User{}
	var idStr string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, email, dob, password, created_at
		FROM users `+where,
		arg).Scan(
		&idStr,
		&user.Name,
		&user.Email,
		&user.DOB,
		&user.PasswordHash,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	user.ID, err = uuid.Parse(idStr)
	if err != nil {
		return nil, err
	}
	return user, nil
}

// ListUsers retrieves all users, newest first.
func (s *SQLiteStore) ListUsers(ctx context.Context) ([]models.User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, email, dob, created_at
		FROM users
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		var u models.User
		var idStr string
		if err := rows.Scan(&idStr, &u.Name, &u.Email, &u.DOB, &u.CreatedAt); err != nil {
			return nil, err
		}
		if u.ID, err = uuid.Parse(idStr); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// UpdateUser applies the given field updates and returns the updated user.
func (s *SQLiteStore) UpdateUser(ctx context.Context, id uuid.UUID, fields map[string]string) (*models.User, error) {
	if len(fields) == 0 {
		return s.GetUserByID(ctx, id)
	}

	setClauses := make([]string, 0, len(fields))
	args := make([]any, 0, len(fields)+1)
	for col, val := range fields {
		setClauses = append(setClauses, fmt.Sprintf("%s = ?", col))
		args = append(args, val)
	}
	args = append(args, id.String())

	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE users SET %s WHERE id = ?
	`, strings.Join(setClauses, ", ")), args...)
	if err != nil {
		return nil, err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, nil
	}
	return s.GetUserByID(ctx, id)
}

// DeleteUser removes a user record.
func (s *SQLiteStore) DeleteUser(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id.String())
	return err
}

// CreateChatWithMembers creates a chat and its membership rows in a single
// transaction, mirroring the PostgreSQL implementation.
func (s *SQLiteStore) CreateChatWithMembers(ctx context.Context, title *string, isGroup bool, createdBy uuid.UUID, memberIDs []uuid.UUID) (*models.Chat, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var pairKey *string
	if !isGroup && len(memberIDs) == 2 {
		pk := PairKey(memberIDs[0], memberIDs[1])
		pairKey = &pk
	}

	id := uuid.New()
	now := time.Now().UTC()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO chats (id, title, is_group, created_by, pair_key, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, id.String(), title, isGroup, createdBy.String(), pairKey, now, now)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return nil, ErrDuplicatePair
		}
		return nil, err
	}

	for _, uid := range memberIDs {
		role := models.RoleMember
		if uid == createdBy {
			role = models.RoleAdmin
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO chat_users (chat_id, user_id, role, joined_at)
			VALUES (?, ?, ?, ?)
		`, id.String(), uid.String(), role, now); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return s.GetChat(ctx, id)
}

// GetChat retrieves a chat by ID.
func (s *SQLiteStore) GetChat(ctx context.Context, id uuid.UUID) (*models.Chat, error) {
	return s.getChat(ctx, `WHERE id = ?`, id.String())
}

// GetChatByPairKey retrieves the 1:1 chat for a member pair, if any.
func (s *SQLiteStore) GetChatByPairKey(ctx context.Context, pairKey string) (*models.Chat, error) {
	return s.getChat(ctx, `WHERE pair_key = ?`, pairKey)
}

func (s *SQLiteStore) getChat(ctx context.Context, where string, arg any) (*models.Chat, error) {
	chat := &models.Chat{}
	var idStr string
	var createdByStr sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, is_group, created_by, created_at, updated_at
		FROM chats `+where,
		arg).Scan(
		&idStr,
		&chat.Title,
		&chat.IsGroup,
		&createdByStr,
		&chat.CreatedAt,
		&chat.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if chat.ID, err = uuid.Parse(idStr); err != nil {
		return nil, err
	}
	// created_by is null once the creator's account is deleted.
	if createdByStr.Valid {
		if chat.CreatedBy, err = uuid.Parse(createdByStr.String); err != nil {
			return nil, err
		}
	}
	return chat, nil
}

// GetChatsForUser retrieves all chats the user is a member of.
func (s *SQLiteStore) GetChatsForUser(ctx context.Context, userID uuid.UUID) ([]models.Chat, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.title, c.is_group, c.created_by, c.created_at, c.updated_at
		FROM chats c
		JOIN chat_users cu ON cu.chat_id = c.id
		WHERE cu.user_id = ?
		ORDER BY c.updated_at DESC
	`, userID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chats []models.Chat
	for rows.Next() {
		var c models.Chat
		var idStr string
		var createdByStr sql.NullString
		if err := rows.Scan(&idStr, &c.Title, &c.IsGroup, &createdByStr, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		if c.ID, err = uuid.Parse(idStr); err != nil {
			return nil, err
		}
		if createdByStr.Valid {
			if c.CreatedBy, err = uuid.Parse(createdByStr.String); err != nil {
				return nil, err
			}
		}
		chats = append(chats, c)
	}
	return chats, rows.Err()
}

// GetChatMembers retrieves the members of a chat with their user details.
func (s *SQLiteStore) GetChatMembers(ctx context.Context, chatID uuid.UUID) ([]models.ChatMember, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT cu.chat_id, u.id, u.name, u.email, cu.role, cu.joined_at
		FROM chat_users cu
		JOIN users u ON u.id = cu.user_id
		WHERE cu.chat_id = ?
	`, chatID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []models.ChatMember
	for rows.Next() {
		var m models.ChatMember
		var chatStr, userStr string
		if err := rows.Scan(&chatStr, &userStr, &m.Name, &m.Email, &m.Role, &m.JoinedAt); err != nil {
			return nil, err
		}
		if m.ChatID, err = uuid.Parse(chatStr); err != nil {
			return nil, err
		}
		if m.UserID, err = uuid.Parse(userStr); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// IsChatMember reports whether the user is a member of the chat.
func (s *SQLiteStore) IsChatMember(ctx context.Context, chatID, userID uuid.UUID) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `
		SELECT 1 FROM chat_users WHERE chat_id = ? AND user_id = ?
	`, chatID.String(), userID.String()).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// AddChatMember adds a user to a chat. Adding an existing member is a no-op
// and returns nil.
func (s *SQLiteStore) AddChatMember(ctx context.Context, chatID, userID uuid.UUID, role string) (*models.ChatMember, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO chat_users (chat_id, user_id, role, joined_at)
		VALUES (?, ?, ?, ?)
	`, chatID.String(), userID.String(), role, now)
	if err != nil {
		return nil, err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, nil
	}
	return &models.ChatMember{ChatID: chatID, UserID: userID, Role: role, JoinedAt: now}, nil
}

// RemoveChatMember removes a user from a chat.
func (s *SQLiteStore) RemoveChatMember(ctx context.Context, chatID, userID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM chat_users WHERE chat_id = ? AND user_id = ?
	`, chatID.String(), userID.String())
	return err
}

// RenameChat updates the chat title.
func (s *SQLiteStore) RenameChat(ctx context.Context, id uuid.UUID, title string) (*models.Chat, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE chats SET title = ?, updated_at = ? WHERE id = ?
	`, title, time.Now().UTC(), id.String())
	if err != nil {
		return nil, err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, nil
	}
	return s.GetChat(ctx, id)
}

// DeleteChat removes a chat. Membership and message rows cascade.
func (s *SQLiteStore) DeleteChat(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM chats WHERE id = ?`, id.String())
	return err
}

// CreateMessage inserts a message and bumps the chat's updated_at in the same
// transaction.
func (s *SQLiteStore) CreateMessage(ctx context.Context, chatID, senderID uuid.UUID, content, messageType string) (*models.Message, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	id := uuid.New()
	now := time.Now().UTC()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, chat_id, sender_id, content, message_type, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, id.String(), chatID.String(), senderID.String(), content, messageType, now)
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE chats SET updated_at = ? WHERE id = ?
	`, now, chatID.String()); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return &models.Message{
		ID:          id,
		ChatID:      chatID,
		SenderID:    senderID,
		Content:     content,
		MessageType: messageType,
		CreatedAt:   now,
	}, nil
}

// GetMessagesForChat retrieves messages for a chat, oldest first.
func (s *SQLiteStore) GetMessagesForChat(ctx context.Context, chatID uuid.UUID, limit int, before *time.Time) ([]models.Message, error) {
	var rows *sql.Rows
	var err error
	if before != nil {
		rows, err = s.db.QueryContext(ctx, `
			SELECT m.id, m.chat_id, m.sender_id, COALESCE(u.name, ''), m.content, m.message_type, m.created_at
			FROM messages m
			LEFT JOIN users u ON u.id = m.sender_id
			WHERE m.chat_id = ? AND m.created_at < ?
			ORDER BY m.created_at DESC
			LIMIT ?
		`, chatID.String(), before.UTC(), limit)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT m.id, m.chat_id, m.sender_id, COALESCE(u.name, ''), m.content, m.message_type, m.created_at
			FROM messages m
			LEFT JOIN users u ON u.id = m.sender_id
			WHERE m.chat_id = ?
			ORDER BY m.created_at DESC
			LIMIT ?
		`, chatID.String(), limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var m models.Message
		var idStr, chatStr string
		var senderStr sql.NullString
		if err := rows.Scan(&idStr, &chatStr, &senderStr, &m.SenderName, &m.Content, &m.MessageType, &m.CreatedAt); err != nil {
			return nil, err
		}
		if m.ID, err = uuid.Parse(idStr); err != nil {
			return nil, err
		}
		if m.ChatID, err = uuid.Parse(chatStr); err != nil {
			return nil, err
		}
		// Sender stays the zero uuid when the account was deleted.
		if senderStr.Valid {
			if m.SenderID, err = uuid.Parse(senderStr.String); err != nil {
				return nil, err
			}
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}
