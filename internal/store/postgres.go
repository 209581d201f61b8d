package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/parley-chat/parley/internal/models"
)

// PostgresStore handles PostgreSQL database operations.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// CreateUser creates a new user record.
func (s *PostgresStore) CreateUser(ctx context.Context, name, email, dob, passwordHash string) (*models.User, error) {
	user := &models.User{}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO users (name, email, dob, password)
		VALUES ($1, $2, $3, $4)
		RETURNING id, name, email, dob, password, created_at
	`, name, email, dob, passwordHash).Scan(
		&user.ID,
		&user.Name,
		&user.Email,
		&user.DOB,
		&user.PasswordHash,
		&user.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return user, nil
}

// GetUserByID retrieves a user by ID.
func (s *PostgresStore) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return s.getUser(ctx, `WHERE id = $1`, id)
}

// GetUserByEmail retrieves a user by email.
func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.getUser(ctx, `WHERE email = $1`, email)
}

func (s *PostgresStore) getUser(ctx context.Context, where string, arg any) (*models.User, error) {
	user := &models.User{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, email, dob, password, created_at
		FROM users `+where,
		arg).Scan(
		&user.ID,
		&user.Name,
		&user.Email,
		&user.DOB,
		&user.PasswordHash,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return user, nil
}

// ListUsers retrieves all users, newest first.
func (s *PostgresStore) ListUsers(ctx context.Context) ([]models.User, error) {
	rows, err := s.pool.Query(ctx, `
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
		if err := rows.Scan(&u.ID, &u.Name, &u.Email, &u.DOB, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// UpdateUser applies the given field updates and returns the updated user.
// Callers are responsible for restricting fields to the allowed set.
func (s *PostgresStore) UpdateUser(ctx context.Context, id uuid.UUID, fields map[string]string) (*models.User, error) {
	if len(fields) == 0 {
		return s.GetUserByID(ctx, id)
	}

	setClauses := make([]string, 0, len(fields))
	args := make([]any, 0, len(fields)+1)
	i := 1
	for col, val := range fields {
		setClauses = append(setClauses, fmt.Sprintf("%s = $%d", col, i))
		args = append(args, val)
		i++
	}
	args = append(args, id)

	user := &models.User{}
	query := fmt.Sprintf(`
		UPDATE users SET %s
		WHERE id = $%d
		RETURNING id, name, email, dob, password, created_at
	`, strings.Join(setClauses, ", "), i)

	err := s.pool.QueryRow(ctx, query, args...).Scan(
		&user.ID,
		&user.Name,
		&user.Email,
		&user.DOB,
		&user.PasswordHash,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return user, nil
}

// DeleteUser removes a user record.
func (s *PostgresStore) DeleteUser(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	return err
}

// CreateChatWithMembers creates a chat and its membership rows in a single
// transaction. The creator gets role admin, everyone else member. If the
// unique pair key for a 1:1 chat is already taken, ErrDuplicatePair is
// returned and no rows persist.
func (s *PostgresStore) CreateChatWithMembers(ctx context.Context, title *string, isGroup bool, createdBy uuid.UUID, memberIDs []uuid.UUID) (*models.Chat, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var pairKey *string
	if !isGroup && len(memberIDs) == 2 {
		pk := PairKey(memberIDs[0], memberIDs[1])
		pairKey = &pk
	}

	chat := &models.Chat{}
	err = tx.QueryRow(ctx, `
		INSERT INTO chats (title, is_group, created_by, pair_key)
		VALUES ($1, $2, $3, $4)
		RETURNING id, title, is_group, created_by, created_at, updated_at
	`, title, isGroup, createdBy, pairKey).Scan(
		&chat.ID,
		&chat.Title,
		&chat.IsGroup,
		&chat.CreatedBy,
		&chat.CreatedAt,
		&chat.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, "chats_pair_key") {
			return nil, ErrDuplicatePair
		}
		return nil, err
	}

	for _, uid := range memberIDs {
		role := models.RoleMember
		if uid == createdBy {
			role = models.RoleAdmin
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO chat_users (chat_id, user_id, role)
			VALUES ($1, $2, $3)
		`, chat.ID, uid, role); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return chat, nil
}

// isUniqueViolation reports whether err is a unique constraint violation on
// the named constraint.
func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" && strings.Contains(pgErr.ConstraintName, constraint)
	}
	return false
}

// GetChat retrieves a chat by ID.
func (s *PostgresStore) GetChat(ctx context.Context, id uuid.UUID) (*models.Chat, error) {
	return s.getChat(ctx, `WHERE id = $1`, id)
}

// GetChatByPairKey retrieves the 1:1 chat for a member pair, if any.
func (s *PostgresStore) GetChatByPairKey(ctx context.Context, pairKey string) (*models.Chat, error) {
	return s.getChat(ctx, `WHERE pair_key = $1`, pairKey)
}

func (s *PostgresStore) getChat(ctx context.Context, where string, arg any) (*models.Chat, error) {
	chat := &models.Chat{}
	var createdBy *uuid.UUID
	err := s.pool.QueryRow(ctx, `
		SELECT id, title, is_group, created_by, created_at, updated_at
		FROM chats `+where,
		arg).Scan(
		&chat.ID,
		&chat.Title,
		&chat.IsGroup,
		&createdBy,
		&chat.CreatedAt,
		&chat.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	// created_by is null once the creator's account is deleted.
	if createdBy != nil {
		chat.CreatedBy = *createdBy
	}
	return chat, nil
}

// GetChatsForUser retrieves all chats the user is a member of, most recently
// active first.
func (s *PostgresStore) GetChatsForUser(ctx context.Context, userID uuid.UUID) ([]models.Chat, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT c.id, c.title, c.is_group, c.created_by, c.created_at, c.updated_at
		FROM chats c
		JOIN chat_users cu ON cu.chat_id = c.id
		WHERE cu.user_id = $1
		ORDER BY c.updated_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chats []models.Chat
	for rows.Next() {
		var c models.Chat
		var createdBy *uuid.UUID
		if err := rows.Scan(&c.ID, &c.Title, &c.IsGroup, &createdBy, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		if createdBy != nil {
			c.CreatedBy = *createdBy
		}
		chats = append(chats, c)
	}
	return chats, rows.Err()
}

// GetChatMembers retrieves the members of a chat with their user details.
func (s *PostgresStore) GetChatMembers(ctx context.Context, chatID uuid.UUID) ([]models.ChatMember, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT cu.chat_id, u.id, u.name, u.email, cu.role, cu.joined_at
		FROM chat_users cu
		JOIN users u ON u.id = cu.user_id
		WHERE cu.chat_id = $1
	`, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []models.ChatMember
	for rows.Next() {
		var m models.ChatMember
		if err := rows.Scan(&m.ChatID, &m.UserID, &m.Name, &m.Email, &m.Role, &m.JoinedAt); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// IsChatMember reports whether the user is a member of the chat.
func (s *PostgresStore) IsChatMember(ctx context.Context, chatID, userID uuid.UUID) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM chat_users WHERE chat_id = $1 AND user_id = $2)
	`, chatID, userID).Scan(&exists)
	return exists, err
}

// AddChatMember adds a user to a chat. Adding an existing member is a no-op
// and returns nil.
func (s *PostgresStore) AddChatMember(ctx context.Context, chatID, userID uuid.UUID, role string) (*models.ChatMember, error) {
	member := &models.ChatMember{}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO chat_users (chat_id, user_id, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (chat_id, user_id) DO NOTHING
		RETURNING chat_id, user_id, role, joined_at
	`, chatID, userID, role).Scan(
		&member.ChatID,
		&member.UserID,
		&member.Role,
		&member.JoinedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return member, nil
}

// RemoveChatMember removes a user from a chat.
func (s *PostgresStore) RemoveChatMember(ctx context.Context, chatID, userID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM chat_users WHERE chat_id = $1 AND user_id = $2
	`, chatID, userID)
	return err
}

// RenameChat updates the chat title.
func (s *PostgresStore) RenameChat(ctx context.Context, id uuid.UUID, title string) (*models.Chat, error) {
	chat := &models.Chat{}
	err := s.pool.QueryRow(ctx, `
		UPDATE chats SET title = $1, updated_at = NOW()
		WHERE id = $2
		RETURNING id, title, is_group, created_by, created_at, updated_at
	`, title, id).Scan(
		&chat.ID,
		&chat.Title,
		&chat.IsGroup,
		&chat.CreatedBy,
		&chat.CreatedAt,
		&chat.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return chat, nil
}

// DeleteChat removes a chat. Membership and message rows cascade.
func (s *PostgresStore) DeleteChat(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM chats WHERE id = $1`, id)
	return err
}

// CreateMessage inserts a message and bumps the chat's updated_at in the same
// transaction.
func (s *PostgresStore) CreateMessage(ctx context.Context, chatID, senderID uuid.UUID, content, messageType string) (*models.Message, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	msg := &models.Message{}
	err = tx.QueryRow(ctx, `
		INSERT INTO messages (chat_id, sender_id, content, message_type)
		VALUES ($1, $2, $3, $4)
		RETURNING id, chat_id, sender_id, content, message_type, created_at
	`, chatID, senderID, content, messageType).Scan(
		&msg.ID,
		&msg.ChatID,
		&msg.SenderID,
		&msg.Content,
		&msg.MessageType,
		&msg.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx, `UPDATE chats SET updated_at = NOW() WHERE id = $1`, chatID); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return msg, nil
}

// GetMessagesForChat retrieves messages for a chat, oldest first. When before
// is set, only messages created strictly earlier are returned; limit applies
// to the newest messages within that window.
func (s *PostgresStore) GetMessagesForChat(ctx context.Context, chatID uuid.UUID, limit int, before *time.Time) ([]models.Message, error) {
	var rows pgx.Rows
	var err error
	if before != nil {
		rows, err = s.pool.Query(ctx, `
			SELECT m.id, m.chat_id, m.sender_id, COALESCE(u.name, ''), m.content, m.message_type, m.created_at
			FROM messages m
			LEFT JOIN users u ON u.id = m.sender_id
			WHERE m.chat_id = $1 AND m.created_at < $2
			ORDER BY m.created_at DESC
			LIMIT $3
		`, chatID, *before, limit)
	} else {
		rows, err = s.pool.Query(ctx, `
			SELECT m.id, m.chat_id, m.sender_id, COALESCE(u.name, ''), m.content, m.message_type, m.created_at
			FROM messages m
			LEFT JOIN users u ON u.id = m.sender_id
			WHERE m.chat_id = $1
			ORDER BY m.created_at DESC
			LIMIT $2
		`, chatID, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var m models.Message
		var sender *uuid.UUID
		if err := rows.Scan(&m.ID, &m.ChatID, &sender, &m.SenderName, &m.Content, &m.MessageType, &m.CreatedAt); err != nil {
			return nil, err
		}
		// Sender stays the zero uuid when the account was deleted.
		if sender != nil {
			m.SenderID = *sender
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Query returns newest first; present in chronological order.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}
