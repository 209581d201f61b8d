package handlers

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/parley-chat/parley/internal/models"
	"github.com/parley-chat/parley/internal/store"
)

// memStore is an in-memory DataStore used by the handler tests.
type memStore struct {
	users    map[uuid.UUID]*models.User
	chats    map[uuid.UUID]*models.Chat
	members  map[uuid.UUID][]models.ChatMember
	messages map[uuid.UUID][]models.Message
	pairs    map[string]uuid.UUID
}

func newMemStore() *memStore {
	return &memStore{
		users:    make(map[uuid.UUID]*models.User),
		chats:    make(map[uuid.UUID]*models.Chat),
		members:  make(map[uuid.UUID][]models.ChatMember),
		messages: make(map[uuid.UUID][]models.Message),
		pairs:    make(map[string]uuid.UUID),
	}
}

func (m *memStore) Close()                         {}
func (m *memStore) Ping(ctx context.Context) error { return nil }

func (m *memStore) CreateUser(ctx context.Context, name, email, dob, passwordHash string) (*models.User, error) {
	user := &models.User{
		ID:           uuid.New(),
		Name:         name,
		Email:        email,
		DOB:          dob,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now(),
	}
	m.users[user.ID] = user
	return user, nil
}

func (m *memStore) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return m.users[id], nil
}

func (m *memStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, nil
}

func (m *memStore) ListUsers(ctx context.Context) ([]models.User, error) {
	out := make([]models.User, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, *u)
	}
	return out, nil
}

func (m *memStore) UpdateUser(ctx context.Context, id uuid.UUID, fields map[string]string) (*models.User, error) {
	user, ok := m.users[id]
	if !ok {
		return nil, nil
	}
	for col, val := range fields {
		switch col {
		case "name":
			user.Name = val
		case "email":
			user.Email = val
		case "dob":
			user.DOB = val
		case "password":
			user.PasswordHash = val
		}
	}
	return user, nil
}

func (m *memStore) DeleteUser(ctx context.Context, id uuid.UUID) error {
	delete(m.users, id)
	return nil
}

func (m *memStore) CreateChatWithMembers(ctx context.Context, title *string, isGroup bool, createdBy uuid.UUID, memberIDs []uuid.UUID) (*models.Chat, error) {
	if !isGroup && len(memberIDs) == 2 {
		key := store.PairKey(memberIDs[0], memberIDs[1])
		if _, taken := m.pairs[key]; taken {
			return nil, store.ErrDuplicatePair
		}
	}

	chat := &models.Chat{
		ID:        uuid.New(),
		Title:     title,
		IsGroup:   isGroup,
		CreatedBy: createdBy,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	m.chats[chat.ID] = chat
	for _, id := range memberIDs {
		role := models.RoleMember
		if id == createdBy {
			role = models.RoleAdmin
		}
		m.members[chat.ID] = append(m.members[chat.ID], models.ChatMember{
			ChatID:   chat.ID,
			UserID:   id,
			Role:     role,
			JoinedAt: time.Now(),
		})
	}
	if !isGroup && len(memberIDs) == 2 {
		m.pairs[store.PairKey(memberIDs[0], memberIDs[1])] = chat.ID
	}
	return chat, nil
}

func (m *memStore) GetChat(ctx context.Context, id uuid.UUID) (*models.Chat, error) {
	return m.chats[id], nil
}

func (m *memStore) GetChatByPairKey(ctx context.Context, pairKey string) (*models.Chat, error) {
	if id, ok := m.pairs[pairKey]; ok {
		return m.chats[id], nil
	}
	return nil, nil
}

func (m *memStore) GetChatsForUser(ctx context.Context, userID uuid.UUID) ([]models.Chat, error) {
	var out []models.Chat
	for id, chat := range m.chats {
		for _, mem := range m.members[id] {
			if mem.UserID == userID {
				out = append(out, *chat)
				break
			}
		}
	}
	return out, nil
}

func (m *memStore) GetChatMembers(ctx context.Context, chatID uuid.UUID) ([]models.ChatMember, error) {
	return m.members[chatID], nil
}

func (m *memStore) IsChatMember(ctx context.Context, chatID, userID uuid.UUID) (bool, error) {
	for _, mem := range m.members[chatID] {
		if mem.UserID == userID {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) AddChatMember(ctx context.Context, chatID, userID uuid.UUID, role string) (*models.ChatMember, error) {
	for _, mem := range m.members[chatID] {
		if mem.UserID == userID {
			return nil, nil
		}
	}
	member := models.ChatMember{ChatID: chatID, UserID: userID, Role: role, JoinedAt: time.Now()}
	m.members[chatID] = append(m.members[chatID], member)
	return &member, nil
}

func (m *memStore) RemoveChatMember(ctx context.Context, chatID, userID uuid.UUID) error {
	members := m.members[chatID]
	for i, mem := range members {
		if mem.UserID == userID {
			m.members[chatID] = append(members[:i], members[i+1:]...)
			return nil
		}
	}
	return nil
}

func (m *memStore) RenameChat(ctx context.Context, id uuid.UUID, title string) (*models.Chat, error) {
	chat, ok := m.chats[id]
	if !ok {
		return nil, nil
	}
	chat.Title = &title
	chat.UpdatedAt = time.Now()
	return chat, nil
}

func (m *memStore) DeleteChat(ctx context.Context, id uuid.UUID) error {
	delete(m.chats, id)
	delete(m.members, id)
	delete(m.messages, id)
	return nil
}

func (m *memStore) CreateMessage(ctx context.Context, chatID, senderID uuid.UUID, content, messageType string) (*models.Message, error) {
	msg := models.Message{
		ID:          uuid.New(),
		ChatID:      chatID,
		SenderID:    senderID,
		Content:     content,
		MessageType: messageType,
		CreatedAt:   time.Now(),
	}
	if sender, ok := m.users[senderID]; ok {
		msg.SenderName = sender.Name
	}
	m.messages[chatID] = append(m.messages[chatID], msg)
	return &msg, nil
}

func (m *memStore) GetMessagesForChat(ctx context.Context, chatID uuid.UUID, limit int, before *time.Time) ([]models.Message, error) {
	var out []models.Message
	for _, msg := range m.messages[chatID] {
		if before != nil && !msg.CreatedAt.Before(*before) {
			continue
		}
		out = append(out, msg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}
