package chat

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/parley-chat/parley/internal/models"
	"github.com/parley-chat/parley/internal/store"
)

// fakeStore is an in-memory DataStore covering the operations the chat
// service uses. Everything else panics to catch accidental use.
type fakeStore struct {
	chats   map[uuid.UUID]*models.Chat
	members map[uuid.UUID][]models.ChatMember
	pairs   map[string]uuid.UUID

	createErr error
	staleScan bool // hide all chats from GetChatsForUser
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		chats:   make(map[uuid.UUID]*models.Chat),
		members: make(map[uuid.UUID][]models.ChatMember),
		pairs:   make(map[string]uuid.UUID),
	}
}

func (f *fakeStore) CreateChatWithMembers(ctx context.Context, title *string, isGroup bool, createdBy uuid.UUID, memberIDs []uuid.UUID) (*models.Chat, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}

	if !isGroup && len(memberIDs) == 2 {
		key := store.PairKey(memberIDs[0], memberIDs[1])
		if _, taken := f.pairs[key]; taken {
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
	f.chats[chat.ID] = chat
	for _, id := range memberIDs {
		role := models.RoleMember
		if id == createdBy {
			role = models.RoleAdmin
		}
		f.members[chat.ID] = append(f.members[chat.ID], models.ChatMember{
			ChatID: chat.ID,
			UserID: id,
			Role:   role,
		})
	}
	if !isGroup && len(memberIDs) == 2 {
		f.pairs[store.PairKey(memberIDs[0], memberIDs[1])] = chat.ID
	}
	return chat, nil
}

func (f *fakeStore) GetChatByPairKey(ctx context.Context, pairKey string) (*models.Chat, error) {
	if id, ok := f.pairs[pairKey]; ok {
		return f.chats[id], nil
	}
	return nil, nil
}

func (f *fakeStore) GetChatsForUser(ctx context.Context, userID uuid.UUID) ([]models.Chat, error) {
	if f.staleScan {
		return nil, nil
	}
	var out []models.Chat
	for id, chat := range f.chats {
		for _, m := range f.members[id] {
			if m.UserID == userID {
				out = append(out, *chat)
				break
			}
		}
	}
	return out, nil
}

func (f *fakeStore) GetChatMembers(ctx context.Context, chatID uuid.UUID) ([]models.ChatMember, error) {
	return f.members[chatID], nil
}

func (f *fakeStore) Close()                                 {}
func (f *fakeStore) Ping(ctx context.Context) error         { return nil }
func (f *fakeStore) CreateUser(context.Context, string, string, string, string) (*models.User, error) {
	panic("not used")
}
func (f *fakeStore) GetUserByID(context.Context, uuid.UUID) (*models.User, error) { panic("not used") }
func (f *fakeStore) GetUserByEmail(context.Context, string) (*models.User, error) { panic("not used") }
func (f *fakeStore) ListUsers(context.Context) ([]models.User, error)             { panic("not used") }
func (f *fakeStore) UpdateUser(context.Context, uuid.UUID, map[string]string) (*models.User, error) {
	panic("not used")
}
func (f *fakeStore) DeleteUser(context.Context, uuid.UUID) error { panic("not used") }
func (f *fakeStore) GetChat(context.Context, uuid.UUID) (*models.Chat, error) {
	panic("not used")
}
func (f *fakeStore) IsChatMember(context.Context, uuid.UUID, uuid.UUID) (bool, error) {
	panic("not used")
}
func (f *fakeStore) AddChatMember(context.Context, uuid.UUID, uuid.UUID, string) (*models.ChatMember, error) {
	panic("not used")
}
func (f *fakeStore) RemoveChatMember(context.Context, uuid.UUID, uuid.UUID) error { panic("not used") }
func (f *fakeStore) RenameChat(context.Context, uuid.UUID, string) (*models.Chat, error) {
	panic("not used")
}
func (f *fakeStore) DeleteChat(context.Context, uuid.UUID) error { panic("not used") }
func (f *fakeStore) CreateMessage(context.Context, uuid.UUID, uuid.UUID, string, string) (*models.Message, error) {
	panic("not used")
}
func (f *fakeStore) GetMessagesForChat(context.Context, uuid.UUID, int, *time.Time) ([]models.Message, error) {
	panic("not used")
}

func testService(f *fakeStore) *Service {
	return NewService(f, zerolog.Nop())
}

func TestCreateDirectChat(t *testing.T) {
	f := newFakeStore()
	s := testService(f)
	alice := uuid.New()
	bob := uuid.New()

	chat, created, err := s.ResolveOrCreate(context.Background(), alice, nil, false, []uuid.UUID{bob})
	if err != nil {
		t.Fatal(err)
	}
	if !created {
		t.Fatal("expected a new chat")
	}
	if chat.IsGroup {
		t.Fatal("expected a direct chat")
	}

	members, _ := f.GetChatMembers(context.Background(), chat.ID)
	if len(members) != 2 {
		t.Fatalf("expected 2 members, got %d", len(members))
	}
	roles := map[uuid.UUID]string{}
	for _, m := range members {
		roles[m.UserID] = m.Role
	}
	if roles[alice] != models.RoleAdmin {
		t.Fatalf("creator role = %q, want admin", roles[alice])
	}
	if roles[bob] != models.RoleMember {
		t.Fatalf("member role = %q, want member", roles[bob])
	}
}

func TestDirectChatDeduplicated(t *testing.T) {
	f := newFakeStore()
	s := testService(f)
	alice := uuid.New()
	bob := uuid.New()

	first, _, err := s.ResolveOrCreate(context.Background(), alice, nil, false, []uuid.UUID{bob})
	if err != nil {
		t.Fatal(err)
	}

	// Same pair again, requested from the other side.
	second, created, err := s.ResolveOrCreate(context.Background(), bob, nil, false, []uuid.UUID{alice})
	if err != nil {
		t.Fatal(err)
	}
	if created {
		t.Fatal("second request should resolve, not create")
	}
	if second.ID != first.ID {
		t.Fatalf("resolved chat %s, want %s", second.ID, first.ID)
	}
	if len(f.chats) != 1 {
		t.Fatalf("expected 1 chat in store, got %d", len(f.chats))
	}
}

func TestGroupChatsNeverDeduplicated(t *testing.T) {
	f := newFakeStore()
	s := testService(f)
	alice := uuid.New()
	bob := uuid.New()
	title := "plans"

	first, _, err := s.ResolveOrCreate(context.Background(), alice, &title, true, []uuid.UUID{bob})
	if err != nil {
		t.Fatal(err)
	}
	second, created, err := s.ResolveOrCreate(context.Background(), alice, &title, true, []uuid.UUID{bob})
	if err != nil {
		t.Fatal(err)
	}
	if !created {
		t.Fatal("group request should always create")
	}
	if first.ID == second.ID {
		t.Fatal("expected two distinct group chats")
	}
}

func TestDedupRequiresExactMemberSet(t *testing.T) {
	f := newFakeStore()
	s := testService(f)
	alice := uuid.New()
	bob := uuid.New()
	carol := uuid.New()

	// A group chat with the same pair plus one must not satisfy a 1:1 lookup.
	title := "three of us"
	if _, _, err := s.ResolveOrCreate(context.Background(), alice, &title, true, []uuid.UUID{bob, carol}); err != nil {
		t.Fatal(err)
	}

	_, created, err := s.ResolveOrCreate(context.Background(), alice, nil, false, []uuid.UUID{bob})
	if err != nil {
		t.Fatal(err)
	}
	if !created {
		t.Fatal("1:1 request should not resolve to a group chat")
	}
}

func TestMemberNormalization(t *testing.T) {
	f := newFakeStore()
	s := testService(f)
	alice := uuid.New()
	bob := uuid.New()

	// Creator listed explicitly, member repeated.
	chat, created, err := s.ResolveOrCreate(context.Background(), alice, nil, false, []uuid.UUID{alice, bob, bob})
	if err != nil {
		t.Fatal(err)
	}
	if !created {
		t.Fatal("expected creation")
	}
	members, _ := f.GetChatMembers(context.Background(), chat.ID)
	if len(members) != 2 {
		t.Fatalf("expected 2 members after normalization, got %d", len(members))
	}

	// The normalized pair still deduplicates against a clean request.
	_, created, err = s.ResolveOrCreate(context.Background(), bob, nil, false, []uuid.UUID{alice})
	if err != nil {
		t.Fatal(err)
	}
	if created {
		t.Fatal("normalized pair should deduplicate")
	}
}

func TestSelfChat(t *testing.T) {
	f := newFakeStore()
	s := testService(f)
	alice := uuid.New()

	// Member list collapses to just the creator; no pair to deduplicate.
	chat, created, err := s.ResolveOrCreate(context.Background(), alice, nil, false, []uuid.UUID{alice})
	if err != nil {
		t.Fatal(err)
	}
	if !created {
		t.Fatal("expected creation")
	}
	members, _ := f.GetChatMembers(context.Background(), chat.ID)
	if len(members) != 1 {
		t.Fatalf("expected 1 member, got %d", len(members))
	}
}

func TestCreateFailurePropagates(t *testing.T) {
	f := newFakeStore()
	f.createErr = errors.New("constraint violated")
	s := testService(f)

	_, _, err := s.ResolveOrCreate(context.Background(), uuid.New(), nil, false, []uuid.UUID{uuid.New()})
	if err == nil {
		t.Fatal("expected error from storage")
	}
	if len(f.chats) != 0 {
		t.Fatal("no chat should exist after a failed creation")
	}
}

func TestDuplicatePairRaceResolvesWinner(t *testing.T) {
	f := newFakeStore()
	s := testService(f)
	alice := uuid.New()
	bob := uuid.New()

	winner, _, err := s.ResolveOrCreate(context.Background(), alice, nil, false, []uuid.UUID{bob})
	if err != nil {
		t.Fatal(err)
	}

	// The loser's pre-creation scan sees a stale view with no chats, so it
	// proceeds to insert and hits the pair uniqueness key.
	f.staleScan = true

	chat, created, err := s.ResolveOrCreate(context.Background(), bob, nil, false, []uuid.UUID{alice})
	if err != nil {
		t.Fatal(err)
	}
	if created {
		t.Fatal("race loser should resolve, not create")
	}
	if chat.ID != winner.ID {
		t.Fatalf("resolved %s, want winner %s", chat.ID, winner.ID)
	}
}
