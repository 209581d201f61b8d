// Package chat implements chat resolution: creating chats and deduplicating
// 1:1 chat creation against existing conversations.
package chat

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/parley-chat/parley/internal/metrics"
	"github.com/parley-chat/parley/internal/models"
	"github.com/parley-chat/parley/internal/store"
)

// Service resolves chat-creation requests against persistence. It depends
// only on the data store and is independent of the realtime gateway.
type Service struct {
	db     store.DataStore
	logger zerolog.Logger
}

// NewService creates a chat resolution service.
func NewService(db store.DataStore, logger zerolog.Logger) *Service {
	return &Service{db: db, logger: logger}
}

// ResolveOrCreate returns an existing 1:1 chat for the requested member set,
// or persists a new chat with its membership rows. The returned bool is true
// when a chat was created, false when an existing one was resolved.
//
// The member set is normalized to unique ids including the creator. For a
// non-group request with exactly two members, the creator's existing
// non-group chats are scanned for an identical member set; the first match
// is returned and no new row is created. Otherwise the chat and one
// membership row per member (creator admin, others member) are persisted as
// a single all-or-nothing transaction.
//
// Two concurrent 1:1 requests for the same pair can both pass the scan; the
// storage layer's uniqueness key on the member pair makes one of them lose,
// and the loser resolves to the winner's chat.
func (s *Service) ResolveOrCreate(ctx context.Context, creatorID uuid.UUID, title *string, isGroup bool, memberIDs []uuid.UUID) (*models.Chat, bool, error) {
	members := normalizeMembers(creatorID, memberIDs)

	if !isGroup && len(members) == 2 {
		existing, err := s.findExisting(ctx, creatorID, members)
		if err != nil {
			return nil, false, err
		}
		if existing != nil {
			metrics.ChatsDeduplicated.Inc()
			s.logger.Info().
				Str("chat", existing.ID.String()).
				Str("creator", creatorID.String()).
				Msg("resolved 1:1 chat to existing conversation")
			return existing, false, nil
		}
	}

	chat, err := s.db.CreateChatWithMembers(ctx, title, isGroup, creatorID, members)
	if err != nil {
		if errors.Is(err, store.ErrDuplicatePair) {
			// Lost the creation race; fetch and return the winner.
			winner, ferr := s.db.GetChatByPairKey(ctx, store.PairKey(members[0], members[1]))
			if ferr != nil {
				return nil, false, ferr
			}
			if winner != nil {
				metrics.ChatsDeduplicated.Inc()
				return winner, false, nil
			}
		}
		return nil, false, err
	}

	kind := "direct"
	if isGroup {
		kind = "group"
	}
	metrics.ChatsCreated.WithLabelValues(kind).Inc()
	s.logger.Info().
		Str("chat", chat.ID.String()).
		Str("creator", creatorID.String()).
		Bool("is_group", isGroup).
		Int("members", len(members)).
		Msg("chat created")
	return chat, true, nil
}

// findExisting scans the creator's non-group chats for one whose member set
// equals the requested set. First match wins; at most one such chat is
// expected under correct usage.
func (s *Service) findExisting(ctx context.Context, creatorID uuid.UUID, members []uuid.UUID) (*models.Chat, error) {
	chats, err := s.db.GetChatsForUser(ctx, creatorID)
	if err != nil {
		return nil, err
	}

	want := make(map[uuid.UUID]struct{}, len(members))
	for _, id := range members {
		want[id] = struct{}{}
	}

	for i := range chats {
		if chats[i].IsGroup {
			continue
		}
		chatMembers, err := s.db.GetChatMembers(ctx, chats[i].ID)
		if err != nil {
			return nil, err
		}
		if sameMemberSet(chatMembers, want) {
			return &chats[i], nil
		}
	}
	return nil, nil
}

// normalizeMembers returns the unique member set including the creator,
// preserving first-seen order with the creator first.
func normalizeMembers(creatorID uuid.UUID, memberIDs []uuid.UUID) []uuid.UUID {
	seen := map[uuid.UUID]struct{}{creatorID: {}}
	members := []uuid.UUID{creatorID}
	for _, id := range memberIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		members = append(members, id)
	}
	return members
}

// sameMemberSet reports whether the chat's member list is exactly the wanted
// set: same size, same elements.
func sameMemberSet(chatMembers []models.ChatMember, want map[uuid.UUID]struct{}) bool {
	if len(chatMembers) != len(want) {
		return false
	}
	for _, m := range chatMembers {
		if _, ok := want[m.UserID]; !ok {
			return false
		}
	}
	return true
}
