package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/parley-chat/parley/internal/api/middleware"
	"github.com/parley-chat/parley/internal/models"
)

// CreateChatRequest represents the chat creation request body.
type CreateChatRequest struct {
	Title   *string  `json:"title"`
	IsGroup bool     `json:"is_group"`
	Members []string `json:"members"`
}

// AddMemberRequest represents the add-member request body.
type AddMemberRequest struct {
	UserID string `json:"userId"`
	Role   string `json:"role"`
}

// RemoveMemberRequest represents the remove-member request body.
type RemoveMemberRequest struct {
	UserID string `json:"userId"`
}

// RenameChatRequest represents the rename request body.
type RenameChatRequest struct {
	Title string `json:"title"`
}

// chatURLParam parses the chatID path parameter.
func chatURLParam(r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "chatID"))
	return id, err == nil
}

// loadChatForMember fetches a chat and enforces that the requester is a
// member. It writes the error response and returns nil when access is
// denied or the chat is absent.
func (h *Handler) loadChatForMember(w http.ResponseWriter, r *http.Request, chatID, userID uuid.UUID) *models.Chat {
	chat, err := h.db.GetChat(r.Context(), chatID)
	if err != nil {
		h.StorageError(w, err)
		return nil
	}
	if chat == nil {
		h.Error(w, http.StatusNotFound, "chat not found")
		return nil
	}

	isMember, err := h.db.IsChatMember(r.Context(), chatID, userID)
	if err != nil {
		h.StorageError(w, err)
		return nil
	}
	if !isMember {
		h.Error(w, http.StatusForbidden, "forbidden")
		return nil
	}
	return chat
}

// CreateChat resolves or creates a chat for the requested member set.
// Returns 200 with the existing chat when a 1:1 request deduplicates, 201
// with the new chat otherwise.
func (h *Handler) CreateChat(w http.ResponseWriter, r *http.Request) {
	creatorID, ok := middleware.UserFromContext(r.Context())
	if !ok {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req CreateChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	memberIDs := make([]uuid.UUID, 0, len(req.Members))
	for _, raw := range req.Members {
		id, err := uuid.Parse(raw)
		if err != nil {
			h.Error(w, http.StatusBadRequest, "invalid member id: "+raw)
			return
		}
		memberIDs = append(memberIDs, id)
	}

	if req.Title != nil {
		trimmed := strings.TrimSpace(*req.Title)
		if trimmed == "" {
			req.Title = nil
		} else {
			req.Title = &trimmed
		}
	}

	chat, created, err := h.chats.ResolveOrCreate(r.Context(), creatorID, req.Title, req.IsGroup, memberIDs)
	if err != nil {
		h.StorageError(w, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	h.Success(w, status, map[string]interface{}{"chat": chat})
}

// GetUserChats lists the authenticated user's chats.
func (h *Handler) GetUserChats(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserFromContext(r.Context())
	if !ok {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	chats, err := h.db.GetChatsForUser(r.Context(), userID)
	if err != nil {
		h.StorageError(w, err)
		return
	}

	h.Success(w, http.StatusOK, map[string]interface{}{"chats": chats})
}

// GetChat returns a chat with its member list. Members only.
func (h *Handler) GetChat(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserFromContext(r.Context())
	if !ok {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}
	chatID, ok := chatURLParam(r)
	if !ok {
		h.Error(w, http.StatusBadRequest, "invalid chat ID format")
		return
	}

	chat := h.loadChatForMember(w, r, chatID, userID)
	if chat == nil {
		return
	}

	members, err := h.db.GetChatMembers(r.Context(), chatID)
	if err != nil {
		h.StorageError(w, err)
		return
	}

	h.Success(w, http.StatusOK, map[string]interface{}{
		"chat":    chat,
		"members": members,
	})
}

// RenameChat updates a chat title. Members only.
func (h *Handler) RenameChat(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserFromContext(r.Context())
	if !ok {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}
	chatID, ok := chatURLParam(r)
	if !ok {
		h.Error(w, http.StatusBadRequest, "invalid chat ID format")
		return
	}

	var req RenameChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		h.Error(w, http.StatusBadRequest, "title is required")
		return
	}

	if chat := h.loadChatForMember(w, r, chatID, userID); chat == nil {
		return
	}

	chat, err := h.db.RenameChat(r.Context(), chatID, req.Title)
	if err != nil {
		h.StorageError(w, err)
		return
	}
	if chat == nil {
		h.Error(w, http.StatusNotFound, "chat not found")
		return
	}

	h.Success(w, http.StatusOK, map[string]interface{}{"chat": chat})
}

// DeleteChat removes a chat. Members only; membership and message rows
// cascade.
func (h *Handler) DeleteChat(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserFromContext(r.Context())
	if !ok {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}
	chatID, ok := chatURLParam(r)
	if !ok {
		h.Error(w, http.StatusBadRequest, "invalid chat ID format")
		return
	}

	if chat := h.loadChatForMember(w, r, chatID, userID); chat == nil {
		return
	}

	if err := h.db.DeleteChat(r.Context(), chatID); err != nil {
		h.StorageError(w, err)
		return
	}
	if h.redis != nil {
		_ = h.redis.InvalidateMessages(r.Context(), chatID)
	}

	h.JSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": "chat deleted",
	})
}

// AddChatMember adds a user to a chat. Any existing member may add.
func (h *Handler) AddChatMember(w http.ResponseWriter, r *http.Request) {
	requesterID, ok := middleware.UserFromContext(r.Context())
	if !ok {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}
	chatID, ok := chatURLParam(r)
	if !ok {
		h.Error(w, http.StatusBadRequest, "invalid chat ID format")
		return
	}

	var req AddMemberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	targetID, err := uuid.Parse(req.UserID)
	if err != nil {
		h.Error(w, http.StatusBadRequest, "userId required")
		return
	}
	role := req.Role
	if role == "" {
		role = models.RoleMember
	}
	if role != models.RoleMember && role != models.RoleAdmin {
		h.Error(w, http.StatusBadRequest, "invalid role: "+role)
		return
	}

	if chat := h.loadChatForMember(w, r, chatID, requesterID); chat == nil {
		return
	}

	member, err := h.db.AddChatMember(r.Context(), chatID, targetID, role)
	if err != nil {
		h.StorageError(w, err)
		return
	}
	if member == nil {
		h.Error(w, http.StatusBadRequest, "could not add user")
		return
	}

	h.Success(w, http.StatusOK, map[string]interface{}{"member": member})
}

// RemoveChatMember removes a user from a chat. Any existing member may
// remove.
func (h *Handler) RemoveChatMember(w http.ResponseWriter, r *http.Request) {
	requesterID, ok := middleware.UserFromContext(r.Context())
	if !ok {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}
	chatID, ok := chatURLParam(r)
	if !ok {
		h.Error(w, http.StatusBadRequest, "invalid chat ID format")
		return
	}

	var req RemoveMemberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	targetID, err := uuid.Parse(req.UserID)
	if err != nil {
		h.Error(w, http.StatusBadRequest, "userId required")
		return
	}

	if chat := h.loadChatForMember(w, r, chatID, requesterID); chat == nil {
		return
	}

	if err := h.db.RemoveChatMember(r.Context(), chatID, targetID); err != nil {
		h.StorageError(w, err)
		return
	}

	h.Success(w, http.StatusOK, map[string]interface{}{"removed": targetID})
}
