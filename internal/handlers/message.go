package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/parley-chat/parley/internal/api/middleware"
	"github.com/parley-chat/parley/internal/metrics"
)

// messageTypes are the accepted values for message_type.
var messageTypes = map[string]bool{
	"text":  true,
	"image": true,
	"audio": true,
	"video": true,
}

// SendMessageRequest represents the send message request body.
type SendMessageRequest struct {
	Content     string `json:"content"`
	MessageType string `json:"message_type"`
}

// SendMessage persists a message in a chat. Members only. The realtime
// broadcast is a separate client-driven socket action; the REST write and
// the socket broadcast are two independent client actions, not
// server-chained.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	senderID, ok := middleware.UserFromContext(r.Context())
	if !ok {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}
	chatID, ok := chatURLParam(r)
	if !ok {
		h.Error(w, http.StatusBadRequest, "invalid chat ID format")
		return
	}

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.MessageType == "" {
		req.MessageType = "text"
	}
	if !messageTypes[req.MessageType] {
		h.Error(w, http.StatusBadRequest, "invalid message_type: "+req.MessageType)
		return
	}
	if req.Content == "" && req.MessageType == "text" {
		h.Error(w, http.StatusBadRequest, "message content required")
		return
	}

	if chat := h.loadChatForMember(w, r, chatID, senderID); chat == nil {
		return
	}

	msg, err := h.db.CreateMessage(r.Context(), chatID, senderID, req.Content, req.MessageType)
	if err != nil {
		h.StorageError(w, err)
		return
	}
	metrics.MessagesPersisted.Inc()

	if h.redis != nil {
		if err := h.redis.CacheMessage(r.Context(), msg); err != nil {
			h.logger.Warn().Err(err).Msg("message cache write failed")
		}
	}

	h.Success(w, http.StatusCreated, map[string]interface{}{"message": msg})
}

// GetMessages lists messages in a chat, oldest first. Members only. The
// newest page is served from the Redis cache when warm; any miss falls
// through to SQL.
func (h *Handler) GetMessages(w http.ResponseWriter, r *http.Request) {
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

	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			limit = l
		}
	}
	if limit > 200 {
		limit = 200
	}

	var before *time.Time
	if beforeStr := r.URL.Query().Get("before"); beforeStr != "" {
		t, err := time.Parse(time.RFC3339, beforeStr)
		if err != nil {
			h.Error(w, http.StatusBadRequest, "invalid before timestamp")
			return
		}
		before = &t
	}

	if chat := h.loadChatForMember(w, r, chatID, userID); chat == nil {
		return
	}

	if before == nil && h.redis != nil {
		if cached, err := h.redis.RecentMessages(r.Context(), chatID, limit); err == nil && cached != nil {
			h.Success(w, http.StatusOK, map[string]interface{}{"messages": cached})
			return
		}
	}

	messages, err := h.db.GetMessagesForChat(r.Context(), chatID, limit, before)
	if err != nil {
		h.StorageError(w, err)
		return
	}

	h.Success(w, http.StatusOK, map[string]interface{}{"messages": messages})
}
