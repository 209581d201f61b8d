package handlers

import (
	"encoding/json"
	"net/http"
	"regexp"
	"strings"
	"unicode"

	"github.com/rs/zerolog"

	"github.com/parley-chat/parley/internal/auth"
	"github.com/parley-chat/parley/internal/chat"
	"github.com/parley-chat/parley/internal/store"
)

// emailRegex validates email addresses per RFC 5322 (simplified).
var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	db     store.DataStore
	redis  *store.RedisStore
	chats  *chat.Service
	tokens *auth.TokenManager
	logger zerolog.Logger
	isDev  bool
}

// NewHandler creates a new Handler with the given dependencies. redis may be
// nil in development; everything that uses it is best-effort.
func NewHandler(db store.DataStore, redis *store.RedisStore, chats *chat.Service, tokens *auth.TokenManager, logger zerolog.Logger, isDev bool) *Handler {
	return &Handler{db: db, redis: redis, chats: chats, tokens: tokens, logger: logger, isDev: isDev}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Success sends the API's success envelope.
func (h *Handler) Success(w http.ResponseWriter, status int, data interface{}) {
	h.JSON(w, status, map[string]interface{}{"status": "success", "data": data})
}

// Error sends the API's error envelope.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"status": "error", "message": message})
}

// StorageError masks persistence failures: production callers get a generic
// message, development gets the underlying error text.
func (h *Handler) StorageError(w http.ResponseWriter, err error) {
	h.logger.Error().Err(err).Msg("storage failure")
	if h.isDev {
		h.JSON(w, http.StatusInternalServerError, map[string]string{
			"status":  "error",
			"message": "database error",
			"detail":  err.Error(),
		})
		return
	}
	h.Error(w, http.StatusInternalServerError, "database error")
}

// sanitizeName trims and limits a display name to 100 characters, removing
// control characters.
func sanitizeName(name string) string {
	name = strings.TrimSpace(name)

	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)

	if len(name) > 100 {
		name = name[:100]
	}

	return name
}

// isValidEmail validates email addresses using RFC 5322 pattern.
func isValidEmail(email string) bool {
	if len(email) > 254 {
		return false
	}
	return emailRegex.MatchString(email)
}
