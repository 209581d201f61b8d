package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/parley-chat/parley/internal/api/middleware"
	"github.com/parley-chat/parley/internal/auth"
	"github.com/parley-chat/parley/internal/metrics"
	"github.com/parley-chat/parley/internal/models"
)

// RegisterUserRequest represents the user registration request body.
type RegisterUserRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	DOB      string `json:"dob"`
	Password string `json:"password"`
}

// LoginRequest represents the login request body.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// tokenResponse is the success payload for register and login.
type tokenResponse struct {
	Token string       `json:"token"`
	User  *models.User `json:"user"`
}

// setTokenCookie mirrors the token into an http-only cookie so browser
// clients can authenticate without storing the JWT themselves.
func (h *Handler) setTokenCookie(w http.ResponseWriter, token string, maxAge time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     "token",
		Value:    token,
		Path:     "/",
		MaxAge:   int(maxAge.Seconds()),
		HttpOnly: true,
		Secure:   !h.isDev,
		SameSite: http.SameSiteNoneMode,
	})
}

// RegisterUser handles account creation.
func (h *Handler) RegisterUser(w http.ResponseWriter, r *http.Request) {
	var req RegisterUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	req.Name = sanitizeName(req.Name)
	if req.Name == "" || req.Email == "" || req.DOB == "" || req.Password == "" {
		h.Error(w, http.StatusBadRequest, "name, email, dob and password are required")
		return
	}
	if !isValidEmail(req.Email) {
		h.Error(w, http.StatusBadRequest, "invalid email format")
		return
	}
	if !auth.ValidPassword(req.Password) {
		h.Error(w, http.StatusBadRequest, "password must be 8-16 chars, include uppercase, lowercase, number and special char")
		return
	}

	existing, err := h.db.GetUserByEmail(r.Context(), req.Email)
	if err != nil {
		h.StorageError(w, err)
		return
	}
	if existing != nil {
		h.Error(w, http.StatusBadRequest, "a user with this email already exists")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to hash password")
		return
	}

	user, err := h.db.CreateUser(r.Context(), req.Name, req.Email, req.DOB, hash)
	if err != nil {
		h.StorageError(w, err)
		return
	}
	metrics.UsersRegistered.Inc()

	token, err := h.tokens.Sign(user.ID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to issue token")
		return
	}

	h.setTokenCookie(w, token, auth.TokenDuration)
	h.JSON(w, http.StatusCreated, map[string]interface{}{
		"status": "success",
		"token":  token,
		"data":   map[string]interface{}{"user": user},
	})
}

// Login handles credential verification and token issuance.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Email == "" || req.Password == "" {
		h.Error(w, http.StatusBadRequest, "email and password are required")
		return
	}

	user, err := h.db.GetUserByEmail(r.Context(), req.Email)
	if err != nil {
		h.StorageError(w, err)
		return
	}
	if user == nil || !auth.VerifyPassword(req.Password, user.PasswordHash) {
		h.Error(w, http.StatusUnauthorized, "invalid email or password")
		return
	}

	token, err := h.tokens.Sign(user.ID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to issue token")
		return
	}

	h.setTokenCookie(w, token, auth.TokenDuration)
	h.JSON(w, http.StatusOK, map[string]interface{}{
		"status": "success",
		"token":  token,
		"data":   map[string]interface{}{"user": user},
	})
}

// Logout revokes the current token and clears the cookie.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	token := middleware.TokenFromContext(r.Context())
	if token != "" && h.redis != nil {
		if claims, err := h.tokens.Verify(token); err == nil {
			if err := h.redis.RevokeToken(r.Context(), token, claims.RemainingValidity()); err != nil {
				h.logger.Warn().Err(err).Msg("failed to revoke token")
			}
		}
	}

	h.setTokenCookie(w, "", -1)
	h.JSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": "logged out successfully",
	})
}

// GetUser returns the authenticated user's profile.
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserFromContext(r.Context())
	if !ok {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	user, err := h.db.GetUserByID(r.Context(), userID)
	if err != nil {
		h.StorageError(w, err)
		return
	}
	if user == nil {
		h.Error(w, http.StatusNotFound, "user not found")
		return
	}

	h.Success(w, http.StatusOK, map[string]interface{}{"user": user})
}

// ListUsers returns all registered users.
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.db.ListUsers(r.Context())
	if err != nil {
		h.StorageError(w, err)
		return
	}
	h.JSON(w, http.StatusOK, map[string]interface{}{
		"status":  "success",
		"results": len(users),
		"data":    map[string]interface{}{"users": users},
	})
}

// updatableUserFields maps request fields to user table columns.
var updatableUserFields = map[string]string{
	"name":     "name",
	"email":    "email",
	"dob":      "dob",
	"password": "password",
}

// UpdateUser applies partial updates to the authenticated user.
func (h *Handler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserFromContext(r.Context())
	if !ok {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req map[string]string
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(req) == 0 {
		h.Error(w, http.StatusBadRequest, "please provide fields to update")
		return
	}

	fields := make(map[string]string, len(req))
	for key, val := range req {
		col, ok := updatableUserFields[key]
		if !ok {
			h.Error(w, http.StatusBadRequest, "invalid field: "+key)
			return
		}
		fields[col] = val
	}

	if email, ok := fields["email"]; ok && !isValidEmail(email) {
		h.Error(w, http.StatusBadRequest, "invalid email format")
		return
	}
	if password, ok := fields["password"]; ok {
		if !auth.ValidPassword(password) {
			h.Error(w, http.StatusBadRequest, "password must be 8-16 chars, include uppercase, lowercase, number and special char")
			return
		}
		hash, err := auth.HashPassword(password)
		if err != nil {
			h.Error(w, http.StatusInternalServerError, "failed to hash password")
			return
		}
		fields["password"] = hash
	}

	user, err := h.db.UpdateUser(r.Context(), userID, fields)
	if err != nil {
		h.StorageError(w, err)
		return
	}
	if user == nil {
		h.Error(w, http.StatusNotFound, "user not found")
		return
	}

	h.Success(w, http.StatusOK, map[string]interface{}{"user": user})
}

// DeleteUser removes the authenticated user's account.
func (h *Handler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserFromContext(r.Context())
	if !ok {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	user, err := h.db.GetUserByID(r.Context(), userID)
	if err != nil {
		h.StorageError(w, err)
		return
	}
	if user == nil {
		h.Error(w, http.StatusNotFound, "user not found")
		return
	}

	if err := h.db.DeleteUser(r.Context(), userID); err != nil {
		h.StorageError(w, err)
		return
	}

	h.JSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": "user deleted successfully",
	})
}
