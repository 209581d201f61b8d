package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/parley-chat/parley/internal/api/middleware"
	"github.com/parley-chat/parley/internal/auth"
	"github.com/parley-chat/parley/internal/chat"
)

// testEnv wires a handler onto a router the way the API does, minus the
// outer middleware stack.
type testEnv struct {
	store  *memStore
	tokens *auth.TokenManager
	router *chi.Mux
}

func newTestEnv() *testEnv {
	st := newMemStore()
	tokens := auth.NewTokenManager("test-secret")
	logger := zerolog.Nop()
	h := NewHandler(st, nil, chat.NewService(st, logger), tokens, logger, true)
	authmw := middleware.NewAuthMiddleware(tokens, nil)

	r := chi.NewRouter()
	r.Post("/user/create", h.RegisterUser)
	r.Post("/user/login", h.Login)
	r.Group(func(r chi.Router) {
		r.Use(authmw.RequireAuth)
		r.Get("/user", h.GetUser)
		r.Get("/user/all", h.ListUsers)
		r.Patch("/user/update", h.UpdateUser)
		r.Post("/chat", h.CreateChat)
		r.Get("/chat", h.GetUserChats)
		r.Get("/chat/{chatID}", h.GetChat)
		r.Post("/chat/{chatID}/messages", h.SendMessage)
		r.Get("/chat/{chatID}/messages", h.GetMessages)
	})

	return &testEnv{store: st, tokens: tokens, router: r}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("unparseable response %q: %v", rec.Body.String(), err)
	}
	return out
}

// register creates an account and returns its id and token.
func (e *testEnv) register(t *testing.T, name, email string) (string, string) {
	t.Helper()
	rec := e.do(t, "POST", "/user/create", "", map[string]string{
		"name": name, "email": email, "dob": "1990-01-01", "password": "Passw0rd!",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register %s: status %d body %s", email, rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	user := body["data"].(map[string]any)["user"].(map[string]any)
	return user["id"].(string), body["token"].(string)
}

func TestRegisterUser(t *testing.T) {
	e := newTestEnv()
	rec := e.do(t, "POST", "/user/create", "", map[string]string{
		"name": "Alice", "email": "alice@example.com", "dob": "1990-01-01", "password": "Passw0rd!",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status %d body %s", rec.Code, rec.Body.String())
	}

	body := decodeBody(t, rec)
	if body["status"] != "success" {
		t.Fatalf("status envelope %v", body["status"])
	}
	if body["token"] == "" {
		t.Fatal("expected a token in the response")
	}
	user := body["data"].(map[string]any)["user"].(map[string]any)
	if user["email"] != "alice@example.com" {
		t.Fatalf("user email %v", user["email"])
	}
	if _, leaked := user["password"]; leaked {
		t.Fatal("password field leaked in response")
	}

	// The cookie mirrors the token.
	cookies := rec.Result().Cookies()
	found := false
	for _, c := range cookies {
		if c.Name == "token" && c.Value != "" && c.HttpOnly {
			found = true
		}
	}
	if !found {
		t.Fatal("expected an http-only token cookie")
	}
}

func TestRegisterValidation(t *testing.T) {
	e := newTestEnv()
	cases := []map[string]string{
		{"email": "a@b.co", "dob": "1990-01-01", "password": "Passw0rd!"},                   // no name
		{"name": "A", "dob": "1990-01-01", "password": "Passw0rd!"},                        // no email
		{"name": "A", "email": "not-an-email", "dob": "1990-01-01", "password": "Passw0rd!"},
		{"name": "A", "email": "a@b.co", "dob": "1990-01-01", "password": "weak"},
	}
	for _, c := range cases {
		if rec := e.do(t, "POST", "/user/create", "", c); rec.Code != http.StatusBadRequest {
			t.Errorf("case %v: status %d, want 400", c, rec.Code)
		}
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	e := newTestEnv()
	e.register(t, "Alice", "alice@example.com")

	rec := e.do(t, "POST", "/user/create", "", map[string]string{
		"name": "Mallory", "email": "alice@example.com", "dob": "1990-01-01", "password": "Passw0rd!",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", rec.Code)
	}
}

func TestLogin(t *testing.T) {
	e := newTestEnv()
	e.register(t, "Alice", "alice@example.com")

	rec := e.do(t, "POST", "/user/login", "", map[string]string{
		"email": "alice@example.com", "password": "Passw0rd!",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d body %s", rec.Code, rec.Body.String())
	}
	if decodeBody(t, rec)["token"] == "" {
		t.Fatal("expected a token")
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	e := newTestEnv()
	e.register(t, "Alice", "alice@example.com")

	wrongPass := e.do(t, "POST", "/user/login", "", map[string]string{
		"email": "alice@example.com", "password": "WrongPass1!",
	})
	if wrongPass.Code != http.StatusUnauthorized {
		t.Fatalf("wrong password: status %d, want 401", wrongPass.Code)
	}

	unknown := e.do(t, "POST", "/user/login", "", map[string]string{
		"email": "nobody@example.com", "password": "Passw0rd!",
	})
	if unknown.Code != http.StatusUnauthorized {
		t.Fatalf("unknown email: status %d, want 401", unknown.Code)
	}
}

func TestGetUserRequiresAuth(t *testing.T) {
	e := newTestEnv()

	if rec := e.do(t, "GET", "/user", "", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token: status %d, want 401", rec.Code)
	}
	if rec := e.do(t, "GET", "/user", "garbage", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad token: status %d, want 401", rec.Code)
	}
}

func TestGetUserWithToken(t *testing.T) {
	e := newTestEnv()
	id, token := e.register(t, "Alice", "alice@example.com")

	rec := e.do(t, "GET", "/user", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d body %s", rec.Code, rec.Body.String())
	}
	user := decodeBody(t, rec)["data"].(map[string]any)["user"].(map[string]any)
	if user["id"] != id {
		t.Fatalf("user id %v, want %v", user["id"], id)
	}
}

func TestGetUserWithCookie(t *testing.T) {
	e := newTestEnv()
	id, token := e.register(t, "Alice", "alice@example.com")

	req := httptest.NewRequest("GET", "/user", nil)
	req.AddCookie(&http.Cookie{Name: "token", Value: token})
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d body %s", rec.Code, rec.Body.String())
	}
	user := decodeBody(t, rec)["data"].(map[string]any)["user"].(map[string]any)
	if user["id"] != id {
		t.Fatalf("user id %v, want %v", user["id"], id)
	}
}

func TestUpdateUser(t *testing.T) {
	e := newTestEnv()
	_, token := e.register(t, "Alice", "alice@example.com")

	rec := e.do(t, "PATCH", "/user/update", token, map[string]string{"name": "Alicia"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d body %s", rec.Code, rec.Body.String())
	}
	user := decodeBody(t, rec)["data"].(map[string]any)["user"].(map[string]any)
	if user["name"] != "Alicia" {
		t.Fatalf("name %v, want Alicia", user["name"])
	}

	// Unknown fields are rejected, not ignored.
	rec = e.do(t, "PATCH", "/user/update", token, map[string]string{"is_admin": "true"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown field: status %d, want 400", rec.Code)
	}
}

func TestListUsers(t *testing.T) {
	e := newTestEnv()
	_, token := e.register(t, "Alice", "alice@example.com")
	e.register(t, "Bob", "bob@example.com")

	rec := e.do(t, "GET", "/user/all", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d body %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["results"].(float64) != 2 {
		t.Fatalf("results %v, want 2", body["results"])
	}
}
