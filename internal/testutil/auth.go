package testutil

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/queuesync/queuesync/internal/api"
	"github.com/queuesync/queuesync/internal/auth"
)

func init() {
	auth.Cost = bcrypt.MinCost
}

// Login creates a user, logs them in, and returns the session cookie and
// the token from the response body.
func Login(t *testing.T, s *api.Server, username, password, role string) (*http.Cookie, string) {
	t.Helper()

	passwordHash, err := auth.HashPassword(password)
	if err != nil {
		t.Fatalf("Failed to hash password for test user: %v", err)
	}
	if _, err := s.Store().CreateUser(username, passwordHash, role); err != nil {
		t.Fatalf("Failed to create test user '%s': %v", username, err)
	}

	payloadBytes, _ := json.Marshal(map[string]string{"username": username, "password": password})
	req, _ := http.NewRequest("POST", "/api/auth/login", bytes.NewBuffer(payloadBytes))
	req.Header.Set("Content-Type", "application/json")

	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)

	if status := rr.Code; status != http.StatusOK {
		t.Fatalf("Login failed within test helper for user '%s': got status %d, want 200", username, status)
	}

	var body struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil || body.Token == "" {
		t.Fatalf("Login response for '%s' carried no token: %s", username, rr.Body.String())
	}

	for _, cookie := range rr.Result().Cookies() {
		if cookie.Name == "session_token" {
			return cookie, body.Token
		}
	}

	t.Fatal("Failed to get session cookie after successful login for test user")
	return nil, ""
}

// GetAuthCookie creates a user, logs them in, and returns a valid session cookie.
func GetAuthCookie(t *testing.T, s *api.Server, username, password, role string) *http.Cookie {
	t.Helper()
	cookie, _ := Login(t, s, username, password, role)
	return cookie
}
