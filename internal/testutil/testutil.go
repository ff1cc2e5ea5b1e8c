// Package testutil provides testing utilities and helpers for the oauth-server library.
package testutil

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/oauth2"

	"github.com/oauthware/oauth-server/storage"
)

// MockTime provides a controllable time source for deterministic testing
type MockTime struct {
	now time.Time
}

// NewMockTime creates a new mock time provider
func NewMockTime(t time.Time) *MockTime {
	return &MockTime{now: t}
}

// Now returns the current mock time
func (m *MockTime) Now() time.Time {
	return m.now
}

// Advance moves the mock time forward by the given duration
func (m *MockTime) Advance(d time.Duration) {
	m.now = m.now.Add(d)
}

// Set sets the mock time to a specific value
func (m *MockTime) Set(t time.Time) {
	m.now = t
}

// NewMockHTTPServer creates a test HTTP server with the given handler
func NewMockHTTPServer(handler http.HandlerFunc) *httptest.Server {
	return httptest.NewServer(handler)
}

// NewMockHTTPSServer creates a test HTTPS server with the given handler
func NewMockHTTPSServer(handler http.HandlerFunc) *httptest.Server {
	return httptest.NewTLSServer(handler)
}

// TestClientSecret is the plaintext secret of the fixture application.
const TestClientSecret = "test-secret"

// GenerateTestApplication creates a registered confidential test application
func GenerateTestApplication() *storage.ApplicationDetails {
	hash, _ := bcrypt.GenerateFromPassword([]byte(TestClientSecret), bcrypt.MinCost)
	return &storage.ApplicationDetails{
		ApplicationID:    "test-app-id",
		ClientID:         "test-client-id",
		ClientSecretHash: string(hash),
		ClientType:       "confidential",
		RedirectURIs:     []string{"https://example.com/callback"},
		DefaultScopes:    []string{"openid"},
		RegisteredScopes: []string{"read", "write"},
		OpenIDScopes:     []string{"openid", "email", "profile"},
		GrantTypes:       []string{"authorization_code", "refresh_token"},
		AuthMethods:      []string{"client_secret_basic", "client_secret_post"},
		ResponseTypes:    []string{"code"},
		ClientName:       "Test Client",
		CreatedAt:        time.Now(),
	}
}

// GenerateTestAuthorizationCode creates a pending test authorization code
func GenerateTestAuthorizationCode() *storage.AuthorizationCode {
	return &storage.AuthorizationCode{
		Code:        GenerateRandomString(32),
		ClientID:    "test-client-id",
		RedirectURI: "https://example.com/callback",
		Scopes:      []string{"read"},
		Subject:     "test-user-123",
		AdditionalInformation: map[string]string{
			storage.InfoCodeChallenge:       "test-code-challenge",
			storage.InfoCodeChallengeMethod: "S256",
		},
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(10 * time.Minute),
	}
}

// GenerateTestAuthentication creates an authentication bound to the test application
func GenerateTestAuthentication(subject string) *storage.Authentication {
	return &storage.Authentication{
		Subject:  subject,
		ClientID: "test-client-id",
		Request: url.Values{
			"scope": []string{"read"},
		},
	}
}

// GenerateRandomString generates a random base64-encoded string
func GenerateRandomString(length int) string {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("failed to generate random string: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(b)[:length]
}

// GeneratePKCEPair generates a valid PKCE challenge and verifier pair for testing.
// Returns (challenge, verifier) where challenge is the S256 hash of the verifier.
func GeneratePKCEPair() (challenge, verifier string) {
	verifier = oauth2.GenerateVerifier()
	challenge = oauth2.S256ChallengeFromVerifier(verifier)
	return challenge, verifier
}

// AssertNoError fails the test if err is not nil
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil
func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error but got nil")
	}
}

// AssertEqual fails the test if got != want
func AssertEqual(t *testing.T, got, want interface{}) {
	t.Helper()
	if got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

// AssertNotEqual fails the test if got == want
func AssertNotEqual(t *testing.T, got, want interface{}) {
	t.Helper()
	if got == want {
		t.Errorf("got %v, want different value", got)
	}
}

// AssertTrue fails the test if condition is false
func AssertTrue(t *testing.T, condition bool, message string) {
	t.Helper()
	if !condition {
		t.Errorf("assertion failed: %s", message)
	}
}

// AssertFalse fails the test if condition is true
func AssertFalse(t *testing.T, condition bool, message string) {
	t.Helper()
	if condition {
		t.Errorf("assertion failed: %s", message)
	}
}
