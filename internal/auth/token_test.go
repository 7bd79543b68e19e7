package auth_test

import (
	"testing"
	"time"

	"github.com/JunjieYu95/yukie-mvp-sub000/internal/auth"
)

func TestIssueAndAuthenticateRoundTrip(t *testing.T) {
	v := auth.NewTokenValidator("test-secret")

	token, err := v.IssueToken("alice", []string{"calendar:read", "mail:send"}, time.Minute)
	if err != nil {
		t.Fatalf("IssueToken() failed: %v", err)
	}

	got, err := v.Authenticate("Bearer " + token)
	if err != nil {
		t.Fatalf("Authenticate() failed: %v", err)
	}
	if got.UserID != "alice" {
		t.Errorf("UserID = %q, want alice", got.UserID)
	}
	if len(got.Scopes) != 2 || got.Scopes[0] != "calendar:read" {
		t.Errorf("Scopes = %v, want issued scopes", got.Scopes)
	}
}

func TestAuthenticateWithoutBearerPrefix(t *testing.T) {
	v := auth.NewTokenValidator("test-secret")
	token, err := v.IssueToken("alice", nil, time.Minute)
	if err != nil {
		t.Fatalf("IssueToken() failed: %v", err)
	}
	if _, err := v.Authenticate(token); err != nil {
		t.Errorf("Authenticate() without prefix failed: %v", err)
	}
}

func TestAuthenticateRejectsBadInput(t *testing.T) {
	v := auth.NewTokenValidator("test-secret")

	if _, err := v.Authenticate(""); err == nil {
		t.Error("empty credential accepted")
	}
	if _, err := v.Authenticate("Bearer not.a.token"); err == nil {
		t.Error("malformed token accepted")
	}

	other := auth.NewTokenValidator("other-secret")
	token, err := other.IssueToken("mallory", nil, time.Minute)
	if err != nil {
		t.Fatalf("IssueToken() failed: %v", err)
	}
	if _, err := v.Authenticate("Bearer " + token); err == nil {
		t.Error("token signed with a different secret accepted")
	}
}

func TestAuthenticateRejectsExpiredToken(t *testing.T) {
	v := auth.NewTokenValidator("test-secret")
	token, err := v.IssueToken("alice", nil, -time.Minute)
	if err != nil {
		t.Fatalf("IssueToken() failed: %v", err)
	}
	if _, err := v.Authenticate("Bearer " + token); err == nil {
		t.Error("expired token accepted")
	}
}
