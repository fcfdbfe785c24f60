package security

import (
	"testing"
	"time"
)

func TestIssueAndParseAccessToken(t *testing.T) {
	p, err := NewTokenProvider("test-secret", "game-backend", "game-client")
	if err != nil {
		t.Fatalf("NewTokenProvider: %v", err)
	}
	raw, expiresAt, err := p.IssueAccessToken(42, "sess-1", 15*time.Minute)
	if err != nil {
		t.Fatalf("IssueAccessToken: %v", err)
	}
	if time.Until(expiresAt) <= 0 {
		t.Error("expiresAt should be in the future")
	}
	claims, err := p.ParseAccessToken(raw)
	if err != nil {
		t.Fatalf("ParseAccessToken: %v", err)
	}
	if claims.UserID != 42 {
		t.Errorf("UserID = %d, want 42", claims.UserID)
	}
	if claims.SessionID != "sess-1" {
		t.Errorf("SessionID = %q, want %q", claims.SessionID, "sess-1")
	}
}

func TestParseAccessToken_WrongSecret(t *testing.T) {
	p1, _ := NewTokenProvider("secret-a", "game-backend", "game-client")
	p2, _ := NewTokenProvider("secret-b", "game-backend", "game-client")
	raw, _, err := p1.IssueAccessToken(1, "sess-1", time.Minute)
	if err != nil {
		t.Fatalf("IssueAccessToken: %v", err)
	}
	if _, err := p2.ParseAccessToken(raw); err == nil {
		t.Fatal("ParseAccessToken should reject token signed with a different secret")
	}
}

func TestParseAccessToken_Expired(t *testing.T) {
	p, _ := NewTokenProvider("test-secret", "game-backend", "game-client")
	raw, _, err := p.IssueAccessToken(1, "sess-1", -time.Minute)
	if err != nil {
		t.Fatalf("IssueAccessToken: %v", err)
	}
	if _, err := p.ParseAccessToken(raw); err == nil {
		t.Fatal("ParseAccessToken should reject expired token")
	}
}

func TestNewTokenProvider_EmptySecret(t *testing.T) {
	if _, err := NewTokenProvider("", "iss", "aud"); err == nil {
		t.Fatal("NewTokenProvider should reject empty secret")
	}
}

func TestTokenHash(t *testing.T) {
	tok := NewOpaqueToken()
	if len(tok) != 64 {
		t.Errorf("NewOpaqueToken length = %d, want 64 hex chars", len(tok))
	}
	h := HashToken(tok)
	if !TokenHashEqual(tok, h) {
		t.Error("TokenHashEqual should match token with its own hash")
	}
	if TokenHashEqual("other", h) {
		t.Error("TokenHashEqual should not match a different token")
	}
}

func TestHasher(t *testing.T) {
	h := NewHasher(4) // min cost for test speed
	hash, err := h.Hash([]byte("password123"))
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if err := h.Compare(hash, []byte("password123")); err != nil {
		t.Errorf("Compare should accept correct password: %v", err)
	}
	if err := h.Compare(hash, []byte("wrong")); err == nil {
		t.Error("Compare should reject wrong password")
	}
}
