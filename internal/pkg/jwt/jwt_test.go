package jwt

import (
	"testing"
	"time"
)

func TestTokenRoundTrip(t *testing.T) {
	secret := []byte("unit-test-secret")
	token, err := GenerateToken("user-42", "user@example.com", secret, time.Hour)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	claims, err := ParseToken(token, secret)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.UserID != "user-42" {
		t.Fatalf("user id %q", claims.UserID)
	}
	if claims.Email != "user@example.com" {
		t.Fatalf("email %q", claims.Email)
	}
	if claims.ExpiresAt == nil || time.Until(claims.ExpiresAt.Time) <= 0 {
		t.Fatal("expiry not in the future")
	}
}

func TestParseTokenWrongSecret(t *testing.T) {
	token, err := GenerateToken("user-42", "", []byte("right"), time.Hour)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := ParseToken(token, []byte("wrong")); err == nil {
		t.Fatal("token accepted with the wrong secret")
	}
}

func TestParseTokenExpired(t *testing.T) {
	secret := []byte("unit-test-secret")
	token, err := GenerateToken("user-42", "", secret, -time.Minute)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := ParseToken(token, secret); err == nil {
		t.Fatal("expired token accepted")
	}
}

func TestParseTokenGarbage(t *testing.T) {
	if _, err := ParseToken("not-a-token", []byte("secret")); err == nil {
		t.Fatal("garbage accepted")
	}
}
