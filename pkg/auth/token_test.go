package auth

import (
	"errors"
	"testing"
	"time"
)

func TestTokenRoundTrip(t *testing.T) {
	secret := []byte("test-secret")
	tok, err := MintToken(secret, 42, "alice", time.Hour)
	if err != nil {
		t.Fatalf("MintToken: %v", err)
	}
	id, err := VerifyToken(secret, tok)
	if err != nil {
		t.Fatalf("VerifyToken: %v", err)
	}
	if id != 42 {
		t.Fatalf("expected id 42, got %d", id)
	}
}

func TestTokenRejection(t *testing.T) {
	secret := []byte("test-secret")
	tok, err := MintToken(secret, 42, "alice", time.Hour)
	if err != nil {
		t.Fatalf("MintToken: %v", err)
	}
	if _, err := VerifyToken([]byte("other-secret"), tok); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for wrong secret, got %v", err)
	}
	if _, err := VerifyToken(secret, "garbage"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for garbage, got %v", err)
	}

	expired, err := MintToken(secret, 42, "alice", -time.Minute)
	if err != nil {
		t.Fatalf("MintToken: %v", err)
	}
	if _, err := VerifyToken(secret, expired); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for expired token, got %v", err)
	}
}

func TestPasswordHash(t *testing.T) {
	h, err := HashPassword("hunter2")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if !CheckPassword(h, "hunter2") {
		t.Fatalf("expected password to verify")
	}
	if CheckPassword(h, "hunter3") {
		t.Fatalf("expected wrong password to fail")
	}
}
