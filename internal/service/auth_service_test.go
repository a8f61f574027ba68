package service

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/prepdeck/prepdeck-backend/internal/config"
)

func newAuthService(t *testing.T) *AuthService {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	cfg := &config.Config{
		JWTSecret:  "test-secret",
		JWTExpiry:  time.Hour,
		BcryptCost: 4, // min cost keeps tests fast
	}
	return NewAuthService(cfg, redis.NewClient(&redis.Options{Addr: mr.Addr()}))
}

func TestPasswordRoundTrip(t *testing.T) {
	s := newAuthService(t)

	hash, err := s.HashPassword("hunter22")
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}
	if err := s.CheckPassword(hash, "hunter22"); err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if err := s.CheckPassword(hash, "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestTokenRoundTrip(t *testing.T) {
	s := newAuthService(t)
	ctx := context.Background()

	token, err := s.GenerateToken(ctx, 42)
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	claims, err := s.ValidateToken(token)
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	if claims.UserID != 42 {
		t.Fatalf("expected user 42, got %d", claims.UserID)
	}
	if err := s.ValidateSession(ctx, 42, claims.ID); err != nil {
		t.Fatalf("expected session active, got %v", err)
	}
}

func TestNewLoginReplacesSession(t *testing.T) {
	s := newAuthService(t)
	ctx := context.Background()

	first, err := s.GenerateToken(ctx, 42)
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	firstClaims, _ := s.ValidateToken(first)

	if _, err := s.GenerateToken(ctx, 42); err != nil {
		t.Fatalf("second login failed: %v", err)
	}

	// The first token still parses but its session is superseded.
	if _, err := s.ValidateToken(first); err != nil {
		t.Fatalf("first token stopped parsing: %v", err)
	}
	if err := s.ValidateSession(ctx, 42, firstClaims.ID); err == nil {
		t.Fatal("expected first session to be superseded")
	}
}

func TestLogoutClearsSession(t *testing.T) {
	s := newAuthService(t)
	ctx := context.Background()

	token, _ := s.GenerateToken(ctx, 7)
	claims, _ := s.ValidateToken(token)

	if err := s.Logout(ctx, 7); err != nil {
		t.Fatalf("logout failed: %v", err)
	}
	if err := s.ValidateSession(ctx, 7, claims.ID); err == nil {
		t.Fatal("expected session gone after logout")
	}
}

func TestValidateTokenRejectsWrongSecret(t *testing.T) {
	s := newAuthService(t)
	other := newAuthService(t) // different miniredis but same secret value

	other.cfg.JWTSecret = "different-secret"
	token, err := other.GenerateToken(context.Background(), 1)
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	if _, err := s.ValidateToken(token); err == nil {
		t.Fatal("expected token signed with another secret to fail")
	}
}
