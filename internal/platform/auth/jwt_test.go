package auth_test

import (
	"errors"
	"testing"
	"time"

	"github.com/bouclier/residence-access/internal/platform/auth"
)

const secret = "test-secret"

func TestAccessToken_RoundTrip(t *testing.T) {
	token, err := auth.NewAccessToken("64f1c0ffee", "resident@example.com", secret, 15*time.Minute)
	if err != nil {
		t.Fatalf("failed to mint token: %v", err)
	}

	claims, err := auth.Parse(token, secret, auth.TypeAccess)
	if err != nil {
		t.Fatalf("failed to parse token: %v", err)
	}

	if claims.Sub != "64f1c0ffee" || claims.Email != "resident@example.com" {
		t.Fatalf("claims mismatch: %+v", claims)
	}
	if claims.Type != auth.TypeAccess {
		t.Fatalf("expected access type, got %s", claims.Type)
	}

	remaining := time.Until(claims.ExpiresAt.Time)
	if remaining < 14*time.Minute || remaining > 15*time.Minute {
		t.Fatalf("unexpected lifetime, %s remaining", remaining)
	}
}

func TestParse_TypeDiscriminator(t *testing.T) {
	access, _ := auth.NewAccessToken("id", "a@b.co", secret, time.Minute)
	refresh, _ := auth.NewRefreshToken("id", "a@b.co", secret, time.Minute)

	tests := []struct {
		name     string
		token    string
		expected string
		wantErr  error
	}{
		{"access as access", access, auth.TypeAccess, nil},
		{"refresh as refresh", refresh, auth.TypeRefresh, nil},
		{"access as refresh", access, auth.TypeRefresh, auth.ErrWrongType},
		{"refresh as access", refresh, auth.TypeAccess, auth.ErrWrongType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := auth.Parse(tt.token, secret, tt.expected)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestParse_Expired(t *testing.T) {
	token, _ := auth.NewAccessToken("id", "a@b.co", secret, -time.Minute)

	_, err := auth.Parse(token, secret, auth.TypeAccess)
	if !errors.Is(err, auth.ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func TestParse_Malformed(t *testing.T) {
	valid, _ := auth.NewAccessToken("id", "a@b.co", secret, time.Minute)

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not-a-jwt"},
		{"empty", ""},
		{"wrong secret", valid + "tampered"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := auth.Parse(tt.token, secret, auth.TypeAccess); !errors.Is(err, auth.ErrMalformed) {
				t.Fatalf("expected ErrMalformed, got %v", err)
			}
		})
	}
}

func TestParse_WrongSecret(t *testing.T) {
	token, _ := auth.NewAccessToken("id", "a@b.co", secret, time.Minute)

	if _, err := auth.Parse(token, "other-secret", auth.TypeAccess); !errors.Is(err, auth.ErrMalformed) {
		t.Fatalf("expected ErrMalformed for wrong secret, got %v", err)
	}
}
