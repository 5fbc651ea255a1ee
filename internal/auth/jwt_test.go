package auth

import (
	"testing"
	"time"
)

func TestTokenRoundTrip(t *testing.T) {
	m := NewJWTManager("test-secret-at-least-32-characters", time.Hour)

	claims := OperatorClaims{
		UserID: "user-1",
		Email:  "op@example.com",
		Name:   "Operator",
		Role:   RoleOperator,
	}

	token, err := m.GenerateAccessToken(claims)
	if err != nil {
		t.Fatalf("GenerateAccessToken() error: %v", err)
	}

	got, err := m.ValidateAccessToken(token)
	if err != nil {
		t.Fatalf("ValidateAccessToken() error: %v", err)
	}
	if *got != claims {
		t.Errorf("claims = %+v, want %+v", got, claims)
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	m := NewJWTManager("test-secret-at-least-32-characters", -time.Minute)

	token, err := m.GenerateAccessToken(OperatorClaims{UserID: "user-1"})
	if err != nil {
		t.Fatalf("GenerateAccessToken() error: %v", err)
	}

	if _, err := m.ValidateAccessToken(token); err != ErrTokenExpired {
		t.Errorf("error = %v, want ErrTokenExpired", err)
	}
}

func TestWrongSecretRejected(t *testing.T) {
	m1 := NewJWTManager("secret-one-that-is-long-enough-xx", time.Hour)
	m2 := NewJWTManager("secret-two-that-is-long-enough-xx", time.Hour)

	token, _ := m1.GenerateAccessToken(OperatorClaims{UserID: "user-1"})
	if _, err := m2.ValidateAccessToken(token); err != ErrInvalidToken {
		t.Errorf("error = %v, want ErrInvalidToken", err)
	}
}

func TestGarbageTokenRejected(t *testing.T) {
	m := NewJWTManager("test-secret-at-least-32-characters", time.Hour)

	for _, token := range []string{"", "not-a-token", "a.b.c"} {
		if _, err := m.ValidateAccessToken(token); err != ErrInvalidToken {
			t.Errorf("ValidateAccessToken(%q) error = %v, want ErrInvalidToken", token, err)
		}
	}
}
