package auth

import (
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestHashAndVerifyPassword(t *testing.T) {
	// Min cost keeps the test fast
	p := NewPasswordManager(bcrypt.MinCost, 8)

	hash, err := p.HashPassword("Str0ng-Password")
	if err != nil {
		t.Fatalf("HashPassword() error: %v", err)
	}
	if !p.VerifyPassword("Str0ng-Password", hash) {
		t.Error("correct password rejected")
	}
	if p.VerifyPassword("wrong-password", hash) {
		t.Error("wrong password accepted")
	}
}

func TestValidatePasswordStrength(t *testing.T) {
	p := NewPasswordManager(bcrypt.MinCost, 8)

	tests := []struct {
		name     string
		password string
		wantErr  bool
	}{
		{"strong mixed", "Str0ng-Password", false},
		{"three classes no special", "Passw0rdX", false},
		{"too short", "Ab1!", true},
		{"only lowercase", "alllowercaseword", true},
		{"two classes", "lowercase123456", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := p.ValidatePasswordStrength(tt.password)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidatePasswordStrength(%q) error = %v, wantErr %v", tt.password, err, tt.wantErr)
			}
		})
	}
}
