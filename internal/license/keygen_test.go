package license

import (
	"regexp"
	"testing"
)

func TestGenerateKeyFormat(t *testing.T) {
	pattern := regexp.MustCompile(`^([0-9A-F]{4}-){7}[0-9A-F]{4}$`)

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		key, err := GenerateKey()
		if err != nil {
			t.Fatalf("GenerateKey() error: %v", err)
		}
		if !pattern.MatchString(key) {
			t.Fatalf("key %q does not match expected format", key)
		}
		if seen[key] {
			t.Fatalf("duplicate key generated: %q", key)
		}
		seen[key] = true
	}
}

func TestNormalizeKey(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"already canonical", "A1B2-C3D4-E5F6-A7B8-C9D0-E1F2-A3B4-C5D6", "A1B2-C3D4-E5F6-A7B8-C9D0-E1F2-A3B4-C5D6"},
		{"lowercase", "a1b2-c3d4-e5f6-a7b8-c9d0-e1f2-a3b4-c5d6", "A1B2-C3D4-E5F6-A7B8-C9D0-E1F2-A3B4-C5D6"},
		{"surrounding whitespace", "  A1B2-C3D4  ", "A1B2-C3D4"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeKey(tt.input); got != tt.want {
				t.Errorf("NormalizeKey(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
