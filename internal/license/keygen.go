package license

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
)

// GenerateKey produces a new license key: 32 random hex characters,
// uppercased and grouped in fours, e.g.
// A1B2-C3D4-E5F6-A7B8-C9D0-E1F2-A3B4-C5D6
func GenerateKey() (string, error) {
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate license key: %w", err)
	}

	hexStr := strings.ToUpper(hex.EncodeToString(raw))
	groups := make([]string, 0, 8)
	for i := 0; i < len(hexStr); i += 4 {
		groups = append(groups, hexStr[i:i+4])
	}
	return strings.Join(groups, "-"), nil
}

// NormalizeKey canonicalizes user-supplied key input so lookups are
// insensitive to case and stray whitespace
func NormalizeKey(key string) string {
	return strings.ToUpper(strings.TrimSpace(key))
}
