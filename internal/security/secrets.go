package security

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math"
	"strings"
)

const (
	// MinSecretLength is the shortest webhook secret accepted without a warning.
	MinSecretLength = 32

	// MinEntropy is the minimum Shannon entropy (bits per character) expected of a secret.
	MinEntropy = 3.0

	// GeneratedSecretBytes is the amount of randomness in secrets made by GenerateSecret.
	GeneratedSecretBytes = 32
)

var placeholderSecrets = map[string]bool{
	"replace-with-secret":     true,
	"github-webhook-password": true,
	"webhook-secret":          true,
	"topsecret":               true,
	"secret":                  true,
	"password":                true,
	"changeme":                true,
	"testing":                 true,
}

// CheckSecret reports why a webhook secret is weak, or nil if it looks fine.
// GitHub lets app owners pick any secret, so callers treat the result as a
// warning rather than refusing to start.
func CheckSecret(secret []byte) error {
	s := string(secret)
	if len(s) < MinSecretLength {
		return fmt.Errorf("secret too short (recommended minimum %d characters, got %d)", MinSecretLength, len(s))
	}

	lower := strings.ToLower(s)
	if placeholderSecrets[lower] {
		return fmt.Errorf("secret appears to be a placeholder value")
	}
	for placeholder := range placeholderSecrets {
		if len(placeholder) >= 8 && strings.Contains(lower, placeholder) {
			return fmt.Errorf("secret contains placeholder text %q", placeholder)
		}
	}

	entropy := calculateEntropy(s)
	if entropy < MinEntropy {
		return fmt.Errorf("secret has insufficient entropy (%.2f < %.2f)", entropy, MinEntropy)
	}

	if isSequential(s) {
		return fmt.Errorf("secret is mostly sequential characters")
	}

	return nil
}

// GenerateSecret creates a random hex secret suitable for a GitHub App webhook.
func GenerateSecret() (string, error) {
	buf := make([]byte, GeneratedSecretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate random secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// calculateEntropy computes the Shannon entropy of a string.
func calculateEntropy(s string) float64 {
	if len(s) == 0 {
		return 0
	}

	freq := make(map[rune]int)
	for _, c := range s {
		freq[c]++
	}

	var entropy float64
	length := float64(len(s))
	for _, count := range freq {
		p := float64(count) / length
		entropy -= p * math.Log2(p)
	}

	return entropy
}

// isSequential checks if a string consists of sequential characters.
func isSequential(s string) bool {
	if len(s) < 4 {
		return false
	}

	sequential := 0
	for i := 1; i < len(s); i++ {
		if s[i] == s[i-1]+1 || s[i] == s[i-1]-1 {
			sequential++
		}
	}

	// more than 70% sequential steps
	return float64(sequential) > float64(len(s))*0.7
}
