// Package auth maps opaque bearer tokens to organizations. Each organization holds one
// API key; only its bcrypt hash is stored, so a token is verified by comparing it against
// every stored hash. See internal/middleware/auth.go for the request-time wiring.
package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const (
	// APIKeyPrefix marks exchange keys so they are recognisable in secret scanners
	APIKeyPrefix = "txk"

	// APIKeyLength is the length of the random part of the API key in bytes
	APIKeyLength = 32

	// BcryptCost is the cost factor for bcrypt hashing
	BcryptCost = 12
)

// GenerateAPIKey creates a new random API key.
// Returns the full key (shown once to the operator) and its bcrypt hash (stored).
func GenerateAPIKey(cost int) (key string, hash string, err error) {
	randomBytes := make([]byte, APIKeyLength)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	key = fmt.Sprintf("%s_%s", APIKeyPrefix, base64.RawURLEncoding.EncodeToString(randomBytes))

	hash, err = HashAPIKey(key, cost)
	if err != nil {
		return "", "", err
	}
	return key, hash, nil
}

// HashAPIKey hashes key with bcrypt. A cost outside bcrypt's range falls back to BcryptCost.
func HashAPIKey(key string, cost int) (string, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = BcryptCost
	}
	hashBytes, err := bcrypt.GenerateFromPassword([]byte(key), cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash API key: %w", err)
	}
	return string(hashBytes), nil
}

// ValidateAPIKey checks if a provided key matches the stored hash
func ValidateAPIKey(providedKey, storedHash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(storedHash), []byte(providedKey))
	return err == nil
}

// ExtractAPIKeyFromHeader extracts the API key from an Authorization header
// Expected format: "Bearer txk_abc123xyz..."
func ExtractAPIKeyFromHeader(header string) (string, error) {
	if header == "" {
		return "", errors.New("authorization header is empty")
	}

	if !strings.HasPrefix(header, "Bearer ") {
		return "", errors.New("authorization header must start with 'Bearer '")
	}

	key := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if key == "" {
		return "", errors.New("API key is empty after Bearer prefix")
	}

	return key, nil
}
