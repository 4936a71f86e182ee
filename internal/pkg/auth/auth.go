// Package auth validates bearer API keys against configured SHA-256 hashes.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
)

// Authenticator validates API keys. Keys are never held in plain text.
type Authenticator struct {
	hashes [][]byte
}

// NewAuthenticator creates an authenticator accepting keys whose hex SHA-256
// hash is listed. Hashes are compared case-insensitively.
func NewAuthenticator(keyHashes []string) *Authenticator {
	a := &Authenticator{}
	for _, h := range keyHashes {
		h = strings.ToLower(strings.TrimSpace(h))
		if h == "" {
			continue
		}
		a.hashes = append(a.hashes, []byte(h))
	}
	return a
}

// Enabled reports whether any key is configured.
func (a *Authenticator) Enabled() bool {
	return a != nil && len(a.hashes) > 0
}

// ValidateAPIKey reports whether apiKey matches a configured hash.
func (a *Authenticator) ValidateAPIKey(apiKey string) error {
	if apiKey == "" {
		return fmt.Errorf("missing API key")
	}
	keyHash := []byte(HashAPIKey(apiKey))

	// Compare against every hash so timing does not reveal the match position
	matched := 0
	for _, h := range a.hashes {
		matched |= subtle.ConstantTimeCompare(keyHash, h)
	}
	if matched != 1 {
		return fmt.Errorf("invalid API key")
	}
	return nil
}

// ExtractAPIKey extracts the API key from the Authorization header
func ExtractAPIKey(r *http.Request) (string, error) {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return "", fmt.Errorf("missing Authorization header")
	}

	// Support "Bearer <key>" format
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 {
		return "", fmt.Errorf("invalid Authorization header format")
	}

	if strings.ToLower(parts[0]) != "bearer" {
		return "", fmt.Errorf("unsupported authorization scheme")
	}

	return parts[1], nil
}

// HashAPIKey creates a SHA-256 hash of an API key for storage
func HashAPIKey(apiKey string) string {
	hash := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(hash[:])
}
