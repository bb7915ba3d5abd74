// Package auth guards the admin API with a bearer token. Only an
// Argon2id hash of the token is ever configured.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters for token hashes.
const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonKeyLen  = 32
	saltLen      = 16
	hashPrefix   = "argon2id"
)

var ErrMalformedHash = errors.New("auth: malformed token hash")

// GenerateToken generates a random token string (32 bytes, hex).
func GenerateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return "", fmt.Errorf("auth: generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// HashToken hashes token with Argon2id under a fresh salt. The result
// has the form "argon2id$<salt hex>$<key hex>".
func HashToken(token string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("auth: generate salt: %w", err)
	}
	key := derive(token, salt)
	return hashPrefix + "$" + hex.EncodeToString(salt) + "$" + hex.EncodeToString(key), nil
}

func derive(token string, salt []byte) []byte {
	return argon2.IDKey([]byte(token), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
}

// Verifier checks presented tokens against one configured hash.
// Argon2 runs once per distinct token; later requests with an already
// accepted token are checked against its SHA-256 digest.
type Verifier struct {
	salt []byte
	key  []byte

	mu       sync.RWMutex
	accepted [sha256.Size]byte
	cached   bool
}

// NewVerifier parses an encoded hash from HashToken.
func NewVerifier(encoded string) (*Verifier, error) {
	parts := strings.Split(strings.TrimSpace(encoded), "$")
	if len(parts) != 3 || parts[0] != hashPrefix {
		return nil, ErrMalformedHash
	}
	salt, err := hex.DecodeString(parts[1])
	if err != nil || len(salt) == 0 {
		return nil, ErrMalformedHash
	}
	key, err := hex.DecodeString(parts[2])
	if err != nil || len(key) != argonKeyLen {
		return nil, ErrMalformedHash
	}
	return &Verifier{salt: salt, key: key}, nil
}

// Verify reports whether token matches the configured hash.
func (v *Verifier) Verify(token string) bool {
	if token == "" {
		return false
	}
	digest := sha256.Sum256([]byte(token))

	v.mu.RLock()
	hit := v.cached && subtle.ConstantTimeCompare(digest[:], v.accepted[:]) == 1
	v.mu.RUnlock()
	if hit {
		return true
	}

	if subtle.ConstantTimeCompare(derive(token, v.salt), v.key) != 1 {
		return false
	}
	v.mu.Lock()
	v.accepted = digest
	v.cached = true
	v.mu.Unlock()
	return true
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
