package admin

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"

	"github.com/Anvoria/backoffice/internal/config"
)

const (
	argon2Memory      = 64 * 1024
	argon2Iterations  = 2
	argon2Parallelism = 2
	argon2SaltLength  = 16
	argon2KeyLength   = 32
)

// ErrNoActivePepper is returned when the configured pepper set has no usable
// active key.
var ErrNoActivePepper = errors.New("no active pepper key configured")

// PasswordHasher hashes and verifies passwords with Argon2id over an
// HMAC-peppered input. The pepper id travels with the hash so verification
// keeps working for hashes recorded under retired peppers.
type PasswordHasher struct {
	active string
	keys   map[string]string
}

// NewPasswordHasher builds a hasher from the configured pepper set
func NewPasswordHasher(cfg config.PepperConfig) (*PasswordHasher, error) {
	if cfg.Active == "" || cfg.Keys[cfg.Active] == "" {
		return nil, ErrNoActivePepper
	}

	keys := make(map[string]string, len(cfg.Keys))
	for id, key := range cfg.Keys {
		keys[id] = key
	}

	return &PasswordHasher{active: cfg.Active, keys: keys}, nil
}

// Hash hashes a password with the active pepper and returns the encoded hash
// together with the pepper id it was produced under
func (h *PasswordHasher) Hash(password string) (string, string, error) {
	peppered := h.pepper(password, h.keys[h.active])

	salt := make([]byte, argon2SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", "", fmt.Errorf("failed to generate salt: %w", err)
	}

	hash := argon2.IDKey(peppered, salt, argon2Iterations, argon2Memory, argon2Parallelism, argon2KeyLength)

	b64Salt := base64.RawStdEncoding.EncodeToString(salt)
	b64Hash := base64.RawStdEncoding.EncodeToString(hash)

	encodedHash := fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, argon2Memory, argon2Iterations, argon2Parallelism, b64Salt, b64Hash)

	return encodedHash, h.active, nil
}

// Verify verifies a password against an encoded hash recorded under pepperID
func (h *PasswordHasher) Verify(password, encodedHash, pepperID string) bool {
	key, ok := h.keys[pepperID]
	if !ok || key == "" {
		return false
	}
	peppered := h.pepper(password, key)

	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return false
	}

	var version int
	var memory, iterations uint32
	var parallelism uint8

	_, err := fmt.Sscanf(parts[2], "v=%d", &version)
	if err != nil || version != argon2.Version {
		return false
	}

	_, err = fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &parallelism)
	if err != nil {
		return false
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false
	}

	hash, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false
	}

	otherHash := argon2.IDKey(peppered, salt, iterations, memory, parallelism, uint32(len(hash)))
	return subtle.ConstantTimeCompare(hash, otherHash) == 1
}

func (h *PasswordHasher) pepper(password, key string) []byte {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(password))
	return mac.Sum(nil)
}
