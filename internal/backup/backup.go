// Package backup seals exports with a user password: PBKDF2-SHA256 derives
// an AES-256-GCM key and the result travels as a small JSON envelope.
package backup

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/pbkdf2"

	"github.com/airlock-term/airlock/internal/hosts"
	"github.com/airlock-term/airlock/internal/theme"
)

const (
	// Version is the envelope version written by Export.
	Version = 1

	iterations = 100000
	keyLen     = 32
	saltLen    = 16
	ivLen      = 12
)

var (
	// ErrInvalidFormat is returned when the envelope is not valid JSON or
	// is missing salt, iv or data.
	ErrInvalidFormat = errors.New("backup: invalid backup file format")
	// ErrDecrypt is returned for a wrong password or a corrupted payload.
	ErrDecrypt = errors.New("backup: failed to decrypt backup, incorrect password or corrupted file")
)

// Envelope is the on-disk backup format.
type Envelope struct {
	Salt    string `json:"salt"`
	IV      string `json:"iv"`
	Data    string `json:"data"`
	Version int    `json:"version"`
}

// Bundle is what airlock puts inside an envelope.
type Bundle struct {
	CreatedAt     time.Time              `json:"createdAt"`
	Hosts         []hosts.Portable       `json:"hosts"`
	Themes        map[string]theme.Theme `json:"themes,omitempty"`
	SelectedTheme string                 `json:"selectedTheme,omitempty"`
}

func deriveKey(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, iterations, keyLen, sha256.New)
}

func newGCM(key []byte, nonceSize int) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if nonceSize == ivLen {
		return cipher.NewGCM(block)
	}
	return cipher.NewGCMWithNonceSize(block, nonceSize)
}

// Export marshals v to JSON and seals it with password.
func Export(v any, password string) ([]byte, error) {
	plain, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("backup: encode: %w", err)
	}

	salt := make([]byte, saltLen)
	iv := make([]byte, ivLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("backup: salt: %w", err)
	}
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("backup: iv: %w", err)
	}

	gcm, err := newGCM(deriveKey(password, salt), ivLen)
	if err != nil {
		return nil, fmt.Errorf("backup: cipher: %w", err)
	}
	sealed := gcm.Seal(nil, iv, plain, nil)

	return json.Marshal(Envelope{
		Salt:    base64.StdEncoding.EncodeToString(salt),
		IV:      base64.StdEncoding.EncodeToString(iv),
		Data:    base64.StdEncoding.EncodeToString(sealed),
		Version: Version,
	})
}

// Import opens payload with password and unmarshals the contents into out.
func Import(payload []byte, password string, out any) error {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	if env.Salt == "" || env.IV == "" || env.Data == "" {
		return ErrInvalidFormat
	}

	salt, err1 := base64.StdEncoding.DecodeString(env.Salt)
	iv, err2 := base64.StdEncoding.DecodeString(env.IV)
	data, err3 := base64.StdEncoding.DecodeString(env.Data)
	if err := errors.Join(err1, err2, err3); err != nil || len(iv) == 0 {
		return fmt.Errorf("%w: %v", ErrDecrypt, err)
	}

	gcm, err := newGCM(deriveKey(password, salt), len(iv))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	plain, err := gcm.Open(nil, iv, data, nil)
	if err != nil {
		return ErrDecrypt
	}
	if err := json.Unmarshal(plain, out); err != nil {
		return fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return nil
}
