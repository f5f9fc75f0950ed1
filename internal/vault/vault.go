// Package vault encrypts stored host passwords with AES-GCM under a
// per-installation master key.
//
// Ciphertexts are stored as base64(iv) + ":" + base64(ciphertext||tag).
// The master key is a raw 256-bit AES key kept base64 encoded in the state
// database under MasterKeyName.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/airlock-term/airlock/internal/logging"
)

var vaultLog = logging.ForComponent(logging.CompVault)

// MasterKeyName is the metadata key holding the master key.
const MasterKeyName = "airlock_master_key"

const (
	keySize   = 32
	nonceSize = 12
)

var (
	// ErrInvalidFormat means the stored value is not iv:ciphertext base64.
	ErrInvalidFormat = errors.New("vault: invalid encrypted format")
	// ErrDecrypt means authentication failed: wrong key or tampered data.
	ErrDecrypt = errors.New("vault: decryption failed")
)

// KeyStore persists the master key. *statedb.StateDB satisfies it.
type KeyStore interface {
	GetMeta(key string) (string, error)
	SetMeta(key, value string) error
}

// Vault is safe for concurrent use.
type Vault struct {
	store      KeyStore
	legacyPath string

	mu    sync.RWMutex
	key   []byte
	group singleflight.Group
}

// New returns a vault backed by store. legacyKeyPath, when set, names a file
// from older installs holding the base64 master key; it is moved into store
// on first use.
func New(store KeyStore, legacyKeyPath string) *Vault {
	return &Vault{store: store, legacyPath: legacyKeyPath}
}

// Encrypt seals text. The empty string encrypts to the empty string.
func (v *Vault) Encrypt(text string) (string, error) {
	if text == "" {
		return "", nil
	}
	gcm, err := v.aead(nonceSize)
	if err != nil {
		return "", err
	}
	iv := make([]byte, nonceSize)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("vault: nonce: %w", err)
	}
	sealed := gcm.Seal(nil, iv, []byte(text), nil)
	return base64.StdEncoding.EncodeToString(iv) + ":" + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt. The empty string decrypts to
// the empty string.
func (v *Vault) Decrypt(data string) (string, error) {
	if data == "" {
		return "", nil
	}
	ivStr, ctStr, _ := strings.Cut(data, ":")
	if ivStr == "" || ctStr == "" {
		return "", ErrInvalidFormat
	}
	// Anything after a second separator is ignored.
	ctStr, _, _ = strings.Cut(ctStr, ":")

	iv, err := base64.StdEncoding.DecodeString(ivStr)
	if err != nil || len(iv) == 0 {
		return "", ErrInvalidFormat
	}
	ct, err := base64.StdEncoding.DecodeString(ctStr)
	if err != nil {
		return "", ErrInvalidFormat
	}

	gcm, err := v.aead(len(iv))
	if err != nil {
		return "", err
	}
	plain, err := gcm.Open(nil, iv, ct, nil)
	if err != nil {
		return "", ErrDecrypt
	}
	return string(plain), nil
}

func (v *Vault) aead(ivLen int) (cipher.AEAD, error) {
	key, err := v.masterKey()
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("vault: cipher: %w", err)
	}
	if ivLen == nonceSize {
		return cipher.NewGCM(block)
	}
	return cipher.NewGCMWithNonceSize(block, ivLen)
}

func (v *Vault) masterKey() ([]byte, error) {
	v.mu.RLock()
	key := v.key
	v.mu.RUnlock()
	if key != nil {
		return key, nil
	}

	res, err, _ := v.group.Do(MasterKeyName, func() (any, error) {
		key, err := v.loadOrCreate()
		if err != nil {
			return nil, err
		}
		v.mu.Lock()
		v.key = key
		v.mu.Unlock()
		return key, nil
	})
	if err != nil {
		return nil, err
	}
	return res.([]byte), nil
}

func (v *Vault) loadOrCreate() ([]byte, error) {
	stored, err := v.store.GetMeta(MasterKeyName)
	if err != nil {
		return nil, fmt.Errorf("vault: load key: %w", err)
	}
	if stored == "" {
		stored = v.migrateLegacy()
	}

	if stored != "" {
		key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(stored))
		if err != nil {
			return nil, fmt.Errorf("vault: decode key: %w", err)
		}
		switch len(key) {
		case 16, 24, 32:
			return key, nil
		}
		return nil, fmt.Errorf("vault: master key has %d bytes", len(key))
	}

	key := make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("vault: generate key: %w", err)
	}
	if err := v.store.SetMeta(MasterKeyName, base64.StdEncoding.EncodeToString(key)); err != nil {
		return nil, fmt.Errorf("vault: save key: %w", err)
	}
	vaultLog.Info("master_key_created")
	return key, nil
}

// migrateLegacy copies the legacy key file into the store. The file is only
// deleted once the store reads the key back unchanged.
func (v *Vault) migrateLegacy() string {
	if v.legacyPath == "" {
		return ""
	}
	data, err := os.ReadFile(v.legacyPath)
	if err != nil {
		if !os.IsNotExist(err) {
			vaultLog.Warn("legacy_key_unreadable", slog.String("error", err.Error()))
		}
		return ""
	}
	legacy := strings.TrimSpace(string(data))
	if legacy == "" {
		return ""
	}

	if err := v.store.SetMeta(MasterKeyName, legacy); err != nil {
		vaultLog.Warn("legacy_key_copy_failed", slog.String("error", err.Error()))
		return legacy
	}
	verify, err := v.store.GetMeta(MasterKeyName)
	if err != nil || verify != legacy {
		vaultLog.Warn("legacy_key_verify_failed")
		return legacy
	}
	if err := os.Remove(v.legacyPath); err != nil {
		vaultLog.Warn("legacy_key_remove_failed", slog.String("error", err.Error()))
	} else {
		vaultLog.Info("legacy_key_migrated")
	}
	return legacy
}
