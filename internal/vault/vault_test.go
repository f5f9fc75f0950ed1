package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu       sync.Mutex
	values   map[string]string
	sets     int
	dropSets bool
}

func newMemStore() *memStore {
	return &memStore{values: make(map[string]string)}
}

func (m *memStore) GetMeta(key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.values[key], nil
}

func (m *memStore) SetMeta(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sets++
	if !m.dropSets {
		m.values[key] = value
	}
	return nil
}

func TestRoundTrip(t *testing.T) {
	v := New(newMemStore(), "")

	enc, err := v.Encrypt("hunter2")
	require.NoError(t, err)

	ivStr, ctStr, ok := strings.Cut(enc, ":")
	require.True(t, ok)
	iv, err := base64.StdEncoding.DecodeString(ivStr)
	require.NoError(t, err)
	assert.Len(t, iv, 12)
	_, err = base64.StdEncoding.DecodeString(ctStr)
	require.NoError(t, err)

	dec, err := v.Decrypt(enc)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", dec)
}

func TestEmptyValues(t *testing.T) {
	store := newMemStore()
	v := New(store, "")

	enc, err := v.Encrypt("")
	require.NoError(t, err)
	assert.Empty(t, enc)

	dec, err := v.Decrypt("")
	require.NoError(t, err)
	assert.Empty(t, dec)

	assert.Zero(t, store.sets, "no key is created for empty values")
}

func TestFreshNoncePerEncrypt(t *testing.T) {
	v := New(newMemStore(), "")
	a, err := v.Encrypt("same")
	require.NoError(t, err)
	b, err := v.Encrypt("same")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestKeyPersistsAcrossInstances(t *testing.T) {
	store := newMemStore()
	enc, err := New(store, "").Encrypt("secret")
	require.NoError(t, err)

	dec, err := New(store, "").Decrypt(enc)
	require.NoError(t, err)
	assert.Equal(t, "secret", dec)
}

func TestDecryptErrors(t *testing.T) {
	v := New(newMemStore(), "")
	enc, err := v.Encrypt("secret")
	require.NoError(t, err)

	tests := []struct {
		name  string
		input string
		want  error
	}{
		{"no separator", "abc", ErrInvalidFormat},
		{"empty iv", ":abc", ErrInvalidFormat},
		{"empty ciphertext", "abc:", ErrInvalidFormat},
		{"bad base64", "!!!:???", ErrInvalidFormat},
		{"tampered", enc[:len(enc)-4] + "AAA=", ErrDecrypt},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Decrypt(tt.input)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestWrongKey(t *testing.T) {
	enc, err := New(newMemStore(), "").Encrypt("secret")
	require.NoError(t, err)

	_, err = New(newMemStore(), "").Decrypt(enc)
	assert.ErrorIs(t, err, ErrDecrypt)
}

func TestDecryptsExternallySealedValue(t *testing.T) {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	store := newMemStore()
	store.values[MasterKeyName] = base64.StdEncoding.EncodeToString(key)

	block, err := aes.NewCipher(key)
	require.NoError(t, err)
	gcm, err := cipher.NewGCM(block)
	require.NoError(t, err)
	iv := []byte("0123456789ab")
	sealed := gcm.Seal(nil, iv, []byte("from-before"), nil)
	value := base64.StdEncoding.EncodeToString(iv) + ":" + base64.StdEncoding.EncodeToString(sealed)

	dec, err := New(store, "").Decrypt(value)
	require.NoError(t, err)
	assert.Equal(t, "from-before", dec)
}

func TestLegacyKeyMigration(t *testing.T) {
	key := base64.StdEncoding.EncodeToString(make([]byte, 32))
	path := filepath.Join(t.TempDir(), "master.key")
	require.NoError(t, os.WriteFile(path, []byte(key+"\n"), 0o600))

	store := newMemStore()
	v := New(store, path)
	_, err := v.Encrypt("x")
	require.NoError(t, err)

	assert.Equal(t, key, store.values[MasterKeyName])
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "legacy file should be removed")
}

func TestLegacyKeyKeptWhenVerifyFails(t *testing.T) {
	key := base64.StdEncoding.EncodeToString(make([]byte, 32))
	path := filepath.Join(t.TempDir(), "master.key")
	require.NoError(t, os.WriteFile(path, []byte(key), 0o600))

	store := newMemStore()
	store.dropSets = true
	v := New(store, path)

	enc, err := v.Encrypt("x")
	require.NoError(t, err)
	dec, err := v.Decrypt(enc)
	require.NoError(t, err)
	assert.Equal(t, "x", dec)

	_, err = os.Stat(path)
	assert.NoError(t, err, "legacy file must survive a failed copy")
}

func TestBadStoredKey(t *testing.T) {
	store := newMemStore()
	store.values[MasterKeyName] = base64.StdEncoding.EncodeToString([]byte("short"))

	_, err := New(store, "").Encrypt("x")
	assert.ErrorContains(t, err, "master key has 5 bytes")
}

func TestConcurrentFirstUseCreatesOneKey(t *testing.T) {
	store := newMemStore()
	v := New(store, "")

	var wg sync.WaitGroup
	results := make([]string, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			enc, err := v.Encrypt("p")
			assert.NoError(t, err)
			results[i] = enc
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, store.sets)
	for _, enc := range results {
		dec, err := v.Decrypt(enc)
		require.NoError(t, err)
		assert.Equal(t, "p", dec)
	}
}
