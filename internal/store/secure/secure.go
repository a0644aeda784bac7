// Package secure seals credentials with AES-256-GCM before they reach a
// backend, so buckets, tables and caches only ever hold ciphertext.
package secure

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/nextlevelbuilder/luxbot/internal/store"
)

const (
	prefix    = "aes-gcm:"
	sealedKey = "sealed"
)

// ErrDecrypt is returned when a sealed state cannot be opened with the key.
var ErrDecrypt = errors.New("decrypt failed: invalid key or corrupted data")

// Store wraps a CredentialStore with sealing.
type Store struct {
	inner store.CredentialStore
	aead  cipher.AEAD
}

// Wrap returns inner unchanged when key is empty.
func Wrap(inner store.CredentialStore, key string) (store.CredentialStore, error) {
	if key == "" {
		return inner, nil
	}
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	return &Store{inner: inner, aead: aead}, nil
}

// Load opens a sealed state. States stored before sealing was enabled are
// returned as they are.
func (s *Store) Load(ctx context.Context, sessionID string) (*store.AuthState, error) {
	st, err := s.inner.Load(ctx, sessionID)
	if err != nil || st == nil {
		return st, err
	}
	sealed, ok := st.Extra[sealedKey].(string)
	if !ok || !strings.HasPrefix(sealed, prefix) {
		return st, nil
	}
	plain, err := s.open(sealed)
	if err != nil {
		return nil, fmt.Errorf("session %s: %w", sessionID, err)
	}
	return store.DecodeAuthState(plain)
}

func (s *Store) Save(ctx context.Context, sessionID string, state *store.AuthState) error {
	plain, err := json.Marshal(state)
	if err != nil {
		return err
	}
	sealed, err := s.seal(plain)
	if err != nil {
		return err
	}
	out := store.NewAuthState()
	out.Extra = map[string]any{sealedKey: sealed}
	return s.inner.Save(ctx, sessionID, out)
}

func (s *Store) Delete(ctx context.Context, sessionID string) error {
	return s.inner.Delete(ctx, sessionID)
}

// seal returns "aes-gcm:" + base64(nonce + ciphertext + tag).
func (s *Store) seal(plain []byte) (string, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	ciphertext := s.aead.Seal(nonce, nonce, plain, nil)
	return prefix + base64.StdEncoding.EncodeToString(ciphertext), nil
}

func (s *Store) open(sealed string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(sealed, prefix))
	if err != nil {
		return nil, ErrDecrypt
	}
	n := s.aead.NonceSize()
	if len(data) < n {
		return nil, ErrDecrypt
	}
	plain, err := s.aead.Open(nil, data[:n], data[n:], nil)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plain, nil
}

func newAEAD(key string) (cipher.AEAD, error) {
	keyBytes, err := DeriveKey(key)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(keyBytes)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// DeriveKey converts the input string to a 32-byte AES key.
// Accepts: hex-encoded (64 chars), base64-encoded (44 chars), or raw 32 bytes.
func DeriveKey(input string) ([]byte, error) {
	if len(input) == 64 {
		if b, err := hex.DecodeString(input); err == nil {
			return b, nil
		}
	}
	if len(input) == 44 && strings.HasSuffix(input, "=") {
		if b, err := base64.StdEncoding.DecodeString(input); err == nil && len(b) == 32 {
			return b, nil
		}
	}
	if len(input) == 32 {
		return []byte(input), nil
	}
	return nil, errors.New("encryption key must be 32 bytes (hex-encoded 64 chars, base64 44 chars, or raw 32 bytes)")
}
