package persist

import (
	"bytes"
	"context"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

var sealedPrefix = []byte("sealed:v1:")

// SaltKey holds the key-derivation salt in the wrapped backend, unsealed.
const SaltKey = "_seal_salt"

const saltSize = 16

// argon2id parameters
const (
	kdfTime    = 1
	kdfMemory  = 64 * 1024
	kdfThreads = 4
)

// Sealed encrypts values before they reach the wrapped backend.
type Sealed struct {
	Backend
	aead cipher.AEAD
}

// NewSealed derives a key from passphrase with argon2id and wraps b. The
// salt is created on first use and stored in b under SaltKey.
func NewSealed(ctx context.Context, b Backend, passphrase string) (*Sealed, error) {
	salt, err := loadSalt(ctx, b)
	if err != nil {
		return nil, err
	}
	key := argon2.IDKey([]byte(passphrase), salt, kdfTime, kdfMemory, kdfThreads, chacha20poly1305.KeySize)
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("seal: %w", err)
	}
	return &Sealed{Backend: b, aead: aead}, nil
}

func loadSalt(ctx context.Context, b Backend) ([]byte, error) {
	salt, err := b.Load(ctx, SaltKey)
	if err == nil {
		if len(salt) != saltSize {
			return nil, fmt.Errorf("%w: salt has %d bytes", ErrSealed, len(salt))
		}
		return salt, nil
	}
	if !IsNotFound(err) {
		return nil, fmt.Errorf("seal: load salt: %w", err)
	}
	salt = make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("seal: salt: %w", err)
	}
	if err := b.Save(ctx, SaltKey, salt); err != nil {
		return nil, fmt.Errorf("seal: save salt: %w", err)
	}
	return salt, nil
}

// IsSealed reports whether value was produced by a Sealed backend.
func IsSealed(value []byte) bool {
	return bytes.HasPrefix(value, sealedPrefix)
}

func (s *Sealed) Save(ctx context.Context, key string, value []byte) error {
	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(value)+s.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("seal: nonce: %w", err)
	}
	// key is bound as additional data so values cannot be swapped between slices
	ct := s.aead.Seal(nonce, nonce, value, []byte(key))

	out := make([]byte, len(sealedPrefix)+base64.StdEncoding.EncodedLen(len(ct)))
	copy(out, sealedPrefix)
	base64.StdEncoding.Encode(out[len(sealedPrefix):], ct)
	return s.Backend.Save(ctx, key, out)
}

func (s *Sealed) Load(ctx context.Context, key string) ([]byte, error) {
	raw, err := s.Backend.Load(ctx, key)
	if err != nil {
		return nil, err
	}
	if !IsSealed(raw) {
		return nil, fmt.Errorf("%w: %s is not sealed", ErrSealed, key)
	}
	ct, err := base64.StdEncoding.DecodeString(string(raw[len(sealedPrefix):]))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSealed, key, err)
	}
	ns := s.aead.NonceSize()
	if len(ct) < ns {
		return nil, fmt.Errorf("%w: %s: short value", ErrSealed, key)
	}
	plain, err := s.aead.Open(nil, ct[:ns], ct[ns:], []byte(key))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSealed, key, err)
	}
	return plain, nil
}
