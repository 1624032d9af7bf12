package store

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/argon2"
)

const (
	saltSize  = 16
	nonceSize = 12
	keySize   = 32
	argonTime = 3
	argonMem  = 64 * 1024
	argonPar  = 4
)

// ErrSealedTooShort is returned for stored values shorter than a header.
var ErrSealedTooShort = errors.New("sealed value too small")

// Backend is the storage Sealed wraps.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
}

// Sealed encrypts values at rest with AES-256-GCM under an Argon2id key.
// Stored format: [16-byte salt][12-byte nonce][ciphertext].
type Sealed struct {
	inner      Backend
	passphrase string

	mu   sync.Mutex
	salt []byte
	keys map[string][]byte
}

// NewSealed wraps inner. The salt for new writes is generated once so the
// key is derived once per process.
func NewSealed(inner Backend, passphrase string) (*Sealed, error) {
	salt, err := GenerateSalt()
	if err != nil {
		return nil, err
	}
	s := &Sealed{inner: inner, passphrase: passphrase, salt: salt, keys: make(map[string][]byte)}
	s.keys[string(salt)] = DeriveKey(passphrase, salt)
	return s, nil
}

// GenerateSalt returns 16 cryptographically random bytes.
func GenerateSalt() ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	return salt, nil
}

// DeriveKey derives a 32-byte AES-256 key from a passphrase and salt using Argon2id.
func DeriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, argonTime, argonMem, argonPar, keySize)
}

func (s *Sealed) key(salt []byte) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if k, ok := s.keys[string(salt)]; ok {
		return k
	}
	k := DeriveKey(s.passphrase, salt)
	s.keys[string(salt)] = k
	return k
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return gcm, nil
}

func (s *Sealed) Set(ctx context.Context, key string, value []byte) error {
	gcm, err := newGCM(s.key(s.salt))
	if err != nil {
		return err
	}

	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}

	var out bytes.Buffer
	out.Grow(saltSize + nonceSize + len(value) + gcm.Overhead())
	out.Write(s.salt)
	out.Write(nonce)
	out.Write(gcm.Seal(nil, nonce, value, []byte(key)))
	return s.inner.Set(ctx, key, out.Bytes())
}

// Get returns the decrypted value, or nil if the key is not set.
func (s *Sealed) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.inner.Get(ctx, key)
	if err != nil || data == nil {
		return nil, err
	}
	if len(data) < saltSize+nonceSize {
		return nil, ErrSealedTooShort
	}

	salt := data[:saltSize]
	nonce := data[saltSize : saltSize+nonceSize]
	ciphertext := data[saltSize+nonceSize:]

	gcm, err := newGCM(s.key(salt))
	if err != nil {
		return nil, err
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, []byte(key))
	if err != nil {
		return nil, fmt.Errorf("decrypt %q: %w", key, err)
	}
	return plaintext, nil
}
