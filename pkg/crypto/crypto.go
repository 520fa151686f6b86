// Package crypto implements the vault's confidentiality and authentication
// primitives: an Argon2 key derivation over a fixed deployment salt for
// at-rest encryption, AES-256-CTR with a random IV prefix for the blob
// contents, and an independent Argon2id password hash for access control.
//
// The two derivations intentionally share nothing but the raw password:
// the hash authenticates, the key encrypts, and their parameters are tuned
// separately.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	// SaltLength is the required length of the deployment-wide KDF salt.
	SaltLength = 8

	ivSize  = 16
	keySize = 32
)

// kdf parameters feed DeriveKey; hash parameters feed HashPassword. They are
// deliberately distinct so authentication strength and confidentiality
// strength can move independently.
const (
	kdfTime    = 1
	kdfMemory  = 64 * 1024
	kdfThreads = 4

	hashTime    = 3
	hashMemory  = 64 * 1024
	hashThreads = 1
	hashSaltLen = 16
)

var (
	// ErrBadSalt indicates the configured salt is not exactly 8 bytes.
	ErrBadSalt = errors.New("crypto: salt must be exactly 8 bytes")

	// ErrNotConfigured indicates an encryption operation without a salt.
	ErrNotConfigured = errors.New("crypto: encryption salt not configured")

	// ErrCiphertextShort indicates input too short to carry an IV prefix.
	ErrCiphertextShort = errors.New("crypto: ciphertext shorter than IV")

	// ErrInvalidHash indicates a stored password hash that cannot be parsed.
	ErrInvalidHash = errors.New("crypto: invalid password hash")
)

// Service derives keys, encrypts blob contents and verifies passwords.
// A Service without a salt can still hash and verify passwords, but any
// encryption operation fails with ErrNotConfigured.
type Service struct {
	salt []byte
}

// New creates a crypto service. An empty salt disables encryption; a
// non-empty salt of the wrong length is a configuration error the caller
// should treat as fatal.
func New(salt string) (*Service, error) {
	if salt == "" {
		return &Service{}, nil
	}
	if len(salt) != SaltLength {
		return nil, ErrBadSalt
	}
	return &Service{salt: []byte(salt)}, nil
}

// EncryptionEnabled reports whether a salt is configured.
func (s *Service) EncryptionEnabled() bool {
	return len(s.salt) > 0
}

// DeriveKey derives the 32-byte symmetric key for a password over the fixed
// deployment salt. The derivation is deterministic so the same password
// always yields the same key.
func (s *Service) DeriveKey(password string) ([]byte, error) {
	if !s.EncryptionEnabled() {
		return nil, ErrNotConfigured
	}
	return argon2.IDKey([]byte(password), s.salt, kdfTime, kdfMemory, kdfThreads, keySize), nil
}

// Encrypt returns IV || AES-256-CTR(data) under the key derived from password.
func (s *Service) Encrypt(data []byte, password string) ([]byte, error) {
	key, err := s.DeriveKey(password)
	if err != nil {
		return nil, err
	}

	iv := make([]byte, ivSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("crypto: generating iv: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	out := make([]byte, ivSize+len(data))
	copy(out, iv)
	cipher.NewCTR(block, iv).XORKeyStream(out[ivSize:], data)
	return out, nil
}

// Decrypt splits the 16-byte IV prefix and decrypts the remainder.
func (s *Service) Decrypt(data []byte, password string) ([]byte, error) {
	key, err := s.DeriveKey(password)
	if err != nil {
		return nil, err
	}
	if len(data) < ivSize {
		return nil, ErrCiphertextShort
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	out := make([]byte, len(data)-ivSize)
	cipher.NewCTR(block, data[:ivSize]).XORKeyStream(out, data[ivSize:])
	return out, nil
}

// HashPassword returns a self-describing Argon2id hash with a random salt.
// Encoded format: argon2id$m=<M>,t=<T>,p=<P>$<b64(salt)>$<b64(key)>
func (s *Service) HashPassword(password string) (string, error) {
	salt := make([]byte, hashSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	key := argon2.IDKey([]byte(password), salt, hashTime, hashMemory, hashThreads, keySize)
	return fmt.Sprintf("argon2id$m=%d,t=%d,p=%d$%s$%s",
		hashMemory, hashTime, hashThreads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// VerifyPassword re-derives the hash with the stored parameters and compares
// in constant time.
func (s *Service) VerifyPassword(encoded, password string) (bool, error) {
	const prefix = "argon2id$"
	if !strings.HasPrefix(encoded, prefix) {
		return false, ErrInvalidHash
	}
	parts := strings.Split(encoded[len(prefix):], "$")
	if len(parts) != 3 {
		return false, ErrInvalidHash
	}

	var m, t uint32
	var p uint8
	if _, err := fmt.Sscanf(parts[0], "m=%d,t=%d,p=%d", &m, &t, &p); err != nil {
		return false, ErrInvalidHash
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[1])
	if err != nil {
		return false, ErrInvalidHash
	}
	keyRef, err := base64.RawStdEncoding.DecodeString(parts[2])
	if err != nil {
		return false, ErrInvalidHash
	}

	key := argon2.IDKey([]byte(password), salt, t, m, p, uint32(len(keyRef)))
	return subtle.ConstantTimeCompare(key, keyRef) == 1, nil
}
