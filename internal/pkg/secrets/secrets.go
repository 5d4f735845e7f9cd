package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

// ErrDecryption is returned when stored ciphertext cannot be decrypted with
// the current key. Callers must treat this as a hard failure for the affected
// field; there is no fallback to reading the raw value as plaintext.
var ErrDecryption = errors.New("secrets: decryption failed")

const (
	keySize    = 32
	iterations = 210000
)

// Fixed salt: the master secret is a long random value, the salt only has to
// domain-separate this derivation from other uses of the same secret.
var kdfSalt = []byte("dojopay.secrets.v1")

// Store encrypts, decrypts and hashes sensitive values with a key derived
// once from the master secret. Construct it at startup and inject it into
// every component that touches payer PII or gateway credentials.
type Store struct {
	key []byte
}

// New derives the process-lifetime key from the master secret.
func New(masterSecret string) (*Store, error) {
	if masterSecret == "" {
		return nil, errors.New("secrets: master secret is required")
	}
	key := pbkdf2.Key([]byte(masterSecret), kdfSalt, iterations, keySize, sha256.New)
	return &Store{key: key}, nil
}

// Encrypt seals plaintext with AES-256-GCM and returns base64(nonce||sealed).
// Empty input stays empty so optional columns round-trip unchanged.
func (s *Store) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	block, err := aes.NewCipher(s.key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Malformed input, a truncated nonce or a failed
// GCM authentication all surface as ErrDecryption.
func (s *Store) Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}

	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: invalid encoding", ErrDecryption)
	}

	block, err := aes.NewCipher(s.key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	if len(raw) < gcm.NonceSize() {
		return "", fmt.Errorf("%w: ciphertext too short", ErrDecryption)
	}
	nonce, sealed := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]

	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryption, err)
	}
	return string(plaintext), nil
}

// Hash returns a keyed one-way digest of value, hex encoded. Used for
// indexable lookup columns (gateway ids) without storing the raw value.
func (s *Store) Hash(value string) string {
	if value == "" {
		return ""
	}
	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(value))
	return hex.EncodeToString(mac.Sum(nil))
}
