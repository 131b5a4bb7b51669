// Package encryption seals exported unit-of-work payloads with a passphrase.
//
// Keys are derived with PBKDF2-HMAC-SHA256 from the passphrase and a random
// per-payload salt, and payloads are encrypted with AES-256-GCM.
//
// Sealed format:
//
//	[4 bytes magic "NRM1"][4 bytes iterations][16 bytes salt][nonce][ciphertext]
//
// Example:
//
//	sealed, err := encryption.Seal(payload, "correct horse", 0)
//	...
//	payload, err = encryption.Open(sealed, "correct horse")
package encryption

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

// DefaultIterations is the PBKDF2 iteration count used when none is given.
const DefaultIterations = 600_000

const (
	saltSize   = 16
	headerSize = 4 + 4 + saltSize
)

var magic = []byte("NRM1")

// Errors
var (
	ErrEmptyPassphrase  = errors.New("encryption: empty passphrase")
	ErrInvalidData      = errors.New("encryption: invalid sealed data")
	ErrDecryptionFailed = errors.New("encryption: decryption failed (authentication error)")
)

// DeriveKey derives a 32-byte AES-256 key from password and salt.
// iterations <= 0 selects DefaultIterations.
func DeriveKey(password, salt []byte, iterations int) []byte {
	if iterations <= 0 {
		iterations = DefaultIterations
	}
	return pbkdf2.Key(password, salt, iterations, 32, sha256.New)
}

// Seal encrypts plaintext under passphrase.
func Seal(plaintext []byte, passphrase string, iterations int) ([]byte, error) {
	if passphrase == "" {
		return nil, ErrEmptyPassphrase
	}
	if iterations <= 0 {
		iterations = DefaultIterations
	}

	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, err
	}
	gcm, err := newGCM(DeriveKey([]byte(passphrase), salt, iterations))
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	out := make([]byte, headerSize, headerSize+len(nonce)+len(plaintext)+gcm.Overhead())
	copy(out, magic)
	binary.BigEndian.PutUint32(out[4:8], uint32(iterations))
	copy(out[8:headerSize], salt)
	out = append(out, nonce...)
	// The header is authenticated as additional data.
	return gcm.Seal(out, nonce, plaintext, out[:headerSize]), nil
}

// Open decrypts data produced by Seal.
func Open(data []byte, passphrase string) ([]byte, error) {
	if passphrase == "" {
		return nil, ErrEmptyPassphrase
	}
	if !IsSealed(data) {
		return nil, ErrInvalidData
	}
	iterations := int(binary.BigEndian.Uint32(data[4:8]))
	salt := data[8:headerSize]

	gcm, err := newGCM(DeriveKey([]byte(passphrase), salt, iterations))
	if err != nil {
		return nil, err
	}
	rest := data[headerSize:]
	if len(rest) < gcm.NonceSize() {
		return nil, ErrInvalidData
	}
	nonce, ciphertext := rest[:gcm.NonceSize()], rest[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, data[:headerSize])
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

// IsSealed reports whether data carries the sealed header.
func IsSealed(data []byte) bool {
	return len(data) >= headerSize && bytes.Equal(data[:4], magic)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
