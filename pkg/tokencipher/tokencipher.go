// Package tokencipher encrypts OAuth tokens before they reach the database.
// Keys are derived from a configured passphrase with argon2id; each value is
// sealed with AES-256-GCM under a fresh salt and nonce.
package tokencipher

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/argon2"
)

const (
	saltLen = 16
	keyLen  = 32

	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
)

// Cipher seals and opens token values.
type Cipher struct {
	passphrase []byte
}

// New creates a Cipher from the configured passphrase.
func New(passphrase string) (*Cipher, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("token encryption passphrase is empty")
	}
	return &Cipher{passphrase: []byte(passphrase)}, nil
}

// Encrypt seals plaintext and returns a base64 string of
// salt || nonce || ciphertext. A fresh salt per value means identical tokens
// never produce identical ciphertexts.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	gcm, err := c.aead(salt)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := gcm.Seal(nil, nonce, []byte(plaintext), nil)

	out := make([]byte, 0, len(salt)+len(nonce)+len(sealed))
	out = append(out, salt...)
	out = append(out, nonce...)
	out = append(out, sealed...)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt reverses Encrypt. Tampered or foreign-key values fail the GCM tag
// check and return an error.
func (c *Cipher) Decrypt(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}
	if len(raw) < saltLen {
		return "", fmt.Errorf("ciphertext too short")
	}

	salt, rest := raw[:saltLen], raw[saltLen:]
	gcm, err := c.aead(salt)
	if err != nil {
		return "", err
	}
	if len(rest) < gcm.NonceSize() {
		return "", fmt.Errorf("ciphertext too short")
	}

	nonce, sealed := rest[:gcm.NonceSize()], rest[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("open ciphertext: %w", err)
	}
	return string(plaintext), nil
}

func (c *Cipher) aead(salt []byte) (cipher.AEAD, error) {
	key := argon2.IDKey(c.passphrase, salt, argonTime, argonMemory, argonThreads, keyLen)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}
	return gcm, nil
}
