package mfa

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const keySize = 32

// ErrDecryption means a stored blob could not be opened: it is malformed,
// truncated, tampered with, or was sealed under a different service secret.
// It is an internal failure, never a user-correctable one.
var ErrDecryption = errors.New("mfa: decryption failed")

type CipherConfig struct {
	Secret     string
	Salt       string
	Iterations int
}

// Cipher seals MFA secrets and backup-code sets with AES-256-GCM under a key
// derived from the service secret. It holds no mutable state.
type Cipher struct {
	aead cipher.AEAD
}

// DeriveKey runs PBKDF2-HMAC-SHA256 over the service secret. The same input
// always yields the same key so blobs survive restarts.
func DeriveKey(secret, salt string, iterations int) []byte {
	return pbkdf2.Key([]byte(secret), []byte(salt), iterations, keySize, sha256.New)
}

func NewCipher(cfg CipherConfig) (*Cipher, error) {
	if cfg.Secret == "" {
		return nil, errors.New("mfa: cipher secret is required")
	}
	if cfg.Iterations <= 0 {
		return nil, errors.New("mfa: kdf iterations must be positive")
	}

	block, err := aes.NewCipher(DeriveKey(cfg.Secret, cfg.Salt, cfg.Iterations))
	if err != nil {
		return nil, fmt.Errorf("mfa: init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("mfa: init gcm: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

// Encrypt returns base64(nonce || sealed). Any failure is returned, never
// swallowed.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("mfa: read nonce: %w", err)
	}

	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a blob produced by Encrypt. The empty string stands for
// "nothing stored" and decrypts to the empty string.
func (c *Cipher) Decrypt(encrypted string) (string, error) {
	if encrypted == "" {
		return "", nil
	}

	raw, err := base64.StdEncoding.DecodeString(encrypted)
	if err != nil {
		return "", fmt.Errorf("%w: malformed encoding", ErrDecryption)
	}

	nonceSize := c.aead.NonceSize()
	if len(raw) < nonceSize+c.aead.Overhead() {
		return "", fmt.Errorf("%w: ciphertext too short", ErrDecryption)
	}

	nonce, sealed := raw[:nonceSize], raw[nonceSize:]
	plaintext, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("%w: authentication failed", ErrDecryption)
	}
	return string(plaintext), nil
}
