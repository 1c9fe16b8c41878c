// Package crypto provides the record encryption capability used by the data
// exchange flow. Records are sealed with AES-256-GCM under a key derived
// from the shared gateway secret, so a bridge holding the same secret can
// open deliveries without a key exchange step.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
)

// RecordCipher seals and opens health-record payloads. Consumers treat it as
// an opaque capability; the concrete cipher can change without touching the
// exchange protocol.
type RecordCipher interface {
	Seal(plaintext []byte) (string, error)
	Open(ciphertext string) ([]byte, error)
}

// AESCipher is the default RecordCipher: AES-256-GCM keyed by the SHA-256
// hash of the shared secret.
type AESCipher struct {
	key [32]byte
}

func NewAESCipher(secret string) *AESCipher {
	return &AESCipher{key: sha256.Sum256([]byte(secret))}
}

func (c *AESCipher) Seal(plaintext []byte) (string, error) {
	block, err := aes.NewCipher(c.key[:])
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
	sealed := gcm.Seal(nonce, nonce, plaintext, nil)
	return base64.URLEncoding.EncodeToString(sealed), nil
}

func (c *AESCipher) Open(ciphertext string) ([]byte, error) {
	raw, err := base64.URLEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, fmt.Errorf("decode ciphertext: %w", err)
	}
	block, err := aes.NewCipher(c.key[:])
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(raw) < gcm.NonceSize() {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce, sealed := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("open ciphertext: %w", err)
	}
	return plaintext, nil
}

// SealJSON marshals v and seals the result.
func SealJSON(c RecordCipher, v interface{}) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal records: %w", err)
	}
	return c.Seal(raw)
}
