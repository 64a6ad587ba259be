// Package crypto provides authenticated at-rest encryption for credential
// payloads using XChaCha20-Poly1305 with a rotating key ring.
package crypto

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/avisanghavi/keyvault/internal/models"
)

// Cipher encrypts with the newest key and decrypts against the whole ring,
// so rotation never orphans previously written ciphertext.
type Cipher struct {
	aeads [][]byte
}

// NewCipher builds a cipher from the key ring, newest key first.
// Every key must be exactly 32 bytes.
func NewCipher(keys [][]byte) (*Cipher, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("cipher requires at least one key")
	}
	for i, k := range keys {
		if len(k) != chacha20poly1305.KeySize {
			return nil, fmt.Errorf("key %d must be %d bytes, got %d", i, chacha20poly1305.KeySize, len(k))
		}
	}
	// Keys are copied so callers can zero their slices.
	ring := make([][]byte, len(keys))
	for i, k := range keys {
		ring[i] = append([]byte(nil), k...)
	}
	return &Cipher{aeads: ring}, nil
}

// Encrypt seals plaintext with the newest key. The random 24-byte nonce is
// prepended to the returned ciphertext.
func (c *Cipher) Encrypt(plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(c.aeads[0])
	if err != nil {
		return nil, fmt.Errorf("failed to initialise cipher: %w", err)
	}

	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	out := make([]byte, 0, len(nonce)+len(plaintext)+aead.Overhead())
	out = append(out, nonce...)
	return aead.Seal(out, nonce, plaintext, nil), nil
}

// Decrypt opens ciphertext, trying each key in the ring newest first.
// Returns models.ErrDecryptionFailed when no key authenticates the payload,
// which signals either corruption or a fully rotated-out key.
func (c *Cipher) Decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < chacha20poly1305.NonceSizeX {
		return nil, fmt.Errorf("ciphertext too short: %w", models.ErrDecryptionFailed)
	}
	nonce := ciphertext[:chacha20poly1305.NonceSizeX]
	sealed := ciphertext[chacha20poly1305.NonceSizeX:]

	for _, key := range c.aeads {
		aead, err := chacha20poly1305.NewX(key)
		if err != nil {
			continue
		}
		plaintext, err := aead.Open(nil, nonce, sealed, nil)
		if err == nil {
			return plaintext, nil
		}
	}
	return nil, models.ErrDecryptionFailed
}

// NeedsReencryption reports whether the ciphertext was sealed with a key
// other than the newest one. Callers can rewrite such records lazily.
func (c *Cipher) NeedsReencryption(ciphertext []byte) bool {
	if len(ciphertext) < chacha20poly1305.NonceSizeX {
		return false
	}
	nonce := ciphertext[:chacha20poly1305.NonceSizeX]
	sealed := ciphertext[chacha20poly1305.NonceSizeX:]

	aead, err := chacha20poly1305.NewX(c.aeads[0])
	if err != nil {
		return false
	}
	if _, err := aead.Open(nil, nonce, sealed, nil); err == nil {
		return false
	}

	for _, key := range c.aeads[1:] {
		old, err := chacha20poly1305.NewX(key)
		if err != nil {
			continue
		}
		if _, err := old.Open(nil, nonce, sealed, nil); err == nil {
			return true
		}
	}
	return false
}

// GenerateKey returns a fresh random 32-byte key suitable for the ring.
func GenerateKey() ([]byte, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return key, nil
}
