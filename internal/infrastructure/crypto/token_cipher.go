package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/vritti/backend/internal/domain/accounting"
)

// ---------------------------------------------------------------------------
// AESTokenCipher
// ---------------------------------------------------------------------------

var (
	ErrInvalidKeySize     = errors.New("crypto: encryption key must be 32 bytes (64 hex characters)")
	ErrCiphertextTooShort = errors.New("crypto: ciphertext shorter than nonce")
)

// AESTokenCipher implements accounting.TokenCipher with AES-256-GCM. Each
// ciphertext carries its own random nonce as a prefix, so equal plaintexts
// never produce equal ciphertexts.
type AESTokenCipher struct {
	aead cipher.AEAD
}

var _ accounting.TokenCipher = (*AESTokenCipher)(nil)

// NewAESTokenCipher creates a cipher from a hex-encoded 256-bit key
func NewAESTokenCipher(hexKey string) (*AESTokenCipher, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKeySize, err)
	}
	if len(key) != 32 {
		return nil, ErrInvalidKeySize
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &AESTokenCipher{aead: aead}, nil
}

// Encrypt returns nonce || sealed(plaintext)
func (c *AESTokenCipher) Encrypt(plaintext string) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return c.aead.Seal(nonce, nonce, []byte(plaintext), nil), nil
}

// Decrypt opens a ciphertext produced by Encrypt
func (c *AESTokenCipher) Decrypt(ciphertext []byte) (string, error) {
	if len(ciphertext) < c.aead.NonceSize() {
		return "", ErrCiphertextTooShort
	}
	nonce, sealed := ciphertext[:c.aead.NonceSize()], ciphertext[c.aead.NonceSize():]
	plaintext, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}
