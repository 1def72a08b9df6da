package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
)

// Phone numbers are personal data and are stored encrypted. Values are
// AES-256-GCM sealed with a per-value nonce; the stored form is
// hex(nonce || ciphertext).

// EncryptPhone seals a phone number with the given 32-byte key.
func EncryptPhone(key []byte, phone string) (string, error) {
	if len(key) != 32 {
		return "", fmt.Errorf("phone key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
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
	sealed := gcm.Seal(nonce, nonce, []byte(phone), nil)
	return hex.EncodeToString(sealed), nil
}

// DecryptPhone opens a value produced by EncryptPhone.
func DecryptPhone(key []byte, stored string) (string, error) {
	if len(key) != 32 {
		return "", fmt.Errorf("phone key must be 32 bytes, got %d", len(key))
	}
	raw, err := hex.DecodeString(stored)
	if err != nil {
		return "", fmt.Errorf("invalid stored phone value: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	if len(raw) < gcm.NonceSize() {
		return "", fmt.Errorf("stored phone value too short")
	}
	nonce, ct := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]
	pt, err := gcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt failed: %w", err)
	}
	return string(pt), nil
}
