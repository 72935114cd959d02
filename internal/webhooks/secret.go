package webhooks

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

// SecretPrefix marks generated signing secrets.
const SecretPrefix = "whsec_"

const sealedPrefix = "v1:"

// GenerateSecret returns a new signing secret: the prefix followed by 32
// random bytes, hex-encoded.
func GenerateSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return SecretPrefix + hex.EncodeToString(b), nil
}

// SecretSealer protects signing secrets at rest.
type SecretSealer interface {
	Seal(plain string) (string, error)
	Open(sealed string) (string, error)
}

// NewSealer returns an AES-256-GCM sealer for key, or a pass-through sealer
// when key is empty. The key is 32 raw bytes or 64 hex characters.
func NewSealer(key string) (SecretSealer, error) {
	if key == "" {
		return plainSealer{}, nil
	}
	raw := []byte(key)
	if len(key) == 64 {
		if b, err := hex.DecodeString(key); err == nil {
			raw = b
		}
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("secret key must be 32 bytes, got %d", len(raw))
	}
	block, err := aes.NewCipher(raw)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return &aesSealer{aead: gcm}, nil
}

type plainSealer struct{}

func (plainSealer) Seal(plain string) (string, error) { return plain, nil }

func (plainSealer) Open(sealed string) (string, error) {
	if strings.HasPrefix(sealed, sealedPrefix) {
		return "", fmt.Errorf("%w: sealed secret but no key configured", ErrSecretUnavailable)
	}
	return sealed, nil
}

type aesSealer struct {
	aead cipher.AEAD
}

func (s *aesSealer) Seal(plain string) (string, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	ct := s.aead.Seal(nonce, nonce, []byte(plain), nil)
	return sealedPrefix + base64.StdEncoding.EncodeToString(ct), nil
}

// Open decrypts a sealed secret. Values without the version prefix were
// written before a key was configured and are returned unchanged.
func (s *aesSealer) Open(sealed string) (string, error) {
	enc, ok := strings.CutPrefix(sealed, sealedPrefix)
	if !ok {
		return sealed, nil
	}
	data, err := base64.StdEncoding.DecodeString(enc)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSecretUnavailable, err)
	}
	n := s.aead.NonceSize()
	if len(data) < n {
		return "", fmt.Errorf("%w: ciphertext too short", ErrSecretUnavailable)
	}
	plain, err := s.aead.Open(nil, data[:n], data[n:], nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSecretUnavailable, err)
	}
	return string(plain), nil
}
