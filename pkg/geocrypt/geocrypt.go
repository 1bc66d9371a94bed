// Package geocrypt encrypts geolocation payloads with AES-256-GCM before
// they are persisted alongside attendance records. The key comes from
// environment configuration; outside production a deterministic fallback is
// derived so local development works without provisioning secrets.
package geocrypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"go.uber.org/zap"
)

const (
	nonceSize   = 12
	tagSize     = 16
	// EnvelopeVersion tags ciphertexts so the format can evolve.
	EnvelopeVersion = 1
)

// Envelope is the stored form of an encrypted location payload. All byte
// fields are base64 encoded.
type Envelope struct {
	Ciphertext string `json:"ciphertext"`
	IV         string `json:"iv"`
	AuthTag    string `json:"auth_tag"`
	Version    int    `json:"version"`
}

// Codec seals and opens location envelopes with a fixed 256-bit key.
type Codec struct {
	aead cipher.AEAD
}

// New builds a codec from a 64-character hex key. In production the key is
// required; elsewhere a deterministic development key is derived and a loud
// warning is emitted.
func New(keyHex, env string, logger *zap.Logger) (*Codec, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var key []byte
	switch {
	case keyHex != "":
		decoded, err := hex.DecodeString(keyHex)
		if err != nil {
			return nil, fmt.Errorf("geo encryption key is not valid hex: %w", err)
		}
		if len(decoded) != 32 {
			return nil, fmt.Errorf("geo encryption key must be 32 bytes, got %d", len(decoded))
		}
		key = decoded
	case env == "production":
		return nil, fmt.Errorf("GEO_ENCRYPTION_KEY is required in production")
	default:
		sum := sha256.Sum256([]byte("clined-attendance-dev-geolocation-key"))
		key = sum[:]
		logger.Warn("GEO_ENCRYPTION_KEY not set, using insecure development key",
			zap.String("env", env))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}

	return &Codec{aead: aead}, nil
}

// Encrypt seals plaintext into an envelope with a fresh random nonce.
func (c *Codec) Encrypt(plaintext string) (*Envelope, error) {
	if plaintext == "" {
		return nil, fmt.Errorf("plaintext cannot be empty")
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	sealed := c.aead.Seal(nil, nonce, []byte(plaintext), nil)
	split := len(sealed) - tagSize

	return &Envelope{
		Ciphertext: base64.StdEncoding.EncodeToString(sealed[:split]),
		IV:         base64.StdEncoding.EncodeToString(nonce),
		AuthTag:    base64.StdEncoding.EncodeToString(sealed[split:]),
		Version:    EnvelopeVersion,
	}, nil
}

// Decrypt opens an envelope produced by Encrypt, verifying its auth tag.
func (c *Codec) Decrypt(env *Envelope) (string, error) {
	if env == nil {
		return "", fmt.Errorf("envelope is nil")
	}
	if env.Version != EnvelopeVersion {
		return "", fmt.Errorf("unsupported envelope version %d", env.Version)
	}

	nonce, err := base64.StdEncoding.DecodeString(env.IV)
	if err != nil {
		return "", fmt.Errorf("decode iv: %w", err)
	}
	if len(nonce) != nonceSize {
		return "", fmt.Errorf("iv must be %d bytes, got %d", nonceSize, len(nonce))
	}
	ciphertext, err := base64.StdEncoding.DecodeString(env.Ciphertext)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}
	tag, err := base64.StdEncoding.DecodeString(env.AuthTag)
	if err != nil {
		return "", fmt.Errorf("decode auth tag: %w", err)
	}

	sealed := append(ciphertext, tag...)
	plaintext, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: authentication failed or corrupted data: %w", err)
	}
	return string(plaintext), nil
}
