package postgres

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/custodia-labs/storesync/internal/core/domain"
)

const (
	// blobVersion prefixes every sealed blob so the format can change later
	blobVersion = 0x02

	nonceSize = 12
	keySize   = 32
)

var (
	ErrInvalidKey         = errors.New("encryption key must be 32 bytes (64 hex characters)")
	ErrInvalidBlob        = errors.New("sealed credentials are malformed")
	ErrUnsupportedVersion = errors.New("unsupported credential blob version")
	ErrDecryptionFailed   = errors.New("failed to open sealed credentials")
)

// CredentialSealer encrypts tenant credentials with AES-256-GCM.
// The tenant ID is bound as additional data, so a blob copied onto another
// tenant row fails to open.
//
// Blob layout: version(1) || nonce(12) || ciphertext
type CredentialSealer struct {
	aead cipher.AEAD
}

// ParseEncryptionKey decodes a hex encoded 32-byte key
func ParseEncryptionKey(s string) ([]byte, error) {
	key, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if len(key) != keySize {
		return nil, fmt.Errorf("%w: got %d bytes", ErrInvalidKey, len(key))
	}
	return key, nil
}

// NewCredentialSealer creates a sealer from a raw 32-byte key
func NewCredentialSealer(key []byte) (*CredentialSealer, error) {
	if len(key) != keySize {
		return nil, fmt.Errorf("%w: got %d bytes", ErrInvalidKey, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create AES cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return &CredentialSealer{aead: aead}, nil
}

// Seal encrypts creds for tenantID
func (c *CredentialSealer) Seal(tenantID string, creds *domain.TenantCredentials) ([]byte, error) {
	plaintext, err := json.Marshal(creds)
	if err != nil {
		return nil, fmt.Errorf("marshal credentials: %w", err)
	}

	blob := make([]byte, 1+nonceSize, 1+nonceSize+len(plaintext)+c.aead.Overhead())
	blob[0] = blobVersion
	if _, err := rand.Read(blob[1:]); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return c.aead.Seal(blob, blob[1:], plaintext, []byte(tenantID)), nil
}

// Open decrypts a blob sealed for tenantID
func (c *CredentialSealer) Open(tenantID string, blob []byte) (*domain.TenantCredentials, error) {
	if len(blob) < 1+nonceSize+c.aead.Overhead() {
		return nil, ErrInvalidBlob
	}
	if blob[0] != blobVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, blob[0])
	}

	plaintext, err := c.aead.Open(nil, blob[1:1+nonceSize], blob[1+nonceSize:], []byte(tenantID))
	if err != nil {
		return nil, ErrDecryptionFailed
	}

	var creds domain.TenantCredentials
	if err := json.Unmarshal(plaintext, &creds); err != nil {
		return nil, fmt.Errorf("unmarshal credentials: %w", err)
	}
	return &creds, nil
}
