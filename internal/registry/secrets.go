// internal/registry/secrets.go
package registry

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

var ErrInvalidKey = errors.New("secrets key must be 32 bytes")

// ConnectionConfig is the decrypted payload stored for database sources.
// Tables, when set, is the allowlist the workspace owner picked while
// connecting; querying is restricted to it.
type ConnectionConfig struct {
	Dialect string   `json:"dialect"`
	DSN     string   `json:"dsn"`
	Tables  []string `json:"tables,omitempty"`
}

// Decryptor recovers source connection payloads stored encrypted at rest.
type Decryptor interface {
	Decrypt(encrypted string) ([]byte, error)
}

// AESDecryptor decrypts AES-256-GCM payloads. The ciphertext format is
// base64(nonce || sealed), matching what the ingestion service writes.
type AESDecryptor struct {
	key []byte
}

func NewAESDecryptor(key []byte) (*AESDecryptor, error) {
	if len(key) != 32 {
		return nil, ErrInvalidKey
	}
	return &AESDecryptor{key: key}, nil
}

func (d *AESDecryptor) Decrypt(encrypted string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(encrypted)
	if err != nil {
		return nil, fmt.Errorf("decode ciphertext: %w", err)
	}

	block, err := aes.NewCipher(d.key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	if len(raw) < gcm.NonceSize() {
		return nil, errors.New("ciphertext shorter than nonce")
	}
	nonce, sealed := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]

	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("open ciphertext: %w", err)
	}
	return plaintext, nil
}

// Encrypt seals a payload with AES-256-GCM. Used by ingestion tooling and
// test fixtures; the pipeline itself only decrypts.
func Encrypt(key, plaintext []byte) (string, error) {
	if len(key) != 32 {
		return "", ErrInvalidKey
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

	sealed := gcm.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// DecryptConnectionConfig decrypts and decodes a database source payload.
func DecryptConnectionConfig(dec Decryptor, encrypted string) (*ConnectionConfig, error) {
	plaintext, err := dec.Decrypt(encrypted)
	if err != nil {
		return nil, err
	}

	var cfg ConnectionConfig
	if err := json.Unmarshal(plaintext, &cfg); err != nil {
		return nil, fmt.Errorf("decode connection config: %w", err)
	}
	if cfg.Dialect == "" || cfg.DSN == "" {
		return nil, errors.New("connection config missing dialect or dsn")
	}
	return &cfg, nil
}
