// Package secrets encrypts connector credentials at rest with
// AES-256-GCM. The envelope format is three base64 fields joined by
// colons: iv, auth tag, ciphertext.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/crosswire-ai/crosswire/internal/model"
)

const nonceSize = 12

var (
	ErrBadEnvelope = errors.New("secrets: malformed envelope")
	ErrDecrypt     = errors.New("secrets: decryption failed")
)

// Box seals and opens credential payloads with a single symmetric key.
type Box struct {
	aead cipher.AEAD
}

// NewBox derives a 256-bit key from the passphrase via SHA-256. Any
// non-empty passphrase is accepted; key rotation is handled by running
// two boxes side by side during migration.
func NewBox(passphrase string) (*Box, error) {
	if passphrase == "" {
		return nil, errors.New("secrets: empty passphrase")
	}
	key := sha256.Sum256([]byte(passphrase))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("secrets: init cipher: %w", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, nonceSize)
	if err != nil {
		return nil, fmt.Errorf("secrets: init gcm: %w", err)
	}
	return &Box{aead: aead}, nil
}

// Seal encrypts plaintext into the iv:tag:ciphertext envelope.
func (b *Box) Seal(plaintext []byte) (string, error) {
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("secrets: nonce: %w", err)
	}
	sealed := b.aead.Seal(nil, nonce, plaintext, nil)

	tagLen := b.aead.Overhead()
	ct := sealed[:len(sealed)-tagLen]
	tag := sealed[len(sealed)-tagLen:]

	enc := base64.StdEncoding
	return strings.Join([]string{
		enc.EncodeToString(nonce),
		enc.EncodeToString(tag),
		enc.EncodeToString(ct),
	}, ":"), nil
}

// Open decrypts an envelope produced by Seal.
func (b *Box) Open(envelope string) ([]byte, error) {
	parts := strings.Split(envelope, ":")
	if len(parts) != 3 {
		return nil, ErrBadEnvelope
	}
	enc := base64.StdEncoding
	nonce, err := enc.DecodeString(parts[0])
	if err != nil || len(nonce) != nonceSize {
		return nil, ErrBadEnvelope
	}
	tag, err := enc.DecodeString(parts[1])
	if err != nil || len(tag) != b.aead.Overhead() {
		return nil, ErrBadEnvelope
	}
	ct, err := enc.DecodeString(parts[2])
	if err != nil {
		return nil, ErrBadEnvelope
	}

	plaintext, err := b.aead.Open(nil, nonce, append(ct, tag...), nil)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}

// SealCredentials serializes and encrypts a credential set.
func (b *Box) SealCredentials(creds model.Credentials) (string, error) {
	raw, err := json.Marshal(creds)
	if err != nil {
		return "", fmt.Errorf("secrets: marshal credentials: %w", err)
	}
	return b.Seal(raw)
}

// OpenCredentials decrypts and deserializes a credential set.
func (b *Box) OpenCredentials(envelope string) (model.Credentials, error) {
	var creds model.Credentials
	raw, err := b.Open(envelope)
	if err != nil {
		return creds, err
	}
	if err := json.Unmarshal(raw, &creds); err != nil {
		return creds, fmt.Errorf("secrets: unmarshal credentials: %w", err)
	}
	return creds, nil
}
