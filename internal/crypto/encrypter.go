// Package crypto holds the message encryption capability applied at the dispatch boundary.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"io"
)

// Encrypter transforms alert messages before they leave the service and reverses
// the transform for responders.
type Encrypter interface {
	Encrypt(plain string) (string, error)
	Decrypt(cipherText string) (string, error)
}

// Noop is the identity Encrypter. It provides no confidentiality.
type Noop struct{}

func (Noop) Encrypt(plain string) (string, error)      { return plain, nil }
func (Noop) Decrypt(cipherText string) (string, error) { return cipherText, nil }

// AESGCM seals messages with AES-256-GCM and a random nonce, base64 encoded.
type AESGCM struct {
	gcm cipher.AEAD
}

// NewAESGCM creates an AES-256-GCM Encrypter. key must be 32 bytes.
func NewAESGCM(key []byte) (*AESGCM, error) {
	if len(key) != 32 {
		return nil, errors.New("encryption key must be 32 bytes")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &AESGCM{gcm: gcm}, nil
}

func (e *AESGCM) Encrypt(plain string) (string, error) {
	nonce := make([]byte, e.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	sealed := e.gcm.Seal(nonce, nonce, []byte(plain), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (e *AESGCM) Decrypt(cipherText string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(cipherText)
	if err != nil {
		return "", err
	}
	if len(data) < e.gcm.NonceSize() {
		return "", errors.New("ciphertext too short")
	}
	nonce, sealed := data[:e.gcm.NonceSize()], data[e.gcm.NonceSize():]
	plain, err := e.gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

// FromKey returns AESGCM when key is set and Noop otherwise. A base64 key is
// accepted when it decodes to 32 bytes.
func FromKey(key string) (Encrypter, error) {
	if key == "" {
		return Noop{}, nil
	}
	raw := []byte(key)
	if decoded, err := base64.StdEncoding.DecodeString(key); err == nil && len(decoded) == 32 {
		raw = decoded
	}
	return NewAESGCM(raw)
}
