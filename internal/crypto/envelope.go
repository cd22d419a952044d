// Package crypto implements envelope encryption for message bodies: a master
// key (KEK) wraps per-conversation data keys (DEK), and DEKs encrypt message
// plaintext. Wrapped DEKs are the only thing the master key ever touches.
package crypto

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

const (
	// KeySize is the size of both the master key and data keys.
	KeySize = chacha20poly1305.KeySize
	// NonceSize is 96 bits, fresh random per encryption call.
	NonceSize = chacha20poly1305.NonceSize
	// TagSize is the AEAD authentication tag size.
	TagSize = chacha20poly1305.Overhead

	packedSeparator = "."
)

var (
	// ErrConfiguration indicates a missing or malformed master key.
	ErrConfiguration = errors.New("crypto: configuration error")
	// ErrIntegrity indicates AEAD authentication failure: the ciphertext,
	// nonce, or tag was tampered with, or the wrong key was used. Callers
	// must abort; this is never "empty content".
	ErrIntegrity = errors.New("crypto: integrity error")
)

// Service wraps and unwraps data keys under the master key and encrypts and
// decrypts payloads under data keys. The master key is loaded once at process
// start; unwrapped data keys must not be cached across operations.
type Service struct {
	kek []byte
}

// NewService builds a Service from a base64-encoded 256-bit master key.
func NewService(masterKeyB64 string) (*Service, error) {
	masterKeyB64 = strings.TrimSpace(masterKeyB64)
	if masterKeyB64 == "" {
		return nil, fmt.Errorf("%w: master key is not set", ErrConfiguration)
	}
	kek, err := base64.StdEncoding.DecodeString(masterKeyB64)
	if err != nil {
		return nil, fmt.Errorf("%w: master key is not valid base64", ErrConfiguration)
	}
	if len(kek) != KeySize {
		return nil, fmt.Errorf("%w: master key must be %d bytes, got %d", ErrConfiguration, KeySize, len(kek))
	}
	return &Service{kek: kek}, nil
}

// NewDataKey generates a fresh random 256-bit data key.
func (s *Service) NewDataKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("crypto: failed to generate data key: %w", err)
	}
	return key, nil
}

// Encrypt seals plaintext under the given data key with a fresh random nonce.
func (s *Service) Encrypt(plaintext, key []byte) (ciphertext, nonce, tag []byte, err error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, nil, nil, err
	}

	nonce = make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, nil, fmt.Errorf("crypto: failed to generate nonce: %w", err)
	}

	sealed := aead.Seal(nil, nonce, plaintext, nil)
	split := len(sealed) - TagSize
	return sealed[:split], nonce, sealed[split:], nil
}

// Decrypt opens ciphertext produced by Encrypt. Tampering with any of the
// three segments, or using the wrong key, fails with ErrIntegrity.
func (s *Service) Decrypt(ciphertext, nonce, tag, key []byte) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	if len(nonce) != NonceSize {
		return nil, fmt.Errorf("%w: nonce must be %d bytes", ErrIntegrity, NonceSize)
	}
	if len(tag) != TagSize {
		return nil, fmt.Errorf("%w: tag must be %d bytes", ErrIntegrity, TagSize)
	}

	sealed := make([]byte, 0, len(ciphertext)+len(tag))
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: authentication failed", ErrIntegrity)
	}
	return plaintext, nil
}

// WrapKey encrypts a raw data key under the master key. The packed format is
// base64(nonce) "." base64(tag) "." base64(ciphertext) and is opaque to
// callers: only UnwrapKey understands it.
func (s *Service) WrapKey(raw []byte) (string, error) {
	if len(raw) != KeySize {
		return "", fmt.Errorf("crypto: data key must be %d bytes, got %d", KeySize, len(raw))
	}
	ciphertext, nonce, tag, err := s.Encrypt(raw, s.kek)
	if err != nil {
		return "", err
	}
	return strings.Join([]string{
		base64.StdEncoding.EncodeToString(nonce),
		base64.StdEncoding.EncodeToString(tag),
		base64.StdEncoding.EncodeToString(ciphertext),
	}, packedSeparator), nil
}

// UnwrapKey decrypts a packed wrapped data key under the master key.
func (s *Service) UnwrapKey(packed string) ([]byte, error) {
	parts := strings.Split(packed, packedSeparator)
	if len(parts) != 3 {
		return nil, fmt.Errorf("%w: malformed wrapped key", ErrIntegrity)
	}
	nonce, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, fmt.Errorf("%w: malformed wrapped key nonce", ErrIntegrity)
	}
	tag, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("%w: malformed wrapped key tag", ErrIntegrity)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, fmt.Errorf("%w: malformed wrapped key ciphertext", ErrIntegrity)
	}

	raw, err := s.Decrypt(ciphertext, nonce, tag, s.kek)
	if err != nil {
		return nil, err
	}
	if len(raw) != KeySize {
		return nil, fmt.Errorf("%w: unwrapped key has unexpected size", ErrIntegrity)
	}
	return raw, nil
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("crypto: key must be %d bytes, got %d", KeySize, len(key))
	}
	c, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: failed to initialize cipher: %w", err)
	}
	return c, nil
}
