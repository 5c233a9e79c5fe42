// Package sessiontoken seals flow state into an opaque, tamper-evident
// token that a web host can hand back on its next call.
package sessiontoken

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/secretbox"
)

// KeySize is the required sealing key length.
const KeySize = 32

const nonceSize = 24

var (
	ErrInvalidKey   = errors.New("session token key must be 32 bytes")
	ErrInvalidToken = errors.New("invalid session token")
)

// Sealer encrypts and authenticates values with NaCl secretbox.
//
// Concurrency: safe for concurrent use.
type Sealer struct {
	key [KeySize]byte
}

func NewSealer(key []byte) (*Sealer, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}
	s := &Sealer{}
	copy(s.key[:], key)
	return s, nil
}

// GenerateKey returns a random sealing key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, err
	}
	return key, nil
}

// Seal encodes v as JSON and returns the sealed, base64url token.
func (s *Sealer) Seal(v any) (string, error) {
	plain, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode session: %w", err)
	}
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("session nonce: %w", err)
	}
	sealed := secretbox.Seal(nonce[:], plain, &nonce, &s.key)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Open verifies token and decodes it into v.
func (s *Sealer) Open(token string, v any) error {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil || len(raw) < nonceSize+secretbox.Overhead {
		return ErrInvalidToken
	}
	var nonce [nonceSize]byte
	copy(nonce[:], raw[:nonceSize])
	plain, ok := secretbox.Open(nil, raw[nonceSize:], &nonce, &s.key)
	if !ok {
		return ErrInvalidToken
	}
	if err := json.Unmarshal(plain, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return nil
}
