package jwk

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/keksclan/goMobileConnect/internal/mcerr"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

var (
	// ErrInvalidKeyset is a malformed key set document; it matches
	// mcerr.ErrInvalidResponse.
	ErrInvalidKeyset      = fmt.Errorf("%w: invalid JWKS", mcerr.ErrInvalidResponse)
	ErrKeyMisformed       = errors.New("key material misformed")
	ErrUnsupportedKeyType = errors.New("unsupported key type")
)

// Key types as they appear in the "kty" member.
const (
	KeyTypeRSA = "RSA"
	KeyTypeEC  = "EC"
	KeyTypeOct = "oct"
)

// Key is a single JSON Web Key. Only the members used for signature
// verification are kept.
type Key struct {
	Kty string `json:"kty"`
	Use string `json:"use,omitempty"`
	Alg string `json:"alg,omitempty"`
	Kid string `json:"kid,omitempty"`

	// RSA
	N string `json:"n,omitempty"`
	E string `json:"e,omitempty"`

	// EC
	Crv string `json:"crv,omitempty"`
	X   string `json:"x,omitempty"`
	Y   string `json:"y,omitempty"`

	// Symmetric
	K string `json:"k,omitempty"`
}

// Keyset is a fetched JWKS.
type Keyset struct {
	Keys      []Key     `json:"keys"`
	FetchedAt time.Time `json:"-"`
	Expiry    time.Time `json:"-"`
}

// ParseKeyset decodes a JWKS document. Individual key material is not
// checked here; a broken key only fails when it is used.
func ParseKeyset(data []byte) (*Keyset, error) {
	var raw struct {
		Keys []Key `json:"keys"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKeyset, err)
	}
	if raw.Keys == nil {
		return nil, fmt.Errorf("%w: missing keys member", ErrInvalidKeyset)
	}
	return &Keyset{Keys: raw.Keys}, nil
}

// Clone returns a copy whose Keys slice is not shared.
func (s *Keyset) Clone() *Keyset {
	if s == nil {
		return nil
	}
	out := *s
	out.Keys = append([]Key(nil), s.Keys...)
	return &out
}

// HasExpired reports whether the keyset is past its cache expiry.
func (s *Keyset) HasExpired(now time.Time) bool {
	return !s.Expiry.IsZero() && !now.Before(s.Expiry)
}

// Find returns the first key matching kid and alg. An empty kid only
// matches a key without one. A key without "alg" matches any algorithm of
// its own family.
func (s *Keyset) Find(kid, alg string) (Key, bool) {
	if s == nil {
		return Key{}, false
	}
	for _, k := range s.Keys {
		if k.Kid != kid {
			continue
		}
		if k.Alg != "" {
			if k.Alg == alg {
				return k, true
			}
			continue
		}
		if KeyTypeForAlg(alg) == k.Kty {
			return k, true
		}
	}
	return Key{}, false
}

// KeyTypeForAlg maps a JWS algorithm to the key type that can verify it.
// Unknown algorithms map to "".
func KeyTypeForAlg(alg string) string {
	switch {
	case strings.HasPrefix(alg, "RS"), strings.HasPrefix(alg, "PS"):
		return KeyTypeRSA
	case strings.HasPrefix(alg, "ES"):
		return KeyTypeEC
	case strings.HasPrefix(alg, "HS"):
		return KeyTypeOct
	default:
		return ""
	}
}

// VerificationKey rebuilds the crypto key for k: *rsa.PublicKey,
// *ecdsa.PublicKey or []byte for symmetric keys.
func (k Key) VerificationKey() (any, error) {
	switch k.Kty {
	case KeyTypeOct:
		secret, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(k.K, "="))
		if err != nil || len(secret) == 0 {
			return nil, fmt.Errorf("%w: symmetric key", ErrKeyMisformed)
		}
		return secret, nil
	case KeyTypeRSA, KeyTypeEC:
		data, err := json.Marshal(k)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrKeyMisformed, err)
		}
		parsed, err := jwk.ParseKey(data)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrKeyMisformed, err)
		}
		var raw any
		if err := parsed.Raw(&raw); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrKeyMisformed, err)
		}
		return raw, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedKeyType, k.Kty)
	}
}
