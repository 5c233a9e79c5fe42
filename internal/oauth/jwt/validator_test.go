package jwt

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/keksclan/goMobileConnect/internal/jwk"
)

const (
	testClientID = "client-1"
	testIssuer   = "https://operator.test"
	testNonce    = "nonce-1"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func b64(b []byte) string { return base64.RawURLEncoding.EncodeToString(b) }

func rsaKey(t testing.TB, kid string) (*rsa.PrivateKey, jwk.Key) {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("rsa key: %v", err)
	}
	return priv, jwk.Key{
		Kty: jwk.KeyTypeRSA,
		Kid: kid,
		Alg: "RS256",
		N:   b64(priv.PublicKey.N.Bytes()),
		E:   b64(big.NewInt(int64(priv.PublicKey.E)).Bytes()),
	}
}

func ecKey(t *testing.T, kid string) (*ecdsa.PrivateKey, jwk.Key) {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("ec key: %v", err)
	}
	return priv, jwk.Key{
		Kty: jwk.KeyTypeEC,
		Kid: kid,
		Crv: "P-256",
		X:   b64(priv.PublicKey.X.FillBytes(make([]byte, 32))),
		Y:   b64(priv.PublicKey.Y.FillBytes(make([]byte, 32))),
	}
}

func validClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"iss":   testIssuer,
		"aud":   testClientID,
		"sub":   "subscriber",
		"nonce": testNonce,
		"iat":   testNow.Add(-time.Minute).Unix(),
		"exp":   testNow.Add(time.Hour).Unix(),
	}
}

func sign(t testing.TB, method jwt.SigningMethod, kid string, claims jwt.MapClaims, key any) string {
	t.Helper()
	tok := jwt.NewWithClaims(method, claims)
	if kid != "" {
		tok.Header["kid"] = kid
	}
	s, err := tok.SignedString(key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func TestValidateClaims(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(jwt.MapClaims)
		nonce  string
		maxAge time.Duration
		want   ValidationResult
	}{
		{"valid", func(jwt.MapClaims) {}, testNonce, time.Hour, Valid},
		{"nonce mismatch", func(c jwt.MapClaims) { c["nonce"] = "other" }, testNonce, 0, InvalidNonce},
		{"nonce not expected", func(c jwt.MapClaims) { delete(c, "nonce") }, "", 0, Valid},
		{"issuer mismatch", func(c jwt.MapClaims) { c["iss"] = "https://evil.test" }, testNonce, 0, InvalidIssuer},
		{"issuer checked before expiry", func(c jwt.MapClaims) {
			c["iss"] = "https://evil.test"
			c["exp"] = testNow.Add(-time.Hour).Unix()
		}, testNonce, 0, InvalidIssuer},
		{"audience list", func(c jwt.MapClaims) { c["aud"] = []string{"x", testClientID} }, testNonce, 0, Valid},
		{"azp only", func(c jwt.MapClaims) {
			c["aud"] = "someone-else"
			c["azp"] = testClientID
		}, testNonce, 0, Valid},
		{"neither aud nor azp", func(c jwt.MapClaims) { c["aud"] = "someone-else" }, testNonce, 0, InvalidAudAndAzp},
		{"expired", func(c jwt.MapClaims) { c["exp"] = testNow.Add(-time.Second).Unix() }, testNonce, 0, IDTokenExpired},
		{"missing exp", func(c jwt.MapClaims) { delete(c, "exp") }, testNonce, 0, IDTokenExpired},
		{"max age passed", func(c jwt.MapClaims) { c["iat"] = testNow.Add(-2 * time.Hour).Unix() }, testNonce, time.Hour, MaxAgePassed},
		{"max age disabled", func(c jwt.MapClaims) { c["iat"] = testNow.Add(-48 * time.Hour).Unix() }, testNonce, 0, Valid},
	}

	secret := []byte("0123456789abcdef0123456789abcdef")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims := validClaims()
			tt.mutate(claims)
			token := sign(t, jwt.SigningMethodHS256, "", claims, secret)
			if got := ValidateClaims(token, testClientID, testIssuer, tt.nonce, tt.maxAge, testNow); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}

	t.Run("malformed", func(t *testing.T) {
		for _, token := range []string{"garbage", "a.b.c.d", "e30.%%%.sig"} {
			if got := ValidateClaims(token, testClientID, testIssuer, "", 0, testNow); got != IDTokenMalformed {
				t.Errorf("%q: got %v, want IDTokenMalformed", token, got)
			}
		}
	})
}

func TestValidateSignature(t *testing.T) {
	rsaPriv, rsaPub := rsaKey(t, "rsa-1")
	ecPriv, ecPub := ecKey(t, "ec-1")
	secret := []byte("0123456789abcdef0123456789abcdef")
	octPub := jwk.Key{Kty: jwk.KeyTypeOct, Kid: "oct-1", K: b64(secret)}
	keyset := &jwk.Keyset{Keys: []jwk.Key{rsaPub, ecPub, octPub}}

	rsaToken := sign(t, jwt.SigningMethodRS256, "rsa-1", validClaims(), rsaPriv)

	t.Run("RS256", func(t *testing.T) {
		if got := ValidateSignature(rsaToken, keyset); got != Valid {
			t.Errorf("got %v", got)
		}
	})

	t.Run("ES256", func(t *testing.T) {
		token := sign(t, jwt.SigningMethodES256, "ec-1", validClaims(), ecPriv)
		if got := ValidateSignature(token, keyset); got != Valid {
			t.Errorf("got %v", got)
		}
	})

	t.Run("HS256", func(t *testing.T) {
		token := sign(t, jwt.SigningMethodHS256, "oct-1", validClaims(), secret)
		if got := ValidateSignature(token, keyset); got != Valid {
			t.Errorf("got %v", got)
		}
	})

	t.Run("No keyset", func(t *testing.T) {
		if got := ValidateSignature(rsaToken, nil); got != JWKSError {
			t.Errorf("got %v", got)
		}
	})

	t.Run("Unknown kid", func(t *testing.T) {
		token := sign(t, jwt.SigningMethodRS256, "rsa-2", validClaims(), rsaPriv)
		if got := ValidateSignature(token, keyset); got != NoMatchingKey {
			t.Errorf("got %v", got)
		}
	})

	t.Run("Truncated signature", func(t *testing.T) {
		token := rsaToken[:strings.LastIndex(rsaToken, ".")+1]
		if got := ValidateSignature(token, keyset); got != InvalidSignature {
			t.Errorf("got %v", got)
		}
	})

	t.Run("Altered signature", func(t *testing.T) {
		idx := strings.LastIndex(rsaToken, ".")
		sig, _ := base64.RawURLEncoding.DecodeString(rsaToken[idx+1:])
		sig[0] ^= 0xff
		token := rsaToken[:idx+1] + b64(sig)
		if got := ValidateSignature(token, keyset); got != InvalidSignature {
			t.Errorf("got %v", got)
		}
	})

	t.Run("Altered payload", func(t *testing.T) {
		parts := strings.Split(rsaToken, ".")
		claims := validClaims()
		claims["sub"] = "someone-else"
		forged := strings.Split(sign(t, jwt.SigningMethodHS256, "", claims, secret), ".")
		token := parts[0] + "." + forged[1] + "." + parts[2]
		if got := ValidateSignature(token, keyset); got != InvalidSignature {
			t.Errorf("got %v", got)
		}
	})

	t.Run("Misformed key material", func(t *testing.T) {
		broken := rsaPub
		broken.N = "%%%"
		if got := ValidateSignature(rsaToken, &jwk.Keyset{Keys: []jwk.Key{broken}}); got != KeyMisformed {
			t.Errorf("got %v", got)
		}
	})

	t.Run("Algorithm family mismatch", func(t *testing.T) {
		wrongType := jwk.Key{Kty: jwk.KeyTypeOct, Kid: "rsa-1", Alg: "RS256", K: b64(secret)}
		if got := ValidateSignature(rsaToken, &jwk.Keyset{Keys: []jwk.Key{wrongType}}); got != IncorrectAlgorithm {
			t.Errorf("got %v", got)
		}
	})

	t.Run("alg none", func(t *testing.T) {
		token := sign(t, jwt.SigningMethodNone, "", validClaims(), jwt.UnsafeAllowNoneSignatureType)
		set := &jwk.Keyset{Keys: []jwk.Key{{Kty: jwk.KeyTypeOct, Alg: "none", K: b64(secret)}}}
		if got := ValidateSignature(token+"c2ln", set); got != IncorrectAlgorithm {
			t.Errorf("got %v", got)
		}
	})

	t.Run("Unsupported algorithm", func(t *testing.T) {
		header := b64([]byte(`{"alg":"XY512","kid":"x"}`))
		token := header + "." + b64([]byte(`{}`)) + ".c2ln"
		set := &jwk.Keyset{Keys: []jwk.Key{{Kty: jwk.KeyTypeOct, Kid: "x", Alg: "XY512", K: b64(secret)}}}
		if got := ValidateSignature(token, set); got != UnsupportedAlgorithm {
			t.Errorf("got %v", got)
		}
	})
}

func TestValidateIDToken(t *testing.T) {
	priv, pub := rsaKey(t, "rsa-1")
	keyset := &jwk.Keyset{Keys: []jwk.Key{pub}}

	if got := ValidateIDToken("", testClientID, testIssuer, testNonce, 0, keyset, testNow); got != IDTokenMissing {
		t.Errorf("empty token: got %v", got)
	}

	token := sign(t, jwt.SigningMethodRS256, "rsa-1", validClaims(), priv)
	if got := ValidateIDToken(token, testClientID, testIssuer, testNonce, time.Hour, keyset, testNow); got != Valid {
		t.Errorf("valid token: got %v", got)
	}

	// claim failures win over signature failures
	if got := ValidateIDToken(token, testClientID, "https://other.test", testNonce, 0, nil, testNow); got != InvalidIssuer {
		t.Errorf("got %v, want InvalidIssuer", got)
	}
	if got := ValidateIDToken(token, testClientID, testIssuer, testNonce, 0, nil, testNow); got != JWKSError {
		t.Errorf("got %v, want JWKSError", got)
	}
}

func TestValidateAccessToken(t *testing.T) {
	tests := []struct {
		name      string
		token     string
		expiresAt time.Time
		want      ValidationResult
	}{
		{"missing", "", testNow.Add(time.Hour), AccessTokenMissing},
		{"expired", "at", testNow.Add(-time.Second), AccessTokenExpired},
		{"valid", "at", testNow.Add(time.Hour), Valid},
		{"no lifetime", "at", time.Time{}, Valid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidateAccessToken(tt.token, tt.expiresAt, testNow); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestValidationResultString(t *testing.T) {
	if InvalidAudAndAzp.String() != "invalid_aud_and_azp" {
		t.Errorf("unexpected name %q", InvalidAudAndAzp.String())
	}
	if ValidationResult(99).String() != "unknown" {
		t.Errorf("out of range result should be unknown")
	}
	if !Valid.IsValid() || IDTokenExpired.IsValid() {
		t.Errorf("IsValid mismatch")
	}
}
