package jwt

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/keksclan/goMobileConnect/internal/jwk"
)

// ValidationResult is the outcome of a token check. Valid is the only
// success value; every other value names the first check that failed.
type ValidationResult int

const (
	Valid ValidationResult = iota
	IDTokenMissing
	IDTokenMalformed
	InvalidNonce
	InvalidIssuer
	InvalidAudAndAzp
	IDTokenExpired
	MaxAgePassed
	JWKSError
	NoMatchingKey
	InvalidSignature
	KeyMisformed
	IncorrectAlgorithm
	UnsupportedAlgorithm
	AccessTokenMissing
	AccessTokenExpired
)

var resultNames = [...]string{
	Valid:                "valid",
	IDTokenMissing:       "id_token_missing",
	IDTokenMalformed:     "id_token_malformed",
	InvalidNonce:         "invalid_nonce",
	InvalidIssuer:        "invalid_issuer",
	InvalidAudAndAzp:     "invalid_aud_and_azp",
	IDTokenExpired:       "id_token_expired",
	MaxAgePassed:         "max_age_passed",
	JWKSError:            "jwks_error",
	NoMatchingKey:        "no_matching_key",
	InvalidSignature:     "invalid_signature",
	KeyMisformed:         "key_misformed",
	IncorrectAlgorithm:   "incorrect_algorithm",
	UnsupportedAlgorithm: "unsupported_algorithm",
	AccessTokenMissing:   "access_token_missing",
	AccessTokenExpired:   "access_token_expired",
}

func (r ValidationResult) String() string {
	if r >= 0 && int(r) < len(resultNames) {
		return resultNames[r]
	}
	return "unknown"
}

// IsValid reports whether r is the success value.
func (r ValidationResult) IsValid() bool { return r == Valid }

// ValidateClaims checks the claims of an ID token. Identity checks (nonce,
// issuer, audience) run before time checks. maxAge <= 0 disables the
// max-age check.
func ValidateClaims(idToken, clientID, issuer, expectedNonce string, maxAge time.Duration, now time.Time) ValidationResult {
	claims, ok := decodeClaims(idToken)
	if !ok {
		return IDTokenMalformed
	}

	if expectedNonce != "" {
		nonce, _ := claims["nonce"].(string)
		if nonce != expectedNonce {
			return InvalidNonce
		}
	}

	iss, err := claims.GetIssuer()
	if err != nil || iss != issuer {
		return InvalidIssuer
	}

	if !audienceMatches(claims, clientID) {
		return InvalidAudAndAzp
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil || !now.Before(exp.Time) {
		return IDTokenExpired
	}

	if maxAge > 0 {
		iat, err := claims.GetIssuedAt()
		if err != nil || iat == nil || iat.Add(maxAge).Before(now) {
			return MaxAgePassed
		}
	}

	return Valid
}

// ValidateSignature verifies the token signature with a matching key from
// keyset.
func ValidateSignature(idToken string, keyset *jwk.Keyset) ValidationResult {
	if keyset == nil {
		return JWKSError
	}

	header, ok := decodeHeader(idToken)
	if !ok {
		return IDTokenMalformed
	}
	alg, _ := header["alg"].(string)
	kid, _ := header["kid"].(string)

	key, ok := keyset.Find(kid, alg)
	if !ok {
		return NoMatchingKey
	}

	idx := strings.LastIndex(idToken, ".")
	if idx < 0 || idx == len(idToken)-1 {
		return InvalidSignature
	}
	signingString, encodedSig := idToken[:idx], idToken[idx+1:]

	if alg == "" || alg == jwt.SigningMethodNone.Alg() {
		return IncorrectAlgorithm
	}
	method := jwt.GetSigningMethod(alg)
	if method == nil || jwk.KeyTypeForAlg(alg) == "" {
		return UnsupportedAlgorithm
	}
	if jwk.KeyTypeForAlg(alg) != key.Kty {
		return IncorrectAlgorithm
	}

	vk, err := key.VerificationKey()
	if err != nil {
		return KeyMisformed
	}
	sig, err := base64.RawURLEncoding.DecodeString(encodedSig)
	if err != nil {
		return InvalidSignature
	}
	if err := method.Verify(signingString, sig, vk); err != nil {
		if errors.Is(err, jwt.ErrInvalidKeyType) {
			return KeyMisformed
		}
		return InvalidSignature
	}
	return Valid
}

// ValidateIDToken runs ValidateClaims and, when the claims hold,
// ValidateSignature.
func ValidateIDToken(idToken, clientID, issuer, expectedNonce string, maxAge time.Duration, keyset *jwk.Keyset, now time.Time) ValidationResult {
	if idToken == "" {
		return IDTokenMissing
	}
	if r := ValidateClaims(idToken, clientID, issuer, expectedNonce, maxAge, now); r != Valid {
		return r
	}
	return ValidateSignature(idToken, keyset)
}

// ValidateAccessToken checks presence and expiry. A zero expiresAt means
// the issuer stated no lifetime.
func ValidateAccessToken(accessToken string, expiresAt, now time.Time) ValidationResult {
	if accessToken == "" {
		return AccessTokenMissing
	}
	if !expiresAt.IsZero() && expiresAt.Before(now) {
		return AccessTokenExpired
	}
	return Valid
}

// DecodeClaims returns the unverified claims of token, or false when it
// cannot be decoded.
func DecodeClaims(token string) (map[string]any, bool) {
	claims, ok := decodeClaims(token)
	if !ok {
		return nil, false
	}
	return map[string]any(claims), true
}

func decodeClaims(token string) (jwt.MapClaims, bool) {
	parts := strings.Split(token, ".")
	if len(parts) < 2 || len(parts) > 3 {
		return nil, false
	}
	claims := jwt.MapClaims{}
	if !decodeSegment(parts[1], &claims) {
		return nil, false
	}
	return claims, true
}

func decodeHeader(token string) (map[string]any, bool) {
	parts := strings.Split(token, ".")
	if len(parts) < 2 || len(parts) > 3 {
		return nil, false
	}
	header := map[string]any{}
	if !decodeSegment(parts[0], &header) {
		return nil, false
	}
	return header, true
}

func decodeSegment(seg string, v any) bool {
	data, err := jwt.NewParser().DecodeSegment(seg)
	if err != nil {
		return false
	}
	return json.Unmarshal(data, v) == nil
}

func audienceMatches(claims jwt.MapClaims, clientID string) bool {
	if aud, err := claims.GetAudience(); err == nil {
		for _, a := range aud {
			if a == clientID {
				return true
			}
		}
	}
	azp, _ := claims["azp"].(string)
	return azp != "" && azp == clientID
}
