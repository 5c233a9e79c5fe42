package authentication

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/keksclan/goMobileConnect/internal/mcerr"
	jwtv "github.com/keksclan/goMobileConnect/internal/oauth/jwt"
	"github.com/keksclan/goMobileConnect/internal/rest"
)

// ErrorResponse is an OAuth error reported by the operator.
type ErrorResponse struct {
	Error       string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

// TokenData is a successful token endpoint body.
type TokenData struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type,omitempty"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

func (d *TokenData) UnmarshalJSON(b []byte) error {
	type plain TokenData
	var raw struct {
		plain
		ExpiresIn json.Number `json:"expires_in,omitempty"`
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	*d = TokenData(raw.plain)
	if raw.ExpiresIn != "" {
		n, err := raw.ExpiresIn.Int64()
		if err != nil {
			f, ferr := raw.ExpiresIn.Float64()
			if ferr != nil {
				return fmt.Errorf("expires_in: %w", err)
			}
			n = int64(f)
		}
		d.ExpiresIn = n
	}
	return nil
}

// TokenResponse is the outcome of a code exchange. Exactly one of Data and
// Error is set.
type TokenResponse struct {
	StatusCode int            `json:"status_code"`
	Headers    []rest.Header  `json:"headers,omitempty"`
	ReceivedAt time.Time      `json:"received_at"`
	Data       *TokenData     `json:"data,omitempty"`
	Error      *ErrorResponse `json:"error,omitempty"`
}

// ExpiresAt is when the access token lapses, or zero if the operator gave
// no lifetime.
func (t *TokenResponse) ExpiresAt() time.Time {
	if t == nil || t.Data == nil || t.Data.ExpiresIn <= 0 {
		return time.Time{}
	}
	return t.ReceivedAt.Add(time.Duration(t.Data.ExpiresIn) * time.Second)
}

// RequestToken exchanges code at tokenURL. Operator-side failures come back
// as TokenResponse.Error; only transport failures and unreadable success
// bodies are returned as errors.
func (s *Service) RequestToken(ctx context.Context, clientID, clientSecret, tokenURL, redirectURL, code string) (*TokenResponse, error) {
	switch {
	case clientID == "":
		return nil, fmt.Errorf("%w: client id is required", mcerr.ErrInvalidArgument)
	case clientSecret == "":
		return nil, fmt.Errorf("%w: client secret is required", mcerr.ErrInvalidArgument)
	case tokenURL == "":
		return nil, fmt.Errorf("%w: token url is required", mcerr.ErrInvalidArgument)
	case redirectURL == "":
		return nil, fmt.Errorf("%w: redirect url is required", mcerr.ErrInvalidArgument)
	case code == "":
		return nil, fmt.Errorf("%w: code is required", mcerr.ErrInvalidArgument)
	}

	form := []rest.KeyValue{
		{Key: "grant_type", Value: "authorization_code"},
		{Key: "code", Value: code},
		{Key: "redirect_uri", Value: redirectURL},
	}
	headers := []rest.Header{{Name: "Accept", Value: "application/json"}}
	raw, err := s.rest.PostForm(ctx, tokenURL, rest.Basic(clientID, clientSecret), form, headers, nil)
	if err != nil {
		var re *rest.RequestError
		if errors.As(err, &re) && re.StatusCode != 0 {
			s.logger.Info("token request rejected", "status", re.StatusCode)
			return &TokenResponse{
				StatusCode: re.StatusCode,
				Headers:    re.Headers,
				ReceivedAt: s.now(),
				Error:      errorFromBody(re.StatusCode, re.Body),
			}, nil
		}
		return nil, fmt.Errorf("token request: %w", err)
	}

	resp := &TokenResponse{StatusCode: raw.StatusCode, Headers: raw.Headers, ReceivedAt: s.now()}
	var e ErrorResponse
	if json.Unmarshal(raw.Body, &e) == nil && e.Error != "" {
		resp.Error = &e
		return resp, nil
	}
	var data TokenData
	if err := json.Unmarshal(raw.Body, &data); err != nil {
		return nil, fmt.Errorf("%w: token body: %v", mcerr.ErrInvalidResponse, err)
	}
	resp.Data = &data
	return resp, nil
}

func errorFromBody(status int, body []byte) *ErrorResponse {
	var e ErrorResponse
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		return &e
	}
	return &ErrorResponse{Error: "http_failure", Description: "token endpoint returned status " + strconv.Itoa(status)}
}

// Validation holds what an ID token is checked against.
type Validation struct {
	ClientID string
	Issuer   string
	Nonce    string
	MaxAge   time.Duration
	JWKSURL  string
}

// ValidateTokenResponse checks the ID token and then the access token of a
// successful exchange. A missing key set URL yields JWKSError; a key set
// that cannot be fetched or parsed yields JWKSError together with the
// fetch error, which keeps the transport details.
func (s *Service) ValidateTokenResponse(ctx context.Context, resp *TokenResponse, v Validation) (jwtv.ValidationResult, error) {
	if resp == nil || resp.Data == nil {
		return jwtv.IDTokenMissing, nil
	}
	now := s.now()
	// Claims are checked before the key set is fetched.
	if resp.Data.IDToken == "" {
		return jwtv.IDTokenMissing, nil
	}
	if r := jwtv.ValidateClaims(resp.Data.IDToken, v.ClientID, v.Issuer, v.Nonce, v.MaxAge, now); r != jwtv.Valid {
		return r, nil
	}
	if s.keys == nil || v.JWKSURL == "" {
		return jwtv.JWKSError, nil
	}
	keyset, err := s.keys.RetrieveKeyset(ctx, v.JWKSURL)
	if err != nil {
		s.logger.Warn("jwks retrieval failed", "url", v.JWKSURL, "error", err)
		return jwtv.JWKSError, fmt.Errorf("jwks %s: %w", v.JWKSURL, err)
	}
	if r := jwtv.ValidateSignature(resp.Data.IDToken, keyset); r != jwtv.Valid {
		return r, nil
	}
	return jwtv.ValidateAccessToken(resp.Data.AccessToken, resp.ExpiresAt(), now), nil
}

// RequestUserInfo fetches the userinfo document with accessToken.
func (s *Service) RequestUserInfo(ctx context.Context, userInfoURL, accessToken string) (map[string]any, error) {
	if userInfoURL == "" {
		return nil, fmt.Errorf("%w: userinfo url is required", mcerr.ErrInvalidArgument)
	}
	if accessToken == "" {
		return nil, fmt.Errorf("%w: access token is required", mcerr.ErrInvalidArgument)
	}
	raw, err := s.rest.Get(ctx, userInfoURL, rest.Bearer(accessToken), []rest.Header{{Name: "Accept", Value: "application/json"}}, nil)
	if err != nil {
		return nil, fmt.Errorf("userinfo request: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw.Body))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil || doc == nil {
		return nil, fmt.Errorf("%w: userinfo body", mcerr.ErrInvalidResponse)
	}
	return doc, nil
}
