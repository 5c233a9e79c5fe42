package discovery

import (
	"fmt"
	"time"

	"github.com/keksclan/goMobileConnect/internal/mcerr"
	"github.com/keksclan/goMobileConnect/internal/rest"
)

// Link relations found in an identified discovery payload.
const (
	RelAuthorization       = "authorization"
	RelToken               = "token"
	RelUserInfo            = "userinfo"
	RelPremiumInfo         = "premiuminfo"
	RelJWKS                = "jwks"
	RelOpenIDConfiguration = "openid-configuration"
	RelIssuer              = "issuer"
	RelOperatorSelection   = "operatorSelection"
)

// fieldSubscriberID holds the encrypted MSISDN of the subscriber a
// discovery call identified.
const fieldSubscriberID = "subscriber_id"

// Header is an ordered response header.
type Header = rest.Header

// ErrorResponse is an error reported by the discovery service.
type ErrorResponse struct {
	Error       string `json:"error"`
	Description string `json:"description,omitempty"`
}

// OperatorURLs are the operator endpoints of an identified result.
type OperatorURLs struct {
	AuthorizationURL    string
	TokenURL            string
	UserInfoURL         string
	PremiumInfoURL      string
	JWKSURL             string
	ProviderMetadataURL string
	IssuerURL           string
}

// Response is the normalised outcome of a discovery call or a cache hit.
// A zero Expiry means the result carries none (not identified or error).
type Response struct {
	Cached           bool           `json:"cached"`
	Expiry           time.Time      `json:"expiry"`
	StatusCode       int            `json:"status_code"`
	Headers          []Header       `json:"headers,omitempty"`
	Payload          Document       `json:"payload,omitempty"`
	ProviderMetadata Document       `json:"provider_metadata,omitempty"`
	Error            *ErrorResponse `json:"error,omitempty"`
}

// Clone returns a deep copy of r.
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}
	out := *r
	out.Headers = append([]Header(nil), r.Headers...)
	out.Payload = r.Payload.Clone()
	out.ProviderMetadata = r.ProviderMetadata.Clone()
	if r.Error != nil {
		e := *r.Error
		out.Error = &e
	}
	return &out
}

// HasExpired reports whether the result is past its expiry. Results
// without one never expire.
func (r *Response) HasExpired(now time.Time) bool {
	return r != nil && !r.Expiry.IsZero() && !now.Before(r.Expiry)
}

// IsIdentified reports whether the payload names an operator.
func (r *Response) IsIdentified() bool {
	return r != nil && r.Error == nil && len(r.operatorLinks()) > 0
}

func (r *Response) operatorLinks() []link {
	return links(r.Payload.Array("response", "apis", "operatorid", "link"))
}

// OperatorURLs collects operator endpoints by link relation.
func (r *Response) OperatorURLs() OperatorURLs {
	var u OperatorURLs
	if r == nil {
		return u
	}
	for _, l := range r.operatorLinks() {
		switch l.Rel {
		case RelAuthorization:
			u.AuthorizationURL = l.Href
		case RelToken:
			u.TokenURL = l.Href
		case RelUserInfo:
			u.UserInfoURL = l.Href
		case RelPremiumInfo:
			u.PremiumInfoURL = l.Href
		case RelJWKS:
			u.JWKSURL = l.Href
		case RelOpenIDConfiguration:
			u.ProviderMetadataURL = l.Href
		case RelIssuer:
			u.IssuerURL = l.Href
		}
	}
	return u
}

func (r *Response) ClientID() string        { return r.Payload.String("response", "client_id") }
func (r *Response) ClientSecret() string    { return r.Payload.String("response", "client_secret") }
func (r *Response) ClientName() string      { return r.Payload.String("response", "client_name") }
func (r *Response) ServingOperator() string { return r.Payload.String("response", "serving_operator") }
func (r *Response) Country() string         { return r.Payload.String("response", "country") }
func (r *Response) Currency() string        { return r.Payload.String("response", "currency") }

// SubscriberID is the encrypted MSISDN returned with an identified result.
func (r *Response) SubscriberID() string { return r.Payload.String(fieldSubscriberID) }

// Issuer prefers the provider metadata and falls back to an issuer link.
func (r *Response) Issuer() string {
	if iss := r.ProviderMetadata.String("issuer"); iss != "" {
		return iss
	}
	return r.OperatorURLs().IssuerURL
}

// JWKSURL prefers the provider metadata and falls back to a jwks link.
func (r *Response) JWKSURL() string {
	if u := r.ProviderMetadata.String("jwks_uri"); u != "" {
		return u
	}
	return r.OperatorURLs().JWKSURL
}

func (r *Response) AuthorizationURL() (string, error) {
	return required(r.OperatorURLs().AuthorizationURL, RelAuthorization)
}

func (r *Response) TokenURL() (string, error) {
	return required(r.OperatorURLs().TokenURL, RelToken)
}

func (r *Response) UserInfoURL() (string, error) {
	if u := r.ProviderMetadata.String("userinfo_endpoint"); u != "" {
		return u, nil
	}
	return required(r.OperatorURLs().UserInfoURL, RelUserInfo)
}

func required(href, rel string) (string, error) {
	if href == "" {
		return "", fmt.Errorf("%w: %s", mcerr.ErrMissingEndpoint, rel)
	}
	return href, nil
}

// ExtractOperatorSelectionURL returns the operator selection link of a
// not-identified result.
func ExtractOperatorSelectionURL(r *Response) (string, bool) {
	if r == nil || r.Error != nil {
		return "", false
	}
	for _, l := range links(r.Payload.Array("links")) {
		if l.Rel == RelOperatorSelection && l.Href != "" {
			return l.Href, true
		}
	}
	return "", false
}

// IsOperatorSelectionRequired reports whether the user must pick an
// operator before discovery can complete.
func IsOperatorSelectionRequired(r *Response) bool {
	_, ok := ExtractOperatorSelectionURL(r)
	return ok
}
