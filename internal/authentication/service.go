// Package authentication builds authorization requests, parses the
// operator's redirects and exchanges authorization codes for tokens.
package authentication

import (
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/keksclan/goMobileConnect/internal/jwk"
	"github.com/keksclan/goMobileConnect/internal/mcerr"
	"github.com/keksclan/goMobileConnect/internal/rest"
)

// ServiceConfig wires a Service.
type ServiceConfig struct {
	REST rest.Client
	// Keys resolves the operator's signing keys for ID token checks.
	Keys   *jwk.Manager
	Logger *slog.Logger
	Now    func() time.Time
}

// Service talks to the operator's authorization, token and userinfo
// endpoints.
//
// Concurrency: safe for concurrent use.
type Service struct {
	rest   rest.Client
	keys   *jwk.Manager
	logger *slog.Logger
	now    func() time.Time
}

func NewService(cfg ServiceConfig) *Service {
	s := &Service{
		rest:   cfg.REST,
		keys:   cfg.Keys,
		logger: cfg.Logger,
		now:    cfg.Now,
	}
	if s.rest == nil {
		s.rest = rest.NewFastHTTPClient(rest.DefaultTimeout)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// StartAuthentication builds the authorization URL the user agent is sent
// to. nonce is required; state is optional.
func (s *Service) StartAuthentication(clientID, authorizeURL, redirectURL, state, nonce, encryptedMSISDN string, opts *Options) (string, error) {
	switch {
	case clientID == "":
		return "", fmt.Errorf("%w: client id is required", mcerr.ErrInvalidArgument)
	case authorizeURL == "":
		return "", fmt.Errorf("%w: authorize url is required", mcerr.ErrInvalidArgument)
	case redirectURL == "":
		return "", fmt.Errorf("%w: redirect url is required", mcerr.ErrInvalidArgument)
	case nonce == "":
		return "", fmt.Errorf("%w: nonce is required", mcerr.ErrInvalidArgument)
	}
	o := opts.withDefaults()
	hasContext := o.Context != ""
	if hasContext && o.ClientName == "" {
		return "", fmt.Errorf("%w: client name is required with a context", mcerr.ErrInvalidArgument)
	}

	params := []rest.KeyValue{
		{Key: "client_id", Value: clientID},
		{Key: "response_type", Value: "code"},
		{Key: "scope", Value: CoerceScope(o.Scope, hasContext)},
		{Key: "redirect_uri", Value: redirectURL},
		{Key: "acr_values", Value: o.ACRValues},
		{Key: "state", Value: state},
		{Key: "nonce", Value: nonce},
		{Key: "display", Value: o.Display},
		{Key: "prompt", Value: o.Prompt},
		{Key: "max-age", Value: strconv.FormatInt(int64(o.MaxAge/time.Second), 10)},
		{Key: "ui-locales", Value: o.UILocales},
		{Key: "claims_locales", Value: o.ClaimsLocales},
		{Key: "id_token_hint", Value: o.IDTokenHint},
		{Key: "login_hint", Value: loginHint(o, encryptedMSISDN)},
		{Key: "dtbs", Value: o.DTBS},
	}
	if hasContext {
		params = append(params,
			rest.KeyValue{Key: "context", Value: o.Context},
			rest.KeyValue{Key: "binding_message", Value: o.BindingMessage},
			rest.KeyValue{Key: "client_name", Value: o.ClientName},
		)
	}
	params = append(params, rest.KeyValue{Key: "claims", Value: o.Claims})

	nonEmpty := params[:0]
	for _, p := range params {
		if p.Value != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return rest.AppendQuery(authorizeURL, nonEmpty), nil
}

// RedirectParams are the OIDC parameters of an authorization redirect.
type RedirectParams struct {
	Error            string `json:"error,omitempty"`
	ErrorDescription string `json:"error_description,omitempty"`
	State            string `json:"state,omitempty"`
	Code             string `json:"code,omitempty"`
}

// ParseAuthorizationRedirect extracts the OIDC parameters from
// redirectURL. A URL without a query yields an empty result.
func ParseAuthorizationRedirect(redirectURL string) (RedirectParams, error) {
	if redirectURL == "" {
		return RedirectParams{}, fmt.Errorf("%w: redirect url is required", mcerr.ErrInvalidArgument)
	}
	u, err := url.Parse(redirectURL)
	if err != nil {
		return RedirectParams{}, fmt.Errorf("%w: %v", mcerr.ErrInvalidArgument, err)
	}
	q := u.Query()
	return RedirectParams{
		Error:            q.Get("error"),
		ErrorDescription: q.Get("error_description"),
		State:            q.Get("state"),
		Code:             q.Get("code"),
	}, nil
}
