package mobileconnect

import (
	"github.com/keksclan/goMobileConnect/internal/authentication"
	"github.com/keksclan/goMobileConnect/internal/cache"
	"github.com/keksclan/goMobileConnect/internal/discovery"
	"github.com/keksclan/goMobileConnect/internal/oauth/jwt"
)

type (
	// DiscoveryResponse is the normalised result of a discovery call.
	DiscoveryResponse = discovery.Response
	// DiscoveryOptions carries the identifying hints of a discovery call.
	DiscoveryOptions = discovery.Options
	// Document is a decoded JSON object.
	Document = discovery.Document
	// AuthenticationOptions are the optional authorization request fields.
	AuthenticationOptions = authentication.Options
	// TokenResponse is the outcome of a code exchange.
	TokenResponse = authentication.TokenResponse
	// RedirectParams are the OIDC parameters of an authorization redirect.
	RedirectParams = authentication.RedirectParams
	// ValidationResult is the outcome of a token check.
	ValidationResult = jwt.ValidationResult
	// Store is a byte-oriented TTL store backing the discovery cache and
	// the reference session stores.
	Store = cache.Store
)
