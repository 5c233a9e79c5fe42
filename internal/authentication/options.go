package authentication

import (
	"strings"
	"time"
)

// Defaults applied to an authorization request.
const (
	DefaultScope   = ScopeOpenID
	DefaultACR     = "2"
	DefaultDisplay = "page"
	DefaultMaxAge  = 3600 * time.Second
)

// Scope tokens.
const (
	ScopeOpenID = "openid"
	// ScopeAuthn is the plain authentication product.
	ScopeAuthn = "mc_authn"
	// ScopeAuthz is authorization with a transaction context.
	ScopeAuthz = "mc_authz"
)

// Login hint prefixes.
const (
	loginHintEncryptedMSISDN = "ENCR_MSISDN:"
	loginHintMSISDN          = "MSISDN:"
)

// Options are the optional fields of an authorization request. Zero values
// take the package defaults.
type Options struct {
	Scope         string
	ACRValues     string
	Display       string
	Prompt        string
	MaxAge        time.Duration
	UILocales     string
	ClaimsLocales string
	IDTokenHint   string
	// LoginHint wins over any hint derived from EncryptedMSISDN or MSISDN.
	LoginHint string
	// MSISDN is only used to derive a login hint.
	MSISDN string
	DTBS   string

	// Context switches the request to the authorization product. It
	// requires ClientName.
	Context        string
	BindingMessage string
	ClientName     string
	// Claims is a JSON claims request, sent as-is.
	Claims string
}

// withDefaults returns a copy of o with defaults filled in.
func (o *Options) withDefaults() Options {
	var out Options
	if o != nil {
		out = *o
	}
	if strings.TrimSpace(out.Scope) == "" {
		out.Scope = DefaultScope
	}
	if out.ACRValues == "" {
		out.ACRValues = DefaultACR
	}
	if out.Display == "" {
		out.Display = DefaultDisplay
	}
	if out.MaxAge <= 0 {
		out.MaxAge = DefaultMaxAge
	}
	return out
}

// CoerceScope normalises scope for the product selected by hasContext.
//
// With a context: openid and mc_authz are ensured and mc_authn is removed.
// Without one: openid is ensured, mc_authz is removed and mc_authn is kept
// only when the caller asked for it. Token order is kept and duplicates
// are dropped.
func CoerceScope(scope string, hasContext bool) string {
	seen := make(map[string]bool)
	tokens := []string{ScopeOpenID}
	seen[ScopeOpenID] = true
	for _, tok := range strings.Fields(scope) {
		if seen[tok] {
			continue
		}
		if tok == ScopeAuthz && !hasContext || tok == ScopeAuthn && hasContext {
			continue
		}
		seen[tok] = true
		tokens = append(tokens, tok)
	}
	if hasContext && !seen[ScopeAuthz] {
		tokens = append(tokens, ScopeAuthz)
	}
	return strings.Join(tokens, " ")
}

func loginHint(opts Options, encryptedMSISDN string) string {
	switch {
	case opts.LoginHint != "":
		return opts.LoginHint
	case encryptedMSISDN != "":
		return loginHintEncryptedMSISDN + encryptedMSISDN
	case opts.MSISDN != "":
		return loginHintMSISDN + strings.TrimPrefix(opts.MSISDN, "+")
	default:
		return ""
	}
}
