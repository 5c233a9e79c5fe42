// Package common holds what the host adapters share: reading discovery
// hints from a request, driving the server-side flow through Sessions and
// turning a Status into an HTTP reply.
//
// Concurrency: All exported types and functions are safe for concurrent use.
package common

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/keksclan/goMobileConnect/mobileconnect"
)

// Default cookie names.
const (
	DefaultSessionCookie = "mc_session"
	DefaultTokenCookie   = "mc_session_token"
)

// Request parameters read by DiscoveryOptions.
const (
	ParamMSISDN     = "msisdn"
	ParamMCC        = "mcc"
	ParamMNC        = "mnc"
	ParamManual     = "manual"
	ParamMobileData = "mobile_data"
	ParamLocalIP    = "local_ip"
)

// Params abstracts reading request parameters from different transports.
type Params interface {
	// Get returns the value for the given key and whether it was found.
	Get(key string) (string, bool)
}

// DiscoveryOptions reads the discovery hints a host page passes along.
// clientIP is forwarded as X-Source-IP when the Interface is configured to.
func DiscoveryOptions(p Params, clientIP string) *mobileconnect.DiscoveryOptions {
	get := func(key string) string {
		v, _ := p.Get(key)
		return strings.TrimSpace(v)
	}
	return &mobileconnect.DiscoveryOptions{
		MSISDN:          get(ParamMSISDN),
		IdentifiedMCC:   get(ParamMCC),
		IdentifiedMNC:   get(ParamMNC),
		ManuallySelect:  flag(get(ParamManual)),
		UsingMobileData: flag(get(ParamMobileData)),
		LocalClientIP:   get(ParamLocalIP),
		ClientIP:        clientIP,
	}
}

func flag(v string) bool {
	b, err := strconv.ParseBool(v)
	return err == nil && b
}

// AdapterOptions holds common adapter configuration.
type AdapterOptions struct {
	SessionCookie string
	TokenCookie   string
	// SecureCookies marks both cookies Secure.
	SecureCookies bool
	// Authentication overrides the configured authorization defaults.
	Authentication *mobileconnect.AuthenticationOptions
}

// WithDefaults fills in the cookie names.
func (o AdapterOptions) WithDefaults() AdapterOptions {
	if o.SessionCookie == "" {
		o.SessionCookie = DefaultSessionCookie
	}
	if o.TokenCookie == "" {
		o.TokenCookie = DefaultTokenCookie
	}
	return o
}

// Flow runs the server-side flow: an identified discovery result goes
// straight on to the authorization redirect.
type Flow struct {
	Sessions *mobileconnect.Sessions
	// RedirectURL is the configured callback; the callback's query is
	// appended to it before dispatch.
	RedirectURL string
	Options     AdapterOptions
}

// NewFlow binds mc to a session store.
func NewFlow(mc *mobileconnect.Interface, store mobileconnect.SessionStore, opts AdapterOptions) *Flow {
	return &Flow{
		Sessions:    mc.Sessions(store),
		RedirectURL: mc.Config().RedirectURL,
		Options:     opts.WithDefaults(),
	}
}

// Start begins discovery for the session.
func (f *Flow) Start(ctx context.Context, sessionID string, opts *mobileconnect.DiscoveryOptions, cookies []*http.Cookie) mobileconnect.Status {
	return f.authenticate(ctx, sessionID, f.Sessions.AttemptDiscovery(ctx, sessionID, opts, cookies))
}

// Callback handles the redirect back to RedirectURL, carrying either an
// operator selection or an authorization result in rawQuery. opts applies
// to the discovery call that follows an operator selection.
func (f *Flow) Callback(ctx context.Context, sessionID, token, rawQuery string, opts *mobileconnect.DiscoveryOptions, cookies []*http.Cookie) mobileconnect.Status {
	st := f.Sessions.HandleURLRedirect(ctx, sessionID, token, CallbackURL(f.RedirectURL, rawQuery), opts, cookies)
	return f.authenticate(ctx, sessionID, st)
}

func (f *Flow) authenticate(ctx context.Context, sessionID string, st mobileconnect.Status) mobileconnect.Status {
	ready, ok := st.(mobileconnect.ReadyToAuthenticateStatus)
	if !ok {
		return st
	}
	return f.Sessions.StartAuthentication(ctx, sessionID, ready.SessionToken, f.Options.Authentication)
}

// CallbackURL joins base and a raw query string.
func CallbackURL(base, rawQuery string) string {
	base, _, _ = strings.Cut(base, "?")
	if rawQuery == "" {
		return base
	}
	return base + "?" + rawQuery
}

// NewSessionID returns a fresh random session id.
func NewSessionID() string {
	return uuid.NewString()
}

// ForwardCookies parses a Cookie header, leaving out the named cookies.
func ForwardCookies(header string, exclude ...string) []*http.Cookie {
	if header == "" {
		return nil
	}
	parsed, err := http.ParseCookie(header)
	if err != nil {
		return nil
	}
	out := parsed[:0]
	for _, c := range parsed {
		skip := false
		for _, name := range exclude {
			if c.Name == name {
				skip = true
				break
			}
		}
		if !skip {
			out = append(out, c)
		}
	}
	return out
}
