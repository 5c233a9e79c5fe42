// Package mcchi mounts the server-side Mobile Connect flow on a chi router.
//
// GET /start begins discovery with the hints in the query string and
// redirects to operator selection or authorization. GET /callback handles
// the redirect back from either. The session id lives in a cookie; the
// sealed session token rides along in a second cookie.
//
// Concurrency: All exported functions are safe for concurrent use.
package mcchi

import (
	"encoding/json"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/keksclan/goMobileConnect/adapters/common"
	"github.com/keksclan/goMobileConnect/mobileconnect"
)

// Option configures the chi handler.
type Option func(*options)

type options struct {
	common.AdapterOptions
}

// WithCookieNames replaces the session id and session token cookie names.
func WithCookieNames(session, token string) Option {
	return func(o *options) {
		o.SessionCookie = session
		o.TokenCookie = token
	}
}

// WithSecureCookies marks both cookies Secure.
func WithSecureCookies(secure bool) Option {
	return func(o *options) {
		o.SecureCookies = secure
	}
}

// WithAuthenticationOptions overrides the configured authorization
// defaults for every flow started through the handler.
func WithAuthenticationOptions(a *mobileconnect.AuthenticationOptions) Option {
	return func(o *options) {
		o.Authentication = a
	}
}

func buildOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	o.AdapterOptions = o.WithDefaults()
	return o
}

type queryParams struct {
	r *http.Request
}

func (p queryParams) Get(key string) (string, bool) {
	q := p.r.URL.Query()
	if !q.Has(key) {
		return "", false
	}
	return q.Get(key), true
}

type handler struct {
	flow *common.Flow
	opts options
}

// Routes returns a router serving /start and /callback.
func Routes(mc *mobileconnect.Interface, store mobileconnect.SessionStore, opts ...Option) chi.Router {
	o := buildOptions(opts)
	h := &handler{flow: common.NewFlow(mc, store, o.AdapterOptions), opts: o}
	r := chi.NewRouter()
	r.Get("/start", h.start)
	r.Get("/callback", h.callback)
	return r
}

func (h *handler) start(w http.ResponseWriter, r *http.Request) {
	sid := h.sessionID(w, r, true)
	opts := common.DiscoveryOptions(queryParams{r: r}, clientIP(r))
	st := h.flow.Start(r.Context(), sid, opts, h.forwardCookies(r))
	h.write(w, common.Render(st))
}

func (h *handler) callback(w http.ResponseWriter, r *http.Request) {
	sid := h.sessionID(w, r, false)
	if sid == "" {
		h.write(w, common.Render(mobileconnect.StartDiscoveryStatus{}))
		return
	}
	var token string
	if c, err := r.Cookie(h.opts.TokenCookie); err == nil {
		token = c.Value
	}
	opts := common.DiscoveryOptions(queryParams{r: r}, clientIP(r))
	st := h.flow.Callback(r.Context(), sid, token, r.URL.RawQuery, opts, h.forwardCookies(r))
	h.write(w, common.Render(st))
}

func (h *handler) sessionID(w http.ResponseWriter, r *http.Request, create bool) string {
	if c, err := r.Cookie(h.opts.SessionCookie); err == nil && c.Value != "" {
		return c.Value
	}
	if !create {
		return ""
	}
	sid := common.NewSessionID()
	http.SetCookie(w, h.cookie(h.opts.SessionCookie, sid))
	return sid
}

func (h *handler) forwardCookies(r *http.Request) []*http.Cookie {
	return common.ForwardCookies(r.Header.Get("Cookie"), h.opts.SessionCookie, h.opts.TokenCookie)
}

func (h *handler) cookie(name, value string) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.opts.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	}
}

func (h *handler) write(w http.ResponseWriter, reply common.Reply) {
	switch {
	case reply.SessionToken != "":
		http.SetCookie(w, h.cookie(h.opts.TokenCookie, reply.SessionToken))
	case reply.EndSession:
		c := h.cookie(h.opts.TokenCookie, "")
		c.MaxAge = -1
		http.SetCookie(w, c)
	}
	if reply.Location != "" {
		w.Header().Set("Location", reply.Location)
		w.WriteHeader(reply.StatusCode)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(reply.StatusCode)
	_ = json.NewEncoder(w).Encode(reply.Body)
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
