// Package mcfiber registers the server-side Mobile Connect flow on a Fiber
// app.
//
// GET <prefix>/start begins discovery and GET <prefix>/callback handles
// the redirect back from operator selection or authorization. The session
// id and the sealed session token are kept in cookies.
//
// Concurrency: All exported functions are safe for concurrent use.
package mcfiber

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/keksclan/goMobileConnect/adapters/common"
	"github.com/keksclan/goMobileConnect/mobileconnect"
)

// Option configures the Fiber handlers.
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
// defaults for every flow started through the handlers.
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

// fiberParams adapts Fiber query arguments to common.Params.
type fiberParams struct {
	c *fiber.Ctx
}

func (p *fiberParams) Get(key string) (string, bool) {
	if !p.c.Context().QueryArgs().Has(key) {
		return "", false
	}
	return p.c.Query(key), true
}

type handlers struct {
	flow *common.Flow
	opts options
}

// Register adds the start and callback routes to router under prefix.
func Register(router fiber.Router, prefix string, mc *mobileconnect.Interface, store mobileconnect.SessionStore, opts ...Option) {
	o := buildOptions(opts)
	h := &handlers{flow: common.NewFlow(mc, store, o.AdapterOptions), opts: o}
	router.Get(prefix+"/start", h.start)
	router.Get(prefix+"/callback", h.callback)
}

func (h *handlers) start(c *fiber.Ctx) error {
	sid := c.Cookies(h.opts.SessionCookie)
	if sid == "" {
		sid = common.NewSessionID()
		c.Cookie(h.cookie(h.opts.SessionCookie, sid))
	}
	opts := common.DiscoveryOptions(&fiberParams{c: c}, c.IP())
	st := h.flow.Start(c.UserContext(), sid, opts, h.forwardCookies(c))
	return h.write(c, common.Render(st))
}

func (h *handlers) callback(c *fiber.Ctx) error {
	sid := c.Cookies(h.opts.SessionCookie)
	if sid == "" {
		return h.write(c, common.Render(mobileconnect.StartDiscoveryStatus{}))
	}
	rawQuery := string(c.Request().URI().QueryString())
	opts := common.DiscoveryOptions(&fiberParams{c: c}, c.IP())
	st := h.flow.Callback(c.UserContext(), sid, c.Cookies(h.opts.TokenCookie), rawQuery, opts, h.forwardCookies(c))
	return h.write(c, common.Render(st))
}

func (h *handlers) forwardCookies(c *fiber.Ctx) []*http.Cookie {
	return common.ForwardCookies(c.Get(fiber.HeaderCookie), h.opts.SessionCookie, h.opts.TokenCookie)
}

func (h *handlers) cookie(name, value string) *fiber.Cookie {
	return &fiber.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HTTPOnly: true,
		Secure:   h.opts.SecureCookies,
		SameSite: fiber.CookieSameSiteLaxMode,
	}
}

func (h *handlers) write(c *fiber.Ctx, reply common.Reply) error {
	switch {
	case reply.SessionToken != "":
		c.Cookie(h.cookie(h.opts.TokenCookie, reply.SessionToken))
	case reply.EndSession:
		c.ClearCookie(h.opts.TokenCookie)
	}
	if reply.Location != "" {
		return c.Redirect(reply.Location, reply.StatusCode)
	}
	return c.Status(reply.StatusCode).JSON(reply.Body)
}
