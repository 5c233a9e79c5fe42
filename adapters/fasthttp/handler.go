// Package mcfasthttp serves the server-side Mobile Connect flow with
// fasthttp.
//
// Handler dispatches <prefix>/start and <prefix>/callback and hands every
// other path to next. The session id and the sealed session token are kept
// in cookies.
//
// Concurrency: All exported functions are safe for concurrent use.
package mcfasthttp

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/keksclan/goMobileConnect/adapters/common"
	"github.com/keksclan/goMobileConnect/mobileconnect"
	"github.com/valyala/fasthttp"
)

// Option configures the fasthttp handler.
type Option func(*options)

type options struct {
	common.AdapterOptions
	prefix string
}

// WithPrefix mounts the routes under prefix, e.g. "/mc".
func WithPrefix(prefix string) Option {
	return func(o *options) {
		o.prefix = prefix
	}
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

// fasthttpParams adapts fasthttp query arguments to common.Params.
type fasthttpParams struct {
	ctx *fasthttp.RequestCtx
}

func (p *fasthttpParams) Get(key string) (string, bool) {
	args := p.ctx.QueryArgs()
	if !args.Has(key) {
		return "", false
	}
	return string(args.Peek(key)), true
}

type handler struct {
	flow *common.Flow
	opts options
	next fasthttp.RequestHandler
}

// Handler returns a request handler serving the flow routes. next may be
// nil, in which case other paths get 404.
func Handler(mc *mobileconnect.Interface, store mobileconnect.SessionStore, next fasthttp.RequestHandler, opts ...Option) fasthttp.RequestHandler {
	o := buildOptions(opts)
	h := &handler{flow: common.NewFlow(mc, store, o.AdapterOptions), opts: o, next: next}
	return h.serve
}

func (h *handler) serve(ctx *fasthttp.RequestCtx) {
	if !ctx.IsGet() {
		h.passOn(ctx)
		return
	}
	switch string(ctx.Path()) {
	case h.opts.prefix + "/start":
		h.start(ctx)
	case h.opts.prefix + "/callback":
		h.callback(ctx)
	default:
		h.passOn(ctx)
	}
}

func (h *handler) passOn(ctx *fasthttp.RequestCtx) {
	if h.next != nil {
		h.next(ctx)
		return
	}
	ctx.SetStatusCode(fasthttp.StatusNotFound)
}

func (h *handler) start(ctx *fasthttp.RequestCtx) {
	sid := string(ctx.Request.Header.Cookie(h.opts.SessionCookie))
	if sid == "" {
		sid = common.NewSessionID()
		h.setCookie(ctx, h.opts.SessionCookie, sid, false)
	}
	opts := common.DiscoveryOptions(&fasthttpParams{ctx: ctx}, ctx.RemoteIP().String())
	st := h.flow.Start(context.Background(), sid, opts, h.forwardCookies(ctx))
	h.write(ctx, common.Render(st))
}

func (h *handler) callback(ctx *fasthttp.RequestCtx) {
	sid := string(ctx.Request.Header.Cookie(h.opts.SessionCookie))
	if sid == "" {
		h.write(ctx, common.Render(mobileconnect.StartDiscoveryStatus{}))
		return
	}
	token := string(ctx.Request.Header.Cookie(h.opts.TokenCookie))
	rawQuery := string(ctx.URI().QueryString())
	opts := common.DiscoveryOptions(&fasthttpParams{ctx: ctx}, ctx.RemoteIP().String())
	st := h.flow.Callback(context.Background(), sid, token, rawQuery, opts, h.forwardCookies(ctx))
	h.write(ctx, common.Render(st))
}

func (h *handler) forwardCookies(ctx *fasthttp.RequestCtx) []*http.Cookie {
	return common.ForwardCookies(string(ctx.Request.Header.Peek("Cookie")), h.opts.SessionCookie, h.opts.TokenCookie)
}

func (h *handler) setCookie(ctx *fasthttp.RequestCtx, name, value string, expire bool) {
	c := fasthttp.AcquireCookie()
	defer fasthttp.ReleaseCookie(c)
	c.SetKey(name)
	c.SetValue(value)
	c.SetPath("/")
	c.SetHTTPOnly(true)
	c.SetSecure(h.opts.SecureCookies)
	c.SetSameSite(fasthttp.CookieSameSiteLaxMode)
	if expire {
		c.SetExpire(fasthttp.CookieExpireDelete)
	}
	ctx.Response.Header.SetCookie(c)
}

func (h *handler) write(ctx *fasthttp.RequestCtx, reply common.Reply) {
	switch {
	case reply.SessionToken != "":
		h.setCookie(ctx, h.opts.TokenCookie, reply.SessionToken, false)
	case reply.EndSession:
		h.setCookie(ctx, h.opts.TokenCookie, "", true)
	}
	if reply.Location != "" {
		ctx.Response.Header.Set("Location", reply.Location)
		ctx.SetStatusCode(reply.StatusCode)
		return
	}
	ctx.SetStatusCode(reply.StatusCode)
	ctx.SetContentType("application/json")
	body, _ := json.Marshal(reply.Body)
	ctx.SetBody(body)
}
