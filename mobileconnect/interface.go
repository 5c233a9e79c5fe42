// Package mobileconnect drives the Mobile Connect flow: discovery of the
// subscriber's operator, the authorization redirect and the validated code
// exchange.
//
// Every step returns a Status. Operator errors, validation failures and
// transport failures are reported as ErrorStatus; no step returns a Go
// error.
package mobileconnect

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/keksclan/goMobileConnect/internal/authentication"
	icache "github.com/keksclan/goMobileConnect/internal/cache"
	"github.com/keksclan/goMobileConnect/internal/discovery"
	"github.com/keksclan/goMobileConnect/internal/jwk"
	"github.com/keksclan/goMobileConnect/internal/luaengine"
	"github.com/keksclan/goMobileConnect/internal/oauth/jwt"
	"github.com/keksclan/goMobileConnect/internal/rest"
	"github.com/keksclan/goMobileConnect/internal/sessiontoken"
	"github.com/redis/go-redis/v9"
)

// Interface is the stateless flow controller. Callers hold the discovery
// response, state and nonce between steps; see Sessions for a variant that
// keeps them in a SessionStore.
//
// Concurrency: safe for concurrent use. The discovery cache and the key set
// cache are the only shared state.
type Interface struct {
	cfg       Config
	discovery *discovery.Service
	auth      *authentication.Service
	keys      *jwk.Manager
	policy    *luaengine.CompiledPolicy
	sealer    *sessiontoken.Sealer

	logger   *slog.Logger
	metrics  MetricsCollector
	now      func() time.Time
	rest     rest.Client
	keyCache Cache
	store    Store
	redis    *redis.Client

	closers []func()
}

// New builds an Interface from cfg. Defaults: fasthttp transport, ristretto
// key set cache and the discovery store selected by cfg.DiscoveryCache.
func New(cfg Config, opts ...Option) (*Interface, error) {
	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	mc := &Interface{cfg: cfg}
	for _, opt := range opts {
		opt(mc)
	}
	if mc.logger == nil {
		mc.logger = slog.New(slog.DiscardHandler)
	}
	if mc.metrics == nil {
		mc.metrics = noopMetrics{}
	}
	if mc.now == nil {
		mc.now = time.Now
	}
	if mc.rest == nil {
		mc.rest = rest.NewFastHTTPClient(cfg.HTTPTimeout)
	}
	if mc.keyCache == nil {
		rc, err := icache.NewRistrettoCache(1<<12, 1<<20, 64)
		if err != nil {
			return nil, fmt.Errorf("init key cache: %w", err)
		}
		mc.keyCache = rc
		mc.closers = append(mc.closers, rc.Close)
	}
	if mc.store == nil {
		store, err := mc.discoveryStore()
		if err != nil {
			return nil, err
		}
		mc.store = store
	}
	if cfg.ClaimsPolicy.Lua != "" {
		p, err := luaengine.Compile(cfg.ClaimsPolicy.Lua)
		if err != nil {
			return nil, fmt.Errorf("%w: claims policy: %v", ErrInvalidConfig, err)
		}
		mc.policy = p
	}

	key, err := cfg.sessionKey()
	if err != nil {
		return nil, err
	}
	if mc.sealer, err = sessiontoken.NewSealer(key); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	mc.keys = jwk.NewManager(mc.keyCache, mc.rest, cfg.JWKS.CacheTTL, cfg.JWKS.AllowStale)
	mc.keys.SetLogger(mc.logger)

	dcache := discovery.NewCache(mc.store)
	dcache.SetLogger(mc.logger)
	dcache.SetClock(mc.now)

	mc.discovery = discovery.NewService(discovery.ServiceConfig{
		REST:             mc.rest,
		Cache:            dcache,
		Logger:           mc.logger,
		Now:              mc.now,
		IncludeRequestIP: cfg.IncludeRequestIP,
	})
	mc.auth = authentication.NewService(authentication.ServiceConfig{
		REST:   mc.rest,
		Keys:   mc.keys,
		Logger: mc.logger,
		Now:    mc.now,
	})
	return mc, nil
}

func (mc *Interface) discoveryStore() (Store, error) {
	dc := mc.cfg.DiscoveryCache
	switch dc.Backend {
	case CacheBackendRedis:
		client := mc.redis
		if client == nil {
			client = redis.NewClient(&redis.Options{
				Addr:     dc.Redis.Addr,
				Password: dc.Redis.Password,
				DB:       dc.Redis.DB,
			})
			mc.closers = append(mc.closers, func() { _ = client.Close() })
		}
		store, err := icache.NewRedisStore(icache.RedisConfig{Client: client, KeyPrefix: dc.Redis.KeyPrefix})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		return store, nil
	default:
		return icache.NewMemoryStore("", dc.CleanupInterval), nil
	}
}

// Close releases the caches and connections New created.
func (mc *Interface) Close() {
	for _, c := range mc.closers {
		c()
	}
	mc.closers = nil
}

// Config returns the effective configuration.
func (mc *Interface) Config() Config { return mc.cfg }

func (mc *Interface) preferences() discovery.Preferences {
	return discovery.Preferences{
		ClientID:     mc.cfg.ClientID,
		ClientSecret: mc.cfg.ClientSecret,
		DiscoveryURL: mc.cfg.DiscoveryURL,
	}
}

// AttemptDiscovery runs automated discovery with whatever hints opts
// carries. It yields ReadyToAuthenticate, OperatorSelection or Error.
func (mc *Interface) AttemptDiscovery(ctx context.Context, opts *DiscoveryOptions, cookies []*http.Cookie) Status {
	resp, err := mc.discovery.Start(ctx, mc.preferences(), mc.cfg.RedirectURL, opts, cookies)
	if err != nil {
		return mc.fail(errorStatus(err))
	}
	return mc.discoveryStatus(resp, "")
}

// AttemptDiscoveryAfterOperatorSelection completes discovery with the
// operator the user picked. A redirect without mcc_mnc restarts discovery.
func (mc *Interface) AttemptDiscoveryAfterOperatorSelection(ctx context.Context, redirectedURL string, opts *DiscoveryOptions, cookies []*http.Cookie) Status {
	r, err := discovery.ParseDiscoveryRedirect(redirectedURL)
	if err != nil {
		return mc.fail(errorStatus(err))
	}
	if !r.HasMCCAndMNC() {
		return StartDiscoveryStatus{}
	}
	resp, err := mc.discovery.Complete(ctx, mc.preferences(), mc.cfg.RedirectURL, r.MCC, r.MNC, opts, cookies)
	if err != nil {
		return mc.fail(errorStatus(err))
	}
	return mc.discoveryStatus(resp, r.EncryptedMSISDN)
}

func (mc *Interface) discoveryStatus(resp *DiscoveryResponse, encryptedMSISDN string) Status {
	var st Status
	switch {
	case resp.Error != nil:
		code := resp.Error.Error
		if code == "" {
			code = CodeDiscoveryError
		}
		st = mc.fail(ErrorStatus{Code: code, Description: resp.Error.Description})
	case discovery.IsOperatorSelectionRequired(resp):
		u, _ := discovery.ExtractOperatorSelectionURL(resp)
		st = OperatorSelectionStatus{URL: u}
	case resp.IsIdentified():
		if encryptedMSISDN == "" && !resp.Cached {
			encryptedMSISDN = resp.SubscriberID()
		}
		st = ReadyToAuthenticateStatus{DiscoveryResponse: resp, EncryptedMSISDN: encryptedMSISDN}
	default:
		st = mc.fail(ErrorStatus{Code: CodeInvalidResponse, Description: "discovery response names no operator"})
	}
	mc.metrics.DiscoveryResult(st.Kind(), resp.Cached)
	return st
}

// StartAuthentication builds the authorization redirect for an identified
// discovery result. An empty nonce is replaced by a random one; state is
// optional. An expired discovery result yields StartDiscovery.
func (mc *Interface) StartAuthentication(resp *DiscoveryResponse, encryptedMSISDN, state, nonce string, opts *AuthenticationOptions) Status {
	if resp == nil {
		return mc.fail(errorStatus(fmt.Errorf("%w: discovery response is required", ErrInvalidArgument)))
	}
	if resp.HasExpired(mc.now()) {
		mc.logger.Info("discovery result expired before authentication")
		return StartDiscoveryStatus{}
	}
	authorizeURL, err := resp.AuthorizationURL()
	if err != nil {
		return mc.fail(errorStatus(err))
	}
	if nonce == "" {
		nonce = uuid.NewString()
	}
	o := mc.authOptions(opts)
	if o.ClientName == "" {
		o.ClientName = resp.ClientName()
	}

	u, err := mc.auth.StartAuthentication(mc.clientID(resp), authorizeURL, mc.cfg.RedirectURL, state, nonce, encryptedMSISDN, &o)
	if err != nil {
		return mc.fail(errorStatus(err))
	}
	screenMode := o.Display
	if screenMode == "" {
		screenMode = authentication.DefaultDisplay
	}
	return AuthorizationRedirectStatus{URL: u, ScreenMode: screenMode, State: state, Nonce: nonce}
}

func (mc *Interface) authOptions(opts *AuthenticationOptions) AuthenticationOptions {
	if opts == nil {
		return mc.cfg.Authentication
	}
	o := *opts
	d := mc.cfg.Authentication
	if o.Scope == "" {
		o.Scope = d.Scope
	}
	if o.ACRValues == "" {
		o.ACRValues = d.ACRValues
	}
	if o.Display == "" {
		o.Display = d.Display
	}
	if o.MaxAge == 0 {
		o.MaxAge = d.MaxAge
	}
	if o.UILocales == "" {
		o.UILocales = d.UILocales
	}
	return o
}

func (mc *Interface) clientID(resp *DiscoveryResponse) string {
	if id := resp.ClientID(); id != "" {
		return id
	}
	return mc.cfg.ClientID
}

func (mc *Interface) clientSecret(resp *DiscoveryResponse) string {
	if s := resp.ClientSecret(); s != "" {
		return s
	}
	return mc.cfg.ClientSecret
}

// RequestToken handles the authorization redirect: it checks state,
// exchanges the code and validates the tokens. expectedState and
// expectedNonce are the values used in StartAuthentication.
func (mc *Interface) RequestToken(ctx context.Context, resp *DiscoveryResponse, redirectedURL, expectedState, expectedNonce string) Status {
	if resp == nil {
		return mc.fail(errorStatus(fmt.Errorf("%w: discovery response is required", ErrInvalidArgument)))
	}
	if resp.HasExpired(mc.now()) {
		mc.logger.Info("discovery result expired before token request")
		return StartDiscoveryStatus{}
	}
	params, err := authentication.ParseAuthorizationRedirect(redirectedURL)
	if err != nil {
		return mc.fail(errorStatus(err))
	}
	if params.Error != "" {
		return mc.fail(ErrorStatus{Code: params.Error, Description: params.ErrorDescription})
	}
	if params.State != expectedState {
		return mc.fail(ErrorStatus{Code: CodeStateMismatch, Description: "state in redirect does not match the request"})
	}
	if params.Code == "" {
		return mc.fail(ErrorStatus{Code: CodeInvalidResponse, Description: "redirect carries no authorization code"})
	}
	tokenURL, err := resp.TokenURL()
	if err != nil {
		return mc.fail(errorStatus(err))
	}

	clientID := mc.clientID(resp)
	tr, err := mc.auth.RequestToken(ctx, clientID, mc.clientSecret(resp), tokenURL, mc.cfg.RedirectURL, params.Code)
	if err != nil {
		return mc.fail(errorStatus(err))
	}
	if tr.Error != nil {
		return mc.fail(ErrorStatus{Code: tr.Error.Error, Description: tr.Error.Description})
	}

	maxAge := mc.cfg.Authentication.MaxAge
	if maxAge <= 0 {
		maxAge = authentication.DefaultMaxAge
	}
	result, err := mc.auth.ValidateTokenResponse(ctx, tr, authentication.Validation{
		ClientID: clientID,
		Issuer:   resp.Issuer(),
		Nonce:    expectedNonce,
		MaxAge:   maxAge,
		JWKSURL:  resp.JWKSURL(),
	})
	if err != nil {
		// The key set could not be fetched; report the transport failure.
		mc.metrics.ValidationFailed(result.String())
		return mc.fail(errorStatus(err))
	}
	if !result.IsValid() {
		mc.metrics.ValidationFailed(result.String())
		code := CodeInvalidIDToken
		if result == jwt.AccessTokenMissing || result == jwt.AccessTokenExpired {
			code = CodeInvalidAccessToken
		}
		return mc.fail(ErrorStatus{Code: code, Description: result.String()})
	}
	mc.metrics.ValidationOK()

	claims, _ := jwt.DecodeClaims(tr.Data.IDToken)
	if mc.policy != nil {
		if err := mc.policy.Evaluate(ctx, claims); err != nil {
			return mc.fail(ErrorStatus{Code: CodeClaimsRejected, Description: err.Error(), Err: err})
		}
	}
	return CompleteStatus{Authorization: params, Token: tr, IDTokenClaims: Document(claims)}
}

// HandleURLRedirect dispatches any redirect back from the operator side: an
// operator selection result (mcc_mnc) or an authorization result (code or
// error). Anything else restarts discovery. opts carries the end-user's
// details for a repeated discovery call.
func (mc *Interface) HandleURLRedirect(ctx context.Context, redirectedURL string, resp *DiscoveryResponse, expectedState, expectedNonce string, opts *DiscoveryOptions, cookies []*http.Cookie) Status {
	u, err := url.Parse(redirectedURL)
	if err != nil || redirectedURL == "" {
		return mc.fail(errorStatus(fmt.Errorf("%w: redirect url is unreadable", ErrInvalidArgument)))
	}
	q := u.Query()
	switch {
	case q.Has("mcc_mnc"):
		return mc.AttemptDiscoveryAfterOperatorSelection(ctx, redirectedURL, opts, cookies)
	case q.Has("code"), q.Has("error"):
		return mc.RequestToken(ctx, resp, redirectedURL, expectedState, expectedNonce)
	default:
		return StartDiscoveryStatus{}
	}
}

// RequestUserInfo fetches the userinfo document with an access token from
// a completed flow.
func (mc *Interface) RequestUserInfo(ctx context.Context, resp *DiscoveryResponse, accessToken string) (Document, error) {
	if resp == nil {
		return nil, fmt.Errorf("%w: discovery response is required", ErrInvalidArgument)
	}
	u, err := resp.UserInfoURL()
	if err != nil {
		return nil, err
	}
	doc, err := mc.auth.RequestUserInfo(ctx, u, accessToken)
	if err != nil {
		return nil, err
	}
	return Document(doc), nil
}

// ClearDiscoveryCache drops every cached discovery result.
func (mc *Interface) ClearDiscoveryCache(ctx context.Context) error {
	return mc.discovery.ClearCache(ctx)
}

// CachedDiscoveryResponse returns the cached identified result for mcc/mnc.
func (mc *Interface) CachedDiscoveryResponse(ctx context.Context, mcc, mnc string) (*DiscoveryResponse, bool) {
	return mc.discovery.CachedResponse(ctx, mcc, mnc)
}

func (mc *Interface) fail(st ErrorStatus) ErrorStatus {
	mc.metrics.FlowError(st.Code)
	if st.Err != nil && !errors.Is(st.Err, ErrInvalidArgument) {
		mc.logger.Warn("mobile connect step failed", "code", st.Code, "error", st.Err)
	} else {
		mc.logger.Info("mobile connect step failed", "code", st.Code, "description", st.Description)
	}
	return st
}
