package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/keksclan/goMobileConnect/internal/mcerr"
	"github.com/keksclan/goMobileConnect/internal/rest"
)

// Cache lifetime bounds for identified results.
const (
	MinCacheTTL = 5 * time.Minute
	MaxCacheTTL = 180 * 24 * time.Hour
)

// Discovery request parameters.
const (
	paramRedirectURL     = "Redirect_URL"
	paramManuallySelect  = "Manually-Select"
	paramIdentifiedMCC   = "Identified-MCC"
	paramIdentifiedMNC   = "Identified-MNC"
	paramUsingMobileData = "Using-Mobile-Data"
	paramLocalClientIP   = "Local-Client-IP"
	paramSelectedMCC     = "Selected-MCC"
	paramSelectedMNC     = "Selected-MNC"
	paramMSISDN          = "MSISDN"

	headerSourceIP = "X-Source-IP"
)

// Preferences are the application's discovery credentials.
type Preferences struct {
	ClientID     string
	ClientSecret string
	DiscoveryURL string
}

func (p Preferences) validate() error {
	switch {
	case p.ClientID == "":
		return fmt.Errorf("%w: client id is required", mcerr.ErrInvalidArgument)
	case p.ClientSecret == "":
		return fmt.Errorf("%w: client secret is required", mcerr.ErrInvalidArgument)
	case p.DiscoveryURL == "":
		return fmt.Errorf("%w: discovery url is required", mcerr.ErrInvalidArgument)
	}
	return nil
}

// Options are the per-call identifying hints. All fields are optional.
type Options struct {
	MSISDN          string
	IdentifiedMCC   string
	IdentifiedMNC   string
	ManuallySelect  bool
	UsingMobileData bool
	LocalClientIP   string
	// ClientIP is sent as X-Source-IP when the service has IncludeRequestIP.
	ClientIP string
}

// ServiceConfig wires a Service.
type ServiceConfig struct {
	REST rest.Client
	// Cache is optional; without one every call goes to the network.
	Cache  *Cache
	Logger *slog.Logger
	Now    func() time.Time
	// IncludeRequestIP forwards Options.ClientIP as X-Source-IP.
	IncludeRequestIP bool
}

// Service runs automated and operator-confirmed discovery.
//
// Concurrency: safe for concurrent use. The cache is the only shared state.
type Service struct {
	rest             rest.Client
	cache            *Cache
	logger           *slog.Logger
	now              func() time.Time
	includeRequestIP bool
}

func NewService(cfg ServiceConfig) *Service {
	s := &Service{
		rest:             cfg.REST,
		cache:            cfg.Cache,
		logger:           cfg.Logger,
		now:              cfg.Now,
		includeRequestIP: cfg.IncludeRequestIP,
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

// Start runs automated discovery. A cached result for the identified
// network codes is returned without a network call unless the user asked to
// select the operator manually.
func (s *Service) Start(ctx context.Context, prefs Preferences, redirectURL string, opts *Options, cookies []*http.Cookie) (*Response, error) {
	if err := prefs.validate(); err != nil {
		return nil, err
	}
	if redirectURL == "" {
		return nil, fmt.Errorf("%w: redirect url is required", mcerr.ErrInvalidArgument)
	}
	if opts == nil {
		opts = &Options{}
	}

	key := CacheKey{MCC: opts.IdentifiedMCC, MNC: opts.IdentifiedMNC}
	if !opts.ManuallySelect && key.IsComplete() {
		if resp, ok := s.CachedResponse(ctx, key.MCC, key.MNC); ok {
			return resp, nil
		}
	}

	params := []rest.KeyValue{
		{Key: paramRedirectURL, Value: redirectURL},
		{Key: paramManuallySelect, Value: strconv.FormatBool(opts.ManuallySelect)},
	}
	params = appendIfSet(params, paramIdentifiedMCC, opts.IdentifiedMCC)
	params = appendIfSet(params, paramIdentifiedMNC, opts.IdentifiedMNC)
	params = append(params, rest.KeyValue{Key: paramUsingMobileData, Value: boolFlag(opts.UsingMobileData)})
	params = appendIfSet(params, paramLocalClientIP, opts.LocalClientIP)

	return s.call(ctx, prefs, params, opts, cookies, key)
}

// Complete runs discovery for the operator the user selected.
func (s *Service) Complete(ctx context.Context, prefs Preferences, redirectURL, mcc, mnc string, opts *Options, cookies []*http.Cookie) (*Response, error) {
	if err := prefs.validate(); err != nil {
		return nil, err
	}
	if redirectURL == "" {
		return nil, fmt.Errorf("%w: redirect url is required", mcerr.ErrInvalidArgument)
	}
	if mcc == "" || mnc == "" {
		return nil, fmt.Errorf("%w: selected mcc and mnc are required", mcerr.ErrInvalidArgument)
	}
	if opts == nil {
		opts = &Options{}
	}

	key := CacheKey{MCC: mcc, MNC: mnc}
	if resp, ok := s.CachedResponse(ctx, mcc, mnc); ok {
		return resp, nil
	}

	params := []rest.KeyValue{
		{Key: paramRedirectURL, Value: redirectURL},
		{Key: paramSelectedMCC, Value: mcc},
		{Key: paramSelectedMNC, Value: mnc},
	}
	// The MSISDN only identifies during automated discovery.
	callOpts := *opts
	callOpts.MSISDN = ""
	return s.call(ctx, prefs, params, &callOpts, cookies, key)
}

// CachedResponse returns the cached identified result for mcc/mnc.
func (s *Service) CachedResponse(ctx context.Context, mcc, mnc string) (*Response, bool) {
	if s.cache == nil {
		return nil, false
	}
	key := CacheKey{MCC: mcc, MNC: mnc}
	v, ok := s.cache.Get(ctx, key)
	if !ok {
		return nil, false
	}
	s.logger.Debug("discovery cache hit", "mcc", mcc, "mnc", mnc)
	return &Response{
		Cached:           true,
		Expiry:           v.Expiry,
		StatusCode:       http.StatusOK,
		Payload:          v.Payload,
		ProviderMetadata: v.ProviderMetadata,
	}, true
}

// ClearCache drops every cached discovery result.
func (s *Service) ClearCache(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Clear(ctx)
}

// InvalidateCache drops the cached result for mcc/mnc.
func (s *Service) InvalidateCache(ctx context.Context, mcc, mnc string) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Remove(ctx, CacheKey{MCC: mcc, MNC: mnc})
}

func (s *Service) call(ctx context.Context, prefs Preferences, params []rest.KeyValue, opts *Options, cookies []*http.Cookie, key CacheKey) (*Response, error) {
	auth := rest.Basic(prefs.ClientID, prefs.ClientSecret)
	headers := []rest.Header{{Name: "Accept", Value: "application/json"}}
	if s.includeRequestIP && opts.ClientIP != "" {
		headers = append(headers, rest.Header{Name: headerSourceIP, Value: opts.ClientIP})
	}

	var (
		raw *rest.Response
		err error
	)
	if opts.MSISDN != "" {
		form := append([]rest.KeyValue{{Key: paramMSISDN, Value: opts.MSISDN}}, params...)
		raw, err = s.rest.PostForm(ctx, prefs.DiscoveryURL, auth, form, headers, cookies)
	} else {
		raw, err = s.rest.Get(ctx, rest.AppendQuery(prefs.DiscoveryURL, params), auth, headers, cookies)
	}
	if err != nil {
		var re *rest.RequestError
		if errors.As(err, &re) && re.StatusCode != 0 {
			if resp, ok := errorResponse(re.StatusCode, re.Headers, re.Body); ok {
				s.logger.Info("discovery rejected", "status", re.StatusCode, "error", resp.Error.Error)
				return resp, nil
			}
		}
		s.logger.Warn("discovery request failed", "url", prefs.DiscoveryURL, "error", err)
		return nil, fmt.Errorf("discovery request: %w", err)
	}

	resp, err := s.buildResponse(raw)
	if err != nil {
		return nil, err
	}
	if resp.Error != nil || !resp.IsIdentified() {
		return resp, nil
	}

	resp.ProviderMetadata = s.fetchProviderMetadata(ctx, resp)
	resp.Expiry = ExpiryFromTTL(resp.Payload, s.now())
	if key.IsComplete() && s.cache != nil {
		// Entries are shared by every subscriber on the network.
		payload := resp.Payload.Clone()
		delete(payload, fieldSubscriberID)
		v := &CacheValue{Expiry: resp.Expiry, Payload: payload, ProviderMetadata: resp.ProviderMetadata}
		if err := s.cache.Put(ctx, key, v); err != nil {
			s.logger.Warn("discovery cache write failed", "mcc", key.MCC, "mnc", key.MNC, "error", err)
		}
	}
	return resp, nil
}

func (s *Service) buildResponse(raw *rest.Response) (*Response, error) {
	payload, err := ParseDocument(raw.Body)
	if err != nil {
		return nil, err
	}
	resp := &Response{
		StatusCode: raw.StatusCode,
		Headers:    raw.Headers,
		Payload:    payload,
	}
	if e := errorFromPayload(payload); e != nil {
		resp.Error = e
		return resp, nil
	}
	switch raw.StatusCode {
	case http.StatusOK:
		if !resp.IsIdentified() {
			return nil, fmt.Errorf("%w: identified response without operator endpoints", mcerr.ErrInvalidResponse)
		}
	case http.StatusAccepted:
		if !IsOperatorSelectionRequired(resp) {
			return nil, fmt.Errorf("%w: operator selection link missing", mcerr.ErrInvalidResponse)
		}
	default:
		resp.Error = &ErrorResponse{Error: "discovery_error", Description: "unexpected status " + strconv.Itoa(raw.StatusCode)}
	}
	return resp, nil
}

func (s *Service) fetchProviderMetadata(ctx context.Context, resp *Response) Document {
	u := resp.OperatorURLs().ProviderMetadataURL
	if u == "" {
		return nil
	}
	raw, err := s.rest.Get(ctx, u, nil, []rest.Header{{Name: "Accept", Value: "application/json"}}, nil)
	if err != nil {
		s.logger.Warn("provider metadata fetch failed", "url", u, "error", err)
		return nil
	}
	doc, err := ParseDocument(raw.Body)
	if err != nil {
		s.logger.Warn("provider metadata unreadable", "url", u, "error", err)
		return nil
	}
	return doc
}

// ExpiryFromTTL derives the cache expiry from the payload's "ttl" (epoch
// milliseconds), clamped to [now+MinCacheTTL, now+MaxCacheTTL]. A missing
// or past ttl yields the minimum.
func ExpiryFromTTL(payload Document, now time.Time) time.Time {
	lo, hi := now.Add(MinCacheTTL), now.Add(MaxCacheTTL)
	ms, ok := payload.Int64("ttl")
	if !ok || ms <= 0 {
		return lo
	}
	t := time.UnixMilli(ms)
	switch {
	case t.Before(lo):
		return lo
	case t.After(hi):
		return hi
	default:
		return t
	}
}

func errorResponse(status int, headers []rest.Header, body []byte) (*Response, bool) {
	payload, err := ParseDocument(body)
	if err != nil {
		return nil, false
	}
	e := errorFromPayload(payload)
	if e == nil {
		return nil, false
	}
	return &Response{StatusCode: status, Headers: headers, Payload: payload, Error: e}, true
}

func errorFromPayload(payload Document) *ErrorResponse {
	code := payload.String("error")
	if code == "" {
		return nil
	}
	desc := payload.String("description")
	if desc == "" {
		desc = payload.String("error_description")
	}
	return &ErrorResponse{Error: code, Description: desc}
}

func appendIfSet(kv []rest.KeyValue, key, value string) []rest.KeyValue {
	if value == "" {
		return kv
	}
	return append(kv, rest.KeyValue{Key: key, Value: value})
}

func boolFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
