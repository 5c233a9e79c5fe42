package mobileconnect

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	icache "github.com/keksclan/goMobileConnect/internal/cache"
	"github.com/redis/go-redis/v9"
)

// FlowState is what Sessions keeps between the steps of one flow.
type FlowState struct {
	DiscoveryResponse *DiscoveryResponse `json:"discovery_response,omitempty"`
	EncryptedMSISDN   string             `json:"encrypted_msisdn,omitempty"`
	State             string             `json:"state,omitempty"`
	Nonce             string             `json:"nonce,omitempty"`
}

// SessionStore keeps FlowState by session id.
type SessionStore interface {
	Get(ctx context.Context, id string) (*FlowState, bool, error)
	Put(ctx context.Context, id string, st *FlowState) error
	Remove(ctx context.Context, id string) error
}

// StoreSessionStore is a SessionStore over a byte Store. Each Get decodes a
// fresh FlowState.
type StoreSessionStore struct {
	store Store
	ttl   time.Duration
}

func NewStoreSessionStore(store Store, ttl time.Duration) *StoreSessionStore {
	return &StoreSessionStore{store: store, ttl: ttl}
}

// NewMemorySessionStore keeps flow state in process.
func NewMemorySessionStore(ttl time.Duration) *StoreSessionStore {
	return NewStoreSessionStore(icache.NewMemoryStore("session:", time.Minute), ttl)
}

// NewRedisSessionStore keeps flow state in Redis under keyPrefix+"session:".
func NewRedisSessionStore(client *redis.Client, keyPrefix string, ttl time.Duration) (*StoreSessionStore, error) {
	store, err := icache.NewRedisStore(icache.RedisConfig{Client: client, KeyPrefix: keyPrefix + "session:"})
	if err != nil {
		return nil, err
	}
	return NewStoreSessionStore(store, ttl), nil
}

func (s *StoreSessionStore) Get(ctx context.Context, id string) (*FlowState, bool, error) {
	b, ok, err := s.store.Get(ctx, id)
	if err != nil || !ok {
		return nil, false, err
	}
	var st FlowState
	if err := json.Unmarshal(b, &st); err != nil {
		_ = s.store.Del(ctx, id)
		return nil, false, fmt.Errorf("decode flow state: %w", err)
	}
	return &st, true, nil
}

func (s *StoreSessionStore) Put(ctx context.Context, id string, st *FlowState) error {
	b, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode flow state: %w", err)
	}
	return s.store.Set(ctx, id, b, s.ttl)
}

func (s *StoreSessionStore) Remove(ctx context.Context, id string) error {
	return s.store.Del(ctx, id)
}

// sealedSession is the session token payload. ID binds the token to one
// session; Exp is unix seconds.
type sealedSession struct {
	ID    string    `json:"id"`
	Exp   int64     `json:"exp"`
	State FlowState `json:"state"`
}

// Sessions runs the flow with state kept per session id, so the host only
// passes the id and the redirect it received. Every status that carries
// state also carries a SessionToken: hosts without a shared store can hand
// it back instead. A nil store makes the token the only carrier.
//
// Concurrency: safe for concurrent use. Steps of the same session must not
// overlap.
type Sessions struct {
	mc    *Interface
	store SessionStore
	ttl   time.Duration
}

// Sessions binds the flow to store.
func (mc *Interface) Sessions(store SessionStore) *Sessions {
	return &Sessions{mc: mc, store: store, ttl: mc.cfg.Session.TTL}
}

// AttemptDiscovery starts a fresh flow for id, dropping any earlier state.
func (s *Sessions) AttemptDiscovery(ctx context.Context, id string, opts *DiscoveryOptions, cookies []*http.Cookie) Status {
	if err := s.Remove(ctx, id); err != nil {
		return s.mc.fail(errorStatus(err))
	}
	return s.saveDiscovery(ctx, id, s.mc.AttemptDiscovery(ctx, opts, cookies))
}

func (s *Sessions) AttemptDiscoveryAfterOperatorSelection(ctx context.Context, id, redirectedURL string, opts *DiscoveryOptions, cookies []*http.Cookie) Status {
	return s.saveDiscovery(ctx, id, s.mc.AttemptDiscoveryAfterOperatorSelection(ctx, redirectedURL, opts, cookies))
}

func (s *Sessions) saveDiscovery(ctx context.Context, id string, st Status) Status {
	ready, ok := st.(ReadyToAuthenticateStatus)
	if !ok {
		return st
	}
	token, err := s.save(ctx, id, &FlowState{DiscoveryResponse: ready.DiscoveryResponse, EncryptedMSISDN: ready.EncryptedMSISDN})
	if err != nil {
		return s.mc.fail(errorStatus(err))
	}
	ready.SessionToken = token
	return ready
}

// StartAuthentication builds the authorization redirect for the session's
// discovery result with a fresh state and nonce. Without a discovery result
// it yields StartDiscovery.
func (s *Sessions) StartAuthentication(ctx context.Context, id, token string, opts *AuthenticationOptions) Status {
	fs, ok, err := s.Load(ctx, id, token)
	if err != nil {
		return s.mc.fail(errorStatus(err))
	}
	if !ok || fs.DiscoveryResponse == nil {
		return StartDiscoveryStatus{}
	}
	st := s.mc.StartAuthentication(fs.DiscoveryResponse, fs.EncryptedMSISDN, uuid.NewString(), uuid.NewString(), opts)
	redirect, ok := st.(AuthorizationRedirectStatus)
	if !ok {
		return st
	}
	fs.State, fs.Nonce = redirect.State, redirect.Nonce
	if redirect.SessionToken, err = s.save(ctx, id, fs); err != nil {
		return s.mc.fail(errorStatus(err))
	}
	return redirect
}

// HandleURLRedirect dispatches a redirect for the session. An authorization
// result ends the flow: its state is removed whatever the outcome.
func (s *Sessions) HandleURLRedirect(ctx context.Context, id, token, redirectedURL string, opts *DiscoveryOptions, cookies []*http.Cookie) Status {
	u, err := url.Parse(redirectedURL)
	if err != nil || redirectedURL == "" {
		return s.mc.fail(errorStatus(fmt.Errorf("%w: redirect url is unreadable", ErrInvalidArgument)))
	}
	q := u.Query()
	switch {
	case q.Has("mcc_mnc"):
		return s.AttemptDiscoveryAfterOperatorSelection(ctx, id, redirectedURL, opts, cookies)
	case q.Has("code"), q.Has("error"):
	default:
		return StartDiscoveryStatus{}
	}

	fs, ok, err := s.Load(ctx, id, token)
	if err != nil {
		return s.mc.fail(errorStatus(err))
	}
	if !ok || fs.DiscoveryResponse == nil {
		return StartDiscoveryStatus{}
	}
	st := s.mc.RequestToken(ctx, fs.DiscoveryResponse, redirectedURL, fs.State, fs.Nonce)
	if _, restart := st.(StartDiscoveryStatus); !restart {
		if err := s.Remove(ctx, id); err != nil {
			s.mc.logger.Warn("flow state removal failed", "error", err)
		}
	}
	return st
}

// Load returns the session's state from the store, or from token when the
// store has none. A token sealed for another session or past its lifetime
// is ErrInvalidSession.
func (s *Sessions) Load(ctx context.Context, id, token string) (*FlowState, bool, error) {
	if id == "" {
		return nil, false, fmt.Errorf("%w: session id is required", ErrInvalidArgument)
	}
	if s.store != nil {
		fs, ok, err := s.store.Get(ctx, id)
		if err != nil {
			s.mc.logger.Warn("flow state lookup failed", "error", err)
		} else if ok {
			return fs, true, nil
		}
	}
	if token == "" {
		return nil, false, nil
	}
	var sealed sealedSession
	if err := s.mc.sealer.Open(token, &sealed); err != nil {
		return nil, false, err
	}
	if sealed.ID != id {
		return nil, false, fmt.Errorf("%w: token belongs to another session", ErrInvalidSession)
	}
	if s.mc.now().Unix() >= sealed.Exp {
		return nil, false, fmt.Errorf("%w: token expired", ErrInvalidSession)
	}
	return &sealed.State, true, nil
}

// Remove drops the session's state.
func (s *Sessions) Remove(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("%w: session id is required", ErrInvalidArgument)
	}
	if s.store == nil {
		return nil
	}
	return s.store.Remove(ctx, id)
}

func (s *Sessions) save(ctx context.Context, id string, fs *FlowState) (string, error) {
	if s.store != nil {
		if err := s.store.Put(ctx, id, fs); err != nil {
			return "", fmt.Errorf("store flow state: %w", err)
		}
	}
	token, err := s.mc.sealer.Seal(sealedSession{ID: id, Exp: s.mc.now().Add(s.ttl).Unix(), State: *fs})
	if err != nil {
		return "", errors.Join(ErrInvalidSession, err)
	}
	return token, nil
}
