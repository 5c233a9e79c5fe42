package mobileconnect

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"
)

func TestSessionsFlow(t *testing.T) {
	op := newOperator(t)
	mc := newTestInterface(t, testConfig(op))
	store := NewMemorySessionStore(time.Minute)
	sessions := mc.Sessions(store)
	ctx := context.Background()

	st := sessions.AttemptDiscovery(ctx, "sid-1", identifiedOptions(), nil)
	ready, ok := st.(ReadyToAuthenticateStatus)
	if !ok || ready.SessionToken == "" {
		t.Fatalf("expected ReadyToAuthenticate with token, got %#v", st)
	}

	st = sessions.StartAuthentication(ctx, "sid-1", "", nil)
	redirect, ok := st.(AuthorizationRedirectStatus)
	if !ok {
		t.Fatalf("expected AuthorizationRedirect, got %#v", st)
	}
	if redirect.State == "" || redirect.Nonce == "" || redirect.SessionToken == "" {
		t.Fatalf("state and nonce must be generated: %+v", redirect)
	}
	u, _ := url.Parse(redirect.URL)
	if q := u.Query(); q.Get("state") != redirect.State || q.Get("login_hint") != "ENCR_MSISDN:enc-msisdn" {
		t.Errorf("unexpected query %v", q)
	}

	fs, ok, err := store.Get(ctx, "sid-1")
	if err != nil || !ok || fs.State != redirect.State || fs.Nonce != redirect.Nonce {
		t.Fatalf("stored state %+v %v %v", fs, ok, err)
	}

	op.setNonce(redirect.Nonce)
	st = sessions.HandleURLRedirect(ctx, "sid-1", "", testRedirectURL+"?code=c1&state="+url.QueryEscape(redirect.State), nil, nil)
	if st.Kind() != KindComplete {
		t.Fatalf("expected Complete, got %#v", st)
	}
	if _, ok, _ := store.Get(ctx, "sid-1"); ok {
		t.Error("flow state kept after completion")
	}

	// Replaying the redirect finds no state.
	st = sessions.HandleURLRedirect(ctx, "sid-1", "", testRedirectURL+"?code=c1&state="+url.QueryEscape(redirect.State), nil, nil)
	if st.Kind() != KindStartDiscovery {
		t.Errorf("expected StartDiscovery on replay, got %#v", st)
	}
}

func TestSessionsTokenOnly(t *testing.T) {
	op := newOperator(t)
	mc := newTestInterface(t, testConfig(op))
	sessions := mc.Sessions(nil)
	ctx := context.Background()

	st := sessions.AttemptDiscovery(ctx, "sid-2", identifiedOptions(), nil)
	ready, ok := st.(ReadyToAuthenticateStatus)
	if !ok {
		t.Fatalf("expected ReadyToAuthenticate, got %#v", st)
	}

	st = sessions.StartAuthentication(ctx, "sid-2", ready.SessionToken, nil)
	redirect, ok := st.(AuthorizationRedirectStatus)
	if !ok {
		t.Fatalf("expected AuthorizationRedirect, got %#v", st)
	}

	fs, ok, err := sessions.Load(ctx, "sid-2", redirect.SessionToken)
	if err != nil || !ok || fs.Nonce != redirect.Nonce || fs.DiscoveryResponse.ClientID() != "op-client" {
		t.Fatalf("Load: %+v %v %v", fs, ok, err)
	}

	if _, _, err := sessions.Load(ctx, "sid-other", redirect.SessionToken); !errors.Is(err, ErrInvalidSession) {
		t.Errorf("expected ErrInvalidSession for foreign session, got %v", err)
	}
	if _, _, err := sessions.Load(ctx, "sid-2", "garbage"); !errors.Is(err, ErrInvalidSession) {
		t.Errorf("expected ErrInvalidSession for garbage, got %v", err)
	}

	st = sessions.StartAuthentication(ctx, "sid-2", "", nil)
	if st.Kind() != KindStartDiscovery {
		t.Errorf("expected StartDiscovery without state, got %#v", st)
	}

	st = sessions.HandleURLRedirect(ctx, "sid-2", "tampered", testRedirectURL+"?code=c1", nil, nil)
	if e, ok := st.(ErrorStatus); !ok || e.Code != CodeInvalidSession {
		t.Errorf("expected invalid_session, got %#v", st)
	}
}

func TestSessionsTokenExpiry(t *testing.T) {
	op := newOperator(t)
	now := time.Now()
	clock := func() time.Time { return now }
	cfg := testConfig(op)
	cfg.Session.TTL = time.Minute
	mc := newTestInterface(t, cfg, WithClock(clock))
	sessions := mc.Sessions(nil)
	ctx := context.Background()

	st := sessions.AttemptDiscovery(ctx, "sid-3", identifiedOptions(), nil)
	ready, ok := st.(ReadyToAuthenticateStatus)
	if !ok {
		t.Fatalf("expected ReadyToAuthenticate, got %#v", st)
	}
	now = now.Add(2 * time.Minute)
	if _, _, err := sessions.Load(ctx, "sid-3", ready.SessionToken); !errors.Is(err, ErrInvalidSession) {
		t.Errorf("expected expired token, got %v", err)
	}
}

func TestSessionsRequireID(t *testing.T) {
	op := newOperator(t)
	mc := newTestInterface(t, testConfig(op))
	st := mc.Sessions(nil).AttemptDiscovery(context.Background(), "", identifiedOptions(), nil)
	if e, ok := st.(ErrorStatus); !ok || e.Code != CodeInvalidArgument {
		t.Errorf("expected invalid_argument, got %#v", st)
	}
}

func TestSessionTokenKeyFromConfig(t *testing.T) {
	op := newOperator(t)
	cfg := testConfig(op)
	cfg.Session.TokenKey = "AAECAwQFBgcICQoLDA0ODxAREhMUFRYXGBkaGxwdHh8="
	ctx := context.Background()

	a := newTestInterface(t, cfg)
	b := newTestInterface(t, cfg)
	st := a.Sessions(nil).AttemptDiscovery(ctx, "sid-4", identifiedOptions(), nil)
	ready, ok := st.(ReadyToAuthenticateStatus)
	if !ok {
		t.Fatalf("expected ReadyToAuthenticate, got %#v", st)
	}
	if _, ok, err := b.Sessions(nil).Load(ctx, "sid-4", ready.SessionToken); err != nil || !ok {
		t.Errorf("token not portable across instances with the same key: %v", err)
	}
}
