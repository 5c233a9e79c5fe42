package main

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

const (
	sandboxKID          = "sandbox-kid"
	sandboxClientID     = "sandbox-client"
	sandboxClientSecret = "sandbox-secret"
	sandboxMCC          = "901"
	sandboxMNC          = "01"
)

// sandbox plays both the discovery service and a single operator. The
// authorize endpoint approves every request straight away.
type sandbox struct {
	baseURL string
	priv    *rsa.PrivateKey
	jwks    []byte
	logger  *slog.Logger

	mu    sync.Mutex
	codes map[string]grant
}

type grant struct {
	nonce   string
	expires time.Time
}

func newSandbox(baseURL string, logger *slog.Logger) (*sandbox, error) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("generate RSA key: %w", err)
	}
	key, err := jwk.FromRaw(&priv.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("jwk from raw: %w", err)
	}
	_ = key.Set(jwk.KeyIDKey, sandboxKID)
	_ = key.Set(jwk.AlgorithmKey, "RS256")
	_ = key.Set(jwk.KeyUsageKey, "sig")
	set := jwk.NewSet()
	if err := set.AddKey(key); err != nil {
		return nil, fmt.Errorf("jwk set: %w", err)
	}
	raw, err := json.Marshal(set)
	if err != nil {
		return nil, fmt.Errorf("marshal jwks: %w", err)
	}
	return &sandbox{
		baseURL: strings.TrimRight(baseURL, "/"),
		priv:    priv,
		jwks:    raw,
		logger:  logger,
		codes:   make(map[string]grant),
	}, nil
}

func (s *sandbox) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/discovery", s.discovery)
	mux.HandleFunc("/select", s.selectOperator)
	mux.HandleFunc("/.well-known/openid-configuration", s.providerMetadata)
	mux.HandleFunc("/authorize", s.authorize)
	mux.HandleFunc("/token", s.token)
	mux.HandleFunc("/jwks", s.keys)
	mux.HandleFunc("/userinfo", s.userinfo)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ---------------------------------------------------------------------------
// Discovery
// ---------------------------------------------------------------------------

func (s *sandbox) discovery(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_request", "description": err.Error()})
		return
	}
	if _, _, ok := r.BasicAuth(); !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "invalid_client", "description": "missing credentials"})
		return
	}
	mcc := firstNonEmpty(r.Form.Get("Identified-MCC"), r.Form.Get("Selected-MCC"))
	mnc := firstNonEmpty(r.Form.Get("Identified-MNC"), r.Form.Get("Selected-MNC"))
	msisdn := r.Form.Get("MSISDN")
	s.logger.Info("discovery", slog.String("mcc", mcc), slog.String("mnc", mnc), slog.Bool("msisdn", msisdn != ""))

	switch {
	case mcc != "" && (mcc != sandboxMCC || mnc != sandboxMNC):
		writeJSON(w, http.StatusOK, map[string]any{"error": "not_found", "description": "no operator for " + mcc + "_" + mnc})
	case mcc != "" || msisdn != "":
		writeJSON(w, http.StatusOK, s.identified())
	default:
		sel := s.baseURL + "/select?redirect_uri=" + url.QueryEscape(r.Form.Get("Redirect_URL"))
		writeJSON(w, http.StatusAccepted, map[string]any{
			"links": []map[string]string{{"rel": "operatorSelection", "href": sel}},
		})
	}
}

func (s *sandbox) identified() map[string]any {
	link := func(rel, path string) map[string]string {
		return map[string]string{"rel": rel, "href": s.baseURL + path}
	}
	return map[string]any{
		"ttl":           time.Now().Add(time.Hour).UnixMilli(),
		"subscriber_id": "sandbox-encrypted-msisdn",
		"response": map[string]any{
			"serving_operator": "Sandbox Operator",
			"client_id":        sandboxClientID,
			"client_secret":    sandboxClientSecret,
			"client_name":      "mcdemo",
			"apis": map[string]any{"operatorid": map[string]any{"link": []map[string]string{
				link("authorization", "/authorize"),
				link("token", "/token"),
				link("userinfo", "/userinfo"),
				link("jwks", "/jwks"),
				link("openid-configuration", "/.well-known/openid-configuration"),
			}}},
		},
	}
}

// selectOperator stands in for the operator picker page.
func (s *sandbox) selectOperator(w http.ResponseWriter, r *http.Request) {
	target, err := url.Parse(r.URL.Query().Get("redirect_uri"))
	if err != nil || !target.IsAbs() {
		http.Error(w, "redirect_uri is required", http.StatusBadRequest)
		return
	}
	q := target.Query()
	q.Set("mcc_mnc", sandboxMCC+"_"+sandboxMNC)
	q.Set("subscriber_id", "sandbox-encrypted-msisdn")
	target.RawQuery = q.Encode()
	http.Redirect(w, r, target.String(), http.StatusFound)
}

// ---------------------------------------------------------------------------
// Operator
// ---------------------------------------------------------------------------

func (s *sandbox) providerMetadata(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"issuer":                 s.baseURL,
		"authorization_endpoint": s.baseURL + "/authorize",
		"token_endpoint":         s.baseURL + "/token",
		"userinfo_endpoint":      s.baseURL + "/userinfo",
		"jwks_uri":               s.baseURL + "/jwks",
	})
}

func (s *sandbox) authorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	target, err := url.Parse(q.Get("redirect_uri"))
	if err != nil || !target.IsAbs() {
		http.Error(w, "redirect_uri is required", http.StatusBadRequest)
		return
	}
	code := uuid.NewString()
	s.mu.Lock()
	s.codes[code] = grant{nonce: q.Get("nonce"), expires: time.Now().Add(time.Minute)}
	s.mu.Unlock()

	back := target.Query()
	back.Set("code", code)
	if state := q.Get("state"); state != "" {
		back.Set("state", state)
	}
	target.RawQuery = back.Encode()
	http.Redirect(w, r, target.String(), http.StatusFound)
}

func (s *sandbox) token(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_request"})
		return
	}
	if user, pass, _ := r.BasicAuth(); user != sandboxClientID || pass != sandboxClientSecret {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "invalid_client"})
		return
	}
	code := r.PostForm.Get("code")
	s.mu.Lock()
	g, ok := s.codes[code]
	delete(s.codes, code)
	s.mu.Unlock()
	if !ok || time.Now().After(g.expires) {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_grant", "error_description": "unknown or used code"})
		return
	}

	idToken, err := s.mintIDToken(g.nonce)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "server_error"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": "sandbox-" + uuid.NewString(),
		"token_type":   "Bearer",
		"expires_in":   3600,
		"scope":        "openid",
		"id_token":     idToken,
	})
}

func (s *sandbox) mintIDToken(nonce string) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"iss":       s.baseURL,
		"aud":       sandboxClientID,
		"azp":       sandboxClientID,
		"sub":       "sandbox-subscriber",
		"acr":       "2",
		"amr":       []string{"SIM_OK"},
		"iat":       now.Unix(),
		"auth_time": now.Unix(),
		"exp":       now.Add(10 * time.Minute).Unix(),
	}
	if nonce != "" {
		claims["nonce"] = nonce
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = sandboxKID
	return tok.SignedString(s.priv)
}

func (s *sandbox) keys(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(s.jwks)
}

func (s *sandbox) userinfo(w http.ResponseWriter, r *http.Request) {
	if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer sandbox-") {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "invalid_token"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sub": "sandbox-subscriber", "phone_number": "+990000000000"})
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
