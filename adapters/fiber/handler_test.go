package mcfiber

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/keksclan/goMobileConnect/mobileconnect"
)

func newInterface(t *testing.T) (*mobileconnect.Interface, string) {
	t.Helper()
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("Identified-MCC") == "902" {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"invalid_request","description":"unknown network"}`))
			return
		}
		w.WriteHeader(http.StatusAccepted)
		fmt.Fprintf(w, `{"links":[{"rel":"operatorSelection","href":"%s/select"}]}`, srv.URL)
	}))
	t.Cleanup(srv.Close)
	mc, err := mobileconnect.New(mobileconnect.Config{
		ClientID:     "abc",
		ClientSecret: "secret",
		DiscoveryURL: srv.URL + "/discovery",
		RedirectURL:  "http://localhost/mc/callback",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(mc.Close)
	return mc, srv.URL
}

func TestRegister(t *testing.T) {
	mc, opURL := newInterface(t)
	app := fiber.New()
	Register(app, "/mc", mc, mobileconnect.NewMemorySessionStore(0))

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/mc/start", nil))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if resp.StatusCode != http.StatusFound || resp.Header.Get("Location") != opURL+"/select" {
		t.Fatalf("expected operator selection redirect, got %d %q", resp.StatusCode, resp.Header.Get("Location"))
	}
	var sid string
	for _, c := range resp.Cookies() {
		if c.Name == "mc_session" {
			sid = c.Value
		}
	}
	if sid == "" {
		t.Fatal("session cookie not set")
	}

	req := httptest.NewRequest(http.MethodGet, "/mc/start?mcc=902&mnc=01", nil)
	req.AddCookie(&http.Cookie{Name: "mc_session", Value: sid})
	resp, err = app.Test(req)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	var body map[string]any
	json.NewDecoder(resp.Body).Decode(&body)
	if resp.StatusCode != http.StatusUnauthorized || body["error"] != "invalid_request" {
		t.Errorf("expected operator error, got %d %v", resp.StatusCode, body)
	}

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/mc/callback?code=c1", nil))
	if err != nil {
		t.Fatalf("callback: %v", err)
	}
	body = nil
	json.NewDecoder(resp.Body).Decode(&body)
	if body["kind"] != string(mobileconnect.KindStartDiscovery) {
		t.Errorf("callback without session: %v", body)
	}
}
