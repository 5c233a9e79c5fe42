package common

import (
	"errors"
	"net/http"
	"testing"

	"github.com/keksclan/goMobileConnect/mobileconnect"
)

type mapParams map[string]string

func (m mapParams) Get(key string) (string, bool) {
	v, ok := m[key]
	return v, ok
}

func TestDiscoveryOptions(t *testing.T) {
	got := DiscoveryOptions(mapParams{
		ParamMSISDN:     " +447700900000 ",
		ParamMCC:        "901",
		ParamMNC:        "01",
		ParamManual:     "true",
		ParamMobileData: "1",
		ParamLocalIP:    "10.0.0.1",
	}, "203.0.113.7")
	want := mobileconnect.DiscoveryOptions{
		MSISDN:          "+447700900000",
		IdentifiedMCC:   "901",
		IdentifiedMNC:   "01",
		ManuallySelect:  true,
		UsingMobileData: true,
		LocalClientIP:   "10.0.0.1",
		ClientIP:        "203.0.113.7",
	}
	if *got != want {
		t.Errorf("got %+v\nwant %+v", *got, want)
	}

	empty := DiscoveryOptions(mapParams{ParamManual: "maybe"}, "")
	if *empty != (mobileconnect.DiscoveryOptions{}) {
		t.Errorf("expected zero options, got %+v", *empty)
	}
}

func TestCallbackURL(t *testing.T) {
	tests := []struct{ base, query, want string }{
		{"http://localhost/cb", "code=1", "http://localhost/cb?code=1"},
		{"http://localhost/cb?x=1", "code=1", "http://localhost/cb?code=1"},
		{"http://localhost/cb", "", "http://localhost/cb"},
	}
	for _, tt := range tests {
		if got := CallbackURL(tt.base, tt.query); got != tt.want {
			t.Errorf("CallbackURL(%q, %q) = %q, want %q", tt.base, tt.query, got, tt.want)
		}
	}
}

func TestForwardCookies(t *testing.T) {
	got := ForwardCookies("mc_session=abc; Most-Recent-Selected-Operator=901_01; mc_session_token=xyz", DefaultSessionCookie, DefaultTokenCookie)
	if len(got) != 1 || got[0].Name != "Most-Recent-Selected-Operator" || got[0].Value != "901_01" {
		t.Errorf("unexpected cookies %v", got)
	}
	if ForwardCookies("") != nil {
		t.Error("expected nil for empty header")
	}
}

func TestRender(t *testing.T) {
	tests := []struct {
		name     string
		st       mobileconnect.Status
		status   int
		location string
		end      bool
	}{
		{"operator selection", mobileconnect.OperatorSelectionStatus{URL: "https://op/select"}, http.StatusFound, "https://op/select", false},
		{"authorization", mobileconnect.AuthorizationRedirectStatus{URL: "https://op/authorize", SessionToken: "t"}, http.StatusFound, "https://op/authorize", false},
		{"start discovery", mobileconnect.StartDiscoveryStatus{}, http.StatusOK, "", true},
		{"complete", mobileconnect.CompleteStatus{IDTokenClaims: mobileconnect.Document{"sub": "s"}}, http.StatusOK, "", true},
		{"bad request", mobileconnect.ErrorStatus{Code: mobileconnect.CodeInvalidArgument}, http.StatusBadRequest, "", true},
		{"upstream", mobileconnect.ErrorStatus{Code: mobileconnect.CodeUnknown, Err: errors.Join(mobileconnect.ErrTimeout)}, http.StatusBadGateway, "", true},
		{"key set unavailable", mobileconnect.ErrorStatus{Code: mobileconnect.CodeHTTPFailure, Err: &mobileconnect.RequestError{StatusCode: http.StatusServiceUnavailable}}, http.StatusBadGateway, "", true},
		{"operator error", mobileconnect.ErrorStatus{Code: "access_denied"}, http.StatusUnauthorized, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Render(tt.st)
			if r.StatusCode != tt.status || r.Location != tt.location || r.EndSession != tt.end {
				t.Errorf("unexpected reply %+v", r)
			}
			if r.Location == "" && r.Body["kind"] != tt.st.Kind() {
				t.Errorf("body kind %v", r.Body["kind"])
			}
		})
	}

	r := Render(mobileconnect.ErrorStatus{Code: "access_denied", Description: "cancelled"})
	if r.Body["error"] != "access_denied" || r.Body["error_description"] != "cancelled" {
		t.Errorf("error body %v", r.Body)
	}
}
