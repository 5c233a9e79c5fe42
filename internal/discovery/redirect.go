package discovery

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/keksclan/goMobileConnect/internal/mcerr"
)

// Redirect is what the operator selection page sends back.
type Redirect struct {
	MCC             string
	MNC             string
	EncryptedMSISDN string
}

// HasMCCAndMNC reports whether the user picked an operator.
func (r Redirect) HasMCCAndMNC() bool { return r.MCC != "" && r.MNC != "" }

// ParseDiscoveryRedirect reads mcc_mnc=<MCC>_<MNC> and subscriber_id from
// the redirect query. A URL without a query yields an empty Redirect.
func ParseDiscoveryRedirect(redirectURL string) (Redirect, error) {
	if redirectURL == "" {
		return Redirect{}, fmt.Errorf("%w: redirect url is required", mcerr.ErrInvalidArgument)
	}
	u, err := url.Parse(redirectURL)
	if err != nil {
		return Redirect{}, fmt.Errorf("%w: %v", mcerr.ErrInvalidArgument, err)
	}
	q := u.Query()
	r := Redirect{EncryptedMSISDN: q.Get("subscriber_id")}
	if mccMNC := q.Get("mcc_mnc"); mccMNC != "" {
		mcc, mnc, ok := strings.Cut(mccMNC, "_")
		if ok {
			r.MCC, r.MNC = mcc, mnc
		}
	}
	return r, nil
}
