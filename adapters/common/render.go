package common

import (
	"errors"
	"net/http"

	"github.com/keksclan/goMobileConnect/mobileconnect"
)

// Reply is what an adapter writes for a Status.
type Reply struct {
	StatusCode int
	// Location is set for redirects.
	Location string
	Body     map[string]any
	// SessionToken, when set, replaces the token cookie.
	SessionToken string
	// EndSession clears the token cookie.
	EndSession bool
}

// Render maps a Status to a Reply. Tokens are never put in the body.
func Render(st mobileconnect.Status) Reply {
	switch s := st.(type) {
	case mobileconnect.OperatorSelectionStatus:
		return Reply{StatusCode: http.StatusFound, Location: s.URL}
	case mobileconnect.AuthorizationRedirectStatus:
		return Reply{StatusCode: http.StatusFound, Location: s.URL, SessionToken: s.SessionToken}
	case mobileconnect.StartDiscoveryStatus:
		return Reply{
			StatusCode: http.StatusOK,
			Body:       map[string]any{"kind": s.Kind()},
			EndSession: true,
		}
	case mobileconnect.ReadyToAuthenticateStatus:
		return Reply{
			StatusCode:   http.StatusOK,
			Body:         map[string]any{"kind": s.Kind(), "serving_operator": s.DiscoveryResponse.ServingOperator()},
			SessionToken: s.SessionToken,
		}
	case mobileconnect.CompleteStatus:
		body := map[string]any{
			"kind":   s.Kind(),
			"claims": s.IDTokenClaims,
		}
		if s.Token != nil && s.Token.Data != nil {
			body["scope"] = s.Token.Data.Scope
			if exp := s.Token.ExpiresAt(); !exp.IsZero() {
				body["expires_at"] = exp
			}
		}
		return Reply{StatusCode: http.StatusOK, Body: body, EndSession: true}
	case mobileconnect.ErrorStatus:
		return Reply{
			StatusCode: errorHTTPStatus(s),
			Body: map[string]any{
				"kind":              s.Kind(),
				"error":             s.Code,
				"error_description": s.Description,
			},
			EndSession: true,
		}
	default:
		return Reply{StatusCode: http.StatusInternalServerError, Body: map[string]any{"error": mobileconnect.CodeUnknown}}
	}
}

func errorHTTPStatus(s mobileconnect.ErrorStatus) int {
	switch {
	case s.Code == mobileconnect.CodeInvalidArgument, s.Code == mobileconnect.CodeInvalidSession:
		return http.StatusBadRequest
	case s.Code == mobileconnect.CodeHTTPFailure, errors.Is(s.Err, mobileconnect.ErrTimeout):
		return http.StatusBadGateway
	default:
		return http.StatusUnauthorized
	}
}
