package mobileconnect

import (
	"errors"

	"github.com/keksclan/goMobileConnect/internal/mcerr"
	"github.com/keksclan/goMobileConnect/internal/rest"
	"github.com/keksclan/goMobileConnect/internal/sessiontoken"
)

var (
	ErrInvalidArgument = mcerr.ErrInvalidArgument
	ErrInvalidResponse = mcerr.ErrInvalidResponse
	ErrMissingEndpoint = mcerr.ErrMissingEndpoint
	ErrRequestFailed   = rest.ErrRequestFailed
	ErrTimeout         = rest.ErrTimeout
	ErrInvalidSession  = sessiontoken.ErrInvalidToken
	ErrInvalidConfig   = errors.New("invalid config")
)

// Error codes carried by ErrorStatus. Operator errors keep the operator's
// own "error" value.
const (
	CodeInvalidArgument    = "invalid_argument"
	CodeHTTPFailure        = "http_failure"
	CodeInvalidResponse    = "invalid_response"
	CodeDiscoveryError     = "discovery_error"
	CodeStateMismatch      = "state_mismatch"
	CodeInvalidIDToken     = "invalid_id_token"
	CodeInvalidAccessToken = "invalid_access_token"
	CodeMissingEndpoint    = "missing_endpoint"
	// CodeClaimsRejected: the claims policy rejected a valid ID token.
	CodeClaimsRejected = "claims_rejected"
	CodeInvalidSession = "invalid_session"
	CodeUnknown        = "unknown_error"
)

// RequestError describes a failed HTTP exchange with the operator.
type RequestError = rest.RequestError

func errorCode(err error) string {
	var re *rest.RequestError
	switch {
	case errors.Is(err, ErrInvalidArgument):
		return CodeInvalidArgument
	case errors.Is(err, ErrInvalidSession):
		return CodeInvalidSession
	case errors.Is(err, ErrMissingEndpoint):
		return CodeMissingEndpoint
	case errors.Is(err, ErrInvalidResponse):
		return CodeInvalidResponse
	case errors.Is(err, ErrTimeout), errors.Is(err, ErrRequestFailed), errors.As(err, &re):
		return CodeHTTPFailure
	default:
		return CodeUnknown
	}
}
