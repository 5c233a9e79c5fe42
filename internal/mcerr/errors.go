// Package mcerr holds the error sentinels shared by the discovery and
// authentication orchestrators. The public package re-exports them.
package mcerr

import "errors"

var (
	// ErrInvalidArgument marks a missing or malformed required input. It is
	// always returned before any network I/O.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrInvalidResponse marks a response whose shape cannot be used.
	ErrInvalidResponse = errors.New("invalid response")
	// ErrMissingEndpoint marks a discovery result without a required
	// operator endpoint.
	ErrMissingEndpoint = errors.New("missing endpoint")
)
