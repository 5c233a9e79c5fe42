// Package rest is the HTTP collaborator used for discovery, token, key set
// and userinfo requests.
//
// Concurrency: Client implementations must be safe for concurrent use.
package rest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

var (
	// ErrRequestFailed marks a request that produced no usable response:
	// connection failure, non-2xx status or unreadable body.
	ErrRequestFailed = errors.New("request failed")
	// ErrTimeout marks a request abandoned because of a deadline.
	ErrTimeout = errors.New("request timed out")
)

// Header is one response or request header line. Order is preserved.
type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// KeyValue is one form field. Order is preserved on the wire.
type KeyValue struct {
	Key   string
	Value string
}

// AuthKind selects how a request authenticates.
type AuthKind string

const (
	AuthKindNone   AuthKind = ""
	AuthKindBasic  AuthKind = "basic"
	AuthKindBearer AuthKind = "bearer"
)

// Authentication holds request credentials.
type Authentication struct {
	Kind     AuthKind
	Username string
	Password string
	Token    string
}

// Basic returns Basic credentials for clientID/clientSecret.
func Basic(clientID, clientSecret string) *Authentication {
	return &Authentication{Kind: AuthKindBasic, Username: clientID, Password: clientSecret}
}

// Bearer returns bearer credentials for token.
func Bearer(token string) *Authentication {
	return &Authentication{Kind: AuthKindBearer, Token: token}
}

// Response is a completed 2xx exchange.
type Response struct {
	StatusCode int
	Headers    []Header
	Body       []byte
}

// Header returns the first header value matching name, case-insensitively.
func (r *Response) Header(name string) string {
	return headerValue(r.Headers, name)
}

// RequestError describes a failed exchange. StatusCode is zero when no
// response was received.
type RequestError struct {
	Method     string
	URI        string
	StatusCode int
	Headers    []Header
	Body       []byte
	Err        error
}

func (e *RequestError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: status %d", e.Method, e.URI, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: %v", e.Method, e.URI, e.Err)
}

func (e *RequestError) Unwrap() error { return e.Err }

// Client performs HTTP requests on behalf of the orchestrators.
type Client interface {
	Get(ctx context.Context, uri string, auth *Authentication, headers []Header, cookies []*http.Cookie) (*Response, error)
	PostForm(ctx context.Context, uri string, auth *Authentication, form []KeyValue, headers []Header, cookies []*http.Cookie) (*Response, error)
}

// EncodeForm encodes fields in order as application/x-www-form-urlencoded.
func EncodeForm(fields []KeyValue) string {
	var sb strings.Builder
	for i, f := range fields {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(url.QueryEscape(f.Key))
		sb.WriteByte('=')
		sb.WriteString(url.QueryEscape(f.Value))
	}
	return sb.String()
}

// AppendQuery appends fields to uri's query string in order.
func AppendQuery(uri string, fields []KeyValue) string {
	if len(fields) == 0 {
		return uri
	}
	sep := "?"
	if strings.Contains(uri, "?") {
		sep = "&"
	}
	return uri + sep + EncodeForm(fields)
}

func headerValue(headers []Header, name string) string {
	for _, h := range headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}
