package rest

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/valyala/fasthttp"
)

// maxResponseSize limits response bodies to prevent memory bombs.
const maxResponseSize = 1 << 20 // 1 MB

// DefaultTimeout applies when neither the caller context nor the client
// configuration sets one.
const DefaultTimeout = 10 * time.Second

const userAgent = "goMobileConnect"

// FastHTTPClient is the default Client, built on fasthttp.
type FastHTTPClient struct {
	client  *fasthttp.Client
	timeout time.Duration
}

// NewFastHTTPClient returns a Client whose requests are bounded by timeout
// or by the caller's context deadline, whichever is earlier.
func NewFastHTTPClient(timeout time.Duration) *FastHTTPClient {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &FastHTTPClient{
		client: &fasthttp.Client{
			Name:                userAgent,
			MaxResponseBodySize: maxResponseSize,
			ReadTimeout:         timeout,
			WriteTimeout:        timeout,
		},
		timeout: timeout,
	}
}

func (c *FastHTTPClient) Get(ctx context.Context, uri string, auth *Authentication, headers []Header, cookies []*http.Cookie) (*Response, error) {
	return c.do(ctx, http.MethodGet, uri, auth, headers, cookies, nil)
}

func (c *FastHTTPClient) PostForm(ctx context.Context, uri string, auth *Authentication, form []KeyValue, headers []Header, cookies []*http.Cookie) (*Response, error) {
	return c.do(ctx, http.MethodPost, uri, auth, headers, cookies, form)
}

func (c *FastHTTPClient) do(ctx context.Context, method, uri string, auth *Authentication, headers []Header, cookies []*http.Cookie, form []KeyValue) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, &RequestError{Method: method, URI: uri, Err: contextError(err)}
	}

	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(uri)
	req.Header.SetMethod(method)
	for _, h := range headers {
		req.Header.Add(h.Name, h.Value)
	}
	for _, ck := range cookies {
		if ck != nil {
			req.Header.SetCookie(ck.Name, ck.Value)
		}
	}
	applyAuth(req, auth)
	if method == http.MethodPost {
		req.Header.SetContentType("application/x-www-form-urlencoded")
		req.SetBodyString(EncodeForm(form))
	}

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	if err := c.client.DoDeadline(req, resp, deadline); err != nil {
		if errors.Is(err, fasthttp.ErrTimeout) || errors.Is(err, fasthttp.ErrDialTimeout) {
			return nil, &RequestError{Method: method, URI: uri, Err: fmt.Errorf("%w: %v", ErrTimeout, err)}
		}
		return nil, &RequestError{Method: method, URI: uri, Err: fmt.Errorf("%w: %v", ErrRequestFailed, err)}
	}

	var respHeaders []Header
	resp.Header.VisitAll(func(k, v []byte) {
		respHeaders = append(respHeaders, Header{Name: string(k), Value: string(v)})
	})
	body := append([]byte(nil), resp.Body()...)
	status := resp.StatusCode()

	if status < 200 || status > 299 {
		return nil, &RequestError{
			Method:     method,
			URI:        uri,
			StatusCode: status,
			Headers:    respHeaders,
			Body:       body,
			Err:        ErrRequestFailed,
		}
	}
	return &Response{StatusCode: status, Headers: respHeaders, Body: body}, nil
}

func applyAuth(req *fasthttp.Request, auth *Authentication) {
	if auth == nil {
		return
	}
	switch auth.Kind {
	case AuthKindBasic:
		cred := base64.StdEncoding.EncodeToString([]byte(auth.Username + ":" + auth.Password))
		req.Header.Set("Authorization", "Basic "+cred)
	case AuthKindBearer:
		req.Header.Set("Authorization", "Bearer "+auth.Token)
	}
}

func contextError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrRequestFailed, err)
}
