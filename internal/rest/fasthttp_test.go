package rest

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestFastHTTPClient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/echo":
			user, pass, ok := r.BasicAuth()
			if !ok || user != "client" || pass != "secret" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			if ck, err := r.Cookie("most-recent-selected-operator"); err != nil || ck.Value != "op1" {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			w.Header().Set("X-Source-IP", r.Header.Get("X-Source-IP"))
			w.Write([]byte(r.URL.RawQuery))
		case "/form":
			if r.Header.Get("Authorization") != "Bearer tok" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			body, _ := io.ReadAll(r.Body)
			w.Write(body)
		case "/slow":
			time.Sleep(300 * time.Millisecond)
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error":"not_found"}`))
		}
	}))
	defer server.Close()

	c := NewFastHTTPClient(5 * time.Second)
	ctx := context.Background()

	t.Run("Get with basic auth, cookies and headers", func(t *testing.T) {
		uri := AppendQuery(server.URL+"/echo", []KeyValue{{"Redirect_URL", "http://localhost/cb"}, {"Identified-MCC", "901"}})
		resp, err := c.Get(ctx, uri, Basic("client", "secret"),
			[]Header{{"X-Source-IP", "10.0.0.1"}},
			[]*http.Cookie{{Name: "most-recent-selected-operator", Value: "op1"}})
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got := string(resp.Body); got != "Redirect_URL=http%3A%2F%2Flocalhost%2Fcb&Identified-MCC=901" {
			t.Errorf("unexpected query %q", got)
		}
		if resp.Header("x-source-ip") != "10.0.0.1" {
			t.Errorf("header not echoed, headers=%v", resp.Headers)
		}
	})

	t.Run("PostForm keeps field order", func(t *testing.T) {
		resp, err := c.PostForm(ctx, server.URL+"/form", Bearer("tok"),
			[]KeyValue{{"grant_type", "authorization_code"}, {"code", "abc"}}, nil, nil)
		if err != nil {
			t.Fatalf("PostForm: %v", err)
		}
		if string(resp.Body) != "grant_type=authorization_code&code=abc" {
			t.Errorf("unexpected body %q", resp.Body)
		}
	})

	t.Run("Non-2xx is a RequestError with body", func(t *testing.T) {
		_, err := c.Get(ctx, server.URL+"/missing", nil, nil, nil)
		var re *RequestError
		if !errors.As(err, &re) {
			t.Fatalf("expected RequestError, got %v", err)
		}
		if re.StatusCode != http.StatusNotFound || string(re.Body) != `{"error":"not_found"}` {
			t.Errorf("unexpected error details: %+v", re)
		}
		if !errors.Is(err, ErrRequestFailed) {
			t.Errorf("expected ErrRequestFailed, got %v", err)
		}
	})

	t.Run("Deadline surfaces ErrTimeout", func(t *testing.T) {
		tctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		defer cancel()
		_, err := c.Get(tctx, server.URL+"/slow", nil, nil, nil)
		if !errors.Is(err, ErrTimeout) {
			t.Fatalf("expected ErrTimeout, got %v", err)
		}
	})

	t.Run("Connection failure is ErrRequestFailed", func(t *testing.T) {
		_, err := c.Get(ctx, "http://127.0.0.1:1/", nil, nil, nil)
		if !errors.Is(err, ErrRequestFailed) && !errors.Is(err, ErrTimeout) {
			t.Fatalf("expected transport error, got %v", err)
		}
		var re *RequestError
		if errors.As(err, &re) && re.StatusCode != 0 {
			t.Errorf("expected no status for connection failure, got %d", re.StatusCode)
		}
	})
}
