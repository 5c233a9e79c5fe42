package mobileconnect

import (
	"context"
	"net/http"

	"golang.org/x/sync/errgroup"
)

// Async runs flow calls on a bounded pool and hands each Status back on a
// channel that receives exactly one value. Submitting blocks while every
// worker is busy.
//
// Concurrency: safe for concurrent use.
type Async struct {
	mc *Interface
	g  errgroup.Group
}

// Async returns a pool of Config.Async.Workers workers.
func (mc *Interface) Async() *Async {
	a := &Async{mc: mc}
	a.g.SetLimit(mc.cfg.Async.Workers)
	return a
}

func (a *Async) AttemptDiscovery(ctx context.Context, opts *DiscoveryOptions, cookies []*http.Cookie) <-chan Status {
	return a.submit(func() Status { return a.mc.AttemptDiscovery(ctx, opts, cookies) })
}

func (a *Async) AttemptDiscoveryAfterOperatorSelection(ctx context.Context, redirectedURL string, opts *DiscoveryOptions, cookies []*http.Cookie) <-chan Status {
	return a.submit(func() Status {
		return a.mc.AttemptDiscoveryAfterOperatorSelection(ctx, redirectedURL, opts, cookies)
	})
}

func (a *Async) RequestToken(ctx context.Context, resp *DiscoveryResponse, redirectedURL, expectedState, expectedNonce string) <-chan Status {
	return a.submit(func() Status {
		return a.mc.RequestToken(ctx, resp, redirectedURL, expectedState, expectedNonce)
	})
}

func (a *Async) HandleURLRedirect(ctx context.Context, redirectedURL string, resp *DiscoveryResponse, expectedState, expectedNonce string, opts *DiscoveryOptions, cookies []*http.Cookie) <-chan Status {
	return a.submit(func() Status {
		return a.mc.HandleURLRedirect(ctx, redirectedURL, resp, expectedState, expectedNonce, opts, cookies)
	})
}

// Wait blocks until every submitted call has finished.
func (a *Async) Wait() {
	_ = a.g.Wait()
}

func (a *Async) submit(fn func() Status) <-chan Status {
	ch := make(chan Status, 1)
	a.g.Go(func() error {
		ch <- fn()
		close(ch)
		return nil
	})
	return ch
}
