// Package mcgrpc provides gRPC interceptors that restore a Mobile Connect
// flow for the calling session.
//
// The interceptors read the session id and, optionally, the sealed session
// token from incoming metadata and load the session's FlowState through
// mobileconnect.Sessions. The state is stored in the context for the
// handler; FlowStateFromContext retrieves it.
//
// Concurrency: All exported functions are safe for concurrent use.
package mcgrpc

import (
	"context"
	"errors"
	"net"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/keksclan/goMobileConnect/adapters/common"
	"github.com/keksclan/goMobileConnect/mobileconnect"
)

// Default metadata keys.
const (
	DefaultSessionKey = "mc-session"
	DefaultTokenKey   = "mc-session-token"
)

type contextKey struct{}

type flow struct {
	sessionID string
	state     *mobileconnect.FlowState
}

// FlowStateFromContext returns the state loaded by the interceptor, or nil
// when the call carried no session or the session has no state.
func FlowStateFromContext(ctx context.Context) *mobileconnect.FlowState {
	v, _ := ctx.Value(contextKey{}).(*flow)
	if v == nil {
		return nil
	}
	return v.state
}

// SessionIDFromContext returns the session id the call carried.
func SessionIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(contextKey{}).(*flow)
	if v == nil {
		return ""
	}
	return v.sessionID
}

// Option configures the gRPC interceptors.
type Option func(*options)

type options struct {
	sessionKey string
	tokenKey   string
	required   bool
}

// WithMetadataKeys overrides the metadata keys carrying the session id and
// token.
func WithMetadataKeys(session, token string) Option {
	return func(o *options) {
		if session != "" {
			o.sessionKey = strings.ToLower(session)
		}
		if token != "" {
			o.tokenKey = strings.ToLower(token)
		}
	}
}

// WithRequiredFlowState rejects calls without a stored flow with
// codes.FailedPrecondition.
func WithRequiredFlowState(required bool) Option {
	return func(o *options) {
		o.required = required
	}
}

func buildOptions(opts []Option) options {
	o := options{sessionKey: DefaultSessionKey, tokenKey: DefaultTokenKey}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// UnaryServerInterceptor returns a gRPC unary server interceptor that loads
// the caller's FlowState from sessions.
//
// A token that fails to open or belongs to another session is
// codes.Unauthenticated. A call without a session id passes through with no
// state unless WithRequiredFlowState is set.
func UnaryServerInterceptor(sessions *mobileconnect.Sessions, opts ...Option) grpc.UnaryServerInterceptor {
	o := buildOptions(opts)
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		newCtx, err := restore(ctx, sessions, &o)
		if err != nil {
			return nil, err
		}
		return handler(newCtx, req)
	}
}

// StreamServerInterceptor is UnaryServerInterceptor for streaming RPCs.
func StreamServerInterceptor(sessions *mobileconnect.Sessions, opts ...Option) grpc.StreamServerInterceptor {
	o := buildOptions(opts)
	return func(
		srv any,
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		newCtx, err := restore(ss.Context(), sessions, &o)
		if err != nil {
			return err
		}
		return handler(srv, &wrappedStream{ServerStream: ss, ctx: newCtx})
	}
}

// wrappedStream overrides the context of a grpc.ServerStream.
type wrappedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (w *wrappedStream) Context() context.Context { return w.ctx }

// mdParams adapts incoming metadata to common.Params.
type mdParams struct {
	md metadata.MD
}

func (p mdParams) Get(key string) (string, bool) {
	// gRPC metadata keys are always lower-case.
	vals := p.md.Get(strings.ToLower(key))
	if len(vals) == 0 {
		return "", false
	}
	return vals[0], true
}

// DiscoveryOptions reads discovery hints from incoming metadata under the
// same names the HTTP adapters read from the query. The peer address is the
// client IP.
func DiscoveryOptions(ctx context.Context) *mobileconnect.DiscoveryOptions {
	md, _ := metadata.FromIncomingContext(ctx)
	return common.DiscoveryOptions(mdParams{md: md}, peerIP(ctx))
}

func peerIP(ctx context.Context) string {
	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(p.Addr.String())
	if err != nil {
		return p.Addr.String()
	}
	return host
}

func restore(ctx context.Context, sessions *mobileconnect.Sessions, o *options) (context.Context, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	p := mdParams{md: md}
	id, _ := p.Get(o.sessionKey)
	if id == "" {
		if o.required {
			return ctx, status.Error(codes.FailedPrecondition, "missing session")
		}
		return ctx, nil
	}
	token, _ := p.Get(o.tokenKey)

	fs, ok, err := sessions.Load(ctx, id, token)
	switch {
	case errors.Is(err, mobileconnect.ErrInvalidSession):
		return ctx, status.Error(codes.Unauthenticated, err.Error())
	case err != nil:
		return ctx, status.Error(codes.Internal, err.Error())
	case !ok && o.required:
		return ctx, status.Error(codes.FailedPrecondition, "no flow for session")
	}
	if !ok {
		fs = nil
	}
	return context.WithValue(ctx, contextKey{}, &flow{sessionID: id, state: fs}), nil
}
