package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/adeilh/go-handshake/auth"

// Authenticator decides the authentication state of requests. It holds no
// per-request state and is safe for concurrent use.
type Authenticator struct {
	cfg    Config
	keys   *KeyResolver
	tracer trace.Tracer
}

// NewAuthenticator validates cfg and fills in defaults.
func NewAuthenticator(cfg Config) (*Authenticator, error) {
	if cfg.Verifier == nil {
		return nil, fmt.Errorf("%w: a token verifier is required", ErrInvalidConfig)
	}
	cfg = cfg.withDefaults()
	tp := cfg.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &Authenticator{
		cfg:    cfg,
		keys:   NewKeyResolver(),
		tracer: tp.Tracer(tracerName),
	}, nil
}

// AuthenticateRequest is the one-shot form of Authenticator.Authenticate.
// Construction failures are reported as a configuration error state.
func AuthenticateRequest(ctx context.Context, req Request, cfg Config) RequestState {
	a, err := NewAuthenticator(cfg)
	if err != nil {
		return RequestState{}.fail(newError(ErrorKindConfiguration, err, "cannot build authenticator"))
	}
	return a.Authenticate(ctx, req)
}

// Authenticate extracts the request signals and runs the handshake state
// machine. It never returns a Go error: fatal failures are reported through
// RequestState.Err.
func (a *Authenticator) Authenticate(ctx context.Context, req Request) RequestState {
	if ctx == nil {
		ctx = context.Background()
	}
	started := time.Now()
	ctx, span := a.tracer.Start(ctx, "auth.Authenticate")
	defer span.End()

	sig := Extract(req, a.cfg.AllowHeaderOverrides)
	s := a.cfg.baseSettings()

	var state RequestState
	if a.cfg.Tenants != nil {
		tenant, err := a.cfg.Tenants.ResolveTenant(ctx, req)
		switch {
		case err == nil:
			s = s.withTenant(tenant)
		case errors.Is(err, ErrTenantNotFound):
		default:
			state = RequestState{}.fail(newError(ErrorKindConfiguration, err, "cannot resolve tenant for request"))
		}
	}
	if state.Err == nil {
		state = a.evaluate(ctx, sig, s, a.cfg.Now())
	}

	a.finish(ctx, span, sig, state, time.Since(started))
	return state
}

// Decide runs the state machine on already extracted signals against the
// static configuration. The result depends only on sig, the configuration
// and now.
func (a *Authenticator) Decide(ctx context.Context, sig Signals, now time.Time) RequestState {
	if ctx == nil {
		ctx = context.Background()
	}
	return a.evaluate(ctx, sig, a.cfg.baseSettings(), now)
}

func (a *Authenticator) finish(ctx context.Context, span trace.Span, sig Signals, state RequestState, elapsed time.Duration) {
	span.SetAttributes(
		attribute.String("auth.status", string(state.Status)),
		attribute.String("auth.reason", string(state.Reason)),
		attribute.String("auth.token_source", string(sig.TokenSource)),
		attribute.Bool("auth.handshake_return", sig.HandshakeToken != ""),
	)
	if state.IsError() {
		span.RecordError(state.Err)
		span.SetStatus(codes.Error, string(state.Err.Kind))
		a.cfg.Logger.ErrorContext(ctx, "request authentication failed",
			"kind", string(state.Err.Kind),
			"error", state.Err,
			"path", sig.URL.Path,
		)
	} else {
		a.cfg.Logger.DebugContext(ctx, "request authenticated",
			"status", string(state.Status),
			"reason", string(state.Reason),
			"path", sig.URL.Path,
			"elapsed", elapsed,
		)
	}
	if a.cfg.Observer != nil {
		a.cfg.Observer.ObserveRequestState(ctx, state, elapsed)
	}
}
