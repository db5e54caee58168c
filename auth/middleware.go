package auth

import (
	"context"
	"net/http"
)

// Middleware adapts an Authenticator to net/http (and routers built on it,
// such as chi).
type Middleware struct {
	authenticator   *Authenticator
	skipper         MiddlewareSkipper
	errorHandler    MiddlewareErrorHandler
	requireSignedIn bool
}

type stateContextKey struct{}

func NewMiddleware(authenticator *Authenticator, opts ...MiddlewareOption) (*Middleware, error) {
	cfg, err := newMiddlewareConfig(authenticator, opts...)
	if err != nil {
		return nil, err
	}
	return &Middleware{
		authenticator:   cfg.authenticator,
		skipper:         cfg.skipper,
		errorHandler:    cfg.errorHandler,
		requireSignedIn: cfg.requireSignedIn,
	}, nil
}

// Handler authenticates every request. Handshake and redirect-back states
// end the request with a 307, fatal errors go to the error handler, and
// everything else reaches next with the RequestState in its context.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	if m == nil {
		panic("auth: middleware is nil")
	}
	if next == nil {
		next = http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.skipper(r) {
			next.ServeHTTP(w, r)
			return
		}

		state := m.authenticator.Authenticate(r.Context(), RequestFromHTTP(r))
		if state.IsError() {
			m.errorHandler(w, r, state.Err)
			return
		}

		resp := state.Response()
		if !resp.Passthrough() {
			resp.Write(w)
			return
		}
		resp.ApplyHeaders(w.Header())

		if m.requireSignedIn && !state.IsSignedIn() {
			m.errorHandler(w, r, ErrNotSignedIn)
			return
		}

		ctx := context.WithValue(r.Context(), stateContextKey{}, state)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// StateFromContext returns the RequestState stored by Middleware.
func StateFromContext(ctx context.Context) (RequestState, bool) {
	if ctx == nil {
		return RequestState{}, false
	}
	state, ok := ctx.Value(stateContextKey{}).(RequestState)
	return state, ok
}

// AuthFromContext returns the AuthObject of the request; ok is false when
// the middleware did not run or the request is signed out.
func AuthFromContext(ctx context.Context) (AuthObject, bool) {
	state, ok := StateFromContext(ctx)
	if !ok {
		return AuthObject{}, false
	}
	obj := state.ToAuth()
	return obj, obj.IsSignedIn()
}
