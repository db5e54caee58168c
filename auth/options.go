package auth

import (
	"context"
	"errors"
	"net/http"
)

// ErrNotSignedIn is passed to the error handler when WithRequireSignedIn
// rejects a signed-out request.
var ErrNotSignedIn = errors.New("auth: request is not signed in")

type MiddlewareSkipper func(*http.Request) bool

type MiddlewareErrorHandler func(http.ResponseWriter, *http.Request, error)

type MiddlewareOption func(*middlewareConfig)

type middlewareConfig struct {
	authenticator   *Authenticator
	skipper         MiddlewareSkipper
	errorHandler    MiddlewareErrorHandler
	requireSignedIn bool
}

func newMiddlewareConfig(authenticator *Authenticator, opts ...MiddlewareOption) (middlewareConfig, error) {
	if authenticator == nil {
		return middlewareConfig{}, errors.New("auth: middleware requires an authenticator")
	}
	cfg := middlewareConfig{
		authenticator: authenticator,
		skipper:       defaultSkipper,
		errorHandler:  defaultErrorHandler,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.skipper == nil {
		cfg.skipper = defaultSkipper
	}
	if cfg.errorHandler == nil {
		cfg.errorHandler = defaultErrorHandler
	}
	return cfg, nil
}

func WithSkipper(skipper MiddlewareSkipper) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if skipper != nil {
			cfg.skipper = skipper
		}
	}
}

// WithErrorHandler replaces the writer used for fatal errors and for
// rejected signed-out requests.
func WithErrorHandler(handler MiddlewareErrorHandler) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if handler != nil {
			cfg.errorHandler = handler
		}
	}
}

// WithRequireSignedIn rejects signed-out requests with ErrNotSignedIn
// instead of passing them through.
func WithRequireSignedIn() MiddlewareOption {
	return func(cfg *middlewareConfig) {
		cfg.requireSignedIn = true
	}
}

func defaultSkipper(*http.Request) bool { return false }

func defaultErrorHandler(w http.ResponseWriter, _ *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrNotSignedIn):
		status = http.StatusUnauthorized
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}
	if kind, ok := ErrorKindOf(err); ok {
		w.Header().Set(HeaderAuthStatus, string(StatusSignedOut))
		w.Header().Set(HeaderAuthReason, string(kind))
		w.Header().Set(HeaderAuthMessage, describeErrorKind(kind))
	}
	http.Error(w, http.StatusText(status), status)
}
