package httpx

import (
	"net/http"

	"github.com/adeilh/go-handshake/auth"
)

// AuthMiddleware runs auth.Middleware inside an echo chain. Redirects and
// fatal errors are written by auth.Middleware itself; passthrough requests
// continue with the RequestState in their context.
func AuthMiddleware(mw *auth.Middleware) MiddlewareFunc {
	if mw == nil {
		return func(next HandlerFunc) HandlerFunc {
			return func(c Context) error {
				return HTTPError(StatusInternalError, "auth middleware missing")
			}
		}
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(c Context) error {
			var nextErr error
			downstream := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				c.SetRequest(r)
				nextErr = next(c)
			})
			mw.Handler(downstream).ServeHTTP(c.Response(), c.Request())
			return nextErr
		}
	}
}

// AuthState returns the RequestState stored by AuthMiddleware.
func AuthState(c Context) (auth.RequestState, bool) {
	return auth.StateFromContext(c.Request().Context())
}

// RequireSignedIn rejects requests that AuthMiddleware did not mark as
// signed in.
func RequireSignedIn() MiddlewareFunc {
	return func(next HandlerFunc) HandlerFunc {
		return func(c Context) error {
			state, ok := AuthState(c)
			if !ok || !state.IsSignedIn() {
				return HTTPError(StatusUnauthorized, "signed out")
			}
			return next(c)
		}
	}
}
