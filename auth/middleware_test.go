package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNewMiddlewareRequiresAuthenticator(t *testing.T) {
	if _, err := NewMiddleware(nil); err == nil {
		t.Fatalf("expected error for nil authenticator")
	}
}

func TestMiddlewareInjectsState(t *testing.T) {
	mw, err := NewMiddleware(newTestAuthenticator(t, Config{}))
	if err != nil {
		t.Fatalf("NewMiddleware: %v", err)
	}

	var gotAuth AuthObject
	var signedIn bool
	h := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth, signedIn = AuthFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := newRequest(http.MethodGet, "https://acme-app.com/", sessionCookie(validSessionToken(t)), uatCookie(testNow.Add(-10*time.Second).Unix()))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected next handler to run, got %d", rec.Code)
	}
	if !signedIn || gotAuth.UserID != "user_2abc" {
		t.Fatalf("expected signed-in auth object, got %+v", gotAuth)
	}
}

func TestMiddlewareSignedOutPassesThrough(t *testing.T) {
	mw, err := NewMiddleware(newTestAuthenticator(t, Config{}))
	if err != nil {
		t.Fatalf("NewMiddleware: %v", err)
	}
	var state RequestState
	var ok bool
	h := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		state, ok = StateFromContext(r.Context())
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, newRequest(http.MethodGet, "https://acme-app.com/"))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !ok || state.Status != StatusSignedOut {
		t.Fatalf("expected signed-out state in context, got %+v (%v)", state, ok)
	}
	if _, signedIn := AuthFromContext(context.Background()); signedIn {
		t.Fatalf("empty context must not be signed in")
	}
}

func TestMiddlewareRedirectsToHandshake(t *testing.T) {
	mw, err := NewMiddleware(newTestAuthenticator(t, Config{}))
	if err != nil {
		t.Fatalf("NewMiddleware: %v", err)
	}
	called := false
	h := mw.Handler(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, newRequest(http.MethodGet, "https://acme-app.com/", uatCookie(1)))

	if called {
		t.Fatalf("next handler must not run during a handshake")
	}
	if rec.Code != http.StatusTemporaryRedirect {
		t.Fatalf("expected 307, got %d", rec.Code)
	}
	if rec.Header().Get(HeaderLocation) == "" || rec.Header().Get(HeaderAuthStatus) != string(StatusHandshake) {
		t.Fatalf("missing handshake headers: %v", rec.Header())
	}
}

func TestMiddlewareErrorState(t *testing.T) {
	a := newTestAuthenticator(t, Config{PublishableKey: livePublishableKey, SecretKey: devSecretKey})

	mw, err := NewMiddleware(a)
	if err != nil {
		t.Fatalf("NewMiddleware: %v", err)
	}
	rec := httptest.NewRecorder()
	mw.Handler(nil).ServeHTTP(rec, newRequest(http.MethodGet, "https://acme-app.com/"))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if rec.Header().Get(HeaderAuthReason) != string(ErrorKindKeyMismatch) {
		t.Fatalf("expected key mismatch reason, got %q", rec.Header().Get(HeaderAuthReason))
	}

	var handled error
	custom, err := NewMiddleware(a, WithErrorHandler(func(w http.ResponseWriter, _ *http.Request, err error) {
		handled = err
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	if err != nil {
		t.Fatalf("NewMiddleware: %v", err)
	}
	rec = httptest.NewRecorder()
	custom.Handler(nil).ServeHTTP(rec, newRequest(http.MethodGet, "https://acme-app.com/"))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected custom status, got %d", rec.Code)
	}
	var authErr *Error
	if !errors.As(handled, &authErr) || authErr.Kind != ErrorKindKeyMismatch {
		t.Fatalf("expected *Error passed to handler, got %v", handled)
	}
}

func TestMiddlewareRequireSignedIn(t *testing.T) {
	mw, err := NewMiddleware(newTestAuthenticator(t, Config{}), WithRequireSignedIn())
	if err != nil {
		t.Fatalf("NewMiddleware: %v", err)
	}
	h := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, newRequest(http.MethodPost, "https://acme-app.com/api"))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}

	req := newRequest(http.MethodPost, "https://acme-app.com/api")
	req.Header.Set(HeaderAuthorization, "Bearer "+validSessionToken(t))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected signed-in request to pass, got %d", rec.Code)
	}
}

func TestMiddlewareSkipper(t *testing.T) {
	mw, err := NewMiddleware(newTestAuthenticator(t, Config{}), WithRequireSignedIn(), WithSkipper(func(r *http.Request) bool {
		return r.URL.Path == "/healthz"
	}))
	if err != nil {
		t.Fatalf("NewMiddleware: %v", err)
	}
	var ok bool
	h := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, ok = StateFromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, newRequest(http.MethodGet, "https://acme-app.com/healthz", uatCookie(1)))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected skipped request to pass, got %d", rec.Code)
	}
	if ok {
		t.Fatalf("skipped requests carry no state")
	}
}

func TestMiddlewareForwardsHandshakeCookies(t *testing.T) {
	a := newTestAuthenticator(t, Config{})
	mw, err := NewMiddleware(a)
	if err != nil {
		t.Fatalf("NewMiddleware: %v", err)
	}
	h := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	cookies := []string{CookieSession + "=" + validSessionToken(t) + "; Path=/"}
	req := newRequest(http.MethodGet, "https://acme-app.com/", &http.Cookie{Name: CookieHandshake, Value: handshakePayload(t, cookies)})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected passthrough, got %d", rec.Code)
	}
	if got := rec.Header().Values(HeaderSetCookie); len(got) != 1 || got[0] != cookies[0] {
		t.Fatalf("expected forwarded handshake cookie, got %v", got)
	}
}
