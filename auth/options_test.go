package auth

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestDefaultErrorHandler(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantReason string
	}{
		{name: "not signed in", err: ErrNotSignedIn, wantStatus: http.StatusUnauthorized},
		{name: "deadline", err: fmt.Errorf("verify: %w", context.DeadlineExceeded), wantStatus: http.StatusGatewayTimeout},
		{name: "auth error", err: newError(ErrorKindTokenInvalid, nil, "bad token"), wantStatus: http.StatusInternalServerError, wantReason: string(ErrorKindTokenInvalid)},
		{name: "unknown", err: fmt.Errorf("boom"), wantStatus: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			defaultErrorHandler(rec, httptest.NewRequest(http.MethodGet, "/", nil), tt.err)
			if rec.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d", tt.wantStatus, rec.Code)
			}
			if got := rec.Header().Get(HeaderAuthReason); got != tt.wantReason {
				t.Fatalf("expected reason %q, got %q", tt.wantReason, got)
			}
		})
	}
}

func TestMiddlewareOptionsIgnoreNil(t *testing.T) {
	a := newTestAuthenticator(t, Config{})
	cfg, err := newMiddlewareConfig(a, nil, WithSkipper(nil), WithErrorHandler(nil))
	if err != nil {
		t.Fatalf("newMiddlewareConfig: %v", err)
	}
	if cfg.skipper == nil || cfg.errorHandler == nil {
		t.Fatalf("nil options must keep the defaults")
	}
	if cfg.requireSignedIn {
		t.Fatalf("requireSignedIn must default to false")
	}
}
