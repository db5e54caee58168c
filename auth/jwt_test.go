package auth

import (
	"context"
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestJWTVerifierVerify(t *testing.T) {
	v := testVerifier(t)
	params := VerifyParams{Now: testNow, ClockSkew: DefaultClockSkew}

	claims := sessionClaims(testNow.Add(-time.Minute), 2*time.Minute)
	claims["org_id"] = "org_1"
	claims["org_role"] = "admin"
	claims["org_permissions"] = []string{"org:billing:read"}

	got, err := v.Verify(context.Background(), signToken(t, claims), params)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if got.Subject != "user_2abc" || got.SessionID != "sess_2abc" {
		t.Fatalf("unexpected subject/session: %+v", got)
	}
	if got.OrganizationID != "org_1" || got.OrganizationRole != "admin" || len(got.OrganizationPermissions) != 1 {
		t.Fatalf("unexpected organization claims: %+v", got)
	}
	if !got.IssuedAt.Equal(testNow.Add(-time.Minute)) {
		t.Fatalf("unexpected iat %v", got.IssuedAt)
	}
}

func TestJWTVerifierErrors(t *testing.T) {
	v := testVerifier(t)
	params := VerifyParams{Now: testNow, ClockSkew: DefaultClockSkew}

	hs := jwt.NewWithClaims(jwt.SigningMethodHS256, sessionClaims(testNow, time.Minute))
	hsToken, err := hs.SignedString([]byte("shared"))
	if err != nil {
		t.Fatalf("sign hs256: %v", err)
	}
	noExp := sessionClaims(testNow, time.Minute)
	delete(noExp, "exp")

	tests := []struct {
		name  string
		token string
		want  error
	}{
		{name: "not a jwt", token: "abc", want: ErrJWTInvalidFormat},
		{name: "garbage segments", token: "a.b.c", want: ErrJWTInvalidFormat},
		{name: "expired", token: expiredSessionToken(t), want: ErrJWTExpired},
		{name: "not yet valid", token: signToken(t, withClaim(sessionClaims(testNow, time.Hour), "nbf", testNow.Add(time.Minute).Unix())), want: ErrJWTNotYetValid},
		{name: "wrong key", token: signWith(t, otherSignerKey, sessionClaims(testNow, time.Minute)), want: ErrJWTInvalidSignature},
		{name: "hmac token", token: hsToken, want: ErrJWTInvalidSignature},
		{name: "missing exp", token: signToken(t, noExp), want: ErrJWTInvalidClaims},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Verify(context.Background(), tt.token, params)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestJWTVerifierAuthorizedParties(t *testing.T) {
	v := testVerifier(t)
	token := signToken(t, withClaim(sessionClaims(testNow, time.Minute), "azp", "https://other.example"))

	if _, err := v.Verify(context.Background(), token, VerifyParams{Now: testNow}); err != nil {
		t.Fatalf("unrestricted verify: %v", err)
	}
	_, err := v.Verify(context.Background(), token, VerifyParams{Now: testNow, AuthorizedParties: []string{"https://acme-app.com"}})
	if !errors.Is(err, ErrJWTUnauthorizedParty) {
		t.Fatalf("expected ErrJWTUnauthorizedParty, got %v", err)
	}
}

func TestJWTVerifierContext(t *testing.T) {
	v := testVerifier(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := v.Verify(ctx, validSessionToken(t), VerifyParams{Now: testNow}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestNewJWTVerifier(t *testing.T) {
	if _, err := NewJWTVerifier(nil); !errors.Is(err, ErrJWTMissingSigningKey) {
		t.Fatalf("expected ErrJWTMissingSigningKey, got %v", err)
	}
	if _, err := NewJWTVerifier(NewStaticKeySourceFromKey(&testSigningKey.PublicKey), "HS256"); !errors.Is(err, ErrJWTUnsupportedAlgo) {
		t.Fatalf("expected ErrJWTUnsupportedAlgo, got %v", err)
	}

	only384, err := NewJWTVerifier(NewStaticKeySourceFromKey(&testSigningKey.PublicKey), "RS384")
	if err != nil {
		t.Fatalf("NewJWTVerifier: %v", err)
	}
	if _, err := only384.Verify(context.Background(), validSessionToken(t), VerifyParams{Now: testNow}); !errors.Is(err, ErrJWTInvalidSignature) {
		t.Fatalf("RS256 token must be rejected by an RS384 verifier, got %v", err)
	}
}

func TestStaticKeySource(t *testing.T) {
	der, err := x509.MarshalPKIXPublicKey(&testSigningKey.PublicKey)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	block := string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))
	lines := strings.Split(strings.TrimSpace(block), "\n")

	for name, input := range map[string]string{
		"pem":  block,
		"bare": strings.Join(lines[1:len(lines)-1], "\n"),
	} {
		t.Run(name, func(t *testing.T) {
			src, err := NewStaticKeySource(input)
			if err != nil {
				t.Fatalf("NewStaticKeySource: %v", err)
			}
			v, err := NewJWTVerifier(src)
			if err != nil {
				t.Fatalf("NewJWTVerifier: %v", err)
			}
			if _, err := v.Verify(context.Background(), validSessionToken(t), VerifyParams{Now: testNow}); err != nil {
				t.Fatalf("verify: %v", err)
			}
		})
	}

	if _, err := NewStaticKeySource(""); !errors.Is(err, ErrJWTMissingSigningKey) {
		t.Fatalf("expected ErrJWTMissingSigningKey, got %v", err)
	}
	if _, err := NewStaticKeySource("not a key"); err == nil {
		t.Fatalf("expected parse error")
	}

	var empty *StaticKeySource
	v, err := NewJWTVerifier(empty)
	if err != nil {
		t.Fatalf("NewJWTVerifier: %v", err)
	}
	if _, err := v.Verify(context.Background(), validSessionToken(t), VerifyParams{Now: testNow}); !errors.Is(err, ErrJWTKeyNotFound) {
		t.Fatalf("expected ErrJWTKeyNotFound, got %v", err)
	}
}

type failingKeySource struct{ err error }

func (f failingKeySource) PublicKey(context.Context, Instance, string) (crypto.PublicKey, error) {
	return nil, f.err
}

func TestJWTVerifierKeySourceFailure(t *testing.T) {
	outage := errors.New("jwks: fetch failed: http 503")
	tests := []struct {
		name    string
		err     error
		want    error
		notWant error
	}{
		{name: "outage", err: outage, want: ErrJWTKeyUnavailable, notWant: ErrJWTInvalidSignature},
		{name: "unknown kid", err: ErrJWTKeyNotFound, want: ErrJWTKeyNotFound, notWant: ErrJWTKeyUnavailable},
		{name: "deadline", err: context.DeadlineExceeded, want: context.DeadlineExceeded, notWant: ErrJWTKeyUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := NewJWTVerifier(failingKeySource{err: tt.err})
			if err != nil {
				t.Fatalf("NewJWTVerifier: %v", err)
			}
			_, err = v.Verify(context.Background(), validSessionToken(t), VerifyParams{Now: testNow})
			if !errors.Is(err, tt.want) || errors.Is(err, tt.notWant) {
				t.Fatalf("expected %v (not %v), got %v", tt.want, tt.notWant, err)
			}
		})
	}

	v, _ := NewJWTVerifier(failingKeySource{err: outage})
	if _, err := v.Verify(context.Background(), validSessionToken(t), VerifyParams{Now: testNow}); !errors.Is(err, outage) {
		t.Fatalf("expected the key source error in the chain, got %v", err)
	}
}

func TestSessionPathKeySourceOutage(t *testing.T) {
	v, err := NewJWTVerifier(failingKeySource{err: errors.New("dial tcp: connection refused")})
	if err != nil {
		t.Fatalf("NewJWTVerifier: %v", err)
	}
	a := newTestAuthenticator(t, Config{Verifier: v})
	r := newRequest(http.MethodGet, "https://acme-app.com/", sessionCookie(validSessionToken(t)), uatCookie(testNow.Add(-time.Minute).Unix()))
	state := authenticate(t, a, r)
	if !state.IsError() || state.Err.Kind != ErrorKindKeyUnavailable {
		t.Fatalf("expected key-unavailable, got %s %v", state.Status, state.Err)
	}
	if got := state.Response().Header.Get(HeaderAuthReason); got != string(ErrorKindKeyUnavailable) {
		t.Fatalf("reason header = %q", got)
	}
}
