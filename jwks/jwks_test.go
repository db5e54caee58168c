package jwks

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/adeilh/go-handshake/auth"
	"github.com/adeilh/go-handshake/cache/memory"
	"github.com/adeilh/go-handshake/httpx"
)

type jwksServer struct {
	*httpx.TestServer
	mu     sync.Mutex
	doc    Document
	status int
	hits   atomic.Int32
	bearer atomic.Value
}

func newJWKSServer(t *testing.T, keys ...JWK) *jwksServer {
	t.Helper()
	s := &jwksServer{doc: Document{Keys: keys}, status: http.StatusOK}
	s.TestServer = httpx.NewTestServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.hits.Add(1)
		s.bearer.Store(r.Header.Get("Authorization"))
		if r.URL.Path != jwksPath {
			http.NotFound(w, r)
			return
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.status != http.StatusOK {
			http.Error(w, `{"errors":[{"code":"unauthorized"}]}`, s.status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(s.doc)
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *jwksServer) setKeys(keys ...JWK) {
	s.mu.Lock()
	s.doc = Document{Keys: keys}
	s.mu.Unlock()
}

func (s *jwksServer) setStatus(code int) {
	s.mu.Lock()
	s.status = code
	s.mu.Unlock()
}

func generateKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key
}

var testInstance = auth.Instance{
	ID:          "clerk.example.com",
	FrontendAPI: "clerk.example.com",
	Type:        auth.InstanceProduction,
	SecretKey:   auth.EncodeSecretKey(auth.InstanceProduction, "clerk.example.com", "secret"),
}

func TestSourceFetchesAndCaches(t *testing.T) {
	key := generateKey(t)
	srv := newJWKSServer(t, NewJWK("kid-1", &key.PublicKey))
	source := NewSource(WithAPIURL(srv.BaseURL()))

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		got, err := source.PublicKey(ctx, testInstance, "kid-1")
		if err != nil {
			t.Fatalf("PublicKey() error = %v", err)
		}
		pub, ok := got.(*rsa.PublicKey)
		if !ok || !pub.Equal(&key.PublicKey) {
			t.Fatalf("PublicKey() returned unexpected key %T", got)
		}
	}
	if hits := srv.hits.Load(); hits != 1 {
		t.Fatalf("expected a single fetch, got %d", hits)
	}
	if bearer, _ := srv.bearer.Load().(string); bearer != "Bearer "+testInstance.SecretKey {
		t.Fatalf("unexpected authorization header %q", bearer)
	}
}

func TestSourceRefetchesOnRotation(t *testing.T) {
	oldKey := generateKey(t)
	newKey := generateKey(t)
	srv := newJWKSServer(t, NewJWK("old", &oldKey.PublicKey))
	source := NewSource(WithAPIURL(srv.BaseURL()), WithMinRefreshInterval(0))

	ctx := context.Background()
	if _, err := source.PublicKey(ctx, testInstance, "old"); err != nil {
		t.Fatalf("PublicKey(old) error = %v", err)
	}

	srv.setKeys(NewJWK("old", &oldKey.PublicKey), NewJWK("new", &newKey.PublicKey))
	got, err := source.PublicKey(ctx, testInstance, "new")
	if err != nil {
		t.Fatalf("PublicKey(new) error = %v", err)
	}
	if pub := got.(*rsa.PublicKey); !pub.Equal(&newKey.PublicKey) {
		t.Fatalf("PublicKey(new) returned the wrong key")
	}
	if hits := srv.hits.Load(); hits != 2 {
		t.Fatalf("expected 2 fetches, got %d", hits)
	}
}

func TestSourceUnknownKidIsRateLimited(t *testing.T) {
	key := generateKey(t)
	srv := newJWKSServer(t, NewJWK("kid-1", &key.PublicKey))
	now := time.Unix(1_700_000_000, 0)
	source := NewSource(
		WithAPIURL(srv.BaseURL()),
		WithMinRefreshInterval(time.Minute),
		WithClock(func() time.Time { return now }),
	)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := source.PublicKey(ctx, testInstance, "missing"); !errors.Is(err, auth.ErrJWTKeyNotFound) {
			t.Fatalf("PublicKey(missing) error = %v, want ErrJWTKeyNotFound", err)
		}
	}
	if hits := srv.hits.Load(); hits != 1 {
		t.Fatalf("expected refetches to be rate limited, got %d fetches", hits)
	}

	now = now.Add(2 * time.Minute)
	if _, err := source.PublicKey(ctx, testInstance, "missing"); !errors.Is(err, auth.ErrJWTKeyNotFound) {
		t.Fatalf("PublicKey(missing) error = %v", err)
	}
	if hits := srv.hits.Load(); hits != 2 {
		t.Fatalf("expected one refetch after the interval, got %d fetches", hits)
	}
}

func TestSourceFetchError(t *testing.T) {
	srv := newJWKSServer(t)
	srv.setStatus(http.StatusUnauthorized)
	source := NewSource(WithAPIURL(srv.BaseURL()))

	_, err := source.PublicKey(context.Background(), testInstance, "kid")
	if !errors.Is(err, ErrFetch) {
		t.Fatalf("expected ErrFetch, got %v", err)
	}
	var statusErr *httpx.StatusError
	if errors.As(err, &statusErr) {
		t.Fatalf("status error should be flattened into ErrFetch, got %v", statusErr)
	}
}

func TestSourceSharesStore(t *testing.T) {
	key := generateKey(t)
	srv := newJWKSServer(t, NewJWK("kid-1", &key.PublicKey))
	store := memory.NewStore()

	first := NewSource(WithAPIURL(srv.BaseURL()), WithStore(store))
	second := NewSource(WithAPIURL(srv.BaseURL()), WithStore(store))

	ctx := context.Background()
	if _, err := first.PublicKey(ctx, testInstance, "kid-1"); err != nil {
		t.Fatalf("first.PublicKey() error = %v", err)
	}
	if _, err := second.PublicKey(ctx, testInstance, "kid-1"); err != nil {
		t.Fatalf("second.PublicKey() error = %v", err)
	}
	if hits := srv.hits.Load(); hits != 1 {
		t.Fatalf("expected the shared store to serve the second source, got %d fetches", hits)
	}

	if err := first.Invalidate(ctx, testInstance); err != nil {
		t.Fatalf("Invalidate() error = %v", err)
	}
	if _, err := second.PublicKey(ctx, testInstance, "kid-1"); err != nil {
		t.Fatalf("PublicKey() after invalidate error = %v", err)
	}
	if hits := srv.hits.Load(); hits != 2 {
		t.Fatalf("expected a refetch after invalidation, got %d fetches", hits)
	}
}

func TestSourceBacksJWTVerifier(t *testing.T) {
	key := generateKey(t)
	srv := newJWKSServer(t, NewJWK("kid-1", &key.PublicKey))
	verifier, err := auth.NewJWTVerifier(NewSource(WithAPIURL(srv.BaseURL())))
	if err != nil {
		t.Fatalf("NewJWTVerifier() error = %v", err)
	}

	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"sub": "user_1",
		"sid": "sess_1",
		"iat": now.Unix(),
		"exp": now.Add(time.Minute).Unix(),
	})
	token.Header["kid"] = "kid-1"
	raw, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	claims, err := verifier.Verify(context.Background(), raw, auth.VerifyParams{Instance: testInstance, Now: now})
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if claims.Subject != "user_1" || claims.SessionID != "sess_1" {
		t.Fatalf("unexpected claims: %+v", claims)
	}

	token.Header["kid"] = "other"
	raw, _ = token.SignedString(key)
	if _, err := verifier.Verify(context.Background(), raw, auth.VerifyParams{Instance: testInstance, Now: now}); !errors.Is(err, auth.ErrJWTKeyNotFound) {
		t.Fatalf("expected ErrJWTKeyNotFound, got %v", err)
	}
}

func TestParseKeySet(t *testing.T) {
	key := generateKey(t)
	good := NewJWK("kid-1", &key.PublicKey)

	tests := []struct {
		name    string
		doc     any
		wantErr bool
		wantLen int
	}{
		{name: "single key", doc: Document{Keys: []JWK{good}}, wantLen: 1},
		{name: "skips encryption and ec keys", doc: Document{Keys: []JWK{good, {KeyID: "enc", KeyType: "RSA", Use: "enc", N: good.N, E: good.E}, {KeyID: "ec", KeyType: "EC"}}}, wantLen: 1},
		{name: "bad modulus", doc: Document{Keys: []JWK{{KeyID: "x", KeyType: "RSA", N: "!!", E: good.E}}}, wantErr: true},
		{name: "missing exponent", doc: Document{Keys: []JWK{{KeyID: "x", KeyType: "RSA", N: good.N}}}, wantErr: true},
		{name: "not json", doc: "nope", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, _ := json.Marshal(tt.doc)
			if s, ok := tt.doc.(string); ok {
				raw = []byte(s)
			}
			set, err := ParseKeySet(raw)
			if tt.wantErr {
				if !errors.Is(err, ErrMalformedKeySet) {
					t.Fatalf("expected ErrMalformedKeySet, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseKeySet() error = %v", err)
			}
			if set.Len() != tt.wantLen {
				t.Fatalf("Len() = %d, want %d", set.Len(), tt.wantLen)
			}
		})
	}
}

func TestKeySetLookupEmptyKid(t *testing.T) {
	a, b := generateKey(t), generateKey(t)
	single, _ := ParseKeySet(mustJSON(t, Document{Keys: []JWK{NewJWK("a", &a.PublicKey)}}))
	if _, ok := single.Lookup(""); !ok {
		t.Fatalf("empty kid should match a single key set")
	}
	multi, _ := ParseKeySet(mustJSON(t, Document{Keys: []JWK{NewJWK("a", &a.PublicKey), NewJWK("b", &b.PublicKey)}}))
	if _, ok := multi.Lookup(""); ok {
		t.Fatalf("empty kid must not match when several keys exist")
	}
	if ids := multi.KeyIDs(); len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
		t.Fatalf("KeyIDs() = %v", ids)
	}
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return raw
}

func TestSourceOutageIsNotKeyMismatch(t *testing.T) {
	key := generateKey(t)
	srv := newJWKSServer(t, NewJWK("kid-1", &key.PublicKey))
	srv.setStatus(http.StatusServiceUnavailable)

	verifier, err := auth.NewJWTVerifier(NewSource(WithAPIURL(srv.BaseURL())))
	if err != nil {
		t.Fatalf("NewJWTVerifier() error = %v", err)
	}
	now := time.Now()
	a, err := auth.NewAuthenticator(auth.Config{
		PublishableKey: auth.EncodePublishableKey(auth.InstanceProduction, testInstance.FrontendAPI),
		SecretKey:      testInstance.SecretKey,
		Verifier:       verifier,
		Now:            func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("NewAuthenticator() error = %v", err)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"sub": "user_1",
		"iat": now.Unix(),
		"exp": now.Add(time.Minute).Unix(),
	})
	token.Header["kid"] = "kid-1"
	raw, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	session := httptest.NewRequest(http.MethodGet, "https://example.com/", nil)
	session.Header.Set("Authorization", "Bearer "+raw)
	state := a.Authenticate(context.Background(), auth.RequestFromHTTP(session))
	if !state.IsError() || state.Err.Kind != auth.ErrorKindKeyUnavailable || !errors.Is(state.Err, ErrFetch) {
		t.Fatalf("session path: expected key-unavailable wrapping ErrFetch, got %v", state.Err)
	}

	payload := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"handshake": []string{"__session=" + raw + "; Path=/"},
		"iat":       now.Unix(),
		"exp":       now.Add(time.Minute).Unix(),
	})
	payload.Header["kid"] = "kid-1"
	rawPayload, err := payload.SignedString(key)
	if err != nil {
		t.Fatalf("sign payload: %v", err)
	}
	handshake := httptest.NewRequest(http.MethodGet, "https://example.com/?__clerk_handshake="+rawPayload, nil)
	state = a.Authenticate(context.Background(), auth.RequestFromHTTP(handshake))
	if !state.IsError() || state.Err.Kind != auth.ErrorKindKeyUnavailable {
		t.Fatalf("handshake path: expected key-unavailable, got %v", state.Err)
	}
}

func TestSourceSharedFetchSurvivesCallerCancel(t *testing.T) {
	key := generateKey(t)
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	var aborted atomic.Bool
	srv := httpx.NewTestServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case started <- struct{}{}:
		default:
		}
		select {
		case <-release:
		case <-r.Context().Done():
			aborted.Store(true)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(Document{Keys: []JWK{NewJWK("kid-1", &key.PublicKey)}})
	}))
	t.Cleanup(srv.Close)
	source := NewSource(WithAPIURL(srv.BaseURL()))

	first, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := source.KeySet(first, testInstance)
		firstErr <- err
	}()
	<-started

	type result struct {
		set *KeySet
		err error
	}
	second := make(chan result, 1)
	go func() {
		set, err := source.KeySet(context.Background(), testInstance)
		second <- result{set, err}
	}()

	cancel()
	select {
	case err := <-firstErr:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("cancelled caller error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("cancelled caller did not return")
	}

	close(release)
	res := <-second
	if res.err != nil {
		t.Fatalf("concurrent caller error = %v", res.err)
	}
	if _, ok := res.set.Lookup("kid-1"); !ok {
		t.Fatalf("concurrent caller got a key set without kid-1")
	}
	if aborted.Load() {
		t.Fatalf("shared fetch was aborted by the first caller's cancellation")
	}
}
