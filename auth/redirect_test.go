package auth

import (
	"net/http"
	"net/url"
	"testing"
)

func TestCleanPath(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{raw: "https://a.com", want: "/"},
		{raw: "https://a.com/p?x=1", want: "/p?x=1"},
		{raw: "https://a.com/p?__clerk_handshake=abc", want: "/p"},
		{raw: "https://a.com/p?x=1&__clerk_handshake=abc&__clerk_help=1&y=a%20b", want: "/p?x=1&y=a%20b"},
		{raw: "https://a.com/p?__clerk_db_jwt=dvb&keep=%2F", want: "/p?keep=%2F"},
		{raw: "https://a.com/a%2Fb?q", want: "/a%2Fb?q"},
		{raw: "https://a.com/p?__clerk%5Fhandshake=abc", want: "/p"},
	}
	for _, tt := range tests {
		u, err := url.Parse(tt.raw)
		if err != nil {
			t.Fatalf("parse %q: %v", tt.raw, err)
		}
		if got := CleanPath(u); got != tt.want {
			t.Fatalf("%q: expected %q, got %q", tt.raw, tt.want, got)
		}
	}
	if got := CleanPath(nil); got != "/" {
		t.Fatalf("nil url: expected /, got %q", got)
	}
}

func TestHandshakeURL(t *testing.T) {
	live := Instance{ID: liveFrontendAPI, FrontendAPI: liveFrontendAPI, Type: InstanceProduction}
	dev := Instance{ID: devFrontendAPI, FrontendAPI: devFrontendAPI, Type: InstanceDevelopment}
	sig := Extract(RequestFromHTTP(newRequest(http.MethodGet, "https://example.com/p?__clerk_db_jwt=dvb_1&a=b")), false)

	tests := []struct {
		name     string
		instance Instance
		domain   string
		proxy    string
		want     string
	}{
		{
			name:     "frontend api",
			instance: live,
			want:     "https://" + liveFrontendAPI + "/v1/client/handshake?redirect_url=https%3A%2F%2Fexample.com%2Fp%3Fa%3Db",
		},
		{
			name:     "custom domain",
			instance: live,
			domain:   "https://example.com/",
			want:     "https://clerk.example.com/v1/client/handshake?redirect_url=https%3A%2F%2Fexample.com%2Fp%3Fa%3Db",
		},
		{
			name:     "domain already reserved",
			instance: live,
			domain:   "clerk.example.com",
			want:     "https://clerk.example.com/v1/client/handshake?redirect_url=https%3A%2F%2Fexample.com%2Fp%3Fa%3Db",
		},
		{
			name:     "development ignores domain",
			instance: dev,
			domain:   "example.com",
			want:     "https://" + devFrontendAPI + "/v1/client/handshake?redirect_url=https%3A%2F%2Fexample.com%2Fp%3Fa%3Db&__clerk_db_jwt=dvb_1",
		},
		{
			name:     "proxy wins",
			instance: live,
			domain:   "example.com",
			proxy:    "/api/__clerk",
			want:     "https://example.com/api/__clerk/v1/client/handshake?redirect_url=https%3A%2F%2Fexample.com%2Fp%3Fa%3Db",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HandshakeURL(sig, tt.instance, tt.domain, tt.proxy); got != tt.want {
				t.Fatalf("mismatch\n got: %s\nwant: %s", got, tt.want)
			}
		})
	}
}

func TestSatelliteSyncURL(t *testing.T) {
	sig := Extract(RequestFromHTTP(newRequest(http.MethodGet, "https://sat.dev/x", &http.Cookie{Name: CookieDevBrowser, Value: "dvb"})), false)
	got := satelliteSyncURL(sig, "https://primary.dev/sign-in?mode=sync")
	want := "https://primary.dev/sign-in?mode=sync&__clerk_redirect_url=https%3A%2F%2Fsat.dev%2Fx&__clerk_db_jwt=dvb"
	if got != want {
		t.Fatalf("mismatch\n got: %s\nwant: %s", got, want)
	}
}
