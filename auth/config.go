package auth

import (
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"
)

const (
	// DefaultUATTolerance is how far a session token's iat may trail the
	// client_uat cookie before the token counts as stale.
	DefaultUATTolerance = 5 * time.Second
	// DefaultMaxHandshakeRedirects stops handshake loops after this many
	// consecutive redirects.
	DefaultMaxHandshakeRedirects = 3
)

// Config is the immutable configuration of an Authenticator.
type Config struct {
	PublishableKey string
	SecretKey      string

	// Domain and ProxyURL route the handshake through a custom domain or a
	// same-origin proxy. Satellite instances need one of them.
	Domain      string
	ProxyURL    string
	IsSatellite bool
	SignInURL   string

	AuthorizedParties []string

	ClockSkew             time.Duration
	UATTolerance          time.Duration
	MaxHandshakeRedirects int

	// AllowHeaderOverrides enables the X-Publishable-Key family of headers.
	// Only meant for tests and internal tooling.
	AllowHeaderOverrides bool
	// AllowUnsignedHandshake accepts the base64 JSON handshake payload in
	// addition to signed handshake tokens.
	AllowUnsignedHandshake bool

	Verifier       TokenVerifier
	Tenants        TenantResolver
	Observer       Observer
	Logger         *slog.Logger
	TracerProvider trace.TracerProvider
	Now            func() time.Time
}

func (c Config) withDefaults() Config {
	if c.ClockSkew <= 0 {
		c.ClockSkew = DefaultClockSkew
	}
	if c.UATTolerance < 0 {
		c.UATTolerance = 0
	} else if c.UATTolerance == 0 {
		c.UATTolerance = DefaultUATTolerance
	}
	if c.MaxHandshakeRedirects <= 0 {
		c.MaxHandshakeRedirects = DefaultMaxHandshakeRedirects
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	c.AuthorizedParties = cloneStrings(c.AuthorizedParties)
	return c
}

// settings are the per-request effective values after tenant resolution
// and header overrides.
type settings struct {
	Keys        KeyPair
	Domain      string
	ProxyURL    string
	IsSatellite bool
	SignInURL   string
}

func (c Config) baseSettings() settings {
	return settings{
		Keys:        KeyPair{PublishableKey: c.PublishableKey, SecretKey: c.SecretKey},
		Domain:      c.Domain,
		ProxyURL:    c.ProxyURL,
		IsSatellite: c.IsSatellite,
		SignInURL:   c.SignInURL,
	}
}

func (s settings) withTenant(t Tenant) settings {
	s.Keys = KeyPair{PublishableKey: t.PublishableKey, SecretKey: t.SecretKey}
	s.Domain = t.Domain
	s.ProxyURL = t.ProxyURL
	s.IsSatellite = t.IsSatellite
	s.SignInURL = t.SignInURL
	return s
}

func (s settings) withOverrides(sig Signals) settings {
	if sig.PublishableKey != "" {
		s.Keys.PublishableKey = sig.PublishableKey
	}
	if sig.SecretKey != "" {
		s.Keys.SecretKey = sig.SecretKey
	}
	if sig.ProxyURL != "" {
		s.ProxyURL = sig.ProxyURL
	}
	if sig.Domain != "" {
		s.Domain = sig.Domain
	}
	if sig.SignInURL != "" {
		s.SignInURL = sig.SignInURL
	}
	if sig.IsSatellite {
		s.IsSatellite = true
	}
	return s
}

func (s settings) validate(instance Instance) error {
	if s.ProxyURL != "" {
		if !strings.HasPrefix(s.ProxyURL, "/") {
			u, err := url.Parse(s.ProxyURL)
			if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
				return fmt.Errorf("%w: proxy url %q must be absolute http(s) or start with /", ErrInvalidConfig, s.ProxyURL)
			}
		}
	}
	if s.IsSatellite && s.Domain == "" && s.ProxyURL == "" {
		return fmt.Errorf("%w: satellite instances need a domain or a proxy url", ErrInvalidConfig)
	}
	if s.IsSatellite && instance.IsDevelopment() && s.SignInURL == "" {
		return fmt.Errorf("%w: development satellite instances need a sign-in url", ErrInvalidConfig)
	}
	if s.SignInURL != "" {
		u, err := url.Parse(s.SignInURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%w: sign-in url %q must be absolute", ErrInvalidConfig, s.SignInURL)
		}
	}
	return nil
}
