package jwks

import (
	"log/slog"
	"time"

	"github.com/adeilh/go-handshake/cache"
	"github.com/adeilh/go-handshake/httpx"
)

const (
	// DefaultAPIURL is the backend API serving /v1/jwks.
	DefaultAPIURL = "https://api.clerk.com"
	// DefaultTTL bounds how long a fetched key set is trusted.
	DefaultTTL = time.Hour
	// DefaultMinRefresh rate limits forced refetches after a kid miss.
	DefaultMinRefresh = 5 * time.Second
	// DefaultFetchTimeout bounds one shared fetch, retries included.
	DefaultFetchTimeout = 15 * time.Second
)

type options struct {
	apiURL       string
	ttl          time.Duration
	minRefresh   time.Duration
	fetchTimeout time.Duration
	store        cache.Store
	client       *httpx.Client
	logger       *slog.Logger
	now          func() time.Time
}

type Option func(*options)

func defaultOptions() options {
	return options{
		apiURL:       DefaultAPIURL,
		ttl:          DefaultTTL,
		minRefresh:   DefaultMinRefresh,
		fetchTimeout: DefaultFetchTimeout,
		now:          time.Now,
	}
}

// WithAPIURL points the source at another backend API host.
func WithAPIURL(url string) Option {
	return func(o *options) {
		if url != "" {
			o.apiURL = url
		}
	}
}

func WithTTL(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.ttl = d
		}
	}
}

// WithMinRefreshInterval sets the minimum time between two forced refetches
// of the same instance. Zero disables the limit.
func WithMinRefreshInterval(d time.Duration) Option {
	return func(o *options) {
		if d >= 0 {
			o.minRefresh = d
		}
	}
}

func WithFetchTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.fetchTimeout = d
		}
	}
}

// WithStore shares fetched key sets through store (e.g. Redis) instead of
// the process-local default.
func WithStore(store cache.Store) Option {
	return func(o *options) {
		if store != nil {
			o.store = store
		}
	}
}

// WithClient replaces the HTTP client; its base URL wins over WithAPIURL.
func WithClient(client *httpx.Client) Option {
	return func(o *options) {
		if client != nil {
			o.client = client
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}
