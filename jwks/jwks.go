// Package jwks resolves token verification keys from the identity
// provider's backend API.
package jwks

import (
	"context"
	"crypto"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/sync/singleflight"

	"github.com/adeilh/go-handshake/auth"
	"github.com/adeilh/go-handshake/cache"
	"github.com/adeilh/go-handshake/cache/memory"
	"github.com/adeilh/go-handshake/httpx"
)

const jwksPath = "/v1/jwks"

// Source implements auth.KeySource. Key sets are cached per instance in a
// cache.Store; an unknown kid triggers one refetch so key rotation is picked
// up before the TTL runs out.
type Source struct {
	opts   options
	flight singleflight.Group

	mu          sync.Mutex
	lastRefresh map[string]time.Time
}

var _ auth.KeySource = (*Source)(nil)

func NewSource(opts ...Option) *Source {
	cfg := defaultOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.store == nil {
		cfg.store = memory.NewStore()
	}
	if cfg.client == nil {
		cfg.client = httpx.NewClient(
			httpx.WithBaseURL(cfg.apiURL),
			httpx.WithClientTimeout(5*time.Second),
			httpx.WithRetries(2),
		)
	}
	if cfg.logger == nil {
		cfg.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Source{opts: cfg, lastRefresh: make(map[string]time.Time)}
}

// PublicKey returns the verification key for kid. Unknown kids are reported
// with auth.ErrJWTKeyNotFound.
func (s *Source) PublicKey(ctx context.Context, instance auth.Instance, kid string) (crypto.PublicKey, error) {
	set, err := s.KeySet(ctx, instance)
	if err != nil {
		return nil, err
	}
	if key, ok := set.Lookup(kid); ok {
		return key, nil
	}
	if !s.allowRefresh(instance.ID) {
		return nil, fmt.Errorf("%w: kid %q", auth.ErrJWTKeyNotFound, kid)
	}
	s.opts.logger.InfoContext(ctx, "unknown key id, refetching jwks", "kid", kid, "instance", instance.ID)
	set, err = s.refresh(ctx, instance)
	if err != nil {
		return nil, err
	}
	if key, ok := set.Lookup(kid); ok {
		return key, nil
	}
	return nil, fmt.Errorf("%w: kid %q", auth.ErrJWTKeyNotFound, kid)
}

// KeySet returns the cached key set of the instance, fetching it on a miss.
func (s *Source) KeySet(ctx context.Context, instance auth.Instance) (*KeySet, error) {
	raw, err := s.opts.store.Get(ctx, cacheKey(instance))
	switch {
	case err == nil:
		set, perr := ParseKeySet(raw)
		if perr == nil {
			return set, nil
		}
		s.opts.logger.WarnContext(ctx, "discarding malformed cached jwks", "instance", instance.ID, "error", perr)
	case errors.Is(err, cache.ErrNotFound):
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return nil, err
	default:
		s.opts.logger.WarnContext(ctx, "jwks cache read failed", "instance", instance.ID, "error", err)
	}
	return s.refresh(ctx, instance)
}

// Invalidate drops the cached key set of the instance.
func (s *Source) Invalidate(ctx context.Context, instance auth.Instance) error {
	err := s.opts.store.Delete(ctx, cacheKey(instance))
	if errors.Is(err, cache.ErrNotFound) {
		return nil
	}
	return err
}

func (s *Source) refresh(ctx context.Context, instance auth.Instance) (*KeySet, error) {
	ch := s.flight.DoChan(instance.ID, func() (any, error) {
		// the fetch is shared by every waiter, so no single caller may cancel it
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.fetchTimeout)
		defer cancel()
		raw, err := s.fetch(ctx, instance)
		if err != nil {
			return nil, err
		}
		s.markRefreshed(instance.ID)
		set, err := ParseKeySet(raw)
		if err != nil {
			return nil, err
		}
		if err := s.opts.store.Set(ctx, cacheKey(instance), raw, s.opts.ttl); err != nil {
			s.opts.logger.WarnContext(ctx, "jwks cache write failed", "instance", instance.ID, "error", err)
		}
		s.opts.logger.DebugContext(ctx, "jwks fetched", "instance", instance.ID, "keys", set.Len())
		return set, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*KeySet), nil
	}
}

func (s *Source) fetch(ctx context.Context, instance auth.Instance) ([]byte, error) {
	if instance.SecretKey == "" {
		return nil, fmt.Errorf("%w: instance %q has no secret key", ErrFetch, instance.ID)
	}
	resp, err := s.opts.client.Get(ctx, jwksPath, nil, httpx.WithBearer(instance.SecretKey))
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	return body(resp), nil
}

func (s *Source) allowRefresh(instanceID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.opts.now()
	last, ok := s.lastRefresh[instanceID]
	return !ok || now.Sub(last) >= s.opts.minRefresh
}

func (s *Source) markRefreshed(instanceID string) {
	s.mu.Lock()
	s.lastRefresh[instanceID] = s.opts.now()
	s.mu.Unlock()
}

func cacheKey(instance auth.Instance) string {
	return "jwks:" + instance.ID
}

func body(resp *resty.Response) []byte {
	if resp == nil {
		return nil
	}
	return resp.Body()
}
