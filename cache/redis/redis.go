package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/adeilh/go-handshake/cache"
)

// Store implements cache.Store on top of a go-redis client. It is safe for
// concurrent use; pooling is left to the client.
type Store struct {
	client goredis.UniversalClient
	prefix string
	owned  bool
}

// NewStore builds a Redis-backed cache store and checks the connection.
func NewStore(ctx context.Context, opts Options) (*Store, error) {
	clientOpts, err := opts.clientOptions()
	if err != nil {
		return nil, err
	}
	client := goredis.NewClient(clientOpts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &Store{client: client, prefix: opts.KeyPrefix, owned: true}, nil
}

// NewStoreFromClient wraps an existing client. Close leaves it open.
func NewStoreFromClient(client goredis.UniversalClient, keyPrefix string) *Store {
	return &Store{client: client, prefix: keyPrefix}
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	payload, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, cache.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return payload, nil
}

// Set stores value; a non-positive ttl keeps the key until deleted.
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	if ttl < 0 {
		ttl = 0
	}
	if ttl > 0 && ttl < time.Millisecond {
		ttl = time.Millisecond
	}
	return s.client.Set(ctx, s.key(key), value, ttl).Err()
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	n, err := s.client.Del(ctx, s.key(key)).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return cache.ErrNotFound
	}
	return nil
}

// Health pings the server.
func (s *Store) Health(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the client when the store created it.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.client.Close()
}

func (s *Store) key(key string) string { return s.prefix + key }

func ctxErr(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
