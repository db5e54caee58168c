// Package rediscontainer runs the Redis server used by the cache integration tests.
package rediscontainer

import (
	"context"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/adeilh/go-handshake/internal/testutil/dockertest"
)

var container = &dockertest.Container{
	Name:          "go-handshake-redis-test",
	Image:         "redis:7-alpine",
	HostPort:      "56379",
	ContainerPort: "6379",
	Ready:         ping,
	ReadyTimeout:  10 * time.Second,
}

func Addr() string { return container.Addr() }

func Setup() error    { return container.Start() }
func Teardown() error { return container.Stop() }

func ping(ctx context.Context, addr string) error {
	client := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 200 * time.Millisecond,
		ReadTimeout: 200 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()
	return client.Ping(ctx).Err()
}
