// Package postgrescontainer runs the Postgres instance used by the instance
// directory integration tests.
package postgrescontainer

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/adeilh/go-handshake/internal/testutil/dockertest"
)

const (
	user     = "handshake"
	password = "secret"
	dbName   = "handshake_test"
)

var container = &dockertest.Container{
	Name:          "go-handshake-postgres-test",
	Image:         "postgres:16-alpine",
	HostPort:      "55432",
	ContainerPort: "5432",
	Env: map[string]string{
		"POSTGRES_USER":     user,
		"POSTGRES_PASSWORD": password,
		"POSTGRES_DB":       dbName,
	},
	Ready:        ping,
	ReadyTimeout: 15 * time.Second,
}

func Addr() string { return container.Addr() }

// DSN returns a lib/pq connection string for the test database.
func DSN() string { return dsnFor(Addr()) }

func dsnFor(addr string) string {
	return fmt.Sprintf("postgres://%s:%s@%s/%s?sslmode=disable", user, password, addr, dbName)
}

func Setup() error    { return container.Start() }
func Teardown() error { return container.Stop() }

func ping(ctx context.Context, addr string) error {
	db, err := sql.Open("postgres", dsnFor(addr))
	if err != nil {
		return err
	}
	defer db.Close()
	return db.PingContext(ctx)
}
