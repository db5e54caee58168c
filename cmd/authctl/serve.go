package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/adeilh/go-handshake/auth"
	"github.com/adeilh/go-handshake/cache"
	"github.com/adeilh/go-handshake/cache/memory"
	rediscache "github.com/adeilh/go-handshake/cache/redis"
	"github.com/adeilh/go-handshake/db/sql/postgres"
	"github.com/adeilh/go-handshake/httpx"
	"github.com/adeilh/go-handshake/internal/config"
	"github.com/adeilh/go-handshake/jwks"
	"github.com/adeilh/go-handshake/metrics"
)

const (
	frameworkEcho = "echo"
	frameworkChi  = "chi"
)

func serveCmd() *cobra.Command {
	var (
		addr      string
		framework string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a demo application behind the authentication middleware",
		Long: `Serve starts an HTTP server whose routes run through the handshake
middleware. GET / reports the request state, GET /protected requires a
signed-in session, /metrics exposes Prometheus counters and /healthz is
left unauthenticated.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromEnv()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Addr = addr
			}
			logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			deps, err := buildDeps(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer deps.Close()

			handler, err := newHandler(framework, deps)
			if err != nil {
				return err
			}
			logger.InfoContext(ctx, "authctl listening", "addr", cfg.Addr, "framework", framework)
			return serve(ctx, cfg.Addr, handler)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default $AUTHCTL_ADDR or :8080)")
	cmd.Flags().StringVar(&framework, "framework", frameworkEcho, "Router to mount the middleware on: echo or chi")
	return cmd
}

// deps are the long lived collaborators of the demo server.
type deps struct {
	authenticator *auth.Authenticator
	registry      *prometheus.Registry
	logger        *slog.Logger
	closers       []io.Closer
	checks        map[string]func(context.Context) error
	corsOrigins   []string
}

func (d *deps) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		_ = d.closers[i].Close()
	}
}

func buildDeps(ctx context.Context, cfg config.Config, logger *slog.Logger) (*deps, error) {
	d := &deps{
		registry:    prometheus.NewRegistry(),
		logger:      logger,
		checks:      map[string]func(context.Context) error{},
		corsOrigins: cfg.CORSOrigins,
	}
	d.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	keys, err := buildKeySource(ctx, cfg, logger, d)
	if err != nil {
		d.Close()
		return nil, err
	}
	verifier, err := auth.NewJWTVerifier(keys)
	if err != nil {
		d.Close()
		return nil, err
	}

	authCfg := auth.Config{
		PublishableKey:         cfg.PublishableKey,
		SecretKey:              cfg.SecretKey,
		Domain:                 cfg.Domain,
		ProxyURL:               cfg.ProxyURL,
		IsSatellite:            cfg.IsSatellite,
		SignInURL:              cfg.SignInURL,
		AuthorizedParties:      cfg.AuthorizedParties,
		AllowHeaderOverrides:   cfg.AllowHeaderOverrides,
		AllowUnsignedHandshake: cfg.AllowUnsignedHandshake,
		Verifier:               verifier,
		Observer:               metrics.New(d.registry),
		Logger:                 logger,
	}
	if cfg.DatabaseURL != "" {
		repo, db, err := postgres.OpenDirectory(ctx, postgres.WithDSN(cfg.DatabaseURL))
		if err != nil {
			d.Close()
			return nil, err
		}
		d.closers = append(d.closers, db)
		d.checks["postgres"] = db.PingContext
		authCfg.Tenants = repo
	}

	d.authenticator, err = auth.NewAuthenticator(authCfg)
	if err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

func buildKeySource(ctx context.Context, cfg config.Config, logger *slog.Logger, d *deps) (auth.KeySource, error) {
	if cfg.JWTKey != "" {
		return auth.NewStaticKeySource(cfg.JWTKey)
	}
	var store cache.Store = memory.NewStore()
	if cfg.RedisURL != "" {
		redisStore, err := rediscache.NewStore(ctx, rediscache.Options{URL: cfg.RedisURL, KeyPrefix: "authctl:"})
		if err != nil {
			return nil, err
		}
		d.closers = append(d.closers, redisStore)
		store = redisStore
	}
	if hc, ok := store.(cache.HealthChecker); ok {
		d.checks["cache"] = hc.Health
	}
	opts := []jwks.Option{jwks.WithStore(store), jwks.WithLogger(logger)}
	if cfg.APIURL != "" {
		opts = append(opts, jwks.WithAPIURL(cfg.APIURL))
	}
	if cfg.JWKSCacheTTL > 0 {
		opts = append(opts, jwks.WithTTL(cfg.JWKSCacheTTL))
	}
	return jwks.NewSource(opts...), nil
}

func newHandler(framework string, d *deps) (http.Handler, error) {
	mw, err := auth.NewMiddleware(d.authenticator, auth.WithSkipper(isPublicPath))
	if err != nil {
		return nil, err
	}
	strict, err := auth.NewMiddleware(d.authenticator, auth.WithRequireSignedIn())
	if err != nil {
		return nil, err
	}
	metricsHandler := promhttp.HandlerFor(d.registry, promhttp.HandlerOpts{})
	health := healthHandler(d)

	switch framework {
	case frameworkEcho:
		opts := []httpx.ServerOption{
			httpx.WithLogger(d.logger),
			httpx.AppendMiddlewares(httpx.AuthMiddleware(mw)),
		}
		if len(d.corsOrigins) > 0 {
			opts = append(opts, httpx.WithCORS(httpx.AuthCORSConfig(d.corsOrigins...)))
		}
		server := httpx.NewServer(opts...)
		stateJSON := func(c httpx.Context) error {
			state, _ := httpx.AuthState(c)
			return c.JSON(httpx.StatusOK, describeState(state))
		}
		server.RegisterRoutes(func(a *httpx.App) {
			a.Handle(http.MethodGet, "/metrics", metricsHandler)
			a.Handle(http.MethodGet, "/healthz", health)
			httpx.RegisterRoutes(a,
				httpx.Route{Method: http.MethodGet, Path: "/", Handler: stateJSON},
				httpx.Route{Method: http.MethodGet, Path: "/protected", Handler: stateJSON, SignedIn: true},
			)
		})
		return server.Handler(), nil

	case frameworkChi:
		r := chi.NewRouter()
		r.Use(chimw.RequestID, chimw.Recoverer)
		r.Method(http.MethodGet, "/healthz", health)
		r.Method(http.MethodGet, "/metrics", metricsHandler)
		r.Group(func(r chi.Router) {
			r.Use(mw.Handler)
			r.Get("/", stateHandler)
		})
		r.Group(func(r chi.Router) {
			r.Use(strict.Handler)
			r.Get("/protected", stateHandler)
		})
		return r, nil

	default:
		return nil, fmt.Errorf("unknown framework %q (want %s or %s)", framework, frameworkEcho, frameworkChi)
	}
}

// healthHandler reports 503 naming the first unreachable store, in name order.
func healthHandler(d *deps) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		for _, name := range slices.Sorted(maps.Keys(d.checks)) {
			if err := d.checks[name](ctx); err != nil {
				d.logger.WarnContext(ctx, "health check failed", "check", name, "error", err)
				http.Error(w, name+" unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		_, _ = w.Write([]byte("ok"))
	})
}

func isPublicPath(r *http.Request) bool {
	return r.URL.Path == "/healthz" || r.URL.Path == "/metrics"
}

type stateView struct {
	Status    string `json:"status"`
	Reason    string `json:"reason,omitempty"`
	UserID    string `json:"user_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	OrgID     string `json:"org_id,omitempty"`
}

func describeState(state auth.RequestState) stateView {
	obj := state.ToAuth()
	return stateView{
		Status:    string(state.Status),
		Reason:    string(state.Reason),
		UserID:    obj.UserID,
		SessionID: obj.SessionID,
		OrgID:     obj.OrgID,
	}
}

func stateHandler(w http.ResponseWriter, r *http.Request) {
	state, _ := auth.StateFromContext(r.Context())
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(describeState(state))
}

func serve(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return httpx.Serve(ctx, srv, 5*time.Second)
}
