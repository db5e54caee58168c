package httpx

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/adeilh/go-handshake/auth"
)

type Server struct {
	app          *App
	address      string
	readTimeout  time.Duration
	writeTimeout time.Duration
	srv          *http.Server
	shutdown     time.Duration
}

type RouteRegistrar func(*App)

type StartOption func(*Server)

func WithShutdownTimeout(d time.Duration) StartOption {
	return func(s *Server) {
		if d > 0 {
			s.shutdown = d
		}
	}
}

func NewServer(opts ...ServerOption) *Server {
	cfg := defaultServerOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.Middlewares == nil {
		cfg.Middlewares = defaultMiddlewares(cfg.Logger)
	}

	app := New()
	app.e.HTTPErrorHandler = cfg.ErrorHandler
	// outermost, so responses short-circuited by auth still carry CORS headers
	if cfg.CORS != nil {
		app.Use(CORSMiddleware(cfg.CORS))
	}
	for _, mw := range cfg.Middlewares {
		app.Use(mw)
	}

	return &Server{
		app:          app,
		address:      cfg.Address,
		readTimeout:  cfg.ReadTimeout,
		writeTimeout: cfg.WriteTimeout,
		shutdown:     5 * time.Second,
	}
}

func (s *Server) RegisterRoutes(reg RouteRegistrar) {
	if reg != nil {
		reg(s.app)
	}
}

func (s *Server) Handler() http.Handler {
	return s.app
}

// Start serves the app until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, opts ...StartOption) error {
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.srv = &http.Server{
		Addr:              s.address,
		Handler:           s.app,
		ReadHeaderTimeout: s.readTimeout,
		ReadTimeout:       s.readTimeout,
		WriteTimeout:      s.writeTimeout,
	}
	return Serve(ctx, s.srv, s.shutdown)
}

// Serve runs srv until ctx is cancelled. Cancellation is a clean stop: the
// result is the error of the graceful shutdown, if any.
func Serve(ctx context.Context, srv *http.Server, shutdownTimeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// defaultHTTPErrorHandler renders errors as {"error": msg}. Authentication
// errors keep their kind in X-Clerk-Auth-Reason and never expose the cause.
func defaultHTTPErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	code := StatusInternalError
	msg := http.StatusText(code)

	var he *echo.HTTPError
	var authErr *auth.Error
	switch {
	case errors.As(err, &he):
		code = he.Code
		switch m := he.Message.(type) {
		case string:
			msg = m
		case error:
			msg = m.Error()
		}
	case errors.As(err, &authErr):
		c.Response().Header().Set(auth.HeaderAuthReason, string(authErr.Kind))
	case errors.Is(err, context.DeadlineExceeded):
		code = StatusServiceUnavailable
		msg = http.StatusText(code)
	}
	_ = c.JSON(code, map[string]any{"error": msg})
}
