package httpx

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/adeilh/go-handshake/auth"
)

// Context represents the context of the current HTTP request.
type Context = echo.Context

// HandlerFunc defines a function to handle HTTP requests.
type HandlerFunc = echo.HandlerFunc

// MiddlewareFunc defines a function to process middleware.
type MiddlewareFunc = echo.MiddlewareFunc

// App is the main application instance for handling HTTP requests.
type App struct{ e *echo.Echo }

// New creates a new App instance.
func New() *App {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	return &App{e}
}

// Use attaches middleware to the App instance.
func (a *App) Use(mw ...MiddlewareFunc) { a.e.Use(mw...) }

// Group creates a route group with an optional prefix and middleware stack.
func (a *App) Group(prefix string, mw ...MiddlewareFunc) *Router {
	return NewRouter(a, prefix, mw...)
}

// ServeHTTP makes App an http.Handler.
func (a *App) ServeHTTP(w http.ResponseWriter, r *http.Request) { a.e.ServeHTTP(w, r) }

// RecoverMiddleware returns a middleware that recovers from panics.
func RecoverMiddleware() MiddlewareFunc { return middleware.Recover() }

// LoggerMiddleware logs one structured line per request through logger.
func LoggerMiddleware(logger *slog.Logger) MiddlewareFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			level := slog.LevelInfo
			attrs := []slog.Attr{
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				level = slog.LevelError
				attrs = append(attrs, slog.String("error", v.Error.Error()))
			}
			if status := c.Response().Header().Get(auth.HeaderAuthStatus); status != "" {
				attrs = append(attrs, slog.String("auth_status", status))
			}
			logger.LogAttrs(c.Request().Context(), level, "http request", attrs...)
			return nil
		},
	})
}

// CORSMiddleware builds a CORS middleware from the provided config; nil uses defaults.
func CORSMiddleware(cfg *middleware.CORSConfig) MiddlewareFunc {
	if cfg == nil {
		return middleware.CORSWithConfig(middleware.DefaultCORSConfig)
	}
	return middleware.CORSWithConfig(*cfg)
}

// GET registers a GET route.
func (a *App) GET(path string, h HandlerFunc, mw ...MiddlewareFunc) {
	a.e.GET(path, h, mw...)
}

// POST registers a POST route.
func (a *App) POST(path string, h HandlerFunc, mw ...MiddlewareFunc) {
	a.e.POST(path, h, mw...)
}

// HEAD registers a HEAD route.
func (a *App) HEAD(path string, h HandlerFunc, mw ...MiddlewareFunc) {
	a.e.HEAD(path, h, mw...)
}

// Handle mounts a plain net/http handler, e.g. the Prometheus exporter.
func (a *App) Handle(method, path string, h http.Handler) {
	a.e.Add(method, path, echo.WrapHandler(h))
}

// HTTPError constructs an HTTP error for returning from handlers.
func HTTPError(code int, message any) error { return echo.NewHTTPError(code, message) }

// DefaultCORSConfig provides the default CORS configuration.
var DefaultCORSConfig = middleware.DefaultCORSConfig

// AuthCORSConfig allows credentialed requests from origins and lets browser
// code read the auth status headers and handshake Location.
func AuthCORSConfig(origins ...string) *middleware.CORSConfig {
	cfg := middleware.DefaultCORSConfig
	cfg.AllowOrigins = append([]string(nil), origins...)
	cfg.AllowCredentials = true
	cfg.ExposeHeaders = []string{auth.HeaderAuthStatus, auth.HeaderAuthReason, auth.HeaderAuthMessage, "Location"}
	return &cfg
}
