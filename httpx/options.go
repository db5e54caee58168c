package httpx

import (
	"log/slog"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// HTTPErrorHandler is a function that handles errors during request processing.
type HTTPErrorHandler = echo.HTTPErrorHandler

type ServerOptions struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Logger       *slog.Logger
	Middlewares  []MiddlewareFunc
	ErrorHandler HTTPErrorHandler
	CORS         *middleware.CORSConfig
}

type ServerOption func(*ServerOptions)

func defaultServerOptions() ServerOptions {
	return ServerOptions{
		Address:      ":8080",
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		ErrorHandler: defaultHTTPErrorHandler,
	}
}

func WithAddress(addr string) ServerOption {
	return func(o *ServerOptions) {
		if addr != "" {
			o.Address = addr
		}
	}
}

func WithTimeouts(read, write time.Duration) ServerOption {
	return func(o *ServerOptions) {
		if read > 0 {
			o.ReadTimeout = read
		}
		if write > 0 {
			o.WriteTimeout = write
		}
	}
}

// WithLogger sets the logger used by the default request logging middleware.
func WithLogger(logger *slog.Logger) ServerOption {
	return func(o *ServerOptions) {
		if logger != nil {
			o.Logger = logger
		}
	}
}

// WithMiddlewares replaces the default recover/logger stack.
func WithMiddlewares(mw ...MiddlewareFunc) ServerOption {
	return func(o *ServerOptions) {
		if len(mw) > 0 {
			o.Middlewares = append([]MiddlewareFunc{}, mw...)
		}
	}
}

// AppendMiddlewares appends additional middleware to the existing stack.
func AppendMiddlewares(mw ...MiddlewareFunc) ServerOption {
	return func(o *ServerOptions) {
		if len(mw) == 0 {
			return
		}
		if o.Middlewares == nil {
			o.Middlewares = defaultMiddlewares(o.Logger)
		}
		o.Middlewares = append(o.Middlewares, mw...)
	}
}

func WithErrorHandler(handler HTTPErrorHandler) ServerOption {
	return func(o *ServerOptions) {
		if handler != nil {
			o.ErrorHandler = handler
		}
	}
}

// WithCORS enables CORS middleware using the provided configuration; if cfg is nil, the default config is used.
func WithCORS(cfg *middleware.CORSConfig) ServerOption {
	return func(o *ServerOptions) {
		if cfg == nil {
			def := middleware.DefaultCORSConfig
			o.CORS = &def
			return
		}
		o.CORS = cfg
	}
}

func defaultMiddlewares(logger *slog.Logger) []MiddlewareFunc {
	return []MiddlewareFunc{RecoverMiddleware(), LoggerMiddleware(logger)}
}

type ClientOptions struct {
	BaseURL   string
	Timeout   time.Duration
	Retries   int
	Headers   map[string]string
	UserAgent string
	SecretKey string
}

type ClientOption func(*ClientOptions)

func defaultClientOptions() ClientOptions {
	return ClientOptions{
		Timeout:   10 * time.Second,
		Headers:   map[string]string{"Accept": "application/json"},
		UserAgent: defaultUserAgent,
	}
}

func WithBaseURL(url string) ClientOption {
	return func(o *ClientOptions) {
		if url != "" {
			o.BaseURL = url
		}
	}
}

func WithClientTimeout(d time.Duration) ClientOption {
	return func(o *ClientOptions) {
		if d > 0 {
			o.Timeout = d
		}
	}
}

// WithRetries retries transport failures, 429 and 5xx responses n times.
func WithRetries(n int) ClientOption {
	return func(o *ClientOptions) {
		if n >= 0 {
			o.Retries = n
		}
	}
}

func WithHeaders(headers map[string]string) ClientOption {
	return func(o *ClientOptions) {
		for k, v := range headers {
			o.Headers[k] = v
		}
	}
}

func WithUserAgent(ua string) ClientOption {
	return func(o *ClientOptions) {
		if ua != "" {
			o.UserAgent = ua
		}
	}
}

// WithSecretKey authenticates every request with the instance secret key.
func WithSecretKey(sk string) ClientOption {
	return func(o *ClientOptions) {
		o.SecretKey = strings.TrimSpace(sk)
	}
}
