package httpx

import (
	"strings"

	"github.com/labstack/echo/v4"
)

// Route is one entry of a route table. SignedIn routes get RequireSignedIn
// in front of their own middleware.
type Route struct {
	Method     string
	Path       string
	Handler    HandlerFunc
	Middleware []MiddlewareFunc
	SignedIn   bool
}

func (r Route) middleware() []MiddlewareFunc {
	if !r.SignedIn {
		return r.Middleware
	}
	return append([]MiddlewareFunc{RequireSignedIn()}, r.Middleware...)
}

// RegisterRoutes applies a route table to the App. Incomplete entries are
// skipped.
func RegisterRoutes(a *App, routes ...Route) {
	if a == nil || a.e == nil {
		return
	}
	for _, r := range routes {
		if r.Handler == nil || r.Path == "" || r.Method == "" {
			continue
		}
		a.e.Add(strings.ToUpper(r.Method), r.Path, r.Handler, r.middleware()...)
	}
}

// Router is a prefixed route group. Handshake redirects only happen on
// navigations, so it exposes GET and HEAD next to POST.
type Router struct {
	g *echo.Group
}

// NewRouter creates a router under prefix with optional middleware.
func NewRouter(a *App, prefix string, mw ...MiddlewareFunc) *Router {
	if a == nil || a.e == nil {
		return &Router{}
	}
	return &Router{g: a.e.Group(prefix, mw...)}
}

func (r *Router) GET(path string, h HandlerFunc, mw ...MiddlewareFunc) *Router {
	return r.Add(Route{Method: echo.GET, Path: path, Handler: h, Middleware: mw})
}

func (r *Router) HEAD(path string, h HandlerFunc, mw ...MiddlewareFunc) *Router {
	return r.Add(Route{Method: echo.HEAD, Path: path, Handler: h, Middleware: mw})
}

func (r *Router) POST(path string, h HandlerFunc, mw ...MiddlewareFunc) *Router {
	return r.Add(Route{Method: echo.POST, Path: path, Handler: h, Middleware: mw})
}

// Add registers a single Route on the group.
func (r *Router) Add(route Route) *Router {
	if r.g == nil || route.Handler == nil || route.Path == "" || route.Method == "" {
		return r
	}
	r.g.Add(strings.ToUpper(route.Method), route.Path, route.Handler, route.middleware()...)
	return r
}
