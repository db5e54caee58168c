package httpx

import (
	"net/http"
	"net/http/httptest"
)

// TestServer is an httptest.Server paired with a Client aimed at it.
type TestServer struct {
	*httptest.Server
}

func NewTestServer(handler http.Handler) *TestServer {
	return &TestServer{Server: httptest.NewServer(handler)}
}

// BaseURL returns the server's base URL, empty for a nil server.
func (ts *TestServer) BaseURL() string {
	if ts == nil || ts.Server == nil {
		return ""
	}
	return ts.URL
}

// APIClient returns a Client for the server; opts are applied after the base URL.
func (ts *TestServer) APIClient(opts ...ClientOption) *Client {
	return NewClient(append([]ClientOption{WithBaseURL(ts.BaseURL())}, opts...)...)
}
