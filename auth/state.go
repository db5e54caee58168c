package auth

import (
	"net/http"
	"slices"
)

// Response headers written by the projection.
const (
	HeaderLocation     = "Location"
	HeaderSetCookie    = "Set-Cookie"
	HeaderCacheControl = "Cache-Control"
	HeaderContentType  = "Content-Type"

	HeaderAuthStatus  = "X-Clerk-Auth-Status"
	HeaderAuthReason  = "X-Clerk-Auth-Reason"
	HeaderAuthMessage = "X-Clerk-Auth-Message"
)

var errorDescriptions = map[ErrorKind]string{
	ErrorKindInvalidKeyFormat:      "the configured publishable or secret key is malformed",
	ErrorKindKeyMismatch:           "the publishable key and secret key do not belong to the same instance",
	ErrorKindTokenInvalid:          "the session token could not be verified",
	ErrorKindHandshakeTokenInvalid: "the handshake payload could not be verified",
	ErrorKindHandshakeTokenStale:   "the handshake issued a token outside its validity window; check the server clock",
	ErrorKindConfiguration:         "the authentication settings are invalid",
	ErrorKindKeyUnavailable:        "the token verification keys could not be loaded",
}

// Response is what a framework adapter must apply to its native response.
// Status 200 means the request passes through with Header merged in.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Passthrough reports whether the adapter should call the next handler.
func (r Response) Passthrough() bool { return r.Status == http.StatusOK }

// ApplyHeaders merges the response headers into dst, appending multi-valued
// headers such as Set-Cookie.
func (r Response) ApplyHeaders(dst http.Header) {
	for name, values := range r.Header {
		for _, v := range values {
			dst.Add(name, v)
		}
	}
}

// Write sends a terminal (non passthrough) response.
func (r Response) Write(w http.ResponseWriter) {
	r.ApplyHeaders(w.Header())
	w.WriteHeader(r.Status)
	if len(r.Body) > 0 {
		_, _ = w.Write(r.Body)
	}
}

// Response projects the state onto HTTP: 200 passthrough, 307 when a
// Location is set, 500 for errors.
func (s RequestState) Response() Response {
	if s.IsError() {
		header := http.Header{}
		header.Set(HeaderContentType, "text/plain; charset=utf-8")
		header.Set(HeaderCacheControl, "no-store")
		header.Set(HeaderAuthStatus, string(StatusSignedOut))
		header.Set(HeaderAuthReason, string(s.Err.Kind))
		header.Set(HeaderAuthMessage, describeErrorKind(s.Err.Kind))
		return Response{
			Status: http.StatusInternalServerError,
			Header: header,
			Body:   []byte(http.StatusText(http.StatusInternalServerError) + "\n"),
		}
	}

	header := http.Header{}
	for name, values := range s.Headers {
		header[name] = slices.Clone(values)
	}
	if header.Get(HeaderLocation) == "" {
		return Response{Status: http.StatusOK, Header: header}
	}
	header.Set(HeaderAuthStatus, string(s.Status))
	if s.Reason != ReasonNone {
		header.Set(HeaderAuthReason, string(s.Reason))
	}
	if s.Message != "" {
		header.Set(HeaderAuthMessage, s.Message)
	}
	return Response{Status: http.StatusTemporaryRedirect, Header: header}
}

func describeErrorKind(kind ErrorKind) string {
	if desc, ok := errorDescriptions[kind]; ok {
		return desc
	}
	return "authentication failed"
}
