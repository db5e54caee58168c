package auth

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// Cookie, header and query parameter names read and written by the core.
const (
	CookieSession       = "__session"
	CookieClientUAT     = "__client_uat"
	CookieDevBrowser    = "__clerk_db_jwt"
	CookieHandshake     = "__clerk_handshake"
	CookieRedirectCount = "__clerk_redirect_count"

	QueryHandshake      = "__clerk_handshake"
	QueryHandshakeHelp  = "__clerk_help"
	QueryDevBrowser     = "__clerk_db_jwt"
	QueryStatus         = "__clerk_status"
	QueryCreatedSession = "__clerk_created_session"
	QuerySynced         = "__clerk_synced"
	QueryRedirectURL    = "__clerk_redirect_url"

	HeaderAuthorization  = "Authorization"
	HeaderOrigin         = "Origin"
	HeaderHost           = "Host"
	HeaderForwardedHost  = "X-Forwarded-Host"
	HeaderForwardedPort  = "X-Forwarded-Port"
	HeaderForwardedProto = "X-Forwarded-Proto"
	HeaderReferer        = "Referer"
	HeaderUserAgent      = "User-Agent"
	HeaderSecFetchDest   = "Sec-Fetch-Dest"
	HeaderAccept         = "Accept"

	HeaderPublishableKey = "X-Publishable-Key"
	HeaderSecretKey      = "X-Secret-Key"
	HeaderProxyURL       = "X-Proxy-Url"
	HeaderDomain         = "X-Domain"
	HeaderSatellite      = "X-Satellite"
	HeaderSignInURL      = "X-Sign-In-Url"
)

// TokenSource records where the session token was found.
type TokenSource string

const (
	TokenSourceNone   TokenSource = ""
	TokenSourceHeader TokenSource = "header"
	TokenSourceCookie TokenSource = "cookie"
)

// Request is the framework independent view of an inbound request. URL
// should be absolute; adapters fill in scheme and host.
type Request struct {
	Method string
	URL    *url.URL
	Header http.Header
}

// RequestFromHTTP normalizes a net/http server request.
func RequestFromHTTP(r *http.Request) Request {
	u := &url.URL{}
	if r.URL != nil {
		clone := *r.URL
		u = &clone
	}
	if u.Host == "" {
		u.Host = r.Host
	}
	if u.Scheme == "" {
		u.Scheme = "http"
		if r.TLS != nil {
			u.Scheme = "https"
		}
	}
	header := r.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	if header.Get(HeaderHost) == "" && r.Host != "" {
		header.Set(HeaderHost, r.Host)
	}
	return Request{Method: r.Method, URL: u, Header: header}
}

// Signals are the raw authentication inputs of a single request.
type Signals struct {
	Method string
	URL    *url.URL

	SessionToken string
	TokenSource  TokenSource

	ClientUAT    int64
	HasClientUAT bool

	DevBrowserToken     string
	DevBrowserFromQuery bool

	HandshakeToken     string
	HandshakeFromQuery bool

	RedirectCount int
	Synced        bool

	Origin         string
	Host           string
	ForwardedHost  string
	ForwardedPort  string
	ForwardedProto string
	Referer        string
	UserAgent      string
	SecFetchDest   string
	Accept         string

	PublishableKey string
	SecretKey      string
	ProxyURL       string
	Domain         string
	IsSatellite    bool
	SignInURL      string
}

// Extract reads the authentication signals from req. It performs no I/O and
// never fails; missing values stay zero. Override headers are read only when
// allowOverrides is set.
func Extract(req Request, allowOverrides bool) Signals {
	header := req.Header
	if header == nil {
		header = http.Header{}
	}
	u := req.URL
	if u == nil {
		u = &url.URL{Path: "/"}
	}
	cookies := parseCookies(header)
	query := u.Query()

	sig := Signals{
		Method:         strings.ToUpper(req.Method),
		URL:            u,
		Origin:         firstHeaderValue(header, HeaderOrigin),
		Host:           firstHeaderValue(header, HeaderHost),
		ForwardedHost:  firstHeaderValue(header, HeaderForwardedHost),
		ForwardedPort:  firstHeaderValue(header, HeaderForwardedPort),
		ForwardedProto: firstHeaderValue(header, HeaderForwardedProto),
		Referer:        header.Get(HeaderReferer),
		UserAgent:      header.Get(HeaderUserAgent),
		SecFetchDest:   strings.ToLower(firstHeaderValue(header, HeaderSecFetchDest)),
		Accept:         header.Get(HeaderAccept),
	}
	if sig.Method == "" {
		sig.Method = http.MethodGet
	}
	if sig.Host == "" {
		sig.Host = u.Host
	}

	if token, ok := bearerToken(header); ok {
		sig.SessionToken, sig.TokenSource = token, TokenSourceHeader
	} else if value := cookies[CookieSession]; value != "" {
		sig.SessionToken, sig.TokenSource = value, TokenSourceCookie
	}

	if raw, ok := cookies[CookieClientUAT]; ok {
		if uat, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64); err == nil && uat >= 0 {
			sig.ClientUAT, sig.HasClientUAT = uat, true
		}
	}

	if value := query.Get(QueryDevBrowser); value != "" {
		sig.DevBrowserToken, sig.DevBrowserFromQuery = value, true
	} else {
		sig.DevBrowserToken = cookies[CookieDevBrowser]
	}

	if value := query.Get(QueryHandshake); value != "" {
		sig.HandshakeToken, sig.HandshakeFromQuery = value, true
	} else {
		sig.HandshakeToken = cookies[CookieHandshake]
	}

	if raw := cookies[CookieRedirectCount]; raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			sig.RedirectCount = n
		}
	}
	sig.Synced = query.Get(QuerySynced) == "true"

	if allowOverrides {
		sig.PublishableKey = header.Get(HeaderPublishableKey)
		sig.SecretKey = header.Get(HeaderSecretKey)
		sig.ProxyURL = header.Get(HeaderProxyURL)
		sig.Domain = header.Get(HeaderDomain)
		sig.SignInURL = header.Get(HeaderSignInURL)
		sig.IsSatellite, _ = strconv.ParseBool(header.Get(HeaderSatellite))
	}
	return sig
}

// ExternalOrigin is scheme://host as seen by the browser, honoring reverse
// proxy headers.
func (s Signals) ExternalOrigin() string {
	scheme := strings.ToLower(s.ForwardedProto)
	if scheme == "" && s.URL != nil {
		scheme = s.URL.Scheme
	}
	if scheme == "" {
		scheme = "http"
	}
	host := s.ForwardedHost
	if host == "" {
		host = s.Host
	}
	if host != "" && s.ForwardedHost != "" && s.ForwardedPort != "" && !hasPort(host) && !isDefaultPort(scheme, s.ForwardedPort) {
		host = host + ":" + s.ForwardedPort
	}
	return scheme + "://" + host
}

// firstHeaderValue collapses repeated headers and comma separated lists to
// their first entry.
func firstHeaderValue(h http.Header, name string) string {
	values := h.Values(name)
	if len(values) == 0 {
		return ""
	}
	first, _, _ := strings.Cut(values[0], ",")
	return strings.TrimSpace(first)
}

func bearerToken(h http.Header) (string, bool) {
	value := strings.TrimSpace(h.Get(HeaderAuthorization))
	if value == "" {
		return "", false
	}
	scheme, token, ok := strings.Cut(value, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func parseCookies(h http.Header) map[string]string {
	out := make(map[string]string)
	lines := h.Values("Cookie")
	if len(lines) == 0 {
		return out
	}
	parsed, err := http.ParseCookie(strings.Join(lines, "; "))
	if err != nil {
		// Fall back to the lenient request parser so one bad pair does not
		// hide the others.
		r := &http.Request{Header: http.Header{"Cookie": lines}}
		parsed = r.Cookies()
	}
	for _, c := range parsed {
		if _, seen := out[c.Name]; !seen {
			out[c.Name] = c.Value
		}
	}
	return out
}

func hasPort(host string) bool {
	if strings.HasPrefix(host, "[") {
		return strings.Contains(host, "]:")
	}
	return strings.Contains(host, ":")
}

func isDefaultPort(scheme, port string) bool {
	return (scheme == "https" && port == "443") || (scheme == "http" && port == "80")
}
