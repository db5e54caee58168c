package auth

import (
	"net/url"
	"slices"
	"strings"
)

const (
	handshakePath     = "/v1/client/handshake"
	reservedSubdomain = "clerk."
)

// handshakeControlParams never survive into redirect targets.
var handshakeControlParams = []string{QueryHandshake, QueryHandshakeHelp, QueryDevBrowser}

// HandshakeURL builds the Location of a handshake redirect for the request
// described by sig.
func HandshakeURL(sig Signals, instance Instance, domain, proxyURL string) string {
	var b strings.Builder
	b.WriteString(handshakeBase(sig, instance, domain, proxyURL))
	b.WriteString(handshakePath)
	b.WriteString("?redirect_url=")
	b.WriteString(url.QueryEscape(OriginalURL(sig)))
	if instance.IsDevelopment() && sig.DevBrowserToken != "" {
		b.WriteString("&" + QueryDevBrowser + "=")
		b.WriteString(url.QueryEscape(sig.DevBrowserToken))
	}
	return b.String()
}

// OriginalURL reconstructs the externally visible URL of the request with
// the handshake control parameters removed. Path and the remaining query are
// kept byte for byte.
func OriginalURL(sig Signals) string {
	return sig.ExternalOrigin() + CleanPath(sig.URL)
}

// CleanPath is the escaped path plus query of u without handshake control
// parameters.
func CleanPath(u *url.URL) string {
	if u == nil {
		return "/"
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if query := stripQuery(u.RawQuery, handshakeControlParams...); query != "" {
		path += "?" + query
	}
	return path
}

func handshakeBase(sig Signals, instance Instance, domain, proxyURL string) string {
	if proxyURL != "" {
		proxy := strings.TrimRight(proxyURL, "/")
		if proxy == "" || strings.HasPrefix(proxy, "/") {
			return sig.ExternalOrigin() + proxy
		}
		return proxy
	}
	if domain != "" && !instance.IsDevelopment() {
		return "https://" + reservedDomain(domain)
	}
	return "https://" + instance.FrontendAPI
}

// reservedDomain prefixes a custom domain with the subdomain the identity
// provider serves its frontend API from.
func reservedDomain(domain string) string {
	domain = strings.TrimPrefix(strings.TrimPrefix(domain, "https://"), "http://")
	domain = strings.TrimRight(domain, "/")
	if strings.HasPrefix(domain, reservedSubdomain) {
		return domain
	}
	return reservedSubdomain + domain
}

// satelliteSyncURL sends a development satellite to the primary sign-in page
// so it can return with a dev browser.
func satelliteSyncURL(sig Signals, signInURL string) string {
	sep := "?"
	if strings.Contains(signInURL, "?") {
		sep = "&"
	}
	var b strings.Builder
	b.WriteString(signInURL)
	b.WriteString(sep + QueryRedirectURL + "=")
	b.WriteString(url.QueryEscape(OriginalURL(sig)))
	if sig.DevBrowserToken != "" {
		b.WriteString("&" + QueryDevBrowser + "=")
		b.WriteString(url.QueryEscape(sig.DevBrowserToken))
	}
	return b.String()
}

// stripQuery drops the named parameters from a raw query without
// re-encoding the pairs that remain.
func stripQuery(rawQuery string, names ...string) string {
	if rawQuery == "" {
		return ""
	}
	pairs := strings.Split(rawQuery, "&")
	kept := make([]string, 0, len(pairs))
	for _, pair := range pairs {
		key, _, _ := strings.Cut(pair, "=")
		if unescaped, err := url.QueryUnescape(key); err == nil {
			key = unescaped
		}
		if slices.Contains(names, key) {
			continue
		}
		kept = append(kept, pair)
	}
	return strings.Join(kept, "&")
}
