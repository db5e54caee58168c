package auth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// resolveHandshake completes a handshake round trip: it decodes the payload,
// forwards its cookies and re-checks the freshly issued session token.
func (d decision) resolveHandshake(ctx context.Context, base RequestState) RequestState {
	cookies, herr := d.decodeHandshake(ctx, d.sig.HandshakeToken)
	if herr != nil {
		return base.fail(herr)
	}

	headers := http.Header{}
	var sessionToken string
	devBrowser := d.sig.DevBrowserToken
	for _, raw := range cookies {
		headers.Add(HeaderSetCookie, raw)
		cookie, err := http.ParseSetCookie(raw)
		if err != nil {
			continue
		}
		switch cookie.Name {
		case CookieSession:
			sessionToken = cookie.Value
			if cookie.MaxAge < 0 {
				sessionToken = ""
			}
		case CookieDevBrowser:
			if cookie.Value != "" {
				devBrowser = cookie.Value
			}
		}
	}
	if d.sig.HandshakeFromQuery {
		headers.Set(HeaderLocation, d.redirectBack(devBrowser))
		headers.Set(HeaderCacheControl, "no-store")
	}

	if sessionToken == "" {
		state := base.signedOut(ReasonSessionTokenMissing, "handshake did not issue a session token")
		state.Headers = headers
		return state
	}

	claims, err := d.a.cfg.Verifier.Verify(ctx, sessionToken, d.verifyParams())
	if err != nil {
		if errors.Is(err, ErrJWTExpired) || errors.Is(err, ErrJWTNotYetValid) {
			d.a.cfg.Logger.WarnContext(ctx, "session token issued by the handshake is not currently valid; check the server clock",
				"error", err,
				"instance", d.instance.ID,
				"server_time", d.now.Unix(),
			)
			return base.fail(newError(ErrorKindHandshakeTokenStale, err, "handshake issued a session token outside its validity window"))
		}
		if errors.Is(err, ErrJWTKeyUnavailable) {
			return base.fail(newError(ErrorKindKeyUnavailable, err, "handshake session token could not be verified"))
		}
		return base.fail(newError(ErrorKindTokenInvalid, err, "handshake issued a session token that failed verification"))
	}

	state := base.signedIn(sessionToken, claims, headers)
	if d.sig.HandshakeFromQuery {
		state.Reason = ReasonHandshakeCompleted
	}
	return state
}

// redirectBack is the clean path of the current request; development
// instances carry the dev browser token in its query.
func (d decision) redirectBack(devBrowser string) string {
	location := CleanPath(d.sig.URL)
	if !d.instance.IsDevelopment() || devBrowser == "" {
		return location
	}
	sep := "?"
	if strings.Contains(location, "?") {
		sep = "&"
	}
	return location + sep + QueryDevBrowser + "=" + url.QueryEscape(devBrowser)
}

// decodeHandshake returns the Set-Cookie values carried by the handshake
// payload. Signed payloads must verify against the request's instance.
func (d decision) decodeHandshake(ctx context.Context, token string) ([]string, *Error) {
	if strings.Count(token, ".") == 2 {
		params := d.verifyParams()
		params.AuthorizedParties = nil
		claims, err := d.a.cfg.Verifier.Verify(ctx, token, params)
		if err != nil {
			if errors.Is(err, ErrJWTKeyUnavailable) {
				return nil, newError(ErrorKindKeyUnavailable, err, "handshake payload could not be verified")
			}
			if errors.Is(err, ErrJWTInvalidSignature) || errors.Is(err, ErrJWTKeyNotFound) {
				return nil, newError(ErrorKindKeyMismatch, err, "handshake payload was not signed for the configured keys")
			}
			return nil, newError(ErrorKindHandshakeTokenInvalid, err, "handshake payload failed verification")
		}
		return claims.Handshake, nil
	}
	if !d.a.cfg.AllowUnsignedHandshake {
		return nil, newError(ErrorKindHandshakeTokenInvalid, nil, "unsigned handshake payloads are not accepted")
	}
	cookies, err := DecodeUnsignedHandshake(token)
	if err != nil {
		return nil, newError(ErrorKindHandshakeTokenInvalid, err, "handshake payload is malformed")
	}
	return cookies, nil
}

// DecodeUnsignedHandshake decodes the simplified handshake payload: a base64
// encoded JSON array of Set-Cookie strings.
func DecodeUnsignedHandshake(payload string) ([]string, error) {
	// query decoding turns '+' into ' '
	payload = strings.ReplaceAll(strings.TrimSpace(payload), " ", "+")
	var data []byte
	var err error
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		if data, err = enc.DecodeString(payload); err == nil {
			break
		}
	}
	if err != nil {
		return nil, fmt.Errorf("decode base64: %w", err)
	}
	var cookies []string
	if err := json.Unmarshal(data, &cookies); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}
	return cookies, nil
}

// EncodeUnsignedHandshake is the inverse of DecodeUnsignedHandshake.
func EncodeUnsignedHandshake(cookies []string) (string, error) {
	if cookies == nil {
		cookies = []string{}
	}
	data, err := json.Marshal(cookies)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}
