package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// decision carries the inputs of one evaluation through the state machine.
type decision struct {
	a        *Authenticator
	sig      Signals
	settings settings
	instance Instance
	now      time.Time
}

func (a *Authenticator) evaluate(ctx context.Context, sig Signals, s settings, now time.Time) RequestState {
	s = s.withOverrides(sig)
	base := RequestState{
		PublishableKey: s.Keys.PublishableKey,
		Domain:         s.Domain,
		ProxyURL:       s.ProxyURL,
		IsSatellite:    s.IsSatellite,
		SignInURL:      s.SignInURL,
	}

	resolve := a.keys.Resolve
	if sig.PublishableKey != "" || sig.SecretKey != "" {
		// caller supplied pairs are unbounded; keep them out of the cache
		resolve = resolveKeyPair
	}
	instance, err := resolve(s.Keys)
	if err != nil {
		kind := ErrorKindInvalidKeyFormat
		if errors.Is(err, ErrKeyMismatch) {
			kind = ErrorKindKeyMismatch
		}
		return base.fail(newError(kind, err, "cannot resolve the configured key pair"))
	}
	if err := s.validate(instance); err != nil {
		return base.fail(newError(ErrorKindConfiguration, err, "invalid authentication settings"))
	}

	d := decision{a: a, sig: sig, settings: s, instance: instance, now: now}
	if sig.HandshakeToken != "" {
		return d.resolveHandshake(ctx, base)
	}
	return d.decide(ctx, base)
}

func (d decision) decide(ctx context.Context, base RequestState) RequestState {
	sig := d.sig
	cookiePath := sig.TokenSource != TokenSourceHeader

	if d.settings.IsSatellite && cookiePath && isHandshakeEligible(sig) {
		if d.instance.IsDevelopment() && !sig.Synced && sig.DevBrowserToken == "" {
			return d.satelliteSync(base)
		}
		if !d.instance.IsDevelopment() && !sig.HasClientUAT {
			return d.handshake(ctx, base, ReasonSatelliteNeedsSyncing, "satellite domain has not synced with the primary domain yet")
		}
	}

	if cookiePath {
		if d.instance.IsDevelopment() && sig.DevBrowserToken == "" {
			return d.handshake(ctx, base, ReasonDevBrowserMissing, "development instance without a dev browser token")
		}
		hasActiveClient := sig.HasClientUAT && sig.ClientUAT > 0
		if sig.SessionToken == "" {
			if !hasActiveClient {
				return base.signedOut(ReasonSessionTokenAndUATMissing, "no session token and no authenticated client")
			}
			return d.handshake(ctx, base, ReasonClientUATWithoutSessionToken, "client is authenticated but no session token reached the server")
		}
		if !hasActiveClient {
			return d.handshake(ctx, base, ReasonSessionTokenWithoutClientUAT, "session token present without an authenticated client")
		}
	}

	claims, err := d.a.cfg.Verifier.Verify(ctx, sig.SessionToken, d.verifyParams())
	switch {
	case err == nil:
	case errors.Is(err, ErrJWTExpired):
		return d.handshake(ctx, base, ReasonSessionTokenExpired, err.Error())
	case errors.Is(err, ErrJWTNotYetValid):
		return d.handshake(ctx, base, ReasonSessionTokenNotActiveYet, err.Error())
	case errors.Is(err, ErrJWTKeyUnavailable):
		return base.fail(newError(ErrorKindKeyUnavailable, err, "session token could not be verified"))
	default:
		return base.fail(newError(ErrorKindTokenInvalid, err, "session token failed verification"))
	}

	if cookiePath && isStale(claims.IssuedAt, sig.ClientUAT, d.a.cfg.UATTolerance) {
		msg := fmt.Sprintf("session token issued at %d precedes client_uat %d", claims.IssuedAt.Unix(), sig.ClientUAT)
		return d.handshake(ctx, base, ReasonSessionTokenIATBeforeUAT, msg)
	}
	return base.signedIn(sig.SessionToken, claims, nil)
}

// handshake redirects to the identity provider, unless the request cannot
// follow a redirect or is already looping.
func (d decision) handshake(ctx context.Context, base RequestState, reason Reason, msg string) RequestState {
	// Only document navigations can follow a handshake redirect. Other
	// requests (fetch, XHR, non-GET) would receive an opaque 307 they cannot
	// complete, so they are answered signed-out with the handshake reason.
	if !isHandshakeEligible(d.sig) {
		return base.signedOut(reason, msg+"; a handshake is not possible for this request")
	}
	if d.sig.RedirectCount >= d.a.cfg.MaxHandshakeRedirects {
		d.a.cfg.Logger.WarnContext(ctx, "handshake redirect loop detected",
			"reason", string(reason),
			"redirects", d.sig.RedirectCount,
			"instance", d.instance.ID,
		)
		return base.signedOut(ReasonHandshakeRedirectLoop, "too many consecutive handshake redirects; last reason: "+string(reason))
	}

	headers := http.Header{}
	headers.Set(HeaderLocation, HandshakeURL(d.sig, d.instance, d.settings.Domain, d.settings.ProxyURL))
	headers.Set(HeaderCacheControl, "no-store")
	counter := &http.Cookie{
		Name:     CookieRedirectCount,
		Value:    strconv.Itoa(d.sig.RedirectCount + 1),
		Path:     "/",
		MaxAge:   3,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
	headers.Add(HeaderSetCookie, counter.String())

	state := base
	state.Status = StatusHandshake
	state.Reason = reason
	state.Message = msg
	state.Headers = headers
	return state
}

func (d decision) satelliteSync(base RequestState) RequestState {
	headers := http.Header{}
	headers.Set(HeaderLocation, satelliteSyncURL(d.sig, d.settings.SignInURL))
	headers.Set(HeaderCacheControl, "no-store")
	state := base
	state.Status = StatusHandshake
	state.Reason = ReasonSatelliteNeedsSyncing
	state.Message = "development satellite must sync with the primary domain"
	state.Headers = headers
	return state
}

func (d decision) verifyParams() VerifyParams {
	return VerifyParams{
		Instance:          d.instance,
		Now:               d.now,
		ClockSkew:         d.a.cfg.ClockSkew,
		AuthorizedParties: d.a.cfg.AuthorizedParties,
	}
}

// isHandshakeEligible reports whether the browser will follow a redirect for
// this request: top level navigations only.
func isHandshakeEligible(sig Signals) bool {
	if sig.Method != http.MethodGet && sig.Method != http.MethodHead {
		return false
	}
	switch sig.SecFetchDest {
	case "", "document", "iframe":
		return true
	default:
		return false
	}
}

// isStale reports whether the client re-authenticated after the token was issued.
func isStale(issuedAt time.Time, clientUAT int64, tolerance time.Duration) bool {
	if issuedAt.IsZero() {
		return false
	}
	uat := time.Unix(clientUAT, 0)
	return uat.Sub(issuedAt) > tolerance
}

func (s RequestState) signedIn(token string, claims Claims, headers http.Header) RequestState {
	s.Status = StatusSignedIn
	s.Reason = ReasonNone
	s.Message = ""
	s.Token = token
	s.Claims = &claims
	s.Headers = headers
	return s
}

func (s RequestState) signedOut(reason Reason, msg string) RequestState {
	s.Status = StatusSignedOut
	s.Reason = reason
	s.Message = msg
	s.Token = ""
	s.Claims = nil
	return s
}

func (s RequestState) fail(err *Error) RequestState {
	s.Status = StatusSignedOut
	s.Reason = Reason(err.Kind)
	s.Message = err.Message
	s.Token = ""
	s.Claims = nil
	s.Headers = nil
	s.Err = err
	return s
}
