package auth

import (
	"context"
	"crypto"
	"net/http"
	"time"
)

// Status is the externally visible outcome of authenticating a request.
type Status string

const (
	StatusSignedIn  Status = "signed-in"
	StatusSignedOut Status = "signed-out"
	StatusHandshake Status = "handshake"
)

// Reason explains why a request ended up in its Status.
type Reason string

const (
	ReasonNone                         Reason = ""
	ReasonSessionTokenAndUATMissing    Reason = "session-token-and-uat-missing"
	ReasonClientUATWithoutSessionToken Reason = "client-uat-but-no-session-token"
	ReasonSessionTokenWithoutClientUAT Reason = "session-token-but-no-client-uat"
	ReasonSessionTokenExpired          Reason = "session-token-expired"
	ReasonSessionTokenNotActiveYet     Reason = "session-token-not-active-yet"
	ReasonSessionTokenIATBeforeUAT     Reason = "session-token-iat-before-client-uat"
	ReasonSessionTokenMissing          Reason = "session-token-missing"
	ReasonDevBrowserMissing            Reason = "dev-browser-missing"
	ReasonSatelliteNeedsSyncing        Reason = "satellite-needs-syncing"
	ReasonHandshakeRedirectLoop        Reason = "handshake-redirect-loop"
	ReasonHandshakeCompleted           Reason = "handshake-completed"
)

// InstanceType distinguishes development keys from production keys.
type InstanceType string

const (
	InstanceDevelopment InstanceType = "development"
	InstanceProduction  InstanceType = "production"
)

// Claims is the decoded payload of a verified session or handshake token.
type Claims struct {
	Subject                 string
	SessionID               string
	Issuer                  string
	AuthorizedParty         string
	OrganizationID          string
	OrganizationRole        string
	OrganizationSlug        string
	OrganizationPermissions []string
	IssuedAt                time.Time
	ExpiresAt               time.Time
	NotBefore               time.Time
	Handshake               []string
	Raw                     map[string]any
}

// VerifyParams carries everything a TokenVerifier needs besides the token.
type VerifyParams struct {
	Instance          Instance
	Now               time.Time
	ClockSkew         time.Duration
	AuthorizedParties []string
}

// TokenVerifier checks a token's signature and time claims and returns the
// decoded claims. Expired tokens must be reported with ErrJWTExpired and
// premature ones with ErrJWTNotYetValid; everything else is an integrity
// failure.
type TokenVerifier interface {
	Verify(ctx context.Context, token string, params VerifyParams) (Claims, error)
}

// KeySource resolves the public key used to verify tokens for an instance.
type KeySource interface {
	PublicKey(ctx context.Context, instance Instance, kid string) (crypto.PublicKey, error)
}

// TenantResolver supplies per-request tenant settings for multi-tenant
// servers. Returning ErrTenantNotFound falls back to the static Config.
type TenantResolver interface {
	ResolveTenant(ctx context.Context, req Request) (Tenant, error)
}

// Tenant overrides the key pair and domain settings of a Config.
type Tenant struct {
	PublishableKey string
	SecretKey      string
	Domain         string
	ProxyURL       string
	IsSatellite    bool
	SignInURL      string
}

// Observer receives every finished RequestState, e.g. for metrics.
type Observer interface {
	ObserveRequestState(ctx context.Context, state RequestState, elapsed time.Duration)
}

// AuthObject is the stable projection handed to application code.
type AuthObject struct {
	UserID         string
	SessionID      string
	OrgID          string
	OrgRole        string
	OrgSlug        string
	OrgPermissions []string
	Claims         *Claims
	Token          string
}

// IsSignedIn reports whether the object represents an active session.
func (a AuthObject) IsSignedIn() bool { return a.SessionID != "" && a.UserID != "" }

// RequestState is the decision reached for a single request. Exactly one of
// signed-in, signed-out, handshake or error applies; IsError reports the last.
type RequestState struct {
	Status  Status
	Reason  Reason
	Message string
	Token   string
	Claims  *Claims
	Headers http.Header
	Err     *Error

	PublishableKey string
	Domain         string
	ProxyURL       string
	IsSatellite    bool
	SignInURL      string
}

// IsSignedIn reports whether the request carries a valid session.
func (s RequestState) IsSignedIn() bool { return s.Err == nil && s.Status == StatusSignedIn }

// IsError reports whether the state is a fatal configuration or integrity failure.
func (s RequestState) IsError() bool { return s.Err != nil }

// ToAuth projects the state into an AuthObject; non signed-in states yield
// the zero value.
func (s RequestState) ToAuth() AuthObject {
	if !s.IsSignedIn() || s.Claims == nil {
		return AuthObject{}
	}
	claims := *s.Claims
	return AuthObject{
		UserID:         claims.Subject,
		SessionID:      claims.SessionID,
		OrgID:          claims.OrganizationID,
		OrgRole:        claims.OrganizationRole,
		OrgSlug:        claims.OrganizationSlug,
		OrgPermissions: cloneStrings(claims.OrganizationPermissions),
		Claims:         &claims,
		Token:          s.Token,
	}
}

func cloneStrings(src []string) []string {
	if len(src) == 0 {
		return nil
	}
	out := make([]string, len(src))
	copy(out, src)
	return out
}

func contextError(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
