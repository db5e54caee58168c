package auth

import (
	"context"
	"crypto"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultClockSkew is the leeway applied to exp, nbf and iat checks.
const DefaultClockSkew = 5 * time.Second

var defaultAlgorithms = []string{"RS256", "RS384", "RS512"}

type tokenClaims struct {
	SessionID      string   `json:"sid,omitempty"`
	AuthorizedBy   string   `json:"azp,omitempty"`
	OrgID          string   `json:"org_id,omitempty"`
	OrgRole        string   `json:"org_role,omitempty"`
	OrgSlug        string   `json:"org_slug,omitempty"`
	OrgPermissions []string `json:"org_permissions,omitempty"`
	Handshake      []string `json:"handshake,omitempty"`
	jwt.RegisteredClaims
}

// JWTVerifier implements TokenVerifier with golang-jwt, resolving keys
// through a KeySource.
type JWTVerifier struct {
	keys       KeySource
	algorithms []string
}

// NewJWTVerifier builds a verifier accepting the given RSA algorithms;
// RS256/RS384/RS512 when none are supplied.
func NewJWTVerifier(keys KeySource, algorithms ...string) (*JWTVerifier, error) {
	if keys == nil {
		return nil, ErrJWTMissingSigningKey
	}
	if len(algorithms) == 0 {
		algorithms = defaultAlgorithms
	}
	for _, alg := range algorithms {
		if !slices.Contains(defaultAlgorithms, alg) {
			return nil, fmt.Errorf("%w: %s", ErrJWTUnsupportedAlgo, alg)
		}
	}
	return &JWTVerifier{keys: keys, algorithms: slices.Clone(algorithms)}, nil
}

// Verify checks signature, exp, nbf and iat (with params.ClockSkew leeway)
// and the authorized party when params restricts it.
func (v *JWTVerifier) Verify(ctx context.Context, raw string, params VerifyParams) (Claims, error) {
	if err := contextError(ctx); err != nil {
		return Claims{}, err
	}
	if strings.Count(raw, ".") != 2 {
		return Claims{}, ErrJWTInvalidFormat
	}
	now := params.Now
	if now.IsZero() {
		now = time.Now()
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods(v.algorithms),
		jwt.WithLeeway(params.ClockSkew),
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
	)

	var claims tokenClaims
	var keyErr error
	_, err := parser.ParseWithClaims(raw, &claims, func(token *jwt.Token) (any, error) {
		kid, _ := token.Header["kid"].(string)
		key, err := v.keys.PublicKey(ctx, params.Instance, kid)
		keyErr = err
		return key, err
	})
	if keyErr != nil {
		return Claims{}, classifyKeyError(keyErr)
	}
	if err != nil {
		return Claims{}, classifyJWTError(err)
	}

	if len(params.AuthorizedParties) > 0 && claims.AuthorizedBy != "" && !slices.Contains(params.AuthorizedParties, claims.AuthorizedBy) {
		return Claims{}, fmt.Errorf("%w: %s", ErrJWTUnauthorizedParty, claims.AuthorizedBy)
	}
	return claimsFromToken(claims), nil
}

// classifyKeyError maps a KeySource failure. Only an unknown kid says
// anything about the token; anything else means the keys could not be loaded.
func classifyKeyError(err error) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, ErrJWTKeyNotFound):
		return err
	default:
		return fmt.Errorf("%w: %w", ErrJWTKeyUnavailable, err)
	}
}

func classifyJWTError(err error) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %v", ErrJWTInvalidFormat, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return fmt.Errorf("%w: %v", ErrJWTInvalidSignature, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %v", ErrJWTExpired, err)
	case errors.Is(err, jwt.ErrTokenNotValidYet), errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		return fmt.Errorf("%w: %v", ErrJWTNotYetValid, err)
	default:
		return fmt.Errorf("%w: %v", ErrJWTInvalidClaims, err)
	}
}

func claimsFromToken(c tokenClaims) Claims {
	out := Claims{
		Subject:                 c.Subject,
		SessionID:               c.SessionID,
		Issuer:                  c.Issuer,
		AuthorizedParty:         c.AuthorizedBy,
		OrganizationID:          c.OrgID,
		OrganizationRole:        c.OrgRole,
		OrganizationSlug:        c.OrgSlug,
		OrganizationPermissions: cloneStrings(c.OrgPermissions),
		Handshake:               cloneStrings(c.Handshake),
	}
	if c.IssuedAt != nil {
		out.IssuedAt = c.IssuedAt.UTC()
	}
	if c.ExpiresAt != nil {
		out.ExpiresAt = c.ExpiresAt.UTC()
	}
	if c.NotBefore != nil {
		out.NotBefore = c.NotBefore.UTC()
	}
	return out
}

// StaticKeySource serves a single PEM encoded RSA public key, for
// deployments that pin the instance key instead of fetching the JWKS.
type StaticKeySource struct {
	key crypto.PublicKey
}

// NewStaticKeySource parses a PEM public key.
func NewStaticKeySource(pem string) (*StaticKeySource, error) {
	pem = strings.TrimSpace(pem)
	if pem == "" {
		return nil, ErrJWTMissingSigningKey
	}
	if !strings.HasPrefix(pem, "-----BEGIN") {
		pem = "-----BEGIN PUBLIC KEY-----\n" + pem + "\n-----END PUBLIC KEY-----"
	}
	key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(pem))
	if err != nil {
		return nil, fmt.Errorf("auth: parse jwt key: %w", err)
	}
	return &StaticKeySource{key: key}, nil
}

// NewStaticKeySourceFromKey wraps an already parsed public key.
func NewStaticKeySourceFromKey(key crypto.PublicKey) *StaticKeySource {
	return &StaticKeySource{key: key}
}

func (s *StaticKeySource) PublicKey(ctx context.Context, _ Instance, _ string) (crypto.PublicKey, error) {
	if err := contextError(ctx); err != nil {
		return nil, err
	}
	if s == nil || s.key == nil {
		return nil, ErrJWTKeyNotFound
	}
	return s.key, nil
}
