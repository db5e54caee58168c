package auth

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidKeyFormat = errors.New("auth: invalid key format")
	ErrKeyMismatch      = errors.New("auth: publishable and secret key belong to different instances")
	ErrInvalidConfig    = errors.New("auth: invalid configuration")
	ErrTenantNotFound   = errors.New("auth: tenant not found")

	ErrJWTInvalidFormat     = errors.New("auth: invalid jwt format")
	ErrJWTInvalidSignature  = errors.New("auth: invalid jwt signature")
	ErrJWTUnsupportedAlgo   = errors.New("auth: unsupported jwt algorithm")
	ErrJWTExpired           = errors.New("auth: jwt expired")
	ErrJWTNotYetValid       = errors.New("auth: jwt not yet valid")
	ErrJWTInvalidClaims     = errors.New("auth: invalid jwt claims")
	ErrJWTKeyNotFound       = errors.New("auth: jwt signing key not found")
	ErrJWTKeyUnavailable    = errors.New("auth: jwt signing keys unavailable")
	ErrJWTMissingSigningKey = errors.New("auth: missing signing key")
	ErrJWTUnauthorizedParty = errors.New("auth: jwt authorized party not allowed")
)

// ErrorKind classifies fatal outcomes surfaced as 500 responses.
type ErrorKind string

const (
	ErrorKindInvalidKeyFormat      ErrorKind = "invalid-key-format"
	ErrorKindKeyMismatch           ErrorKind = "key-mismatch"
	ErrorKindTokenInvalid          ErrorKind = "token-invalid"
	ErrorKindHandshakeTokenInvalid ErrorKind = "handshake-token-invalid"
	ErrorKindHandshakeTokenStale   ErrorKind = "handshake-token-stale"
	ErrorKindConfiguration         ErrorKind = "configuration"
	ErrorKindKeyUnavailable        ErrorKind = "key-unavailable"
)

// Error is a fatal authentication failure. It is never downgraded to a
// signed-out state.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func newError(kind ErrorKind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("auth: %s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("auth: %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ErrorKindOf returns the kind of the first *Error in err's chain.
func ErrorKindOf(err error) (ErrorKind, bool) {
	var authErr *Error
	if errors.As(err, &authErr) {
		return authErr.Kind, true
	}
	return "", false
}
