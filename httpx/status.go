package httpx

import "net/http"

const (
	StatusOK                 = http.StatusOK                  // Passthrough
	StatusCreated            = http.StatusCreated             // Resource created
	StatusNoContent          = http.StatusNoContent           // Successful with no body
	StatusTemporaryRedirect  = http.StatusTemporaryRedirect   // Handshake redirect
	StatusBadRequest         = http.StatusBadRequest          // Validation or malformed input
	StatusUnauthorized       = http.StatusUnauthorized        // Signed out on a protected route
	StatusNotFound           = http.StatusNotFound            // Resource not found
	StatusInternalError      = http.StatusInternalServerError // Fatal authentication error
	StatusServiceUnavailable = http.StatusServiceUnavailable  // Dependency failure (JWKS, tenant directory)
)
