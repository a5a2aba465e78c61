package core

import "errors"

// Sentinel errors for token authentication.
var (
	// ErrAuthFailed is matched by every authentication rejection.
	// All *AuthError values report errors.Is(err, ErrAuthFailed) == true.
	ErrAuthFailed = errors.New("auth failed")

	// ErrJWTMissing is returned when a request carries no token and
	// credentials are required.
	ErrJWTMissing = errors.New("jwt missing")

	// ErrClaimsNotFound is returned when claims cannot be retrieved from context.
	ErrClaimsNotFound = errors.New("claims not found in context")
)

// Error codes carried by AuthError.
const (
	ErrorCodeInvalidAuthToken       = "invalid_auth_token"
	ErrorCodeAuthTokenExpired       = "auth_token_expired"
	ErrorCodeAuthTokenIssuerInvalid = "auth_token_issuer_invalid"
	ErrorCodeAudienceInvalid        = "auth_token_audience_invalid"
	ErrorCodeClientInvalid          = "auth_token_client_invalid"
	ErrorCodeScopeInvalid           = "auth_token_scope_invalid"
	ErrorCodeAuthFailed             = "auth_failed"
	ErrorCodeKeyResolutionFailed    = "key_resolution_failed"
	ErrorCodeClaimsNotFound         = "claims_not_found"
)

// AuthError wraps a token rejection with a machine-readable code.
// It provides structured error information that can be used for
// logging, metrics, and returning appropriate error responses.
type AuthError struct {
	// Code is a machine-readable error code (e.g., "auth_token_expired")
	Code string

	// Message is a human-readable error message
	Message string

	// Details contains the underlying error
	Details error
}

// Error implements the error interface.
func (e *AuthError) Error() string {
	if e.Details != nil {
		return e.Message + ": " + e.Details.Error()
	}
	return e.Message
}

// Unwrap returns the underlying error for error unwrapping.
func (e *AuthError) Unwrap() error {
	return e.Details
}

// Is allows the error to be compared with ErrAuthFailed.
func (e *AuthError) Is(target error) bool {
	return target == ErrAuthFailed
}

// NewAuthError creates a new AuthError with the given code and message.
func NewAuthError(code, message string, details error) *AuthError {
	return &AuthError{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// ErrorCode returns the AuthError code found in err's chain, or "" if there is none.
func ErrorCode(err error) string {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr.Code
	}
	return ""
}

// IsInternal reports whether err is a key-resolution failure rather than a
// problem with the presented token. Callers still answer "unauthorized" but
// should log these separately, since they point at an issuer or network fault.
func IsInternal(err error) bool {
	return ErrorCode(err) == ErrorCodeKeyResolutionFailed
}
