package jwttrust

import (
	"errors"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/finplat/jwt-trust/core"
)

var (
	// ErrJWTMissing is returned when the JWT is missing.
	ErrJWTMissing = core.ErrJWTMissing

	// ErrAuthFailed is matched by every token rejection.
	ErrAuthFailed = core.ErrAuthFailed
)

// ErrorHandler is called when a request is rejected. err is ErrJWTMissing, a
// *core.AuthError, or whatever a custom TokenExtractor returned.
type ErrorHandler func(w http.ResponseWriter, r *http.Request, err error)

// ErrorResponse is the JSON body written by DefaultErrorHandler.
type ErrorResponse struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// DefaultErrorHandler writes a JSON ErrorResponse.
//
//   - ErrJWTMissing is 401.
//   - Audience, client and scope rejections are 403.
//   - Every other *core.AuthError is 401. Key-resolution failures are 401 as
//     well, with their cause kept out of the body.
//   - Anything else is 500.
func DefaultErrorHandler(w http.ResponseWriter, _ *http.Request, err error) {
	status, body := errorResponse(err)
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", "Bearer")
	}
	writeJSON(w, status, body)
}

func errorResponse(err error) (int, ErrorResponse) {
	if errors.Is(err, ErrJWTMissing) {
		return http.StatusUnauthorized, ErrorResponse{Message: "JWT is missing."}
	}

	var authErr *core.AuthError
	if !errors.As(err, &authErr) {
		return http.StatusInternalServerError, ErrorResponse{Message: "Something went wrong while checking the JWT."}
	}

	switch authErr.Code {
	case core.ErrorCodeAudienceInvalid, core.ErrorCodeClientInvalid, core.ErrorCodeScopeInvalid:
		return http.StatusForbidden, ErrorResponse{Message: authErr.Message, Code: authErr.Code}
	case core.ErrorCodeKeyResolutionFailed:
		return http.StatusUnauthorized, ErrorResponse{Message: "JWT could not be verified.", Code: authErr.Code}
	default:
		return http.StatusUnauthorized, ErrorResponse{Message: authErr.Message, Code: authErr.Code}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
