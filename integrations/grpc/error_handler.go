package grpc

import (
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/finplat/jwt-trust/core"
)

// ErrorHandler converts validation errors to gRPC status errors.
type ErrorHandler func(error) error

// DefaultErrorHandler maps authentication errors to gRPC status codes.
//
//   - Audience, client and scope rejections are PermissionDenied: the caller
//     is authenticated but not allowed.
//   - Every other *core.AuthError, key-resolution failures included, is
//     Unauthenticated.
//   - A missing token is Unauthenticated, duplicate authorization metadata is
//     InvalidArgument, and anything else is Internal.
func DefaultErrorHandler(err error) error {
	if err == nil {
		return nil
	}

	var authErr *core.AuthError
	if errors.As(err, &authErr) {
		return mapAuthError(authErr)
	}

	switch {
	case errors.Is(err, core.ErrJWTMissing):
		return status.Error(codes.Unauthenticated, "missing credentials")
	case errors.Is(err, ErrMultipleAuthHeaders):
		return status.Error(codes.InvalidArgument, err.Error())
	}

	return status.Error(codes.Internal, "unable to check credentials")
}

func mapAuthError(err *core.AuthError) error {
	switch err.Code {
	case core.ErrorCodeAudienceInvalid, core.ErrorCodeClientInvalid, core.ErrorCodeScopeInvalid:
		return status.Error(codes.PermissionDenied, err.Message)
	case core.ErrorCodeKeyResolutionFailed:
		return status.Error(codes.Unauthenticated, "unable to verify token")
	default:
		return status.Error(codes.Unauthenticated, err.Message)
	}
}
