package grpc

import (
	"errors"

	"github.com/finplat/jwt-trust/core"
)

// Option configures the JWT interceptor.
type Option func(*JWTInterceptor) error

// coreBuilder accumulates core options until New builds the Core.
type coreBuilder struct {
	validator           core.Validator
	credentialsOptional bool
	logger              core.Logger
}

func (b *coreBuilder) build() (*core.Core, error) {
	if b.validator == nil {
		return nil, errors.New("validator is required, use WithValidator option")
	}

	opts := []core.Option{
		core.WithValidator(b.validator),
		core.WithCredentialsOptional(b.credentialsOptional),
	}
	if b.logger != nil {
		opts = append(opts, core.WithLogger(b.logger))
	}

	return core.New(opts...)
}

// WithValidator sets the token validator (REQUIRED). A
// *validator.TokenAuthenticator is the usual choice.
//
// Example:
//
//	auth, _ := validator.New(store)
//	interceptor, _ := grpc.New(
//	    grpc.WithValidator(auth),
//	    grpc.WithCredentialsOptional(true),
//	)
func WithValidator(v core.Validator) Option {
	return func(i *JWTInterceptor) error {
		if v == nil {
			return errors.New("validator cannot be nil")
		}
		i.builder.validator = v
		return nil
	}
}

// WithCredentialsOptional allows calls without a token. Such calls reach the
// handler with no claims in their context.
//
// Default: false (credentials required)
func WithCredentialsOptional(optional bool) Option {
	return func(i *JWTInterceptor) error {
		i.builder.credentialsOptional = optional
		return nil
	}
}

// WithLogger sets the logger for the interceptor and its core.
func WithLogger(logger core.Logger) Option {
	return func(i *JWTInterceptor) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		i.builder.logger = logger
		i.logger = logger
		return nil
	}
}

// WithTokenExtractor sets a custom token extractor function.
// Default is MetadataTokenExtractor which extracts from "authorization" metadata.
func WithTokenExtractor(extractor TokenExtractor) Option {
	return func(i *JWTInterceptor) error {
		if extractor == nil {
			return errors.New("token extractor cannot be nil")
		}
		i.tokenExtractor = extractor
		return nil
	}
}

// WithErrorHandler sets a custom error handler function.
// Default is DefaultErrorHandler which maps errors to gRPC status codes.
func WithErrorHandler(handler ErrorHandler) Option {
	return func(i *JWTInterceptor) error {
		if handler == nil {
			return errors.New("error handler cannot be nil")
		}
		i.errorHandler = handler
		return nil
	}
}

// WithExcludedMethods excludes specific gRPC methods from JWT validation.
// Methods should be provided in the format: "/package.Service/Method"
// Example: "/grpc.health.v1.Health/Check"
func WithExcludedMethods(methods ...string) Option {
	return func(i *JWTInterceptor) error {
		for _, method := range methods {
			i.excludedMethods[method] = true
		}
		return nil
	}
}
