package core

import (
	"context"
	"time"
)

// Validator checks a bare token and returns its claims.
type Validator interface {
	ValidateToken(ctx context.Context, token string) (any, error)
}

// ValidatorFunc adapts a function to Validator.
type ValidatorFunc func(ctx context.Context, token string) (any, error)

// ValidateToken calls f.
func (f ValidatorFunc) ValidateToken(ctx context.Context, token string) (any, error) {
	return f(ctx, token)
}

// Core is the transport-agnostic token check shared by the HTTP, gin, echo
// and gRPC adapters. It owns the optional-credentials rule; everything else
// is delegated to the Validator.
type Core struct {
	validator           Validator
	credentialsOptional bool
	logger              Logger
}

// CheckToken validates token and returns the validated claims.
//
//   - An empty token with credentials optional returns (nil, nil).
//   - An empty token otherwise returns ErrJWTMissing.
//   - Any other token is handed to the Validator.
func (c *Core) CheckToken(ctx context.Context, token string) (any, error) {
	if token == "" {
		if c.credentialsOptional {
			c.logger.Debug("no token provided, but credentials are optional")
			return nil, nil
		}

		c.logger.Warn("no token provided and credentials are required")
		return nil, ErrJWTMissing
	}

	start := time.Now()
	claims, err := c.validator.ValidateToken(ctx, token)
	duration := time.Since(start)

	if err != nil {
		if IsInternal(err) {
			c.logger.Error("token validation failed on key resolution", "error", err, "duration", duration)
		} else {
			c.logger.Info("token validation failed", "code", ErrorCode(err), "error", err, "duration", duration)
		}
		return nil, err
	}

	c.logger.Debug("token validated successfully", "duration", duration)
	return claims, nil
}
