/*
Package core holds the pieces shared by every layer of the trust subsystem:
the authentication error taxonomy, the logging capability, metrics and
tracing hooks, and typed claim storage on a context.

# Errors

Every rejection produced while checking a bearer token is an *AuthError.
They all match ErrAuthFailed:

	if errors.Is(err, core.ErrAuthFailed) {
	    // answer 401
	}

The Code field tells them apart. Claim problems (expired, untrusted issuer,
wrong audience, client or scope) are terminal for the request. Key-resolution
problems carry ErrorCodeKeyResolutionFailed; IsInternal reports them so they
can be logged separately from bad tokens.

# Logging

Logger is a four-method interface. Adapters exist for logrus and zerolog:

	logger := core.NewLogrusLogger(logrus.StandardLogger())
	logger.Info("jwks refreshed", "issuer", id, "keys", n)

Arguments after the message are key/value pairs.
*/
package core
