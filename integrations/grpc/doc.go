// Package grpc provides gRPC server interceptors that authorise calls with a
// validator.TokenAuthenticator.
//
// Both unary and streaming interceptors read "authorization: Bearer <token>"
// metadata, check the token, and store the resulting validator.Claims in the
// call context.
//
//	auth, err := validator.New(store, validator.WithAudiences("svc"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	interceptor, err := jwtgrpc.New(
//	    jwtgrpc.WithValidator(auth),
//	    jwtgrpc.WithExcludedMethods("/grpc.health.v1.Health/Check"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	server := grpc.NewServer(
//	    grpc.UnaryInterceptor(interceptor.UnaryServerInterceptor()),
//	    grpc.StreamInterceptor(interceptor.StreamServerInterceptor()),
//	)
//
// In a handler:
//
//	claims, err := jwtgrpc.GetClaims[validator.Claims](ctx)
//
// Rejections become status errors: audience, client and scope failures are
// PermissionDenied, all other token failures are Unauthenticated. See
// DefaultErrorHandler.
package grpc
