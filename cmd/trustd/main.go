// Command trustd verifies bearer tokens from a set of trusted issuers and
// publishes its own rotating signing keys.
//
// Configuration is read from TRUST_CONFIG_PATH and TRUST_* variables, see
// package config.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	jwttrust "github.com/finplat/jwt-trust"
	"github.com/finplat/jwt-trust/config"
	"github.com/finplat/jwt-trust/core"
	"github.com/finplat/jwt-trust/validator"
)

const shutdownTimeout = 15 * time.Second

func main() {
	rotateOnce := flag.Bool("rotate-once", false, "rotate the signing keys once and exit")
	bootstrapOnly := flag.Bool("bootstrap", false, "create the first signing keys if missing and exit")
	flag.Parse()

	if err := run(*rotateOnce, *bootstrapOnly); err != nil {
		fmt.Fprintln(os.Stderr, "trustd:", err)
		os.Exit(1)
	}
}

func run(rotateOnce, bootstrapOnly bool) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, err := jwttrust.NewLogger(cfg.Log, os.Stderr)
	if err != nil {
		return err
	}

	svc, err := jwttrust.NewService(cfg, jwttrust.WithServiceLogger(logger))
	if err != nil {
		return err
	}
	defer svc.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if exit, err := prepareKeys(ctx, svc, rotateOnce, bootstrapOnly); exit || err != nil {
		return err
	}

	if svc.Scheduler != nil {
		svc.Scheduler.Start()
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := svc.Scheduler.Stop(stopCtx); err != nil {
				logger.Warn("rotation still running at shutdown", "error", err)
			}
		}()
	}

	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           newRouter(svc, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.HTTP.Addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// prepareKeys runs the one-shot modes and bootstraps the signing keys before
// serving. It reports whether the process should exit. -rotate-once never
// bootstraps: rotating a store without a complete primary is an error.
func prepareKeys(ctx context.Context, svc *jwttrust.Service, rotateOnce, bootstrapOnly bool) (bool, error) {
	if rotateOnce {
		_, err := svc.Rotator.Rotate(ctx)
		return true, err
	}
	if err := svc.Bootstrap(ctx); err != nil {
		return true, err
	}
	return bootstrapOnly, nil
}

func newRouter(svc *jwttrust.Service, logger core.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/.well-known/jwks.json", gin.WrapH(svc.Handler()))
	router.GET("/metrics", gin.WrapH(jwttrust.MetricsHandler(svc.Registry)))
	router.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	v1 := router.Group("/v1", svc.Middleware.Gin())
	v1.GET("/whoami", func(c *gin.Context) {
		claims, err := jwttrust.GetClaims[validator.Claims](c.Request.Context())
		if err != nil {
			logger.Error("claims missing after authorisation", "error", err)
			c.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"issuer":   claims.Issuer(),
			"client":   claims.AuthorizedParty(),
			"audience": claims.Audience(),
			"scopes":   claims.Scopes(),
			"kid":      claims.KeyID(),
		})
	})

	return router
}
