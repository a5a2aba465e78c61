package jwttrust

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/finplat/jwt-trust/config"
	"github.com/finplat/jwt-trust/core"
	"github.com/finplat/jwt-trust/jwks"
	"github.com/finplat/jwt-trust/keys"
	"github.com/finplat/jwt-trust/validator"
)

// Service is a trust service assembled from a config.Config: remote key
// resolution, token authorisation, and this service's own rotating signing
// keys.
type Service struct {
	Config        *config.Config
	Logger        core.Logger
	Metrics       *core.PrometheusMetrics
	Registry      *prometheus.Registry
	Authenticator *validator.TokenAuthenticator
	Middleware    *Middleware

	Store     keys.KeyValueStore
	Rotator   *keys.Rotator
	Publisher *keys.Publisher
	Signer    *keys.Signer
	// Scheduler is nil when rotation.schedule is empty.
	Scheduler *keys.Scheduler
	// Locker serializes Rotate and Bootstrap across replicas sharing Store.
	Locker keys.Locker

	redis *redis.Client
}

// ServiceOption configures NewService.
type ServiceOption func(*serviceOptions) error

type serviceOptions struct {
	logger   core.Logger
	store    keys.KeyValueStore
	locker   keys.Locker
	registry *prometheus.Registry
}

// WithServiceLogger sets the logger. By default the service logs nothing.
func WithServiceLogger(logger core.Logger) ServiceOption {
	return func(o *serviceOptions) error {
		if logger == nil {
			return ErrLoggerNil
		}
		o.logger = logger
		return nil
	}
}

// WithKeyStore sets the signing slot store, overriding keys.store.
func WithKeyStore(store keys.KeyValueStore) ServiceOption {
	return func(o *serviceOptions) error {
		if store == nil {
			return errors.New("key store cannot be nil")
		}
		o.store = store
		return nil
	}
}

// WithRotationLocker sets the lock held around rotations. By default a Redis
// slot store gets a keys.RedisLock and any other store a keys.MemoryLock.
func WithRotationLocker(locker keys.Locker) ServiceOption {
	return func(o *serviceOptions) error {
		if locker == nil {
			return errors.New("rotation locker cannot be nil")
		}
		o.locker = locker
		return nil
	}
}

// WithRegistry sets the Prometheus registry metrics are registered with.
// By default every Service gets its own registry.
func WithRegistry(registry *prometheus.Registry) ServiceOption {
	return func(o *serviceOptions) error {
		if registry == nil {
			return errors.New("registry cannot be nil")
		}
		o.registry = registry
		return nil
	}
}

// NewService builds every component cfg describes. Nothing is fetched and no
// key is generated until the service is used; call Bootstrap before serving
// the JWKS document or signing.
func NewService(cfg *config.Config, opts ...ServiceOption) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("config is required but was nil")
	}

	o := serviceOptions{logger: core.NopLogger{}}
	for _, opt := range opts {
		if err := opt(&o); err != nil {
			return nil, fmt.Errorf("invalid option: %w", err)
		}
	}
	if o.registry == nil {
		o.registry = prometheus.NewRegistry()
	}

	s := &Service{
		Config:   cfg,
		Logger:   o.logger,
		Registry: o.registry,
		Metrics:  core.NewPrometheusMetrics(o.registry),
		Store:    o.store,
		Locker:   o.locker,
	}

	if s.Store == nil && cfg.Keys.Store == "redis" {
		s.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		s.Store = keys.NewRedisStore(s.redis)
	}
	if s.Store == nil {
		s.Store = keys.NewMemoryStore()
	}
	if err := s.buildLocker(); err != nil {
		_ = s.Close()
		return nil, err
	}

	if err := s.buildKeys(); err != nil {
		_ = s.Close()
		return nil, err
	}
	if err := s.buildAuthorisation(); err != nil {
		_ = s.Close()
		return nil, err
	}

	return s, nil
}

func (s *Service) keyOptions() []keys.Option {
	cfg := s.Config.Keys
	opts := []keys.Option{
		keys.WithPrefix(cfg.Prefix),
		keys.WithKeyBits(cfg.Bits),
		keys.WithMaxAge(cfg.MaxAgeDuration()),
		keys.WithTokenTTL(cfg.TokenTTL),
		keys.WithLogger(s.Logger),
		keys.WithMetrics(s.Metrics),
		keys.WithLocker(s.Locker),
	}
	if cfg.Issuer != "" {
		opts = append(opts, keys.WithIssuer(cfg.Issuer))
	}
	return opts
}

// RotationLockKey is the Redis key replicas take before writing the slots.
func RotationLockKey(prefix string) string {
	return prefix + "rotation.lock"
}

func (s *Service) buildLocker() error {
	if s.Locker != nil {
		return nil
	}
	if s.redis == nil {
		s.Locker = &keys.MemoryLock{}
		return nil
	}
	lock, err := keys.NewRedisLock(s.redis, RotationLockKey(s.Config.Keys.Prefix), s.Config.Rotation.LockTTL)
	if err != nil {
		return fmt.Errorf("failed to create rotation lock: %w", err)
	}
	s.Locker = lock
	return nil
}

func (s *Service) buildKeys() error {
	var err error
	opts := s.keyOptions()

	if s.Rotator, err = keys.NewRotator(s.Store, opts...); err != nil {
		return fmt.Errorf("failed to create rotator: %w", err)
	}
	if s.Publisher, err = keys.NewPublisher(s.Store, opts...); err != nil {
		return fmt.Errorf("failed to create publisher: %w", err)
	}
	if s.Signer, err = keys.NewSigner(s.Store, opts...); err != nil {
		return fmt.Errorf("failed to create signer: %w", err)
	}

	if schedule := s.Config.Rotation.Schedule; schedule != "" {
		s.Scheduler, err = keys.NewScheduler(s.Rotator, schedule,
			keys.WithSchedulerLogger(s.Logger),
			keys.WithOnFailure(s.alertRotationFailure),
		)
		if err != nil {
			return fmt.Errorf("failed to create rotation scheduler: %w", err)
		}
	}
	return nil
}

func (s *Service) buildAuthorisation() error {
	remote, err := s.remoteResolver()
	if err != nil {
		return err
	}

	var resolver validator.KeyResolver = remote
	if issuer := s.Config.Keys.Issuer; issuer != "" {
		local, err := keys.NewLocalResolver(s.Store, s.keyOptions()...)
		if err != nil {
			return fmt.Errorf("failed to create local resolver: %w", err)
		}
		resolver = &issuerRouter{local: local, localIssuer: issuer, remote: remote}
	}

	opts := []validator.Option{
		validator.WithLogger(s.Logger),
		validator.WithMetrics(s.Metrics),
	}
	if len(s.Config.TrustedIssuers) > 0 {
		trusted := s.Config.TrustedIssuers
		if s.Config.Keys.Issuer != "" {
			trusted = append(append([]string(nil), trusted...), s.Config.Keys.Issuer)
		}
		opts = append(opts, validator.WithTrustedIssuers(trusted...))
	}
	if len(s.Config.Audiences) > 0 {
		opts = append(opts, validator.WithAudiences(s.Config.Audiences...))
	}
	if len(s.Config.Clients) > 0 {
		opts = append(opts, validator.WithClients(s.Config.Clients...))
	}
	if len(s.Config.Scopes) > 0 {
		opts = append(opts, validator.WithScopes(s.Config.Scopes...))
	}

	if s.Authenticator, err = validator.New(resolver, opts...); err != nil {
		return fmt.Errorf("failed to create authenticator: %w", err)
	}

	if s.Middleware, err = New(WithValidator(s.Authenticator), WithLogger(s.Logger)); err != nil {
		return fmt.Errorf("failed to create middleware: %w", err)
	}
	return nil
}

func (s *Service) remoteResolver() (validator.KeyResolver, error) {
	cfg := s.Config
	client := &http.Client{Timeout: cfg.Fetch.Timeout}

	if !cfg.UsesDiscovery() {
		store, err := jwks.NewEndpointsStore(cfg.Issuers,
			jwks.WithRefreshDelay(cfg.RefreshDelayDuration()),
			jwks.WithHTTPClient(client),
			jwks.WithBreakerFailures(cfg.Fetch.BreakerFailures),
			jwks.WithLogger(s.Logger),
			jwks.WithMetrics(s.Metrics),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create issuer store: %w", err)
		}
		return store, nil
	}

	issuerURL, err := url.Parse(cfg.Discovery.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("invalid discovery.issuer_url: %w", err)
	}
	opts := []jwks.DiscoveryOption{
		jwks.WithIssuerURL(issuerURL),
		jwks.WithCacheTTL(cfg.Discovery.CacheTTL),
		jwks.WithDiscoveryRefreshDelay(cfg.RefreshDelayDuration()),
		jwks.WithDiscoveryHTTPClient(client),
		jwks.WithDiscoveryLogger(s.Logger),
		jwks.WithDiscoveryMetrics(s.Metrics),
	}
	if cfg.Discovery.JWKSURI != "" {
		jwksURI, err := url.Parse(cfg.Discovery.JWKSURI)
		if err != nil {
			return nil, fmt.Errorf("invalid discovery.jwks_uri: %w", err)
		}
		opts = append(opts, jwks.WithCustomJWKSURI(jwksURI))
	}

	resolver, err := jwks.NewDiscoveryResolver(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create discovery resolver: %w", err)
	}
	return resolver, nil
}

// alertRotationFailure raises a failed scheduled rotation. Until one
// succeeds the primary key keeps ageing and the previous key drops out of
// the published set.
func (s *Service) alertRotationFailure(err error) {
	s.Logger.Error("scheduled key rotation failed, signing key is not being rotated",
		"prefix", s.Config.Keys.Prefix, "schedule", s.Config.Rotation.Schedule, "error", err)
	s.Metrics.IncCounter(core.MetricKeyRotationAlerts, map[string]string{"prefix": s.Config.Keys.Prefix})
}

// Bootstrap writes a first signing key pair if the store holds none. Another
// replica bootstrapping at the same time is not an error.
func (s *Service) Bootstrap(ctx context.Context) error {
	created, err := s.Rotator.Bootstrap(ctx)
	if errors.Is(err, keys.ErrRotationLocked) {
		s.Logger.Info("signing keys are being bootstrapped by another replica", "prefix", s.Config.Keys.Prefix)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to bootstrap signing keys: %w", err)
	}
	if created {
		s.Logger.Info("created initial signing key pair", "prefix", s.Config.Keys.Prefix)
	}
	return nil
}

// Handler returns the JWKS document handler for this service's keys.
func (s *Service) Handler() http.Handler {
	return JWKSHandler(s.Publisher, s.Logger)
}

// Close releases the redis connection, if the service opened one. A started
// Scheduler is stopped separately.
func (s *Service) Close() error {
	if s.redis != nil {
		return s.redis.Close()
	}
	return nil
}

// issuerRouter sends tokens of the local issuer to this service's own slots
// and every other issuer to the remote resolver.
type issuerRouter struct {
	local       *keys.LocalResolver
	localIssuer string
	remote      validator.KeyResolver
}

func (r *issuerRouter) Issuers() []string {
	var out []string
	if lister, ok := r.remote.(interface{ Issuers() []string }); ok {
		out = append(out, lister.Issuers()...)
	}
	return append(out, r.localIssuer)
}

func (r *issuerRouter) ResolveKeys(ctx context.Context, kid, issuer string) ([]string, error) {
	if issuer == r.localIssuer {
		return r.local.ResolveKeys(ctx, kid, issuer)
	}
	return r.remote.ResolveKeys(ctx, kid, issuer)
}
