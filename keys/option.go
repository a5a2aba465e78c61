package keys

import (
	"errors"
	"fmt"
	"time"

	"github.com/finplat/jwt-trust/core"
)

// Defaults for the signing slots.
const (
	DefaultPrefix   = "/trust/keys/"
	DefaultKeyBits  = 2048
	DefaultMaxAge   = 48 * time.Hour
	DefaultTokenTTL = 15 * time.Minute

	minKeyBits = 2048
)

// settings is shared by every type in this package; each reads the fields
// it needs.
type settings struct {
	prefix    string
	bits      int
	maxAge    time.Duration
	tokenTTL  time.Duration
	issuer    string
	recordTTL time.Duration
	now       func() time.Time
	logger    core.Logger
	metrics   core.Metrics
	locker    Locker
}

func defaultSettings() settings {
	return settings{
		prefix:    DefaultPrefix,
		bits:      DefaultKeyBits,
		maxAge:    DefaultMaxAge,
		tokenTTL:  DefaultTokenTTL,
		recordTTL: 30 * time.Second,
		now:       time.Now,
		logger:    core.NopLogger{},
		metrics:   core.NoopMetrics{},
	}
}

func applyOptions(opts []Option) (settings, error) {
	s := defaultSettings()
	for _, opt := range opts {
		if err := opt(&s); err != nil {
			return settings{}, fmt.Errorf("invalid option: %w", err)
		}
	}
	return s, nil
}

// Option configures a Rotator, Publisher, Signer or LocalResolver.
type Option func(*settings) error

// WithPrefix sets the prefix every slot name is stored under.
func WithPrefix(prefix string) Option {
	return func(s *settings) error {
		if prefix == "" {
			return errors.New("prefix cannot be empty")
		}
		s.prefix = prefix
		return nil
	}
}

// WithKeyBits sets the RSA modulus size for generated keys.
func WithKeyBits(bits int) Option {
	return func(s *settings) error {
		if bits < minKeyBits {
			return fmt.Errorf("key size must be at least %d bits", minKeyBits)
		}
		s.bits = bits
		return nil
	}
}

// WithMaxAge sets how long a secondary key keeps being published after it
// was created.
func WithMaxAge(maxAge time.Duration) Option {
	return func(s *settings) error {
		if maxAge <= 0 {
			return errors.New("max age must be positive")
		}
		s.maxAge = maxAge
		return nil
	}
}

// WithTokenTTL sets the lifetime of tokens issued by a Signer.
func WithTokenTTL(ttl time.Duration) Option {
	return func(s *settings) error {
		if ttl <= 0 {
			return errors.New("token TTL must be positive")
		}
		s.tokenTTL = ttl
		return nil
	}
}

// WithIssuer sets the iss a Signer stamps on tokens and a LocalResolver
// reports as its only issuer.
func WithIssuer(issuer string) Option {
	return func(s *settings) error {
		if issuer == "" {
			return errors.New("issuer cannot be empty")
		}
		s.issuer = issuer
		return nil
	}
}

// WithRecordTTL sets how long a LocalResolver or Signer reuses slots it read.
func WithRecordTTL(ttl time.Duration) Option {
	return func(s *settings) error {
		if ttl <= 0 {
			return errors.New("record TTL must be positive")
		}
		s.recordTTL = ttl
		return nil
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(s *settings) error {
		if now == nil {
			return errors.New("clock cannot be nil")
		}
		s.now = now
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(logger core.Logger) Option {
	return func(s *settings) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		s.logger = logger
		return nil
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(metrics core.Metrics) Option {
	return func(s *settings) error {
		if metrics == nil {
			return errors.New("metrics cannot be nil")
		}
		s.metrics = metrics
		return nil
	}
}

// WithLocker makes Rotate and Bootstrap hold locker while they write. Without
// one, callers serialize rotations themselves.
func WithLocker(locker Locker) Option {
	return func(s *settings) error {
		if locker == nil {
			return errors.New("locker cannot be nil")
		}
		s.locker = locker
		return nil
	}
}
