package config

import (
	"time"
)

// Config is the full runtime configuration of a trust service.
type Config struct {
	// Issuers maps an issuer id, the exact iss a token must carry, to the
	// JWKS URL that issuer publishes.
	Issuers map[string]string `koanf:"issuers" validate:"dive,keys,required,endkeys,url"`

	// RefreshDelay is the minimum number of seconds between forced refreshes
	// of one issuer's key set.
	RefreshDelay int `koanf:"refresh_delay" validate:"gte=0"`

	Audiences      []string `koanf:"audiences"`
	Clients        []string `koanf:"clients"`
	Scopes         []string `koanf:"scopes"`
	TrustedIssuers []string `koanf:"trusted_issuers"`

	Discovery DiscoveryConfig `koanf:"discovery"`
	Keys      KeysConfig      `koanf:"keys"`
	Redis     RedisConfig     `koanf:"redis"`
	Rotation  RotationConfig  `koanf:"rotation"`
	HTTP      HTTPConfig      `koanf:"http"`
	Log       LogConfig       `koanf:"log"`
	Fetch     FetchConfig     `koanf:"fetch"`
}

// DiscoveryConfig resolves keys through a single OIDC issuer instead of the
// issuer registry. It is used when IssuerURL is set.
type DiscoveryConfig struct {
	IssuerURL string        `koanf:"issuer_url" validate:"omitempty,url"`
	JWKSURI   string        `koanf:"jwks_uri" validate:"omitempty,url"`
	CacheTTL  time.Duration `koanf:"cache_ttl" validate:"gte=0"`
}

// KeysConfig controls this service's own signing slots.
type KeysConfig struct {
	// MaxAge is how many seconds a secondary key keeps being published.
	MaxAge int    `koanf:"max_age" validate:"gt=0"`
	Bits   int    `koanf:"bits" validate:"gte=2048"`
	Prefix string `koanf:"prefix" validate:"required"`
	Store  string `koanf:"store" validate:"oneof=memory redis"`
	// Issuer is stamped on tokens this service signs.
	Issuer   string        `koanf:"issuer"`
	TokenTTL time.Duration `koanf:"token_ttl" validate:"gt=0"`
}

// RedisConfig is used when Keys.Store is "redis".
type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db" validate:"gte=0"`
}

// RotationConfig schedules key rotation. An empty Schedule disables it.
type RotationConfig struct {
	Schedule string `koanf:"schedule"`
	// LockTTL is how long a replica holds the Redis rotation lock at most.
	LockTTL time.Duration `koanf:"lock_ttl" validate:"gt=0"`
}

// HTTPConfig is the listener of cmd/trustd.
type HTTPConfig struct {
	Addr string `koanf:"addr" validate:"required"`
}

// LogConfig selects the log level and output format.
type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json text"`
}

// FetchConfig controls outbound JWKS requests.
type FetchConfig struct {
	Timeout time.Duration `koanf:"timeout" validate:"gt=0"`
	// BreakerFailures is the number of consecutive failures that opens an
	// issuer's circuit breaker. Zero disables the breaker.
	BreakerFailures int `koanf:"breaker_failures" validate:"gte=0"`
}

// RefreshDelayDuration returns RefreshDelay as a time.Duration.
func (c *Config) RefreshDelayDuration() time.Duration {
	return time.Duration(c.RefreshDelay) * time.Second
}

// MaxAgeDuration returns Keys.MaxAge as a time.Duration.
func (c *KeysConfig) MaxAgeDuration() time.Duration {
	return time.Duration(c.MaxAge) * time.Second
}

// UsesDiscovery reports whether keys are resolved through OIDC discovery.
func (c *Config) UsesDiscovery() bool {
	return c.Discovery.IssuerURL != ""
}

func defaultConfig() *Config {
	return &Config{
		RefreshDelay: 300,
		Discovery: DiscoveryConfig{
			CacheTTL: 15 * time.Minute,
		},
		Keys: KeysConfig{
			MaxAge:   172800,
			Bits:     2048,
			Prefix:   "/trust/keys/",
			Store:    "memory",
			TokenTTL: 15 * time.Minute,
		},
		Redis: RedisConfig{
			Addr: "127.0.0.1:6379",
		},
		Rotation: RotationConfig{
			Schedule: "@daily",
			LockTTL:  5 * time.Minute,
		},
		HTTP: HTTPConfig{
			Addr: ":8080",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Fetch: FetchConfig{
			Timeout:         30 * time.Second,
			BreakerFailures: 5,
		},
	}
}
