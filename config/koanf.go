package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "TRUST_"

// ConfigPathEnvVar names an optional YAML file loaded between the defaults
// and the environment.
const ConfigPathEnvVar = EnvPrefix + "CONFIG_PATH"

// envKeys maps environment variable names, without EnvPrefix and lowercased,
// to config paths. Unlisted variables are ignored.
var envKeys = map[string]string{
	"issuers":                "issuers",
	"refresh_delay":          "refresh_delay",
	"audiences":              "audiences",
	"clients":                "clients",
	"scopes":                 "scopes",
	"trusted_issuers":        "trusted_issuers",
	"discovery_issuer_url":   "discovery.issuer_url",
	"discovery_jwks_uri":     "discovery.jwks_uri",
	"discovery_cache_ttl":    "discovery.cache_ttl",
	"keys_max_age":           "keys.max_age",
	"keys_bits":              "keys.bits",
	"keys_prefix":            "keys.prefix",
	"keys_store":             "keys.store",
	"keys_issuer":            "keys.issuer",
	"keys_token_ttl":         "keys.token_ttl",
	"redis_addr":             "redis.addr",
	"redis_password":         "redis.password",
	"redis_db":               "redis.db",
	"rotation_schedule":      "rotation.schedule",
	"rotation_lock_ttl":      "rotation.lock_ttl",
	"http_addr":              "http.addr",
	"log_level":              "log.level",
	"log_format":             "log.format",
	"fetch_timeout":          "fetch.timeout",
	"fetch_breaker_failures": "fetch.breaker_failures",
}

// sliceConfigPaths are read from the environment as comma-separated lists.
var sliceConfigPaths = []string{
	"audiences",
	"clients",
	"scopes",
	"trusted_issuers",
}

var validate = validator.New()

// Load builds the configuration from, in increasing priority: defaults, the
// YAML file named by TRUST_CONFIG_PATH, and TRUST_* environment variables.
func Load() (*Config, error) {
	return LoadFile(os.Getenv(ConfigPathEnvVar))
}

// LoadFile is Load with an explicit YAML path. An empty path skips the file
// layer.
func LoadFile(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}
	if err := processIssuers(k); err != nil {
		return nil, fmt.Errorf("failed to process issuers: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks field constraints and the rules that span sections.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}

	if len(c.Issuers) == 0 && !c.UsesDiscovery() {
		return errors.New("either issuers or discovery.issuer_url must be set")
	}
	if c.UsesDiscovery() && len(c.TrustedIssuers) == 0 {
		return errors.New("trusted_issuers is required with discovery.issuer_url")
	}
	if c.Keys.Store == "redis" && c.Redis.Addr == "" {
		return errors.New("redis.addr is required when keys.store is redis")
	}

	return nil
}

func envTransformFunc(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	return envKeys[key]
}

// processSliceFields splits comma-separated strings, as they arrive from the
// environment, into lists.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok {
			continue
		}
		if err := k.Set(path, splitList(strVal)); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// processIssuers turns TRUST_ISSUERS="id=url,id2=url2" into a map.
func processIssuers(k *koanf.Koanf) error {
	strVal, ok := k.Get("issuers").(string)
	if !ok {
		return nil
	}

	issuers := make(map[string]any)
	for _, pair := range splitList(strVal) {
		id, endpoint, found := strings.Cut(pair, "=")
		if !found || id == "" {
			return fmt.Errorf("issuer entry %q must be id=url", pair)
		}
		issuers[id] = endpoint
	}

	k.Delete("issuers")
	return k.Set("issuers", issuers)
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
