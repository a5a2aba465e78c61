/*
Package config loads the configuration of a trust service.

Values are layered with koanf: struct defaults first, then an optional YAML
file, then environment variables prefixed with TRUST_. The result is checked
with validator struct tags and a few cross-section rules.

	issuers:
	  serv1domain: https://serv1domain/jwks
	refresh_delay: 300
	audiences: [svc]
	keys:
	  store: redis
	redis:
	  addr: redis:6379

The same settings from the environment:

	TRUST_ISSUERS=serv1domain=https://serv1domain/jwks
	TRUST_AUDIENCES=svc
	TRUST_KEYS_STORE=redis
	TRUST_REDIS_ADDR=redis:6379
*/
package config
