/*
Package keys manages this service's own RSA signing keys.

Two slots are persisted in a KeyValueStore: primary, the key tokens are
signed with, and secondary, the previous primary. Each slot is stored as
three values under a prefix:

	/trust/keys/primary.public
	/trust/keys/primary.private
	/trust/keys/primary.createdAt
	/trust/keys/secondary.public
	/trust/keys/secondary.private
	/trust/keys/secondary.createdAt

Rotator.Rotate generates a new primary and demotes the old one, writing the
secondary slot first. A token signed just before a rotation therefore keeps
verifying until the following rotation retires its key.

Publisher renders the slots as a JWKS, LocalResolver lets a
validator.TokenAuthenticator verify tokens issued here, Signer issues them,
and Scheduler runs rotations on a cron schedule.

MemoryStore suits tests and single-process deployments. RedisStore shares
slots between instances; give their rotators a RedisLock through WithLocker
so that only one of them rotates at a time.
*/
package keys
