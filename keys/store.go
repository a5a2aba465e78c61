package keys

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/finplat/jwt-trust/core"
)

// ErrSlotNotFound is returned by a KeyValueStore for a name that holds no value.
var ErrSlotNotFound = errors.New("slot value not found")

// KeyValueStore is the external configuration storage the signing slots live
// in. Put always overwrites.
type KeyValueStore interface {
	Get(ctx context.Context, name string) (string, error)
	Put(ctx context.Context, name, value string) error
}

// Slot names and the fields each slot is persisted as.
const (
	SlotPrimary   = "primary"
	SlotSecondary = "secondary"

	fieldPublic    = "public"
	fieldPrivate   = "private"
	fieldCreatedAt = "createdAt"
)

// KeyPairSlot is one persisted signing key pair. Public and Private are PEM.
type KeyPairSlot struct {
	Public    string
	Private   string
	CreatedAt int64
}

// Complete reports whether both halves of the key pair are present.
func (s KeyPairSlot) Complete() bool {
	return s.Public != "" && s.Private != ""
}

// RotationRecord is the pair of slots as currently persisted.
type RotationRecord struct {
	Primary   KeyPairSlot
	Secondary KeyPairSlot
}

// SlotName returns the storage name of one field of a slot, e.g.
// "/trust/keys/primary.public".
func SlotName(prefix, slot, field string) string {
	return prefix + slot + "." + field
}

// SlotNames lists the six names a RotationRecord is persisted under.
func SlotNames(prefix string) []string {
	names := make([]string, 0, 6)
	for _, slot := range []string{SlotPrimary, SlotSecondary} {
		for _, field := range []string{fieldPublic, fieldPrivate, fieldCreatedAt} {
			names = append(names, SlotName(prefix, slot, field))
		}
	}
	return names
}

// loadRecord reads both slots. Missing values leave fields empty; a
// createdAt that does not parse is logged and read as 0.
func loadRecord(ctx context.Context, store KeyValueStore, prefix string, logger core.Logger) (RotationRecord, error) {
	primary, err := loadSlot(ctx, store, prefix, SlotPrimary, logger)
	if err != nil {
		return RotationRecord{}, err
	}
	secondary, err := loadSlot(ctx, store, prefix, SlotSecondary, logger)
	if err != nil {
		return RotationRecord{}, err
	}
	return RotationRecord{Primary: primary, Secondary: secondary}, nil
}

func loadSlot(ctx context.Context, store KeyValueStore, prefix, slot string, logger core.Logger) (KeyPairSlot, error) {
	get := func(field string) (string, error) {
		v, err := store.Get(ctx, SlotName(prefix, slot, field))
		if errors.Is(err, ErrSlotNotFound) {
			return "", nil
		}
		if err != nil {
			return "", fmt.Errorf("read %s.%s: %w", slot, field, err)
		}
		return v, nil
	}

	var s KeyPairSlot
	var err error
	if s.Public, err = get(fieldPublic); err != nil {
		return KeyPairSlot{}, err
	}
	if s.Private, err = get(fieldPrivate); err != nil {
		return KeyPairSlot{}, err
	}
	createdAt, err := get(fieldCreatedAt)
	if err != nil {
		return KeyPairSlot{}, err
	}
	if createdAt != "" {
		if s.CreatedAt, err = strconv.ParseInt(createdAt, 10, 64); err != nil {
			logger.Warn("ignoring unparseable key creation time",
				"slot", SlotName(prefix, slot, fieldCreatedAt), "value", createdAt, "error", err)
			s.CreatedAt = 0
		}
	}

	return s, nil
}

// storeEmpty reports whether none of the six slot values exists.
func storeEmpty(ctx context.Context, store KeyValueStore, prefix string) (bool, error) {
	for _, name := range SlotNames(prefix) {
		_, err := store.Get(ctx, name)
		if errors.Is(err, ErrSlotNotFound) {
			continue
		}
		if err != nil {
			return false, fmt.Errorf("read %s: %w", name, err)
		}
		return false, nil
	}
	return true, nil
}

func writeSlot(ctx context.Context, store KeyValueStore, prefix, slot string, s KeyPairSlot) error {
	values := []struct{ field, value string }{
		{fieldPublic, s.Public},
		{fieldPrivate, s.Private},
		{fieldCreatedAt, strconv.FormatInt(s.CreatedAt, 10)},
	}
	for _, v := range values {
		if err := store.Put(ctx, SlotName(prefix, slot, v.field), v.value); err != nil {
			return fmt.Errorf("write %s.%s: %w", slot, v.field, err)
		}
	}
	return nil
}

// MemoryStore is a KeyValueStore held in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

func (m *MemoryStore) Get(_ context.Context, name string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[name]
	if !ok {
		return "", ErrSlotNotFound
	}
	return v, nil
}

func (m *MemoryStore) Put(_ context.Context, name, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[name] = value
	return nil
}

// RedisStore keeps slot values as plain Redis strings without expiry.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore wraps an existing client.
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (r *RedisStore) Get(ctx context.Context, name string) (string, error) {
	v, err := r.rdb.Get(ctx, name).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrSlotNotFound
	}
	if err != nil {
		return "", err
	}
	return v, nil
}

func (r *RedisStore) Put(ctx context.Context, name, value string) error {
	return r.rdb.Set(ctx, name, value, 0).Err()
}
