// Package cache provides a TTL-governed read-through cache over a persisted
// key-value store.
//
// Keys are partitioned by a namespace prefix ("<namespace>:<rest>"); each
// namespace carries its own time-to-live. Entries past their TTL are rejected
// on normal reads but can still be served with allowExpired, which is how
// callers degrade to last-known-good data when the network is down.
//
// The cache is advisory: a store failure on read degrades to a miss and a
// store failure on write is a no-op. Neither raises to the caller.
package cache

import (
	"encoding/json"
	"log/slog"
	"strings"
	"time"
)

// envelopeVersion guards against payload shape changes: an envelope with an
// unknown version reads as a miss instead of a corrupted hit.
const envelopeVersion = 1

// Store defines the persisted key-value operations the cache needs.
// Implemented by storage.Store. Get reports ok=false for an absent key;
// err is reserved for actual store failures.
type Store interface {
	Get(key string) (val string, ok bool, err error)
	Set(key, value string) error
	Remove(key string) error
	MultiRemove(keys []string) error
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// envelope is the JSON structure persisted in the store.
type envelope struct {
	Version   int             `json:"v"`
	Payload   json.RawMessage `json:"payload"`
	WrittenAt time.Time       `json:"written_at"`
}

// Entry is a cached payload with its write timestamp.
type Entry struct {
	Payload   json.RawMessage
	WrittenAt time.Time
}

// Age returns how long ago the entry was written.
func (e *Entry) Age(now time.Time) time.Duration {
	return now.Sub(e.WrittenAt)
}

// Cache is a namespace-partitioned TTL cache. Writing a key fully replaces
// the prior entry; there is no partial merge.
type Cache struct {
	store      Store
	ttls       map[string]time.Duration
	defaultTTL time.Duration
	clock      Clock
	logger     *slog.Logger
}

// New creates a Cache with the given per-namespace TTL table. Namespaces not
// present in the table use defaultTTL.
func New(store Store, ttls map[string]time.Duration, defaultTTL time.Duration) *Cache {
	return NewWithClock(store, ttls, defaultTTL, realClock{})
}

// NewWithClock creates a Cache with a custom clock (for testing).
func NewWithClock(store Store, ttls map[string]time.Duration, defaultTTL time.Duration, clock Clock) *Cache {
	return &Cache{
		store:      store,
		ttls:       ttls,
		defaultTTL: defaultTTL,
		clock:      clock,
		logger:     slog.Default(),
	}
}

// TTLFor returns the time-to-live for a namespace. Pure lookup, no I/O.
func (c *Cache) TTLFor(namespace string) time.Duration {
	if ttl, ok := c.ttls[namespace]; ok {
		return ttl
	}
	return c.defaultTTL
}

// Read returns the entry stored under key, or nil on a miss. A store failure,
// a malformed envelope, or an unknown envelope version all count as misses.
// With allowExpired false, entries older than the namespace TTL also read as
// misses; with allowExpired true, any stored entry is returned regardless of
// age.
func (c *Cache) Read(key string, allowExpired bool) *Entry {
	raw, ok, err := c.store.Get(key)
	if err != nil {
		c.logger.Warn("cache read failed, treating as miss", "key", key, "error", err)
		return nil
	}
	if !ok {
		return nil
	}

	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		c.logger.Warn("cache entry malformed, treating as miss", "key", key, "error", err)
		return nil
	}
	if env.Version != envelopeVersion {
		c.logger.Warn("cache entry has unknown version, treating as miss", "key", key, "version", env.Version)
		return nil
	}

	entry := &Entry{Payload: env.Payload, WrittenAt: env.WrittenAt}
	if !allowExpired {
		if entry.Age(c.clock.Now()) >= c.TTLFor(namespaceOf(key)) {
			return nil
		}
	}
	return entry
}

// Write serializes payload into a versioned envelope and stores it under key.
// A marshal or store failure is logged and swallowed.
func (c *Cache) Write(key string, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		c.logger.Warn("cache write skipped, payload not serializable", "key", key, "error", err)
		return
	}

	env := envelope{
		Version:   envelopeVersion,
		Payload:   body,
		WrittenAt: c.clock.Now(),
	}
	raw, err := json.Marshal(env)
	if err != nil {
		c.logger.Warn("cache write skipped, envelope not serializable", "key", key, "error", err)
		return
	}

	if err := c.store.Set(key, string(raw)); err != nil {
		c.logger.Warn("cache write failed", "key", key, "error", err)
	}
}

// Invalidate bulk-removes the named entries. Failures are logged and
// swallowed; the worst case is a stale entry that expires on its own.
func (c *Cache) Invalidate(keys []string) {
	if len(keys) == 0 {
		return
	}
	if err := c.store.MultiRemove(keys); err != nil {
		c.logger.Warn("cache invalidation failed", "keys", keys, "error", err)
	}
}

// namespaceOf returns the namespace prefix of a cache key ("today:u1" -> "today").
func namespaceOf(key string) string {
	ns, _, _ := strings.Cut(key, ":")
	return ns
}
