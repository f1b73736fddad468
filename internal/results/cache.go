// Package results caches the most recent ResultSet per chat so later
// selections ("get item #3") resolve without re-querying the remote service.
package results

import (
	"errors"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/walktheearth/bookdlbot/internal/zlibrary"
)

// Selection failures. Both are expected, frequent outcomes, not crashes: a
// user can always tap a button long after its results went away.
var (
	// ErrSessionExpired reports a selection against a chat with no cached
	// ResultSet (never searched, or the entry aged out).
	ErrSessionExpired = errors.New("no cached results for this chat")

	// ErrInvalidSelection reports an index outside the cached ResultSet.
	ErrInvalidSelection = errors.New("selection index out of range")
)

// Default cache lifetimes.
const (
	DefaultTTL           = 30 * time.Minute
	DefaultPurgeInterval = 10 * time.Minute
)

// Cache holds one ResultSet per chat. A new search replaces the set
// atomically; published sets are never mutated, so button indices stay valid
// until replacement or expiry.
type Cache struct {
	c *gocache.Cache
}

// NewCache creates a cache whose entries expire after ttl and are purged
// every purgeInterval.
func NewCache(ttl, purgeInterval time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if purgeInterval <= 0 {
		purgeInterval = DefaultPurgeInterval
	}
	return &Cache{c: gocache.New(ttl, purgeInterval)}
}

// Put replaces the chat's ResultSet. The records are copied so the published
// set stays index-stable even if the caller reuses its slice.
func (rc *Cache) Put(chatID string, records []zlibrary.Record) {
	set := make([]zlibrary.Record, len(records))
	copy(set, records)
	rc.c.Set(chatID, set, gocache.DefaultExpiration)
}

// Get returns the chat's current ResultSet.
func (rc *Cache) Get(chatID string) ([]zlibrary.Record, bool) {
	v, ok := rc.c.Get(chatID)
	if !ok {
		return nil, false
	}
	set, ok := v.([]zlibrary.Record)
	return set, ok
}

// Select resolves an index against the chat's current ResultSet.
func (rc *Cache) Select(chatID string, index int) (zlibrary.Record, error) {
	set, ok := rc.Get(chatID)
	if !ok {
		return zlibrary.Record{}, ErrSessionExpired
	}
	if index < 0 || index >= len(set) {
		return zlibrary.Record{}, ErrInvalidSelection
	}
	return set[index], nil
}

// Clear drops the chat's ResultSet.
func (rc *Cache) Clear(chatID string) {
	rc.c.Delete(chatID)
}
