package session

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultMaxEntries bounds the store when no size is configured.
const DefaultMaxEntries = 1024

// Store maps chat IDs to sessions. Backed by an LRU cache so memory stays
// bounded: an evicted chat simply starts over with a fresh idle session on
// its next event.
type Store struct {
	mu    sync.Mutex
	cache *lru.Cache[string, *Session]
}

// NewStore creates a store holding at most maxEntries sessions.
func NewStore(maxEntries int) (*Store, error) {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	cache, err := lru.New[string, *Session](maxEntries)
	if err != nil {
		return nil, fmt.Errorf("session cache init: %w", err)
	}
	return &Store{cache: cache}, nil
}

// GetOrCreate returns the session for a chat, creating an idle one if absent.
func (st *Store) GetOrCreate(chatID string) *Session {
	st.mu.Lock()
	defer st.mu.Unlock()

	if sess, ok := st.cache.Get(chatID); ok {
		return sess
	}
	sess := New(chatID)
	st.cache.Add(chatID, sess)
	return sess
}

// Len returns the number of live sessions.
func (st *Store) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.cache.Len()
}
