// Package session holds per-chat conversational state: the dialogue state
// machine and the lazily-created handle to the remote library. Sessions are
// in-memory and ephemeral; a bounded store evicts the least recently used
// entry when full.
package session

import (
	"fmt"
	"sync"
)

// Session is the state for one chat. The dispatch layer serializes all event
// handling for a chat by holding the session lock for the duration of the
// event, which is what makes the plain state and handle fields safe.
type Session struct {
	id    string
	mu    sync.Mutex
	state State
	lib   Library
}

// New creates an idle session for the given chat.
func New(id string) *Session {
	return &Session{id: id, state: StateIdle}
}

// ID returns the chat identifier this session belongs to.
func (s *Session) ID() string {
	return s.id
}

// Lock serializes event handling for this session. Transport events for the
// same chat must never interleave: a button tap must not race the search that
// produced its buttons.
func (s *Session) Lock() {
	s.mu.Lock()
}

// Unlock releases the session for the next event.
func (s *Session) Unlock() {
	s.mu.Unlock()
}

// State returns the current dialogue state. Caller must hold the session lock.
func (s *Session) State() State {
	return s.state
}

// Transition moves the session to a new state if the transition is valid.
// Caller must hold the session lock.
func (s *Session) Transition(to State) error {
	if !CanTransition(s.state, to) {
		return fmt.Errorf("invalid transition from %s to %s", s.state, to)
	}
	s.state = to
	return nil
}

// Reset returns the session to idle, discarding any pending intent. Unlike
// Transition it always succeeds; cancel works from every state. Caller must
// hold the session lock.
func (s *Session) Reset() {
	s.state = StateIdle
}

// Library returns the session's remote handle, creating it on first use. The
// handle is owned exclusively by this session. Caller must hold the session
// lock.
func (s *Session) Library(connect func() Library) Library {
	if s.lib == nil {
		s.lib = connect()
	}
	return s.lib
}
