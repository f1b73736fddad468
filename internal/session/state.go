package session

import "fmt"

// State is the conversational state of a single chat. Exactly one state is
// active per session at any time.
type State int

// Conversation states. Entering a query is the only way out of StateIdle, and
// every query path returns to StateIdle regardless of outcome.
const (
	StateIdle State = iota
	StateAwaitingSearchQuery
	StateAwaitingDownloadQuery
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingSearchQuery:
		return "awaiting_search_query"
	case StateAwaitingDownloadQuery:
		return "awaiting_download_query"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// transitions defines valid state transitions.
var transitions = map[State][]State{
	StateIdle:                  {StateAwaitingSearchQuery, StateAwaitingDownloadQuery},
	StateAwaitingSearchQuery:   {StateIdle},
	StateAwaitingDownloadQuery: {StateIdle},
}

// CanTransition checks if a transition from one state to another is valid.
func CanTransition(from, to State) bool {
	for _, state := range transitions[from] {
		if state == to {
			return true
		}
	}
	return false
}
