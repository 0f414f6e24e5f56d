// Package conversation holds per-identity message history for the feedback engine.
//
// History is only reachable through a Session obtained from Store.Acquire. Holding a
// Session excludes every other caller for the same identity until Release or Discard,
// so two messages from one sender can never interleave their turns.
package conversation

import (
	"context"
	"errors"
)

// Role identifies the author of a turn.
type Role string

// Turn roles.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message in a conversation.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ErrLeaseLost is returned by Release when another process took over the identity
// after this session's lease expired. The session's changes are not committed.
var ErrLeaseLost = errors.New("conversation lease lost")

// Store hands out exclusive sessions keyed by identity.
type Store interface {
	// Acquire blocks until the caller holds identity exclusively or ctx is done.
	Acquire(ctx context.Context, identity string) (*Session, error)
}

// Session is an exclusive, scoped view of one identity's history. Changes are buffered
// and written back on Release. A Session must not be used after Release or Discard.
type Session struct {
	finish   func(s *Session, commit bool) error
	identity string
	history  []Turn
	pending  []Turn
	cleared  bool
	done     bool
}

func newSession(identity string, history []Turn, finish func(*Session, bool) error) *Session {
	return &Session{identity: identity, history: history, finish: finish}
}

// Identity returns the sender this session belongs to.
func (s *Session) Identity() string {
	return s.identity
}

// History returns the ordered turns as this session currently sees them, including
// turns appended but not yet released.
func (s *Session) History() []Turn {
	var base []Turn
	if !s.cleared {
		base = s.history
	}
	out := make([]Turn, 0, len(base)+len(s.pending))
	out = append(out, base...)
	return append(out, s.pending...)
}

// Len returns the number of turns History would return.
func (s *Session) Len() int {
	if s.cleared {
		return len(s.pending)
	}
	return len(s.history) + len(s.pending)
}

// Append buffers a turn.
func (s *Session) Append(role Role, content string) {
	s.pending = append(s.pending, Turn{Role: role, Content: content})
}

// Clear drops all history, committed and pending. Turns appended afterwards start a
// fresh conversation.
func (s *Session) Clear() {
	s.cleared = true
	s.pending = nil
}

// Release commits buffered changes and gives up exclusivity. Calling it again is a no-op.
func (s *Session) Release() error {
	if s.done {
		return nil
	}
	s.done = true
	return s.finish(s, true)
}

// Discard gives up exclusivity without committing anything.
func (s *Session) Discard() {
	if s.done {
		return
	}
	s.done = true
	_ = s.finish(s, false)
}

