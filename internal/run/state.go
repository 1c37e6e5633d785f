// Package run holds the bookkeeping shared by the engines during a single
// dispatch run: which messages were claimed and which mailboxes were
// touched.
package run

import (
	"fmt"

	"github.com/google/uuid"
)

// Key identifies a message within a run. UIDs are only unique inside a
// mailbox, so the mailbox name is part of the key.
type Key struct {
	Mailbox string
	UID     uint32
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%d", k.Mailbox, k.UID)
}

// State is created once per run and discarded when the run ends.
type State struct {
	ID      string
	claimed map[Key]struct{}
	touched []string
	seen    map[string]struct{}
}

// NewState creates an empty run state with a fresh run ID.
func NewState() *State {
	return &State{
		ID:      uuid.NewString(),
		claimed: make(map[Key]struct{}),
		seen:    make(map[string]struct{}),
	}
}

// Touch records that a rule selected mailbox during this run.
func (s *State) Touch(mailbox string) {
	if _, ok := s.seen[mailbox]; ok {
		return
	}
	s.seen[mailbox] = struct{}{}
	s.touched = append(s.touched, mailbox)
}

// Touched returns the touched mailboxes in the order they were first
// selected.
func (s *State) Touched() []string {
	out := make([]string, len(s.touched))
	copy(out, s.touched)
	return out
}

// IsTouched reports whether mailbox was selected by any rule.
func (s *State) IsTouched(mailbox string) bool {
	_, ok := s.seen[mailbox]
	return ok
}

// Claim marks the message as dispatched. It returns false if the message
// had already been claimed earlier in the run. Claiming also touches the
// message's mailbox.
func (s *State) Claim(mailbox string, uid uint32) bool {
	s.Touch(mailbox)
	k := Key{Mailbox: mailbox, UID: uid}
	if _, ok := s.claimed[k]; ok {
		return false
	}
	s.claimed[k] = struct{}{}
	return true
}

// Claimed reports whether the message was claimed during this run.
func (s *State) Claimed(mailbox string, uid uint32) bool {
	_, ok := s.claimed[Key{Mailbox: mailbox, UID: uid}]
	return ok
}

// ClaimedCount returns the number of claimed messages.
func (s *State) ClaimedCount() int {
	return len(s.claimed)
}
