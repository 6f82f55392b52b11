// Package lockdown tracks the bot's maintenance mode.
package lockdown

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrRestart is the cause given to the run context when a lockdown runs to
// completion and the process should restart.
var ErrRestart = errors.New("maintenance restart requested")

// DefaultMessage is the reply to users while a lockdown has no message.
const DefaultMessage = "The bot is currently under maintenance. Please try again in a few minutes."

// State is the maintenance mode state. The zero value is not in lockdown.
// Each lockdown has a generation number so that a waiter can distinguish the
// lockdown it started from one that was ended and begun again.
type State struct {
	mu     sync.Mutex
	gen    uint64
	active bool
	msg    string
}

// Begin enters lockdown with an optional message for users and returns the
// lockdown's generation. If a lockdown is already active, it is replaced.
func (s *State) Begin(msg string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	s.active = true
	s.msg = msg
	return s.gen
}

// End leaves lockdown. It reports whether a lockdown was active.
func (s *State) End() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	was := s.active
	s.active = false
	s.msg = ""
	return was
}

// Active reports whether a lockdown is active and the message to show users.
// The message is [DefaultMessage] if the lockdown was begun without one.
func (s *State) Active() (bool, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return false, ""
	}
	if s.msg == "" {
		return true, DefaultMessage
	}
	return true, s.msg
}

// Current reports whether the lockdown of generation gen is still active.
func (s *State) Current(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active && s.gen == gen
}

// Await waits for d and then reports whether the lockdown of generation gen
// is still active. It returns false early if ctx is canceled.
func (s *State) Await(ctx context.Context, gen uint64, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return s.Current(gen)
	}
}
