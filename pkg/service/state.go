package service

import (
	"sync"
	"time"

	"github.com/wizzomafizzo/tapto-pcsc/pkg/tokens"
)

// State tracks the tag currently sitting on a reader. A session reports the
// same tag on every tick, so a token only counts as a new scan if it differs
// from the active one or the active one has not been seen for a while.
type State struct {
	mu          sync.RWMutex
	activeCard  *tokens.Token
	lastSeen    time.Time
	window      time.Duration
	lastScanned tokens.Token
}

func NewState() *State {
	return &State{}
}

// Seen records t and reports whether it is a new scan. Tokens that are
// equal to the active card and arrive within window of its last sighting are
// duplicates.
func (s *State) Seen(t tokens.Token, now time.Time, window time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	fresh := !tokens.TokensEqual(s.activeCard, &t) || now.Sub(s.lastSeen) > window
	s.lastSeen = now
	s.window = window
	if fresh {
		s.activeCard = &t
		s.lastScanned = t
	}

	return fresh
}

// GetActiveCard returns the tag still on the reader, or nil once it has
// gone unseen for longer than the dedupe window.
func (s *State) GetActiveCard() *tokens.Token {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.activeCard == nil || time.Since(s.lastSeen) > s.window {
		return nil
	}
	t := *s.activeCard
	return &t
}

// GetLastScanned returns the most recent new scan, or a zero token.
func (s *State) GetLastScanned() tokens.Token {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastScanned
}
