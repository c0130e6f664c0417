// Package workspace holds the process-local per-user state the editor plugin
// reports between polls: a snapshot of what currently exists in the open place,
// and the most recent runtime error. Neither survives a restart; the plugin
// re-sends both each session.
package workspace

import "sync"

// RuntimeError is the last script error the plugin reported for a user.
type RuntimeError struct {
	Message string `json:"message"`
	Script  string `json:"script"`
	Line    int    `json:"line"`
}

// Place identifies the place/game the plugin currently has open.
type Place struct {
	PlaceID string `json:"placeId"`
	GameID  string `json:"gameId"`
}

// Store keeps per-user workspace state. Context writes replace the whole list;
// runtime errors hold at most one entry per user and are cleared on read.
type Store struct {
	mu      sync.Mutex
	context map[string][]string
	errors  map[string]RuntimeError
	places  map[string]Place
}

func NewStore() *Store {
	return &Store{
		context: make(map[string][]string),
		errors:  make(map[string]RuntimeError),
		places:  make(map[string]Place),
	}
}

// Context returns the user's current descriptor list. Never nil.
func (s *Store) Context(userID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ctx := s.context[userID]
	out := make([]string, len(ctx))
	copy(out, ctx)
	return out
}

// ReplaceContext overwrites the user's descriptor list wholesale.
// Last write wins.
func (s *Store) ReplaceContext(userID string, descriptors []string) {
	ctx := make([]string, len(descriptors))
	copy(ctx, descriptors)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.context[userID] = ctx
}

// RecordError stores the user's latest runtime error, overwriting any unread
// one.
func (s *Store) RecordError(userID string, e RuntimeError) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors[userID] = e
}

// TakeError returns and clears the user's pending runtime error in one step,
// so concurrent readers cannot both observe it.
func (s *Store) TakeError(userID string) (RuntimeError, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.errors[userID]
	if ok {
		delete(s.errors, userID)
	}
	return e, ok
}

// PeekError returns the pending runtime error without consuming it. Only
// inspection surfaces use this; delivery endpoints take the error instead.
func (s *Store) PeekError(userID string) (RuntimeError, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.errors[userID]
	return e, ok
}

// RecordPlace stores which place the plugin currently has open.
func (s *Store) RecordPlace(userID string, p Place) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.places[userID] = p
}

// PlaceFor returns the last reported place for the user.
func (s *Store) PlaceFor(userID string) (Place, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.places[userID]
	return p, ok
}
