// Package ledger records which inbound message identifiers have already been
// forwarded so they are never forwarded again.
//
// A ledger only grows. Additions are kept in memory until Persist writes the
// whole set to stable storage. Loading never fails the caller: missing state
// is an empty ledger, and unreadable state is an empty ledger plus a
// *StateError describing what was discarded.
package ledger

import (
	"fmt"
	"sort"
)

// StateError reports persisted ledger state that could not be read or written.
type StateError struct {
	Op   string
	Path string
	Err  error
}

func (e *StateError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("ledger: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("ledger: %s %q: %v", e.Op, e.Path, e.Err)
}

func (e *StateError) Unwrap() error {
	return e.Err
}

type keySet struct {
	keys    map[string]struct{}
	pending []string
}

func newKeySet(keys []string) keySet {
	set := keySet{keys: make(map[string]struct{}, len(keys))}
	for _, key := range keys {
		if key != "" {
			set.keys[key] = struct{}{}
		}
	}
	return set
}

// Contains reports whether key has been recorded.
func (s *keySet) Contains(key string) bool {
	_, ok := s.keys[key]
	return ok
}

// Add records key in memory. Adding an existing key is a no-op.
func (s *keySet) Add(key string) {
	if key == "" || s.Contains(key) {
		return
	}
	s.keys[key] = struct{}{}
	s.pending = append(s.pending, key)
}

// Len returns the number of recorded keys.
func (s *keySet) Len() int {
	return len(s.keys)
}

// Keys returns a sorted snapshot of every recorded key.
func (s *keySet) Keys() []string {
	out := make([]string, 0, len(s.keys))
	for key := range s.keys {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}

// Dirty reports whether keys were added since the last successful Persist.
func (s *keySet) Dirty() bool {
	return len(s.pending) > 0
}
