// Package observability provides prometheus metrics and nested key access
// statistics. Key statistics show which non-promoted keys are queried most
// often and are therefore candidates for a dedicated column.
package observability

import (
	"sort"
	"sync"
	"time"
)

// KeyStats tracks how often each nested attribute key is referenced by
// rewritten queries.
type KeyStats struct {
	mu     sync.RWMutex
	keys   map[string]*KeyAccess
	window time.Duration
	now    func() time.Time
}

// KeyAccess holds the statistics of one "<family>[<key>]" reference.
type KeyAccess struct {
	Family    string         `json:"family"`
	Key       string         `json:"key"`
	Frequency int64          `json:"frequency"`
	LastSeen  time.Time      `json:"last_seen"`
	Branches  map[string]int `json:"branches"` // rewrite branch -> count
}

// NewKeyStats creates a tracker whose entries expire after window.
func NewKeyStats(window time.Duration) *KeyStats {
	return &KeyStats{
		keys:   make(map[string]*KeyAccess),
		window: window,
		now:    time.Now,
	}
}

// RecordKey records one reference to key in family, rewritten through
// branch. Safe for concurrent use.
func (s *KeyStats) RecordKey(family, key, branch string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id := family + "[" + key + "]"
	access, ok := s.keys[id]
	if !ok {
		access = &KeyAccess{
			Family:   family,
			Key:      key,
			Branches: make(map[string]int),
		}
		s.keys[id] = access
	}

	access.Frequency++
	access.LastSeen = s.now()
	access.Branches[branch]++
}

// Top returns up to n entries ordered by frequency, most frequent first.
// When branch is not empty only keys rewritten through that branch are
// considered. The result is a copy.
func (s *KeyStats) Top(n int, branch string) []KeyAccess {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if n <= 0 || len(s.keys) == 0 {
		return []KeyAccess{}
	}

	out := make([]KeyAccess, 0, len(s.keys))
	for _, a := range s.keys {
		if branch != "" && a.Branches[branch] == 0 {
			continue
		}
		cp := *a
		cp.Branches = make(map[string]int, len(a.Branches))
		for b, c := range a.Branches {
			cp.Branches[b] = c
		}
		out = append(out, cp)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Frequency != out[j].Frequency {
			return out[i].Frequency > out[j].Frequency
		}
		if out[i].Family != out[j].Family {
			return out[i].Family < out[j].Family
		}
		return out[i].Key < out[j].Key
	})

	if n > len(out) {
		n = len(out)
	}
	return out[:n]
}

// Prune removes entries not seen within the window.
func (s *KeyStats) Prune() {
	s.mu.Lock()
	defer s.mu.Unlock()

	threshold := s.now().Add(-s.window)
	for id, a := range s.keys {
		if a.LastSeen.Before(threshold) {
			delete(s.keys, id)
		}
	}
}

// Len returns the number of tracked keys.
func (s *KeyStats) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.keys)
}
