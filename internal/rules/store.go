package rules

import (
	"encoding/json"
	"sort"
	"strings"
	"sync"

	"cockpit/internal/kv"
)

const storageKey = "allow_rules"

// Store is the durable rule collection: an in-memory cache kept in sync
// with the key-value surface. Reads and writes arrive from the controller
// goroutine and UI goroutines concurrently; persistence is best-effort.
type Store struct {
	mu    sync.RWMutex
	kv    kv.Store
	cache []AllowRule
}

// NewStore loads the persisted rule collection. Malformed persisted data
// is sanitized entry-by-entry, never surfaced as an error.
func NewStore(store kv.Store) *Store {
	s := &Store{kv: store}
	s.load()
	return s
}

func (s *Store) load() {
	if s.kv == nil {
		return
	}
	raw, ok, err := s.kv.Get(storageKey)
	if err != nil || !ok {
		return
	}
	var entries []AllowRule
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return
	}
	for _, entry := range entries {
		entry.Tool = strings.TrimSpace(entry.Tool)
		if entry.Tool == "" {
			continue
		}
		entry.Pattern = strings.TrimSpace(entry.Pattern)
		if strings.TrimSpace(entry.Label) == "" {
			entry.Label = defaultLabel(entry)
		}
		s.put(entry)
	}
}

func defaultLabel(rule AllowRule) string {
	if rule.Pattern != "" {
		return rule.Pattern
	}
	return rule.Tool
}

func (s *Store) put(rule AllowRule) {
	for i, existing := range s.cache {
		if existing.Key() == rule.Key() {
			s.cache[i] = rule
			return
		}
	}
	s.cache = append(s.cache, rule)
}

// Add inserts rule, replacing any existing entry with the same
// (tool, pattern) key, and persists the full collection.
func (s *Store) Add(rule AllowRule) {
	rule.Tool = strings.TrimSpace(rule.Tool)
	if rule.Tool == "" {
		return
	}
	rule.Pattern = strings.TrimSpace(rule.Pattern)
	if strings.TrimSpace(rule.Label) == "" {
		rule.Label = defaultLabel(rule)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.put(rule)
	s.flush()
}

// Remove deletes the rule with the given key; removing a missing key is a
// no-op.
func (s *Store) Remove(tool, pattern string) {
	key := AllowRule{Tool: strings.TrimSpace(tool), Pattern: strings.TrimSpace(pattern)}.Key()
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.cache {
		if existing.Key() == key {
			s.cache = append(s.cache[:i], s.cache[i+1:]...)
			s.flush()
			return
		}
	}
}

// Match reports whether some rule grants toolName for the given primary
// argument. A rule without a pattern is a blanket grant for its tool.
func (s *Store) Match(toolName, input string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rule := range s.cache {
		if rule.Tool != toolName {
			continue
		}
		if rule.Pattern == "" {
			return true
		}
		if MatchPattern(rule.Pattern, input) {
			return true
		}
	}
	return false
}

// List returns the rules sorted by tool then pattern.
func (s *Store) List() []AllowRule {
	s.mu.RLock()
	out := append([]AllowRule(nil), s.cache...)
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Tool != out[j].Tool {
			return out[i].Tool < out[j].Tool
		}
		return out[i].Pattern < out[j].Pattern
	})
	return out
}

// Len returns the number of stored rules.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.cache)
}

// flush persists the collection; callers hold mu. Write failures are
// swallowed and the in-memory cache stays authoritative for the running
// process.
func (s *Store) flush() {
	if s.kv == nil {
		return
	}
	data, err := json.Marshal(s.cache)
	if err != nil {
		return
	}
	_ = s.kv.Set(storageKey, string(data))
}
