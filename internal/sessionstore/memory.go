package sessionstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

type timedEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryStore is a process-local Store. Expiry is honoured on read and by
// an optional background sweeper.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]timedEntry
	now     func() time.Time
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithMemoryClock overrides the time source, mainly for tests.
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewMemoryStore builds an empty store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{entries: make(map[string]timedEntry), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Put stores a copy of value under key.
func (s *MemoryStore) Put(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("sessionstore: ttl must be positive for %q", key)
	}
	buf := make([]byte, len(value))
	copy(buf, value)

	s.mu.Lock()
	s.entries[key] = timedEntry{value: buf, expiresAt: s.now().Add(ttl)}
	s.mu.Unlock()
	return nil
}

// Get returns a copy of the value if present and unexpired.
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	entry, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	if !s.now().Before(entry.expiresAt) {
		s.mu.Lock()
		if current, ok := s.entries[key]; ok && current.expiresAt.Equal(entry.expiresAt) {
			delete(s.entries, key)
		}
		s.mu.Unlock()
		return nil, ErrNotFound
	}
	out := make([]byte, len(entry.value))
	copy(out, entry.value)
	return out, nil
}

// Take removes key and returns its value if it was unexpired.
func (s *MemoryStore) Take(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	delete(s.entries, key)
	if !s.now().Before(entry.expiresAt) {
		return nil, ErrNotFound
	}
	return entry.value, nil
}

// Delete removes key.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}

// Scan returns unexpired entries whose key starts with prefix, sorted by key.
func (s *MemoryStore) Scan(_ context.Context, prefix string) ([]Entry, error) {
	now := s.now()
	s.mu.RLock()
	entries := make([]Entry, 0)
	for key, entry := range s.entries {
		if !strings.HasPrefix(key, prefix) || !now.Before(entry.expiresAt) {
			continue
		}
		value := make([]byte, len(entry.value))
		copy(value, entry.value)
		entries = append(entries, Entry{Key: key, Value: value})
	}
	s.mu.RUnlock()
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries, nil
}

// Sweep removes expired entries and returns how many were dropped. Expired
// keys are collected under the read lock and deleted under the write lock.
func (s *MemoryStore) Sweep() int {
	now := s.now()
	s.mu.RLock()
	var expired []string
	for key, entry := range s.entries {
		if !now.Before(entry.expiresAt) {
			expired = append(expired, key)
		}
	}
	s.mu.RUnlock()
	if len(expired) == 0 {
		return 0
	}

	removed := 0
	s.mu.Lock()
	for _, key := range expired {
		if entry, ok := s.entries[key]; ok && !now.Before(entry.expiresAt) {
			delete(s.entries, key)
			removed++
		}
	}
	s.mu.Unlock()
	return removed
}

// Run sweeps expired entries every interval until ctx is cancelled.
func (s *MemoryStore) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Len reports the number of stored entries, including expired ones not yet
// swept.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Backend reports "memory".
func (s *MemoryStore) Backend() string { return BackendMemory }

// Close drops all entries.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	s.entries = make(map[string]timedEntry)
	s.mu.Unlock()
	return nil
}
