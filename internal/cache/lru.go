package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// defaultLRUSize bounds the memory store when no size is configured.
const defaultLRUSize = 10000

// lruStore keeps reports and runs in least-recently-used order. Velocity
// counters are held apart: they are never evicted by size, and expired
// windows are swept once the counter table outgrows the entry capacity.
type lruStore struct {
	mu       sync.Mutex
	maxSize  int
	entries  map[entryKey]*list.Element
	order    *list.List
	counters map[entryKey]*window
	now      func() time.Time
}

type lruEntry struct {
	key       entryKey
	value     []byte
	expiresAt time.Time
}

// window is a velocity count that resets at expiresAt.
type window struct {
	count     int64
	expiresAt time.Time
}

func newLRUStore(maxSize int) *lruStore {
	if maxSize <= 0 {
		maxSize = defaultLRUSize
	}
	return &lruStore{
		maxSize:  maxSize,
		entries:  make(map[entryKey]*list.Element),
		order:    list.New(),
		counters: make(map[entryKey]*window),
		now:      time.Now,
	}
}

func (s *lruStore) get(_ context.Context, key entryKey) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	elem, ok := s.entries[key]
	if !ok {
		return nil, nil
	}
	entry := elem.Value.(*lruEntry)
	if s.now().After(entry.expiresAt) {
		s.remove(elem)
		return nil, nil
	}
	s.order.MoveToFront(elem)
	return entry.value, nil
}

func (s *lruStore) put(_ context.Context, key entryKey, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	expiresAt := s.now().Add(ttl)
	if elem, ok := s.entries[key]; ok {
		entry := elem.Value.(*lruEntry)
		entry.value = value
		entry.expiresAt = expiresAt
		s.order.MoveToFront(elem)
		return nil
	}

	s.entries[key] = s.order.PushFront(&lruEntry{key: key, value: value, expiresAt: expiresAt})
	for s.order.Len() > s.maxSize {
		s.remove(s.order.Back())
	}
	return nil
}

func (s *lruStore) del(_ context.Context, key entryKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if elem, ok := s.entries[key]; ok {
		s.remove(elem)
	}
	return nil
}

func (s *lruStore) incr(_ context.Context, key entryKey, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	w, ok := s.counters[key]
	if ok && !now.After(w.expiresAt) {
		w.count++
		return w.count, nil
	}

	if !ok && len(s.counters) >= s.maxSize {
		s.sweepCounters(now)
	}
	s.counters[key] = &window{count: 1, expiresAt: now.Add(ttl)}
	return 1, nil
}

func (s *lruStore) ping(context.Context) error {
	return nil
}

func (s *lruStore) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[entryKey]*list.Element)
	s.order = list.New()
	s.counters = make(map[entryKey]*window)
	return nil
}

// len reports the number of cached entries, counters excluded.
func (s *lruStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.Len()
}

func (s *lruStore) remove(elem *list.Element) {
	s.order.Remove(elem)
	delete(s.entries, elem.Value.(*lruEntry).key)
}

func (s *lruStore) sweepCounters(now time.Time) {
	for key, w := range s.counters {
		if now.After(w.expiresAt) {
			delete(s.counters, key)
		}
	}
}
