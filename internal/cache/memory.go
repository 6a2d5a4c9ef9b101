package cache

import (
	"context"
	"sync"
	"time"

	"github.com/couchcryptid/address-geocoding/internal/domain"
	"github.com/jonboulle/clockwork"
)

// Memory is an in-process Store with TTL expiry and LRU eviction once
// maxEntries is exceeded. TTL is authoritative; the size bound is a backstop.
type Memory struct {
	maxEntries int
	clock      clockwork.Clock

	mu      sync.Mutex
	entries map[string]*entry
	head    *entry // most recently used
	tail    *entry // least recently used
}

type entry struct {
	key       string
	value     domain.GeocodeResult
	expiresAt time.Time
	hits      int
	prev      *entry
	next      *entry
}

// NewMemory creates an in-memory store bounded to maxEntries.
func NewMemory(maxEntries int, clock clockwork.Clock) *Memory {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Memory{
		maxEntries: maxEntries,
		clock:      clock,
		entries:    make(map[string]*entry),
	}
}

func (m *Memory) Get(_ context.Context, key string) (domain.GeocodeResult, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return domain.GeocodeResult{}, false, nil
	}
	if !m.clock.Now().Before(e.expiresAt) {
		m.remove(e)
		delete(m.entries, key)
		return domain.GeocodeResult{}, false, nil
	}
	e.hits++
	m.moveToFront(e)
	return e.value, true, nil
}

func (m *Memory) Put(_ context.Context, key string, value domain.GeocodeResult, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	expiresAt := m.clock.Now().Add(ttl)
	if e, ok := m.entries[key]; ok {
		e.value = value
		e.expiresAt = expiresAt
		m.moveToFront(e)
		return nil
	}

	e := &entry{key: key, value: value, expiresAt: expiresAt}
	m.entries[key] = e
	m.addToFront(e)

	if m.maxEntries > 0 && len(m.entries) > m.maxEntries {
		m.evictTail()
	}
	return nil
}

// Len returns the number of live entries, counting expired ones that have
// not been touched since expiry.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Hits returns the hit counter for key, for tests and introspection.
func (m *Memory) Hits(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[key]; ok {
		return e.hits
	}
	return 0
}

func (m *Memory) moveToFront(e *entry) {
	if e == m.head {
		return
	}
	m.remove(e)
	m.addToFront(e)
}

func (m *Memory) addToFront(e *entry) {
	e.next = m.head
	e.prev = nil
	if m.head != nil {
		m.head.prev = e
	}
	m.head = e
	if m.tail == nil {
		m.tail = e
	}
}

func (m *Memory) remove(e *entry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		m.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		m.tail = e.prev
	}
}

func (m *Memory) evictTail() {
	if m.tail == nil {
		return
	}
	delete(m.entries, m.tail.key)
	m.remove(m.tail)
}
