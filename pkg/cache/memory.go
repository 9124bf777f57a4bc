package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

type item[V any] struct {
	expires time.Time
	value   V
	key     string
}

// Memory is a process-local LRU with per-entry expiry. Expired entries are
// dropped lazily on access or when they reach the LRU tail.
type Memory[V any] struct {
	items      map[string]*list.Element
	order      *list.List
	now        func() time.Time
	defaultTTL time.Duration
	maxEntries int
	mu         sync.Mutex
}

// NewMemory returns an in-memory cache holding at most maxEntries values.
// A maxEntries of zero or less means unbounded.
func NewMemory[V any](defaultTTL time.Duration, maxEntries int) *Memory[V] {
	return &Memory[V]{
		items:      make(map[string]*list.Element),
		order:      list.New(),
		now:        time.Now,
		defaultTTL: defaultTTL,
		maxEntries: maxEntries,
	}
}

func (m *Memory[V]) Get(_ context.Context, key string) (V, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var zero V
	el, ok := m.items[key]
	if !ok {
		return zero, ErrNotFound
	}
	it := el.Value.(*item[V])
	if !it.expires.IsZero() && !m.now().Before(it.expires) {
		m.remove(el)
		return zero, ErrNotFound
	}
	m.order.MoveToFront(el)
	return it.value, nil
}

func (m *Memory[V]) Set(_ context.Context, key string, value V, ttl time.Duration) error {
	if ttl == 0 {
		ttl = m.defaultTTL
	}
	var expires time.Time
	if ttl > 0 {
		expires = m.now().Add(ttl)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if el, ok := m.items[key]; ok {
		it := el.Value.(*item[V])
		it.value, it.expires = value, expires
		m.order.MoveToFront(el)
		return nil
	}

	if m.maxEntries > 0 && len(m.items) >= m.maxEntries {
		if tail := m.order.Back(); tail != nil {
			m.remove(tail)
		}
	}
	m.items[key] = m.order.PushFront(&item[V]{key: key, value: value, expires: expires})
	return nil
}

func (m *Memory[V]) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if el, ok := m.items[key]; ok {
		m.remove(el)
	}
	return nil
}

// Len reports the number of stored entries, expired ones included.
func (m *Memory[V]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// caller holds mu
func (m *Memory[V]) remove(el *list.Element) {
	m.order.Remove(el)
	delete(m.items, el.Value.(*item[V]).key)
}

var _ Cache[int] = (*Memory[int])(nil)
