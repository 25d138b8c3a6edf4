package scheduler

import (
	"sync"
	"time"
)

type expiringEntry[V any] struct {
	value    V
	task     *Task
	deadline time.Time
}

func (e *expiringEntry[V]) live() bool { return time.Now().Before(e.deadline) }

// ExpiringMap is a map whose entries are evicted by a scheduled task once
// their TTL passes. Putting a key again restarts its TTL. Entries past their
// TTL are never returned, even if the scheduler was closed before evicting
// them, and nothing is stored once the scheduler is closed.
type ExpiringMap[K comparable, V any] struct {
	s   *Scheduler
	ttl time.Duration

	mu      sync.Mutex
	entries map[K]*expiringEntry[V]
	onEvict func(K, V)
}

// NewExpiringMap returns an ExpiringMap evicting entries ttl after they were
// last put.
func NewExpiringMap[K comparable, V any](s *Scheduler, ttl time.Duration) *ExpiringMap[K, V] {
	return &ExpiringMap[K, V]{s: s, ttl: ttl, entries: make(map[K]*expiringEntry[V])}
}

// OnEvict sets a function called, outside of the map's lock, whenever an
// entry expires. It is not called for Delete or Close.
func (m *ExpiringMap[K, V]) OnEvict(fn func(K, V)) {
	m.mu.Lock()
	m.onEvict = fn
	m.mu.Unlock()
}

// Put stores v under k and (re)starts its TTL.
func (m *ExpiringMap[K, V]) Put(k K, v V) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putLocked(k, v)
}

func (m *ExpiringMap[K, V]) putLocked(k K, v V) {
	if old, ok := m.entries[k]; ok {
		old.task.Cancel()
	}
	e := &expiringEntry[V]{value: v, deadline: time.Now().Add(m.ttl)}
	e.task = m.s.After(m.ttl, func() { m.expire(k, e) })
	if e.task.Cancelled() {
		delete(m.entries, k)
		return
	}
	m.entries[k] = e
}

// liveLocked returns the entry under k if its TTL has not passed yet.
func (m *ExpiringMap[K, V]) liveLocked(k K) (*expiringEntry[V], bool) {
	e, ok := m.entries[k]
	if !ok {
		return nil, false
	}
	if !e.live() {
		e.task.Cancel()
		delete(m.entries, k)
		return nil, false
	}
	return e, true
}

func (m *ExpiringMap[K, V]) expire(k K, e *expiringEntry[V]) {
	m.mu.Lock()
	if cur, ok := m.entries[k]; !ok || cur != e {
		m.mu.Unlock()
		return
	}
	delete(m.entries, k)
	fn := m.onEvict
	m.mu.Unlock()
	if fn != nil {
		fn(k, e.value)
	}
}

// Get returns the value stored under k.
func (m *ExpiringMap[K, V]) Get(k K) (V, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.liveLocked(k)
	if !ok {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Delete removes k and cancels its eviction.
func (m *ExpiringMap[K, V]) Delete(k K) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[k]; ok {
		e.task.Cancel()
		delete(m.entries, k)
	}
}

// DeleteFunc removes every entry for which fn returns true.
func (m *ExpiringMap[K, V]) DeleteFunc(fn func(K, V) bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, e := range m.entries {
		if fn(k, e.value) {
			e.task.Cancel()
			delete(m.entries, k)
		}
	}
}

// Len returns the number of live entries.
func (m *ExpiringMap[K, V]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.entries {
		m.liveLocked(k)
	}
	return len(m.entries)
}

// Close removes every entry and cancels all pending evictions.
func (m *ExpiringMap[K, V]) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, e := range m.entries {
		e.task.Cancel()
		delete(m.entries, k)
	}
}

// ExpiringSet is an ExpiringMap without values.
type ExpiringSet[K comparable] struct {
	m *ExpiringMap[K, struct{}]
}

// NewExpiringSet returns an ExpiringSet evicting keys ttl after they were
// last added.
func NewExpiringSet[K comparable](s *Scheduler, ttl time.Duration) *ExpiringSet[K] {
	return &ExpiringSet[K]{m: NewExpiringMap[K, struct{}](s, ttl)}
}

// Add adds k to the set and (re)starts its TTL.
func (s *ExpiringSet[K]) Add(k K) { s.m.Put(k, struct{}{}) }

// TryAdd adds k only if it is not present and reports whether it did.
func (s *ExpiringSet[K]) TryAdd(k K) bool {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if _, ok := s.m.liveLocked(k); ok {
		return false
	}
	s.m.putLocked(k, struct{}{})
	return true
}

// Contains reports whether k is in the set.
func (s *ExpiringSet[K]) Contains(k K) bool {
	_, ok := s.m.Get(k)
	return ok
}

// Remove removes k from the set.
func (s *ExpiringSet[K]) Remove(k K) { s.m.Delete(k) }

// Len returns the number of keys in the set.
func (s *ExpiringSet[K]) Len() int { return s.m.Len() }

// Close empties the set and cancels all pending evictions.
func (s *ExpiringSet[K]) Close() { s.m.Close() }
