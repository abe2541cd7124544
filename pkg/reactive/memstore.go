package reactive

import (
	"reflect"
	"sync"
	"sync/atomic"
)

// subIDCounter is the source of unique subscription IDs.
var subIDCounter atomic.Uint64

type subscriber struct {
	id uint64
	fn func()
}

// cell is one named reactive value and its subscribers.
type cell struct {
	mu    sync.RWMutex
	value any
	subs  []subscriber
}

// get returns the current value.
func (c *cell) get() any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.value
}

// set updates the value and returns whether it changed.
func (c *cell) set(value any) bool {
	c.mu.Lock()
	changed := !valuesEqual(c.value, value)
	if changed {
		c.value = value
	}
	c.mu.Unlock()
	return changed
}

// subscribe adds a subscriber and returns its ID.
func (c *cell) subscribe(fn func()) uint64 {
	id := subIDCounter.Add(1)
	c.mu.Lock()
	c.subs = append(c.subs, subscriber{id: id, fn: fn})
	c.mu.Unlock()
	return id
}

// unsubscribe removes the subscriber with the given ID.
func (c *cell) unsubscribe(id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, s := range c.subs {
		if s.id == id {
			// Order doesn't matter, swap with last.
			c.subs[i] = c.subs[len(c.subs)-1]
			c.subs = c.subs[:len(c.subs)-1]
			return
		}
	}
}

// notify calls all subscribers. Copy-before-notify so the lock is not held
// while subscriber callbacks run.
func (c *cell) notify() {
	c.mu.RLock()
	subs := make([]subscriber, len(c.subs))
	copy(subs, c.subs)
	c.mu.RUnlock()

	for _, s := range subs {
		s.fn()
	}
}

// MemStore is the reference in-memory Store implementation.
// Cells are created lazily on first access.
type MemStore struct {
	mu    sync.Mutex
	cells map[string]*cell
}

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{cells: make(map[string]*cell)}
}

// cellFor returns the named cell, creating it if needed.
func (m *MemStore) cellFor(name string) *cell {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cells[name]
	if !ok {
		c = &cell{}
		m.cells[name] = c
	}
	return c
}

// Get implements Store.
func (m *MemStore) Get(name string) any {
	return m.cellFor(name).get()
}

// Set implements Store. Subscribers are notified only when the value
// actually changed.
func (m *MemStore) Set(name string, value any) {
	c := m.cellFor(name)
	if c.set(value) {
		c.notify()
	}
}

// Subscribe implements Store.
func (m *MemStore) Subscribe(name string, onChange func()) func() {
	c := m.cellFor(name)
	id := c.subscribe(onChange)
	var once sync.Once
	return func() {
		once.Do(func() { c.unsubscribe(id) })
	}
}

// valuesEqual provides type-appropriate equality checking: == for common
// comparable types, reflect.DeepEqual otherwise.
func valuesEqual(a, b any) bool {
	switch av := a.(type) {
	case nil:
		return b == nil
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case int:
		bv, ok := b.(int)
		return ok && av == bv
	case int64:
		bv, ok := b.(int64)
		return ok && av == bv
	case uint64:
		bv, ok := b.(uint64)
		return ok && av == bv
	case float64:
		bv, ok := b.(float64)
		return ok && av == bv
	}
	return reflect.DeepEqual(a, b)
}
