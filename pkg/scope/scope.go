// Package scope provides lifetime scopes: owned finalizer stacks tied to a
// render node's lifetime. A scope collects teardown functions (subscription
// unsubscribes, user cleanups, background-task cancels) and runs them in
// reverse registration order when the scope closes. Scopes form a hierarchy
// mirroring the render tree; closing a scope closes its children first,
// deepest-first.
package scope

import (
	"sync"
	"sync/atomic"
)

// idCounter is the source of unique scope IDs.
var idCounter atomic.Uint64

// Scope owns a stack of finalizers and a list of child scopes.
// Close is idempotent. A finalizer registered after Close runs immediately.
type Scope struct {
	id     uint64
	parent *Scope

	mu         sync.Mutex
	finalizers []func()
	children   []*Scope

	closed atomic.Bool
}

// New creates a scope. If parent is non-nil, the new scope is registered as
// a child and will be closed when the parent closes.
func New(parent *Scope) *Scope {
	s := &Scope{
		id:     idCounter.Add(1),
		parent: parent,
	}
	if parent != nil {
		parent.addChild(s)
	}
	return s
}

// ID returns the unique identifier for this scope.
func (s *Scope) ID() uint64 {
	return s.id
}

// Parent returns the parent scope, or nil for a root scope.
func (s *Scope) Parent() *Scope {
	return s.parent
}

// IsClosed reports whether Close has been called.
func (s *Scope) IsClosed() bool {
	return s.closed.Load()
}

// OnCleanup registers a finalizer. Finalizers run in reverse registration
// order (LIFO) when the scope closes. If the scope is already closed, fn
// runs immediately.
func (s *Scope) OnCleanup(fn func()) {
	if fn == nil {
		return
	}
	if s.closed.Load() {
		fn()
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finalizers = append(s.finalizers, fn)
}

// addChild registers a child scope.
func (s *Scope) addChild(child *Scope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.children = append(s.children, child)
}

// removeChild removes a child scope from this scope's children.
func (s *Scope) removeChild(child *Scope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, c := range s.children {
		if c == child {
			s.children = append(s.children[:i], s.children[i+1:]...)
			return
		}
	}
}

// Close closes the scope: children are closed first in reverse creation
// order, then this scope's finalizers run most-recently-registered first.
// Subsequent calls are no-ops.
func (s *Scope) Close() {
	if s.closed.Swap(true) {
		return
	}

	if s.parent != nil {
		s.parent.removeChild(s)
	}

	s.mu.Lock()
	children := s.children
	s.children = nil
	finalizers := s.finalizers
	s.finalizers = nil
	s.mu.Unlock()

	for i := len(children) - 1; i >= 0; i-- {
		children[i].Close()
	}
	for i := len(finalizers) - 1; i >= 0; i-- {
		finalizers[i]()
	}
}
