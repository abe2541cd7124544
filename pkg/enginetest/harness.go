package enginetest

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/loomui/loom/pkg/decl"
	"github.com/loomui/loom/pkg/engine"
	"github.com/loomui/loom/pkg/reactive"
)

// ManualTimers is a timer source driven by Advance instead of wall time.
type ManualTimers struct {
	mu      sync.Mutex
	pending []*manualTimer
}

type manualTimer struct {
	remaining time.Duration
	fn        func()
	fired     bool
	stopped   bool
}

// Func returns the engine.TimerFunc backed by this source.
func (m *ManualTimers) Func() engine.TimerFunc {
	return func(d time.Duration, fn func()) engine.StopTimer {
		t := &manualTimer{remaining: d, fn: fn}
		m.mu.Lock()
		m.pending = append(m.pending, t)
		m.mu.Unlock()
		return func() bool {
			m.mu.Lock()
			defer m.mu.Unlock()
			if t.fired {
				return true
			}
			t.stopped = true
			return false
		}
	}
}

// Advance moves manual time forward, firing every timer that comes due.
func (m *ManualTimers) Advance(d time.Duration) {
	var due []func()
	m.mu.Lock()
	remaining := m.pending[:0]
	for _, t := range m.pending {
		if t.stopped {
			continue
		}
		t.remaining -= d
		if t.remaining <= 0 {
			t.fired = true
			due = append(due, t.fn)
			continue
		}
		remaining = append(remaining, t)
	}
	m.pending = remaining
	m.mu.Unlock()

	for _, fn := range due {
		fn()
	}
}

// Pending returns how many timers are armed.
func (m *ManualTimers) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// Harness wires a fake adapter, an in-memory store, manual timers and an
// engine together for one test.
type Harness struct {
	T       *testing.T
	Adapter *Adapter
	Store   *reactive.MemStore
	Timers  *ManualTimers
	Engine  *engine.Engine
}

// New creates an unmounted harness. Most tests use Mount or Hydrate instead.
func New(t *testing.T, opts ...engine.Option) *Harness {
	t.Helper()
	h := &Harness{
		T:       t,
		Adapter: NewAdapter(),
		Store:   reactive.NewMemStore(),
		Timers:  &ManualTimers{},
	}
	base := []engine.Option{engine.WithTimerFunc(h.Timers.Func())}
	h.Engine = engine.New(h.Adapter, h.Store, append(base, opts...)...)
	t.Cleanup(h.Engine.Close)
	return h
}

// Mount creates a harness and mounts the tree into the fake root container.
func Mount(t *testing.T, tree *decl.Node, opts ...engine.Option) *Harness {
	t.Helper()
	h := New(t, opts...)
	if err := h.Engine.Mount(nil, tree); err != nil {
		t.Fatalf("mount failed: %v", err)
	}
	return h
}

// Hydrate creates a harness and hydrates the tree against a prerendered
// source built from FakeNodes. The source becomes the adapter's root.
func Hydrate(t *testing.T, source *FakeNode, tree *decl.Node, opts ...engine.Option) *Harness {
	t.Helper()
	h := New(t, opts...)
	h.Adapter.Root = source
	if err := h.Engine.Hydrate(source, tree); err != nil {
		t.Fatalf("hydrate failed: %v", err)
	}
	return h
}

// Flush drains pending invalidations and waits for the commit.
func (h *Harness) Flush() {
	h.T.Helper()
	if err := h.Engine.Flush(); err != nil {
		h.T.Fatalf("flush failed: %v", err)
	}
}

// Set writes a store cell and flushes the resulting batch.
func (h *Harness) Set(cell string, value any) {
	h.T.Helper()
	h.Store.Set(cell, value)
	h.Flush()
}

// HTML returns the settled output tree rendered as HTML-ish text.
func (h *Harness) HTML() string {
	h.T.Helper()
	h.Flush()
	return h.Adapter.HTML()
}

// ExpectHTML fails the test when the settled output differs from want.
func (h *Harness) ExpectHTML(want string) {
	h.T.Helper()
	if got := h.HTML(); got != want {
		h.T.Fatalf("output mismatch:\n got: %s\nwant: %s", got, want)
	}
}

// ExpectContains fails the test when the settled output does not contain
// the fragment.
func (h *Harness) ExpectContains(fragment string) {
	h.T.Helper()
	got := h.HTML()
	if !strings.Contains(got, fragment) {
		h.T.Fatalf("output %s does not contain %q", got, fragment)
	}
}
