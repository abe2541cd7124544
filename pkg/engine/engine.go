// Package engine reconciles declarative trees into a live output tree
// through a pluggable adapter. It owns the persistent render tree, a
// single-goroutine scheduler with batched invalidation, suspense and error
// boundaries, and hydration against prerendered output.
package engine

import (
	"errors"
	"log/slog"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loomui/loom/pkg/decl"
	"github.com/loomui/loom/pkg/fault"
	"github.com/loomui/loom/pkg/reactive"
	"github.com/loomui/loom/pkg/scope"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// ErrClosed is returned when an operation is attempted on a closed engine.
var ErrClosed = errors.New("loom: engine closed")

// ErrAlreadyMounted is returned when Mount or Hydrate is called twice.
var ErrAlreadyMounted = errors.New("loom: tree already mounted")

// ErrTreeFailed is returned after an uncaught failure reached the root.
// The render tree is terminal at that point; no further batches run.
var ErrTreeFailed = errors.New("loom: render tree failed")

// StopTimer cancels a pending timer. Reports whether it fired already.
type StopTimer func() bool

// TimerFunc schedules fn after d. It backs the suspense threshold timer and
// is injectable for deterministic tests.
type TimerFunc func(d time.Duration, fn func()) StopTimer

// Engine is the reactive fiber reconciliation engine: it owns the render
// tree, the scheduler, and the commit loop. One engine drives one output
// tree. The render tree is exclusively owned by the engine's scheduler
// goroutine; external code communicates with it only through the store,
// interaction callbacks, and Dispatch.
type Engine struct {
	adapter OutputAdapter
	store   reactive.Store
	logger  *slog.Logger
	tracer  trace.Tracer
	metrics *engineMetrics

	newTimer TimerFunc

	// root is a synthetic node owning the mount container handle.
	root      *node
	rootScope *scope.Scope

	dispatchCh chan func()
	renderCh   chan struct{}
	done       chan struct{}
	loopWG     sync.WaitGroup
	loopGID    atomic.Int64

	pendingMu sync.Mutex
	pendingSet map[uint64]*node

	mounted atomic.Bool
	closed  atomic.Bool
	failed  atomic.Bool

	// onCommit receives each committed batch's mutation list with its
	// sequence number. Used by transports.
	onCommit func(seq uint64, muts []Mutation)
	seq      atomic.Uint64

	stats engineStats
}

type engineStats struct {
	batches   atomic.Uint64
	commits   atomic.Uint64
	mutations atomic.Uint64
	nodes     atomic.Int64
}

// Stats is a point-in-time snapshot of engine counters.
type Stats struct {
	Batches   uint64
	Commits   uint64
	Mutations uint64
	LiveNodes int64
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the structured logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithMetrics enables Prometheus instrumentation on the given registerer.
func WithMetrics(reg metricsRegisterer) Option {
	return func(e *Engine) { e.metrics = newEngineMetrics(reg) }
}

// WithTracer sets the OpenTelemetry tracer used for batch/commit spans.
// Default: otel.Tracer("loom").
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) { e.tracer = tracer }
}

// WithTimerFunc replaces the suspense threshold timer source.
// Tests use this for deterministic racing.
func WithTimerFunc(fn TimerFunc) Option {
	return func(e *Engine) { e.newTimer = fn }
}

// WithCommitHook registers a function called after every commit with the
// batch sequence number and the ordered mutation list. Called on the
// scheduler goroutine; the hook must not block.
func WithCommitHook(fn func(seq uint64, muts []Mutation)) Option {
	return func(e *Engine) { e.onCommit = fn }
}

// New creates an engine over the given output adapter and reactive store.
func New(adapter OutputAdapter, store reactive.Store, opts ...Option) *Engine {
	e := &Engine{
		adapter:    adapter,
		store:      store,
		logger:     slog.Default(),
		tracer:     otel.Tracer("loom"),
		dispatchCh: make(chan func(), 256),
		renderCh:   make(chan struct{}, 1),
		done:       make(chan struct{}),
		pendingSet: make(map[uint64]*node),
		newTimer: func(d time.Duration, fn func()) StopTimer {
			t := time.AfterFunc(d, fn)
			return func() bool { return !t.Stop() }
		},
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "loom.engine")
	return e
}

// Mount builds the render tree for the declarative tree, commits it into
// the container handle, and starts the scheduler loop.
func (e *Engine) Mount(container Handle, tree *decl.Node) error {
	if e.closed.Load() {
		return ErrClosed
	}
	if e.mounted.Swap(true) {
		return ErrAlreadyMounted
	}

	e.rootScope = scope.New(nil)
	e.root = &node{
		id:            nodeIDCounter.Add(1),
		kind:          decl.KindElement,
		handle:        container,
		lifetimeScope: e.rootScope,
	}

	b := newBatch(e)
	child := e.reconcileNode(nil, tree, e.root, nil, false, b)
	if child != nil {
		e.root.setChildren([]*node{child})
	}
	e.commit(b)

	e.loopWG.Add(1)
	go e.loop()
	return nil
}

// Close stops the scheduler and closes the root lifetime scope, cancelling
// every subscription and background task the tree owns. Idempotent.
func (e *Engine) Close() {
	if e.closed.Swap(true) {
		return
	}
	close(e.done)
	e.loopWG.Wait()
	if e.rootScope != nil {
		e.rootScope.Close()
	}
}

// Stats returns a snapshot of engine counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Batches:   e.stats.batches.Load(),
		Commits:   e.stats.commits.Load(),
		Mutations: e.stats.mutations.Load(),
		LiveNodes: e.stats.nodes.Load(),
	}
}

// fatal handles an uncaught failure with no enclosing boundary. The render
// tree is terminal: the scheduler stops, no partial UI keeps mutating, and
// every lifetime scope closes so subscriptions and background sources do
// not outlive the tree. A later Close finds the engine already closed.
func (e *Engine) fatal(f fault.Failure) {
	e.failed.Store(true)
	e.logger.Error("uncaught failure at root, render tree is terminal",
		"kind", f.Kind.String(), "err", f.Err)
	if !e.closed.Swap(true) {
		close(e.done)
	}
	if e.rootScope != nil {
		e.rootScope.Close()
	}
}

// renderError converts a recovered panic from a component into a typed
// render failure.
func renderError(component string, r any) fault.Failure {
	return fault.Failure{
		Kind:      fault.KindRender,
		Err:       fault.FromPanic(r),
		Component: component,
	}
}

// propsEqual compares prop maps, ignoring event-handler entries (function
// values have no useful equality; listeners are updated through slots).
func propsEqual(a, b decl.Props) bool {
	if countNonEvent(a) != countNonEvent(b) {
		return false
	}
	for k, av := range a {
		if decl.IsEventProp(k) || k == "key" {
			continue
		}
		bv, ok := b[k]
		if !ok || !valueEqual(av, bv) {
			return false
		}
	}
	return true
}

func countNonEvent(p decl.Props) int {
	n := 0
	for k := range p {
		if !decl.IsEventProp(k) && k != "key" {
			n++
		}
	}
	return n
}

func valueEqual(a, b any) bool {
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case int:
		bv, ok := b.(int)
		return ok && av == bv
	case int64:
		bv, ok := b.(int64)
		return ok && av == bv
	case float64:
		bv, ok := b.(float64)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case nil:
		return b == nil
	}
	return reflect.DeepEqual(a, b)
}
