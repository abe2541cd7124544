package decl

import "context"

// ReadTracker is the recording store-access surface handed to a component
// while it renders. Reads through Get are recorded as the component's
// observed cells; the engine re-renders the component when any of them
// change. This is an explicit recording interface rather than runtime
// interception: only reads made through the render context are tracked.
type ReadTracker interface {
	// Get returns the current value of a reactive cell and records the
	// read.
	Get(cell string) any
}

// RenderContext is what a component receives when it executes. It provides
// tracked store access, the node's props, and lifecycle registration against
// the node's lifetime scope.
type RenderContext interface {
	ReadTracker

	// Props returns the props the declarative tree supplied for this
	// component position.
	Props() Props

	// OnCleanup registers a finalizer against the component's lifetime
	// scope. Finalizers run most-recently-registered first when the node
	// is removed or re-executes.
	OnCleanup(fn func())

	// Mounted returns a channel that is closed after the first commit that
	// attaches this component's output. Background tasks can wait on it to
	// run logic only once the output is live.
	Mounted() <-chan struct{}
}

// Output is what a component execution produces: either a *Node or an
// *AsyncSource.
type Output interface {
	declOutput()
}

func (n *Node) declOutput() {}

// RenderFunc is the component contract: a function from the render context
// (props + tracked store access) to declarative output.
type RenderFunc func(rc RenderContext) Output

// AsyncSource is a declarative output whose value arrives asynchronously:
// either a single deferred node or a multi-value stream. The engine
// normalizes both into "first value, then subsequent values" — the first
// value satisfies an enclosing suspense boundary, subsequent values
// invalidate the node for re-render.
type AsyncSource struct {
	run func(ctx context.Context, emit func(*Node), fail func(error))
}

func (s *AsyncSource) declOutput() {}

// Run starts the source. emit delivers values, fail reports a terminal
// error. Run returns when the source is done or ctx is cancelled; the
// engine cancels ctx when the owning node is discarded.
func (s *AsyncSource) Run(ctx context.Context, emit func(*Node), fail func(error)) {
	s.run(ctx, emit, fail)
}

// Defer wraps a single deferred computation as an async source.
// fn runs on a background goroutine owned by the node's lifetime scope.
func Defer(fn func(ctx context.Context) (*Node, error)) *AsyncSource {
	return &AsyncSource{
		run: func(ctx context.Context, emit func(*Node), fail func(error)) {
			node, err := fn(ctx)
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				fail(err)
				return
			}
			emit(node)
		},
	}
}

// Stream wraps a multi-value computation as an async source. fn may call
// emit any number of times; returning a non-nil error reports a failure.
func Stream(fn func(ctx context.Context, emit func(*Node)) error) *AsyncSource {
	return &AsyncSource{
		run: func(ctx context.Context, emit func(*Node), fail func(error)) {
			if err := fn(ctx, emit); err != nil && ctx.Err() == nil {
				fail(err)
			}
		},
	}
}
