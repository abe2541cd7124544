package engine

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/loomui/loom/pkg/decl"
	"github.com/loomui/loom/pkg/fault"
	"github.com/loomui/loom/pkg/scope"
)

// mutation is the per-node pending mutation decided during the work phase
// and consumed by the commit phase.
type mutation uint8

const (
	mutNone mutation = iota
	mutUpdate
	mutInsert
	mutDelete
)

// nodeIDCounter is the source of unique render node IDs.
var nodeIDCounter atomic.Uint64

// node is one position of the persistent render tree. It mirrors one
// declarative-tree position and owns the diff/commit metadata for it.
type node struct {
	id   uint64
	kind decl.Kind

	// Position identity. Fixed once created: a kind or tag change at the
	// same position forces delete + recreate.
	tag  string
	key  string
	name string // component name, for failure reports

	// Committed output state. handle is owned exclusively by this node;
	// committedProps/committedText mirror what the adapter last saw.
	handle         Handle
	committedProps decl.Props
	committedText  string

	// Declarative state from the latest work phase.
	props decl.Props
	text  string

	// Tree links. children are chained via firstChild/nextSibling.
	parent      *node
	firstChild  *node
	nextSibling *node

	// prevVersion links a replacement node to the node it replaces at the
	// same position. Set during diff, cleared after commit.
	prevVersion *node

	// pending is consumed and cleared by the commit phase.
	pending     mutation
	pendingMove bool

	// lifetimeScope owns everything tied to this node's lifetime: the
	// per-execution runScope, descendant node scopes, and background-task
	// cancels. Closing it destroys the subtree's resources deepest-first.
	lifetimeScope *scope.Scope

	// runScope holds the finalizers of the node's current execution
	// (subscription teardowns, user cleanups). It is closed and replaced
	// every time a component re-executes.
	runScope *scope.Scope

	// Component state.
	render       decl.RenderFunc
	observed     []string   // cells read during the last execution
	latestOutput *decl.Node // cached output of the last successful execution
	dirty        atomic.Bool

	// Async source state. The running source survives re-executions with
	// unchanged props; its cancel is registered on lifetimeScope.
	source       *decl.AsyncSource
	sourceCancel context.CancelFunc
	sourceProps  decl.Props
	sourceFirst  bool // produced at least one value

	// parked marks a suspense content subtree that keeps executing in the
	// background, detached from the committed output tree.
	parked bool

	// Mounted signal: closed after the first commit that attaches this
	// node's output.
	mountedCh   chan struct{}
	mountedOnce sync.Once

	// chain is the nearest error channel in scope at this position.
	chain *channel

	// listeners maps event name to its stable adapter callback slot.
	listeners map[string]*listenerSlot

	// waiter is the suspense boundary waiting on this node's first async
	// value, if any.
	waiter *node

	susp *suspenseState

	// Boundary state.
	onFailure    func(fault.Failure) *decl.Node
	declChildren []*decl.Node
	bound        *boundaryState
}

// newNode creates a render node for a declarative node, with its lifetime
// scope parented under parentScope.
func newNode(d *decl.Node, parentScope *scope.Scope, chain *channel) *node {
	n := &node{
		id:            nodeIDCounter.Add(1),
		kind:          d.Kind,
		tag:           d.Tag,
		key:           d.EffectiveKey(),
		name:          d.Name,
		props:         d.Props,
		text:          d.Text,
		render:        d.Render,
		chain:         chain,
		lifetimeScope: scope.New(parentScope),
		pending:       mutInsert,
	}
	if d.Kind == decl.KindComponent {
		n.mountedCh = make(chan struct{})
	}
	return n
}

// matches reports whether the existing node can be updated in place for the
// given declarative node: same kind, same tag, same key. Anything else is
// delete + recreate, never an in-place kind change.
func (n *node) matches(d *decl.Node) bool {
	return n.kind == d.Kind && n.tag == d.Tag && n.key == d.EffectiveKey()
}

// children returns the child chain as a slice.
func (n *node) children() []*node {
	var out []*node
	for c := n.firstChild; c != nil; c = c.nextSibling {
		out = append(out, c)
	}
	return out
}

// setChildren replaces the child chain.
func (n *node) setChildren(kids []*node) {
	n.firstChild = nil
	var prev *node
	for _, c := range kids {
		c.parent = n
		c.nextSibling = nil
		if prev == nil {
			n.firstChild = c
		} else {
			prev.nextSibling = c
		}
		prev = c
	}
}

// depth returns the node's distance from the root, used to process dirty
// parents before dirty descendants within a batch.
func (n *node) depth() int {
	d := 0
	for p := n.parent; p != nil; p = p.parent {
		d++
	}
	return d
}

// alive reports whether the node is still part of the render tree.
func (n *node) alive() bool {
	return n.lifetimeScope != nil && !n.lifetimeScope.IsClosed()
}

// inParkedSubtree reports whether the node or any ancestor is parked.
func (n *node) inParkedSubtree() bool {
	for p := n; p != nil; p = p.parent {
		if p.parked {
			return true
		}
	}
	return false
}

// ownerHandle walks up to the nearest ancestor that owns an output handle.
// Components, fragments, suspense and boundary nodes have no handle of
// their own; their output lives on descendants.
func (n *node) ownerHandle() Handle {
	for p := n.parent; p != nil; p = p.parent {
		if p.handle != nil {
			return p.handle
		}
	}
	return nil
}

// signalMounted closes the mounted channel. Idempotent.
func (n *node) signalMounted() {
	if n.mountedCh == nil {
		return
	}
	n.mountedOnce.Do(func() { close(n.mountedCh) })
}
