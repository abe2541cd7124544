package engine

import (
	"sync/atomic"

	"github.com/loomui/loom/pkg/decl"
	"github.com/loomui/loom/pkg/fault"
)

// channelIDCounter is the source of unique channel identifiers.
var channelIDCounter atomic.Uint64

// channel is the per-boundary failure sink. It is single-shot: the first
// failure delivered transitions the boundary to its fallback; later
// failures (including failures while rendering the fallback itself)
// propagate to the next-outer channel. A nil channel means "no boundary in
// scope": render and async failures are then terminal for the tree.
type channel struct {
	id     uint64
	engine *Engine
	node   *node // owning boundary node
	parent *channel
}

// boundaryState tracks a boundary node's transition.
type boundaryState struct {
	ch      *channel
	failed  bool
	failure fault.Failure
	showing bool // fallback subtree is in place
}

func newChannel(e *Engine, n *node, parent *channel) *channel {
	return &channel{
		id:     channelIDCounter.Add(1),
		engine: e,
		node:   n,
		parent: parent,
	}
}

// report delivers a failure to the nearest live channel. Must run on the
// scheduler goroutine; async reporters go through Engine.dispatch first.
// With no channel in scope the failure is terminal for the render tree.
func (e *Engine) report(c *channel, f fault.Failure) {
	if !e.deliver(c, f) {
		e.fatal(f)
	}
}

// deliver walks the channel chain and hands the failure to the first live,
// unfailed boundary. Reports whether a boundary accepted it.
func (e *Engine) deliver(c *channel, f fault.Failure) bool {
	for ; c != nil; c = c.parent {
		if !c.node.alive() {
			continue
		}
		if c.node.bound.failed {
			// Single-shot: this boundary already consumed a failure.
			// The new one belongs to the next boundary out.
			continue
		}
		c.node.bound.failed = true
		c.node.bound.failure = f
		e.metrics.observeRecovered(f.Kind.String())
		e.scheduleNode(c.node)
		return true
	}
	return false
}

// syncBoundary applies a delivered failure to the boundary node: the failed
// subtree is discarded (scopes closed, descendants destroyed) and the
// author's fallback is rendered in its place. Failures inside the fallback
// itself propagate to the next-outer channel, which is why the fallback
// subtree is built against n.chain rather than the boundary's own channel.
func (e *Engine) syncBoundary(n *node, b *batch) {
	bound := n.bound
	if !bound.failed || bound.showing {
		return
	}

	for _, c := range n.children() {
		b.remove(c)
	}
	n.setChildren(nil)
	bound.showing = true

	e.logger.Warn("boundary recovered failure",
		"kind", bound.failure.Kind.String(), "err", bound.failure.Err)

	fb := e.invokeFallback(n)
	if fb == nil {
		return
	}
	parked := n.inParkedSubtree()
	child := e.buildNode(fb, n, n.chain, parked, b)
	n.setChildren([]*node{child})
}

// invokeFallback calls the boundary's failure callback with panic recovery.
// A panicking fallback is itself a render failure for the outer channel.
func (e *Engine) invokeFallback(n *node) (d *decl.Node) {
	defer func() {
		if r := recover(); r != nil {
			e.report(n.chain, renderError(n.name, r))
			d = nil
		}
	}()
	if n.onFailure == nil {
		return nil
	}
	return n.onFailure(n.bound.failure)
}
