package engine

import (
	"context"
	"sort"
	"time"

	"github.com/loomui/loom/pkg/decl"
	"github.com/petermattis/goid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// loop is the scheduler goroutine: the only goroutine that touches the
// render tree after Mount. Store subscriptions, async sources, timers and
// interaction callbacks all funnel their work here.
func (e *Engine) loop() {
	defer e.loopWG.Done()
	e.loopGID.Store(goid.Get())
	for {
		select {
		case <-e.done:
			return
		case fn := <-e.dispatchCh:
			fn()
		case <-e.renderCh:
			e.runBatch()
		}
	}
}

// dispatch queues fn for the scheduler goroutine. Safe from any goroutine;
// a closed engine drops the work.
func (e *Engine) dispatch(fn func()) {
	select {
	case e.dispatchCh <- fn:
	case <-e.done:
	}
}

// Dispatch queues fn onto the scheduler goroutine, where it may touch the
// reactive store and interact with the tree's components safely.
func (e *Engine) Dispatch(fn func()) error {
	if e.closed.Load() {
		return ErrClosed
	}
	e.dispatch(fn)
	return nil
}

// do runs fn on the scheduler goroutine and waits for its result.
func (e *Engine) do(fn func() error) error {
	if e.failed.Load() {
		return ErrTreeFailed
	}
	if e.closed.Load() {
		return ErrClosed
	}
	errCh := make(chan error, 1)
	select {
	case e.dispatchCh <- func() { errCh <- fn() }:
	case <-e.done:
		return ErrClosed
	}
	select {
	case err := <-errCh:
		return err
	case <-e.done:
		return ErrClosed
	}
}

// Update reconciles a new declarative tree against the mounted one and
// commits the difference. Blocks until the commit is applied.
func (e *Engine) Update(tree *decl.Node) error {
	if !e.mounted.Load() {
		return ErrClosed
	}
	return e.do(func() error {
		b := newBatch(e)
		child := e.reconcileNode(e.root.firstChild, tree, e.root, nil, false, b)
		if child != nil {
			e.root.setChildren([]*node{child})
		} else {
			e.root.setChildren(nil)
		}
		e.commit(b)
		return nil
	})
}

// Flush drains pending invalidations through one batch and returns once the
// resulting commit is applied. Transports and tests use it to observe a
// settled tree.
func (e *Engine) Flush() error {
	return e.do(func() error {
		e.runBatch()
		return nil
	})
}

// scheduleNode marks a node dirty and nudges the scheduler. Safe from any
// goroutine: store notifications arrive on the setter's goroutine. A node
// already marked dirty is not queued twice.
func (e *Engine) scheduleNode(n *node) {
	if e.failed.Load() || !n.alive() {
		return
	}
	if !n.dirty.CompareAndSwap(false, true) {
		return
	}
	e.pendingMu.Lock()
	e.pendingSet[n.id] = n
	e.pendingMu.Unlock()
	select {
	case e.renderCh <- struct{}{}:
	default:
	}
}

// runBatch processes one batch: it snapshots the dirty set, re-renders the
// dirty nodes parents-first, and applies one commit for all of them.
// Invalidations arriving while the batch runs land in the next batch.
func (e *Engine) runBatch() {
	if e.failed.Load() {
		return
	}

	e.pendingMu.Lock()
	pending := e.pendingSet
	e.pendingSet = make(map[uint64]*node)
	e.pendingMu.Unlock()
	if len(pending) == 0 {
		return
	}

	start := time.Now()
	_, span := e.tracer.Start(context.Background(), "loom.batch",
		trace.WithAttributes(attribute.Int("loom.dirty_nodes", len(pending))))
	defer span.End()

	nodes := make([]*node, 0, len(pending))
	for _, n := range pending {
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].depth() < nodes[j].depth() })

	b := newBatch(e)
	for _, n := range nodes {
		if !n.alive() {
			n.dirty.Store(false)
			continue
		}
		// A dirty ancestor's re-render already consumed this node's flag.
		if !n.dirty.Swap(false) {
			continue
		}
		e.processDirty(n, b)
	}
	e.commit(b)

	e.stats.batches.Add(1)
	e.metrics.observeBatch(time.Since(start).Seconds())
	span.SetAttributes(attribute.Int("loom.mutations", len(b.muts)))
}

// processDirty re-renders one dirty node in place.
func (e *Engine) processDirty(n *node, b *batch) {
	switch n.kind {
	case decl.KindComponent:
		e.executeComponent(n, b, n.inParkedSubtree())
	case decl.KindSuspense:
		e.syncSuspense(n, b)
	case decl.KindBoundary:
		e.syncBoundary(n, b)
	}
}

// assertLoop panics when tree-owning code runs off the scheduler goroutine.
// Before the loop starts (mount, hydrate) any goroutine may own the tree.
func (e *Engine) assertLoop() {
	if gid := e.loopGID.Load(); gid != 0 && gid != goid.Get() {
		panic("loom: render tree accessed off the scheduler goroutine")
	}
}
