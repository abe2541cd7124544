package engine

import (
	"context"

	"github.com/loomui/loom/pkg/decl"
	"github.com/loomui/loom/pkg/fault"
	"github.com/loomui/loom/pkg/reactive"
	"github.com/loomui/loom/pkg/scope"
)

// reconcileNode walks one position of the render tree against its new
// declarative node. It returns the render node for the position: prev when
// it could be updated in place, a fresh node otherwise. Removed nodes are
// collected on the batch; no adapter call happens here — the work phase is
// pure computation.
func (e *Engine) reconcileNode(prev *node, d *decl.Node, parent *node, chain *channel, parked bool, b *batch) *node {
	if d == nil {
		if prev != nil {
			b.remove(prev)
		}
		return nil
	}

	if prev == nil || !prev.matches(d) {
		if prev != nil {
			b.remove(prev)
		}
		fresh := e.buildNode(d, parent, chain, parked, b)
		fresh.prevVersion = prev
		return fresh
	}

	// Same kind, same tag, same key: update in place.
	switch prev.kind {
	case decl.KindText:
		if prev.text != d.Text {
			prev.text = d.Text
			prev.pending = mutUpdate
		}

	case decl.KindElement:
		if !propsEqual(prev.committedProps, d.Props) {
			prev.pending = mutUpdate
		}
		prev.props = d.Props
		e.updateListeners(prev, d.Props, chain)
		e.reconcileChildren(prev, d.Children, chain, parked, b)

	case decl.KindFragment:
		e.reconcileChildren(prev, d.Children, chain, parked, b)

	case decl.KindComponent:
		prev.render = d.Render
		changed := !propsEqual(prev.props, d.Props)
		prev.props = d.Props
		if changed || prev.dirty.Swap(false) {
			e.executeComponent(prev, b, parked)
		}

	case decl.KindSuspense:
		prev.susp.childrenDecl = d.Children
		prev.susp.fallbackDecl = d.Fallback
		e.syncSuspense(prev, b)

	case decl.KindBoundary:
		prev.onFailure = d.OnFailure
		prev.declChildren = d.Children
		if !prev.bound.failed {
			e.reconcileChildren(prev, d.Children, prev.bound.ch, parked, b)
		}
		e.syncBoundary(prev, b)
	}

	return prev
}

// buildNode creates a fresh render-node subtree for a declarative node.
func (e *Engine) buildNode(d *decl.Node, parent *node, chain *channel, parked bool, b *batch) *node {
	n := newNode(d, parent.lifetimeScope, chain)
	n.parent = parent
	n.parked = parked
	e.stats.nodes.Add(1)

	switch d.Kind {
	case decl.KindText:
		// Nothing beyond the leaf itself.

	case decl.KindElement:
		e.updateListeners(n, d.Props, chain)
		e.buildChildren(n, d.Children, chain, parked, b)

	case decl.KindFragment:
		e.buildChildren(n, d.Children, chain, parked, b)

	case decl.KindComponent:
		e.executeComponent(n, b, parked)

	case decl.KindSuspense:
		e.buildSuspense(n, d, b)

	case decl.KindBoundary:
		n.onFailure = d.OnFailure
		n.declChildren = d.Children
		n.bound = &boundaryState{ch: newChannel(e, n, chain)}
		e.buildChildren(n, d.Children, n.bound.ch, parked, b)
		e.syncBoundary(n, b)
	}

	return n
}

// buildChildren builds a fresh child chain under n.
func (e *Engine) buildChildren(n *node, decls []*decl.Node, chain *channel, parked bool, b *batch) {
	kids := make([]*node, 0, len(decls))
	for _, d := range decls {
		if d == nil {
			continue
		}
		kids = append(kids, e.buildNode(d, n, chain, parked, b))
	}
	n.setChildren(kids)
}

// reconcileChildren diffs a node's committed children against the new
// declarative children. Keyed children match by key first; unkeyed runs
// fall back to positional matching. A matched child whose index moved is
// flagged for repositioning at commit; its render node, lifetime scope and
// subscriptions are reused, never recreated.
func (e *Engine) reconcileChildren(parent *node, next []*decl.Node, chain *channel, parked bool, b *batch) {
	prev := parent.children()

	keyed := false
	for _, c := range prev {
		if c.key != "" {
			keyed = true
			break
		}
	}
	if !keyed {
		for _, d := range next {
			if d != nil && d.EffectiveKey() != "" {
				keyed = true
				break
			}
		}
	}

	if keyed {
		e.reconcileKeyed(parent, prev, next, chain, parked, b)
		return
	}

	// Positional: walk both lists in lock-step.
	kids := make([]*node, 0, len(next))
	for i := 0; i < len(prev) || i < len(next); i++ {
		var p *node
		var d *decl.Node
		if i < len(prev) {
			p = prev[i]
		}
		if i < len(next) {
			d = next[i]
		}
		if child := e.reconcileNode(p, d, parent, chain, parked, b); child != nil {
			kids = append(kids, child)
		}
	}
	parent.setChildren(kids)
}

// reconcileKeyed matches children by key, falling back to position for
// unkeyed entries.
func (e *Engine) reconcileKeyed(parent *node, prev []*node, next []*decl.Node, chain *channel, parked bool, b *batch) {
	prevByKey := make(map[string]*node)
	prevIndex := make(map[*node]int)
	for i, c := range prev {
		prevIndex[c] = i
		if c.key != "" {
			prevByKey[c.key] = c
		}
	}

	used := make(map[*node]bool)
	kids := make([]*node, 0, len(next))

	for i, d := range next {
		if d == nil {
			continue
		}
		var match *node
		if key := d.EffectiveKey(); key != "" {
			match = prevByKey[key]
		} else if i < len(prev) && prev[i].key == "" && !used[prev[i]] {
			match = prev[i]
		}
		if match != nil {
			used[match] = true
		}

		child := e.reconcileNode(match, d, parent, chain, parked, b)
		if child == match && match != nil && prevIndex[match] != i {
			child.pendingMove = true
		}
		if child != nil {
			kids = append(kids, child)
		}
	}

	for _, c := range prev {
		if !used[c] {
			b.remove(c)
		}
	}

	parent.setChildren(kids)
}

// renderCtx is the render context handed to a component execution.
// It implements decl.RenderContext.
type renderCtx struct {
	node     *node
	recorder *reactive.Recorder
	runScope *scope.Scope
}

func (rc *renderCtx) Get(cell string) any {
	return rc.recorder.Get(cell)
}

func (rc *renderCtx) Props() decl.Props {
	return rc.node.props
}

func (rc *renderCtx) OnCleanup(fn func()) {
	rc.runScope.OnCleanup(fn)
}

func (rc *renderCtx) Mounted() <-chan struct{} {
	return rc.node.mountedCh
}

// executeComponent runs a component node's render function, replaces its
// subscriptions from the recorded cell set, and reconciles its output into
// the child position. The node's runScope is closed first, so finalizers
// from the previous execution (old subscriptions, user cleanups) run before
// the new ones are registered.
//
// A panic during execution is recovered here and reported to the nearest
// boundary channel; sibling subtrees keep processing.
func (e *Engine) executeComponent(n *node, b *batch, parked bool) {
	if n.runScope != nil {
		n.runScope.Close()
	}
	n.runScope = scope.New(n.lifetimeScope)

	recorder := reactive.NewRecorder(e.store)
	rc := &renderCtx{node: n, recorder: recorder, runScope: n.runScope}

	out, ok := e.invokeRender(n, rc)

	// Subscriptions are fully replaced on every execution, even when the
	// observed set did not change. The old ones died with the runScope.
	n.observed = recorder.Cells()
	for _, cell := range n.observed {
		target := n
		unsub := e.store.Subscribe(cell, func() { e.scheduleNode(target) })
		n.runScope.OnCleanup(unsub)
	}

	if !ok {
		// Failure already reported; the boundary will replace this
		// subtree. Drop the children of the failed execution.
		if n.firstChild != nil {
			for _, c := range n.children() {
				b.remove(c)
			}
			n.setChildren(nil)
		}
		return
	}

	var content *decl.Node
	switch v := out.(type) {
	case *decl.Node:
		e.stopSource(n)
		n.latestOutput = v
		content = v
	case *decl.AsyncSource:
		if n.source != nil && propsEqual(n.sourceProps, n.props) {
			// Unchanged props: keep the running source and its cached
			// output instead of re-invoking it.
			content = n.latestOutput
		} else {
			e.stopSource(n)
			n.latestOutput = nil
			e.startSource(n, v)
			content = nil
		}
	case nil:
		e.stopSource(n)
		n.latestOutput = nil
	}

	child := e.reconcileNode(n.firstChild, content, n, n.chain, parked, b)
	if child != nil {
		n.setChildren([]*node{child})
	} else {
		n.setChildren(nil)
	}
}

// invokeRender calls the component function with panic recovery.
func (e *Engine) invokeRender(n *node, rc *renderCtx) (out decl.Output, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			f := renderError(n.name, r)
			e.logger.Warn("component render failed",
				"component", n.name, "err", f.Err)
			e.report(n.chain, f)
			out, ok = nil, false
		}
	}()
	if n.render == nil {
		return nil, true
	}
	return n.render(rc), true
}

// startSource launches an async source on a background goroutine owned by
// the node's lifetime scope. Values and failures are funneled back to the
// scheduler goroutine; the source never touches the render tree directly.
func (e *Engine) startSource(n *node, src *decl.AsyncSource) {
	ctx, cancel := context.WithCancel(context.Background())
	n.source = src
	n.sourceCancel = cancel
	n.sourceProps = n.props
	n.sourceFirst = false
	n.lifetimeScope.OnCleanup(func() { cancel() })

	go src.Run(ctx,
		func(v *decl.Node) {
			e.dispatch(func() { e.sourceEmit(n, v) })
		},
		func(err error) {
			e.dispatch(func() { e.sourceFail(n, err) })
		})
}

// stopSource cancels a node's running source, if any.
func (e *Engine) stopSource(n *node) {
	if n.sourceCancel != nil {
		n.sourceCancel()
	}
	n.source = nil
	n.sourceCancel = nil
	n.sourceFirst = false
}

// sourceEmit handles a value from an async source. Runs on the scheduler
// goroutine.
func (e *Engine) sourceEmit(n *node, v *decl.Node) {
	if !n.alive() {
		return
	}
	first := !n.sourceFirst
	n.sourceFirst = true
	n.latestOutput = v
	if first && n.waiter != nil {
		e.suspenseChildReady(n.waiter, n)
	}
	e.scheduleNode(n)
}

// sourceFail handles a failure from an async source, tagged with whether
// the source had already produced a value. Runs on the scheduler goroutine.
func (e *Engine) sourceFail(n *node, err error) {
	if !n.alive() {
		return
	}
	phase := fault.PhaseBeforeFirst
	if n.sourceFirst {
		phase = fault.PhaseAfterFirst
	}
	e.report(n.chain, fault.Failure{Kind: fault.KindAsync, Err: err, Phase: phase})
}
