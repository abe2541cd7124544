package engine

import (
	"sort"

	"github.com/loomui/loom/pkg/decl"
)

// batch collects the outcome of one work phase: subtrees to destroy and,
// implicitly through the pending flags on the tree, the nodes to create or
// update. Commit consumes it in one pass; a failed work step never reaches
// the adapter because its batch is simply not committed for that subtree.
type batch struct {
	engine  *Engine
	removed []*node
	mounted []*node
	muts    []Mutation

	// orphans are prerendered handles hydration did not claim. They leave
	// the output at commit, so an aborted hydration never touches it.
	orphans []Handle
}

func newBatch(e *Engine) *batch {
	return &batch{engine: e}
}

// remove marks a subtree for destruction at commit. The subtree is already
// detached from its parent's child chain by the caller.
func (b *batch) remove(n *node) {
	n.pending = mutDelete
	b.removed = append(b.removed, n)
}

func (b *batch) record(m Mutation) {
	b.muts = append(b.muts, m)
}

// commit applies one batch to the output tree: removals first, then a
// preorder walk emitting creations, property updates and repositions.
// Parked subtrees are skipped entirely. Runs on the scheduler goroutine
// (or the mounting goroutine, before the loop starts).
func (e *Engine) commit(b *batch) {
	e.assertLoop()
	if e.failed.Load() {
		// A terminal tree stops mutating; the in-flight batch is dropped.
		return
	}
	for _, h := range b.orphans {
		e.adapter.Remove(h)
		b.record(Mutation{Op: OpRemove, Handle: h})
	}
	for _, n := range b.removed {
		e.commitRemove(b, n)
	}
	for c := e.root.firstChild; c != nil; c = c.nextSibling {
		e.commitNode(b, c)
	}
	for _, n := range b.mounted {
		n.signalMounted()
	}

	if len(b.muts) > 0 {
		seq := e.seq.Add(1)
		e.stats.commits.Add(1)
		e.stats.mutations.Add(uint64(len(b.muts)))
		e.metrics.observeCommit(b.muts)
		if e.onCommit != nil {
			e.onCommit(seq, b.muts)
		}
	}
}

// commitRemove destroys a removed subtree: its lifetime scope closes first
// (subscriptions, sources, user cleanups, deepest-first), then the subtree's
// top-level handles leave the output tree. Descendant handles go with them.
func (e *Engine) commitRemove(b *batch, n *node) {
	if !n.alive() {
		// An enclosing removal already destroyed this subtree.
		return
	}
	n.lifetimeScope.Close()
	e.stats.nodes.Add(-int64(countNodes(n)))
	e.removeHandles(b, n)
}

func (e *Engine) removeHandles(b *batch, n *node) {
	if n.handle != nil {
		e.adapter.Remove(n.handle)
		b.record(Mutation{Op: OpRemove, Handle: n.handle})
		n.handle = nil
		return
	}
	for c := n.firstChild; c != nil; c = c.nextSibling {
		e.removeHandles(b, c)
	}
}

// commitNode applies one node's pending mutation and recurses. A nil handle
// on an element or text node means the node has never been committed; that
// covers both fresh nodes and parked subtrees being attached for the first
// time.
func (e *Engine) commitNode(b *batch, n *node) {
	if n.parked {
		return
	}

	switch n.kind {
	case decl.KindText:
		if n.handle == nil {
			e.createText(b, n)
		} else if n.pending == mutUpdate {
			e.adapter.SetProperty(n.handle, "text", n.text)
			b.record(Mutation{Op: OpSetProp, Handle: n.handle, Name: "text", Value: n.text})
			n.committedText = n.text
		}

	case decl.KindElement:
		if n.handle == nil {
			e.createElement(b, n)
		} else {
			if n.pending == mutUpdate {
				e.updateProps(b, n)
			}
			e.attachNewListeners(b, n)
		}

	case decl.KindComponent:
		if n.pending == mutInsert {
			b.mounted = append(b.mounted, n)
		}
	}

	if n.pendingMove && n.pending != mutInsert {
		e.moveHandles(b, n, nextOutputHandle(n))
	}

	n.pending = mutNone
	n.pendingMove = false
	n.prevVersion = nil

	for c := n.firstChild; c != nil; c = c.nextSibling {
		e.commitNode(b, c)
	}
}

func (e *Engine) createText(b *batch, n *node) {
	h := e.adapter.CreateNode("#text")
	n.handle = h
	b.record(Mutation{Op: OpCreate, Handle: h, Kind: "#text"})

	e.adapter.SetProperty(h, "text", n.text)
	b.record(Mutation{Op: OpSetProp, Handle: h, Name: "text", Value: n.text})
	n.committedText = n.text

	e.insertHandle(b, n, h)
}

func (e *Engine) createElement(b *batch, n *node) {
	h := e.adapter.CreateNode(n.tag)
	n.handle = h
	b.record(Mutation{Op: OpCreate, Handle: h, Kind: n.tag})

	committed := make(decl.Props, len(n.props))
	for _, name := range sortedPropNames(n.props) {
		v := n.props[name]
		if v == nil {
			continue
		}
		e.adapter.SetProperty(h, name, v)
		b.record(Mutation{Op: OpSetProp, Handle: h, Name: name, Value: v})
		committed[name] = v
	}
	n.committedProps = committed

	e.attachNewListeners(b, n)
	e.insertHandle(b, n, h)
}

func (e *Engine) insertHandle(b *batch, n *node, h Handle) {
	owner := n.ownerHandle()
	before := nextOutputHandle(n)
	e.adapter.Insert(owner, h, before)
	b.record(Mutation{Op: OpInsert, Handle: h, Parent: owner, Before: before})
}

// updateProps diffs the committed props against the latest declarative
// props, emitting only the changed entries. A prop present before and gone
// now is cleared with a nil value.
func (e *Engine) updateProps(b *batch, n *node) {
	for _, name := range sortedPropNames(n.props) {
		v := n.props[name]
		if v == nil {
			continue
		}
		if old, ok := n.committedProps[name]; ok && valueEqual(old, v) {
			continue
		}
		e.adapter.SetProperty(n.handle, name, v)
		b.record(Mutation{Op: OpSetProp, Handle: n.handle, Name: name, Value: v})
	}
	for _, name := range sortedPropNames(n.committedProps) {
		if v, ok := n.props[name]; ok && v != nil {
			continue
		}
		e.adapter.SetProperty(n.handle, name, nil)
		b.record(Mutation{Op: OpSetProp, Handle: n.handle, Name: name, Value: nil})
	}

	committed := make(decl.Props, len(n.props))
	for name, v := range n.props {
		if decl.IsEventProp(name) || name == "key" || v == nil {
			continue
		}
		committed[name] = v
	}
	n.committedProps = committed
}

// attachNewListeners attaches any listener slot not yet wired to the
// adapter. Slots already attached keep their stable callback; handler
// updates happen inside the slot without an adapter call.
func (e *Engine) attachNewListeners(b *batch, n *node) {
	if len(n.listeners) == 0 {
		return
	}
	events := make([]string, 0, len(n.listeners))
	for ev, slot := range n.listeners {
		if !slot.attached {
			events = append(events, ev)
		}
	}
	sort.Strings(events)
	for _, ev := range events {
		slot := n.listeners[ev]
		slot.attached = true
		e.adapter.AttachListener(n.handle, ev, slot.invoke)
		b.record(Mutation{Op: OpListen, Handle: n.handle, Name: ev})
	}
}

// moveHandles repositions a subtree's top-level handles in front of the
// given sibling handle. Handle-less nodes reposition whatever handles their
// descendants own.
func (e *Engine) moveHandles(b *batch, n *node, before Handle) {
	if n.handle != nil {
		owner := n.ownerHandle()
		e.adapter.Insert(owner, n.handle, before)
		b.record(Mutation{Op: OpInsert, Handle: n.handle, Parent: owner, Before: before})
		return
	}
	for c := n.firstChild; c != nil; c = c.nextSibling {
		if c.parked {
			continue
		}
		e.moveHandles(b, c, before)
	}
}

// nextOutputHandle finds the committed handle immediately after n's subtree
// within the same owner handle, for ordered insertion. It scans following
// siblings, climbing through handle-less ancestors, and stops at the first
// ancestor that owns a handle.
func nextOutputHandle(n *node) Handle {
	cur := n
	for {
		for s := cur.nextSibling; s != nil; s = s.nextSibling {
			if h := firstHandleIn(s); h != nil {
				return h
			}
		}
		p := cur.parent
		if p == nil || p.handle != nil {
			return nil
		}
		cur = p
	}
}

// firstHandleIn returns the first committed handle inside a subtree, in
// output order. Parked subtrees own no committed output, and a subtree
// still flagged for repositioning sits at a stale spot; neither can anchor
// an insert. Skipping unsettled siblings makes every anchor a node that
// keeps its place, so inserts and moves processed in child order land in
// the declared order.
func firstHandleIn(n *node) Handle {
	if n.parked || n.pendingMove {
		return nil
	}
	if n.handle != nil {
		return n.handle
	}
	for c := n.firstChild; c != nil; c = c.nextSibling {
		if h := firstHandleIn(c); h != nil {
			return h
		}
	}
	return nil
}

func countNodes(n *node) int {
	total := 1
	for c := n.firstChild; c != nil; c = c.nextSibling {
		total += countNodes(c)
	}
	if n.susp != nil {
		for _, c := range n.susp.content {
			total += countNodes(c)
		}
	}
	return total
}

func sortedPropNames(p decl.Props) []string {
	names := make([]string, 0, len(p))
	for name := range p {
		if decl.IsEventProp(name) || name == "key" {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
