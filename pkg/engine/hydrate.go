package engine

import (
	"fmt"
	"strings"

	"github.com/loomui/loom/pkg/decl"
	"github.com/loomui/loom/pkg/reactive"
	"github.com/loomui/loom/pkg/scope"
)

// HydrationKind discriminates prerendered source nodes.
type HydrationKind uint8

const (
	HydrationElement HydrationKind = iota
	HydrationText
	HydrationMarker
)

// MarkerKind identifies suspense segment markers in prerendered output.
// A resolved segment holds content the prerenderer awaited; a fallback
// segment holds the fallback it emitted when the threshold expired first.
type MarkerKind uint8

const (
	MarkerNone MarkerKind = iota
	MarkerResolvedStart
	MarkerResolvedEnd
	MarkerFallbackStart
	MarkerFallbackEnd
)

// HydrationNode is one node of a prerendered output tree. Hydration walks it
// in lock-step with the declarative tree, binding existing handles instead
// of creating nodes.
type HydrationNode interface {
	HydrationKind() HydrationKind
	Tag() string   // for HydrationElement
	Text() string  // for HydrationText
	Marker() MarkerKind
	Children() []HydrationNode
	Handle() Handle
}

// StructuralError reports a mismatch between the declarative tree and the
// prerendered output. Hydration is all-or-nothing: on mismatch the engine
// aborts and leaves the prerendered output untouched.
type StructuralError struct {
	Path     string // e.g. "div[0]/ul[2]/li[1]"
	Expected string
	Actual   string
}

func (e *StructuralError) Error() string {
	return fmt.Sprintf("loom: hydration mismatch at %s: expected %s, found %s",
		e.Path, e.Expected, e.Actual)
}

// hydrateCursor walks one prerendered child list. Whitespace-only text
// nodes (prerenderer formatting) are skipped transparently.
type hydrateCursor struct {
	items []HydrationNode
	pos   int
}

func (c *hydrateCursor) skipWhitespace() {
	for c.pos < len(c.items) {
		it := c.items[c.pos]
		if it.HydrationKind() == HydrationText && strings.TrimSpace(it.Text()) == "" {
			c.pos++
			continue
		}
		return
	}
}

func (c *hydrateCursor) peek() HydrationNode {
	c.skipWhitespace()
	if c.pos >= len(c.items) {
		return nil
	}
	return c.items[c.pos]
}

func (c *hydrateCursor) next() HydrationNode {
	it := c.peek()
	if it != nil {
		c.pos++
	}
	return it
}

// segment consumes items up to the matching end marker, nesting-aware.
// The cursor must already be past the start marker.
func (c *hydrateCursor) segment(start, end MarkerKind, path string) ([]HydrationNode, error) {
	depth := 1
	var seg []HydrationNode
	for c.pos < len(c.items) {
		it := c.items[c.pos]
		c.pos++
		if it.HydrationKind() == HydrationMarker {
			switch it.Marker() {
			case start:
				depth++
			case end:
				depth--
				if depth == 0 {
					return seg, nil
				}
			}
		}
		seg = append(seg, it)
	}
	return nil, &StructuralError{
		Path:     path,
		Expected: "closing suspense marker",
		Actual:   "end of children",
	}
}

func describeHydration(h HydrationNode) string {
	if h == nil {
		return "end of children"
	}
	switch h.HydrationKind() {
	case HydrationElement:
		return "<" + h.Tag() + ">"
	case HydrationText:
		return fmt.Sprintf("text %q", h.Text())
	case HydrationMarker:
		return "suspense marker"
	default:
		return "unknown node"
	}
}

func childPath(parent string, d *decl.Node, i int) string {
	seg := fmt.Sprintf("%s[%d]", d.Tag, i)
	if d.Kind == decl.KindText {
		seg = fmt.Sprintf("#text[%d]", i)
	}
	if parent == "" {
		return seg
	}
	return parent + "/" + seg
}

// Hydrate binds the declarative tree to a prerendered output tree instead of
// creating one. Existing handles are adopted, listener slots are attached,
// and text that drifted from the declarative value is corrected; no nodes
// are created for structure the prerenderer already emitted. On structural
// mismatch hydration aborts with a *StructuralError and releases everything
// it built.
func (e *Engine) Hydrate(source HydrationNode, tree *decl.Node) error {
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
		handle:        source.Handle(),
		lifetimeScope: e.rootScope,
	}

	b := newBatch(e)
	cur := &hydrateCursor{items: source.Children()}
	child, err := e.hydrateNode(tree, e.root, nil, cur, "", 0, b)
	if err == nil {
		if extra := cur.peek(); extra != nil {
			err = &StructuralError{
				Path:     "",
				Expected: "end of children",
				Actual:   describeHydration(extra),
			}
		}
	}
	if err != nil {
		e.metrics.observeHydrationMismatch()
		e.logger.Error("hydration aborted", "err", err)
		e.rootScope.Close()
		e.rootScope = nil
		e.root = nil
		e.mounted.Store(false)
		return err
	}

	if child != nil {
		e.root.setChildren([]*node{child})
	}
	e.commit(b)

	e.loopWG.Add(1)
	go e.loop()
	return nil
}

// hydrateNode builds the render node for one declarative position, bound to
// the prerendered nodes the cursor yields.
func (e *Engine) hydrateNode(d *decl.Node, parent *node, chain *channel, cur *hydrateCursor, path string, index int, b *batch) (*node, error) {
	if d == nil {
		return nil, nil
	}

	n := newNode(d, parent.lifetimeScope, chain)
	n.parent = parent
	e.stats.nodes.Add(1)

	switch d.Kind {
	case decl.KindText:
		src := cur.next()
		p := childPath(path, d, index)
		if src == nil || src.HydrationKind() != HydrationText {
			return nil, &StructuralError{Path: p, Expected: fmt.Sprintf("text %q", d.Text), Actual: describeHydration(src)}
		}
		n.handle = src.Handle()
		n.committedText = src.Text()
		if src.Text() == d.Text {
			n.pending = mutNone
		} else {
			// Drifted prerendered text is corrected at commit.
			n.pending = mutUpdate
		}

	case decl.KindElement:
		src := cur.next()
		p := childPath(path, d, index)
		if src == nil || src.HydrationKind() != HydrationElement || src.Tag() != d.Tag {
			return nil, &StructuralError{Path: p, Expected: "<" + d.Tag + ">", Actual: describeHydration(src)}
		}
		n.handle = src.Handle()
		n.pending = mutNone
		n.committedProps = committedPropsOf(d.Props)
		e.updateListeners(n, d.Props, chain)

		sub := &hydrateCursor{items: src.Children()}
		if err := e.hydrateChildren(n, d.Children, chain, sub, p, b); err != nil {
			return nil, err
		}
		if extra := sub.peek(); extra != nil && extra.HydrationKind() != HydrationMarker {
			return nil, &StructuralError{Path: p, Expected: "end of children", Actual: describeHydration(extra)}
		}

	case decl.KindFragment:
		n.pending = mutNone
		if err := e.hydrateChildren(n, d.Children, chain, cur, path, b); err != nil {
			return nil, err
		}

	case decl.KindComponent:
		if err := e.hydrateComponent(n, cur, path, index, b); err != nil {
			return nil, err
		}

	case decl.KindSuspense:
		if err := e.hydrateSuspense(n, d, cur, childPath(path, d, index), b); err != nil {
			return nil, err
		}

	case decl.KindBoundary:
		n.pending = mutNone
		n.onFailure = d.OnFailure
		n.declChildren = d.Children
		n.bound = &boundaryState{ch: newChannel(e, n, chain)}
		if err := e.hydrateChildren(n, d.Children, n.bound.ch, cur, path, b); err != nil {
			return nil, err
		}
	}

	return n, nil
}

func (e *Engine) hydrateChildren(parent *node, decls []*decl.Node, chain *channel, cur *hydrateCursor, path string, b *batch) error {
	kids := make([]*node, 0, len(decls))
	for i, d := range decls {
		if d == nil {
			continue
		}
		child, err := e.hydrateNode(d, parent, chain, cur, path, i, b)
		if err != nil {
			return err
		}
		if child != nil {
			kids = append(kids, child)
		}
	}
	parent.setChildren(kids)
	return nil
}

// hydrateComponent executes a component during hydration and binds its
// output to the cursor. A component whose output is asynchronous consumes
// nothing from the prerendered tree: its subtree is created normally once
// the first value arrives.
func (e *Engine) hydrateComponent(n *node, cur *hydrateCursor, path string, index int, b *batch) error {
	n.runScope = scope.New(n.lifetimeScope)
	recorder := reactive.NewRecorder(e.store)
	rc := &renderCtx{node: n, recorder: recorder, runScope: n.runScope}

	out, ok := e.invokeRender(n, rc)

	n.observed = recorder.Cells()
	for _, cell := range n.observed {
		target := n
		unsub := e.store.Subscribe(cell, func() { e.scheduleNode(target) })
		n.runScope.OnCleanup(unsub)
	}

	if !ok {
		// The failure is already on its way to a boundary; this position
		// stays empty and consumes nothing.
		return nil
	}

	switch v := out.(type) {
	case *decl.Node:
		n.latestOutput = v
		child, err := e.hydrateNode(v, n, n.chain, cur, path, index, b)
		if err != nil {
			return err
		}
		if child != nil {
			n.setChildren([]*node{child})
		}
	case *decl.AsyncSource:
		e.startSource(n, v)
	}
	return nil
}

// hydrateSuspense binds a suspense boundary to its prerendered segment. A
// resolved segment hydrates the content live; a fallback segment hydrates
// the fallback live and starts the content parked, swapping once its async
// children are ready. Prerendered output without markers is treated as
// resolved content.
func (e *Engine) hydrateSuspense(n *node, d *decl.Node, cur *hydrateCursor, path string, b *batch) error {
	n.pending = mutNone
	n.susp = &suspenseState{
		waiting:      make(map[uint64]*node),
		childrenDecl: d.Children,
		fallbackDecl: d.Fallback,
	}

	marker := MarkerNone
	if m := cur.peek(); m != nil && m.HydrationKind() == HydrationMarker {
		marker = m.Marker()
		cur.next()
	}

	switch marker {
	case MarkerResolvedStart:
		seg, err := cur.segment(MarkerResolvedStart, MarkerResolvedEnd, path)
		if err != nil {
			return err
		}
		sub := &hydrateCursor{items: seg}
		n.susp.phase = suspContent
		if err := e.hydrateChildren(n, d.Children, n.chain, sub, path, b); err != nil {
			return err
		}
		// Anything the prerenderer emitted past what the live content
		// claims (stale async output) is dropped.
		e.dropSegmentLeftovers(b, sub)

	case MarkerFallbackStart:
		seg, err := cur.segment(MarkerFallbackStart, MarkerFallbackEnd, path)
		if err != nil {
			return err
		}

		// Content starts parked while the hydrated fallback stays live.
		e.buildChildren(n, d.Children, n.chain, true, b)
		e.collectWaiting(n)
		n.susp.content = n.children()
		n.setChildren(nil)
		n.susp.phase = suspFallback

		if d.Fallback != nil {
			sub := &hydrateCursor{items: seg}
			fb, err := e.hydrateNode(d.Fallback, n, n.chain, sub, path, 0, b)
			if err != nil {
				return err
			}
			if fb != nil {
				n.setChildren([]*node{fb})
			}
		}

		if len(n.susp.waiting) == 0 {
			// Content is synchronously ready: swap on the first batch.
			n.susp.ready = true
			e.scheduleNode(n)
		}

	default:
		n.susp.phase = suspContent
		if err := e.hydrateChildren(n, d.Children, n.chain, cur, path, b); err != nil {
			return err
		}
	}
	return nil
}

// dropSegmentLeftovers stages removal of prerendered nodes the hydrated
// content did not claim. The handles leave the output at commit; a mismatch
// found later aborts before any of them is touched.
func (e *Engine) dropSegmentLeftovers(b *batch, cur *hydrateCursor) {
	for {
		it := cur.next()
		if it == nil {
			return
		}
		if h := it.Handle(); h != nil {
			b.orphans = append(b.orphans, h)
		}
	}
}

func committedPropsOf(p decl.Props) decl.Props {
	committed := make(decl.Props, len(p))
	for name, v := range p {
		if decl.IsEventProp(name) || name == "key" || v == nil {
			continue
		}
		committed[name] = v
	}
	return committed
}
