package engine

import "github.com/loomui/loom/pkg/decl"

// suspensePhase is the boundary's race state.
type suspensePhase uint8

const (
	suspRacing   suspensePhase = iota // content racing the threshold timer
	suspContent                       // content committed
	suspFallback                      // fallback committed, content parked
)

// String returns the string representation of the suspensePhase.
func (p suspensePhase) String() string {
	switch p {
	case suspRacing:
		return "Racing"
	case suspContent:
		return "ShowingContent"
	case suspFallback:
		return "ShowingFallback"
	default:
		return "Unknown"
	}
}

// suspenseState is the per-boundary race between "children ready" and the
// threshold timer. Whichever signal arrives first wins; the loser's arrival
// is discarded against the phase check.
type suspenseState struct {
	phase suspensePhase

	// waiting holds the direct async children that have not produced a
	// first value. Ready fires the first time it drains.
	waiting map[uint64]*node

	// Completion flags set by the timer task and the ready signal,
	// consumed by syncSuspense on the scheduler goroutine.
	ready   bool
	expired bool

	stop StopTimer

	// content holds the parked content subtree while the fallback is
	// committed in its place.
	content []*node

	childrenDecl []*decl.Node
	fallbackDecl *decl.Node
}

// buildSuspense creates a suspense boundary: its content starts executing
// as a parked subtree while the threshold timer runs concurrently. If every
// direct child is synchronously ready the fallback is never even scheduled.
//
// Failures inside the content are reported against the channel in scope at
// the suspense position, as though they happened at the boundary itself.
func (e *Engine) buildSuspense(n *node, d *decl.Node, b *batch) {
	n.susp = &suspenseState{
		phase:        suspRacing,
		waiting:      make(map[uint64]*node),
		childrenDecl: d.Children,
		fallbackDecl: d.Fallback,
	}

	e.buildChildren(n, d.Children, n.chain, true, b)
	e.collectWaiting(n)

	if len(n.susp.waiting) == 0 {
		n.susp.ready = true
		e.syncSuspense(n, b)
		return
	}

	target := n
	n.susp.stop = e.newTimer(d.Threshold, func() {
		e.dispatch(func() { e.suspenseExpired(target) })
	})
	// The timer dies with the node.
	n.lifetimeScope.OnCleanup(func() {
		if target.susp.stop != nil {
			target.susp.stop()
		}
	})
}

// collectWaiting registers the suspense boundary's direct async children:
// component children (descending through fragments) whose source has not
// produced a value. Readiness policy: ALL of them must produce a first
// value before the boundary is ready.
func (e *Engine) collectWaiting(n *node) {
	var walk func(c *node)
	walk = func(c *node) {
		switch c.kind {
		case decl.KindComponent:
			if c.source != nil && !c.sourceFirst {
				n.susp.waiting[c.id] = c
				c.waiter = n
			}
		case decl.KindFragment:
			for k := c.firstChild; k != nil; k = k.nextSibling {
				walk(k)
			}
		}
	}
	for c := n.firstChild; c != nil; c = c.nextSibling {
		walk(c)
	}
}

// suspenseChildReady records a direct child's first value. Runs on the
// scheduler goroutine.
func (e *Engine) suspenseChildReady(s *node, child *node) {
	if !s.alive() || s.susp == nil {
		return
	}
	delete(s.susp.waiting, child.id)
	if len(s.susp.waiting) == 0 && !s.susp.ready {
		s.susp.ready = true
		e.scheduleNode(s)
	}
}

// suspenseExpired records the threshold timer firing. Runs on the scheduler
// goroutine.
func (e *Engine) suspenseExpired(n *node) {
	if !n.alive() || n.susp == nil {
		return
	}
	n.susp.expired = true
	e.scheduleNode(n)
}

// syncSuspense advances the suspense state machine and reconciles whichever
// subtree the current phase commits. Called both from the parent's
// reconcile (with refreshed declarative children) and from the scheduler
// when the timer or the ready signal fires.
func (e *Engine) syncSuspense(n *node, b *batch) {
	s := n.susp
	parked := n.inParkedSubtree()

	switch s.phase {
	case suspRacing:
		if s.ready {
			// Content won: the fallback is never rendered.
			if s.stop != nil {
				s.stop()
				s.stop = nil
			}
			s.phase = suspContent
			for c := n.firstChild; c != nil; c = c.nextSibling {
				clearParked(c)
			}
			return
		}
		if s.expired {
			// Timer won: park the content, commit the fallback.
			s.phase = suspFallback
			e.metrics.observeFallback()
			s.content = n.children()
			n.setChildren(nil)
			if s.fallbackDecl != nil {
				fb := e.buildNode(s.fallbackDecl, n, n.chain, parked, b)
				n.setChildren([]*node{fb})
			}
			return
		}
		// Still racing: keep the parked content in sync.
		e.reconcileChildren(n, s.childrenDecl, n.chain, true, b)

	case suspFallback:
		if s.ready {
			// Swap is atomic with the fallback's removal: both happen
			// inside this batch's single commit.
			for _, c := range n.children() {
				b.remove(c)
			}
			n.setChildren(s.content)
			s.content = nil
			for c := n.firstChild; c != nil; c = c.nextSibling {
				clearParked(c)
			}
			s.phase = suspContent
			return
		}
		e.reconcileChildren(n, []*decl.Node{s.fallbackDecl}, n.chain, parked, b)

	case suspContent:
		e.reconcileChildren(n, s.childrenDecl, n.chain, parked, b)
	}
}

// clearParked unparks a subtree. Recursion stops at a nested suspense
// boundary that is still racing: its own content stays parked until its
// own race settles.
func clearParked(n *node) {
	n.parked = false
	if n.kind == decl.KindSuspense && n.susp != nil && n.susp.phase == suspRacing {
		return
	}
	for c := n.firstChild; c != nil; c = c.nextSibling {
		clearParked(c)
	}
}
