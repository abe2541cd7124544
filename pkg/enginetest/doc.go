// Package enginetest provides testing helpers for engine-driven trees.
//
// The package reduces boilerplate when testing components against a real
// engine: a recording in-memory output adapter, a manual timer source for
// deterministic suspense races, and a harness that wires adapter, store and
// engine together.
//
// # Quick Start
//
//	func TestCounter(t *testing.T) {
//	    h := enginetest.Mount(t, counterTree())
//	    h.Set("count", 3)
//	    if got := h.HTML(); got != `<div>3</div>` {
//	        t.Fatalf("unexpected output: %s", got)
//	    }
//	}
//
// # Deterministic Suspense
//
// The harness installs a manual timer source, so suspense thresholds never
// depend on wall time:
//
//	h := enginetest.Mount(t, tree)
//	h.Timers.Advance(100 * time.Millisecond) // expire the threshold
//	h.Flush()
//
// # Interaction Events
//
// Fire listeners directly on the fake output tree:
//
//	btn := h.Adapter.Root.Find("button")
//	btn.Fire("click", nil)
//	h.Flush()
package enginetest
