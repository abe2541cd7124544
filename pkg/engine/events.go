package engine

import (
	"sync"

	"github.com/loomui/loom/pkg/decl"
	"github.com/loomui/loom/pkg/fault"
)

// listenerSlot is the stable adapter callback for one (node, event) pair.
// The adapter sees the slot exactly once, at attach; handler updates from
// later renders swap the function inside the slot without an adapter call,
// so an unchanged re-render emits no listener mutations.
type listenerSlot struct {
	engine *Engine
	node   *node
	event  string

	// attached flips when the commit phase wires the slot to the adapter.
	attached bool

	mu sync.Mutex
	fn decl.EventHandler
	// chain is the error channel in scope at the element's position,
	// captured when the handler was last set.
	chain *channel
}

func (s *listenerSlot) set(fn decl.EventHandler, chain *channel) {
	s.mu.Lock()
	s.fn = fn
	s.chain = chain
	s.mu.Unlock()
}

// invoke is the callback handed to the adapter. It may be called from any
// goroutine; the handler itself always runs on the scheduler goroutine.
func (s *listenerSlot) invoke(payload any) {
	s.engine.dispatch(func() { s.engine.runHandler(s, payload) })
}

// updateListeners refreshes an element's listener slots from its latest
// event props. Pure bookkeeping: attaching new slots to the adapter is the
// commit phase's job.
func (e *Engine) updateListeners(n *node, props decl.Props, chain *channel) {
	for name, v := range props {
		if !decl.IsEventProp(name) {
			continue
		}
		ev := decl.EventName(name)
		fn := asEventHandler(v)

		slot := n.listeners[ev]
		if slot == nil {
			if n.listeners == nil {
				n.listeners = make(map[string]*listenerSlot)
			}
			slot = &listenerSlot{engine: e, node: n, event: ev}
			n.listeners[ev] = slot
		}
		slot.set(fn, chain)
	}

	// An event prop that disappeared keeps its slot attached but inert.
	for ev, slot := range n.listeners {
		if !hasEventProp(props, ev) {
			slot.set(nil, chain)
		}
	}
}

func asEventHandler(v any) decl.EventHandler {
	switch fn := v.(type) {
	case decl.EventHandler:
		return fn
	case func(payload any) error:
		return fn
	case func(payload any):
		return func(payload any) error {
			fn(payload)
			return nil
		}
	case func() error:
		return func(any) error { return fn() }
	case func():
		return func(any) error {
			fn()
			return nil
		}
	default:
		return nil
	}
}

func hasEventProp(props decl.Props, event string) bool {
	for name := range props {
		if decl.IsEventProp(name) && decl.EventName(name) == event {
			return true
		}
	}
	return false
}

// runHandler executes an interaction handler on the scheduler goroutine.
// Events landing after the node unmounted are dropped. A failing handler
// reports to the boundary channel captured with it; with no boundary in
// scope the failure is logged and swallowed, never terminal.
func (e *Engine) runHandler(s *listenerSlot, payload any) {
	if !s.node.alive() {
		e.logger.Warn("event for unmounted node dropped",
			"event", s.event, "tag", s.node.tag)
		return
	}

	s.mu.Lock()
	fn, chain := s.fn, s.chain
	s.mu.Unlock()
	if fn == nil {
		return
	}

	err := invokeHandler(fn, payload)
	if err == nil {
		return
	}

	f := fault.Failure{
		Kind:      fault.KindHandler,
		Err:       err,
		Component: s.node.tag,
		Event:     s.event,
	}
	if !e.deliver(chain, f) {
		e.logger.Warn("interaction failure with no boundary in scope",
			"event", s.event, "tag", s.node.tag, "err", err)
	}
}

// invokeHandler calls the handler with panic recovery.
func invokeHandler(fn decl.EventHandler, payload any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fault.FromPanic(r)
		}
	}()
	return fn(payload)
}
