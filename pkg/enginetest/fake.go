package enginetest

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/loomui/loom/pkg/engine"
)

// FakeNode is one node of the in-memory output tree. It doubles as a
// hydration source: a tree of FakeNodes built by hand (or by a previous
// mount) satisfies engine.HydrationNode.
type FakeNode struct {
	Kind      string // element tag, or "#text"
	Props     map[string]any
	Listeners map[string]func(payload any)
	Kids      []*FakeNode

	MarkerKind engine.MarkerKind

	parent *FakeNode
}

// Elem builds a fake element node, for hydration sources.
func Elem(tag string, kids ...*FakeNode) *FakeNode {
	n := &FakeNode{Kind: tag, Props: map[string]any{}, Kids: kids}
	for _, k := range kids {
		k.parent = n
	}
	return n
}

// TextNode builds a fake text node, for hydration sources.
func TextNode(text string) *FakeNode {
	return &FakeNode{Kind: "#text", Props: map[string]any{"text": text}}
}

// Marker builds a suspense segment marker, for hydration sources.
func Marker(kind engine.MarkerKind) *FakeNode {
	return &FakeNode{Kind: "#marker", MarkerKind: kind}
}

// WithProp sets a prop and returns the node, for fluent construction.
func (n *FakeNode) WithProp(name string, value any) *FakeNode {
	if n.Props == nil {
		n.Props = map[string]any{}
	}
	n.Props[name] = value
	return n
}

// HydrationKind implements engine.HydrationNode.
func (n *FakeNode) HydrationKind() engine.HydrationKind {
	switch {
	case n.MarkerKind != engine.MarkerNone:
		return engine.HydrationMarker
	case n.Kind == "#text":
		return engine.HydrationText
	default:
		return engine.HydrationElement
	}
}

func (n *FakeNode) Tag() string { return n.Kind }

func (n *FakeNode) Text() string {
	s, _ := n.Props["text"].(string)
	return s
}

func (n *FakeNode) Marker() engine.MarkerKind { return n.MarkerKind }

func (n *FakeNode) Children() []engine.HydrationNode {
	out := make([]engine.HydrationNode, len(n.Kids))
	for i, k := range n.Kids {
		out[i] = k
	}
	return out
}

func (n *FakeNode) Handle() engine.Handle { return n }

// Fire invokes an attached listener. Reports whether one was attached.
func (n *FakeNode) Fire(event string, payload any) bool {
	fn := n.Listeners[event]
	if fn == nil {
		return false
	}
	fn(payload)
	return true
}

// Find returns the first node with the given kind, depth-first, including
// the receiver.
func (n *FakeNode) Find(kind string) *FakeNode {
	if n.Kind == kind {
		return n
	}
	for _, k := range n.Kids {
		if hit := k.Find(kind); hit != nil {
			return hit
		}
	}
	return nil
}

// FindAll returns every node with the given kind, depth-first.
func (n *FakeNode) FindAll(kind string) []*FakeNode {
	var out []*FakeNode
	if n.Kind == kind {
		out = append(out, n)
	}
	for _, k := range n.Kids {
		out = append(out, k.FindAll(kind)...)
	}
	return out
}

// Render serializes the subtree as HTML-ish text, for assertions.
func (n *FakeNode) Render() string {
	var sb strings.Builder
	n.render(&sb)
	return sb.String()
}

func (n *FakeNode) render(sb *strings.Builder) {
	if n.Kind == "#text" {
		sb.WriteString(n.Text())
		return
	}
	if n.Kind == "#marker" {
		return
	}
	sb.WriteByte('<')
	sb.WriteString(n.Kind)
	names := make([]string, 0, len(n.Props))
	for name := range n.Props {
		if name == "text" {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(sb, " %s=%q", name, fmt.Sprint(n.Props[name]))
	}
	sb.WriteByte('>')
	for _, k := range n.Kids {
		k.render(sb)
	}
	sb.WriteString("</" + n.Kind + ">")
}

func (n *FakeNode) detach() {
	if n.parent == nil {
		return
	}
	kids := n.parent.Kids
	for i, k := range kids {
		if k == n {
			n.parent.Kids = append(kids[:i:i], kids[i+1:]...)
			break
		}
	}
	n.parent = nil
}

// Adapter is a recording in-memory engine.OutputAdapter. Every call is
// appended to the mutation log; assertions run against the log or against
// the materialized tree under Root.
type Adapter struct {
	mu   sync.Mutex
	Root *FakeNode
	log  []engine.Mutation
}

// NewAdapter creates an adapter with an empty root container.
func NewAdapter() *Adapter {
	return &Adapter{Root: &FakeNode{Kind: "root", Props: map[string]any{}}}
}

func (a *Adapter) record(m engine.Mutation) {
	a.mu.Lock()
	a.log = append(a.log, m)
	a.mu.Unlock()
}

// CreateNode implements engine.OutputAdapter.
func (a *Adapter) CreateNode(kind string) engine.Handle {
	n := &FakeNode{Kind: kind, Props: map[string]any{}}
	a.record(engine.Mutation{Op: engine.OpCreate, Handle: n, Kind: kind})
	return n
}

// SetProperty implements engine.OutputAdapter. A nil value removes the
// property.
func (a *Adapter) SetProperty(h engine.Handle, name string, value any) {
	n := h.(*FakeNode)
	if value == nil {
		delete(n.Props, name)
	} else {
		if n.Props == nil {
			n.Props = map[string]any{}
		}
		n.Props[name] = value
	}
	a.record(engine.Mutation{Op: engine.OpSetProp, Handle: h, Name: name, Value: value})
}

// AttachListener implements engine.OutputAdapter.
func (a *Adapter) AttachListener(h engine.Handle, event string, callback func(payload any)) {
	n := h.(*FakeNode)
	if n.Listeners == nil {
		n.Listeners = map[string]func(payload any){}
	}
	n.Listeners[event] = callback
	a.record(engine.Mutation{Op: engine.OpListen, Handle: h, Name: event})
}

// Insert implements engine.OutputAdapter. A nil parent targets the root
// container; a nil before appends.
func (a *Adapter) Insert(parent, h, before engine.Handle) {
	target := a.Root
	if parent != nil {
		target = parent.(*FakeNode)
	}
	n := h.(*FakeNode)
	n.detach()
	n.parent = target

	if before == nil {
		target.Kids = append(target.Kids, n)
	} else {
		ref := before.(*FakeNode)
		inserted := false
		for i, k := range target.Kids {
			if k == ref {
				target.Kids = append(target.Kids[:i], append([]*FakeNode{n}, target.Kids[i:]...)...)
				inserted = true
				break
			}
		}
		if !inserted {
			target.Kids = append(target.Kids, n)
		}
	}
	a.record(engine.Mutation{Op: engine.OpInsert, Handle: h, Parent: parent, Before: before})
}

// Remove implements engine.OutputAdapter.
func (a *Adapter) Remove(h engine.Handle) {
	n := h.(*FakeNode)
	n.detach()
	a.record(engine.Mutation{Op: engine.OpRemove, Handle: h})
}

// Log returns a copy of the mutation log.
func (a *Adapter) Log() []engine.Mutation {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]engine.Mutation, len(a.log))
	copy(out, a.log)
	return out
}

// CountOps returns how many logged mutations carry the given op.
func (a *Adapter) CountOps(op engine.Op) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	count := 0
	for _, m := range a.log {
		if m.Op == op {
			count++
		}
	}
	return count
}

// ResetLog clears the mutation log, keeping the tree.
func (a *Adapter) ResetLog() {
	a.mu.Lock()
	a.log = nil
	a.mu.Unlock()
}

// HTML renders the root container's children.
func (a *Adapter) HTML() string {
	var sb strings.Builder
	for _, k := range a.Root.Kids {
		k.render(&sb)
	}
	return sb.String()
}
