package live

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/loomui/loom/pkg/engine"
)

// remoteNode mirrors one client-side output node. The mirror exists so the
// server can route events by node ID and serialize the current output for
// snapshots without asking the client.
type remoteNode struct {
	id        uint64
	kind      string
	props     map[string]any
	listeners map[string]func(payload any)
	kids      []*remoteNode
	parent    *remoteNode
}

func (n *remoteNode) detach() {
	if n.parent == nil {
		return
	}
	kids := n.parent.kids
	for i, k := range kids {
		if k == n {
			n.parent.kids = append(kids[:i:i], kids[i+1:]...)
			break
		}
	}
	n.parent = nil
}

func (n *remoteNode) render(sb *strings.Builder) {
	if n.kind == "#text" {
		s, _ := n.props["text"].(string)
		sb.WriteString(s)
		return
	}
	sb.WriteByte('<')
	sb.WriteString(n.kind)
	names := make([]string, 0, len(n.props))
	for name := range n.props {
		if name == "text" {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(sb, " %s=%q", name, fmt.Sprint(n.props[name]))
	}
	sb.WriteByte('>')
	for _, k := range n.kids {
		k.render(sb)
	}
	sb.WriteString("</" + n.kind + ">")
}

// wireAdapter implements engine.OutputAdapter against the session mirror.
// Node ID 0 is the mount container.
type wireAdapter struct {
	nextID atomic.Uint64

	mu    sync.Mutex
	root  *remoteNode
	nodes map[uint64]*remoteNode
}

func newWireAdapter() *wireAdapter {
	root := &remoteNode{id: 0, kind: "root", props: map[string]any{}}
	return &wireAdapter{
		root:  root,
		nodes: map[uint64]*remoteNode{0: root},
	}
}

// CreateNode implements engine.OutputAdapter.
func (a *wireAdapter) CreateNode(kind string) engine.Handle {
	n := &remoteNode{
		id:    a.nextID.Add(1),
		kind:  kind,
		props: map[string]any{},
	}
	a.mu.Lock()
	a.nodes[n.id] = n
	a.mu.Unlock()
	return n
}

// SetProperty implements engine.OutputAdapter.
func (a *wireAdapter) SetProperty(h engine.Handle, name string, value any) {
	n := h.(*remoteNode)
	a.mu.Lock()
	if value == nil {
		delete(n.props, name)
	} else {
		n.props[name] = value
	}
	a.mu.Unlock()
}

// AttachListener implements engine.OutputAdapter.
func (a *wireAdapter) AttachListener(h engine.Handle, event string, callback func(payload any)) {
	n := h.(*remoteNode)
	a.mu.Lock()
	if n.listeners == nil {
		n.listeners = map[string]func(payload any){}
	}
	n.listeners[event] = callback
	a.mu.Unlock()
}

// Insert implements engine.OutputAdapter.
func (a *wireAdapter) Insert(parent, h, before engine.Handle) {
	a.mu.Lock()
	defer a.mu.Unlock()

	target := a.root
	if parent != nil {
		target = parent.(*remoteNode)
	}
	n := h.(*remoteNode)
	n.detach()
	n.parent = target

	if before == nil {
		target.kids = append(target.kids, n)
		return
	}
	ref := before.(*remoteNode)
	for i, k := range target.kids {
		if k == ref {
			target.kids = append(target.kids[:i], append([]*remoteNode{n}, target.kids[i:]...)...)
			return
		}
	}
	target.kids = append(target.kids, n)
}

// Remove implements engine.OutputAdapter.
func (a *wireAdapter) Remove(h engine.Handle) {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := h.(*remoteNode)
	n.detach()
	a.forget(n)
}

func (a *wireAdapter) forget(n *remoteNode) {
	delete(a.nodes, n.id)
	for _, k := range n.kids {
		a.forget(k)
	}
}

// dispatchEvent routes a client event to the listener attached for the node
// ID. Reports whether a listener was found; stale IDs (already removed
// nodes) are not an error, just a race the client lost.
func (a *wireAdapter) dispatchEvent(id uint64, event string, payload any) bool {
	a.mu.Lock()
	n := a.nodes[id]
	var fn func(payload any)
	if n != nil && n.listeners != nil {
		fn = n.listeners[event]
	}
	a.mu.Unlock()

	if fn == nil {
		return false
	}
	fn(payload)
	return true
}

// HTML serializes the mirror tree, for snapshots.
func (a *wireAdapter) HTML() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	var sb strings.Builder
	for _, k := range a.root.kids {
		k.render(&sb)
	}
	return sb.String()
}
