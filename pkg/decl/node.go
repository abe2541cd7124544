package decl

import (
	"strings"
	"time"

	"github.com/loomui/loom/pkg/fault"
)

// Kind is the node type discriminator.
type Kind uint8

const (
	KindElement   Kind = iota // primitive output node ("div", "button", ...)
	KindText                  // plain text leaf
	KindFragment              // grouping without an output node of its own
	KindComponent             // function from props to declarative output
	KindSuspense              // deferred subtree with fallback + threshold
	KindBoundary              // fault-isolation subtree with failure callback
)

// String returns the string representation of the Kind.
func (k Kind) String() string {
	switch k {
	case KindElement:
		return "Element"
	case KindText:
		return "Text"
	case KindFragment:
		return "Fragment"
	case KindComponent:
		return "Component"
	case KindSuspense:
		return "Suspense"
	case KindBoundary:
		return "Boundary"
	default:
		return "Unknown"
	}
}

// Props holds attributes and event handlers.
type Props map[string]any

// EventHandler is an interaction callback attached via an "on*" prop
// (e.g. "onclick"). The payload is the event data delivered by the output
// surface. A returned error is reported to the error boundary that was in
// scope when the handler was attached.
type EventHandler func(payload any) error

// Node is an immutable description of what should appear at one tree
// position. Nodes are produced fresh each render pass and consumed once by
// the reconciler; they are never mutated after construction.
type Node struct {
	Kind     Kind
	Tag      string  // element tag name
	Props    Props   // attributes and event handlers
	Children []*Node // child nodes
	Key      string  // reconciliation key for keyed sibling lists
	Text     string  // for KindText

	// Component fields.
	Name   string     // component name, used in failure reports
	Render RenderFunc // for KindComponent

	// Suspense fields.
	Fallback  *Node         // rendered while the content races its threshold
	Threshold time.Duration // fallback delay

	// Boundary field. Called with the reported failure; the returned node
	// replaces the failed subtree. The engine never injects default UI.
	OnFailure func(fault.Failure) *Node
}

// EffectiveKey returns the node's reconciliation key: the Key field, falling
// back to a "key" prop.
func (n *Node) EffectiveKey() string {
	if n == nil {
		return ""
	}
	if n.Key != "" {
		return n.Key
	}
	if n.Props == nil {
		return ""
	}
	if key, ok := n.Props["key"].(string); ok {
		return key
	}
	return ""
}

// IsInteractive reports whether this node carries event handlers.
func (n *Node) IsInteractive() bool {
	if n == nil || n.Kind != KindElement {
		return false
	}
	for key := range n.Props {
		if IsEventProp(key) {
			return true
		}
	}
	return false
}

// IsEventProp reports whether a prop key names an event handler.
// Case-insensitive: onclick, onClick, ONCLICK all match.
func IsEventProp(key string) bool {
	return len(key) > 2 && strings.EqualFold(key[:2], "on")
}

// EventName returns the event name for a handler prop key ("onclick" ->
// "click").
func EventName(key string) string {
	return strings.ToLower(key[2:])
}
