package decl

import (
	"time"

	"github.com/loomui/loom/pkg/fault"
)

// Element creates a primitive node.
func Element(tag string, props Props, children ...*Node) *Node {
	return &Node{Kind: KindElement, Tag: tag, Props: props, Children: children}
}

// Text creates a text leaf.
func Text(text string) *Node {
	return &Node{Kind: KindText, Text: text}
}

// Fragment groups children without an output node of its own.
func Fragment(children ...*Node) *Node {
	return &Node{Kind: KindFragment, Children: children}
}

// Component creates a component node. The name appears in failure reports.
func Component(name string, render RenderFunc, props Props) *Node {
	return &Node{Kind: KindComponent, Name: name, Render: render, Props: props}
}

// Suspense creates a suspense marker: children race the threshold; if they
// are not ready in time the fallback is shown until they are.
func Suspense(threshold time.Duration, fallback *Node, children ...*Node) *Node {
	return &Node{Kind: KindSuspense, Threshold: threshold, Fallback: fallback, Children: children}
}

// Boundary creates an error-boundary marker. onFailure produces the node
// rendered in place of the children when a descendant reports a failure.
func Boundary(onFailure func(fault.Failure) *Node, children ...*Node) *Node {
	return &Node{Kind: KindBoundary, OnFailure: onFailure, Children: children}
}

// WithKey returns the node with its reconciliation key set.
func (n *Node) WithKey(key string) *Node {
	n.Key = key
	return n
}
