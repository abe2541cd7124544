// Package live serves engine-driven trees to remote clients over WebSocket.
// Each connection gets its own engine; commits stream to the client as
// sequenced mutation frames, and client interaction events are routed back
// into the engine's listener slots.
package live

import (
	"encoding/json"

	"github.com/loomui/loom/pkg/engine"
)

// Frame types exchanged with the client.
const (
	FrameMutations = "mutations" // server -> client: one commit
	FrameEvent     = "event"     // client -> server: interaction
	FramePing      = "ping"
	FramePong      = "pong"
)

// Frame is the wire envelope. Exactly one payload section is populated,
// according to Type.
type Frame struct {
	Type string `json:"type"`

	// Mutations payload.
	Seq       uint64         `json:"seq,omitempty"`
	Mutations []WireMutation `json:"mutations,omitempty"`

	// Event payload.
	Node    uint64          `json:"node,omitempty"`
	Event   string          `json:"event,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// WireMutation is one output mutation, with handles flattened to the
// session's numeric node IDs. ID 0 is the mount container.
type WireMutation struct {
	Op     string `json:"op"`
	Node   uint64 `json:"node"`
	Kind   string `json:"kind,omitempty"`
	Name   string `json:"name,omitempty"`
	Value  any    `json:"value,omitempty"`
	Parent uint64 `json:"parent"`
	Before uint64 `json:"before,omitempty"`
}

// encodeMutations converts a committed batch into a wire frame.
func encodeMutations(seq uint64, muts []engine.Mutation) *Frame {
	wire := make([]WireMutation, 0, len(muts))
	for _, m := range muts {
		wire = append(wire, WireMutation{
			Op:     m.Op.String(),
			Node:   nodeID(m.Handle),
			Kind:   m.Kind,
			Name:   m.Name,
			Value:  m.Value,
			Parent: nodeID(m.Parent),
			Before: nodeID(m.Before),
		})
	}
	return &Frame{Type: FrameMutations, Seq: seq, Mutations: wire}
}

func nodeID(h engine.Handle) uint64 {
	if h == nil {
		return 0
	}
	if rn, ok := h.(*remoteNode); ok {
		return rn.id
	}
	return 0
}
