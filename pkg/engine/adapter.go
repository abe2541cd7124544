package engine

// Handle is an opaque reference to one node of the output surface. The
// engine never inspects a handle; it only passes handles back to the
// adapter that issued them.
type Handle any

// OutputAdapter applies the engine's mutations to a concrete output tree
// and wires interaction callbacks. The engine calls the adapter only from
// the commit phase, in tree order.
//
// Text leaves are created as kind "#text" and their content is set via
// SetProperty(h, "text", value). SetProperty with a nil value removes the
// property. AttachListener replaces any callback previously attached for
// the same event name on the same handle.
type OutputAdapter interface {
	// CreateNode allocates a new output node of the given kind.
	CreateNode(kind string) Handle

	// SetProperty sets or removes (value == nil) a property.
	SetProperty(h Handle, name string, value any)

	// AttachListener wires an interaction callback for an event name.
	AttachListener(h Handle, event string, callback func(payload any))

	// Insert places h under parent, before the given sibling (nil means
	// append). Inserting an already-placed handle repositions it.
	Insert(parent, h, before Handle)

	// Remove detaches h (and implicitly its children) from the output.
	Remove(h Handle)
}

// Op is the mutation operation discriminator.
type Op uint8

const (
	OpCreate Op = iota // new output node allocated
	OpSetProp          // property set or removed
	OpListen           // listener attached
	OpInsert           // node placed (or repositioned) under its parent
	OpRemove           // node removed
)

// String returns the string representation of the Op.
func (op Op) String() string {
	switch op {
	case OpCreate:
		return "Create"
	case OpSetProp:
		return "SetProp"
	case OpListen:
		return "Listen"
	case OpInsert:
		return "Insert"
	case OpRemove:
		return "Remove"
	default:
		return "Unknown"
	}
}

// Mutation is one entry of the commit log. Each commit produces an ordered
// mutation list; transports like pkg/live forward it to remote surfaces.
type Mutation struct {
	Op     Op
	Handle Handle // target output node
	Kind   string // for OpCreate
	Name   string // property or event name
	Value  any    // property value (nil means removal)
	Parent Handle // for OpInsert
	Before Handle // for OpInsert, nil means append
}
