// Package fault defines the typed failure taxonomy shared by the declarative
// tree and the engine. A Failure is what descendants report to the nearest
// error boundary: a synchronous render panic, an async source error, or a
// panic inside an interaction handler.
package fault

import "fmt"

// Kind is the failure discriminator.
type Kind uint8

const (
	KindRender  Kind = iota // component panicked during render
	KindAsync               // async source reported an error
	KindHandler             // interaction handler panicked
)

// String returns the string representation of the Kind.
func (k Kind) String() string {
	switch k {
	case KindRender:
		return "Render"
	case KindAsync:
		return "AsyncSource"
	case KindHandler:
		return "Handler"
	default:
		return "Unknown"
	}
}

// Phase tags an async-source failure relative to its first successful value.
type Phase uint8

const (
	PhaseNone        Phase = iota // not an async failure
	PhaseBeforeFirst              // failed before producing any value
	PhaseAfterFirst               // failed after at least one value
)

// String returns the string representation of the Phase.
func (p Phase) String() string {
	switch p {
	case PhaseBeforeFirst:
		return "BeforeFirst"
	case PhaseAfterFirst:
		return "AfterFirst"
	default:
		return "None"
	}
}

// Failure is a typed failure reported to a boundary channel.
// Boundary authors pattern-match on Kind to decide what fallback to render.
type Failure struct {
	// Kind discriminates render, async-source, and handler failures.
	Kind Kind

	// Err is the underlying error. Panic values that are not errors are
	// wrapped via fmt.Errorf.
	Err error

	// Component is the originating component name, if available.
	// Set for render failures.
	Component string

	// Phase is set for async-source failures: whether the source had
	// already produced a value when it failed.
	Phase Phase

	// Event is the interaction-type tag (e.g. "click") for handler failures.
	Event string
}

// Error implements the error interface.
func (f Failure) Error() string {
	switch f.Kind {
	case KindRender:
		if f.Component != "" {
			return fmt.Sprintf("render failure in %s: %v", f.Component, f.Err)
		}
		return fmt.Sprintf("render failure: %v", f.Err)
	case KindAsync:
		return fmt.Sprintf("async source failure (%s): %v", f.Phase, f.Err)
	case KindHandler:
		return fmt.Sprintf("handler failure (%s): %v", f.Event, f.Err)
	default:
		return fmt.Sprintf("failure: %v", f.Err)
	}
}

// Unwrap returns the underlying error for errors.Is/As support.
func (f Failure) Unwrap() error {
	return f.Err
}

// FromPanic converts a recovered panic value into an error.
func FromPanic(r any) error {
	if err, ok := r.(error); ok {
		return err
	}
	return fmt.Errorf("panic: %v", r)
}
