// Package reactive defines the reactive-store boundary the engine consumes
// and provides a reference in-memory implementation plus the dependency
// recorder used during component execution.
package reactive

// Store holds named reactive cells. The engine assumes external
// synchronization: a single writer at a time per cell.
type Store interface {
	// Get returns the current value of a cell. Missing cells read as nil.
	Get(cell string) any

	// Set updates a cell and notifies subscribers if the value changed.
	Set(cell string, value any)

	// Subscribe registers onChange to run whenever the cell's value
	// changes. The returned function removes the subscription; it is safe
	// to call more than once.
	Subscribe(cell string, onChange func()) (unsubscribe func())
}
