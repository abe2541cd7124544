package reactive

import "sync"

// Recorder wraps a Store and records which cells are read through it.
// One Recorder is created per component execution; the recorded set fully
// replaces the component's previous observed-cell set when the execution
// finishes.
type Recorder struct {
	store Store

	mu    sync.Mutex
	cells map[string]struct{}
}

// NewRecorder creates a Recorder over the given store.
func NewRecorder(store Store) *Recorder {
	return &Recorder{
		store: store,
		cells: make(map[string]struct{}),
	}
}

// Get reads a cell through the underlying store and records the read.
func (r *Recorder) Get(cell string) any {
	r.mu.Lock()
	r.cells[cell] = struct{}{}
	r.mu.Unlock()
	return r.store.Get(cell)
}

// Cells returns the set of cells read so far, sorted insertion-independent
// (map iteration order); callers treat it as a set.
func (r *Recorder) Cells() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.cells))
	for c := range r.cells {
		out = append(out, c)
	}
	return out
}
