// Package snapshot persists rendered output snapshots so sessions can be
// prerendered, resumed, or inspected after the fact. A snapshot is the
// serialized output of an engine commit sequence: enough to rehydrate a
// client without replaying every mutation frame.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned when no snapshot exists for a key.
var ErrNotFound = errors.New("snapshot: not found")

// ErrTooLarge is returned when an encoded snapshot exceeds a store's limit.
var ErrTooLarge = errors.New("snapshot: too large")

// Snapshot is one persisted render state.
type Snapshot struct {
	// Key identifies the session or route the snapshot belongs to.
	Key string `json:"key"`

	// Seq is the engine commit sequence the snapshot was taken at.
	Seq uint64 `json:"seq"`

	// HTML is the serialized output tree.
	HTML string `json:"html"`

	CreatedAt time.Time `json:"created_at"`
}

// Encode serializes the snapshot for storage.
func (s *Snapshot) Encode() ([]byte, error) {
	return json.Marshal(s)
}

// Decode deserializes a stored snapshot.
func Decode(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Store persists snapshots by key. Implementations must be safe for
// concurrent use.
type Store interface {
	// Save persists a snapshot, replacing any previous one for its key.
	Save(ctx context.Context, snap *Snapshot) error

	// Load returns the snapshot for a key, or ErrNotFound.
	Load(ctx context.Context, key string) (*Snapshot, error)

	// Delete removes the snapshot for a key. Deleting a missing key is not
	// an error.
	Delete(ctx context.Context, key string) error
}
