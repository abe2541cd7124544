package snapshot

import (
	"context"
	"testing"
	"time"
)

func TestMemStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()

	snap := &Snapshot{
		Key:       "session-1",
		Seq:       42,
		HTML:      `<div class="app">hello</div>`,
		CreatedAt: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}
	if err := store.Save(ctx, snap); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	got, err := store.Load(ctx, "session-1")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if got.Seq != snap.Seq || got.HTML != snap.HTML {
		t.Errorf("loaded %+v, want %+v", got, snap)
	}
	if !got.CreatedAt.Equal(snap.CreatedAt) {
		t.Errorf("created at %v, want %v", got.CreatedAt, snap.CreatedAt)
	}
}

func TestMemStoreLoadMissing(t *testing.T) {
	store := NewMemStore()
	if _, err := store.Load(context.Background(), "nope"); err != ErrNotFound {
		t.Fatalf("load missing returned %v, want ErrNotFound", err)
	}
}

func TestMemStoreSaveReplaces(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()

	store.Save(ctx, &Snapshot{Key: "k", Seq: 1, HTML: "old"})
	store.Save(ctx, &Snapshot{Key: "k", Seq: 2, HTML: "new"})

	got, err := store.Load(ctx, "k")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if got.Seq != 2 || got.HTML != "new" {
		t.Errorf("loaded %+v, want the replacement", got)
	}
	if store.Len() != 1 {
		t.Errorf("store holds %d snapshots, want 1", store.Len())
	}
}

func TestMemStoreDelete(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()

	store.Save(ctx, &Snapshot{Key: "k", Seq: 1})
	if err := store.Delete(ctx, "k"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := store.Load(ctx, "k"); err != ErrNotFound {
		t.Fatalf("load after delete returned %v, want ErrNotFound", err)
	}
	// Deleting a missing key is not an error.
	if err := store.Delete(ctx, "k"); err != nil {
		t.Fatalf("delete missing returned %v", err)
	}
}
