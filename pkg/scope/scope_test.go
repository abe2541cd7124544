package scope

import "testing"

func TestCleanupLIFO(t *testing.T) {
	s := New(nil)

	var order []string
	s.OnCleanup(func() { order = append(order, "f1") })
	s.OnCleanup(func() { order = append(order, "f2") })
	s.OnCleanup(func() { order = append(order, "f3") })

	s.Close()

	want := []string{"f3", "f2", "f1"}
	if len(order) != len(want) {
		t.Fatalf("expected %d finalizers, got %d", len(want), len(order))
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("finalizer %d: expected %s, got %s", i, want[i], order[i])
		}
	}
}

func TestCloseIdempotent(t *testing.T) {
	s := New(nil)

	count := 0
	s.OnCleanup(func() { count++ })

	s.Close()
	s.Close()
	s.Close()

	if count != 1 {
		t.Errorf("expected finalizer to run once, ran %d times", count)
	}
	if !s.IsClosed() {
		t.Error("expected scope to report closed")
	}
}

func TestChildrenCloseDeepestFirst(t *testing.T) {
	root := New(nil)
	mid := New(root)
	leaf := New(mid)

	var order []string
	root.OnCleanup(func() { order = append(order, "root") })
	mid.OnCleanup(func() { order = append(order, "mid") })
	leaf.OnCleanup(func() { order = append(order, "leaf") })

	root.Close()

	want := []string{"leaf", "mid", "root"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("close order %v, want %v", order, want)
		}
	}
}

func TestSiblingsCloseReverseCreationOrder(t *testing.T) {
	root := New(nil)
	a := New(root)
	b := New(root)

	var order []string
	a.OnCleanup(func() { order = append(order, "a") })
	b.OnCleanup(func() { order = append(order, "b") })

	root.Close()

	if order[0] != "b" || order[1] != "a" {
		t.Errorf("expected last-created child closed first, got %v", order)
	}
}

func TestCleanupAfterCloseRunsImmediately(t *testing.T) {
	s := New(nil)
	s.Close()

	ran := false
	s.OnCleanup(func() { ran = true })

	if !ran {
		t.Error("finalizer registered after close should run immediately")
	}
}

func TestChildCloseDetachesFromParent(t *testing.T) {
	root := New(nil)
	child := New(root)

	count := 0
	child.OnCleanup(func() { count++ })

	child.Close()
	root.Close()

	if count != 1 {
		t.Errorf("expected child finalizer to run once, ran %d times", count)
	}
}
