package engine_test

import (
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/loomui/loom/pkg/decl"
	"github.com/loomui/loom/pkg/engine"
	"github.com/loomui/loom/pkg/enginetest"
)

func waitFor(t *testing.T, h *enginetest.Harness, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		h.Flush()
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not reached before deadline")
}

func TestMountRendersTree(t *testing.T) {
	tree := decl.Element("div", decl.Props{"class": "app"},
		decl.Element("span", nil, decl.Text("hello")),
		decl.Text("world"),
	)
	h := enginetest.Mount(t, tree)

	h.ExpectHTML(`<div class="app"><span>hello</span>world</div>`)
	if got := h.Adapter.CountOps(engine.OpCreate); got != 4 {
		t.Errorf("created %d nodes, want 4", got)
	}
}

func TestComponentReadsStore(t *testing.T) {
	counter := decl.Component("counter", func(rc decl.RenderContext) decl.Output {
		n, _ := rc.Get("count").(int)
		return decl.Element("span", nil, decl.Text(strconv.Itoa(n)))
	}, nil)

	h := enginetest.Mount(t, decl.Element("div", nil, counter))
	h.ExpectHTML(`<div><span>0</span></div>`)

	h.Set("count", 7)
	h.ExpectHTML(`<div><span>7</span></div>`)
}

func TestUnchangedOutputEmitsNoMutations(t *testing.T) {
	comp := decl.Component("static", func(rc decl.RenderContext) decl.Output {
		rc.Get("tick") // observed but unused in output
		return decl.Element("button", decl.Props{
			"id":      "b",
			"onclick": decl.EventHandler(func(any) error { return nil }),
		}, decl.Text("ok"))
	}, nil)

	h := enginetest.Mount(t, comp)
	h.Flush()
	h.Adapter.ResetLog()

	before := h.Engine.Stats().Commits
	h.Set("tick", 1)
	h.Set("tick", 2)

	if got := h.Adapter.Log(); len(got) != 0 {
		t.Fatalf("idempotent re-render emitted %d mutations: %v", len(got), got)
	}
	if after := h.Engine.Stats().Commits; after != before {
		t.Errorf("commit count moved from %d to %d on no-op renders", before, after)
	}
}

func TestFlushWithoutInvalidationIsNoop(t *testing.T) {
	h := enginetest.Mount(t, decl.Element("div", nil, decl.Text("x")))
	h.Flush()
	h.Adapter.ResetLog()

	h.Flush()
	h.Flush()

	if got := h.Adapter.Log(); len(got) != 0 {
		t.Fatalf("empty flush emitted mutations: %v", got)
	}
}

func TestPropDiffEmitsOnlyChanges(t *testing.T) {
	h := enginetest.Mount(t, decl.Element("div", decl.Props{"a": "1", "b": "2"}))
	h.Flush()
	h.Adapter.ResetLog()

	// a changes, b disappears, c appears.
	if err := h.Engine.Update(decl.Element("div", decl.Props{"a": "9", "c": "3"})); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	sets := 0
	for _, m := range h.Adapter.Log() {
		if m.Op == engine.OpSetProp {
			sets++
		}
	}
	if sets != 3 {
		t.Errorf("prop diff emitted %d SetProps, want 3 (change, add, clear)", sets)
	}
	h.ExpectHTML(`<div a="9" c="3"></div>`)
}

func TestKeyedReorderPreservesNodes(t *testing.T) {
	list := func(keys ...string) *decl.Node {
		items := make([]*decl.Node, len(keys))
		for i, k := range keys {
			items[i] = decl.Element("li", decl.Props{"id": k}, decl.Text(k)).WithKey(k)
		}
		return decl.Element("ul", nil, items...)
	}

	h := enginetest.Mount(t, list("a", "b", "c"))
	h.Flush()

	itemsBefore := map[string]*enginetest.FakeNode{}
	for _, li := range h.Adapter.Root.FindAll("li") {
		itemsBefore[li.Props["id"].(string)] = li
	}
	h.Adapter.ResetLog()

	if err := h.Engine.Update(list("c", "a", "b")); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	h.ExpectHTML(`<ul><li id="c">c</li><li id="a">a</li><li id="b">b</li></ul>`)

	if got := h.Adapter.CountOps(engine.OpCreate); got != 0 {
		t.Errorf("reorder created %d nodes, want 0", got)
	}
	if got := h.Adapter.CountOps(engine.OpRemove); got != 0 {
		t.Errorf("reorder removed %d nodes, want 0", got)
	}
	for _, li := range h.Adapter.Root.FindAll("li") {
		id := li.Props["id"].(string)
		if itemsBefore[id] != li {
			t.Errorf("item %q was recreated instead of moved", id)
		}
	}
}

func TestKeyedReorderPermutations(t *testing.T) {
	list := func(keys ...string) *decl.Node {
		items := make([]*decl.Node, len(keys))
		for i, k := range keys {
			items[i] = decl.Element("li", decl.Props{"id": k}, decl.Text(k)).WithKey(k)
		}
		return decl.Element("ul", nil, items...)
	}

	h := enginetest.Mount(t, list("a", "b", "c", "d"))
	h.Flush()
	h.Adapter.ResetLog()

	// Pair swaps, full reversal, a mixed shuffle, and back to the start.
	perms := [][]string{
		{"b", "a", "d", "c"},
		{"d", "c", "b", "a"},
		{"c", "a", "d", "b"},
		{"a", "b", "c", "d"},
	}
	for _, p := range perms {
		if err := h.Engine.Update(list(p...)); err != nil {
			t.Fatalf("update to %v failed: %v", p, err)
		}
		want := "<ul>"
		for _, k := range p {
			want += `<li id="` + k + `">` + k + `</li>`
		}
		want += "</ul>"
		if got := h.Adapter.HTML(); got != want {
			t.Fatalf("after reorder to %v:\n got: %s\nwant: %s", p, got, want)
		}
	}

	if got := h.Adapter.CountOps(engine.OpCreate); got != 0 {
		t.Errorf("reorders created %d nodes, want 0", got)
	}
	if got := h.Adapter.CountOps(engine.OpRemove); got != 0 {
		t.Errorf("reorders removed %d nodes, want 0", got)
	}
}

func TestKeyedInsertWithReorder(t *testing.T) {
	list := func(keys ...string) *decl.Node {
		items := make([]*decl.Node, len(keys))
		for i, k := range keys {
			items[i] = decl.Element("li", decl.Props{"id": k}, decl.Text(k)).WithKey(k)
		}
		return decl.Element("ul", nil, items...)
	}

	h := enginetest.Mount(t, list("a", "b"))
	h.Flush()
	h.Adapter.ResetLog()

	// x and y are new, a moves past both of them, b stays put.
	if err := h.Engine.Update(list("x", "b", "y", "a")); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	h.ExpectHTML(`<ul><li id="x">x</li><li id="b">b</li><li id="y">y</li><li id="a">a</li></ul>`)
	if got := h.Adapter.CountOps(engine.OpRemove); got != 0 {
		t.Errorf("insert with reorder removed %d nodes, want 0", got)
	}
}

func TestKeyedRemovalDestroysOnlyRemoved(t *testing.T) {
	list := func(keys ...string) *decl.Node {
		items := make([]*decl.Node, len(keys))
		for i, k := range keys {
			items[i] = decl.Element("li", nil, decl.Text(k)).WithKey(k)
		}
		return decl.Element("ul", nil, items...)
	}

	h := enginetest.Mount(t, list("a", "b", "c"))
	h.Flush()
	h.Adapter.ResetLog()

	if err := h.Engine.Update(list("a", "c")); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	h.ExpectHTML(`<ul><li>a</li><li>c</li></ul>`)
	if got := h.Adapter.CountOps(engine.OpRemove); got != 1 {
		t.Errorf("removal emitted %d Removes, want 1", got)
	}
}

func TestKindChangeRecreatesNode(t *testing.T) {
	h := enginetest.Mount(t, decl.Element("div", nil, decl.Element("span", nil, decl.Text("x"))))
	h.Flush()
	h.Adapter.ResetLog()

	if err := h.Engine.Update(decl.Element("div", nil, decl.Element("p", nil, decl.Text("x")))); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	h.ExpectHTML(`<div><p>x</p></div>`)
	if got := h.Adapter.CountOps(engine.OpRemove); got == 0 {
		t.Error("tag change did not remove the old node")
	}
	if got := h.Adapter.CountOps(engine.OpCreate); got == 0 {
		t.Error("tag change did not create a fresh node")
	}
}

func TestCleanupRunsInReverseOrder(t *testing.T) {
	var order []string
	comp := decl.Component("tidy", func(rc decl.RenderContext) decl.Output {
		rc.OnCleanup(func() { order = append(order, "F1") })
		rc.OnCleanup(func() { order = append(order, "F2") })
		rc.OnCleanup(func() { order = append(order, "F3") })
		return decl.Text("x")
	}, nil)

	h := enginetest.Mount(t, decl.Element("div", nil, comp))
	h.Flush()

	if err := h.Engine.Update(decl.Element("div", nil)); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	want := []string{"F3", "F2", "F1"}
	if len(order) != len(want) {
		t.Fatalf("ran %d cleanups, want %d", len(order), len(want))
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("cleanup order %v, want %v", order, want)
		}
	}
}

func TestMountedSignalAfterFirstCommit(t *testing.T) {
	mounted := make(chan struct{})
	comp := decl.Component("waiter", func(rc decl.RenderContext) decl.Output {
		go func() {
			<-rc.Mounted()
			close(mounted)
		}()
		return decl.Text("x")
	}, nil)

	h := enginetest.Mount(t, comp)
	h.Flush()

	select {
	case <-mounted:
	case <-time.After(2 * time.Second):
		t.Fatal("mounted signal never fired")
	}
}

func TestTerminalFailureClosesScopes(t *testing.T) {
	var cleaned atomic.Bool
	tidy := decl.Component("tidy", func(rc decl.RenderContext) decl.Output {
		rc.OnCleanup(func() { cleaned.Store(true) })
		return decl.Text("ok")
	}, nil)
	bomb := decl.Component("bomb", func(rc decl.RenderContext) decl.Output {
		if mode, _ := rc.Get("mode").(string); mode == "boom" {
			panic("kaboom")
		}
		return decl.Text("fine")
	}, nil)

	h := enginetest.Mount(t, decl.Element("div", nil, tidy, bomb))
	h.Flush()

	// No boundary anywhere: the failure is terminal. Finalizers across the
	// whole tree must still run.
	h.Store.Set("mode", "boom")
	deadline := time.Now().Add(2 * time.Second)
	for !cleaned.Load() {
		if time.Now().After(deadline) {
			t.Fatal("finalizers never ran after a terminal failure")
		}
		time.Sleep(2 * time.Millisecond)
	}

	if err := h.Engine.Update(decl.Element("div", nil)); err != engine.ErrTreeFailed {
		t.Fatalf("update on a terminal tree returned %v, want ErrTreeFailed", err)
	}
	h.Engine.Close()
}

func TestUpdateAfterCloseFails(t *testing.T) {
	h := enginetest.Mount(t, decl.Element("div", nil))
	h.Engine.Close()

	if err := h.Engine.Update(decl.Element("div", nil)); err != engine.ErrClosed {
		t.Fatalf("update after close returned %v, want ErrClosed", err)
	}
}

func TestMountTwiceFails(t *testing.T) {
	h := enginetest.Mount(t, decl.Element("div", nil))
	if err := h.Engine.Mount(nil, decl.Element("div", nil)); err != engine.ErrAlreadyMounted {
		t.Fatalf("second mount returned %v, want ErrAlreadyMounted", err)
	}
}
