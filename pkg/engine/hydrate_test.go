package engine_test

import (
	"errors"
	"testing"

	"github.com/loomui/loom/pkg/decl"
	"github.com/loomui/loom/pkg/engine"
	"github.com/loomui/loom/pkg/enginetest"
)

func TestHydrateBindsWithoutCreating(t *testing.T) {
	clicked := false
	tree := decl.Element("div", decl.Props{"class": "app"},
		decl.Element("button", decl.Props{
			"id": "b",
			"onclick": decl.EventHandler(func(any) error {
				clicked = true
				return nil
			}),
		}, decl.Text("go")),
		decl.Element("span", nil, decl.Text("static")),
	)

	source := enginetest.Elem("root",
		enginetest.Elem("div",
			enginetest.TextNode("\n  "),
			enginetest.Elem("button", enginetest.TextNode("go")).WithProp("id", "b"),
			enginetest.Elem("span", enginetest.TextNode("static")),
		).WithProp("class", "app"),
	)

	h := enginetest.Hydrate(t, source, tree)

	if got := h.Adapter.CountOps(engine.OpCreate); got != 0 {
		t.Errorf("hydration created %d nodes, want 0", got)
	}
	if got := h.Adapter.CountOps(engine.OpInsert); got != 0 {
		t.Errorf("hydration inserted %d nodes, want 0", got)
	}
	if got := h.Adapter.CountOps(engine.OpListen); got != 1 {
		t.Errorf("hydration attached %d listeners, want 1", got)
	}

	btn := h.Adapter.Root.Find("button")
	if !btn.Fire("click", nil) {
		t.Fatal("no listener attached to prerendered button")
	}
	h.Flush()
	if !clicked {
		t.Error("hydrated listener did not reach the handler")
	}
}

func TestHydrateCorrectsDriftedText(t *testing.T) {
	tree := decl.Element("p", nil, decl.Text("fresh"))
	source := enginetest.Elem("root",
		enginetest.Elem("p", enginetest.TextNode("stale")),
	)

	h := enginetest.Hydrate(t, source, tree)

	if got := h.Adapter.CountOps(engine.OpCreate); got != 0 {
		t.Errorf("text correction created %d nodes, want 0", got)
	}
	h.ExpectHTML(`<p>fresh</p>`)
}

func TestHydrateMismatchReportsPath(t *testing.T) {
	tree := decl.Element("div", nil,
		decl.Element("ul", nil,
			decl.Element("li", nil, decl.Text("a")),
			decl.Element("li", nil, decl.Text("b")),
		),
	)
	source := enginetest.Elem("root",
		enginetest.Elem("div",
			enginetest.Elem("ul",
				enginetest.Elem("li", enginetest.TextNode("a")),
				enginetest.Elem("p", enginetest.TextNode("b")),
			),
		),
	)

	h := enginetest.New(t)
	h.Adapter.Root = source
	err := h.Engine.Hydrate(source, tree)
	if err == nil {
		t.Fatal("mismatched hydration succeeded")
	}

	var se *engine.StructuralError
	if !errors.As(err, &se) {
		t.Fatalf("got %T, want *StructuralError", err)
	}
	if se.Path != "div[0]/ul[0]/li[1]" {
		t.Errorf("mismatch path %q, want %q", se.Path, "div[0]/ul[0]/li[1]")
	}
	if se.Expected != "<li>" {
		t.Errorf("expected %q, want %q", se.Expected, "<li>")
	}

	// A failed hydration leaves the engine reusable.
	if mountErr := h.Engine.Mount(nil, decl.Element("div", nil)); mountErr != nil {
		t.Fatalf("mount after failed hydration: %v", mountErr)
	}
}

func TestHydrateComponentOutput(t *testing.T) {
	comp := decl.Component("greeting", func(rc decl.RenderContext) decl.Output {
		name, _ := rc.Get("name").(string)
		if name == "" {
			name = "world"
		}
		return decl.Element("h1", nil, decl.Text("hello "+name))
	}, nil)

	source := enginetest.Elem("root",
		enginetest.Elem("div",
			enginetest.Elem("h1", enginetest.TextNode("hello world")),
		),
	)

	h := enginetest.Hydrate(t, source, decl.Element("div", nil, comp))

	if got := h.Adapter.CountOps(engine.OpCreate); got != 0 {
		t.Errorf("hydration created %d nodes, want 0", got)
	}

	// The hydrated component is live: store changes re-render it.
	h.Set("name", "loom")
	h.ExpectHTML(`<div><h1>hello loom</h1></div>`)
}

func TestHydrateResolvedSegmentDropsStaleOutput(t *testing.T) {
	content := decl.Component("panel", func(rc decl.RenderContext) decl.Output {
		return decl.Element("section", nil, decl.Text("live"))
	}, nil)
	tree := decl.Element("div", nil,
		decl.Suspense(0,
			decl.Element("aside", nil, decl.Text("loading")),
			content,
		),
	)

	// The prerenderer emitted an extra node the live content no longer
	// claims; it is dropped when hydration commits.
	source := enginetest.Elem("root",
		enginetest.Elem("div",
			enginetest.Marker(engine.MarkerResolvedStart),
			enginetest.Elem("section", enginetest.TextNode("live")),
			enginetest.Elem("i", enginetest.TextNode("stale")),
			enginetest.Marker(engine.MarkerResolvedEnd),
		),
	)

	h := enginetest.Hydrate(t, source, tree)

	if h.Adapter.Root.Find("i") != nil {
		t.Error("stale prerendered node survived hydration")
	}
	if got := h.Adapter.CountOps(engine.OpRemove); got != 1 {
		t.Errorf("hydration removed %d nodes, want 1 (the stale leftover)", got)
	}
	h.ExpectContains("live")
}

func TestHydrateAbortLeavesOutputUntouched(t *testing.T) {
	content := decl.Component("panel", func(rc decl.RenderContext) decl.Output {
		return decl.Element("section", nil, decl.Text("live"))
	}, nil)
	tree := decl.Element("div", nil,
		decl.Suspense(0,
			decl.Element("aside", nil, decl.Text("loading")),
			content,
		),
		decl.Element("strong", nil, decl.Text("tail")),
	)

	// The segment carries a stale leftover, and a sibling after the segment
	// mismatches. The abort must land before the leftover is removed.
	source := enginetest.Elem("root",
		enginetest.Elem("div",
			enginetest.Marker(engine.MarkerResolvedStart),
			enginetest.Elem("section", enginetest.TextNode("live")),
			enginetest.Elem("i", enginetest.TextNode("stale")),
			enginetest.Marker(engine.MarkerResolvedEnd),
			enginetest.Elem("p", enginetest.TextNode("tail")),
		),
	)

	h := enginetest.New(t)
	h.Adapter.Root = source
	err := h.Engine.Hydrate(source, tree)
	if err == nil {
		t.Fatal("mismatched hydration succeeded")
	}
	var se *engine.StructuralError
	if !errors.As(err, &se) {
		t.Fatalf("got %T, want *StructuralError", err)
	}

	if got := h.Adapter.Log(); len(got) != 0 {
		t.Errorf("aborted hydration touched the output: %v", got)
	}
	if source.Find("i") == nil {
		t.Error("aborted hydration removed a prerendered node")
	}
}

func TestHydrateFallbackSegmentSwapsWhenReady(t *testing.T) {
	content := decl.Component("instant", func(rc decl.RenderContext) decl.Output {
		return decl.Element("section", nil, decl.Text("ready"))
	}, nil)
	tree := decl.Element("div", nil,
		decl.Suspense(0,
			decl.Element("aside", nil, decl.Text("loading")),
			content,
		),
	)

	source := enginetest.Elem("root",
		enginetest.Elem("div",
			enginetest.Marker(engine.MarkerFallbackStart),
			enginetest.Elem("aside", enginetest.TextNode("loading")),
			enginetest.Marker(engine.MarkerFallbackEnd),
		),
	)

	h := enginetest.Hydrate(t, source, tree)
	h.Flush()

	h.ExpectContains("ready")
	if h.Adapter.Root.Find("aside") != nil {
		t.Error("prerendered fallback survived after content became ready")
	}
}
