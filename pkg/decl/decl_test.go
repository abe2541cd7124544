package decl

import (
	"context"
	"errors"
	"testing"
)

func TestEffectiveKey(t *testing.T) {
	tests := []struct {
		name string
		node *Node
		want string
	}{
		{"nil node", nil, ""},
		{"key field", Element("li", nil).WithKey("a"), "a"},
		{"key prop", Element("li", Props{"key": "b"}), "b"},
		{"field wins over prop", Element("li", Props{"key": "b"}).WithKey("a"), "a"},
		{"no key", Element("li", nil), ""},
		{"non-string key prop", Element("li", Props{"key": 7}), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.node.EffectiveKey(); got != tt.want {
				t.Errorf("EffectiveKey() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIsEventProp(t *testing.T) {
	tests := []struct {
		key  string
		want bool
	}{
		{"onclick", true},
		{"onClick", true},
		{"ONCHANGE", true},
		{"on", false},
		{"once", true},
		{"class", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsEventProp(tt.key); got != tt.want {
			t.Errorf("IsEventProp(%q) = %v, want %v", tt.key, got, tt.want)
		}
	}
}

func TestEventName(t *testing.T) {
	if got := EventName("onClick"); got != "click" {
		t.Errorf("EventName(onClick) = %q, want %q", got, "click")
	}
}

func TestIsInteractive(t *testing.T) {
	plain := Element("div", Props{"class": "x"})
	if plain.IsInteractive() {
		t.Error("plain element reported interactive")
	}
	btn := Element("button", Props{"onclick": EventHandler(func(any) error { return nil })})
	if !btn.IsInteractive() {
		t.Error("button with handler not reported interactive")
	}
	if Text("x").IsInteractive() {
		t.Error("text leaf reported interactive")
	}
}

func TestDeferEmitsOnce(t *testing.T) {
	src := Defer(func(ctx context.Context) (*Node, error) {
		return Text("done"), nil
	})

	var got *Node
	src.Run(context.Background(), func(n *Node) { got = n }, func(err error) {
		t.Fatalf("unexpected failure: %v", err)
	})
	if got == nil || got.Text != "done" {
		t.Fatalf("emitted %+v, want text node", got)
	}
}

func TestDeferFailure(t *testing.T) {
	sentinel := errors.New("fetch failed")
	src := Defer(func(ctx context.Context) (*Node, error) {
		return nil, sentinel
	})

	var got error
	src.Run(context.Background(), func(n *Node) {
		t.Fatal("emit called on failure")
	}, func(err error) { got = err })
	if got != sentinel {
		t.Fatalf("failure %v, want %v", got, sentinel)
	}
}

func TestDeferCancelledContextEmitsNothing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	src := Defer(func(ctx context.Context) (*Node, error) {
		return Text("late"), nil
	})

	src.Run(ctx,
		func(n *Node) { t.Fatal("emit after cancellation") },
		func(err error) { t.Fatal("fail after cancellation") })
}

func TestStreamEmitsMany(t *testing.T) {
	src := Stream(func(ctx context.Context, emit func(*Node)) error {
		emit(Text("1"))
		emit(Text("2"))
		emit(Text("3"))
		return nil
	})

	var got []string
	src.Run(context.Background(),
		func(n *Node) { got = append(got, n.Text) },
		func(err error) { t.Fatalf("unexpected failure: %v", err) })
	if len(got) != 3 || got[2] != "3" {
		t.Fatalf("stream emitted %v", got)
	}
}
