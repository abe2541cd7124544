package live

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/loomui/loom/pkg/decl"
	"github.com/loomui/loom/pkg/reactive"
	"github.com/loomui/loom/pkg/snapshot"
)

// counterRoot is a clickable counter: the button handler writes the store,
// the component re-renders from it.
func counterRoot(store reactive.Store) *decl.Node {
	return decl.Component("counter", func(rc decl.RenderContext) decl.Output {
		n, _ := rc.Get("count").(int)
		return decl.Element("div", nil,
			decl.Element("button", decl.Props{
				"onclick": decl.EventHandler(func(any) error {
					cur, _ := store.Get("count").(int)
					store.Set("count", cur+1)
					return nil
				}),
			}, decl.Text("+1")),
			decl.Element("output", nil, decl.Text(strconv.Itoa(n))),
		)
	}, nil)
}

func dialTest(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/live"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) *Frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	var f Frame
	if err := json.Unmarshal(msg, &f); err != nil {
		t.Fatalf("frame decode failed: %v", err)
	}
	return &f
}

func TestSessionInitialFrame(t *testing.T) {
	srv := NewServer(counterRoot)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	conn := dialTest(t, ts)
	frame := readFrame(t, conn)

	if frame.Type != FrameMutations {
		t.Fatalf("first frame type %q, want %q", frame.Type, FrameMutations)
	}
	if frame.Seq != 1 {
		t.Errorf("first frame seq %d, want 1", frame.Seq)
	}

	creates := map[string]uint64{}
	for _, m := range frame.Mutations {
		if m.Op == "Create" {
			creates[m.Kind] = m.Node
		}
	}
	for _, kind := range []string{"div", "button", "output"} {
		if _, ok := creates[kind]; !ok {
			t.Errorf("initial frame missing create for %q", kind)
		}
	}
}

func TestSessionEventRoundTrip(t *testing.T) {
	srv := NewServer(counterRoot)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	conn := dialTest(t, ts)
	initial := readFrame(t, conn)

	var buttonID uint64
	for _, m := range initial.Mutations {
		if m.Op == "Create" && m.Kind == "button" {
			buttonID = m.Node
		}
	}
	if buttonID == 0 {
		t.Fatal("button node not in initial frame")
	}

	click := Frame{Type: FrameEvent, Node: buttonID, Event: "click"}
	data, _ := json.Marshal(click)
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	// The click increments the counter; a mutation frame with the new text
	// follows.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		frame := readFrame(t, conn)
		for _, m := range frame.Mutations {
			if m.Op == "SetProp" && m.Name == "text" && m.Value == "1" {
				return
			}
		}
	}
	t.Fatal("no mutation frame with updated counter text")
}

func TestHealthEndpoint(t *testing.T) {
	srv := NewServer(counterRoot)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status %d, want 200", resp.StatusCode)
	}

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("health body decode failed: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("health status field %v, want ok", body["status"])
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := NewServer(counterRoot)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	conn := dialTest(t, ts)
	readFrame(t, conn)

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics request failed: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("metrics body read failed: %v", err)
	}
	if !strings.Contains(string(body), "loom_live_sessions_total") {
		t.Error("metrics output missing loom_live_sessions_total")
	}
}

func TestSnapshotSavedOnClose(t *testing.T) {
	store := snapshot.NewMemStore()
	srv := NewServer(counterRoot, WithSnapshots(store))
	ts := httptest.NewServer(srv)
	defer ts.Close()

	conn := dialTest(t, ts)
	readFrame(t, conn)
	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if srv.SessionCount() == 0 && store.Len() == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("session close did not persist a snapshot (sessions=%d snaps=%d)",
		srv.SessionCount(), store.Len())
}

func TestSnapshotEndpointNotFound(t *testing.T) {
	srv := NewServer(counterRoot, WithSnapshots(snapshot.NewMemStore()))
	ts := httptest.NewServer(srv)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/snapshot/missing")
	if err != nil {
		t.Fatalf("snapshot request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("snapshot status %d, want 404", resp.StatusCode)
	}
}

func TestWireAdapterEventDispatch(t *testing.T) {
	a := newWireAdapter()
	h := a.CreateNode("button")

	var got any
	a.AttachListener(h, "click", func(payload any) { got = payload })
	a.Insert(nil, h, nil)

	if !a.dispatchEvent(h.(*remoteNode).id, "click", "payload") {
		t.Fatal("dispatch found no listener")
	}
	if got != "payload" {
		t.Errorf("payload %v, want %q", got, "payload")
	}

	a.Remove(h)
	if a.dispatchEvent(h.(*remoteNode).id, "click", nil) {
		t.Error("dispatch reached a removed node")
	}
}

func TestWireAdapterHTML(t *testing.T) {
	a := newWireAdapter()
	div := a.CreateNode("div")
	a.SetProperty(div, "class", "app")
	a.Insert(nil, div, nil)

	txt := a.CreateNode("#text")
	a.SetProperty(txt, "text", "hi")
	a.Insert(div, txt, nil)

	if got := a.HTML(); got != `<div class="app">hi</div>` {
		t.Errorf("HTML() = %s", got)
	}
}
