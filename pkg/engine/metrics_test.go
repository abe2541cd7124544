package engine_test

import (
	"testing"

	"github.com/loomui/loom/pkg/decl"
	"github.com/loomui/loom/pkg/engine"
	"github.com/loomui/loom/pkg/enginetest"
	"github.com/prometheus/client_golang/prometheus"
)

func TestMetricsExposeCommitCounters(t *testing.T) {
	reg := prometheus.NewPedanticRegistry()
	h := enginetest.Mount(t, decl.Element("div", nil, decl.Text("x")),
		engine.WithMetrics(reg))
	h.Flush()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather failed: %v", err)
	}

	byName := map[string]bool{}
	for _, mf := range families {
		byName[mf.GetName()] = true
	}
	for _, name := range []string{"loom_commits_total", "loom_mutations_total", "loom_batch_duration_seconds"} {
		if !byName[name] {
			t.Errorf("metric %s not registered", name)
		}
	}
}

func TestStatsCountCommits(t *testing.T) {
	h := enginetest.Mount(t, decl.Element("div", nil, decl.Text("x")))
	h.Flush()

	stats := h.Engine.Stats()
	if stats.Commits == 0 {
		t.Error("mount commit not counted")
	}
	if stats.Mutations == 0 {
		t.Error("mount mutations not counted")
	}
	if stats.LiveNodes == 0 {
		t.Error("live node count is zero after mount")
	}
}
