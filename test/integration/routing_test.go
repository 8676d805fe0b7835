//go:build integration

package integration

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestConflictingToolsReported(t *testing.T) {
	addDemo(t, "route-a")
	addDemo(t, "route-b")
	waitForTool(t, "echo", 10*time.Second)

	table, err := apiClient().Tools(context.Background())
	if err != nil {
		t.Fatalf("tools: %v", err)
	}
	advertisers := table.Conflicts["echo"]
	if len(advertisers) != 2 {
		t.Fatalf("echo advertisers = %v, want route-a and route-b", advertisers)
	}
}

func TestCallRoutesToSurvivor(t *testing.T) {
	addDemo(t, "surv-a")
	addDemo(t, "surv-b")
	waitForTool(t, "echo", 10*time.Second)

	res, err := apiClient().CallTool(context.Background(), "echo", map[string]any{"text": "first"})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	first := res.ServerID
	if first != "surv-a" && first != "surv-b" {
		t.Fatalf("served by %q, want surv-a or surv-b", first)
	}

	mcpoolRun(t, "remove", first)

	other := "surv-a"
	if first == "surv-a" {
		other = "surv-b"
	}

	deadline := time.Now().Add(10 * time.Second)
	for {
		res, err = apiClient().CallTool(context.Background(), "echo", map[string]any{"text": "second"})
		if err == nil && res.ServerID == other {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("call not re-routed to %s: served by %v, err %v", other, res, err)
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func TestHistoryRecordsLifecycle(t *testing.T) {
	addDemo(t, "hist-demo")
	waitForTool(t, "echo", 10*time.Second)
	mcpoolRun(t, "call", "echo", `{"text":"for the record"}`)

	out := mcpoolRun(t, "history", "--server", "hist-demo")
	for _, want := range []string{"server_added", "state_change", "tool_call"} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in history:\n%s", want, out)
		}
	}
}

func TestStderrCaptured(t *testing.T) {
	// Wrap the demo in a shell that writes a diagnostic line to stderr
	// before serving MCP on stdio.
	mcpoolRun(t, "add", "noisy", "--",
		"sh", "-c", "echo startup-diagnostic >&2; exec "+demoBin)
	t.Cleanup(func() { mcpool("remove", "noisy") })
	waitReady(t, "noisy", 15*time.Second)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		out, _ := mcpool("logs", "noisy")
		if strings.Contains(out, "startup-diagnostic") {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatal("stderr line not captured in logs")
}
