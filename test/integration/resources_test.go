//go:build integration

package integration

import (
	"strings"
	"testing"
)

func TestResourcesListed(t *testing.T) {
	addDemo(t, "demo-res")

	out := mcpoolRun(t, "resources")
	if !strings.Contains(out, "demo://motd") {
		t.Fatalf("expected demo://motd in resources, got: %s", out)
	}
	if !strings.Contains(out, "demo-res") {
		t.Fatalf("expected advertising server id in resources, got: %s", out)
	}
}

func TestReadMotd(t *testing.T) {
	addDemo(t, "demo-motd", "DEMO_MOTD=pooled greetings")

	out := mcpoolRun(t, "read", "demo-motd", "demo://motd")
	if !strings.Contains(out, "pooled greetings") {
		t.Fatalf("expected configured motd, got: %s", out)
	}
}

func TestReadEnvResource(t *testing.T) {
	addDemo(t, "demo-envres", "DEMO_SECRET=s3cret")

	out := mcpoolRun(t, "read", "demo-envres", "demo://env/DEMO_SECRET")
	if !strings.Contains(out, "s3cret") {
		t.Fatalf("expected env resource value, got: %s", out)
	}
}

func TestReadUnknownResource(t *testing.T) {
	addDemo(t, "demo-badres")

	out, err := mcpool("read", "demo-badres", "demo://nope")
	if err == nil {
		t.Fatalf("expected error for unknown resource, got: %s", out)
	}
}
