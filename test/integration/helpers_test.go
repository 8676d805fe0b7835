//go:build integration

package integration

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/xfeldman/mcpool/internal/client"
)

var (
	binDir  string
	demoBin string
)

func TestMain(m *testing.M) {
	// Find binaries relative to the repo root
	root := repoRoot()
	binDir = filepath.Join(root, "bin")
	demoBin = filepath.Join(binDir, "mcpool-demo")

	for _, bin := range []string{"mcpoold", "mcpool", "mcpool-demo"} {
		if _, err := os.Stat(filepath.Join(binDir, bin)); err != nil {
			fmt.Fprintf(os.Stderr, "binaries not found at %s — run 'make all' first\n", binDir)
			os.Exit(1)
		}
	}

	// Isolate ~/.mcpool under a scratch home so the suite never touches
	// the developer's real pool.
	tmpHome, err := os.MkdirTemp("", "mcpool-integration-")
	if err != nil {
		fmt.Fprintf(os.Stderr, "scratch home: %v\n", err)
		os.Exit(1)
	}
	defer os.RemoveAll(tmpHome)
	os.Setenv("HOME", tmpHome)

	// Start daemon
	cmd := exec.Command(filepath.Join(binDir, "mcpoold"))
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "start mcpoold: %v\n", err)
		os.Exit(1)
	}

	// Wait for daemon to be ready
	ready := false
	for i := 0; i < 30; i++ {
		if daemonRunning() {
			ready = true
			break
		}
		time.Sleep(200 * time.Millisecond)
	}
	if !ready {
		fmt.Fprintln(os.Stderr, "mcpoold did not start within timeout")
		cmd.Process.Kill()
		os.Exit(1)
	}

	code := m.Run()

	// Tear down
	mcpool("down")
	time.Sleep(500 * time.Millisecond)

	os.Exit(code)
}

func repoRoot() string {
	// Walk up from the test file to find go.mod
	dir, _ := os.Getwd()
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			// fallback
			return "."
		}
		dir = parent
	}
}

func mcpool(args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	cmd := exec.CommandContext(ctx, filepath.Join(binDir, "mcpool"), args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	out := stdout.String() + stderr.String()
	return strings.TrimSpace(out), err
}

func mcpoolRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := mcpool(args...)
	if err != nil {
		t.Fatalf("mcpool %v failed: %v\noutput: %s", args, err, out)
	}
	return out
}

func daemonRunning() bool {
	home, _ := os.UserHomeDir()
	data, err := os.ReadFile(filepath.Join(home, ".mcpool", "mcpoold.pid"))
	if err != nil {
		return false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

func apiClient() *client.Client {
	return client.NewDefault()
}

// addDemo registers a mcpool-demo child and waits until it is ready to
// serve tools.
func addDemo(t *testing.T, id string, env ...string) {
	t.Helper()
	args := []string{"add", id}
	for _, e := range env {
		args = append(args, "--env", e)
	}
	args = append(args, "--", demoBin)
	mcpoolRun(t, args...)
	t.Cleanup(func() { mcpool("remove", id) })
	waitReady(t, id, 15*time.Second)
}

func waitReady(t *testing.T, id string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		st, err := apiClient().GetServer(context.Background(), id)
		if err == nil && st.State == "ready" {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	out, _ := mcpool("servers")
	t.Fatalf("server %s not ready within %s\nservers:\n%s", id, timeout, out)
}

// waitForTool waits until the routing table serves name, returning the
// chosen server id.
func waitForTool(t *testing.T, name string, timeout time.Duration) string {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		table, err := apiClient().Tools(context.Background())
		if err == nil {
			if id, ok := table.Tools[name]; ok {
				return id
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("tool %s not indexed within %s", name, timeout)
	return ""
}
