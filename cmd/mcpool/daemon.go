package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Start the mcpoold daemon",
	Args:  cobra.NoArgs,
	RunE:  runUp,
}

var downCmd = &cobra.Command{
	Use:   "down",
	Short: "Stop the mcpoold daemon",
	Args:  cobra.NoArgs,
	RunE:  runDown,
}

func init() {
	rootCmd.AddCommand(upCmd)
	rootCmd.AddCommand(downCmd)
}

func pidFilePath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".mcpool", "mcpoold.pid")
}

func daemonPID() (int, bool) {
	data, err := os.ReadFile(pidFilePath())
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, false
	}
	return pid, true
}

func isDaemonRunning() bool {
	pid, ok := daemonPID()
	if !ok {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// Check if process is alive
	err = proc.Signal(syscall.Signal(0))
	return err == nil
}

func runUp(cmd *cobra.Command, args []string) error {
	if isDaemonRunning() {
		fmt.Println("mcpoold is already running")
		return nil
	}

	// Find mcpoold binary next to this binary
	exe, _ := os.Executable()
	daemonBin := filepath.Join(filepath.Dir(exe), "mcpoold")
	if _, err := os.Stat(daemonBin); err != nil {
		return fmt.Errorf("mcpoold binary not found at %s", daemonBin)
	}

	var daemonArgs []string
	if socketFlag != "" {
		daemonArgs = append(daemonArgs, "--socket", socketFlag)
	}
	c := exec.Command(daemonBin, daemonArgs...)
	c.Stdout = os.Stdout
	c.Stderr = os.Stderr

	if err := c.Start(); err != nil {
		return fmt.Errorf("start mcpoold: %w", err)
	}

	// Wait a moment for the daemon to start
	time.Sleep(500 * time.Millisecond)

	// Verify it's running
	for i := 0; i < 10; i++ {
		if isDaemonRunning() {
			fmt.Printf("mcpoold started (pid %d)\n", c.Process.Pid)
			return nil
		}
		time.Sleep(200 * time.Millisecond)
	}

	return fmt.Errorf("mcpoold did not start within timeout")
}

func runDown(cmd *cobra.Command, args []string) error {
	pid, ok := daemonPID()
	if !ok {
		fmt.Println("mcpoold is not running")
		return nil
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		fmt.Println("mcpoold is not running")
		return nil
	}

	if err := proc.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("send SIGTERM: %w", err)
	}

	fmt.Printf("mcpoold stopping (pid %d)\n", pid)

	// Wait for it to exit
	for i := 0; i < 50; i++ {
		if !isDaemonRunning() {
			fmt.Println("mcpoold stopped")
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	return fmt.Errorf("mcpoold did not stop within timeout")
}
