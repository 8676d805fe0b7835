package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon and pool status",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	if socketFlag == "" && !isDaemonRunning() {
		fmt.Println("mcpoold: not running")
		return nil
	}

	st, err := apiClient().Status(context.Background())
	if err != nil {
		return fmt.Errorf("get status: %w", err)
	}

	fmt.Printf("mcpoold:  %s (version %s)\n", st.Status, st.Version)
	fmt.Printf("strategy: %s\n", st.Strategy)
	fmt.Printf("servers:  %d (%d ready)\n", st.Servers, st.Ready)
	if st.Conflicts > 0 {
		fmt.Printf("tools:    %d (%d conflicted)\n", st.Tools, st.Conflicts)
	} else {
		fmt.Printf("tools:    %d\n", st.Tools)
	}
	fmt.Printf("events:   %d\n", st.Events)
	return nil
}
