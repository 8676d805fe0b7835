package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xfeldman/mcpool/internal/client"
)

var logsCmd = &cobra.Command{
	Use:   "logs <id>",
	Short: "Show a server's captured stderr",
	Args:  cobra.ExactArgs(1),
	RunE:  runLogs,
}

var (
	logsFollow bool
	logsTail   int
)

func init() {
	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "keep streaming new lines")
	logsCmd.Flags().IntVar(&logsTail, "tail", 0, "show only the last N lines")
	rootCmd.AddCommand(logsCmd)
}

func runLogs(cmd *cobra.Command, args []string) error {
	body, err := apiClient().StreamLogs(context.Background(), args[0], logsFollow, logsTail)
	if err != nil {
		return fmt.Errorf("get logs: %w", err)
	}
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var e client.LogEntry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			continue
		}
		fmt.Printf("%s %s\n", e.Timestamp.Format("15:04:05"), e.Line)
	}
	return scanner.Err()
}
