package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/xfeldman/mcpool/internal/client"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent pool events",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

var (
	historyServer string
	historyType   string
	historyLimit  int
	historyExport string
)

func init() {
	historyCmd.Flags().StringVar(&historyServer, "server", "", "only events for this server")
	historyCmd.Flags().StringVar(&historyType, "type", "", "only events of this type (e.g. state_change, tool_call)")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 50, "maximum number of events")
	historyCmd.Flags().StringVar(&historyExport, "export", "", "write the full event log as gzip NDJSON to this file (- for stdout)")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	if historyExport != "" {
		return exportHistory(historyExport)
	}

	events, err := apiClient().History(context.Background(), client.HistoryOpts{
		ServerID: historyServer,
		Type:     historyType,
		Limit:    historyLimit,
	})
	if err != nil {
		return fmt.Errorf("get history: %w", err)
	}
	if len(events) == 0 {
		fmt.Println("No events recorded.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tTYPE\tSERVER\tDETAIL")
	for _, ev := range events {
		detail := ""
		if len(ev.Detail) > 0 {
			data, _ := json.Marshal(ev.Detail)
			detail = string(data)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			ev.Timestamp.Local().Format("2006-01-02 15:04:05"), ev.Type, ev.ServerID, detail)
	}
	return w.Flush()
}

func exportHistory(dest string) error {
	body, err := apiClient().ExportHistory(context.Background())
	if err != nil {
		return fmt.Errorf("export history: %w", err)
	}
	defer body.Close()

	out := os.Stdout
	if dest != "-" {
		f, err := os.Create(dest)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}
	if _, err := io.Copy(out, body); err != nil {
		return fmt.Errorf("write export: %w", err)
	}
	if dest != "-" {
		fmt.Fprintf(os.Stderr, "wrote %s\n", dest)
	}
	return nil
}
