package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "Show the tool routing table",
	Args:  cobra.NoArgs,
	RunE:  runTools,
}

var callCmd = &cobra.Command{
	Use:   "call <tool> [json-arguments]",
	Short: "Call a tool through the pool",
	Long: `Call a tool by name. The daemon routes the call to a healthy server
that advertises the tool.

Examples:
  mcpool call echo '{"text":"hello"}'
  mcpool call add '{"a":2,"b":3}'`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runCall,
}

func init() {
	rootCmd.AddCommand(toolsCmd)
	rootCmd.AddCommand(callCmd)
}

func runTools(cmd *cobra.Command, args []string) error {
	table, err := apiClient().Tools(context.Background())
	if err != nil {
		return fmt.Errorf("list tools: %w", err)
	}
	if len(table.Tools) == 0 {
		fmt.Println("No tools available.")
		return nil
	}

	names := make([]string, 0, len(table.Tools))
	for name := range table.Tools {
		names = append(names, name)
	}
	sort.Strings(names)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TOOL\tSERVER")
	for _, name := range names {
		server := table.Tools[name]
		if advertisers, ok := table.Conflicts[name]; ok {
			server += " (also: " + strings.Join(others(advertisers, server), ", ") + ")"
		}
		fmt.Fprintf(w, "%s\t%s\n", name, server)
	}
	return w.Flush()
}

// others filters winner out of the advertiser list.
func others(advertisers []string, winner string) []string {
	out := make([]string, 0, len(advertisers))
	for _, id := range advertisers {
		if id != winner {
			out = append(out, id)
		}
	}
	return out
}

func runCall(cmd *cobra.Command, args []string) error {
	var toolArgs map[string]any
	if len(args) == 2 {
		if err := json.Unmarshal([]byte(args[1]), &toolArgs); err != nil {
			return fmt.Errorf("invalid arguments (want a JSON object): %w", err)
		}
	}

	res, err := apiClient().CallTool(context.Background(), args[0], toolArgs)
	if err != nil {
		return fmt.Errorf("call tool: %w", err)
	}

	if text, ok := contentText(res.Content); ok {
		fmt.Println(text)
	} else {
		data, _ := json.MarshalIndent(res.Content, "", "  ")
		fmt.Println(string(data))
	}

	if res.IsError {
		return fmt.Errorf("tool %s reported an error (served by %s)", args[0], res.ServerID)
	}
	return nil
}

// contentText flattens MCP text content blocks into one string. Returns
// false for any non-text content.
func contentText(content any) (string, bool) {
	blocks, ok := content.([]any)
	if !ok {
		return "", false
	}
	parts := make([]string, 0, len(blocks))
	for _, b := range blocks {
		m, ok := b.(map[string]any)
		if !ok || m["type"] != "text" {
			return "", false
		}
		text, _ := m["text"].(string)
		parts = append(parts, text)
	}
	return strings.Join(parts, "\n"), true
}
