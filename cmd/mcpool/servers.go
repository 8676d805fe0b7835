package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/xfeldman/mcpool/internal/client"
)

var serversCmd = &cobra.Command{
	Use:   "servers",
	Short: "List pooled servers",
	Args:  cobra.NoArgs,
	RunE:  runServers,
}

var addCmd = &cobra.Command{
	Use:   "add <id> -- <command> [args...]",
	Short: "Add a server to the pool",
	Long: `Add an MCP server to the pool. The daemon spawns the command as a
child process and talks MCP to it over stdio.

Examples:
  mcpool add demo -- mcpool-demo
  mcpool add fs --name "Filesystem" -- npx -y @modelcontextprotocol/server-filesystem /data
  mcpool add env-demo --env DEMO_MOTD=hello -- mcpool-demo`,
	Args: cobra.MinimumNArgs(2),
	RunE: runAdd,
}

var removeCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Remove a server from the pool",
	Args:  cobra.ExactArgs(1),
	RunE:  runRemove,
}

var checkCmd = &cobra.Command{
	Use:   "check <id>",
	Short: "Health-check a server now",
	Args:  cobra.ExactArgs(1),
	RunE:  runCheck,
}

var (
	addName string
	addEnv  []string
)

func init() {
	addCmd.Flags().StringVar(&addName, "name", "", "human-friendly server name")
	addCmd.Flags().StringArrayVar(&addEnv, "env", nil, "environment variable KEY=VALUE (repeatable)")
	rootCmd.AddCommand(serversCmd)
	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(removeCmd)
	rootCmd.AddCommand(checkCmd)
}

func runServers(cmd *cobra.Command, args []string) error {
	servers, err := apiClient().ListServers(context.Background())
	if err != nil {
		return fmt.Errorf("list servers: %w", err)
	}
	if len(servers) == 0 {
		fmt.Println("No servers in the pool.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSTATE\tHEALTHY\tLATENCY\tLAST ERROR")
	for _, s := range servers {
		fmt.Fprintf(w, "%s\t%s\t%s\t%v\t%s\t%s\n",
			s.ID, s.Name, s.State, s.Healthy, formatLatency(s.LatencyMS), s.LastError)
	}
	return w.Flush()
}

func formatLatency(ms int64) string {
	if ms <= 0 {
		return "-"
	}
	return fmt.Sprintf("%dms", ms)
}

func runAdd(cmd *cobra.Command, args []string) error {
	id := args[0]
	command := args[1]
	cmdArgs := args[2:]

	env := make(map[string]string, len(addEnv))
	for _, e := range addEnv {
		k, v, ok := strings.Cut(e, "=")
		if !ok {
			return fmt.Errorf("invalid --env %q (want KEY=VALUE)", e)
		}
		env[k] = v
	}
	if len(env) == 0 {
		env = nil
	}

	st, err := apiClient().AddServer(context.Background(), client.AddServerRequest{
		ID:      id,
		Name:    addName,
		Command: command,
		Args:    cmdArgs,
		Env:     env,
	})
	if err != nil {
		return fmt.Errorf("add server: %w", err)
	}

	fmt.Printf("server %s added (state %s)\n", st.ID, st.State)
	return nil
}

func runRemove(cmd *cobra.Command, args []string) error {
	id := args[0]
	if err := apiClient().RemoveServer(context.Background(), id); err != nil {
		return fmt.Errorf("remove server: %w", err)
	}
	fmt.Printf("server %s removed\n", id)
	return nil
}

func runCheck(cmd *cobra.Command, args []string) error {
	res, err := apiClient().CheckServer(context.Background(), args[0])
	if err != nil {
		return fmt.Errorf("check server: %w", err)
	}
	if res.Healthy {
		fmt.Printf("%s: healthy (%s)\n", res.ID, formatLatency(res.LatencyMS))
		return nil
	}
	fmt.Printf("%s: unhealthy: %s\n", res.ID, res.Error)
	return nil
}
