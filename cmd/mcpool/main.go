// mcpool is the CLI for the mcpool server pool.
//
// Commands:
//
//	mcpool up        Start the mcpoold daemon
//	mcpool down      Stop the mcpoold daemon
//	mcpool status    Show daemon and pool status
//	mcpool servers   List pooled servers
//	mcpool add       Add a server to the pool
//	mcpool remove    Remove a server from the pool
//	mcpool check     Health-check a server now
//	mcpool tools     Show the tool routing table
//	mcpool call      Call a tool through the pool
//	mcpool resources List resources across the pool
//	mcpool read      Read a resource through a server
//	mcpool logs      Show a server's captured stderr
//	mcpool history   Show recent pool events
//	mcpool version   Print the version
package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/xfeldman/mcpool/internal/client"
)

// socketFlag overrides the mcpoold socket path for every command.
var socketFlag string

var rootCmd = &cobra.Command{
	Use:   "mcpool",
	Short: "mcpool - a pool of MCP servers behind one daemon",
	Long: `mcpool manages a pool of MCP (Model Context Protocol) servers.

The mcpoold daemon spawns each server as a child process, speaks MCP to
it over stdio, health-checks it, and routes tool calls to healthy
servers. This CLI talks to the daemon over its unix socket.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&socketFlag, "socket", "",
		"mcpoold unix socket (default "+client.DefaultSocketPath()+")")
}

// apiClient returns a client for the selected socket.
func apiClient() *client.Client {
	if socketFlag != "" {
		return client.New(socketFlag)
	}
	return client.NewDefault()
}
