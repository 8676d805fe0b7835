package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/xfeldman/mcpool/internal/client"
)

var resourcesCmd = &cobra.Command{
	Use:   "resources",
	Short: "List resources across the pool",
	Args:  cobra.NoArgs,
	RunE:  runResources,
}

var readCmd = &cobra.Command{
	Use:   "read <server> <uri>",
	Short: "Read a resource through a server",
	Args:  cobra.ExactArgs(2),
	RunE:  runRead,
}

// resourcesServer scopes the listing to one server.
var resourcesServer string

func init() {
	resourcesCmd.Flags().StringVar(&resourcesServer, "server", "", "list resources from this server only")
	rootCmd.AddCommand(resourcesCmd)
	rootCmd.AddCommand(readCmd)
}

func runResources(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	c := apiClient()

	var resources []client.Resource
	var err error
	if resourcesServer != "" {
		resources, err = c.ServerResources(ctx, resourcesServer)
	} else {
		resources, err = c.AllResources(ctx)
	}
	if err != nil {
		return fmt.Errorf("list resources: %w", err)
	}
	if len(resources) == 0 {
		fmt.Println("No resources available.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SERVER\tURI\tNAME\tMIME")
	for _, res := range resources {
		server := res.ServerID
		if server == "" {
			server = resourcesServer
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", server, res.URI, res.Name, res.MimeType)
	}
	return w.Flush()
}

func runRead(cmd *cobra.Command, args []string) error {
	res, err := apiClient().ReadResource(context.Background(), args[0], args[1])
	if err != nil {
		return fmt.Errorf("read resource: %w", err)
	}
	fmt.Println(res.Text)
	return nil
}
